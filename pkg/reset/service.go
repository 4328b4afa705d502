package reset

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/tendant/simple-twofa/pkg/errors"
	"github.com/tendant/simple-twofa/pkg/notification"
	"github.com/tendant/simple-twofa/pkg/twofa"
)

const (
	RESET_CODE_ALPHABET = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	RESET_CODE_LENGTH   = 8

	MIN_RESET_CODE_TTL     = 15 * time.Minute
	MAX_RESET_CODE_TTL     = 30 * time.Minute
	DEFAULT_RESET_CODE_TTL = 20 * time.Minute

	DefaultSendTimeout = 10 * time.Second

	// a fresh code colliding with another live one is retried this many times
	maxCodeAttempts = 5
)

var (
	// ErrMalformedResetCode is returned when the code is not 8 letters or digits
	ErrMalformedResetCode = apperrors.Validation("reset code must be 8 letters or digits")

	// ErrResetCodeInvalid is returned for unknown and already used codes
	ErrResetCodeInvalid = apperrors.Validation("invalid or expired reset code")

	// ErrResetCodeExpired is returned once the code is past its expiry. It
	// carries the same message as ErrResetCodeInvalid.
	ErrResetCodeExpired = apperrors.New(apperrors.ErrCodeExpiredState, "invalid or expired reset code")

	ErrInvalidTTL = fmt.Errorf("reset code ttl must be between %s and %s", MIN_RESET_CODE_TTL, MAX_RESET_CODE_TTL)
)

// Notifier delivers the reset code. notification.NotificationManager implements it.
type Notifier interface {
	Send(ctx context.Context, noticeType notification.NoticeType, data notification.NotificationData) error
}

// Service lets an account that lost its authenticator turn 2FA off with a
// code mailed to its address.
type Service struct {
	store        twofa.AccountStore
	notifier     Notifier
	ttl          time.Duration
	sendTimeout  time.Duration
	queryTimeout time.Duration
	now          func() time.Time

	wg sync.WaitGroup
}

type Option func(*Service)

// WithResetCodeTTL sets how long a reset code is valid, within 15 to 30 minutes
func WithResetCodeTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithSendTimeout bounds each mail delivery
func WithSendTimeout(d time.Duration) Option {
	return func(s *Service) { s.sendTimeout = d }
}

// WithQueryTimeout bounds each account store call
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Service) { s.queryTimeout = d }
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store twofa.AccountStore, notifier Notifier, opts ...Option) (*Service, error) {
	if store == nil || notifier == nil {
		return nil, fmt.Errorf("account store and notifier are required")
	}
	s := &Service{
		store:       store,
		notifier:    notifier,
		ttl:         DEFAULT_RESET_CODE_TTL,
		sendTimeout: DefaultSendTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ttl < MIN_RESET_CODE_TTL || s.ttl > MAX_RESET_CODE_TTL {
		return nil, ErrInvalidTTL
	}
	if s.sendTimeout <= 0 {
		s.sendTimeout = DefaultSendTimeout
	}
	return s, nil
}

// TTL returns the reset code lifetime
func (s *Service) TTL() time.Duration {
	return s.ttl
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

// RequestReset mails a reset code when email belongs to an account with 2FA
// enabled. Unknown addresses and accounts without 2FA also return nil, so
// callers cannot tell them apart. Only store failures are errors.
func (s *Service) RequestReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	account, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, twofa.ErrAccountNotFound) {
			slog.Debug("2FA reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("failed to find account: %w", apperrors.StorageUnavailable(err))
	}
	if !account.TwoFactorEnabled {
		slog.Debug("2FA reset requested for account without 2FA", "accountID", account.ID)
		return nil
	}

	var (
		code   string
		stored bool
	)
	expiry := s.now().UTC().Add(s.ttl)
	for attempt := 1; ; attempt++ {
		code, err = randomCode()
		if err != nil {
			return apperrors.InternalWrap(err, "failed to generate reset code")
		}

		stored, err = s.store.SetResetCode(ctx, account.ID, code, expiry)
		if err == nil && !stored {
			slog.Debug("2FA reset skipped, 2FA no longer enabled", "accountID", account.ID)
			return nil
		}
		if err == nil {
			break
		}
		if errors.Is(err, twofa.ErrDuplicateValue) && attempt < maxCodeAttempts {
			continue
		}
		return fmt.Errorf("failed to save reset code: %w", apperrors.StorageUnavailable(err))
	}

	slog.Info("2FA reset code issued", "accountID", account.ID, "expiresAt", expiry)
	s.dispatch(account.ID, account.Email, code)
	return nil
}

// dispatch sends the mail in the background so the response does not wait on SMTP
func (s *Service) dispatch(accountID uuid.UUID, to, code string) {
	data := notification.NotificationData{
		To: to,
		Data: map[string]string{
			"Code":             code,
			"ExpiresInMinutes": strconv.Itoa(int(s.ttl / time.Minute)),
		},
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
		defer cancel()
		if err := s.notifier.Send(ctx, notification.TwofaResetNotice, data); err != nil {
			slog.Error("Failed to send 2FA reset email", "accountID", accountID, "error", err)
			return
		}
		slog.Info("2FA reset email sent", "accountID", accountID)
	}()
}

// Wait blocks until mails already dispatched have been handed off or timed out
func (s *Service) Wait() {
	s.wg.Wait()
}

// ConfirmReset turns 2FA off for the account holding code. The code is
// single use; unknown, used and expired codes change nothing.
func (s *Service) ConfirmReset(ctx context.Context, code string) error {
	canonical, ok := CanonicalResetCode(code)
	if !ok {
		return ErrMalformedResetCode
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	account, err := s.store.GetByResetCode(ctx, canonical)
	if err != nil {
		if errors.Is(err, twofa.ErrAccountNotFound) {
			return ErrResetCodeInvalid
		}
		return fmt.Errorf("failed to find reset code: %w", apperrors.StorageUnavailable(err))
	}

	now := s.now().UTC()
	if !now.Before(account.ResetCodeExpiry) {
		slog.Info("Expired 2FA reset code presented", "accountID", account.ID)
		return ErrResetCodeExpired
	}

	accountID, consumed, err := s.store.ConsumeResetCode(ctx, canonical, now)
	if err != nil {
		return fmt.Errorf("failed to consume reset code: %w", apperrors.StorageUnavailable(err))
	}
	if !consumed {
		// lost a race with another confirm, or expired in between
		return ErrResetCodeInvalid
	}

	slog.Info("2FA reset confirmed, two-factor authentication disabled", "accountID", accountID)
	return nil
}

// CanonicalResetCode trims and upper-cases code and reports whether it is
// 8 characters from A-Z and 0-9.
func CanonicalResetCode(code string) (string, bool) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if len(c) != RESET_CODE_LENGTH {
		return "", false
	}
	for i := 0; i < len(c); i++ {
		if strings.IndexByte(RESET_CODE_ALPHABET, c[i]) < 0 {
			return "", false
		}
	}
	return c, true
}

func randomCode() (string, error) {
	max := big.NewInt(int64(len(RESET_CODE_ALPHABET)))
	b := make([]byte, RESET_CODE_LENGTH)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = RESET_CODE_ALPHABET[n.Int64()]
	}
	return string(b), nil
}
