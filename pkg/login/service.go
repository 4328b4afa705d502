package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/tendant/simple-twofa/pkg/errors"
	"github.com/tendant/simple-twofa/pkg/twofa"
)

// ErrInvalidCredentials is returned for an unknown email and for a wrong
// password alike.
var ErrInvalidCredentials = apperrors.New(apperrors.ErrCodeAuthFailed, "invalid email or password")

// LoginService checks the primary credential (email + password).
type LoginService struct {
	store  twofa.AccountStore
	hasher PasswordHasher
	// verified against when the email is unknown so both paths cost one hash
	dummyHash    string
	queryTimeout time.Duration
}

type Option func(*LoginService)

func WithPasswordHasher(h PasswordHasher) Option {
	return func(s *LoginService) { s.hasher = h }
}

// WithQueryTimeout bounds the store calls of Authenticate and CreateAccount
func WithQueryTimeout(d time.Duration) Option {
	return func(s *LoginService) { s.queryTimeout = d }
}

func NewLoginService(store twofa.AccountStore, opts ...Option) *LoginService {
	s := &LoginService{store: store, hasher: NewBcryptHasher()}
	for _, opt := range opts {
		opt(s)
	}
	if hash, err := s.hasher.Hash("simple-twofa-dummy-password"); err == nil {
		s.dummyHash = hash
	}
	return s
}

func (s *LoginService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

// Hasher exposes the configured hasher, e.g. for the disable endpoint
func (s *LoginService) Hasher() PasswordHasher {
	return s.hasher
}

// Authenticate returns the account when email and password match.
func (s *LoginService) Authenticate(ctx context.Context, email, password string) (twofa.Account, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return twofa.Account{}, ErrInvalidCredentials
	}

	ctx, cancel := s.withTimeout(ctx)
	account, err := s.store.GetByEmail(ctx, email)
	cancel()
	if err != nil {
		if errors.Is(err, twofa.ErrAccountNotFound) {
			if s.dummyHash != "" {
				_, _ = s.hasher.Verify(password, s.dummyHash)
			}
			return twofa.Account{}, ErrInvalidCredentials
		}
		return twofa.Account{}, fmt.Errorf("failed to find account: %w", apperrors.StorageUnavailable(err))
	}

	if account.CredentialHash == "" {
		return twofa.Account{}, ErrInvalidCredentials
	}
	ok, err := s.hasher.Verify(password, account.CredentialHash)
	if err != nil {
		slog.Error("Failed to verify password", "accountID", account.ID, "error", err)
		return twofa.Account{}, ErrInvalidCredentials
	}
	if !ok {
		return twofa.Account{}, ErrInvalidCredentials
	}
	return account, nil
}

// CreateAccount stores a new account with a hashed password
func (s *LoginService) CreateAccount(ctx context.Context, email, password string) (twofa.Account, error) {
	email = NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return twofa.Account{}, apperrors.Validation("a valid email is required")
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return twofa.Account{}, apperrors.Validation(err.Error())
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	account, err := s.store.Create(ctx, twofa.Account{Email: email, CredentialHash: hash})
	if err != nil {
		return twofa.Account{}, fmt.Errorf("failed to create account: %w", err)
	}
	slog.Info("Account created", "accountID", account.ID)
	return account, nil
}

// NormalizeEmail trims and lower-cases an address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
