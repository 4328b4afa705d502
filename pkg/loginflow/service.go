package loginflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/tendant/simple-twofa/pkg/errors"
	"github.com/tendant/simple-twofa/pkg/twofa"
)

// State is where a login attempt stands
type State int

const (
	StateAnonymous State = iota
	StatePending2FA
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StatePending2FA:
		return "pending_2fa"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

// Authenticator checks the primary credential. login.LoginService implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (twofa.Account, error)
}

// ServiceDependencies contains all the services needed by login flow steps
type ServiceDependencies struct {
	Authenticator Authenticator
	Accounts      twofa.AccountStore
	Verifier      *twofa.Verifier
	Vault         *twofa.BackupCodeVault
	Pending       PendingLoginStore
	// UsedCodes is optional; when nil a TOTP code may be reused inside its window
	UsedCodes       UsedCodeCache
	PendingLoginTTL time.Duration
}

// Factor is the second factor submitted to complete a login. Exactly one of
// the fields must be set.
type Factor struct {
	Code       string
	BackupCode string
}

// Request is the input of a login flow
type Request struct {
	Email     string
	Password  string
	PendingID uuid.UUID
	Factor    Factor
}

// Result contains the result of a login flow operation. AccountID is only
// set once the state is StateAuthenticated.
type Result struct {
	State     State
	AccountID uuid.UUID
	Pending   *PendingLogin

	UsedBackupCode       bool
	RemainingBackupCodes int
	LowBackupCodes       bool

	ErrorResponse *Error
}

// Authenticated is shorthand for State == StateAuthenticated
func (r Result) Authenticated() bool {
	return r.State == StateAuthenticated
}

// Error types
const (
	ErrorTypeInvalidCredentials = "invalid_credentials"
	ErrorTypeInvalidCode        = "invalid_2fa_code"
	ErrorTypeValidation         = "validation_error"
	ErrorTypeExpired            = "login_expired"
	ErrorTypeStorage            = "storage_unavailable"
	ErrorTypeInternal           = "internal_error"
)

// Error represents structured errors from the login flow
type Error struct {
	Type    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	// ErrLoginExpired is returned when the pending login is gone or past its TTL
	ErrLoginExpired = apperrors.Expired("login expired, please sign in again")

	// ErrFactorRequired is returned unless exactly one of code and backup_code is given
	ErrFactorRequired = apperrors.Validation("provide either code or backup_code")

	// ErrMalformedBackupCode is returned when a backup code has the wrong shape
	ErrMalformedBackupCode = apperrors.Validation("backup code is malformed")
)

func newError(typ string, err error) *Error {
	_, msg := apperrors.Public(err)
	return &Error{Type: typ, Message: msg, Err: err}
}

func expiredError() *Error {
	return newError(ErrorTypeExpired, ErrLoginExpired)
}

func storageError(err error) *Error {
	if !apperrors.IsCode(err, apperrors.ErrCodeStorageUnavailable) {
		err = apperrors.StorageUnavailable(err)
	}
	return newError(ErrorTypeStorage, err)
}

func internalError(err error) *Error {
	return newError(ErrorTypeInternal, apperrors.InternalWrap(err, "login flow failed"))
}

// Coordinator drives a login from anonymous through the optional second
// factor to authenticated.
type Coordinator struct {
	services *ServiceDependencies
	begin        *FlowExecutor
	complete     *FlowExecutor
	now          func() time.Time
	queryTimeout time.Duration
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithQueryTimeout bounds the store calls made while running one flow
func WithQueryTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.queryTimeout = d }
}

// NewCoordinator creates a Coordinator. Authenticator, Accounts, Verifier,
// Vault and Pending are required.
func NewCoordinator(services ServiceDependencies, opts ...Option) (*Coordinator, error) {
	if services.Authenticator == nil || services.Accounts == nil || services.Pending == nil {
		return nil, fmt.Errorf("authenticator, account store and pending login store are required")
	}
	if services.Verifier == nil {
		services.Verifier = twofa.NewVerifier()
	}
	if services.Vault == nil {
		services.Vault = twofa.NewBackupCodeVault(services.Accounts)
	}
	if services.PendingLoginTTL <= 0 {
		services.PendingLoginTTL = DefaultPendingLoginTTL
	}

	c := &Coordinator{services: &services, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	builders := NewLoginFlowBuilders(c.services)
	c.begin = builders.BuildBeginLoginFlow()
	c.complete = builders.BuildCompleteLoginFlow()
	return c, nil
}

func (c *Coordinator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.queryTimeout)
}

// BeginLogin checks email and password. Accounts without 2FA are
// authenticated straight away; the others get a PendingLogin.
func (c *Coordinator) BeginLogin(ctx context.Context, email, password string) Result {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	result := c.begin.Execute(ctx, Request{Email: email, Password: password}, StateAnonymous, c.now())
	if result.ErrorResponse != nil && result.ErrorResponse.Type != ErrorTypeInvalidCredentials {
		slog.Warn("Login could not be started", "type", result.ErrorResponse.Type, "error", result.ErrorResponse.Err)
	}
	return result
}

// CompleteLogin verifies the second factor for a PendingLogin. A wrong or
// malformed factor leaves the login pending; success consumes it.
func (c *Coordinator) CompleteLogin(ctx context.Context, pendingID uuid.UUID, factor Factor) Result {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.complete.Execute(ctx, Request{PendingID: pendingID, Factor: factor}, StatePending2FA, c.now())
}

// AbortLogin discards a PendingLogin. Unknown ids are not an error.
func (c *Coordinator) AbortLogin(ctx context.Context, pendingID uuid.UUID) error {
	if err := c.services.Pending.Delete(ctx, pendingID); err != nil && !errors.Is(err, ErrPendingLoginNotFound) {
		return fmt.Errorf("failed to abort login: %w", apperrors.StorageUnavailable(err))
	}
	return nil
}

// PendingLoginTTL returns the configured lifetime of a PendingLogin
func (c *Coordinator) PendingLoginTTL() time.Duration {
	return c.services.PendingLoginTTL
}
