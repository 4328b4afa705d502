package twofa

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CredentialVerifier checks a plaintext credential against the stored hash.
// login.PasswordHasher implementations satisfy it.
type CredentialVerifier interface {
	Verify(password, hashedPassword string) (bool, error)
}

// SetupInfo is what an authenticator app needs to enroll. QRCode is empty
// when rendering failed, in which case QRError says why.
type SetupInfo struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
	QRCode          string `json:"qr_code,omitempty"`
	QRError         string `json:"qr_error,omitempty"`
}

// Status summarizes an account's 2FA enrollment.
type Status struct {
	Enabled              bool `json:"enabled"`
	BackupCodesRemaining int  `json:"backup_codes_remaining"`
	LowBackupCodes       bool `json:"low_backup_codes"`
}

// TwoFactorService drives enrollment, disabling and backup code regeneration
// for a signed-in account.
type TwoFactorService struct {
	store        AccountStore
	provisioner  *Provisioner
	verifier     *Verifier
	vault        *BackupCodeVault
	credentials  CredentialVerifier
	queryTimeout time.Duration
}

// Option configures a TwoFactorService
type Option func(*TwoFactorService)

func WithProvisioner(p *Provisioner) Option {
	return func(s *TwoFactorService) { s.provisioner = p }
}

func WithVerifier(v *Verifier) Option {
	return func(s *TwoFactorService) { s.verifier = v }
}

func WithVault(v *BackupCodeVault) Option {
	return func(s *TwoFactorService) { s.vault = v }
}

// WithCredentialVerifier sets how Disable checks the current credential
func WithCredentialVerifier(c CredentialVerifier) Option {
	return func(s *TwoFactorService) { s.credentials = c }
}

// WithQueryTimeout bounds every store call made by the service
func WithQueryTimeout(d time.Duration) Option {
	return func(s *TwoFactorService) { s.queryTimeout = d }
}

// NewTwoFactorService creates a service over store. Missing collaborators get
// defaults, except the credential verifier: without one Disable always fails.
func NewTwoFactorService(store AccountStore, opts ...Option) *TwoFactorService {
	s := &TwoFactorService{store: store}
	for _, opt := range opts {
		opt(s)
	}
	if s.provisioner == nil {
		s.provisioner = NewProvisioner(store, TOTP_ISSUER)
	}
	if s.verifier == nil {
		s.verifier = NewVerifier()
	}
	if s.vault == nil {
		s.vault = NewBackupCodeVault(store)
	}
	return s
}

func (s *TwoFactorService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

// BeginSetup returns the secret and provisioning data for an account that has
// not enrolled yet. Repeated calls return the same secret and never enable 2FA.
func (s *TwoFactorService) BeginSetup(ctx context.Context, accountID uuid.UUID) (SetupInfo, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	current, err := s.store.GetByID(ctx, accountID)
	if err != nil {
		return SetupInfo{}, storeError("get account", err)
	}
	if current.TwoFactorEnabled {
		return SetupInfo{}, ErrAlreadyEnabled
	}

	account, err := s.provisioner.GenerateSecret(ctx, accountID)
	if err != nil {
		return SetupInfo{}, err
	}
	uri, err := s.provisioner.ProvisioningURI(account)
	if err != nil {
		return SetupInfo{}, err
	}

	info := SetupInfo{Secret: account.TOTPSecret, ProvisioningURI: uri}
	qr, err := QRPayload(uri)
	if err != nil {
		slog.Warn("QR code rendering failed, falling back to manual entry", "accountID", accountID, "error", err)
		info.QRError = "qr code unavailable, enter the secret manually"
	} else {
		info.QRCode = qr
	}
	return info, nil
}

// ConfirmSetup enables 2FA when code matches the provisioned secret within the
// setup window. The flag and the first backup code set are written in one
// conditional update; the plaintext codes are returned only here.
func (s *TwoFactorService) ConfirmSetup(ctx context.Context, accountID uuid.UUID, code string) ([]string, error) {
	normalized, ok := NormalizeCode(code)
	if !ok {
		return nil, ErrMalformedCode
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	account, err := s.store.GetByID(ctx, accountID)
	if err != nil {
		return nil, storeError("get account", err)
	}
	if account.TwoFactorEnabled {
		return nil, ErrAlreadyEnabled
	}
	if !account.HasSecret() {
		return nil, ErrNotProvisioned
	}
	if !s.verifier.Verify(account.TOTPSecret, normalized, SetupMode) {
		slog.Info("2FA setup confirmation rejected", "accountID", accountID)
		return nil, ErrInvalidCode
	}

	codes, hashes, err := s.vault.NewCodeSet(accountID, 0)
	if err != nil {
		return nil, err
	}
	enabled, err := s.store.EnableTwoFactor(ctx, accountID, account.TOTPSecret, hashes)
	if err != nil {
		return nil, storeError("enable two-factor", err)
	}
	if !enabled {
		// Another confirmation won, or the secret was cleared meanwhile.
		slog.Info("2FA setup confirmation lost to a concurrent change", "accountID", accountID)
		return nil, ErrAlreadyEnabled
	}

	slog.Info("2FA enabled", "accountID", accountID, "backupCodes", len(codes))
	return codes, nil
}

// Disable clears the secret, the flag and the backup codes after checking the
// account's current credential.
func (s *TwoFactorService) Disable(ctx context.Context, accountID uuid.UUID, credential string) error {
	if strings.TrimSpace(credential) == "" {
		return ErrMissingCredential
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	account, err := s.store.GetByID(ctx, accountID)
	if err != nil {
		return storeError("get account", err)
	}
	if !account.TwoFactorEnabled && !account.HasSecret() {
		return ErrNotEnabled
	}
	if !s.checkCredential(account, credential) {
		slog.Info("2FA disable rejected, credential mismatch", "accountID", accountID)
		return ErrInvalidCredential
	}

	if err := s.store.DisableTwoFactor(ctx, accountID); err != nil {
		return storeError("disable two-factor", err)
	}
	slog.Info("2FA disabled", "accountID", accountID)
	return nil
}

func (s *TwoFactorService) checkCredential(account Account, credential string) bool {
	if s.credentials == nil || account.CredentialHash == "" {
		return false
	}
	ok, err := s.credentials.Verify(credential, account.CredentialHash)
	if err != nil {
		slog.Error("Failed to verify credential", "accountID", account.ID, "error", err)
		return false
	}
	return ok
}

// RegenerateBackupCodes replaces every backup code of an enrolled account.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, accountID uuid.UUID) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	account, err := s.store.GetByID(ctx, accountID)
	if err != nil {
		return nil, storeError("get account", err)
	}
	if !account.TwoFactorEnabled {
		return nil, ErrNotEnabled
	}
	codes, err := s.vault.Generate(ctx, accountID, 0)
	if err != nil {
		return nil, err
	}
	slog.Info("Backup codes regenerated", "accountID", accountID, "count", len(codes))
	return codes, nil
}

// Status reports enrollment and the remaining backup code count.
func (s *TwoFactorService) Status(ctx context.Context, accountID uuid.UUID) (Status, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	account, err := s.store.GetByID(ctx, accountID)
	if err != nil {
		return Status{}, storeError("get account", err)
	}
	status := Status{Enabled: account.TwoFactorEnabled}
	if account.TwoFactorEnabled {
		status.BackupCodesRemaining = len(account.BackupCodes)
		status.LowBackupCodes = s.vault.IsLow(status.BackupCodesRemaining)
	}
	return status, nil
}

// IsEnabled reports whether the account has completed enrollment.
func (s *TwoFactorService) IsEnabled(ctx context.Context, accountID uuid.UUID) (bool, error) {
	status, err := s.Status(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("failed to read two-factor status: %w", err)
	}
	return status.Enabled, nil
}
