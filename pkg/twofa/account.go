package twofa

import (
	"time"

	"github.com/google/uuid"
)

// Account is the 2FA view of a user account. Password storage belongs to the
// account owner, this package only reads CredentialHash.
type Account struct {
	ID               uuid.UUID `json:"id"`
	Email            string    `json:"email"`
	CredentialHash   string    `json:"credential_hash"`
	TOTPSecret       string    `json:"totp_secret,omitempty"` // base32, empty when not provisioned
	TwoFactorEnabled bool      `json:"is_2fa_enabled"`
	// BackupCodes holds hex digests of the remaining codes, never plaintext.
	BackupCodes     []string  `json:"backup_codes"`
	ResetCode       string    `json:"reset_code,omitempty"`
	ResetCodeExpiry time.Time `json:"reset_code_expiry,omitempty"` // zero when no reset is pending
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasSecret reports whether a TOTP secret has been provisioned.
func (a Account) HasSecret() bool {
	return a.TOTPSecret != ""
}

// ClearTwoFactor drops the secret, the flag, the backup codes and any pending
// reset code.
func (a *Account) ClearTwoFactor() {
	a.TOTPSecret = ""
	a.TwoFactorEnabled = false
	a.BackupCodes = []string{}
	a.ResetCode = ""
	a.ResetCodeExpiry = time.Time{}
}
