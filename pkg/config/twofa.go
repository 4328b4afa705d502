package config

import (
	"time"
)

// Reset codes may live between 15 and 30 minutes
const (
	MinResetCodeTTL = 15 * time.Minute
	MaxResetCodeTTL = 30 * time.Minute
)

// TwoFAConfig holds the two-factor settings. Durations accept ISO-8601 or Go
// syntax.
type TwoFAConfig struct {
	Issuer             string   `env:"TWOFA_ISSUER" env-default:"simple-twofa"`
	PendingLoginTTL    string   `env:"TWOFA_PENDING_LOGIN_TTL" env-default:"PT10M"`
	ResetCodeTTL       string   `env:"TWOFA_RESET_CODE_TTL" env-default:"PT20M"`
	BackupCodeCount    int      `env:"TWOFA_BACKUP_CODE_COUNT" env-default:"10"`
	BackupLowThreshold int      `env:"TWOFA_BACKUP_CODE_LOW_THRESHOLD" env-default:"2"`
	SetupPath          string   `env:"TWOFA_SETUP_PATH" env-default:"/2fa/setup"`
	AllowPaths         []string `env:"TWOFA_ALLOW_PATHS" env-separator:","`
	// ReplayGuard rejects a TOTP step that already signed this account in
	ReplayGuard bool `env:"TWOFA_REPLAY_GUARD" env-default:"true"`
}

// PendingLoginTTLDuration returns the parsed TWOFA_PENDING_LOGIN_TTL
func (c TwoFAConfig) PendingLoginTTLDuration() (time.Duration, error) {
	return ParseDuration(c.PendingLoginTTL)
}

// ResetCodeTTLDuration returns the parsed TWOFA_RESET_CODE_TTL
func (c TwoFAConfig) ResetCodeTTLDuration() (time.Duration, error) {
	return ParseDuration(c.ResetCodeTTL)
}

func (c TwoFAConfig) validate() ValidationErrors {
	return CollectErrors(
		RequireNonEmpty("TWOFA_ISSUER", c.Issuer),
		requireDuration("TWOFA_PENDING_LOGIN_TTL", c.PendingLoginTTL, time.Minute, time.Hour),
		requireDuration("TWOFA_RESET_CODE_TTL", c.ResetCodeTTL, MinResetCodeTTL, MaxResetCodeTTL),
		RequireInRange("TWOFA_BACKUP_CODE_COUNT", c.BackupCodeCount, 1, 50),
		RequireInRange("TWOFA_BACKUP_CODE_LOW_THRESHOLD", c.BackupLowThreshold, 0, c.BackupCodeCount),
		requireAbsolutePath("TWOFA_SETUP_PATH", c.SetupPath),
	)
}

func requireAbsolutePath(field, value string) *ValidationError {
	if err := RequireNonEmpty(field, value); err != nil {
		return err
	}
	if value[0] != '/' {
		return &ValidationError{Field: field, Message: "must start with /"}
	}
	return nil
}
