package twofa

import (
	"crypto/subtle"
	"encoding/base32"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Mode selects how strict a TOTP verification is.
type Mode int

const (
	// SetupMode tolerates ±2 steps of clock drift while enrolling a new secret.
	SetupMode Mode = iota + 1
	// LoginMode accepts ±1 step once the secret is live.
	LoginMode
)

const (
	TOTP_PERIOD = 30
	TOTP_DIGITS = 6
)

func (m Mode) String() string {
	switch m {
	case SetupMode:
		return "setup"
	case LoginMode:
		return "login"
	default:
		return "unknown"
	}
}

// Skew is the number of adjacent steps accepted on each side of the current one.
func (m Mode) Skew() int64 {
	switch m {
	case SetupMode:
		return 2
	case LoginMode:
		return 1
	default:
		return -1
	}
}

var validateOpts = totp.ValidateOpts{
	Period:    TOTP_PERIOD,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// Verifier checks submitted TOTP codes. It never returns an error: anything
// that is not a match is false.
type Verifier struct {
	now func() time.Time
}

// VerifierOption configures a Verifier
type VerifierOption func(*Verifier)

// WithVerifierClock replaces time.Now, for tests
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

// NewVerifier creates a Verifier using the wall clock
func NewVerifier(opts ...VerifierOption) *Verifier {
	v := &Verifier{now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify reports whether submitted matches secret within the window of mode.
func (v *Verifier) Verify(secret, submitted string, mode Mode) bool {
	_, ok := v.Match(secret, submitted, mode)
	return ok
}

// Match is Verify that also returns the matched time step, so callers can
// refuse a second use of the same step.
func (v *Verifier) Match(secret, submitted string, mode Mode) (int64, bool) {
	code, ok := NormalizeCode(submitted)
	if !ok {
		return 0, false
	}
	skew := mode.Skew()
	if skew < 0 || !validSecret(secret) {
		return 0, false
	}

	current := v.now().UTC().Unix() / TOTP_PERIOD
	var matched int64
	found := false
	// every step is compared so the running time does not depend on which one matched
	for k := -skew; k <= skew; k++ {
		step := current + k
		if step < 0 {
			continue
		}
		expected, err := totp.GenerateCodeCustom(secret, time.Unix(step*TOTP_PERIOD, 0).UTC(), validateOpts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 && !found {
			matched = step
			found = true
		}
	}
	return matched, found
}

// GenerateCode returns the code for secret at t.
func GenerateCode(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t.UTC(), validateOpts)
}

// NormalizeCode trims whitespace and checks for exactly six ASCII digits.
func NormalizeCode(submitted string) (string, bool) {
	code := strings.TrimSpace(submitted)
	if len(code) != TOTP_DIGITS {
		return "", false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return "", false
		}
	}
	return code, true
}

var b32NoPadding = base32.StdEncoding.WithPadding(base32.NoPadding)

// decodeSecret accepts the same spellings the authenticator apps do:
// lower case and optional padding.
func decodeSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.TrimSpace(secret))
	s = strings.TrimRight(s, "=")
	return b32NoPadding.DecodeString(s)
}

func validSecret(secret string) bool {
	raw, err := decodeSecret(secret)
	return err == nil && len(raw) > 0
}
