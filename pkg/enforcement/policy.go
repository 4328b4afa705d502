// Package enforcement sends signed-in accounts without 2FA to the setup page
// until they enroll.
//
// The enrollment flag is read from the account store on every request that
// is not allow-listed, so an account that just confirmed setup is let through
// on its very next request.
package enforcement

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// DefaultSetupPath is where unenrolled accounts are sent
const DefaultSetupPath = "/2fa/setup"

// DefaultAllowPaths are reachable without 2FA. Entries ending in "/" match any
// path below them; the others match themselves and their sub-paths.
var DefaultAllowPaths = []string{
	"/login",
	"/logout",
	"/2fa/setup",
	"/login/verify",
	"/2fa/verify",
	"/settings",
	"/2fa/disable",
	"/2fa/reset",
	"/static/",
	"/healthz",
}

// EnrollmentChecker reports whether an account has 2FA enabled.
// twofa.TwoFactorService implements it.
type EnrollmentChecker interface {
	IsEnabled(ctx context.Context, accountID uuid.UUID) (bool, error)
}

// Decision is the outcome of a policy check
type Decision int

const (
	Allow Decision = iota
	RequireSetup
)

func (d Decision) String() string {
	if d == RequireSetup {
		return "require_setup"
	}
	return "allow"
}

type Policy struct {
	checker   EnrollmentChecker
	allow     []string
	setupPath string
}

type Option func(*Policy)

// WithAllowPaths replaces the default allow-list
func WithAllowPaths(paths ...string) Option {
	return func(p *Policy) {
		p.allow = append([]string(nil), paths...)
	}
}

// WithSetupPath changes the redirect target
func WithSetupPath(setupPath string) Option {
	return func(p *Policy) {
		p.setupPath = setupPath
	}
}

func NewPolicy(checker EnrollmentChecker, opts ...Option) *Policy {
	p := &Policy{
		checker:   checker,
		allow:     append([]string(nil), DefaultAllowPaths...),
		setupPath: DefaultSetupPath,
	}
	for _, opt := range opts {
		opt(p)
	}
	// setup confirmation must never redirect into itself
	if !p.Allowed(p.setupPath) {
		p.allow = append(p.allow, p.setupPath)
	}
	return p
}

// SetupPath returns the redirect target
func (p *Policy) SetupPath() string {
	return p.setupPath
}

// Allowed reports whether requestPath is on the allow-list
func (p *Policy) Allowed(requestPath string) bool {
	cleaned := path.Clean("/" + requestPath)
	for _, prefix := range p.allow {
		if strings.HasSuffix(prefix, "/") {
			if strings.HasPrefix(cleaned+"/", prefix) {
				return true
			}
			continue
		}
		if cleaned == prefix || strings.HasPrefix(cleaned, prefix+"/") {
			return true
		}
	}
	return false
}

// Check decides whether an authenticated account may reach requestPath
func (p *Policy) Check(ctx context.Context, accountID uuid.UUID, requestPath string) (Decision, error) {
	if p.Allowed(requestPath) {
		return Allow, nil
	}
	enabled, err := p.checker.IsEnabled(ctx, accountID)
	if err != nil {
		return Allow, fmt.Errorf("failed to check 2FA enrollment: %w", err)
	}
	if !enabled {
		return RequireSetup, nil
	}
	return Allow, nil
}
