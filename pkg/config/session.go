package config

import "time"

// SessionConfig holds the signed session cookie settings
type SessionConfig struct {
	Secret     string `env:"SESSION_SECRET"`
	Issuer     string `env:"SESSION_ISSUER" env-default:"simple-twofa"`
	Audience   string `env:"SESSION_AUDIENCE" env-default:"simple-twofa"`
	CookieName string `env:"SESSION_COOKIE_NAME" env-default:"twofa_session"`
	TTL        string `env:"SESSION_TTL" env-default:"PT12H"`
	// CookieSecure is false only for local plain-HTTP development
	CookieSecure bool `env:"COOKIE_SECURE" env-default:"true"`
}

// TTLDuration returns the parsed SESSION_TTL
func (s SessionConfig) TTLDuration() (time.Duration, error) {
	return ParseDuration(s.TTL)
}

func (s SessionConfig) validate() ValidationErrors {
	secret := RequireNonEmpty("SESSION_SECRET", s.Secret)
	if secret == nil {
		secret = RequireMinLength("SESSION_SECRET", s.Secret, 32)
	}
	return CollectErrors(
		secret,
		requireDuration("SESSION_TTL", s.TTL, time.Minute, 0),
	)
}
