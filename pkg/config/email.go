package config

import (
	"time"

	"github.com/tendant/simple-twofa/pkg/notification"
)

// EmailConfig holds SMTP email configuration
type EmailConfig struct {
	Host     string `env:"EMAIL_HOST" env-default:"localhost"`
	Port     uint16 `env:"EMAIL_PORT" env-default:"1025"`
	Username string `env:"EMAIL_USERNAME"`
	Password string `env:"EMAIL_PASSWORD"`
	From     string `env:"EMAIL_FROM" env-default:"noreply@example.com"`
	TLS      bool   `env:"EMAIL_TLS" env-default:"false"`
	// SendTimeout bounds one background delivery, ISO-8601 or Go syntax
	SendTimeout string `env:"EMAIL_SEND_TIMEOUT" env-default:"PT10S"`
}

// SendTimeoutDuration returns the parsed EMAIL_SEND_TIMEOUT
func (e EmailConfig) SendTimeoutDuration() (time.Duration, error) {
	return ParseDuration(e.SendTimeout)
}

// ToSMTPConfig converts the config to a notification.SMTPConfig
func (e EmailConfig) ToSMTPConfig() notification.SMTPConfig {
	timeout, _ := e.SendTimeoutDuration()
	return notification.SMTPConfig{
		Host:     e.Host,
		Port:     int(e.Port),
		Username: e.Username,
		Password: e.Password,
		From:     e.From,
		TLS:      e.TLS,
		Timeout:  timeout,
	}
}

func (e EmailConfig) validate() ValidationErrors {
	return CollectErrors(
		RequireNonEmpty("EMAIL_HOST", e.Host),
		RequireValidPort("EMAIL_PORT", e.Port),
		RequireValidEmail("EMAIL_FROM", e.From),
		requireDuration("EMAIL_SEND_TIMEOUT", e.SendTimeout, time.Second, 0),
	)
}
