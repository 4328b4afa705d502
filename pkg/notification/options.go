package notification

import (
	"embed"
	"fmt"
)

//go:embed templates/*
var templateFiles embed.FS

func loadTemplate(filename string) (string, error) {
	content, err := templateFiles.ReadFile(filename)
	if err != nil {
		return "", fmt.Errorf("failed to read template %s: %w", filename, err)
	}
	return string(content), nil
}

// NotificationManagerOption is a function that configures a NotificationManager
type NotificationManagerOption func(*NotificationManager) error

// WithTwofaResetTemplate registers the 2FA reset code email. It expects
// Code and ExpiresInMinutes in the data.
func WithTwofaResetTemplate() NotificationManagerOption {
	return func(nm *NotificationManager) error {
		text, err := loadTemplate("templates/email/twofa_reset.txt")
		if err != nil {
			return err
		}
		html, err := loadTemplate("templates/email/twofa_reset.html")
		if err != nil {
			return err
		}
		return nm.RegisterNotification(TwofaResetNotice, NoticeTemplate{
			Subject: "Your two-factor reset code",
			Text:    text,
			Html:    html,
		})
	}
}

// WithDefaultTemplates registers all bundled templates
func WithDefaultTemplates() NotificationManagerOption {
	return func(nm *NotificationManager) error {
		for _, opt := range []NotificationManagerOption{
			WithTwofaResetTemplate(),
		} {
			if err := opt(nm); err != nil {
				return err
			}
		}
		return nil
	}
}

// NewNotificationManagerWithOptions creates a manager and applies opts
func NewNotificationManagerWithOptions(mailer Mailer, opts ...NotificationManagerOption) (*NotificationManager, error) {
	nm := NewNotificationManager(mailer)
	for _, opt := range opts {
		if err := opt(nm); err != nil {
			return nil, err
		}
	}
	return nm, nil
}
