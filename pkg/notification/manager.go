package notification

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"sync"
	"text/template"
)

// NotificationManager renders registered notice templates and hands the
// result to a Mailer.
type NotificationManager struct {
	mailer Mailer

	mu       sync.RWMutex
	registry map[NoticeType]NoticeTemplate
}

// NewNotificationManager creates a manager delivering through mailer
func NewNotificationManager(mailer Mailer) *NotificationManager {
	return &NotificationManager{
		mailer:   mailer,
		registry: make(map[NoticeType]NoticeTemplate),
	}
}

// RegisterNotification adds or replaces the template for noticeType. The
// templates are parsed here so a broken one fails at startup.
func (nm *NotificationManager) RegisterNotification(noticeType NoticeType, tmpl NoticeTemplate) error {
	if noticeType == "" {
		return fmt.Errorf("invalid input: notice type cannot be empty")
	}
	if tmpl.Text == "" {
		return fmt.Errorf("invalid input: %s needs a text template", noticeType)
	}
	if _, err := template.New("subject").Parse(tmpl.Subject); err != nil {
		return fmt.Errorf("failed to parse subject template for %s: %w", noticeType, err)
	}
	if _, err := template.New("text").Parse(tmpl.Text); err != nil {
		return fmt.Errorf("failed to parse text template for %s: %w", noticeType, err)
	}
	if tmpl.Html != "" {
		if _, err := htmltemplate.New("html").Parse(tmpl.Html); err != nil {
			return fmt.Errorf("failed to parse html template for %s: %w", noticeType, err)
		}
	}

	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.registry[noticeType] = tmpl
	return nil
}

// Rendered is a notice ready to send
type Rendered struct {
	Subject string
	Text    string
	Html    string
}

// Render executes the templates of noticeType with data
func (nm *NotificationManager) Render(noticeType NoticeType, data map[string]string) (Rendered, error) {
	nm.mu.RLock()
	tmpl, ok := nm.registry[noticeType]
	nm.mu.RUnlock()
	if !ok {
		return Rendered{}, fmt.Errorf("no template registered for notice type: %s", noticeType)
	}

	var out Rendered
	var err error
	if out.Subject, err = execText("subject", tmpl.Subject, data); err != nil {
		return Rendered{}, err
	}
	if out.Text, err = execText("text", tmpl.Text, data); err != nil {
		return Rendered{}, err
	}
	if tmpl.Html != "" {
		t, err := htmltemplate.New("html").Parse(tmpl.Html)
		if err != nil {
			return Rendered{}, err
		}
		var buf bytes.Buffer
		if err := t.Execute(&buf, data); err != nil {
			return Rendered{}, fmt.Errorf("failed to execute html template: %w", err)
		}
		out.Html = buf.String()
	}
	return out, nil
}

// Send renders noticeType and delivers it to notification.To
func (nm *NotificationManager) Send(ctx context.Context, noticeType NoticeType, notification NotificationData) error {
	if nm.mailer == nil {
		return fmt.Errorf("no mailer configured")
	}
	if notification.To == "" {
		return fmt.Errorf("notification requires 'To' address")
	}

	rendered, err := nm.Render(noticeType, notification.Data)
	if err != nil {
		return err
	}

	if html, ok := nm.mailer.(HTMLMailer); ok && rendered.Html != "" {
		return html.SendHTML(ctx, notification.To, rendered.Subject, rendered.Text, rendered.Html)
	}
	return nm.mailer.Send(ctx, notification.To, rendered.Subject, rendered.Text)
}

func execText(name, src string, data map[string]string) (string, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(src)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}
	return buf.String(), nil
}
