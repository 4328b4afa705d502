package notification

import (
	"context"
	"sync"
)

// SentMail is one message recorded by MockMailer
type SentMail struct {
	To      string
	Subject string
	Text    string
	Html    string
}

// MockMailer records messages instead of sending them. Err, when set, is
// returned from every send.
type MockMailer struct {
	mu   sync.Mutex
	sent []SentMail
	Err  error
}

func (m *MockMailer) Send(ctx context.Context, to, subject, body string) error {
	return m.SendHTML(ctx, to, subject, body, "")
}

func (m *MockMailer) SendHTML(ctx context.Context, to, subject, textBody, htmlBody string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, SentMail{To: to, Subject: subject, Text: textBody, Html: htmlBody})
	return nil
}

// Sent returns a copy of the recorded messages
func (m *MockMailer) Sent() []SentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMail(nil), m.sent...)
}
