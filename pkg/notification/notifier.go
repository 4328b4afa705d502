package notification

import "context"

// NoticeType names a registered message, e.g. the 2FA reset code email
type NoticeType string

const (
	TwofaResetNotice NoticeType = "twofa_reset"
)

// NoticeTemplate holds Go templates for one notice. Text is required; Html is
// sent as an alternative part when the Mailer supports it.
type NoticeTemplate struct {
	Subject string
	Text    string
	Html    string
}

// NotificationData is the recipient and the values the templates are rendered with
type NotificationData struct {
	To   string
	Data map[string]string
}

// Mailer delivers a plain text email
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// HTMLMailer is a Mailer that can also attach an HTML alternative
type HTMLMailer interface {
	Mailer
	SendHTML(ctx context.Context, to, subject, textBody, htmlBody string) error
}
