// Package notification renders email templates and sends them over SMTP.
//
// A Mailer delivers a message; EmailNotifier is the SMTP implementation and
// MockMailer records messages for tests. NotificationManager keeps the
// templates by NoticeType and renders them before handing them to the Mailer.
//
//	mailer, err := notification.NewEmailNotifier(notification.SMTPConfig{
//		Host: "localhost",
//		Port: 1025,
//		From: "noreply@example.com",
//	})
//	if err != nil {
//		return err
//	}
//	nm, err := notification.NewNotificationManagerWithOptions(mailer, notification.WithDefaultTemplates())
//	if err != nil {
//		return err
//	}
//	err = nm.Send(ctx, notification.TwofaResetNotice, notification.NotificationData{
//		To:   "user@example.com",
//		Data: map[string]string{"Code": "K7Q2M9XA", "ExpiresInMinutes": "20"},
//	})
//
// Templates under templates/ are embedded in the binary.
package notification
