package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strconv"

	pkgconfig "github.com/tendant/simple-twofa/pkg/config"
	"github.com/tendant/simple-twofa/pkg/notification"
)

// Sends a sample 2FA reset mail through the configured SMTP server
func main() {
	to := flag.String("to", "", "To email address")
	insecure := flag.Bool("insecure", false, "Skip TLS certificate verification")
	flag.Parse()

	if *to == "" {
		log.Fatal("Error: to email address is required")
	}

	config, err := pkgconfig.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	smtpConfig := config.Email.ToSMTPConfig()
	smtpConfig.InsecureSkipVerify = *insecure
	notifier, err := notification.NewEmailNotifier(smtpConfig)
	if err != nil {
		log.Fatalf("Failed to create mail client: %v", err)
	}

	manager, err := notification.NewNotificationManagerWithOptions(notifier, notification.WithDefaultTemplates())
	if err != nil {
		log.Fatalf("Failed to load templates: %v", err)
	}

	ttl, err := config.TwoFA.ResetCodeTTLDuration()
	if err != nil {
		log.Fatalf("Invalid reset code TTL: %v", err)
	}

	err = manager.Send(context.Background(), notification.TwofaResetNotice, notification.NotificationData{
		To: *to,
		Data: map[string]string{
			"Code":             "TEST1234",
			"ExpiresInMinutes": strconv.Itoa(int(ttl.Minutes())),
		},
	})
	if err != nil {
		log.Fatalf("Failed to send email: %v", err)
	}

	fmt.Println("Email sent successfully!")
}
