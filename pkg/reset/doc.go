// Package reset disables two-factor authentication for an account that lost
// its authenticator and its backup codes.
//
// RequestReset stores an 8 character code on the account and mails it in the
// background. ConfirmReset takes the code back and, in one conditional
// update, clears the TOTP secret, the 2FA flag, the backup codes and the code
// itself. A request for an unknown address looks exactly like a successful
// one.
//
//	svc, err := reset.NewService(accountStore, notificationManager,
//		reset.WithResetCodeTTL(20*time.Minute),
//	)
//	mux.Mount("/2fa/reset", api.ResetHandler(api.NewHandle(svc)))
//	...
//	svc.Wait() // on shutdown
package reset
