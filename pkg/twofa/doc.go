// Package twofa provides TOTP based two-factor authentication for simple-twofa.
//
// # Overview
//
// The twofa package provides:
//   - Secret provisioning with otpauth:// URIs and QR codes (Provisioner)
//   - TOTP verification with a setup window and a stricter login window (Verifier)
//   - Single-use backup codes stored as digests (BackupCodeVault)
//   - Enrollment, disabling and regeneration for a signed-in account (TwoFactorService)
//   - Account storage in PostgreSQL, a JSON file or memory (AccountStore)
//
// # Basic Usage
//
//	import "github.com/tendant/simple-twofa/pkg/twofa"
//
//	store, err := twofa.NewAccountStore("postgres", twofa.RepositoryConfig{Pool: pool})
//	if err != nil {
//		return err
//	}
//
//	service := twofa.NewTwoFactorService(
//		store,
//		twofa.WithProvisioner(twofa.NewProvisioner(store, "MyApp")),
//		twofa.WithCredentialVerifier(login.NewBcryptHasher()),
//		twofa.WithQueryTimeout(5*time.Second),
//	)
//
//	// GET /2fa/setup: idempotent, 2FA stays disabled
//	info, err := service.BeginSetup(ctx, accountID)
//
//	// POST /2fa/setup: enables 2FA and returns the backup codes once
//	codes, err := service.ConfirmSetup(ctx, accountID, "123456")
//
// # Verification Windows
//
// Codes are 6 digits, HMAC-SHA1, 30 second steps. SetupMode accepts the two
// steps on either side of the current one, LoginMode only one. Every candidate
// step is compared in constant time.
//
//	verifier := twofa.NewVerifier()
//	ok := verifier.Verify(secret, submitted, twofa.LoginMode)
//
// # Backup Codes
//
// Codes look like ABCDE-FGH23 and are matched case-insensitively with or
// without the dash. A code is removed by a conditional update, so two
// concurrent logins presenting the same code cannot both succeed.
package twofa
