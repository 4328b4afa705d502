// Package loginflow coordinates a login from password check to an
// authenticated session, with an optional TOTP or backup code step between.
//
// # States
//
// A login is in one of three states:
//   - anonymous: nothing verified yet
//   - pending_2fa: the password was correct and the account has 2FA enabled
//   - authenticated: every required factor was verified
//
// BeginLogin moves anonymous to authenticated when the account has no 2FA,
// otherwise to pending_2fa by saving a PendingLogin (10 minutes by default).
// CompleteLogin takes that PendingLogin id and exactly one of a TOTP code or
// a backup code. A wrong code leaves the login pending. A PendingLogin is
// single use and is gone once the login completes, expires or is aborted.
//
// # Usage
//
//	coordinator, err := loginflow.NewCoordinator(loginflow.ServiceDependencies{
//		Authenticator: loginService,
//		Accounts:      accountStore,
//		Verifier:      twofa.NewVerifier(),
//		Vault:         twofa.NewBackupCodeVault(accountStore),
//		Pending:       loginflow.NewRedisPendingLoginStore(rdb),
//		UsedCodes:     loginflow.NewRedisUsedCodeCache(rdb),
//	})
//
//	result := coordinator.BeginLogin(ctx, email, password)
//	if result.State == loginflow.StatePending2FA {
//		// ask for the code, then
//		result = coordinator.CompleteLogin(ctx, result.Pending.ID, loginflow.Factor{Code: code})
//	}
//
// The steps of each flow are LoginFlowStep values run in Order by a
// FlowExecutor.
package loginflow
