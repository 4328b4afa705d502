// Package errors provides structured error handling with error codes for the
// two-factor authentication service.
//
// Every failure that crosses a package boundary is classified into one of a
// small set of codes so that HTTP handlers can map it to a status without
// string matching, and so that storage failures are never confused with a
// wrong code.
//
// # Error Codes
//
//   - ErrCodeValidationFailed: malformed input shape (non-digit code, bad email)
//   - ErrCodeAuthFailed: code, backup code or credential mismatch
//   - ErrCodeExpiredState: pending login or reset code past its TTL
//   - ErrCodeStorageUnavailable: account store unreachable, retryable
//   - ErrCodeProvisioningFailed: QR rendering failure, non-fatal
//   - ErrCodeNotFound, ErrCodeConflict, ErrCodeUnauthorized, ErrCodeForbidden,
//     ErrCodeInternal: generic
//
// # Basic Usage
//
//	import "github.com/tendant/simple-twofa/pkg/errors"
//
//	// Package sentinels
//	var ErrResetCodeExpired = errors.Expired("reset code expired")
//
//	// Wrap a store error so callers can retry
//	if err != nil {
//		return errors.StorageUnavailable(err)
//	}
//
//	// Inspect
//	if errors.IsRetryable(err) {
//		w.Header().Set("Retry-After", "1")
//	}
//	status := errors.MapErrorCodeToHTTPStatus(errors.GetCode(err))
//
// Sentinels are pointers, so errors.Is from the standard library matches them
// through fmt.Errorf("...: %w") wrapping.
package errors
