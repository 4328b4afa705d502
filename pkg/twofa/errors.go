package twofa

import (
	apperrors "github.com/tendant/simple-twofa/pkg/errors"
)

var (
	// ErrAccountNotFound is returned by stores when no account matches
	ErrAccountNotFound = apperrors.New(apperrors.ErrCodeNotFound, "account not found")

	// ErrAccountExists is returned when creating an account whose email is taken
	ErrAccountExists = apperrors.New(apperrors.ErrCodeConflict, "account already exists")

	// ErrDuplicateValue is returned by Save when email or reset code collide with another account
	ErrDuplicateValue = apperrors.New(apperrors.ErrCodeConflict, "value already used by another account")

	// ErrNoAccountLabel is returned when the account has no email to embed in the provisioning URI
	ErrNoAccountLabel = apperrors.Validation("account has no label for the provisioning uri")

	// ErrNotProvisioned is returned when setup is confirmed before a secret exists
	ErrNotProvisioned = apperrors.New(apperrors.ErrCodeConflict, "no totp secret provisioned")

	// ErrAlreadyEnabled is returned when setup runs for an enrolled account
	ErrAlreadyEnabled = apperrors.New(apperrors.ErrCodeConflict, "two-factor authentication already enabled")

	// ErrNotEnabled is returned when an operation needs 2FA to be enabled
	ErrNotEnabled = apperrors.New(apperrors.ErrCodeConflict, "two-factor authentication not enabled")

	// ErrMalformedCode is returned when a submitted code is not 6 digits
	ErrMalformedCode = apperrors.Validation("code must be 6 digits")

	// ErrInvalidCode is returned for any code mismatch
	ErrInvalidCode = apperrors.AuthFailed()

	// ErrMissingCredential is returned when disable is called without a credential
	ErrMissingCredential = apperrors.Validation("current_credential is required")

	// ErrInvalidCredential is returned when the current credential does not match
	ErrInvalidCredential = apperrors.New(apperrors.ErrCodeAuthFailed, "invalid credential")
)
