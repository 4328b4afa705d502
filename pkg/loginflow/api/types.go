package api

import "time"

// LoginRequest carries the primary credential
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// VerifyRequest carries exactly one second factor. PendingLoginID is only
// needed by clients that do not keep the pending login cookie.
type VerifyRequest struct {
	PendingLoginID string `json:"pending_login_id,omitempty"`
	Code           string `json:"code,omitempty"`
	BackupCode     string `json:"backup_code,omitempty"`
}

// AbortRequest names the pending login to discard when no cookie is sent
type AbortRequest struct {
	PendingLoginID string `json:"pending_login_id,omitempty"`
}

// LoginResponse reports where the login stands
type LoginResponse struct {
	Status         string     `json:"status"`
	PendingLoginID string     `json:"pending_login_id,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`

	RemainingBackupCodes *int   `json:"remaining_backup_codes,omitempty"`
	Warning              string `json:"warning,omitempty"`
}

// MessageResponse is a plain acknowledgement
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}
