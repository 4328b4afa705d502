package api

// ConfirmSetupRequest carries the first code from the authenticator app
type ConfirmSetupRequest struct {
	Code string `json:"code"`
}

// BackupCodesResponse returns a freshly issued backup code set. It is the
// only time the plaintext codes are shown.
type BackupCodesResponse struct {
	Message     string   `json:"message"`
	BackupCodes []string `json:"backup_codes"`
}

// DisableRequest represents the request to turn 2FA off
type DisableRequest struct {
	CurrentCredential string `json:"current_credential"`
}

// MessageResponse is a plain acknowledgement
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}
