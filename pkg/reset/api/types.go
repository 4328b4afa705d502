package api

// RequestResetRequest names the account by email
type RequestResetRequest struct {
	Email string `json:"email"`
}

// ConfirmResetRequest carries the mailed code
type ConfirmResetRequest struct {
	ResetCode string `json:"reset_code"`
}

// MessageResponse is a plain acknowledgement
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}
