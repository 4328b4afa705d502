package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	apperrors "github.com/tendant/simple-twofa/pkg/errors"
	"github.com/tendant/simple-twofa/pkg/reset"
)

// requestAcceptedMessage is returned for every reset request, matching or not
const requestAcceptedMessage = "If that account has two-factor authentication enabled, a reset code is on its way."

// ResetHandler returns the reset routes, meant to be mounted at /2fa/reset.
// Neither route needs a session.
func ResetHandler(h *Handle) http.Handler {
	r := chi.NewRouter()

	r.Post("/", h.PostRequestReset)
	r.Post("/confirm", h.PostConfirmReset)

	return r
}

type Handle struct {
	service *reset.Service
}

// NewHandle creates a new Handle
func NewHandle(service *reset.Service) *Handle {
	return &Handle{service: service}
}

// PostRequestReset mails a reset code when the email matches
// (POST /2fa/reset)
func (h *Handle) PostRequestReset(w http.ResponseWriter, r *http.Request) {
	var req RequestResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Invalid request body"})
		return
	}

	if err := h.service.RequestReset(r.Context(), req.Email); err != nil {
		status, message := apperrors.Public(err)
		slog.Error("Failed to process 2FA reset request", "error", err)
		render.Status(r, status)
		render.JSON(w, r, ErrorResponse{Error: message})
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, MessageResponse{Message: requestAcceptedMessage})
}

// PostConfirmReset disables 2FA for the account holding the code
// (POST /2fa/reset/confirm)
func (h *Handle) PostConfirmReset(w http.ResponseWriter, r *http.Request) {
	var req ConfirmResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Invalid request body"})
		return
	}

	err := h.service.ConfirmReset(r.Context(), req.ResetCode)
	switch {
	case err == nil:
		render.Status(r, http.StatusOK)
		render.JSON(w, r, MessageResponse{Message: "Two-factor authentication has been disabled. Sign in and set it up again."})
	case errors.Is(err, reset.ErrMalformedResetCode),
		errors.Is(err, reset.ErrResetCodeInvalid),
		errors.Is(err, reset.ErrResetCodeExpired):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "invalid or expired reset code"})
	default:
		status, message := apperrors.Public(err)
		slog.Error("Failed to confirm 2FA reset", "error", err)
		render.Status(r, status)
		render.JSON(w, r, ErrorResponse{Error: message})
	}
}
