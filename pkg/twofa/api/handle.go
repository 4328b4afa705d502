package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	apperrors "github.com/tendant/simple-twofa/pkg/errors"
	"github.com/tendant/simple-twofa/pkg/sessions"
	"github.com/tendant/simple-twofa/pkg/twofa"
)

// TwoFaHandler returns a http.Handler for the signed-in account's 2FA
// management. It expects sessions.Manager.Middleware to run first.
func TwoFaHandler(h *Handle) http.Handler {
	r := chi.NewRouter()
	r.Use(sessions.RequireSession)

	r.Get("/setup", h.GetSetup)
	r.Post("/setup", h.PostSetup)
	r.Post("/disable", h.PostDisable)
	r.Post("/backup-codes/regenerate", h.PostRegenerateBackupCodes)
	r.Get("/status", h.GetStatus)

	return r
}

type Handle struct {
	service *twofa.TwoFactorService
}

// NewHandle creates a new Handle
func NewHandle(service *twofa.TwoFactorService) *Handle {
	return &Handle{service: service}
}

// GetSetup returns the secret, provisioning URI and QR code
// (GET /setup)
func (h *Handle) GetSetup(w http.ResponseWriter, r *http.Request) {
	accountID, _ := sessions.AccountIDFromContext(r.Context())

	info, err := h.service.BeginSetup(r.Context(), accountID)
	if err != nil {
		writeError(w, r, "Failed to begin 2FA setup", err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, info)
}

// PostSetup confirms enrollment with a code
// (POST /setup)
func (h *Handle) PostSetup(w http.ResponseWriter, r *http.Request) {
	accountID, _ := sessions.AccountIDFromContext(r.Context())

	var req ConfirmSetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Invalid request body"})
		return
	}

	codes, err := h.service.ConfirmSetup(r.Context(), accountID, req.Code)
	if err != nil {
		writeError(w, r, "Failed to confirm 2FA setup", err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, BackupCodesResponse{
		Message:     "Two-factor authentication enabled. Store these backup codes somewhere safe, they will not be shown again.",
		BackupCodes: codes,
	})
}

// PostDisable turns 2FA off after checking the current credential
// (POST /disable)
func (h *Handle) PostDisable(w http.ResponseWriter, r *http.Request) {
	accountID, _ := sessions.AccountIDFromContext(r.Context())

	var req DisableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Invalid request body"})
		return
	}

	if err := h.service.Disable(r.Context(), accountID, req.CurrentCredential); err != nil {
		writeError(w, r, "Failed to disable 2FA", err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, MessageResponse{Message: "Two-factor authentication disabled"})
}

// PostRegenerateBackupCodes replaces the backup code set
// (POST /backup-codes/regenerate)
func (h *Handle) PostRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	accountID, _ := sessions.AccountIDFromContext(r.Context())

	codes, err := h.service.RegenerateBackupCodes(r.Context(), accountID)
	if err != nil {
		writeError(w, r, "Failed to regenerate backup codes", err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, BackupCodesResponse{
		Message:     "Previous backup codes no longer work",
		BackupCodes: codes,
	})
}

// GetStatus reports enrollment and remaining backup codes
// (GET /status)
func (h *Handle) GetStatus(w http.ResponseWriter, r *http.Request) {
	accountID, _ := sessions.AccountIDFromContext(r.Context())

	status, err := h.service.Status(r.Context(), accountID)
	if err != nil {
		writeError(w, r, "Failed to read 2FA status", err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, status)
}

func writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status, message := apperrors.Public(err)
	if status >= http.StatusInternalServerError {
		slog.Error(msg, "error", err)
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: message})
}
