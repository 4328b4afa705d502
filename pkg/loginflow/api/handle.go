package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	apperrors "github.com/tendant/simple-twofa/pkg/errors"
	"github.com/tendant/simple-twofa/pkg/loginflow"
	"github.com/tendant/simple-twofa/pkg/sessions"
	"github.com/tendant/simple-twofa/pkg/tokengenerator"
)

// PENDING_LOGIN_COOKIE_NAME holds the PendingLogin id between the two login requests
const PENDING_LOGIN_COOKIE_NAME = "twofa_pending_login"

// LoginHandler returns a http.Handler with the login, verify, abort and
// logout routes.
func LoginHandler(h *Handle) http.Handler {
	r := chi.NewRouter()

	r.Post("/login", h.PostLogin)
	r.Post("/login/verify", h.PostVerify)
	r.Post("/login/abort", h.PostAbort)
	r.Post("/logout", h.PostLogout)

	return r
}

type Handle struct {
	coordinator *loginflow.Coordinator
	sessions    *sessions.Manager
	cookies     tokengenerator.CookieSetter
}

type Option func(*Handle)

// WithPendingCookieSetter replaces the setter for the pending login cookie
func WithPendingCookieSetter(setter tokengenerator.CookieSetter) Option {
	return func(h *Handle) { h.cookies = setter }
}

// NewHandle creates a new Handle
func NewHandle(coordinator *loginflow.Coordinator, sessionManager *sessions.Manager, opts ...Option) *Handle {
	h := &Handle{
		coordinator: coordinator,
		sessions:    sessionManager,
		cookies:     tokengenerator.NewCookieSetter(true, true),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// PostLogin checks email and password
// (POST /login)
func (h *Handle) PostLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Invalid request body"})
		return
	}

	result := h.coordinator.BeginLogin(r.Context(), req.Email, req.Password)
	if result.ErrorResponse != nil {
		writeError(w, r, "Login failed", result.ErrorResponse)
		return
	}

	switch result.State {
	case loginflow.StateAuthenticated:
		h.startSession(w, r, result)
	case loginflow.StatePending2FA:
		h.cookies.SetCookie(w, PENDING_LOGIN_COOKIE_NAME, result.Pending.ID.String(), result.Pending.ExpiresAt)
		expiresAt := result.Pending.ExpiresAt
		render.Status(r, http.StatusOK)
		render.JSON(w, r, LoginResponse{
			Status:         result.State.String(),
			PendingLoginID: result.Pending.ID.String(),
			ExpiresAt:      &expiresAt,
		})
	default:
		writeError(w, r, "Login ended in unexpected state", fmt.Errorf("unexpected login state %s", result.State))
	}
}

// PostVerify completes a pending login with a TOTP or backup code
// (POST /login/verify)
func (h *Handle) PostVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Invalid request body"})
		return
	}

	pendingID, ok := pendingLoginID(r, req.PendingLoginID)
	if !ok {
		writeError(w, r, "Login verify without pending login", loginflow.ErrLoginExpired)
		return
	}

	result := h.coordinator.CompleteLogin(r.Context(), pendingID, loginflow.Factor{
		Code:       req.Code,
		BackupCode: req.BackupCode,
	})
	if result.ErrorResponse != nil {
		if result.State == loginflow.StateAnonymous {
			h.cookies.ClearCookie(w, PENDING_LOGIN_COOKIE_NAME)
		}
		writeError(w, r, "Login verification failed", result.ErrorResponse)
		return
	}

	h.cookies.ClearCookie(w, PENDING_LOGIN_COOKIE_NAME)
	h.startSession(w, r, result)
}

// PostAbort discards a pending login
// (POST /login/abort)
func (h *Handle) PostAbort(w http.ResponseWriter, r *http.Request) {
	var req AbortRequest
	// an empty body is fine when the cookie is present
	_ = json.NewDecoder(r.Body).Decode(&req)

	if pendingID, ok := pendingLoginID(r, req.PendingLoginID); ok {
		if err := h.coordinator.AbortLogin(r.Context(), pendingID); err != nil {
			writeError(w, r, "Failed to abort login", err)
			return
		}
	}
	h.cookies.ClearCookie(w, PENDING_LOGIN_COOKIE_NAME)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, MessageResponse{Message: "Login aborted"})
}

// PostLogout ends the session and any pending login
// (POST /logout)
func (h *Handle) PostLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.DestroySession(w, r); err != nil {
		slog.Warn("Failed to revoke session", "error", err)
	}
	if pendingID, ok := pendingLoginID(r, ""); ok {
		if err := h.coordinator.AbortLogin(r.Context(), pendingID); err != nil {
			slog.Warn("Failed to abort pending login on logout", "error", err)
		}
	}
	h.cookies.ClearCookie(w, PENDING_LOGIN_COOKIE_NAME)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, MessageResponse{Message: "Logged out"})
}

func (h *Handle) startSession(w http.ResponseWriter, r *http.Request, result loginflow.Result) {
	if err := h.sessions.CreateSession(w, result.AccountID); err != nil {
		writeError(w, r, "Failed to create session", apperrors.InternalWrap(err, "failed to create session"))
		return
	}

	resp := LoginResponse{Status: result.State.String()}
	if result.UsedBackupCode {
		remaining := result.RemainingBackupCodes
		resp.RemainingBackupCodes = &remaining
		if result.LowBackupCodes {
			resp.Warning = fmt.Sprintf("Only %d backup codes left, generate a new set soon", remaining)
		}
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// pendingLoginID prefers the cookie over the id in the body
func pendingLoginID(r *http.Request, fromBody string) (uuid.UUID, bool) {
	raw := fromBody
	if c, err := r.Cookie(PENDING_LOGIN_COOKIE_NAME); err == nil && c.Value != "" {
		raw = c.Value
	}
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status, message := apperrors.Public(err)
	if status >= http.StatusInternalServerError {
		slog.Error(msg, "error", err)
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: message})
}
