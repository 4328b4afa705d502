package enforcement

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/tendant/simple-twofa/pkg/sessions"
)

type setupRequiredResponse struct {
	Error    string `json:"error"`
	SetupURL string `json:"setup_url"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Middleware applies the policy to requests carrying a session. It must run
// after sessions.Manager.Middleware. Anonymous requests pass through.
func (p *Policy) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := sessions.AccountIDFromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		decision, err := p.Check(r.Context(), accountID, r.URL.Path)
		if err != nil {
			slog.Error("Enforcement check failed", "accountID", accountID, "error", err)
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, errorResponse{Error: "service temporarily unavailable, please retry"})
			return
		}

		if decision == RequireSetup {
			slog.Debug("Redirecting to 2FA setup", "accountID", accountID, "path", r.URL.Path)
			if render.GetAcceptedContentType(r) == render.ContentTypeJSON {
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, setupRequiredResponse{
					Error:    "two-factor authentication setup required",
					SetupURL: p.setupPath,
				})
				return
			}
			http.Redirect(w, r, p.setupPath, http.StatusSeeOther)
			return
		}

		next.ServeHTTP(w, r)
	})
}
