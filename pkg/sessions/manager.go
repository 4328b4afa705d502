package sessions

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/tendant/simple-twofa/pkg/tokengenerator"
)

const DefaultCookieName = "twofa_session"

type contextKey struct{}

// Manager issues and reads authenticated sessions. A session is an HS256 JWT
// whose subject is the account id, carried in an HttpOnly cookie.
type Manager struct {
	generator   tokengenerator.TokenGenerator
	auth        *jwtauth.JWTAuth
	cookies     tokengenerator.CookieSetter
	cookieName  string
	ttl         time.Duration
	revocations RevocationStore
}

// Option configures a Manager
type Option func(*Manager)

func WithCookieName(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.cookieName = name
		}
	}
}

func WithCookieSetter(setter tokengenerator.CookieSetter) Option {
	return func(m *Manager) { m.cookies = setter }
}

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithJWTAuth sets the verifier for incoming tokens. By default it comes from
// the generator when the generator can provide one.
func WithJWTAuth(auth *jwtauth.JWTAuth) Option {
	return func(m *Manager) { m.auth = auth }
}

// WithRevocationStore makes logout invalidate the token server-side
func WithRevocationStore(store RevocationStore) Option {
	return func(m *Manager) { m.revocations = store }
}

func NewManager(generator tokengenerator.TokenGenerator, opts ...Option) *Manager {
	m := &Manager{
		generator:   generator,
		cookies:     tokengenerator.NewCookieSetter(true, true),
		cookieName:  DefaultCookieName,
		ttl:         tokengenerator.DefaultSessionTokenExpiry,
		revocations: NewInMemoryRevocationStore(),
	}
	if provider, ok := generator.(interface{ JWTAuth() *jwtauth.JWTAuth }); ok {
		m.auth = provider.JWTAuth()
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.auth == nil {
		slog.Warn("Session manager has no token verifier, every request is anonymous")
	}
	return m
}

// CreateSession starts an authenticated session for accountID.
func (m *Manager) CreateSession(w http.ResponseWriter, accountID uuid.UUID) error {
	token, expiresAt, err := m.generator.GenerateToken(accountID.String(), m.ttl, map[string]interface{}{
		"kind": tokengenerator.SESSION_TOKEN_NAME,
	})
	if err != nil {
		return err
	}
	m.cookies.SetCookie(w, m.cookieName, token, expiresAt)
	slog.Info("Session created", "accountID", accountID, "expiresAt", expiresAt)
	return nil
}

// DestroySession clears the cookie and revokes the presented token.
func (m *Manager) DestroySession(w http.ResponseWriter, r *http.Request) error {
	m.cookies.ClearCookie(w, m.cookieName)

	token, err := m.verifyRequest(r)
	if err != nil || token.Expiration().IsZero() {
		return nil
	}
	return m.revocations.Revoke(r.Context(), token.JwtID(), token.Expiration())
}

// CurrentSession returns the account id of a valid, unrevoked session.
func (m *Manager) CurrentSession(r *http.Request) (uuid.UUID, bool) {
	if accountID, ok := AccountIDFromContext(r.Context()); ok {
		return accountID, true
	}
	token, err := m.verifyRequest(r)
	if err != nil {
		return uuid.Nil, false
	}
	return m.accountFromToken(r.Context(), token)
}

func (m *Manager) verifyRequest(r *http.Request) (jwt.Token, error) {
	if m.auth == nil {
		return nil, jwtauth.ErrNoTokenFound
	}
	return jwtauth.VerifyRequest(m.auth, r, jwtauth.TokenFromHeader, m.tokenFromCookie)
}

func (m *Manager) tokenFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// accountFromToken checks a verified token against the revocation store and
// returns its subject.
func (m *Manager) accountFromToken(ctx context.Context, token jwt.Token) (uuid.UUID, bool) {
	revoked, err := m.revocations.IsRevoked(ctx, token.JwtID())
	if err != nil {
		slog.Error("Failed to check session revocation", "error", err)
		return uuid.Nil, false
	}
	if revoked {
		return uuid.Nil, false
	}
	accountID, err := uuid.Parse(token.Subject())
	if err != nil {
		return uuid.Nil, false
	}
	return accountID, true
}

// Middleware verifies the session token with jwtauth and places the account
// id in the request context when there is a session. Anonymous requests pass
// through unchanged.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	if m.auth == nil {
		return next
	}
	attach := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _, err := jwtauth.FromContext(r.Context())
		if err != nil {
			if !errors.Is(err, jwtauth.ErrNoTokenFound) {
				slog.Debug("Ignoring invalid session token", "error", err)
			}
		} else if token != nil {
			if accountID, ok := m.accountFromToken(r.Context(), token); ok {
				r = r.WithContext(WithAccountID(r.Context(), accountID))
			}
		}
		next.ServeHTTP(w, r)
	})
	return jwtauth.Verify(m.auth, jwtauth.TokenFromHeader, m.tokenFromCookie)(attach)
}

type errorResponse struct {
	Error string `json:"error"`
}

// RequireSession rejects requests without a session in context with 401.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := AccountIDFromContext(r.Context()); !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, errorResponse{Error: "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func WithAccountID(ctx context.Context, accountID uuid.UUID) context.Context {
	return context.WithValue(ctx, contextKey{}, accountID)
}

func AccountIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(contextKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
