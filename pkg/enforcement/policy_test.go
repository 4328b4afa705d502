package enforcement

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-twofa/pkg/sessions"
	"github.com/tendant/simple-twofa/pkg/twofa"
)

type countingChecker struct {
	mu      sync.Mutex
	enabled map[uuid.UUID]bool
	calls   int
	err     error
}

func (c *countingChecker) IsEnabled(ctx context.Context, accountID uuid.UUID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return false, c.err
	}
	return c.enabled[accountID], nil
}

func TestPolicy_Allowed(t *testing.T) {
	p := NewPolicy(&countingChecker{})

	tests := []struct {
		path    string
		allowed bool
	}{
		{"/login", true},
		{"/login/verify", true},
		{"/logout", true},
		{"/2fa/setup", true},
		{"/2fa/setup/", true},
		{"/2fa/verify", true},
		{"/2fa/disable", true},
		{"/2fa/reset", true},
		{"/2fa/reset/confirm", true},
		{"/settings", true},
		{"/settings/profile", true},
		{"/static/app.css", true},
		{"/static", true},
		{"/healthz", true},
		{"/", false},
		{"/dashboard", false},
		{"/loginx", false},
		{"/2fa/status", false},
		{"/2fa/backup-codes/regenerate", false},
		{"/staticfiles/x", false},
		{"/static/../dashboard", false},
		{"/settings/../../admin", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.allowed, p.Allowed(tt.path))
		})
	}
}

func TestPolicy_CustomAllowListKeepsSetupPath(t *testing.T) {
	p := NewPolicy(&countingChecker{}, WithAllowPaths("/public/"), WithSetupPath("/account/2fa"))
	assert.True(t, p.Allowed("/account/2fa"))
	assert.True(t, p.Allowed("/public/index.html"))
	assert.False(t, p.Allowed("/login"))
	assert.Equal(t, "/account/2fa", p.SetupPath())
}

func TestPolicy_CheckReadsStoreEveryRequest(t *testing.T) {
	accountID := uuid.New()
	checker := &countingChecker{enabled: map[uuid.UUID]bool{}}
	p := NewPolicy(checker)
	ctx := context.Background()

	d, err := p.Check(ctx, accountID, "/dashboard")
	require.NoError(t, err)
	assert.Equal(t, RequireSetup, d)

	// allow-listed paths never hit the store
	d, err = p.Check(ctx, accountID, "/2fa/setup")
	require.NoError(t, err)
	assert.Equal(t, Allow, d)
	assert.Equal(t, 1, checker.calls)

	checker.mu.Lock()
	checker.enabled[accountID] = true
	checker.mu.Unlock()

	d, err = p.Check(ctx, accountID, "/dashboard")
	require.NoError(t, err)
	assert.Equal(t, Allow, d)
	d, err = p.Check(ctx, accountID, "/dashboard")
	require.NoError(t, err)
	assert.Equal(t, Allow, d)
	assert.Equal(t, 3, checker.calls)
}

func newProtectedHandler(p *Policy, accountID uuid.UUID) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	inner := p.Middleware(ok)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accountID != uuid.Nil {
			r = r.WithContext(sessions.WithAccountID(r.Context(), accountID))
		}
		inner.ServeHTTP(w, r)
	})
}

func TestMiddleware(t *testing.T) {
	accountID := uuid.New()
	checker := &countingChecker{enabled: map[uuid.UUID]bool{}}
	p := NewPolicy(checker)

	t.Run("anonymous passes through", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newProtectedHandler(p, uuid.Nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("browser is redirected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newProtectedHandler(p, accountID).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, DefaultSetupPath, rec.Header().Get("Location"))
	})

	t.Run("json client gets 403", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		req.Header.Set("Accept", "application/json")
		rec := httptest.NewRecorder()
		newProtectedHandler(p, accountID).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		var body setupRequiredResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, DefaultSetupPath, body.SetupURL)
	})

	t.Run("setup is reachable", func(t *testing.T) {
		for _, path := range []string{"/2fa/setup", "/logout", "/static/app.js"} {
			rec := httptest.NewRecorder()
			newProtectedHandler(p, accountID).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code, path)
		}
	})

	t.Run("store failure is 503", func(t *testing.T) {
		failing := NewPolicy(&countingChecker{err: errors.New("db down")})
		rec := httptest.NewRecorder()
		newProtectedHandler(failing, accountID).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.NotContains(t, rec.Body.String(), "db down")
	})
}

// Completing setup must take effect on the very next request.
func TestMiddleware_SetupTakesEffectImmediately(t *testing.T) {
	ctx := context.Background()
	store := twofa.NewInMemoryAccountStore()
	account, err := store.Create(ctx, twofa.Account{Email: "user@example.com"})
	require.NoError(t, err)
	service := twofa.NewTwoFactorService(store)
	handler := newProtectedHandler(NewPolicy(service), account.ID)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	require.Equal(t, http.StatusSeeOther, rec.Code)

	info, err := service.BeginSetup(ctx, account.ID)
	require.NoError(t, err)
	code, err := twofa.GenerateCode(info.Secret, time.Now())
	require.NoError(t, err)
	_, err = service.ConfirmSetup(ctx, account.ID, code)
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
