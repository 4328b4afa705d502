package loginflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/tendant/simple-twofa/pkg/errors"
	"github.com/tendant/simple-twofa/pkg/login"
	"github.com/tendant/simple-twofa/pkg/twofa"
	"golang.org/x/crypto/bcrypt"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	clock       *testClock
	store       twofa.AccountStore
	twoFactor   *twofa.TwoFactorService
	pending     *InMemoryPendingLoginStore
	coordinator *Coordinator
}

func newFixture(t *testing.T, usedCodes UsedCodeCache) *fixture {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := twofa.NewInMemoryAccountStore()
	loginService := login.NewLoginService(store, login.WithPasswordHasher(login.NewBcryptHasherWithCost(bcrypt.MinCost)))
	verifier := twofa.NewVerifier(twofa.WithVerifierClock(clock.Now))
	vault := twofa.NewBackupCodeVault(store)

	pending := NewInMemoryPendingLoginStore()
	pending.now = clock.Now

	coordinator, err := NewCoordinator(ServiceDependencies{
		Authenticator: loginService,
		Accounts:      store,
		Verifier:      verifier,
		Vault:         vault,
		Pending:       pending,
		UsedCodes:     usedCodes,
	}, WithClock(clock.Now))
	require.NoError(t, err)

	return &fixture{
		clock: clock,
		store: store,
		twoFactor: twofa.NewTwoFactorService(store,
			twofa.WithVerifier(verifier),
			twofa.WithVault(vault),
			twofa.WithCredentialVerifier(loginService.Hasher()),
		),
		pending:     pending,
		coordinator: coordinator,
	}
}

func (f *fixture) createAccount(t *testing.T, email string) twofa.Account {
	t.Helper()
	loginService := login.NewLoginService(f.store, login.WithPasswordHasher(login.NewBcryptHasherWithCost(bcrypt.MinCost)))
	account, err := loginService.CreateAccount(context.Background(), email, "correct horse")
	require.NoError(t, err)
	return account
}

// enroll turns on 2FA and returns the secret and the backup codes
func (f *fixture) enroll(t *testing.T, account twofa.Account) (string, []string) {
	t.Helper()
	ctx := context.Background()
	info, err := f.twoFactor.BeginSetup(ctx, account.ID)
	require.NoError(t, err)
	codes, err := f.twoFactor.ConfirmSetup(ctx, account.ID, f.code(t, info.Secret))
	require.NoError(t, err)
	return info.Secret, codes
}

func (f *fixture) code(t *testing.T, secret string) string {
	t.Helper()
	code, err := twofa.GenerateCode(secret, f.clock.Now())
	require.NoError(t, err)
	return code
}

func TestBeginLogin_WithoutTwoFactor(t *testing.T) {
	f := newFixture(t, nil)
	account := f.createAccount(t, "plain@example.com")

	result := f.coordinator.BeginLogin(context.Background(), "plain@example.com", "correct horse")
	require.Nil(t, result.ErrorResponse)
	assert.Equal(t, StateAuthenticated, result.State)
	assert.Equal(t, account.ID, result.AccountID)
	assert.Nil(t, result.Pending)
}

func TestBeginLogin_InvalidCredentials(t *testing.T) {
	f := newFixture(t, nil)
	f.createAccount(t, "user@example.com")

	for _, password := range []string{"wrong", ""} {
		result := f.coordinator.BeginLogin(context.Background(), "user@example.com", password)
		require.NotNil(t, result.ErrorResponse)
		assert.Equal(t, StateAnonymous, result.State)
		assert.Equal(t, ErrorTypeInvalidCredentials, result.ErrorResponse.Type)
		assert.Equal(t, uuid.Nil, result.AccountID)
	}
}

func TestLogin_TOTPScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	account := f.createAccount(t, "user@example.com")
	secret, _ := f.enroll(t, account)

	result := f.coordinator.BeginLogin(ctx, "user@example.com", "correct horse")
	require.Nil(t, result.ErrorResponse)
	require.Equal(t, StatePending2FA, result.State)
	require.NotNil(t, result.Pending)
	assert.Equal(t, uuid.Nil, result.AccountID, "no account id before the second factor")
	assert.Equal(t, f.clock.Now().Add(DefaultPendingLoginTTL), result.Pending.ExpiresAt)
	pendingID := result.Pending.ID

	// wrong code keeps the login pending
	good := f.code(t, secret)
	wrong := "000000"
	if good == wrong {
		wrong = "111111"
	}
	result = f.coordinator.CompleteLogin(ctx, pendingID, Factor{Code: wrong})
	require.NotNil(t, result.ErrorResponse)
	assert.Equal(t, StatePending2FA, result.State)
	assert.Equal(t, ErrorTypeInvalidCode, result.ErrorResponse.Type)
	assert.True(t, errors.Is(result.ErrorResponse, twofa.ErrInvalidCode))

	f.clock.Advance(20 * time.Second)
	result = f.coordinator.CompleteLogin(ctx, pendingID, Factor{Code: f.code(t, secret)})
	require.Nil(t, result.ErrorResponse)
	assert.Equal(t, StateAuthenticated, result.State)
	assert.Equal(t, account.ID, result.AccountID)
	assert.False(t, result.UsedBackupCode)

	// the pending login is single use
	result = f.coordinator.CompleteLogin(ctx, pendingID, Factor{Code: f.code(t, secret)})
	require.NotNil(t, result.ErrorResponse)
	assert.Equal(t, StateAnonymous, result.State)
	assert.Equal(t, ErrorTypeExpired, result.ErrorResponse.Type)
}

func TestCompleteLogin_PendingLoginExpires(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	account := f.createAccount(t, "user@example.com")
	secret, _ := f.enroll(t, account)

	result := f.coordinator.BeginLogin(ctx, "user@example.com", "correct horse")
	require.Equal(t, StatePending2FA, result.State)

	f.clock.Advance(DefaultPendingLoginTTL)
	result = f.coordinator.CompleteLogin(ctx, result.Pending.ID, Factor{Code: f.code(t, secret)})
	require.NotNil(t, result.ErrorResponse)
	assert.Equal(t, StateAnonymous, result.State)
	assert.Equal(t, ErrorTypeExpired, result.ErrorResponse.Type)
	assert.True(t, apperrors.IsCode(result.ErrorResponse, apperrors.ErrCodeExpiredState))
}

func TestCompleteLogin_FactorShape(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	account := f.createAccount(t, "user@example.com")
	secret, backupCodes := f.enroll(t, account)

	begin := f.coordinator.BeginLogin(ctx, "user@example.com", "correct horse")
	require.Equal(t, StatePending2FA, begin.State)

	tests := []struct {
		name   string
		factor Factor
	}{
		{"neither", Factor{}},
		{"both", Factor{Code: f.code(t, secret), BackupCode: backupCodes[0]}},
		{"letters in code", Factor{Code: "12ab56"}},
		{"short code", Factor{Code: "12345"}},
		{"short backup code", Factor{BackupCode: "ABC"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := f.coordinator.CompleteLogin(ctx, begin.Pending.ID, tt.factor)
			require.NotNil(t, result.ErrorResponse)
			assert.Equal(t, StatePending2FA, result.State)
			assert.Equal(t, ErrorTypeValidation, result.ErrorResponse.Type)
		})
	}

	// still completable afterwards
	result := f.coordinator.CompleteLogin(ctx, begin.Pending.ID, Factor{Code: f.code(t, secret)})
	assert.Equal(t, StateAuthenticated, result.State)
}

func TestCompleteLogin_BackupCodes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	account := f.createAccount(t, "user@example.com")
	_, backupCodes := f.enroll(t, account)
	require.Len(t, backupCodes, twofa.DEFAULT_BACKUP_CODE_COUNT)

	loginWith := func(backupCode string) Result {
		begin := f.coordinator.BeginLogin(ctx, "user@example.com", "correct horse")
		require.Equal(t, StatePending2FA, begin.State)
		return f.coordinator.CompleteLogin(ctx, begin.Pending.ID, Factor{BackupCode: backupCode})
	}

	result := loginWith(backupCodes[0])
	require.Nil(t, result.ErrorResponse)
	assert.Equal(t, StateAuthenticated, result.State)
	assert.True(t, result.UsedBackupCode)
	assert.Equal(t, 9, result.RemainingBackupCodes)
	assert.False(t, result.LowBackupCodes)

	// used codes are gone, and the login stays pending for a retry
	begin := f.coordinator.BeginLogin(ctx, "user@example.com", "correct horse")
	result = f.coordinator.CompleteLogin(ctx, begin.Pending.ID, Factor{BackupCode: backupCodes[0]})
	require.NotNil(t, result.ErrorResponse)
	assert.Equal(t, StatePending2FA, result.State)
	assert.Equal(t, ErrorTypeInvalidCode, result.ErrorResponse.Type)
	_, err := f.pending.Get(ctx, begin.Pending.ID)
	require.NoError(t, err)

	for i := 1; i <= 7; i++ {
		result = loginWith(backupCodes[i])
		require.Nil(t, result.ErrorResponse)
	}
	assert.Equal(t, 2, result.RemainingBackupCodes)
	assert.True(t, result.LowBackupCodes)
}

func TestCompleteLogin_TwoFactorDisabledWhilePending(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	account := f.createAccount(t, "user@example.com")
	secret, _ := f.enroll(t, account)

	begin := f.coordinator.BeginLogin(ctx, "user@example.com", "correct horse")
	require.Equal(t, StatePending2FA, begin.State)

	require.NoError(t, f.twoFactor.Disable(ctx, account.ID, "correct horse"))

	result := f.coordinator.CompleteLogin(ctx, begin.Pending.ID, Factor{Code: f.code(t, secret)})
	require.NotNil(t, result.ErrorResponse)
	assert.Equal(t, StateAnonymous, result.State)
	assert.Equal(t, ErrorTypeExpired, result.ErrorResponse.Type)

	_, err := f.pending.Get(ctx, begin.Pending.ID)
	assert.ErrorIs(t, err, ErrPendingLoginNotFound)
}

func TestAbortLogin(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	account := f.createAccount(t, "user@example.com")
	secret, _ := f.enroll(t, account)

	begin := f.coordinator.BeginLogin(ctx, "user@example.com", "correct horse")
	require.Equal(t, StatePending2FA, begin.State)

	require.NoError(t, f.coordinator.AbortLogin(ctx, begin.Pending.ID))
	require.NoError(t, f.coordinator.AbortLogin(ctx, uuid.New()))

	result := f.coordinator.CompleteLogin(ctx, begin.Pending.ID, Factor{Code: f.code(t, secret)})
	assert.Equal(t, StateAnonymous, result.State)
	require.NotNil(t, result.ErrorResponse)
	assert.Equal(t, ErrorTypeExpired, result.ErrorResponse.Type)
}

func TestCompleteLogin_RejectsReplayedCode(t *testing.T) {
	f := newFixture(t, NewInMemoryUsedCodeCache())
	ctx := context.Background()
	account := f.createAccount(t, "user@example.com")
	secret, _ := f.enroll(t, account)

	// enrollment used the current step, so move to a fresh one
	f.clock.Advance(2 * twofa.TOTP_PERIOD * time.Second)
	code := f.code(t, secret)

	first := f.coordinator.BeginLogin(ctx, "user@example.com", "correct horse")
	result := f.coordinator.CompleteLogin(ctx, first.Pending.ID, Factor{Code: code})
	require.Nil(t, result.ErrorResponse)
	assert.Equal(t, StateAuthenticated, result.State)

	second := f.coordinator.BeginLogin(ctx, "user@example.com", "correct horse")
	result = f.coordinator.CompleteLogin(ctx, second.Pending.ID, Factor{Code: code})
	require.NotNil(t, result.ErrorResponse)
	assert.Equal(t, StatePending2FA, result.State)
	assert.Equal(t, ErrorTypeInvalidCode, result.ErrorResponse.Type)

	f.clock.Advance(twofa.TOTP_PERIOD * time.Second)
	result = f.coordinator.CompleteLogin(ctx, second.Pending.ID, Factor{Code: f.code(t, secret)})
	assert.Equal(t, StateAuthenticated, result.State)
}

func TestCompleteLogin_ConcurrentCompletionsAuthenticateOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	account := f.createAccount(t, "user@example.com")
	secret, _ := f.enroll(t, account)

	begin := f.coordinator.BeginLogin(ctx, "user@example.com", "correct horse")
	require.Equal(t, StatePending2FA, begin.State)
	code := f.code(t, secret)

	const workers = 8
	results := make([]Result, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.coordinator.CompleteLogin(ctx, begin.Pending.ID, Factor{Code: code})
		}(i)
	}
	wg.Wait()

	authenticated := 0
	for _, r := range results {
		if r.Authenticated() {
			authenticated++
		}
	}
	assert.Equal(t, 1, authenticated)
}

// consumeHook runs onConsume before every backup code consumption
type consumeHook struct {
	twofa.AccountStore
	onConsume func()
}

func (s *consumeHook) ConsumeBackupCode(ctx context.Context, id uuid.UUID, hash string) (bool, error) {
	if hook := s.onConsume; hook != nil {
		s.onConsume = nil
		hook()
	}
	return s.AccountStore.ConsumeBackupCode(ctx, id, hash)
}

func TestCompleteLogin_ConcurrentBackupCodesSpendOne(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	account := f.createAccount(t, "user@example.com")
	_, backupCodes := f.enroll(t, account)

	accounts := &consumeHook{AccountStore: f.store}
	coordinator, err := NewCoordinator(ServiceDependencies{
		Authenticator: login.NewLoginService(f.store, login.WithPasswordHasher(login.NewBcryptHasherWithCost(bcrypt.MinCost))),
		Accounts:      accounts,
		Verifier:      twofa.NewVerifier(twofa.WithVerifierClock(f.clock.Now)),
		Vault:         twofa.NewBackupCodeVault(accounts),
		Pending:       f.pending,
	}, WithClock(f.clock.Now))
	require.NoError(t, err)

	begin := coordinator.BeginLogin(ctx, "user@example.com", "correct horse")
	require.Equal(t, StatePending2FA, begin.State)

	var second Result
	accounts.onConsume = func() {
		second = coordinator.CompleteLogin(ctx, begin.Pending.ID, Factor{BackupCode: backupCodes[1]})
	}
	first := coordinator.CompleteLogin(ctx, begin.Pending.ID, Factor{BackupCode: backupCodes[0]})

	require.Nil(t, first.ErrorResponse)
	assert.Equal(t, StateAuthenticated, first.State)
	require.NotNil(t, second.ErrorResponse)
	assert.Equal(t, ErrorTypeExpired, second.ErrorResponse.Type)
	assert.Equal(t, StateAnonymous, second.State)

	stored, err := f.store.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Len(t, stored.BackupCodes, twofa.DEFAULT_BACKUP_CODE_COUNT-1)

	// the code the losing request carried is still usable
	again := coordinator.BeginLogin(ctx, "user@example.com", "correct horse")
	result := coordinator.CompleteLogin(ctx, again.Pending.ID, Factor{BackupCode: backupCodes[1]})
	require.Nil(t, result.ErrorResponse)
	assert.Equal(t, StateAuthenticated, result.State)
}

type failingPendingStore struct {
	InMemoryPendingLoginStore
}

func (s *failingPendingStore) Save(ctx context.Context, p PendingLogin) error {
	return errors.New("connection refused")
}

func TestBeginLogin_StorageFailure(t *testing.T) {
	f := newFixture(t, nil)
	account := f.createAccount(t, "user@example.com")
	f.enroll(t, account)

	f.coordinator.services.Pending = &failingPendingStore{}
	result := f.coordinator.BeginLogin(context.Background(), "user@example.com", "correct horse")
	require.NotNil(t, result.ErrorResponse)
	assert.Equal(t, StateAnonymous, result.State)
	assert.Equal(t, ErrorTypeStorage, result.ErrorResponse.Type)
	assert.Equal(t, "service temporarily unavailable, please retry", result.ErrorResponse.Message)
	assert.NotContains(t, result.ErrorResponse.Message, "connection refused")
}

func TestNewCoordinator_RequiresCollaborators(t *testing.T) {
	_, err := NewCoordinator(ServiceDependencies{})
	assert.Error(t, err)

	c, err := NewCoordinator(ServiceDependencies{
		Authenticator: login.NewLoginService(twofa.NewInMemoryAccountStore()),
		Accounts:      twofa.NewInMemoryAccountStore(),
		Pending:       NewInMemoryPendingLoginStore(),
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultPendingLoginTTL, c.PendingLoginTTL())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "anonymous", StateAnonymous.String())
	assert.Equal(t, "pending_2fa", StatePending2FA.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
}

// deadlineAccounts records the deadline of every GetByID made during a flow.
type deadlineAccounts struct {
	twofa.AccountStore
	mu        sync.Mutex
	deadlines []time.Time
}

func (s *deadlineAccounts) GetByID(ctx context.Context, id uuid.UUID) (twofa.Account, error) {
	deadline, _ := ctx.Deadline()
	s.mu.Lock()
	s.deadlines = append(s.deadlines, deadline)
	s.mu.Unlock()
	return s.AccountStore.GetByID(ctx, id)
}

func TestCoordinator_QueryTimeout(t *testing.T) {
	f := newFixture(t, nil)
	account := f.createAccount(t, "user@example.com")
	secret, _ := f.enroll(t, account)

	accounts := &deadlineAccounts{AccountStore: f.store}
	coordinator, err := NewCoordinator(ServiceDependencies{
		Authenticator: login.NewLoginService(f.store, login.WithPasswordHasher(login.NewBcryptHasherWithCost(bcrypt.MinCost))),
		Accounts:      accounts,
		Verifier:      twofa.NewVerifier(twofa.WithVerifierClock(f.clock.Now)),
		Vault:         twofa.NewBackupCodeVault(f.store),
		Pending:       f.pending,
	}, WithClock(f.clock.Now), WithQueryTimeout(3*time.Second))
	require.NoError(t, err)

	ctx := context.Background()
	started := coordinator.BeginLogin(ctx, "user@example.com", "correct horse")
	require.Nil(t, started.ErrorResponse)
	require.NotNil(t, started.Pending)

	before := time.Now()
	done := coordinator.CompleteLogin(ctx, started.Pending.ID, Factor{Code: f.code(t, secret)})
	require.Nil(t, done.ErrorResponse)
	assert.Equal(t, StateAuthenticated, done.State)

	accounts.mu.Lock()
	defer accounts.mu.Unlock()
	require.NotEmpty(t, accounts.deadlines)
	for _, deadline := range accounts.deadlines {
		assert.WithinDuration(t, before.Add(3*time.Second), deadline, time.Second)
	}
}
