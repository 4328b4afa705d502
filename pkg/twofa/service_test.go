package twofa

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/tendant/simple-twofa/pkg/errors"
)

type plainCredentials struct{}

func (plainCredentials) Verify(password, hashed string) (bool, error) {
	return "plain:"+password == hashed, nil
}

// failingStore simulates an unreachable database for selected calls. afterGet
// runs between a read and the write that follows it.
type failingStore struct {
	AccountStore
	failWrite bool
	failGet   bool
	afterGet  func()
}

var errStoreDown = errors.New("connection refused")

func (s *failingStore) GetByID(ctx context.Context, id uuid.UUID) (Account, error) {
	if s.failGet {
		return Account{}, errStoreDown
	}
	account, err := s.AccountStore.GetByID(ctx, id)
	if s.afterGet != nil {
		hook := s.afterGet
		s.afterGet = nil
		hook()
	}
	return account, err
}

func (s *failingStore) DisableTwoFactor(ctx context.Context, id uuid.UUID) error {
	if s.failWrite {
		return errStoreDown
	}
	return s.AccountStore.DisableTwoFactor(ctx, id)
}

type serviceFixture struct {
	store   *InMemoryAccountStore
	service *TwoFactorService
	account Account
	now     time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	store := NewInMemoryAccountStore()
	account, err := store.Create(context.Background(), Account{
		Email:          "user@example.com",
		CredentialHash: "plain:hunter2",
	})
	require.NoError(t, err)

	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	service := NewTwoFactorService(store,
		WithProvisioner(NewProvisioner(store, "ExampleCo")),
		WithVerifier(NewVerifier(WithVerifierClock(fixedClock(now)))),
		WithCredentialVerifier(plainCredentials{}),
		WithQueryTimeout(time.Second),
	)
	return &serviceFixture{store: store, service: service, account: account, now: now}
}

func (f *serviceFixture) enable(t *testing.T) (string, []string) {
	t.Helper()
	ctx := context.Background()
	info, err := f.service.BeginSetup(ctx, f.account.ID)
	require.NoError(t, err)
	code, err := GenerateCode(info.Secret, f.now)
	require.NoError(t, err)
	codes, err := f.service.ConfirmSetup(ctx, f.account.ID, code)
	require.NoError(t, err)
	return info.Secret, codes
}

func TestTwoFactorService_BeginSetupIsIdempotent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	first, err := f.service.BeginSetup(ctx, f.account.ID)
	require.NoError(t, err)
	second, err := f.service.BeginSetup(ctx, f.account.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Secret, second.Secret)
	assert.Len(t, first.Secret, 32)
	assert.True(t, strings.HasPrefix(first.ProvisioningURI, "otpauth://totp/ExampleCo:user@example.com?"))
	assert.Contains(t, first.ProvisioningURI, "issuer=ExampleCo")
	assert.Contains(t, first.ProvisioningURI, "secret="+first.Secret)
	assert.True(t, strings.HasPrefix(first.QRCode, "data:image/png;base64,"))
	assert.Empty(t, first.QRError)

	stored, err := f.store.GetByID(ctx, f.account.ID)
	require.NoError(t, err)
	assert.False(t, stored.TwoFactorEnabled)
	assert.Empty(t, stored.BackupCodes)
}

func TestTwoFactorService_ConfirmSetup(t *testing.T) {
	t.Run("wrong code leaves 2FA disabled and issues no codes", func(t *testing.T) {
		f := newServiceFixture(t)
		ctx := context.Background()
		info, err := f.service.BeginSetup(ctx, f.account.ID)
		require.NoError(t, err)

		stale, err := GenerateCode(info.Secret, f.now.Add(-5*time.Minute))
		require.NoError(t, err)
		codes, err := f.service.ConfirmSetup(ctx, f.account.ID, stale)
		assert.ErrorIs(t, err, ErrInvalidCode)
		assert.Nil(t, codes)

		stored, err := f.store.GetByID(ctx, f.account.ID)
		require.NoError(t, err)
		assert.False(t, stored.TwoFactorEnabled)
		assert.Empty(t, stored.BackupCodes)
	})

	t.Run("malformed code is a validation error", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.service.ConfirmSetup(context.Background(), f.account.ID, "12ab")
		assert.ErrorIs(t, err, ErrMalformedCode)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))
	})

	t.Run("confirm before provisioning", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.service.ConfirmSetup(context.Background(), f.account.ID, "123456")
		assert.ErrorIs(t, err, ErrNotProvisioned)
	})

	t.Run("code two steps old is accepted during setup", func(t *testing.T) {
		f := newServiceFixture(t)
		ctx := context.Background()
		info, err := f.service.BeginSetup(ctx, f.account.ID)
		require.NoError(t, err)

		code, err := GenerateCode(info.Secret, f.now.Add(-60*time.Second))
		require.NoError(t, err)
		codes, err := f.service.ConfirmSetup(ctx, f.account.ID, code)
		require.NoError(t, err)
		assert.Len(t, codes, DEFAULT_BACKUP_CODE_COUNT)

		stored, err := f.store.GetByID(ctx, f.account.ID)
		require.NoError(t, err)
		assert.True(t, stored.TwoFactorEnabled)
		assert.Len(t, stored.BackupCodes, DEFAULT_BACKUP_CODE_COUNT)
	})

	t.Run("confirm racing another confirm keeps the first code set", func(t *testing.T) {
		f := newServiceFixture(t)
		ctx := context.Background()
		info, err := f.service.BeginSetup(ctx, f.account.ID)
		require.NoError(t, err)
		code, err := GenerateCode(info.Secret, f.now)
		require.NoError(t, err)

		var winner []string
		racing := &failingStore{AccountStore: f.store}
		racing.afterGet = func() {
			first, err := f.service.ConfirmSetup(ctx, f.account.ID, code)
			require.NoError(t, err)
			winner = first
		}
		service := NewTwoFactorService(racing,
			WithVerifier(NewVerifier(WithVerifierClock(fixedClock(f.now)))),
		)

		codes, err := service.ConfirmSetup(ctx, f.account.ID, code)
		assert.ErrorIs(t, err, ErrAlreadyEnabled)
		assert.Nil(t, codes)

		stored, err := f.store.GetByID(ctx, f.account.ID)
		require.NoError(t, err)
		assert.True(t, stored.TwoFactorEnabled)
		require.Len(t, stored.BackupCodes, len(winner))
		for _, c := range winner {
			canonical, ok := CanonicalBackupCode(c)
			require.True(t, ok)
			assert.Contains(t, stored.BackupCodes, HashBackupCode(f.account.ID, canonical))
		}
	})

	t.Run("disable between check and enable is not undone", func(t *testing.T) {
		f := newServiceFixture(t)
		ctx := context.Background()
		info, err := f.service.BeginSetup(ctx, f.account.ID)
		require.NoError(t, err)
		code, err := GenerateCode(info.Secret, f.now)
		require.NoError(t, err)

		racing := &failingStore{AccountStore: f.store}
		racing.afterGet = func() {
			require.NoError(t, f.store.DisableTwoFactor(ctx, f.account.ID))
		}
		service := NewTwoFactorService(racing,
			WithVerifier(NewVerifier(WithVerifierClock(fixedClock(f.now)))),
		)

		_, err = service.ConfirmSetup(ctx, f.account.ID, code)
		assert.ErrorIs(t, err, ErrAlreadyEnabled)

		stored, err := f.store.GetByID(ctx, f.account.ID)
		require.NoError(t, err)
		assert.False(t, stored.TwoFactorEnabled)
		assert.Empty(t, stored.TOTPSecret)
		assert.Empty(t, stored.BackupCodes)
	})

	t.Run("second confirm is rejected", func(t *testing.T) {
		f := newServiceFixture(t)
		f.enable(t)
		_, err := f.service.ConfirmSetup(context.Background(), f.account.ID, "123456")
		assert.ErrorIs(t, err, ErrAlreadyEnabled)

		_, err = f.service.BeginSetup(context.Background(), f.account.ID)
		assert.ErrorIs(t, err, ErrAlreadyEnabled)
	})
}

func TestTwoFactorService_Disable(t *testing.T) {
	t.Run("clears secret, flag and codes together", func(t *testing.T) {
		f := newServiceFixture(t)
		f.enable(t)
		ctx := context.Background()

		require.NoError(t, f.service.Disable(ctx, f.account.ID, "hunter2"))

		stored, err := f.store.GetByID(ctx, f.account.ID)
		require.NoError(t, err)
		assert.False(t, stored.TwoFactorEnabled)
		assert.Empty(t, stored.TOTPSecret)
		assert.Empty(t, stored.BackupCodes)
	})

	t.Run("wrong credential changes nothing", func(t *testing.T) {
		f := newServiceFixture(t)
		secret, _ := f.enable(t)
		ctx := context.Background()

		err := f.service.Disable(ctx, f.account.ID, "wrong")
		assert.ErrorIs(t, err, ErrInvalidCredential)

		stored, err := f.store.GetByID(ctx, f.account.ID)
		require.NoError(t, err)
		assert.True(t, stored.TwoFactorEnabled)
		assert.Equal(t, secret, stored.TOTPSecret)
		assert.Len(t, stored.BackupCodes, DEFAULT_BACKUP_CODE_COUNT)
	})

	t.Run("missing credential", func(t *testing.T) {
		f := newServiceFixture(t)
		f.enable(t)
		assert.ErrorIs(t, f.service.Disable(context.Background(), f.account.ID, " "), ErrMissingCredential)
	})

	t.Run("failed write leaves the account enabled", func(t *testing.T) {
		f := newServiceFixture(t)
		f.enable(t)
		failing := &failingStore{AccountStore: f.store, failWrite: true}
		service := NewTwoFactorService(failing, WithCredentialVerifier(plainCredentials{}))

		err := service.Disable(context.Background(), f.account.ID, "hunter2")
		require.Error(t, err)
		assert.True(t, apperrors.IsRetryable(err))

		stored, err := f.store.GetByID(context.Background(), f.account.ID)
		require.NoError(t, err)
		assert.True(t, stored.TwoFactorEnabled)
		assert.NotEmpty(t, stored.TOTPSecret)
		assert.NotEmpty(t, stored.BackupCodes)
	})

	t.Run("not enabled", func(t *testing.T) {
		f := newServiceFixture(t)
		assert.ErrorIs(t, f.service.Disable(context.Background(), f.account.ID, "hunter2"), ErrNotEnabled)
	})
}

func TestTwoFactorService_RegenerateBackupCodes(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.service.RegenerateBackupCodes(ctx, f.account.ID)
	assert.ErrorIs(t, err, ErrNotEnabled)

	_, original := f.enable(t)
	fresh, err := f.service.RegenerateBackupCodes(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Len(t, fresh, DEFAULT_BACKUP_CODE_COUNT)

	vault := NewBackupCodeVault(f.store)
	ok, err := vault.Consume(ctx, f.account.ID, original[0])
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = vault.Consume(ctx, f.account.ID, fresh[0])
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTwoFactorService_Status(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	status, err := f.service.Status(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, Status{}, status)

	_, codes := f.enable(t)
	vault := NewBackupCodeVault(f.store)
	for _, c := range codes[:8] {
		ok, err := vault.Consume(ctx, f.account.ID, c)
		require.NoError(t, err)
		require.True(t, ok)
	}

	status, err = f.service.Status(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Equal(t, Status{Enabled: true, BackupCodesRemaining: 2, LowBackupCodes: true}, status)

	enabled, err := f.service.IsEnabled(ctx, f.account.ID)
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestTwoFactorService_StorageFailureIsRetryable(t *testing.T) {
	store := &failingStore{AccountStore: NewInMemoryAccountStore(), failGet: true}
	service := NewTwoFactorService(store)

	_, err := service.BeginSetup(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, 503, apperrors.MapErrorCodeToHTTPStatus(apperrors.GetCode(err)))
}

func TestTwoFactorService_UnknownAccount(t *testing.T) {
	service := NewTwoFactorService(NewInMemoryAccountStore())
	_, err := service.Status(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrAccountNotFound)
}
