package twofa

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
)

var copyOption = copier.Option{
	DeepCopy: true,
	Converters: []copier.TypeConverter{
		{
			SrcType: time.Time{},
			DstType: time.Time{},
			Fn: func(src interface{}) (interface{}, error) {
				return src.(time.Time), nil
			},
		},
	},
}

// cloneAccount returns a copy that shares no slices with a.
func cloneAccount(a Account) Account {
	var out Account
	if err := copier.CopyWithOption(&out, &a, copyOption); err != nil {
		slog.Error("Failed to copy account", "accountID", a.ID, "error", err)
		out = a
		out.BackupCodes = append([]string{}, a.BackupCodes...)
	}
	return out
}

// InMemoryAccountStore implements AccountStore in process memory
type InMemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]Account
}

// NewInMemoryAccountStore creates an empty in-memory account store
func NewInMemoryAccountStore() *InMemoryAccountStore {
	return &InMemoryAccountStore{
		accounts: make(map[uuid.UUID]Account),
	}
}

func (r *InMemoryAccountStore) GetByID(ctx context.Context, id uuid.UUID) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

func (r *InMemoryAccountStore) GetByEmail(ctx context.Context, email string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, account := range r.accounts {
		if strings.EqualFold(account.Email, email) {
			return cloneAccount(account), nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (r *InMemoryAccountStore) GetByResetCode(ctx context.Context, code string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if code == "" {
		return Account{}, ErrAccountNotFound
	}
	for _, account := range r.accounts {
		if account.ResetCode == code {
			return cloneAccount(account), nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (r *InMemoryAccountStore) Create(ctx context.Context, account Account) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.accounts {
		if strings.EqualFold(existing.Email, account.Email) {
			return Account{}, ErrAccountExists
		}
	}

	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	account.BackupCodes = nonNil(account.BackupCodes)

	r.accounts[account.ID] = cloneAccount(account)
	return account, nil
}

func (r *InMemoryAccountStore) Save(ctx context.Context, account Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous, ok := r.accounts[account.ID]
	if !ok {
		return ErrAccountNotFound
	}
	if collides(r.accounts, account) {
		return ErrDuplicateValue
	}

	account.CreatedAt = previous.CreatedAt
	account.UpdatedAt = time.Now().UTC()
	account.BackupCodes = nonNil(account.BackupCodes)
	r.accounts[account.ID] = cloneAccount(account)
	return nil
}

func (r *InMemoryAccountStore) ReplaceBackupCodes(ctx context.Context, id uuid.UUID, hashes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.BackupCodes = append([]string{}, hashes...)
	account.UpdatedAt = time.Now().UTC()
	r.accounts[id] = account
	return nil
}

func (r *InMemoryAccountStore) ConsumeBackupCode(ctx context.Context, id uuid.UUID, hash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok {
		return false, nil
	}
	remaining, found := removeCode(account.BackupCodes, hash)
	if !found {
		return false, nil
	}
	account.BackupCodes = remaining
	account.UpdatedAt = time.Now().UTC()
	r.accounts[id] = account
	return true, nil
}

func (r *InMemoryAccountStore) ConsumeResetCode(ctx context.Context, code string, now time.Time) (uuid.UUID, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if code == "" {
		return uuid.Nil, false, nil
	}
	for id, account := range r.accounts {
		if account.ResetCode != code || !now.Before(account.ResetCodeExpiry) {
			continue
		}
		account.ClearTwoFactor()
		account.UpdatedAt = time.Now().UTC()
		r.accounts[id] = account
		return id, true, nil
	}
	return uuid.Nil, false, nil
}

func (r *InMemoryAccountStore) SetSecretIfAbsent(ctx context.Context, id uuid.UUID, secret string) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	if !account.HasSecret() {
		account.TOTPSecret = secret
		account.UpdatedAt = time.Now().UTC()
		r.accounts[id] = account
	}
	return cloneAccount(account), nil
}

func (r *InMemoryAccountStore) EnableTwoFactor(ctx context.Context, id uuid.UUID, secret string, hashes []string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok || account.TwoFactorEnabled || secret == "" || account.TOTPSecret != secret {
		return false, nil
	}
	account.TwoFactorEnabled = true
	account.BackupCodes = append([]string{}, hashes...)
	account.UpdatedAt = time.Now().UTC()
	r.accounts[id] = account
	return true, nil
}

func (r *InMemoryAccountStore) DisableTwoFactor(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	account.ClearTwoFactor()
	account.UpdatedAt = time.Now().UTC()
	r.accounts[id] = account
	return nil
}

func (r *InMemoryAccountStore) SetResetCode(ctx context.Context, id uuid.UUID, code string, expiry time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok || !account.TwoFactorEnabled {
		return false, nil
	}
	if resetCodeTaken(r.accounts, id, code) {
		return false, ErrDuplicateValue
	}
	account.ResetCode = code
	account.ResetCodeExpiry = expiry
	account.UpdatedAt = time.Now().UTC()
	r.accounts[id] = account
	return true, nil
}
