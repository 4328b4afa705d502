package twofa

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileAccountStore implements AccountStore using a JSON file
type FileAccountStore struct {
	dataDir  string
	accounts map[uuid.UUID]Account
	mutex    sync.RWMutex
}

// NewFileAccountStore creates a new file-based account store
func NewFileAccountStore(dataDir string) (*FileAccountStore, error) {
	// Create data directory if it doesn't exist
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo := &FileAccountStore{
		dataDir:  dataDir,
		accounts: make(map[uuid.UUID]Account),
	}

	if err := repo.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	return repo, nil
}

// GetByID retrieves an account by id
func (r *FileAccountStore) GetByID(ctx context.Context, id uuid.UUID) (Account, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	account, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

// GetByEmail retrieves an account by email, case-insensitively
func (r *FileAccountStore) GetByEmail(ctx context.Context, email string) (Account, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, account := range r.accounts {
		if strings.EqualFold(account.Email, email) {
			return cloneAccount(account), nil
		}
	}
	return Account{}, ErrAccountNotFound
}

// GetByResetCode retrieves the account holding the given reset code
func (r *FileAccountStore) GetByResetCode(ctx context.Context, code string) (Account, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

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

// Create inserts a new account
func (r *FileAccountStore) Create(ctx context.Context, account Account) (Account, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

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

	if err := r.save(); err != nil {
		// Rollback
		delete(r.accounts, account.ID)
		return Account{}, fmt.Errorf("failed to save: %w", err)
	}

	return account, nil
}

// Save writes every mutable field of the account
func (r *FileAccountStore) Save(ctx context.Context, account Account) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

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

	if err := r.save(); err != nil {
		r.accounts[account.ID] = previous
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

// ReplaceBackupCodes overwrites the stored backup code digests
func (r *FileAccountStore) ReplaceBackupCodes(ctx context.Context, id uuid.UUID, hashes []string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	previous, ok := r.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}

	updated := cloneAccount(previous)
	updated.BackupCodes = append([]string{}, hashes...)
	updated.UpdatedAt = time.Now().UTC()
	r.accounts[id] = updated

	if err := r.save(); err != nil {
		r.accounts[id] = previous
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

// ConsumeBackupCode removes hash from the account's set if present
func (r *FileAccountStore) ConsumeBackupCode(ctx context.Context, id uuid.UUID, hash string) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	previous, ok := r.accounts[id]
	if !ok {
		return false, nil
	}

	remaining, found := removeCode(previous.BackupCodes, hash)
	if !found {
		return false, nil
	}

	updated := cloneAccount(previous)
	updated.BackupCodes = remaining
	updated.UpdatedAt = time.Now().UTC()
	r.accounts[id] = updated

	if err := r.save(); err != nil {
		r.accounts[id] = previous
		return false, fmt.Errorf("failed to save: %w", err)
	}
	return true, nil
}

// ConsumeResetCode clears all 2FA state of the account holding an unexpired code
func (r *FileAccountStore) ConsumeResetCode(ctx context.Context, code string, now time.Time) (uuid.UUID, bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if code == "" {
		return uuid.Nil, false, nil
	}

	for id, previous := range r.accounts {
		if previous.ResetCode != code || !now.Before(previous.ResetCodeExpiry) {
			continue
		}

		updated := cloneAccount(previous)
		updated.ClearTwoFactor()
		updated.UpdatedAt = time.Now().UTC()
		r.accounts[id] = updated

		if err := r.save(); err != nil {
			r.accounts[id] = previous
			return uuid.Nil, false, fmt.Errorf("failed to save: %w", err)
		}
		return id, true, nil
	}
	return uuid.Nil, false, nil
}

// SetSecretIfAbsent stores secret unless the account already has one
func (r *FileAccountStore) SetSecretIfAbsent(ctx context.Context, id uuid.UUID, secret string) (Account, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	previous, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	if previous.HasSecret() {
		return cloneAccount(previous), nil
	}

	updated := cloneAccount(previous)
	updated.TOTPSecret = secret
	updated.UpdatedAt = time.Now().UTC()
	r.accounts[id] = updated

	if err := r.save(); err != nil {
		r.accounts[id] = previous
		return Account{}, fmt.Errorf("failed to save: %w", err)
	}
	return cloneAccount(updated), nil
}

// EnableTwoFactor sets the flag and backup codes while 2FA is off and the secret matches
func (r *FileAccountStore) EnableTwoFactor(ctx context.Context, id uuid.UUID, secret string, hashes []string) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	previous, ok := r.accounts[id]
	if !ok || previous.TwoFactorEnabled || secret == "" || previous.TOTPSecret != secret {
		return false, nil
	}

	updated := cloneAccount(previous)
	updated.TwoFactorEnabled = true
	updated.BackupCodes = append([]string{}, hashes...)
	updated.UpdatedAt = time.Now().UTC()
	r.accounts[id] = updated

	if err := r.save(); err != nil {
		r.accounts[id] = previous
		return false, fmt.Errorf("failed to save: %w", err)
	}
	return true, nil
}

// DisableTwoFactor clears all 2FA state of the account
func (r *FileAccountStore) DisableTwoFactor(ctx context.Context, id uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	previous, ok := r.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}

	updated := cloneAccount(previous)
	updated.ClearTwoFactor()
	updated.UpdatedAt = time.Now().UTC()
	r.accounts[id] = updated

	if err := r.save(); err != nil {
		r.accounts[id] = previous
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

// SetResetCode stores a reset code on an account that still has 2FA enabled
func (r *FileAccountStore) SetResetCode(ctx context.Context, id uuid.UUID, code string, expiry time.Time) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	previous, ok := r.accounts[id]
	if !ok || !previous.TwoFactorEnabled {
		return false, nil
	}
	if resetCodeTaken(r.accounts, id, code) {
		return false, ErrDuplicateValue
	}

	updated := cloneAccount(previous)
	updated.ResetCode = code
	updated.ResetCodeExpiry = expiry
	updated.UpdatedAt = time.Now().UTC()
	r.accounts[id] = updated

	if err := r.save(); err != nil {
		r.accounts[id] = previous
		return false, fmt.Errorf("failed to save: %w", err)
	}
	return true, nil
}

// load reads account data from file
func (r *FileAccountStore) load() error {
	filePath := filepath.Join(r.dataDir, "accounts.json")

	// If file doesn't exist, start with empty map
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	if len(data) == 0 {
		return nil
	}

	var accounts []Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}

	r.accounts = make(map[uuid.UUID]Account, len(accounts))
	for _, account := range accounts {
		account.BackupCodes = nonNil(account.BackupCodes)
		r.accounts[account.ID] = account
	}

	return nil
}

// save writes account data to file atomically
func (r *FileAccountStore) save() error {
	accounts := make([]Account, 0, len(r.accounts))
	for _, account := range r.accounts {
		accounts = append(accounts, account)
	}

	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	// Write to temp file first
	tempFile := filepath.Join(r.dataDir, "accounts.json.tmp")
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	// Atomic rename
	finalFile := filepath.Join(r.dataDir, "accounts.json")
	if err := os.Rename(tempFile, finalFile); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

func removeCode(codes []string, hash string) ([]string, bool) {
	for i, c := range codes {
		if c == hash {
			remaining := make([]string, 0, len(codes)-1)
			remaining = append(remaining, codes[:i]...)
			return append(remaining, codes[i+1:]...), true
		}
	}
	return codes, false
}

// collides reports whether another account already uses account's email or reset code
func collides(accounts map[uuid.UUID]Account, account Account) bool {
	for id, other := range accounts {
		if id == account.ID {
			continue
		}
		if strings.EqualFold(other.Email, account.Email) {
			return true
		}
	}
	return resetCodeTaken(accounts, account.ID, account.ResetCode)
}

func resetCodeTaken(accounts map[uuid.UUID]Account, id uuid.UUID, code string) bool {
	for otherID, other := range accounts {
		if otherID != id && code != "" && other.ResetCode == code {
			return true
		}
	}
	return false
}
