package twofa

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	BACKUP_CODE_ALPHABET      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	BACKUP_CODE_LENGTH        = 10 // 50 bits
	DEFAULT_BACKUP_CODE_COUNT = 10
	DEFAULT_LOW_THRESHOLD     = 2
)

// BackupCodeVault issues and consumes single-use recovery codes. Only digests
// reach the store; plaintext codes are returned once from Generate.
type BackupCodeVault struct {
	store        AccountStore
	count        int
	lowThreshold int
}

// VaultOption configures a BackupCodeVault
type VaultOption func(*BackupCodeVault)

// WithBackupCodeCount sets how many codes Generate issues
func WithBackupCodeCount(n int) VaultOption {
	return func(v *BackupCodeVault) {
		if n > 0 {
			v.count = n
		}
	}
}

// WithLowThreshold sets the remaining count at or below which users are warned
func WithLowThreshold(n int) VaultOption {
	return func(v *BackupCodeVault) {
		if n >= 0 {
			v.lowThreshold = n
		}
	}
}

func NewBackupCodeVault(store AccountStore, opts ...VaultOption) *BackupCodeVault {
	v := &BackupCodeVault{
		store:        store,
		count:        DEFAULT_BACKUP_CODE_COUNT,
		lowThreshold: DEFAULT_LOW_THRESHOLD,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *BackupCodeVault) LowThreshold() int { return v.lowThreshold }

func (v *BackupCodeVault) DefaultCount() int { return v.count }

// NewCodeSet returns count fresh plaintext codes and their digests for
// accountID. Nothing is stored.
func (v *BackupCodeVault) NewCodeSet(accountID uuid.UUID, count int) ([]string, []string, error) {
	if count <= 0 {
		count = v.count
	}
	codes := make([]string, 0, count)
	hashes := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	for len(codes) < count {
		raw, err := randomString(BACKUP_CODE_ALPHABET, BACKUP_CODE_LENGTH)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		codes = append(codes, formatBackupCode(raw))
		hashes = append(hashes, HashBackupCode(accountID, raw))
	}
	return codes, hashes, nil
}

// Generate replaces the account's whole code set and returns the new
// plaintext codes. Earlier codes stop working.
func (v *BackupCodeVault) Generate(ctx context.Context, accountID uuid.UUID, count int) ([]string, error) {
	codes, hashes, err := v.NewCodeSet(accountID, count)
	if err != nil {
		return nil, err
	}
	if err := v.store.ReplaceBackupCodes(ctx, accountID, hashes); err != nil {
		return nil, storeError("replace backup codes", err)
	}
	return codes, nil
}

// Consume removes the submitted code if it is in the account's set. It returns
// false for malformed, unknown and already-used codes. Only store failures are
// errors.
func (v *BackupCodeVault) Consume(ctx context.Context, accountID uuid.UUID, submitted string) (bool, error) {
	code, ok := CanonicalBackupCode(submitted)
	if !ok {
		return false, nil
	}
	consumed, err := v.store.ConsumeBackupCode(ctx, accountID, HashBackupCode(accountID, code))
	if err != nil {
		return false, storeError("consume backup code", err)
	}
	return consumed, nil
}

// Count returns how many unused codes the account has
func (v *BackupCodeVault) Count(ctx context.Context, accountID uuid.UUID) (int, error) {
	account, err := v.store.GetByID(ctx, accountID)
	if err != nil {
		return 0, storeError("get account", err)
	}
	return len(account.BackupCodes), nil
}

// IsLow reports whether remaining is at or below the warning threshold
func (v *BackupCodeVault) IsLow(remaining int) bool {
	return remaining <= v.lowThreshold
}

// CanonicalBackupCode upper-cases the input and drops separators. It reports
// false unless the result is a well-formed code.
func CanonicalBackupCode(submitted string) (string, bool) {
	code := strings.ToUpper(strings.TrimSpace(submitted))
	code = strings.NewReplacer("-", "", " ", "").Replace(code)
	if len(code) != BACKUP_CODE_LENGTH {
		return "", false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(BACKUP_CODE_ALPHABET, code[i]) < 0 {
			return "", false
		}
	}
	return code, true
}

// HashBackupCode binds a canonical code to its account so equal codes on two
// accounts never share a digest.
func HashBackupCode(accountID uuid.UUID, canonical string) string {
	sum := sha256.Sum256([]byte(accountID.String() + "\x00" + canonical))
	return hex.EncodeToString(sum[:])
}

func formatBackupCode(raw string) string {
	half := len(raw) / 2
	return raw[:half] + "-" + raw[half:]
}

func randomString(alphabet string, n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b), nil
}
