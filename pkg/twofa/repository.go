package twofa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AccountStore defines the account operations the 2FA subsystem needs.
//
// Save is last-writer-wins on the whole record and is meant for seeding and
// administration. The service paths use the targeted methods, which touch only
// the columns they own. SetSecretIfAbsent, EnableTwoFactor, SetResetCode,
// ConsumeBackupCode and ConsumeResetCode are conditional updates: of two
// concurrent callers at most one observes the change.
type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (Account, error)
	GetByEmail(ctx context.Context, email string) (Account, error)
	GetByResetCode(ctx context.Context, code string) (Account, error)
	Create(ctx context.Context, account Account) (Account, error)
	Save(ctx context.Context, account Account) error
	ReplaceBackupCodes(ctx context.Context, id uuid.UUID, hashes []string) error
	ConsumeBackupCode(ctx context.Context, id uuid.UUID, hash string) (bool, error)
	ConsumeResetCode(ctx context.Context, code string, now time.Time) (uuid.UUID, bool, error)
	SetSecretIfAbsent(ctx context.Context, id uuid.UUID, secret string) (Account, error)
	EnableTwoFactor(ctx context.Context, id uuid.UUID, secret string, hashes []string) (bool, error)
	DisableTwoFactor(ctx context.Context, id uuid.UUID) error
	SetResetCode(ctx context.Context, id uuid.UUID, code string, expiry time.Time) (bool, error)
}

// PostgresAccountStore implements AccountStore using PostgreSQL
type PostgresAccountStore struct {
	db *pgxpool.Pool
}

// NewPostgresAccountStore creates a new PostgreSQL-based account store
func NewPostgresAccountStore(db *pgxpool.Pool) *PostgresAccountStore {
	return &PostgresAccountStore{db: db}
}

const accountColumns = `id, email, credential_hash, totp_secret, is_2fa_enabled, backup_codes,
	reset_code, reset_code_expiry, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var (
		a         Account
		secret    pgtype.Text
		resetCode pgtype.Text
		expiry    pgtype.Timestamptz
	)
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.CredentialHash,
		&secret,
		&a.TwoFactorEnabled,
		&a.BackupCodes,
		&resetCode,
		&expiry,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	a.TOTPSecret = secret.String
	a.ResetCode = resetCode.String
	if expiry.Valid {
		a.ResetCodeExpiry = expiry.Time.UTC()
	}
	if a.BackupCodes == nil {
		a.BackupCodes = []string{}
	}
	return a, nil
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func nullTime(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}

func nonNil(codes []string) []string {
	if codes == nil {
		return []string{}
	}
	return codes
}

// GetByID retrieves an account by id
func (r *PostgresAccountStore) GetByID(ctx context.Context, id uuid.UUID) (Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRow(ctx, query, id))
}

// GetByEmail retrieves an account by email, case-insensitively
func (r *PostgresAccountStore) GetByEmail(ctx context.Context, email string) (Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE lower(email) = lower($1)`
	return scanAccount(r.db.QueryRow(ctx, query, email))
}

// GetByResetCode retrieves the account holding the given reset code
func (r *PostgresAccountStore) GetByResetCode(ctx context.Context, code string) (Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE reset_code = $1`
	return scanAccount(r.db.QueryRow(ctx, query, code))
}

// Create inserts a new account
func (r *PostgresAccountStore) Create(ctx context.Context, account Account) (Account, error) {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	query := `
		INSERT INTO accounts (id, email, credential_hash, totp_secret, is_2fa_enabled, backup_codes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + accountColumns

	created, err := scanAccount(r.db.QueryRow(ctx, query,
		account.ID,
		account.Email,
		account.CredentialHash,
		nullText(account.TOTPSecret),
		account.TwoFactorEnabled,
		nonNil(account.BackupCodes),
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Account{}, ErrAccountExists
		}
		return Account{}, fmt.Errorf("failed to create account: %w", err)
	}
	return created, nil
}

// Save writes every mutable field of the account in one statement
func (r *PostgresAccountStore) Save(ctx context.Context, account Account) error {
	query := `
		UPDATE accounts
		SET email = $2,
			credential_hash = $3,
			totp_secret = $4,
			is_2fa_enabled = $5,
			backup_codes = $6,
			reset_code = $7,
			reset_code_expiry = $8,
			updated_at = now()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		account.ID,
		account.Email,
		account.CredentialHash,
		nullText(account.TOTPSecret),
		account.TwoFactorEnabled,
		nonNil(account.BackupCodes),
		nullText(account.ResetCode),
		nullTime(account.ResetCodeExpiry),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateValue
		}
		return fmt.Errorf("failed to save account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ReplaceBackupCodes overwrites the stored backup code digests
func (r *PostgresAccountStore) ReplaceBackupCodes(ctx context.Context, id uuid.UUID, hashes []string) error {
	query := `UPDATE accounts SET backup_codes = $2, updated_at = now() WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, nonNil(hashes))
	if err != nil {
		return fmt.Errorf("failed to replace backup codes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ConsumeBackupCode removes hash from the account's set if present. The row
// lock taken by UPDATE serializes concurrent consumers, and the second one
// re-evaluates the ANY() predicate against the already-updated row.
func (r *PostgresAccountStore) ConsumeBackupCode(ctx context.Context, id uuid.UUID, hash string) (bool, error) {
	query := `
		UPDATE accounts
		SET backup_codes = array_remove(backup_codes, $2::text),
			updated_at = now()
		WHERE id = $1 AND $2::text = ANY(backup_codes)
	`
	tag, err := r.db.Exec(ctx, query, id, hash)
	if err != nil {
		return false, fmt.Errorf("failed to consume backup code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ConsumeResetCode clears all 2FA state of the account holding an unexpired
// code and invalidates the code, in one statement.
func (r *PostgresAccountStore) ConsumeResetCode(ctx context.Context, code string, now time.Time) (uuid.UUID, bool, error) {
	query := `
		UPDATE accounts
		SET totp_secret = NULL,
			is_2fa_enabled = FALSE,
			backup_codes = '{}',
			reset_code = NULL,
			reset_code_expiry = NULL,
			updated_at = now()
		WHERE reset_code = $1 AND reset_code_expiry > $2
		RETURNING id
	`
	var id uuid.UUID
	err := r.db.QueryRow(ctx, query, code, now).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("failed to consume reset code: %w", err)
	}
	return id, true, nil
}

// SetSecretIfAbsent stores secret unless the account already has one, and
// returns the account as stored afterwards.
func (r *PostgresAccountStore) SetSecretIfAbsent(ctx context.Context, id uuid.UUID, secret string) (Account, error) {
	query := `
		UPDATE accounts
		SET totp_secret = $2, updated_at = now()
		WHERE id = $1 AND totp_secret IS NULL
		RETURNING ` + accountColumns

	account, err := scanAccount(r.db.QueryRow(ctx, query, id, secret))
	if errors.Is(err, ErrAccountNotFound) {
		// Either the account is gone or a secret was stored first.
		return r.GetByID(ctx, id)
	}
	if err != nil {
		return Account{}, fmt.Errorf("failed to set totp secret: %w", err)
	}
	return account, nil
}

// EnableTwoFactor sets the flag and the first backup code set, provided 2FA
// is still off and the stored secret is the one the code was checked against.
func (r *PostgresAccountStore) EnableTwoFactor(ctx context.Context, id uuid.UUID, secret string, hashes []string) (bool, error) {
	query := `
		UPDATE accounts
		SET is_2fa_enabled = TRUE,
			backup_codes = $3,
			updated_at = now()
		WHERE id = $1 AND NOT is_2fa_enabled AND totp_secret = $2
	`
	tag, err := r.db.Exec(ctx, query, id, secret, nonNil(hashes))
	if err != nil {
		return false, fmt.Errorf("failed to enable two-factor: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DisableTwoFactor clears the secret, the flag, the backup codes and any reset code
func (r *PostgresAccountStore) DisableTwoFactor(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE accounts
		SET totp_secret = NULL,
			is_2fa_enabled = FALSE,
			backup_codes = '{}',
			reset_code = NULL,
			reset_code_expiry = NULL,
			updated_at = now()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to disable two-factor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetResetCode stores a reset code on an account that still has 2FA enabled.
// It reports false when the account is gone or 2FA was turned off meanwhile.
func (r *PostgresAccountStore) SetResetCode(ctx context.Context, id uuid.UUID, code string, expiry time.Time) (bool, error) {
	query := `
		UPDATE accounts
		SET reset_code = $2, reset_code_expiry = $3, updated_at = now()
		WHERE id = $1 AND is_2fa_enabled
	`
	tag, err := r.db.Exec(ctx, query, id, code, expiry)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, ErrDuplicateValue
		}
		return false, fmt.Errorf("failed to set reset code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
