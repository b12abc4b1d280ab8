package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AccountRepository defines persistence for provider accounts.
type AccountRepository interface {
	Create(ctx context.Context, account *Account) error
	GetByID(ctx context.Context, id string) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	RecordSignIn(ctx context.Context, id string, at time.Time) error
	Count(ctx context.Context) (int, error)
}

// SQLiteAccountRepository implements AccountRepository on the accounts table.
type SQLiteAccountRepository struct {
	db *sql.DB
}

// NewAccountRepository creates a SQLite-backed account repository.
func NewAccountRepository(db *sql.DB) *SQLiteAccountRepository {
	return &SQLiteAccountRepository{db: db}
}

const accountColumns = "id, email, password_hash, created_at, last_sign_in_at"

// Create inserts an account. The ID is generated if empty and the email is
// stored normalised.
func (r *SQLiteAccountRepository) Create(ctx context.Context, account *Account) error {
	if account.ID == "" {
		account.ID = "usr-" + uuid.NewString()[:8]
	}
	account.Email = NormaliseEmail(account.Email)
	account.CreatedAt = time.Now().UTC().Truncate(time.Second)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		account.ID, account.Email, account.PasswordHash, account.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("creating account: %w", err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *SQLiteAccountRepository) GetByID(ctx context.Context, id string) (*Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = ?", id))
}

// GetByEmail retrieves an account by email, case-insensitively.
func (r *SQLiteAccountRepository) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE email = ?", NormaliseEmail(email)))
}

// RecordSignIn stamps the last successful sign-in time.
func (r *SQLiteAccountRepository) RecordSignIn(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE accounts SET last_sign_in_at = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("recording sign-in: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 { //nolint:errcheck // always succeeds on SQLite
		return ErrAccountNotFound
	}
	return nil
}

// Count returns the number of accounts.
func (r *SQLiteAccountRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting accounts: %w", err)
	}
	return n, nil
}

func scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	var createdAt string
	var lastSignIn sql.NullString

	if err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &createdAt, &lastSignIn); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("scanning account: %w", err)
	}

	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	if lastSignIn.Valid {
		if t, err := time.Parse(time.RFC3339, lastSignIn.String); err == nil {
			a.LastSignInAt = &t
		}
	}
	return &a, nil
}

// isUniqueViolation checks for a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
