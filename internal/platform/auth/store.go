package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"libportal/internal/platform/db"
)

type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	IsDisabled   bool
	CreatedAt    time.Time
}

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const selectAccount = `
SELECT id, email, password_hash, role, is_disabled, created_at
FROM auth_accounts
`

func scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	var isDisabledInt int
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Role, &isDisabledInt, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.IsDisabled = isDisabledInt != 0
	return &a, nil
}

// GetByID は見つからなければ (nil, nil)。
func (s *Store) GetByID(ctx context.Context, id string) (*Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, selectAccount+`WHERE id = ? LIMIT 1`, id))
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, selectAccount+`WHERE email = ? LIMIT 1`, email))
}

// Create runs on q so that callers can insert the account and its profile in one transaction.
func (s *Store) Create(ctx context.Context, q db.DBTX, a *Account) error {
	const stmt = `
INSERT INTO auth_accounts (id, email, password_hash, role, is_disabled, created_at)
VALUES (?, ?, ?, ?, 0, ?)
`
	_, err := q.ExecContext(ctx, stmt, a.ID, a.Email, a.PasswordHash, a.Role, a.CreatedAt)
	return err
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) (int64, error) {
	const stmt = `UPDATE auth_accounts SET password_hash = ? WHERE id = ?`
	return db.RowsAffected(s.db.ExecContext(ctx, stmt, hash, id))
}

func (s *Store) UpdateEmail(ctx context.Context, q db.DBTX, id, email string) (int64, error) {
	const stmt = `UPDATE auth_accounts SET email = ? WHERE id = ?`
	return db.RowsAffected(q.ExecContext(ctx, stmt, email, id))
}

func (s *Store) SetDisabled(ctx context.Context, q db.DBTX, id string, disabled bool) (int64, error) {
	const stmt = `UPDATE auth_accounts SET is_disabled = ? WHERE id = ?`
	v := 0
	if disabled {
		v = 1
	}
	return db.RowsAffected(q.ExecContext(ctx, stmt, v, id))
}

// SetRole also re-enables the account.
func (s *Store) SetRole(ctx context.Context, q db.DBTX, id, role string) (int64, error) {
	const stmt = `UPDATE auth_accounts SET role = ?, is_disabled = 0 WHERE id = ?`
	return db.RowsAffected(q.ExecContext(ctx, stmt, role, id))
}
