package members

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"libportal/internal/platform/apierr"
	"libportal/internal/platform/db"
)

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

const selectMember = `SELECT id, name, email, role, status, join_date FROM profiles`

func scanMember(sc interface{ Scan(...any) error }) (*Member, error) {
	var m Member
	if err := sc.Scan(&m.ID, &m.Name, &m.Email, &m.Role, &m.Status, &m.JoinDate); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) Insert(ctx context.Context, q db.DBTX, m *Member) error {
	const stmt = `
INSERT INTO profiles (id, name, email, role, status, join_date)
VALUES (?, ?, ?, ?, ?, ?)`
	_, err := q.ExecContext(ctx, stmt, m.ID, m.Name, m.Email, m.Role, m.Status, m.JoinDate)
	return err
}

func (s *Store) Get(ctx context.Context, q db.DBTX, id string) (*Member, error) {
	m, err := scanMember(q.QueryRowContext(ctx, selectMember+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.ErrNotFound("member not found")
	}
	return m, err
}

// List は作成順 (ULID 昇順)。
func (s *Store) List(ctx context.Context, f Filter) ([]Member, error) {
	var (
		where []string
		args  []any
	)
	if q := strings.TrimSpace(f.Q); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		where = append(where, "(LOWER(name) LIKE ? OR LOWER(email) LIKE ?)")
		args = append(args, like, like)
	}
	if f.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *f.Status)
	}
	query := selectMember
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Member{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *Store) UpdateStatus(ctx context.Context, q db.DBTX, id string, st Status) (int64, error) {
	const stmt = `UPDATE profiles SET status = ? WHERE id = ?`
	return db.RowsAffected(q.ExecContext(ctx, stmt, st, id))
}

func (s *Store) UpdateProfile(ctx context.Context, q db.DBTX, id, name, email string) (int64, error) {
	const stmt = `UPDATE profiles SET name = ?, email = ? WHERE id = ?`
	return db.RowsAffected(q.ExecContext(ctx, stmt, name, email, id))
}

func (s *Store) SetRole(ctx context.Context, q db.DBTX, id, role string) error {
	_, err := q.ExecContext(ctx, `UPDATE profiles SET role = ? WHERE id = ?`, role, id)
	return err
}
