package settings

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"libportal/internal/platform/apierr"
	"libportal/internal/platform/db"
)

// 設定は id = 1 の1行だけ (スキーマ側で投入済み)
const rowID = 1

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Get(ctx context.Context, q db.DBTX) (*Settings, error) {
	const query = `
SELECT library_name, address, email, phone,
       notify_email, notify_new_member, notify_overdue, notify_weekly_report, updated_at
FROM settings WHERE id = ?`
	var (
		st      Settings
		updated sql.NullTime
	)
	err := q.QueryRowContext(ctx, query, rowID).Scan(
		&st.LibraryName, &st.Address, &st.Email, &st.Phone,
		&st.Notifications.Email, &st.Notifications.NewMember, &st.Notifications.Overdue, &st.Notifications.WeeklyReport,
		&updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.ErrNotFound("settings row missing")
	}
	if err != nil {
		return nil, err
	}
	if updated.Valid {
		t := updated.Time.UTC()
		st.UpdatedAt = &t
	}
	return &st, nil
}

func (s *Store) Save(ctx context.Context, q db.DBTX, st *Settings, at time.Time) error {
	const query = `
UPDATE settings SET
  library_name = ?, address = ?, email = ?, phone = ?,
  notify_email = ?, notify_new_member = ?, notify_overdue = ?, notify_weekly_report = ?,
  updated_at = ?
WHERE id = ?`
	_, err := q.ExecContext(ctx, query,
		st.LibraryName, st.Address, st.Email, st.Phone,
		st.Notifications.Email, st.Notifications.NewMember, st.Notifications.Overdue, st.Notifications.WeeklyReport,
		at, rowID,
	)
	return err
}
