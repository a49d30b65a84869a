package circulation

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

const selectLoan = `SELECT id, book_id, member_id, loan_date, due_date, status, returned_on FROM loans`

func scanLoan(sc interface{ Scan(...any) error }) (*Loan, error) {
	var (
		l        Loan
		returned sql.NullString
	)
	if err := sc.Scan(&l.ID, &l.BookID, &l.MemberID, &l.LoanDate, &l.DueDate, &l.Status, &returned); err != nil {
		return nil, err
	}
	if returned.Valid {
		l.ReturnedOn = &returned.String
	}
	return &l, nil
}

func (s *Store) memberStatus(ctx context.Context, tx db.DBTX, memberID string) (string, error) {
	var st string
	err := tx.QueryRowContext(ctx, `SELECT status FROM profiles WHERE id = ?`, memberID).Scan(&st)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apierr.ErrNotFound("member not found")
	}
	return st, err
}

func (s *Store) bookExists(ctx context.Context, tx db.DBTX, bookID int64) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM books WHERE id = ?`, bookID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// decrementStock は在庫がある時だけ 1 減らす。0 件なら在庫切れか存在しない。
func (s *Store) decrementStock(ctx context.Context, tx db.DBTX, bookID int64) (int64, error) {
	const q = `UPDATE books SET stock = stock - 1 WHERE id = ? AND stock > 0`
	return db.RowsAffected(tx.ExecContext(ctx, q, bookID))
}

func (s *Store) incrementStock(ctx context.Context, tx db.DBTX, bookID int64) (int64, error) {
	const q = `UPDATE books SET stock = stock + 1 WHERE id = ?`
	return db.RowsAffected(tx.ExecContext(ctx, q, bookID))
}

func (s *Store) insertLoan(ctx context.Context, tx db.DBTX, l *Loan) error {
	const q = `
INSERT INTO loans (book_id, member_id, loan_date, due_date, status)
VALUES (?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, l.BookID, l.MemberID, l.LoanDate, l.DueDate, l.Status)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	l.ID = id
	return nil
}

// markReturned is the guarded transition: only outstanding loans move to returned.
func (s *Store) markReturned(ctx context.Context, tx db.DBTX, loanID int64, on string) (int64, error) {
	const q = `
UPDATE loans SET status = 'returned', returned_on = ?
WHERE id = ? AND status IN ('borrowed', 'overdue')`
	return db.RowsAffected(tx.ExecContext(ctx, q, on, loanID))
}

func (s *Store) Get(ctx context.Context, q db.DBTX, id int64) (*Loan, error) {
	l, err := scanLoan(q.QueryRowContext(ctx, selectLoan+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.ErrNotFound("loan not found")
	}
	return l, err
}

func (s *Store) List(ctx context.Context, f Filter) ([]Loan, error) {
	var (
		where []string
		args  []any
	)
	if f.MemberID != "" {
		where = append(where, "member_id = ?")
		args = append(args, f.MemberID)
	}
	if f.BookID != nil {
		where = append(where, "book_id = ?")
		args = append(args, *f.BookID)
	}
	if f.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *f.Status)
	}
	query := selectLoan
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Loan{}
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// MarkOverdue: 期限 (due_date) が today より前の borrowed を overdue にする。
// 日付は YYYY-MM-DD 文字列なので辞書順比較でよい。
func (s *Store) MarkOverdue(ctx context.Context, today string) (int64, error) {
	const q = `UPDATE loans SET status = 'overdue' WHERE status = 'borrowed' AND due_date < ?`
	return db.RowsAffected(s.db.ExecContext(ctx, q, today))
}
