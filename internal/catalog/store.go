package catalog

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

const selectBook = `SELECT id, title, author, category, stock, cover FROM books`

func scanBook(sc interface{ Scan(...any) error }) (*Book, error) {
	var (
		b     Book
		cover sql.NullString
	)
	if err := sc.Scan(&b.ID, &b.Title, &b.Author, &b.Category, &b.Stock, &cover); err != nil {
		return nil, err
	}
	if cover.Valid && cover.String != "" {
		b.Cover = &cover.String
	}
	return &b, nil
}

// List returns books ordered by id ascending.
func (s *Store) List(ctx context.Context, f Filter) ([]Book, error) {
	var (
		where []string
		args  []any
	)
	if q := strings.TrimSpace(f.Q); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		where = append(where, "(LOWER(title) LIKE ? OR LOWER(author) LIKE ?)")
		args = append(args, like, like)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.Available {
		where = append(where, "stock > 0")
	}
	query := selectBook
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, id int64) (*Book, error) {
	b, err := scanBook(s.db.QueryRowContext(ctx, selectBook+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.ErrNotFound("book not found")
	}
	return b, err
}

func (s *Store) Insert(ctx context.Context, b *Book) error {
	const q = `INSERT INTO books (title, author, category, stock, cover) VALUES (?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q, b.Title, b.Author, b.Category, b.Stock, nullable(b.Cover))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = id
	return nil
}

func (s *Store) Update(ctx context.Context, b *Book) (int64, error) {
	const q = `UPDATE books SET title = ?, author = ?, category = ?, stock = ?, cover = ? WHERE id = ?`
	return db.RowsAffected(s.db.ExecContext(ctx, q, b.Title, b.Author, b.Category, b.Stock, nullable(b.Cover), b.ID))
}

func (s *Store) SetCover(ctx context.Context, id int64, url string) (int64, error) {
	const q = `UPDATE books SET cover = ? WHERE id = ?`
	return db.RowsAffected(s.db.ExecContext(ctx, q, url, id))
}

// Delete refuses while the book has outstanding loans. Returned loans keep
// pointing at the id, so their history rows are removed with the book.
func (s *Store) Delete(ctx context.Context, id int64) error {
	return db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		var active int
		const countQ = `SELECT COUNT(*) FROM loans WHERE book_id = ? AND status IN ('borrowed', 'overdue')`
		if err := tx.QueryRowContext(ctx, countQ, id).Scan(&active); err != nil {
			return err
		}
		if active > 0 {
			return apierr.ErrConflict("book has outstanding loans").WithReason(apierr.ReasonHasActiveLoans)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM loans WHERE book_id = ?`, id); err != nil {
			return err
		}
		n, err := db.RowsAffected(tx.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id))
		if err != nil {
			return err
		}
		if n == 0 {
			return apierr.ErrNotFound("book not found")
		}
		return nil
	})
}

func (s *Store) Categories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT category FROM books WHERE category <> '' ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullable(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}
