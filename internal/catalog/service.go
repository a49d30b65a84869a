package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"libportal/internal/changefeed"
	"libportal/internal/platform/apierr"
	"libportal/internal/platform/db"
	"libportal/internal/platform/logging"
)

// CoverStore stores cover images and returns their public URL.
type CoverStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

type Service struct {
	store  *Store
	covers CoverStore
	notify *changefeed.Notifier
	log    *logging.Logger
}

// NewService: covers may be nil (cover upload then answers UNAVAILABLE).
func NewService(conn *sql.DB, covers CoverStore, notify *changefeed.Notifier, log *logging.Logger) *Service {
	if log == nil {
		log = logging.Discard()
	}
	return &Service{store: NewStore(conn), covers: covers, notify: notify, log: log}
}

// NormalizeCategory trims and collapses inner spaces ("Fiksi  Ilmiah " → "Fiksi Ilmiah").
// Case is kept as entered; comparisons ignore it (see categoryKey).
func NormalizeCategory(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var folder = cases.Fold()

// categoryKey は大文字小文字を無視した比較用のキー (DB 側の照合順序と合わせる)。
func categoryKey(s string) string {
	return folder.String(NormalizeCategory(s))
}

func validate(b *Book) error {
	b.Title = strings.TrimSpace(b.Title)
	b.Author = strings.TrimSpace(b.Author)
	b.Category = NormalizeCategory(b.Category)
	if b.Title == "" {
		return apierr.ErrInvalid("title is required")
	}
	if b.Author == "" {
		return apierr.ErrInvalid("author is required")
	}
	if b.Stock < 0 {
		return apierr.ErrInvalid("stock must be >= 0")
	}
	return nil
}

func mapWriteErr(err error) error {
	if db.IsCheckViolation(err) {
		return apierr.ErrInvalid("stock must be >= 0")
	}
	return err
}

func (s *Service) List(ctx context.Context, f Filter) (*ListResponse, error) {
	if strings.EqualFold(strings.TrimSpace(f.Category), AllCategories) {
		f.Category = ""
	}
	f.Category = NormalizeCategory(f.Category)
	items, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return &ListResponse{Items: items, Total: len(items)}, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Book, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, req CreateBookRequest) (*Book, error) {
	if req.Stock == nil {
		return nil, apierr.ErrInvalid("stock is required")
	}
	b := &Book{
		Title:    req.Title,
		Author:   req.Author,
		Category: req.Category,
		Stock:    *req.Stock,
		Cover:    req.Cover,
	}
	if err := validate(b); err != nil {
		return nil, err
	}
	if err := s.store.Insert(ctx, b); err != nil {
		return nil, mapWriteErr(err)
	}
	s.log.WithContext(ctx).Info("book added", "book_id", b.ID, "stock", b.Stock)
	s.notify.Notify(ctx, changefeed.TableBooks, changefeed.OpInsert, strconv.FormatInt(b.ID, 10))
	return b, nil
}

func (s *Service) Update(ctx context.Context, id int64, req UpdateBookRequest) (*Book, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Title != nil {
		b.Title = *req.Title
	}
	if req.Author != nil {
		b.Author = *req.Author
	}
	if req.Category != nil {
		b.Category = *req.Category
	}
	if req.Stock != nil {
		b.Stock = *req.Stock
	}
	if req.Cover != nil {
		b.Cover = req.Cover
	}
	if err := validate(b); err != nil {
		return nil, err
	}
	n, err := s.store.Update(ctx, b)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	if n == 0 {
		return nil, apierr.ErrNotFound("book not found")
	}
	s.notify.Notify(ctx, changefeed.TableBooks, changefeed.OpUpdate, strconv.FormatInt(id, 10))
	return b, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.log.WithContext(ctx).Info("book deleted", "book_id", id)
	s.removeCover(ctx, b, "")
	s.notify.Notify(ctx, changefeed.TableBooks, changefeed.OpDelete, strconv.FormatInt(id, 10))
	return nil
}

var coverExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

func coverKey(id int64, ext string) string {
	return path.Join("books", strconv.FormatInt(id, 10), "cover"+ext)
}

// removeCover は保存済みの表紙 (拡張子違いの旧ファイル) を消す。失敗はログのみ。
func (s *Service) removeCover(ctx context.Context, b *Book, keep string) {
	if s.covers == nil || b.Cover == nil {
		return
	}
	for _, ext := range coverExt {
		key := coverKey(b.ID, ext)
		if key == keep || s.covers.URL(key) != *b.Cover {
			continue
		}
		if err := s.covers.Delete(ctx, key); err != nil {
			s.log.WithContext(ctx).Warn("cover delete failed", "key", key, "err", err)
		}
		return
	}
}

func (s *Service) UploadCover(ctx context.Context, id int64, r io.Reader, size int64, contentType string) (*Book, error) {
	if s.covers == nil {
		return nil, apierr.ErrUnavailable("cover storage is not configured")
	}
	ext, ok := coverExt[contentType]
	if !ok {
		return nil, apierr.ErrInvalid("cover must be a jpeg, png, webp or gif image")
	}
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	key := coverKey(id, ext)
	url, err := s.covers.Put(ctx, key, r, size, contentType)
	if err != nil {
		return nil, fmt.Errorf("store cover: %w", err)
	}
	if _, err := s.store.SetCover(ctx, id, url); err != nil {
		return nil, err
	}
	s.removeCover(ctx, b, key)
	b.Cover = &url
	s.notify.Notify(ctx, changefeed.TableBooks, changefeed.OpUpdate, strconv.FormatInt(id, 10))
	return b, nil
}
