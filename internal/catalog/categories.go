package catalog

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"libportal/internal/platform/apierr"
	"libportal/internal/platform/db"
)

// Category はカテゴリマスタ (絞り込みボタンの並び)。
// 本の category はマスタに無い値でも登録できる。
type Category struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	IsDisabled bool   `json:"isDisabled"`
}

type CategoryRequest struct {
	Name       string `json:"name" binding:"required"`
	IsDisabled bool   `json:"isDisabled"`
}

// ---------- store ----------

// GET /categories/master?all=1
func (s *Store) ListCategories(ctx context.Context, includeDisabled bool) ([]Category, error) {
	q := `SELECT id, name, is_disabled FROM categories`
	if !includeDisabled {
		q += ` WHERE is_disabled = 0`
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Category, 0, 16)
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.IsDisabled); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCategory(ctx context.Context, id int64) (*Category, error) {
	var c Category
	err := s.db.QueryRowContext(ctx, `SELECT id, name, is_disabled FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.IsDisabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.ErrNotFound("category not found")
	}
	return &c, err
}

func (s *Store) InsertCategory(ctx context.Context, name string) (*Category, error) {
	const q = `INSERT INTO categories (name, is_disabled) VALUES (?, 0)`
	res, err := s.db.ExecContext(ctx, q, name)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Category{ID: id, Name: name}, nil
}

func (s *Store) UpdateCategory(ctx context.Context, id int64, name string, disabled bool) error {
	const q = `UPDATE categories SET name = ?, is_disabled = ? WHERE id = ?`
	n, err := db.RowsAffected(s.db.ExecContext(ctx, q, name, disabled, id))
	if err != nil {
		return err
	}
	if n == 0 {
		return apierr.ErrNotFound("category not found")
	}
	return nil
}

// DELETE は is_disabled = 1 にするだけ
func (s *Store) DisableCategory(ctx context.Context, id int64) error {
	n, err := db.RowsAffected(s.db.ExecContext(ctx, `UPDATE categories SET is_disabled = 1 WHERE id = ?`, id))
	if err != nil {
		return err
	}
	if n == 0 {
		return apierr.ErrNotFound("category not found")
	}
	return nil
}

// ---------- service ----------

// Categories returns the filter list: enabled master entries in their fixed
// order, then any other category that books actually use, alphabetically.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	master, err := s.store.ListCategories(ctx, false)
	if err != nil {
		return nil, err
	}
	used, err := s.store.Categories(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(master)+len(used))
	out := make([]string, 0, len(master)+len(used))
	for _, c := range master {
		seen[categoryKey(c.Name)] = true
		out = append(out, c.Name)
	}
	for _, name := range used {
		if k := categoryKey(name); !seen[k] {
			seen[k] = true
			out = append(out, name)
		}
	}
	return out, nil
}

func (s *Service) ListCategories(ctx context.Context, includeDisabled bool) ([]Category, error) {
	return s.store.ListCategories(ctx, includeDisabled)
}

func categoryName(name string) (string, error) {
	n := NormalizeCategory(name)
	if n == "" {
		return "", apierr.ErrInvalid("name is required")
	}
	if categoryKey(n) == categoryKey(AllCategories) {
		return "", apierr.ErrInvalid(AllCategories + " is reserved")
	}
	return n, nil
}

func (s *Service) CreateCategory(ctx context.Context, name string) (*Category, error) {
	n, err := categoryName(name)
	if err != nil {
		return nil, err
	}
	c, err := s.store.InsertCategory(ctx, n)
	if db.IsDuplicateKey(err) {
		return nil, apierr.ErrConflict("category already exists")
	}
	return c, err
}

func (s *Service) UpdateCategory(ctx context.Context, id int64, req CategoryRequest) (*Category, error) {
	n, err := categoryName(req.Name)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateCategory(ctx, id, n, req.IsDisabled); err != nil {
		if db.IsDuplicateKey(err) {
			return nil, apierr.ErrConflict("category already exists")
		}
		return nil, err
	}
	return s.store.GetCategory(ctx, id)
}

func (s *Service) DisableCategory(ctx context.Context, id int64) error {
	return s.store.DisableCategory(ctx, id)
}

// ---------- handler ----------

func registerCategoryRoutes(r gin.IRoutes, h *Handler, authn, admin gin.HandlerFunc) {
	r.GET("/categories", h.Categories)
	r.GET("/categories/master", authn, admin, h.ListCategories)
	r.POST("/categories", authn, admin, h.CreateCategory)
	r.PUT("/categories/:id", authn, admin, h.UpdateCategory)
	r.DELETE("/categories/:id", authn, admin, h.DisableCategory)
}

func categoryID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		apierr.Abort(c, apierr.ErrInvalid("invalid category id"))
		return 0, false
	}
	return id, true
}

// Categories godoc
// @Summary  Category names for the catalog filter
// @Tags     books
// @Success  200 {object} map[string][]string
// @Router   /categories [get]
func (h *Handler) Categories(c *gin.Context) {
	cats, err := h.svc.Categories(c.Request.Context())
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": cats})
}

func (h *Handler) ListCategories(c *gin.Context) {
	all := strings.ToLower(strings.TrimSpace(c.Query("all")))
	list, err := h.svc.ListCategories(c.Request.Context(), all == "1" || all == "true")
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list})
}

func (h *Handler) CreateCategory(c *gin.Context) {
	var req CategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	cat, err := h.svc.CreateCategory(c.Request.Context(), req.Name)
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, cat)
}

func (h *Handler) UpdateCategory(c *gin.Context) {
	id, ok := categoryID(c)
	if !ok {
		return
	}
	var req CategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	cat, err := h.svc.UpdateCategory(c.Request.Context(), id, req)
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, cat)
}

func (h *Handler) DisableCategory(c *gin.Context) {
	id, ok := categoryID(c)
	if !ok {
		return
	}
	if err := h.svc.DisableCategory(c.Request.Context(), id); err != nil {
		apierr.Abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
