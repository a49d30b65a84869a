package catalog

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"libportal/internal/platform/apierr"
	"libportal/internal/platform/auth"
)

const maxCoverBytes = 5 << 20

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service, secret []byte) {
	h := &Handler{svc: svc}
	authn := auth.RequireAuth(secret)
	admin := auth.RequireRole(auth.RoleAdmin)

	// 閲覧は公開
	r.GET("/books", h.List)
	r.GET("/books/:id", h.Get)

	r.POST("/books", authn, admin, h.Create)
	r.PUT("/books/:id", authn, admin, h.Update)
	r.DELETE("/books/:id", authn, admin, h.Delete)
	r.POST("/books/:id/cover", authn, admin, h.UploadCover)

	registerCategoryRoutes(r, h, authn, admin)
}

func bookID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		apierr.Abort(c, apierr.ErrInvalid("invalid book id"))
		return 0, false
	}
	return id, true
}

// List godoc
// @Summary  List books (ordered by id)
// @Tags     books
// @Param    q         query string false "title or author contains"
// @Param    category  query string false "category, Semua = all"
// @Param    available query bool   false "only books in stock"
// @Success  200 {object} ListResponse
// @Router   /books [get]
func (h *Handler) List(c *gin.Context) {
	f := Filter{Q: c.Query("q"), Category: c.Query("category")}
	if v := c.Query("available"); v == "true" || v == "1" {
		f.Available = true
	}
	res, err := h.svc.List(c.Request.Context(), f)
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}
	b, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// Create godoc
// @Summary  Add a book
// @Tags     books
// @Security Bearer
// @Param    body body CreateBookRequest true "book"
// @Success  201 {object} Book
// @Failure  400 {object} apierr.ErrorDTO
// @Router   /books [post]
func (h *Handler) Create(c *gin.Context) {
	var req CreateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	b, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	c.Header("Location", "/api/v1/books/"+strconv.FormatInt(b.ID, 10))
	c.JSON(http.StatusCreated, b)
}

func (h *Handler) Update(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}
	var req UpdateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	b, err := h.svc.Update(c.Request.Context(), id, req)
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// Delete godoc
// @Summary  Delete a book
// @Tags     books
// @Security Bearer
// @Param    id path int true "book id"
// @Success  204
// @Failure  409 {object} apierr.ErrorDTO "book has outstanding loans"
// @Router   /books/{id} [delete]
func (h *Handler) Delete(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		apierr.Abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UploadCover: multipart/form-data の "file"
func (h *Handler) UploadCover(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCoverBytes+1024)
	fh, err := c.FormFile("file")
	if err != nil {
		apierr.Abort(c, apierr.ErrInvalid("multipart field \"file\" is required (max 5MB)"))
		return
	}
	if fh.Size > maxCoverBytes {
		apierr.Abort(c, apierr.ErrInvalid("cover must be at most 5MB"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	defer f.Close()

	b, err := h.svc.UploadCover(c.Request.Context(), id, f, fh.Size, fh.Header.Get("Content-Type"))
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}
