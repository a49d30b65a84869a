package circulation

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"libportal/internal/platform/apierr"
	"libportal/internal/platform/auth"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service, secret []byte) {
	h := &Handler{svc: svc}
	authn := auth.RequireAuth(secret)
	admin := auth.RequireRole(auth.RoleAdmin)

	r.GET("/loans", authn, h.List)
	r.POST("/loans", authn, h.Borrow)
	r.POST("/loans/:id/return", authn, h.Return)
	r.POST("/loans/overdue-sweep", authn, admin, h.Sweep)
}

// Borrow godoc
// @Summary  Borrow a book
// @Tags     loans
// @Security Bearer
// @Param    body body BorrowRequest true "bookId, optional memberId (admin only for others)"
// @Success  201 {object} Loan
// @Failure  404,409 {object} apierr.ErrorDTO
// @Router   /loans [post]
func (h *Handler) Borrow(c *gin.Context) {
	var req BorrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	loan, err := h.svc.Borrow(c.Request.Context(), auth.PrincipalFrom(c), req)
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	c.Header("Location", "/api/v1/loans/"+strconv.FormatInt(loan.ID, 10))
	c.JSON(http.StatusCreated, loan)
}

// Return godoc
// @Summary  Return a borrowed book
// @Tags     loans
// @Security Bearer
// @Param    id   path int           true  "loan id"
// @Param    body body ReturnRequest false "optional bookId check"
// @Success  200 {object} Loan
// @Failure  404,409 {object} apierr.ErrorDTO
// @Router   /loans/{id}/return [post]
func (h *Handler) Return(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		apierr.Abort(c, apierr.ErrInvalid("invalid loan id"))
		return
	}
	var req ReturnRequest
	// body は任意
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		apierr.BadJSON(c)
		return
	}
	loan, err := h.svc.Return(c.Request.Context(), auth.PrincipalFrom(c), id, req)
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, loan)
}

// List godoc
// @Summary  List loans (members see only their own)
// @Tags     loans
// @Security Bearer
// @Param    memberId query string false "member id"
// @Param    bookId   query int    false "book id"
// @Param    status   query string false "borrowed | returned | overdue"
// @Success  200 {object} ListResponse
// @Router   /loans [get]
func (h *Handler) List(c *gin.Context) {
	f := Filter{MemberID: c.Query("memberId")}
	if v := c.Query("bookId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			apierr.Abort(c, apierr.ErrInvalid("invalid bookId"))
			return
		}
		f.BookID = &id
	}
	if v := c.Query("status"); v != "" {
		st := Status(v)
		f.Status = &st
	}
	res, err := h.svc.List(c.Request.Context(), auth.PrincipalFrom(c), f)
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Sweep(c *gin.Context) {
	n, err := h.svc.SweepOverdue(c.Request.Context())
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, SweepResult{Marked: n})
}
