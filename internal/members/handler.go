package members

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"libportal/internal/platform/apierr"
	"libportal/internal/platform/auth"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service, secret []byte) {
	h := &Handler{svc: svc}
	authn := auth.RequireAuth(secret)
	admin := auth.RequireRole(auth.RoleAdmin)

	// 公開
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)

	// 本人
	r.GET("/me", authn, h.Me)
	r.PATCH("/me", authn, h.UpdateMe)

	// 管理者 (GET /members/:id は本人も可)
	r.GET("/members", authn, admin, h.List)
	r.GET("/members/:id", authn, h.Get)
	r.PATCH("/members/:id/status", authn, admin, h.UpdateStatus)
}

// Register godoc
// @Summary  Register a member
// @Tags     auth
// @Param    body body RegisterRequest true "registration"
// @Success  201 {object} Member
// @Failure  400,409 {object} apierr.ErrorDTO
// @Router   /auth/register [post]
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	m, err := h.svc.Register(c.Request.Context(), req)
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	c.Header("Location", "/api/v1/members/"+m.ID)
	c.JSON(http.StatusCreated, m)
}

// Login godoc
// @Summary  Log in
// @Tags     auth
// @Param    body body LoginRequest true "credentials"
// @Success  200 {object} LoginResponse
// @Failure  401,403 {object} apierr.ErrorDTO
// @Router   /auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	res, err := h.svc.Login(c.Request.Context(), req)
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Me(c *gin.Context) {
	p := auth.PrincipalFrom(c)
	m, err := h.svc.Get(c.Request.Context(), p, p.ID)
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) UpdateMe(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	m, err := h.svc.UpdateProfile(c.Request.Context(), auth.UserID(c), req)
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// List godoc
// @Summary  List members
// @Tags     members
// @Security Bearer
// @Param    q      query string false "name or email contains"
// @Param    status query string false "active | pending | blocked"
// @Success  200 {object} ListResponse
// @Router   /members [get]
func (h *Handler) List(c *gin.Context) {
	f := Filter{Q: c.Query("q")}
	if v := c.Query("status"); v != "" {
		st := Status(v)
		f.Status = &st
	}
	res, err := h.svc.List(c.Request.Context(), f)
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Get(c *gin.Context) {
	m, err := h.svc.Get(c.Request.Context(), auth.PrincipalFrom(c), c.Param("id"))
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// UpdateStatus godoc
// @Summary  Approve, block or unblock a member
// @Tags     members
// @Security Bearer
// @Param    id   path string              true "member id"
// @Param    body body UpdateStatusRequest true "new status"
// @Success  200 {object} Member
// @Router   /members/{id}/status [patch]
func (h *Handler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	m, err := h.svc.UpdateStatus(c.Request.Context(), auth.PrincipalFrom(c), c.Param("id"), req.Status)
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}
