package settings

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"libportal/internal/platform/apierr"
	"libportal/internal/platform/auth"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service, secret []byte) {
	h := &Handler{svc: svc}
	r.GET("/settings", h.Get)
	r.PUT("/settings", auth.RequireAuth(secret), auth.RequireRole(auth.RoleAdmin), h.Update)
}

// Get godoc
// @Summary  Library information and notification toggles
// @Tags     settings
// @Success  200 {object} Settings
// @Router   /settings [get]
func (h *Handler) Get(c *gin.Context) {
	st, err := h.svc.Get(c.Request.Context())
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Update godoc
// @Summary  Update library settings (admin)
// @Tags     settings
// @Security Bearer
// @Param    body body UpdateRequest true "fields to change"
// @Success  200 {object} Settings
// @Failure  400 {object} apierr.ErrorDTO
// @Router   /settings [put]
func (h *Handler) Update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	st, err := h.svc.Update(c.Request.Context(), req)
	if err != nil {
		apierr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
