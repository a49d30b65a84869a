package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"libportal/internal/platform/apierr"
)

type Handler struct{ svc *Service }

// RegisterRoutes は認証済みグループに登録する。
func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.PUT("/me/password", h.ChangePassword)
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
	ConfirmPassword string `json:"confirmPassword" binding:"required"`
}

// ChangePassword godoc
// @Summary  Change own password
// @Tags     auth
// @Security Bearer
// @Param    body body ChangePasswordRequest true "passwords"
// @Success  204
// @Failure  400,401 {object} apierr.ErrorDTO
// @Router   /me/password [put]
func (h *Handler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadJSON(c)
		return
	}
	if err := h.svc.ChangePassword(c.Request.Context(), UserID(c), req.CurrentPassword, req.NewPassword, req.ConfirmPassword); err != nil {
		apierr.Abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
