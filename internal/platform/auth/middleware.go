package auth

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"libportal/internal/platform/apierr"
	"libportal/internal/platform/logging"
)

const (
	CtxUserIDKey = "user_id"
	CtxRoleKey   = "role"

	// ブラウザの WebSocket はヘッダを付けられないのでクエリでも受け付ける
	TokenQueryParam = "access_token"
)

func bearerToken(c *gin.Context) (string, error) {
	h := c.GetHeader("Authorization")
	if h == "" {
		if t := c.Query(TokenQueryParam); t != "" {
			return t, nil
		}
		return "", apierr.ErrUnauthenticated("missing Authorization header")
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", apierr.ErrUnauthenticated("invalid Authorization header")
	}
	tokenStr := strings.TrimSpace(parts[1])
	if tokenStr == "" {
		return "", apierr.ErrUnauthenticated("empty token")
	}
	return tokenStr, nil
}

// RequireAuth: Authorization: Bearer <token> を検証して context に sub/role を詰める
func RequireAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, err := bearerToken(c)
		if err != nil {
			apierr.Abort(c, err)
			return
		}
		sub, role, err := ParseToken(secret, tokenStr)
		if err != nil {
			apierr.Abort(c, apierr.ErrUnauthenticated(err.Error()))
			return
		}

		c.Set(CtxUserIDKey, sub)
		c.Set(CtxRoleKey, role)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), logging.UserIDKey, sub))
		c.Next()
	}
}

// RequireRole: 例) admin のみ許可したい時に追加
func RequireRole(roles ...string) gin.HandlerFunc {
	roleSet := make(map[string]struct{})
	for _, r := range roles {
		if r == "" {
			continue
		}
		roleSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role := Role(c)
		if role == "" {
			apierr.Abort(c, apierr.ErrForbidden("missing role"))
			return
		}
		if _, allowed := roleSet[role]; !allowed {
			apierr.Abort(c, apierr.ErrForbidden("forbidden"))
			return
		}
		c.Next()
	}
}

func UserID(c *gin.Context) string { return c.GetString(CtxUserIDKey) }

func Role(c *gin.Context) string { return c.GetString(CtxRoleKey) }

func IsAdmin(c *gin.Context) bool { return Role(c) == RoleAdmin }

// Principal is the caller as seen by services.
type Principal struct {
	ID   string
	Role string
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// CanActFor reports whether p may act on memberID's behalf (self or admin).
func (p Principal) CanActFor(memberID string) bool {
	return p.IsAdmin() || (p.ID != "" && p.ID == memberID)
}

func PrincipalFrom(c *gin.Context) Principal {
	return Principal{ID: UserID(c), Role: Role(c)}
}
