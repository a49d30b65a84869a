// Package dashboard は管理画面トップの集計値を返す。
package dashboard

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"

	"libportal/internal/platform/apierr"
	"libportal/internal/platform/auth"
)

type Stats struct {
	TotalTitles   int64 `json:"totalTitles"`
	TotalCopies   int64 `json:"totalCopies"` // 在庫数の合計 (貸出中は含まない)
	ActiveMembers int64 `json:"activeMembers"`
	Borrowed      int64 `json:"borrowed"` // borrowed + overdue
	Overdue       int64 `json:"overdue"`
}

type Service struct{ db *sql.DB }

func NewService(conn *sql.DB) *Service { return &Service{db: conn} }

// 1文で取るので各値は同じ時点のスナップショット
const statsQuery = `
SELECT
  (SELECT COUNT(*) FROM books),
  (SELECT COALESCE(SUM(stock), 0) FROM books),
  (SELECT COUNT(*) FROM profiles WHERE status = 'active'),
  (SELECT COUNT(*) FROM loans WHERE status IN ('borrowed', 'overdue')),
  (SELECT COUNT(*) FROM loans WHERE status = 'overdue')`

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, statsQuery).Scan(
		&st.TotalTitles, &st.TotalCopies, &st.ActiveMembers, &st.Borrowed, &st.Overdue,
	)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func RegisterRoutes(r gin.IRoutes, svc *Service, secret []byte) {
	authn := auth.RequireAuth(secret)
	admin := auth.RequireRole(auth.RoleAdmin)

	r.GET("/dashboard/report.csv", authn, admin, reportHandler(svc))
	r.GET("/dashboard/stats", authn, admin, func(c *gin.Context) {
		st, err := svc.Stats(c.Request.Context())
		if err != nil {
			apierr.Abort(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	})
}
