package settings

import (
	"context"
	"database/sql"
	"strings"

	"libportal/internal/changefeed"
	"libportal/internal/platform/apierr"
	"libportal/internal/platform/auth"
	"libportal/internal/platform/clock"
	"libportal/internal/platform/db"
	"libportal/internal/platform/logging"
)

type Service struct {
	db     *sql.DB
	store  *Store
	notify *changefeed.Notifier
	clock  clock.Clock
	log    *logging.Logger
}

func NewService(conn *sql.DB, notify *changefeed.Notifier, log *logging.Logger) *Service {
	if log == nil {
		log = logging.Discard()
	}
	return &Service{db: conn, store: NewStore(conn), notify: notify, clock: clock.Real{}, log: log}
}

func (s *Service) WithClock(c clock.Clock) *Service {
	s.clock = c
	return s
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	return s.store.Get(ctx, s.db)
}

func (s *Service) Update(ctx context.Context, req UpdateRequest) (*Settings, error) {
	var out *Settings
	err := db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		cur, err := s.store.Get(ctx, tx)
		if err != nil {
			return err
		}
		if err := apply(cur, req); err != nil {
			return err
		}
		now := s.clock.Now()
		if err := s.store.Save(ctx, tx, cur, now); err != nil {
			return err
		}
		cur.UpdatedAt = &now
		out = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithContext(ctx).Info("settings updated", "library_name", out.LibraryName)
	s.notify.Notify(ctx, changefeed.TableSettings, changefeed.OpUpdate, "1")
	return out, nil
}

func apply(st *Settings, req UpdateRequest) error {
	if req.LibraryName != nil {
		name := strings.TrimSpace(*req.LibraryName)
		if name == "" {
			return apierr.ErrInvalid("libraryName must not be empty")
		}
		st.LibraryName = name
	}
	if req.Address != nil {
		st.Address = strings.TrimSpace(*req.Address)
	}
	if req.Email != nil {
		email := auth.NormalizeEmail(*req.Email)
		// 空は「未設定」として許可
		if email != "" {
			if err := auth.ValidateEmail(email); err != nil {
				return err
			}
		}
		st.Email = email
	}
	if req.Phone != nil {
		st.Phone = strings.TrimSpace(*req.Phone)
	}
	if n := req.Notifications; n != nil {
		setBool(&st.Notifications.Email, n.Email)
		setBool(&st.Notifications.NewMember, n.NewMember)
		setBool(&st.Notifications.Overdue, n.Overdue)
		setBool(&st.Notifications.WeeklyReport, n.WeeklyReport)
	}
	return nil
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
