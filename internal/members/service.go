package members

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
	auth   *auth.Service
	notify *changefeed.Notifier
	clock  clock.Clock
	log    *logging.Logger
}

func NewService(conn *sql.DB, authSvc *auth.Service, notify *changefeed.Notifier, log *logging.Logger) *Service {
	if log == nil {
		log = logging.Discard()
	}
	return &Service{
		db:     conn,
		store:  NewStore(conn),
		auth:   authSvc,
		notify: notify,
		clock:  clock.Real{},
		log:    log,
	}
}

func (s *Service) WithClock(c clock.Clock) *Service {
	s.clock = c
	return s
}

// Register creates the auth identity and the profile row in one transaction,
// so a failed profile insert never leaves an orphaned identity behind.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Member, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apierr.ErrInvalid("name is required")
	}
	if err := auth.ValidatePassword(req.Password, req.PasswordConfirm); err != nil {
		return nil, err
	}

	var m *Member
	err := db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		acct, err := s.auth.CreateAccount(ctx, tx, req.Email, req.Password, auth.RoleMember)
		if err != nil {
			return err
		}
		m = &Member{
			ID:       acct.ID,
			Name:     name,
			Email:    acct.Email,
			Role:     auth.RoleMember,
			Status:   StatusActive,
			JoinDate: clock.Today(s.clock),
		}
		return s.store.Insert(ctx, tx, m)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithContext(ctx).Info("member registered", "member_id", m.ID)
	s.notify.Notify(ctx, changefeed.TableProfiles, changefeed.OpInsert, m.ID)
	return m, nil
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	acct, err := s.auth.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	m, err := s.store.Get(ctx, s.db, acct.ID)
	if err != nil {
		if apierr.Is(err, apierr.CodeNotFound) {
			// identity without profile: treat like bad credentials
			return nil, apierr.ErrUnauthenticated("Invalid login credentials").WithReason(apierr.ReasonInvalidCredentials)
		}
		return nil, err
	}
	if m.Status == StatusBlocked {
		return nil, apierr.ErrForbidden("Akun Anda telah diblokir").WithReason(apierr.ReasonMemberBlocked)
	}

	token, exp, err := s.auth.IssueToken(acct)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{Token: token, ExpiresAt: exp, Session: sessionOf(m)}, nil
}

func (s *Service) List(ctx context.Context, f Filter) (*ListResponse, error) {
	if f.Status != nil && !f.Status.Valid() {
		return nil, apierr.ErrInvalid("status must be active, pending or blocked")
	}
	items, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return &ListResponse{Items: items, Total: len(items)}, nil
}

// Get: admin は誰でも、member は自分だけ。
func (s *Service) Get(ctx context.Context, p auth.Principal, id string) (*Member, error) {
	if !p.CanActFor(id) {
		return nil, apierr.ErrForbidden("cannot view another member")
	}
	return s.store.Get(ctx, s.db, id)
}

// UpdateStatus persists the new status and mirrors "blocked" onto the auth identity.
func (s *Service) UpdateStatus(ctx context.Context, p auth.Principal, id string, st Status) (*Member, error) {
	if !st.Valid() {
		return nil, apierr.ErrInvalid("status must be active, pending or blocked")
	}
	if id == p.ID {
		return nil, apierr.ErrInvalid("cannot change own status")
	}

	var m *Member
	err := db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		n, err := s.store.UpdateStatus(ctx, tx, id, st)
		if err != nil {
			return err
		}
		if n == 0 {
			return apierr.ErrNotFound("member not found")
		}
		if err := s.auth.SetDisabled(ctx, tx, id, st == StatusBlocked); err != nil {
			return err
		}
		m, err = s.store.Get(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithContext(ctx).Info("member status changed", "member_id", id, "status", string(st))
	s.notify.Notify(ctx, changefeed.TableProfiles, changefeed.OpUpdate, id)
	return m, nil
}

func (s *Service) UpdateProfile(ctx context.Context, id string, req UpdateProfileRequest) (*Member, error) {
	var m *Member
	err := db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		cur, err := s.store.Get(ctx, tx, id)
		if err != nil {
			return err
		}
		name, email := cur.Name, cur.Email
		if req.Name != nil {
			name = strings.TrimSpace(*req.Name)
			if name == "" {
				return apierr.ErrInvalid("name must not be empty")
			}
		}
		if req.Email != nil && auth.NormalizeEmail(*req.Email) != cur.Email {
			email = auth.NormalizeEmail(*req.Email)
			if err := s.auth.ChangeEmail(ctx, tx, id, email); err != nil {
				return err
			}
		}
		if _, err := s.store.UpdateProfile(ctx, tx, id, name, email); err != nil {
			return err
		}
		cur.Name, cur.Email = name, email
		m = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify.Notify(ctx, changefeed.TableProfiles, changefeed.OpUpdate, id)
	return m, nil
}

// EnsureAdmin creates the administrator account on first start. An existing
// account with that email is promoted instead; its password is left alone.
func (s *Service) EnsureAdmin(ctx context.Context, email, password, name string) (bool, error) {
	email = auth.NormalizeEmail(email)
	if email == "" || password == "" {
		return false, apierr.ErrInvalid("admin email and password are required")
	}
	if strings.TrimSpace(name) == "" {
		name = "Administrator"
	}

	existing, err := s.auth.Store().GetByEmail(ctx, email)
	if err != nil {
		return false, err
	}
	created := existing == nil
	var id string

	err = db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		if existing == nil {
			acct, err := s.auth.CreateAccount(ctx, tx, email, password, auth.RoleAdmin)
			if err != nil {
				return err
			}
			id = acct.ID
			return s.store.Insert(ctx, tx, &Member{
				ID: acct.ID, Name: name, Email: acct.Email,
				Role: auth.RoleAdmin, Status: StatusActive, JoinDate: clock.Today(s.clock),
			})
		}
		id = existing.ID
		if err := s.auth.Promote(ctx, tx, existing.ID, auth.RoleAdmin); err != nil {
			return err
		}
		if _, err := s.store.Get(ctx, tx, existing.ID); apierr.Is(err, apierr.CodeNotFound) {
			return s.store.Insert(ctx, tx, &Member{
				ID: existing.ID, Name: name, Email: existing.Email,
				Role: auth.RoleAdmin, Status: StatusActive, JoinDate: clock.Today(s.clock),
			})
		} else if err != nil {
			return err
		}
		return s.store.SetRole(ctx, tx, existing.ID, auth.RoleAdmin)
	})
	if err != nil {
		return false, err
	}
	if created {
		s.notify.Notify(ctx, changefeed.TableProfiles, changefeed.OpInsert, id)
	} else {
		s.notify.Notify(ctx, changefeed.TableProfiles, changefeed.OpUpdate, id)
	}
	return created, nil
}
