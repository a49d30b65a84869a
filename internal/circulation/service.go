package circulation

import (
	"context"
	"database/sql"
	"strconv"

	"libportal/internal/changefeed"
	"libportal/internal/platform/apierr"
	"libportal/internal/platform/auth"
	"libportal/internal/platform/clock"
	"libportal/internal/platform/db"
	"libportal/internal/platform/logging"
	"libportal/internal/platform/metrics"
)

type Service struct {
	db      *sql.DB
	store   *Store
	notify  *changefeed.Notifier
	clock   clock.Clock
	metrics *metrics.Metrics
	log     *logging.Logger
}

func NewService(conn *sql.DB, notify *changefeed.Notifier, m *metrics.Metrics, log *logging.Logger) *Service {
	if log == nil {
		log = logging.Discard()
	}
	return &Service{
		db:      conn,
		store:   NewStore(conn),
		notify:  notify,
		clock:   clock.Real{},
		metrics: m,
		log:     log,
	}
}

func (s *Service) WithClock(c clock.Clock) *Service {
	s.clock = c
	return s
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case apierr.HasReason(err, apierr.ReasonOutOfStock):
		return "out_of_stock"
	case apierr.HasReason(err, apierr.ReasonAlreadyReturned):
		return "already_returned"
	case apierr.HasReason(err, apierr.ReasonMemberNotActive):
		return "member_not_active"
	case apierr.Is(err, apierr.CodeNotFound):
		return "not_found"
	case apierr.Is(err, apierr.CodeForbidden):
		return "forbidden"
	case apierr.Is(err, apierr.CodeInvalidArgument):
		return "invalid"
	default:
		return "error"
	}
}

// Borrow は1トランザクションで 会員確認 → 在庫の条件付き減算 → 貸出行の追加 を行う。
// 在庫が負になることも、在庫を減らさずに貸出行だけ残ることもない。
func (s *Service) Borrow(ctx context.Context, p auth.Principal, req BorrowRequest) (loan *Loan, err error) {
	defer func() { s.metrics.BorrowOutcome(outcome(err)) }()

	memberID := string(req.MemberID)
	if memberID == "" {
		memberID = p.ID
	}
	if req.BookID <= 0 {
		return nil, apierr.ErrInvalid("bookId is required")
	}
	if !p.CanActFor(memberID) {
		return nil, apierr.ErrForbidden("members can only borrow for themselves")
	}

	today := clock.Today(s.clock)
	due, err := clock.AddDays(today, LoanPeriodDays)
	if err != nil {
		return nil, err
	}

	err = db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		st, err := s.store.memberStatus(ctx, tx, memberID)
		if err != nil {
			return err
		}
		if st != "active" {
			return apierr.ErrConflict("member is " + st).WithReason(apierr.ReasonMemberNotActive)
		}

		n, err := s.store.decrementStock(ctx, tx, req.BookID)
		if err != nil {
			return err
		}
		if n == 0 {
			exists, err := s.store.bookExists(ctx, tx, req.BookID)
			if err != nil {
				return err
			}
			if !exists {
				return apierr.ErrNotFound("book not found")
			}
			return apierr.ErrConflict("Stok buku habis").WithReason(apierr.ReasonOutOfStock)
		}

		loan = &Loan{
			BookID:   req.BookID,
			MemberID: memberID,
			LoanDate: today,
			DueDate:  due,
			Status:   StatusBorrowed,
		}
		return s.store.insertLoan(ctx, tx, loan)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithContext(ctx).Info("book borrowed", "loan_id", loan.ID, "book_id", loan.BookID, "member_id", memberID)
	s.notify.Notify(ctx, changefeed.TableLoans, changefeed.OpInsert, strconv.FormatInt(loan.ID, 10))
	s.notify.Notify(ctx, changefeed.TableBooks, changefeed.OpUpdate, strconv.FormatInt(loan.BookID, 10))
	return loan, nil
}

// Return moves an outstanding loan to returned and gives the copy back, once.
func (s *Service) Return(ctx context.Context, p auth.Principal, loanID int64, req ReturnRequest) (loan *Loan, err error) {
	defer func() { s.metrics.ReturnOutcome(outcome(err)) }()

	today := clock.Today(s.clock)
	err = db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		cur, err := s.store.Get(ctx, tx, loanID)
		if err != nil {
			return err
		}
		if !p.CanActFor(cur.MemberID) {
			return apierr.ErrForbidden("members can only return their own loans")
		}
		if req.BookID != nil && *req.BookID != cur.BookID {
			return apierr.ErrInvalid("bookId does not match the loan")
		}

		n, err := s.store.markReturned(ctx, tx, loanID, today)
		if err != nil {
			return err
		}
		if n == 0 {
			return apierr.ErrConflict("loan already returned").WithReason(apierr.ReasonAlreadyReturned)
		}
		if _, err := s.store.incrementStock(ctx, tx, cur.BookID); err != nil {
			return err
		}

		cur.Status = StatusReturned
		cur.ReturnedOn = &today
		loan = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithContext(ctx).Info("book returned", "loan_id", loan.ID, "book_id", loan.BookID)
	s.notify.Notify(ctx, changefeed.TableLoans, changefeed.OpUpdate, strconv.FormatInt(loan.ID, 10))
	s.notify.Notify(ctx, changefeed.TableBooks, changefeed.OpUpdate, strconv.FormatInt(loan.BookID, 10))
	return loan, nil
}

// List: 管理者は全件、会員は自分の貸出のみ。
func (s *Service) List(ctx context.Context, p auth.Principal, f Filter) (*ListResponse, error) {
	if f.Status != nil && !f.Status.Valid() {
		return nil, apierr.ErrInvalid("status must be borrowed, returned or overdue")
	}
	if !p.IsAdmin() {
		if f.MemberID != "" && f.MemberID != p.ID {
			return nil, apierr.ErrForbidden("members can only list their own loans")
		}
		f.MemberID = p.ID
	}
	items, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return &ListResponse{Items: items, Total: len(items)}, nil
}

// SweepOverdue marks every borrowed loan past its due date as overdue.
func (s *Service) SweepOverdue(ctx context.Context) (int64, error) {
	n, err := s.store.MarkOverdue(ctx, clock.Today(s.clock))
	if err != nil {
		return 0, err
	}
	s.metrics.OverdueMarked(n)
	if n > 0 {
		s.log.WithContext(ctx).Info("loans marked overdue", "count", n)
		s.notify.Notify(ctx, changefeed.TableLoans, changefeed.OpUpdate, "")
	}
	return n, nil
}
