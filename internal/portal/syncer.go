package portal

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"libportal/internal/catalog"
	"libportal/internal/changefeed"
	"libportal/internal/circulation"
	"libportal/internal/members"
	"libportal/internal/platform/apierr"
	"libportal/internal/platform/auth"
	"libportal/internal/platform/logging"
)

type collection int

const (
	colBooks collection = iota
	colMembers
	colLoans
	numCollections
)

func (c collection) String() string {
	return [...]string{"books", "members", "loans"}[c]
}

// collectionsFor maps a changed table to the collections that must be re-read.
// 不明なテーブル (キー無しの一括更新など) は全件。
func collectionsFor(t changefeed.Table) []collection {
	switch t {
	case changefeed.TableBooks:
		return []collection{colBooks}
	case changefeed.TableProfiles:
		return []collection{colMembers}
	case changefeed.TableLoans:
		return []collection{colLoans}
	case changefeed.TableSettings:
		return nil
	default:
		return []collection{colBooks, colMembers, colLoans}
	}
}

// Snapshot is a consistent copy of the three collections.
type Snapshot struct {
	Books   []catalog.Book
	Members []members.Member
	Loans   []circulation.Loan
}

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// Syncer keeps Books, Members and Loans in memory and re-reads them whenever the
// change feed reports a write. Read failures are logged and the previous value stays.
type Syncer struct {
	c   *Client
	log *logging.Logger

	mu      sync.RWMutex
	books   []catalog.Book
	members []members.Member
	loans   []circulation.Loan
	// 世代番号: 古いリクエストの結果が新しい結果を上書きしないように
	issued  [numCollections]uint64
	applied [numCollections]uint64

	hookMu    sync.Mutex
	onRefresh func(Snapshot)

	// Run 用
	pendMu  sync.Mutex
	pending map[collection]bool
	kick    chan struct{}

	minBackoff, maxBackoff time.Duration
}

func NewSyncer(c *Client, log *logging.Logger) *Syncer {
	if log == nil {
		log = logging.Discard()
	}
	return &Syncer{
		c:          c,
		log:        log,
		books:      []catalog.Book{},
		members:    []members.Member{},
		loans:      []circulation.Loan{},
		pending:    map[collection]bool{},
		kick:       make(chan struct{}, 1),
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
	}
}

// OnRefresh registers fn to be called with a fresh snapshot after each refresh.
func (s *Syncer) OnRefresh(fn func(Snapshot)) {
	s.hookMu.Lock()
	s.onRefresh = fn
	s.hookMu.Unlock()
}

func (s *Syncer) Books() []catalog.Book {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.books)
}

func (s *Syncer) Members() []members.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.members)
}

func (s *Syncer) Loans() []circulation.Loan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.loans)
}

func (s *Syncer) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Books:   slices.Clone(s.books),
		Members: slices.Clone(s.members),
		Loans:   slices.Clone(s.loans),
	}
}

// RefreshAll re-reads all three collections in parallel.
func (s *Syncer) RefreshAll(ctx context.Context) {
	s.refresh(ctx, colBooks, colMembers, colLoans)
}

func (s *Syncer) refresh(ctx context.Context, cols ...collection) {
	if len(cols) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, col := range cols {
		gen := s.issue(col)
		wg.Add(1)
		go func(col collection, gen uint64) {
			defer wg.Done()
			s.fetch(ctx, col, gen)
		}(col, gen)
	}
	wg.Wait()

	s.hookMu.Lock()
	fn := s.onRefresh
	s.hookMu.Unlock()
	if fn != nil {
		fn(s.Snapshot())
	}
}

func (s *Syncer) issue(col collection) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued[col]++
	return s.issued[col]
}

func (s *Syncer) fetch(ctx context.Context, col collection, gen uint64) {
	var (
		data any
		err  error
	)
	switch col {
	case colBooks:
		data, err = s.c.Books(ctx, BookQuery{})
	case colMembers:
		data, err = s.fetchMembers(ctx)
	case colLoans:
		data, err = s.c.Loans(ctx, LoanQuery{})
	}
	if err != nil {
		s.log.WithContext(ctx).Warn("refresh failed, keeping last value", "collection", col.String(), "error", err)
		return
	}
	if !s.apply(col, gen, data) {
		s.log.Debug("discarded stale refresh", "collection", col.String(), "generation", gen)
	}
}

// fetchMembers: 会員一覧は管理者のみ。一般会員は自分のプロフィールだけを持つ。
func (s *Syncer) fetchMembers(ctx context.Context) ([]members.Member, error) {
	list, err := s.c.Members(ctx)
	var pe *Error
	if errors.As(err, &pe) && pe.Code == apierr.CodeForbidden {
		me, err := s.c.Me(ctx)
		if err != nil {
			return nil, err
		}
		return []members.Member{*me}, nil
	}
	return list, err
}

// apply stores data unless a newer generation has already been applied.
func (s *Syncer) apply(col collection, gen uint64, data any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen <= s.applied[col] {
		return false
	}
	switch col {
	case colBooks:
		s.books = orEmpty(data.([]catalog.Book))
	case colMembers:
		s.members = orEmpty(data.([]members.Member))
	case colLoans:
		s.loans = orEmpty(data.([]circulation.Loan))
	}
	s.applied[col] = gen
	return true
}

func orEmpty[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

// ---------- change feed loop ----------

// Run does an initial refresh, then follows the change feed until ctx ends.
// The feed is re-dialled with capped exponential backoff and every
// (re)connect is followed by a full refresh, since events may have been missed.
func (s *Syncer) Run(parent context.Context) error {
	s.RefreshAll(parent)

	ctx, cancel := context.WithCancel(parent)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.refreshLoop(ctx)
	}()

	backoff := s.minBackoff
	for {
		feed, err := s.c.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var pe *Error
			if errors.As(err, &pe) && pe.Code == apierr.CodeUnauthenticated {
				return err
			}
			s.log.Warn("change feed unavailable, retrying", "error", err, "backoff", backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, s.maxBackoff)
			continue
		}
		backoff = s.minBackoff
		s.log.Debug("change feed connected")
		s.markAll()

		s.consume(ctx, feed)
		feed.Close()
		if ctx.Err() != nil {
			return nil
		}
		s.log.Warn("change feed lost", "error", feed.Err())
	}
}

func (s *Syncer) consume(ctx context.Context, feed *Feed) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-feed.C:
			if !ok {
				return
			}
			s.mark(collectionsFor(ch.Table)...)
		}
	}
}

func (s *Syncer) markAll() { s.mark(colBooks, colMembers, colLoans) }

// mark queues collections for the refresh loop. Bursts collapse into one refresh.
func (s *Syncer) mark(cols ...collection) {
	if len(cols) == 0 {
		return
	}
	s.pendMu.Lock()
	for _, c := range cols {
		s.pending[c] = true
	}
	s.pendMu.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Syncer) take() []collection {
	s.pendMu.Lock()
	defer s.pendMu.Unlock()
	var out []collection
	for c := colBooks; c < numCollections; c++ {
		if s.pending[c] {
			out = append(out, c)
			delete(s.pending, c)
		}
	}
	return out
}

func (s *Syncer) refreshLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
			s.refresh(ctx, s.take()...)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ---------- mutations ----------

// AddBook creates the book and refreshes on success.
func (s *Syncer) AddBook(ctx context.Context, req catalog.CreateBookRequest) (*catalog.Book, error) {
	b, err := s.c.CreateBook(ctx, req)
	if err != nil {
		return nil, err
	}
	s.RefreshAll(ctx)
	return b, nil
}

// RegisterMember validates locally first; invalid input never reaches the server.
func (s *Syncer) RegisterMember(ctx context.Context, req members.RegisterRequest) (*members.Member, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, apierr.ErrInvalid("name is required")
	}
	if err := auth.ValidateEmail(auth.NormalizeEmail(req.Email)); err != nil {
		return nil, err
	}
	if err := auth.ValidatePassword(req.Password, req.PasswordConfirm); err != nil {
		return nil, err
	}
	m, err := s.c.Register(ctx, req)
	if err != nil {
		return nil, err
	}
	s.RefreshAll(ctx)
	return m, nil
}

func (s *Syncer) Borrow(ctx context.Context, bookID int64, memberID string) (*circulation.Loan, error) {
	loan, err := s.c.Borrow(ctx, bookID, memberID)
	if err != nil {
		return nil, err
	}
	s.RefreshAll(ctx)
	return loan, nil
}

func (s *Syncer) Return(ctx context.Context, loanID, bookID int64) (*circulation.Loan, error) {
	loan, err := s.c.Return(ctx, loanID, bookID)
	if err != nil {
		return nil, err
	}
	s.RefreshAll(ctx)
	return loan, nil
}
