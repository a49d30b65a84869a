package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"libportal/internal/catalog"
	"libportal/internal/changefeed"
	"libportal/internal/circulation"
	"libportal/internal/members"
	"libportal/internal/platform/apierr"
	"libportal/internal/platform/auth"
	"libportal/internal/platform/clock"
	"libportal/internal/platform/db/dbtest"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

const (
	adminEmail = "admin@desa.id"
	adminPass  = "admin-pass"
)

// newServer wires the real feature packages onto an httptest server.
func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	conn := dbtest.Open(t)
	hub := changefeed.NewHub(nil)
	t.Cleanup(hub.Close)
	notify := changefeed.NewNotifier(hub, nil)

	authSvc := auth.NewService(conn, testSecret, time.Hour).WithCost(bcrypt.MinCost)
	memberSvc := members.NewService(conn, authSvc, notify, nil)
	_, err := memberSvc.EnsureAdmin(context.Background(), adminEmail, adminPass, "Admin")
	require.NoError(t, err)

	r := gin.New()
	api := r.Group("/api/v1")
	members.RegisterRoutes(api, memberSvc, testSecret)
	catalog.RegisterRoutes(api, catalog.NewService(conn, nil, notify, nil), testSecret)
	circulation.RegisterRoutes(api, circulation.NewService(conn, notify, nil, nil), testSecret)
	authed := api.Group("", auth.RequireAuth(testSecret))
	auth.RegisterRoutes(authed, authSvc)
	changefeed.RegisterRoutes(authed, changefeed.NewGateway(hub, nil))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func login(t *testing.T, srv *httptest.Server, email, password string) *Client {
	t.Helper()
	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	_, err = c.Login(context.Background(), email, password)
	require.NoError(t, err)
	return c
}

func intp(n int) *int { return &n }

func TestBorrowAndReturnScenario(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	admin := NewSyncer(login(t, srv, adminEmail, adminPass), nil)
	for _, stock := range []int{1, 2, 5} {
		_, err := admin.AddBook(ctx, catalog.CreateBookRequest{Title: "Buku", Author: "Penulis", Category: "Novel", Stock: intp(stock)})
		require.NoError(t, err)
	}
	u1, err := admin.RegisterMember(ctx, members.RegisterRequest{
		Name: "Siti", Email: "siti@desa.id", Password: "rahasia", PasswordConfirm: "rahasia",
	})
	require.NoError(t, err)
	assert.Len(t, admin.Members(), 2)

	member := NewSyncer(login(t, srv, "siti@desa.id", "rahasia"), nil)
	loan, err := member.Borrow(ctx, 3, "")
	require.NoError(t, err)

	assert.Equal(t, int64(3), loan.BookID)
	assert.Equal(t, u1.ID, loan.MemberID)
	assert.Equal(t, circulation.StatusBorrowed, loan.Status)
	due, err := clock.AddDays(loan.LoanDate, 7)
	require.NoError(t, err)
	assert.Equal(t, due, loan.DueDate)

	books := member.Books()
	require.Len(t, books, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{books[0].ID, books[1].ID, books[2].ID})
	assert.Equal(t, 4, books[2].Stock)
	require.Len(t, member.Loans(), 1)
	// 一般会員の Members は自分だけ
	require.Len(t, member.Members(), 1)
	assert.Equal(t, u1.ID, member.Members()[0].ID)

	returned, err := member.Return(ctx, loan.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, circulation.StatusReturned, returned.Status)
	assert.Equal(t, 5, member.Books()[2].Stock)
	assert.Equal(t, circulation.StatusReturned, member.Loans()[0].Status)

	_, err = member.Return(ctx, loan.ID, 3)
	assert.True(t, HasReason(err, apierr.ReasonAlreadyReturned))
	assert.Equal(t, 5, member.Books()[2].Stock)
}

func TestStructuredErrors(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	_, err = c.Login(ctx, adminEmail, "wrong")
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusUnauthorized, pe.Status)
	assert.Equal(t, apierr.ReasonInvalidCredentials, pe.Reason)
	assert.Empty(t, c.Token())

	admin := login(t, srv, adminEmail, adminPass)
	_, err = admin.CreateBook(ctx, catalog.CreateBookRequest{Title: "Habis", Author: "A", Stock: intp(0)})
	require.NoError(t, err)
	_, err = admin.Borrow(ctx, 1, "")
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusConflict, pe.Status)
	assert.Equal(t, apierr.CodeConflict, pe.Code)
	assert.True(t, HasReason(err, apierr.ReasonOutOfStock))

	_, err = admin.Borrow(ctx, 99, "")
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, apierr.CodeNotFound, pe.Code)
}

func TestRegisterMemberValidatesLocally(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	s := NewSyncer(c, nil)
	ctx := context.Background()

	_, err = s.RegisterMember(ctx, members.RegisterRequest{Name: "A", Email: "a@desa.id", Password: "rahasia", PasswordConfirm: "rahasib"})
	assert.True(t, HasReason(err, apierr.ReasonPasswordMismatch))
	_, err = s.RegisterMember(ctx, members.RegisterRequest{Name: "A", Email: "a@desa.id", Password: "123", PasswordConfirm: "123"})
	assert.True(t, HasReason(err, apierr.ReasonPasswordTooShort))
	_, err = s.RegisterMember(ctx, members.RegisterRequest{Name: "A", Email: "nope", Password: "rahasia", PasswordConfirm: "rahasia"})
	assert.Error(t, err)

	assert.Zero(t, hits.Load())
}

func TestRefreshKeepsLastValueOnFailure(t *testing.T) {
	var failing atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/books", func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			http.Error(w, `{"error":{"code":"INTERNAL","message":"internal error"}}`, http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(catalog.ListResponse{Items: []catalog.Book{{ID: 1, Title: "A", Stock: 2}}, Total: 1})
	})
	mux.HandleFunc("/api/v1/members", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(members.ListResponse{Items: []members.Member{{ID: "m1"}}, Total: 1})
	})
	mux.HandleFunc("/api/v1/loans", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	s := NewSyncer(c, nil)
	var refreshes atomic.Int32
	s.OnRefresh(func(Snapshot) { refreshes.Add(1) })

	s.RefreshAll(context.Background())
	assert.Len(t, s.Books(), 1)
	assert.Len(t, s.Members(), 1)
	assert.NotNil(t, s.Loans())
	assert.Empty(t, s.Loans())
	assert.NotNil(t, s.Snapshot().Loans)

	failing.Store(true)
	s.RefreshAll(context.Background())
	assert.Len(t, s.Books(), 1, "failed read keeps the previous books")
	assert.Equal(t, int32(2), refreshes.Load())
}

func TestStaleRefreshIsDiscarded(t *testing.T) {
	s := NewSyncer(nil, nil)
	older := s.issue(colBooks)
	newer := s.issue(colBooks)

	assert.True(t, s.apply(colBooks, newer, []catalog.Book{{ID: 2}}))
	// the slow, older request completes last
	assert.False(t, s.apply(colBooks, older, []catalog.Book{{ID: 1}}))
	assert.Equal(t, int64(2), s.Books()[0].ID)

	// other collections keep their own generations
	assert.True(t, s.apply(colLoans, s.issue(colLoans), []circulation.Loan{{ID: 9}}))
}

func TestCollectionsFor(t *testing.T) {
	assert.Equal(t, []collection{colBooks}, collectionsFor(changefeed.TableBooks))
	assert.Equal(t, []collection{colMembers}, collectionsFor(changefeed.TableProfiles))
	assert.Equal(t, []collection{colLoans}, collectionsFor(changefeed.TableLoans))
	assert.Empty(t, collectionsFor(changefeed.TableSettings))
	assert.Len(t, collectionsFor(""), 3)
}

func TestMarkCoalesces(t *testing.T) {
	s := NewSyncer(nil, nil)
	s.mark(colBooks)
	s.mark(colLoans)
	s.mark(colBooks)

	assert.Len(t, s.kick, 1)
	assert.Equal(t, []collection{colBooks, colLoans}, s.take())
	assert.Empty(t, s.take())
}

func TestRunFollowsChangeFeed(t *testing.T) {
	srv := newServer(t)
	watcher := NewSyncer(login(t, srv, adminEmail, adminPass), nil)
	other := login(t, srv, adminEmail, adminPass)

	refreshed := make(chan struct{}, 1)
	watcher.OnRefresh(func(Snapshot) {
		select {
		case refreshed <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()

	select {
	case <-refreshed:
	case <-time.After(5 * time.Second):
		t.Fatal("no initial refresh")
	}
	assert.Empty(t, watcher.Books())

	// written by another session: only the feed can tell the watcher about it
	_, err := other.CreateBook(context.Background(), catalog.CreateBookRequest{Title: "Baru", Author: "B", Stock: intp(1)})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(watcher.Books()) == 1 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

// The server closes a feed whose buffer overflowed. Whatever was lost, books
// included, must come back through the refresh that follows the reconnect.
func TestRunRefreshesEverythingAfterFeedIsCut(t *testing.T) {
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/books", func(w http.ResponseWriter, r *http.Request) {
		title := fmt.Sprintf("edisi-%d", dials.Load())
		json.NewEncoder(w).Encode(catalog.ListResponse{Items: []catalog.Book{{ID: 1, Title: title, Stock: 1}}, Total: 1})
	})
	mux.HandleFunc("/api/v1/members", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(members.ListResponse{Items: []members.Member{}})
	})
	mux.HandleFunc("/api/v1/loans", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(circulation.ListResponse{Items: []circulation.Loan{}})
	})
	mux.HandleFunc("/api/v1/changes", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// 1本目: loans の変更だけ送って切る (books の変更は取りこぼした扱い)
		if dials.Add(1) == 1 {
			_ = conn.WriteJSON(changefeed.Message{Type: changefeed.MsgChange, Data: &changefeed.Change{Table: changefeed.TableLoans, Op: changefeed.OpUpdate}})
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := NewClient(srv.URL, WithToken("t"))
	require.NoError(t, err)
	s := NewSyncer(c, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool {
		b := s.Books()
		return dials.Load() >= 2 && len(b) == 1 && b[0].Title == "edisi-2"
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRunStopsWhenUnauthenticated(t *testing.T) {
	srv := newServer(t)
	c, err := NewClient(srv.URL, WithToken("not-a-jwt"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = NewSyncer(c, nil).Run(ctx)
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, apierr.CodeUnauthenticated, pe.Code)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("ftp://example.com")
	assert.Error(t, err)
	c, err := NewClient("http://localhost:8443/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8443/api/v1/books?q=x", c.endpoint("/books", map[string][]string{"q": {"x"}}))
}

func TestSessionFile(t *testing.T) {
	f := SessionFile{Path: filepath.Join(t.TempDir(), "libportal", "session.json")}

	_, err := f.Load()
	assert.ErrorIs(t, err, ErrNoSession)

	res := &members.LoginResponse{Token: "tok", Session: members.Session{Role: "member", Name: "Siti", ID: "u1", Email: "siti@desa.id", JoinDate: "2025-01-02"}}
	want := SessionFrom("http://localhost:8443", res)
	require.NoError(t, f.Save(want))

	fi, err := os.Stat(f.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	got, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, f.Clear())
	require.NoError(t, f.Clear())
	_, err = f.Load()
	assert.ErrorIs(t, err, ErrNoSession)
}
