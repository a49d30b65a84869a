package members

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"libportal/internal/changefeed"
	"libportal/internal/platform/apierr"
	"libportal/internal/platform/auth"
	"libportal/internal/platform/clock"
	"libportal/internal/platform/db/dbtest"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fixture struct {
	svc  *Service
	auth *auth.Service
	hub  *changefeed.Hub
	sub  *changefeed.Subscription
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	authSvc := auth.NewService(conn, testSecret, time.Hour).WithCost(bcrypt.MinCost)
	hub := changefeed.NewHub(nil)
	sub := hub.Subscribe(32)
	t.Cleanup(sub.Close)
	svc := NewService(conn, authSvc, changefeed.NewNotifier(hub, nil), nil).
		WithClock(clock.NewFixed(time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)))
	return &fixture{svc: svc, auth: authSvc, hub: hub, sub: sub}
}

func (f *fixture) register(t *testing.T, name, email string) *Member {
	t.Helper()
	m, err := f.svc.Register(context.Background(), RegisterRequest{
		Name: name, Email: email, Password: "rahasia", PasswordConfirm: "rahasia",
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) admin(t *testing.T) auth.Principal {
	t.Helper()
	created, err := f.svc.EnsureAdmin(context.Background(), "admin@desa.id", "admin-pass", "Admin")
	require.NoError(t, err)
	require.True(t, created)
	acct, err := f.auth.Store().GetByEmail(context.Background(), "admin@desa.id")
	require.NoError(t, err)
	return auth.Principal{ID: acct.ID, Role: auth.RoleAdmin}
}

func TestRegisterCreatesActiveMember(t *testing.T) {
	f := newFixture(t)
	m := f.register(t, "Siti Aminah", "siti@desa.id")

	assert.Equal(t, auth.RoleMember, m.Role)
	assert.Equal(t, StatusActive, m.Status)
	assert.Equal(t, "2024-05-02", m.JoinDate)

	c := <-f.sub.C
	assert.Equal(t, changefeed.TableProfiles, c.Table)
	assert.Equal(t, changefeed.OpInsert, c.Op)
	assert.Equal(t, m.ID, c.Key)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, RegisterRequest{Name: "A", Email: "a@desa.id", Password: "123", PasswordConfirm: "123"})
	assert.True(t, apierr.HasReason(err, apierr.ReasonPasswordTooShort))

	_, err = f.svc.Register(ctx, RegisterRequest{Name: "A", Email: "a@desa.id", Password: "123456", PasswordConfirm: "654321"})
	assert.True(t, apierr.HasReason(err, apierr.ReasonPasswordMismatch))

	_, err = f.svc.Register(ctx, RegisterRequest{Name: " ", Email: "a@desa.id", Password: "123456", PasswordConfirm: "123456"})
	assert.True(t, apierr.Is(err, apierr.CodeInvalidArgument))

	f.register(t, "A", "a@desa.id")
	_, err = f.svc.Register(ctx, RegisterRequest{Name: "B", Email: "A@desa.id", Password: "123456", PasswordConfirm: "123456"})
	assert.True(t, apierr.HasReason(err, apierr.ReasonEmailTaken))
}

func TestRegisterIsAtomic(t *testing.T) {
	f := newFixture(t)
	// profiles を壊して2段目の INSERT を失敗させる
	_, err := f.svc.db.Exec(`DROP TABLE profiles`)
	require.NoError(t, err)

	_, err = f.svc.Register(context.Background(), RegisterRequest{
		Name: "Budi", Email: "budi@desa.id", Password: "rahasia", PasswordConfirm: "rahasia",
	})
	require.Error(t, err)

	acct, err := f.auth.Store().GetByEmail(context.Background(), "budi@desa.id")
	require.NoError(t, err)
	assert.Nil(t, acct, "identity must be rolled back with the profile")
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.register(t, "Siti", "siti@desa.id")

	res, err := f.svc.Login(ctx, LoginRequest{Email: "siti@desa.id", Password: "rahasia"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, Session{Role: "member", Name: "Siti", ID: m.ID, Email: "siti@desa.id", JoinDate: "2024-05-02"}, res.Session)

	_, err = f.svc.Login(ctx, LoginRequest{Email: "siti@desa.id", Password: "salah!"})
	assert.True(t, apierr.HasReason(err, apierr.ReasonInvalidCredentials))

	admin := f.admin(t)
	_, err = f.svc.UpdateStatus(ctx, admin, m.ID, StatusBlocked)
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, LoginRequest{Email: "siti@desa.id", Password: "rahasia"})
	assert.True(t, apierr.HasReason(err, apierr.ReasonMemberBlocked))
	assert.Equal(t, http.StatusForbidden, apierr.ToHTTPStatus(err))

	_, err = f.svc.UpdateStatus(ctx, admin, m.ID, StatusActive)
	require.NoError(t, err)
	_, err = f.svc.Login(ctx, LoginRequest{Email: "siti@desa.id", Password: "rahasia"})
	assert.NoError(t, err)
}

func TestUpdateStatusRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.admin(t)
	m := f.register(t, "Siti", "siti@desa.id")

	_, err := f.svc.UpdateStatus(ctx, admin, m.ID, Status("suspended"))
	assert.True(t, apierr.Is(err, apierr.CodeInvalidArgument))

	_, err = f.svc.UpdateStatus(ctx, admin, "missing", StatusPending)
	assert.True(t, apierr.Is(err, apierr.CodeNotFound))

	_, err = f.svc.UpdateStatus(ctx, admin, admin.ID, StatusBlocked)
	assert.True(t, apierr.Is(err, apierr.CodeInvalidArgument))

	got, err := f.svc.UpdateStatus(ctx, admin, m.ID, StatusPending)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	// 同じ状態への変更は 0 件更新ではなく成功扱い
	got, err = f.svc.UpdateStatus(ctx, admin, m.ID, StatusPending)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	pending := StatusPending
	list, err := f.svc.List(ctx, Filter{Status: &pending})
	require.NoError(t, err)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, m.ID, list.Items[0].ID)
}

func TestGetOnlySelfOrAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "A", "a@desa.id")
	b := f.register(t, "B", "b@desa.id")

	_, err := f.svc.Get(ctx, auth.Principal{ID: a.ID, Role: auth.RoleMember}, b.ID)
	assert.True(t, apierr.Is(err, apierr.CodeForbidden))

	got, err := f.svc.Get(ctx, auth.Principal{ID: a.ID, Role: auth.RoleMember}, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)

	list, err := f.svc.List(ctx, Filter{Q: "B@DESA"})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, b.ID, list.Items[0].ID)
}

func TestUpdateProfileChangesEmailEverywhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "A", "a@desa.id")
	f.register(t, "B", "b@desa.id")

	taken := "b@desa.id"
	_, err := f.svc.UpdateProfile(ctx, a.ID, UpdateProfileRequest{Email: &taken})
	assert.True(t, apierr.HasReason(err, apierr.ReasonEmailTaken))

	name, email := "Ani", "ani@desa.id"
	got, err := f.svc.UpdateProfile(ctx, a.ID, UpdateProfileRequest{Name: &name, Email: &email})
	require.NoError(t, err)
	assert.Equal(t, "Ani", got.Name)

	_, err = f.svc.Login(ctx, LoginRequest{Email: "ani@desa.id", Password: "rahasia"})
	assert.NoError(t, err)
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.admin(t)

	created, err := f.svc.EnsureAdmin(ctx, "admin@desa.id", "other-pass", "Admin")
	require.NoError(t, err)
	assert.False(t, created)
	// every restart runs it again against an account that is already admin
	created, err = f.svc.EnsureAdmin(ctx, "admin@desa.id", "other-pass", "Admin")
	require.NoError(t, err)
	assert.False(t, created)

	// the original password still works
	res, err := f.svc.Login(ctx, LoginRequest{Email: "admin@desa.id", Password: "admin-pass"})
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, res.Session.Role)

	_, err = f.svc.EnsureAdmin(ctx, "", "", "")
	assert.Error(t, err)
}

func TestHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	f.admin(t)

	r := gin.New()
	RegisterRoutes(r, f.svc, testSecret)

	do := func(method, path, token string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodPost, "/auth/register", "", RegisterRequest{Name: "Siti", Email: "siti@desa.id", Password: "rahasia", PasswordConfirm: "rahasia"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var m Member
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, "/api/v1/members/"+m.ID, w.Header().Get("Location"))

	w = do(http.MethodPost, "/auth/login", "", LoginRequest{Email: "siti@desa.id", Password: "nope12"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":"INVALID_CREDENTIALS"`)

	w = do(http.MethodPost, "/auth/login", "", LoginRequest{Email: "siti@desa.id", Password: "rahasia"})
	require.Equal(t, http.StatusOK, w.Code)
	var login LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))

	w = do(http.MethodGet, "/me", login.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"joinDate":"2024-05-02"`)

	w = do(http.MethodGet, "/members", login.Token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(http.MethodPost, "/auth/login", "", LoginRequest{Email: "admin@desa.id", Password: "admin-pass"})
	require.Equal(t, http.StatusOK, w.Code)
	var adminLogin LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &adminLogin))

	w = do(http.MethodPatch, "/members/"+m.ID+"/status", adminLogin.Token, UpdateStatusRequest{Status: StatusBlocked})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(http.MethodGet, "/members", adminLogin.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list ListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Total)
}
