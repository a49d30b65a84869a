package auth

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"libportal/internal/platform/apierr"
	"libportal/internal/platform/db/dbtest"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(dbtest.Open(t), testSecret, time.Hour).WithCost(bcrypt.MinCost)
}

func TestValidatePassword(t *testing.T) {
	assert.True(t, apierr.HasReason(ValidatePassword("12345", "12345"), apierr.ReasonPasswordTooShort))
	assert.True(t, apierr.HasReason(ValidatePassword("123456", "1234567"), apierr.ReasonPasswordMismatch))
	assert.NoError(t, ValidatePassword("123456", "123456"))
}

func TestCreateAndAuthenticate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	conn := svc.store.db

	acct, err := svc.CreateAccount(ctx, conn, "  Siti@Desa.ID ", "rahasia", RoleMember)
	require.NoError(t, err)
	assert.Equal(t, "siti@desa.id", acct.Email)
	assert.Len(t, acct.ID, 26)

	_, err = svc.CreateAccount(ctx, conn, "siti@desa.id", "other1", RoleMember)
	assert.True(t, apierr.HasReason(err, apierr.ReasonEmailTaken))

	got, err := svc.Authenticate(ctx, "SITI@desa.id", "rahasia")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)

	_, err = svc.Authenticate(ctx, "siti@desa.id", "wrong!")
	assert.True(t, apierr.HasReason(err, apierr.ReasonInvalidCredentials))
	_, err = svc.Authenticate(ctx, "nobody@desa.id", "rahasia")
	assert.True(t, apierr.HasReason(err, apierr.ReasonInvalidCredentials))

	require.NoError(t, svc.SetDisabled(ctx, conn, acct.ID, true))
	_, err = svc.Authenticate(ctx, "siti@desa.id", "rahasia")
	assert.True(t, apierr.Is(err, apierr.CodeForbidden))
}

func TestCreateAccountRejectsBadEmail(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreateAccount(context.Background(), svc.store.db, "not-an-email", "rahasia", RoleMember)
	assert.True(t, apierr.Is(err, apierr.CodeInvalidArgument))
}

func TestChangePassword(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	acct, err := svc.CreateAccount(ctx, svc.store.db, "budi@desa.id", "lama123", RoleMember)
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, acct.ID, "salah", "baru123", "baru123")
	assert.True(t, apierr.Is(err, apierr.CodeUnauthenticated))

	err = svc.ChangePassword(ctx, acct.ID, "lama123", "baru123", "baru124")
	assert.True(t, apierr.HasReason(err, apierr.ReasonPasswordMismatch))

	require.NoError(t, svc.ChangePassword(ctx, acct.ID, "lama123", "baru123", "baru123"))
	_, err = svc.Authenticate(ctx, "budi@desa.id", "baru123")
	assert.NoError(t, err)
}

func TestTokenRoundTrip(t *testing.T) {
	svc := newTestService(t)
	tok, exp, err := svc.IssueToken(&Account{ID: "01HX", Role: RoleAdmin})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	sub, role, err := ParseToken(testSecret, tok)
	require.NoError(t, err)
	assert.Equal(t, "01HX", sub)
	assert.Equal(t, RoleAdmin, role)

	_, _, err = ParseToken([]byte("another-secret"), tok)
	assert.Error(t, err)
}

func TestParseTokenRejectsExpiredAndNone(t *testing.T) {
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "x", "role": RoleMember, "exp": time.Now().Add(-time.Minute).Unix(),
	})
	s, err := expired.SignedString(testSecret)
	require.NoError(t, err)
	_, _, err = ParseToken(testSecret, s)
	assert.Error(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x", "exp": time.Now().Add(time.Hour).Unix()})
	s, err = none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, _, err = ParseToken(testSecret, s)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newTestService(t)
	member, _, _ := svc.IssueToken(&Account{ID: "m1", Role: RoleMember})
	admin, _, _ := svc.IssueToken(&Account{ID: "a1", Role: RoleAdmin})

	r := gin.New()
	authed := r.Group("/", RequireAuth(testSecret))
	authed.GET("/me", func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })
	authed.GET("/admin", RequireRole(RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(path, header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do("/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"UNAUTHENTICATED"`)

	w = do("/me", "Bearer "+member)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "m1", w.Body.String())

	w = do("/me?access_token="+member, "")
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusUnauthorized, do("/me", "Basic abc").Code)
	assert.Equal(t, http.StatusForbidden, do("/admin", "Bearer "+member).Code)
	assert.Equal(t, http.StatusOK, do("/admin", "Bearer "+admin).Code)
}

func TestChangePasswordHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newTestService(t)
	acct, err := svc.CreateAccount(context.Background(), svc.store.db, "rina@desa.id", "lama123", RoleMember)
	require.NoError(t, err)
	tok, _, _ := svc.IssueToken(acct)

	r := gin.New()
	RegisterRoutes(r.Group("/", RequireAuth(testSecret)), svc)

	body := `{"currentPassword":"lama123","newPassword":"baru123","confirmPassword":"baru123"}`
	req := httptest.NewRequest(http.MethodPut, "/me/password", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	req = httptest.NewRequest(http.MethodPut, "/me/password", bytes.NewBufferString(`{}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPrincipal(t *testing.T) {
	assert.True(t, Principal{ID: "a", Role: RoleAdmin}.CanActFor("b"))
	assert.True(t, Principal{ID: "a", Role: RoleMember}.CanActFor("a"))
	assert.False(t, Principal{ID: "a", Role: RoleMember}.CanActFor("b"))
	assert.False(t, Principal{}.CanActFor(""))
}
