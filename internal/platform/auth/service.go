package auth

import (
	"context"
	"database/sql"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"libportal/internal/platform/apierr"
	"libportal/internal/platform/clock"
	"libportal/internal/platform/db"
	"libportal/internal/platform/ids"
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"

	MinPasswordLength = 6
)

type Service struct {
	store  *Store
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
	id     ids.IDGen
	cost   int
}

func NewService(conn *sql.DB, secret []byte, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		store:  NewStore(conn),
		secret: secret,
		ttl:    ttl,
		clock:  clock.Real{},
		id:     ids.NewULID(),
		cost:   bcrypt.DefaultCost,
	}
}

// WithCost は bcrypt のコストを変える。テストでは bcrypt.MinCost を使う。
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

func (s *Service) WithClock(c clock.Clock) *Service {
	s.clock = c
	return s
}

func (s *Service) Secret() []byte { return s.secret }

func (s *Service) Store() *Store { return s.store }

// NormalizeEmail trims and lower-cases; emails are compared in this form everywhere.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func ValidateEmail(email string) error {
	if email == "" {
		return apierr.ErrInvalid("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return apierr.ErrInvalid("email is not a valid address")
	}
	return nil
}

// ValidatePassword checks length first, then the confirmation.
func ValidatePassword(password, confirm string) error {
	if len(password) < MinPasswordLength {
		return apierr.ErrInvalid("Password minimal 6 karakter").WithReason(apierr.ReasonPasswordTooShort)
	}
	if password != confirm {
		return apierr.ErrInvalid("Konfirmasi password tidak cocok").WithReason(apierr.ReasonPasswordMismatch)
	}
	return nil
}

func (s *Service) hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// CreateAccount inserts a new identity on q. Duplicate email → CONFLICT/EMAIL_TAKEN.
func (s *Service) CreateAccount(ctx context.Context, q db.DBTX, email, password, role string) (*Account, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}
	id, err := s.id.New()
	if err != nil {
		return nil, err
	}
	a := &Account{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.store.Create(ctx, q, a); err != nil {
		if db.IsDuplicateKey(err) {
			return nil, apierr.ErrConflict("email already registered").WithReason(apierr.ReasonEmailTaken)
		}
		return nil, err
	}
	return a, nil
}

// Authenticate verifies email + password. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	invalid := apierr.ErrUnauthenticated("Invalid login credentials").WithReason(apierr.ReasonInvalidCredentials)

	acct, err := s.store.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, invalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return nil, invalid
	}
	if acct.IsDisabled {
		return nil, apierr.ErrForbidden("account disabled").WithReason(apierr.ReasonMemberBlocked)
	}
	return acct, nil
}

// IssueToken は sub / role / exp / iat を持つ HS256 トークンを返す。
func (s *Service) IssueToken(a *Account) (string, time.Time, error) {
	now := s.clock.Now()
	exp := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  a.ID,
		"role": a.Role,
		"iat":  now.Unix(),
		"exp":  exp.Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (s *Service) ChangePassword(ctx context.Context, id, current, next, confirm string) error {
	acct, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if acct == nil {
		return apierr.ErrNotFound("account not found")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(current)); err != nil {
		return apierr.ErrUnauthenticated("current password is wrong").WithReason(apierr.ReasonInvalidCredentials)
	}
	if err := ValidatePassword(next, confirm); err != nil {
		return err
	}
	hash, err := s.hash(next)
	if err != nil {
		return err
	}
	n, err := s.store.UpdatePasswordHash(ctx, id, hash)
	if err != nil {
		return err
	}
	if n == 0 {
		return apierr.ErrNotFound("account not found")
	}
	return nil
}

func (s *Service) ChangeEmail(ctx context.Context, q db.DBTX, id, email string) error {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return err
	}
	n, err := s.store.UpdateEmail(ctx, q, id, email)
	if err != nil {
		if db.IsDuplicateKey(err) {
			return apierr.ErrConflict("email already registered").WithReason(apierr.ReasonEmailTaken)
		}
		return err
	}
	if n == 0 {
		return apierr.ErrNotFound("account not found")
	}
	return nil
}

// SetDisabled mirrors the member status onto the identity (blocked → disabled).
func (s *Service) SetDisabled(ctx context.Context, q db.DBTX, id string, disabled bool) error {
	_, err := s.store.SetDisabled(ctx, q, id, disabled)
	return err
}

// Promote sets the role of an existing identity and re-enables it.
func (s *Service) Promote(ctx context.Context, q db.DBTX, id, role string) error {
	n, err := s.store.SetRole(ctx, q, id, role)
	if err != nil {
		return err
	}
	if n == 0 {
		return apierr.ErrNotFound("account not found")
	}
	return nil
}

// ParseToken validates signature, algorithm and expiry and returns (sub, role).
func ParseToken(secret []byte, tokenStr string) (string, string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		// alg 固定（none攻撃とか回避）
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || token == nil || !token.Valid {
		return "", "", errors.New("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", errors.New("invalid claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", "", errors.New("invalid sub")
	}
	role, _ := claims["role"].(string)
	return sub, role, nil
}
