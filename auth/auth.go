/*
Package auth handles accounts and bearer tokens.

PURPOSE:
  Signup hashes the password with bcrypt and stores the account.
  Login checks the password and issues an HS256 JWT carrying the user id
  and role. Middleware verifies the token on each request and puts the
  claims in the request context; RequireRole gates routes by role.

TOKENS:
  Claims: sub (user id as string), uid, role, iat, exp. Default lifetime
  24h. Tokens are stateless; there is no revocation list.
*/
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/medication-tracker/adherence"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrForbidden          = errors.New("forbidden")
)

// Claims is the JWT payload.
type Claims struct {
	UserID adherence.UserID `json:"uid"`
	Role   adherence.Role   `json:"role"`
	jwt.RegisteredClaims
}

// Options configures a Service. Zero values take defaults.
type Options struct {
	TokenTTL   time.Duration
	BcryptCost int
	Now        func() time.Time
}

// Service implements signup, login and token verification.
type Service struct {
	users  adherence.UserStore
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
}

func NewService(users adherence.UserStore, secret string, opts Options) *Service {
	s := &Service{
		users:  users,
		secret: []byte(secret),
		ttl:    opts.TokenTTL,
		cost:   opts.BcryptCost,
		now:    opts.Now,
	}
	if s.ttl <= 0 {
		s.ttl = 24 * time.Hour
	}
	if s.cost == 0 {
		s.cost = bcrypt.DefaultCost
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Signup creates an account. Usernames are unique.
func (s *Service) Signup(ctx context.Context, username, password string, role adherence.Role) (adherence.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return adherence.User{}, &adherence.InvalidInputError{Field: "username", Value: username}
	}
	if password == "" {
		return adherence.User{}, &adherence.InvalidInputError{Field: "password", Value: "(empty)"}
	}
	if !role.Valid() {
		return adherence.User{}, &adherence.InvalidInputError{Field: "role", Value: role}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		// bcrypt rejects passwords longer than 72 bytes.
		return adherence.User{}, &adherence.InvalidInputError{Field: "password", Value: "(redacted)", Err: err}
	}

	user, err := s.users.CreateUser(ctx, adherence.User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, adherence.ErrConflict) {
			return adherence.User{}, err
		}
		return adherence.User{}, &adherence.StorageError{Op: "create user", Err: err}
	}
	return user, nil
}

// Login checks credentials and returns a signed token.
func (s *Service) Login(ctx context.Context, username, password string) (string, adherence.User, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return "", adherence.User{}, &adherence.StorageError{Op: "load user", Err: err}
	}
	if user == nil {
		return "", adherence.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", adherence.User{}, ErrInvalidCredentials
	}

	token, err := s.Issue(*user)
	if err != nil {
		return "", adherence.User{}, err
	}
	return token, *user, nil
}

// Issue signs a token for user.
func (s *Service) Issue(user adherence.User) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: user.ID,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(int64(user.ID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token.
func (s *Service) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID <= 0 || !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: missing uid or role", ErrInvalidToken)
	}
	return claims, nil
}

// =============================================================================
// CONTEXT
// =============================================================================

type contextKey struct{}

// WithClaims returns a context carrying claims.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the claims set by Middleware, if any.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(contextKey{}).(*Claims)
	return c, ok && c != nil
}
