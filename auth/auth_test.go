package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/medication-tracker/adherence"
	"github.com/warp/medication-tracker/adherence/store"
	"github.com/warp/medication-tracker/auth"
)

var epoch = time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*auth.Service, *store.Memory, *time.Time) {
	t.Helper()
	now := epoch
	mem := store.NewMemory()
	svc := auth.NewService(mem, "test-secret", auth.Options{
		BcryptCost: bcrypt.MinCost,
		Now:        func() time.Time { return now },
	})
	return svc, mem, &now
}

func TestSignupAndLogin(t *testing.T) {
	svc, mem, _ := newService(t)
	ctx := context.Background()

	user, err := svc.Signup(ctx, "alice", "s3cret", adherence.RolePatient)
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.NotEqual(t, "s3cret", user.PasswordHash)

	stored, err := mem.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("s3cret")))

	token, loggedIn, err := svc.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, user.ID, loggedIn.ID)

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, adherence.RolePatient, claims.Role)
	// NumericDate parses into time.Local, so compare instants.
	assert.True(t, epoch.Add(24*time.Hour).Equal(claims.ExpiresAt.Time), "expires at %v", claims.ExpiresAt.Time)
}

func TestSignup_Validation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, "", "pw", adherence.RolePatient)
	assert.ErrorIs(t, err, adherence.ErrInvalidInput)
	_, err = svc.Signup(ctx, "bob", "", adherence.RolePatient)
	assert.ErrorIs(t, err, adherence.ErrInvalidInput)
	_, err = svc.Signup(ctx, "bob", "pw", adherence.Role("admin"))
	assert.ErrorIs(t, err, adherence.ErrInvalidInput)
	_, err = svc.Signup(ctx, "bob", strings.Repeat("x", 100), adherence.RolePatient)
	assert.ErrorIs(t, err, adherence.ErrInvalidInput)
}

func TestSignup_DuplicateUsername(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, "alice", "pw", adherence.RolePatient)
	require.NoError(t, err)
	_, err = svc.Signup(ctx, "alice", "other", adherence.RoleCaretaker)
	assert.ErrorIs(t, err, adherence.ErrDuplicateUsername)
	assert.Equal(t, adherence.KindConflict, adherence.KindOf(err))
}

func TestSignup_StoreFailure(t *testing.T) {
	svc, mem, _ := newService(t)
	mem.Fail("CreateUser", errors.New("disk full"))

	_, err := svc.Signup(context.Background(), "alice", "pw", adherence.RolePatient)
	assert.ErrorIs(t, err, adherence.ErrUnavailable)
}

func TestLogin_BadCredentials(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Signup(ctx, "alice", "pw", adherence.RolePatient)
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "nobody", "pw")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestVerify_Rejects(t *testing.T) {
	svc, _, now := newService(t)
	user := adherence.User{ID: 3, Role: adherence.RoleCaretaker}
	token, err := svc.Issue(user)
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		*now = epoch.Add(25 * time.Hour)
		defer func() { *now = epoch }()
		_, err := svc.Verify(token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := auth.NewService(store.NewMemory(), "another-secret", auth.Options{
			Now: func() time.Time { return epoch },
		})
		_, err := other.Verify(token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, auth.Claims{UserID: 3, Role: adherence.RoleCaretaker})
		s, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = svc.Verify(s)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.Verify("not.a.token")
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})
}

func TestMiddleware(t *testing.T) {
	svc, _, _ := newService(t)
	token, err := svc.Issue(adherence.User{ID: 9, Role: adherence.RolePatient})
	require.NoError(t, err)

	var seen *auth.Claims
	protected := svc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer abc", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	require.NotNil(t, seen)
	assert.Equal(t, adherence.UserID(9), seen.UserID)
}

func TestRequireRole(t *testing.T) {
	svc, _, _ := newService(t)
	patient, err := svc.Issue(adherence.User{ID: 1, Role: adherence.RolePatient})
	require.NoError(t, err)
	caretaker, err := svc.Issue(adherence.User{ID: 2, Role: adherence.RoleCaretaker})
	require.NoError(t, err)

	handler := svc.Middleware(auth.RequireRole(adherence.RoleCaretaker)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
	))

	for token, want := range map[string]int{patient: http.StatusForbidden, caretaker: http.StatusOK} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code)
	}
}
