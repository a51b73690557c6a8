/*
handlers_test.go - End-to-end tests for the HTTP surface

Tests for:
- Medication lifecycle (create, list, mark taken, adherence, history)
- Role-based access (owner, other patient, caretaker)
- Error kind to status mapping
- Rate limiting, health and metrics endpoints
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/medication-tracker/adherence"
	"github.com/warp/medication-tracker/adherence/store"
	"github.com/warp/medication-tracker/auth"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testServer struct {
	t       *testing.T
	router  http.Handler
	handler *Handler
	mem     *store.Memory
	days    *adherence.FixedDay
}

func newTestServer(t *testing.T, opts RouterOptions) *testServer {
	t.Helper()
	mem := store.NewMemory()
	days := adherence.NewFixedDay(adherence.NewDateKey(2024, 1, 1))
	// Tokens are issued and checked against a clock that stays put while
	// tests advance the day.
	issuedAt := days.Now()
	authSvc := auth.NewService(mem, "test-secret", auth.Options{
		BcryptCost: bcrypt.MinCost,
		Now:        func() time.Time { return issuedAt },
	})
	h := NewHandler(mem, days, authSvc, nil)
	return &testServer{t: t, router: NewRouter(h, opts), handler: h, mem: mem, days: days}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// register signs up and logs in, returning the bearer token and user id.
func (s *testServer) register(username string, role adherence.Role) (string, int64) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/auth/signup", "", SignupRequest{Username: username, Password: "pw", Role: string(role)})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/auth/login", "", LoginRequest{Username: username, Password: "pw"})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	login := decode[LoginResponse](s.t, rec)
	require.NotEmpty(s.t, login.Token)
	return login.Token, login.User.ID
}

func (s *testServer) createMedication(token, name string) int64 {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/medications", token, MedicationRequest{Name: name, Dosage: "10mg", Frequency: "daily"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[CreatedResponse](s.t, rec).ID
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func path(suffix string, id int64) string {
	return "/api/medications/" + strconv.FormatInt(id, 10) + suffix
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestMedicationLifecycle(t *testing.T) {
	// GIVEN: A patient with one medication created on 2024-01-01
	s := newTestServer(t, RouterOptions{})
	token, userID := s.register("alice", adherence.RolePatient)
	medID := s.createMedication(token, "Metformin")

	// WHEN: Listing before any dose
	rec := s.do(http.MethodGet, "/api/medications", token, nil)

	// THEN: Today's flag is 0
	require.Equal(t, http.StatusOK, rec.Code)
	meds := decode[[]MedicationDTO](t, rec)
	require.Len(t, meds, 1)
	assert.Equal(t, userID, meds[0].UserID)
	assert.Equal(t, "Metformin", meds[0].Name)
	require.NotNil(t, meds[0].Taken)
	assert.Equal(t, 0, *meds[0].Taken)

	// WHEN: Marking taken twice on the same day
	for i := 0; i < 2; i++ {
		rec = s.do(http.MethodPatch, path("/mark-taken", medID), token, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "Marked as taken", decode[MessageResponse](t, rec).Message)
	}

	// THEN: One log row exists and the list flag flips
	assert.Equal(t, 1, s.mem.LogCount(adherence.MedicationID(medID)))
	meds = decode[[]MedicationDTO](t, s.do(http.MethodGet, "/api/medications", token, nil))
	assert.Equal(t, 1, *meds[0].Taken)

	// WHEN: Two days pass and the dose is taken again
	s.days.Advance(2)
	rec = s.do(http.MethodPatch, path("/mark-taken", medID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// THEN: 2 of 3 days, rounded
	rec = s.do(http.MethodGet, path("/adherence", medID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, AdherenceDTO{Adherence: "67%", TakenCount: 2, TotalDays: 3}, decode[AdherenceDTO](t, rec))

	// THEN: History is newest first
	rec = s.do(http.MethodGet, path("/history", medID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []HistoryEntryDTO{
		{Date: "2024-01-03", Taken: 1},
		{Date: "2024-01-01", Taken: 1},
	}, decode[[]HistoryEntryDTO](t, rec))
}

func TestAdherence_FiveDayWindow(t *testing.T) {
	// GIVEN: Created 2024-01-01, taken on the 1st and 3rd
	s := newTestServer(t, RouterOptions{})
	token, _ := s.register("alice", adherence.RolePatient)
	medID := s.createMedication(token, "Lisinopril")

	rec := s.do(http.MethodPatch, path("/mark-taken", medID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	s.days.Advance(2)
	rec = s.do(http.MethodPatch, path("/mark-taken", medID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// WHEN: Computing on the 5th
	s.days.Advance(2)
	rec = s.do(http.MethodGet, path("/adherence", medID), token, nil)

	// THEN: 2/5
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, AdherenceDTO{Adherence: "40%", TakenCount: 2, TotalDays: 5}, decode[AdherenceDTO](t, rec))
}

func TestAdherence_NoDoses(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	token, _ := s.register("alice", adherence.RolePatient)
	medID := s.createMedication(token, "Aspirin")

	rec := s.do(http.MethodGet, path("/adherence", medID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, AdherenceDTO{Adherence: "0%", TakenCount: 0, TotalDays: 1}, decode[AdherenceDTO](t, rec))

	rec = s.do(http.MethodGet, path("/history", medID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestUpdateAndDelete(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	token, _ := s.register("alice", adherence.RolePatient)
	medID := s.createMedication(token, "Aspirin")
	rec := s.do(http.MethodPatch, path("/mark-taken", medID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, s.mem.LogCount(adherence.MedicationID(medID)))

	rec = s.do(http.MethodPut, path("", medID), token, MedicationRequest{Name: "Aspirin EC", Dosage: "81mg", Frequency: "daily"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	meds := decode[[]MedicationDTO](t, s.do(http.MethodGet, "/api/medications", token, nil))
	require.Len(t, meds, 1)
	assert.Equal(t, "Aspirin EC", meds[0].Name)
	assert.Equal(t, "81mg", meds[0].Dosage)

	rec = s.do(http.MethodDelete, path("", medID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, s.mem.LogCount(adherence.MedicationID(medID)))

	rec = s.do(http.MethodGet, path("/adherence", medID), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(http.MethodDelete, path("", medID), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// ACCESS CONTROL
// =============================================================================

func TestAccessControl(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	alice, aliceID := s.register("alice", adherence.RolePatient)
	bob, _ := s.register("bob", adherence.RolePatient)
	carol, _ := s.register("carol", adherence.RoleCaretaker)
	medID := s.createMedication(alice, "Metformin")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"no token", http.MethodGet, "/api/medications", "", nil, http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/medications", "junk", nil, http.StatusUnauthorized},
		{"other patient marks", http.MethodPatch, path("/mark-taken", medID), bob, nil, http.StatusForbidden},
		{"other patient reads", http.MethodGet, path("/adherence", medID), bob, nil, http.StatusForbidden},
		{"other patient deletes", http.MethodDelete, path("", medID), bob, nil, http.StatusForbidden},
		{"caretaker reads adherence", http.MethodGet, path("/adherence", medID), carol, nil, http.StatusOK},
		{"caretaker reads history", http.MethodGet, path("/history", medID), carol, nil, http.StatusOK},
		{"caretaker marks", http.MethodPatch, path("/mark-taken", medID), carol, nil, http.StatusForbidden},
		{"caretaker updates", http.MethodPut, path("", medID), carol, MedicationRequest{Name: "x"}, http.StatusForbidden},
		{"caretaker creates", http.MethodPost, "/api/medications", carol, MedicationRequest{Name: "x"}, http.StatusForbidden},
		{"patient lists patients", http.MethodGet, "/api/caretaker/patients", alice, nil, http.StatusForbidden},
		{"caretaker lists patients", http.MethodGet, "/api/caretaker/patients", carol, nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	// Nothing was written by the rejected calls.
	assert.Equal(t, 0, s.mem.LogCount(adherence.MedicationID(medID)))

	t.Run("caretaker sees patients and their medications", func(t *testing.T) {
		patients := decode[[]UserDTO](t, s.do(http.MethodGet, "/api/caretaker/patients", carol, nil))
		usernames := make([]string, len(patients))
		for i, p := range patients {
			usernames[i] = p.Username
			assert.Empty(t, p.Role)
		}
		assert.ElementsMatch(t, []string{"alice", "bob"}, usernames)

		rec := s.do(http.MethodGet, "/api/caretaker/medications/"+strconv.FormatInt(aliceID, 10), carol, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		meds := decode[[]MedicationDTO](t, rec)
		require.Len(t, meds, 1)
		assert.Equal(t, medID, meds[0].ID)
	})
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	token, _ := s.register("alice", adherence.RolePatient)
	medID := s.createMedication(token, "Metformin")

	t.Run("malformed id", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/api/medications/abc/adherence", token, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_input", decode[ErrorResponse](t, rec).Kind)
	})

	t.Run("unknown medication", func(t *testing.T) {
		rec := s.do(http.MethodPatch, "/api/medications/999/mark-taken", token, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Kind)
	})

	t.Run("missing name", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/medications", token, MedicationRequest{Name: "  "})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/medications", bytes.NewBufferString("{"))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("duplicate username", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/signup", "", SignupRequest{Username: "alice", Password: "x", Role: "patient"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "conflict", decode[ErrorResponse](t, rec).Kind)
	})

	t.Run("bad role", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/signup", "", SignupRequest{Username: "zed", Password: "x", Role: "admin"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "alice", Password: "nope"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "unauthorized", decode[ErrorResponse](t, rec).Kind)
	})

	t.Run("store unavailable", func(t *testing.T) {
		s.mem.Fail("CountTaken", errors.New("disk I/O error"))
		defer s.mem.Fail("CountTaken", nil)

		rec := s.do(http.MethodGet, path("/adherence", medID), token, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		body := decode[ErrorResponse](t, rec)
		assert.Equal(t, "unavailable", body.Kind)
		assert.Empty(t, body.Details)
	})

	t.Run("failed write leaves no row", func(t *testing.T) {
		s.mem.Fail("InsertLog", errors.New("disk I/O error"))
		rec := s.do(http.MethodPatch, path("/mark-taken", medID), token, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, 0, s.mem.LogCount(adherence.MedicationID(medID)))

		s.mem.Fail("InsertLog", nil)
		rec = s.do(http.MethodPatch, path("/mark-taken", medID), token, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, s.mem.LogCount(adherence.MedicationID(medID)))
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{&adherence.InvalidInputError{Field: "id"}, http.StatusBadRequest, "invalid_input"},
		{&adherence.NotFoundError{Resource: "medication", ID: 1}, http.StatusNotFound, "not_found"},
		{adherence.ErrDuplicateDay, http.StatusConflict, "conflict"},
		{&adherence.StorageError{Op: "x", Err: errors.New("boom")}, http.StatusServiceUnavailable, "unavailable"},
		{auth.ErrInvalidCredentials, http.StatusUnauthorized, "unauthorized"},
		{auth.ErrForbidden, http.StatusForbidden, "forbidden"},
		{errors.New("mystery"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		status, kind := classify(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.kind, kind, tt.err.Error())
	}
}

// =============================================================================
// OUTER SURFACE
// =============================================================================

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, RouterOptions{LoginRate: 0.001, LoginBurst: 2})

	for i := 0; i < 2; i++ {
		rec := s.do(http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "x", Password: "y"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := s.do(http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "x", Password: "y"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Other routes are not limited.
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", "", nil).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	token, _ := s.register("alice", adherence.RolePatient)
	medID := s.createMedication(token, "Metformin")
	rec := s.do(http.MethodPatch, path("/mark-taken", medID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `medtrack_doses_marked_total 1`)
	assert.Contains(t, body, `route="/healthz"`)
	assert.Contains(t, body, `route="/api/medications/{id}/mark-taken"`)
}
