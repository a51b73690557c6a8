/*
handlers.go - HTTP API handlers for the medication tracker

ENDPOINTS:
  Auth:
    POST   /api/auth/signup                     Create account
    POST   /api/auth/login                      Issue token

  Medications (patient owns, caretaker reads):
    GET    /api/medications                     Own medications + today's taken flag
    POST   /api/medications                     Create
    PUT    /api/medications/{id}                Update name/dosage/frequency
    DELETE /api/medications/{id}                Delete with its log
    PATCH  /api/medications/{id}/mark-taken     Idempotent "taken today"
    GET    /api/medications/{id}/adherence      Percentage over the window
    GET    /api/medications/{id}/history        Daily log, newest first

  Caretaker:
    GET    /api/caretaker/patients              All patients
    GET    /api/caretaker/medications/{user_id} A patient's medications + today's flag

ERROR HANDLING:
  Errors are returned as JSON {error, kind, details} with status from the
  error's kind:
  - 400: invalid_input
  - 401: unauthorized
  - 403: forbidden
  - 404: not_found
  - 409: conflict
  - 503: unavailable (retry is safe)
  - 500: internal

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/medication-tracker/adherence"
	"github.com/warp/medication-tracker/auth"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       adherence.Store
	Engine      *adherence.Engine
	Reconciler  *adherence.Reconciler
	Medications *adherence.Medications
	Auth        *auth.Service
	Logger      *zap.Logger
	Metrics     *Metrics
}

// NewHandler wires the core services over store. days decides what "today"
// is for every request.
func NewHandler(store adherence.Store, days adherence.DateKeyProvider, authSvc *auth.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:       store,
		Engine:      adherence.NewEngine(store, days),
		Reconciler:  adherence.NewReconciler(store, days),
		Medications: adherence.NewMedications(store, days),
		Auth:        authSvc,
		Logger:      logger,
		Metrics:     NewMetrics(),
	}
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// Signup creates a patient or caretaker account.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	user, err := h.Auth.Signup(r.Context(), req.Username, req.Password, adherence.Role(req.Role))
	if err != nil {
		h.fail(w, r, "Failed to sign up", err)
		return
	}

	h.Logger.Info("user signed up",
		zap.Int64("user_id", int64(user.ID)),
		zap.String("role", string(user.Role)))
	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

// Login returns a bearer token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	token, user, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, r, "Login failed", err)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{Token: token, User: toUserDTO(user)})
}

// =============================================================================
// MEDICATION HANDLERS
// =============================================================================

// ListMedications returns the caller's medications with today's taken flag.
func (h *Handler) ListMedications(w http.ResponseWriter, r *http.Request) {
	claims := mustClaims(r)

	statuses, err := h.Engine.Today(r.Context(), claims.UserID)
	if err != nil {
		h.fail(w, r, "Failed to fetch medications", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusDTOs(statuses))
}

// CreateMedication registers a medication for the calling patient.
func (h *Handler) CreateMedication(w http.ResponseWriter, r *http.Request) {
	claims := mustClaims(r)

	var req MedicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	med, err := h.Medications.Create(r.Context(), claims.UserID, req.toUpdate())
	if err != nil {
		h.fail(w, r, "Failed to add medication", err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: int64(med.ID)})
}

// UpdateMedication changes a medication's details.
func (h *Handler) UpdateMedication(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorized(w, r, true)
	if !ok {
		return
	}

	var req MedicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Medications.Update(r.Context(), id, req.toUpdate()); err != nil {
		h.fail(w, r, "Failed to update medication", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Medication updated successfully"})
}

// DeleteMedication removes a medication and its log.
func (h *Handler) DeleteMedication(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorized(w, r, true)
	if !ok {
		return
	}

	if err := h.Medications.Delete(r.Context(), id); err != nil {
		h.fail(w, r, "Failed to delete medication", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Medication deleted successfully"})
}

// MarkTaken records today's dose. Safe to repeat.
func (h *Handler) MarkTaken(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorized(w, r, true)
	if !ok {
		return
	}

	entry, err := h.Reconciler.MarkTaken(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to log medication", err)
		return
	}

	h.Metrics.DosesMarked.Inc()
	h.Logger.Debug("marked taken",
		zap.Int64("medication_id", int64(id)),
		zap.String("date", entry.Date.String()),
		zap.Int64("log_id", int64(entry.ID)))
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Marked as taken"})
}

// GetAdherence returns the adherence percentage.
func (h *Handler) GetAdherence(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorized(w, r, false)
	if !ok {
		return
	}

	report, err := h.Engine.Compute(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to calculate adherence", err)
		return
	}

	h.Metrics.AdherenceComputed.Inc()
	writeJSON(w, http.StatusOK, AdherenceDTO{
		Adherence:  report.Display(),
		TakenCount: report.TakenCount,
		TotalDays:  report.TotalDays,
	})
}

// GetHistory returns the daily log, most recent first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorized(w, r, false)
	if !ok {
		return
	}

	records, err := h.Engine.History(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to fetch history", err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryDTOs(records))
}

// =============================================================================
// CARETAKER HANDLERS
// =============================================================================

// ListPatients returns every patient account.
func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.Store.ListUsersByRole(r.Context(), adherence.RolePatient)
	if err != nil {
		h.fail(w, r, "Failed to fetch patients", &adherence.StorageError{Op: "list patients", Err: err})
		return
	}

	dtos := make([]UserDTO, len(patients))
	for i, p := range patients {
		dtos[i] = UserDTO{ID: int64(p.ID), Username: p.Username}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListPatientMedications returns a patient's medications with today's flag.
func (h *Handler) ListPatientMedications(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(r, "user_id")
	if err != nil {
		h.fail(w, r, "Invalid user id", err)
		return
	}

	statuses, err := h.Engine.Today(r.Context(), adherence.UserID(userID))
	if err != nil {
		h.fail(w, r, "Failed to fetch medications", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusDTOs(statuses))
}

// =============================================================================
// HEALTH
// =============================================================================

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports whether the store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unreachable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ACCESS CONTROL
// =============================================================================

// authorized parses {id} and checks the caller may act on that medication:
// the owning patient may do anything, a caretaker may only read. It writes
// the error response itself and reports false when the request must stop.
func (h *Handler) authorized(w http.ResponseWriter, r *http.Request, write bool) (adherence.MedicationID, bool) {
	raw, err := parseID(r, "id")
	if err != nil {
		h.fail(w, r, "Invalid medication id", err)
		return 0, false
	}
	id := adherence.MedicationID(raw)

	med, err := h.Medications.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to fetch medication", err)
		return 0, false
	}

	claims := mustClaims(r)
	switch {
	case claims.Role == adherence.RolePatient && claims.UserID == med.UserID:
		return id, true
	case claims.Role == adherence.RoleCaretaker && !write:
		return id, true
	default:
		h.fail(w, r, "Not allowed to access this medication", auth.ErrForbidden)
		return 0, false
	}
}

// mustClaims returns the caller's claims. Routes using it sit behind
// auth.Middleware, so absence is a wiring bug.
func mustClaims(r *http.Request) *auth.Claims {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		panic("api: handler reached without auth middleware")
	}
	return claims
}

// =============================================================================
// HELPERS
// =============================================================================

func parseID(r *http.Request, param string) (int64, error) {
	raw := chi.URLParam(r, param)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &adherence.InvalidInputError{Field: param, Value: raw, Err: err}
	}
	return id, nil
}

// fail maps err to a status, logs server-side failures, and writes the
// error body.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status, kind := classify(err)
	if status >= http.StatusInternalServerError {
		h.Metrics.ServerErrors.WithLabelValues(kind).Inc()
		h.Logger.Error(message,
			zap.Error(err),
			zap.String("kind", kind),
			zap.String("request_id", middleware.GetReqID(r.Context())))
		// Storage details stay in the log.
		writeJSON(w, status, ErrorResponse{Error: message, Kind: kind})
		return
	}
	writeJSON(w, status, ErrorResponse{Error: message, Kind: kind, Details: err.Error()})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	}

	kind := adherence.KindOf(err)
	switch kind {
	case adherence.KindInvalidInput:
		return http.StatusBadRequest, string(kind)
	case adherence.KindNotFound:
		return http.StatusNotFound, string(kind)
	case adherence.KindConflict:
		return http.StatusConflict, string(kind)
	case adherence.KindUnavailable:
		return http.StatusServiceUnavailable, string(kind)
	default:
		return http.StatusInternalServerError, string(adherence.KindInternal)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
