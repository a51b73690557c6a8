/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Response wrappers

FIELD NAMES:
  Medication rows use the snake_case column names the web client already
  reads (user_id, created_at). The adherence payload keeps its camelCase
  keys (takenCount, totalDays) for the same reason.

VALIDATION:
  Validation is done in handlers and services, not in DTOs.
*/
package api

import (
	"time"

	"github.com/warp/medication-tracker/adherence"
)

// =============================================================================
// AUTH
// =============================================================================

type SignupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type UserDTO struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
}

type LoginResponse struct {
	Token string  `json:"token"`
	User  UserDTO `json:"user"`
}

func toUserDTO(u adherence.User) UserDTO {
	return UserDTO{ID: int64(u.ID), Username: u.Username, Role: string(u.Role)}
}

// =============================================================================
// MEDICATIONS
// =============================================================================

// MedicationRequest is the body of create and update.
type MedicationRequest struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
}

func (r MedicationRequest) toUpdate() adherence.MedicationUpdate {
	return adherence.MedicationUpdate{Name: r.Name, Dosage: r.Dosage, Frequency: r.Frequency}
}

type MedicationDTO struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	CreatedAt string `json:"created_at"`
	// Taken is 1 when today's dose is logged. Only set by list endpoints.
	Taken *int `json:"taken,omitempty"`
}

func toMedicationDTO(m adherence.Medication) MedicationDTO {
	return MedicationDTO{
		ID:        int64(m.ID),
		UserID:    int64(m.UserID),
		Name:      m.Name,
		Dosage:    m.Dosage,
		Frequency: m.Frequency,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toStatusDTOs(statuses []adherence.MedicationStatus) []MedicationDTO {
	dtos := make([]MedicationDTO, len(statuses))
	for i, st := range statuses {
		dtos[i] = toMedicationDTO(st.Medication)
		taken := boolToInt(st.TakenToday)
		dtos[i].Taken = &taken
	}
	return dtos
}

type CreatedResponse struct {
	ID int64 `json:"id"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// =============================================================================
// ADHERENCE
// =============================================================================

type AdherenceDTO struct {
	Adherence  string `json:"adherence"`
	TakenCount int    `json:"takenCount"`
	TotalDays  int    `json:"totalDays"`
}

type HistoryEntryDTO struct {
	Date  string `json:"date"`
	Taken int    `json:"taken"`
}

func toHistoryDTOs(records []adherence.DayRecord) []HistoryEntryDTO {
	dtos := make([]HistoryEntryDTO, len(records))
	for i, rec := range records {
		dtos[i] = HistoryEntryDTO{Date: rec.Date.String(), Taken: boolToInt(rec.Taken)}
	}
	return dtos
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
