/*
store.go - Persistence interfaces for users, medications, and daily logs

PURPOSE:
  Defines the boundary between the adherence core and the database. The
  Reconciler and Engine receive a Store explicitly; there is no package-level
  handle. Tests substitute the in-memory implementation.

UNIQUENESS CONTRACT:
  InsertLog MUST reject a second entry for the same (MedicationID, Date)
  with ErrDuplicateDay. This is what makes concurrent first-of-day
  MarkTaken calls converge on a single row.

ABSENCE:
  Lookups return (nil, nil) when the row does not exist. Errors are reserved
  for store failures.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go:   SQLite, unique index on logs(medication_id, date)
  - adherence/store/memory.go: in-memory, for tests and development
*/
package adherence

import "context"

// LogStore persists daily log entries.
type LogStore interface {
	// FindLog returns the entry for (medicationID, date), or nil.
	FindLog(ctx context.Context, medicationID MedicationID, date DateKey) (*LogEntry, error)

	// InsertLog creates an entry and returns it with its ID assigned.
	// Returns ErrDuplicateDay if one already exists for the day.
	InsertLog(ctx context.Context, entry LogEntry) (LogEntry, error)

	// SetTaken updates the taken flag of an existing entry.
	SetTaken(ctx context.Context, id LogID, taken bool) error

	// CountTaken counts entries with taken = true across all history.
	CountTaken(ctx context.Context, medicationID MedicationID) (int, error)

	// ListLogs returns all entries for a medication, most recent date first.
	ListLogs(ctx context.Context, medicationID MedicationID) ([]LogEntry, error)
}

// MedicationStore persists medications.
type MedicationStore interface {
	CreateMedication(ctx context.Context, m Medication) (Medication, error)
	GetMedication(ctx context.Context, id MedicationID) (*Medication, error)
	ListMedications(ctx context.Context, userID UserID) ([]Medication, error)

	// ListMedicationStatus returns the user's medications with the taken flag
	// of their log entry for day (false when there is none).
	ListMedicationStatus(ctx context.Context, userID UserID, day DateKey) ([]MedicationStatus, error)

	// UpdateMedication changes the mutable fields. Returns false if absent.
	UpdateMedication(ctx context.Context, id MedicationID, u MedicationUpdate) (bool, error)

	// DeleteMedication removes the medication and all its log entries.
	// Returns false if absent.
	DeleteMedication(ctx context.Context, id MedicationID) (bool, error)
}

// UserStore persists accounts.
type UserStore interface {
	// CreateUser returns ErrDuplicateUsername if the username is taken.
	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id UserID) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsersByRole(ctx context.Context, role Role) ([]User, error)
}

// Store is everything the service needs.
type Store interface {
	LogStore
	MedicationStore
	UserStore
}
