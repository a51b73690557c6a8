/*
Package adherence is the domain core of the medication tracker.

PURPOSE:
  Holds the types shared by every layer (users, medications, daily log
  entries), the calendar-day key used to segment logs, the store
  interfaces, and the two operations with real semantics:

    Reconciler.MarkTaken   idempotent "taken today" upsert
    Engine.Compute         adherence percentage over the medication's window

KEY INVARIANT:
  At most one LogEntry exists per (MedicationID, DateKey). Stores enforce it
  with a unique key; the Reconciler merges into the existing row when a
  concurrent caller inserted first.

SEE ALSO:
  - datekey.go:   DateKey and DateKeyProvider
  - store.go:     persistence interfaces
  - errors.go:    error taxonomy
*/
package adherence

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	UserID       int64
	MedicationID int64
	LogID        int64
)

// =============================================================================
// USERS
// =============================================================================

// Role separates the two classes of users.
type Role string

const (
	RolePatient   Role = "patient"
	RoleCaretaker Role = "caretaker"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RolePatient || r == RoleCaretaker
}

// User is an account. PasswordHash is a bcrypt hash, never the password.
type User struct {
	ID           UserID
	Username     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

// =============================================================================
// MEDICATIONS
// =============================================================================

// Medication is owned by exactly one user. CreatedAt anchors the adherence
// window and never changes after insert.
type Medication struct {
	ID        MedicationID
	UserID    UserID
	Name      string
	Dosage    string
	Frequency string
	CreatedAt time.Time
}

// MedicationUpdate carries the mutable fields of a medication.
type MedicationUpdate struct {
	Name      string
	Dosage    string
	Frequency string
}

// MedicationStatus is a medication together with whether it was taken on a
// given day.
type MedicationStatus struct {
	Medication
	TakenToday bool
}

// =============================================================================
// DAILY LOG
// =============================================================================

// LogEntry records whether a medication was taken on one calendar day.
type LogEntry struct {
	ID           LogID
	MedicationID MedicationID
	Date         DateKey
	Taken        bool
}

// DayRecord is the read model returned by history queries.
type DayRecord struct {
	Date  DateKey
	Taken bool
}
