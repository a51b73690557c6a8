// Package store provides an in-memory adherence.Store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/medication-tracker/adherence"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps users, medications and logs in maps. The (medication, date)
// index enforces the one-entry-per-day invariant exactly like the SQL
// unique index does.
type Memory struct {
	mu    sync.RWMutex
	users map[adherence.UserID]adherence.User
	meds  map[adherence.MedicationID]adherence.Medication
	logs  map[adherence.LogID]adherence.LogEntry
	byDay map[dayKey]adherence.LogID

	nextUser, nextMed, nextLog int64

	faults map[string]error
	hooks  map[string]func()
}

type dayKey struct {
	MedicationID adherence.MedicationID
	Date         adherence.DateKey
}

func NewMemory() *Memory {
	return &Memory{
		users:  make(map[adherence.UserID]adherence.User),
		meds:   make(map[adherence.MedicationID]adherence.Medication),
		logs:   make(map[adherence.LogID]adherence.LogEntry),
		byDay:  make(map[dayKey]adherence.LogID),
		faults: make(map[string]error),
		hooks:  make(map[string]func()),
	}
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

// Fail makes every call of the named method (e.g. "FindLog") return err
// until cleared with Fail(op, nil).
func (m *Memory) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = err
}

// Once runs fn the next time the named method is entered, before it takes
// the lock. Tests use it to interleave a competing writer.
func (m *Memory) Once(op string, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[op] = fn
}

func (m *Memory) enter(op string) error {
	m.mu.Lock()
	fn := m.hooks[op]
	delete(m.hooks, op)
	err := m.faults[op]
	m.mu.Unlock()

	if fn != nil {
		fn()
	}
	return err
}

// =============================================================================
// LOGS
// =============================================================================

func (m *Memory) FindLog(_ context.Context, medicationID adherence.MedicationID, date adherence.DateKey) (*adherence.LogEntry, error) {
	if err := m.enter("FindLog"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byDay[dayKey{medicationID, date}]
	if !ok {
		return nil, nil
	}
	entry := m.logs[id]
	return &entry, nil
}

func (m *Memory) InsertLog(_ context.Context, entry adherence.LogEntry) (adherence.LogEntry, error) {
	if err := m.enter("InsertLog"); err != nil {
		return adherence.LogEntry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := dayKey{entry.MedicationID, entry.Date}
	if _, exists := m.byDay[k]; exists {
		return adherence.LogEntry{}, adherence.ErrDuplicateDay
	}
	m.nextLog++
	entry.ID = adherence.LogID(m.nextLog)
	m.logs[entry.ID] = entry
	m.byDay[k] = entry.ID
	return entry, nil
}

func (m *Memory) SetTaken(_ context.Context, id adherence.LogID, taken bool) error {
	if err := m.enter("SetTaken"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.logs[id]
	if !ok {
		return &adherence.NotFoundError{Resource: "log entry", ID: int64(id)}
	}
	entry.Taken = taken
	m.logs[id] = entry
	return nil
}

func (m *Memory) CountTaken(_ context.Context, medicationID adherence.MedicationID) (int, error) {
	if err := m.enter("CountTaken"); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, entry := range m.logs {
		if entry.MedicationID == medicationID && entry.Taken {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListLogs(_ context.Context, medicationID adherence.MedicationID) ([]adherence.LogEntry, error) {
	if err := m.enter("ListLogs"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []adherence.LogEntry
	for _, entry := range m.logs {
		if entry.MedicationID == medicationID {
			result = append(result, entry)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date > result[j].Date
	})
	return result, nil
}

// LogCount returns the number of stored entries for a medication, taken or
// not. Test helper.
func (m *Memory) LogCount(medicationID adherence.MedicationID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, entry := range m.logs {
		if entry.MedicationID == medicationID {
			n++
		}
	}
	return n
}

// =============================================================================
// MEDICATIONS
// =============================================================================

func (m *Memory) CreateMedication(_ context.Context, med adherence.Medication) (adherence.Medication, error) {
	if err := m.enter("CreateMedication"); err != nil {
		return adherence.Medication{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextMed++
	med.ID = adherence.MedicationID(m.nextMed)
	m.meds[med.ID] = med
	return med, nil
}

func (m *Memory) GetMedication(_ context.Context, id adherence.MedicationID) (*adherence.Medication, error) {
	if err := m.enter("GetMedication"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	med, ok := m.meds[id]
	if !ok {
		return nil, nil
	}
	return &med, nil
}

func (m *Memory) ListMedications(_ context.Context, userID adherence.UserID) ([]adherence.Medication, error) {
	if err := m.enter("ListMedications"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.medicationsOf(userID), nil
}

func (m *Memory) ListMedicationStatus(_ context.Context, userID adherence.UserID, day adherence.DateKey) ([]adherence.MedicationStatus, error) {
	if err := m.enter("ListMedicationStatus"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	meds := m.medicationsOf(userID)
	result := make([]adherence.MedicationStatus, len(meds))
	for i, med := range meds {
		result[i] = adherence.MedicationStatus{Medication: med}
		if id, ok := m.byDay[dayKey{med.ID, day}]; ok {
			result[i].TakenToday = m.logs[id].Taken
		}
	}
	return result, nil
}

func (m *Memory) medicationsOf(userID adherence.UserID) []adherence.Medication {
	var result []adherence.Medication
	for _, med := range m.meds {
		if med.UserID == userID {
			result = append(result, med)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (m *Memory) UpdateMedication(_ context.Context, id adherence.MedicationID, u adherence.MedicationUpdate) (bool, error) {
	if err := m.enter("UpdateMedication"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	med, ok := m.meds[id]
	if !ok {
		return false, nil
	}
	med.Name, med.Dosage, med.Frequency = u.Name, u.Dosage, u.Frequency
	m.meds[id] = med
	return true, nil
}

func (m *Memory) DeleteMedication(_ context.Context, id adherence.MedicationID) (bool, error) {
	if err := m.enter("DeleteMedication"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.meds[id]; !ok {
		return false, nil
	}
	for logID, entry := range m.logs {
		if entry.MedicationID == id {
			delete(m.logs, logID)
			delete(m.byDay, dayKey{id, entry.Date})
		}
	}
	delete(m.meds, id)
	return true, nil
}

// =============================================================================
// USERS
// =============================================================================

func (m *Memory) CreateUser(_ context.Context, u adherence.User) (adherence.User, error) {
	if err := m.enter("CreateUser"); err != nil {
		return adherence.User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Username == u.Username {
			return adherence.User{}, adherence.ErrDuplicateUsername
		}
	}
	m.nextUser++
	u.ID = adherence.UserID(m.nextUser)
	m.users[u.ID] = u
	return u, nil
}

func (m *Memory) GetUser(_ context.Context, id adherence.UserID) (*adherence.User, error) {
	if err := m.enter("GetUser"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *Memory) GetUserByUsername(_ context.Context, username string) (*adherence.User, error) {
	if err := m.enter("GetUserByUsername"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListUsersByRole(_ context.Context, role adherence.Role) ([]adherence.User, error) {
	if err := m.enter("ListUsersByRole"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []adherence.User
	for _, u := range m.users {
		if u.Role == role {
			result = append(result, u)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

var _ adherence.Store = (*Memory)(nil)
