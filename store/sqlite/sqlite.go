/*
Package sqlite provides a SQLite-backed implementation of adherence.Store.

TABLES:
  users:        accounts (username unique, role patient|caretaker)
  medications:  one row per medication, created_at anchors adherence
  logs:         one row per (medication_id, date), taken flag

UNIQUENESS:
  idx_logs_medication_date is a UNIQUE index on logs(medication_id, date).
  A second insert for the same day fails with a constraint error, which the
  store reports as adherence.ErrDuplicateDay. Databases written before the
  index existed may hold duplicate day rows; migrate() folds them into the
  oldest row (keeping taken = 1 if any duplicate had it) before creating
  the index.

LEGACY SCHEMA:
  The first version of the service created users without created_at.
  migrate() adds missing columns (checked via pragma_table_info) before
  any query reads them.

CASCADE:
  logs.medication_id references medications(id) ON DELETE CASCADE, and
  DeleteMedication also deletes logs explicitly inside the same SQL
  transaction so legacy tables without the cascade clause behave the same.

CONCURRENCY:
  Uses sync.RWMutex around database access, WAL journal mode, and a single
  connection for ":memory:" databases (each connection would otherwise see
  its own empty database).

USAGE:
  store, err := sqlite.New("./medication.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/medication-tracker/adherence"
)

// Store implements adherence.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ adherence.Store = (*Store)(nil)

// New opens (creating if needed) the database at dbPath and migrates it.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the schema and upgrades databases written by earlier
// versions of the service.
func (s *Store) migrate() error {
	tables := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL,
		role TEXT CHECK(role IN ('patient', 'caretaker')),
		created_at TEXT
	);

	CREATE TABLE IF NOT EXISTS medications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER,
		name TEXT,
		dosage TEXT,
		frequency TEXT,
		created_at TEXT,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_medications_user
		ON medications(user_id);

	CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		medication_id INTEGER NOT NULL,
		date TEXT NOT NULL,
		taken INTEGER DEFAULT 0,
		FOREIGN KEY (medication_id) REFERENCES medications(id) ON DELETE CASCADE
	);
	`
	if _, err := s.db.Exec(tables); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	// Older users tables have no created_at.
	if err := s.addColumnIfMissing("users", "created_at", "TEXT"); err != nil {
		return err
	}

	indexes := `
	-- Fold duplicate day rows left by writers that had no unique index.
	UPDATE logs SET taken = 1
		WHERE id IN (SELECT MIN(id) FROM logs GROUP BY medication_id, date HAVING MAX(taken) = 1);
	DELETE FROM logs
		WHERE id NOT IN (SELECT MIN(id) FROM logs GROUP BY medication_id, date);

	-- CRITICAL: one log row per medication per day
	CREATE UNIQUE INDEX IF NOT EXISTS idx_logs_medication_date
		ON logs(medication_id, date);
	`
	if _, err := s.db.Exec(indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// addColumnIfMissing adds column to table unless PRAGMA table_info already
// lists it.
func (s *Store) addColumnIfMissing(table, column, decl string) error {
	rows, err := s.db.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to inspect %s: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	rows.Close()

	if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("failed to add %s.%s: %w", table, column, err)
	}
	return nil
}

// =============================================================================
// LOGS (adherence.LogStore)
// =============================================================================

// FindLog returns the entry for a medication and day, or nil.
func (s *Store) FindLog(ctx context.Context, medicationID adherence.MedicationID, date adherence.DateKey) (*adherence.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e adherence.LogEntry
	var day string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, medication_id, date, COALESCE(taken, 0) FROM logs WHERE medication_id = ? AND date = ?",
		medicationID, string(date),
	).Scan(&e.ID, &e.MedicationID, &day, &e.Taken)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find log: %w", err)
	}
	e.Date = adherence.DateKey(day)
	return &e, nil
}

// InsertLog adds an entry. A second entry for the same day is rejected.
func (s *Store) InsertLog(ctx context.Context, e adherence.LogEntry) (adherence.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO logs (medication_id, date, taken) VALUES (?, ?, ?)",
		e.MedicationID, string(e.Date), e.Taken,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return adherence.LogEntry{}, adherence.ErrDuplicateDay
		}
		if isForeignKeyError(err) {
			return adherence.LogEntry{}, &adherence.NotFoundError{Resource: "medication", ID: int64(e.MedicationID)}
		}
		return adherence.LogEntry{}, fmt.Errorf("failed to insert log: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return adherence.LogEntry{}, fmt.Errorf("failed to read log id: %w", err)
	}
	e.ID = adherence.LogID(id)
	return e, nil
}

// SetTaken updates the taken flag of an entry.
func (s *Store) SetTaken(ctx context.Context, id adherence.LogID, taken bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "UPDATE logs SET taken = ? WHERE id = ?", taken, id)
	if err != nil {
		return fmt.Errorf("failed to update log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update log: %w", err)
	}
	if n == 0 {
		// Deleted with its medication since it was read.
		return &adherence.NotFoundError{Resource: "log entry", ID: int64(id)}
	}
	return nil
}

// CountTaken counts the days a medication was taken.
func (s *Store) CountTaken(ctx context.Context, medicationID adherence.MedicationID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM logs WHERE medication_id = ? AND taken = 1",
		medicationID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count logs: %w", err)
	}
	return n, nil
}

// ListLogs returns a medication's entries, most recent date first.
func (s *Store) ListLogs(ctx context.Context, medicationID adherence.MedicationID) ([]adherence.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, medication_id, date, COALESCE(taken, 0) FROM logs WHERE medication_id = ? ORDER BY date DESC",
		medicationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	defer rows.Close()

	var result []adherence.LogEntry
	for rows.Next() {
		var e adherence.LogEntry
		var day string
		if err := rows.Scan(&e.ID, &e.MedicationID, &day, &e.Taken); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		e.Date = adherence.DateKey(day)
		result = append(result, e)
	}
	return result, rows.Err()
}

// =============================================================================
// MEDICATIONS (adherence.MedicationStore)
// =============================================================================

const medicationColumns = `m.id, m.user_id, COALESCE(m.name, ''), COALESCE(m.dosage, ''),
	COALESCE(m.frequency, ''), COALESCE(m.created_at, '')`

// CreateMedication inserts a medication and returns it with its ID.
func (s *Store) CreateMedication(ctx context.Context, m adherence.Medication) (adherence.Medication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO medications (user_id, name, dosage, frequency, created_at) VALUES (?, ?, ?, ?, ?)",
		m.UserID, m.Name, m.Dosage, m.Frequency, m.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return adherence.Medication{}, &adherence.NotFoundError{Resource: "user", ID: int64(m.UserID)}
		}
		return adherence.Medication{}, fmt.Errorf("failed to insert medication: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return adherence.Medication{}, fmt.Errorf("failed to read medication id: %w", err)
	}
	m.ID = adherence.MedicationID(id)
	return m, nil
}

// GetMedication retrieves a medication by ID, or nil.
func (s *Store) GetMedication(ctx context.Context, id adherence.MedicationID) (*adherence.Medication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+medicationColumns+" FROM medications m WHERE m.id = ?", id)

	m, err := scanMedication(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get medication: %w", err)
	}
	return &m, nil
}

// ListMedications returns all medications of a user.
func (s *Store) ListMedications(ctx context.Context, userID adherence.UserID) ([]adherence.Medication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+medicationColumns+" FROM medications m WHERE m.user_id = ? ORDER BY m.id", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list medications: %w", err)
	}
	defer rows.Close()

	var result []adherence.Medication
	for rows.Next() {
		m, err := scanMedication(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan medication: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// ListMedicationStatus joins each of the user's medications with its log
// entry for day.
func (s *Store) ListMedicationStatus(ctx context.Context, userID adherence.UserID, day adherence.DateKey) ([]adherence.MedicationStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + medicationColumns + `, COALESCE(l.taken, 0)
		FROM medications m
		LEFT JOIN logs l
			ON m.id = l.medication_id AND l.date = ?
		WHERE m.user_id = ?
		ORDER BY m.id
	`
	rows, err := s.db.QueryContext(ctx, query, string(day), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list medication status: %w", err)
	}
	defer rows.Close()

	var result []adherence.MedicationStatus
	for rows.Next() {
		var st adherence.MedicationStatus
		var createdAt string
		if err := rows.Scan(&st.ID, &st.UserID, &st.Name, &st.Dosage, &st.Frequency, &createdAt, &st.TakenToday); err != nil {
			return nil, fmt.Errorf("failed to scan medication status: %w", err)
		}
		st.CreatedAt = parseTime(createdAt)
		result = append(result, st)
	}
	return result, rows.Err()
}

// UpdateMedication changes name, dosage and frequency.
func (s *Store) UpdateMedication(ctx context.Context, id adherence.MedicationID, u adherence.MedicationUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE medications SET name = ?, dosage = ?, frequency = ? WHERE id = ?",
		u.Name, u.Dosage, u.Frequency, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update medication: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update medication: %w", err)
	}
	return n > 0, nil
}

// DeleteMedication removes a medication and its logs atomically.
func (s *Store) DeleteMedication(ctx context.Context, id adherence.MedicationID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM logs WHERE medication_id = ?", id); err != nil {
		return false, fmt.Errorf("failed to delete logs: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM medications WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete medication: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete medication: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	return true, tx.Commit()
}

func scanMedication(scan func(dest ...any) error) (adherence.Medication, error) {
	var m adherence.Medication
	var createdAt string
	if err := scan(&m.ID, &m.UserID, &m.Name, &m.Dosage, &m.Frequency, &createdAt); err != nil {
		return adherence.Medication{}, err
	}
	m.CreatedAt = parseTime(createdAt)
	return m, nil
}

// =============================================================================
// USERS (adherence.UserStore)
// =============================================================================

// CreateUser inserts an account. Usernames are unique.
func (s *Store) CreateUser(ctx context.Context, u adherence.User) (adherence.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, password, role, created_at) VALUES (?, ?, ?, ?)",
		u.Username, u.PasswordHash, string(u.Role), u.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return adherence.User{}, adherence.ErrDuplicateUsername
		}
		return adherence.User{}, fmt.Errorf("failed to insert user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return adherence.User{}, fmt.Errorf("failed to read user id: %w", err)
	}
	u.ID = adherence.UserID(id)
	return u, nil
}

const userColumns = "id, username, COALESCE(password, ''), COALESCE(role, ''), COALESCE(created_at, '')"

// GetUser retrieves a user by ID, or nil.
func (s *Store) GetUser(ctx context.Context, id adherence.UserID) (*adherence.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

// GetUserByUsername retrieves a user by username, or nil.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*adherence.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
}

func (s *Store) getUser(ctx context.Context, query string, arg any) (*adherence.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, query, arg).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// ListUsersByRole returns all users with the given role.
func (s *Store) ListUsersByRole(ctx context.Context, role adherence.Role) ([]adherence.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE role = ? ORDER BY id", string(role))
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var result []adherence.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func scanUser(scan func(dest ...any) error) (adherence.User, error) {
	var u adherence.User
	var role, createdAt string
	if err := scan(&u.ID, &u.Username, &u.PasswordHash, &role, &createdAt); err != nil {
		return adherence.User{}, err
	}
	u.Role = adherence.Role(role)
	u.CreatedAt = parseTime(createdAt)
	return u, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// parseTime accepts RFC3339 with or without fractional seconds, which also
// covers the millisecond ISO strings of older rows.
func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
