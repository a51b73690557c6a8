package adherence

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// RECONCILER - Idempotent "mark taken today"
// =============================================================================

// Reconciler ensures a medication's log entry for a day exists and is marked
// taken, no matter how many times or how concurrently it is asked to.
//
// The sequence is check-then-act (find, then update or insert). The store's
// uniqueness on (medication, date) closes the window between the two: a
// caller that loses the insert race re-reads the winner's row and merges
// into it instead of failing.
type Reconciler struct {
	store interface {
		LogStore
		MedicationStore
	}
	days DateKeyProvider
}

func NewReconciler(store Store, days DateKeyProvider) *Reconciler {
	return &Reconciler{store: store, days: days}
}

// MarkTaken marks the medication taken for the provider's current day.
// After a nil error exactly one entry exists for (id, today), with Taken set.
func (r *Reconciler) MarkTaken(ctx context.Context, id MedicationID) (LogEntry, error) {
	return r.MarkTakenOn(ctx, id, r.days.Today())
}

// MarkTakenOn is MarkTaken for an explicit day. The HTTP layer only ever
// passes today; the seed loader replays past days through it.
func (r *Reconciler) MarkTakenOn(ctx context.Context, id MedicationID, day DateKey) (LogEntry, error) {
	if id <= 0 {
		return LogEntry{}, &InvalidInputError{Field: "medication id", Value: id}
	}
	if _, err := ParseDateKey(string(day)); err != nil {
		return LogEntry{}, err
	}

	med, err := r.store.GetMedication(ctx, id)
	if err != nil {
		return LogEntry{}, unavailable("load medication", err)
	}
	if med == nil {
		return LogEntry{}, &NotFoundError{Resource: "medication", ID: int64(id)}
	}

	existing, err := r.store.FindLog(ctx, id, day)
	if err != nil {
		return LogEntry{}, unavailable("find log", err)
	}
	if existing != nil {
		return r.markExisting(ctx, *existing)
	}

	entry, err := r.store.InsertLog(ctx, LogEntry{MedicationID: id, Date: day, Taken: true})
	if errors.Is(err, ErrDuplicateDay) {
		// Lost the race for the first mark of the day.
		existing, err = r.store.FindLog(ctx, id, day)
		if err != nil {
			return LogEntry{}, unavailable("find log", err)
		}
		if existing == nil {
			return LogEntry{}, fmt.Errorf("mark taken %d on %s: %w", id, day, ErrDuplicateDay)
		}
		return r.markExisting(ctx, *existing)
	}
	if err != nil {
		return LogEntry{}, unavailable("insert log", err)
	}
	return entry, nil
}

func (r *Reconciler) markExisting(ctx context.Context, e LogEntry) (LogEntry, error) {
	if e.Taken {
		return e, nil
	}
	if err := r.store.SetTaken(ctx, e.ID, true); err != nil {
		return LogEntry{}, unavailable("update log", err)
	}
	e.Taken = true
	return e, nil
}
