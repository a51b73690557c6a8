package adherence

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE - Adherence statistics and history
// =============================================================================

// Report is the result of an adherence computation.
type Report struct {
	MedicationID MedicationID
	Percentage   int
	TakenCount   int
	TotalDays    int
	AsOf         DateKey
}

// Display renders the percentage as shown to users, e.g. "40%".
func (r Report) Display() string {
	return fmt.Sprintf("%d%%", r.Percentage)
}

// Engine computes adherence from the log. Results are never cached.
type Engine struct {
	store interface {
		LogStore
		MedicationStore
	}
	days DateKeyProvider
}

func NewEngine(store Store, days DateKeyProvider) *Engine {
	return &Engine{store: store, days: days}
}

// Compute returns adherence for a medication as of the provider's today.
//
// The window runs from the medication's creation day through today, both
// inclusive, so a medication created today has TotalDays = 1. A creation
// date in the future yields TotalDays = 0 and 0%.
func (e *Engine) Compute(ctx context.Context, id MedicationID) (Report, error) {
	med, err := e.medication(ctx, id)
	if err != nil {
		return Report{}, err
	}

	today := e.days.Today()
	start := DateKeyOf(med.CreatedAt, e.days.Location())
	totalDays := WindowDays(start, today)

	taken, err := e.store.CountTaken(ctx, id)
	if err != nil {
		return Report{}, unavailable("count taken", err)
	}

	return Report{
		MedicationID: id,
		Percentage:   Percentage(taken, totalDays),
		TakenCount:   taken,
		TotalDays:    totalDays,
		AsOf:         today,
	}, nil
}

// History returns the medication's log, most recent day first.
func (e *Engine) History(ctx context.Context, id MedicationID) ([]DayRecord, error) {
	if _, err := e.medication(ctx, id); err != nil {
		return nil, err
	}

	entries, err := e.store.ListLogs(ctx, id)
	if err != nil {
		return nil, unavailable("list logs", err)
	}

	records := make([]DayRecord, len(entries))
	for i, entry := range entries {
		records[i] = DayRecord{Date: entry.Date, Taken: entry.Taken}
	}
	return records, nil
}

// Today lists the user's medications with whether each was taken today.
func (e *Engine) Today(ctx context.Context, userID UserID) ([]MedicationStatus, error) {
	if userID <= 0 {
		return nil, &InvalidInputError{Field: "user id", Value: userID}
	}
	statuses, err := e.store.ListMedicationStatus(ctx, userID, e.days.Today())
	if err != nil {
		return nil, unavailable("list medication status", err)
	}
	return statuses, nil
}

func (e *Engine) medication(ctx context.Context, id MedicationID) (*Medication, error) {
	if id <= 0 {
		return nil, &InvalidInputError{Field: "medication id", Value: id}
	}
	med, err := e.store.GetMedication(ctx, id)
	if err != nil {
		return nil, unavailable("load medication", err)
	}
	if med == nil {
		return nil, &NotFoundError{Resource: "medication", ID: int64(id)}
	}
	return med, nil
}

// =============================================================================
// FORMULAS
// =============================================================================

// WindowDays is the inclusive day count from start through today, floored
// at zero. Zero when either key is malformed.
func WindowDays(start, today DateKey) int {
	if !start.Valid() || !today.Valid() {
		return 0
	}
	n := DaysBetween(start, today) + 1
	if n < 0 {
		return 0
	}
	return n
}

// Percentage is round(taken / totalDays * 100), rounding halves away from
// zero. Zero when totalDays is not positive.
func Percentage(taken, totalDays int) int {
	if totalDays <= 0 {
		return 0
	}
	ratio := decimal.NewFromInt(int64(taken) * 100).Div(decimal.NewFromInt(int64(totalDays)))
	return int(ratio.Round(0).IntPart())
}
