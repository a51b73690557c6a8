package adherence

import (
	"sync"
	"time"
)

// =============================================================================
// DATE KEY - Calendar day in a fixed reference time zone
// =============================================================================

// DateKeyLayout is the canonical rendering. Zero-padded, so lexicographic
// order equals chronological order.
const DateKeyLayout = "2006-01-02"

// DateKey identifies one civil calendar day, e.g. "2024-01-05".
type DateKey string

// ParseDateKey validates s and returns it as a DateKey.
func ParseDateKey(s string) (DateKey, error) {
	t, err := time.Parse(DateKeyLayout, s)
	if err != nil {
		return "", &InvalidInputError{Field: "date", Value: s, Err: err}
	}
	return DateKey(t.Format(DateKeyLayout)), nil
}

// NewDateKey builds a key from calendar components.
func NewDateKey(year int, month time.Month, day int) DateKey {
	return DateKey(time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format(DateKeyLayout))
}

// DateKeyOf renders the civil date of t as seen in loc.
func DateKeyOf(t time.Time, loc *time.Location) DateKey {
	if loc == nil {
		loc = time.UTC
	}
	return DateKey(t.In(loc).Format(DateKeyLayout))
}

func (d DateKey) String() string { return string(d) }

// Valid reports whether d is a well-formed key.
func (d DateKey) Valid() bool {
	_, err := time.Parse(DateKeyLayout, string(d))
	return err == nil
}

// Time returns midnight UTC of the day, or the zero Time for a malformed
// key. Only meaningful for arithmetic.
func (d DateKey) Time() time.Time {
	t, err := time.Parse(DateKeyLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

// AddDays shifts d by n days. A malformed key is returned unchanged.
func (d DateKey) AddDays(n int) DateKey {
	t, err := time.Parse(DateKeyLayout, string(d))
	if err != nil {
		return d
	}
	return DateKey(t.AddDate(0, 0, n).Format(DateKeyLayout))
}

func (d DateKey) Before(other DateKey) bool { return d < other }
func (d DateKey) After(other DateKey) bool  { return d > other }

// DaysBetween returns the number of calendar days from `from` to `to`.
// Negative when to precedes from, zero when either key is malformed.
func DaysBetween(from, to DateKey) int {
	if !from.Valid() || !to.Valid() {
		return 0
	}
	return int(to.Time().Sub(from.Time()).Hours() / 24)
}

// =============================================================================
// PROVIDERS
// =============================================================================

// DateKeyProvider answers "what day is it" for every read and write, so all
// of them agree on day boundaries regardless of the caller's clock.
type DateKeyProvider interface {
	Today() DateKey
	Location() *time.Location
	Now() time.Time
}

// Clock is the production provider: wall-clock time rendered in a fixed zone.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// NewClock returns a Clock for loc. A nil loc means UTC.
func NewClock(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc, now: time.Now}
}

// WithNow replaces the time source. Used by tests and the seed loader.
func (c *Clock) WithNow(now func() time.Time) *Clock {
	return &Clock{loc: c.loc, now: now}
}

func (c *Clock) Today() DateKey           { return DateKeyOf(c.now(), c.loc) }
func (c *Clock) Location() *time.Location { return c.loc }
func (c *Clock) Now() time.Time           { return c.now() }

// FixedDay is a provider pinned to a settable day. Now returns noon of that
// day in the provider's location.
type FixedDay struct {
	mu  sync.RWMutex
	day DateKey
	loc *time.Location
}

func NewFixedDay(day DateKey) *FixedDay {
	return &FixedDay{day: day, loc: time.UTC}
}

func (f *FixedDay) Set(day DateKey) {
	f.mu.Lock()
	f.day = day
	f.mu.Unlock()
}

// Advance moves the day forward by n days.
func (f *FixedDay) Advance(n int) {
	f.mu.Lock()
	f.day = f.day.AddDays(n)
	f.mu.Unlock()
}

func (f *FixedDay) Today() DateKey {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.day
}

func (f *FixedDay) Location() *time.Location { return f.loc }

func (f *FixedDay) Now() time.Time {
	t := f.Today().Time()
	return time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, f.loc)
}
