package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar date format used on every external surface.
const DateLayout = "2006-01-02"

// ErrInvalidRange is returned when a range ends before it starts.
var ErrInvalidRange = errors.New("invalid date range")

// DateRange is an inclusive window of calendar dates.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Date returns midnight UTC for the given calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// TruncateDate drops the clock part of t, keeping its calendar day.
func TruncateDate(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), t.Day())
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", raw, err)
	}
	return t, nil
}

// DefaultDateRange is the calendar year processed when no range is given.
func DefaultDateRange() DateRange {
	return DateRange{Start: Date(2023, time.January, 1), End: Date(2023, time.December, 31)}
}

// NewDateRange builds a range and rejects one that ends before it starts.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: TruncateDate(start), End: TruncateDate(end)}
	if r.End.Before(r.Start) {
		return DateRange{}, fmt.Errorf("%w: %s", ErrInvalidRange, r)
	}
	return r, nil
}

// ParseDateRange parses both bounds; an empty bound falls back to the default range.
func ParseDateRange(start, end string) (DateRange, error) {
	def := DefaultDateRange()
	from, to := def.Start, def.End
	var err error
	if strings.TrimSpace(start) != "" {
		if from, err = ParseDate(start); err != nil {
			return DateRange{}, err
		}
	}
	if strings.TrimSpace(end) != "" {
		if to, err = ParseDate(end); err != nil {
			return DateRange{}, err
		}
	}
	return NewDateRange(from, to)
}

// IsZero reports whether neither bound is set.
func (r DateRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// OrDefault returns the default range when r is unset.
func (r DateRange) OrDefault() DateRange {
	if r.IsZero() {
		return DefaultDateRange()
	}
	return r
}

// Contains reports whether the window [from, to] lies inside the range.
func (r DateRange) Contains(from, to time.Time) bool {
	return !from.Before(r.Start) && !to.After(r.End)
}

func (r DateRange) String() string {
	return fmt.Sprintf("[%s,%s]", FormatDate(r.Start), FormatDate(r.End))
}
