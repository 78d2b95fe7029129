package models

import "time"

// DateLayout is the layout used to print civil dates
const DateLayout = "2006-01-02"

// NewDate returns the civil date at 00:00 UTC
func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf truncates t to its civil date at 00:00 UTC, keeping the calendar day of t's location
func DateOf(t time.Time) time.Time {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// DatePtr returns a pointer to the civil date of t
func DatePtr(t time.Time) *time.Time {
	d := DateOf(t)
	return &d
}

// CopyDate returns an independent copy of d
func CopyDate(d *time.Time) *time.Time {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// SameDate compares two optional dates by calendar day. Two nil dates are equal.
func SameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return DateOf(*a).Equal(DateOf(*b))
}

// FormatDate prints an optional date, using "-" for nil
func FormatDate(d *time.Time) string {
	if d == nil {
		return "-"
	}
	return d.Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD date
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}
