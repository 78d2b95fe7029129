// Package expiry computes when a training completion lapses.
package expiry

import (
	"fmt"
	"strings"
	"time"

	"training-reconciliation-service/internal/models"
)

// DefaultNeverExpiresSentinel is the month count treated as "never expires"
const DefaultNeverExpiresSentinel = 999

// MonthArithmetic selects how adding months treats days past the end of the target month
type MonthArithmetic string

const (
	// MonthOverflow rolls excess days into the next month: 31 Jan + 1 month = 2 or 3 Mar
	MonthOverflow MonthArithmetic = "overflow"
	// MonthClamp pins to the last day of the target month: 31 Jan + 1 month = 28 or 29 Feb
	MonthClamp MonthArithmetic = "clamp"
)

// ParseMonthArithmetic parses a configured arithmetic mode
func ParseMonthArithmetic(s string) (MonthArithmetic, error) {
	switch mode := MonthArithmetic(strings.ToLower(strings.TrimSpace(s))); mode {
	case MonthOverflow, MonthClamp:
		return mode, nil
	case "":
		return MonthOverflow, nil
	default:
		return "", fmt.Errorf("unknown month arithmetic %q (want overflow or clamp)", s)
	}
}

// Calculator derives expiry dates from course policies. One calculator is
// used for a whole run so every date is computed the same way.
type Calculator struct {
	Mode     MonthArithmetic
	Sentinel int
}

// NewCalculator returns a calculator using overflow arithmetic and the default sentinel
func NewCalculator() *Calculator {
	return &Calculator{Mode: MonthOverflow, Sentinel: DefaultNeverExpiresSentinel}
}

// Validate checks if the calculator settings are valid
func (c *Calculator) Validate() error {
	if c.Mode != MonthOverflow && c.Mode != MonthClamp {
		return fmt.Errorf("unknown month arithmetic %q", c.Mode)
	}
	if c.Sentinel <= 0 {
		return fmt.Errorf("never expires sentinel must be positive, got %d", c.Sentinel)
	}
	return nil
}

// Expiry returns the expiry date for a completion of course, or nil when
// the course never expires or has no usable policy.
func (c *Calculator) Expiry(course *models.CourseCatalogEntry, completion *time.Time) *time.Time {
	if course == nil || completion == nil || !course.HasFiniteExpiry(c.Sentinel) {
		return nil
	}
	d := c.AddMonths(models.DateOf(*completion), *course.ExpiryMonths)
	return &d
}

// AddMonths adds n calendar months to the civil date d
func (c *Calculator) AddMonths(d time.Time, n int) time.Time {
	if c.Mode != MonthClamp {
		return d.AddDate(0, n, 0)
	}

	firstOfTarget := models.NewDate(d.Year(), d.Month(), 1).AddDate(0, n, 0)
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	day := d.Day()
	if day > lastDay {
		day = lastDay
	}
	return models.NewDate(firstOfTarget.Year(), firstOfTarget.Month(), day)
}
