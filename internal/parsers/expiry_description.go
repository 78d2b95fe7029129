package parsers

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// PolicyKind classifies an expiry description
type PolicyKind int

const (
	// PolicyNone is an empty description
	PolicyNone PolicyKind = iota
	// PolicyMonths is a finite validity period
	PolicyMonths
	// PolicyNever is a one-off course that does not expire
	PolicyNever
	// PolicyUnknown is text that could not be read
	PolicyUnknown
)

// ExpiryPolicy is the reading of a free-text validity description
type ExpiryPolicy struct {
	Kind   PolicyKind
	Months int
	Raw    string
}

// Observed reports whether the description can take part in a policy vote
func (p ExpiryPolicy) Observed() bool {
	return p.Kind == PolicyMonths || p.Kind == PolicyNever
}

// String returns a human-readable form of the policy
func (p ExpiryPolicy) String() string {
	switch p.Kind {
	case PolicyMonths:
		return fmt.Sprintf("%d months", p.Months)
	case PolicyNever:
		return "never"
	case PolicyUnknown:
		return "unknown"
	default:
		return "none"
	}
}

var (
	periodPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(years?|yrs?|months?|mths?|mnths?|mos?)?\b`)

	twelveMonthWords = []string{"annual", "annually", "yearly", "every year", "each year"}
	neverWords       = []string{"never", "no expiry", "does not expire", "doesn't expire", "one off", "one-off", "once only", "n/a", "lifetime", "not applicable", "no renewal"}
)

// ParseExpiryDescription reads descriptions such as "3 years", "18 months",
// "1.5 years", "Annual" or "One off". A bare number is a count of years.
func ParseExpiryDescription(raw string) ExpiryPolicy {
	s := collapseSpaces(strings.ToLower(strings.TrimSpace(raw)))
	policy := ExpiryPolicy{Raw: raw}
	if s == "" {
		return policy
	}

	if m := periodPattern.FindStringSubmatch(s); m != nil {
		amount, err := decimal.NewFromString(m[1])
		if err == nil {
			months := amount
			if !strings.HasPrefix(m[2], "m") {
				months = amount.Mul(decimal.NewFromInt(12))
			}
			n := int(months.Round(0).IntPart())
			if n <= 0 {
				policy.Kind = PolicyNever
				return policy
			}
			policy.Kind = PolicyMonths
			policy.Months = n
			return policy
		}
	}

	for _, w := range twelveMonthWords {
		if containsWord(s, w) {
			policy.Kind = PolicyMonths
			policy.Months = 12
			return policy
		}
	}
	for _, w := range neverWords {
		if containsWord(s, w) {
			policy.Kind = PolicyNever
			return policy
		}
	}

	policy.Kind = PolicyUnknown
	return policy
}
