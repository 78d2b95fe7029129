// Package matcher resolves free-text staff and course names to canonical identities.
//
// Course names go through a cascade:
//  1. Exact, case-insensitive match on the canonical name or an alias
//  2. Match after stripping provider and step markers such as "(Careskills)" or "- Step 2"
//  3. Word overlap between the normalized name and each catalog name
//
// The overlap stage scores every catalog entry and keeps the best one, so the
// result does not depend on catalog order. Staff names only ever match
// exactly, against active staff.
//
// Example usage:
//
//	courses, err := matcher.NewCourseResolver(catalog, matcher.DefaultResolverConfig(), log)
//	match, ok := courses.Resolve("Fire Safety (Careskills)")
package matcher

import (
	"fmt"
)

// MatchMethod records which stage of the cascade produced a match.
type MatchMethod int

const (
	// MatchExact is a case-insensitive hit on a canonical name or alias.
	MatchExact MatchMethod = iota

	// MatchNormalized is a hit once provider and step markers are removed.
	MatchNormalized

	// MatchOverlap is a word-overlap hit at or above the configured threshold.
	// These are the matches worth reviewing in the run report.
	MatchOverlap

	// MatchNone indicates no catalog entry was found.
	MatchNone
)

// String returns the string representation of MatchMethod
func (m MatchMethod) String() string {
	switch m {
	case MatchExact:
		return "Exact"
	case MatchNormalized:
		return "Normalized"
	case MatchOverlap:
		return "Overlap"
	case MatchNone:
		return "None"
	default:
		return "Unknown"
	}
}

// ResolverConfig holds the tunables of the course resolver
type ResolverConfig struct {
	// OverlapThreshold is the minimum share of the source name's words that
	// must appear in a catalog name for an overlap match (0, 1]
	OverlapThreshold float64 `json:"overlap_threshold"`

	// NeverExpiresSentinel is the month count treated as "never expires"
	NeverExpiresSentinel int `json:"never_expires_sentinel"`
}

// DefaultResolverConfig returns a configuration with sensible defaults
func DefaultResolverConfig() *ResolverConfig {
	return &ResolverConfig{
		OverlapThreshold:     0.8,
		NeverExpiresSentinel: 999,
	}
}

// StrictResolverConfig only accepts overlap matches where every word is found
func StrictResolverConfig() *ResolverConfig {
	config := DefaultResolverConfig()
	config.OverlapThreshold = 1.0
	return config
}

// Validate checks if the configuration is valid
func (c *ResolverConfig) Validate() error {
	if c.OverlapThreshold <= 0 || c.OverlapThreshold > 1 {
		return fmt.Errorf("overlap threshold must be in (0, 1], got %.2f", c.OverlapThreshold)
	}
	if c.NeverExpiresSentinel <= 0 {
		return fmt.Errorf("never expires sentinel must be positive, got %d", c.NeverExpiresSentinel)
	}
	return nil
}
