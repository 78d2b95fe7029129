package parsers

import (
	"fmt"
)

// ExtractorConfig controls how a data region is located inside a source table
type ExtractorConfig struct {
	// HeaderScanRows is how many leading rows are searched for the header and expiry rows
	HeaderScanRows int `json:"header_scan_rows"`
	// MinRows is the smallest table that can hold a header and data
	MinRows int `json:"min_rows"`
	// HeaderLabels are the accepted first-cell labels of the header row
	HeaderLabels []string `json:"header_labels"`
	// ExpiryRowMarkers identify the optional expiry-policy row by substring
	ExpiryRowMarkers []string `json:"expiry_row_markers"`
	// DividerMarkers are first-cell labels of structural rows that hold no staff data
	DividerMarkers []string `json:"divider_markers"`
}

// DefaultExtractorConfig returns the layout used by the learning platform
// exports and the legacy training matrices
func DefaultExtractorConfig() *ExtractorConfig {
	return &ExtractorConfig{
		HeaderScanRows:   20,
		MinRows:          3,
		HeaderLabels:     []string{"staff name", "learner name", "learner's name"},
		ExpiryRowMarkers: []string{"date valid for", "expiry", "valid"},
		DividerMarkers:   defaultDividerMarkers(),
	}
}

func defaultDividerMarkers() []string {
	return []string{
		"management", "managers", "management team", "senior team", "senior staff",
		"care staff", "care team", "carers", "care assistants", "senior carers",
		"nurses", "nursing", "nursing team", "night staff", "day staff", "bank staff", "agency",
		"domestic", "domestic staff", "domestics", "housekeeping", "laundry",
		"kitchen", "kitchen staff", "catering", "maintenance",
		"admin", "administration", "office", "activities", "activities team",
		"notes", "note", "key", "legend", "total", "totals", "compliance", "% compliance",
	}
}

// Validate checks if the extractor configuration is valid
func (c *ExtractorConfig) Validate() error {
	if c.HeaderScanRows <= 0 {
		return fmt.Errorf("header scan rows must be positive, got %d", c.HeaderScanRows)
	}
	if c.MinRows < 2 {
		return fmt.Errorf("minimum rows must be at least 2, got %d", c.MinRows)
	}
	if len(c.HeaderLabels) == 0 {
		return fmt.Errorf("at least one header label is required")
	}
	return nil
}
