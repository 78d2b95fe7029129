// Package reporter renders import and audit results for people and tools.
//
// Supported output formats:
//   - Console: human-readable sections for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: one row per change, error or observation for spreadsheets
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(reporter.DefaultReportConfig())
//	err = generator.GenerateImportReport(result, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"training-reconciliation-service/internal/auditor"
	"training-reconciliation-service/internal/models"
	"training-reconciliation-service/internal/reconciler"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// Detail level options
	IncludeTables     bool `json:"include_tables"`
	IncludeChanges    bool `json:"include_changes"`
	IncludeConsistent bool `json:"include_consistent"`

	// MaxChanges bounds the console change list; 0 lists every change
	MaxChanges int `json:"max_changes"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:            FormatConsole,
		IncludeTables:     true,
		IncludeChanges:    true,
		IncludeConsistent: false,
		MaxChanges:        50,
		CSVDelimiter:      ',',
		CSVHeaders:        true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxChanges < 0 {
		return fmt.Errorf("max changes cannot be negative, got %d", c.MaxChanges)
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return fmt.Errorf("invalid csv delimiter: %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator generates import and audit reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// GenerateImportReport writes an import run report to the writer
func (rg *ReportGenerator) GenerateImportReport(result *reconciler.ImportResult, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("import result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.importConsole(result, writer)
	case FormatJSON:
		return writeJSON(writer, rg.importOutput(result))
	case FormatCSV:
		return rg.importCSV(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GenerateAuditReport writes an expiry policy audit to the writer. The apply
// result is optional and only present when corrections were requested.
func (rg *ReportGenerator) GenerateAuditReport(report *auditor.AuditReport, applied *auditor.ApplyResult, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("audit report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.auditConsole(report, applied, writer)
	case FormatJSON:
		return writeJSON(writer, rg.auditOutput(report, applied))
	case FormatCSV:
		return rg.auditCSV(report, applied, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) importConsole(result *reconciler.ImportResult, writer io.Writer) error {
	fmt.Fprintf(writer, "IMPORT REPORT\n")
	fmt.Fprintf(writer, "Run: %s\n", result.RunID)
	fmt.Fprintf(writer, "Started: %s\n", result.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Duration: %v\n", result.Duration)
	if result.DryRun {
		fmt.Fprintf(writer, "Mode: dry run (ledger not modified)\n")
	}
	if result.ConflictKey != "" {
		key := result.ConflictKey
		if result.LegacyFallback {
			key += " (legacy fallback)"
		}
		fmt.Fprintf(writer, "Conflict key: %s\n", key)
	}
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	s := result.Summary
	fmt.Fprintf(writer, "Processed: %d\n", s.Processed)
	fmt.Fprintf(writer, "Created:   %d\n", s.Created)
	fmt.Fprintf(writer, "Updated:   %d\n", s.Updated)
	fmt.Fprintf(writer, "Unchanged: %d\n", s.Unchanged)
	fmt.Fprintf(writer, "Ignored:   %d\n", s.Ignored)
	fmt.Fprintf(writer, "Errors:    %d\n", s.Errors)
	fmt.Fprintf(writer, "\n")

	if rg.config.IncludeTables && len(result.Tables) > 0 {
		fmt.Fprintf(writer, "=== TABLES ===\n")
		for _, t := range result.Tables {
			name := t.Name
			if t.Location != "" {
				name = fmt.Sprintf("%s (location %s)", t.Name, t.Location)
			}
			fmt.Fprintf(writer, "  %s: %d courses, %d staff rows, %d records\n", name, t.Columns, t.StaffRows, t.Records)
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeChanges && len(result.Changes) > 0 {
		fmt.Fprintf(writer, "=== CHANGES ===\n")
		rg.printChanges(result.Changes, writer)
		fmt.Fprintf(writer, "\n")
	}

	if len(result.Errors) > 0 {
		fmt.Fprintf(writer, "=== ERRORS ===\n")
		for _, e := range result.DisplayErrors() {
			fmt.Fprintf(writer, "  - %s %s: %s (%s)\n", origin(e.Table, e.Row), e.Name, e.Error, e.Code)
		}
		if hidden := result.HiddenErrors(); hidden > 0 {
			fmt.Fprintf(writer, "  ... and %d more errors\n", hidden)
		}
		summary := result.ErrorSummary()
		fmt.Fprintf(writer, "\nBy code:\n")
		for _, code := range slices.Sorted(maps.Keys(summary.ByCode)) {
			fmt.Fprintf(writer, "  %-26s %d\n", code, summary.ByCode[code])
		}
	}

	return nil
}

func (rg *ReportGenerator) printChanges(changes []reconciler.ChangeEntry, writer io.Writer) {
	for i, c := range changes {
		if rg.config.MaxChanges > 0 && i >= rg.config.MaxChanges {
			fmt.Fprintf(writer, "  ... and %d more\n", len(changes)-i)
			break
		}
		fmt.Fprintf(writer, "  %d. %s %s @ %s | %s: %s -> %s (%s) %s\n",
			i+1,
			origin(c.Table, c.Row),
			c.Staff,
			strings.Join(c.Locations, ", "),
			c.Course,
			statusAndDate(c.OldStatus, c.OldDate),
			models.FormatDate(c.NewDate),
			c.NewStatus,
			c.Action)
	}
}

func (rg *ReportGenerator) importOutput(result *reconciler.ImportResult) map[string]interface{} {
	output := map[string]interface{}{
		"run_id":          result.RunID,
		"started_at":      result.StartedAt,
		"duration":        result.Duration.String(),
		"dry_run":         result.DryRun,
		"conflict_key":    result.ConflictKey,
		"legacy_fallback": result.LegacyFallback,
		"summary":         result.Summary,
		"errors":          nonNil(result.DisplayErrors()),
		"hidden_errors":   result.HiddenErrors(),
	}
	if rg.config.IncludeTables {
		output["tables"] = nonNil(result.Tables)
	}
	if rg.config.IncludeChanges {
		output["changes"] = nonNil(result.Changes)
	}
	return output
}

// importCSV writes every change followed by every error entry. The export is
// not bounded like the console error list.
func (rg *ReportGenerator) importCSV(result *reconciler.ImportResult, writer io.Writer) error {
	csvWriter := rg.csvWriter(writer)
	defer csvWriter.Flush()

	if rg.config.CSVHeaders {
		headers := []string{
			"Type",
			"Table",
			"Row",
			"Staff",
			"Locations",
			"Course",
			"Old_Date",
			"New_Date",
			"Old_Status",
			"New_Status",
			"Action",
			"Code",
			"Error",
		}
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, c := range result.Changes {
		record := []string{
			"Change",
			c.Table,
			strconv.Itoa(c.Row),
			c.Staff,
			strings.Join(c.Locations, ";"),
			c.Course,
			csvDate(c.OldDate),
			csvDate(c.NewDate),
			string(c.OldStatus),
			string(c.NewStatus),
			string(c.Action),
			"",
			"",
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write change record: %w", err)
		}
	}

	for _, e := range result.Errors {
		row := ""
		if e.Row > 0 {
			row = strconv.Itoa(e.Row)
		}
		record := []string{"Error", e.Table, row, "", "", e.Name, "", "", "", "", "", string(e.Code), e.Error}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write error record: %w", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

func (rg *ReportGenerator) auditConsole(report *auditor.AuditReport, applied *auditor.ApplyResult, writer io.Writer) error {
	fmt.Fprintf(writer, "EXPIRY POLICY AUDIT\n")
	fmt.Fprintf(writer, "Generated: %s\n", report.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Tables: %d\n", report.Tables)
	if len(report.Skipped) > 0 {
		fmt.Fprintf(writer, "Skipped (no expiry row): %s\n", strings.Join(report.Skipped, ", "))
	}
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	total := len(report.Courses)
	for _, class := range []auditor.Classification{auditor.ClassConsistent, auditor.ClassConflict, auditor.ClassOneOff} {
		n := report.Count(class)
		fmt.Fprintf(writer, "%-11s %d (%.1f%%)\n", string(class)+":", n, calculatePercentage(n, total))
	}
	fmt.Fprintf(writer, "\n")

	if conflicts := report.Conflicts(); len(conflicts) > 0 {
		fmt.Fprintf(writer, "=== CONFLICTS ===\n")
		for _, c := range conflicts {
			rg.printCourse(c, writer)
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeConsistent {
		fmt.Fprintf(writer, "=== AGREED POLICIES ===\n")
		for _, c := range report.Courses {
			if c.Classification != auditor.ClassConflict {
				fmt.Fprintf(writer, "  %s: %s (%s)\n", c.Name, c.Resolution.Value, c.Classification)
			}
		}
		fmt.Fprintf(writer, "\n")
	}

	if applied != nil {
		heading := "=== CATALOG CORRECTIONS ==="
		if applied.DryRun {
			heading = "=== CATALOG CORRECTIONS (dry run) ==="
		}
		fmt.Fprintf(writer, "%s\n", heading)
		if len(applied.Corrections) == 0 {
			fmt.Fprintf(writer, "  catalog already matches the sources\n")
		}
		for _, c := range applied.Corrections {
			fmt.Fprintf(writer, "  %s (%s): %s -> %s %s\n", c.CourseName, c.CourseID, c.From(), c.To(), correctionState(c, applied.DryRun))
		}
		if len(applied.Unresolved) > 0 {
			fmt.Fprintf(writer, "  not in catalog: %s\n", strings.Join(applied.Unresolved, ", "))
		}
	}

	return nil
}

func (rg *ReportGenerator) printCourse(c auditor.CourseAudit, writer io.Writer) {
	counts := make([]string, 0, len(c.Counts))
	for _, vc := range c.Counts {
		counts = append(counts, fmt.Sprintf("%s x%d", vc.Value, vc.Count))
	}
	fmt.Fprintf(writer, "  %s: %s -> %s (%s%% share)\n",
		c.Name, strings.Join(counts, ", "), c.Resolution.Value, c.Share.Mul(decimal.NewFromInt(100)).StringFixed(0))
	for _, obs := range c.Observations {
		fmt.Fprintf(writer, "      %s: %q reads as %s\n", obs.Table, obs.Description, obs.Reading)
	}
}

func (rg *ReportGenerator) auditOutput(report *auditor.AuditReport, applied *auditor.ApplyResult) map[string]interface{} {
	courses := report.Courses
	if !rg.config.IncludeConsistent {
		courses = report.Conflicts()
	}
	output := map[string]interface{}{
		"generated_at": report.GeneratedAt,
		"tables":       report.Tables,
		"skipped":      nonNil(report.Skipped),
		"summary": map[auditor.Classification]int{
			auditor.ClassConsistent: report.Count(auditor.ClassConsistent),
			auditor.ClassConflict:   report.Count(auditor.ClassConflict),
			auditor.ClassOneOff:     report.Count(auditor.ClassOneOff),
		},
		"courses": nonNil(courses),
	}
	if applied != nil {
		output["corrections"] = applied
	}
	return output
}

// auditCSV writes one row per observation, then one row per correction
func (rg *ReportGenerator) auditCSV(report *auditor.AuditReport, applied *auditor.ApplyResult, writer io.Writer) error {
	csvWriter := rg.csvWriter(writer)
	defer csvWriter.Flush()

	if rg.config.CSVHeaders {
		headers := []string{
			"Type",
			"Course",
			"Classification",
			"Table",
			"Column",
			"Description",
			"Reading",
			"Resolution",
			"Share",
			"Detail",
		}
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, c := range report.Courses {
		if !rg.config.IncludeConsistent && c.Classification != auditor.ClassConflict {
			continue
		}
		for _, obs := range c.Observations {
			record := []string{
				"Observation",
				c.Name,
				string(c.Classification),
				obs.Table,
				obs.Column,
				obs.Description,
				obs.Reading,
				c.Resolution.Value,
				c.Share.StringFixed(2),
				"",
			}
			if err := csvWriter.Write(record); err != nil {
				return fmt.Errorf("failed to write observation record: %w", err)
			}
		}
	}

	if applied != nil {
		for _, c := range applied.Corrections {
			record := []string{
				"Correction",
				c.CourseName,
				string(c.Class),
				"",
				c.AuditedName,
				"",
				c.From(),
				c.To(),
				"",
				correctionState(c, applied.DryRun),
			}
			if err := csvWriter.Write(record); err != nil {
				return fmt.Errorf("failed to write correction record: %w", err)
			}
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}
	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}

func (rg *ReportGenerator) csvWriter(writer io.Writer) *csv.Writer {
	w := csv.NewWriter(writer)
	w.Comma = rg.config.CSVDelimiter
	return w
}

func writeJSON(writer io.Writer, v interface{}) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func origin(table string, row int) string {
	switch {
	case table == "":
		return "[run]"
	case row <= 0:
		return fmt.Sprintf("[%s]", table)
	default:
		return fmt.Sprintf("[%s row %d]", table, row)
	}
}

func statusAndDate(status models.Status, date *time.Time) string {
	if status == "" {
		return "new"
	}
	return fmt.Sprintf("%s %s", status, models.FormatDate(date))
}

func csvDate(d *time.Time) string {
	if d == nil {
		return ""
	}
	return d.Format(models.DateLayout)
}

func correctionState(c auditor.Correction, dryRun bool) string {
	switch {
	case c.ApplyError != "":
		return "failed: " + c.ApplyError
	case c.Applied:
		return "applied"
	case dryRun:
		return "planned"
	default:
		return "skipped"
	}
}

func calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

// nonNil keeps empty lists as [] in JSON output
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
