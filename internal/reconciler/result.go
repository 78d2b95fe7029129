package reconciler

import (
	"time"

	"github.com/google/uuid"

	"training-reconciliation-service/internal/models"
	"training-reconciliation-service/pkg/errors"
)

// Summary counts what an import run did
type Summary struct {
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
	Created   int `json:"created"`
	Changes   int `json:"changes"`
	Ignored   int `json:"ignored"`
	Unchanged int `json:"unchanged"`
	Errors    int `json:"errors"`
}

// ChangeEntry describes the ledger change made for one source cell
type ChangeEntry struct {
	Table     string        `json:"table"`
	Row       int           `json:"row"`
	Staff     string        `json:"staff"`
	Locations []string      `json:"locations"`
	Course    string        `json:"course"`
	OldDate   *time.Time    `json:"old_date,omitempty"`
	NewDate   *time.Time    `json:"new_date,omitempty"`
	OldStatus models.Status `json:"old_status,omitempty"`
	NewStatus models.Status `json:"new_status"`
	Action    Action        `json:"action"`
}

// ErrorEntry is a record, table or write that could not be applied
type ErrorEntry struct {
	Table string           `json:"table,omitempty"`
	Row   int              `json:"row,omitempty"`
	Name  string           `json:"name"`
	Code  errors.ErrorCode `json:"code"`
	Error string           `json:"error"`

	err *errors.ReconcilerError
}

// TableSummary describes one extracted source table
type TableSummary struct {
	Name      string `json:"name"`
	Location  string `json:"location,omitempty"`
	Columns   int    `json:"columns"`
	StaffRows int    `json:"staff_rows"`
	Records   int    `json:"records"`
}

// ImportResult contains the complete results of an import run
type ImportResult struct {
	RunID          uuid.UUID      `json:"run_id"`
	StartedAt      time.Time      `json:"started_at"`
	Duration       time.Duration  `json:"duration"`
	DryRun         bool           `json:"dry_run"`
	ConflictKey    string         `json:"conflict_key"`
	LegacyFallback bool           `json:"legacy_fallback"`
	Summary        Summary        `json:"summary"`
	Tables         []TableSummary `json:"tables"`
	Changes        []ChangeEntry  `json:"changes"`
	Errors         []ErrorEntry   `json:"errors"`

	maxDisplayErrors int
}

func newImportResult(dryRun bool, maxDisplayErrors int) *ImportResult {
	return &ImportResult{
		RunID:            uuid.New(),
		StartedAt:        time.Now(),
		DryRun:           dryRun,
		maxDisplayErrors: maxDisplayErrors,
	}
}

// DisplayErrors returns the first error entries, bounded for display.
// Summary.Errors keeps the full count.
func (r *ImportResult) DisplayErrors() []ErrorEntry {
	if r.maxDisplayErrors <= 0 || len(r.Errors) <= r.maxDisplayErrors {
		return r.Errors
	}
	return r.Errors[:r.maxDisplayErrors]
}

// HiddenErrors is the number of error entries DisplayErrors leaves out
func (r *ImportResult) HiddenErrors() int {
	return len(r.Errors) - len(r.DisplayErrors())
}

// ErrorSummary aggregates the error entries by category and code
func (r *ImportResult) ErrorSummary() *errors.ErrorSummary {
	errs := make([]*errors.ReconcilerError, 0, len(r.Errors))
	for _, e := range r.Errors {
		if e.err != nil {
			errs = append(errs, e.err)
		}
	}
	return errors.NewErrorSummary(errs)
}

// HasChanges reports whether the run created or updated anything
func (r *ImportResult) HasChanges() bool {
	return r.Summary.Created+r.Summary.Updated > 0
}

func (r *ImportResult) addError(table string, row int, name string, err *errors.ReconcilerError) {
	r.Errors = append(r.Errors, ErrorEntry{
		Table: table,
		Row:   row,
		Name:  name,
		Code:  err.Code,
		Error: describe(err),
		err:   err,
	})
	r.Summary.Errors = len(r.Errors)
}

func (r *ImportResult) addChange(change ChangeEntry) {
	r.Changes = append(r.Changes, change)
	r.Summary.Changes = len(r.Changes)
}

func describe(err *errors.ReconcilerError) string {
	if err.Cause == nil {
		return err.Message
	}
	return err.Message + ": " + err.Cause.Error()
}
