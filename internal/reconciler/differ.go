package reconciler

import (
	"training-reconciliation-service/internal/expiry"
	"training-reconciliation-service/internal/models"
	"training-reconciliation-service/internal/parsers"
)

// Action is the decision the differ takes for one source cell and ledger key
type Action string

const (
	ActionCreate    Action = "created"
	ActionUpdate    Action = "updated"
	ActionUnchanged Action = "unchanged"
	ActionIgnore    Action = "ignored"
)

// Decision is the outcome of diffing one cell against one ledger entry
type Decision struct {
	Action Action
	Fields models.LedgerFields
}

// Differ turns a parsed cell into the target state of a ledger entry
type Differ struct {
	calc *expiry.Calculator
}

// NewDiffer creates a differ computing expiry dates with calc
func NewDiffer(calc *expiry.Calculator) *Differ {
	if calc == nil {
		calc = expiry.NewCalculator()
	}
	return &Differ{calc: calc}
}

// Diff compares the cell against existing, which is nil when the key has no
// ledger entry yet.
//
// A date means Completed with a recomputed expiry. Booked and in-progress
// keep the stored dates. A completed token without a date keeps the stored
// completion date. Awaiting, not yet due and not applicable clear both dates.
// An empty cell is ignored.
//
// An existing entry is left unchanged only when completion date, expiry date
// and status all match. A status change with the same completion date, such
// as Booked to Awaiting, is written as an update.
func (d *Differ) Diff(existing *models.LedgerEntry, cell parsers.CellValue, course *models.CourseCatalogEntry) Decision {
	var stored models.LedgerFields
	if existing != nil {
		stored = existing.Fields()
	}

	var target models.LedgerFields
	switch cell.Kind {
	case parsers.CellDate:
		completion := cell.DatePtr()
		target = models.LedgerFields{
			CompletionDate: completion,
			ExpiryDate:     d.calc.Expiry(course, completion),
			Status:         models.StatusCompleted,
		}

	case parsers.CellStatus:
		target.Status = cell.Status.LedgerStatus()
		switch target.Status {
		case models.StatusBooked:
			target.CompletionDate = models.CopyDate(stored.CompletionDate)
			target.ExpiryDate = models.CopyDate(stored.ExpiryDate)
		case models.StatusCompleted:
			target.CompletionDate = models.CopyDate(stored.CompletionDate)
			target.ExpiryDate = d.calc.Expiry(course, target.CompletionDate)
		}

	default:
		return Decision{Action: ActionIgnore}
	}

	switch {
	case existing == nil:
		return Decision{Action: ActionCreate, Fields: target}
	case stored.Equal(target):
		return Decision{Action: ActionUnchanged, Fields: target}
	default:
		return Decision{Action: ActionUpdate, Fields: target}
	}
}

