// Package store defines the persistence contracts of the ledger, the course
// catalog and the staff directory, with in-memory, YAML fixture and
// PostgreSQL implementations.
package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"training-reconciliation-service/internal/models"
)

var (
	// ErrConflictKeyUnsupported is returned by Upsert when the backing table
	// has no unique constraint for the requested conflict key
	ErrConflictKeyUnsupported = errors.New("conflict key not supported by ledger store")

	// ErrNotFound is returned when an update targets a missing row
	ErrNotFound = errors.New("record not found")
)

// DefaultPageSize is the ledger read page size
const DefaultPageSize = 1000

// LedgerFilter narrows a ledger query. Empty slices match everything.
type LedgerFilter struct {
	StaffIDs  []string
	CourseIDs []string
}

// Page selects a window of an ordered query
type Page struct {
	Offset int
	Limit  int
}

// LedgerStore persists ledger entries
type LedgerStore interface {
	// QueryLedger returns entries matching filter in a stable order
	QueryLedger(ctx context.Context, filter LedgerFilter, page Page) ([]models.LedgerEntry, error)
	// Upsert inserts entries or updates the row holding the same conflict key
	Upsert(ctx context.Context, entries []models.LedgerEntry, key models.ConflictKey) error
	// Update replaces the mutable fields of one entry
	Update(ctx context.Context, id uuid.UUID, fields models.LedgerFields) error
}

// CatalogStore reads and corrects the course catalog
type CatalogStore interface {
	ListCourses(ctx context.Context) ([]models.CourseCatalogEntry, error)
	UpdateExpiryPolicy(ctx context.Context, courseID string, months *int, neverExpires bool) error
}

// StaffDirectory reads staff and their location assignments
type StaffDirectory interface {
	ListStaff(ctx context.Context) ([]models.StaffDirectoryEntry, error)
	ListAssignments(ctx context.Context) ([]models.StaffLocationAssignment, error)
}

// QueryAll reads every entry matching filter, one page at a time, until a short page
func QueryAll(ctx context.Context, s LedgerStore, filter LedgerFilter, pageSize int) ([]models.LedgerEntry, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var all []models.LedgerEntry
	for offset := 0; ; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := s.QueryLedger(ctx, filter, Page{Offset: offset, Limit: pageSize})
		if err != nil {
			return nil, errors.Wrapf(err, "query ledger at offset %d", offset)
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}
