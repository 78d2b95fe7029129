package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the state of a ledger entry
type Status string

const (
	// StatusCompleted means the training was completed on the completion date
	StatusCompleted Status = "completed"
	// StatusBooked means the staff member is booked onto the course
	StatusBooked Status = "booked"
	// StatusAwaiting means the training has not been arranged yet
	StatusAwaiting Status = "awaiting"
	// StatusNotApplicable means the course does not apply to the staff member
	StatusNotApplicable Status = "not_applicable"
)

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// IsValid checks if the status is one of the ledger statuses
func (s Status) IsValid() bool {
	switch s {
	case StatusCompleted, StatusBooked, StatusAwaiting, StatusNotApplicable:
		return true
	}
	return false
}

// CellStatus is the wider status vocabulary found in source cells
type CellStatus string

const (
	CellCompleted     CellStatus = "completed"
	CellBooked        CellStatus = "booked"
	CellAwaiting      CellStatus = "awaiting"
	CellNotApplicable CellStatus = "not_applicable"
	CellInProgress    CellStatus = "in_progress"
	CellNotDueYet     CellStatus = "not_due_yet"
)

// LedgerStatus maps a cell status onto the status stored in the ledger.
// In-progress training is held as booked and not-yet-due training as awaiting.
func (c CellStatus) LedgerStatus() Status {
	switch c {
	case CellCompleted:
		return StatusCompleted
	case CellBooked, CellInProgress:
		return StatusBooked
	case CellNotApplicable:
		return StatusNotApplicable
	default:
		return StatusAwaiting
	}
}

// CourseCatalogEntry is a canonical course definition
type CourseCatalogEntry struct {
	ID            string   `json:"id" yaml:"id"`
	CanonicalName string   `json:"canonical_name" yaml:"name"`
	AliasNames    []string `json:"alias_names,omitempty" yaml:"aliases,omitempty"`
	ExpiryMonths  *int     `json:"expiry_months,omitempty" yaml:"expiry_months,omitempty"`
	NeverExpires  bool     `json:"never_expires,omitempty" yaml:"never_expires,omitempty"`
}

// Names returns the canonical name followed by the aliases
func (c *CourseCatalogEntry) Names() []string {
	names := make([]string, 0, len(c.AliasNames)+1)
	names = append(names, c.CanonicalName)
	return append(names, c.AliasNames...)
}

// HasFiniteExpiry reports whether completions of the course expire.
// NeverExpires wins over ExpiryMonths, and month counts at or above the
// sentinel are treated as never expiring.
func (c *CourseCatalogEntry) HasFiniteExpiry(sentinel int) bool {
	if c.NeverExpires || c.ExpiryMonths == nil {
		return false
	}
	return *c.ExpiryMonths > 0 && *c.ExpiryMonths < sentinel
}

// Validate performs basic validation on the catalog entry
func (c *CourseCatalogEntry) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("course ID cannot be empty")
	}
	if strings.TrimSpace(c.CanonicalName) == "" {
		return fmt.Errorf("course %s has no canonical name", c.ID)
	}
	return nil
}

// StaffDirectoryEntry is a staff member known to the directory
type StaffDirectoryEntry struct {
	ID       string `json:"id" yaml:"id"`
	FullName string `json:"full_name" yaml:"name"`
	Active   bool   `json:"active" yaml:"active"`
}

// StaffLocationAssignment links a staff member to a location
type StaffLocationAssignment struct {
	StaffID    string `json:"staff_id" yaml:"staff_id"`
	LocationID string `json:"location_id" yaml:"location_id"`
}

// SourceRecord is one non-empty course cell from an extracted table
type SourceRecord struct {
	Row           int    `json:"row"`
	Column        int    `json:"column"`
	StaffNameRaw  string `json:"staff_name"`
	CourseNameRaw string `json:"course_name"`
	CellValueRaw  string `json:"cell_value"`
}

// LedgerKey identifies a ledger entry. An empty LocationID is the unscoped
// key used by legacy deployments.
type LedgerKey struct {
	StaffID    string
	CourseID   string
	LocationID string
}

// Legacy returns the key without its location
func (k LedgerKey) Legacy() LedgerKey {
	return LedgerKey{StaffID: k.StaffID, CourseID: k.CourseID}
}

// String returns a string representation of the key
func (k LedgerKey) String() string {
	if k.LocationID == "" {
		return k.StaffID + "/" + k.CourseID
	}
	return k.StaffID + "/" + k.CourseID + "@" + k.LocationID
}

// ConflictKey selects the uniqueness constraint used for upserts
type ConflictKey int

const (
	// ConflictLocationScoped upserts on (staff, course, location)
	ConflictLocationScoped ConflictKey = iota
	// ConflictLegacy upserts on (staff, course)
	ConflictLegacy
)

// String returns the string representation of ConflictKey
func (k ConflictKey) String() string {
	if k == ConflictLegacy {
		return "staff_course"
	}
	return "staff_course_location"
}

// LedgerEntry is one persisted training record
type LedgerEntry struct {
	ID             uuid.UUID  `json:"id" yaml:"id"`
	StaffID        string     `json:"staff_id" yaml:"staff_id"`
	CourseID       string     `json:"course_id" yaml:"course_id"`
	LocationID     string     `json:"location_id,omitempty" yaml:"location_id,omitempty"`
	CompletionDate *time.Time `json:"completion_date,omitempty" yaml:"completion_date,omitempty"`
	ExpiryDate     *time.Time `json:"expiry_date,omitempty" yaml:"expiry_date,omitempty"`
	Status         Status     `json:"status" yaml:"status"`
	UpdatedAt      time.Time  `json:"updated_at" yaml:"updated_at,omitempty"`
}

// Key returns the location-scoped key of the entry
func (e *LedgerEntry) Key() LedgerKey {
	return LedgerKey{StaffID: e.StaffID, CourseID: e.CourseID, LocationID: e.LocationID}
}

// Fields returns the mutable part of the entry
func (e *LedgerEntry) Fields() LedgerFields {
	return LedgerFields{
		CompletionDate: e.CompletionDate,
		ExpiryDate:     e.ExpiryDate,
		Status:         e.Status,
	}
}

// Apply copies the fields onto the entry
func (e *LedgerEntry) Apply(fields LedgerFields) {
	e.CompletionDate = CopyDate(fields.CompletionDate)
	e.ExpiryDate = CopyDate(fields.ExpiryDate)
	e.Status = fields.Status
}

// Clone returns a deep copy of the entry
func (e *LedgerEntry) Clone() *LedgerEntry {
	clone := *e
	clone.CompletionDate = CopyDate(e.CompletionDate)
	clone.ExpiryDate = CopyDate(e.ExpiryDate)
	return &clone
}

// Validate performs basic validation on the entry
func (e *LedgerEntry) Validate() error {
	if strings.TrimSpace(e.StaffID) == "" {
		return fmt.Errorf("ledger entry staff ID cannot be empty")
	}
	if strings.TrimSpace(e.CourseID) == "" {
		return fmt.Errorf("ledger entry course ID cannot be empty")
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("invalid ledger status: %s", e.Status)
	}
	if e.ExpiryDate != nil && e.CompletionDate == nil {
		return fmt.Errorf("ledger entry %s has an expiry date without a completion date", e.Key())
	}
	return nil
}

// String returns a string representation of the entry
func (e *LedgerEntry) String() string {
	return fmt.Sprintf("LedgerEntry{Key: %s, Status: %s, Completed: %s, Expires: %s}",
		e.Key(), e.Status, FormatDate(e.CompletionDate), FormatDate(e.ExpiryDate))
}

// LedgerFields holds the fields an update may change
type LedgerFields struct {
	CompletionDate *time.Time
	ExpiryDate     *time.Time
	Status         Status
}

// Equal reports whether both field sets hold the same dates and status
func (f LedgerFields) Equal(other LedgerFields) bool {
	return f.Status == other.Status &&
		SameDate(f.CompletionDate, other.CompletionDate) &&
		SameDate(f.ExpiryDate, other.ExpiryDate)
}
