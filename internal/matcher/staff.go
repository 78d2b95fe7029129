package matcher

import (
	"errors"
	"strings"

	"training-reconciliation-service/internal/models"
	"training-reconciliation-service/pkg/logger"
)

var (
	// ErrStaffNotFound is returned when no active staff member has the name
	ErrStaffNotFound = errors.New("no active staff member with this name")
	// ErrStaffAmbiguous is returned when several active staff members share the name
	ErrStaffAmbiguous = errors.New("several active staff members share this name")
)

// StaffMatch is a resolved staff member and their assigned locations
type StaffMatch struct {
	Staff     *models.StaffDirectoryEntry
	Locations []string
}

// HasLocation reports whether the staff member is assigned to the location
func (m StaffMatch) HasLocation(locationID string) bool {
	for _, l := range m.Locations {
		if l == locationID {
			return true
		}
	}
	return false
}

// StaffResolver resolves staff names exactly against active staff.
// It holds an immutable snapshot and is safe for concurrent use.
type StaffResolver struct {
	index  *StaffIndex
	logger logger.Logger
}

// NewStaffResolver creates a resolver over a snapshot of the directory
func NewStaffResolver(staff []models.StaffDirectoryEntry, assignments []models.StaffLocationAssignment, log logger.Logger) *StaffResolver {
	r := &StaffResolver{
		index:  NewStaffIndex(staff, assignments),
		logger: logger.OrGlobal(log, "staff-resolver"),
	}
	r.logger.WithField("active_staff", r.index.ActiveCount()).Debug("Staff index built")
	return r
}

// Resolve matches a raw name by Unicode case folding. There is no fuzzy
// fallback: a near miss is reported as ErrStaffNotFound.
func (r *StaffResolver) Resolve(raw string) (StaffMatch, error) {
	key := FoldKey(raw)
	if key == "" {
		return StaffMatch{}, ErrStaffNotFound
	}

	candidates := r.index.ByName[key]
	switch len(candidates) {
	case 0:
		return StaffMatch{}, ErrStaffNotFound
	case 1:
		staff := candidates[0]
		return StaffMatch{Staff: staff, Locations: r.index.Locations[staff.ID]}, nil
	default:
		ids := make([]string, 0, len(candidates))
		for _, c := range candidates {
			ids = append(ids, c.ID)
		}
		r.logger.WithFields(logger.Fields{
			"name":      strings.TrimSpace(raw),
			"staff_ids": ids,
		}).Warn("Ambiguous staff name")
		return StaffMatch{}, ErrStaffAmbiguous
	}
}
