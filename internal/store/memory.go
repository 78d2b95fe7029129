package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"training-reconciliation-service/internal/models"
)

// Memory is an in-process implementation of every store interface. It backs
// tests and dry runs.
type Memory struct {
	mu          sync.RWMutex
	entries     map[uuid.UUID]*models.LedgerEntry
	courses     map[string]models.CourseCatalogEntry
	staff       []models.StaffDirectoryEntry
	assignments []models.StaffLocationAssignment
	legacyOnly  bool
	now         func() time.Time
}

var (
	_ LedgerStore    = (*Memory)(nil)
	_ CatalogStore   = (*Memory)(nil)
	_ StaffDirectory = (*Memory)(nil)
)

// MemoryOption configures a Memory store
type MemoryOption func(*Memory)

// WithLegacyKeyOnly makes the store behave like a legacy deployment whose
// ledger is only unique on (staff, course)
func WithLegacyKeyOnly() MemoryOption {
	return func(m *Memory) { m.legacyOnly = true }
}

// WithClock sets the clock used for UpdatedAt
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates an empty store
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[uuid.UUID]*models.LedgerEntry),
		courses: make(map[string]models.CourseCatalogEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddCourses seeds the catalog
func (m *Memory) AddCourses(courses ...models.CourseCatalogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range courses {
		c.AliasNames = append([]string(nil), c.AliasNames...)
		m.courses[c.ID] = c
	}
}

// AddStaff seeds the staff directory
func (m *Memory) AddStaff(staff ...models.StaffDirectoryEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staff = append(m.staff, staff...)
}

// AddAssignments seeds staff location assignments
func (m *Memory) AddAssignments(assignments ...models.StaffLocationAssignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments = append(m.assignments, assignments...)
}

// AddEntries seeds ledger entries, assigning IDs where missing
func (m *Memory) AddEntries(entries ...models.LedgerEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range entries {
		e := entries[i].Clone()
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		m.entries[e.ID] = e
	}
}

// Entries returns a copy of the ledger ordered by key
func (m *Memory) Entries() []models.LedgerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.LedgerEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().String() < out[j].Key().String()
	})
	return out
}

// Find returns the entry stored under key
func (m *Memory) Find(key models.LedgerKey) (models.LedgerEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.Key() == key {
			return *e.Clone(), true
		}
	}
	return models.LedgerEntry{}, false
}

// QueryLedger implements LedgerStore. Entries are ordered by ID.
func (m *Memory) QueryLedger(ctx context.Context, filter LedgerFilter, page Page) ([]models.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	staff := toSet(filter.StaffIDs)
	courses := toSet(filter.CourseIDs)

	matched := make([]*models.LedgerEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if staff != nil && !staff[e.StaffID] {
			continue
		}
		if courses != nil && !courses[e.CourseID] {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ID.String() < matched[j].ID.String()
	})

	if page.Offset >= len(matched) {
		return []models.LedgerEntry{}, nil
	}
	end := len(matched)
	if page.Limit > 0 && page.Offset+page.Limit < end {
		end = page.Offset + page.Limit
	}

	out := make([]models.LedgerEntry, 0, end-page.Offset)
	for _, e := range matched[page.Offset:end] {
		out = append(out, *e.Clone())
	}
	return out, nil
}

// Upsert implements LedgerStore
func (m *Memory) Upsert(ctx context.Context, entries []models.LedgerEntry, key models.ConflictKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == models.ConflictLocationScoped && m.legacyOnly {
		return ErrConflictKeyUnsupported
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range entries {
		incoming := entries[i].Clone()
		if err := incoming.Validate(); err != nil {
			return errors.Wrap(err, "upsert ledger entry")
		}
		if key == models.ConflictLegacy {
			incoming.LocationID = ""
		}
		incoming.UpdatedAt = m.now()

		if existing := m.findLocked(incoming.Key(), key); existing != nil {
			existing.Apply(incoming.Fields())
			existing.UpdatedAt = incoming.UpdatedAt
			continue
		}
		if incoming.ID == uuid.Nil {
			incoming.ID = uuid.New()
		}
		m.entries[incoming.ID] = incoming
	}
	return nil
}

func (m *Memory) findLocked(k models.LedgerKey, key models.ConflictKey) *models.LedgerEntry {
	for _, e := range m.entries {
		if key == models.ConflictLegacy {
			if e.Key().Legacy() == k.Legacy() {
				return e
			}
			continue
		}
		if e.Key() == k {
			return e
		}
	}
	return nil
}

// Update implements LedgerStore
func (m *Memory) Update(ctx context.Context, id uuid.UUID, fields models.LedgerFields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "ledger entry %s", id)
	}
	e.Apply(fields)
	e.UpdatedAt = m.now()
	return nil
}

// ListCourses implements CatalogStore. Courses are ordered by ID.
func (m *Memory) ListCourses(ctx context.Context) ([]models.CourseCatalogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.CourseCatalogEntry, 0, len(m.courses))
	for _, c := range m.courses {
		c.AliasNames = append([]string(nil), c.AliasNames...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateExpiryPolicy implements CatalogStore
func (m *Memory) UpdateExpiryPolicy(ctx context.Context, courseID string, months *int, neverExpires bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.courses[courseID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "course %s", courseID)
	}
	c.ExpiryMonths = nil
	if months != nil {
		v := *months
		c.ExpiryMonths = &v
	}
	c.NeverExpires = neverExpires
	m.courses[courseID] = c
	return nil
}

// ListStaff implements StaffDirectory
func (m *Memory) ListStaff(ctx context.Context) ([]models.StaffDirectoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.StaffDirectoryEntry(nil), m.staff...), nil
}

// ListAssignments implements StaffDirectory
func (m *Memory) ListAssignments(ctx context.Context) ([]models.StaffLocationAssignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.StaffLocationAssignment(nil), m.assignments...), nil
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
