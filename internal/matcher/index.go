package matcher

import (
	"sort"

	"training-reconciliation-service/internal/models"
)

// courseName is one catalog name (canonical or alias) prepared for matching
type courseName struct {
	course     *models.CourseCatalogEntry
	normalized string
	tokens     []string
}

// CourseIndex holds a read-only catalog snapshot keyed for each stage of the cascade
type CourseIndex struct {
	// Courses holds the snapshot in ascending ID order
	Courses []*models.CourseCatalogEntry

	// ExactIndex maps folded canonical names and aliases to their course
	ExactIndex map[string]*models.CourseCatalogEntry

	// NormalizedIndex maps normalized names to their course
	NormalizedIndex map[string]*models.CourseCatalogEntry

	// ByID maps catalog IDs to courses
	ByID map[string]*models.CourseCatalogEntry

	names []courseName
}

// NewCourseIndex builds an index over a copy of the catalog. When two
// courses share a name the one with the lower ID owns it.
func NewCourseIndex(catalog []models.CourseCatalogEntry) *CourseIndex {
	courses := make([]*models.CourseCatalogEntry, 0, len(catalog))
	for i := range catalog {
		course := catalog[i]
		course.AliasNames = append([]string(nil), catalog[i].AliasNames...)
		courses = append(courses, &course)
	}
	sort.SliceStable(courses, func(i, j int) bool {
		return courses[i].ID < courses[j].ID
	})

	index := &CourseIndex{
		Courses:         courses,
		ExactIndex:      make(map[string]*models.CourseCatalogEntry),
		NormalizedIndex: make(map[string]*models.CourseCatalogEntry),
		ByID:            make(map[string]*models.CourseCatalogEntry, len(courses)),
	}
	index.buildIndexes()
	return index
}

func (idx *CourseIndex) buildIndexes() {
	for _, course := range idx.Courses {
		if _, exists := idx.ByID[course.ID]; exists {
			continue
		}
		idx.ByID[course.ID] = course

		for _, name := range course.Names() {
			key := FoldKey(name)
			if key == "" {
				continue
			}
			if _, exists := idx.ExactIndex[key]; !exists {
				idx.ExactIndex[key] = course
			}

			normalized := NormalizeCourseName(name)
			if normalized == "" {
				continue
			}
			if _, exists := idx.NormalizedIndex[normalized]; !exists {
				idx.NormalizedIndex[normalized] = course
			}
			idx.names = append(idx.names, courseName{
				course:     course,
				normalized: normalized,
				tokens:     tokenize(normalized),
			})
		}
	}
}

// Size returns the number of distinct courses in the index
func (idx *CourseIndex) Size() int {
	return len(idx.ByID)
}

// StaffIndex holds a read-only directory snapshot of active staff and their locations
type StaffIndex struct {
	// ByName maps folded full names to the active staff holding them
	ByName map[string][]*models.StaffDirectoryEntry

	// Locations maps staff IDs to assigned location IDs in assignment order
	Locations map[string][]string

	active int
}

// NewStaffIndex builds an index over the active staff of a directory snapshot
func NewStaffIndex(staff []models.StaffDirectoryEntry, assignments []models.StaffLocationAssignment) *StaffIndex {
	index := &StaffIndex{
		ByName:    make(map[string][]*models.StaffDirectoryEntry),
		Locations: make(map[string][]string),
	}

	for i := range staff {
		if !staff[i].Active {
			continue
		}
		entry := staff[i]
		key := FoldKey(entry.FullName)
		if key == "" {
			continue
		}
		index.ByName[key] = append(index.ByName[key], &entry)
		index.active++
	}

	seen := make(map[models.StaffLocationAssignment]bool, len(assignments))
	for _, a := range assignments {
		if a.StaffID == "" || a.LocationID == "" || seen[a] {
			continue
		}
		seen[a] = true
		index.Locations[a.StaffID] = append(index.Locations[a.StaffID], a.LocationID)
	}
	return index
}

// ActiveCount returns the number of indexed active staff
func (idx *StaffIndex) ActiveCount() int {
	return idx.active
}
