package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"training-reconciliation-service/internal/models"
)

// FixtureFiles names the YAML files a Memory store is loaded from. Any path may be empty.
type FixtureFiles struct {
	Catalog string
	Staff   string
	Ledger  string
}

type catalogFixture struct {
	Courses []models.CourseCatalogEntry `yaml:"courses"`
}

type staffFixture struct {
	Staff       []models.StaffDirectoryEntry     `yaml:"staff"`
	Assignments []models.StaffLocationAssignment `yaml:"assignments"`
}

type ledgerFixture struct {
	Entries []ledgerRow `yaml:"entries"`
}

// ledgerRow keeps IDs and dates as text so fixtures stay hand-editable
type ledgerRow struct {
	ID         string `yaml:"id"`
	StaffID    string `yaml:"staff_id"`
	CourseID   string `yaml:"course_id"`
	LocationID string `yaml:"location_id"`
	Completed  string `yaml:"completion_date"`
	Expires    string `yaml:"expiry_date"`
	Status     string `yaml:"status"`
}

// LoadFixtures reads catalog, directory and ledger YAML files into a new Memory store
func LoadFixtures(fs afero.Fs, files FixtureFiles, opts ...MemoryOption) (*Memory, error) {
	m := NewMemory(opts...)

	if files.Catalog != "" {
		var catalog catalogFixture
		if err := readYAML(fs, files.Catalog, &catalog); err != nil {
			return nil, err
		}
		for i := range catalog.Courses {
			if err := catalog.Courses[i].Validate(); err != nil {
				return nil, errors.Wrapf(err, "%s: course %d", files.Catalog, i+1)
			}
		}
		m.AddCourses(catalog.Courses...)
	}

	if files.Staff != "" {
		var staff staffFixture
		if err := readYAML(fs, files.Staff, &staff); err != nil {
			return nil, err
		}
		m.AddStaff(staff.Staff...)
		m.AddAssignments(staff.Assignments...)
	}

	if files.Ledger != "" {
		var ledger ledgerFixture
		if err := readYAML(fs, files.Ledger, &ledger); err != nil {
			return nil, err
		}
		for i, row := range ledger.Entries {
			entry, err := row.toEntry()
			if err != nil {
				return nil, errors.Wrapf(err, "%s: entry %d", files.Ledger, i+1)
			}
			m.AddEntries(entry)
		}
	}

	return m, nil
}

func readYAML(fs afero.Fs, path string, out interface{}) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return errors.Wrapf(err, "read fixture %s", path)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "decode fixture %s", path)
	}
	return nil
}

func (r ledgerRow) toEntry() (models.LedgerEntry, error) {
	entry := models.LedgerEntry{
		StaffID:    r.StaffID,
		CourseID:   r.CourseID,
		LocationID: r.LocationID,
		Status:     models.Status(strings.ToLower(strings.TrimSpace(r.Status))),
	}
	if r.ID != "" {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			return entry, errors.Wrap(err, "invalid id")
		}
		entry.ID = id
	}

	var err error
	if entry.CompletionDate, err = parseOptionalDate(r.Completed); err != nil {
		return entry, errors.Wrap(err, "invalid completion_date")
	}
	if entry.ExpiryDate, err = parseOptionalDate(r.Expires); err != nil {
		return entry, errors.Wrap(err, "invalid expiry_date")
	}
	return entry, entry.Validate()
}

func parseOptionalDate(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := models.ParseDate(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// SaveLedgerFixture writes the ledger of m in the format LoadFixtures reads
func SaveLedgerFixture(fs afero.Fs, path string, m *Memory) error {
	var fixture ledgerFixture
	for _, e := range m.Entries() {
		row := ledgerRow{
			ID:         e.ID.String(),
			StaffID:    e.StaffID,
			CourseID:   e.CourseID,
			LocationID: e.LocationID,
			Status:     e.Status.String(),
		}
		if e.CompletionDate != nil {
			row.Completed = e.CompletionDate.Format(models.DateLayout)
		}
		if e.ExpiryDate != nil {
			row.Expires = e.ExpiryDate.Format(models.DateLayout)
		}
		fixture.Entries = append(fixture.Entries, row)
	}

	data, err := yaml.Marshal(&fixture)
	if err != nil {
		return errors.Wrap(err, "encode ledger fixture")
	}
	return errors.Wrapf(afero.WriteFile(fs, path, data, 0644), "write ledger fixture %s", path)
}

// SaveCatalogFixture writes the course catalog of m in the format LoadFixtures reads
func SaveCatalogFixture(fs afero.Fs, path string, m *Memory) error {
	courses, err := m.ListCourses(context.Background())
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(&catalogFixture{Courses: courses})
	if err != nil {
		return errors.Wrap(err, "encode catalog fixture")
	}
	return errors.Wrapf(afero.WriteFile(fs, path, data, 0644), "write catalog fixture %s", path)
}
