package reconciler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"training-reconciliation-service/internal/models"
	"training-reconciliation-service/internal/store"
	"training-reconciliation-service/pkg/errors"
	"training-reconciliation-service/pkg/logger"
)

func newTestStore() *store.Memory {
	mem := store.NewMemory()
	mem.AddCourses(
		models.CourseCatalogEntry{ID: "fire", CanonicalName: "Fire Safety", ExpiryMonths: months(12)},
		models.CourseCatalogEntry{ID: "fa", CanonicalName: "First Aid", AliasNames: []string{"Emergency First Aid"}, ExpiryMonths: months(36)},
		models.CourseCatalogEntry{ID: "ind", CanonicalName: "Induction", NeverExpires: true},
	)
	mem.AddStaff(
		models.StaffDirectoryEntry{ID: "s1", FullName: "Jane Doe", Active: true},
		models.StaffDirectoryEntry{ID: "s2", FullName: "John Smith", Active: true},
		models.StaffDirectoryEntry{ID: "s3", FullName: "Amy Pond", Active: true},
	)
	mem.AddAssignments(
		models.StaffLocationAssignment{StaffID: "s1", LocationID: "oak"},
		models.StaffLocationAssignment{StaffID: "s2", LocationID: "oak"},
		models.StaffLocationAssignment{StaffID: "s2", LocationID: "elm"},
	)
	return mem
}

func newTestService(t *testing.T, ledger store.LedgerStore, mem *store.Memory, mutate func(*Config)) *Service {
	t.Helper()
	config := DefaultConfig()
	if mutate != nil {
		mutate(config)
	}
	svc, err := NewService(Stores{Ledger: ledger, Catalog: mem, Directory: mem}, config, logger.Discard())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func matrix(rows ...[]string) [][]string {
	return append([][]string{
		{"Training Matrix", ""},
		{"Staff Name", "Fire Safety (Careskills)", "First Aid", "Induction"},
	}, rows...)
}

func mustImport(t *testing.T, svc *Service, sources ...Source) *ImportResult {
	t.Helper()
	result, err := svc.ImportSources(context.Background(), sources)
	if err != nil {
		t.Fatalf("ImportSources() error = %v", err)
	}
	return result
}

func entryFor(t *testing.T, mem *store.Memory, staff, course, location string) models.LedgerEntry {
	t.Helper()
	e, ok := mem.Find(models.LedgerKey{StaffID: staff, CourseID: course, LocationID: location})
	if !ok {
		t.Fatalf("no ledger entry for %s/%s@%s", staff, course, location)
	}
	return e
}

func TestImport_CreatesEntriesWithExpiry(t *testing.T) {
	mem := newTestStore()
	svc := newTestService(t, mem, mem, nil)

	result := mustImport(t, svc, Source{Name: "oak.csv", Location: "oak", Rows: matrix(
		[]string{"Jane Doe", "01/03/2024", "Booked", "15/01/2020"},
	)})

	if result.Summary.Processed != 3 || result.Summary.Created != 3 || result.Summary.Errors != 0 {
		t.Fatalf("summary = %+v", result.Summary)
	}

	fire := entryFor(t, mem, "s1", "fire", "oak")
	if !models.SameDate(fire.ExpiryDate, models.DatePtr(models.NewDate(2025, time.March, 1))) {
		t.Errorf("fire expiry = %s, want 2025-03-01", models.FormatDate(fire.ExpiryDate))
	}
	if fa := entryFor(t, mem, "s1", "fa", "oak"); fa.Status != models.StatusBooked {
		t.Errorf("first aid status = %s, want booked", fa.Status)
	}
	if ind := entryFor(t, mem, "s1", "ind", "oak"); ind.ExpiryDate != nil {
		t.Errorf("induction expiry = %s, want none", models.FormatDate(ind.ExpiryDate))
	}
	if result.ConflictKey != models.ConflictLocationScoped.String() {
		t.Errorf("conflict key = %s", result.ConflictKey)
	}
}

func TestImport_Idempotence(t *testing.T) {
	mem := newTestStore()
	svc := newTestService(t, mem, mem, nil)
	source := Source{Name: "oak.csv", Location: "oak", Rows: matrix(
		[]string{"Jane Doe", "01/03/2024", "Booked", "N/A"},
		[]string{"John Smith", "02/03/2024", "", "Awaiting"},
	)}

	first := mustImport(t, svc, source)
	if first.Summary.Created != 5 {
		t.Fatalf("first run created %d, want 5", first.Summary.Created)
	}
	before := mem.Entries()

	second := mustImport(t, svc, source)
	if second.Summary.Created != 0 || second.Summary.Updated != 0 || second.Summary.Changes != 0 {
		t.Errorf("second run wrote: %+v", second.Summary)
	}
	if second.Summary.Unchanged != 5 {
		t.Errorf("unchanged = %d, want 5", second.Summary.Unchanged)
	}
	after := mem.Entries()
	if len(after) != len(before) {
		t.Fatalf("entries = %d, want %d", len(after), len(before))
	}
	for i := range before {
		if !after[i].UpdatedAt.Equal(before[i].UpdatedAt) {
			t.Errorf("%s was rewritten", after[i].Key())
		}
	}
}

func TestImport_BookedPreservesDates(t *testing.T) {
	mem := newTestStore()
	completion := models.DatePtr(models.NewDate(2023, time.January, 10))
	expires := models.DatePtr(models.NewDate(2024, time.January, 10))
	mem.AddEntries(models.LedgerEntry{
		StaffID: "s1", CourseID: "fire", LocationID: "oak",
		CompletionDate: completion, ExpiryDate: expires, Status: models.StatusCompleted,
	})
	svc := newTestService(t, mem, mem, nil)

	result := mustImport(t, svc, Source{Name: "oak.csv", Location: "oak", Rows: matrix(
		[]string{"Jane Doe", "Booked"},
	)})
	if result.Summary.Updated != 1 {
		t.Fatalf("updated = %d, want 1", result.Summary.Updated)
	}

	got := entryFor(t, mem, "s1", "fire", "oak")
	if got.Status != models.StatusBooked {
		t.Errorf("status = %s, want booked", got.Status)
	}
	if !models.SameDate(got.CompletionDate, completion) || !models.SameDate(got.ExpiryDate, expires) {
		t.Errorf("dates = %s/%s, want carried forward", models.FormatDate(got.CompletionDate), models.FormatDate(got.ExpiryDate))
	}
	if len(result.Changes) != 1 || result.Changes[0].Action != ActionUpdate {
		t.Errorf("changes = %+v", result.Changes)
	}
}

func TestImport_PartialFailure(t *testing.T) {
	mem := store.NewMemory()
	mem.AddCourses(models.CourseCatalogEntry{ID: "fire", CanonicalName: "Fire Safety", ExpiryMonths: months(12)})

	rows := [][]string{{"Staff Name", "Fire Safety"}}
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("s%d", i)
		name := fmt.Sprintf("Staff Member %d", i)
		mem.AddStaff(models.StaffDirectoryEntry{ID: id, FullName: name, Active: true})
		mem.AddAssignments(models.StaffLocationAssignment{StaffID: id, LocationID: "oak"})
		if i == 6 {
			name = "Staff Membr 6"
		}
		rows = append(rows, []string{name, "01/03/2024"})
	}
	svc := newTestService(t, mem, mem, nil)

	result := mustImport(t, svc, Source{Name: "oak.csv", Location: "oak", Rows: rows})

	if result.Summary.Processed != 10 {
		t.Errorf("processed = %d, want 10", result.Summary.Processed)
	}
	if result.Summary.Created != 9 || len(mem.Entries()) != 9 {
		t.Errorf("created = %d, entries = %d, want 9", result.Summary.Created, len(mem.Entries()))
	}
	if result.Summary.Errors != 1 {
		t.Fatalf("errors = %d, want 1", result.Summary.Errors)
	}
	e := result.Errors[0]
	if e.Code != errors.CodeUnresolvedStaff || e.Row != 8 || e.Name != "Staff Membr 6" {
		t.Errorf("error entry = %+v", e)
	}
}

func TestImport_FanOutToAssignedLocations(t *testing.T) {
	mem := newTestStore()
	svc := newTestService(t, mem, mem, nil)

	result := mustImport(t, svc, Source{Name: "all-sites.csv", Rows: matrix(
		[]string{"John Smith", "01/03/2024"},
	)})

	if result.Summary.Created != 2 {
		t.Fatalf("created = %d, want 2", result.Summary.Created)
	}
	entryFor(t, mem, "s2", "fire", "oak")
	entryFor(t, mem, "s2", "fire", "elm")

	if len(result.Changes) != 1 || len(result.Changes[0].Locations) != 2 {
		t.Errorf("changes = %+v, want one entry covering two locations", result.Changes)
	}
}

func TestImport_NoLocationAssigned(t *testing.T) {
	mem := newTestStore()
	svc := newTestService(t, mem, mem, nil)

	result := mustImport(t, svc, Source{Name: "all-sites.csv", Rows: matrix(
		[]string{"Amy Pond", "01/03/2024"},
	)})

	if result.Summary.Created != 0 || result.Summary.Errors != 1 {
		t.Fatalf("summary = %+v", result.Summary)
	}
	if result.Errors[0].Code != errors.CodeNoLocationAssigned {
		t.Errorf("code = %s, want %s", result.Errors[0].Code, errors.CodeNoLocationAssigned)
	}
}

func TestImport_NoLocationAssignedWithTableLocation(t *testing.T) {
	mem := newTestStore()
	svc := newTestService(t, mem, mem, nil)

	result := mustImport(t, svc, Source{Name: "oak.csv", Location: "oak", Rows: matrix(
		[]string{"Amy Pond", "01/03/2024"},
		[]string{"Jane Doe", "01/03/2024"},
	)})

	if result.Summary.Created != 1 || result.Summary.Errors != 1 {
		t.Fatalf("summary = %+v, want one create and one error", result.Summary)
	}
	if result.Errors[0].Code != errors.CodeNoLocationAssigned || result.Errors[0].Name != "Amy Pond" {
		t.Errorf("error = %+v, want no_location_assigned for Amy Pond", result.Errors[0])
	}
	if _, ok := mem.Find(models.LedgerKey{StaffID: "s3", CourseID: "fire", LocationID: "oak"}); ok {
		t.Error("staff member without assignments must not be written")
	}
}

func TestImport_TableLocationOutsideAssignments(t *testing.T) {
	mem := newTestStore()
	svc := newTestService(t, mem, mem, nil)

	// Jane Doe is only assigned to oak
	result := mustImport(t, svc, Source{Name: "elm.csv", Location: "elm", Rows: matrix(
		[]string{"Jane Doe", "01/03/2024"},
	)})

	if result.Summary.Created != 1 || result.Summary.Errors != 0 {
		t.Fatalf("summary = %+v", result.Summary)
	}
	entryFor(t, mem, "s1", "fire", "elm")
}

func TestImport_UpdatesLegacyUnscopedRow(t *testing.T) {
	mem := newTestStore()
	mem.AddEntries(models.LedgerEntry{
		StaffID: "s1", CourseID: "fire",
		CompletionDate: models.DatePtr(models.NewDate(2022, time.June, 1)),
		Status:         models.StatusCompleted,
	})
	svc := newTestService(t, mem, mem, nil)

	result := mustImport(t, svc, Source{Name: "oak.csv", Location: "oak", Rows: matrix(
		[]string{"Jane Doe", "01/03/2024"},
	)})

	if result.Summary.Updated != 1 || result.Summary.Created != 0 {
		t.Fatalf("summary = %+v, want one update", result.Summary)
	}
	entries := mem.Entries()
	if len(entries) != 1 || entries[0].LocationID != "" {
		t.Fatalf("entries = %v, want the single legacy row", entries)
	}
	if !models.SameDate(entries[0].CompletionDate, models.DatePtr(models.NewDate(2024, time.March, 1))) {
		t.Errorf("completion = %s", models.FormatDate(entries[0].CompletionDate))
	}
}

func TestImport_LegacyOnlyLedgerFallsBack(t *testing.T) {
	catalog := newTestStore()
	ledger := store.NewMemory(store.WithLegacyKeyOnly())
	svc := newTestService(t, ledger, catalog, nil)

	result := mustImport(t, svc, Source{Name: "oak.csv", Location: "oak", Rows: matrix(
		[]string{"Jane Doe", "01/03/2024"},
	)})

	if result.Summary.Created != 1 || result.Summary.Errors != 0 {
		t.Fatalf("summary = %+v", result.Summary)
	}
	if !result.LegacyFallback || result.ConflictKey != models.ConflictLegacy.String() {
		t.Errorf("fallback = %v, key = %s", result.LegacyFallback, result.ConflictKey)
	}
}

func TestImport_LegacyOnlyLedgerCountsFanOutOnce(t *testing.T) {
	catalog := newTestStore()
	ledger := store.NewMemory(store.WithLegacyKeyOnly())
	svc := newTestService(t, ledger, catalog, nil)

	// John Smith works at oak and elm; both creates land on one legacy row
	result := mustImport(t, svc, Source{Name: "all-sites.csv", Rows: matrix(
		[]string{"John Smith", "01/03/2024"},
	)})

	if result.Summary.Created != 1 || result.Summary.Errors != 0 {
		t.Fatalf("summary = %+v, want one create", result.Summary)
	}
	if got := len(ledger.Entries()); got != 1 {
		t.Errorf("ledger rows = %d, want 1", got)
	}
}

func TestImport_RepeatedKeyFoldsIntoOneWrite(t *testing.T) {
	mem := newTestStore()
	svc := newTestService(t, mem, mem, nil)

	result := mustImport(t, svc,
		Source{Name: "january.csv", Location: "oak", Rows: matrix([]string{"Jane Doe", "01/01/2024"})},
		Source{Name: "march.csv", Location: "oak", Rows: matrix([]string{"Jane Doe", "01/03/2024"})},
	)

	if result.Summary.Created != 1 || result.Summary.Updated != 0 {
		t.Fatalf("summary = %+v, want a single create", result.Summary)
	}
	got := entryFor(t, mem, "s1", "fire", "oak")
	if !models.SameDate(got.CompletionDate, models.DatePtr(models.NewDate(2024, time.March, 1))) {
		t.Errorf("completion = %s, want the last record", models.FormatDate(got.CompletionDate))
	}
}

// failingLedger rejects every write for one staff member
type failingLedger struct {
	*store.Memory
	staffID string
}

func (f *failingLedger) Upsert(ctx context.Context, entries []models.LedgerEntry, key models.ConflictKey) error {
	for _, e := range entries {
		if e.StaffID == f.staffID {
			return fmt.Errorf("connection reset")
		}
	}
	return f.Memory.Upsert(ctx, entries, key)
}

func TestImport_WriteFailureIsReported(t *testing.T) {
	mem := newTestStore()
	ledger := &failingLedger{Memory: mem, staffID: "s2"}
	svc := newTestService(t, ledger, mem, nil)

	result := mustImport(t, svc, Source{Name: "oak.csv", Location: "oak", Rows: matrix(
		[]string{"Jane Doe", "01/03/2024"},
		[]string{"John Smith", "01/03/2024"},
	)})

	if result.Summary.Created != 1 || result.Summary.Errors != 1 {
		t.Fatalf("summary = %+v", result.Summary)
	}
	e := result.Errors[0]
	if e.Code != errors.CodePersistenceFailed || e.Row != 4 || e.Name != "John Smith" {
		t.Errorf("error entry = %+v", e)
	}
	if summary := result.ErrorSummary(); !summary.HasCategory(errors.CategoryPersistence) {
		t.Errorf("error summary = %+v", summary)
	}
}

func TestImport_DryRunDoesNotWrite(t *testing.T) {
	mem := newTestStore()
	svc := newTestService(t, mem, mem, func(c *Config) { c.DryRun = true })

	result := mustImport(t, svc, Source{Name: "oak.csv", Location: "oak", Rows: matrix(
		[]string{"Jane Doe", "01/03/2024", "01/03/2024"},
	)})

	if !result.DryRun || result.Summary.Created != 2 {
		t.Errorf("summary = %+v", result.Summary)
	}
	if n := len(mem.Entries()); n != 0 {
		t.Errorf("dry run wrote %d entries", n)
	}
}

func TestImport_UnreadableTableIsSkipped(t *testing.T) {
	mem := newTestStore()
	svc := newTestService(t, mem, mem, nil)

	result := mustImport(t, svc,
		Source{Name: "broken.csv", Location: "elm", Rows: [][]string{{"a"}, {"b"}, {"c"}}},
		Source{Name: "oak.csv", Location: "oak", Rows: matrix([]string{"Jane Doe", "01/03/2024"})},
	)

	if result.Summary.Created != 1 {
		t.Errorf("created = %d, want 1", result.Summary.Created)
	}
	if result.Summary.Errors != 1 || result.Errors[0].Code != errors.CodeNoHeaderRow || result.Errors[0].Table != "broken.csv" {
		t.Errorf("errors = %+v", result.Errors)
	}
}

func TestImport_NoReadableInput(t *testing.T) {
	mem := newTestStore()
	svc := newTestService(t, mem, mem, nil)

	result, err := svc.ImportSources(context.Background(), []Source{
		{Name: "empty.csv", Rows: [][]string{{"Staff Name"}}},
	})
	if !errors.HasCode(err, errors.CodeInputUnreadable) {
		t.Fatalf("error = %v, want %s", err, errors.CodeInputUnreadable)
	}
	if result == nil || result.Summary.Errors != 1 || result.Summary.Processed != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestImport_DisplayErrorsAreBounded(t *testing.T) {
	mem := newTestStore()
	svc := newTestService(t, mem, mem, func(c *Config) { c.MaxDisplayErrors = 2 })

	result := mustImport(t, svc, Source{Name: "oak.csv", Location: "oak", Rows: matrix(
		[]string{"Nobody One", "01/03/2024"},
		[]string{"Nobody Two", "01/03/2024"},
		[]string{"Nobody Three", "01/03/2024"},
	)})

	if result.Summary.Errors != 3 {
		t.Errorf("errors = %d, want 3", result.Summary.Errors)
	}
	if len(result.DisplayErrors()) != 2 || result.HiddenErrors() != 1 {
		t.Errorf("display = %d, hidden = %d", len(result.DisplayErrors()), result.HiddenErrors())
	}
}

func TestImport_UnresolvedCourseIsReported(t *testing.T) {
	mem := newTestStore()
	svc := newTestService(t, mem, mem, nil)

	rows := [][]string{
		{"Learner Name", "Basket Weaving", "Fire Safety"},
		{"Jane Doe", "01/03/2024", "01/03/2024"},
		{"Care Staff", "", ""},
	}
	result := mustImport(t, svc, Source{Name: "oak.csv", Location: "oak", Rows: rows})

	if result.Summary.Created != 1 || result.Summary.Errors != 1 {
		t.Fatalf("summary = %+v", result.Summary)
	}
	if result.Errors[0].Code != errors.CodeUnresolvedCourse || result.Errors[0].Name != "Basket Weaving" {
		t.Errorf("error entry = %+v", result.Errors[0])
	}
}

func TestImport_CancelledContext(t *testing.T) {
	mem := newTestStore()
	svc := newTestService(t, mem, mem, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.ImportSources(ctx, []Source{{Name: "oak.csv", Location: "oak", Rows: matrix([]string{"Jane Doe", "01/03/2024"})}})
	if err == nil {
		t.Fatal("expected an error for a cancelled run")
	}
	if n := len(mem.Entries()); n != 0 {
		t.Errorf("cancelled run wrote %d entries", n)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "zero page size", mutate: func(c *Config) { c.PageSize = 0 }, wantErr: true},
		{name: "negative display cap", mutate: func(c *Config) { c.MaxDisplayErrors = -1 }, wantErr: true},
		{name: "missing writer", mutate: func(c *Config) { c.Writer = nil }, wantErr: true},
		{name: "sentinels differ", mutate: func(c *Config) { c.Calculator.Sentinel = 500 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			if err := config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
