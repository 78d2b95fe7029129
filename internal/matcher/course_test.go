package matcher

import (
	"testing"

	"training-reconciliation-service/internal/models"
	"training-reconciliation-service/pkg/logger"
)

func intPtr(v int) *int { return &v }

func testCatalog() []models.CourseCatalogEntry {
	return []models.CourseCatalogEntry{
		{ID: "c03", CanonicalName: "Moving and Handling", AliasNames: []string{"Manual Handling"}, ExpiryMonths: intPtr(12)},
		{ID: "c01", CanonicalName: "Fire Safety", ExpiryMonths: intPtr(12)},
		{ID: "c02", CanonicalName: "Infection Prevention and Control", ExpiryMonths: intPtr(24)},
		{ID: "c04", CanonicalName: "Safeguarding Adults", ExpiryMonths: intPtr(36)},
		{ID: "c05", CanonicalName: "Dementia Awareness", NeverExpires: true},
	}
}

func newTestCourseResolver(t *testing.T, catalog []models.CourseCatalogEntry) *CourseResolver {
	t.Helper()
	r, err := NewCourseResolver(catalog, DefaultResolverConfig(), logger.Discard())
	if err != nil {
		t.Fatalf("NewCourseResolver() error = %v", err)
	}
	return r
}

func TestCourseResolver_Resolve(t *testing.T) {
	r := newTestCourseResolver(t, testCatalog())

	tests := []struct {
		name       string
		raw        string
		wantID     string
		wantMethod MatchMethod
	}{
		{"exact canonical", "Fire Safety", "c01", MatchExact},
		{"exact ignores case and spacing", "  fire   SAFETY ", "c01", MatchExact},
		{"exact alias", "manual handling", "c03", MatchExact},
		{"provider marker", "Fire Safety (Careskills)", "c01", MatchNormalized},
		{"step in parentheses", "Safeguarding Adults (Step 2)", "c04", MatchNormalized},
		{"dash step", "Moving and Handling - Step 1", "c03", MatchNormalized},
		{"bare step", "Dementia Awareness step 3", "c05", MatchNormalized},
		{"step then provider", "Manual Handling - Step 2 (Careskills)", "c03", MatchNormalized},
		{"word overlap", "Infection Control", "c02", MatchOverlap},
		{"partial words", "Safeguard Adult", "c04", MatchOverlap},
		{"below threshold", "Food Hygiene Level 2", "", MatchNone},
		{"empty", "   ", "", MatchNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, ok := r.Resolve(tt.raw)
			if match.Method != tt.wantMethod {
				t.Fatalf("Resolve(%q).Method = %v, want %v", tt.raw, match.Method, tt.wantMethod)
			}
			if ok != (tt.wantMethod != MatchNone) {
				t.Errorf("Resolve(%q) ok = %v", tt.raw, ok)
			}
			if tt.wantID != "" && match.Course.ID != tt.wantID {
				t.Errorf("Resolve(%q) = %s, want %s", tt.raw, match.Course.ID, tt.wantID)
			}
		})
	}
}

func TestCourseResolver_CareskillsSuffixMatchesPlainName(t *testing.T) {
	r := newTestCourseResolver(t, testCatalog())

	plain, ok := r.Resolve("Fire Safety")
	if !ok {
		t.Fatal("plain name did not resolve")
	}
	marked, ok := r.Resolve("Fire Safety (Careskills)")
	if !ok {
		t.Fatal("marked name did not resolve")
	}
	if plain.Course.ID != marked.Course.ID {
		t.Errorf("got %s and %s, want the same course", plain.Course.ID, marked.Course.ID)
	}
}

func TestCourseResolver_BestOverlapIsDeterministic(t *testing.T) {
	catalog := []models.CourseCatalogEntry{
		{ID: "b", CanonicalName: "Fire Safety Marshal Training"},
		{ID: "a", CanonicalName: "Fire Safety Awareness Training"},
		{ID: "c", CanonicalName: "Fire Safety Training"},
	}

	// every candidate scores 1.0; "fire safety training" is the closest name
	for _, order := range [][]int{{0, 1, 2}, {2, 1, 0}, {1, 2, 0}} {
		shuffled := []models.CourseCatalogEntry{catalog[order[0]], catalog[order[1]], catalog[order[2]]}
		r := newTestCourseResolver(t, shuffled)

		match, ok := r.Resolve("Fire Training")
		if !ok {
			t.Fatalf("order %v: expected a match", order)
		}
		if match.Course.ID != "c" {
			t.Errorf("order %v: got %s, want c", order, match.Course.ID)
		}
	}
}

func TestCourseResolver_TieGoesToLowestID(t *testing.T) {
	catalog := []models.CourseCatalogEntry{
		{ID: "z9", CanonicalName: "First Aid Basic"},
		{ID: "a1", CanonicalName: "First Aid Level"},
	}
	r := newTestCourseResolver(t, catalog)

	match, ok := r.Resolve("First Aid")
	if !ok {
		t.Fatal("expected a match")
	}
	if match.Course.ID != "a1" {
		t.Errorf("got %s, want a1", match.Course.ID)
	}
}

func TestCourseResolver_CachesResults(t *testing.T) {
	r := newTestCourseResolver(t, testCatalog())

	first, _ := r.Resolve("Infection Control")
	second, _ := r.Resolve("infection control")
	if first.Course != second.Course || len(r.cache) != 1 {
		t.Errorf("expected one cached resolution, cache has %d entries", len(r.cache))
	}
}

func TestCourseResolver_Lookups(t *testing.T) {
	r := newTestCourseResolver(t, testCatalog())

	if course, ok := r.Course("c05"); !ok || !course.NeverExpires {
		t.Errorf("Course(c05) = %+v, %v", course, ok)
	}
	courses := r.Courses()
	if len(courses) != 5 || courses[0].ID != "c01" || courses[4].ID != "c05" {
		t.Errorf("Courses() not in ID order: %v", courses)
	}
}

func TestNewCourseResolver_InvalidThreshold(t *testing.T) {
	config := DefaultResolverConfig()
	config.OverlapThreshold = 1.5
	if _, err := NewCourseResolver(testCatalog(), config, logger.Discard()); err == nil {
		t.Error("expected an error for threshold above 1")
	}
}

func TestNormalizeCourseName(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"Fire Safety (Careskills)", "fire safety"},
		{"Fire Safety(careskills)", "fire safety"},
		{"Moving & Handling - Step 2", "moving & handling"},
		{"Moving & Handling (Step 2) (Careskills)", "moving & handling"},
		{"Safeguarding   step 1", "safeguarding"},
		{"Stepping Stones", "stepping stones"},
		{"Fire Safety", "fire safety"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := NormalizeCourseName(tt.raw); got != tt.want {
				t.Errorf("NormalizeCourseName(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
