package matcher

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"training-reconciliation-service/internal/models"
	"training-reconciliation-service/pkg/errors"
	"training-reconciliation-service/pkg/logger"
)

// CourseMatch is the outcome of resolving one course name
type CourseMatch struct {
	Course *models.CourseCatalogEntry
	Method MatchMethod
	Score  float64
}

// CourseResolver resolves free-text course names against a catalog snapshot.
// It is safe for concurrent use.
type CourseResolver struct {
	config *ResolverConfig
	index  *CourseIndex
	logger logger.Logger

	mu    sync.RWMutex
	cache map[string]CourseMatch
}

// NewCourseResolver creates a resolver over a snapshot of the catalog
func NewCourseResolver(catalog []models.CourseCatalogEntry, config *ResolverConfig, log logger.Logger) (*CourseResolver, error) {
	if config == nil {
		config = DefaultResolverConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "overlap-threshold", config.OverlapThreshold, err)
	}

	r := &CourseResolver{
		config: config,
		index:  NewCourseIndex(catalog),
		logger: logger.OrGlobal(log, "course-resolver"),
		cache:  make(map[string]CourseMatch),
	}
	r.logger.WithField("courses", r.index.Size()).Debug("Course index built")
	return r, nil
}

// Resolve finds the catalog entry for a raw course name. The second result
// is false when no stage of the cascade matched.
func (r *CourseResolver) Resolve(raw string) (CourseMatch, bool) {
	key := FoldKey(raw)
	if key == "" {
		return CourseMatch{Method: MatchNone}, false
	}

	r.mu.RLock()
	cached, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return cached, cached.Method != MatchNone
	}

	match := r.resolve(key)
	if match.Method == MatchOverlap {
		r.logger.WithFields(logger.Fields{
			"name":   strings.TrimSpace(raw),
			"course": match.Course.CanonicalName,
			"score":  match.Score,
		}).Debug("Resolved course by word overlap")
	}

	r.mu.Lock()
	r.cache[key] = match
	r.mu.Unlock()
	return match, match.Method != MatchNone
}

func (r *CourseResolver) resolve(key string) CourseMatch {
	if course, ok := r.index.ExactIndex[key]; ok {
		return CourseMatch{Course: course, Method: MatchExact, Score: 1}
	}

	normalized := NormalizeCourseName(key)
	if course, ok := r.index.NormalizedIndex[normalized]; ok {
		return CourseMatch{Course: course, Method: MatchNormalized, Score: 1}
	}

	return r.bestOverlap(normalized)
}

// bestOverlap scores every catalog name and keeps the highest ratio. Ties go
// to the smaller edit distance, then the shorter canonical name, then the
// lower ID, which is the first seen since names are held in ID order.
func (r *CourseResolver) bestOverlap(normalized string) CourseMatch {
	tokens := tokenize(normalized)
	if len(tokens) == 0 {
		return CourseMatch{Method: MatchNone}
	}

	var best *courseName
	bestScore, bestDistance := 0.0, 0
	for i := range r.index.names {
		candidate := &r.index.names[i]
		score := overlapRatio(tokens, candidate.tokens)
		if score < r.config.OverlapThreshold {
			continue
		}
		distance := fuzzy.LevenshteinDistance(normalized, candidate.normalized)

		if best == nil || score > bestScore ||
			(score == bestScore && distance < bestDistance) ||
			(score == bestScore && distance == bestDistance && shorterName(candidate.course, best.course)) {
			best, bestScore, bestDistance = candidate, score, distance
		}
	}

	if best == nil {
		return CourseMatch{Method: MatchNone}
	}
	return CourseMatch{Course: best.course, Method: MatchOverlap, Score: bestScore}
}

func shorterName(a, b *models.CourseCatalogEntry) bool {
	return utf8.RuneCountInString(a.CanonicalName) < utf8.RuneCountInString(b.CanonicalName)
}

// Course returns the catalog entry with the given ID
func (r *CourseResolver) Course(id string) (*models.CourseCatalogEntry, bool) {
	course, ok := r.index.ByID[id]
	return course, ok
}

// Courses returns the catalog snapshot in ID order
func (r *CourseResolver) Courses() []*models.CourseCatalogEntry {
	return r.index.Courses
}

// NeverExpiresSentinel returns the configured "effectively infinite" month count
func (r *CourseResolver) NeverExpiresSentinel() int {
	return r.config.NeverExpiresSentinel
}
