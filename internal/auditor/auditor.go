// Package auditor compares the expiry policies that different source tables
// declare for the same course and corrects the catalog from the consensus.
package auditor

import (
	"time"

	"github.com/shopspring/decimal"

	"training-reconciliation-service/internal/matcher"
	"training-reconciliation-service/internal/parsers"
	"training-reconciliation-service/pkg/logger"
)

// Classification is the verdict for one course across all tables
type Classification string

const (
	// ClassOneOff means no table gave the course a readable validity period
	ClassOneOff Classification = "one_off"
	// ClassConsistent means every readable description agrees
	ClassConsistent Classification = "consistent"
	// ClassConflict means the tables disagree; the majority value is the resolution
	ClassConflict Classification = "conflict"
)

// Observation is one table's description of a course's validity
type Observation struct {
	Table       string               `json:"table"`
	Column      string               `json:"column"`
	Description string               `json:"description"`
	Policy      parsers.ExpiryPolicy `json:"-"`
	Reading     string               `json:"reading"`
}

// ValueCount is how many tables declared one policy value
type ValueCount struct {
	Value  string `json:"value"`
	Months int    `json:"months,omitempty"`
	Never  bool   `json:"never,omitempty"`
	Count  int    `json:"count"`
}

// CourseAudit is the audit of one normalized course name
type CourseAudit struct {
	Name           string          `json:"name"`
	Key            string          `json:"key"`
	Classification Classification  `json:"classification"`
	Observations   []Observation   `json:"observations"`
	Counts         []ValueCount    `json:"counts"`
	Resolution     ValueCount      `json:"resolution"`
	Share          decimal.Decimal `json:"share"`
}

// AuditReport is the result of auditing a set of tables
type AuditReport struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Tables      int           `json:"tables"`
	Skipped     []string      `json:"skipped_tables,omitempty"`
	Courses     []CourseAudit `json:"courses"`
}

// Conflicts returns the courses whose tables disagree
func (r *AuditReport) Conflicts() []CourseAudit {
	var out []CourseAudit
	for _, c := range r.Courses {
		if c.Classification == ClassConflict {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many courses received the classification
func (r *AuditReport) Count(class Classification) int {
	n := 0
	for _, c := range r.Courses {
		if c.Classification == class {
			n++
		}
	}
	return n
}

// Auditor groups expiry descriptions by course across tables
type Auditor struct {
	logger logger.Logger
}

// New creates an auditor
func New(log logger.Logger) *Auditor {
	return &Auditor{logger: logger.OrGlobal(log, "auditor")}
}

// Audit classifies every course that appears in a table carrying an
// expiry-policy row. Tables without one say nothing about validity and are
// listed as skipped. Courses are reported in the order first encountered.
func (a *Auditor) Audit(tables []*parsers.Table) *AuditReport {
	report := &AuditReport{GeneratedAt: time.Now(), Tables: len(tables)}

	index := make(map[string]int)
	for _, table := range tables {
		if !table.HasExpiryRow() {
			report.Skipped = append(report.Skipped, table.Name)
			continue
		}
		for _, col := range table.Columns {
			key := matcher.NormalizeCourseName(col.Name)
			if key == "" {
				continue
			}
			i, ok := index[key]
			if !ok {
				i = len(report.Courses)
				index[key] = i
				report.Courses = append(report.Courses, CourseAudit{Name: col.Name, Key: key})
			}

			policy := parsers.ParseExpiryDescription(col.ExpiryDescription)
			report.Courses[i].Observations = append(report.Courses[i].Observations, Observation{
				Table:       table.Name,
				Column:      col.Name,
				Description: col.ExpiryDescription,
				Policy:      policy,
				Reading:     policy.String(),
			})
		}
	}

	for i := range report.Courses {
		classify(&report.Courses[i])
	}

	a.logger.WithFields(logger.Fields{
		"tables":     report.Tables,
		"skipped":    len(report.Skipped),
		"courses":    len(report.Courses),
		"consistent": report.Count(ClassConsistent),
		"conflicts":  report.Count(ClassConflict),
		"one_off":    report.Count(ClassOneOff),
	}).Info("Expiry policy audit complete")
	return report
}

// classify counts the finite validity periods and picks the majority value.
// Never-expiring readings do not vote; a course with no finite period is
// one-off. Counts keep first-seen order and a tie keeps the earlier value.
func classify(c *CourseAudit) {
	positions := make(map[string]int)
	total, nevers := 0, 0
	for _, obs := range c.Observations {
		if !obs.Policy.Observed() {
			continue
		}
		if obs.Policy.Kind == parsers.PolicyNever {
			nevers++
			continue
		}
		value := ValueCount{Value: obs.Policy.String(), Months: obs.Policy.Months}
		i, ok := positions[value.Value]
		if !ok {
			i = len(c.Counts)
			positions[value.Value] = i
			c.Counts = append(c.Counts, value)
		}
		c.Counts[i].Count++
		total++
	}

	switch len(c.Counts) {
	case 0:
		c.Classification = ClassOneOff
		c.Resolution = ValueCount{Value: "never", Never: true, Count: nevers}
		c.Share = decimal.Zero
		return
	case 1:
		c.Classification = ClassConsistent
	default:
		c.Classification = ClassConflict
	}

	winner := c.Counts[0]
	for _, vc := range c.Counts[1:] {
		if vc.Count > winner.Count {
			winner = vc
		}
	}
	c.Resolution = winner
	c.Share = decimal.NewFromInt(int64(winner.Count)).Div(decimal.NewFromInt(int64(total))).Round(2)
}
