package auditor

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"training-reconciliation-service/internal/matcher"
	"training-reconciliation-service/internal/models"
	"training-reconciliation-service/internal/parsers"
	"training-reconciliation-service/internal/store"
	"training-reconciliation-service/pkg/logger"
)

// Correction is a catalog expiry policy that differs from the audit resolution
type Correction struct {
	CourseID    string         `json:"course_id"`
	CourseName  string         `json:"course_name"`
	AuditedName string         `json:"audited_name"`
	Class       Classification `json:"classification"`
	OldMonths   *int           `json:"old_months,omitempty"`
	OldNever    bool           `json:"old_never"`
	NewMonths   *int           `json:"new_months,omitempty"`
	NewNever    bool           `json:"new_never"`
	Applied     bool           `json:"applied"`
	ApplyError  string         `json:"apply_error,omitempty"`
}

// From is the catalog policy before the correction
func (c Correction) From() string { return policyLabel(c.OldMonths, c.OldNever) }

// To is the policy the correction writes
func (c Correction) To() string { return policyLabel(c.NewMonths, c.NewNever) }

// ApplyResult lists the corrections and the audited names with no catalog course
type ApplyResult struct {
	Corrections []Correction `json:"corrections"`
	Unresolved  []string     `json:"unresolved,omitempty"`
	DryRun      bool         `json:"dry_run"`
}

// Apply resolves each audited course against the catalog and writes the
// resolved policy back where the catalog differs. The first audited name to
// reach a catalog course decides its policy. Failed writes are returned
// together and do not stop the other corrections.
func (a *Auditor) Apply(ctx context.Context, report *AuditReport, catalog store.CatalogStore, resolver *matcher.CourseResolver, dryRun bool) (*ApplyResult, error) {
	result := &ApplyResult{DryRun: dryRun}
	sentinel := resolver.NeverExpiresSentinel()

	var errs error
	err := logger.TimedOperation("catalog correction", a.logger, func() error {
		seen := make(map[string]string)
		for _, audit := range report.Courses {
			match, ok := resolver.Resolve(audit.Name)
			if !ok {
				result.Unresolved = append(result.Unresolved, audit.Name)
				continue
			}
			course := match.Course
			if first, dup := seen[course.ID]; dup {
				a.logger.WithFields(logger.Fields{
					"course":  course.ID,
					"audited": audit.Name,
					"kept":    first,
				}).Debug("Course already audited under another name")
				continue
			}
			seen[course.ID] = audit.Name

			if matches(course, audit.Resolution, sentinel) {
				continue
			}

			c := Correction{
				CourseID:    course.ID,
				CourseName:  course.CanonicalName,
				AuditedName: audit.Name,
				Class:       audit.Classification,
				OldMonths:   copyInt(course.ExpiryMonths),
				OldNever:    course.NeverExpires,
				NewNever:    audit.Resolution.Never,
			}
			if !audit.Resolution.Never {
				months := audit.Resolution.Months
				c.NewMonths = &months
			}

			if !dryRun {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := catalog.UpdateExpiryPolicy(ctx, course.ID, c.NewMonths, c.NewNever); err != nil {
					c.ApplyError = err.Error()
					errs = multierr.Append(errs, errors.Wrapf(err, "correct course %s", course.ID))
				} else {
					c.Applied = true
				}
			}

			a.logger.WithFields(logger.Fields{
				"course":  course.ID,
				"from":    c.From(),
				"to":      c.To(),
				"applied": c.Applied,
			}).Info("Catalog expiry policy differs from sources")
			result.Corrections = append(result.Corrections, c)
		}
		return errs
	})
	return result, err
}

// matches reports whether the catalog entry already holds the resolved value.
// A month count at or above the sentinel is the same as never expiring.
func matches(course *models.CourseCatalogEntry, want ValueCount, sentinel int) bool {
	never := course.NeverExpires || (course.ExpiryMonths != nil && *course.ExpiryMonths >= sentinel)
	if want.Never {
		return never
	}
	return !never && course.ExpiryMonths != nil && *course.ExpiryMonths == want.Months
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func policyLabel(months *int, never bool) string {
	switch {
	case never:
		return "never"
	case months == nil:
		return "none"
	default:
		return parsers.ExpiryPolicy{Kind: parsers.PolicyMonths, Months: *months}.String()
	}
}
