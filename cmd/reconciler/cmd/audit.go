package cmd

import (
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"training-reconciliation-service/cmd/reconciler/config"
	"training-reconciliation-service/internal/auditor"
	"training-reconciliation-service/internal/matcher"
	"training-reconciliation-service/internal/parsers"
	"training-reconciliation-service/internal/store"
	"training-reconciliation-service/pkg/errors"
)

func newAuditCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit [location=]file...",
		Short: "Compare the expiry policies declared by several exports",
		Long: `Audit reads the expiry-policy row of each export and reports, per course,
whether the exports agree. Conflicting courses resolve to the most common
policy; ties keep the value seen first.

With --apply the resolved policies are matched to the course catalog and
written where the catalog differs. --dry-run lists the corrections without
writing them. The ledger is never touched.

Examples:
  reconciler audit oak.xlsx elm.xlsx ash.xlsx
  reconciler audit --apply --catalog-file catalog.yaml oak.csv elm.csv
  reconciler audit --apply --database-url postgres://localhost/training --output-format csv *.xlsx`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.runAudit,
	}

	flags := cmd.Flags()
	flags.String(flagSheet, "", "worksheet read from .xlsx exports (default: first sheet)")
	flags.Bool(flagApply, false, "write resolved policies to the course catalog")

	return cmd
}

func (a *app) runAudit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s := config.FromViper(a.v)
	apply := a.v.GetBool(flagApply)

	if apply && !s.UsesDatabase() && s.CatalogFile == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, config.KeyCatalogFile, nil, nil).
			WithSuggestion("--apply needs --database-url or --catalog-file")
	}
	gen, err := a.reportGenerator(s)
	if err != nil {
		return err
	}
	extractor, err := parsers.NewExtractor(config.CreateExtractorConfig(s), a.log)
	if err != nil {
		return err
	}

	sources, err := a.loadSources(ctx, args)
	if err != nil {
		return err
	}

	tables := make([]*parsers.Table, 0, len(sources))
	for _, src := range sources {
		table, err := extractor.Extract(src.Name, src.Rows)
		if err != nil {
			a.log.WithError(err).WithField("table", src.Name).Warn("Skipping unreadable table")
			continue
		}
		table.Location = src.Location
		tables = append(tables, table)
	}
	if len(tables) == 0 {
		return errors.New(errors.CategoryFile, errors.CodeInputUnreadable, "no source table could be read").
			WithSuggestion("check that the exports contain a 'Staff Name' header row").
			WithContext("tables", len(sources))
	}

	aud := auditor.New(a.log)
	report := aud.Audit(tables)

	var applied *auditor.ApplyResult
	var errs error
	if apply {
		applied, err = a.applyCorrections(cmd, aud, report, s)
		errs = multierr.Append(errs, err)
	}

	errs = multierr.Append(errs, a.writeReport(cmd, gen, s.OutputFile, func(w io.Writer) error {
		return gen.AuditReport(report, applied, w)
	}))
	return errs
}

// applyCorrections writes the audited policies to the catalog. In fixture
// mode the catalog file is rewritten when any correction was applied.
func (a *app) applyCorrections(cmd *cobra.Command, aud *auditor.Auditor, report *auditor.AuditReport, s *config.Settings) (*auditor.ApplyResult, error) {
	ctx := cmd.Context()

	stores, err := a.openStores(ctx, s)
	if err != nil {
		return nil, err
	}
	defer stores.close()

	courses, err := stores.Catalog.ListCourses(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryPersistence, errors.CodePersistenceFailed, "could not read the course catalog")
	}
	resolver, err := matcher.NewCourseResolver(courses, config.CreateResolverConfig(s), a.log)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, config.KeyOverlapThreshold, s.OverlapThreshold, err)
	}

	applied, applyErr := aud.Apply(ctx, report, stores.Catalog, resolver, s.DryRun)
	if applyErr != nil {
		applyErr = errors.Wrap(applyErr, errors.CategoryPersistence, errors.CodePersistenceFailed, "some catalog corrections were not written")
	}

	if stores.memory != nil && !s.DryRun && anyApplied(applied) {
		if err := store.SaveCatalogFixture(a.fs, s.CatalogFile, stores.memory); err != nil {
			return applied, multierr.Append(applyErr, errors.FileError(errors.CodeFilePermission, s.CatalogFile, err))
		}
		a.log.WithField("file", s.CatalogFile).Info("Catalog fixture saved")
	}
	return applied, applyErr
}

func anyApplied(result *auditor.ApplyResult) bool {
	if result == nil {
		return false
	}
	for _, c := range result.Corrections {
		if c.Applied {
			return true
		}
	}
	return false
}
