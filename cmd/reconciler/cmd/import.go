package cmd

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"training-reconciliation-service/cmd/reconciler/config"
	"training-reconciliation-service/internal/reconciler"
	"training-reconciliation-service/internal/store"
	"training-reconciliation-service/pkg/errors"
	"training-reconciliation-service/pkg/logger"
)

func newImportCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [location=]file...",
		Short: "Merge training-matrix exports into the ledger",
		Long: `Import reads each export (.csv or .xlsx), resolves every staff row and
course column, and writes the ledger entries whose status or completion date
changed. An export given as location=path applies to that location only; a
bare path applies each record to every location of the staff member.

Records that cannot be resolved are reported and skipped. Exports that cannot
be read are skipped with a warning; the run fails only when none can be read.

Examples:
  reconciler import --catalog-file catalog.yaml --staff-file staff.yaml --ledger-file ledger.yaml oak=oak.csv
  reconciler import --database-url postgres://localhost/training --sheet Matrix oak=oak.xlsx elm=elm.xlsx
  reconciler import --dry-run --output-format json --output-file plan.json all-sites.xlsx`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.runImport,
	}

	flags := cmd.Flags()
	flags.String(flagSheet, "", "worksheet read from .xlsx exports (default: first sheet)")
	flags.String(flagMetricsFile, "", "write ledger writer metrics in Prometheus text format to this file")
	flags.Int(config.KeyChunkSize, a.v.GetInt(config.KeyChunkSize), "ledger operations written per chunk")
	flags.Int(config.KeyPageSize, a.v.GetInt(config.KeyPageSize), "ledger entries read per query page")
	flags.String(config.KeyConflictKey, a.v.GetString(config.KeyConflictKey), "ledger conflict key (staff_course_location or staff_course)")
	flags.String(config.KeyMonthArithmetic, a.v.GetString(config.KeyMonthArithmetic), "month arithmetic for expiry dates (overflow or clamp)")
	flags.Int(config.KeyMaxDisplayErrors, a.v.GetInt(config.KeyMaxDisplayErrors), "errors listed in the report")

	return cmd
}

func (a *app) runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s := config.FromViper(a.v)

	if err := s.ValidateStores(); err != nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "stores", nil, err).
			WithSuggestion("pass --database-url, or --catalog-file and --staff-file")
	}
	importConfig, err := config.CreateReconcilerConfig(s)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "import", err.Error(), err)
	}
	gen, err := a.reportGenerator(s)
	if err != nil {
		return err
	}

	sources, err := a.loadSources(ctx, args)
	if err != nil {
		return err
	}

	stores, err := a.openStores(ctx, s)
	if err != nil {
		return err
	}
	defer stores.close()

	service, err := reconciler.NewService(stores.Stores, importConfig, a.log)
	if err != nil {
		return err
	}

	result, runErr := service.ImportSources(ctx, sources)

	var errs error
	if result != nil {
		errs = multierr.Append(errs, a.writeReport(cmd, gen, s.OutputFile, func(w io.Writer) error {
			return gen.ImportReport(result, w)
		}))
		// writes that completed before a failure are kept
		if stores.memory != nil && s.LedgerFile != "" && !s.DryRun && result.Summary.Created+result.Summary.Updated > 0 {
			if err := store.SaveLedgerFixture(a.fs, s.LedgerFile, stores.memory); err != nil {
				errs = multierr.Append(errs, errors.FileError(errors.CodeFilePermission, s.LedgerFile, err))
			} else {
				a.log.WithField("file", s.LedgerFile).Info("Ledger fixture saved")
			}
		}
	}

	if path := a.v.GetString(flagMetricsFile); path != "" {
		if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
			a.log.WithError(err).WithField("file", path).Warn("Could not write metrics file")
		}
	}

	if err := multierr.Combine(runErr, errs); err != nil {
		return err
	}
	a.log.WithFields(logger.Fields{
		"run_id":  result.RunID.String(),
		"created": result.Summary.Created,
		"updated": result.Summary.Updated,
		"errors":  result.Summary.Errors,
	}).Debug("Import command finished")
	return nil
}
