package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"training-reconciliation-service/cmd/reconciler/config"
	"training-reconciliation-service/internal/parsers"
	"training-reconciliation-service/internal/reconciler"
	"training-reconciliation-service/internal/reporter"
	"training-reconciliation-service/internal/store"
	"training-reconciliation-service/pkg/errors"
	"training-reconciliation-service/pkg/logger"
)

const (
	flagSheet       = "sheet"
	flagMetricsFile = "metrics-file"
	flagApply       = "apply"
)

// loadSources reads every export named by args. Unreadable files are logged
// and skipped; the first failure is returned only when nothing could be read.
func (a *app) loadSources(ctx context.Context, args []string) ([]reconciler.Source, error) {
	specs, err := config.ParseSources(args)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "sources", args, err).
			WithSuggestion("pass each export as location=path, or a bare path to use every location of each staff member")
	}

	loader := parsers.NewLoader(a.fs, a.log)
	sheet := a.v.GetString(flagSheet)

	sources := make([]reconciler.Source, 0, len(specs))
	var firstErr error
	for _, spec := range specs {
		rows, err := loader.Load(ctx, spec.Path, sheet)
		if err != nil {
			if errors.HasCode(err, errors.CodeCancelled) {
				return nil, err
			}
			a.log.WithError(err).WithField("file", spec.Path).Warn("Skipping unreadable source")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sources = append(sources, reconciler.Source{Name: spec.Path, Location: spec.Location, Rows: rows})
	}

	if len(sources) == 0 {
		return nil, firstErr
	}
	return sources, nil
}

// openedStores are the stores of one run. memory is set when the stores are
// YAML fixtures so the run can write them back.
type openedStores struct {
	reconciler.Stores
	memory *store.Memory
	close  func()
}

func (a *app) openStores(ctx context.Context, s *config.Settings) (*openedStores, error) {
	if s.UsesDatabase() {
		pool, err := store.Connect(ctx, s.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryPersistence, errors.CodePersistenceFailed, "could not connect to the database").
				WithSuggestion("check --database-url and that PostgreSQL is reachable")
		}
		pg := store.NewPostgres(pool, a.log)
		if s.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				pool.Close()
				return nil, errors.PersistenceError(errors.CodePersistenceFailed, "migrate", err).
					WithSuggestion("check that the database user may create tables")
			}
		}
		a.log.Debug("Using PostgreSQL stores")
		return &openedStores{
			Stores: reconciler.Stores{Ledger: pg, Catalog: pg, Directory: pg},
			close:  pool.Close,
		}, nil
	}

	files := store.FixtureFiles{Catalog: s.CatalogFile, Staff: s.StaffFile}
	if s.LedgerFile != "" {
		exists, err := afero.Exists(a.fs, s.LedgerFile)
		if err != nil {
			return nil, errors.FileError(errors.CodeInputUnreadable, s.LedgerFile, err)
		}
		if exists {
			files.Ledger = s.LedgerFile
		} else {
			a.log.WithField("file", s.LedgerFile).Info("Ledger fixture not found, starting from an empty ledger")
		}
	}

	m, err := store.LoadFixtures(a.fs, files)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryFile, errors.CodeFileCorrupted, "could not load store fixtures").
			WithSuggestion("check the YAML syntax of the catalog, staff and ledger files")
	}
	a.log.WithFields(logger.Fields{
		"catalog": files.Catalog,
		"staff":   files.Staff,
		"ledger":  files.Ledger,
	}).Debug("Using fixture stores")

	return &openedStores{
		Stores: reconciler.Stores{Ledger: m, Catalog: m, Directory: m},
		memory: m,
		close:  func() {},
	}, nil
}

func (a *app) reportGenerator(s *config.Settings) (*reporter.SafeReportGenerator, error) {
	reportConfig, err := config.CreateReportConfig(s.OutputFormat, s.Verbose)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, config.KeyOutputFormat, s.OutputFormat, err).
			WithSuggestion("use one of: console, json, csv")
	}
	return reporter.NewSafeReportGenerator(reportConfig, a.fs, a.log)
}

// writeReport renders to the command output, or to path when one is set
func (a *app) writeReport(cmd *cobra.Command, gen *reporter.SafeReportGenerator, path string, render func(io.Writer) error) error {
	if path == "" || path == "-" {
		return render(cmd.OutOrStdout())
	}

	out, where, err := gen.Open(path)
	if err != nil {
		return err
	}
	renderErr := render(out)
	closeErr := out.Close()
	if renderErr != nil {
		return renderErr
	}
	if closeErr != nil {
		return errors.FileError(errors.CodeFilePermission, where, closeErr)
	}

	if where != path {
		fmt.Fprintf(cmd.ErrOrStderr(), "Report written to %s\n", where)
	}
	a.log.WithField("file", where).Info("Report written")
	return nil
}
