package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"training-reconciliation-service/internal/auditor"
	"training-reconciliation-service/internal/reconciler"
	"training-reconciliation-service/pkg/errors"
	"training-reconciliation-service/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with logging, a console fallback
// for failed structured output and a backup path for unwritable files.
type SafeReportGenerator struct {
	*ReportGenerator
	fs     afero.Fs
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator. Report files
// are created on fs.
func NewSafeReportGenerator(config *ReportConfig, fs afero.Fs, log logger.Logger) (*SafeReportGenerator, error) {
	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"output-format",
			config,
			err,
		).WithSuggestion("use one of: console, json, csv")
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		fs:              fs,
		logger:          logger.OrGlobal(log, "reporter"),
	}, nil
}

// ImportReport renders an import result, falling back to the console format
// when the structured format cannot be produced.
func (srg *SafeReportGenerator) ImportReport(result *reconciler.ImportResult, writer io.Writer) error {
	if result == nil {
		return errors.ValidationError(errors.CodeMissingField, "result", nil, nil).
			WithSuggestion("Provide a valid import result")
	}
	return srg.generate(writer, func(g *ReportGenerator) error {
		return g.GenerateImportReport(result, writer)
	})
}

// AuditReport renders an audit and its optional corrections
func (srg *SafeReportGenerator) AuditReport(report *auditor.AuditReport, applied *auditor.ApplyResult, writer io.Writer) error {
	if report == nil {
		return errors.ValidationError(errors.CodeMissingField, "report", nil, nil).
			WithSuggestion("Provide a valid audit report")
	}
	return srg.generate(writer, func(g *ReportGenerator) error {
		return g.GenerateAuditReport(report, applied, writer)
	})
}

func (srg *SafeReportGenerator) generate(writer io.Writer, render func(*ReportGenerator) error) error {
	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil).
			WithSuggestion("Provide a valid output writer")
	}

	srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	}).Debug("Starting report generation")

	err := render(srg.ReportGenerator)
	if err == nil {
		return nil
	}
	srg.logger.WithError(err).Warn("Primary report generation failed, attempting fallback")

	if srg.config.Format == FormatConsole {
		return srg.wrapGenerationError(err)
	}

	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole
	fallback, ferr := NewReportGenerator(&fallbackConfig)
	if ferr != nil {
		return srg.wrapGenerationError(err)
	}

	fmt.Fprintf(writer, "NOTE: Report generated in fallback format due to error with requested format\n")
	fmt.Fprintf(writer, "Original error: %v\n\n", err)
	if ferr := render(fallback); ferr != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", err, ferr),
		)
	}

	srg.logger.Info("Report generated using format fallback")
	return nil
}

// Open returns the destination for a report. An empty path or "-" is stdout.
// When the file cannot be created the report goes to a backup file in the
// temp directory and the returned path says where.
func (srg *SafeReportGenerator) Open(path string) (io.WriteCloser, string, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, "stdout", nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := srg.fs.MkdirAll(dir, 0o755); err != nil {
			srg.logger.WithError(err).WithField("dir", dir).Warn("Could not create report directory")
		}
	}

	file, err := srg.fs.Create(path)
	if err == nil {
		return file, path, nil
	}

	backupPath := srg.generateBackupPath(path)
	srg.logger.WithFields(logger.Fields{
		"original_file": path,
		"backup_file":   backupPath,
		"error":         err.Error(),
	}).Warn("Could not create report file, using backup location")

	backup, berr := srg.fs.Create(backupPath)
	if berr != nil {
		return nil, "", errors.FileError(errors.CodeFilePermission, path, err)
	}
	return backup, backupPath, nil
}

// generateBackupPath places "<name>_backup<ext>" in the reconciler temp directory
func (srg *SafeReportGenerator) generateBackupPath(originalPath string) string {
	dir := filepath.Join(os.TempDir(), "reconciler")
	if err := srg.fs.MkdirAll(dir, 0o755); err != nil {
		srg.logger.WithError(err).WithField("dir", dir).Debug("Could not create backup directory")
	}

	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	return filepath.Join(dir, fmt.Sprintf("%s_backup%s", name, ext))
}

// wrapGenerationError wraps generation errors with context
func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return reconcilerErr
	}
	return errors.InternalError(
		errors.CodeUnexpectedError,
		"report_generation",
		err,
	).WithSuggestion("Check the output destination and report format settings")
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case afero.File:
		return fmt.Sprintf("file:%s", w.Name())
	case nopCloser:
		return getWriterDescription(w.Writer)
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}
