package cmd

import (
	"context"
	goerrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"go.uber.org/multierr"

	"training-reconciliation-service/pkg/errors"
	"training-reconciliation-service/pkg/logger"
)

// exitInterrupted is the conventional exit code after SIGINT
const exitInterrupted = 130

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	out     io.Writer
	logger  logger.Logger
	verbose bool
}

// NewCLIErrorHandler creates a handler printing to out
func NewCLIErrorHandler(out io.Writer, verbose bool) *CLIErrorHandler {
	return &CLIErrorHandler{
		out:     out,
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: verbose,
	}
}

// HandleError prints err and returns the process exit code. Combined errors
// are printed one by one and exit with the highest code among them.
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	errs := multierr.Errors(err)
	if len(errs) > 1 {
		fmt.Fprintf(h.out, "%d errors occurred:\n\n", len(errs))
	}

	code := 0
	for i, e := range errs {
		if i > 0 {
			fmt.Fprintln(h.out)
		}
		if c := h.handleOne(e); c > code {
			code = c
		}
	}
	return code
}

func (h *CLIErrorHandler) handleOne(err error) int {
	if goerrors.Is(err, context.Canceled) {
		fmt.Fprintf(h.out, "Interrupted: %v\n", err)
		fmt.Fprintf(h.out, "Ledger writes completed before the interrupt are kept; re-running is safe.\n")
		return exitInterrupted
	}
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}
	return h.handleGenericError(err)
}

// handleReconcilerError handles ReconcilerError with detailed context
func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	if h.verbose {
		fmt.Fprintf(h.out, "\n%s\n", getCategoryHelp(err.Category))
		if err.Cause != nil {
			fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
		}
	}

	return err.GetExitCode()
}

// handleGenericError handles non-ReconcilerError types
func (h *CLIErrorHandler) handleGenericError(err error) int {
	switch {
	case isFileNotFoundError(err):
		fmt.Fprintf(h.out, "Error: File not found: %v\n", err)
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	case isPermissionError(err):
		fmt.Fprintf(h.out, "Error: Permission denied: %v\n", err)
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	case isDiskFullError(err):
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	if !h.verbose {
		fmt.Fprintf(h.out, "\nRun with --verbose for more detail\n")
	}
	return 1
}

// getCategoryHelp returns category-specific help text
func getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check that each export exists and is readable
• Exports must be .csv or .xlsx; use --sheet to pick a worksheet
• Fixture files (--catalog-file, --staff-file, --ledger-file) must be valid YAML`

	case errors.CategoryParse:
		return `Parse error help:
• Each export needs a header row whose first cell reads 'Staff Name'
• The header must appear within the first --header-scan-rows rows
• Re-export the sheet as UTF-8 CSV if the text looks garbled`

	case errors.CategoryValidation:
		return `Validation error help:
• Completion dates are read as DD/MM/YYYY
• Check that required catalog and staff fields are filled in`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and RECONCILER_* environment variables
• Verify configuration file syntax if using --config
• Use 'reconciler import --help' to see all available options`

	case errors.CategoryResolution:
		return `Resolution error help:
• Add missing course names as catalog aliases
• Check that staff are active and assigned to a location`

	case errors.CategoryPersistence:
		return `Persistence error help:
• Check the database connection and permissions
• The ledger needs a unique constraint on (staff_id, course_id, location_id); run with --migrate to create it
• Imports are idempotent; re-running completes the remaining writes`

	default:
		return `For more help:
• Use 'reconciler --help' for general help
• Use 'reconciler <command> --help' for command-specific help`
	}
}

func isFileNotFoundError(err error) bool {
	return goerrors.Is(err, os.ErrNotExist) || strings.Contains(err.Error(), "no such file or directory")
}

func isPermissionError(err error) bool {
	return goerrors.Is(err, os.ErrPermission) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func isDiskFullError(err error) bool {
	if goerrors.Is(err, syscall.ENOSPC) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}
