package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"training-reconciliation-service/cmd/reconciler/config"
	"training-reconciliation-service/internal/reporter"
	"training-reconciliation-service/pkg/errors"
	"training-reconciliation-service/pkg/logger"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// app carries the state shared by every command of one invocation
type app struct {
	v       *viper.Viper
	cfgFile string
	fs      afero.Fs
	log     logger.Logger
}

// NewRootCommand creates the reconciler command tree reading and writing the OS filesystem
func NewRootCommand() *cobra.Command {
	return newRootCommand(afero.NewOsFs())
}

func newRootCommand(fs afero.Fs) *cobra.Command {
	a := &app{v: viper.New(), fs: fs, log: logger.GetGlobalLogger()}
	config.SetDefaults(a.v)

	rootCmd := &cobra.Command{
		Use:   "reconciler",
		Short: "Training ledger reconciliation tool",
		Long: `Reconciler merges training-matrix exports into the training completion
ledger. Each export is a table of staff rows and course columns; every cell is
parsed into a completion status and date, matched to the course catalog and
the staff directory, and compared with the stored ledger entry. Only changed
entries are written.

The audit command compares the expiry-policy rows of several exports and can
write the majority policy back to the course catalog.

Stores are PostgreSQL (--database-url) or YAML fixture files (--catalog-file,
--staff-file, --ledger-file).

Examples:
  reconciler import --catalog-file catalog.yaml --staff-file staff.yaml --ledger-file ledger.yaml oak=oak.xlsx elm=elm.csv
  reconciler import --database-url postgres://localhost/training --dry-run exports/all-sites.csv
  reconciler audit --catalog-file catalog.yaml --staff-file staff.yaml --apply oak.xlsx elm.xlsx
  reconciler version`,
		Version:           getVersionString(),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (optional)")
	flags.BoolP(config.KeyVerbose, "v", false, "verbose output")
	flags.String(config.KeyLogLevel, string(logger.InfoLevel), "log level (debug, info, warn, error)")
	flags.String(config.KeyLogFormat, string(logger.TextFormat), "log format (text, json)")
	flags.String(config.KeyDatabaseURL, "", "PostgreSQL connection URL (YAML fixtures are used when empty)")
	flags.Bool(config.KeyMigrate, false, "create the database schema before running")
	flags.String(config.KeyCatalogFile, "", "course catalog YAML fixture")
	flags.String(config.KeyStaffFile, "", "staff directory YAML fixture")
	flags.String(config.KeyLedgerFile, "", "ledger YAML fixture, rewritten after a successful import")
	flags.StringP(config.KeyOutputFormat, "f", string(reporter.FormatConsole), "report format (console, json, csv)")
	flags.StringP(config.KeyOutputFile, "o", "", "report file (default: stdout)")
	flags.Bool(config.KeyDryRun, false, "compute changes without writing them")
	flags.Int(config.KeyHeaderScanRows, a.v.GetInt(config.KeyHeaderScanRows), "rows searched for the 'Staff Name' header")
	flags.Float64(config.KeyOverlapThreshold, a.v.GetFloat64(config.KeyOverlapThreshold), "minimum token overlap for fuzzy course matches")
	flags.Int(config.KeyNeverExpiresSentinel, a.v.GetInt(config.KeyNeverExpiresSentinel), "expiry months treated as never expiring")

	rootCmd.AddCommand(newImportCommand(a), newAuditCommand(a), newVersionCommand())
	return rootCmd
}

// Execute runs the command tree and returns the process exit code
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)

	verbose, _ := rootCmd.PersistentFlags().GetBool(config.KeyVerbose)
	return NewCLIErrorHandler(os.Stderr, verbose).HandleError(err)
}

// setup binds the flags of the running command, reads the optional config
// file and environment, then installs the process logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "flags", nil, err)
	}

	a.v.SetEnvPrefix("RECONCILER")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return errors.FileError(errors.CodeInputUnreadable, a.cfgFile, err).
				WithSuggestion("check the config file path and YAML syntax")
		}
	}

	settings := config.FromViper(a.v)
	log, err := logger.NewLogger(config.CreateLoggerConfig(settings))
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, config.KeyLogLevel, settings.LogLevel, err)
	}
	logger.SetGlobalLogger(log)
	a.log = log

	if a.cfgFile != "" {
		a.log.WithField("file", a.v.ConfigFileUsed()).Debug("Using config file")
	}
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "reconciler %s\n", getVersionString())
	if version != "dev" {
		fmt.Fprintf(w, "commit: %s\nbuilt:  %s\n", commit, date)
	}
}
