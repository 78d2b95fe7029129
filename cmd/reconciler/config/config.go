// Package config turns viper settings into the configurations of the import,
// audit and reporting components.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"training-reconciliation-service/internal/expiry"
	"training-reconciliation-service/internal/matcher"
	"training-reconciliation-service/internal/parsers"
	"training-reconciliation-service/internal/reconciler"
	"training-reconciliation-service/internal/reporter"
	"training-reconciliation-service/internal/store"
	"training-reconciliation-service/internal/writer"
	"training-reconciliation-service/pkg/logger"
)

// Setting keys shared by flags, environment variables and config files
const (
	KeyDatabaseURL          = "database-url"
	KeyMigrate              = "migrate"
	KeyCatalogFile          = "catalog-file"
	KeyStaffFile            = "staff-file"
	KeyLedgerFile           = "ledger-file"
	KeyChunkSize            = "chunk-size"
	KeyPageSize             = "page-size"
	KeyConflictKey          = "conflict-key"
	KeyOverlapThreshold     = "overlap-threshold"
	KeyMonthArithmetic      = "month-arithmetic"
	KeyNeverExpiresSentinel = "never-expires-sentinel"
	KeyHeaderScanRows       = "header-scan-rows"
	KeyMaxDisplayErrors     = "max-display-errors"
	KeyOutputFormat         = "output-format"
	KeyOutputFile           = "output-file"
	KeyLogLevel             = "log-level"
	KeyLogFormat            = "log-format"
	KeyDryRun               = "dry-run"
	KeyVerbose              = "verbose"
)

// SetDefaults registers the default of every setting on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyChunkSize, writer.DefaultChunkSize)
	v.SetDefault(KeyPageSize, store.DefaultPageSize)
	v.SetDefault(KeyConflictKey, "staff_course_location")
	v.SetDefault(KeyOverlapThreshold, matcher.DefaultResolverConfig().OverlapThreshold)
	v.SetDefault(KeyMonthArithmetic, string(expiry.MonthOverflow))
	v.SetDefault(KeyNeverExpiresSentinel, expiry.DefaultNeverExpiresSentinel)
	v.SetDefault(KeyHeaderScanRows, parsers.DefaultExtractorConfig().HeaderScanRows)
	v.SetDefault(KeyMaxDisplayErrors, reconciler.DefaultMaxDisplayErrors)
	v.SetDefault(KeyOutputFormat, string(reporter.FormatConsole))
	v.SetDefault(KeyLogLevel, string(logger.InfoLevel))
	v.SetDefault(KeyLogFormat, string(logger.TextFormat))
}

// Settings is the flat view of every configurable value
type Settings struct {
	DatabaseURL string
	Migrate     bool
	CatalogFile string
	StaffFile   string
	LedgerFile  string

	ChunkSize            int
	PageSize             int
	ConflictKey          string
	OverlapThreshold     float64
	MonthArithmetic      string
	NeverExpiresSentinel int
	HeaderScanRows       int
	MaxDisplayErrors     int
	DryRun               bool

	OutputFormat string
	OutputFile   string
	LogLevel     string
	LogFormat    string
	Verbose      bool
}

// FromViper reads the settings from v
func FromViper(v *viper.Viper) *Settings {
	return &Settings{
		DatabaseURL:          v.GetString(KeyDatabaseURL),
		Migrate:              v.GetBool(KeyMigrate),
		CatalogFile:          v.GetString(KeyCatalogFile),
		StaffFile:            v.GetString(KeyStaffFile),
		LedgerFile:           v.GetString(KeyLedgerFile),
		ChunkSize:            v.GetInt(KeyChunkSize),
		PageSize:             v.GetInt(KeyPageSize),
		ConflictKey:          v.GetString(KeyConflictKey),
		OverlapThreshold:     v.GetFloat64(KeyOverlapThreshold),
		MonthArithmetic:      v.GetString(KeyMonthArithmetic),
		NeverExpiresSentinel: v.GetInt(KeyNeverExpiresSentinel),
		HeaderScanRows:       v.GetInt(KeyHeaderScanRows),
		MaxDisplayErrors:     v.GetInt(KeyMaxDisplayErrors),
		DryRun:               v.GetBool(KeyDryRun),
		OutputFormat:         v.GetString(KeyOutputFormat),
		OutputFile:           v.GetString(KeyOutputFile),
		LogLevel:             v.GetString(KeyLogLevel),
		LogFormat:            v.GetString(KeyLogFormat),
		Verbose:              v.GetBool(KeyVerbose),
	}
}

// UsesDatabase reports whether the stores are PostgreSQL rather than YAML fixtures
func (s *Settings) UsesDatabase() bool {
	return s.DatabaseURL != ""
}

// ValidateStores checks that either a database or the catalog and staff fixtures are named
func (s *Settings) ValidateStores() error {
	if s.UsesDatabase() {
		return nil
	}
	if s.CatalogFile == "" || s.StaffFile == "" {
		return fmt.Errorf("either %s or both %s and %s are required", KeyDatabaseURL, KeyCatalogFile, KeyStaffFile)
	}
	return nil
}

// CreateExtractorConfig creates the row extractor configuration
func CreateExtractorConfig(s *Settings) *parsers.ExtractorConfig {
	config := parsers.DefaultExtractorConfig()
	if s.HeaderScanRows > 0 {
		config.HeaderScanRows = s.HeaderScanRows
	}
	return config
}

// CreateResolverConfig creates the course resolver configuration
func CreateResolverConfig(s *Settings) *matcher.ResolverConfig {
	config := matcher.DefaultResolverConfig()
	config.OverlapThreshold = s.OverlapThreshold
	config.NeverExpiresSentinel = s.NeverExpiresSentinel
	return config
}

// CreateCalculator creates the expiry calculator
func CreateCalculator(s *Settings) (*expiry.Calculator, error) {
	mode, err := expiry.ParseMonthArithmetic(s.MonthArithmetic)
	if err != nil {
		return nil, err
	}
	return &expiry.Calculator{Mode: mode, Sentinel: s.NeverExpiresSentinel}, nil
}

// CreateWriterConfig creates the batch writer configuration
func CreateWriterConfig(s *Settings) *writer.Config {
	config := writer.DefaultConfig()
	config.ChunkSize = s.ChunkSize
	config.ConflictKey = s.ConflictKey
	return config
}

// CreateReconcilerConfig creates a validated import configuration
func CreateReconcilerConfig(s *Settings) (*reconciler.Config, error) {
	calculator, err := CreateCalculator(s)
	if err != nil {
		return nil, err
	}

	config := reconciler.DefaultConfig()
	config.PageSize = s.PageSize
	config.DryRun = s.DryRun
	config.MaxDisplayErrors = s.MaxDisplayErrors
	config.Extractor = CreateExtractorConfig(s)
	config.Resolver = CreateResolverConfig(s)
	config.Calculator = calculator
	config.Writer = CreateWriterConfig(s)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string, verbose bool) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(format))

	switch config.Format {
	case reporter.FormatConsole:
		config.IncludeConsistent = verbose
		if verbose {
			config.MaxChanges = 0
		}
	case reporter.FormatJSON:
		config.IncludeConsistent = true
	case reporter.FormatCSV:
		config.CSVHeaders = true
		config.CSVDelimiter = ','
		config.IncludeConsistent = verbose
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv", format)
	}
	return config, nil
}

// CreateLoggerConfig creates the process logger configuration
func CreateLoggerConfig(s *Settings) *logger.Config {
	config := logger.DefaultConfig()
	if s.LogLevel != "" {
		config.Level = logger.Level(strings.ToLower(s.LogLevel))
	}
	if s.Verbose {
		config.Level = logger.DebugLevel
	}
	if s.LogFormat != "" {
		config.Format = logger.Format(strings.ToLower(s.LogFormat))
	}
	return config
}

// SourceSpec is one table file and the location its rows belong to
type SourceSpec struct {
	Location string
	Path     string
}

// ParseSources reads "location=path" or bare "path" arguments. A bare path
// has no location, so its records fan out to every location of each staff member.
func ParseSources(args []string) ([]SourceSpec, error) {
	specs := make([]SourceSpec, 0, len(args))
	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}
		spec := SourceSpec{Path: arg}
		if location, path, ok := strings.Cut(arg, "="); ok {
			spec.Location = strings.TrimSpace(location)
			spec.Path = strings.TrimSpace(path)
			if spec.Location == "" {
				return nil, fmt.Errorf("empty location in %q", arg)
			}
		}
		if spec.Path == "" {
			return nil, fmt.Errorf("empty path in %q", arg)
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("at least one source file is required")
	}
	return specs, nil
}
