package reconciler

import (
	"fmt"
	"time"

	"training-reconciliation-service/internal/expiry"
	"training-reconciliation-service/internal/matcher"
	"training-reconciliation-service/internal/parsers"
	"training-reconciliation-service/internal/store"
	"training-reconciliation-service/internal/writer"
)

// DefaultMaxDisplayErrors is how many error entries DisplayErrors returns
const DefaultMaxDisplayErrors = 20

// Config holds configuration options for an import run
type Config struct {
	// Ledger read page size
	PageSize int

	// Plan the run without writing to the ledger
	DryRun bool

	// Number of error entries kept for display; the full count is always reported
	MaxDisplayErrors int

	// How often reconciliation progress is logged
	ProgressInterval time.Duration

	Extractor  *parsers.ExtractorConfig
	Resolver   *matcher.ResolverConfig
	Calculator *expiry.Calculator
	Writer     *writer.Config
}

// DefaultConfig returns a default configuration for the import service
func DefaultConfig() *Config {
	return &Config{
		PageSize:         store.DefaultPageSize,
		MaxDisplayErrors: DefaultMaxDisplayErrors,
		ProgressInterval: 5 * time.Second,
		Extractor:        parsers.DefaultExtractorConfig(),
		Resolver:         matcher.DefaultResolverConfig(),
		Calculator:       expiry.NewCalculator(),
		Writer:           writer.DefaultConfig(),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", c.PageSize)
	}
	if c.MaxDisplayErrors < 0 {
		return fmt.Errorf("max display errors cannot be negative, got %d", c.MaxDisplayErrors)
	}
	if c.ProgressInterval < 0 {
		return fmt.Errorf("progress interval cannot be negative, got %s", c.ProgressInterval)
	}

	if c.Extractor == nil || c.Resolver == nil || c.Calculator == nil || c.Writer == nil {
		return fmt.Errorf("extractor, resolver, calculator and writer configurations are required")
	}
	if err := c.Extractor.Validate(); err != nil {
		return fmt.Errorf("extractor: %w", err)
	}
	if err := c.Resolver.Validate(); err != nil {
		return fmt.Errorf("resolver: %w", err)
	}
	if err := c.Calculator.Validate(); err != nil {
		return fmt.Errorf("calculator: %w", err)
	}
	if err := c.Writer.Validate(); err != nil {
		return fmt.Errorf("writer: %w", err)
	}
	if c.Resolver.NeverExpiresSentinel != c.Calculator.Sentinel {
		return fmt.Errorf("resolver sentinel %d and calculator sentinel %d differ",
			c.Resolver.NeverExpiresSentinel, c.Calculator.Sentinel)
	}
	return nil
}
