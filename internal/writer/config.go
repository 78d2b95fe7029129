package writer

import (
	"fmt"

	"training-reconciliation-service/internal/models"
)

// DefaultChunkSize is the number of operations written per chunk
const DefaultChunkSize = 100

// Config holds the batching settings of a BatchWriter
type Config struct {
	// ChunkSize bounds both the chunk length and the number of concurrent writes
	ChunkSize int `json:"chunk_size"`

	// ConflictKey is the upsert key creates start with
	ConflictKey string `json:"conflict_key"`
}

// DefaultConfig returns the default writer configuration
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:   DefaultChunkSize,
		ConflictKey: models.ConflictLocationScoped.String(),
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkSize > 10000 {
		return fmt.Errorf("chunk size cannot exceed 10000, got %d", c.ChunkSize)
	}
	switch c.ConflictKey {
	case "", "staff_course_location", "staff_course":
	default:
		return fmt.Errorf("unknown conflict key %q", c.ConflictKey)
	}
	return nil
}

func (c *Config) initialKey() models.ConflictKey {
	if c.ConflictKey == models.ConflictLegacy.String() {
		return models.ConflictLegacy
	}
	return models.ConflictLocationScoped
}
