package logging

import (
	"github.com/rs/zerolog"
	"mit.edu/dsg/vlog/common"
	"mit.edu/dsg/vlog/metrics"
)

// DefaultBase is the shard file base name used when Config.Base is empty.
const DefaultBase = "value"

// Config configures an AccessLogger.
type Config struct {
	// Dir is the directory holding the shard files. Unused when sinks are
	// supplied directly.
	Dir string

	// Base is the shard file base name; shard i is <Dir>/<Base>_<i>.log.
	// Default: "value"
	Base string

	// ThreadCount is the number of worker threads, one shard each.
	ThreadCount int

	// Compression wraps each shard's stream in one LZ4 frame.
	Compression bool

	// BufferSize is the fixed capacity of each shard's log buffer in bytes.
	// Default: 1MB
	BufferSize int

	// Logger receives flush failures and lifecycle events. Default: disabled.
	Logger *zerolog.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics
}

func (c *Config) applyDefaults() {
	if c.Base == "" {
		c.Base = DefaultBase
	}
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.ThreadCount < 1 {
		return common.Errorf(common.InvalidConfigError, "ThreadCount must be at least 1, got %d", c.ThreadCount)
	}
	if c.BufferSize < MinBufferSize || c.BufferSize > MaxBufferSize {
		return common.Errorf(common.InvalidConfigError,
			"BufferSize must be within [%d, %d], got %d", MinBufferSize, MaxBufferSize, c.BufferSize)
	}
	return nil
}
