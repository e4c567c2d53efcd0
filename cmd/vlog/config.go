package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"mit.edu/dsg/vlog/logging"
)

const (
	envPrefix = "VLOG_"
	// ConfigPathEnvVar names an optional YAML file layered between the
	// defaults and the environment.
	ConfigPathEnvVar = envPrefix + "CONFIG"
)

// Config holds the settings of both subcommands.
type Config struct {
	Dir  string `koanf:"dir" validate:"required"`
	Base string `koanf:"base" validate:"required"`

	// Threads is the number of shards. 0 means runtime.NumCPU() for bench
	// and discovery on disk for replay.
	Threads     int  `koanf:"threads" validate:"gte=0,lte=1024"`
	Compression bool `koanf:"compression"`
	BufferSize  int  `koanf:"buffer_size" validate:"gte=274,lte=268435456"`

	EpochInterval time.Duration `koanf:"epoch_interval" validate:"gt=0"`
	TxnsPerThread int           `koanf:"txns_per_thread" validate:"gte=1"`
	RecordsPerTxn int           `koanf:"records_per_txn" validate:"gte=1"`
	PayloadSize   int           `koanf:"payload_size" validate:"gte=16,lte=255"`
	KeysPerThread int           `koanf:"keys_per_thread" validate:"gte=1"`
	AbortEvery    int           `koanf:"abort_every" validate:"gte=0"`

	TolerateTornTail bool `koanf:"tolerate_torn_tail"`
	KeySize          int  `koanf:"key_size" validate:"gte=0,lte=255"`

	LogLevel    string `koanf:"log_level" validate:"oneof=trace debug info warn error disabled"`
	LogFormat   string `koanf:"log_format" validate:"oneof=json console"`
	MetricsAddr string `koanf:"metrics_addr"`
}

func defaultConfig() *Config {
	return &Config{
		Dir:           "vlog-data",
		Base:          logging.DefaultBase,
		Threads:       0,
		Compression:   false,
		BufferSize:    logging.DefaultBufferSize,
		EpochInterval: 10 * time.Millisecond,
		TxnsPerThread: 100000,
		RecordsPerTxn: 4,
		PayloadSize:   64,
		KeysPerThread: 4096,
		AbortEvery:    0,
		KeySize:       8,
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// LoadConfig layers defaults, the optional file named by VLOG_CONFIG and
// VLOG_* environment variables, in increasing priority.
func LoadConfig() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// VLOG_BUFFER_SIZE -> buffer_size
	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func envTransformFunc(key string) string {
	return strings.ToLower(strings.TrimPrefix(key, envPrefix))
}

var validate = validator.New()

// Validate checks the field constraints declared in the struct tags.
func (c *Config) Validate() error {
	return validate.Struct(c)
}
