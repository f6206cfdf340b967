// Package configuration reads the charfs configuration file. Values use the
// same CHARFS_* names as the environment variables the CLI binds, so a file
// entry and an exported variable are interchangeable.
package configuration

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"charfs/internal/kernel"
	"charfs/internal/logging"
	"charfs/internal/storage"
)

// DefaultFile is the configuration file read when none is named.
const DefaultFile = "charfs.env"

// Configuration keys.
const (
	KeyStorage         = "CHARFS_STORAGE"
	KeyStatePath       = "CHARFS_STATE_PATH"
	KeyBackups         = "CHARFS_BACKUPS"
	KeyLogLevel        = "CHARFS_LOG_LEVEL"
	KeyCacheSize       = "CHARFS_CACHE_SIZE"
	KeyIdempotencySize = "CHARFS_IDEMPOTENCY_SIZE"
)

type genericConfigProvider interface {
	Read(filenames ...string) (envMap map[string]string, err error)
}

// Config is the resolved configuration.
type Config struct {
	Storage         string
	StatePath       string
	Backups         int
	LogLevel        string
	CacheSize       int
	IdempotencySize int
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Storage:         storage.BackendFile,
		StatePath:       "charfs.json",
		Backups:         3,
		LogLevel:        "INFO",
		CacheSize:       kernel.DefaultResolveCacheSize,
		IdempotencySize: kernel.DefaultIdempotencyCacheSize,
	}
}

// Load reads filename through provider and applies its entries over the
// defaults. A missing file is not an error.
func Load(provider genericConfigProvider, filename string) (Config, error) {
	cfg := Default()

	envMap, err := provider.Read(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("(config) failed to read %s: %w", filename, err)
	}

	if err := cfg.Apply(envMap); err != nil {
		return cfg, fmt.Errorf("(config) %s: %w", filename, err)
	}
	return cfg, nil
}

// Apply overrides the fields named in envMap. Unknown keys are ignored.
func (c *Config) Apply(envMap map[string]string) error {
	if v, ok := envMap[KeyStorage]; ok {
		switch v {
		case storage.BackendMemory, storage.BackendFile, storage.BackendSQLite:
			c.Storage = v
		default:
			return fmt.Errorf("unknown storage backend %q", v)
		}
	}
	if v, ok := envMap[KeyStatePath]; ok {
		c.StatePath = v
	}
	if v, ok := envMap[KeyLogLevel]; ok {
		if _, valid := logging.ParseLevel(v); !valid {
			return fmt.Errorf("unknown log level %q", v)
		}
		c.LogLevel = strings.ToUpper(v)
	}

	ints := []struct {
		key string
		dst *int
		min int
	}{
		{KeyBackups, &c.Backups, 0},
		{KeyCacheSize, &c.CacheSize, 1},
		{KeyIdempotencySize, &c.IdempotencySize, 1},
	}
	for _, i := range ints {
		v, ok := envMap[i.key]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < i.min {
			return fmt.Errorf("%s must be an integer of at least %d, got %q", i.key, i.min, v)
		}
		*i.dst = n
	}
	return nil
}

// StorageOptions selects the storage backend.
func (c Config) StorageOptions() storage.Options {
	return storage.Options{Backend: c.Storage, Path: c.StatePath, BackupCount: c.Backups}
}

// KernelOptions sizes the kernel caches.
func (c Config) KernelOptions() kernel.Options {
	return kernel.Options{ResolveCacheSize: c.CacheSize, IdempotencyCacheSize: c.IdempotencySize}
}

// Level returns the configured log level.
func (c Config) Level() logging.LogLevel {
	level, _ := logging.ParseLevel(c.LogLevel)
	return level
}
