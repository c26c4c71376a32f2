package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/alarm-groups/internal/logger"
)

// Config holds the settings shared by alarmd and alarmctl.
type Config struct {
	// ListenAddress is the gRPC address alarmd serves and alarmctl dials.
	ListenAddress string `yaml:"listen_addr"`
	// MetricsAddress is the HTTP address for /metrics and /healthz. Empty disables it.
	MetricsAddress string `yaml:"metrics_addr"`
	// LogLevel is the minimum level for general logs.
	LogLevel string `yaml:"log_level"`
	// WorkerLogLevel is the minimum level for group worker logs.
	WorkerLogLevel string `yaml:"worker_log_level"`
	// Tick is the group worker scan period.
	Tick time.Duration `yaml:"tick"`
	// LockTimeout bounds how long a worker waits for the store lock per tick.
	LockTimeout time.Duration `yaml:"lock_timeout"`
	// StopTimeout bounds how long a retired worker may take to stop.
	StopTimeout time.Duration `yaml:"stop_timeout"`
	// SpawnRetries is how many times a failed worker spawn is retried before giving up.
	// Zero disables retries; an omitted key keeps DefaultSpawnRetries.
	SpawnRetries int `yaml:"spawn_retries"`
	// MaxWorkers caps concurrently running group workers. Zero means no cap.
	MaxWorkers int `yaml:"max_workers"`
	// Timeout is the duration for client RPC calls.
	Timeout time.Duration `yaml:"timeout"`
	// JournalFile, when set, receives every scheduler event as a JSON line.
	JournalFile string `yaml:"journal_file"`
	// Console enables the interactive read-eval loop on stdin.
	Console bool `yaml:"console"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "alarm-groups-settings.yaml"

	// DefaultListenAddress is the default gRPC address.
	DefaultListenAddress = "127.0.0.1:50071"

	// DefaultTick is the default group worker scan period.
	DefaultTick = time.Second

	// DefaultLockTimeout is the default bound on a worker's store lock wait.
	DefaultLockTimeout = 500 * time.Millisecond

	// DefaultStopTimeoutTicks is how many ticks a retired worker gets to stop.
	DefaultStopTimeoutTicks = 3

	// DefaultSpawnRetries is the default number of spawn retries.
	DefaultSpawnRetries = 3

	// MaxSpawnRetries bounds spawn_retries.
	MaxSpawnRetries = 10

	// DefaultTimeout is the default duration for client calls.
	DefaultTimeout = 5 * time.Second

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errListenAddressRequired is returned when listen address is missing.
	errListenAddressRequired = errors.New("listen address must be provided")
	// errNegativeRetries is returned for a negative spawn retry count.
	errNegativeRetries = errors.New("spawn retries must not be negative")
	// errTooManyRetries is returned when spawn retries exceed MaxSpawnRetries.
	errTooManyRetries = errors.New("spawn retries exceed the maximum")
	// errNegativeMaxWorkers is returned for a negative worker cap.
	errNegativeMaxWorkers = errors.New("max workers must not be negative")
	// errLockTimeoutTooLong is returned when a worker could wait longer than a tick for the lock.
	errLockTimeoutTooLong = errors.New("lock timeout must not exceed the tick")
)

// Default returns a configuration with every field set to its default.
func Default() *Config {
	cfg := &Config{
		ListenAddress: DefaultListenAddress,
		SpawnRetries:  DefaultSpawnRetries,
		Console:       true,
	}

	// Defaults always validate.
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	// Keys missing from the file keep these values.
	cfg := &Config{
		SpawnRetries: DefaultSpawnRetries,
		Console:      true,
	}
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but returns defaults when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}

	return cfg, err
}

// Save writes Config to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and fills defaults.
//
//nolint:cyclop // One branch per field keeps the defaults easy to audit.
func Validate(settings *Config) error {
	if settings.ListenAddress == "" {
		return errListenAddressRequired
	}

	if _, err := net.ResolveTCPAddr("tcp", settings.ListenAddress); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}

	if settings.MetricsAddress != "" {
		if _, err := net.ResolveTCPAddr("tcp", settings.MetricsAddress); err != nil {
			return fmt.Errorf("invalid metrics address: %w", err)
		}
	}

	for _, level := range []string{settings.LogLevel, settings.WorkerLogLevel} {
		if level == "" {
			continue
		}

		if _, ok := logger.ParseLogLevel(level); !ok {
			return fmt.Errorf("invalid log level %q", level)
		}
	}

	if settings.SpawnRetries < 0 {
		return errNegativeRetries
	}

	if settings.SpawnRetries > MaxSpawnRetries {
		return fmt.Errorf("%w: %d > %d", errTooManyRetries, settings.SpawnRetries, MaxSpawnRetries)
	}

	if settings.MaxWorkers < 0 {
		return errNegativeMaxWorkers
	}

	if settings.Tick <= 0 {
		settings.Tick = DefaultTick
	}

	if settings.LockTimeout <= 0 {
		settings.LockTimeout = min(DefaultLockTimeout, settings.Tick)
	}

	if settings.LockTimeout > settings.Tick {
		return errLockTimeoutTooLong
	}

	if settings.StopTimeout <= 0 {
		settings.StopTimeout = DefaultStopTimeoutTicks * settings.Tick
	}

	// Set default timeout if not specified
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	return nil
}
