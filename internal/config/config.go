package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Backend is one of memory, file, redis, postgres.
	Backend string `yaml:"backend" json:"backend"`
	// Dir is the data directory of the file backend.
	Dir string `yaml:"dir" json:"dir"`

	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string `yaml:"redis_password,omitempty" json:"-"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`

	PostgresURL string `yaml:"postgres_url" json:"-"`

	// KeyPrefix namespaces the fixed store keys.
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// SeriesConfig controls recurring series generation.
type SeriesConfig struct {
	// WindowMonths is how far ahead a recurring request is expanded.
	WindowMonths int `yaml:"window_months" json:"window_months"`
}

// BackupConfig controls the backup reminder.
type BackupConfig struct {
	// StaleAfterHours is the age after which the last backup counts as stale.
	StaleAfterHours int `yaml:"stale_after_hours" json:"stale_after_hours"`
	// CheckCron is a cron-style schedule for the staleness check.
	CheckCron string `yaml:"check_cron" json:"check_cron"`
}

// QueryConfig configures the natural-language assistant.
type QueryConfig struct {
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Model    string `yaml:"model" json:"model"`
	// APIKeyEnv names the environment variable holding the API key. The key
	// itself is never written to the config file.
	APIKeyEnv      string  `yaml:"api_key_env" json:"api_key_env"`
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
	// Temperature is a pointer so that an explicit 0 is kept; only a
	// missing value gets the default.
	Temperature *float64 `yaml:"temperature" json:"temperature"`
}

// DefaultTemperature is used when no temperature is configured.
const DefaultTemperature = 0.1

// TemperatureValue returns the configured temperature or the default.
func (q QueryConfig) TemperatureValue() float64 {
	if q.Temperature == nil {
		return DefaultTemperature
	}
	return *q.Temperature
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRatio  float64 `yaml:"sample_ratio" json:"sample_ratio"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	// PasswordHash is an argon2id hash produced by `psiagenda hash-password`.
	PasswordHash string `yaml:"password_hash" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone appointments are interpreted in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Store     StoreConfig     `yaml:"store" json:"store"`
	Series    SeriesConfig    `yaml:"series" json:"series"`
	Backup    BackupConfig    `yaml:"backup" json:"backup"`
	Query     QueryConfig     `yaml:"query" json:"query"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "America/Argentina/Buenos_Aires"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	switch c.Store.Backend {
	case BackendMemory, BackendFile, BackendRedis, BackendPostgres:
		// ok
	default:
		c.Store.Backend = BackendFile
	}
	if c.Store.Dir == "" {
		c.Store.Dir = "./var/psiagenda"
	}
	if c.Store.KeyPrefix == "" {
		c.Store.KeyPrefix = "agenda_medica"
	}

	if c.Series.WindowMonths <= 0 {
		c.Series.WindowMonths = 6
	}

	if c.Backup.StaleAfterHours <= 0 {
		c.Backup.StaleAfterHours = 7 * 24
	}
	if c.Backup.CheckCron == "" {
		c.Backup.CheckCron = "0 9 * * *"
	}

	if c.Query.Endpoint == "" {
		c.Query.Endpoint = "https://generativelanguage.googleapis.com/v1beta"
	}
	if c.Query.Model == "" {
		c.Query.Model = "gemini-2.5-flash"
	}
	if c.Query.APIKeyEnv == "" {
		c.Query.APIKeyEnv = "GEMINI_API_KEY"
	}
	if c.Query.TimeoutSeconds <= 0 {
		c.Query.TimeoutSeconds = 20
	}
	if c.Query.Temperature == nil || *c.Query.Temperature < 0 {
		t := DefaultTemperature
		c.Query.Temperature = &t
	}

	if c.Telemetry.OTLPEndpoint == "" {
		c.Telemetry.OTLPEndpoint = "localhost:4317"
	}
	if c.Telemetry.SampleRatio <= 0 || c.Telemetry.SampleRatio > 1 {
		c.Telemetry.SampleRatio = 1
	}

	// An auth block without a username or hash is treated as disabled.
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.PasswordHash == "") {
		c.BasicAuth = nil
	}
}

// QueryAPIKey reads the assistant API key from the configured environment
// variable.
func (c *Config) QueryAPIKey() string {
	return strings.TrimSpace(os.Getenv(c.Query.APIKeyEnv))
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file in the same directory, then
// rename) with 0600 permissions, creating the parent directory as 0700.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, ".psiagenda-config-*.tmp")
}

// WriteFileAtomic writes data to a temp file next to path and renames it
// into place, so readers never observe a partially written file.
func WriteFileAtomic(path string, data []byte, pattern string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// No-op after a successful rename.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
