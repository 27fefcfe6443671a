// Package config loads onboard settings from defaults, an optional YAML file
// and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreMemory    = "memory"
	StoreFile      = "file"
	StoreSurrealDB = "surrealdb"
)

// Config holds all configuration values.
type Config struct {
	// Job API
	APIBaseURL        string
	RequestTimeout    time.Duration
	RequestAttempts   int
	RequestRetryDelay time.Duration

	// Event stream. StreamMaxRetries of zero disables reconnects.
	StreamMaxRetries int
	StreamRetryDelay time.Duration
	ProgressLogSize  int

	// Job record persistence
	JobExpiry time.Duration
	Store     string
	StorePath string

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// fileConfig is the YAML layout. Zero values leave the default in place,
// except for pointer fields where zero is meaningful.
type fileConfig struct {
	API struct {
		BaseURL    string        `yaml:"base_url"`
		Timeout    time.Duration `yaml:"timeout"`
		Attempts   int           `yaml:"attempts"`
		RetryDelay time.Duration `yaml:"retry_delay"`
	} `yaml:"api"`
	Stream struct {
		MaxRetries *int          `yaml:"max_retries"`
		RetryDelay time.Duration `yaml:"retry_delay"`
		LogSize    int           `yaml:"progress_log_size"`
	} `yaml:"stream"`
	Store struct {
		Backend   string        `yaml:"backend"`
		Path      string        `yaml:"path"`
		JobExpiry time.Duration `yaml:"job_expiry"`
	} `yaml:"store"`
	SurrealDB struct {
		URL       string `yaml:"url"`
		Namespace string `yaml:"namespace"`
		Database  string `yaml:"database"`
		User      string `yaml:"user"`
		Pass      string `yaml:"pass"`
		AuthLevel string `yaml:"auth_level"`
	} `yaml:"surrealdb"`
	Log struct {
		File  string `yaml:"file"`
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		APIBaseURL:        "http://localhost:8000",
		RequestTimeout:    30 * time.Second,
		RequestAttempts:   3,
		RequestRetryDelay: time.Second,

		StreamMaxRetries: 3,
		StreamRetryDelay: 2 * time.Second,
		ProgressLogSize:  5,

		JobExpiry: 24 * time.Hour,
		Store:     StoreFile,
		StorePath: defaultStorePath(),

		SurrealDBURL:       "ws://localhost:8000/rpc",
		SurrealDBNamespace: "onboard",
		SurrealDBDatabase:  "wizard",
		SurrealDBUser:      "root",
		SurrealDBPass:      "root",
		SurrealDBAuthLevel: "root",

		LogFile:  filepath.Join(os.TempDir(), "onboard.log"),
		LogLevel: slog.LevelInfo,
	}
}

// Load builds the configuration. A .env file in the working directory is read
// first without overriding variables that are already set. path may be empty.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory, StoreFile, StoreSurrealDB:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q (want memory, file or surrealdb)", c.Store))
	}
	if c.Store == StoreFile && c.StorePath == "" {
		errs = append(errs, errors.New("store path is required for the file store"))
	}
	if c.RequestAttempts < 1 {
		errs = append(errs, fmt.Errorf("request attempts must be at least 1, got %d", c.RequestAttempts))
	}
	if c.StreamMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("stream max retries must not be negative, got %d", c.StreamMaxRetries))
	}
	if c.ProgressLogSize < 1 {
		errs = append(errs, fmt.Errorf("progress log size must be at least 1, got %d", c.ProgressLogSize))
	}
	return errors.Join(errs...)
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&c.APIBaseURL, f.API.BaseURL)
	setDuration(&c.RequestTimeout, f.API.Timeout)
	setInt(&c.RequestAttempts, f.API.Attempts)
	setDuration(&c.RequestRetryDelay, f.API.RetryDelay)

	if f.Stream.MaxRetries != nil {
		c.StreamMaxRetries = *f.Stream.MaxRetries
	}
	setDuration(&c.StreamRetryDelay, f.Stream.RetryDelay)
	setInt(&c.ProgressLogSize, f.Stream.LogSize)

	setString(&c.Store, f.Store.Backend)
	setString(&c.StorePath, f.Store.Path)
	setDuration(&c.JobExpiry, f.Store.JobExpiry)

	setString(&c.SurrealDBURL, f.SurrealDB.URL)
	setString(&c.SurrealDBNamespace, f.SurrealDB.Namespace)
	setString(&c.SurrealDBDatabase, f.SurrealDB.Database)
	setString(&c.SurrealDBUser, f.SurrealDB.User)
	setString(&c.SurrealDBPass, f.SurrealDB.Pass)
	setString(&c.SurrealDBAuthLevel, f.SurrealDB.AuthLevel)

	setString(&c.LogFile, f.Log.File)
	if f.Log.Level != "" {
		c.LogLevel = parseLogLevel(f.Log.Level)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	c.APIBaseURL = getEnv("ONBOARD_API_BASE_URL", c.APIBaseURL)
	collect(envDuration("ONBOARD_REQUEST_TIMEOUT", &c.RequestTimeout))
	collect(envInt("ONBOARD_REQUEST_ATTEMPTS", &c.RequestAttempts))
	collect(envDuration("ONBOARD_REQUEST_RETRY_DELAY", &c.RequestRetryDelay))

	collect(envInt("ONBOARD_STREAM_MAX_RETRIES", &c.StreamMaxRetries))
	collect(envDuration("ONBOARD_STREAM_RETRY_DELAY", &c.StreamRetryDelay))
	collect(envInt("ONBOARD_PROGRESS_LOG_SIZE", &c.ProgressLogSize))

	collect(envDuration("ONBOARD_JOB_EXPIRY", &c.JobExpiry))
	c.Store = getEnv("ONBOARD_STORE", c.Store)
	c.StorePath = getEnv("ONBOARD_STORE_PATH", c.StorePath)

	c.SurrealDBURL = getEnv("SURREALDB_URL", c.SurrealDBURL)
	c.SurrealDBNamespace = getEnv("SURREALDB_NAMESPACE", c.SurrealDBNamespace)
	c.SurrealDBDatabase = getEnv("SURREALDB_DATABASE", c.SurrealDBDatabase)
	c.SurrealDBUser = getEnv("SURREALDB_USER", c.SurrealDBUser)
	c.SurrealDBPass = getEnv("SURREALDB_PASS", c.SurrealDBPass)
	c.SurrealDBAuthLevel = getEnv("SURREALDB_AUTH_LEVEL", c.SurrealDBAuthLevel)

	c.LogFile = getEnv("ONBOARD_LOG_FILE", c.LogFile)
	if lvl := os.Getenv("ONBOARD_LOG_LEVEL"); lvl != "" {
		c.LogLevel = parseLogLevel(lvl)
	}

	return errors.Join(errs...)
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".onboard-state.json"
	}
	return filepath.Join(dir, "onboard", "state.json")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envInt(key string, dst *int) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
