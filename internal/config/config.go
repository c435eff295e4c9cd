// Package config layers the runner configuration: defaults, the YAML file,
// a .env file, MIGRATE_* environment variables and finally command flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default values for configuration fields.
const (
	DefaultDirectory        = "migrations"
	DefaultStorage          = "postgres"
	DefaultReporter         = "pretty"
	DefaultTable            = "migrations"
	DefaultRedisPrefix      = "migrations"
	DefaultExtension        = ".sql"
	DefaultAbortRespite     = 10 * time.Second
	DefaultLockTimeout      = 5 * time.Second
	DefaultStatementTimeout = 30 * time.Second
	DefaultDotEnv           = ".env"
)

// Config holds the runner configuration.
type Config struct {
	Directory        string
	Storage          string
	Reporter         string
	Plugins          []string // loader plugins; empty means the storage's default
	DatabaseURL      string
	RedisURL         string
	Table            string
	RedisPrefix      string
	Template         string
	Extension        string
	AbortRespite     time.Duration
	LockTimeout      time.Duration
	StatementTimeout time.Duration
	Trace            bool
	TraceEndpoint    string // OTLP gRPC endpoint; empty uses the OTEL_EXPORTER_OTLP_* variables
}

type yamlConfig struct {
	Directory        string   `yaml:"directory"`
	Storage          string   `yaml:"storage"`
	Reporter         string   `yaml:"reporter"`
	Plugins          []string `yaml:"plugins"`
	DatabaseURL      string   `yaml:"database_url"`
	RedisURL         string   `yaml:"redis_url"`
	Table            string   `yaml:"table"`
	RedisPrefix      string   `yaml:"redis_prefix"`
	Template         string   `yaml:"template"`
	Extension        string   `yaml:"extension"`
	AbortRespite     string   `yaml:"abort_respite"`
	LockTimeout      string   `yaml:"lock_timeout"`
	StatementTimeout string   `yaml:"statement_timeout"`
	Trace            bool     `yaml:"trace"`
	TraceEndpoint    string   `yaml:"trace_endpoint"`
}

// New returns a Config populated with default values.
func New() *Config {
	return &Config{
		Directory:        DefaultDirectory,
		Storage:          DefaultStorage,
		Reporter:         DefaultReporter,
		Table:            DefaultTable,
		RedisPrefix:      DefaultRedisPrefix,
		Extension:        DefaultExtension,
		AbortRespite:     DefaultAbortRespite,
		LockTimeout:      DefaultLockTimeout,
		StatementTimeout: DefaultStatementTimeout,
	}
}

// Load reads a YAML configuration file on top of the defaults.
// If allowMissing is true and the file does not exist, defaults are returned.
func Load(path string, allowMissing bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && allowMissing {
			return New(), nil
		}

		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return fromYAML(&raw)
}

func fromYAML(raw *yamlConfig) (*Config, error) {
	cfg := New()

	setString(&cfg.Directory, raw.Directory)
	setString(&cfg.Storage, raw.Storage)
	setString(&cfg.Reporter, raw.Reporter)
	setString(&cfg.DatabaseURL, raw.DatabaseURL)
	setString(&cfg.RedisURL, raw.RedisURL)
	setString(&cfg.Table, raw.Table)
	setString(&cfg.RedisPrefix, raw.RedisPrefix)
	setString(&cfg.Template, raw.Template)
	setString(&cfg.Extension, raw.Extension)
	setString(&cfg.TraceEndpoint, raw.TraceEndpoint)

	if len(raw.Plugins) > 0 {
		cfg.Plugins = raw.Plugins
	}

	cfg.Trace = raw.Trace

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"abort_respite", raw.AbortRespite, &cfg.AbortRespite},
		{"lock_timeout", raw.LockTimeout, &cfg.LockTimeout},
		{"statement_timeout", raw.StatementTimeout, &cfg.StatementTimeout},
	}

	for _, d := range durations {
		if d.raw == "" {
			continue
		}

		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s %q: %w", d.key, d.raw, err)
		}

		*d.dst = v
	}

	return cfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// LoadDotEnv adds the variables of a .env file to the process environment
// without overriding variables that are already set. A missing file is not
// an error unless required.
func LoadDotEnv(path string, required bool) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !required {
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}

	return nil
}

// MergeEnv overrides config fields from MIGRATE_* environment variables.
// Values that do not parse are ignored.
func MergeEnv(cfg *Config) {
	strs := map[string]*string{
		"MIGRATE_DIRECTORY":      &cfg.Directory,
		"MIGRATE_STORAGE":        &cfg.Storage,
		"MIGRATE_REPORTER":       &cfg.Reporter,
		"MIGRATE_DATABASE_URL":   &cfg.DatabaseURL,
		"MIGRATE_REDIS_URL":      &cfg.RedisURL,
		"MIGRATE_TABLE":          &cfg.Table,
		"MIGRATE_REDIS_PREFIX":   &cfg.RedisPrefix,
		"MIGRATE_TEMPLATE":       &cfg.Template,
		"MIGRATE_EXTENSION":      &cfg.Extension,
		"MIGRATE_TRACE_ENDPOINT": &cfg.TraceEndpoint,
	}

	for key, dst := range strs {
		setString(dst, os.Getenv(key))
	}

	durations := map[string]*time.Duration{
		"MIGRATE_ABORT_RESPITE":     &cfg.AbortRespite,
		"MIGRATE_LOCK_TIMEOUT":      &cfg.LockTimeout,
		"MIGRATE_STATEMENT_TIMEOUT": &cfg.StatementTimeout,
	}

	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	if v, err := strconv.ParseBool(os.Getenv("MIGRATE_TRACE")); err == nil {
		cfg.Trace = v
	}

	if v := os.Getenv("MIGRATE_PLUGINS"); v != "" {
		cfg.Plugins = splitList(v)
	}
}

func splitList(v string) []string {
	var out []string

	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}
