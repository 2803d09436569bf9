package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/csrfguard/internal/csrf"
)

const (
	defaultPort           = "8080"
	defaultRateLimitRPS   = 25.0
	defaultRateLimitBurst = 50
	defaultLogLevel       = "info"
	defaultSessionCookie  = "session"
	defaultFieldName      = "csrf_token"
)

var (
	defaultMethods = []string{"POST", "PUT", "PATCH", "DELETE"}
	defaultHeaders = []string{"X-CSRFToken", "X-CSRF-Token"}
)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > Environment variables > Config file > Defaults
type Config struct {
	Port                 string
	ShutdownGracePeriod  time.Duration
	ReadHeaderTimeout    time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	EnableRequestLogging bool
	RateLimitRPS         float64
	RateLimitBurst       int
	LogLevel             string
	CSRF                 CSRFConfig
}

// CSRFConfig holds the raw csrf settings before they are frozen into a csrf.Policy.
type CSRFConfig struct {
	Enabled       bool
	ExemptList    []string
	TimeLimit     int64 // seconds; 0 disables expiry
	SecretKey     string
	SSLStrict     bool
	Methods       []string
	Headers       []string
	FieldName     string
	SessionCookie string
}

// Policy validates the csrf settings and returns the immutable policy.
func (c CSRFConfig) Policy() (csrf.Policy, error) {
	return csrf.Settings{
		Enabled:       c.Enabled,
		ExemptOrigins: c.ExemptList,
		TimeLimit:     c.TimeLimit,
	}.Policy()
}

// fileConfig represents the configuration file structure shared by YAML and TOML.
type fileConfig struct {
	Port                 string        `yaml:"port" toml:"port"`
	ShutdownGracePeriod  string        `yaml:"shutdown_grace_period" toml:"shutdown_grace_period"`
	ReadHeaderTimeout    string        `yaml:"read_header_timeout" toml:"read_header_timeout"`
	WriteTimeout         string        `yaml:"write_timeout" toml:"write_timeout"`
	IdleTimeout          string        `yaml:"idle_timeout" toml:"idle_timeout"`
	EnableRequestLogging *bool         `yaml:"enable_request_logging" toml:"enable_request_logging"`
	LogLevel             string        `yaml:"log_level" toml:"log_level"`
	RateLimit            fileRateLimit `yaml:"rate_limit" toml:"rate_limit"`
	CSRF                 fileCSRF      `yaml:"csrf" toml:"csrf"`
}

// fileRateLimit represents the rate limit section.
type fileRateLimit struct {
	RPS   *float64 `yaml:"rps" toml:"rps"`
	Burst *int     `yaml:"burst" toml:"burst"`
}

// fileCSRF represents the csrf section.
type fileCSRF struct {
	Enabled       *bool    `yaml:"enabled" toml:"enabled"`
	ExemptList    []string `yaml:"exempt_list" toml:"exempt_list"`
	TimeLimit     *int64   `yaml:"time_limit" toml:"time_limit"`
	SecretKey     string   `yaml:"secret_key" toml:"secret_key"`
	SSLStrict     *bool    `yaml:"ssl_strict" toml:"ssl_strict"`
	Methods       []string `yaml:"methods" toml:"methods"`
	Headers       []string `yaml:"headers" toml:"headers"`
	FieldName     string   `yaml:"field_name" toml:"field_name"`
	SessionCookie string   `yaml:"session_cookie" toml:"session_cookie"`
}

// CLIOverrides holds command-line flag overrides. Nil fields were not set.
type CLIOverrides struct {
	ConfigFile     string
	EnvFile        string
	Port           *string
	RateLimitRPS   *float64
	RateLimitBurst *int
	LogLevel       *string
	CSRFEnabled    *bool
	CSRFExemptList []string
	CSRFTimeLimit  *int64
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > Environment variables > Config file > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	if overrides != nil && overrides.ConfigFile != "" {
		fileCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load config file: %w", err)
		}
		if err := applyFileConfig(&cfg, fileCfg); err != nil {
			return Config{}, fmt.Errorf("apply config file: %w", err)
		}
	}

	if overrides != nil && overrides.EnvFile != "" {
		if err := LoadEnvFile(overrides.EnvFile); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnvConfig(&cfg); err != nil {
		return Config{}, err
	}

	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment. Variables that are already set keep their values.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	policy := csrf.DefaultPolicy().Settings()
	return Config{
		Port:                 defaultPort,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
		LogLevel:             defaultLogLevel,
		CSRF: CSRFConfig{
			Enabled:       policy.Enabled,
			ExemptList:    policy.ExemptOrigins,
			TimeLimit:     policy.TimeLimit,
			SSLStrict:     true,
			Methods:       append([]string(nil), defaultMethods...),
			Headers:       append([]string(nil), defaultHeaders...),
			FieldName:     defaultFieldName,
			SessionCookie: defaultSessionCookie,
		},
	}
}

// loadFromFile loads configuration from a YAML or TOML file, chosen by extension.
func loadFromFile(path string) (*fileConfig, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg fileConfig
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(string(data), &fileCfg); err != nil {
			return nil, fmt.Errorf("parse TOML: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	}

	return &fileCfg, nil
}

// applyFileConfig applies file configuration to the Config struct.
func applyFileConfig(cfg *Config, fileCfg *fileConfig) error {
	if fileCfg.Port != "" {
		cfg.Port = fileCfg.Port
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"shutdown_grace_period", fileCfg.ShutdownGracePeriod, &cfg.ShutdownGracePeriod},
		{"read_header_timeout", fileCfg.ReadHeaderTimeout, &cfg.ReadHeaderTimeout},
		{"write_timeout", fileCfg.WriteTimeout, &cfg.WriteTimeout},
		{"idle_timeout", fileCfg.IdleTimeout, &cfg.IdleTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	if fileCfg.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *fileCfg.EnableRequestLogging
	}
	if fileCfg.LogLevel != "" {
		cfg.LogLevel = fileCfg.LogLevel
	}
	if fileCfg.RateLimit.RPS != nil {
		cfg.RateLimitRPS = *fileCfg.RateLimit.RPS
	}
	if fileCfg.RateLimit.Burst != nil {
		cfg.RateLimitBurst = *fileCfg.RateLimit.Burst
	}

	c := fileCfg.CSRF
	if c.Enabled != nil {
		cfg.CSRF.Enabled = *c.Enabled
	}
	if c.ExemptList != nil {
		cfg.CSRF.ExemptList = c.ExemptList
	}
	if c.TimeLimit != nil {
		cfg.CSRF.TimeLimit = *c.TimeLimit
	}
	if c.SecretKey != "" {
		cfg.CSRF.SecretKey = c.SecretKey
	}
	if c.SSLStrict != nil {
		cfg.CSRF.SSLStrict = *c.SSLStrict
	}
	if len(c.Methods) > 0 {
		cfg.CSRF.Methods = c.Methods
	}
	if len(c.Headers) > 0 {
		cfg.CSRF.Headers = c.Headers
	}
	if c.FieldName != "" {
		cfg.CSRF.FieldName = c.FieldName
	}
	if c.SessionCookie != "" {
		cfg.CSRF.SessionCookie = c.SessionCookie
	}
	return nil
}

// applyEnvConfig applies environment variable configuration.
func applyEnvConfig(cfg *Config) error {
	if port := env("PORT"); port != "" {
		cfg.Port = port
	}

	if rps := env("RATE_LIMIT_RPS"); rps != "" {
		value, err := strconv.ParseFloat(rps, 64)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimitRPS = value
	}

	if burst := env("RATE_LIMIT_BURST"); burst != "" {
		value, err := strconv.Atoi(burst)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_BURST: %w", err)
		}
		cfg.RateLimitBurst = value
	}

	if level := env("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if enabled := env("CSRF_ENABLED"); enabled != "" {
		value, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("CSRF_ENABLED: %w", err)
		}
		cfg.CSRF.Enabled = value
	}

	// set but empty clears the exempt list
	if list, ok := os.LookupEnv("CSRF_EXEMPT_LIST"); ok {
		cfg.CSRF.ExemptList = splitList(list)
	}

	if limit := env("CSRF_TIME_LIMIT"); limit != "" {
		value, err := strconv.ParseInt(limit, 10, 64)
		if err != nil {
			return fmt.Errorf("CSRF_TIME_LIMIT: %w", err)
		}
		cfg.CSRF.TimeLimit = value
	}

	if key := env("CSRF_SECRET_KEY"); key != "" {
		cfg.CSRF.SecretKey = key
	}

	if strict := env("CSRF_SSL_STRICT"); strict != "" {
		value, err := strconv.ParseBool(strict)
		if err != nil {
			return fmt.Errorf("CSRF_SSL_STRICT: %w", err)
		}
		cfg.CSRF.SSLStrict = value
	}

	return nil
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	if overrides.Port != nil && *overrides.Port != "" {
		cfg.Port = *overrides.Port
	}
	if overrides.RateLimitRPS != nil {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}
	if overrides.RateLimitBurst != nil {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}
	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		cfg.LogLevel = *overrides.LogLevel
	}
	if overrides.CSRFEnabled != nil {
		cfg.CSRF.Enabled = *overrides.CSRFEnabled
	}
	if len(overrides.CSRFExemptList) > 0 {
		cfg.CSRF.ExemptList = overrides.CSRFExemptList
	}
	if overrides.CSRFTimeLimit != nil {
		cfg.CSRF.TimeLimit = *overrides.CSRFTimeLimit
	}
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if cfg.RateLimitRPS < 0 {
		return errors.New("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return errors.New("RATE_LIMIT_BURST must be >= 0")
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if len(cfg.CSRF.Methods) == 0 || len(cfg.CSRF.Headers) == 0 {
		return errors.New("csrf methods and headers cannot be empty")
	}
	if _, err := cfg.CSRF.Policy(); err != nil {
		return fmt.Errorf("csrf policy: %w", err)
	}
	return nil
}

// Addr returns the listen address derived from Port.
func (c Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// splitList splits a comma-separated list, dropping empty entries.
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
