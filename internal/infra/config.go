package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"veogen/internal/domain"
)

const (
	DefaultBaseURL = "https://api.thucchien.ai/gemini/v1beta"
	// MaxConcurrency is the hard ceiling for simultaneous jobs.
	MaxConcurrency = 10
)

// Config represents application configuration. It is built once at process
// entry from defaults, an optional YAML file, .env files, the environment and
// finally command line flags.
type Config struct {
	AppEnv string
	Port   string

	BaseURL         string
	APIKey          string
	Model           string
	RequestTimeout  time.Duration
	DownloadTimeout time.Duration

	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	ConcurrencyLimit int

	PollInitialInterval time.Duration
	PollMaxInterval     time.Duration
	PollMultiplier      float64
	MaxPollErrors       int
	MaxWaitTime         time.Duration

	OutputDir  string
	StorageURL string

	MaxIdleConnsPerHost int
	MaxConnsPerHost     int

	DatabaseURL string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	CORSOrigins      []string
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		AppEnv:              "development",
		Port:                "8080",
		BaseURL:             DefaultBaseURL,
		Model:               domain.DefaultModel,
		RequestTimeout:      30 * time.Second,
		DownloadTimeout:     300 * time.Second,
		MaxRetries:          3,
		RetryBaseDelay:      time.Second,
		RetryMaxDelay:       10 * time.Second,
		ConcurrencyLimit:    5,
		PollInitialInterval: 10 * time.Second,
		PollMaxInterval:     30 * time.Second,
		PollMultiplier:      1.2,
		MaxPollErrors:       3,
		MaxWaitTime:         600 * time.Second,
		OutputDir:           ".",
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		HTTPReadTimeout:     15 * time.Second,
		HTTPWriteTimeout:    0,
		HTTPIdleTimeout:     60 * time.Second,
	}
}

type yamlConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	Model           string        `yaml:"model"`
	RequestTimeout  string        `yaml:"request_timeout"`
	DownloadTimeout string        `yaml:"download_timeout"`
	Retry           yamlRetry     `yaml:"retry"`
	Concurrency     int           `yaml:"concurrency"`
	Poll            yamlPoll      `yaml:"poll"`
	MaxWait         string        `yaml:"max_wait"`
	OutputDir       string        `yaml:"output_dir"`
	StorageURL      string        `yaml:"storage_url"`
	Transport       yamlTransport `yaml:"transport"`
	DatabaseURL     string        `yaml:"database_url"`
}

type yamlRetry struct {
	Attempts  int    `yaml:"attempts"`
	BaseDelay string `yaml:"base_delay"`
	MaxDelay  string `yaml:"max_delay"`
}

type yamlPoll struct {
	Initial    string  `yaml:"initial"`
	Max        string  `yaml:"max"`
	Multiplier float64 `yaml:"multiplier"`
	MaxErrors  int     `yaml:"max_errors"`
}

type yamlTransport struct {
	MaxIdleConnsPerHost int `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int `yaml:"max_conns_per_host"`
}

// LoadConfig builds the configuration. path may be empty, in which case the
// YAML layer is skipped. Flags are applied by the caller, which should call
// Validate afterwards.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	// Missing .env files are fine.
	_ = godotenv.Load(".env", ".env.local")

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return domain.ConfigError("config_file", "parse config file: %v", err)
	}

	setString(&c.BaseURL, yc.BaseURL)
	setString(&c.APIKey, yc.APIKey)
	setString(&c.Model, yc.Model)
	setString(&c.OutputDir, yc.OutputDir)
	setString(&c.StorageURL, yc.StorageURL)
	setString(&c.DatabaseURL, yc.DatabaseURL)
	setInt(&c.MaxRetries, yc.Retry.Attempts)
	setInt(&c.ConcurrencyLimit, yc.Concurrency)
	setInt(&c.MaxPollErrors, yc.Poll.MaxErrors)
	setInt(&c.MaxIdleConnsPerHost, yc.Transport.MaxIdleConnsPerHost)
	setInt(&c.MaxConnsPerHost, yc.Transport.MaxConnsPerHost)
	if yc.Poll.Multiplier != 0 {
		c.PollMultiplier = yc.Poll.Multiplier
	}

	durations := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"request_timeout", yc.RequestTimeout, &c.RequestTimeout},
		{"download_timeout", yc.DownloadTimeout, &c.DownloadTimeout},
		{"retry.base_delay", yc.Retry.BaseDelay, &c.RetryBaseDelay},
		{"retry.max_delay", yc.Retry.MaxDelay, &c.RetryMaxDelay},
		{"poll.initial", yc.Poll.Initial, &c.PollInitialInterval},
		{"poll.max", yc.Poll.Max, &c.PollMaxInterval},
		{"max_wait", yc.MaxWait, &c.MaxWaitTime},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return domain.ConfigError(d.field, "parse %s: %v", d.field, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.AppEnv = getEnv("APP_ENV", c.AppEnv)
	c.Port = getEnv("PORT", c.Port)
	c.BaseURL = getEnv("LITELLM_BASE_URL", c.BaseURL)
	c.APIKey = getEnv("THUCCHIEN_API_KEY", getEnv("LITELLM_API_KEY", c.APIKey))
	c.Model = getEnv("VEO_MODEL", c.Model)
	c.OutputDir = getEnv("VEO_OUTPUT_DIR", c.OutputDir)
	c.StorageURL = getEnv("VEO_STORAGE_URL", c.StorageURL)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.CORSOrigins = splitList(v)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"VEO_MAX_RETRIES", &c.MaxRetries},
		{"VEO_CONCURRENCY", &c.ConcurrencyLimit},
		{"VEO_MAX_POLL_ERRORS", &c.MaxPollErrors},
		{"VEO_MAX_IDLE_CONNS", &c.MaxIdleConnsPerHost},
		{"VEO_MAX_CONNS", &c.MaxConnsPerHost},
	}
	for _, e := range ints {
		if err := envInt(e.key, e.dst); err != nil {
			return err
		}
	}

	seconds := []struct {
		key string
		dst *time.Duration
	}{
		{"VEO_REQUEST_TIMEOUT_SECONDS", &c.RequestTimeout},
		{"VEO_DOWNLOAD_TIMEOUT_SECONDS", &c.DownloadTimeout},
		{"VEO_MAX_WAIT_SECONDS", &c.MaxWaitTime},
		{"HTTP_READ_TIMEOUT_SECONDS", &c.HTTPReadTimeout},
		{"HTTP_WRITE_TIMEOUT_SECONDS", &c.HTTPWriteTimeout},
		{"HTTP_IDLE_TIMEOUT_SECONDS", &c.HTTPIdleTimeout},
	}
	for _, e := range seconds {
		if err := envSeconds(e.key, e.dst); err != nil {
			return err
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"VEO_RETRY_BASE_DELAY", &c.RetryBaseDelay},
		{"VEO_RETRY_MAX_DELAY", &c.RetryMaxDelay},
		{"VEO_POLL_INITIAL", &c.PollInitialInterval},
		{"VEO_POLL_MAX", &c.PollMaxInterval},
	}
	for _, e := range durations {
		if err := envDuration(e.key, e.dst); err != nil {
			return err
		}
	}

	if v, ok := os.LookupEnv("VEO_POLL_MULTIPLIER"); ok && v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return domain.ConfigError("VEO_POLL_MULTIPLIER", "parse VEO_POLL_MULTIPLIER: %v", err)
		}
		c.PollMultiplier = f
	}
	return nil
}

// Validate rejects values the generation pipeline cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return domain.ConfigError("base_url", "base url is required")
	}
	if c.ConcurrencyLimit <= 0 {
		return domain.ConfigError("concurrency", "concurrency must be positive, got %d", c.ConcurrencyLimit)
	}
	if c.ConcurrencyLimit > MaxConcurrency {
		return domain.ConfigError("concurrency", "concurrency must be at most %d, got %d", MaxConcurrency, c.ConcurrencyLimit)
	}
	if c.MaxRetries <= 0 {
		return domain.ConfigError("retry.attempts", "max retries must be positive, got %d", c.MaxRetries)
	}
	if c.RequestTimeout <= 0 || c.DownloadTimeout <= 0 || c.MaxWaitTime <= 0 {
		return domain.ConfigError("timeout", "timeouts must be positive")
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return domain.ConfigError("retry.base_delay", "retry delays must satisfy 0 < base (%s) <= max (%s)", c.RetryBaseDelay, c.RetryMaxDelay)
	}
	if c.PollInitialInterval <= 0 || c.PollMaxInterval < c.PollInitialInterval {
		return domain.ConfigError("poll.initial", "poll intervals must satisfy 0 < initial (%s) <= max (%s)", c.PollInitialInterval, c.PollMaxInterval)
	}
	if c.PollMultiplier < 1 {
		return domain.ConfigError("poll.multiplier", "poll multiplier must be at least 1, got %g", c.PollMultiplier)
	}
	if c.MaxPollErrors <= 0 {
		return domain.ConfigError("poll.max_errors", "max poll errors must be positive, got %d", c.MaxPollErrors)
	}
	return nil
}

// HasAPIKey reports whether either environment source or the file set a key.
func (c *Config) HasAPIKey() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return domain.ConfigError(key, "parse %s: %v", key, err)
	}
	*dst = i
	return nil
}

func envSeconds(key string, dst *time.Duration) error {
	n := -1
	if err := envInt(key, &n); err != nil {
		return err
	}
	if n >= 0 {
		*dst = time.Duration(n) * time.Second
	} else if _, ok := os.LookupEnv(key); ok && os.Getenv(key) != "" {
		return domain.ConfigError(key, "%s must not be negative", key)
	}
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return domain.ConfigError(key, "parse %s: %v", key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
