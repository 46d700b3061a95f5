// Package config loads callgoat settings from a YAML file, an optional
// .env file and CG_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration passed explicitly to every component.
type Config struct {
	DBPath      string            `yaml:"db_path"`
	Port        int               `yaml:"port"`
	AdminToken  string            `yaml:"admin_token"`
	Attribution AttributionConfig `yaml:"attribution"`
	Stats       StatsConfig       `yaml:"stats"`
	Store       StoreConfig       `yaml:"store"`
	CORS        CORSConfig        `yaml:"cors"`
	Cookies     CookieConfig      `yaml:"cookies"`
	Log         LogConfig         `yaml:"log"`
	HTTP        HTTPConfig        `yaml:"http"`
}

// HTTPConfig limits what public clients can send and see.
type HTTPConfig struct {
	// MaxBodyBytes caps request bodies on the tracking and webhook routes.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
	// ExposeErrorDetails adds the underlying error text to error responses.
	// Leave it off wherever browsers or providers can reach the server.
	ExposeErrorDetails bool `yaml:"expose_error_details"`
}

// AttributionConfig controls the call attribution chain.
type AttributionConfig struct {
	WindowMinutes int `yaml:"window_minutes"`
}

// Window returns the click-intent look-back window.
func (a AttributionConfig) Window() time.Duration {
	return time.Duration(a.WindowMinutes) * time.Minute
}

// StatsConfig controls winner detection.
type StatsConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	MinSampleSize       int     `yaml:"min_sample_size"`
}

// StoreConfig tunes SQLite locking behaviour.
type StoreConfig struct {
	BusyTimeoutMs      int `yaml:"busy_timeout_ms"`
	RetryMaxElapsedMs  int `yaml:"retry_max_elapsed_ms"`
	MaxOpenConnections int `yaml:"max_open_connections"`
}

// CORSConfig lists origins allowed to call the tracking endpoints.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// CookieConfig controls the visitor and experiment cookies.
type CookieConfig struct {
	Secure bool   `yaml:"secure"`
	Domain string `yaml:"domain"`
}

// LogConfig selects logrus level and formatter.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the YAML file at path (a missing file is not an error), then
// applies .env and environment overrides, defaults and validation.
func Load(path string) (*Config, error) {
	// .env is optional; production deployments set real environment variables
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse unmarshals YAML bytes into a validated Config without consulting
// the environment.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CG_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("CG_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("CG_ADMIN_TOKEN"); v != "" {
		c.AdminToken = v
	}
	if v := os.Getenv("CG_ATTRIBUTION_WINDOW_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Attribution.WindowMinutes = n
		}
	}
	if v := os.Getenv("CG_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Stats.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("CG_CORS_ALLOWED_ORIGINS"); v != "" {
		c.CORS.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("CG_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CG_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("CG_EXPOSE_ERROR_DETAILS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.HTTP.ExposeErrorDetails = b
		}
	}
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "./cg.db"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Attribution.WindowMinutes == 0 {
		c.Attribution.WindowMinutes = 5
	}
	if c.Stats.ConfidenceThreshold == 0 {
		c.Stats.ConfidenceThreshold = 95
	}
	if c.Stats.MinSampleSize == 0 {
		c.Stats.MinSampleSize = 30
	}
	if c.Store.BusyTimeoutMs == 0 {
		c.Store.BusyTimeoutMs = 5000
	}
	if c.Store.RetryMaxElapsedMs == 0 {
		c.Store.RetryMaxElapsedMs = 250
	}
	if c.Store.MaxOpenConnections == 0 {
		c.Store.MaxOpenConnections = 8
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.HTTP.MaxBodyBytes == 0 {
		c.HTTP.MaxBodyBytes = 64 << 10
	}
}

// Validate checks that all values are usable and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("port %d out of range", c.Port))
	}
	if c.Attribution.WindowMinutes < 0 {
		errs = append(errs, "attribution.window_minutes must be positive")
	}
	if c.Stats.ConfidenceThreshold <= 0 || c.Stats.ConfidenceThreshold >= 100 {
		errs = append(errs, "stats.confidence_threshold must be between 0 and 100")
	}
	if c.Stats.MinSampleSize < 0 {
		errs = append(errs, "stats.min_sample_size must not be negative")
	}
	if c.Store.BusyTimeoutMs < 0 || c.Store.RetryMaxElapsedMs < 0 {
		errs = append(errs, "store timeouts must not be negative")
	}
	if c.HTTP.MaxBodyBytes < 0 {
		errs = append(errs, "http.max_body_bytes must not be negative")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
