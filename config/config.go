// Package config loads client settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/amartya2002/uptime-client/prefs"
	"github.com/amartya2002/uptime-client/uptime"
)

type Config struct {
	APIURL         string
	RequestTimeout time.Duration
	RateLimit      float64 // requests per second, 0 disables
	RateBurst      int

	ListInterval      time.Duration
	DetailInterval    time.Duration
	DashboardInterval time.Duration
	LogLimit          int

	LogLevel  string
	LogFile   string
	StateFile string

	ListenAddr     string
	DigestSchedule string
	GinMode        string
	Demo           bool

	parseErrs []error // values present in the environment that did not parse
}

// Load reads .env when present, then the environment, and validates the
// result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var env envReader
	cfg := &Config{
		APIURL:            getEnv("UPTIME_API_URL", "http://localhost:8000"),
		RequestTimeout:    env.getEnvDuration("UPTIME_REQUEST_TIMEOUT", 10*time.Second),
		RateLimit:         env.getEnvFloat("UPTIME_RATE_LIMIT", 0),
		RateBurst:         env.getEnvInt("UPTIME_RATE_BURST", 5),
		ListInterval:      env.getEnvDuration("UPTIME_LIST_INTERVAL", 30*time.Second),
		DetailInterval:    env.getEnvDuration("UPTIME_DETAIL_INTERVAL", 10*time.Second),
		DashboardInterval: env.getEnvDuration("UPTIME_DASHBOARD_INTERVAL", 10*time.Second),
		LogLimit:          env.getEnvInt("UPTIME_LOG_LIMIT", 50),
		LogLevel:          strings.ToLower(getEnv("UPTIME_LOG_LEVEL", "error")),
		LogFile:           getEnv("UPTIME_LOG_FILE", ""),
		StateFile:         getEnv("UPTIME_STATE_FILE", ""),
		ListenAddr:        getEnv("UPTIME_LISTEN_ADDR", ":8080"),
		DigestSchedule:    getEnv("UPTIME_DIGEST_SCHEDULE", "@every 5m"),
		GinMode:           getEnv("GIN_MODE", "release"),
		Demo:              env.getEnvBool("UPTIME_DEMO", false),
	}
	cfg.parseErrs = env.errs

	if cfg.StateFile == "" {
		path, err := prefs.DefaultPath()
		if err != nil {
			return nil, err
		}
		cfg.StateFile = path
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once, including values Load
// could not parse.
func (c *Config) Validate() error {
	errs := append([]error(nil), c.parseErrs...)

	if u, err := url.Parse(c.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("UPTIME_API_URL must be an absolute http(s) URL, got %q", c.APIURL))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("UPTIME_REQUEST_TIMEOUT must be positive"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("UPTIME_RATE_LIMIT must not be negative"))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		errs = append(errs, errors.New("UPTIME_RATE_BURST must be at least 1"))
	}
	for name, d := range map[string]time.Duration{
		"UPTIME_LIST_INTERVAL":      c.ListInterval,
		"UPTIME_DETAIL_INTERVAL":    c.DetailInterval,
		"UPTIME_DASHBOARD_INTERVAL": c.DashboardInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.LogLimit < 1 {
		errs = append(errs, errors.New("UPTIME_LOG_LIMIT must be at least 1"))
	}
	if _, err := c.GatewayLogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.DigestSchedule != "" {
		if _, err := cron.ParseStandard(c.DigestSchedule); err != nil {
			errs = append(errs, fmt.Errorf("UPTIME_DIGEST_SCHEDULE: %w", err))
		}
	}

	return errors.Join(errs...)
}

// GatewayLogLevel maps UPTIME_LOG_LEVEL to the gateway's request log level.
func (c *Config) GatewayLogLevel() (uptime.LogLevel, error) {
	switch c.LogLevel {
	case "none", "off":
		return uptime.LogNone, nil
	case "", "error":
		return uptime.LogError, nil
	case "info":
		return uptime.LogInfo, nil
	case "debug":
		return uptime.LogDebug, nil
	default:
		return uptime.LogError, fmt.Errorf("UPTIME_LOG_LEVEL must be none, error, info or debug, got %q", c.LogLevel)
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// envReader parses typed settings and keeps one error per malformed value.
// A malformed value leaves the fallback in place.
type envReader struct {
	errs []error
}

func (e *envReader) invalid(key, value, want string) {
	e.errs = append(e.errs, fmt.Errorf("%s must be %s, got %q", key, want, value))
}

func (e *envReader) getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		e.invalid(key, value, "an integer")
		return fallback
	}
	return n
}

func (e *envReader) getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		e.invalid(key, value, "a number")
		return fallback
	}
	return f
}

func (e *envReader) getEnvBool(key string, fallback bool) bool {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		e.invalid(key, value, "a boolean")
		return fallback
	}
	return b
}

// getEnvDuration accepts Go durations ("15s") and bare integers as seconds.
func (e *envReader) getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	e.invalid(key, value, `a duration such as "15s" or whole seconds`)
	return fallback
}
