// Package config collects and exposes configuration for the whole worker
// process. It:
//  1. reads environment variables from .env (via godotenv),
//  2. normalizes and validates the values, accumulating warnings for
//     anything recoverable rather than failing the process,
//  3. caches derived values (e.g. the compiled webhook URL pattern),
//  4. exposes a read-only snapshot through a package-level singleton.
//
// Business context: the environment controls how the worker reaches the
// forum source (Reddit) and the durable store, the retention policy and
// sweep time, and the scheduler's tick intervals. The default poll
// interval, poll/dispatch rates, HTTP timeout, config cache TTL, batching
// values, webhook URL pattern and application timezone are also loaded and
// validated, but the worker's wiring (internal/app) does not pass them to
// the Poller, Dispatcher or Tenant Config Reader, which use their own
// fixed constants.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"reddalert/internal/infra/timeutil"
)

// EnvConfig describes the parameters arriving from the environment (.env).
// Values have already gone through minimal validation/normalization in
// loadConfig; call sites may assume EnvConfig is internally consistent.
type EnvConfig struct {
	ForumAppID     string
	ForumAppSecret string
	ForumUserAgent string

	DBPath string

	LogLevel string

	PollIntervalMinutesDefault int
	RetentionDays              int
	WebhookURLPatternRaw       string

	PollRatePerMinute     int
	DispatchRatePerSecond float64
	HTTPTimeoutSeconds    int

	ConfigCacheTTLSeconds int

	PollTickSeconds     int
	MatchTickSeconds    int
	DispatchTickSeconds int

	BatchWindowSeconds int
	BatchMinCount      int
	MaxEmbedsPerCall   int

	RetentionSweepTime string
	AppTimezone        string
}

// Config holds the loaded environment plus derived, precompiled values.
//
// Thread-safety: Warnings takes an RLock; the other getters read fields
// that are never written after Load. There is no reload path at runtime;
// the environment is immutable for the life of the process.
type Config struct {
	Env      EnvConfig
	warnings []string
	mu       sync.RWMutex

	webhookPattern *regexp.Regexp
}

// Defaults for environment parameters.
const (
	defaultLogLevel                   = "info"
	defaultDBPath                     = "data/reddalert.db"
	defaultPollIntervalMinutesDefault = 15
	defaultRetentionDays              = 90
	defaultWebhookURLPattern          = `^https://discord(app)?\.com/api/webhooks/\d+/[\w-]+$`
	defaultPollRatePerMinute          = 100
	defaultDispatchRatePerSecond      = 5
	defaultHTTPTimeoutSeconds         = 15
	defaultConfigCacheTTLSeconds      = 60
	defaultPollTickSeconds            = 60
	defaultMatchTickSeconds           = 30
	defaultDispatchTickSeconds        = 30
	defaultBatchWindowSeconds         = 120
	defaultBatchMinCount              = 3
	defaultMaxEmbedsPerCall           = 10
	defaultRetentionSweepTime         = "03:00"
	defaultAppTimezone                = "UTC"
)

var (
	cfgInstance *Config
	cfgDone     bool
)

// Load is the entry point for initializing the global worker configuration.
// Repeated calls return an error to avoid racing the process's startup
// config against itself.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig performs the actual load/validation without touching global
// state, so tests can build a throwaway Config and assert on it.
func loadConfig(envPath string) (*Config, error) {
	// A missing .env file is not fatal: the worker may be configured purely
	// through the real environment (e.g. in a container).
	_ = godotenv.Load(envPath)

	forumAppID := strings.TrimSpace(os.Getenv("FORUM_APP_ID"))
	if forumAppID == "" {
		return nil, errors.New("env FORUM_APP_ID must be set")
	}
	forumAppSecret := strings.TrimSpace(os.Getenv("FORUM_APP_SECRET"))
	if forumAppSecret == "" {
		return nil, errors.New("env FORUM_APP_SECRET must be set")
	}
	forumUserAgent := strings.TrimSpace(os.Getenv("FORUM_USER_AGENT"))
	if forumUserAgent == "" {
		return nil, errors.New("env FORUM_USER_AGENT must be set")
	}

	var warnings []string

	dbPath := sanitizeFile("DB_PATH", os.Getenv("DB_PATH"), defaultDBPath, &warnings)
	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), &warnings)
	pollIntervalDefault := parseIntDefault("POLL_INTERVAL_MINUTES", defaultPollIntervalMinutesDefault,
		between(5, 1440), &warnings)
	retentionDays := parseIntDefault("RETENTION_DAYS", defaultRetentionDays, greaterThanZero, &warnings)
	webhookPattern := sanitizeRegexp("WEBHOOK_URL_PATTERN", os.Getenv("WEBHOOK_URL_PATTERN"),
		defaultWebhookURLPattern, &warnings)
	pollRate := parseIntDefault("POLL_RATE_PER_MINUTE", defaultPollRatePerMinute, between(1, 100), &warnings)
	dispatchRate := parseFloatDefault("DISPATCH_RATE_PER_SECOND", defaultDispatchRatePerSecond, &warnings)
	httpTimeout := parseIntDefault("HTTP_TIMEOUT_SECONDS", defaultHTTPTimeoutSeconds, greaterThanZero, &warnings)
	cacheTTL := parseIntDefault("CONFIG_CACHE_TTL_SECONDS", defaultConfigCacheTTLSeconds, greaterThanZero, &warnings)
	pollTick := parseIntDefault("POLL_TICK_SECONDS", defaultPollTickSeconds, greaterThanZero, &warnings)
	matchTick := parseIntDefault("MATCH_TICK_SECONDS", defaultMatchTickSeconds, greaterThanZero, &warnings)
	dispatchTick := parseIntDefault("DISPATCH_TICK_SECONDS", defaultDispatchTickSeconds, greaterThanZero, &warnings)
	batchWindow := parseIntDefault("BATCH_WINDOW_SECONDS", defaultBatchWindowSeconds, greaterThanZero, &warnings)
	batchMinCount := parseIntDefault("BATCH_MIN_COUNT", defaultBatchMinCount, greaterThanZero, &warnings)
	maxEmbeds := parseIntDefault("MAX_EMBEDS_PER_CALL", defaultMaxEmbedsPerCall, greaterThanZero, &warnings)
	retentionSweepTime := sanitizeTimeOfDay(os.Getenv("RETENTION_SWEEP_TIME"), defaultRetentionSweepTime, &warnings)
	appTimezone := sanitizeTimezoneFlexible(os.Getenv("APP_TIMEZONE"), defaultAppTimezone, &warnings)

	env := EnvConfig{
		ForumAppID:     forumAppID,
		ForumAppSecret: forumAppSecret,
		ForumUserAgent: forumUserAgent,

		DBPath: dbPath,

		LogLevel: logLevel,

		PollIntervalMinutesDefault: pollIntervalDefault,
		RetentionDays:              retentionDays,
		WebhookURLPatternRaw:       webhookPattern.String(),

		PollRatePerMinute:     pollRate,
		DispatchRatePerSecond: dispatchRate,
		HTTPTimeoutSeconds:    httpTimeout,

		ConfigCacheTTLSeconds: cacheTTL,

		PollTickSeconds:     pollTick,
		MatchTickSeconds:    matchTick,
		DispatchTickSeconds: dispatchTick,

		BatchWindowSeconds: batchWindow,
		BatchMinCount:      batchMinCount,
		MaxEmbedsPerCall:   maxEmbeds,

		RetentionSweepTime: retentionSweepTime,
		AppTimezone:        appTimezone,
	}

	return &Config{
		Env:            env,
		warnings:       warnings,
		webhookPattern: webhookPattern,
	}, nil
}

// Warnings returns the warnings accumulated while loading the environment
// (e.g. whenever a default was substituted). Returns a copy.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env returns the EnvConfig from the global singleton.
func Env() EnvConfig {
	return cfgInstance.Env
}

// WebhookPattern returns the compiled regex a webhook URL must match before
// acceptance (the SSRF guard named in spec.md §6).
func WebhookPattern() *regexp.Regexp {
	return cfgInstance.webhookPattern
}

// AppLocation resolves the configured AppTimezone to a *time.Location.
func AppLocation() *time.Location {
	loc, err := timeutil.ParseLocation(cfgInstance.Env.AppTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

func parseFloatDefault(name string, defaultVal float64, warnings *[]string) float64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %v", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || v <= 0 {
		appendWarningf(warnings, "env %s value %q is invalid; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

func greaterThanZero(v int) bool { return v > 0 }

func between(lo, hi int) func(int) bool {
	return func(v int) bool { return v >= lo && v <= hi }
}

func sanitizeLogLevel(level string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env LOG_LEVEL is not set; using default %q", defaultLogLevel)
		return defaultLogLevel
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultLogLevel)
		return defaultLogLevel
	}
}

func sanitizeFile(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}

func sanitizeRegexp(name, value, fallback string, warnings *[]string) *regexp.Regexp {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default pattern", name)
		v = fallback
	}
	re, err := regexp.Compile(v)
	if err != nil {
		appendWarningf(warnings, "env %s value %q does not compile as regexp; using default pattern: %v", name, v, err)
		re = regexp.MustCompile(fallback)
	}
	return re
}

func sanitizeTimezoneFlexible(value string, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env APP_TIMEZONE is not set; using default %q", fallback)
		return fallback
	}
	if _, err := timeutil.ParseLocation(v); err != nil {
		appendWarningf(warnings, "timezone %q is invalid; using default %q", v, fallback)
		return fallback
	}
	return v
}

// sanitizeTimeOfDay validates a single "HH:MM" value, used for the daily
// retention sweep anchor.
func sanitizeTimeOfDay(value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env RETENTION_SWEEP_TIME is not set; using default %q", fallback)
		return fallback
	}
	if !timeutil.IsValidScheduleEntry(v) {
		appendWarningf(warnings, "env RETENTION_SWEEP_TIME value %q is invalid; using default %q", v, fallback)
		return fallback
	}
	return v
}
