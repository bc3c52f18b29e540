// Package config provides environment-first configuration loading for the
// Fluxion core: database location, backup directory, working hours,
// audit retention, trial/grace windows, logging, and the anonymization
// schedule. There is no remote config source — this is a local, single-user
// process and the environment (optionally layered with a YAML override
// file and a local .env file) is the only input.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full recognized configuration surface. The env tags are
// the final, highest-precedence layer applied by Load via envdecode.
type Config struct {
	DBPath      string `yaml:"db_path" env:"FLUXION_DB_PATH"`
	BackupDir   string `yaml:"backup_dir" env:"FLUXION_BACKUP_DIR"`
	LogLevel    string `yaml:"log_level" env:"FLUXION_LOG_LEVEL"`
	LogFormat   string `yaml:"log_format" env:"FLUXION_LOG_FORMAT"`
	MetricsAddr string `yaml:"metrics_addr" env:"FLUXION_METRICS_ADDR"`

	WorkingHoursStart string `yaml:"working_hours_start" env:"FLUXION_WORKING_HOURS_START"`
	WorkingHoursEnd   string `yaml:"working_hours_end" env:"FLUXION_WORKING_HOURS_END"`
	MinBreakMinutes   int    `yaml:"min_break_minutes" env:"FLUXION_MIN_BREAK_MINUTES"`

	AuditRetentionYears int `yaml:"audit_retention_years" env:"FLUXION_AUDIT_RETENTION_YEARS"`

	TrialDays        int `yaml:"trial_days" env:"FLUXION_TRIAL_DAYS"`
	OfflineGraceDays int `yaml:"offline_grace_days" env:"FLUXION_OFFLINE_GRACE_DAYS"`

	AnonymizationCron string `yaml:"anonymization_cron" env:"FLUXION_ANONYMIZATION_CRON"`
}

// Default returns the configuration surface's documented defaults.
func Default() Config {
	return Config{
		DBPath:              "./fluxion.db",
		BackupDir:           "./backups",
		LogLevel:            "info",
		LogFormat:           "json",
		MetricsAddr:         "",
		WorkingHoursStart:   "09:00",
		WorkingHoursEnd:     "18:00",
		MinBreakMinutes:     15,
		AuditRetentionYears: 7,
		TrialDays:           30,
		OfflineGraceDays:    7,
		AnonymizationCron:   "0 3 * * *",
	}
}

// Load builds a Config by layering, lowest to highest precedence:
// documented defaults, an optional YAML override file, a local .env file
// (if present), then environment variables proper. A missing override
// file or .env file is not an error.
func Load(overridePath string) (Config, error) {
	cfg := Default()

	if overridePath != "" {
		if raw, err := os.ReadFile(overridePath); err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config override %s: %w", overridePath, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config override %s: %w", overridePath, err)
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}

	return cfg, nil
}

// GetEnv retrieves an environment variable with a default fallback.
func GetEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvBool retrieves a boolean environment variable with a default.
// Accepts: "true", "1", "yes", "y" (case-insensitive) as true.
func GetEnvBool(key string, defaultValue bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	lower := strings.ToLower(val)
	return lower == "true" || lower == "1" || lower == "yes" || lower == "y"
}

// GetEnvInt retrieves an integer environment variable with a default.
// Returns the default if the value is unset or invalid.
func GetEnvInt(key string, defaultValue int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// ParseEnvDuration parses a duration from the named environment variable.
func ParseEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// WorkingHours parses the start/end of day strings ("HH:MM") into minutes
// since midnight, returning an error if either is malformed.
func (c Config) WorkingHours() (startMinutes, endMinutes int, err error) {
	startMinutes, err = parseClock(c.WorkingHoursStart)
	if err != nil {
		return 0, 0, fmt.Errorf("working_hours_start: %w", err)
	}
	endMinutes, err = parseClock(c.WorkingHoursEnd)
	if err != nil {
		return 0, 0, fmt.Errorf("working_hours_end: %w", err)
	}
	return startMinutes, endMinutes, nil
}

func parseClock(hhmm string) (int, error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", hhmm)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", hhmm)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", hhmm)
	}
	return h*60 + m, nil
}
