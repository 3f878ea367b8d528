// Package config loads runtime settings from config.yaml, an optional .env
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rpattn/ddsetl/internal/cleansing"
	"github.com/rpattn/ddsetl/internal/db"
	"github.com/rpattn/ddsetl/internal/domain"
	"github.com/rpattn/ddsetl/internal/logging"
	"github.com/rpattn/ddsetl/internal/readiness"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full runtime configuration.
type Config struct {
	Database  db.Config
	Secondary SecondaryConfig
	Pipeline  PipelineConfig
	Ruleset   RulesetConfig
	Readiness ReadinessConfig
	Log       LogConfig
	HTTP      HTTPConfig
}

// SecondaryConfig locates the SQLite mirror.
type SecondaryConfig struct {
	Path string
}

// PipelineConfig holds the default run parameters. Empty dates fall back to
// the default calendar year.
type PipelineConfig struct {
	StartDate              string
	EndDate                string
	SkipSecondaryMigration bool
}

// RulesetConfig overrides the cleansing date marks.
type RulesetConfig struct {
	LowWaterMark       string
	DefaultWindowStart string
	HighWaterMark      string
	ExtendedWindowDays int
}

// ReadinessConfig bounds how long setup waits for the primary store.
type ReadinessConfig struct {
	MaxRetries int
	Delay      time.Duration
}

// LogConfig selects the zap configuration.
type LogConfig struct {
	Level       string
	Development bool
}

// HTTPConfig configures the control surface.
type HTTPConfig struct {
	Addr           string
	AllowedOrigins []string
}

// Default returns the built-in configuration.
func Default() Config {
	thresholds := cleansing.DefaultThresholds()
	return Config{
		Database:  db.DefaultConfig(),
		Secondary: SecondaryConfig{Path: "data/secondary.db"},
		Ruleset: RulesetConfig{
			LowWaterMark:       domain.FormatDate(thresholds.LowWaterMark),
			DefaultWindowStart: domain.FormatDate(thresholds.DefaultWindowStart),
			HighWaterMark:      domain.FormatDate(thresholds.HighWaterMark),
			ExtendedWindowDays: int(thresholds.ExtendedWindow / (24 * time.Hour)),
		},
		Readiness: ReadinessConfig{
			MaxRetries: readiness.DefaultMaxRetries,
			Delay:      readiness.DefaultDelay,
		},
		Log: LogConfig{Level: "info"},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
	}
}

// Load reads configPath/.env (if present), configPath/config.yaml (if
// present) and the environment, in increasing order of precedence. The
// database accepts the plain DB_HOST style variables; everything else uses
// the DDSETL_ prefix, e.g. DDSETL_PIPELINE_START_DATE.
func Load(configPath string) (Config, error) {
	if configPath == "" {
		configPath = "."
	}
	if err := godotenv.Load(filepath.Join(configPath, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix("DDSETL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())

	envAliases := map[string]string{
		"database.host":     "DB_HOST",
		"database.port":     "DB_PORT",
		"database.user":     "DB_USER",
		"database.password": "DB_PASSWORD",
		"database.dbname":   "DB_NAME",
		"database.sslmode":  "DB_SSLMODE",
	}
	for key, env := range envAliases {
		prefixed := "DDSETL_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return Config{}, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	}

	cfg := Config{
		Database: db.Config{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
			MaxConns: v.GetInt32("database.max_conns"),
		},
		Secondary: SecondaryConfig{Path: v.GetString("secondary.path")},
		Pipeline: PipelineConfig{
			StartDate:              v.GetString("pipeline.start_date"),
			EndDate:                v.GetString("pipeline.end_date"),
			SkipSecondaryMigration: v.GetBool("pipeline.skip_secondary_migration"),
		},
		Ruleset: RulesetConfig{
			LowWaterMark:       v.GetString("ruleset.low_water_mark"),
			DefaultWindowStart: v.GetString("ruleset.default_window_start"),
			HighWaterMark:      v.GetString("ruleset.high_water_mark"),
			ExtendedWindowDays: v.GetInt("ruleset.extended_window_days"),
		},
		Readiness: ReadinessConfig{
			MaxRetries: v.GetInt("readiness.max_retries"),
			Delay:      v.GetDuration("readiness.delay"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
		HTTP: HTTPConfig{
			Addr:           v.GetString("http.addr"),
			AllowedOrigins: splitList(v.GetStringSlice("http.allowed_origins")),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.dbname", d.Database.DBName)
	v.SetDefault("database.sslmode", d.Database.SSLMode)
	v.SetDefault("database.max_conns", d.Database.MaxConns)
	v.SetDefault("secondary.path", d.Secondary.Path)
	v.SetDefault("pipeline.start_date", d.Pipeline.StartDate)
	v.SetDefault("pipeline.end_date", d.Pipeline.EndDate)
	v.SetDefault("pipeline.skip_secondary_migration", d.Pipeline.SkipSecondaryMigration)
	v.SetDefault("ruleset.low_water_mark", d.Ruleset.LowWaterMark)
	v.SetDefault("ruleset.default_window_start", d.Ruleset.DefaultWindowStart)
	v.SetDefault("ruleset.high_water_mark", d.Ruleset.HighWaterMark)
	v.SetDefault("ruleset.extended_window_days", d.Ruleset.ExtendedWindowDays)
	v.SetDefault("readiness.max_retries", d.Readiness.MaxRetries)
	v.SetDefault("readiness.delay", d.Readiness.Delay)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.allowed_origins", d.HTTP.AllowedOrigins)
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate reports every problem at once, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Database.Host == "" {
		add("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		add("database port %d out of range", c.Database.Port)
	}
	if c.Database.User == "" {
		add("database user is required")
	}
	if c.Database.DBName == "" {
		add("database name is required")
	}
	if c.Database.MaxConns <= 0 {
		add("database max_conns must be positive")
	}
	if c.Secondary.Path == "" && !c.Pipeline.SkipSecondaryMigration {
		add("secondary path is required unless secondary migration is skipped")
	}
	if _, err := c.DateRange(); err != nil {
		add("pipeline range: %v", err)
	}
	if _, err := c.Thresholds(); err != nil {
		add("ruleset: %v", err)
	}
	if c.Readiness.MaxRetries <= 0 {
		add("readiness max_retries must be positive")
	}
	if c.Readiness.Delay < 0 {
		add("readiness delay must not be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("%v", err)
	}
	if c.HTTP.Addr == "" {
		add("http addr is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// DateRange returns the configured default pipeline range.
func (c Config) DateRange() (domain.DateRange, error) {
	return domain.ParseDateRange(c.Pipeline.StartDate, c.Pipeline.EndDate)
}

// Thresholds returns the cleansing thresholds with configured overrides applied.
func (c Config) Thresholds() (cleansing.Thresholds, error) {
	t := cleansing.DefaultThresholds()

	overrides := []struct {
		name  string
		value string
		dst   *time.Time
	}{
		{"low_water_mark", c.Ruleset.LowWaterMark, &t.LowWaterMark},
		{"default_window_start", c.Ruleset.DefaultWindowStart, &t.DefaultWindowStart},
		{"high_water_mark", c.Ruleset.HighWaterMark, &t.HighWaterMark},
	}
	for _, o := range overrides {
		if o.value == "" {
			continue
		}
		parsed, err := domain.ParseDate(o.value)
		if err != nil {
			return cleansing.Thresholds{}, fmt.Errorf("%s: %w", o.name, err)
		}
		*o.dst = parsed
	}

	if c.Ruleset.ExtendedWindowDays < 0 {
		return cleansing.Thresholds{}, fmt.Errorf("extended_window_days must not be negative")
	}
	if c.Ruleset.ExtendedWindowDays > 0 {
		t.ExtendedWindow = time.Duration(c.Ruleset.ExtendedWindowDays) * 24 * time.Hour
	}
	if t.DefaultWindowStart.After(t.HighWaterMark) {
		return cleansing.Thresholds{}, fmt.Errorf("default_window_start %s is after high_water_mark %s",
			domain.FormatDate(t.DefaultWindowStart), domain.FormatDate(t.HighWaterMark))
	}
	return t, nil
}
