// pkg/config/config.go
package config

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Config is the root configuration for the dispatch core.
type Config struct {
	App       AppConfig       `koanf:"app"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Tracing   TracingConfig   `koanf:"tracing"`
	Database  DatabaseConfig  `koanf:"database"`
	Cache     CacheConfig     `koanf:"cache"`
	Audit     AuditConfig     `koanf:"audit"`
	Scorer    ScorerConfig    `koanf:"scorer"`
	Optimizer OptimizerConfig `koanf:"optimizer"`
	Cycle     CycleConfig     `koanf:"cycle"`
	Store     StoreConfig     `koanf:"store"`
	Targets   TargetsConfig   `koanf:"targets"`
	Pickups   PickupsConfig   `koanf:"pickups"`
}

// AppConfig carries general application settings.
type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"` // development, staging, production
	Debug       bool   `koanf:"debug"`
}

// LogConfig controls the slog-based logger.
type LogConfig struct {
	Level      string `koanf:"level"`       // debug, info, warn, error
	Format     string `koanf:"format"`      // json, text
	Output     string `koanf:"output"`      // stdout, stderr, file
	FilePath   string `koanf:"file_path"`
	MaxSize    int    `koanf:"max_size"`    // MB, lumberjack
	MaxBackups int    `koanf:"max_backups"`
	MaxAge     int    `koanf:"max_age"`     // days
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig controls the Prometheus sidecar.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Port      int    `koanf:"port"`
	Path      string `koanf:"path"`
	Namespace string `koanf:"namespace"`
	Subsystem string `koanf:"subsystem"`
}

// TracingConfig controls the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// DatabaseConfig configures the postgres connection pool.
type DatabaseConfig struct {
	Driver          string        `koanf:"driver"` // postgres only; field kept for parity with the DSN switch
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Database        string        `koanf:"database"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
	SSLMode         string        `koanf:"ssl_mode"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	MigrationsPath  string        `koanf:"migrations_path"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// DSN returns the postgres connection string.
func (d DatabaseConfig) DSN() string {
	switch strings.ToLower(d.Driver) {
	case "postgres", "postgresql":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode,
		)
	default:
		return ""
	}
}

// CacheConfig selects and configures the Cache implementation.
type CacheConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Driver     string        `koanf:"driver"` // redis, memory
	Host       string        `koanf:"host"`
	Port       int           `koanf:"port"`
	Password   string        `koanf:"password"`
	DB         int           `koanf:"db"`
	DefaultTTL time.Duration `koanf:"default_ttl"`
	MaxEntries int           `koanf:"max_entries"` // in-memory driver only
}

// Address returns the cache backend address.
func (c CacheConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuditConfig configures the operational audit trail.
type AuditConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Backend     string        `koanf:"backend"` // stdout, file
	FilePath    string        `koanf:"file_path"`
	BufferSize  int           `koanf:"buffer_size"`
	FlushPeriod time.Duration `koanf:"flush_period"`
}

// ScorerConfig holds the driver-scoring weights and gates.
type ScorerConfig struct {
	Weights   ScorerWeights `koanf:"weights"`
	MaxDistKm float64       `koanf:"max_dist_km"`
}

// ScorerWeights must sum to 1.0; Validate enforces this with a small epsilon.
type ScorerWeights struct {
	Distance float64 `koanf:"distance"`
	Time     float64 `koanf:"time"`
	Load     float64 `koanf:"load"`
	Priority float64 `koanf:"priority"`
	Route    float64 `koanf:"route"`
}

// Sum returns the sum of all five weights.
func (w ScorerWeights) Sum() float64 {
	return w.Distance + w.Time + w.Load + w.Priority + w.Route
}

// OptimizerConfig holds the route optimizer's tunables.
type OptimizerConfig struct {
	SLAMinutes        int     `koanf:"sla_minutes"`
	AvgMinPerDelivery float64 `koanf:"avg_min_per_delivery"`
	AvgSpeedKph       float64 `koanf:"avg_speed_kph"`
}

// CycleConfig holds the four engine cadences, in seconds.
type CycleConfig struct {
	Dispatch   EngineCycleConfig `koanf:"dispatch"`
	Routes     EngineCycleConfig `koanf:"routes"`
	Batching   EngineCycleConfig `koanf:"batching"`
	Escalation EngineCycleConfig `koanf:"escalation"`
}

// EngineCycleConfig is one engine's cadence, tick timeout, and jitter.
type EngineCycleConfig struct {
	IntervalSec int     `koanf:"interval_sec"`
	TimeoutSec  int     `koanf:"timeout_sec"`
	JitterPct   float64 `koanf:"jitter_pct"`
}

// Interval returns the cadence as a time.Duration.
func (e EngineCycleConfig) Interval() time.Duration {
	return time.Duration(e.IntervalSec) * time.Second
}

// Timeout returns the per-tick timeout as a time.Duration.
func (e EngineCycleConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSec) * time.Second
}

// StoreConfig holds persistence-gateway deadlines and breaker thresholds.
type StoreConfig struct {
	TimeoutMs StoreTimeouts `koanf:"timeout_ms"`
	Breaker   BreakerConfig `koanf:"breaker"`
}

// StoreTimeouts are per-call deadlines in milliseconds.
type StoreTimeouts struct {
	Read     int `koanf:"read"`
	Metrics  int `koanf:"metrics"`
	Mutation int `koanf:"mutation"`
}

// ReadTimeout returns the read deadline as a time.Duration.
func (s StoreTimeouts) ReadTimeout() time.Duration { return time.Duration(s.Read) * time.Millisecond }

// MetricsTimeout returns the metrics-query deadline as a time.Duration.
func (s StoreTimeouts) MetricsTimeout() time.Duration {
	return time.Duration(s.Metrics) * time.Millisecond
}

// MutationTimeout returns the mutation deadline as a time.Duration.
func (s StoreTimeouts) MutationTimeout() time.Duration {
	return time.Duration(s.Mutation) * time.Millisecond
}

// BreakerConfig configures the persistence gateway's circuit breaker.
type BreakerConfig struct {
	Failures int `koanf:"failures"`
	OpenSec  int `koanf:"open_sec"`
}

// OpenDuration returns how long the breaker stays open once tripped.
func (b BreakerConfig) OpenDuration() time.Duration {
	return time.Duration(b.OpenSec) * time.Second
}

// TargetsConfig holds the shift window used by the target tracker's on-track curve.
type TargetsConfig struct {
	ShiftStart string `koanf:"shift_start"` // HH:MM, local to Timezone
	ShiftEnd   string `koanf:"shift_end"`
	Timezone   string `koanf:"timezone"`
}

// PickupsConfig lists the depots/hubs drivers collect orders from. Pickup
// points are immutable within a planning horizon, so they are loaded once
// from configuration rather than kept in the relational store.
type PickupsConfig struct {
	Points []PickupPointConfig `koanf:"points"`
}

// PickupPointConfig is one configured pickup point.
type PickupPointConfig struct {
	ID   string  `koanf:"id"`
	Lat  float64 `koanf:"lat"`
	Lng  float64 `koanf:"lng"`
	Name string  `koanf:"name"`
}

// Validate checks the configuration for internal consistency, failing closed
// on anything that would otherwise surface as a confusing runtime error.
func (c *Config) Validate() error {
	var errs []string

	if c.App.Name == "" {
		errs = append(errs, "app.name is required")
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of: debug, info, warn, error, got %s", c.Log.Level))
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		errs = append(errs, fmt.Sprintf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port))
	}

	if sum := c.Scorer.Weights.Sum(); math.Abs(sum-1.0) > 1e-6 {
		errs = append(errs, fmt.Sprintf("scorer.weights must sum to 1.0, got %f", sum))
	}
	if c.Scorer.MaxDistKm <= 0 {
		errs = append(errs, "scorer.max_dist_km must be positive")
	}

	if c.Optimizer.SLAMinutes <= 0 {
		errs = append(errs, "optimizer.sla_minutes must be positive")
	}
	if c.Optimizer.AvgMinPerDelivery <= 0 {
		errs = append(errs, "optimizer.avg_min_per_delivery must be positive")
	}
	if c.Optimizer.AvgSpeedKph <= 0 {
		errs = append(errs, "optimizer.avg_speed_kph must be positive")
	}

	for name, e := range map[string]EngineCycleConfig{
		"cycle.dispatch": c.Cycle.Dispatch, "cycle.routes": c.Cycle.Routes,
		"cycle.batching": c.Cycle.Batching, "cycle.escalation": c.Cycle.Escalation,
	} {
		if e.IntervalSec <= 0 {
			errs = append(errs, fmt.Sprintf("%s.interval_sec must be positive", name))
		}
		if e.TimeoutSec <= 0 {
			errs = append(errs, fmt.Sprintf("%s.timeout_sec must be positive", name))
		}
	}

	if c.Store.Breaker.Failures <= 0 {
		errs = append(errs, "store.breaker.failures must be positive")
	}
	if c.Store.Breaker.OpenSec <= 0 {
		errs = append(errs, "store.breaker.open_sec must be positive")
	}

	if c.Targets.ShiftStart == "" || c.Targets.ShiftEnd == "" {
		errs = append(errs, "targets.shift_start and targets.shift_end are required")
	}
	if c.Targets.Timezone == "" {
		c.Targets.Timezone = "UTC"
	}

	if len(c.Pickups.Points) == 0 {
		errs = append(errs, "pickups.points must contain at least one pickup point")
	}
	seen := make(map[string]bool, len(c.Pickups.Points))
	for _, p := range c.Pickups.Points {
		if p.ID == "" {
			errs = append(errs, "pickups.points entries must have a non-empty id")
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Sprintf("pickups.points has a duplicate id: %s", p.ID))
		}
		seen[p.ID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsDevelopment reports whether the app is running in a development environment.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development" || c.App.Environment == "dev"
}

// IsProduction reports whether the app is running in a production environment.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production" || c.App.Environment == "prod"
}
