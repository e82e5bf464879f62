package config

import (
	"testing"
)

func validConfig() Config {
	return Config{
		App: AppConfig{Name: "test-service"},
		Log: LogConfig{Level: "info"},
		Scorer: ScorerConfig{
			Weights:   ScorerWeights{Distance: 0.30, Time: 0.20, Load: 0.15, Priority: 0.20, Route: 0.15},
			MaxDistKm: 50,
		},
		Optimizer: OptimizerConfig{SLAMinutes: 120, AvgMinPerDelivery: 10, AvgSpeedKph: 30},
		Cycle: CycleConfig{
			Dispatch:   EngineCycleConfig{IntervalSec: 30, TimeoutSec: 20},
			Routes:     EngineCycleConfig{IntervalSec: 300, TimeoutSec: 60},
			Batching:   EngineCycleConfig{IntervalSec: 120, TimeoutSec: 30},
			Escalation: EngineCycleConfig{IntervalSec: 60, TimeoutSec: 20},
		},
		Store: StoreConfig{
			Breaker: BreakerConfig{Failures: 3, OpenSec: 120},
		},
		Targets: TargetsConfig{ShiftStart: "08:00", ShiftEnd: "20:00", Timezone: "UTC"},
		Pickups: PickupsConfig{Points: []PickupPointConfig{
			{ID: "P1", Lat: 1, Lng: 1, Name: "Hub 1"},
		}},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing app name",
			mutate:  func(c *Config) { c.App.Name = "" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Log.Level = "invalid" },
			wantErr: true,
		},
		{
			name:    "valid debug level",
			mutate:  func(c *Config) { c.Log.Level = "debug" },
			wantErr: false,
		},
		{
			name: "weights don't sum to 1.0",
			mutate: func(c *Config) {
				c.Scorer.Weights = ScorerWeights{Distance: 0.5, Time: 0.5, Load: 0.5, Priority: 0.5, Route: 0.5}
			},
			wantErr: true,
		},
		{
			name:    "negative max dist",
			mutate:  func(c *Config) { c.Scorer.MaxDistKm = -1 },
			wantErr: true,
		},
		{
			name:    "zero sla minutes",
			mutate:  func(c *Config) { c.Optimizer.SLAMinutes = 0 },
			wantErr: true,
		},
		{
			name:    "zero cycle interval",
			mutate:  func(c *Config) { c.Cycle.Dispatch.IntervalSec = 0 },
			wantErr: true,
		},
		{
			name:    "zero breaker failures",
			mutate:  func(c *Config) { c.Store.Breaker.Failures = 0 },
			wantErr: true,
		},
		{
			name:    "missing shift window",
			mutate:  func(c *Config) { c.Targets.ShiftStart = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"development", true},
		{"dev", true},
		{"production", false},
		{"staging", false},
	}

	for _, tt := range tests {
		cfg := &Config{App: AppConfig{Environment: tt.env}}
		if got := cfg.IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment() for %s = %v, want %v", tt.env, got, tt.want)
		}
	}
}

func TestConfig_IsProduction(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"production", true},
		{"prod", true},
		{"development", false},
		{"staging", false},
	}

	for _, tt := range tests {
		cfg := &Config{App: AppConfig{Environment: tt.env}}
		if got := cfg.IsProduction(); got != tt.want {
			t.Errorf("IsProduction() for %s = %v, want %v", tt.env, got, tt.want)
		}
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name   string
		cfg    DatabaseConfig
		expect string
	}{
		{
			name: "postgres",
			cfg: DatabaseConfig{
				Driver:   "postgres",
				Host:     "localhost",
				Port:     5432,
				Database: "testdb",
				Username: "user",
				Password: "pass",
				SSLMode:  "disable",
			},
			expect: "host=localhost port=5432 user=user password=pass dbname=testdb sslmode=disable",
		},
		{
			name:   "unknown driver",
			cfg:    DatabaseConfig{Driver: "unknown"},
			expect: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn := tt.cfg.DSN()
			if dsn != tt.expect {
				t.Errorf("expected DSN %s, got %s", tt.expect, dsn)
			}
		})
	}
}

func TestCacheConfig_Address(t *testing.T) {
	cfg := CacheConfig{
		Host: "redis.local",
		Port: 6379,
	}

	addr := cfg.Address()
	if addr != "redis.local:6379" {
		t.Errorf("expected 'redis.local:6379', got %s", addr)
	}
}

func TestScorerWeights_Sum(t *testing.T) {
	w := ScorerWeights{Distance: 0.30, Time: 0.20, Load: 0.15, Priority: 0.20, Route: 0.15}
	if got := w.Sum(); got != 1.0 {
		t.Errorf("expected sum 1.0, got %f", got)
	}
}

func TestEngineCycleConfig_Durations(t *testing.T) {
	e := EngineCycleConfig{IntervalSec: 30, TimeoutSec: 20}
	if e.Interval().Seconds() != 30 {
		t.Errorf("expected interval 30s, got %v", e.Interval())
	}
	if e.Timeout().Seconds() != 20 {
		t.Errorf("expected timeout 20s, got %v", e.Timeout())
	}
}

func TestBreakerConfig_OpenDuration(t *testing.T) {
	b := BreakerConfig{Failures: 3, OpenSec: 120}
	if b.OpenDuration().Seconds() != 120 {
		t.Errorf("expected 120s, got %v", b.OpenDuration())
	}
}
