/*
Package config loads server configuration from a TOML file.

PURPOSE:
  Everything the binary needs to run, with sane defaults so an empty (or
  absent) file still yields a working dev server. Flags in cmd/server
  override the file for the common knobs (listen address, database path).

POLICY CONSTANTS:
  The points-per-zone rates and the expiration window live here rather
  than in code: they are product policy owned by a rules engine upstream,
  and this service only needs current values.

EXAMPLE (hpoints.toml):

  listen   = ":8080"
  database = "./data/hpoints.db"

  [log]
  level = "info"

  [points]
  expiry_days      = 180
  lookahead_days   = 30
  sweep_interval   = "1h"
  completion_bonus = 5

  [points.per_km]
  base     = 2
  long_run = 3
  strength = 10
*/
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Listen   string `toml:"listen"`
	Database string `toml:"database"`

	Log    LogConfig    `toml:"log"`
	Points PointsConfig `toml:"points"`
	CORS   CORSConfig   `toml:"cors"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type PointsConfig struct {
	// ExpiryDays is how long earned points live.
	ExpiryDays int `toml:"expiry_days"`

	// LookaheadDays is the "expiring soon" window on balance summaries.
	LookaheadDays int `toml:"lookahead_days"`

	// SweepInterval is how often the background expiration sweep runs,
	// as a Go duration string ("1h", "30m").
	SweepInterval string `toml:"sweep_interval"`

	// PerKm maps training zone -> points per whole kilometer.
	PerKm map[string]int64 `toml:"per_km"`

	// CompletionBonus is awarded on every approved workout.
	CompletionBonus int64 `toml:"completion_bonus"`
}

type CORSConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Default returns the development configuration.
func Default() Config {
	return Config{
		Listen:   ":8080",
		Database: "hpoints.db",
		Log:      LogConfig{Level: "info"},
		Points: PointsConfig{
			ExpiryDays:      180,
			LookaheadDays:   30,
			SweepInterval:   "1h",
			PerKm:           map[string]int64{"base": 2, "pace": 3, "interval": 4, "long_run": 3, "recovery": 1, "strength": 10},
			CompletionBonus: 5,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:8080"},
		},
	}
}

// Load reads path over the defaults. A missing file is not an error; a
// malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ExpiryWindow returns the configured point lifetime.
func (c Config) ExpiryWindow() time.Duration {
	return time.Duration(c.Points.ExpiryDays) * 24 * time.Hour
}

// Lookahead returns the configured expiring-soon window.
func (c Config) Lookahead() time.Duration {
	return time.Duration(c.Points.LookaheadDays) * 24 * time.Hour
}

// SweepInterval parses the sweep interval, falling back to an hour.
func (c Config) SweepInterval() time.Duration {
	d, err := time.ParseDuration(c.Points.SweepInterval)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}
