// Package config loads server settings from the environment, optionally
// overlaid by a YAML file named in ARENA_CONFIG. Environment always wins.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	// TimeControlSec is the per-player budget of new matches, in seconds.
	TimeControlSec int `yaml:"time_control_sec"`
	// RatingWindow is the maximum rating distance the matchmaker pairs across.
	RatingWindow int `yaml:"rating_window"`
	// ClockTickMs is the timeout watcher poll interval.
	ClockTickMs int `yaml:"clock_tick_ms"`
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:     ":8080",
		TimeControlSec: 600,
		RatingWindow:   200,
		ClockTickMs:    500,
	}

	if path := strings.TrimSpace(os.Getenv("ARENA_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("TIME_CONTROL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TimeControlSec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RATING_WINDOW")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RatingWindow = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CLOCK_TICK_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ClockTickMs = n
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}
