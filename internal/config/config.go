package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/claude/repforge/internal/models"
	"github.com/claude/repforge/internal/pipeline"
	"github.com/claude/repforge/internal/ranking"
	"github.com/claude/repforge/internal/recovery"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	Profiles  ProfilesConfig  `yaml:"profiles"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Ranking   RankingConfig   `yaml:"ranking"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
}

// OutboxConfig locates the local queue of session results whose database
// commit failed.
type OutboxConfig struct {
	Dir           string        `yaml:"dir"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// ProfilesConfig names an optional YAML file of extra exercise profiles.
type ProfilesConfig struct {
	File string `yaml:"file"`
}

type PipelineConfig struct {
	MinConfidence      float64       `yaml:"min_confidence"`
	Hysteresis         float64       `yaml:"hysteresis"`
	MaxMissingFrames   int           `yaml:"max_missing_frames"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`
	SmoothingAlpha     float64       `yaml:"smoothing_alpha"`
	AutoStopThreshold  float64       `yaml:"auto_stop_threshold"`
	SegmentHeightRatio float64       `yaml:"segment_height_ratio"`
}

type RankingConfig struct {
	BasePoints     float64 `yaml:"base_points"`
	TierThresholds []int   `yaml:"tier_thresholds"`
	PromotionWins  int     `yaml:"promotion_wins"`
}

type RecoveryConfig struct {
	SetDecrement     float64 `yaml:"set_decrement"`
	SleepTargetHours float64 `yaml:"sleep_target_hours"`
}

// Default returns the configuration every file is layered over.
func Default() *Config {
	p := pipeline.DefaultConfig()
	r := ranking.DefaultConfig()
	rc := recovery.DefaultConfig()
	return &Config{
		Server:    ServerConfig{Host: "0.0.0.0", Port: 8080},
		Tailscale: TailscaleConfig{Hostname: "repforge", StateDir: "tsnet-state"},
		Outbox:    OutboxConfig{Dir: "data", RetryInterval: 30 * time.Second},
		Pipeline: PipelineConfig{
			MinConfidence:      p.MinConfidence,
			Hysteresis:         p.Hysteresis,
			MaxMissingFrames:   p.MaxMissingFrames,
			IdleTimeout:        p.IdleTimeout,
			SmoothingAlpha:     p.Velocity.SmoothingAlpha,
			AutoStopThreshold:  p.Velocity.AutoStopThreshold,
			SegmentHeightRatio: p.Velocity.SegmentHeightRatio,
		},
		Ranking: RankingConfig{
			BasePoints:     r.BasePoints,
			TierThresholds: slices.Clone(r.TierThresholds),
			PromotionWins:  r.WinsNeeded,
		},
		Recovery: RecoveryConfig{
			SetDecrement:     rc.SetDecrement,
			SleepTargetHours: rc.SleepTargetHours,
		},
	}
}

// DSN returns a PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode)
}

// Load reads config from a YAML file over the defaults, then applies
// environment variable overrides. Env vars use the prefix REPFORGE_ and
// underscore-separated paths:
//
//	REPFORGE_SERVER_HOST, REPFORGE_SERVER_PORT,
//	REPFORGE_DB_HOST, REPFORGE_DB_PORT, REPFORGE_DB_NAME,
//	REPFORGE_DB_USER, REPFORGE_DB_PASSWORD, REPFORGE_DB_SSLMODE,
//	REPFORGE_AUTH_API_KEY,
//	REPFORGE_TS_ENABLED, REPFORGE_TS_HOSTNAME, REPFORGE_TS_STATE_DIR,
//	REPFORGE_OUTBOX_DIR, REPFORGE_PROFILES_FILE
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("REPFORGE_SERVER_HOST", &cfg.Server.Host)
	num("REPFORGE_SERVER_PORT", &cfg.Server.Port)
	str("REPFORGE_DB_HOST", &cfg.Database.Host)
	num("REPFORGE_DB_PORT", &cfg.Database.Port)
	str("REPFORGE_DB_NAME", &cfg.Database.Name)
	str("REPFORGE_DB_USER", &cfg.Database.User)
	str("REPFORGE_DB_PASSWORD", &cfg.Database.Password)
	str("REPFORGE_DB_SSLMODE", &cfg.Database.SSLMode)
	str("REPFORGE_AUTH_API_KEY", &cfg.Auth.APIKey)
	if v := os.Getenv("REPFORGE_TS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tailscale.Enabled = b
		}
	}
	str("REPFORGE_TS_HOSTNAME", &cfg.Tailscale.Hostname)
	str("REPFORGE_TS_STATE_DIR", &cfg.Tailscale.StateDir)
	str("REPFORGE_OUTBOX_DIR", &cfg.Outbox.Dir)
	str("REPFORGE_PROFILES_FILE", &cfg.Profiles.File)
}

func (c *Config) validate() error {
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port is required")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Port == 0 {
		return fmt.Errorf("database.port is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	if c.Outbox.Dir == "" {
		return fmt.Errorf("outbox.dir is required")
	}
	if c.Outbox.RetryInterval <= 0 {
		return fmt.Errorf("outbox.retry_interval must be positive")
	}
	return errors.Join(c.Pipeline.validate(), c.Ranking.validate(), c.Recovery.validate())
}

func (p PipelineConfig) validate() error {
	var errs []error
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("pipeline.min_confidence must be in [0, 1]"))
	}
	if p.Hysteresis < 0 {
		errs = append(errs, fmt.Errorf("pipeline.hysteresis must not be negative"))
	}
	if p.MaxMissingFrames < 1 {
		errs = append(errs, fmt.Errorf("pipeline.max_missing_frames must be at least 1"))
	}
	if p.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.idle_timeout must be positive"))
	}
	if p.SmoothingAlpha <= 0 || p.SmoothingAlpha > 1 {
		errs = append(errs, fmt.Errorf("pipeline.smoothing_alpha must be in (0, 1]"))
	}
	if p.AutoStopThreshold <= 0 || p.AutoStopThreshold >= 1 {
		errs = append(errs, fmt.Errorf("pipeline.auto_stop_threshold must be in (0, 1)"))
	}
	if p.SegmentHeightRatio <= 0 || p.SegmentHeightRatio > 1 {
		errs = append(errs, fmt.Errorf("pipeline.segment_height_ratio must be in (0, 1]"))
	}
	return errors.Join(errs...)
}

func (r RankingConfig) validate() error {
	if r.BasePoints <= 0 {
		return fmt.Errorf("ranking.base_points must be positive")
	}
	if len(r.TierThresholds) != models.TierCount {
		return fmt.Errorf("ranking.tier_thresholds needs %d entries, got %d", models.TierCount, len(r.TierThresholds))
	}
	if r.TierThresholds[0] != 0 {
		return fmt.Errorf("ranking.tier_thresholds must start at 0")
	}
	for i := 1; i < len(r.TierThresholds); i++ {
		if r.TierThresholds[i] <= r.TierThresholds[i-1] {
			return fmt.Errorf("ranking.tier_thresholds must be strictly increasing")
		}
	}
	if r.PromotionWins < 1 {
		return fmt.Errorf("ranking.promotion_wins must be at least 1")
	}
	return nil
}

func (r RecoveryConfig) validate() error {
	if r.SetDecrement <= 0 || r.SetDecrement > 100 {
		return fmt.Errorf("recovery.set_decrement must be in (0, 100]")
	}
	if r.SleepTargetHours <= 0 {
		return fmt.Errorf("recovery.sleep_target_hours must be positive")
	}
	return nil
}

// PipelineSettings returns the per-session pipeline configuration.
func (c *Config) PipelineSettings() pipeline.Config {
	p := pipeline.DefaultConfig()
	p.MinConfidence = c.Pipeline.MinConfidence
	p.Hysteresis = c.Pipeline.Hysteresis
	p.MaxMissingFrames = c.Pipeline.MaxMissingFrames
	p.IdleTimeout = c.Pipeline.IdleTimeout
	p.Velocity.MinConfidence = c.Pipeline.MinConfidence
	p.Velocity.SmoothingAlpha = c.Pipeline.SmoothingAlpha
	p.Velocity.AutoStopThreshold = c.Pipeline.AutoStopThreshold
	p.Velocity.SegmentHeightRatio = c.Pipeline.SegmentHeightRatio
	return p
}

// RankingSettings returns the ranking engine configuration.
func (c *Config) RankingSettings() ranking.Config {
	r := ranking.DefaultConfig()
	r.BasePoints = c.Ranking.BasePoints
	r.TierThresholds = slices.Clone(c.Ranking.TierThresholds)
	r.WinsNeeded = c.Ranking.PromotionWins
	return r
}

// RecoverySettings returns the recovery engine configuration.
func (c *Config) RecoverySettings() recovery.Config {
	r := recovery.DefaultConfig()
	r.SetDecrement = c.Recovery.SetDecrement
	r.SleepTargetHours = c.Recovery.SleepTargetHours
	return r
}
