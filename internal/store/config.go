package store

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration, loaded from YAML with
// environment variable overrides for credentials.
type Config struct {
	Mode string `yaml:"mode"` // DRY_RUN or LIVE

	Broker struct {
		APIKey      string `yaml:"api_key"`
		AccessToken string `yaml:"access_token"`
		SessionDB   string `yaml:"session_db"`
	} `yaml:"broker"`

	MarketData struct {
		BaseURL        string        `yaml:"base_url"`
		Period         string        `yaml:"period"`
		Interval       string        `yaml:"interval"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"market_data"`

	Signals struct {
		// GapThreshold is a fraction, not a percent: 0.02 means 2%.
		GapThreshold float64 `yaml:"gap_threshold"`

		GapVolumeRatio    float64 `yaml:"gap_volume_ratio"`
		MAProximityPct    float64 `yaml:"ma_proximity_pct"`
		NearHighPct       float64 `yaml:"near_high_pct"`
		BreakoutVolume50  float64 `yaml:"breakout_volume_50"`
		BreakoutVolume200 float64 `yaml:"breakout_volume_200"`
		AvgVolumeWindow   int     `yaml:"avg_volume_window"`
	} `yaml:"signals"`

	Fetch struct {
		Parallelism   int           `yaml:"parallelism"`
		RetryBase     time.Duration `yaml:"retry_base"`
		RetryMax      int           `yaml:"retry_max"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
	} `yaml:"fetch"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Schedule struct {
		RefreshCron string `yaml:"refresh_cron"` // empty disables the scheduler
	} `yaml:"schedule"`

	Universe []string `yaml:"universe"` // extra watched symbols beyond holdings
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode %q: must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if c.Signals.GapThreshold <= 0 || c.Signals.GapThreshold >= 1 {
		return fmt.Errorf("signals.gap_threshold must be in (0,1), got %v", c.Signals.GapThreshold)
	}
	if c.Signals.GapVolumeRatio < 1 {
		return fmt.Errorf("signals.gap_volume_ratio must be >= 1, got %v", c.Signals.GapVolumeRatio)
	}
	if c.Fetch.Parallelism <= 0 {
		return fmt.Errorf("fetch.parallelism must be positive, got %d", c.Fetch.Parallelism)
	}
	if c.Fetch.RetryMax < 0 {
		return fmt.Errorf("fetch.retry_max must be >= 0, got %d", c.Fetch.RetryMax)
	}
	return nil
}

// LoadConfig reads the YAML file, applies defaults and env overrides, and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	var c Config

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	c.applyDefaults()

	// Credentials come from the environment, never from the YAML on disk.
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		c.Broker.APIKey = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		c.Broker.AccessToken = v
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "DRY_RUN"
	}
	if c.Broker.SessionDB == "" {
		c.Broker.SessionDB = "session.db"
	}
	if c.MarketData.BaseURL == "" {
		c.MarketData.BaseURL = "https://query1.finance.yahoo.com"
	}
	if c.MarketData.Period == "" {
		c.MarketData.Period = "1y"
	}
	if c.MarketData.Interval == "" {
		c.MarketData.Interval = "1d"
	}
	if c.MarketData.RequestTimeout == 0 {
		c.MarketData.RequestTimeout = 30 * time.Second
	}
	if c.Signals.GapThreshold == 0 {
		c.Signals.GapThreshold = 0.02
	}
	if c.Signals.GapVolumeRatio == 0 {
		c.Signals.GapVolumeRatio = 1.5
	}
	if c.Signals.MAProximityPct == 0 {
		c.Signals.MAProximityPct = 0.05
	}
	if c.Signals.NearHighPct == 0 {
		c.Signals.NearHighPct = 0.05
	}
	if c.Signals.BreakoutVolume50 == 0 {
		c.Signals.BreakoutVolume50 = 1.5
	}
	if c.Signals.BreakoutVolume200 == 0 {
		c.Signals.BreakoutVolume200 = 2.0
	}
	if c.Signals.AvgVolumeWindow == 0 {
		c.Signals.AvgVolumeWindow = 20
	}
	if c.Fetch.Parallelism == 0 {
		c.Fetch.Parallelism = 8
	}
	if c.Fetch.RetryBase == 0 {
		c.Fetch.RetryBase = 30 * time.Second
	}
	if c.Fetch.RetryMax == 0 {
		c.Fetch.RetryMax = 5
	}
	if c.Fetch.SweepInterval == 0 {
		c.Fetch.SweepInterval = 10 * time.Minute
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8085"
	}
}
