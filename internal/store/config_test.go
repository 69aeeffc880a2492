package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.Mode != "DRY_RUN" {
		t.Errorf("expected DRY_RUN default, got %q", cfg.Mode)
	}
	if cfg.Signals.GapThreshold != 0.02 {
		t.Errorf("expected 0.02 gap threshold default, got %v", cfg.Signals.GapThreshold)
	}
	if cfg.Signals.BreakoutVolume200 != 2.0 {
		t.Errorf("expected stricter 200d breakout confirm, got %v", cfg.Signals.BreakoutVolume200)
	}
	if cfg.Fetch.Parallelism != 8 {
		t.Errorf("expected parallelism 8, got %d", cfg.Fetch.Parallelism)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
mode: LIVE
signals:
  gap_threshold: 0.03
universe: [SPY, QQQ]
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mode != "LIVE" {
		t.Errorf("expected LIVE, got %q", cfg.Mode)
	}
	if cfg.Signals.GapThreshold != 0.03 {
		t.Errorf("expected configured gap threshold, got %v", cfg.Signals.GapThreshold)
	}
	if len(cfg.Universe) != 2 || cfg.Universe[0] != "SPY" {
		t.Errorf("unexpected universe %v", cfg.Universe)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	c := &Config{}
	c.applyDefaults()
	c.Mode = "YOLO"
	if err := c.Validate(); err == nil {
		t.Error("expected invalid mode to be rejected")
	}

	c = &Config{}
	c.applyDefaults()
	c.Signals.GapThreshold = 1.5
	if err := c.Validate(); err == nil {
		t.Error("expected out-of-range gap threshold to be rejected")
	}
}
