package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
app:
  environment: test
database:
  in_memory: true
sessions:
  - user_id: u1
    strategy: rsi
    asset: EURUSD
    entry_value: 5
    martingale_enabled: true
    martingale_levels: 2
    martingale_factor: 2.2
    params:
      rsi_period: 14
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Broker.Driver != "paper" {
		t.Errorf("expected paper driver by default, got %q", cfg.Broker.Driver)
	}
	if cfg.Broker.PayoutTTL != 60*time.Second {
		t.Errorf("expected payout ttl 60s, got %s", cfg.Broker.PayoutTTL)
	}
	if cfg.Broker.DigitalBuyTimeout != 12*time.Second || cfg.Broker.BinaryBuyTimeout != 6*time.Second {
		t.Errorf("unexpected buy timeouts: %s / %s", cfg.Broker.DigitalBuyTimeout, cfg.Broker.BinaryBuyTimeout)
	}
	if cfg.Engine.PollInterval != 100*time.Millisecond {
		t.Errorf("expected poll interval 100ms, got %s", cfg.Engine.PollInterval)
	}
	if len(cfg.Sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(cfg.Sessions))
	}
	s := cfg.Sessions[0]
	if s.MartingaleFactor != 2.2 || s.MartingaleLevels != 2 {
		t.Errorf("unexpected martingale settings: %+v", s)
	}
	if s.Params["rsi_period"] != 14 {
		t.Errorf("expected rsi_period param 14, got %v", s.Params["rsi_period"])
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("BINTRADER_BROKER_DEFAULT_PAYOUT", "70")

	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Broker.DefaultPayout != 70 {
		t.Errorf("expected env override 70, got %v", cfg.Broker.DefaultPayout)
	}
}

func TestValidate_AggregatesErrors(t *testing.T) {
	body := `
app:
  environment: test
broker:
  driver: bridge
database:
  in_memory: true
sessions:
  - user_id: ""
    strategy: unknown
    asset: EURUSD
    entry_value: 0
`
	_, err := Load(writeConfig(t, body))
	if err == nil {
		t.Fatalf("expected validation error")
	}

	msg := err.Error()
	for _, want := range []string{"broker.url", "broker.email", "user_id", "strategy 未知", "entry_value"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected error to mention %q, got %s", want, msg)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
