package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if !cfg.AllowNegativeBalance {
		t.Fatalf("negative balances are allowed by default")
	}
	if cfg.RetryAttempts != 3 || cfg.BroadcastConcurrency != 4 || cfg.BroadcastRate != 25 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.SessionTTL != 15*time.Minute || cfg.ReconcileInterval != time.Hour {
		t.Fatalf("unexpected durations %v %v", cfg.SessionTTL, cfg.ReconcileInterval)
	}
	if got := len(cfg.Tiers.Levels()); got != 4 {
		t.Fatalf("expected 4 default tiers, got %d", got)
	}
	if len(cfg.AdminIDs) != 0 {
		t.Fatalf("expected no admins, got %v", cfg.AdminIDs)
	}
	if len(cfg.MetricsAllowedCIDRs) != 2 {
		t.Fatalf("unexpected metrics allowlist %v", cfg.MetricsAllowedCIDRs)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ADMIN_IDS", "111, 222")
	t.Setenv("TIER_TABLE", "1:10:0,2:20:3")
	t.Setenv("ALLOW_NEGATIVE_BALANCE", "false")
	t.Setenv("SESSION_TTL", "30s")
	t.Setenv("BROADCAST_RATE_PER_SECOND", "0")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_CALLER", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if !cfg.AdminIDs[111] || !cfg.AdminIDs[222] || cfg.AdminIDs[333] {
		t.Fatalf("unexpected admin set %v", cfg.AdminIDs)
	}
	if cfg.AllowNegativeBalance {
		t.Fatalf("ALLOW_NEGATIVE_BALANCE=false ignored")
	}
	if cfg.Tiers.For(3).Number != 2 {
		t.Fatalf("custom tier table ignored")
	}
	if cfg.SessionTTL != 30*time.Second || cfg.BroadcastRate != 0 {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if cfg.Logging.Format != "json" || !cfg.Logging.IncludeCaller {
		t.Fatalf("unexpected logging config %+v", cfg.Logging)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"admin id":       {"ADMIN_IDS", "12,abc"},
		"tier table":     {"TIER_TABLE", "1:100:5"},
		"bool":           {"ALLOW_NEGATIVE_BALANCE", "maybe"},
		"retry attempts": {"LEDGER_RETRY_ATTEMPTS", "0"},
		"duration":       {"SESSION_TTL", "soon"},
		"cidr":           {"METRICS_ALLOWED_CIDRS", "10.0.0.1"},
	}

	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			if _, err := Load(); err == nil {
				t.Fatalf("%s=%q: expected an error", kv[0], kv[1])
			}
		})
	}
}
