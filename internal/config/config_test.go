package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"LEDGER_HTTP_ADDR", "LEDGER_STORE", "LEDGER_HTTP_MAX_INFLIGHT",
		"LEDGER_REQUEST_TIMEOUT", "LEDGER_DB_MIGRATE", "REDIS_ADDR",
	} {
		t.Setenv(k, "")
	}

	cfg, _ := Load()
	if cfg.HTTPAddr != ":3000" {
		t.Fatalf("addr=%q", cfg.HTTPAddr)
	}
	if cfg.StoreKind != "postgres" {
		t.Fatalf("store=%q", cfg.StoreKind)
	}
	if cfg.MaxInflight != 64 || cfg.RequestTimeout != 5*time.Second {
		t.Fatalf("inflight=%d timeout=%s", cfg.MaxInflight, cfg.RequestTimeout)
	}
	if cfg.DBMigrate || cfg.RedisAddr != "" {
		t.Fatalf("migrate=%v redis=%q", cfg.DBMigrate, cfg.RedisAddr)
	}
	if cfg.DBMaxConns < 4 || cfg.DBMaxConns > 50 {
		t.Fatalf("max conns=%d outside clamp", cfg.DBMaxConns)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LEDGER_HTTP_ADDR", ":9090")
	t.Setenv("LEDGER_STORE", "Memory")
	t.Setenv("LEDGER_REQUEST_TIMEOUT", "750ms")
	t.Setenv("LEDGER_BREAKER_FAILURES", "9")
	t.Setenv("LEDGER_DB_MIGRATE", "1")

	cfg, _ := Load()
	if cfg.HTTPAddr != ":9090" || cfg.StoreKind != "memory" {
		t.Fatalf("addr=%q store=%q", cfg.HTTPAddr, cfg.StoreKind)
	}
	if cfg.RequestTimeout != 750*time.Millisecond {
		t.Fatalf("timeout=%s", cfg.RequestTimeout)
	}
	if cfg.BreakerFailures != 9 || !cfg.DBMigrate {
		t.Fatalf("failures=%d migrate=%v", cfg.BreakerFailures, cfg.DBMigrate)
	}
}

func TestBadValuesFallBack(t *testing.T) {
	t.Setenv("LEDGER_HTTP_MAX_INFLIGHT", "-3")
	t.Setenv("LEDGER_REQUEST_TIMEOUT", "soon")

	cfg, _ := Load()
	if cfg.MaxInflight != 64 {
		t.Fatalf("inflight=%d", cfg.MaxInflight)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Fatalf("timeout=%s", cfg.RequestTimeout)
	}
}

func TestClamp(t *testing.T) {
	cases := []struct{ n, want int }{{1, 4}, {10, 10}, {99, 50}}
	for _, tc := range cases {
		if got := clamp(tc.n, 4, 50); got != tc.want {
			t.Fatalf("clamp(%d)=%d want=%d", tc.n, got, tc.want)
		}
	}
}
