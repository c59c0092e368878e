package config

import (
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if v := envInt("TEST_INT", 0); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	if v := envInt("TEST_INT_MISSING", 99); v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalidFallsBack(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	if v := envInt("TEST_INT_BAD", 7); v != 7 {
		t.Fatalf("expected fallback 7 for non-integer value, got %d", v)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	if v := envDuration("TEST_DUR", 0); v != 5*time.Second {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvListSplitsAndTrims(t *testing.T) {
	t.Setenv("TEST_LIST", "a, b ,,c")
	got := envList("TEST_LIST", nil)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestEnvFloatValid(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.25")
	if v := envFloat("TEST_FLOAT", 1.0); v != 0.25 {
		t.Fatalf("expected 0.25, got %f", v)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env development, got %s", cfg.Env)
	}
	if cfg.TokenTTL != 15*time.Minute {
		t.Fatalf("expected default token ttl 15m, got %s", cfg.TokenTTL)
	}
}

func TestLoadRejectsUnknownEnv(t *testing.T) {
	t.Setenv("KESSAI_ENV", "qa")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to fail with unknown KESSAI_ENV")
	}
}

func TestLoadRejectsWildcardCORSInProduction(t *testing.T) {
	t.Setenv("KESSAI_ENV", "production")
	t.Setenv("KESSAI_CORS_ORIGINS", "*")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to fail with wildcard CORS origin in production")
	}
}

func TestLoadRejectsOversizedTokenTTL(t *testing.T) {
	t.Setenv("KESSAI_TOKEN_TTL", "2h")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to fail with token ttl beyond 1h")
	}
}
