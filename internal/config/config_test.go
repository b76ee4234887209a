package config

import (
	"testing"
	"time"
)

func setBase(t *testing.T) {
	t.Helper()
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("FEED_BACKEND", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("EMBEDDED_WORKERS", "")
	t.Setenv("WORKERS", "")
	t.Setenv("WORKER_IDLE_DELAY", "")
	t.Setenv("AUTO_RETRY", "")
	t.Setenv("CORS_ORIGINS", "")
}

func TestLoadDefaults(t *testing.T) {
	setBase(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Workers != 4 || cfg.WorkerIdleDelay != 5*time.Second {
		t.Fatalf("worker defaults mismatch: %d %v", cfg.Workers, cfg.WorkerIdleDelay)
	}
	if cfg.FeedBackend != "postgres" || cfg.AutoRetry {
		t.Fatalf("feed defaults mismatch: %q auto_retry=%v", cfg.FeedBackend, cfg.AutoRetry)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Fatalf("CORSOrigins mismatch: %#v", cfg.CORSOrigins)
	}
}

func TestLoadParsesDurationsAndLists(t *testing.T) {
	setBase(t)
	t.Setenv("WORKER_IDLE_DELAY", "250ms")
	t.Setenv("STALE_AFTER", "90")
	t.Setenv("AUTO_RETRY", "true")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.WorkerIdleDelay != 250*time.Millisecond {
		t.Fatalf("WorkerIdleDelay mismatch: %v", cfg.WorkerIdleDelay)
	}
	if cfg.StaleAfter != 90*time.Second {
		t.Fatalf("StaleAfter mismatch: %v", cfg.StaleAfter)
	}
	if !cfg.AutoRetry {
		t.Fatalf("AutoRetry not parsed")
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("CORSOrigins mismatch: %#v", cfg.CORSOrigins)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing database url", map[string]string{"DATABASE_URL": ""}},
		{"missing jwt secret", map[string]string{"JWT_SECRET": ""}},
		{"unknown driver", map[string]string{"STORE_DRIVER": "oracle"}},
		{"redis feed without addr", map[string]string{"FEED_BACKEND": "redis", "REDIS_ADDR": ""}},
		{"postgres feed on sqlite", map[string]string{"FEED_BACKEND": "postgres", "STORE_DRIVER": "sqlite"}},
		{"zero workers", map[string]string{"WORKERS": "0"}},
		{"local feed without embedded workers", map[string]string{"FEED_BACKEND": "local"}},
		{"sqlite default feed without embedded workers", map[string]string{"STORE_DRIVER": "sqlite"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setBase(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadSQLiteDefaultsDSN(t *testing.T) {
	setBase(t)
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("EMBEDDED_WORKERS", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.DatabaseURL == "" {
		t.Fatalf("expected a default sqlite DSN")
	}
}

func TestLoadDefaultFeedBackend(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"postgres store uses notify", map[string]string{}, "postgres"},
		{"mysql with redis", map[string]string{"STORE_DRIVER": "mysql", "REDIS_ADDR": "localhost:6379"}, "redis"},
		{"sqlite with embedded workers", map[string]string{"STORE_DRIVER": "sqlite", "EMBEDDED_WORKERS": "true"}, "local"},
		{"explicit local with embedded workers", map[string]string{"FEED_BACKEND": "local", "EMBEDDED_WORKERS": "true"}, "local"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setBase(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load returned error: %v", err)
			}
			if cfg.FeedBackend != tc.want {
				t.Fatalf("FeedBackend = %q, want %q", cfg.FeedBackend, tc.want)
			}
		})
	}
}

func TestValidateWorker(t *testing.T) {
	if err := (&Config{FeedBackend: "local"}).ValidateWorker(); err == nil {
		t.Fatalf("expected local feed to be rejected for a standalone worker")
	}
	for _, backend := range []string{"redis", "postgres"} {
		if err := (&Config{FeedBackend: backend}).ValidateWorker(); err != nil {
			t.Fatalf("%s: unexpected error %v", backend, err)
		}
	}
}
