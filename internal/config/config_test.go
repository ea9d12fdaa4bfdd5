package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected listen addr: %s", cfg.ListenAddr)
	}
	if cfg.LedgerBackend != "file" {
		t.Fatalf("unexpected ledger backend: %s", cfg.LedgerBackend)
	}
	if cfg.MaxUploadBytes() != 10*1024*1024 {
		t.Fatalf("unexpected upload cap: %d", cfg.MaxUploadBytes())
	}
	if cfg.SnapTimeout() != 10*time.Second {
		t.Fatalf("unexpected snap timeout: %v", cfg.SnapTimeout())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("LEDGER_BACKEND", "postgres")
	t.Setenv("MAX_UPLOAD_MB", "2")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("unexpected listen addr: %s", cfg.ListenAddr)
	}
	if cfg.LedgerBackend != "postgres" {
		t.Fatalf("unexpected ledger backend: %s", cfg.LedgerBackend)
	}
	if cfg.MaxUploadBytes() != 2*1024*1024 {
		t.Fatalf("unexpected upload cap: %d", cfg.MaxUploadBytes())
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("unexpected redis addr: %s", cfg.RedisAddr)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "carrier-pigeon")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown ledger backend")
	}
}

func TestLoadRejectsNonPositiveUploadCap(t *testing.T) {
	t.Setenv("MAX_UPLOAD_MB", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero upload cap")
	}
}
