package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"CONFIG_FILE", "DATABASE_URL", "CHESSCOM_BASE_URL", "LICHESS_MAX_GAMES", "SYNC_INTERVAL_SEC"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChesscomBaseURL != "https://api.chess.com/pub" || cfg.LichessMaxGames != 100 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.SyncInterval() != 15*time.Minute {
		t.Fatalf("unexpected interval %v", cfg.SyncInterval())
	}
	if err := cfg.RequireDatabase(); err == nil {
		t.Fatalf("expected missing DATABASE_URL error")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chessledger.yaml")
	body := "redis_url: redis://file:6379/0\nsync_concurrency: 8\nchesscom_verify_archives: true\nlichess_max_games: 50\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("REDIS_URL", "redis://env:6379/1")
	t.Setenv("PLATFORM_RPS", "0.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RedisURL != "redis://env:6379/1" {
		t.Fatalf("env must win, got %q", cfg.RedisURL)
	}
	if cfg.SyncConcurrency != 8 || !cfg.ChesscomVerifyArchives || cfg.LichessMaxGames != 50 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.PlatformRPS != 0.5 {
		t.Fatalf("unexpected rps %v", cfg.PlatformRPS)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("LICHESS_MAX_GAMES", "500")
	t.Setenv("LICHESS_BASE_URL", "lichess.org")
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error")
	}
}
