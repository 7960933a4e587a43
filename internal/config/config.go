package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/park285/chessledger/internal/platform/chesscom"
	"github.com/park285/chessledger/internal/platform/lichess"
)

type AppConfig struct {
	DatabaseURL  string `yaml:"database_url"`
	RedisURL     string `yaml:"redis_url"`
	LichessToken string `yaml:"lichess_token"`

	ChesscomBaseURL string `yaml:"chesscom_base_url"`
	ChesscomWebURL  string `yaml:"chesscom_web_url"`
	LichessBaseURL  string `yaml:"lichess_base_url"`

	HTTPTimeoutSec int     `yaml:"http_timeout_sec"`
	HTTPRetryMax   int     `yaml:"http_retry_max"`
	PlatformRPS    float64 `yaml:"platform_rps"`

	SyncIntervalSec int `yaml:"sync_interval_sec"`
	SyncConcurrency int `yaml:"sync_concurrency"`

	LichessMaxGames              int  `yaml:"lichess_max_games"`
	ChesscomSparseMonthThreshold int  `yaml:"chesscom_sparse_month_threshold"`
	ChesscomVerifyArchives       bool `yaml:"chesscom_verify_archives"`
	ArchiveCacheTTLSec           int  `yaml:"archive_cache_ttl_sec"`

	MetricsAddr string `yaml:"metrics_addr"`
	MessagesDir string `yaml:"messages_dir"`
}

func defaults() *AppConfig {
	return &AppConfig{
		ChesscomBaseURL:              chesscom.DefaultAPIBaseURL,
		ChesscomWebURL:               chesscom.DefaultWebBaseURL,
		LichessBaseURL:               lichess.DefaultBaseURL,
		HTTPTimeoutSec:               15,
		HTTPRetryMax:                 2,
		PlatformRPS:                  2,
		SyncIntervalSec:              900,
		SyncConcurrency:              4,
		LichessMaxGames:              lichess.MaxPageSize,
		ChesscomSparseMonthThreshold: 25,
		ArchiveCacheTTLSec:           30 * 24 * 3600,
		MetricsAddr:                  ":9102",
	}
}

// Load applies defaults, then the YAML file named by CONFIG_FILE, then the
// environment. Environment values win.
func Load() (*AppConfig, error) {
	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.RedisURL, "REDIS_URL")
	setString(&cfg.LichessToken, "LICHESS_TOKEN")
	setString(&cfg.ChesscomBaseURL, "CHESSCOM_BASE_URL")
	setString(&cfg.ChesscomWebURL, "CHESSCOM_WEB_URL")
	setString(&cfg.LichessBaseURL, "LICHESS_BASE_URL")
	setString(&cfg.MetricsAddr, "METRICS_ADDR")
	setString(&cfg.MessagesDir, "MESSAGES_DIR")

	setInt(&cfg.HTTPTimeoutSec, "HTTP_TIMEOUT_SEC")
	setInt(&cfg.HTTPRetryMax, "HTTP_RETRY_MAX")
	setInt(&cfg.SyncIntervalSec, "SYNC_INTERVAL_SEC")
	setInt(&cfg.SyncConcurrency, "SYNC_CONCURRENCY")
	setInt(&cfg.LichessMaxGames, "LICHESS_MAX_GAMES")
	setInt(&cfg.ChesscomSparseMonthThreshold, "CHESSCOM_SPARSE_MONTH_THRESHOLD")
	setInt(&cfg.ArchiveCacheTTLSec, "ARCHIVE_CACHE_TTL_SEC")

	if v := strings.TrimSpace(os.Getenv("PLATFORM_RPS")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.PlatformRPS = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("CHESSCOM_VERIFY_ARCHIVES")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ChesscomVerifyArchives = b
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	var errs []error
	if c.HTTPTimeoutSec <= 0 {
		errs = append(errs, errors.New("http_timeout_sec must be positive"))
	}
	if c.HTTPRetryMax < 0 {
		errs = append(errs, errors.New("http_retry_max must not be negative"))
	}
	if c.SyncIntervalSec <= 0 {
		errs = append(errs, errors.New("sync_interval_sec must be positive"))
	}
	if c.SyncConcurrency <= 0 {
		errs = append(errs, errors.New("sync_concurrency must be positive"))
	}
	if c.LichessMaxGames <= 0 || c.LichessMaxGames > lichess.MaxPageSize {
		errs = append(errs, fmt.Errorf("lichess_max_games must be within 1..%d", lichess.MaxPageSize))
	}
	if c.ChesscomSparseMonthThreshold <= 0 {
		errs = append(errs, errors.New("chesscom_sparse_month_threshold must be positive"))
	}
	for name, v := range map[string]string{
		"chesscom_base_url": c.ChesscomBaseURL,
		"chesscom_web_url":  c.ChesscomWebURL,
		"lichess_base_url":  c.LichessBaseURL,
	} {
		if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
			errs = append(errs, fmt.Errorf("%s must be an http(s) URL", name))
		}
	}
	return errors.Join(errs...)
}

// RequireDatabase is used by binaries that cannot run on the memory store.
func (c *AppConfig) RequireDatabase() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}

func (c *AppConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSec) * time.Second
}

func (c *AppConfig) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSec) * time.Second
}

func (c *AppConfig) ArchiveCacheTTL() time.Duration {
	return time.Duration(c.ArchiveCacheTTLSec) * time.Second
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
