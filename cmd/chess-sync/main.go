package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/park285/chessledger/internal/archivecache"
	appcfg "github.com/park285/chessledger/internal/config"
	"github.com/park285/chessledger/internal/fetch"
	"github.com/park285/chessledger/internal/msgcat"
	"github.com/park285/chessledger/internal/obslog"
	"github.com/park285/chessledger/internal/platform/chesscom"
	"github.com/park285/chessledger/internal/platform/lichess"
	"github.com/park285/chessledger/internal/service/collections"
	"github.com/park285/chessledger/internal/service/ingest"
	"github.com/park285/chessledger/internal/store"
	"github.com/park285/chessledger/internal/worker"
)

func main() {
	once := flag.Bool("once", false, "run a single sync pass and exit")
	flag.Parse()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := cfg.RequireDatabase(); err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Printf("logger init failed, using default: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db_open_failed", zap.Error(err))
	}
	defer func() { _ = repo.Close() }()
	if err := repo.Migrate(ctx); err != nil {
		logger.Fatal("db_migrate_failed", zap.Error(err))
	}

	ccOpts := []chesscom.Option{chesscom.WithLogger(logger)}
	if cfg.RedisURL != "" {
		cache, err := archivecache.Dial(ctx, cfg.RedisURL, cfg.ArchiveCacheTTL())
		if err != nil {
			// cache is optional; syncing still works without it
			logger.Warn("archive_cache_unavailable", zap.Error(err))
		} else {
			defer func() { _ = cache.Close() }()
			ccOpts = append(ccOpts, chesscom.WithCache(cache))
		}
	}

	common := []fetch.Option{
		fetch.WithTimeout(cfg.HTTPTimeout()),
		fetch.WithRetry(cfg.HTTPRetryMax),
		fetch.WithRateLimit(cfg.PlatformRPS, 1),
		fetch.WithLogger(logger),
	}
	ccAPI := fetch.NewClient("chesscom", cfg.ChesscomBaseURL, common...)
	ccWeb := fetch.NewClient("chesscom-web", cfg.ChesscomWebURL, common...)
	liHTTP := fetch.NewClient("lichess", cfg.LichessBaseURL,
		append(common, fetch.WithHeaderProvider(lichess.TokenHeaders(cfg.LichessToken)))...)

	orch := ingest.New(repo,
		chesscom.NewClient(ccAPI, ccWeb, ccOpts...),
		lichess.NewClient(liHTTP, logger),
		ingest.WithLogger(logger),
		ingest.WithConfig(ingest.Config{
			SparseMonthThreshold: cfg.ChesscomSparseMonthThreshold,
			VerifyArchives:       cfg.ChesscomVerifyArchives,
			LichessMax:           cfg.LichessMaxGames,
			InitialImportSize:    ingest.DefaultConfig().InitialImportSize,
		}),
	)

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("messages_load_failed", zap.Error(err))
	}
	names := collections.NewService(repo, orch, catalog, logger)

	sched := worker.NewScheduler(orch, repo,
		worker.WithInterval(cfg.SyncInterval()),
		worker.WithConcurrency(cfg.SyncConcurrency),
		worker.WithLogger(logger),
		worker.WithSummaries(catalog, names),
	)

	if *once {
		sum, err := sched.RunOnce(ctx)
		if err != nil {
			logger.Fatal("sync_pass_failed", zap.Error(err))
		}
		if sum.Errors > 0 {
			obslog.Sync()
			os.Exit(1)
		}
		return
	}

	sup := worker.NewSupervisor("chess-sync", worker.DefaultTreeConfig(), logger)
	sup.Add(sched)
	if cfg.MetricsAddr != "" {
		sup.Add(worker.NewMetricsServer(cfg.MetricsAddr, logger))
	}
	logger.Info("chess_sync_started",
		zap.Duration("interval", cfg.SyncInterval()),
		zap.Int("concurrency", cfg.SyncConcurrency),
	)
	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("supervisor_stopped", zap.Error(err))
	}
	logger.Info("chess_sync_stopped")
}
