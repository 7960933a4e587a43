// Package ingest pulls new games for platform-linked collections and
// persists them idempotently behind a per-collection watermark.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chessledger/internal/domain"
	"github.com/park285/chessledger/internal/metrics"
	"github.com/park285/chessledger/internal/platform/chesscom"
	"github.com/park285/chessledger/internal/platform/lichess"
	"github.com/park285/chessledger/internal/store"
)

var (
	ErrNilCollection = errors.New("nil collection")
	ErrNoPlatform    = errors.New("collection is not linked to a platform")
	ErrNoAccount     = errors.New("collection has no platform account")
	ErrNoSource      = errors.New("no adapter configured for platform")
)

// ArchiveSource is the month-archive side of chess.com.
type ArchiveSource interface {
	ListCandidateMonths(ctx context.Context, account string) ([]chesscom.Month, error)
	FetchMonth(ctx context.Context, account string, m chesscom.Month) ([]chesscom.Game, error)
}

// StreamSource is the lichess export stream.
type StreamSource interface {
	FetchSince(ctx context.Context, account string, q lichess.Query) ([]lichess.Game, error)
}

type Config struct {
	// SparseMonthThreshold: on a first sync, a current month with fewer games
	// than this also pulls the previous month.
	SparseMonthThreshold int
	// VerifyArchives consults the archive list before fetching months.
	VerifyArchives    bool
	LichessMax        int
	InitialImportSize int
}

func DefaultConfig() Config {
	return Config{
		SparseMonthThreshold: 25,
		LichessMax:           lichess.MaxPageSize,
		InitialImportSize:    5,
	}
}

type Orchestrator struct {
	store    store.Repository
	chesscom ArchiveSource
	lichess  StreamSource
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Orchestrator)

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		def := DefaultConfig()
		if cfg.SparseMonthThreshold <= 0 {
			cfg.SparseMonthThreshold = def.SparseMonthThreshold
		}
		if cfg.LichessMax <= 0 || cfg.LichessMax > lichess.MaxPageSize {
			cfg.LichessMax = def.LichessMax
		}
		if cfg.InitialImportSize <= 0 {
			cfg.InitialImportSize = def.InitialImportSize
		}
		o.cfg = cfg
	}
}

// New wires the orchestrator. Either source may be nil when the platform is
// not configured; syncing such a collection returns ErrNoSource.
func New(repo store.Repository, cc ArchiveSource, li StreamSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    repo,
		chesscom: cc,
		lichess:  li,
		cfg:      DefaultConfig(),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WindowResult describes one fetch window of a sync.
type WindowResult struct {
	Label    string
	Seen     int
	Inserted int
	Err      error
}

// Report summarises one sync run.
type Report struct {
	CollectionID      string
	Platform          domain.Platform
	StartedAt         time.Time
	Seen              int
	Inserted          int
	Windows           []WindowResult
	WatermarkAdvanced bool
}

// Failed counts windows that were skipped because of an error.
func (r *Report) Failed() int {
	n := 0
	for _, w := range r.Windows {
		if w.Err != nil {
			n++
		}
	}
	return n
}

func (r *Report) anyPersisted() bool {
	for _, w := range r.Windows {
		if w.Err == nil {
			return true
		}
	}
	return false
}

// SyncByID loads the collection and syncs it.
func (o *Orchestrator) SyncByID(ctx context.Context, collectionID string) (*Report, error) {
	c, err := o.store.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("load collection %s: %w", collectionID, err)
	}
	return o.Sync(ctx, c)
}

// Sync fetches games newer than the collection's watermark and persists them.
// A failing window is logged and recorded in the report without stopping the
// remaining windows. The watermark moves to the sync start time only when at
// least one window persisted cleanly.
func (o *Orchestrator) Sync(ctx context.Context, c *domain.Collection) (*Report, error) {
	if err := o.checkCollection(c); err != nil {
		return nil, err
	}
	started := o.now().UTC()
	rep := &Report{CollectionID: c.ID, Platform: c.Platform, StartedAt: started}

	watermark, err := o.store.ReadWatermark(ctx, c.ID)
	if err != nil {
		metrics.SyncRuns.WithLabelValues(string(c.Platform), "error").Inc()
		return nil, fmt.Errorf("read watermark: %w", err)
	}

	switch c.Platform {
	case domain.PlatformChesscom:
		o.syncChesscom(ctx, c, watermark, started, rep)
	case domain.PlatformLichess:
		o.runLichess(ctx, c, lichess.Query{Since: watermark, TimeClass: c.TimeClass, Max: o.cfg.LichessMax}, "since", rep)
	}

	return rep, o.finish(ctx, c, rep)
}

func (o *Orchestrator) checkCollection(c *domain.Collection) error {
	if c == nil {
		return ErrNilCollection
	}
	switch c.Platform {
	case domain.PlatformChesscom:
		if o.chesscom == nil {
			return fmt.Errorf("%w: %s", ErrNoSource, c.Platform)
		}
	case domain.PlatformLichess:
		if o.lichess == nil {
			return fmt.Errorf("%w: %s", ErrNoSource, c.Platform)
		}
	case domain.PlatformNone:
		return ErrNoPlatform
	default:
		return fmt.Errorf("%w: %q", ErrNoPlatform, c.Platform)
	}
	if strings.TrimSpace(c.Account) == "" {
		return ErrNoAccount
	}
	return nil
}

// finish advances the watermark and records the run.
func (o *Orchestrator) finish(ctx context.Context, c *domain.Collection, rep *Report) error {
	platform := string(c.Platform)
	metrics.SyncDuration.WithLabelValues(platform).Observe(o.now().Sub(rep.StartedAt).Seconds())

	if len(rep.Windows) == 0 {
		// archive list had neither month: nothing to fetch, nothing failed
		metrics.SyncRuns.WithLabelValues(platform, "ok").Inc()
		o.logger.Info("ingest_sync_no_windows", zap.String("collection", c.ID), zap.String("platform", platform))
		return nil
	}
	if !rep.anyPersisted() {
		metrics.SyncRuns.WithLabelValues(platform, "failed").Inc()
		o.logger.Warn("ingest_sync_failed",
			zap.String("collection", c.ID),
			zap.String("platform", platform),
			zap.Int("windows", len(rep.Windows)),
		)
		return nil
	}
	if err := o.store.AdvanceWatermark(ctx, c.ID, rep.StartedAt); err != nil {
		metrics.SyncRuns.WithLabelValues(platform, "error").Inc()
		o.logger.Error("ingest_watermark_error", zap.String("collection", c.ID), zap.Error(err))
		return fmt.Errorf("advance watermark: %w", err)
	}
	rep.WatermarkAdvanced = true

	result := "ok"
	if rep.Failed() > 0 {
		result = "partial"
	}
	metrics.SyncRuns.WithLabelValues(platform, result).Inc()
	o.logger.Info("ingest_sync_done",
		zap.String("collection", c.ID),
		zap.String("platform", platform),
		zap.Int("seen", rep.Seen),
		zap.Int("inserted", rep.Inserted),
		zap.Int("failed_windows", rep.Failed()),
	)
	return nil
}

func (o *Orchestrator) syncChesscom(ctx context.Context, c *domain.Collection, watermark *time.Time, started time.Time, rep *Report) {
	current := chesscom.MonthOf(started)
	previous := current.Prev()
	available := o.availableMonths(ctx, c)

	currentCount := 0
	if available == nil || available[current] {
		currentCount = o.runChesscomMonth(ctx, c, current, watermark, rep)
	}

	needPrevious := (watermark == nil && currentCount < o.cfg.SparseMonthThreshold) ||
		(watermark != nil && chesscom.MonthOf(*watermark) != current)
	if needPrevious && (available == nil || available[previous]) {
		o.runChesscomMonth(ctx, c, previous, watermark, rep)
	}
}

// availableMonths returns nil when verification is off or the archive list
// could not be read; callers then fetch months unconditionally.
func (o *Orchestrator) availableMonths(ctx context.Context, c *domain.Collection) map[chesscom.Month]bool {
	if !o.cfg.VerifyArchives {
		return nil
	}
	months, err := o.chesscom.ListCandidateMonths(ctx, c.Account)
	if err != nil {
		o.logger.Warn("ingest_archive_list_error", zap.String("collection", c.ID), zap.Error(err))
		return nil
	}
	set := make(map[chesscom.Month]bool, len(months))
	for _, m := range months {
		set[m] = true
	}
	return set
}

// runChesscomMonth processes one month window and returns how many games the
// archive held before filtering.
func (o *Orchestrator) runChesscomMonth(ctx context.Context, c *domain.Collection, m chesscom.Month, watermark *time.Time, rep *Report) int {
	label := "chesscom:" + m.String()
	raw, err := o.chesscom.FetchMonth(ctx, c.Account, m)
	if err != nil {
		o.windowFailed(c, rep, WindowResult{Label: label, Err: err}, "fetch")
		return 0
	}
	games := make([]domain.Game, 0, len(raw))
	for _, g := range raw {
		if watermark != nil && !g.EndedAt().After(*watermark) {
			continue
		}
		if !chesscom.MatchesTimeClass(g, c.TimeClass) {
			continue
		}
		games = append(games, chesscom.Normalize(g, c.ID))
	}
	o.persist(ctx, c, rep, label, len(raw), games)
	return len(raw)
}

func (o *Orchestrator) runLichess(ctx context.Context, c *domain.Collection, q lichess.Query, label string, rep *Report) {
	label = "lichess:" + label
	raw, err := o.lichess.FetchSince(ctx, c.Account, q)
	if err != nil {
		o.windowFailed(c, rep, WindowResult{Label: label, Err: err}, "fetch")
		return
	}
	games := make([]domain.Game, 0, len(raw))
	for _, g := range raw {
		if !lichess.MatchesTimeClass(g, c.TimeClass) {
			continue
		}
		games = append(games, lichess.Normalize(g, c.ID))
	}
	o.persist(ctx, c, rep, label, len(raw), games)
}

func (o *Orchestrator) persist(ctx context.Context, c *domain.Collection, rep *Report, label string, seen int, games []domain.Game) {
	platform := string(c.Platform)
	metrics.SyncGamesSeen.WithLabelValues(platform).Add(float64(seen))
	rep.Seen += seen

	key, err := store.ConflictKeyFor(c.Platform)
	if err != nil {
		o.windowFailed(c, rep, WindowResult{Label: label, Seen: seen, Err: err}, "persist")
		return
	}
	inserted, err := o.store.UpsertGames(ctx, games, key)
	if err != nil {
		o.windowFailed(c, rep, WindowResult{Label: label, Seen: seen, Err: err}, "persist")
		return
	}
	metrics.SyncGamesInserted.WithLabelValues(platform).Add(float64(inserted))
	rep.Inserted += inserted
	rep.Windows = append(rep.Windows, WindowResult{Label: label, Seen: seen, Inserted: inserted})
	o.logger.Debug("ingest_window_done",
		zap.String("collection", c.ID),
		zap.String("window", label),
		zap.Int("seen", seen),
		zap.Int("candidates", len(games)),
		zap.Int("inserted", inserted),
	)
}

func (o *Orchestrator) windowFailed(c *domain.Collection, rep *Report, w WindowResult, stage string) {
	metrics.SyncWindowErrors.WithLabelValues(string(c.Platform), stage).Inc()
	rep.Windows = append(rep.Windows, w)
	o.logger.Warn("ingest_window_error",
		zap.String("collection", c.ID),
		zap.String("window", w.Label),
		zap.String("stage", stage),
		zap.Error(w.Err),
	)
}
