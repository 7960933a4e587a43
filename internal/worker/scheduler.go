// Package worker runs periodic collection syncs and the metrics endpoint under
// a suture supervisor.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/chessledger/internal/domain"
	"github.com/park285/chessledger/internal/msgcat"
	"github.com/park285/chessledger/internal/service/ingest"
)

// Syncer runs one sync for one collection.
type Syncer interface {
	Sync(ctx context.Context, c *domain.Collection) (*ingest.Report, error)
}

// Lister returns the collections due for a pass.
type Lister interface {
	ListSyncableCollections(ctx context.Context) ([]*domain.Collection, error)
}

// Namer gives a collection its display name.
type Namer interface {
	DisplayName(c *domain.Collection) string
}

// Summary totals one pass over all collections.
type Summary struct {
	Collections int
	Errors      int
	Seen        int
	Inserted    int
}

// Scheduler syncs every platform collection once per interval. Within a pass
// each collection is synced at most once, and no more than Concurrency syncs
// run at the same time.
type Scheduler struct {
	syncer      Syncer
	lister      Lister
	interval    time.Duration
	concurrency int
	logger      *zap.Logger
	catalog     *msgcat.Catalog
	namer       Namer
}

type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSummaries logs a rendered sync.summary line per collection.
func WithSummaries(cat *msgcat.Catalog, namer Namer) Option {
	return func(s *Scheduler) {
		s.catalog = cat
		s.namer = namer
	}
}

func NewScheduler(syncer Syncer, lister Lister, opts ...Option) *Scheduler {
	s := &Scheduler{
		syncer:      syncer,
		lister:      lister,
		interval:    15 * time.Minute,
		concurrency: 1,
		logger:      zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RunOnce performs a single pass.
func (s *Scheduler) RunOnce(ctx context.Context) (Summary, error) {
	cols, err := s.lister.ListSyncableCollections(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list collections: %w", err)
	}

	var (
		errs, seen, inserted atomic.Int64
		g                    errgroup.Group
	)
	g.SetLimit(s.concurrency)
	for _, c := range cols {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			rep, err := s.syncer.Sync(ctx, c)
			if err == nil && rep != nil && !rep.WatermarkAdvanced && rep.Failed() > 0 {
				err = fmt.Errorf("all %d windows failed", rep.Failed())
			}
			if err != nil {
				errs.Add(1)
				s.logger.Warn("worker_sync_error", zap.String("collection", c.ID), zap.Error(err))
			}
			if rep != nil {
				seen.Add(int64(rep.Seen))
				inserted.Add(int64(rep.Inserted))
				s.summarize(c, rep)
			}
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{
		Collections: len(cols),
		Errors:      int(errs.Load()),
		Seen:        int(seen.Load()),
		Inserted:    int(inserted.Load()),
	}
	s.logger.Info("worker_pass_done",
		zap.Int("collections", sum.Collections),
		zap.Int("errors", sum.Errors),
		zap.Int("seen", sum.Seen),
		zap.Int("inserted", sum.Inserted),
	)
	return sum, ctx.Err()
}

func (s *Scheduler) summarize(c *domain.Collection, rep *ingest.Report) {
	if s.catalog == nil || s.namer == nil || rep.Inserted == 0 {
		return
	}
	line, err := s.catalog.Render("sync.summary", map[string]any{
		"Name":     s.namer.DisplayName(c),
		"Inserted": rep.Inserted,
		"Seen":     rep.Seen,
	})
	if err != nil {
		s.logger.Warn("worker_summary_render_failed", zap.Error(err))
		return
	}
	s.logger.Info("worker_sync_summary", zap.String("collection", c.ID), zap.String("summary", line))
}

// Serve implements suture.Service: a pass right away, then one per interval.
func (s *Scheduler) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("worker_pass_error", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) String() string { return "sync-scheduler" }
