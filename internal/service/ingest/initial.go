package ingest

import (
	"context"
	"sort"

	"github.com/park285/chessledger/internal/domain"
	"github.com/park285/chessledger/internal/platform/chesscom"
	"github.com/park285/chessledger/internal/platform/lichess"
)

// InitialImport seeds a freshly created collection with its newest games and
// sets the first watermark. It follows the same persistence and watermark
// rules as Sync.
func (o *Orchestrator) InitialImport(ctx context.Context, c *domain.Collection) (*Report, error) {
	if err := o.checkCollection(c); err != nil {
		return nil, err
	}
	started := o.now().UTC()
	rep := &Report{CollectionID: c.ID, Platform: c.Platform, StartedAt: started}
	limit := o.cfg.InitialImportSize

	switch c.Platform {
	case domain.PlatformChesscom:
		m := chesscom.MonthOf(started)
		label := "chesscom:" + m.String()
		raw, err := o.chesscom.FetchMonth(ctx, c.Account, m)
		if err != nil {
			o.windowFailed(c, rep, WindowResult{Label: label, Err: err}, "fetch")
			break
		}
		matched := make([]chesscom.Game, 0, len(raw))
		for _, g := range raw {
			if chesscom.MatchesTimeClass(g, c.TimeClass) {
				matched = append(matched, g)
			}
		}
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].EndTime > matched[j].EndTime })
		if len(matched) > limit {
			matched = matched[:limit]
		}
		games := make([]domain.Game, 0, len(matched))
		for _, g := range matched {
			games = append(games, chesscom.Normalize(g, c.ID))
		}
		o.persist(ctx, c, rep, label, len(raw), games)
	case domain.PlatformLichess:
		o.runLichess(ctx, c, lichess.Query{TimeClass: c.TimeClass, Max: limit}, "initial", rep)
	}

	return rep, o.finish(ctx, c, rep)
}
