package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/park285/chessledger/internal/domain"
	"github.com/park285/chessledger/internal/platform/chesscom"
	"github.com/park285/chessledger/internal/platform/lichess"
	"github.com/park285/chessledger/internal/store"
)

var (
	syncNow  = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	may2024  = chesscom.Month{Year: 2024, Month: time.May}
	apr2024  = chesscom.Month{Year: 2024, Month: time.April}
	errFetch = errors.New("upstream exploded")
)

type fakeArchive struct {
	months    map[chesscom.Month][]chesscom.Game
	errs      map[chesscom.Month]error
	list      []chesscom.Month
	requested []chesscom.Month
}

func (f *fakeArchive) ListCandidateMonths(ctx context.Context, account string) ([]chesscom.Month, error) {
	return f.list, nil
}

func (f *fakeArchive) FetchMonth(ctx context.Context, account string, m chesscom.Month) ([]chesscom.Game, error) {
	f.requested = append(f.requested, m)
	if err := f.errs[m]; err != nil {
		return nil, err
	}
	return f.months[m], nil
}

type fakeStream struct {
	games   []lichess.Game
	err     error
	queries []lichess.Query
}

func (f *fakeStream) FetchSince(ctx context.Context, account string, q lichess.Query) ([]lichess.Game, error) {
	f.queries = append(f.queries, q)
	return f.games, f.err
}

type failingStore struct {
	*store.Memory
}

func (failingStore) UpsertGames(ctx context.Context, games []domain.Game, key store.ConflictKey) (int, error) {
	return 0, errors.New("disk full")
}

func monthGames(m chesscom.Month, n int, timeClass string) []chesscom.Game {
	out := make([]chesscom.Game, 0, n)
	for i := 0; i < n; i++ {
		end := time.Date(m.Year, m.Month, 1+i%28, 10, i, 0, 0, time.UTC)
		out = append(out, chesscom.Game{
			URL:       fmt.Sprintf("https://www.chess.com/game/live/%d%02d%03d", m.Year, m.Month, i),
			EndTime:   end.Unix(),
			TimeClass: timeClass,
			White:     chesscom.Player{Username: "carol", Rating: 1500, Result: "win"},
			Black:     chesscom.Player{Username: "dave", Rating: 1490, Result: "resigned"},
		})
	}
	return out
}

func newCollection(t *testing.T, repo *store.Memory, p domain.Platform, tc domain.TimeClass) *domain.Collection {
	t.Helper()
	c := &domain.Collection{ID: "col-" + string(p), OwnerID: "owner", Platform: p, Account: "carol", TimeClass: tc}
	if err := repo.CreateCollection(context.Background(), c); err != nil {
		t.Fatalf("create collection: %v", err)
	}
	return c
}

func newOrchestrator(repo store.Repository, cc ArchiveSource, li StreamSource, cfg Config) *Orchestrator {
	return New(repo, cc, li, WithClock(func() time.Time { return syncNow }), WithConfig(cfg))
}

func TestFirstChesscomSyncPullsPreviousMonthWhenSparse(t *testing.T) {
	repo := store.NewMemory()
	c := newCollection(t, repo, domain.PlatformChesscom, domain.TimeClassAny)
	src := &fakeArchive{months: map[chesscom.Month][]chesscom.Game{
		may2024: monthGames(may2024, 10, "blitz"),
		apr2024: monthGames(apr2024, 3, "blitz"),
	}}

	rep, err := newOrchestrator(repo, src, nil, DefaultConfig()).Sync(context.Background(), c)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(src.requested) != 2 || src.requested[0] != may2024 || src.requested[1] != apr2024 {
		t.Fatalf("expected current then previous month, got %v", src.requested)
	}
	if rep.Seen != 13 || rep.Inserted != 13 {
		t.Fatalf("expected 13 seen/inserted, got %d/%d", rep.Seen, rep.Inserted)
	}
	wm, _ := repo.ReadWatermark(context.Background(), c.ID)
	if wm == nil || !wm.Equal(syncNow) || !rep.WatermarkAdvanced {
		t.Fatalf("expected watermark at sync start, got %v", wm)
	}
}

func TestFirstChesscomSyncSkipsPreviousMonthWhenBusy(t *testing.T) {
	repo := store.NewMemory()
	c := newCollection(t, repo, domain.PlatformChesscom, domain.TimeClassAny)
	src := &fakeArchive{months: map[chesscom.Month][]chesscom.Game{
		may2024: monthGames(may2024, 30, "blitz"),
	}}

	if _, err := newOrchestrator(repo, src, nil, DefaultConfig()).Sync(context.Background(), c); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(src.requested) != 1 || src.requested[0] != may2024 {
		t.Fatalf("expected only the current month, got %v", src.requested)
	}
}

func TestChesscomWatermarkFiltersOlderGames(t *testing.T) {
	repo := store.NewMemory()
	c := newCollection(t, repo, domain.PlatformChesscom, domain.TimeClassAny)
	watermark := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	_ = repo.AdvanceWatermark(context.Background(), c.ID, watermark)

	games := []chesscom.Game{
		{URL: "https://www.chess.com/game/live/old", EndTime: watermark.Add(-time.Hour).Unix()},
		{URL: "https://www.chess.com/game/live/edge", EndTime: watermark.Unix()},
		{URL: "https://www.chess.com/game/live/new", EndTime: watermark.Add(time.Hour).Unix()},
	}
	src := &fakeArchive{months: map[chesscom.Month][]chesscom.Game{may2024: games}}

	rep, err := newOrchestrator(repo, src, nil, DefaultConfig()).Sync(context.Background(), c)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if rep.Inserted != 1 {
		t.Fatalf("expected only the game after the watermark, got %d", rep.Inserted)
	}
	if len(src.requested) != 1 {
		t.Fatalf("watermark in current month must not pull previous month, got %v", src.requested)
	}
}

func TestChesscomWatermarkInEarlierMonthPullsPrevious(t *testing.T) {
	repo := store.NewMemory()
	c := newCollection(t, repo, domain.PlatformChesscom, domain.TimeClassAny)
	_ = repo.AdvanceWatermark(context.Background(), c.ID, time.Date(2024, 4, 28, 0, 0, 0, 0, time.UTC))
	src := &fakeArchive{months: map[chesscom.Month][]chesscom.Game{}}

	if _, err := newOrchestrator(repo, src, nil, DefaultConfig()).Sync(context.Background(), c); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(src.requested) != 2 || src.requested[1] != apr2024 {
		t.Fatalf("expected previous month window, got %v", src.requested)
	}
}

func TestTimeClassFilter(t *testing.T) {
	repo := store.NewMemory()
	c := newCollection(t, repo, domain.PlatformChesscom, domain.TimeClassBlitz)
	games := append(monthGames(may2024, 30, "bullet")[:2], monthGames(may2024, 30, "blitz")[2:5]...)
	src := &fakeArchive{months: map[chesscom.Month][]chesscom.Game{may2024: games}}

	rep, err := newOrchestrator(repo, src, nil, DefaultConfig()).Sync(context.Background(), c)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	// current month had 5 archive entries, so April is requested too
	if rep.Inserted != 3 {
		t.Fatalf("expected 3 blitz games, got %d", rep.Inserted)
	}
}

func TestFailedWindowDoesNotAbortOthers(t *testing.T) {
	repo := store.NewMemory()
	c := newCollection(t, repo, domain.PlatformChesscom, domain.TimeClassAny)
	src := &fakeArchive{
		months: map[chesscom.Month][]chesscom.Game{apr2024: monthGames(apr2024, 4, "rapid")},
		errs:   map[chesscom.Month]error{may2024: errFetch},
	}

	rep, err := newOrchestrator(repo, src, nil, DefaultConfig()).Sync(context.Background(), c)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if rep.Failed() != 1 || !errors.Is(rep.Windows[0].Err, errFetch) {
		t.Fatalf("expected the current month window to fail, got %+v", rep.Windows)
	}
	if rep.Inserted != 4 || !rep.WatermarkAdvanced {
		t.Fatalf("expected previous month persisted and watermark advanced, got %+v", rep)
	}
}

func TestWatermarkUnchangedWhenEveryWindowFails(t *testing.T) {
	repo := store.NewMemory()
	c := newCollection(t, repo, domain.PlatformChesscom, domain.TimeClassAny)
	src := &fakeArchive{errs: map[chesscom.Month]error{may2024: errFetch, apr2024: errFetch}}

	rep, err := newOrchestrator(repo, src, nil, DefaultConfig()).Sync(context.Background(), c)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if rep.WatermarkAdvanced || rep.Failed() != 2 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if wm, _ := repo.ReadWatermark(context.Background(), c.ID); wm != nil {
		t.Fatalf("watermark must stay empty, got %v", wm)
	}
}

func TestPersistFailureKeepsWatermark(t *testing.T) {
	mem := store.NewMemory()
	c := newCollection(t, mem, domain.PlatformLichess, domain.TimeClassAny)
	src := &fakeStream{games: []lichess.Game{{ID: "abcd1234", CreatedAt: syncNow.Add(-time.Hour).UnixMilli()}}}

	rep, err := newOrchestrator(failingStore{mem}, nil, src, DefaultConfig()).Sync(context.Background(), c)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if rep.Failed() != 1 || rep.WatermarkAdvanced {
		t.Fatalf("expected persist failure recorded, got %+v", rep)
	}
	if wm, _ := mem.ReadWatermark(context.Background(), c.ID); wm != nil {
		t.Fatalf("watermark must stay empty, got %v", wm)
	}
}

func TestLichessSyncIsIdempotent(t *testing.T) {
	repo := store.NewMemory()
	c := newCollection(t, repo, domain.PlatformLichess, domain.TimeClassRapid)
	src := &fakeStream{games: []lichess.Game{
		{ID: "aaaa1111", Speed: "rapid", CreatedAt: syncNow.Add(-2 * time.Hour).UnixMilli()},
		{ID: "bbbb2222", Speed: "rapid", CreatedAt: syncNow.Add(-time.Hour).UnixMilli()},
	}}
	o := newOrchestrator(repo, nil, src, Config{LichessMax: 500})

	first, err := o.Sync(context.Background(), c)
	if err != nil || first.Inserted != 2 {
		t.Fatalf("first sync: %+v, %v", first, err)
	}
	second, err := o.Sync(context.Background(), c)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if second.Seen != 2 || second.Inserted != 0 {
		t.Fatalf("expected duplicates skipped, got %d/%d", second.Seen, second.Inserted)
	}
	if n, _ := repo.CountGames(context.Background(), c.ID); n != 2 {
		t.Fatalf("expected 2 stored games, got %d", n)
	}

	if src.queries[0].Since != nil {
		t.Fatalf("first sync must not send since")
	}
	q := src.queries[1]
	if q.Since == nil || !q.Since.Equal(syncNow) || q.TimeClass != domain.TimeClassRapid || q.Max != lichess.MaxPageSize {
		t.Fatalf("unexpected second query %+v", q)
	}
}

func TestLichessTimeClassFilteredLocally(t *testing.T) {
	repo := store.NewMemory()
	c := newCollection(t, repo, domain.PlatformLichess, domain.TimeClassRapid)
	src := &fakeStream{games: []lichess.Game{
		{ID: "rapid001", Speed: "rapid", CreatedAt: syncNow.Add(-2 * time.Hour).UnixMilli()},
		{ID: "bullet01", Speed: "bullet", CreatedAt: syncNow.Add(-time.Hour).UnixMilli()},
	}}

	rep, err := newOrchestrator(repo, nil, src, DefaultConfig()).Sync(context.Background(), c)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if rep.Seen != 2 || rep.Inserted != 1 {
		t.Fatalf("expected only the rapid game stored, got %d/%d", rep.Seen, rep.Inserted)
	}
	games, _ := repo.ListGames(context.Background(), c.ID, 10)
	if len(games) != 1 || games[0].LichessGameID != "rapid001" {
		t.Fatalf("unexpected stored games %+v", games)
	}
}

// forgetfulStore reports no watermark, as two syncs racing from a fresh
// collection would both observe.
type forgetfulStore struct {
	*store.Memory
}

func (forgetfulStore) ReadWatermark(ctx context.Context, collectionID string) (*time.Time, error) {
	return nil, nil
}

func TestChesscomSyncIsIdempotentWithoutWatermark(t *testing.T) {
	mem := store.NewMemory()
	c := newCollection(t, mem, domain.PlatformChesscom, domain.TimeClassAny)
	newSource := func() *fakeArchive {
		return &fakeArchive{months: map[chesscom.Month][]chesscom.Game{
			may2024: monthGames(may2024, 6, "blitz"),
			apr2024: monthGames(apr2024, 4, "blitz"),
		}}
	}

	first, err := newOrchestrator(forgetfulStore{mem}, newSource(), nil, DefaultConfig()).Sync(context.Background(), c)
	if err != nil || first.Inserted != 10 {
		t.Fatalf("first sync: %+v, %v", first, err)
	}
	second, err := newOrchestrator(forgetfulStore{mem}, newSource(), nil, DefaultConfig()).Sync(context.Background(), c)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if second.Seen != 10 || second.Inserted != 0 || !second.WatermarkAdvanced {
		t.Fatalf("expected replayed games skipped by URL, got %+v", second)
	}
	if n, _ := mem.CountGames(context.Background(), c.ID); n != 10 {
		t.Fatalf("expected 10 stored games, got %d", n)
	}
}

func TestEmptyWindowStillAdvancesWatermark(t *testing.T) {
	repo := store.NewMemory()
	c := newCollection(t, repo, domain.PlatformLichess, domain.TimeClassAny)

	rep, err := newOrchestrator(repo, nil, &fakeStream{}, DefaultConfig()).Sync(context.Background(), c)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !rep.WatermarkAdvanced || rep.Seen != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestVerifyArchivesSkipsMissingMonths(t *testing.T) {
	repo := store.NewMemory()
	c := newCollection(t, repo, domain.PlatformChesscom, domain.TimeClassAny)
	src := &fakeArchive{
		list:   []chesscom.Month{apr2024},
		months: map[chesscom.Month][]chesscom.Game{apr2024: monthGames(apr2024, 2, "blitz")},
	}
	cfg := DefaultConfig()
	cfg.VerifyArchives = true

	rep, err := newOrchestrator(repo, src, nil, cfg).Sync(context.Background(), c)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(src.requested) != 1 || src.requested[0] != apr2024 || rep.Inserted != 2 {
		t.Fatalf("expected only April fetched, got %v (%+v)", src.requested, rep)
	}
}

func TestNoListedMonthsIsNotAFailure(t *testing.T) {
	repo := store.NewMemory()
	c := newCollection(t, repo, domain.PlatformChesscom, domain.TimeClassAny)
	src := &fakeArchive{list: []chesscom.Month{{Year: 2023, Month: time.January}}}
	cfg := DefaultConfig()
	cfg.VerifyArchives = true

	rep, err := newOrchestrator(repo, src, nil, cfg).Sync(context.Background(), c)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(src.requested) != 0 || len(rep.Windows) != 0 || rep.Failed() != 0 {
		t.Fatalf("expected no windows, got %v (%+v)", src.requested, rep)
	}
	if rep.WatermarkAdvanced {
		t.Fatalf("watermark needs a persisted window")
	}
}

func TestSyncPreconditions(t *testing.T) {
	repo := store.NewMemory()
	o := newOrchestrator(repo, &fakeArchive{}, nil, DefaultConfig())
	ctx := context.Background()

	if _, err := o.Sync(ctx, nil); !errors.Is(err, ErrNilCollection) {
		t.Fatalf("expected ErrNilCollection, got %v", err)
	}
	if _, err := o.Sync(ctx, &domain.Collection{ID: "m"}); !errors.Is(err, ErrNoPlatform) {
		t.Fatalf("expected ErrNoPlatform, got %v", err)
	}
	if _, err := o.Sync(ctx, &domain.Collection{ID: "x", Platform: domain.PlatformChesscom}); !errors.Is(err, ErrNoAccount) {
		t.Fatalf("expected ErrNoAccount, got %v", err)
	}
	if _, err := o.Sync(ctx, &domain.Collection{ID: "l", Platform: domain.PlatformLichess, Account: "carol"}); !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
	if _, err := o.SyncByID(ctx, "missing"); !errors.Is(err, store.ErrCollectionNotFound) {
		t.Fatalf("expected ErrCollectionNotFound, got %v", err)
	}
}

func TestInitialImportKeepsNewestGames(t *testing.T) {
	repo := store.NewMemory()
	c := newCollection(t, repo, domain.PlatformChesscom, domain.TimeClassAny)
	src := &fakeArchive{months: map[chesscom.Month][]chesscom.Game{may2024: monthGames(may2024, 8, "blitz")}}

	rep, err := newOrchestrator(repo, src, nil, DefaultConfig()).InitialImport(context.Background(), c)
	if err != nil {
		t.Fatalf("InitialImport: %v", err)
	}
	if rep.Inserted != 5 || !rep.WatermarkAdvanced {
		t.Fatalf("expected 5 newest games, got %+v", rep)
	}
	games, _ := repo.ListGames(context.Background(), c.ID, 10)
	oldestKept := time.Date(2024, 5, 4, 10, 3, 0, 0, time.UTC)
	for _, g := range games {
		if g.EndedAt.Before(oldestKept) {
			t.Fatalf("kept an old game ending %v", g.EndedAt)
		}
	}

	li := &fakeStream{}
	lc := newCollection(t, repo, domain.PlatformLichess, domain.TimeClassBullet)
	if _, err := newOrchestrator(repo, nil, li, DefaultConfig()).InitialImport(context.Background(), lc); err != nil {
		t.Fatalf("InitialImport lichess: %v", err)
	}
	if q := li.queries[0]; q.Max != 5 || q.TimeClass != domain.TimeClassBullet || q.Since != nil {
		t.Fatalf("unexpected initial query %+v", q)
	}
}
