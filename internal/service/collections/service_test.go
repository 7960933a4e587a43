package collections

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/park285/chessledger/internal/domain"
	"github.com/park285/chessledger/internal/msgcat"
	"github.com/park285/chessledger/internal/service/ingest"
	"github.com/park285/chessledger/internal/store"
)

type recordingImporter struct {
	calls []*domain.Collection
	err   error
}

func (r *recordingImporter) InitialImport(ctx context.Context, c *domain.Collection) (*ingest.Report, error) {
	r.calls = append(r.calls, c)
	return &ingest.Report{CollectionID: c.ID}, r.err
}

func newService(t *testing.T) (*Service, *store.Memory, *recordingImporter) {
	t.Helper()
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	repo := store.NewMemory()
	imp := &recordingImporter{}
	return NewService(repo, imp, cat, nil), repo, imp
}

func TestCreateValidation(t *testing.T) {
	s, _, imp := newService(t)
	ctx := context.Background()

	cases := []CreateRequest{
		{Name: "no owner"},
		{OwnerID: "u1", TimeClass: "blitz"},
		{OwnerID: "u1", Platform: "chess.com"},
		{OwnerID: "u1", Platform: "fics", Account: "carol"},
		{OwnerID: "u1", Platform: "lichess", Account: "carol", TimeClass: "hyper"},
		{OwnerID: "u1", Platform: "chess.com", Account: "carol", TimeClass: "classical"},
		{OwnerID: "u1", Platform: "chess.com", Account: "carol", TimeClass: "ultraBullet"},
	}
	for _, req := range cases {
		if _, err := s.Create(ctx, req); !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected ErrInvalid for %+v, got %v", req, err)
		}
	}
	if len(imp.calls) != 0 {
		t.Fatalf("invalid requests must not import")
	}
}

func TestCreateAcceptsLichessOnlyTimeClasses(t *testing.T) {
	s, _, _ := newService(t)
	for _, tc := range []string{"ultraBullet", "classical"} {
		c, err := s.Create(context.Background(), CreateRequest{OwnerID: "u1", Platform: "lichess", Account: "carol", TimeClass: tc})
		if err != nil {
			t.Fatalf("Create %s: %v", tc, err)
		}
		if !strings.EqualFold(string(c.TimeClass), tc) {
			t.Fatalf("unexpected time class %q", c.TimeClass)
		}
	}
}

func TestCreatePlatformCollectionRunsInitialImport(t *testing.T) {
	s, repo, imp := newService(t)
	imp.err = errors.New("chess.com is down")

	c, err := s.Create(context.Background(), CreateRequest{OwnerID: "u1", Platform: "chess.com", Account: "  carol ", TimeClass: "blitz", Name: "ignored"})
	if err != nil {
		t.Fatalf("Create must survive a failed import: %v", err)
	}
	if c.ID == "" || c.Account != "carol" || c.Name != "" {
		t.Fatalf("unexpected collection %+v", c)
	}
	if len(imp.calls) != 1 || imp.calls[0].ID != c.ID {
		t.Fatalf("expected one initial import, got %d", len(imp.calls))
	}
	if _, err := repo.GetCollection(context.Background(), c.ID); err != nil {
		t.Fatalf("collection not stored: %v", err)
	}
	if got := s.DisplayName(c); got != "carol's Chess.com blitz games" {
		t.Fatalf("unexpected display name %q", got)
	}
}

func TestDisplayName(t *testing.T) {
	s, _, _ := newService(t)
	cases := []struct {
		c    domain.Collection
		want string
	}{
		{domain.Collection{Platform: domain.PlatformLichess, Account: "dave"}, "dave's Lichess games"},
		{domain.Collection{Name: "Endgames"}, "Endgames"},
		{domain.Collection{}, "Untitled collection"},
	}
	for _, tc := range cases {
		if got := s.DisplayName(&tc.c); got != tc.want {
			t.Fatalf("expected %q, got %q", tc.want, got)
		}
	}
}

func TestManualGamesNotesAndTags(t *testing.T) {
	s, _, imp := newService(t)
	ctx := context.Background()

	c, err := s.Create(ctx, CreateRequest{OwnerID: "u1", Name: " Club games "})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(imp.calls) != 0 || c.Name != "Club games" {
		t.Fatalf("manual collection must not import, got %+v", c)
	}

	if _, err := s.AddManualGame(ctx, "u1", c.ID, ManualGame{White: "carol"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for missing player, got %v", err)
	}
	if _, err := s.AddManualGame(ctx, "u1", c.ID, ManualGame{White: "carol", Black: "dave", Winner: "nobody"}); !errors.Is(err, ErrInvalidWinner) {
		t.Fatalf("expected ErrInvalidWinner, got %v", err)
	}
	if _, err := s.AddManualGame(ctx, "u2", c.ID, ManualGame{White: "carol", Black: "dave"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	played := time.Date(2024, 3, 1, 19, 0, 0, 0, time.UTC)
	g, err := s.AddManualGame(ctx, "u1", c.ID, ManualGame{White: "carol", Black: "dave", Winner: "Draw", PlayedAt: played, URL: "https://example.org/g/1"})
	if err != nil {
		t.Fatalf("AddManualGame: %v", err)
	}
	if w, ok := g.Outcome.(domain.WinnerResult); !ok || w.Winner != domain.WinnerDraw {
		t.Fatalf("unexpected outcome %#v", g.Outcome)
	}
	if _, err := s.AddManualGame(ctx, "u1", c.ID, ManualGame{White: "x", Black: "y", URL: "https://example.org/g/1"}); !errors.Is(err, store.ErrDuplicateGame) {
		t.Fatalf("expected ErrDuplicateGame, got %v", err)
	}

	if err := s.SaveNotes(ctx, "u1", g.ID, "missed Rxf7"); err != nil {
		t.Fatalf("SaveNotes: %v", err)
	}
	if err := s.SaveNotes(ctx, "u2", g.ID, "hijack"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	tag, err := s.CreateTag(ctx, "u1", "tactics", "", false)
	if err != nil {
		t.Fatalf("CreateTag: %v", err)
	}
	if err := s.TagGame(ctx, "u1", g.ID, tag.ID); err != nil {
		t.Fatalf("TagGame: %v", err)
	}

	games, err := s.Games(ctx, "u1", c.ID, 10)
	if err != nil || len(games) != 1 {
		t.Fatalf("Games: %v (%d)", err, len(games))
	}
	if games[0].Notes != "missed Rxf7" || len(games[0].Tags) != 1 || games[0].Tags[0].Name != "tactics" {
		t.Fatalf("unexpected stored game %+v", games[0])
	}

	if err := s.UntagGame(ctx, "u1", g.ID, tag.ID); err != nil {
		t.Fatalf("UntagGame: %v", err)
	}
	if err := s.DeleteManualGame(ctx, "u1", g.ID); err != nil {
		t.Fatalf("DeleteManualGame: %v", err)
	}
	if games, _ := s.Games(ctx, "u1", c.ID, 10); len(games) != 0 {
		t.Fatalf("expected game deleted")
	}
}

func TestManualGameRejectedForPlatformCollection(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()
	c, err := s.Create(ctx, CreateRequest{OwnerID: "u1", Platform: "lichess", Account: "dave"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.AddManualGame(ctx, "u1", c.ID, ManualGame{White: "a", Black: "b"}); !errors.Is(err, ErrNotManual) {
		t.Fatalf("expected ErrNotManual, got %v", err)
	}
}
