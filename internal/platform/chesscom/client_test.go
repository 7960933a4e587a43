package chesscom

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/park285/chessledger/internal/domain"
	"github.com/park285/chessledger/internal/fetch"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Put(_ context.Context, key string, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = append([]byte(nil), raw...)
	return nil
}

const monthBody = `{"games":[
 {"url":"https://www.chess.com/game/live/101","time_control":"180+2","end_time":1714600000,"time_class":"blitz","fen":"8/8/8/8/8/8/8/K6k w - - 0 60","eco":"https://www.chess.com/openings/Sicilian-Defense",
  "white":{"username":"alice","rating":1510,"result":"win"},"black":{"username":"bob","rating":1490,"result":"resigned"}}
]}`

func newTestServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/player/alice/games/archives", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"archives":["https://api.chess.com/pub/player/alice/games/2024/05","https://api.chess.com/pub/player/alice/games/2023/12","https://api.chess.com/pub/player/alice/games/bogus"]}`))
	})
	mux.HandleFunc("/player/alice/games/2024/05", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		_, _ = w.Write([]byte(monthBody))
	})
	mux.HandleFunc("/callback/live/game/101", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		_, _ = w.Write([]byte(`{"game":{"id":101,"moveList":"mC0K"}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestListCandidateMonthsSortsAndSkipsBadURLs(t *testing.T) {
	var hits int32
	srv := newTestServer(t, &hits)
	c := NewClient(fetch.NewClient("chesscom-test", srv.URL), nil)

	months, err := c.ListCandidateMonths(context.Background(), "Alice")
	if err != nil {
		t.Fatalf("ListCandidateMonths: %v", err)
	}
	if len(months) != 2 {
		t.Fatalf("expected 2 months, got %v", months)
	}
	if months[0] != (Month{Year: 2023, Month: time.December}) || months[1] != (Month{Year: 2024, Month: time.May}) {
		t.Fatalf("unexpected order: %v", months)
	}
}

func TestFetchMonthCachesClosedMonths(t *testing.T) {
	var hits int32
	srv := newTestServer(t, &hits)
	cache := &mapCache{}
	now := func() time.Time { return time.Date(2024, time.June, 3, 0, 0, 0, 0, time.UTC) }
	c := NewClient(fetch.NewClient("chesscom-test", srv.URL), nil, WithCache(cache), WithClock(now))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		games, err := c.FetchMonth(ctx, "alice", Month{Year: 2024, Month: time.May})
		if err != nil {
			t.Fatalf("FetchMonth: %v", err)
		}
		if len(games) != 1 || games[0].URL != "https://www.chess.com/game/live/101" {
			t.Fatalf("unexpected games: %+v", games)
		}
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected closed month to be served from cache, got %d upstream hits", hits)
	}
}

func TestFetchMonthDoesNotCacheCurrentMonth(t *testing.T) {
	var hits int32
	srv := newTestServer(t, &hits)
	cache := &mapCache{}
	now := func() time.Time { return time.Date(2024, time.May, 20, 0, 0, 0, 0, time.UTC) }
	c := NewClient(fetch.NewClient("chesscom-test", srv.URL), nil, WithCache(cache), WithClock(now))

	for i := 0; i < 2; i++ {
		if _, err := c.FetchMonth(context.Background(), "alice", Month{Year: 2024, Month: time.May}); err != nil {
			t.Fatalf("FetchMonth: %v", err)
		}
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected both fetches to reach upstream, got %d", hits)
	}
}

func TestFetchMonthSkipsMalformedGame(t *testing.T) {
	body := `{"games":[
 {"url":"https://www.chess.com/game/live/201","end_time":1714600000,"time_class":"blitz","white":{"username":"alice","result":"win"},"black":{"username":"bob","result":"resigned"}},
 {"url":"https://www.chess.com/game/live/202","end_time":"oops","time_class":"blitz"}
]}`
	var hits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/player/alice/games/2024/04", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(body))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cache := &mapCache{}
	now := func() time.Time { return time.Date(2024, time.June, 3, 0, 0, 0, 0, time.UTC) }
	c := NewClient(fetch.NewClient("chesscom-test", srv.URL), nil, WithCache(cache), WithClock(now))

	for i := 0; i < 2; i++ {
		games, err := c.FetchMonth(context.Background(), "alice", Month{Year: 2024, Month: time.April})
		if err != nil {
			t.Fatalf("FetchMonth: %v", err)
		}
		if len(games) != 1 || games[0].URL != "https://www.chess.com/game/live/201" {
			t.Fatalf("expected only the well-formed game, got %+v", games)
		}
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("cached payload with a bad record must still be served from cache, got %d hits", hits)
	}
}

func TestFetchMoveList(t *testing.T) {
	var hits int32
	srv := newTestServer(t, &hits)
	c := NewClient(nil, fetch.NewClient("chesscom-web-test", srv.URL))
	tcn, err := c.FetchMoveList(context.Background(), "https://www.chess.com/game/live/101")
	if err != nil {
		t.Fatalf("FetchMoveList: %v", err)
	}
	if tcn != "mC0K" {
		t.Fatalf("unexpected move list %q", tcn)
	}
}

func TestNormalizeKeepsSideResults(t *testing.T) {
	g := Game{
		URL: "https://www.chess.com/game/live/7", EndTime: 1700000000, TimeControl: "600",
		FEN: "fen", ECO: "eco-url",
		White: Player{Username: "w", Rating: 1000, Result: "timeout"},
		Black: Player{Username: "b", Rating: 1100, Result: "win"},
	}
	out := Normalize(g, "col-1")
	if out.Platform != domain.PlatformChesscom || out.ExternalID() != g.URL {
		t.Fatalf("unexpected identity: %+v", out)
	}
	if !out.EndedAt.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected end time %v", out.EndedAt)
	}
	res, ok := out.Outcome.(domain.SideResults)
	if !ok || res.White != "timeout" || res.Black != "win" {
		t.Fatalf("unexpected outcome %#v", out.Outcome)
	}
	if *out.WhiteRating != 1000 || *out.BlackRating != 1100 {
		t.Fatalf("unexpected ratings")
	}
}

func TestMonthPrevWrapsYear(t *testing.T) {
	m := Month{Year: 2024, Month: time.January}.Prev()
	if m != (Month{Year: 2023, Month: time.December}) {
		t.Fatalf("unexpected prev month %v", m)
	}
	if m.String() != "2023/12" {
		t.Fatalf("unexpected string %q", m.String())
	}
}
