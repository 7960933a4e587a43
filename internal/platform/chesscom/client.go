// Package chesscom walks the chess.com published-data API, which only exposes
// games grouped into calendar-month archives.
package chesscom

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/park285/chessledger/internal/fetch"
)

const (
	DefaultAPIBaseURL = "https://api.chess.com/pub"
	DefaultWebBaseURL = "https://www.chess.com"
)

// Cache stores immutable payloads: archives of months that have ended and move
// lists of finished games.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, raw []byte) error
}

type Client struct {
	api    *fetch.Client
	web    *fetch.Client
	cache  Cache
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Client)

func WithCache(c Cache) Option {
	return func(cl *Client) { cl.cache = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(cl *Client) {
		if now != nil {
			cl.now = now
		}
	}
}

// NewClient wires the API host (archives) and the web host (single-game
// callback used for replays). web may be nil when replays are not needed.
func NewClient(api, web *fetch.Client, opts ...Option) *Client {
	c := &Client{api: api, web: web, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListCandidateMonths returns the months the account has archives for, oldest first.
func (c *Client) ListCandidateMonths(ctx context.Context, account string) ([]Month, error) {
	var list archiveList
	if err := c.api.GetJSON(ctx, "/player/"+accountPath(account)+"/games/archives", nil, &list); err != nil {
		return nil, fmt.Errorf("list archives for %s: %w", account, err)
	}
	months := make([]Month, 0, len(list.Archives))
	for _, raw := range list.Archives {
		m, err := parseArchiveURL(raw)
		if err != nil {
			c.logger.Warn("chesscom_archive_url_skip", zap.String("url", raw), zap.Error(err))
			continue
		}
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })
	return months, nil
}

// FetchMonth returns every game in the account's archive for m.
func (c *Client) FetchMonth(ctx context.Context, account string, m Month) ([]Game, error) {
	closed := m.Before(MonthOf(c.now()))
	key := archiveKey(account, m)

	if closed && c.cache != nil {
		raw, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.Warn("chesscom_archive_cache_get", zap.String("key", key), zap.Error(err))
		} else if ok {
			if games, err := c.decodeMonth(raw, m); err == nil {
				return games, nil
			}
			c.logger.Warn("chesscom_archive_cache_corrupt", zap.String("key", key))
		}
	}

	raw, err := c.api.Get(ctx, "/player/"+accountPath(account)+"/games/"+m.String(), nil, "application/json")
	if err != nil {
		return nil, fmt.Errorf("fetch %s archive %s: %w", account, m, err)
	}
	games, err := c.decodeMonth(raw, m)
	if err != nil {
		return nil, fmt.Errorf("decode %s archive %s: %w", account, m, err)
	}

	if closed && c.cache != nil {
		if err := c.cache.Put(ctx, key, raw); err != nil {
			c.logger.Warn("chesscom_archive_cache_put", zap.String("key", key), zap.Error(err))
		}
	}
	return games, nil
}

// decodeMonth fails only when the envelope is unreadable; a malformed game
// record is logged and skipped.
func (c *Client) decodeMonth(raw []byte, m Month) ([]Game, error) {
	var arch monthArchive
	if err := json.Unmarshal(raw, &arch); err != nil {
		return nil, err
	}
	games := make([]Game, 0, len(arch.Games))
	for i, entry := range arch.Games {
		var g Game
		if err := json.Unmarshal(entry, &g); err != nil {
			c.logger.Warn("chesscom_archive_game_skip",
				zap.String("month", m.String()),
				zap.Int("index", i),
				zap.Error(err),
			)
			continue
		}
		games = append(games, g)
	}
	return games, nil
}

// FetchMoveList returns the encoded move list of a single finished game,
// addressed by its archive URL.
func (c *Client) FetchMoveList(ctx context.Context, gameURL string) (string, error) {
	if c.web == nil {
		return "", fmt.Errorf("chess.com web client not configured")
	}
	id := GameIDFromURL(gameURL)
	if id == "" {
		return "", fmt.Errorf("no game id in url %q", gameURL)
	}
	key := "chesscom:movelist:" + id
	if c.cache != nil {
		if raw, ok, err := c.cache.Get(ctx, key); err == nil && ok {
			return string(raw), nil
		}
	}
	var cb callbackGame
	if err := c.web.GetJSON(ctx, "/callback/live/game/"+url.PathEscape(id), nil, &cb); err != nil {
		return "", fmt.Errorf("fetch game %s: %w", id, err)
	}
	if c.cache != nil && cb.Game.MoveList != "" {
		if err := c.cache.Put(ctx, key, []byte(cb.Game.MoveList)); err != nil {
			c.logger.Warn("chesscom_movelist_cache_put", zap.String("game_id", id), zap.Error(err))
		}
	}
	return cb.Game.MoveList, nil
}

// GameIDFromURL returns the last path segment of a game URL.
func GameIDFromURL(gameURL string) string {
	s := strings.TrimRight(strings.TrimSpace(gameURL), "/")
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		s = s[i+1:]
	}
	return s
}

func parseArchiveURL(raw string) (Month, error) {
	parts := strings.Split(strings.TrimRight(raw, "/"), "/")
	if len(parts) < 2 {
		return Month{}, fmt.Errorf("archive url too short")
	}
	year, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return Month{}, fmt.Errorf("archive year: %w", err)
	}
	month, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || month < 1 || month > 12 {
		return Month{}, fmt.Errorf("archive month %q", parts[len(parts)-1])
	}
	return Month{Year: year, Month: time.Month(month)}, nil
}

func accountPath(account string) string {
	return url.PathEscape(strings.ToLower(strings.TrimSpace(account)))
}

func archiveKey(account string, m Month) string {
	return "chesscom:archive:" + strings.ToLower(strings.TrimSpace(account)) + ":" + m.String()
}
