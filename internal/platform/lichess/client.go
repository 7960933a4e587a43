// Package lichess reads the lichess games export, a newline-delimited JSON
// stream filtered server-side by a "since" timestamp.
package lichess

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/park285/chessledger/internal/domain"
	"github.com/park285/chessledger/internal/fetch"
)

const (
	DefaultBaseURL = "https://lichess.org"
	MaxPageSize    = 100
	ndjson         = "application/x-ndjson"
)

// Query bounds one export request.
type Query struct {
	Since     *time.Time
	TimeClass domain.TimeClass
	Max       int
}

type Client struct {
	http   *fetch.Client
	logger *zap.Logger
}

func NewClient(http *fetch.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{http: http, logger: logger}
}

// TokenHeaders returns a header provider sending the bearer token when one is set.
func TokenHeaders(token string) fetch.HeaderProvider {
	token = strings.TrimSpace(token)
	return func() map[string]string {
		if token == "" {
			return nil
		}
		return map[string]string{"Authorization": "Bearer " + token}
	}
}

// FetchSince issues a single bounded export request for the account.
func (c *Client) FetchSince(ctx context.Context, account string, q Query) ([]Game, error) {
	limit := q.Max
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	params := url.Values{}
	params.Set("max", strconv.Itoa(limit))
	if q.Since != nil {
		params.Set("since", strconv.FormatInt(q.Since.UnixMilli(), 10))
	}
	params.Set("moves", "false")
	params.Set("opening", "true")
	params.Set("lastFen", "true")
	if q.TimeClass != domain.TimeClassAny {
		params.Set("perfType", string(q.TimeClass))
	}

	path := "/api/games/user/" + url.PathEscape(strings.TrimSpace(account))
	body, err := c.http.Get(ctx, path, params, ndjson)
	if err != nil {
		return nil, fmt.Errorf("export games for %s: %w", account, err)
	}
	games, skipped := ParseNDJSON(body, c.logger)
	c.logger.Debug("lichess_export",
		zap.String("account", account),
		zap.Int("bytes", len(body)),
		zap.Int("games", len(games)),
		zap.Int("skipped", skipped),
	)
	return games, nil
}

// ExportGame fetches one game including its SAN move list.
func (c *Client) ExportGame(ctx context.Context, id string) (*Game, error) {
	params := url.Values{}
	params.Set("moves", "true")
	params.Set("opening", "true")
	params.Set("lastFen", "true")
	var g Game
	if err := c.http.GetJSON(ctx, "/game/export/"+url.PathEscape(strings.TrimSpace(id)), params, &g); err != nil {
		return nil, fmt.Errorf("export game %s: %w", id, err)
	}
	return &g, nil
}

// ParseNDJSON decodes one game per line. Blank lines are ignored; lines that
// fail to decode are logged and skipped.
func ParseNDJSON(body []byte, logger *zap.Logger) ([]Game, int) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		games   []Game
		skipped int
		line    int
	)
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var g Game
		if err := json.Unmarshal(raw, &g); err != nil {
			skipped++
			logger.Warn("lichess_ndjson_skip", zap.Int("line", line), zap.Error(err))
			continue
		}
		games = append(games, g)
	}
	if err := sc.Err(); err != nil {
		logger.Warn("lichess_ndjson_truncated", zap.Int("line", line), zap.Error(err))
	}
	return games, skipped
}
