package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/park285/chessledger/internal/domain"
)

//go:embed schema.sql
var schema string

// Postgres is the lib/pq backed Repository.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects, sizes the pool and pings once.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// Migrate creates the tables and indexes when they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const gameColumns = `
	collection_id,
	site,
	url,
	lichess_game_id,
	game_dttm,
	eco,
	fen,
	time_control,
	clock_initial,
	clock_increment,
	white_username,
	black_username,
	white_rating,
	black_rating,
	white_result,
	black_result,
	winner,
	notes`

const gameValues = `$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18`

func gameArgs(g *domain.Game) []any {
	white, black, winner := flattenOutcome(g.Outcome)
	var ended any
	if !g.EndedAt.IsZero() {
		ended = g.EndedAt.UTC()
	}
	return []any{
		g.CollectionID,
		nullString(string(g.Platform)),
		nullString(g.URL),
		nullString(g.LichessGameID),
		ended,
		nullString(g.Opening),
		nullString(g.FEN),
		nullString(g.TimeControl),
		nullInt(g.ClockInitial),
		nullInt(g.ClockIncrement),
		nullString(g.WhiteName),
		nullString(g.BlackName),
		nullInt(g.WhiteRating),
		nullInt(g.BlackRating),
		nullString(white),
		nullString(black),
		nullString(winner),
		nullString(g.Notes),
	}
}

func (p *Postgres) UpsertGames(ctx context.Context, games []domain.Game, key ConflictKey) (int, error) {
	var target string
	switch key {
	case ConflictByURL:
		target = "(collection_id, url)"
	case ConflictByLichessID:
		target = "(collection_id, lichess_game_id)"
	default:
		return 0, fmt.Errorf("unsupported conflict key %d", key)
	}
	if len(games) == 0 {
		return 0, nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO games (`+gameColumns+`)
		VALUES (`+gameValues+`)
		ON CONFLICT `+target+` DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range games {
		g := &games[i]
		if identityFor(g, key) == "" {
			continue
		}
		res, err := stmt.ExecContext(ctx, gameArgs(g)...)
		if err != nil {
			return 0, fmt.Errorf("insert game %s: %w", identityFor(g, key), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return inserted, nil
}

func (p *Postgres) AdvanceWatermark(ctx context.Context, collectionID string, at time.Time) error {
	const query = `
		UPDATE collections
		SET last_refreshed = GREATEST(COALESCE(last_refreshed, $2), $2)
		WHERE id = $1`
	res, err := p.db.ExecContext(ctx, query, collectionID, at.UTC())
	if err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrCollectionNotFound
	}
	return nil
}

func (p *Postgres) ReadWatermark(ctx context.Context, collectionID string) (*time.Time, error) {
	var ts sql.NullTime
	err := p.db.QueryRowContext(ctx, `SELECT last_refreshed FROM collections WHERE id = $1`, collectionID).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCollectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read watermark: %w", err)
	}
	if !ts.Valid {
		return nil, nil
	}
	t := ts.Time.UTC()
	return &t, nil
}

func (p *Postgres) CreateCollection(ctx context.Context, c *domain.Collection) error {
	if c == nil {
		return fmt.Errorf("nil collection payload")
	}
	const query = `
		INSERT INTO collections (id, owner_id, name, site, username, time_class, last_refreshed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`
	var refreshed any
	if c.LastRefreshed != nil {
		refreshed = c.LastRefreshed.UTC()
	}
	err := p.db.QueryRowContext(ctx, query,
		c.ID,
		c.OwnerID,
		nullString(c.Name),
		nullString(string(c.Platform)),
		nullString(c.Account),
		nullString(string(c.TimeClass)),
		refreshed,
	).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert collection: %w", err)
	}
	return nil
}

const collectionColumns = `id, owner_id, name, site, username, time_class, last_refreshed, created_at`

func scanCollection(row interface{ Scan(...any) error }) (*domain.Collection, error) {
	var (
		c                               domain.Collection
		name, site, username, timeClass sql.NullString
		refreshed                       sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.OwnerID, &name, &site, &username, &timeClass, &refreshed, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Name = name.String
	c.Platform = domain.Platform(site.String)
	c.Account = username.String
	c.TimeClass = domain.TimeClass(timeClass.String)
	if refreshed.Valid {
		t := refreshed.Time.UTC()
		c.LastRefreshed = &t
	}
	return &c, nil
}

func (p *Postgres) GetCollection(ctx context.Context, id string) (*domain.Collection, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+collectionColumns+` FROM collections WHERE id = $1`, id)
	c, err := scanCollection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCollectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select collection: %w", err)
	}
	return c, nil
}

func (p *Postgres) ListSyncableCollections(ctx context.Context) ([]*domain.Collection, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+collectionColumns+`
		FROM collections
		WHERE site IS NOT NULL AND COALESCE(username, '') <> ''
		ORDER BY last_refreshed ASC NULLS FIRST, id`)
	if err != nil {
		return nil, fmt.Errorf("select syncable collections: %w", err)
	}
	defer rows.Close()

	var out []*domain.Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteCollection(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM collections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrCollectionNotFound
	}
	return nil
}

func (p *Postgres) InsertGame(ctx context.Context, g *domain.Game) (int64, error) {
	if g == nil {
		return 0, fmt.Errorf("nil game payload")
	}
	var id sql.NullInt64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO games (`+gameColumns+`)
		VALUES (`+gameValues+`)
		ON CONFLICT DO NOTHING
		RETURNING id`, gameArgs(g)...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !id.Valid) {
		return 0, ErrDuplicateGame
	}
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
			return 0, ErrCollectionNotFound
		}
		return 0, fmt.Errorf("insert game: %w", err)
	}
	g.ID = id.Int64
	return id.Int64, nil
}

func scanGame(row interface{ Scan(...any) error }) (*domain.Game, error) {
	var (
		g                                                    domain.Game
		site, url, lichessID, eco, fen, tc                   sql.NullString
		whiteName, blackName, whiteRes, blackRes, win, notes sql.NullString
		ended                                                sql.NullTime
		clockInit, clockInc, whiteRating, blackRating        sql.NullInt64
	)
	if err := row.Scan(
		&g.ID,
		&g.CollectionID,
		&site,
		&url,
		&lichessID,
		&ended,
		&eco,
		&fen,
		&tc,
		&clockInit,
		&clockInc,
		&whiteName,
		&blackName,
		&whiteRating,
		&blackRating,
		&whiteRes,
		&blackRes,
		&win,
		&notes,
		&g.CreatedAt,
	); err != nil {
		return nil, err
	}
	g.Platform = domain.Platform(site.String)
	g.URL = url.String
	g.LichessGameID = lichessID.String
	if ended.Valid {
		g.EndedAt = ended.Time.UTC()
	}
	g.Opening = eco.String
	g.FEN = fen.String
	g.TimeControl = tc.String
	g.ClockInitial = intPtr(clockInit)
	g.ClockIncrement = intPtr(clockInc)
	g.WhiteName = whiteName.String
	g.BlackName = blackName.String
	g.WhiteRating = intPtr(whiteRating)
	g.BlackRating = intPtr(blackRating)
	g.Outcome = restoreOutcome(whiteRes.String, blackRes.String, win.String)
	g.Notes = notes.String
	return &g, nil
}

func (p *Postgres) GetGame(ctx context.Context, id int64) (*domain.Game, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id, `+gameColumns+`, created_at FROM games WHERE id = $1`, id)
	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select game: %w", err)
	}
	if err := p.attachTags(ctx, map[int64]*domain.Game{g.ID: g}, []int64{g.ID}); err != nil {
		return nil, err
	}
	return g, nil
}

func (p *Postgres) DeleteGame(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM games WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete game: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrGameNotFound
	}
	return nil
}

func (p *Postgres) ListGames(ctx context.Context, collectionID string, limit int) ([]*domain.Game, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, `+gameColumns+`, created_at
		FROM games
		WHERE collection_id = $1
		ORDER BY game_dttm DESC NULLS LAST, id DESC
		LIMIT $2`, collectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("select games: %w", err)
	}
	defer rows.Close()

	games := make([]*domain.Game, 0, limit)
	byID := make(map[int64]*domain.Game, limit)
	ids := make([]int64, 0, limit)
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		games = append(games, g)
		byID[g.ID] = g
		ids = append(ids, g.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := p.attachTags(ctx, byID, ids); err != nil {
		return nil, err
	}
	return games, nil
}

func (p *Postgres) attachTags(ctx context.Context, byID map[int64]*domain.Game, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT gt.game_id, t.id, t.owner_id, t.name, COALESCE(t.description, ''), t.public
		FROM game_tags gt
		JOIN tags t ON t.id = gt.tag_id
		WHERE gt.game_id = ANY($1)
		ORDER BY t.name`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("select game tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			gameID int64
			t      domain.Tag
		)
		if err := rows.Scan(&gameID, &t.ID, &t.OwnerID, &t.Name, &t.Description, &t.Public); err != nil {
			return fmt.Errorf("scan game tag: %w", err)
		}
		if g := byID[gameID]; g != nil {
			g.Tags = append(g.Tags, t)
		}
	}
	return rows.Err()
}

func (p *Postgres) CountGames(ctx context.Context, collectionID string) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM games WHERE collection_id = $1`, collectionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count games: %w", err)
	}
	return n, nil
}

func (p *Postgres) UpdateNotes(ctx context.Context, gameID int64, notes string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE games SET notes = $2 WHERE id = $1`, gameID, nullString(notes))
	if err != nil {
		return fmt.Errorf("update notes: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrGameNotFound
	}
	return nil
}

func (p *Postgres) CreateTag(ctx context.Context, t *domain.Tag) (int64, error) {
	if t == nil {
		return 0, fmt.Errorf("nil tag payload")
	}
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO tags (name, description, owner_id, public)
		VALUES ($1, $2, $3, $4)
		RETURNING id`, t.Name, nullString(t.Description), t.OwnerID, t.Public).Scan(&t.ID)
	if err != nil {
		return 0, fmt.Errorf("insert tag: %w", err)
	}
	return t.ID, nil
}

func (p *Postgres) AttachTag(ctx context.Context, gameID, tagID int64) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO game_tags (game_id, tag_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, gameID, tagID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
			if strings.Contains(pqErr.Constraint, "tag_id") {
				return ErrTagNotFound
			}
			return ErrGameNotFound
		}
		return fmt.Errorf("attach tag: %w", err)
	}
	return nil
}

func (p *Postgres) DetachTags(ctx context.Context, gameID int64, tagIDs []int64) error {
	if len(tagIDs) == 0 {
		return nil
	}
	_, err := p.db.ExecContext(ctx, `DELETE FROM game_tags WHERE game_id = $1 AND tag_id = ANY($2)`, gameID, pq.Array(tagIDs))
	if err != nil {
		return fmt.Errorf("detach tags: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
