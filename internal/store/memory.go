package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/park285/chessledger/internal/domain"
)

var (
	_ Repository = (*Postgres)(nil)
	_ Repository = (*Memory)(nil)
)

// Memory is an in-process Repository used when no database is configured and
// by tests. It enforces the same uniqueness rules as the schema.
type Memory struct {
	mu sync.RWMutex

	nextGameID int64
	nextTagID  int64

	collections map[string]*domain.Collection
	games       map[int64]*domain.Game
	byIdentity  map[string]int64 // collection|kind|identity -> game id
	tags        map[int64]*domain.Tag
	gameTags    map[int64]map[int64]struct{}
	now         func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]*domain.Collection),
		games:       make(map[int64]*domain.Game),
		byIdentity:  make(map[string]int64),
		tags:        make(map[int64]*domain.Tag),
		gameTags:    make(map[int64]map[int64]struct{}),
		now:         time.Now,
	}
}

func identityKey(collectionID, kind, id string) string {
	return collectionID + "|" + kind + "|" + id
}

// identityKeys lists every unique key a game occupies.
func identityKeys(g *domain.Game) []string {
	var keys []string
	if url := strings.TrimSpace(g.URL); url != "" {
		keys = append(keys, identityKey(g.CollectionID, "url", url))
	}
	if id := strings.TrimSpace(g.LichessGameID); id != "" {
		keys = append(keys, identityKey(g.CollectionID, "lichess", id))
	}
	return keys
}

// insertLocked stores g unless any of its unique keys is taken.
func (m *Memory) insertLocked(g domain.Game) (int64, bool) {
	keys := identityKeys(&g)
	for _, k := range keys {
		if _, taken := m.byIdentity[k]; taken {
			return 0, false
		}
	}
	m.nextGameID++
	g.ID = m.nextGameID
	g.Tags = nil
	if g.CreatedAt.IsZero() {
		g.CreatedAt = m.now().UTC()
	}
	m.games[g.ID] = &g
	for _, k := range keys {
		m.byIdentity[k] = g.ID
	}
	return g.ID, true
}

func (m *Memory) UpsertGames(ctx context.Context, games []domain.Game, key ConflictKey) (int, error) {
	if key != ConflictByURL && key != ConflictByLichessID {
		return 0, fmt.Errorf("unsupported conflict key %d", key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for i := range games {
		g := games[i]
		if identityFor(&g, key) == "" {
			continue
		}
		if _, ok := m.collections[g.CollectionID]; !ok {
			return 0, ErrCollectionNotFound
		}
		if _, ok := m.insertLocked(g); ok {
			inserted++
		}
	}
	return inserted, nil
}

func (m *Memory) AdvanceWatermark(ctx context.Context, collectionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collectionID]
	if !ok {
		return ErrCollectionNotFound
	}
	at = at.UTC()
	if c.LastRefreshed == nil || at.After(*c.LastRefreshed) {
		c.LastRefreshed = &at
	}
	return nil
}

func (m *Memory) ReadWatermark(ctx context.Context, collectionID string) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collectionID]
	if !ok {
		return nil, ErrCollectionNotFound
	}
	if c.LastRefreshed == nil {
		return nil, nil
	}
	t := *c.LastRefreshed
	return &t, nil
}

func (m *Memory) CreateCollection(ctx context.Context, c *domain.Collection) error {
	if c == nil {
		return fmt.Errorf("nil collection payload")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.collections[c.ID]; exists {
		return fmt.Errorf("collection %s already exists", c.ID)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now().UTC()
	}
	cp := cloneCollection(c)
	m.collections[c.ID] = cp
	return nil
}

func (m *Memory) GetCollection(ctx context.Context, id string) (*domain.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[id]
	if !ok {
		return nil, ErrCollectionNotFound
	}
	return cloneCollection(c), nil
}

func (m *Memory) ListSyncableCollections(ctx context.Context) ([]*domain.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Collection, 0, len(m.collections))
	for _, c := range m.collections {
		if c.Syncable() {
			out = append(out, cloneCollection(c))
		}
	}
	// never-synced first, then oldest watermark
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastRefreshed, out[j].LastRefreshed
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) DeleteCollection(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[id]; !ok {
		return ErrCollectionNotFound
	}
	delete(m.collections, id)
	for gid, g := range m.games {
		if g.CollectionID != id {
			continue
		}
		for _, k := range identityKeys(g) {
			delete(m.byIdentity, k)
		}
		delete(m.gameTags, gid)
		delete(m.games, gid)
	}
	return nil
}

func (m *Memory) InsertGame(ctx context.Context, g *domain.Game) (int64, error) {
	if g == nil {
		return 0, fmt.Errorf("nil game payload")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[g.CollectionID]; !ok {
		return 0, ErrCollectionNotFound
	}
	id, ok := m.insertLocked(*g)
	if !ok {
		return 0, ErrDuplicateGame
	}
	g.ID = id
	return id, nil
}

func (m *Memory) GetGame(ctx context.Context, id int64) (*domain.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[id]
	if !ok {
		return nil, ErrGameNotFound
	}
	cp := *g
	cp.Tags = m.tagsForLocked(id)
	return &cp, nil
}

func (m *Memory) DeleteGame(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[id]
	if !ok {
		return ErrGameNotFound
	}
	for _, k := range identityKeys(g) {
		delete(m.byIdentity, k)
	}
	delete(m.gameTags, id)
	delete(m.games, id)
	return nil
}

func (m *Memory) ListGames(ctx context.Context, collectionID string, limit int) ([]*domain.Game, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]*domain.Game, 0)
	for _, g := range m.games {
		if g.CollectionID == collectionID {
			items = append(items, g)
		}
	}
	// EndedAt desc, ID desc as tie-break
	sort.Slice(items, func(i, j int) bool {
		if !items[i].EndedAt.Equal(items[j].EndedAt) {
			return items[i].EndedAt.After(items[j].EndedAt)
		}
		return items[i].ID > items[j].ID
	})
	if len(items) > limit {
		items = items[:limit]
	}
	out := make([]*domain.Game, 0, len(items))
	for _, g := range items {
		cp := *g
		cp.Tags = m.tagsForLocked(g.ID)
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) tagsForLocked(gameID int64) []domain.Tag {
	ids := m.gameTags[gameID]
	if len(ids) == 0 {
		return nil
	}
	tags := make([]domain.Tag, 0, len(ids))
	for id := range ids {
		if t, ok := m.tags[id]; ok {
			tags = append(tags, *t)
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
	return tags
}

func (m *Memory) CountGames(ctx context.Context, collectionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, g := range m.games {
		if g.CollectionID == collectionID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) UpdateNotes(ctx context.Context, gameID int64, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return ErrGameNotFound
	}
	g.Notes = strings.TrimSpace(notes)
	return nil
}

func (m *Memory) CreateTag(ctx context.Context, t *domain.Tag) (int64, error) {
	if t == nil {
		return 0, fmt.Errorf("nil tag payload")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTagID++
	t.ID = m.nextTagID
	cp := *t
	m.tags[t.ID] = &cp
	return t.ID, nil
}

func (m *Memory) AttachTag(ctx context.Context, gameID, tagID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.games[gameID]; !ok {
		return ErrGameNotFound
	}
	if _, ok := m.tags[tagID]; !ok {
		return ErrTagNotFound
	}
	set := m.gameTags[gameID]
	if set == nil {
		set = make(map[int64]struct{})
		m.gameTags[gameID] = set
	}
	set[tagID] = struct{}{}
	return nil
}

func (m *Memory) DetachTags(ctx context.Context, gameID int64, tagIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.gameTags[gameID]
	for _, id := range tagIDs {
		delete(set, id)
	}
	return nil
}

func cloneCollection(c *domain.Collection) *domain.Collection {
	cp := *c
	if c.LastRefreshed != nil {
		t := *c.LastRefreshed
		cp.LastRefreshed = &t
	}
	return &cp
}
