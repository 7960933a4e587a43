// Package collections manages collections, manually entered games, notes and
// tags. Platform-linked collections are seeded through the ingest pipeline.
package collections

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/chessledger/internal/domain"
	"github.com/park285/chessledger/internal/msgcat"
	"github.com/park285/chessledger/internal/service/ingest"
	"github.com/park285/chessledger/internal/store"
)

var (
	ErrInvalid       = errors.New("invalid request")
	ErrForbidden     = errors.New("collection belongs to another owner")
	ErrNotManual     = errors.New("games can only be added to manual collections")
	ErrInvalidWinner = errors.New("winner must be white, black or draw")
)

const (
	maxNameLen  = 120
	maxNotesLen = 10_000
)

// Importer seeds a new platform collection.
type Importer interface {
	InitialImport(ctx context.Context, c *domain.Collection) (*ingest.Report, error)
}

type Service struct {
	store    store.Repository
	importer Importer
	catalog  *msgcat.Catalog
	logger   *zap.Logger
	newID    func() string
	now      func() time.Time
}

func NewService(repo store.Repository, importer Importer, catalog *msgcat.Catalog, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    repo,
		importer: importer,
		catalog:  catalog,
		logger:   logger,
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

type CreateRequest struct {
	OwnerID   string
	Name      string
	Platform  string
	Account   string
	TimeClass string
}

// Create validates and stores a collection. Platform collections are seeded
// with their newest games; a failed seed does not fail the creation.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.Collection, error) {
	c, err := s.build(req)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateCollection(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("collection_created",
		zap.String("collection", c.ID),
		zap.String("platform", string(c.Platform)),
		zap.String("account", c.Account),
	)

	if c.Syncable() && s.importer != nil {
		rep, err := s.importer.InitialImport(ctx, c)
		switch {
		case err != nil:
			s.logger.Warn("collection_initial_import_error", zap.String("collection", c.ID), zap.Error(err))
		case rep != nil:
			s.logger.Info("collection_initial_import",
				zap.String("collection", c.ID),
				zap.Int("inserted", rep.Inserted),
				zap.Int("failed_windows", rep.Failed()),
			)
		}
		if fresh, err := s.store.GetCollection(ctx, c.ID); err == nil {
			c = fresh
		}
	}
	return c, nil
}

func (s *Service) build(req CreateRequest) (*domain.Collection, error) {
	owner := strings.TrimSpace(req.OwnerID)
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalid)
	}
	platform, err := domain.ParsePlatform(req.Platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	tc, err := domain.ParseTimeClass(req.TimeClass)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	account := strings.TrimSpace(req.Account)
	if tc != domain.TimeClassAny && platform == domain.PlatformNone {
		return nil, fmt.Errorf("%w: a time class requires a platform", ErrInvalid)
	}
	if platform != domain.PlatformNone && !platform.SupportsTimeClass(tc) {
		return nil, fmt.Errorf("%w: %s has no %s time class", ErrInvalid, platform.Label(), tc)
	}
	if platform != domain.PlatformNone && account == "" {
		return nil, fmt.Errorf("%w: a platform collection needs an account name", ErrInvalid)
	}

	c := &domain.Collection{
		ID:        s.newID(),
		OwnerID:   owner,
		Platform:  platform,
		Account:   account,
		TimeClass: tc,
	}
	if platform == domain.PlatformNone {
		name := strings.TrimSpace(req.Name)
		if len(name) > maxNameLen {
			return nil, fmt.Errorf("%w: name longer than %d characters", ErrInvalid, maxNameLen)
		}
		c.Name = name
		c.Account = ""
	}
	return c, nil
}

// DisplayName renders the collection title shown to users.
func (s *Service) DisplayName(c *domain.Collection) string {
	if c == nil {
		return ""
	}
	var (
		key  string
		data map[string]string
	)
	switch {
	case c.Syncable() && c.TimeClass != domain.TimeClassAny:
		key = "collection.name.account_time_class"
		data = map[string]string{"Account": c.Account, "Platform": c.Platform.Label(), "TimeClass": string(c.TimeClass)}
	case c.Syncable():
		key = "collection.name.account"
		data = map[string]string{"Account": c.Account, "Platform": c.Platform.Label()}
	case strings.TrimSpace(c.Name) != "":
		return c.Name
	default:
		key = "collection.name.untitled"
	}
	if s.catalog != nil {
		out, err := s.catalog.Render(key, data)
		if err == nil {
			return out
		}
		s.logger.Warn("collection_name_render", zap.String("key", key), zap.Error(err))
	}
	if c.Syncable() {
		return c.Account
	}
	return "Untitled collection"
}

// Owned loads a collection and checks it belongs to ownerID.
func (s *Service) Owned(ctx context.Context, ownerID, collectionID string) (*domain.Collection, error) {
	c, err := s.store.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if c.OwnerID != strings.TrimSpace(ownerID) {
		return nil, ErrForbidden
	}
	return c, nil
}

func (s *Service) Delete(ctx context.Context, ownerID, collectionID string) error {
	if _, err := s.Owned(ctx, ownerID, collectionID); err != nil {
		return err
	}
	return s.store.DeleteCollection(ctx, collectionID)
}

func (s *Service) Games(ctx context.Context, ownerID, collectionID string, limit int) ([]*domain.Game, error) {
	if _, err := s.Owned(ctx, ownerID, collectionID); err != nil {
		return nil, err
	}
	return s.store.ListGames(ctx, collectionID, limit)
}

// ManualGame is a game typed in by the owner.
type ManualGame struct {
	White       string
	Black       string
	PlayedAt    time.Time
	Winner      string
	TimeControl string
	Opening     string
	URL         string
}

func parseWinner(s string) (domain.Winner, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return domain.WinnerNone, nil
	case "white":
		return domain.WinnerWhite, nil
	case "black":
		return domain.WinnerBlack, nil
	case "draw":
		return domain.WinnerDraw, nil
	default:
		return domain.WinnerNone, ErrInvalidWinner
	}
}

// AddManualGame stores a game in a manual collection.
func (s *Service) AddManualGame(ctx context.Context, ownerID, collectionID string, m ManualGame) (*domain.Game, error) {
	c, err := s.Owned(ctx, ownerID, collectionID)
	if err != nil {
		return nil, err
	}
	if c.Platform != domain.PlatformNone {
		return nil, ErrNotManual
	}
	white, black := strings.TrimSpace(m.White), strings.TrimSpace(m.Black)
	if white == "" || black == "" {
		return nil, fmt.Errorf("%w: both players are required", ErrInvalid)
	}
	winner, err := parseWinner(m.Winner)
	if err != nil {
		return nil, err
	}
	played := m.PlayedAt
	if played.IsZero() {
		played = s.now()
	}
	g := &domain.Game{
		CollectionID: collectionID,
		URL:          strings.TrimSpace(m.URL),
		EndedAt:      played.UTC(),
		Opening:      strings.TrimSpace(m.Opening),
		TimeControl:  strings.TrimSpace(m.TimeControl),
		WhiteName:    white,
		BlackName:    black,
		Outcome:      domain.WinnerResult{Winner: winner},
	}
	if _, err := s.store.InsertGame(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// ownedGame loads a game and checks the owner of its collection.
func (s *Service) ownedGame(ctx context.Context, ownerID string, gameID int64) (*domain.Game, *domain.Collection, error) {
	g, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, nil, err
	}
	c, err := s.Owned(ctx, ownerID, g.CollectionID)
	if err != nil {
		return nil, nil, err
	}
	return g, c, nil
}

func (s *Service) DeleteManualGame(ctx context.Context, ownerID string, gameID int64) error {
	_, c, err := s.ownedGame(ctx, ownerID, gameID)
	if err != nil {
		return err
	}
	if c.Platform != domain.PlatformNone {
		return ErrNotManual
	}
	return s.store.DeleteGame(ctx, gameID)
}

func (s *Service) SaveNotes(ctx context.Context, ownerID string, gameID int64, notes string) error {
	if len(notes) > maxNotesLen {
		return fmt.Errorf("%w: notes longer than %d characters", ErrInvalid, maxNotesLen)
	}
	if _, _, err := s.ownedGame(ctx, ownerID, gameID); err != nil {
		return err
	}
	return s.store.UpdateNotes(ctx, gameID, notes)
}

func (s *Service) CreateTag(ctx context.Context, ownerID, name, description string, public bool) (*domain.Tag, error) {
	t := &domain.Tag{
		OwnerID:     strings.TrimSpace(ownerID),
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
		Public:      public,
	}
	if t.OwnerID == "" || t.Name == "" {
		return nil, fmt.Errorf("%w: tag needs an owner and a name", ErrInvalid)
	}
	if _, err := s.store.CreateTag(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) TagGame(ctx context.Context, ownerID string, gameID, tagID int64) error {
	if _, _, err := s.ownedGame(ctx, ownerID, gameID); err != nil {
		return err
	}
	return s.store.AttachTag(ctx, gameID, tagID)
}

func (s *Service) UntagGame(ctx context.Context, ownerID string, gameID int64, tagIDs ...int64) error {
	if _, _, err := s.ownedGame(ctx, ownerID, gameID); err != nil {
		return err
	}
	return s.store.DetachTags(ctx, gameID, tagIDs)
}
