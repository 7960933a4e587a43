package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/park285/chessledger/internal/domain"
)

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrGameNotFound       = errors.New("game not found")
	ErrDuplicateGame      = errors.New("game already exists in collection")
	ErrTagNotFound        = errors.New("tag not found")
)

// ConflictKey names the composite identity that de-duplicates imported games
// within a collection.
type ConflictKey int

const (
	ConflictByURL ConflictKey = iota + 1
	ConflictByLichessID
)

func (k ConflictKey) String() string {
	switch k {
	case ConflictByURL:
		return "collection_id,url"
	case ConflictByLichessID:
		return "collection_id,lichess_game_id"
	default:
		return "unknown"
	}
}

// ConflictKeyFor returns the de-duplication key for games of platform p.
func ConflictKeyFor(p domain.Platform) (ConflictKey, error) {
	switch p {
	case domain.PlatformChesscom:
		return ConflictByURL, nil
	case domain.PlatformLichess:
		return ConflictByLichessID, nil
	default:
		return 0, fmt.Errorf("no conflict key for platform %q", p)
	}
}

func identityFor(g *domain.Game, key ConflictKey) string {
	switch key {
	case ConflictByURL:
		return g.URL
	case ConflictByLichessID:
		return g.LichessGameID
	default:
		return ""
	}
}

// Repository is the persistence boundary of the ingestion pipeline plus the
// small amount of collection and game bookkeeping around it.
type Repository interface {
	// UpsertGames inserts games and silently skips rows whose conflict key
	// already exists in the collection. Rows without an identity for key are
	// skipped too. It returns the number of rows actually inserted.
	UpsertGames(ctx context.Context, games []domain.Game, key ConflictKey) (int, error)
	// AdvanceWatermark moves the collection's watermark to at unless it is
	// already later.
	AdvanceWatermark(ctx context.Context, collectionID string, at time.Time) error
	ReadWatermark(ctx context.Context, collectionID string) (*time.Time, error)

	CreateCollection(ctx context.Context, c *domain.Collection) error
	GetCollection(ctx context.Context, id string) (*domain.Collection, error)
	ListSyncableCollections(ctx context.Context) ([]*domain.Collection, error)
	DeleteCollection(ctx context.Context, id string) error

	InsertGame(ctx context.Context, g *domain.Game) (int64, error)
	GetGame(ctx context.Context, id int64) (*domain.Game, error)
	DeleteGame(ctx context.Context, id int64) error
	ListGames(ctx context.Context, collectionID string, limit int) ([]*domain.Game, error)
	CountGames(ctx context.Context, collectionID string) (int, error)
	UpdateNotes(ctx context.Context, gameID int64, notes string) error

	CreateTag(ctx context.Context, t *domain.Tag) (int64, error)
	AttachTag(ctx context.Context, gameID, tagID int64) error
	DetachTags(ctx context.Context, gameID int64, tagIDs []int64) error
}

// flattenOutcome maps an outcome variant onto the white_result, black_result
// and winner columns.
func flattenOutcome(o domain.Outcome) (white, black, winner string) {
	switch v := o.(type) {
	case domain.SideResults:
		return v.White, v.Black, ""
	case *domain.SideResults:
		if v != nil {
			return v.White, v.Black, ""
		}
	case domain.WinnerResult:
		return "", "", string(v.Winner)
	case *domain.WinnerResult:
		if v != nil {
			return "", "", string(v.Winner)
		}
	}
	return "", "", ""
}

func restoreOutcome(white, black, winner string) domain.Outcome {
	if white != "" || black != "" {
		return domain.SideResults{White: white, Black: black}
	}
	if winner != "" {
		return domain.WinnerResult{Winner: domain.Winner(winner)}
	}
	return nil
}
