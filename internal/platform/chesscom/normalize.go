package chesscom

import (
	"github.com/park285/chessledger/internal/domain"
)

// Normalize maps an archive entry onto the shared game record. Per-side results
// are kept in chess.com's own vocabulary.
func Normalize(g Game, collectionID string) domain.Game {
	white, black := g.White.Rating, g.Black.Rating
	return domain.Game{
		CollectionID: collectionID,
		Platform:     domain.PlatformChesscom,
		URL:          g.URL,
		EndedAt:      g.EndedAt(),
		FEN:          g.FEN,
		Opening:      g.ECO,
		TimeControl:  g.TimeControl,
		WhiteName:    g.White.Username,
		BlackName:    g.Black.Username,
		WhiteRating:  &white,
		BlackRating:  &black,
		Outcome:      domain.SideResults{White: g.White.Result, Black: g.Black.Result},
	}
}

// MatchesTimeClass reports whether g belongs to the collection's filter.
// An empty filter matches everything.
func MatchesTimeClass(g Game, tc domain.TimeClass) bool {
	return tc == domain.TimeClassAny || g.TimeClass == string(tc)
}
