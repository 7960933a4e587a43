package lichess

import (
	"strconv"

	"github.com/park285/chessledger/internal/domain"
)

const unknownPlayer = "Unknown"

// Statuses that end a game without a winner when lichess omits "winner":
// flag falls against insufficient material (outoftime), a claimed draw after
// the opponent left (timeout) and an insufficient-material claim.
var drawStatuses = map[string]struct{}{
	"draw":                      {},
	"stalemate":                 {},
	"outoftime":                 {},
	"timeout":                   {},
	"insufficientMaterialClaim": {},
}

// MatchesTimeClass reports whether g belongs to the collection's filter.
// An empty filter matches everything.
func MatchesTimeClass(g Game, tc domain.TimeClass) bool {
	if tc == domain.TimeClassAny {
		return true
	}
	speed := g.Speed
	if speed == "" {
		speed = g.Perf
	}
	return speed == string(tc)
}

// Normalize maps an export record onto the shared game record. The outcome
// keeps lichess's single winner vocabulary.
func Normalize(g Game, collectionID string) domain.Game {
	out := domain.Game{
		CollectionID:  collectionID,
		Platform:      domain.PlatformLichess,
		LichessGameID: g.ID,
		EndedAt:       g.EndedAt(),
		FEN:           g.LastFEN,
		WhiteName:     playerName(g.Players.White),
		BlackName:     playerName(g.Players.Black),
		WhiteRating:   g.Players.White.Rating,
		BlackRating:   g.Players.Black.Rating,
		Outcome:       domain.WinnerResult{Winner: winner(g)},
	}
	if g.Opening != nil {
		out.Opening = g.Opening.Name
	}
	if g.Clock != nil {
		initial, inc := g.Clock.Initial, g.Clock.Increment
		out.ClockInitial = &initial
		out.ClockIncrement = &inc
		out.TimeControl = strconv.Itoa(initial) + "+" + strconv.Itoa(inc)
	}
	return out
}

func playerName(p Player) string {
	if p.User == nil || p.User.Name == "" {
		return unknownPlayer
	}
	return p.User.Name
}

func winner(g Game) domain.Winner {
	switch g.Winner {
	case "white":
		return domain.WinnerWhite
	case "black":
		return domain.WinnerBlack
	}
	if _, ok := drawStatuses[g.Status]; ok {
		return domain.WinnerDraw
	}
	return domain.WinnerNone
}
