package domain

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies the external site a collection or game was imported from.
// The zero value means a manually curated collection or a manually entered game.
type Platform string

const (
	PlatformNone     Platform = ""
	PlatformChesscom Platform = "chess.com"
	PlatformLichess  Platform = "lichess"
)

func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return PlatformNone, nil
	case "chess.com", "chesscom":
		return PlatformChesscom, nil
	case "lichess", "lichess.org":
		return PlatformLichess, nil
	default:
		return PlatformNone, fmt.Errorf("unknown platform %q", s)
	}
}

// Label is the human readable platform name.
func (p Platform) Label() string {
	switch p {
	case PlatformChesscom:
		return "Chess.com"
	case PlatformLichess:
		return "Lichess"
	default:
		return ""
	}
}

// TimeClass is the closed set of time-control categories a collection can filter on.
type TimeClass string

const (
	TimeClassAny         TimeClass = ""
	TimeClassUltraBullet TimeClass = "ultraBullet"
	TimeClassBullet      TimeClass = "bullet"
	TimeClassBlitz       TimeClass = "blitz"
	TimeClassRapid       TimeClass = "rapid"
	TimeClassClassical   TimeClass = "classical"
)

func ParseTimeClass(s string) (TimeClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return TimeClassAny, nil
	case "ultrabullet":
		return TimeClassUltraBullet, nil
	case "bullet":
		return TimeClassBullet, nil
	case "blitz":
		return TimeClassBlitz, nil
	case "rapid":
		return TimeClassRapid, nil
	case "classical":
		return TimeClassClassical, nil
	default:
		return TimeClassAny, fmt.Errorf("unknown time class %q", s)
	}
}

// SupportsTimeClass reports whether the platform ever labels games with tc.
// chess.com has no ultraBullet or classical class.
func (p Platform) SupportsTimeClass(tc TimeClass) bool {
	switch tc {
	case TimeClassAny:
		return true
	case TimeClassUltraBullet, TimeClassClassical:
		return p == PlatformLichess
	default:
		return p != PlatformNone
	}
}

// Collection groups games for one owner, optionally linked to a platform account.
type Collection struct {
	ID            string
	OwnerID       string
	Name          string
	Platform      Platform
	Account       string
	TimeClass     TimeClass
	LastRefreshed *time.Time
	CreatedAt     time.Time
}

// Syncable reports whether the collection is linked to an importable account.
func (c *Collection) Syncable() bool {
	return c != nil && c.Platform != PlatformNone && strings.TrimSpace(c.Account) != ""
}

// Outcome is one of the per-platform result vocabularies. The two variants are
// deliberately not merged into a shared enumeration.
type Outcome interface {
	outcome()
}

// SideResults is the chess.com vocabulary: a terminal state per side
// ("win", "resigned", "timeout", "checkmated", "agreed", ...).
type SideResults struct {
	White string
	Black string
}

func (SideResults) outcome() {}

// Winner values reported by lichess and used by manual entries.
type Winner string

const (
	WinnerNone  Winner = ""
	WinnerWhite Winner = "white"
	WinnerBlack Winner = "black"
	WinnerDraw  Winner = "draw"
)

// WinnerResult is the single shared winner vocabulary.
type WinnerResult struct {
	Winner Winner
}

func (WinnerResult) outcome() {}

// Game is one imported or manually entered match.
type Game struct {
	ID             int64
	CollectionID   string
	Platform       Platform
	URL            string // chess.com identity; optional link for manual games
	LichessGameID  string // lichess identity
	EndedAt        time.Time
	FEN            string
	Opening        string
	TimeControl    string
	ClockInitial   *int
	ClockIncrement *int
	WhiteName      string
	BlackName      string
	WhiteRating    *int
	BlackRating    *int
	Outcome        Outcome
	Notes          string
	Tags           []Tag
	CreatedAt      time.Time
}

// ExternalID returns the platform-native identity used for de-duplication.
func (g *Game) ExternalID() string {
	if g == nil {
		return ""
	}
	switch g.Platform {
	case PlatformLichess:
		return g.LichessGameID
	case PlatformChesscom:
		return g.URL
	default:
		return ""
	}
}

// Tag is a reusable label attached to games.
type Tag struct {
	ID          int64
	OwnerID     string
	Name        string
	Description string
	Public      bool
}
