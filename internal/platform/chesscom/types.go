package chesscom

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Player is one side of a monthly archive game.
type Player struct {
	Username string `json:"username"`
	Rating   int    `json:"rating"`
	Result   string `json:"result"`
	ID       string `json:"@id"`
	UUID     string `json:"uuid"`
}

// Game is a raw monthly archive entry.
type Game struct {
	URL          string `json:"url"`
	PGN          string `json:"pgn"`
	TimeControl  string `json:"time_control"`
	EndTime      int64  `json:"end_time"`
	Rated        bool   `json:"rated"`
	TCN          string `json:"tcn"`
	UUID         string `json:"uuid"`
	InitialSetup string `json:"initial_setup"`
	FEN          string `json:"fen"`
	TimeClass    string `json:"time_class"`
	Rules        string `json:"rules"`
	White        Player `json:"white"`
	Black        Player `json:"black"`
	ECO          string `json:"eco"`
}

// EndedAt converts the unix end time.
func (g *Game) EndedAt() time.Time {
	return time.Unix(g.EndTime, 0).UTC()
}

type archiveList struct {
	Archives []string `json:"archives"`
}

type monthArchive struct {
	Games []json.RawMessage `json:"games"`
}

type callbackGame struct {
	Game struct {
		ID       int64  `json:"id"`
		MoveList string `json:"moveList"`
	} `json:"game"`
}

// Month is a calendar month of the archive, always in UTC.
type Month struct {
	Year  int
	Month time.Month
}

func MonthOf(t time.Time) Month {
	u := t.UTC()
	return Month{Year: u.Year(), Month: u.Month()}
}

func (m Month) Prev() Month {
	if m.Month == time.January {
		return Month{Year: m.Year - 1, Month: time.December}
	}
	return Month{Year: m.Year, Month: m.Month - 1}
}

func (m Month) Before(o Month) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

// String renders the archive path form, e.g. "2024/05".
func (m Month) String() string {
	return fmt.Sprintf("%04d/%02d", m.Year, int(m.Month))
}
