package lichess

import "time"

type User struct {
	Name   string `json:"name"`
	ID     string `json:"id"`
	Flair  string `json:"flair,omitempty"`
	Patron bool   `json:"patron,omitempty"`
}

type Player struct {
	User    *User `json:"user,omitempty"`
	Rating  *int  `json:"rating,omitempty"`
	AILevel int   `json:"aiLevel,omitempty"`
}

type Opening struct {
	ECO  string `json:"eco"`
	Name string `json:"name"`
	Ply  int    `json:"ply"`
}

type Clock struct {
	Initial   int `json:"initial"`
	Increment int `json:"increment"`
	TotalTime int `json:"totalTime"`
}

// Game is one record of the games export stream.
type Game struct {
	ID         string `json:"id"`
	Rated      bool   `json:"rated"`
	Variant    string `json:"variant"`
	Speed      string `json:"speed"`
	Perf       string `json:"perf"`
	CreatedAt  int64  `json:"createdAt"`
	LastMoveAt int64  `json:"lastMoveAt"`
	Status     string `json:"status"`
	Source     string `json:"source"`
	Players    struct {
		White Player `json:"white"`
		Black Player `json:"black"`
	} `json:"players"`
	Winner   string   `json:"winner,omitempty"`
	Opening  *Opening `json:"opening,omitempty"`
	Clock    *Clock   `json:"clock,omitempty"`
	LastFEN  string   `json:"lastFen"`
	LastMove string   `json:"lastMove"`
	Moves    string   `json:"moves,omitempty"`
}

// EndedAt prefers the last move time and falls back to creation time.
func (g *Game) EndedAt() time.Time {
	ms := g.LastMoveAt
	if ms == 0 {
		ms = g.CreatedAt
	}
	return time.UnixMilli(ms).UTC()
}
