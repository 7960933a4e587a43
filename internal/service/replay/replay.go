// Package replay rebuilds the positions of a single stored game from the
// platform's move list.
package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/park285/chessledger/internal/domain"
	"github.com/park285/chessledger/internal/platform/lichess"
	"github.com/park285/chessledger/internal/tcn"
)

var ErrUnplayable = errors.New("move cannot be replayed on a standard board")

// UnplayableError names the first ply that could not be applied.
type UnplayableError struct {
	Ply  int
	Move string
	Err  error
}

func (e *UnplayableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ply %d (%s): %v", e.Ply+1, e.Move, e.Err)
	}
	return fmt.Sprintf("ply %d (%s) is not playable", e.Ply+1, e.Move)
}

func (e *UnplayableError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUnplayable}
	}
	return []error{ErrUnplayable, e.Err}
}

// Ply is one half-move. SAN and FEN are empty for plies after the replay stopped.
type Ply struct {
	Index int
	Move  string
	SAN   string
	FEN   string
}

type Replay struct {
	Plies []Ply
	// Played counts plies applied to the board.
	Played int
	Final  string
}

type MoveListSource interface {
	FetchMoveList(ctx context.Context, gameURL string) (string, error)
}

type GameExporter interface {
	ExportGame(ctx context.Context, id string) (*lichess.Game, error)
}

type Service struct {
	chesscom MoveListSource
	lichess  GameExporter
	logger   *zap.Logger
}

func NewService(cc MoveListSource, li GameExporter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{chesscom: cc, lichess: li, logger: logger}
}

// Game replays a stored game using its platform identity.
func (s *Service) Game(ctx context.Context, g *domain.Game) (*Replay, error) {
	if g == nil {
		return nil, fmt.Errorf("nil game")
	}
	switch g.Platform {
	case domain.PlatformChesscom:
		return s.Chesscom(ctx, g.URL)
	case domain.PlatformLichess:
		return s.Lichess(ctx, g.LichessGameID)
	default:
		return nil, fmt.Errorf("game %d has no platform move list", g.ID)
	}
}

func (s *Service) Chesscom(ctx context.Context, gameURL string) (*Replay, error) {
	if s.chesscom == nil {
		return nil, fmt.Errorf("chess.com source not configured")
	}
	encoded, err := s.chesscom.FetchMoveList(ctx, gameURL)
	if err != nil {
		return nil, err
	}
	r, err := FromTCN(encoded)
	if err != nil {
		s.logger.Warn("replay_stopped", zap.String("url", gameURL), zap.Error(err))
	}
	return r, err
}

func (s *Service) Lichess(ctx context.Context, id string) (*Replay, error) {
	if s.lichess == nil {
		return nil, fmt.Errorf("lichess source not configured")
	}
	g, err := s.lichess.ExportGame(ctx, id)
	if err != nil {
		return nil, err
	}
	r, err := FromSAN(strings.Fields(g.Moves))
	if err != nil {
		s.logger.Warn("replay_stopped", zap.String("lichess_id", id), zap.Error(err))
	}
	return r, err
}

// FromTCN decodes an encoded move list and plays it from the standard start
// position. A malformed list fails before any board work.
func FromTCN(encoded string) (*Replay, error) {
	moves, err := tcn.Decode(encoded)
	if err != nil {
		return nil, err
	}
	game := nchess.NewGame()
	r := &Replay{Plies: make([]Ply, 0, len(moves))}
	var stop error
	for i, mv := range moves {
		ply := Ply{Index: i, Move: mv.String()}
		if stop == nil {
			if mv.IsDrop() {
				stop = &UnplayableError{Ply: i, Move: ply.Move}
			} else if san, fen, err := apply(game, nchess.UCINotation{}.Decode, mv.UCI()); err != nil {
				stop = &UnplayableError{Ply: i, Move: ply.Move, Err: err}
			} else {
				ply.SAN, ply.FEN = san, fen
				r.Played++
			}
		}
		r.Plies = append(r.Plies, ply)
	}
	r.Final = game.FEN()
	return r, stop
}

// FromSAN plays a list of SAN moves from the standard start position.
func FromSAN(moves []string) (*Replay, error) {
	game := nchess.NewGame()
	r := &Replay{Plies: make([]Ply, 0, len(moves))}
	var stop error
	for i, raw := range moves {
		ply := Ply{Index: i, Move: raw}
		if stop == nil {
			if san, fen, err := apply(game, nchess.AlgebraicNotation{}.Decode, raw); err != nil {
				stop = &UnplayableError{Ply: i, Move: raw, Err: err}
			} else {
				ply.Move = lastMove(game).String()
				ply.SAN, ply.FEN = san, fen
				r.Played++
			}
		}
		r.Plies = append(r.Plies, ply)
	}
	r.Final = game.FEN()
	return r, stop
}

type decodeFunc func(*nchess.Position, string) (*nchess.Move, error)

func apply(game *nchess.Game, decode decodeFunc, raw string) (san, fen string, err error) {
	pos := game.Position()
	mv, err := decode(pos, raw)
	if err != nil {
		return "", "", fmt.Errorf("decode %s: %w", raw, err)
	}
	if err := game.Move(mv, nil); err != nil {
		return "", "", fmt.Errorf("apply %s: %w", raw, err)
	}
	return nchess.AlgebraicNotation{}.Encode(pos, mv), game.FEN(), nil
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}
