// Package tcn decodes the compact two-characters-per-ply move encoding that
// chess.com returns in a game's moveList.
package tcn

import (
	"errors"
	"fmt"
	"strings"
)

// Alphabet is the ordered symbol table. '+' appears twice; lookups use the first
// occurrence, so index 83 is never produced and '=' decodes to 84.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!?{~}(^)[_]@#$,./&-*++="

const (
	dropThreshold      = 75
	dropBase           = 79
	promotionThreshold = 63
	promotionBase      = 64
)

// Piece is a piece kind used for promotions and drops.
type Piece byte

const (
	NoPiece Piece = 0
	Queen   Piece = 'q'
	Knight  Piece = 'n'
	Rook    Piece = 'r'
	Bishop  Piece = 'b'
	King    Piece = 'k'
	Pawn    Piece = 'p'
)

var pieceOrder = [...]Piece{Queen, Knight, Rook, Bishop, King, Pawn}

func (p Piece) String() string {
	switch p {
	case Queen:
		return "queen"
	case Knight:
		return "knight"
	case Rook:
		return "rook"
	case Bishop:
		return "bishop"
	case King:
		return "king"
	case Pawn:
		return "pawn"
	default:
		return ""
	}
}

// Square is a board index 0..63, a1 = 0, h8 = 63.
type Square int8

func (s Square) File() int { return int(s) % 8 }
func (s Square) Rank() int { return int(s)/8 + 1 }

func (s Square) String() string {
	return fmt.Sprintf("%c%d", Alphabet[s.File()], s.Rank())
}

// Move is one decoded half-move. From is nil for piece drops.
type Move struct {
	From      *Square
	To        Square
	Promotion Piece
	Drop      Piece
}

func (m Move) IsDrop() bool { return m.Drop != NoPiece }

// UCI renders the move in long algebraic form (e2e4, e7e8q). Drops use the
// crazyhouse form "N@e4".
func (m Move) UCI() string {
	if m.IsDrop() {
		return strings.ToUpper(string(rune(m.Drop))) + "@" + m.To.String()
	}
	var b strings.Builder
	if m.From != nil {
		b.WriteString(m.From.String())
	}
	b.WriteString(m.To.String())
	if m.Promotion != NoPiece {
		b.WriteByte(byte(m.Promotion))
	}
	return b.String()
}

func (m Move) String() string { return m.UCI() }

var ErrMalformed = errors.New("malformed tcn")

// DecodeError reports the character offset where decoding failed.
type DecodeError struct {
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("tcn offset %d: %s", e.Offset, e.Reason)
}

func (e *DecodeError) Unwrap() error { return ErrMalformed }

var symbolIndex = func() [256]int16 {
	var idx [256]int16
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		if idx[Alphabet[i]] == -1 {
			idx[Alphabet[i]] = int16(i)
		}
	}
	return idx
}()

// Index returns the alphabet position of c, or -1 when c is not a symbol.
func Index(c byte) int { return int(symbolIndex[c]) }

// Decode converts an encoded move list into half-moves in ply order.
func Decode(encoded string) ([]Move, error) {
	if len(encoded)%2 != 0 {
		return nil, &DecodeError{Offset: len(encoded) - 1, Reason: "odd length"}
	}
	moves := make([]Move, 0, len(encoded)/2)
	for i := 0; i < len(encoded); i += 2 {
		mv, err := decodePair(encoded[i], encoded[i+1], i)
		if err != nil {
			return nil, err
		}
		moves = append(moves, mv)
	}
	return moves, nil
}

func decodePair(a, b byte, offset int) (Move, error) {
	o := Index(a)
	if o < 0 {
		return Move{}, &DecodeError{Offset: offset, Reason: fmt.Sprintf("symbol %q not in alphabet", a)}
	}
	s := Index(b)
	if s < 0 {
		return Move{}, &DecodeError{Offset: offset + 1, Reason: fmt.Sprintf("symbol %q not in alphabet", b)}
	}

	var mv Move
	if s > promotionThreshold {
		k := (s - promotionBase) / 3
		if k >= len(pieceOrder) {
			return Move{}, &DecodeError{Offset: offset + 1, Reason: fmt.Sprintf("promotion index %d out of range", k)}
		}
		mv.Promotion = pieceOrder[k]
		step := 8
		if o < 16 {
			step = -8
		}
		s = o + step + (s-1)%3 - 1
	}
	if s < 0 || s > 63 {
		return Move{}, &DecodeError{Offset: offset + 1, Reason: fmt.Sprintf("destination %d off board", s)}
	}
	mv.To = Square(s)

	if o > dropThreshold {
		k := o - dropBase
		if k < 0 || k >= len(pieceOrder) {
			return Move{}, &DecodeError{Offset: offset, Reason: fmt.Sprintf("drop index %d out of range", k)}
		}
		mv.Drop = pieceOrder[k]
		return mv, nil
	}
	if o > 63 {
		return Move{}, &DecodeError{Offset: offset, Reason: fmt.Sprintf("origin %d off board", o)}
	}
	from := Square(o)
	mv.From = &from
	return mv, nil
}
