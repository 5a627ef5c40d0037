package rules

import (
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// StartFEN is the canonical encoding of the initial chess position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Side identifies one player of a match.
type Side string

const (
	SideWhite Side = "white"
	SideBlack Side = "black"
)

// Opponent returns the other side.
func (s Side) Opponent() Side {
	if s == SideWhite {
		return SideBlack
	}
	return SideWhite
}

// Errors surfaced by the engine. Everything else is an internal failure.
var (
	ErrMalformedPosition = errf("malformed position")
	ErrIllegalMove       = errf("illegal move")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Position is an immutable snapshot of the board plus the history needed for
// repetition claims. Values are only produced by FromFEN, Replay and Apply;
// callers never mutate one in place.
type Position struct {
	game *nchess.Game
}

// FromFEN decodes a canonical position string. Positions built this way carry
// no move history, so repetition draws are not detectable from them; use
// Replay when the full move list is available.
func FromFEN(fen string) (*Position, error) {
	opt, err := nchess.FEN(strings.TrimSpace(fen))
	if err != nil {
		return nil, ErrMalformedPosition
	}
	return &Position{game: nchess.NewGame(opt)}, nil
}

// Replay rebuilds a position from the start position by applying UCI moves in
// order. Fails with ErrIllegalMove on the first move that does not apply.
func Replay(movesUCI []string) (*Position, error) {
	game := nchess.NewGame()
	notation := nchess.UCINotation{}
	for _, mv := range movesUCI {
		if err := game.PushNotationMove(strings.ToLower(strings.TrimSpace(mv)), notation, nil); err != nil {
			return nil, ErrIllegalMove
		}
	}
	return &Position{game: game}, nil
}

// FEN returns the canonical encoding of the position.
func (p *Position) FEN() string { return p.game.FEN() }

// Turn returns the side to move.
func (p *Position) Turn() Side {
	if p.game.Position().Turn() == nchess.White {
		return SideWhite
	}
	return SideBlack
}

// Move is a legal transition between two positions. FENAfter is denormalized
// so consumers never re-apply the move themselves.
type Move struct {
	From      string
	To        string
	Promotion string
	UCI       string
	SAN       string
	FENAfter  string
}

// LegalMoves enumerates every legal move in the position. When origin is
// non-empty only moves starting there are returned.
func LegalMoves(p *Position, origin string) []Move {
	origin = strings.ToLower(strings.TrimSpace(origin))
	pos := p.game.Position()
	valid := p.game.ValidMoves()
	san := nchess.AlgebraicNotation{}

	out := make([]Move, 0, len(valid))
	for i := range valid {
		mv := &valid[i]
		if origin != "" && mv.S1().String() != origin {
			continue
		}
		child := p.game.Clone()
		if err := child.Move(mv, nil); err != nil {
			continue
		}
		uci := mv.String()
		out = append(out, Move{
			From:      mv.S1().String(),
			To:        mv.S2().String(),
			Promotion: promoFromUCI(uci),
			UCI:       uci,
			SAN:       san.Encode(pos, mv),
			FENAfter:  child.FEN(),
		})
	}
	return out
}

// Apply plays from→to (with optional promotion piece letter) on the position
// and returns the successor. The input position is left untouched. Fails with
// ErrIllegalMove when the move is not a member of LegalMoves.
func Apply(p *Position, from, to, promotion string) (*Position, Move, error) {
	uci := strings.ToLower(strings.TrimSpace(from) + strings.TrimSpace(to) + strings.TrimSpace(promotion))
	if len(uci) < 4 {
		return nil, Move{}, ErrIllegalMove
	}

	child := p.game.Clone()
	pos := child.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return nil, Move{}, ErrIllegalMove
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	if err := child.Move(mv, nil); err != nil {
		return nil, Move{}, ErrIllegalMove
	}

	applied := Move{
		From:      mv.S1().String(),
		To:        mv.S2().String(),
		Promotion: promoFromUCI(uci),
		UCI:       uci,
		SAN:       san,
		FENAfter:  child.FEN(),
	}
	return &Position{game: child}, applied, nil
}

func promoFromUCI(uci string) string {
	if len(uci) >= 5 {
		return uci[4:5]
	}
	return ""
}
