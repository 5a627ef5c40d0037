package rules

import (
	"errors"
	"testing"
)

func TestReplayEmptyIsStartPosition(t *testing.T) {
	p, err := Replay(nil)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if p.FEN() != StartFEN {
		t.Fatalf("unexpected FEN: %s", p.FEN())
	}
	if p.Turn() != SideWhite {
		t.Fatalf("expected white to move, got %s", p.Turn())
	}
}

func TestApplyLegalMove(t *testing.T) {
	p, err := Replay(nil)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	child, mv, err := Apply(p, "e2", "e4", "")
	if err != nil {
		t.Fatalf("Apply e2e4: %v", err)
	}
	if mv.UCI != "e2e4" || mv.SAN != "e4" {
		t.Fatalf("unexpected move encoding: uci=%q san=%q", mv.UCI, mv.SAN)
	}
	if child.Turn() != SideBlack {
		t.Fatalf("expected black to move after e4, got %s", child.Turn())
	}
	if mv.FENAfter != child.FEN() {
		t.Fatalf("FENAfter mismatch: %q vs %q", mv.FENAfter, child.FEN())
	}
	// Input position is untouched.
	if p.Turn() != SideWhite || p.FEN() != StartFEN {
		t.Fatalf("Apply mutated its input: %s", p.FEN())
	}
}

func TestApplyIllegalMove(t *testing.T) {
	p, _ := Replay(nil)
	cases := []struct{ from, to string }{
		{"e2", "e5"}, // pawn cannot jump three
		{"e7", "e5"}, // not white's piece
		{"d1", "d5"}, // queen blocked by own pawn
		{"zz", "e4"}, // malformed square
	}
	for _, tc := range cases {
		if _, _, err := Apply(p, tc.from, tc.to, ""); !errors.Is(err, ErrIllegalMove) {
			t.Fatalf("Apply %s%s: expected ErrIllegalMove, got %v", tc.from, tc.to, err)
		}
	}
}

func TestFromFENRoundTrip(t *testing.T) {
	const fen = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
	p, err := FromFEN(fen)
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	if p.FEN() != fen {
		t.Fatalf("round trip mismatch: %s", p.FEN())
	}
	if p.Turn() != SideBlack {
		t.Fatalf("expected black to move, got %s", p.Turn())
	}
}

func TestFromFENMalformed(t *testing.T) {
	for _, fen := range []string{"", "not a fen", "rnbqkbnr/pppppppp w KQkq - 0 1"} {
		if _, err := FromFEN(fen); !errors.Is(err, ErrMalformedPosition) {
			t.Fatalf("FromFEN(%q): expected ErrMalformedPosition, got %v", fen, err)
		}
	}
}

func TestReplayRejectsIllegalHistory(t *testing.T) {
	if _, err := Replay([]string{"e2e4", "e7e5", "e4e5"}); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove, got %v", err)
	}
}

func TestLegalMovesOriginFilter(t *testing.T) {
	p, _ := Replay(nil)

	all := LegalMoves(p, "")
	if len(all) != 20 {
		t.Fatalf("expected 20 legal opening moves, got %d", len(all))
	}

	fromE2 := LegalMoves(p, "e2")
	if len(fromE2) != 2 {
		t.Fatalf("expected 2 moves from e2, got %d", len(fromE2))
	}
	for _, mv := range fromE2 {
		if mv.From != "e2" {
			t.Fatalf("origin filter leaked move from %s", mv.From)
		}
		if mv.FENAfter == "" || mv.SAN == "" {
			t.Fatalf("move missing derived fields: %+v", mv)
		}
	}
}

func TestClassifyCheckmate(t *testing.T) {
	// Fool's mate.
	p, err := Replay([]string{"f2f3", "e7e5", "g2g4", "d8h4"})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	c := Classify(p)
	if c.State != StateCheckmate {
		t.Fatalf("expected checkmate, got %s", c.State)
	}
	if c.Winner != SideBlack {
		t.Fatalf("expected black winner, got %s", c.Winner)
	}
	if !c.Terminal() {
		t.Fatalf("checkmate must be terminal")
	}
	if !IsInCheck(p, SideWhite) {
		t.Fatalf("mated side should be in check")
	}
}

func TestClassifyStalemate(t *testing.T) {
	// Qb5-b6 boxes in the bare king on a8 without giving check.
	p, err := FromFEN("k7/8/8/1Q6/8/8/8/7K w - - 0 1")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	child, _, err := Apply(p, "b5", "b6", "")
	if err != nil {
		t.Fatalf("Apply Qb6: %v", err)
	}
	c := Classify(child)
	if c.State != StateStalemate {
		t.Fatalf("expected stalemate, got %s", c.State)
	}
	if IsInCheck(child, SideBlack) {
		t.Fatalf("stalemated side must not be in check")
	}
}

func TestClassifyInsufficientMaterial(t *testing.T) {
	// Nxh7 removes black's last pawn, leaving king and knight versus king.
	p, err := FromFEN("k7/7p/8/6N1/8/8/8/K7 w - - 0 1")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	child, _, err := Apply(p, "g5", "h7", "")
	if err != nil {
		t.Fatalf("Apply Nxh7: %v", err)
	}
	c := Classify(child)
	if c.State != StateDraw || c.DrawReason != ReasonInsufficientMaterial {
		t.Fatalf("expected insufficient material draw, got %+v", c)
	}
}

func TestClassifyOngoing(t *testing.T) {
	p, _ := Replay([]string{"e2e4", "e7e5"})
	c := Classify(p)
	if c.Terminal() {
		t.Fatalf("opening position reported terminal: %+v", c)
	}
}

func TestIsInCheck(t *testing.T) {
	// Scholar-style check: white queen h5 hits the f7/e8 diagonal after f6.
	p, err := Replay([]string{"e2e4", "f7f6", "d1h5"})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !IsInCheck(p, SideBlack) {
		t.Fatalf("black should be in check from Qh5")
	}
	if IsInCheck(p, SideWhite) {
		t.Fatalf("white is not in check")
	}
}

func TestApplyPromotion(t *testing.T) {
	p, err := FromFEN("8/P6k/8/8/8/8/8/K7 w - - 0 1")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	child, mv, err := Apply(p, "a7", "a8", "q")
	if err != nil {
		t.Fatalf("Apply promotion: %v", err)
	}
	if mv.Promotion != "q" || mv.UCI != "a7a8q" {
		t.Fatalf("unexpected promotion move: %+v", mv)
	}
	if child.Turn() != SideBlack {
		t.Fatalf("expected black to move after promotion")
	}
}

func TestSideOpponent(t *testing.T) {
	if SideWhite.Opponent() != SideBlack || SideBlack.Opponent() != SideWhite {
		t.Fatalf("Opponent mapping broken")
	}
}
