package rules

import (
	nchess "github.com/corentings/chess/v2"
)

// IsInCheck reports whether side's king is attacked in the position. A side
// that is not to move can never legally be in check, but the scan is done
// from the board alone so callers may probe either side.
func IsInCheck(p *Position, side Side) bool {
	board := p.game.Position().Board()
	color := nchess.White
	if side == SideBlack {
		color = nchess.Black
	}
	kingSq, ok := findKing(board, color)
	if !ok {
		return false
	}
	return squareAttacked(board, kingSq, color.Other())
}

func findKing(board *nchess.Board, color nchess.Color) (nchess.Square, bool) {
	for sq, piece := range board.SquareMap() {
		if piece.Type() == nchess.King && piece.Color() == color {
			return sq, true
		}
	}
	return 0, false
}

// squareAttacked reports whether any piece of color `by` attacks sq.
func squareAttacked(board *nchess.Board, sq nchess.Square, by nchess.Color) bool {
	file := int(sq.File())
	rank := int(sq.Rank())

	// Pawns. White pawns attack one rank up, black pawns one rank down, so
	// the attacker sits on the opposite offset relative to sq.
	pawnRank := rank - 1
	if by == nchess.Black {
		pawnRank = rank + 1
	}
	for _, df := range []int{-1, 1} {
		if pieceAt(board, file+df, pawnRank, by, nchess.Pawn) {
			return true
		}
	}

	// Knights.
	knightOffsets := [8][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}}
	for _, o := range knightOffsets {
		if pieceAt(board, file+o[0], rank+o[1], by, nchess.Knight) {
			return true
		}
	}

	// Adjacent enemy king.
	for df := -1; df <= 1; df++ {
		for dr := -1; dr <= 1; dr++ {
			if df == 0 && dr == 0 {
				continue
			}
			if pieceAt(board, file+df, rank+dr, by, nchess.King) {
				return true
			}
		}
	}

	// Sliding pieces along ranks/files then diagonals.
	straight := [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	if rayAttacked(board, file, rank, straight, by, nchess.Rook) {
		return true
	}
	diagonal := [4][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
	return rayAttacked(board, file, rank, diagonal, by, nchess.Bishop)
}

// rayAttacked walks each direction until a piece blocks it; a queen or the
// given slider of color `by` at the first occupied square attacks the origin.
func rayAttacked(board *nchess.Board, file, rank int, dirs [4][2]int, by nchess.Color, slider nchess.PieceType) bool {
	for _, d := range dirs {
		f, r := file+d[0], rank+d[1]
		for onBoard(f, r) {
			piece := board.Piece(squareAt(f, r))
			if piece == nchess.NoPiece {
				f += d[0]
				r += d[1]
				continue
			}
			if piece.Color() == by && (piece.Type() == slider || piece.Type() == nchess.Queen) {
				return true
			}
			break
		}
	}
	return false
}

func pieceAt(board *nchess.Board, file, rank int, color nchess.Color, pt nchess.PieceType) bool {
	if !onBoard(file, rank) {
		return false
	}
	piece := board.Piece(squareAt(file, rank))
	return piece != nchess.NoPiece && piece.Color() == color && piece.Type() == pt
}

func onBoard(file, rank int) bool {
	return file >= int(nchess.FileA) && file <= int(nchess.FileH) &&
		rank >= int(nchess.Rank1) && rank <= int(nchess.Rank8)
}

func squareAt(file, rank int) nchess.Square {
	return nchess.NewSquare(nchess.File(file), nchess.Rank(rank))
}
