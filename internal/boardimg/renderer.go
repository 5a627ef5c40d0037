// Package boardimg renders a position as a PNG for clients that want a
// server-drawn board (bots, chat embeds, thumbnails).
package boardimg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"

	nchess "github.com/corentings/chess/v2"
)

// Options select optional overlays.
type Options struct {
	// LastFrom/LastTo highlight the most recent move when both are set.
	LastFrom string
	LastTo   string
}

var (
	lightSquare   = color.RGBA{233, 207, 163, 255}
	darkSquare    = color.RGBA{187, 136, 96, 255}
	highlightFill = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
)

const (
	squareSize   = 72
	boardSquares = 8
	boardSize    = squareSize * boardSquares
)

// RenderPNG draws the position in fen as an 8x8 board PNG, white at the
// bottom.
func RenderPNG(ctx context.Context, fen string, opts Options) ([]byte, error) {
	fenOpt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen: %w", err)
	}
	game := nchess.NewGame(fenOpt)
	board := game.Position().Board()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img := image.NewRGBA(image.Rect(0, 0, boardSize, boardSize))
	drawSquares(img)
	drawLastMove(img, opts)
	if err := drawPieces(img, board); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func drawSquares(dst imagedraw.Image) {
	for row := 0; row < boardSquares; row++ {
		for col := 0; col < boardSquares; col++ {
			x := col * squareSize
			y := row * squareSize
			clr := lightSquare
			if (row+col)%2 == 1 {
				clr = darkSquare
			}
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func drawLastMove(img *image.RGBA, opts Options) {
	if opts.LastFrom == "" || opts.LastTo == "" {
		return
	}
	for _, name := range []string{opts.LastFrom, opts.LastTo} {
		rect, ok := squareRectByName(name)
		if !ok {
			continue
		}
		imagedraw.Draw(img, rect, image.NewUniform(highlightFill), image.Point{}, imagedraw.Over)
	}
}

func drawPieces(dst imagedraw.Image, board *nchess.Board) error {
	for sq, piece := range board.SquareMap() {
		if piece == nchess.NoPiece {
			continue
		}
		img, err := renderPieceImage(piece, squareSize)
		if err != nil {
			return err
		}
		rect := squareRect(sq)
		imagedraw.Draw(dst, rect, img, image.Point{}, imagedraw.Over)
	}
	return nil
}

func squareRect(sq nchess.Square) image.Rectangle {
	col := int(sq.File())
	row := 7 - int(sq.Rank())
	x := col * squareSize
	y := row * squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func squareRectByName(name string) (image.Rectangle, bool) {
	if len(name) != 2 {
		return image.Rectangle{}, false
	}
	file := int(name[0] - 'a')
	rank := int(name[1] - '1')
	if file < 0 || file > 7 || rank < 0 || rank > 7 {
		return image.Rectangle{}, false
	}
	col := file
	row := 7 - rank
	x := col * squareSize
	y := row * squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize), true
}
