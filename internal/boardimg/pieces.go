package boardimg

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	xdraw "golang.org/x/image/draw"
)

// Piece glyphs are inline SVG shapes in a 45x45 view box, rasterized at 2x
// and downscaled for smoother edges. Rendered images are cached per piece and
// size since every board reuses the same twelve sprites.

type pieceCacheKey struct {
	piece nchess.Piece
	size  int
}

var (
	pieceCache   = map[pieceCacheKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

const (
	whiteFill   = "#f8f8f8"
	whiteStroke = "#2b2b2b"
	blackFill   = "#2b2b2b"
	blackStroke = "#e8e8e8"
)

var pieceShapes = map[nchess.PieceType]string{
	nchess.Pawn: `<circle cx="22.5" cy="13" r="6"/>` +
		`<path d="M 16,36 C 16,28 19,24 22.5,22 C 26,24 29,28 29,36 Z"/>` +
		`<rect x="12" y="36" width="21" height="4" rx="1.5"/>`,
	nchess.Rook: `<path d="M 11,39 L 11,33 L 14,30 L 14,14 L 11,14 L 11,8 L 16,8 L 16,11 L 20,11 L 20,8 L 25,8 L 25,11 L 29,11 L 29,8 L 34,8 L 34,14 L 31,14 L 31,30 L 34,33 L 34,39 Z"/>`,
	nchess.Knight: `<path d="M 14,39 C 14,28 16,24 20,20 C 17,20 14,22 12,20 C 11,18 14,13 18,10 C 20,8.5 23,7.5 26,8 L 27,5 L 29,9 C 33,12 34,19 34,27 L 34,39 Z"/>` +
		`<circle cx="25" cy="12.5" r="1.4" fill="%s"/>`,
	nchess.Bishop: `<path d="M 22.5,7 C 26,11 29,15 29,20 C 29,24 26.5,27 22.5,27 C 18.5,27 16,24 16,20 C 16,15 19,11 22.5,7 Z"/>` +
		`<path d="M 17,30 L 28,30 L 30,36 L 15,36 Z"/>` +
		`<rect x="13" y="37" width="19" height="3.5" rx="1.5"/>` +
		`<circle cx="22.5" cy="5.5" r="2"/>`,
	nchess.Queen: `<path d="M 11,36 L 8,14 L 15,22 L 18,10 L 22.5,20 L 27,10 L 30,22 L 37,14 L 34,36 Z"/>` +
		`<circle cx="8" cy="12" r="2"/><circle cx="18" cy="8" r="2"/><circle cx="27" cy="8" r="2"/><circle cx="37" cy="12" r="2"/>` +
		`<rect x="10" y="37" width="25" height="3.5" rx="1.5"/>`,
	nchess.King: `<rect x="21" y="4" width="3" height="9"/>` +
		`<rect x="18" y="7" width="9" height="3"/>` +
		`<path d="M 22.5,15 C 27,11 34,13 34,19 C 34,24 28,28 22.5,32 C 17,28 11,24 11,19 C 11,13 18,11 22.5,15 Z"/>` +
		`<path d="M 14,33 L 31,33 L 33,39 L 12,39 Z"/>`,
}

func renderPieceImage(piece nchess.Piece, size int) (image.Image, error) {
	key := pieceCacheKey{piece: piece, size: size}

	pieceCacheMu.RLock()
	if img, ok := pieceCache[key]; ok {
		pieceCacheMu.RUnlock()
		return img, nil
	}
	pieceCacheMu.RUnlock()

	data := pieceSVG(piece)
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}

	// Rasterize at 2x, then box-filter down for antialiasing.
	big := size * 2
	icon.SetTarget(0, 0, float64(big), float64(big))

	raw := image.NewRGBA(image.Rect(0, 0, big, big))
	draw.Draw(raw, raw.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(big, big, raw, raw.Bounds())
	raster := rasterx.NewDasher(big, big, scanner)
	icon.Draw(raster, 1.0)

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.CatmullRom.Scale(img, img.Bounds(), raw, raw.Bounds(), xdraw.Over, nil)

	pieceCacheMu.Lock()
	pieceCache[key] = img
	pieceCacheMu.Unlock()

	return img, nil
}

func pieceSVG(piece nchess.Piece) []byte {
	fill, stroke := whiteFill, whiteStroke
	if piece.Color() == nchess.Black {
		fill, stroke = blackFill, blackStroke
	}
	shape := pieceShapes[piece.Type()]
	if piece.Type() == nchess.Knight {
		// The knight's eye uses the stroke color as its fill.
		shape = fmt.Sprintf(shape, stroke)
	}
	var b bytes.Buffer
	fmt.Fprintf(&b,
		`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45"><g fill="%s" stroke="%s" stroke-width="1.5" stroke-linejoin="round">%s</g></svg>`,
		fill, stroke, shape,
	)
	return b.Bytes()
}
