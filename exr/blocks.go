package exr

import (
	"errors"
)

// Block addressing errors.
var (
	ErrTileOutOfBounds  = errors.New("exr: tile index out of bounds")
	ErrLevelOutOfBounds = errors.New("exr: level index out of bounds")
)

// LevelIndex identifies one resolution level of a mip/rip pyramid. For
// LevelModeOne and LevelModeMipmap, X and Y are always equal.
type LevelIndex struct {
	X, Y int
}

// TileCoordinates identifies a tile within a level by its column/row index.
type TileCoordinates struct {
	TileIndex  V2i
	Level      LevelIndex
}

// BlockIndex identifies one block (scanline group or tile) of a header's
// pixel data: which layer it belongs to, its absolute pixel rectangle, and
// its resolution level.
type BlockIndex struct {
	Layer         int
	PixelPosition V2i
	PixelSize     V2i
	Level         LevelIndex
}

// Levels returns every resolution level of the header's tile pyramid, in
// canonical order: Singular yields [(0,0)]; Mipmap yields the square levels
// [(0,0), (1,1), ...]; Ripmap yields every (lx, ly) pair with ly the outer
// loop, matching the row-major level order OpenEXR readers and writers use.
func (h *Header) Levels() []LevelIndex {
	td := h.TileDescription()
	if td == nil {
		return []LevelIndex{{0, 0}}
	}
	switch td.Mode {
	case LevelModeMipmap:
		n := h.NumXLevels()
		out := make([]LevelIndex, n)
		for i := range out {
			out[i] = LevelIndex{i, i}
		}
		return out
	case LevelModeRipmap:
		nx, ny := h.NumXLevels(), h.NumYLevels()
		out := make([]LevelIndex, 0, nx*ny)
		for ly := 0; ly < ny; ly++ {
			for lx := 0; lx < nx; lx++ {
				out = append(out, LevelIndex{lx, ly})
			}
		}
		return out
	default:
		return []LevelIndex{{0, 0}}
	}
}

// LevelBounds returns the absolute pixel rectangle covered by the given
// level: the header's data window origin, with size LevelWidth(level.X) x
// LevelHeight(level.Y).
func (h *Header) LevelBounds(level LevelIndex) Box2i {
	dw := h.DataWindow()
	w := h.LevelWidth(level.X)
	ht := h.LevelHeight(level.Y)
	return Box2i{
		Min: dw.Min,
		Max: V2i{dw.Min.X + int32(w) - 1, dw.Min.Y + int32(ht) - 1},
	}
}

// TileBounds returns the absolute pixel rectangle of tile (tx, ty) within
// the given level, clipped to the level's bounds the way the rightmost and
// bottommost tiles in a row/column are clipped.
func (h *Header) TileBounds(level LevelIndex, tx, ty int) (Box2i, error) {
	td := h.TileDescription()
	if td == nil {
		return Box2i{}, ErrTileOutOfBounds
	}
	if tx < 0 || ty < 0 || tx >= h.NumXTiles(level.X) || ty >= h.NumYTiles(level.Y) {
		return Box2i{}, ErrTileOutOfBounds
	}

	lb := h.LevelBounds(level)
	tw, th := int(td.XSize), int(td.YSize)

	x0 := lb.Min.X + int32(tx*tw)
	y0 := lb.Min.Y + int32(ty*th)
	x1 := x0 + int32(tw) - 1
	if x1 > lb.Max.X {
		x1 = lb.Max.X
	}
	y1 := y0 + int32(th) - 1
	if y1 > lb.Max.Y {
		y1 = lb.Max.Y
	}

	return Box2i{Min: V2i{x0, y0}, Max: V2i{x1, y1}}, nil
}

// OrderedBlockIndices returns this header's blocks in canonical
// (increasing-y, level-major) order: for tiled headers, levels in Levels()
// order with tiles enumerated row-major within each level; for scanline
// headers, successive scanline groups of Compression().ScanlinesPerChunk()
// lines. This is also the order of the header's chunk offset table: offset
// table entry i always refers to OrderedBlockIndices(layer)[i], regardless
// of the header's LineOrder (which only affects the physical byte order
// chunks are written in, not this logical index).
func (h *Header) OrderedBlockIndices(layer int) []BlockIndex {
	if h.IsTiled() {
		var out []BlockIndex
		for _, level := range h.Levels() {
			nx, ny := h.NumXTiles(level.X), h.NumYTiles(level.Y)
			for ty := 0; ty < ny; ty++ {
				for tx := 0; tx < nx; tx++ {
					bounds, err := h.TileBounds(level, tx, ty)
					if err != nil {
						continue
					}
					out = append(out, BlockIndex{
						Layer:         layer,
						PixelPosition: bounds.Min,
						PixelSize:     V2i{bounds.Width(), bounds.Height()},
						Level:         level,
					})
				}
			}
		}
		return out
	}

	dw := h.DataWindow()
	width := int(dw.Width())
	height := int(dw.Height())
	spc := h.Compression().ScanlinesPerChunk()
	if spc <= 0 {
		spc = 1
	}

	var out []BlockIndex
	for y := 0; y < height; y += spc {
		rows := spc
		if y+rows > height {
			rows = height - y
		}
		out = append(out, BlockIndex{
			Layer:         layer,
			PixelPosition: V2i{dw.Min.X, dw.Min.Y + int32(y)},
			PixelSize:     V2i{int32(width), int32(rows)},
			Level:         LevelIndex{0, 0},
		})
	}
	return out
}

// HeaderBlockIndex pairs a BlockIndex with its position within its owning
// header's chunk stream and the header's index in the file.
type HeaderBlockIndex struct {
	HeaderIndex   int
	IndexInHeader int
	Block         BlockIndex
}

// EnumerateOrderedHeaderBlockIndices returns every block every header in
// headers must contain, each tagged with its header and in-header chunk
// index, in each header's canonical order, which does not depend on
// LineOrder.
func EnumerateOrderedHeaderBlockIndices(headers []*Header) []HeaderBlockIndex {
	var out []HeaderBlockIndex
	for hi, h := range headers {
		for i, b := range h.OrderedBlockIndices(hi) {
			out = append(out, HeaderBlockIndex{HeaderIndex: hi, IndexInHeader: i, Block: b})
		}
	}
	return out
}
