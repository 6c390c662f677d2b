package exr

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mrjoshuak/exrcore/internal/xdr"
)

// Header errors.
var (
	ErrHeaderMissingChannels  = errors.New("exr: header missing channels attribute")
	ErrHeaderEmptyChannels    = errors.New("exr: header has no channels")
	ErrHeaderMissingAttribute = errors.New("exr: header missing required attribute")
	ErrHeaderEmptyDataWindow  = errors.New("exr: header data window is empty")
)

// Standard attribute names, used both as map keys in Header and by callers
// that want to inspect a header generically via Get/Has.
const (
	AttrNameChannels           = "channels"
	AttrNameCompression        = "compression"
	AttrNameDataWindow         = "dataWindow"
	AttrNameDisplayWindow      = "displayWindow"
	AttrNameLineOrder          = "lineOrder"
	AttrNamePixelAspectRatio   = "pixelAspectRatio"
	AttrNameScreenWindowCenter = "screenWindowCenter"
	AttrNameScreenWindowWidth  = "screenWindowWidth"
	AttrNameTiles              = "tiles"
	AttrNameName               = "name"
	AttrNameType               = "type"
	AttrNameVersion            = "version"
	AttrNameChunkCount         = "chunkCount"
	AttrNameMaxSamplesPerPixel = "maxSamplesPerPixel"
)

// PartType is the value of a multi-part header's "type" attribute,
// identifying the shape of the chunks it contributes to the file.
type PartType string

const (
	PartTypeScanLine     PartType = "scanlineimage"
	PartTypeTile         PartType = "tiledimage"
	PartTypeDeepScanLine PartType = "deepscanline"
	PartTypeDeepTile     PartType = "deeptile"
)

// IsDeep reports whether the part type carries deep (variable sample
// count) pixels.
func (pt PartType) IsDeep() bool {
	return pt == PartTypeDeepScanLine || pt == PartTypeDeepTile
}

// IsTiled reports whether the part type addresses pixels by tile.
func (pt PartType) IsTiled() bool {
	return pt == PartTypeTile || pt == PartTypeDeepTile
}

// Name returns the header's part name. Required when a file has multiple
// parts; empty for single-part files that omit it.
func (h *Header) Name() string {
	if attr := h.Get(AttrNameName); attr != nil {
		return attr.Value.(string)
	}
	return ""
}

// SetName sets the header's part name.
func (h *Header) SetName(name string) {
	h.Set(&Attribute{Name: AttrNameName, Type: AttrTypeString, Value: name})
}

// Type returns the header's part type, or "" if unset (implying a
// single-part scanline image).
func (h *Header) Type() PartType {
	if attr := h.Get(AttrNameType); attr != nil {
		return PartType(attr.Value.(string))
	}
	return ""
}

// SetType sets the header's part type.
func (h *Header) SetType(pt PartType) {
	h.Set(&Attribute{Name: AttrNameType, Type: AttrTypeString, Value: string(pt)})
}

// IsDeep reports whether the header's part type is one of the deep kinds.
func (h *Header) IsDeep() bool {
	return h.Type().IsDeep()
}

// ChunkCount returns the header's explicit "chunkCount" attribute value,
// and whether it was present. Multi-part files must carry this attribute;
// single-part files normally omit it and derive the count from
// ChunksInFile instead.
func (h *Header) ChunkCount() (int, bool) {
	if attr := h.Get(AttrNameChunkCount); attr != nil {
		return int(attr.Value.(int32)), true
	}
	return 0, false
}

// SetChunkCount sets the header's explicit "chunkCount" attribute.
func (h *Header) SetChunkCount(count int) {
	h.Set(&Attribute{Name: AttrNameChunkCount, Type: AttrTypeInt, Value: int32(count)})
}

// DeepDataVersion returns the header's "version" attribute (the deep data
// format version; its value is not checked when reading), and whether it
// was present.
func (h *Header) DeepDataVersion() (int, bool) {
	if attr := h.Get(AttrNameVersion); attr != nil {
		return int(attr.Value.(int32)), true
	}
	return 0, false
}

// SetDeepDataVersion sets the header's deep data format version.
func (h *Header) SetDeepDataVersion(version int) {
	h.Set(&Attribute{Name: AttrNameVersion, Type: AttrTypeInt, Value: int32(version)})
}

// MaxSamplesPerPixel returns the header's "maxSamplesPerPixel" attribute,
// and whether it was present. Optional even on deep headers.
func (h *Header) MaxSamplesPerPixel() (int, bool) {
	if attr := h.Get(AttrNameMaxSamplesPerPixel); attr != nil {
		return int(attr.Value.(int32)), true
	}
	return 0, false
}

// SetMaxSamplesPerPixel sets the header's "maxSamplesPerPixel" attribute.
func (h *Header) SetMaxSamplesPerPixel(max int) {
	h.Set(&Attribute{Name: AttrNameMaxSamplesPerPixel, Type: AttrTypeInt, Value: int32(max)})
}

// DefaultDWACompressionLevel is the DWA quantization level OpenEXR uses when
// a file does not carry an explicit "dwaCompressionLevel" attribute.
const DefaultDWACompressionLevel = 45.0

// CompressionOptions holds encoder-side knobs that are not part of the EXR
// wire format (they affect how a block is compressed, not what it decodes
// to) and are therefore not attributes.
type CompressionOptions struct {
	// ZIPLevel is the zlib compression level used for ZIP/ZIPS blocks and
	// deep-data zlib streams; PXR24 blocks always use the codec package's
	// default level. -1 selects the codec package's default.
	ZIPLevel int
}

// Header holds the attribute set describing one part of an EXR file: its
// data/display windows, channel list, compression, and any custom
// attributes.
type Header struct {
	attrs map[string]*Attribute

	compressionOptions CompressionOptions

	detectedFLevel    int
	detectedFLevelSet bool
}

// NewHeader returns an empty Header with no attributes set.
func NewHeader() *Header {
	return &Header{
		attrs:               make(map[string]*Attribute),
		compressionOptions:  CompressionOptions{ZIPLevel: -1},
	}
}

// NewScanlineHeader returns a Header for a scanline image of the given
// dimensions, with sensible defaults: ZIP compression, increasing line
// order, a unit pixel aspect ratio and screen window, and an R/G/B half
// channel list.
func NewScanlineHeader(width, height int) *Header {
	h := NewHeader()
	dw := Box2i{Min: V2i{0, 0}, Max: V2i{int32(width - 1), int32(height - 1)}}
	h.SetDataWindow(dw)
	h.SetDisplayWindow(dw)
	h.SetCompression(CompressionZIP)
	h.SetLineOrder(LineOrderIncreasing)
	h.SetPixelAspectRatio(1.0)
	h.SetScreenWindowCenter(V2f{0, 0})
	h.SetScreenWindowWidth(1.0)

	cl := NewChannelList()
	cl.Add(NewChannel("R", PixelTypeHalf))
	cl.Add(NewChannel("G", PixelTypeHalf))
	cl.Add(NewChannel("B", PixelTypeHalf))
	h.SetChannels(cl)

	return h
}

// NewTiledHeader returns a Header for a single-resolution tiled image.
func NewTiledHeader(width, height, tileWidth, tileHeight int) *Header {
	h := NewScanlineHeader(width, height)
	h.SetTileDescription(TileDescription{
		XSize:        uint32(tileWidth),
		YSize:        uint32(tileHeight),
		Mode:         LevelModeOne,
		RoundingMode: LevelRoundDown,
	})
	return h
}

// NewMipmapTiledHeader returns a Header for a mipmapped tiled image.
func NewMipmapTiledHeader(width, height, tileWidth, tileHeight int) *Header {
	h := NewScanlineHeader(width, height)
	h.SetTileDescription(TileDescription{
		XSize:        uint32(tileWidth),
		YSize:        uint32(tileHeight),
		Mode:         LevelModeMipmap,
		RoundingMode: LevelRoundDown,
	})
	return h
}

// NewRipmapTiledHeader returns a Header for a ripmapped tiled image.
func NewRipmapTiledHeader(width, height, tileWidth, tileHeight int) *Header {
	h := NewScanlineHeader(width, height)
	h.SetTileDescription(TileDescription{
		XSize:        uint32(tileWidth),
		YSize:        uint32(tileHeight),
		Mode:         LevelModeRipmap,
		RoundingMode: LevelRoundDown,
	})
	return h
}

// Set stores an attribute, replacing any existing attribute of the same name.
func (h *Header) Set(attr *Attribute) {
	h.attrs[attr.Name] = attr
}

// Get returns the attribute with the given name, or nil if absent.
func (h *Header) Get(name string) *Attribute {
	return h.attrs[name]
}

// Has reports whether an attribute with the given name is present.
func (h *Header) Has(name string) bool {
	_, ok := h.attrs[name]
	return ok
}

// Remove deletes the attribute with the given name, if present.
func (h *Header) Remove(name string) {
	delete(h.attrs, name)
}

// Attributes returns all attributes in the header, in unspecified order.
func (h *Header) Attributes() []*Attribute {
	out := make([]*Attribute, 0, len(h.attrs))
	for _, a := range h.attrs {
		out = append(out, a)
	}
	return out
}

// sortedAttributeNames returns attribute names in alphabetical order, the
// order WriteHeader serializes them in so that two calls on an unchanged
// header always produce identical bytes.
func (h *Header) sortedAttributeNames() []string {
	names := make([]string, 0, len(h.attrs))
	for n := range h.attrs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Channels returns the header's channel list, or nil if unset.
func (h *Header) Channels() *ChannelList {
	if attr := h.Get("channels"); attr != nil {
		return attr.Value.(*ChannelList)
	}
	return nil
}

// SetChannels sets the header's channel list.
func (h *Header) SetChannels(cl *ChannelList) {
	h.Set(&Attribute{Name: "channels", Type: AttrTypeChlist, Value: cl})
}

// Compression returns the header's compression method, defaulting to
// CompressionNone when unset.
func (h *Header) Compression() Compression {
	if attr := h.Get("compression"); attr != nil {
		return attr.Value.(Compression)
	}
	return CompressionNone
}

// SetCompression sets the header's compression method.
func (h *Header) SetCompression(c Compression) {
	h.Set(&Attribute{Name: "compression", Type: AttrTypeCompression, Value: c})
}

// DataWindow returns the header's data window, the zero Box2i when unset.
func (h *Header) DataWindow() Box2i {
	if attr := h.Get("dataWindow"); attr != nil {
		return attr.Value.(Box2i)
	}
	return Box2i{}
}

// SetDataWindow sets the header's data window.
func (h *Header) SetDataWindow(b Box2i) {
	h.Set(&Attribute{Name: "dataWindow", Type: AttrTypeBox2i, Value: b})
}

// DisplayWindow returns the header's display window, the zero Box2i when unset.
func (h *Header) DisplayWindow() Box2i {
	if attr := h.Get("displayWindow"); attr != nil {
		return attr.Value.(Box2i)
	}
	return Box2i{}
}

// SetDisplayWindow sets the header's display window.
func (h *Header) SetDisplayWindow(b Box2i) {
	h.Set(&Attribute{Name: "displayWindow", Type: AttrTypeBox2i, Value: b})
}

// LineOrder returns the header's scanline order, defaulting to
// LineOrderIncreasing when unset.
func (h *Header) LineOrder() LineOrder {
	if attr := h.Get("lineOrder"); attr != nil {
		return attr.Value.(LineOrder)
	}
	return LineOrderIncreasing
}

// SetLineOrder sets the header's scanline order.
func (h *Header) SetLineOrder(lo LineOrder) {
	h.Set(&Attribute{Name: "lineOrder", Type: AttrTypeLineOrder, Value: lo})
}

// PixelAspectRatio returns the header's pixel aspect ratio, defaulting to
// 1.0 when unset.
func (h *Header) PixelAspectRatio() float32 {
	if attr := h.Get("pixelAspectRatio"); attr != nil {
		return attr.Value.(float32)
	}
	return 1.0
}

// SetPixelAspectRatio sets the header's pixel aspect ratio.
func (h *Header) SetPixelAspectRatio(ratio float32) {
	h.Set(&Attribute{Name: "pixelAspectRatio", Type: AttrTypeFloat, Value: ratio})
}

// ScreenWindowCenter returns the header's screen window center, the zero
// V2f when unset.
func (h *Header) ScreenWindowCenter() V2f {
	if attr := h.Get("screenWindowCenter"); attr != nil {
		return attr.Value.(V2f)
	}
	return V2f{}
}

// SetScreenWindowCenter sets the header's screen window center.
func (h *Header) SetScreenWindowCenter(v V2f) {
	h.Set(&Attribute{Name: "screenWindowCenter", Type: AttrTypeV2f, Value: v})
}

// ScreenWindowWidth returns the header's screen window width, defaulting to
// 1.0 when unset.
func (h *Header) ScreenWindowWidth() float32 {
	if attr := h.Get("screenWindowWidth"); attr != nil {
		return attr.Value.(float32)
	}
	return 1.0
}

// SetScreenWindowWidth sets the header's screen window width.
func (h *Header) SetScreenWindowWidth(w float32) {
	h.Set(&Attribute{Name: "screenWindowWidth", Type: AttrTypeFloat, Value: w})
}

// IsTiled reports whether the header carries a tile description.
func (h *Header) IsTiled() bool {
	return h.Has("tiles")
}

// SetTileDescription marks the header as tiled with the given description.
func (h *Header) SetTileDescription(td TileDescription) {
	h.Set(&Attribute{Name: "tiles", Type: AttrTypeTileDesc, Value: td})
}

// TileDescription returns the header's tile description, or nil if the
// header is not tiled.
func (h *Header) TileDescription() *TileDescription {
	attr := h.Get("tiles")
	if attr == nil {
		return nil
	}
	td := attr.Value.(TileDescription)
	return &td
}

// Width returns the data window's width in pixels.
func (h *Header) Width() int {
	return int(h.DataWindow().Width())
}

// Height returns the data window's height in pixels.
func (h *Header) Height() int {
	return int(h.DataWindow().Height())
}

// DWACompressionLevel returns the DWA quantization level, defaulting to
// DefaultDWACompressionLevel when unset.
func (h *Header) DWACompressionLevel() float64 {
	if attr := h.Get("dwaCompressionLevel"); attr != nil {
		return float64(attr.Value.(float32))
	}
	return DefaultDWACompressionLevel
}

// SetDWACompressionLevel sets the DWA quantization level.
func (h *Header) SetDWACompressionLevel(level float64) {
	h.Set(&Attribute{Name: "dwaCompressionLevel", Type: AttrTypeFloat, Value: float32(level)})
}

// ZIPLevel returns the zlib compression level used for ZIP/ZIPS blocks and
// deep-data zlib streams (PXR24 blocks always use the codec package's
// default). This is encoder-side configuration, not a wire attribute.
func (h *Header) ZIPLevel() int {
	return h.compressionOptions.ZIPLevel
}

// SetZIPLevel sets the zlib compression level.
func (h *Header) SetZIPLevel(level int) {
	h.compressionOptions.ZIPLevel = level
}

// CompressionOptions returns the header's encoder-side compression options.
func (h *Header) CompressionOptions() CompressionOptions {
	return h.compressionOptions
}

// SetCompressionOptions replaces the header's encoder-side compression options.
func (h *Header) SetCompressionOptions(opts CompressionOptions) {
	h.compressionOptions = opts
}

// DetectedFLevel returns the zlib FLEVEL recorded for this header by
// setDetectedFLevel, and whether one has been recorded. This package's
// reader does not record one, so for headers it reads the second result
// is false.
func (h *Header) DetectedFLevel() (int, bool) {
	return h.detectedFLevel, h.detectedFLevelSet
}

// setDetectedFLevel records a zlib FLEVEL for this header.
func (h *Header) setDetectedFLevel(level int) {
	h.detectedFLevel = level
	h.detectedFLevelSet = true
}

// Validate checks that the header carries the attributes required to
// address and decode pixel data: a non-empty channel list, compression,
// both windows, line order, pixel aspect ratio and screen window.
func (h *Header) Validate() error {
	cl := h.Channels()
	if cl == nil {
		return ErrHeaderMissingChannels
	}
	if cl.Len() == 0 {
		return ErrHeaderEmptyChannels
	}
	for _, name := range []string{
		"compression", "dataWindow", "displayWindow", "lineOrder",
		"pixelAspectRatio", "screenWindowCenter", "screenWindowWidth",
	} {
		if !h.Has(name) {
			return fmt.Errorf("%w: %s", ErrHeaderMissingAttribute, name)
		}
	}
	if h.DataWindow().IsEmpty() {
		return ErrHeaderEmptyDataWindow
	}
	return nil
}

// numLevels returns the number of mip/rip levels for a dimension of the
// given full-resolution size, halving (rounding per mode) until reaching 1.
func numLevels(size int, rounding LevelRoundingMode) int {
	if size <= 0 {
		return 0
	}
	levels := 1
	s := size
	for s > 1 {
		if rounding == LevelRoundUp {
			s = (s + 1) / 2
		} else {
			s = s / 2
		}
		levels++
	}
	return levels
}

// levelSize returns the size of a dimension at the given mip/rip level.
func levelSize(full, level int, rounding LevelRoundingMode) int {
	if level <= 0 {
		return full
	}
	s := full
	for i := 0; i < level; i++ {
		if rounding == LevelRoundUp {
			s = (s + 1) / 2
		} else {
			s = s / 2
		}
		if s < 1 {
			s = 1
		}
	}
	return s
}

// NumXLevels returns the number of horizontal resolution levels.
func (h *Header) NumXLevels() int {
	td := h.TileDescription()
	if td == nil {
		return 1
	}
	switch td.Mode {
	case LevelModeOne:
		return 1
	case LevelModeMipmap:
		return numLevels(max(h.Width(), h.Height()), td.RoundingMode)
	case LevelModeRipmap:
		return numLevels(h.Width(), td.RoundingMode)
	default:
		return 1
	}
}

// NumYLevels returns the number of vertical resolution levels.
func (h *Header) NumYLevels() int {
	td := h.TileDescription()
	if td == nil {
		return 1
	}
	switch td.Mode {
	case LevelModeOne:
		return 1
	case LevelModeMipmap:
		return numLevels(max(h.Width(), h.Height()), td.RoundingMode)
	case LevelModeRipmap:
		return numLevels(h.Height(), td.RoundingMode)
	default:
		return 1
	}
}

// LevelWidth returns the pixel width of the image at the given level.
// Levels below 0 are clamped to the full-resolution width.
func (h *Header) LevelWidth(level int) int {
	td := h.TileDescription()
	if td == nil {
		return h.Width()
	}
	return levelSize(h.Width(), level, td.RoundingMode)
}

// LevelHeight returns the pixel height of the image at the given level.
// Levels below 0 are clamped to the full-resolution height.
func (h *Header) LevelHeight(level int) int {
	td := h.TileDescription()
	if td == nil {
		return h.Height()
	}
	return levelSize(h.Height(), level, td.RoundingMode)
}

// NumXTiles returns the number of tile columns at the given level. Returns
// 0 if the header is not tiled.
func (h *Header) NumXTiles(level int) int {
	td := h.TileDescription()
	if td == nil || td.XSize == 0 {
		return 0
	}
	w := h.LevelWidth(level)
	tw := int(td.XSize)
	return (w + tw - 1) / tw
}

// NumYTiles returns the number of tile rows at the given level. Returns 0
// if the header is not tiled.
func (h *Header) NumYTiles(level int) int {
	td := h.TileDescription()
	if td == nil || td.YSize == 0 {
		return 0
	}
	ht := h.LevelHeight(level)
	th := int(td.YSize)
	return (ht + th - 1) / th
}

// ChunksInFile returns the total number of chunks (scanline blocks or
// tiles, across all resolution levels) the header's image is stored in.
func (h *Header) ChunksInFile() int {
	if h.IsTiled() {
		td := h.TileDescription()
		if td.Mode == LevelModeRipmap {
			total := 0
			nx, ny := h.NumXLevels(), h.NumYLevels()
			for lx := 0; lx < nx; lx++ {
				for ly := 0; ly < ny; ly++ {
					total += h.NumXTiles(lx) * h.NumYTiles(ly)
				}
			}
			return total
		}
		total := 0
		n := h.NumXLevels()
		for l := 0; l < n; l++ {
			total += h.NumXTiles(l) * h.NumYTiles(l)
		}
		return total
	}
	spc := h.Compression().ScanlinesPerChunk()
	height := h.Height()
	if spc <= 0 {
		spc = 1
	}
	return (height + spc - 1) / spc
}

// WriteHeader serializes the header's attributes in alphabetical order,
// followed by the header terminator (an empty attribute name), matching
// the on-disk format ReadHeader parses.
func WriteHeader(w *xdr.BufferWriter, h *Header) error {
	for _, name := range h.sortedAttributeNames() {
		if err := WriteAttribute(w, h.attrs[name]); err != nil {
			return err
		}
	}
	w.WriteByte(0)
	return nil
}

// ReadHeader parses a header's attribute list, stopping at the header
// terminator (an empty attribute name).
func ReadHeader(r *xdr.Reader) (*Header, error) {
	h := NewHeader()
	for {
		attr, err := ReadAttribute(r)
		if err != nil {
			return nil, err
		}
		if attr == nil {
			return h, nil
		}
		h.attrs[attr.Name] = attr
	}
}

// ReadHeaderFromBytes parses a header from a standalone byte slice.
func ReadHeaderFromBytes(data []byte) (*Header, error) {
	return ReadHeader(xdr.NewReader(data))
}

// SerializeForTest returns the header's WriteHeader output. Exposed for
// tests that need to check serialization determinism without a full file.
func (h *Header) SerializeForTest() []byte {
	w := xdr.NewBufferWriter(1024)
	WriteHeader(w, h)
	return w.Bytes()
}
