package exr

import (
	"errors"
	"io"

	"github.com/mrjoshuak/exrcore/internal/xdr"
)

// File errors.
var (
	ErrFileTooSmall       = errors.New("exr: file too small to contain a header")
	ErrInvalidMagicNumber = errors.New("exr: invalid magic number")
	ErrUnsupportedVersion = errors.New("exr: unsupported file format version")
	ErrInvalidPartIndex   = errors.New("exr: invalid part index")
	ErrInvalidChunkIndex  = errors.New("exr: invalid chunk index")
)

// MagicNumber is the four bytes every EXR file begins with.
var MagicNumber = []byte{0x76, 0x2f, 0x31, 0x01}

// Version field bit layout: the low byte holds the format version number,
// followed by single-bit flags above it.
const (
	versionFieldTiledFlag     = 1 << 9
	versionFieldLongNameFlag  = 1 << 10
	versionFieldDeepFlag      = 1 << 11
	versionFieldMultiPartFlag = 1 << 12
	versionFieldVersionMask   = 0xff
)

// Version returns the format version number encoded in a file's version field.
func Version(versionField uint32) int {
	return int(versionField & versionFieldVersionMask)
}

// IsTiled reports whether the version field's tiled flag is set.
func IsTiled(versionField uint32) bool {
	return versionField&versionFieldTiledFlag != 0
}

// HasLongNames reports whether the version field's long-names flag is set.
func HasLongNames(versionField uint32) bool {
	return versionField&versionFieldLongNameFlag != 0
}

// IsDeep reports whether the version field's non-image (deep data) flag is set.
func IsDeep(versionField uint32) bool {
	return versionField&versionFieldDeepFlag != 0
}

// IsMultiPart reports whether the version field's multi-part flag is set.
func IsMultiPart(versionField uint32) bool {
	return versionField&versionFieldMultiPartFlag != 0
}

// MakeVersionField packs a version number and flags into a file's version field.
func MakeVersionField(version int, tiled, longNames, deep, multiPart bool) uint32 {
	v := uint32(version) & versionFieldVersionMask
	if tiled {
		v |= versionFieldTiledFlag
	}
	if longNames {
		v |= versionFieldLongNameFlag
	}
	if deep {
		v |= versionFieldDeepFlag
	}
	if multiPart {
		v |= versionFieldMultiPartFlag
	}
	return v
}

// File is a parsed, randomly-addressable EXR file: its magic number and
// version field, every part's header, and every part's chunk offset table.
// Chunk data is read lazily from the backing buffer on demand.
type File struct {
	data         []byte
	versionField uint32
	headers      []*Header
	offsets      [][]int64
}

// OpenReader parses an EXR file's magic number, version field, headers and
// offset tables from r, which must expose size bytes starting at offset 0.
// Chunk reads afterward are served from an in-memory copy of r.
func OpenReader(r io.ReaderAt, size int64) (*File, error) {
	if size < 8 {
		return nil, ErrFileTooSmall
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(r, 0, size), data); err != nil {
		return nil, err
	}

	if data[0] != MagicNumber[0] || data[1] != MagicNumber[1] ||
		data[2] != MagicNumber[2] || data[3] != MagicNumber[3] {
		return nil, ErrInvalidMagicNumber
	}

	versionField := xdr.ByteOrder.Uint32(data[4:8])
	if Version(versionField) != 2 {
		return nil, ErrUnsupportedVersion
	}

	reader := xdr.NewReader(data)
	if err := reader.SetPos(8); err != nil {
		return nil, err
	}

	var headers []*Header
	if IsMultiPart(versionField) {
		for {
			b, err := reader.ReadByte()
			if err != nil {
				return nil, err
			}
			if b == 0 {
				break
			}
			if err := reader.SetPos(reader.Pos() - 1); err != nil {
				return nil, err
			}
			h, err := ReadHeader(reader)
			if err != nil {
				return nil, err
			}
			headers = append(headers, h)
		}
	} else {
		h, err := ReadHeader(reader)
		if err != nil {
			return nil, err
		}
		headers = []*Header{h}
	}

	offsets := make([][]int64, len(headers))
	for i, h := range headers {
		count, ok := h.ChunkCount()
		if !ok {
			count = h.ChunksInFile()
		}
		table := make([]int64, count)
		for j := 0; j < count; j++ {
			v, err := reader.ReadUint64()
			if err != nil {
				return nil, err
			}
			table[j] = int64(v)
		}
		offsets[i] = table
	}

	return &File{
		data:         data,
		versionField: versionField,
		headers:      headers,
		offsets:      offsets,
	}, nil
}

// NumParts returns the number of parts in the file.
func (f *File) NumParts() int {
	return len(f.headers)
}

// Header returns the header for the given part.
func (f *File) Header(part int) *Header {
	return f.headers[part]
}

// Offsets returns the chunk offset table for the given part.
func (f *File) Offsets(part int) []int64 {
	return f.offsets[part]
}

// OffsetsRef is an alias for Offsets, used by callers that read the offset
// table repeatedly in a hot loop.
func (f *File) OffsetsRef(part int) []int64 {
	return f.offsets[part]
}

// VersionField returns the file's raw version field.
func (f *File) VersionField() uint32 {
	return f.versionField
}

// IsMultiPart reports whether the file has the multi-part flag set.
func (f *File) IsMultiPart() bool {
	return IsMultiPart(f.versionField)
}

// IsDeep reports whether the file has the non-image (deep data) flag set.
func (f *File) IsDeep() bool {
	return IsDeep(f.versionField)
}

// chunkReaderAt returns a reader positioned at the chunk offset for
// part/chunkIndex, having consumed the multi-part part-number prefix if present.
func (f *File) chunkReaderAt(part, chunkIndex int) (*xdr.Reader, error) {
	if part < 0 || part >= len(f.offsets) {
		return nil, ErrInvalidPartIndex
	}
	offsets := f.offsets[part]
	if chunkIndex < 0 || chunkIndex >= len(offsets) {
		return nil, ErrInvalidChunkIndex
	}

	r := xdr.NewReader(f.data)
	if err := r.SetPos(int(offsets[chunkIndex])); err != nil {
		return nil, err
	}

	if f.IsMultiPart() {
		if _, err := r.ReadInt32(); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// ReadChunk reads a scanline chunk, returning the first scanline's Y
// coordinate and its (still compressed) pixel data.
func (f *File) ReadChunk(part, chunkIndex int) (int32, []byte, error) {
	r, err := f.chunkReaderAt(part, chunkIndex)
	if err != nil {
		return 0, nil, err
	}

	y, err := r.ReadInt32()
	if err != nil {
		return 0, nil, err
	}
	size, err := r.ReadInt32()
	if err != nil {
		return 0, nil, err
	}
	data, err := r.ReadBytes(int(size))
	if err != nil {
		return 0, nil, err
	}
	return y, data, nil
}

// ReadTileChunk reads a tile chunk, returning its [tileX, tileY, levelX,
// levelY] coordinates and its (still compressed) pixel data.
func (f *File) ReadTileChunk(part, chunkIndex int) ([4]int32, []byte, error) {
	var coords [4]int32

	r, err := f.chunkReaderAt(part, chunkIndex)
	if err != nil {
		return coords, nil, err
	}

	for i := range coords {
		v, err := r.ReadInt32()
		if err != nil {
			return coords, nil, err
		}
		coords[i] = v
	}

	size, err := r.ReadInt32()
	if err != nil {
		return coords, nil, err
	}
	data, err := r.ReadBytes(int(size))
	if err != nil {
		return coords, nil, err
	}
	return coords, data, nil
}

// ReadDeepChunk reads a deep scanline chunk, returning the chunk's first Y
// coordinate, its (still compressed) sample count table, and its (still
// compressed) pixel data.
func (f *File) ReadDeepChunk(part, chunkIndex int) (int32, []byte, []byte, error) {
	r, err := f.chunkReaderAt(part, chunkIndex)
	if err != nil {
		return 0, nil, nil, err
	}

	y, err := r.ReadInt32()
	if err != nil {
		return 0, nil, nil, err
	}
	sampleCountSize, err := r.ReadUint64()
	if err != nil {
		return 0, nil, nil, err
	}
	pixelDataSize, err := r.ReadUint64()
	if err != nil {
		return 0, nil, nil, err
	}
	sampleCountData, err := r.ReadBytes(int(sampleCountSize))
	if err != nil {
		return 0, nil, nil, err
	}
	pixelData, err := r.ReadBytes(int(pixelDataSize))
	if err != nil {
		return 0, nil, nil, err
	}
	return y, sampleCountData, pixelData, nil
}

// ReadDeepTileChunk reads a deep tile chunk, returning its [tileX, tileY,
// levelX, levelY] coordinates, its (still compressed) sample count table,
// and its (still compressed) pixel data.
func (f *File) ReadDeepTileChunk(part, chunkIndex int) ([4]int32, []byte, []byte, error) {
	var coords [4]int32

	r, err := f.chunkReaderAt(part, chunkIndex)
	if err != nil {
		return coords, nil, nil, err
	}

	for i := range coords {
		v, err := r.ReadInt32()
		if err != nil {
			return coords, nil, nil, err
		}
		coords[i] = v
	}

	sampleCountSize, err := r.ReadUint64()
	if err != nil {
		return coords, nil, nil, err
	}
	pixelDataSize, err := r.ReadUint64()
	if err != nil {
		return coords, nil, nil, err
	}
	sampleCountData, err := r.ReadBytes(int(sampleCountSize))
	if err != nil {
		return coords, nil, nil, err
	}
	pixelData, err := r.ReadBytes(int(pixelDataSize))
	if err != nil {
		return coords, nil, nil, err
	}
	return coords, sampleCountData, pixelData, nil
}
