package exr

import (
	"encoding/binary"
	"errors"
	"fmt"

	codec "github.com/mrjoshuak/exrcore/codec"
	"github.com/mrjoshuak/exrcore/internal/predictor"
)

// Deep-data block codec errors.
var (
	ErrDeepDataCorrupt            = errors.New("exr: deep data corrupted")
	ErrDeepTableSizeMismatch      = errors.New("exr: decompressed pixel offset table size mismatch")
	ErrDeepSampleDataMismatch     = errors.New("exr: decompressed deep sample data size mismatch")
	ErrDeepCompressionUnsupported = errors.New("exr: compression unsupported for deep data")
)

// UncompressedDeepBlock is one decoded deep block: the rectangle it covers,
// its cumulative per-pixel sample counts, and its sample payload.
//
// PixelOffsetTable is a cumulative count in row-major pixel order:
// PixelOffsetTable[i] is the total number of samples across pixels 0..=i of
// the block. Its length equals the block's pixel count
// (Index.PixelSize.X * Index.PixelSize.Y); its last entry is the block's
// total sample count.
//
// SampleData is channel-major, pixel-major, sample-major, in native endian:
// for each channel in the header's channel order, for each pixel in
// row-major block order, for each of that pixel's samples, one sample
// value.
type UncompressedDeepBlock struct {
	Index            BlockIndex
	PixelOffsetTable []int32
	SampleData       []byte
}

// IsDeepCompressionSupported reports whether c may appear on a deep header.
// Unlike flat blocks, PIZ, PXR24, DWA and B44/B44A have no deep sample-data
// codec; only the byte-oriented families do.
func IsDeepCompressionSupported(c Compression) bool {
	switch c {
	case CompressionNone, CompressionRLE, CompressionZIPS, CompressionZIP:
		return true
	default:
		return false
	}
}

// totalSamples returns a pixel offset table's last (cumulative) entry, or 0
// for an empty table.
func totalSamples(table []int32) int {
	if len(table) == 0 {
		return 0
	}
	return int(table[len(table)-1])
}

// deepSampleDataSize returns the number of sample-data bytes a block with
// the given channel list and total sample count occupies, summing each
// channel's per-sample size across every sample.
func deepSampleDataSize(cl *ChannelList, samples int) int {
	size := 0
	for _, c := range cl.Channels() {
		size += c.Type.Size() * samples
	}
	return size
}

// packOffsetTable serializes a pixel offset table to little-endian int32s,
// the form the pixel-offset-table codec operates on.
func packOffsetTable(table []int32) []byte {
	out := make([]byte, len(table)*4)
	for i, v := range table {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
	}
	return out
}

// unpackOffsetTable inverts packOffsetTable, requiring exactly count entries.
func unpackOffsetTable(data []byte, count int) ([]int32, error) {
	if len(data) != count*4 {
		return nil, ErrDeepTableSizeMismatch
	}
	out := make([]int32, count)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

// CompressDeepBlock compresses a block's pixel offset table and sample data
// for a deep header. The offset table is always zlib-compressed regardless
// of the header's declared compression, per the deep codec's fixed wire
// contract; the sample data uses the header's compression, restricted to
// the codecs IsDeepCompressionSupported allows.
func CompressDeepBlock(h *Header, table []int32, sampleData []byte) (compressedTable, compressedSamples []byte, err error) {
	comp := h.Compression()
	if !IsDeepCompressionSupported(comp) {
		return nil, nil, fmt.Errorf("%w: compression %d", ErrDeepCompressionUnsupported, comp)
	}

	rawTable := packOffsetTable(table)
	compressedTable, err = codec.ZIPCompressLevel(rawTable, compressionLevelFor(h))
	if err != nil {
		return nil, nil, err
	}
	compressedTable = storeIfNotSmaller(compressedTable, rawTable)

	switch comp {
	case CompressionNone:
		out, err := GetBufferWithError(len(sampleData))
		if err != nil {
			return nil, nil, err
		}
		copy(out, sampleData)
		return compressedTable, out, nil

	case CompressionRLE:
		encoded, err := GetBufferWithError(len(sampleData))
		if err != nil {
			return nil, nil, err
		}
		defer PutBuffer(encoded)
		copy(encoded, sampleData)
		predictor.Encode(encoded)
		return compressedTable, storeIfNotSmaller(codec.RLECompress(encoded), sampleData), nil

	case CompressionZIPS, CompressionZIP:
		encoded, err := GetBufferWithError(len(sampleData))
		if err != nil {
			return nil, nil, err
		}
		defer PutBuffer(encoded)
		copy(encoded, sampleData)
		predictor.Encode(encoded)
		interleaved := codec.Interleave(encoded)
		out, err := codec.ZIPCompressLevel(interleaved, compressionLevelFor(h))
		if err != nil {
			return nil, nil, err
		}
		return compressedTable, storeIfNotSmaller(out, sampleData), nil

	default:
		return nil, nil, fmt.Errorf("%w: compression %d", ErrDeepCompressionUnsupported, comp)
	}
}

// DecompressDeepBlock inverts CompressDeepBlock. pixelCount is the block's
// pixel count, used to size the offset table; the sample data's expected
// decompressed size is derived internally from the decompressed table's
// total sample count and the header's channels, since the wire format
// carries no independent decompressed-size field for it.
func DecompressDeepBlock(h *Header, compressedTable []byte, pixelCount int, compressedSamples []byte) ([]int32, []byte, error) {
	comp := h.Compression()
	if !IsDeepCompressionSupported(comp) {
		return nil, nil, fmt.Errorf("%w: compression %d", ErrDeepCompressionUnsupported, comp)
	}

	rawTableSize := pixelCount * 4
	var rawTable []byte
	if len(compressedTable) == rawTableSize {
		rawTable = make([]byte, rawTableSize)
		copy(rawTable, compressedTable)
	} else {
		decoded, err := codec.ZIPDecompress(compressedTable, rawTableSize)
		if err != nil {
			return nil, nil, err
		}
		rawTable = decoded
	}
	table, err := unpackOffsetTable(rawTable, pixelCount)
	if err != nil {
		return nil, nil, err
	}

	expectedSampleSize := deepSampleDataSize(h.Channels(), totalSamples(table))
	var sampleData []byte
	switch {
	case len(compressedSamples) == expectedSampleSize:
		out, err := GetBufferWithError(expectedSampleSize)
		if err != nil {
			return nil, nil, err
		}
		copy(out, compressedSamples)
		sampleData = out

	case comp == CompressionNone:
		return nil, nil, ErrDeepSampleDataMismatch

	case comp == CompressionRLE:
		decoded, err := codec.RLEDecompress(compressedSamples, expectedSampleSize)
		if err != nil {
			return nil, nil, err
		}
		predictor.Decode(decoded)
		sampleData = decoded

	case comp == CompressionZIPS || comp == CompressionZIP:
		decoded, err := codec.ZIPDecompress(compressedSamples, expectedSampleSize)
		if err != nil {
			return nil, nil, err
		}
		deinterleaved := codec.Deinterleave(decoded)
		predictor.Decode(deinterleaved)
		sampleData = deinterleaved

	default:
		return nil, nil, fmt.Errorf("%w: compression %d", ErrDeepCompressionUnsupported, comp)
	}

	if len(sampleData) != expectedSampleSize {
		return nil, nil, ErrDeepSampleDataMismatch
	}
	return table, sampleData, nil
}
