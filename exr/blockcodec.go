package exr

import (
	"errors"
	"fmt"

	codec "github.com/mrjoshuak/exrcore/codec"
	"github.com/mrjoshuak/exrcore/internal/predictor"
)

// Flat block codec errors.
var (
	ErrCompressionUnsupported = errors.New("exr: compression unsupported for this operation")
	ErrBlockSizeMismatch      = errors.New("exr: decompressed block size mismatch")
)

// compressionLevelFor resolves the zlib level a header's CompressionOptions
// requests, falling back to the codec package's default.
func compressionLevelFor(h *Header) codec.CompressionLevel {
	if lvl := h.ZIPLevel(); lvl >= int(codec.CompressionLevelHuffmanOnly) && lvl <= int(codec.CompressionLevelBestSize) {
		return codec.CompressionLevel(lvl)
	}
	return codec.CompressionLevelDefault
}

// storeIfNotSmaller returns uncompressed verbatim when compressed did not
// shrink it, matching the wire contract every codec must honor: a chunk
// whose body length equals its uncompressed size is stored raw.
func storeIfNotSmaller(compressed, uncompressed []byte) []byte {
	if compressed == nil || len(compressed) >= len(uncompressed) {
		out := make([]byte, len(uncompressed))
		copy(out, uncompressed)
		return out
	}
	return compressed
}

// pxr24ChannelInfos builds the per-channel width/height/type descriptors
// PXR24 needs from a block's channel list and scanline count, honoring
// per-channel X/Y subsampling.
func pxr24ChannelInfos(cl *ChannelList, width, rows int) []codec.ChannelInfo {
	infos := make([]codec.ChannelInfo, cl.Len())
	for i, c := range cl.Channels() {
		xs, ys := int(c.XSampling), int(c.YSampling)
		if xs < 1 {
			xs = 1
		}
		if ys < 1 {
			ys = 1
		}
		infos[i] = codec.ChannelInfo{
			Type:   int(c.Type),
			Width:  (width + xs - 1) / xs,
			Height: (rows + ys - 1) / ys,
		}
	}
	return infos
}

// CompressFlatBlock compresses a rectangle of native-endian, per-line
// channel-planar pixel data (the §3 UncompressedBlock layout) using the
// header's declared compression. width/rows describe the block's pixel
// rectangle; data must be exactly cl.BytesPerScanline(width) * rows bytes
// (subsampling aside).
func CompressFlatBlock(h *Header, data []byte, width, rows int) ([]byte, error) {
	cl := h.Channels()
	comp := h.Compression()

	switch comp {
	case CompressionNone:
		out, err := GetBufferWithError(len(data))
		if err != nil {
			return nil, err
		}
		copy(out, data)
		return out, nil

	case CompressionRLE:
		encoded, err := GetBufferWithError(len(data))
		if err != nil {
			return nil, err
		}
		defer PutBuffer(encoded)
		copy(encoded, data)
		predictor.Encode(encoded)
		return storeIfNotSmaller(codec.RLECompress(encoded), data), nil

	case CompressionZIPS, CompressionZIP:
		encoded, err := GetBufferWithError(len(data))
		if err != nil {
			return nil, err
		}
		defer PutBuffer(encoded)
		copy(encoded, data)
		predictor.Encode(encoded)
		interleaved := codec.Interleave(encoded)
		out, err := codec.ZIPCompressLevel(interleaved, compressionLevelFor(h))
		if err != nil {
			return nil, err
		}
		return storeIfNotSmaller(out, data), nil

	case CompressionPXR24:
		infos := pxr24ChannelInfos(cl, width, rows)
		out, err := codec.PXR24Compress(data, infos, width, rows)
		if err != nil {
			return nil, err
		}
		return storeIfNotSmaller(out, data), nil

	case CompressionPIZ:
		wordsPerPixel := bytesToWords(cl.BytesPerPixel())
		out, err := codec.PIZCompressBytes(data, width*wordsPerPixel, rows, 1)
		if err != nil {
			return nil, err
		}
		return storeIfNotSmaller(out, data), nil

	case CompressionDWAA, CompressionDWAB:
		return nil, fmt.Errorf("%w: DWA encode", ErrCompressionUnsupported)

	case CompressionB44, CompressionB44A:
		return nil, fmt.Errorf("%w: B44 encode", ErrCompressionUnsupported)

	default:
		return nil, fmt.Errorf("%w: compression %d", ErrCompressionUnsupported, comp)
	}
}

// DecompressFlatBlock inverts CompressFlatBlock, returning expectedSize
// bytes of native-endian, per-line channel-planar pixel data.
func DecompressFlatBlock(h *Header, compressed []byte, width, rows, expectedSize int) ([]byte, error) {
	cl := h.Channels()
	comp := h.Compression()

	if len(compressed) == expectedSize {
		switch comp {
		case CompressionNone, CompressionRLE, CompressionZIPS, CompressionZIP, CompressionPXR24, CompressionPIZ:
			out, err := GetBufferWithError(expectedSize)
			if err != nil {
				return nil, err
			}
			copy(out, compressed)
			return out, nil
		}
	}

	switch comp {
	case CompressionNone:
		if len(compressed) != expectedSize {
			return nil, ErrBlockSizeMismatch
		}
		out, err := GetBufferWithError(expectedSize)
		if err != nil {
			return nil, err
		}
		copy(out, compressed)
		return out, nil

	case CompressionRLE:
		decoded, err := codec.RLEDecompress(compressed, expectedSize)
		if err != nil {
			return nil, err
		}
		predictor.Decode(decoded)
		return decoded, nil

	case CompressionZIPS, CompressionZIP:
		decoded, err := codec.ZIPDecompress(compressed, expectedSize)
		if err != nil {
			return nil, err
		}
		deinterleaved := codec.Deinterleave(decoded)
		predictor.Decode(deinterleaved)
		return deinterleaved, nil

	case CompressionPXR24:
		infos := pxr24ChannelInfos(cl, width, rows)
		return codec.PXR24Decompress(compressed, infos, width, rows, expectedSize)

	case CompressionPIZ:
		wordsPerPixel := bytesToWords(cl.BytesPerPixel())
		return codec.PIZDecompressBytes(compressed, width*wordsPerPixel, rows, 1)

	case CompressionDWAA:
		out, err := GetBufferWithError(expectedSize)
		if err != nil {
			return nil, err
		}
		if err := codec.DecompressDWAA(compressed, out, width, rows); err != nil {
			return nil, err
		}
		return out, nil

	case CompressionDWAB:
		out, err := GetBufferWithError(expectedSize)
		if err != nil {
			return nil, err
		}
		if err := codec.DecompressDWAB(compressed, out, width, rows); err != nil {
			return nil, err
		}
		return out, nil

	case CompressionB44, CompressionB44A:
		return nil, fmt.Errorf("%w: B44 decode", ErrCompressionUnsupported)

	default:
		return nil, fmt.Errorf("%w: compression %d", ErrCompressionUnsupported, comp)
	}
}

// bytesToWords rounds a byte count up to the number of 16-bit words it
// spans, the granularity PIZ's wavelet/Huffman stage operates on.
func bytesToWords(n int) int {
	return (n + 1) / 2
}
