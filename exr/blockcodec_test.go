package exr

import (
	"bytes"
	"math/rand"
	"testing"
)

func randomBlockData(seed int64, n int) []byte {
	r := rand.New(rand.NewSource(seed))
	data := make([]byte, n)
	r.Read(data)
	return data
}

func testScanlineHeader(comp Compression, width, height int) *Header {
	h := NewScanlineHeader(width, height)
	h.SetCompression(comp)
	return h
}

func TestFlatBlockCodecRoundTrip(t *testing.T) {
	const width, height = 16, 8

	for _, comp := range []Compression{
		CompressionNone,
		CompressionRLE,
		CompressionZIPS,
		CompressionZIP,
		CompressionPXR24,
		CompressionPIZ,
	} {
		comp := comp
		t.Run(comp.String(), func(t *testing.T) {
			h := testScanlineHeader(comp, width, height)
			rows := h.Compression().ScanlinesPerChunk()
			if rows > height {
				rows = height
			}
			size := h.Channels().BytesPerScanline(width) * rows
			original := randomBlockData(int64(comp), size)

			compressed, err := CompressFlatBlock(h, original, width, rows)
			if err != nil {
				t.Fatalf("CompressFlatBlock: %v", err)
			}

			decoded, err := DecompressFlatBlock(h, compressed, width, rows, size)
			if err != nil {
				t.Fatalf("DecompressFlatBlock: %v", err)
			}
			if !bytes.Equal(decoded, original) {
				t.Errorf("round trip mismatch for %v: got %d bytes, want %d", comp, len(decoded), len(original))
			}
		})
	}
}

func TestFlatBlockCodecZeroesCompressWell(t *testing.T) {
	h := testScanlineHeader(CompressionZIP, 32, 16)
	rows := h.Compression().ScanlinesPerChunk()
	size := h.Channels().BytesPerScanline(32) * rows
	zeros := make([]byte, size)

	compressed, err := CompressFlatBlock(h, zeros, 32, rows)
	if err != nil {
		t.Fatalf("CompressFlatBlock: %v", err)
	}
	if len(compressed) >= len(zeros) {
		t.Errorf("expected all-zero block to compress smaller, got %d >= %d", len(compressed), len(zeros))
	}
}

func TestFlatBlockCodecDWADecodeOnly(t *testing.T) {
	h := testScanlineHeader(CompressionDWAA, 16, 16)
	if _, err := CompressFlatBlock(h, make([]byte, 100), 16, 16); err == nil {
		t.Error("expected CompressFlatBlock to reject DWAA, got nil error")
	}
}

func TestFlatBlockCodecB44Unsupported(t *testing.T) {
	h := testScanlineHeader(CompressionB44, 16, 16)
	rows := h.Compression().ScanlinesPerChunk()
	size := h.Channels().BytesPerScanline(16) * rows
	if _, err := DecompressFlatBlock(h, make([]byte, size), 16, rows, size); err == nil {
		t.Error("expected DecompressFlatBlock to reject B44, got nil error")
	}
}
