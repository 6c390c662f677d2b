package exr

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func testDeepHeader(comp Compression, width, height int) *Header {
	h := NewScanlineHeader(width, height)
	h.SetCompression(comp)

	cl := NewChannelList()
	cl.Add(NewChannel("Z", PixelTypeFloat))
	cl.Add(NewChannel("ZBack", PixelTypeFloat))
	h.SetChannels(cl)
	h.SetType(PartTypeDeepScanLine)
	h.SetDeepDataVersion(1)
	h.SetMaxSamplesPerPixel(4)
	return h
}

// deepScanlineBlock builds the UncompressedDeepBlock for a width×height
// scanline block given its per-pixel sample counts (row-major), filling
// sample values sequentially as i+0.5 across the whole block, channel-major.
func deepScanlineBlock(h *Header, width, height int, counts []int32) UncompressedDeepBlock {
	table := make([]int32, len(counts))
	var running int32
	for i, c := range counts {
		running += c
		table[i] = running
	}
	total := int(running)

	data := make([]byte, deepSampleDataSize(h.Channels(), total))
	pos := 0
	for range h.Channels().Channels() {
		for i := 0; i < total; i++ {
			binary.LittleEndian.PutUint32(data[pos:], math.Float32bits(float32(i)+0.5))
			pos += 4
		}
	}

	return UncompressedDeepBlock{
		Index: BlockIndex{
			PixelPosition: V2i{0, 0},
			PixelSize:     V2i{int32(width), int32(height)},
		},
		PixelOffsetTable: table,
		SampleData:       data,
	}
}

func TestDeepScanlineRLERoundTrip(t *testing.T) {
	const width, height = 4, 4
	counts := []int32{1, 2, 1, 0, 3, 1, 1, 2, 0, 1, 2, 1, 1, 1, 0, 1}

	h := testDeepHeader(CompressionRLE, width, height)
	blk := deepScanlineBlock(h, width, height, counts)

	total := totalSamples(blk.PixelOffsetTable)
	var wantTotal int32
	for _, c := range counts {
		wantTotal += c
	}
	if total != int(wantTotal) {
		t.Fatalf("fixture total sample count = %d, want %d", total, wantTotal)
	}

	compressedTable, compressedSamples, err := CompressDeepBlock(h, blk.PixelOffsetTable, blk.SampleData)
	if err != nil {
		t.Fatalf("CompressDeepBlock: %v", err)
	}

	gotTable, gotSamples, err := DecompressDeepBlock(h, compressedTable, width*height, compressedSamples)
	if err != nil {
		t.Fatalf("DecompressDeepBlock: %v", err)
	}

	if len(gotTable) != len(blk.PixelOffsetTable) {
		t.Fatalf("pixel offset table length = %d, want %d", len(gotTable), len(blk.PixelOffsetTable))
	}
	for i := range gotTable {
		if gotTable[i] != blk.PixelOffsetTable[i] {
			t.Errorf("pixel offset table[%d] = %d, want %d", i, gotTable[i], blk.PixelOffsetTable[i])
		}
	}

	if !bytes.Equal(gotSamples, blk.SampleData) {
		t.Errorf("sample data round trip mismatch: got %d bytes, want %d", len(gotSamples), len(blk.SampleData))
	}

	if totalSamples(gotTable) != total {
		t.Errorf("decoded total sample count = %d, want %d", totalSamples(gotTable), total)
	}
}

func TestDeepBlockCodecRoundTrip(t *testing.T) {
	const width, height = 5, 3
	counts := []int32{0, 1, 2, 1, 0, 1, 1, 0, 2, 3, 0, 1, 2, 1, 1}

	for _, comp := range []Compression{
		CompressionNone,
		CompressionRLE,
		CompressionZIPS,
		CompressionZIP,
	} {
		comp := comp
		t.Run(comp.String(), func(t *testing.T) {
			h := testDeepHeader(comp, width, height)
			blk := deepScanlineBlock(h, width, height, counts)

			compressedTable, compressedSamples, err := CompressDeepBlock(h, blk.PixelOffsetTable, blk.SampleData)
			if err != nil {
				t.Fatalf("CompressDeepBlock: %v", err)
			}

			gotTable, gotSamples, err := DecompressDeepBlock(h, compressedTable, width*height, compressedSamples)
			if err != nil {
				t.Fatalf("DecompressDeepBlock: %v", err)
			}

			for i := range gotTable {
				if gotTable[i] != blk.PixelOffsetTable[i] {
					t.Errorf("pixel offset table[%d] = %d, want %d", i, gotTable[i], blk.PixelOffsetTable[i])
				}
			}
			if !bytes.Equal(gotSamples, blk.SampleData) {
				t.Errorf("sample data mismatch for %v", comp)
			}
		})
	}
}

// TestDeepPixelOffsetTableInvariant exercises the universal property that a
// decoded pixel offset table is non-decreasing and its last element equals
// the sample data's length divided by the per-sample byte width summed
// across channels.
func TestDeepPixelOffsetTableInvariant(t *testing.T) {
	const width, height = 4, 4
	counts := []int32{2, 0, 1, 3, 0, 0, 2, 1, 1, 1, 0, 2, 3, 1, 0, 1}

	h := testDeepHeader(CompressionZIP, width, height)
	blk := deepScanlineBlock(h, width, height, counts)

	compressedTable, compressedSamples, err := CompressDeepBlock(h, blk.PixelOffsetTable, blk.SampleData)
	if err != nil {
		t.Fatalf("CompressDeepBlock: %v", err)
	}
	table, sampleData, err := DecompressDeepBlock(h, compressedTable, width*height, compressedSamples)
	if err != nil {
		t.Fatalf("DecompressDeepBlock: %v", err)
	}

	prev := int32(0)
	for i, v := range table {
		if v < prev {
			t.Fatalf("pixel offset table entry %d decreases: %d < %d", i, v, prev)
		}
		prev = v
	}

	bytesPerSample := 0
	for _, c := range h.Channels().Channels() {
		bytesPerSample += c.Type.Size()
	}
	if got, want := len(sampleData)/bytesPerSample, int(table[len(table)-1]); got != want {
		t.Errorf("sample_data.len()/bytes_per_sample = %d, want last pixel offset table entry %d", got, want)
	}
}

func TestIsDeepCompressionSupported(t *testing.T) {
	supported := map[Compression]bool{
		CompressionNone:  true,
		CompressionRLE:   true,
		CompressionZIPS:  true,
		CompressionZIP:   true,
		CompressionPIZ:   false,
		CompressionPXR24: false,
		CompressionDWAA:  false,
		CompressionDWAB:  false,
		CompressionB44:   false,
		CompressionB44A:  false,
	}
	for comp, want := range supported {
		if got := IsDeepCompressionSupported(comp); got != want {
			t.Errorf("IsDeepCompressionSupported(%v) = %v, want %v", comp, got, want)
		}
	}
}

func TestDeepBlockCompressionUnsupported(t *testing.T) {
	h := testDeepHeader(CompressionPIZ, 4, 4)
	counts := []int32{1, 0, 0, 1}
	blk := deepScanlineBlock(h, 2, 2, counts)

	if _, _, err := CompressDeepBlock(h, blk.PixelOffsetTable, blk.SampleData); err == nil {
		t.Error("expected CompressDeepBlock to reject PIZ, got nil error")
	}
}
