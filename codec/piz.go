// Package codec provides compression algorithms for OpenEXR files.
package codec

import (
	"bytes"
	"container/heap"
	"encoding/binary"
	"errors"
)

// PIZ compression errors
var (
	ErrPIZCorrupted      = errors.New("compression: corrupted PIZ data")
	ErrPIZInvalidBitmap  = errors.New("compression: invalid PIZ bitmap size")
	ErrPIZInvalidLength  = errors.New("compression: invalid PIZ array length")
)

const (
	pizU16Range   = 1 << 16
	pizBitmapSize = pizU16Range >> 3
)

// forwardLutFromBitmap builds a lookup table that maps every raw pixel
// value to a compacted code, skipping values that never occur in the
// block (as recorded in bitmap). Value 0 is always present. It returns
// the highest compacted code produced, for use as the wavelet maxValue.
func forwardLutFromBitmap(bitmap []byte) ([]uint16, uint16) {
	lut := make([]uint16, pizU16Range)
	k := 0
	for i := 0; i < pizU16Range; i++ {
		if i == 0 || bitmap[i>>3]&(1<<(uint(i)&7)) != 0 {
			lut[i] = uint16(k)
			k++
		}
	}
	var maxValue uint16
	if k > 0 {
		maxValue = uint16(k - 1)
	}
	return lut, maxValue
}

// reverseLutFromBitmap builds the inverse of forwardLutFromBitmap: it maps
// compacted codes back to the raw pixel values they stand for.
func reverseLutFromBitmap(bitmap []byte) ([]uint16, uint16) {
	lut := make([]uint16, pizU16Range)
	k := 0
	for i := 0; i < pizU16Range; i++ {
		if i == 0 || bitmap[i>>3]&(1<<(uint(i)&7)) != 0 {
			lut[k] = uint16(i)
			k++
		}
	}
	var maxValue uint16
	if k > 0 {
		maxValue = uint16(k - 1)
	}
	for ; k < pizU16Range; k++ {
		lut[k] = 0
	}
	return lut, maxValue
}

// PIZCompress compresses a block of 16-bit samples arranged as `channels`
// contiguous width*height planes. It range-compacts the value space with a
// bitmap, applies a 2D Haar wavelet transform to each plane, and entropy
// codes the result with a semi-static Huffman coder.
func PIZCompress(data []uint16, width, height, channels int) ([]byte, error) {
	if len(data) == 0 || width == 0 || height == 0 || channels == 0 {
		return nil, nil
	}

	planeSize := width * height
	if len(data) != planeSize*channels {
		return nil, errors.New("compression: PIZCompress: data length does not match width*height*channels")
	}

	bitmap := make([]byte, pizBitmapSize)
	for _, v := range data {
		bitmap[v>>3] |= 1 << (v & 7)
	}
	bitmap[0] &^= 1

	var minNonZero, maxNonZero uint16
	found := false
	for i := 0; i < pizBitmapSize; i++ {
		if bitmap[i] != 0 {
			if !found {
				minNonZero = uint16(i)
				found = true
			}
			maxNonZero = uint16(i)
		}
	}
	if !found {
		minNonZero, maxNonZero = 1, 0
	}

	lut, maxValue := forwardLutFromBitmap(bitmap)

	remapped := make([]uint16, len(data))
	for i, v := range data {
		remapped[i] = lut[v]
	}

	for ch := 0; ch < channels; ch++ {
		plane := remapped[ch*planeSize : (ch+1)*planeSize]
		Wav2DEncode(plane, width, height, maxValue)
	}

	huff := hufCompress(remapped)

	var buf bytes.Buffer
	var header [4]byte
	binary.LittleEndian.PutUint16(header[0:2], minNonZero)
	binary.LittleEndian.PutUint16(header[2:4], maxNonZero)
	buf.Write(header[:])

	if minNonZero <= maxNonZero {
		buf.Write(bitmap[minNonZero : maxNonZero+1])
	}

	var lengthBuf [4]byte
	binary.LittleEndian.PutUint32(lengthBuf[:], uint32(len(huff)))
	buf.Write(lengthBuf[:])
	buf.Write(huff)

	return buf.Bytes(), nil
}

// PIZDecompress reverses PIZCompress.
func PIZDecompress(compressed []byte, width, height, channels int) ([]uint16, error) {
	if len(compressed) == 0 || width == 0 || height == 0 || channels == 0 {
		return nil, nil
	}
	if len(compressed) < 4 {
		return nil, ErrPIZCorrupted
	}

	minNonZero := binary.LittleEndian.Uint16(compressed[0:2])
	maxNonZero := binary.LittleEndian.Uint16(compressed[2:4])
	pos := 4

	if int(maxNonZero) >= pizBitmapSize {
		return nil, ErrPIZInvalidBitmap
	}

	bitmap := make([]byte, pizBitmapSize)
	if minNonZero <= maxNonZero {
		n := int(maxNonZero-minNonZero) + 1
		if pos+n > len(compressed) {
			return nil, ErrPIZCorrupted
		}
		copy(bitmap[minNonZero:maxNonZero+1], compressed[pos:pos+n])
		pos += n
	}

	if pos+4 > len(compressed) {
		return nil, ErrPIZCorrupted
	}
	huffLen := int(binary.LittleEndian.Uint32(compressed[pos : pos+4]))
	pos += 4
	if huffLen < 0 || pos+huffLen > len(compressed) {
		return nil, ErrPIZInvalidLength
	}

	lut, maxValue := reverseLutFromBitmap(bitmap)

	planeSize := width * height
	expected := planeSize * channels

	remapped, err := hufDecompress(compressed[pos:pos+huffLen], expected)
	if err != nil {
		return nil, err
	}

	for ch := 0; ch < channels; ch++ {
		plane := remapped[ch*planeSize : (ch+1)*planeSize]
		Wav2DDecode(plane, width, height, maxValue)
	}

	out := make([]uint16, expected)
	for i, v := range remapped {
		out[i] = lut[v]
	}

	return out, nil
}

// PIZCompressBytes is PIZCompress for little-endian byte-packed samples, the
// wire representation pixel data arrives in from a chunk.
func PIZCompressBytes(data []byte, width, height, channels int) ([]byte, error) {
	samples := make([]uint16, len(data)/2)
	for i := range samples {
		samples[i] = binary.LittleEndian.Uint16(data[i*2:])
	}
	return PIZCompress(samples, width, height, channels)
}

// PIZDecompressBytes is PIZDecompress for little-endian byte-packed samples,
// returning the decompressed pixel data in the same wire representation
// chunks carry it in.
func PIZDecompressBytes(compressed []byte, width, height, channels int) ([]byte, error) {
	samples, err := PIZDecompress(compressed, width, height, channels)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out, nil
}

// --- Huffman coding ---
//
// Canonical, semi-static Huffman coder for 16-bit symbols, ported from
// OpenEXR's Huf routines. Code lengths alone determine the bit patterns
// (build_canonical_table), so only lengths need to travel between encoder
// and decoder.

const (
	hufEncBits = 16
	hufDecBits = 14

	hufFullTableSize = (1 << hufEncBits) + 1 // one slot per symbol plus the run-length pseudo-symbol
	hufDecSize       = 1 << hufDecBits
	hufDecMask       = hufDecSize - 1

	hufShortZeroRun    = 59
	hufLongZeroRun     = 63
	hufShortestLongRun = 2 + hufLongZeroRun - hufShortZeroRun
	hufLongestLongRun  = 255 + hufShortestLongRun
)

func hufLength(c uint64) int     { return int(c & 63) }
func hufCodeOf(c uint64) uint64  { return c >> 6 }

// buildCanonicalTable turns a table of code lengths into a table of
// (code, length) pairs packed as length | code<<6. Shorter codes (zero
// padded on the right) compare numerically higher than longer ones, and
// codes of equal length increase with symbol value — the standard
// canonical Huffman construction.
func buildCanonicalTable(codeTable []uint64) {
	var countPerCode [59]uint64
	for _, c := range codeTable {
		countPerCode[c]++
	}

	var code uint64
	for i := 58; i >= 1; i-- {
		next := (code + countPerCode[i]) >> 1
		countPerCode[i] = code
		code = next
	}

	for i, length := range codeTable {
		if length > 0 {
			codeTable[i] = length | (countPerCode[length] << 6)
			countPerCode[length]++
		}
	}
}

type hufHeapEntry struct {
	position int
	freq     uint64
}

type hufHeap []hufHeapEntry

func (h hufHeap) Len() int { return len(h) }
func (h hufHeap) Less(i, j int) bool {
	if h[i].freq != h[j].freq {
		return h[i].freq < h[j].freq
	}
	return h[i].position < h[j].position
}
func (h hufHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *hufHeap) Push(x any)   { *h = append(*h, x.(hufHeapEntry)) }
func (h *hufHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// buildEncodingTable computes Huffman code lengths and canonical codes for
// freqs in place. freqs must have one spare slot past the highest symbol
// actually used: that slot becomes the implicit run-length pseudo-symbol.
// It returns the lowest and highest symbol indices with a non-empty code
// (the latter being the pseudo-symbol's position).
func buildEncodingTable(freqs []uint64) (minIndex, maxIndex int) {
	n := len(freqs)
	links := make([]int, n)

	minIndex = 0
	for minIndex < n && freqs[minIndex] == 0 {
		minIndex++
	}

	h := make(hufHeap, 0, n)
	maxIndex = 0
	for i := minIndex; i < n; i++ {
		links[i] = i
		if freqs[i] != 0 {
			h = append(h, hufHeapEntry{position: i, freq: freqs[i]})
			maxIndex = i
		}
	}

	maxIndex++
	freqs[maxIndex] = 1
	h = append(h, hufHeapEntry{position: maxIndex, freq: 1})

	heap.Init(&h)

	codeLen := make([]uint64, n)
	for h.Len() > 1 {
		low := heap.Pop(&h).(hufHeapEntry)
		high := h[0]
		h[0].freq += low.freq
		heap.Fix(&h, 0)

		idx := high.position
		for {
			codeLen[idx]++
			if links[idx] == idx {
				links[idx] = low.position
				break
			}
			idx = links[idx]
		}

		idx = low.position
		for {
			codeLen[idx]++
			if links[idx] == idx {
				break
			}
			idx = links[idx]
		}
	}

	buildCanonicalTable(codeLen)
	copy(freqs, codeLen)
	return minIndex, maxIndex
}

func writeBits(count, bits uint64, codeBits, codeBitCount *uint64, out *bytes.Buffer) {
	*codeBits = (*codeBits << count) | bits
	*codeBitCount += count

	for *codeBitCount >= 8 {
		*codeBitCount -= 8
		out.WriteByte(byte(*codeBits >> *codeBitCount))
	}
}

// packEncodingTable serializes code lengths as a 6-bit-per-symbol stream,
// run-length compressing stretches of zero-length (unused) symbols.
func packEncodingTable(freqs []uint64, minIndex, maxIndex int, out *bytes.Buffer) {
	var codeBits, codeBitCount uint64

	i := minIndex
	for i <= maxIndex {
		length := uint64(hufLength(freqs[i]))
		if length == 0 {
			zeroRun := uint64(1)
			for i < maxIndex && zeroRun < hufLongestLongRun {
				if hufLength(freqs[i+1]) > 0 {
					break
				}
				i++
				zeroRun++
			}

			if zeroRun >= 2 {
				if zeroRun >= hufShortestLongRun {
					writeBits(6, hufLongZeroRun, &codeBits, &codeBitCount, out)
					writeBits(8, zeroRun-hufShortestLongRun, &codeBits, &codeBitCount, out)
				} else {
					writeBits(6, hufShortZeroRun+zeroRun-2, &codeBits, &codeBitCount, out)
				}
				i++
				continue
			}
		}

		writeBits(6, length, &codeBits, &codeBitCount, out)
		i++
	}

	if codeBitCount > 0 {
		out.WriteByte(byte((codeBits << (8 - codeBitCount)) & 0xff))
	}
}

// readEncodingTable is the inverse of packEncodingTable: it expands the
// run-length-compressed code lengths and canonicalizes the result into a
// full encoding table of (code, length) pairs.
func readEncodingTable(packed []byte, minIndex, maxIndex int) ([]uint64, error) {
	table := make([]uint64, hufFullTableSize)
	var codeBits, codeBitCount uint64
	pos := 0

	readBits := func(count uint64) (uint64, error) {
		for codeBitCount < count {
			if pos >= len(packed) {
				return 0, ErrPIZCorrupted
			}
			codeBits = (codeBits << 8) | uint64(packed[pos])
			pos++
			codeBitCount += 8
		}
		codeBitCount -= count
		return (codeBits >> codeBitCount) & ((1 << count) - 1), nil
	}

	idx := minIndex
	for idx <= maxIndex {
		codeLen, err := readBits(6)
		if err != nil {
			return nil, err
		}
		table[idx] = codeLen

		switch {
		case codeLen == hufLongZeroRun:
			zerunBits, err := readBits(8)
			if err != nil {
				return nil, err
			}
			zerun := int(zerunBits + hufShortestLongRun)
			if idx+zerun > maxIndex+1 {
				return nil, ErrPIZCorrupted
			}
			for j := idx; j < idx+zerun; j++ {
				table[j] = 0
			}
			idx += zerun
		case codeLen >= hufShortZeroRun:
			duplication := int(codeLen-hufShortZeroRun) + 2
			if idx+duplication > maxIndex+1 {
				return nil, ErrPIZCorrupted
			}
			for j := idx; j < idx+duplication; j++ {
				table[j] = 0
			}
			idx += duplication
		default:
			idx++
		}
	}

	buildCanonicalTable(table)
	return table, nil
}

// encodeWithFrequencies writes the Huffman-coded bitstream for data using
// the (code, length) pairs in freqs, collapsing runs of identical values
// into a pseudo-symbol + repeat-count pair whenever that is shorter. It
// returns the number of valid bits written.
func encodeWithFrequencies(freqs []uint64, data []uint16, runLengthCode uint32, out *bytes.Buffer) uint64 {
	var codeBits, codeBitCount uint64

	send := func(symbol uint16, run uint64) {
		sc := freqs[symbol]
		rc := freqs[runLengthCode]
		scLen := uint64(hufLength(sc))
		rcLen := uint64(hufLength(rc))

		if scLen+rcLen+8 < scLen*run {
			writeBits(scLen, hufCodeOf(sc), &codeBits, &codeBitCount, out)
			writeBits(rcLen, hufCodeOf(rc), &codeBits, &codeBitCount, out)
			writeBits(8, run, &codeBits, &codeBitCount, out)
		} else {
			for i := uint64(0); i <= run; i++ {
				writeBits(scLen, hufCodeOf(sc), &codeBits, &codeBitCount, out)
			}
		}
	}

	start := out.Len()
	runStart := data[0]
	runLength := uint64(0)

	for _, v := range data[1:] {
		if v == runStart && runLength < 255 {
			runLength++
			continue
		}
		send(runStart, runLength)
		runLength = 0
		runStart = v
	}
	send(runStart, runLength)

	dataLength := uint64(out.Len() - start)
	if codeBitCount != 0 {
		out.WriteByte(byte((codeBits << (8 - codeBitCount)) & 0xff))
	}

	return dataLength*8 + codeBitCount
}

const (
	hufEmpty = iota
	hufShort
	hufLong
)

type hufDecEntry struct {
	kind   int
	value  uint32
	length int
	long   []uint32
}

// buildDecodingTable builds a direct-lookup table for codes up to
// hufDecBits long, plus overflow lists for longer codes that must be
// resolved by linear scan.
func buildDecodingTable(encodingTable []uint64, minIndex, maxIndex int) []hufDecEntry {
	table := make([]hufDecEntry, hufDecSize)

	if maxIndex >= len(encodingTable) {
		maxIndex = len(encodingTable) - 1
	}

	for idx := minIndex; idx <= maxIndex; idx++ {
		enc := encodingTable[idx]
		length := hufLength(enc)
		if length == 0 {
			continue
		}
		code := hufCodeOf(enc)

		if length > hufDecBits {
			longIdx := code >> uint(length-hufDecBits)
			table[longIdx].kind = hufLong
			table[longIdx].long = append(table[longIdx].long, uint32(idx))
		} else {
			start := code << uint(hufDecBits-length)
			count := uint64(1) << uint(hufDecBits-length)
			entry := hufDecEntry{kind: hufShort, value: uint32(idx), length: length}
			for v := start; v < start+count; v++ {
				table[v] = entry
			}
		}
	}

	return table
}

// decodeSymbols decodes exactly count symbols from encoded using
// encodingTable/decodingTable, expanding run-length pseudo-symbols as it
// goes. Mirrors hufDecode's two phases: full bytes are consumed greedily
// while enough bits are buffered for a table lookup, then the trailing
// partial byte is decoded by left-padding it with zeros (which can only
// ever resolve to short codes).
func decodeSymbols(encodingTable []uint64, decodingTable []hufDecEntry, runLengthCode uint32, encoded []byte, count int) ([]uint16, error) {
	if count == 0 {
		return nil, nil
	}
	if len(encoded) == 0 {
		return nil, ErrPIZCorrupted
	}

	output := make([]uint16, 0, count)
	var codeBits, codeBitCount uint64
	pos := 0

	readByte := func() error {
		if pos >= len(encoded) {
			return ErrPIZCorrupted
		}
		codeBits = (codeBits << 8) | uint64(encoded[pos])
		pos++
		codeBitCount += 8
		return nil
	}

	appendSymbol := func(symbol uint32) error {
		if symbol == runLengthCode {
			if codeBitCount < 8 {
				if err := readByte(); err != nil {
					return err
				}
			}
			codeBitCount -= 8
			repeats := int((codeBits >> codeBitCount) & 0xff)
			if len(output) == 0 {
				return ErrPIZCorrupted
			}
			last := output[len(output)-1]
			for i := 0; i < repeats && len(output) < count; i++ {
				output = append(output, last)
			}
		} else if len(output) < count {
			output = append(output, uint16(symbol))
		}
		return nil
	}

	decodeAt := func(index uint64) error {
		entry := decodingTable[index]
		switch entry.kind {
		case hufShort:
			if uint64(entry.length) > codeBitCount {
				return ErrPIZCorrupted
			}
			codeBitCount -= uint64(entry.length)
			return appendSymbol(entry.value)
		case hufLong:
			for _, candidate := range entry.long {
				enc := encodingTable[candidate]
				length := uint64(hufLength(enc))
				for codeBitCount < length {
					if err := readByte(); err != nil {
						return err
					}
				}
				required := (codeBits >> (codeBitCount - length)) & ((1 << length) - 1)
				if hufCodeOf(enc) == required {
					codeBitCount -= length
					return appendSymbol(candidate)
				}
			}
			return ErrPIZCorrupted
		default:
			return ErrPIZCorrupted
		}
	}

	for pos < len(encoded) {
		if err := readByte(); err != nil {
			return nil, err
		}
		for codeBitCount >= hufDecBits && len(output) < count {
			index := (codeBits >> (codeBitCount - hufDecBits)) & hufDecMask
			if err := decodeAt(index); err != nil {
				return nil, err
			}
		}
		if len(output) >= count {
			return output, nil
		}
	}

	for codeBitCount > 0 && len(output) < count {
		index := (codeBits << (hufDecBits - codeBitCount)) & hufDecMask
		entry := decodingTable[index]
		if entry.kind != hufShort || uint64(entry.length) > codeBitCount {
			return nil, ErrPIZCorrupted
		}
		codeBitCount -= uint64(entry.length)
		if err := appendSymbol(entry.value); err != nil {
			return nil, err
		}
	}

	if len(output) != count {
		return nil, ErrPIZCorrupted
	}

	return output, nil
}

// hufCompress is the self-describing Huffman codec used internally by
// PIZCompress: the code-length table travels inside the stream so the
// decoder does not need any side channel.
func hufCompress(data []uint16) []byte {
	if len(data) == 0 {
		return nil
	}

	freqs := make([]uint64, hufFullTableSize)
	for _, v := range data {
		freqs[v]++
	}
	minIndex, maxIndex := buildEncodingTable(freqs)

	var tableBuf bytes.Buffer
	packEncodingTable(freqs, minIndex, maxIndex, &tableBuf)

	var dataBuf bytes.Buffer
	bitCount := encodeWithFrequencies(freqs, data, uint32(maxIndex), &dataBuf)

	out := make([]byte, 20, 20+tableBuf.Len()+dataBuf.Len())
	binary.LittleEndian.PutUint32(out[0:4], uint32(minIndex))
	binary.LittleEndian.PutUint32(out[4:8], uint32(maxIndex))
	binary.LittleEndian.PutUint32(out[8:12], uint32(tableBuf.Len()))
	binary.LittleEndian.PutUint32(out[12:16], uint32(bitCount))
	binary.LittleEndian.PutUint32(out[16:20], 0)
	out = append(out, tableBuf.Bytes()...)
	out = append(out, dataBuf.Bytes()...)
	return out
}

func hufDecompress(compressed []byte, expectedSize int) ([]uint16, error) {
	if len(compressed) == 0 {
		if expectedSize == 0 {
			return nil, nil
		}
		return nil, ErrPIZCorrupted
	}
	if len(compressed) < 20 {
		return nil, ErrPIZCorrupted
	}

	minIndex := int(binary.LittleEndian.Uint32(compressed[0:4]))
	maxIndex := int(binary.LittleEndian.Uint32(compressed[4:8]))
	tableLength := int(binary.LittleEndian.Uint32(compressed[8:12]))

	if minIndex >= hufFullTableSize || maxIndex >= hufFullTableSize {
		return nil, ErrPIZInvalidBitmap
	}

	rest := compressed[20:]
	if tableLength < 0 || tableLength > len(rest) {
		return nil, ErrPIZInvalidLength
	}
	tableBytes := rest[:tableLength]
	dataBytes := rest[tableLength:]

	encodingTable, err := readEncodingTable(tableBytes, minIndex, maxIndex)
	if err != nil {
		return nil, err
	}
	decodingTable := buildDecodingTable(encodingTable, minIndex, maxIndex)

	return decodeSymbols(encodingTable, decodingTable, uint32(maxIndex), dataBytes, expectedSize)
}

// --- Standalone Huffman encoder/decoder ---
//
// HuffmanEncoder/HuffmanDecoder expose the coder without the embedded
// table PIZ needs: the caller supplies (or receives) code lengths
// directly. Useful for testing the coder in isolation and for callers
// that already know the table out of band.

type hufCode struct {
	value  uint32
	length int
}

// HuffmanEncoder encodes symbols using a canonical Huffman code built from
// a frequency table.
type HuffmanEncoder struct {
	codes        []hufCode
	runCodeIndex int
}

// NewHuffmanEncoder builds an encoder from per-symbol frequencies. freqs
// need only cover the symbols actually in use; a run-length pseudo-symbol
// is allocated just past the end of freqs.
func NewHuffmanEncoder(freqs []uint64) *HuffmanEncoder {
	if len(freqs) == 0 {
		return &HuffmanEncoder{}
	}

	table := make([]uint64, len(freqs)+1)
	copy(table, freqs)
	_, maxIndex := buildEncodingTable(table)

	codes := make([]hufCode, len(table))
	for i, v := range table {
		codes[i] = hufCode{value: uint32(hufCodeOf(v)), length: hufLength(v)}
	}

	return &HuffmanEncoder{codes: codes, runCodeIndex: maxIndex}
}

// GetCodes returns the (code, length) pair assigned to each symbol.
func (e *HuffmanEncoder) GetCodes() []hufCode {
	return e.codes
}

// GetLengths returns just the code length assigned to each symbol.
func (e *HuffmanEncoder) GetLengths() []int {
	lengths := make([]int, len(e.codes))
	for i, c := range e.codes {
		lengths[i] = c.length
	}
	return lengths
}

// Encode returns the Huffman-coded bitstream for values.
func (e *HuffmanEncoder) Encode(values []uint16) []byte {
	if len(values) == 0 || len(e.codes) == 0 {
		return nil
	}

	var buf bytes.Buffer
	var codeBits, codeBitCount uint64

	runStart := values[0]
	runLength := uint64(0)
	for _, v := range values[1:] {
		if v == runStart && runLength < 255 {
			runLength++
			continue
		}
		e.sendCode(runStart, runLength, &codeBits, &codeBitCount, &buf)
		runLength = 0
		runStart = v
	}
	e.sendCode(runStart, runLength, &codeBits, &codeBitCount, &buf)

	if codeBitCount > 0 {
		buf.WriteByte(byte((codeBits << (8 - codeBitCount)) & 0xff))
	}

	return buf.Bytes()
}

func (e *HuffmanEncoder) sendCode(symbol uint16, run uint64, codeBits, codeBitCount *uint64, out *bytes.Buffer) {
	sc := e.codes[symbol]
	rc := e.codes[e.runCodeIndex]

	if uint64(sc.length+rc.length+8) < uint64(sc.length)*run {
		writeBits(uint64(sc.length), uint64(sc.value), codeBits, codeBitCount, out)
		writeBits(uint64(rc.length), uint64(rc.value), codeBits, codeBitCount, out)
		writeBits(8, run, codeBits, codeBitCount, out)
	} else {
		for i := uint64(0); i <= run; i++ {
			writeBits(uint64(sc.length), uint64(sc.value), codeBits, codeBitCount, out)
		}
	}
}

// HuffmanDecoder decodes a bitstream produced by HuffmanEncoder, given the
// same per-symbol code lengths the encoder used (canonical construction
// means the lengths alone determine the codes).
type HuffmanDecoder struct {
	encodingTable []uint64
	decodingTable []hufDecEntry
	runLengthCode uint32
}

// NewHuffmanDecoder builds a decoder from per-symbol code lengths, as
// produced by HuffmanEncoder.GetLengths.
func NewHuffmanDecoder(codeLengths []int) *HuffmanDecoder {
	table := make([]uint64, len(codeLengths))
	minIndex, maxIndex := -1, 0
	for i, l := range codeLengths {
		if l > 0 {
			table[i] = uint64(l)
			if minIndex == -1 {
				minIndex = i
			}
			maxIndex = i
		}
	}
	if minIndex == -1 {
		minIndex = 0
	}

	buildCanonicalTable(table)
	decodingTable := buildDecodingTable(table, minIndex, maxIndex)

	return &HuffmanDecoder{
		encodingTable: table,
		decodingTable: decodingTable,
		runLengthCode: uint32(maxIndex),
	}
}

// Decode reads exactly count symbols from encoded.
func (d *HuffmanDecoder) Decode(encoded []byte, count int) ([]uint16, error) {
	return decodeSymbols(d.encodingTable, d.decodingTable, d.runLengthCode, encoded, count)
}

// FastHufDecoder is a flattened, array-lookup variant of HuffmanDecoder
// that avoids a struct field indirection per short code at the cost of
// two parallel slices instead of one.
type FastHufDecoder struct {
	encodingTable []uint64
	shortLen      []uint8
	shortValue    []uint32
	longCodes     [][]uint32
	runLengthCode uint32
}

// NewFastHufDecoder builds a decoder from per-symbol code lengths, the
// same contract as NewHuffmanDecoder.
func NewFastHufDecoder(codeLengths []int) *FastHufDecoder {
	table := make([]uint64, len(codeLengths))
	minIndex, maxIndex := -1, 0
	for i, l := range codeLengths {
		if l > 0 {
			table[i] = uint64(l)
			if minIndex == -1 {
				minIndex = i
			}
			maxIndex = i
		}
	}
	if minIndex == -1 {
		minIndex = 0
	}

	buildCanonicalTable(table)

	d := &FastHufDecoder{
		encodingTable: table,
		shortLen:      make([]uint8, hufDecSize),
		shortValue:    make([]uint32, hufDecSize),
		longCodes:     make([][]uint32, hufDecSize),
		runLengthCode: uint32(maxIndex),
	}

	if maxIndex >= len(table) {
		maxIndex = len(table) - 1
	}

	for idx := minIndex; idx <= maxIndex; idx++ {
		enc := table[idx]
		length := hufLength(enc)
		if length == 0 {
			continue
		}
		code := hufCodeOf(enc)

		if length > hufDecBits {
			longIdx := code >> uint(length-hufDecBits)
			d.longCodes[longIdx] = append(d.longCodes[longIdx], uint32(idx))
		} else {
			start := code << uint(hufDecBits-length)
			span := uint64(1) << uint(hufDecBits-length)
			for v := start; v < start+span; v++ {
				d.shortLen[v] = uint8(length)
				d.shortValue[v] = uint32(idx)
			}
		}
	}

	return d
}

// Decode reads exactly count symbols from encoded.
func (d *FastHufDecoder) Decode(encoded []byte, count int) ([]uint16, error) {
	if count == 0 {
		return nil, nil
	}
	if len(encoded) == 0 {
		return nil, ErrPIZCorrupted
	}

	output := make([]uint16, 0, count)
	var codeBits, codeBitCount uint64
	pos := 0

	readByte := func() error {
		if pos >= len(encoded) {
			return ErrPIZCorrupted
		}
		codeBits = (codeBits << 8) | uint64(encoded[pos])
		pos++
		codeBitCount += 8
		return nil
	}

	appendSymbol := func(symbol uint32) error {
		if symbol == d.runLengthCode {
			if codeBitCount < 8 {
				if err := readByte(); err != nil {
					return err
				}
			}
			codeBitCount -= 8
			repeats := int((codeBits >> codeBitCount) & 0xff)
			if len(output) == 0 {
				return ErrPIZCorrupted
			}
			last := output[len(output)-1]
			for i := 0; i < repeats && len(output) < count; i++ {
				output = append(output, last)
			}
		} else if len(output) < count {
			output = append(output, uint16(symbol))
		}
		return nil
	}

	decodeAt := func(index uint64) error {
		if l := d.shortLen[index]; l != 0 {
			if uint64(l) > codeBitCount {
				return ErrPIZCorrupted
			}
			codeBitCount -= uint64(l)
			return appendSymbol(d.shortValue[index])
		}

		for _, candidate := range d.longCodes[index] {
			enc := d.encodingTable[candidate]
			length := uint64(hufLength(enc))
			for codeBitCount < length {
				if err := readByte(); err != nil {
					return err
				}
			}
			required := (codeBits >> (codeBitCount - length)) & ((1 << length) - 1)
			if hufCodeOf(enc) == required {
				codeBitCount -= length
				return appendSymbol(candidate)
			}
		}
		return ErrPIZCorrupted
	}

	for pos < len(encoded) {
		if err := readByte(); err != nil {
			return nil, err
		}
		for codeBitCount >= hufDecBits && len(output) < count {
			index := (codeBits >> (codeBitCount - hufDecBits)) & hufDecMask
			if err := decodeAt(index); err != nil {
				return nil, err
			}
		}
		if len(output) >= count {
			return output, nil
		}
	}

	for codeBitCount > 0 && len(output) < count {
		index := (codeBits << (hufDecBits - codeBitCount)) & hufDecMask
		if d.shortLen[index] == 0 || uint64(d.shortLen[index]) > codeBitCount {
			return nil, ErrPIZCorrupted
		}
		codeBitCount -= uint64(d.shortLen[index])
		if err := appendSymbol(d.shortValue[index]); err != nil {
			return nil, err
		}
	}

	if len(output) != count {
		return nil, ErrPIZCorrupted
	}

	return output, nil
}
