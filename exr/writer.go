package exr

import (
	"errors"
	"sync"

	"github.com/mrjoshuak/exrcore/internal/xdr"
)

// Writer-side errors.
var (
	ErrNoHeaders             = errors.New("exr: at least one header is required")
	ErrChunkIndexRange       = errors.New("exr: chunk index out of range for this header")
	ErrChunkAlreadyWritten   = errors.New("exr: chunk already written")
	ErrIncompleteOffsetTable = errors.New("exr: not every chunk was written before completion")
)

// ChunkWriter serializes an EXR file's magic number, version field and
// headers into an in-memory buffer, reserves zeroed offset-table slots for
// every chunk each header declares, and then accepts chunks in any order
// WriteChunk permits, recording each one's file offset. Complete patches the
// recorded offsets into the reserved slots and returns the finished file.
//
// Offsets are tracked in a side table rather than by seeking the buffer
// writer backward: BufferWriter's Bytes is only stable once writing has
// stopped, so patching happens in a single pass over the final byte slice.
type ChunkWriter struct {
	buf      *xdr.BufferWriter
	headers  []*Header
	multi    bool
	tablePos []int
	offsets  [][]int64
	written  [][]bool
}

// NewChunkWriter writes the magic number, version field, every header and a
// reserved (zeroed) chunk offset table for each to a new in-memory buffer,
// returning a ChunkWriter ready to accept chunks via WriteChunk.
func NewChunkWriter(headers []*Header) (*ChunkWriter, error) {
	if len(headers) == 0 {
		return nil, ErrNoHeaders
	}

	multi := len(headers) > 1
	deep := false
	for _, h := range headers {
		if h.IsDeep() {
			deep = true
		}
	}
	tiled := !multi && headers[0].IsTiled()
	longNames := hasLongNames(headers)

	buf := xdr.NewBufferWriter(4096)
	buf.WriteBytes(MagicNumber)
	buf.WriteUint32(MakeVersionField(2, tiled, longNames, deep, multi))

	for _, h := range headers {
		if err := WriteHeader(buf, h); err != nil {
			return nil, err
		}
	}
	if multi {
		buf.WriteByte(0)
	}

	cw := &ChunkWriter{
		buf:      buf,
		headers:  headers,
		multi:    multi,
		tablePos: make([]int, len(headers)),
		offsets:  make([][]int64, len(headers)),
		written:  make([][]bool, len(headers)),
	}
	for i, h := range headers {
		count, ok := h.ChunkCount()
		if !ok {
			count = h.ChunksInFile()
		}
		cw.tablePos[i] = buf.Len()
		cw.offsets[i] = make([]int64, count)
		cw.written[i] = make([]bool, count)
		for j := 0; j < count; j++ {
			buf.WriteUint64(0)
		}
	}
	return cw, nil
}

// hasLongNames reports whether any header carries an attribute, channel or
// part name at least 32 bytes long, requiring the long-names version flag.
func hasLongNames(headers []*Header) bool {
	for _, h := range headers {
		if len(h.Name()) >= 32 {
			return true
		}
		for _, a := range h.Attributes() {
			if len(a.Name) >= 32 || len(a.Type) >= 32 {
				return true
			}
		}
		if cl := h.Channels(); cl != nil {
			for _, c := range cl.Channels() {
				if len(c.Name) >= 32 {
					return true
				}
			}
		}
	}
	return false
}

// WriteChunk compresses blk and appends it to the buffer at its current
// position, recording that position as the offset-table entry at
// (headerIndex, indexInHeader). indexInHeader is the position blk.Index
// occupies in that header's OrderedBlockIndices, the same index the offset
// table is addressed by; callers typically obtain it via Header.IndexOfBlock.
// WriteChunk does not itself enforce any ordering between calls: the offset
// table's logical index comes entirely from indexInHeader, so chunks may be
// appended in whatever physical order the header's LineOrder calls for.
func (cw *ChunkWriter) WriteChunk(headerIndex, indexInHeader int, blk UncompressedBlock) error {
	if headerIndex < 0 || headerIndex >= len(cw.headers) {
		return ErrInvalidPartIndex
	}
	if indexInHeader < 0 || indexInHeader >= len(cw.offsets[headerIndex]) {
		return ErrChunkIndexRange
	}
	if cw.written[headerIndex][indexInHeader] {
		return ErrChunkAlreadyWritten
	}

	h := cw.headers[headerIndex]
	width := int(blk.Index.PixelSize.X)
	rows := int(blk.Index.PixelSize.Y)
	compressed, err := CompressFlatBlock(h, blk.Data, width, rows)
	if err != nil {
		return err
	}
	return cw.writeCompressedChunk(headerIndex, indexInHeader, blk.Index, compressed)
}

// writeCompressedChunk appends an already-compressed chunk body, recording
// its offset. Used directly by ParallelBlocksCompressor so compression can
// run outside the buffer-serializing lock.
func (cw *ChunkWriter) writeCompressedChunk(headerIndex, indexInHeader int, idx BlockIndex, compressed []byte) error {
	h := cw.headers[headerIndex]
	offset := int64(cw.buf.Len())

	if cw.multi {
		cw.buf.WriteInt32(int32(headerIndex))
	}
	if h.IsTiled() {
		tx, ty, err := h.TileIndexAt(idx.Level, idx.PixelPosition)
		if err != nil {
			return err
		}
		cw.buf.WriteInt32(int32(tx))
		cw.buf.WriteInt32(int32(ty))
		cw.buf.WriteInt32(int32(idx.Level.X))
		cw.buf.WriteInt32(int32(idx.Level.Y))
	} else {
		cw.buf.WriteInt32(idx.PixelPosition.Y)
	}
	cw.buf.WriteInt32(int32(len(compressed)))
	cw.buf.WriteBytes(compressed)

	cw.offsets[headerIndex][indexInHeader] = offset
	cw.written[headerIndex][indexInHeader] = true
	return nil
}

// WriteDeepChunk compresses blk's pixel offset table and sample data and
// appends them to the buffer at its current position, recording that
// position as the offset-table entry at (headerIndex, indexInHeader), the
// deep counterpart to WriteChunk.
func (cw *ChunkWriter) WriteDeepChunk(headerIndex, indexInHeader int, blk UncompressedDeepBlock) error {
	if headerIndex < 0 || headerIndex >= len(cw.headers) {
		return ErrInvalidPartIndex
	}
	if indexInHeader < 0 || indexInHeader >= len(cw.offsets[headerIndex]) {
		return ErrChunkIndexRange
	}
	if cw.written[headerIndex][indexInHeader] {
		return ErrChunkAlreadyWritten
	}

	h := cw.headers[headerIndex]
	compressedTable, compressedSamples, err := CompressDeepBlock(h, blk.PixelOffsetTable, blk.SampleData)
	if err != nil {
		return err
	}
	return cw.writeCompressedDeepChunk(headerIndex, indexInHeader, blk.Index, compressedTable, compressedSamples)
}

// writeCompressedDeepChunk appends an already-compressed deep chunk body,
// recording its offset. Used directly by ParallelDeepBlocksCompressor so
// compression can run outside the buffer-serializing lock.
func (cw *ChunkWriter) writeCompressedDeepChunk(headerIndex, indexInHeader int, idx BlockIndex, compressedTable, compressedSamples []byte) error {
	h := cw.headers[headerIndex]
	offset := int64(cw.buf.Len())

	if cw.multi {
		cw.buf.WriteInt32(int32(headerIndex))
	}
	if h.IsTiled() {
		tx, ty, err := h.TileIndexAt(idx.Level, idx.PixelPosition)
		if err != nil {
			return err
		}
		cw.buf.WriteInt32(int32(tx))
		cw.buf.WriteInt32(int32(ty))
		cw.buf.WriteInt32(int32(idx.Level.X))
		cw.buf.WriteInt32(int32(idx.Level.Y))
	} else {
		cw.buf.WriteInt32(idx.PixelPosition.Y)
	}
	cw.buf.WriteUint64(uint64(len(compressedTable)))
	cw.buf.WriteUint64(uint64(len(compressedSamples)))
	cw.buf.WriteBytes(compressedTable)
	cw.buf.WriteBytes(compressedSamples)

	cw.offsets[headerIndex][indexInHeader] = offset
	cw.written[headerIndex][indexInHeader] = true
	return nil
}

// Complete verifies every reserved chunk slot was written, patches the
// recorded offsets into their reserved table slots, and returns the
// finished file bytes.
func (cw *ChunkWriter) Complete() ([]byte, error) {
	for _, w := range cw.written {
		for _, ok := range w {
			if !ok {
				return nil, ErrIncompleteOffsetTable
			}
		}
	}

	data := cw.buf.Bytes()
	for hi, table := range cw.offsets {
		pos := cw.tablePos[hi]
		for _, off := range table {
			xdr.ByteOrder.PutUint64(data[pos:pos+8], uint64(off))
			pos += 8
		}
	}
	return data, nil
}

// TileIndexAt returns the tile column/row a tile's top-left pixel position
// occupies within the given level, inverting TileBounds.
func (h *Header) TileIndexAt(level LevelIndex, pos V2i) (tx, ty int, err error) {
	td := h.TileDescription()
	if td == nil {
		return 0, 0, ErrTileOutOfBounds
	}
	lb := h.LevelBounds(level)
	tx = int(pos.X-lb.Min.X) / int(td.XSize)
	ty = int(pos.Y-lb.Min.Y) / int(td.YSize)
	if tx < 0 || ty < 0 || tx >= h.NumXTiles(level.X) || ty >= h.NumYTiles(level.Y) {
		return 0, 0, ErrTileOutOfBounds
	}
	return tx, ty, nil
}

// IndexOfBlock returns the position b occupies in this header's
// OrderedBlockIndices, i.e. the offset-table index WriteChunk expects for
// it, without materializing the full block list.
func (h *Header) IndexOfBlock(b BlockIndex) (int, error) {
	if h.IsTiled() {
		tx, ty, err := h.TileIndexAt(b.Level, b.PixelPosition)
		if err != nil {
			return 0, err
		}
		idx := 0
		for _, lvl := range h.Levels() {
			nx, ny := h.NumXTiles(lvl.X), h.NumYTiles(lvl.Y)
			if lvl == b.Level {
				return idx + ty*nx + tx, nil
			}
			idx += nx * ny
		}
		return 0, ErrLevelOutOfBounds
	}

	dw := h.DataWindow()
	spc := h.Compression().ScanlinesPerChunk()
	if spc <= 0 {
		spc = 1
	}
	return int(b.PixelPosition.Y-dw.Min.Y) / spc, nil
}

// WriteChunksWith constructs a ChunkWriter for headers, lets fn populate
// every chunk through it, and returns the completed file bytes.
func WriteChunksWith(headers []*Header, fn func(*ChunkWriter) error) ([]byte, error) {
	cw, err := NewChunkWriter(headers)
	if err != nil {
		return nil, err
	}
	if err := fn(cw); err != nil {
		return nil, err
	}
	return cw.Complete()
}

// SequentialBlocksCompressor writes one header's blocks as they arrive, on
// the caller's goroutine, in the order the caller supplies them, which must
// match the header's LineOrder.
type SequentialBlocksCompressor struct {
	cw          *ChunkWriter
	headerIndex int
}

// SequentialBlocksCompressor returns a compressor bound to one header.
func (cw *ChunkWriter) SequentialBlocksCompressor(headerIndex int) *SequentialBlocksCompressor {
	return &SequentialBlocksCompressor{cw: cw, headerIndex: headerIndex}
}

// Write compresses and appends blk, deriving its offset-table index from
// its BlockIndex.
func (sc *SequentialBlocksCompressor) Write(blk UncompressedBlock) error {
	idx, err := sc.cw.headers[sc.headerIndex].IndexOfBlock(blk.Index)
	if err != nil {
		return err
	}
	return sc.cw.WriteChunk(sc.headerIndex, idx, blk)
}

// sortedPending buffers compressed chunks that finished out of canonical
// order until the next expected index becomes available, then releases a
// contiguous run.
type sortedPending struct {
	items map[int]pendingChunk
	next  int
}

type pendingChunk struct {
	index      BlockIndex
	compressed []byte
	tableIndex int
}

func newSortedPending() *sortedPending {
	return &sortedPending{items: make(map[int]pendingChunk)}
}

func (s *sortedPending) push(i int, c pendingChunk) []pendingChunk {
	s.items[i] = c
	var ready []pendingChunk
	for {
		next, ok := s.items[s.next]
		if !ok {
			break
		}
		ready = append(ready, next)
		delete(s.items, s.next)
		s.next++
	}
	return ready
}

// ParallelBlocksCompressor compresses blocks for one header across a worker
// pool. When the header's LineOrder is LineOrderRandom, blocks are written
// to the offset table as soon as they compress, in whatever order that
// happens; otherwise completed blocks are held in a sortedPending buffer and
// flushed to the chunk writer only in canonical increasing-y order (reversed
// for LineOrderDecreasing), so the physical byte stream still honors the
// header's declared LineOrder.
type ParallelBlocksCompressor struct {
	cw          *ChunkWriter
	headerIndex int
	pool        *WorkerPool
	mu          sync.Mutex
	pending     *sortedPending
	anyOrder    bool
	errOnce     sync.Once
	err         error
}

// ParallelBlocksCompressor returns a compressor bound to one header, backed
// by a worker pool sized to the available parallelism.
func (cw *ChunkWriter) ParallelBlocksCompressor(headerIndex int) *ParallelBlocksCompressor {
	h := cw.headers[headerIndex]
	return &ParallelBlocksCompressor{
		cw:          cw,
		headerIndex: headerIndex,
		pool:        NewWorkerPool(0),
		pending:     newSortedPending(),
		anyOrder:    h.LineOrder() == LineOrderRandom,
	}
}

// Submit queues blk for compression on the worker pool. Errors are
// collected and surfaced by Close.
func (pc *ParallelBlocksCompressor) Submit(blk UncompressedBlock) {
	pc.pool.Submit(func() {
		h := pc.cw.headers[pc.headerIndex]
		idx, err := h.IndexOfBlock(blk.Index)
		if err != nil {
			pc.fail(err)
			return
		}

		width := int(blk.Index.PixelSize.X)
		rows := int(blk.Index.PixelSize.Y)
		compressed, err := CompressFlatBlock(h, blk.Data, width, rows)
		if err != nil {
			pc.fail(err)
			return
		}

		pc.mu.Lock()
		defer pc.mu.Unlock()
		if pc.anyOrder {
			if err := pc.cw.writeCompressedChunk(pc.headerIndex, idx, blk.Index, compressed); err != nil {
				pc.fail(err)
			}
			return
		}
		key := idx
		if h.LineOrder() == LineOrderDecreasing {
			key = len(pc.cw.offsets[pc.headerIndex]) - 1 - idx
		}
		for _, c := range pc.pending.push(key, pendingChunk{index: blk.Index, compressed: compressed, tableIndex: idx}) {
			if err := pc.cw.writeCompressedChunk(pc.headerIndex, c.tableIndex, c.index, c.compressed); err != nil {
				pc.fail(err)
				break
			}
		}
	})
}

func (pc *ParallelBlocksCompressor) fail(err error) {
	pc.errOnce.Do(func() { pc.err = err })
}

// Close waits for every submitted block to finish compressing and
// writing, then returns the first error encountered, if any.
func (pc *ParallelBlocksCompressor) Close() error {
	pc.pool.Wait()
	pc.pool.Close()
	return pc.err
}

// SequentialDeepBlocksCompressor is SequentialBlocksCompressor's deep
// counterpart: it writes one header's deep blocks as they arrive, on the
// caller's goroutine, in the order the caller supplies them, which must
// match the header's LineOrder.
type SequentialDeepBlocksCompressor struct {
	cw          *ChunkWriter
	headerIndex int
}

// SequentialDeepBlocksCompressor returns a deep compressor bound to one
// header.
func (cw *ChunkWriter) SequentialDeepBlocksCompressor(headerIndex int) *SequentialDeepBlocksCompressor {
	return &SequentialDeepBlocksCompressor{cw: cw, headerIndex: headerIndex}
}

// Write compresses and appends blk, deriving its offset-table index from
// its BlockIndex.
func (sc *SequentialDeepBlocksCompressor) Write(blk UncompressedDeepBlock) error {
	idx, err := sc.cw.headers[sc.headerIndex].IndexOfBlock(blk.Index)
	if err != nil {
		return err
	}
	return sc.cw.WriteDeepChunk(sc.headerIndex, idx, blk)
}

// pendingDeepChunk is sortedPending's deep counterpart: a compressed deep
// chunk buffered until its turn in canonical order arrives.
type pendingDeepChunk struct {
	index             BlockIndex
	compressedTable   []byte
	compressedSamples []byte
	tableIndex        int
}

// sortedPendingDeep is sortedPending specialized to pendingDeepChunk.
type sortedPendingDeep struct {
	items map[int]pendingDeepChunk
	next  int
}

func newSortedPendingDeep() *sortedPendingDeep {
	return &sortedPendingDeep{items: make(map[int]pendingDeepChunk)}
}

func (s *sortedPendingDeep) push(i int, c pendingDeepChunk) []pendingDeepChunk {
	s.items[i] = c
	var ready []pendingDeepChunk
	for {
		next, ok := s.items[s.next]
		if !ok {
			break
		}
		ready = append(ready, next)
		delete(s.items, s.next)
		s.next++
	}
	return ready
}

// ParallelDeepBlocksCompressor is ParallelBlocksCompressor's deep
// counterpart: it compresses deep blocks for one header across a worker
// pool, honoring the header's LineOrder the same way.
type ParallelDeepBlocksCompressor struct {
	cw          *ChunkWriter
	headerIndex int
	pool        *WorkerPool
	mu          sync.Mutex
	pending     *sortedPendingDeep
	anyOrder    bool
	errOnce     sync.Once
	err         error
}

// ParallelDeepBlocksCompressor returns a deep compressor bound to one
// header, backed by a worker pool sized to the available parallelism.
func (cw *ChunkWriter) ParallelDeepBlocksCompressor(headerIndex int) *ParallelDeepBlocksCompressor {
	h := cw.headers[headerIndex]
	return &ParallelDeepBlocksCompressor{
		cw:          cw,
		headerIndex: headerIndex,
		pool:        NewWorkerPool(0),
		pending:     newSortedPendingDeep(),
		anyOrder:    h.LineOrder() == LineOrderRandom,
	}
}

// Submit queues blk for compression on the worker pool. Errors are
// collected and surfaced by Close.
func (pc *ParallelDeepBlocksCompressor) Submit(blk UncompressedDeepBlock) {
	pc.pool.Submit(func() {
		h := pc.cw.headers[pc.headerIndex]
		idx, err := h.IndexOfBlock(blk.Index)
		if err != nil {
			pc.fail(err)
			return
		}

		compressedTable, compressedSamples, err := CompressDeepBlock(h, blk.PixelOffsetTable, blk.SampleData)
		if err != nil {
			pc.fail(err)
			return
		}

		pc.mu.Lock()
		defer pc.mu.Unlock()
		if pc.anyOrder {
			if err := pc.cw.writeCompressedDeepChunk(pc.headerIndex, idx, blk.Index, compressedTable, compressedSamples); err != nil {
				pc.fail(err)
			}
			return
		}
		c := pendingDeepChunk{index: blk.Index, compressedTable: compressedTable, compressedSamples: compressedSamples, tableIndex: idx}
		key := idx
		if h.LineOrder() == LineOrderDecreasing {
			key = len(pc.cw.offsets[pc.headerIndex]) - 1 - idx
		}
		for _, c := range pc.pending.push(key, c) {
			if err := pc.cw.writeCompressedDeepChunk(pc.headerIndex, c.tableIndex, c.index, c.compressedTable, c.compressedSamples); err != nil {
				pc.fail(err)
				break
			}
		}
	})
}

func (pc *ParallelDeepBlocksCompressor) fail(err error) {
	pc.errOnce.Do(func() { pc.err = err })
}

// Close waits for every submitted deep block to finish compressing and
// writing, then returns the first error encountered, if any.
func (pc *ParallelDeepBlocksCompressor) Close() error {
	pc.pool.Wait()
	pc.pool.Close()
	return pc.err
}
