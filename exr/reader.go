package exr

import (
	"errors"
	"sort"
)

// Reader-side errors.
var (
	ErrDeepBlockNotSupported = errors.New("exr: block kind does not match the header; deep headers decode only through the deep methods, flat headers only through the others")
)

// UncompressedBlock is one decoded block of flat pixel data: the
// rectangle it covers and its native-endian, per-line channel-planar bytes.
type UncompressedBlock struct {
	Index BlockIndex
	Data  []byte
}

// chunkRef locates one chunk of one header within a File, tagging it with
// the decoded BlockIndex its offset-table position corresponds to.
type chunkRef struct {
	headerIndex int
	chunkIndex  int
	offset      int64
	block       BlockIndex
}

// ChunkPredicate reports whether a block belongs to a requested subset of
// a file's chunks. headerIndex/h identify the owning part; block is the
// candidate's decoded position.
type ChunkPredicate func(headerIndex int, h *Header, block BlockIndex) bool

// FilterRect returns a ChunkPredicate matching blocks whose pixel
// rectangle intersects rect.
func FilterRect(rect Box2i) ChunkPredicate {
	return func(_ int, _ *Header, b BlockIndex) bool {
		bb := Box2i{
			Min: b.PixelPosition,
			Max: V2i{b.PixelPosition.X + b.PixelSize.X - 1, b.PixelPosition.Y + b.PixelSize.Y - 1},
		}
		return bb.Min.X <= rect.Max.X && bb.Max.X >= rect.Min.X &&
			bb.Min.Y <= rect.Max.Y && bb.Max.Y >= rect.Min.Y
	}
}

// Reader holds a parsed File and the pedantic flag meta-data validation
// was performed with. It is the entry point for the three ChunksReader
// traversal orders: AllChunks, FilterChunks and OnDemandChunks.
type Reader struct {
	file     *File
	pedantic bool
}

// NewReader wraps an already-opened File for chunk traversal.
func NewReader(file *File, pedantic bool) *Reader {
	return &Reader{file: file, pedantic: pedantic}
}

// MetaData returns the underlying parsed file.
func (r *Reader) MetaData() *File { return r.file }

// Pedantic reports whether this reader was constructed in pedantic mode.
func (r *Reader) Pedantic() bool { return r.pedantic }

// refs returns every chunk of the given header, tagged with its decoded
// BlockIndex and file offset, in offset-table (canonical increasing-y)
// order.
func (r *Reader) refs(headerIndex int) []chunkRef {
	h := r.file.Header(headerIndex)
	blocks := h.OrderedBlockIndices(headerIndex)
	offsets := r.file.Offsets(headerIndex)
	n := len(blocks)
	if len(offsets) < n {
		n = len(offsets)
	}
	out := make([]chunkRef, n)
	for i := 0; i < n; i++ {
		out[i] = chunkRef{headerIndex: headerIndex, chunkIndex: i, offset: offsets[i], block: blocks[i]}
	}
	return out
}

func (r *Reader) allRefsAcrossHeaders() []chunkRef {
	var refs []chunkRef
	for hi := 0; hi < r.file.NumParts(); hi++ {
		refs = append(refs, r.refs(hi)...)
	}
	return refs
}

// decodeRef reads and decompresses the chunk ref points to.
func (r *Reader) decodeRef(ref chunkRef) (UncompressedBlock, error) {
	h := r.file.Header(ref.headerIndex)
	if h.IsDeep() {
		return UncompressedBlock{}, ErrDeepBlockNotSupported
	}

	width := int(ref.block.PixelSize.X)
	rows := int(ref.block.PixelSize.Y)
	expected := h.Channels().BytesPerScanline(width) * rows

	var compressed []byte
	var err error
	if h.IsTiled() {
		_, compressed, err = r.file.ReadTileChunk(ref.headerIndex, ref.chunkIndex)
	} else {
		_, compressed, err = r.file.ReadChunk(ref.headerIndex, ref.chunkIndex)
	}
	if err != nil {
		return UncompressedBlock{}, err
	}

	data, err := DecompressFlatBlock(h, compressed, width, rows, expected)
	if err != nil {
		return UncompressedBlock{}, err
	}
	return UncompressedBlock{Index: ref.block, Data: data}, nil
}

// decodeDeepRef reads and decompresses the deep chunk ref points to.
func (r *Reader) decodeDeepRef(ref chunkRef) (UncompressedDeepBlock, error) {
	h := r.file.Header(ref.headerIndex)
	if !h.IsDeep() {
		return UncompressedDeepBlock{}, ErrDeepBlockNotSupported
	}

	width := int(ref.block.PixelSize.X)
	rows := int(ref.block.PixelSize.Y)
	pixelCount := width * rows

	var compressedTable, compressedSamples []byte
	var err error
	if h.IsTiled() {
		_, compressedTable, compressedSamples, err = r.file.ReadDeepTileChunk(ref.headerIndex, ref.chunkIndex)
	} else {
		_, compressedTable, compressedSamples, err = r.file.ReadDeepChunk(ref.headerIndex, ref.chunkIndex)
	}
	if err != nil {
		return UncompressedDeepBlock{}, err
	}

	table, sampleData, err := DecompressDeepBlock(h, compressedTable, pixelCount, compressedSamples)
	if err != nil {
		return UncompressedDeepBlock{}, err
	}
	return UncompressedDeepBlock{Index: ref.block, PixelOffsetTable: table, SampleData: sampleData}, nil
}

// AllChunksReader reads every chunk of every header in the file's physical
// byte order (ascending file offset): the order requiring no seeking.
type AllChunksReader struct {
	r    *Reader
	refs []chunkRef
}

// AllChunks returns a ChunksReader over every chunk in the file, ordered
// by ascending file offset.
func (r *Reader) AllChunks() *AllChunksReader {
	refs := r.allRefsAcrossHeaders()
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].offset < refs[j].offset })
	return &AllChunksReader{r: r, refs: refs}
}

// Len returns the number of chunks this reader will yield.
func (cr *AllChunksReader) Len() int { return len(cr.refs) }

// MetaData returns the underlying parsed file.
func (cr *AllChunksReader) MetaData() *File { return cr.r.file }

// Pedantic reports whether the owning Reader was constructed in pedantic mode.
func (cr *AllChunksReader) Pedantic() bool { return cr.r.pedantic }

// DecompressSequential decodes every chunk in order, one at a time,
// invoking fn with each block.
func (cr *AllChunksReader) DecompressSequential(fn func(UncompressedBlock) error) error {
	return decompressSequential(cr.r, cr.refs, fn)
}

// DecompressParallel decodes every chunk using a worker pool, then invokes
// fn once per block after all blocks have decoded, in ascending file-offset
// order.
func (cr *AllChunksReader) DecompressParallel(fn func(UncompressedBlock) error) error {
	return decompressParallel(cr.r, cr.refs, fn)
}

// DecompressDeepSequential decodes every chunk in order, one at a time, as
// deep blocks, invoking fn with each one. Every header this reader covers
// must be deep.
func (cr *AllChunksReader) DecompressDeepSequential(fn func(UncompressedDeepBlock) error) error {
	return decompressDeepSequential(cr.r, cr.refs, fn)
}

// DecompressDeepParallel decodes every chunk using a worker pool, as deep
// blocks, then invokes fn once per block after all blocks have decoded, in
// ascending file-offset order.
func (cr *AllChunksReader) DecompressDeepParallel(fn func(UncompressedDeepBlock) error) error {
	return decompressDeepParallel(cr.r, cr.refs, fn)
}

// FilteredChunksReader reads only the chunks a predicate selects, sorted
// by ascending file offset so reads proceed forward through the file.
type FilteredChunksReader struct {
	r    *Reader
	refs []chunkRef
}

// FilterChunks returns a ChunksReader over the chunks for which pred
// returns true, sorted by ascending file offset.
func (r *Reader) FilterChunks(pred ChunkPredicate) *FilteredChunksReader {
	var refs []chunkRef
	for hi := 0; hi < r.file.NumParts(); hi++ {
		h := r.file.Header(hi)
		for _, ref := range r.refs(hi) {
			if pred(hi, h, ref.block) {
				refs = append(refs, ref)
			}
		}
	}
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].offset < refs[j].offset })
	return &FilteredChunksReader{r: r, refs: refs}
}

// Len returns the number of chunks this reader will yield.
func (cr *FilteredChunksReader) Len() int { return len(cr.refs) }

// MetaData returns the underlying parsed file.
func (cr *FilteredChunksReader) MetaData() *File { return cr.r.file }

// Pedantic reports whether the owning Reader was constructed in pedantic mode.
func (cr *FilteredChunksReader) Pedantic() bool { return cr.r.pedantic }

// DecompressSequential decodes every selected chunk in order.
func (cr *FilteredChunksReader) DecompressSequential(fn func(UncompressedBlock) error) error {
	return decompressSequential(cr.r, cr.refs, fn)
}

// DecompressParallel decodes every selected chunk using a worker pool.
func (cr *FilteredChunksReader) DecompressParallel(fn func(UncompressedBlock) error) error {
	return decompressParallel(cr.r, cr.refs, fn)
}

// DecompressDeepSequential decodes every selected chunk in order, as deep
// blocks.
func (cr *FilteredChunksReader) DecompressDeepSequential(fn func(UncompressedDeepBlock) error) error {
	return decompressDeepSequential(cr.r, cr.refs, fn)
}

// DecompressDeepParallel decodes every selected chunk using a worker pool,
// as deep blocks.
func (cr *FilteredChunksReader) DecompressDeepParallel(fn func(UncompressedDeepBlock) error) error {
	return decompressDeepParallel(cr.r, cr.refs, fn)
}

// OnDemandChunksReader retains every header's full offset table and
// decodes individual blocks by index or predicate whenever the caller asks,
// rather than up front.
type OnDemandChunksReader struct {
	r *Reader
}

// OnDemandChunks returns a reader that resolves blocks lazily, one lookup
// at a time.
func (r *Reader) OnDemandChunks() *OnDemandChunksReader {
	return &OnDemandChunksReader{r: r}
}

// MetaData returns the underlying parsed file.
func (od *OnDemandChunksReader) MetaData() *File { return od.r.file }

// Pedantic reports whether the owning Reader was constructed in pedantic mode.
func (od *OnDemandChunksReader) Pedantic() bool { return od.r.pedantic }

// Block decodes the chunk at the given index (in offset-table /
// increasing-y order) of the given header.
func (od *OnDemandChunksReader) Block(headerIndex, chunkIndex int) (UncompressedBlock, error) {
	refs := od.r.refs(headerIndex)
	if chunkIndex < 0 || chunkIndex >= len(refs) {
		return UncompressedBlock{}, ErrInvalidChunkIndex
	}
	return od.r.decodeRef(refs[chunkIndex])
}

// Find decodes every block across every header for which pred returns
// true.
func (od *OnDemandChunksReader) Find(pred ChunkPredicate) ([]UncompressedBlock, error) {
	var out []UncompressedBlock
	for hi := 0; hi < od.r.file.NumParts(); hi++ {
		h := od.r.file.Header(hi)
		for _, ref := range od.r.refs(hi) {
			if !pred(hi, h, ref.block) {
				continue
			}
			blk, err := od.r.decodeRef(ref)
			if err != nil {
				return nil, err
			}
			out = append(out, blk)
		}
	}
	return out, nil
}

// FindRect decodes every block across every header whose pixel rectangle
// intersects rect.
func (od *OnDemandChunksReader) FindRect(rect Box2i) ([]UncompressedBlock, error) {
	return od.Find(FilterRect(rect))
}

// DeepBlock decodes the deep chunk at the given index (in offset-table /
// increasing-y order) of the given header.
func (od *OnDemandChunksReader) DeepBlock(headerIndex, chunkIndex int) (UncompressedDeepBlock, error) {
	refs := od.r.refs(headerIndex)
	if chunkIndex < 0 || chunkIndex >= len(refs) {
		return UncompressedDeepBlock{}, ErrInvalidChunkIndex
	}
	return od.r.decodeDeepRef(refs[chunkIndex])
}

// FindDeep decodes every deep block across every header for which pred
// returns true.
func (od *OnDemandChunksReader) FindDeep(pred ChunkPredicate) ([]UncompressedDeepBlock, error) {
	var out []UncompressedDeepBlock
	for hi := 0; hi < od.r.file.NumParts(); hi++ {
		h := od.r.file.Header(hi)
		for _, ref := range od.r.refs(hi) {
			if !pred(hi, h, ref.block) {
				continue
			}
			blk, err := od.r.decodeDeepRef(ref)
			if err != nil {
				return nil, err
			}
			out = append(out, blk)
		}
	}
	return out, nil
}

// FindRectDeep decodes every deep block across every header whose pixel
// rectangle intersects rect.
func (od *OnDemandChunksReader) FindRectDeep(rect Box2i) ([]UncompressedDeepBlock, error) {
	return od.FindDeep(FilterRect(rect))
}

// decompressSequential is the SequentialBlockDecompressor: it decodes refs
// one at a time, on the caller's goroutine, in the order given.
func decompressSequential(r *Reader, refs []chunkRef, fn func(UncompressedBlock) error) error {
	for _, ref := range refs {
		blk, err := r.decodeRef(ref)
		if err != nil {
			return err
		}
		if err := fn(blk); err != nil {
			return err
		}
	}
	return nil
}

// decompressParallel is the ParallelBlockDecompressor: it fans decode work
// for refs out across a worker pool sized to the available parallelism,
// bounded by the number of chunks, and, once every block has decoded,
// delivers them to fn in the order of refs. If every header in the file
// uses CompressionNone the parallel path is skipped and decoding proceeds
// sequentially, since there is no decompression work for a pool to
// parallelize.
func decompressParallel(r *Reader, refs []chunkRef, fn func(UncompressedBlock) error) error {
	if len(refs) == 0 {
		return nil
	}

	allUncompressed := true
	for hi := 0; hi < r.file.NumParts(); hi++ {
		if r.file.Header(hi).Compression() != CompressionNone {
			allUncompressed = false
			break
		}
	}
	if allUncompressed {
		return decompressSequential(r, refs, fn)
	}

	blocks := make([]UncompressedBlock, len(refs))
	err := ParallelForWithError(len(refs), func(i int) error {
		blk, err := r.decodeRef(refs[i])
		if err != nil {
			return err
		}
		blocks[i] = blk
		return nil
	})
	if err != nil {
		return err
	}

	for _, blk := range blocks {
		if err := fn(blk); err != nil {
			return err
		}
	}
	return nil
}

// decompressDeepSequential is decompressSequential's deep counterpart: it
// decodes refs one at a time, on the caller's goroutine, in the order
// given.
func decompressDeepSequential(r *Reader, refs []chunkRef, fn func(UncompressedDeepBlock) error) error {
	for _, ref := range refs {
		blk, err := r.decodeDeepRef(ref)
		if err != nil {
			return err
		}
		if err := fn(blk); err != nil {
			return err
		}
	}
	return nil
}

// decompressDeepParallel is decompressParallel's deep counterpart: it fans
// decode work for refs out across a worker pool and, once every block has
// decoded, delivers the deep blocks to fn in the order of refs. If every
// header in the file uses CompressionNone the parallel path is skipped and
// decoding proceeds sequentially.
func decompressDeepParallel(r *Reader, refs []chunkRef, fn func(UncompressedDeepBlock) error) error {
	if len(refs) == 0 {
		return nil
	}

	allUncompressed := true
	for hi := 0; hi < r.file.NumParts(); hi++ {
		if r.file.Header(hi).Compression() != CompressionNone {
			allUncompressed = false
			break
		}
	}
	if allUncompressed {
		return decompressDeepSequential(r, refs, fn)
	}

	blocks := make([]UncompressedDeepBlock, len(refs))
	err := ParallelForWithError(len(refs), func(i int) error {
		blk, err := r.decodeDeepRef(refs[i])
		if err != nil {
			return err
		}
		blocks[i] = blk
		return nil
	})
	if err != nil {
		return err
	}

	for _, blk := range blocks {
		if err := fn(blk); err != nil {
			return err
		}
	}
	return nil
}
