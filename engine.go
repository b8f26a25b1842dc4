package pff

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/libyal/go-pff/internal/array"
	"github.com/libyal/go-pff/internal/block"
	"github.com/libyal/go-pff/internal/btree"
	"github.com/libyal/go-pff/internal/codepage"
	"github.com/libyal/go-pff/internal/format"
	"github.com/libyal/go-pff/internal/localdesc"
	"github.com/libyal/go-pff/internal/lru"
	"github.com/libyal/go-pff/internal/recovery"
	"github.com/libyal/go-pff/internal/source"
	"github.com/libyal/go-pff/internal/utils"
)

// Variant and EncryptionMode are re-exported so callers never need to
// import an internal package to inspect an open Engine.
type Variant = format.Variant
type EncryptionMode = format.EncryptionMode

const (
	Variant32Bit   = format.Variant32Bit
	Variant64Bit   = format.Variant64Bit
	Variant64Bit4k = format.Variant64Bit4k
)

const (
	EncryptionNone         = format.EncryptionNone
	EncryptionCompressible = format.EncryptionCompressible
	EncryptionHigh         = format.EncryptionHigh
)

// AllocationKind distinguishes the data and page allocation tables.
type AllocationKind = format.AllocationKind

const (
	KindData = format.KindData
	KindPage = format.KindPage
)

// Extent is a (offset, size) byte range.
type Extent = format.Extent

// DescriptorRecord is one resolved descriptor: identifier, the two
// offsets-index keys, and the parent link.
type DescriptorRecord = btree.DescriptorRecord

// LocalRecord is one (sub-id, data-id, local-descriptors-id) tuple
// attaching a child stream to a descriptor.
type LocalRecord = localdesc.Record

// state is the engine's lifecycle: Unopened -> Open -> (recover
// optional) -> Closed. Unopened is never observed on a value
// returned by Open*; it exists only as the zero value.
type state int32

const (
	stateUnopened state = iota
	stateOpen
	stateClosed
)

// RandomAccessCloser is the minimal shape OpenBySource needs: a
// random-access byte source the engine does not otherwise own.
type RandomAccessCloser interface {
	ReadAt(p []byte, off int64) (int, error)
	Close() error
}

// Engine is one open container handle. It may be moved between
// goroutines but is not safe for concurrent use; open one handle per
// worker for parallel reads.
type Engine struct {
	src    RandomAccessCloser
	header *format.Header
	layout format.Layout
	size   uint64

	descriptors *btree.DescriptorsIndex
	offsets     *btree.OffsetsIndex
	allocation  map[format.AllocationKind]*format.AllocationTable
	blocks      *lru.Cache

	log      *logrus.Logger
	abortFn  func() bool
	cfg      *config
	codepage codepage.ID

	recoveredAny bool
	state        state
}

func (e *Engine) abort() bool {
	return e.abortFn != nil && e.abortFn()
}

// OpenByPath opens the container at path for random-access reading.
func OpenByPath(path string, opts ...Option) (*Engine, error) {
	src, err := source.OpenFile(path)
	if err != nil {
		return nil, err
	}
	eng, err := OpenBySource(src, opts...)
	if err != nil {
		src.Close()
		return nil, err
	}
	return eng, nil
}

// OpenByPathMmap opens the container at path, memory-mapping the whole
// file rather than issuing a pread-style syscall per read. Prefer this for
// large containers read many times over a session.
func OpenByPathMmap(path string, opts ...Option) (*Engine, error) {
	src, err := source.OpenMmap(path)
	if err != nil {
		return nil, err
	}
	eng, err := OpenBySource(src, opts...)
	if err != nil {
		src.Close()
		return nil, err
	}
	return eng, nil
}

// OpenMemory opens a container already held in memory (e.g. an
// attachment extracted by another layer). Close is a no-op; the caller
// keeps ownership of data.
func OpenMemory(data []byte, opts ...Option) (*Engine, error) {
	return OpenBySource(source.OpenMemory(data), opts...)
}

// OpenBySource opens an already-acquired random-access source. The Engine
// takes ownership of src and closes it on Close.
func OpenBySource(src RandomAccessCloser, opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	header, err := format.ReadHeader(src)
	if err != nil {
		return nil, err
	}

	layout, err := format.LayoutFor(header.Variant)
	if err != nil {
		return nil, err
	}

	eng := &Engine{
		src:     src,
		header:  header,
		layout:  layout,
		size:    header.ContainerSize,
		log:     cfg.log,
		abortFn: cfg.abort,
		cfg:     cfg,
		state:   stateOpen,
	}

	eng.descriptors = btree.NewDescriptorsIndex(src, layout, header.DescriptorsRoot, cfg.indexCacheSize, cfg.log, eng.abort)
	eng.offsets = btree.NewOffsetsIndex(src, layout, header.OffsetsRoot, cfg.indexCacheSize, cfg.log, eng.abort)
	eng.blocks = lru.New(cfg.blockCacheSize)

	eng.allocation = make(map[format.AllocationKind]*format.AllocationTable)
	for _, kind := range []format.AllocationKind{format.KindData, format.KindPage} {
		table, terr := format.ReadAllocationTable(src, layout, kind, eng.size)
		if terr == nil {
			eng.allocation[kind] = table
		}
	}

	return eng, nil
}

// Close releases the engine's source and caches. It is safe to call
// multiple times.
func (e *Engine) Close() error {
	if atomic.LoadInt32((*int32)(&e.state)) == int32(stateClosed) {
		return nil
	}
	atomic.StoreInt32((*int32)(&e.state), int32(stateClosed))
	return e.src.Close()
}

func (e *Engine) requireOpen() error {
	if state(atomic.LoadInt32((*int32)(&e.state))) != stateOpen {
		return utils.WrapCode("engine operation", errNotOpen, utils.CodeInvalidArgument)
	}
	return nil
}

// Size returns the container's declared size.
func (e *Engine) Size() uint64 { return e.size }

// VariantOf returns the container's file variant.
func (e *Engine) VariantOf() Variant { return e.header.Variant }

// EncryptionModeOf returns the container's declared encryption mode.
func (e *Engine) EncryptionModeOf() EncryptionMode { return e.header.Encryption }

// SetASCIICodepage validates and stores id for later use by a MAPI
// property-table decoder; the engine itself never decodes strings.
func (e *Engine) SetASCIICodepage(id int) error {
	if _, ok := codepage.Validate(codepage.ID(id)); !ok {
		return utils.WrapCode("setting ascii codepage", codepage.ErrUnknownCodepage(id), utils.CodeInvalidArgument)
	}
	e.codepage = codepage.ID(id)
	return nil
}

// Descriptor resolves a descriptor identifier. Not found is a normal
// outcome (found == false), never an error.
func (e *Engine) Descriptor(id uint32) (rec DescriptorRecord, found bool, err error) {
	if err := e.requireOpen(); err != nil {
		return DescriptorRecord{}, false, err
	}
	return e.descriptors.Lookup(id)
}

// Stream opens the logical byte-stream for a data identifier: a single
// decoded block, or, when the block is a data array, the stitched
// multi-block stream.
func (e *Engine) Stream(dataID uint64) (*Stream, error) {
	if err := e.requireOpen(); err != nil {
		return nil, err
	}

	offRec, ok, err := e.offsets.Lookup(dataID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, utils.WrapCode("opening stream", errNoSuchData, utils.CodeBadBlock)
	}

	decoded, err := e.readBlock(dataID, offRec)
	if err != nil {
		return nil, err
	}

	if block.IsDataArrayMarker(decoded.Data, dataID) {
		arr, err := array.Open(e.src, e.offsets, e.layout, e.header.Encryption, dataID, e.cfg.arrayCacheSize, e.log)
		if err != nil {
			return nil, err
		}
		return &Stream{array: arr}, nil
	}

	return &Stream{raw: decoded.Data}, nil
}

// readBlock fetches one data block through the handle's block cache. A
// BadBlock failure against the live extent is retried against the newest
// recovered generation for the same identifier, if Recover has found one.
func (e *Engine) readBlock(dataID uint64, offRec btree.OffsetRecord) (*block.Decoded, error) {
	if cached, ok := e.blocks.Get(dataID); ok {
		return cached.(*block.Decoded), nil
	}

	decoded, err := block.ReadBlock(e.src, int64(offRec.FileOffset), uint64(offRec.DataSize), e.layout, e.header.Encryption, dataID, e.log)
	if err != nil && IsCode(err, CodeBadBlock) {
		if rec, ok := e.offsets.Recovered().Newest(btree.ClearInternalFlag(dataID)); ok && rec.FileOffset != offRec.FileOffset {
			decoded, err = block.ReadBlock(e.src, int64(rec.FileOffset), uint64(rec.DataSize), e.layout, e.header.Encryption, dataID, e.log)
		}
	}
	if err != nil {
		return nil, err
	}
	e.blocks.Add(dataID, decoded)
	return decoded, nil
}

// LocalDescriptorsOf resolves the local-descriptor sub-tree attached to
// rec.
func (e *Engine) LocalDescriptorsOf(rec DescriptorRecord) ([]LocalRecord, error) {
	if err := e.requireOpen(); err != nil {
		return nil, err
	}
	resolver := &localdesc.Resolver{
		Reader:     e.src,
		Offsets:    e.offsets,
		Layout:     e.layout,
		Encryption: e.header.Encryption,
		Log:        e.log,
		Abort:      e.abort,
	}
	return resolver.Resolve(rec.LocalDescriptorsID)
}

// Recover runs the recovery scanner. It is idempotent but appends to the
// recovered set rather than replacing it.
func (e *Engine) Recover(flags RecoverFlags) error {
	if err := e.requireOpen(); err != nil {
		return err
	}
	scanner := &recovery.Scanner{
		Reader:        e.src,
		Layout:        e.layout,
		Encryption:    e.header.Encryption,
		ContainerSize: e.size,
		Descriptors:   e.descriptors,
		Offsets:       e.offsets,
		Allocation:    e.allocation,
		Log:           e.log,
		Abort:         e.abort,
	}
	e.recoveredAny = true
	return scanner.Run(recovery.Flags{
		IgnoreAllocationData: flags.IgnoreAllocationData,
		ScanForFragments:     flags.ScanForFragments,
	})
}

// UnallocatedBlocks returns the unallocated ranges of the named allocation
// table.
func (e *Engine) UnallocatedBlocks(kind AllocationKind) ([]Extent, error) {
	if err := e.requireOpen(); err != nil {
		return nil, err
	}
	table, ok := e.allocation[kind]
	if !ok {
		return nil, nil
	}
	return table.Unallocated(e.size), nil
}

// RecoveredItemKind distinguishes the two kinds of record RecoveredItems
// can carry.
type RecoveredItemKind int

const (
	RecoveredDescriptor RecoveredItemKind = iota
	RecoveredOffset
)

// RecoveredItem is one salvaged record, tagged by which tree it came
// from.
type RecoveredItem struct {
	Kind       RecoveredItemKind
	Descriptor DescriptorRecord
	Offset     btree.OffsetRecord
}

// RecoveredItems returns every record either recovered-values tree holds,
// including orphan descriptors (parent == 0) surfaced even after a clean
// Recover().
func (e *Engine) RecoveredItems() []RecoveredItem {
	var out []RecoveredItem
	for _, d := range e.descriptors.Recovered().All() {
		out = append(out, RecoveredItem{Kind: RecoveredDescriptor, Descriptor: d})
	}
	for _, o := range e.offsets.Recovered().All() {
		out = append(out, RecoveredItem{Kind: RecoveredOffset, Offset: o})
	}
	return out
}

type sentinelError string

func (s sentinelError) Error() string { return string(s) }

const (
	errNotOpen    sentinelError = "engine is not open"
	errNoSuchData sentinelError = "no such data identifier"
)
