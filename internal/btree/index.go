package btree

import (
	"github.com/sirupsen/logrus"

	"github.com/libyal/go-pff/internal/blocktree"
	"github.com/libyal/go-pff/internal/format"
	"github.com/libyal/go-pff/internal/lru"
	"github.com/libyal/go-pff/internal/utils"
)

// AbortFunc is consulted at every sub-node descent; a lookup unwinds with
// CodeAborted the first time it returns true.
type AbortFunc func() bool

// Index is one of the container's two B-trees (descriptors or offsets),
// wired to a byte source, a variant layout, and a page cache shared across
// lookups on this handle.
type Index struct {
	Reader    utils.ReaderAt
	Layout    format.Layout
	Root      format.RootPointer
	WantType  NodeType
	PageCache *lru.Cache
	Log       *logrus.Logger
	Abort     AbortFunc
}

// NewIndex builds an Index over root, with its own page cache of the
// given size.
func NewIndex(r utils.ReaderAt, layout format.Layout, root format.RootPointer, wantType NodeType, cacheSize int, log *logrus.Logger, abort AbortFunc) *Index {
	if abort == nil {
		abort = func() bool { return false }
	}
	return &Index{
		Reader:    r,
		Layout:    layout,
		Root:      root,
		WantType:  wantType,
		PageCache: lru.New(cacheSize),
		Log:       log,
		Abort:     abort,
	}
}

// readPage fetches and parses the page at offset, through the page cache.
func (ix *Index) readPage(offset uint64) (*Node, error) {
	if cached, ok := ix.PageCache.Get(offset); ok {
		return cached.(*Node), nil
	}

	buf := make([]byte, ix.Layout.PageSize)
	if _, err := ix.Reader.ReadAt(buf, int64(offset)); err != nil {
		return nil, utils.WrapCode("reading index page", err, utils.CodeIO)
	}

	var log logger
	if ix.Log != nil {
		log = ix.Log
	}
	node, err := ParsePage(buf, ix.Layout, log)
	if err != nil {
		return nil, err
	}
	ix.PageCache.Add(offset, node)
	return node, nil
}

// LookupRaw walks the tree from Root to find the leaf entry whose key
// exactly matches id. The branch child to descend is the last entry whose
// first-identifier <= id, or entry 0 if all keys exceed id. Returns
// (nil, false, nil) when id is legitimately absent; not-found is a normal
// outcome, never an error.
func (ix *Index) LookupRaw(id uint64) (entry []byte, found bool, err error) {
	tracker := blocktree.New()

	offset := ix.Root.Offset
	expectedBackPointer := ix.Root.BackPointer

	for depth := 0; ; depth++ {
		if ix.Abort() {
			return nil, false, utils.WrapCode("index lookup", errAborted, utils.CodeAborted)
		}

		if depth >= maxDescentDepth {
			return nil, false, utils.WrapCode("index lookup", errTooDeep, utils.CodeCorruptTree)
		}

		if !tracker.Visit(offset) {
			return nil, false, utils.WrapCode("index lookup", errCycle, utils.CodeCorruptTree)
		}

		node, perr := ix.readPage(offset)
		if perr != nil {
			return nil, false, perr
		}

		// A zero expected back-pointer accepts the child regardless
		// (logged); a non-zero mismatch means the page was reallocated
		// or overwritten, and the live lookup fails so the caller can
		// fall back to the recovered tree.
		if expectedBackPointer == 0 {
			if node.BackPointer != 0 && ix.Log != nil {
				ix.Log.WithFields(logrus.Fields{
					"offset": offset,
					"got":    node.BackPointer,
				}).Debug("index node reached through zero back-pointer; accepting leniently")
			}
		} else if node.BackPointer != expectedBackPointer {
			if ix.Log != nil {
				ix.Log.WithFields(logrus.Fields{
					"offset":   offset,
					"got":      node.BackPointer,
					"expected": expectedBackPointer,
				}).Debug("index node back-pointer mismatch")
			}
			return nil, false, utils.WrapCode("index lookup", errWrongPage, utils.CodeBadBlock)
		}

		if node.IsLeaf() {
			for i := 0; i < int(node.EntryCount); i++ {
				e := node.Entry(i)
				if leafKey(node.Type, e, ix.Layout) == id {
					return e, true, nil
				}
			}
			return nil, false, nil
		}

		// Branch node: descend to the last entry whose key <= id, else
		// entry 0 if every key exceeds id.
		if node.EntryCount == 0 {
			return nil, false, nil
		}

		chosen := 0
		for i := 0; i < int(node.EntryCount); i++ {
			be := ParseBranchEntry(node.Entry(i), ix.Layout)
			if be.FirstIdentifier <= id {
				chosen = i
			}
		}

		branch := ParseBranchEntry(node.Entry(chosen), ix.Layout)
		offset = branch.FileOffset
		expectedBackPointer = branch.BackPointer
	}
}

func leafKey(t NodeType, raw []byte, layout format.Layout) uint64 {
	if t == TypeDescriptor {
		return uint64(ParseDescriptorLeafEntry(raw, layout).Identifier)
	}
	return ParseOffsetLeafEntry(raw, layout).Identifier
}

type sentinelError string

func (s sentinelError) Error() string { return string(s) }

const (
	errAborted   sentinelError = "lookup aborted"
	errCycle     sentinelError = "cyclic index tree detected"
	errWrongPage sentinelError = "index node back-pointer mismatch"
	errTooDeep   sentinelError = "index tree deeper than the descent bound"
)

// maxDescentDepth bounds the number of pages one lookup descends through,
// a secondary guard behind the visited-offset tracker.
const maxDescentDepth = 64
