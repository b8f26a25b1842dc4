// Package localdesc resolves the local-descriptors sub-tree attached to a
// single descriptor record: a miniature B-tree, paged like an index node
// but signed 0x02, reached via one offsets-index lookup and recursively
// descended through further offsets-index lookups at its branch entries.
package localdesc

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"

	"github.com/libyal/go-pff/internal/block"
	"github.com/libyal/go-pff/internal/blocktree"
	"github.com/libyal/go-pff/internal/btree"
	"github.com/libyal/go-pff/internal/format"
	"github.com/libyal/go-pff/internal/utils"
)

// signature is the well-known byte every local-descriptors page begins
// with, distinct from the CRC-checked index-node signature.
const signature = 0x02

// maxDepth bounds local-descriptor recursion, matching the index
// descent's own cycle-immunity bound.
const maxDepth = 64

// Record is one (sub-id, data-id, local-descriptors-id) leaf tuple
// attaching a child stream to the owning descriptor.
type Record struct {
	Identifier         uint32
	DataIdentifier     uint64
	LocalDescriptorsID uint64
}

// Resolver walks the local-descriptors sub-tree for one descriptor,
// resolving each branch/leaf through the shared offsets index.
type Resolver struct {
	Reader     utils.ReaderAt
	Offsets    *btree.OffsetsIndex
	Layout     format.Layout
	Encryption format.EncryptionMode
	Log        *logrus.Logger
	Abort      btree.AbortFunc
}

// Resolve returns every leaf tuple reachable from localDescriptorsID, or
// an empty slice if localDescriptorsID is zero, meaning "none". A cycle
// among sub-node identifiers fails the whole resolution with
// CorruptTree, matching the live-index descent contract.
func (r *Resolver) Resolve(localDescriptorsID uint64) ([]Record, error) {
	if localDescriptorsID == 0 {
		return nil, nil
	}

	tracker := blocktree.New()
	var out []Record
	if err := r.walk(localDescriptorsID, tracker, 0, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resolver) walk(subID uint64, tracker *blocktree.Tracker, depth int, out *[]Record) error {
	if r.Abort != nil && r.Abort() {
		return utils.WrapCode("resolving local descriptors", errAborted, utils.CodeAborted)
	}
	if depth > maxDepth {
		return utils.WrapCode("resolving local descriptors", errTooDeep, utils.CodeCorruptTree)
	}

	offRec, ok, err := r.Offsets.Lookup(subID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if !tracker.Visit(offRec.FileOffset) {
		return utils.WrapCode("resolving local descriptors", errCycle, utils.CodeCorruptTree)
	}

	decoded, err := block.ReadBlock(r.Reader, int64(offRec.FileOffset), uint64(offRec.DataSize), r.Layout, r.Encryption, subID, r.Log)
	if err != nil {
		return err
	}

	node, err := parseNode(decoded.Data, r.Layout)
	if err != nil {
		return err
	}

	if node.level == 0 {
		*out = append(*out, node.leaves...)
		return nil
	}

	for _, sub := range node.branches {
		if err := r.walk(sub, tracker, depth+1, out); err != nil {
			return err
		}
	}
	return nil
}

type parsedNode struct {
	level    uint8
	leaves   []Record
	branches []uint64
}

// parseNode decodes one local-descriptors page: a 1-byte signature, a
// 1-byte level, a 2-byte entry count, then (on 64-bit layouts) 4 bytes of
// padding, followed by level-0 leaf triples or level>0 branch pairs.
func parseNode(data []byte, layout format.Layout) (*parsedNode, error) {
	if len(data) < 4 || data[0] != signature {
		return nil, utils.WrapCode("parsing local descriptors node", errBadSignature, utils.CodeBadBlock)
	}

	level := data[1]
	count := binary.LittleEndian.Uint16(data[2:4])

	headerSize := 4
	idSize := 4
	if layout.Variant != format.Variant32Bit {
		headerSize = 8
		idSize = 8
	}

	n := &parsedNode{level: level}
	offset := headerSize

	if level == 0 {
		entrySize := idSize * 3
		for i := uint16(0); i < count; i++ {
			if offset+entrySize > len(data) {
				break
			}
			e := data[offset : offset+entrySize]
			rec := Record{}
			if idSize == 4 {
				rec.Identifier = binary.LittleEndian.Uint32(e[0:4])
				rec.DataIdentifier = uint64(binary.LittleEndian.Uint32(e[4:8]))
				rec.LocalDescriptorsID = uint64(binary.LittleEndian.Uint32(e[8:12]))
			} else {
				rec.Identifier = uint32(binary.LittleEndian.Uint64(e[0:8]))
				rec.DataIdentifier = binary.LittleEndian.Uint64(e[8:16])
				rec.LocalDescriptorsID = binary.LittleEndian.Uint64(e[16:24])
			}
			n.leaves = append(n.leaves, rec)
			offset += entrySize
		}
	} else {
		entrySize := idSize * 2
		for i := uint16(0); i < count; i++ {
			if offset+entrySize > len(data) {
				break
			}
			e := data[offset : offset+entrySize]
			var subNode uint64
			if idSize == 4 {
				subNode = uint64(binary.LittleEndian.Uint32(e[4:8]))
			} else {
				subNode = binary.LittleEndian.Uint64(e[8:16])
			}
			n.branches = append(n.branches, subNode)
			offset += entrySize
		}
	}

	return n, nil
}

type sentinelError string

func (s sentinelError) Error() string { return string(s) }

const (
	errAborted      sentinelError = "local descriptor resolution aborted"
	errTooDeep      sentinelError = "local descriptor recursion too deep"
	errCycle        sentinelError = "cyclic local descriptor tree detected"
	errBadSignature sentinelError = "invalid local descriptors node signature"
)
