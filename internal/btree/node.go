// Package btree implements the index-node parser and the two
// container-wide B-trees built on top of it: the descriptors index
// (descriptor-id -> data-id/local-descriptors-id/parent-id) and the
// offsets index (data-id -> file-offset/data-size/refcount).
package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/libyal/go-pff/internal/checksum"
	"github.com/libyal/go-pff/internal/format"
	"github.com/libyal/go-pff/internal/utils"
)

// NodeType distinguishes the two B-trees a Node footer can belong to.
type NodeType uint8

const (
	TypeDescriptor NodeType = 0x00
	TypeOffset     NodeType = 0x01
)

func (t NodeType) String() string {
	if t == TypeOffset {
		return "offset"
	}
	return "descriptor"
}

// Node is one parsed B-tree page: its footer fields plus a view over its
// raw entry bytes. get_entry(i) slices directly into the backing buffer,
// so callers must not retain a Node past the lifetime of its source bytes
// without copying what they need.
type Node struct {
	Type        NodeType
	Level       uint8
	EntryCount  uint16
	MaxEntries  uint16
	EntrySize   uint8
	BackPointer uint64
	Checksum    uint32

	raw        []byte
	entriesOff int
}

// ParsePage parses one page's worth of bytes (exactly layout.PageSize) into
// a Node. It validates node-type against {descriptor, offset} and clamps
// entry_count to both maximum_entries and the footer-implied capacity,
// logging (not failing) when clamping occurs.
func ParsePage(raw []byte, layout format.Layout, log logger) (*Node, error) {
	if uint32(len(raw)) != layout.PageSize {
		return nil, utils.WrapCode("parsing index node", fmt.Errorf("expected %d bytes, got %d", layout.PageSize, len(raw)), utils.CodeBadBlock)
	}

	footerOff := layout.PageSize - layout.IndexNodeFooterSize
	footer := raw[footerOff:]

	n := &Node{raw: raw}

	switch layout.Variant {
	case format.Variant32Bit:
		n.EntryCount = uint16(footer[0])
		n.MaxEntries = uint16(footer[1])
		n.EntrySize = footer[2]
		n.Level = footer[3]
		typ, typCopy := footer[4], footer[5]
		n.Type = pickNodeType(typ, typCopy, log)
		n.BackPointer = uint64(binary.LittleEndian.Uint32(footer[8:12]))
		n.Checksum = binary.LittleEndian.Uint32(footer[12:16])
	case format.Variant64Bit:
		n.EntryCount = uint16(footer[0])
		n.MaxEntries = uint16(footer[1])
		n.EntrySize = footer[2]
		n.Level = footer[3]
		typ, typCopy := footer[8], footer[9]
		n.Type = pickNodeType(typ, typCopy, log)
		n.Checksum = binary.LittleEndian.Uint32(footer[12:16])
		n.BackPointer = binary.LittleEndian.Uint64(footer[16:24])
	case format.Variant64Bit4k:
		n.EntryCount = binary.LittleEndian.Uint16(footer[0:2])
		n.MaxEntries = binary.LittleEndian.Uint16(footer[2:4])
		n.EntrySize = footer[4]
		n.Level = footer[5]
		typ, typCopy := footer[16], footer[17]
		n.Type = pickNodeType(typ, typCopy, log)
		n.Checksum = binary.LittleEndian.Uint32(footer[20:24])
		n.BackPointer = binary.LittleEndian.Uint64(footer[24:32])
		// footer[32:40] is unknown1, preserved but uninterpreted.
	default:
		return nil, utils.WrapCode("parsing index node", fmt.Errorf("unsupported variant %d", layout.Variant), utils.CodeUnsupportedVariant)
	}

	if n.EntrySize == 0 {
		return nil, utils.WrapCode("parsing index node", fmt.Errorf("zero entry size"), utils.CodeBadBlock)
	}

	// The stored CRC covers the page up to the footer. A mismatch is
	// logged and the parsed content still served, same as for data
	// blocks.
	if !checksum.Verify(raw[:footerOff], n.Checksum) && log != nil {
		log.Warnf("index node checksum mismatch (stored 0x%08x); continuing", n.Checksum)
	}

	maxByArea := uint16(footerOff) / uint16(n.EntrySize)
	if n.MaxEntries > maxByArea {
		n.MaxEntries = maxByArea
	}
	if n.EntryCount > n.MaxEntries {
		if log != nil {
			log.Warnf("index node clamps entry_count %d to maximum_entries %d", n.EntryCount, n.MaxEntries)
		}
		n.EntryCount = n.MaxEntries
	}

	n.entriesOff = 0
	return n, nil
}

// pickNodeType validates the primary/copy type bytes against the valid
// set, returning whichever of the two is a recognized type when they
// disagree.
func pickNodeType(primary, copyByte byte, log logger) NodeType {
	pv, pok := asNodeType(primary)
	cv, cok := asNodeType(copyByte)

	switch {
	case pok && cok && pv == cv:
		return pv
	case pok && !cok:
		if log != nil {
			log.Debugf("index node type/copy mismatch (%d/%d); using primary", primary, copyByte)
		}
		return pv
	case !pok && cok:
		if log != nil {
			log.Debugf("index node type/copy mismatch (%d/%d); using copy", primary, copyByte)
		}
		return cv
	case pok && cok:
		if log != nil {
			log.Debugf("index node type/copy mismatch (%d/%d); using primary", primary, copyByte)
		}
		return pv
	default:
		return TypeDescriptor
	}
}

func asNodeType(b byte) (NodeType, bool) {
	switch NodeType(b) {
	case TypeDescriptor:
		return TypeDescriptor, true
	case TypeOffset:
		return TypeOffset, true
	default:
		return 0, false
	}
}

// IsLeaf reports whether this node holds payload entries (level 0) rather
// than branch entries to sub-nodes.
func (n *Node) IsLeaf() bool { return n.Level == 0 }

// Entry returns the raw EntrySize-byte slice for entry i, clamped to
// EntryCount by the caller's own loop bound.
func (n *Node) Entry(i int) []byte {
	size := int(n.EntrySize)
	start := n.entriesOff + i*size
	return n.raw[start : start+size]
}

// logger is the minimal logging surface node.go needs; satisfied by
// *logrus.Logger without importing it here, keeping this file
// dependency-light and easy to unit test with a nil logger.
type logger interface {
	Warnf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}
