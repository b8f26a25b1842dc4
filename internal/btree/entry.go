package btree

import (
	"encoding/binary"

	"github.com/libyal/go-pff/internal/format"
)

// BranchEntry is one branch-node entry: the first identifier reachable
// through the sub-node, the sub-node's expected back-pointer, and the
// sub-node's file offset.
type BranchEntry struct {
	FirstIdentifier uint64
	BackPointer     uint64
	FileOffset      uint64
}

// ParseBranchEntry decodes one BranchEntrySize-byte slice per variant.
func ParseBranchEntry(raw []byte, layout format.Layout) BranchEntry {
	if layout.Variant == format.Variant32Bit {
		return BranchEntry{
			FirstIdentifier: uint64(binary.LittleEndian.Uint32(raw[0:4])),
			BackPointer:     uint64(binary.LittleEndian.Uint32(raw[4:8])),
			FileOffset:      uint64(binary.LittleEndian.Uint32(raw[8:12])),
		}
	}
	return BranchEntry{
		FirstIdentifier: binary.LittleEndian.Uint64(raw[0:8]),
		BackPointer:     binary.LittleEndian.Uint64(raw[8:16]),
		FileOffset:      binary.LittleEndian.Uint64(raw[16:24]),
	}
}

// DescriptorLeafEntry is one leaf entry of the descriptors index.
type DescriptorLeafEntry struct {
	Identifier         uint32 // only the low 32 bits are meaningful.
	DataIdentifier     uint64
	LocalDescriptorsID uint64
	ParentIdentifier   uint32
}

// ParseDescriptorLeafEntry decodes one DescriptorLeafEntrySize-byte slice.
func ParseDescriptorLeafEntry(raw []byte, layout format.Layout) DescriptorLeafEntry {
	if layout.Variant == format.Variant32Bit {
		return DescriptorLeafEntry{
			Identifier:         binary.LittleEndian.Uint32(raw[0:4]),
			DataIdentifier:     uint64(binary.LittleEndian.Uint32(raw[4:8])),
			LocalDescriptorsID: uint64(binary.LittleEndian.Uint32(raw[8:12])),
			ParentIdentifier:   binary.LittleEndian.Uint32(raw[12:16]),
		}
	}
	return DescriptorLeafEntry{
		// identifier only stores 32 meaningful bits even on 64-bit
		// variants.
		Identifier:         uint32(binary.LittleEndian.Uint64(raw[0:8])),
		DataIdentifier:     binary.LittleEndian.Uint64(raw[8:16]),
		LocalDescriptorsID: binary.LittleEndian.Uint64(raw[16:24]),
		ParentIdentifier:   binary.LittleEndian.Uint32(raw[24:28]),
		// raw[28:32] is unknown1 on the 64-bit variant, uninterpreted.
	}
}

// OffsetLeafEntry is one leaf entry of the offsets index.
type OffsetLeafEntry struct {
	Identifier     uint64
	FileOffset     uint64
	DataSize       uint16
	ReferenceCount uint16
}

// ParseOffsetLeafEntry decodes one OffsetLeafEntrySize-byte slice.
func ParseOffsetLeafEntry(raw []byte, layout format.Layout) OffsetLeafEntry {
	if layout.Variant == format.Variant32Bit {
		return OffsetLeafEntry{
			Identifier:     uint64(binary.LittleEndian.Uint32(raw[0:4])),
			FileOffset:     uint64(binary.LittleEndian.Uint32(raw[4:8])),
			DataSize:       binary.LittleEndian.Uint16(raw[8:10]),
			ReferenceCount: binary.LittleEndian.Uint16(raw[10:12]),
		}
	}
	return OffsetLeafEntry{
		Identifier:     binary.LittleEndian.Uint64(raw[0:8]),
		FileOffset:     binary.LittleEndian.Uint64(raw[8:16]),
		DataSize:       binary.LittleEndian.Uint16(raw[16:18]),
		ReferenceCount: binary.LittleEndian.Uint16(raw[18:20]),
		// raw[20:24] is the data allocation table file offset on the
		// 64-bit variant, uninterpreted by the store engine itself.
	}
}

// IdentifierInternal reports whether bit 0x02 of a data identifier is
// set, marking the referenced block as an internal data-array header
// rather than user bytes.
func IdentifierInternal(id uint64) bool {
	return id&0x02 != 0
}

// ClearInternalFlag clears bit 0x02 before an offsets-index key
// comparison.
func ClearInternalFlag(id uint64) uint64 {
	return id &^ 0x02
}

// MaskDescriptorIdentifier keeps only the low 32 bits of a descriptor
// identifier, applied before every comparison.
func MaskDescriptorIdentifier(id uint64) uint32 {
	return uint32(id)
}
