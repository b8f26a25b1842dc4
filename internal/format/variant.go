// Package format describes the on-disk container shape: the three file
// variants, the file header, and the allocation tables. Every size
// constant that depends on the variant lives in one Layout value resolved
// at open time and threaded through every read.
package format

import "fmt"

// Variant identifies one of the three container layouts. It is read once
// at open time and carried everywhere afterward instead of branching on a
// raw byte at every call site.
type Variant uint8

const (
	Variant32Bit Variant = iota
	Variant64Bit
	Variant64Bit4k
)

// variant byte values as stored in the file header.
const (
	variantByte32Bit   = 0x0E
	variantByte64Bit   = 0x17
	variantByte64Bit4k = 0x24
)

func (v Variant) String() string {
	switch v {
	case Variant32Bit:
		return "32-bit"
	case Variant64Bit:
		return "64-bit"
	case Variant64Bit4k:
		return "64-bit-4k"
	default:
		return fmt.Sprintf("Variant(%d)", uint8(v))
	}
}

// ParseVariantByte maps the header's variant byte to a Variant, or reports
// UnsupportedVariant via the returned bool.
func ParseVariantByte(b byte) (Variant, bool) {
	switch b {
	case variantByte32Bit:
		return Variant32Bit, true
	case variantByte64Bit:
		return Variant64Bit, true
	case variantByte64Bit4k:
		return Variant64Bit4k, true
	default:
		return 0, false
	}
}

// Layout carries every size constant that depends on the container variant,
// so the rest of the engine never branches on the variant byte directly.
type Layout struct {
	Variant Variant

	// PageSize is the B-tree index-node page size (512 or 4096).
	PageSize uint32

	// IndexNodeFooterSize is the trailing footer size of an index-node page
	// (number/maximum entries, entry size, level, type + type-copy,
	// signature, checksum, back-pointer, and on the 4k variant an
	// stored-but-uninterpreted "unknown1"). This is a distinct structure from
	// the data-block footer below: 16/24/40 bytes per variant, not the
	// 12/16/24 of a data block footer.
	IndexNodeFooterSize uint32

	// BlockFooterSize is the trailing footer size of a data block: 12, 16,
	// or 24 bytes per variant.
	BlockFooterSize uint32

	// BranchEntrySize, DescriptorLeafEntrySize, and OffsetLeafEntrySize are
	// the three index-entry sizes named in the variant table.
	BranchEntrySize         uint32
	DescriptorLeafEntrySize uint32
	OffsetLeafEntrySize     uint32

	// IdentifierSize is the width of an on-disk identifier: 4 bytes on the
	// 32-bit variant, 8 bytes otherwise.
	IdentifierSize uint32

	// BlockStride is the allocation granularity for data blocks: 64 bytes
	// on the 512-byte-page variants, 512 bytes on the 4k-page variant.
	BlockStride uint32

	// MaxDataSize is the maximum declared size of a single offset record's
	// data: 8 KiB on the 512-byte-page variants, 64 KiB on the 4k-page
	// variant.
	MaxDataSize uint32
}

// LayoutFor returns the fixed size table for a variant.
func LayoutFor(v Variant) (Layout, error) {
	switch v {
	case Variant32Bit:
		return Layout{
			Variant:                 v,
			PageSize:                512,
			IndexNodeFooterSize:     16,
			BlockFooterSize:         12,
			BranchEntrySize:         12,
			DescriptorLeafEntrySize: 16,
			OffsetLeafEntrySize:     12,
			IdentifierSize:          4,
			BlockStride:             64,
			MaxDataSize:             8 * 1024,
		}, nil
	case Variant64Bit:
		return Layout{
			Variant:                 v,
			PageSize:                512,
			IndexNodeFooterSize:     24,
			BlockFooterSize:         16,
			BranchEntrySize:         24,
			DescriptorLeafEntrySize: 32,
			OffsetLeafEntrySize:     24,
			IdentifierSize:          8,
			BlockStride:             64,
			MaxDataSize:             8 * 1024,
		}, nil
	case Variant64Bit4k:
		return Layout{
			Variant:                 v,
			PageSize:                4096,
			IndexNodeFooterSize:     40,
			BlockFooterSize:         24,
			BranchEntrySize:         24,
			DescriptorLeafEntrySize: 32,
			OffsetLeafEntrySize:     24,
			IdentifierSize:          8,
			BlockStride:             512,
			MaxDataSize:             64 * 1024,
		}, nil
	default:
		return Layout{}, fmt.Errorf("unsupported variant: %d", v)
	}
}
