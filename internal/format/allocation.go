package format

import (
	"github.com/libyal/go-pff/internal/utils"
)

// AllocationKind distinguishes the two allocation tables a container
// maintains: one for data-block extents, one for index/local-descriptor
// pages. The recovery scanner's "restrict to unallocated ranges" option
// consults whichever table matches what it is scanning for.
type AllocationKind uint8

const (
	KindData AllocationKind = iota
	KindPage
)

func (k AllocationKind) String() string {
	if k == KindPage {
		return "page"
	}
	return "data"
}

// fixed allocation-table offsets, per variant.
const (
	dataTableOffset512 = 0x4400
	pageTableOffset512 = 0x4600
	allocTableOffset4k = 0x22000
)

// Extent is a (offset, size) range, used both for allocated extents inside
// an AllocationTable and for the unallocated gaps derived from it.
type Extent struct {
	Offset uint64
	Size   uint64
}

// AllocationTable is one parsed allocation bitmap/table: a flat list of
// allocated extents in ascending offset order.
type AllocationTable struct {
	Kind    AllocationKind
	Extents []Extent
}

// allocationTableOffset returns the fixed on-disk offset of the named
// allocation table for a given variant.
func allocationTableOffset(layout Layout, kind AllocationKind) uint64 {
	if layout.Variant == Variant64Bit4k {
		return allocTableOffset4k
	}
	if kind == KindPage {
		return pageTableOffset512
	}
	return dataTableOffset512
}

// allocationTableStride returns the number of bytes one table page
// covers: 496 bitmap bytes x 8 bits x the block stride on the 512-byte
// variants, 4072 x 8 x 512 on the 4k variant.
func allocationTableStride(layout Layout) uint64 {
	if layout.Variant == Variant64Bit4k {
		return 4072 * 8 * 512
	}
	return 496 * 8 * uint64(layout.BlockStride)
}

// ReadAllocationTable parses one allocation table (data or page) into its
// list of allocated extents. Each table page is a bitmap: bit i set means
// the i'th block-stride-sized unit starting at the table's base offset is
// allocated. A corrupt or truncated table yields whatever prefix parsed
// cleanly rather than failing outright — allocation data is only ever an
// optimization hint to the recovery scanner, never required for correctness.
func ReadAllocationTable(r utils.ReaderAt, layout Layout, kind AllocationKind, containerSize uint64) (*AllocationTable, error) {
	base := allocationTableOffset(layout, kind)
	stride := allocationTableStride(layout)

	table := &AllocationTable{Kind: kind}

	tableOffset := base
	unitOffset := uint64(0)

	for tableOffset < containerSize {
		pageSize := uint64(layout.PageSize)
		buf := make([]byte, pageSize)

		n, err := r.ReadAt(buf, int64(tableOffset))
		if n == 0 {
			if err != nil {
				break
			}
		}
		buf = buf[:n]
		if bitmapBytes := stride / (8 * uint64(layout.BlockStride)); uint64(len(buf)) > bitmapBytes {
			buf = buf[:bitmapBytes]
		}

		extents := bitmapToExtents(buf, unitOffset, uint64(layout.BlockStride))
		table.Extents = append(table.Extents, extents...)

		tableOffset += pageSize
		unitOffset += stride

		if err != nil {
			break
		}
	}

	return table, nil
}

// bitmapToExtents walks one bitmap page and coalesces consecutive set bits
// into extents, each unit being unitSize bytes starting at baseOffset.
func bitmapToExtents(bitmap []byte, baseOffset, unitSize uint64) []Extent {
	var extents []Extent
	var run *Extent

	for byteIdx, b := range bitmap {
		for bit := 0; bit < 8; bit++ {
			set := b&(1<<uint(bit)) != 0
			unitIndex := uint64(byteIdx*8 + bit)
			offset := baseOffset + unitIndex*unitSize

			switch {
			case set && run == nil:
				run = &Extent{Offset: offset, Size: unitSize}
			case set && run != nil:
				run.Size += unitSize
			case !set && run != nil:
				extents = append(extents, *run)
				run = nil
			}
		}
	}
	if run != nil {
		extents = append(extents, *run)
	}
	return extents
}

// Unallocated returns the gaps between this table's extents, clipped to
// [0, containerSize), the ranges the recovery scanner's Phase A restricts
// itself to when IgnoreAllocationData is false.
func (t *AllocationTable) Unallocated(containerSize uint64) []Extent {
	var gaps []Extent
	cursor := uint64(0)

	for _, e := range t.Extents {
		if e.Offset > cursor {
			gaps = append(gaps, Extent{Offset: cursor, Size: e.Offset - cursor})
		}
		end := e.Offset + e.Size
		if end > cursor {
			cursor = end
		}
	}
	if cursor < containerSize {
		gaps = append(gaps, Extent{Offset: cursor, Size: containerSize - cursor})
	}
	return gaps
}
