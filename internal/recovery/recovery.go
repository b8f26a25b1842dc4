// Package recovery implements the store engine's recovery scanner: phase A
// salvages index entries from slack space in otherwise-parseable pages,
// phase B walks the whole container block-stride by block-stride looking
// for orphan data-block footers. Both phases write into the live indexes'
// recovered-values trees rather than returning their own tree, so a
// subsequent descriptor()/stream() call transparently benefits.
package recovery

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/libyal/go-pff/internal/block"
	"github.com/libyal/go-pff/internal/btree"
	"github.com/libyal/go-pff/internal/checksum"
	"github.com/libyal/go-pff/internal/format"
	"github.com/libyal/go-pff/internal/utils"
)

// Flags selects which recovery phases run and how phase A's page scan is
// bounded.
type Flags struct {
	// IgnoreAllocationData, if true, scans every page-aligned offset in
	// the file rather than restricting phase A to the gaps reported by
	// the caller's allocation tables.
	IgnoreAllocationData bool
	// ScanForFragments runs phase B, the orphan-data-block footer scan.
	ScanForFragments bool
}

// Scanner runs both recovery phases over one container handle's indexes.
type Scanner struct {
	Reader        utils.ReaderAt
	Layout        format.Layout
	Encryption    format.EncryptionMode
	ContainerSize uint64
	Descriptors   *btree.DescriptorsIndex
	Offsets       *btree.OffsetsIndex
	Allocation    map[format.AllocationKind]*format.AllocationTable
	Log           *logrus.Logger
	Abort         func() bool

	// Parallelism bounds the concurrent page workers in phase A; 0 uses a
	// fixed default.
	Parallelism int
}

// Run executes the phases flags selects, in order (A before B).
func (s *Scanner) Run(flags Flags) error {
	if err := s.phaseA(flags); err != nil {
		return err
	}
	if flags.ScanForFragments {
		if err := s.phaseB(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) abort() bool {
	return s.Abort != nil && s.Abort()
}

// scanRanges returns the page-aligned ranges phase A should examine:
// either the whole container, or the unallocated-page gaps reported by
// the page allocation table, per the IgnoreAllocationData flag.
func (s *Scanner) scanRanges(flags Flags) []format.Extent {
	if flags.IgnoreAllocationData || s.Allocation == nil {
		return []format.Extent{{Offset: 0, Size: s.ContainerSize}}
	}
	table, ok := s.Allocation[format.KindPage]
	if !ok || table == nil {
		return []format.Extent{{Offset: 0, Size: s.ContainerSize}}
	}
	return table.Unallocated(s.ContainerSize)
}

// phaseA salvages descriptor and offset records from slack space between
// entry_count and maximum_entries on any page that still parses as a
// valid index node. Candidate pages within a
// range are checked in parallel (bounded by Parallelism), but findings
// are sorted back into ascending-offset order before being applied, so
// the net effect is deterministic regardless of goroutine scheduling.
func (s *Scanner) phaseA(flags Flags) error {
	pageSize := uint64(s.Layout.PageSize)

	type pageOffset struct{ offset uint64 }
	var pages []pageOffset
	for _, rng := range s.scanRanges(flags) {
		start := alignUp(rng.Offset, pageSize)
		for off := start; off+pageSize <= rng.Offset+rng.Size && off+pageSize <= s.ContainerSize; off += pageSize {
			pages = append(pages, pageOffset{offset: off})
		}
	}

	type found struct {
		offset  uint64
		descs   []btree.DescriptorRecord
		offsets []btree.OffsetRecord
	}

	results := make([]found, len(pages))
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(s.workerLimit())

	for i, p := range pages {
		i, p := i, p
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if s.abort() {
				return utils.WrapCode("recovery phase A", errAborted, utils.CodeAborted)
			}
			descs, offs := s.scanPageSlack(p.offset)
			results[i] = found{offset: p.offset, descs: descs, offsets: offs}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].offset < results[j].offset })

	for _, r := range results {
		for _, d := range r.descs {
			s.Descriptors.Recovered().Add(d)
		}
		for _, o := range r.offsets {
			s.Offsets.Recovered().Add(o)
		}
	}
	return nil
}

func (s *Scanner) workerLimit() int {
	if s.Parallelism > 0 {
		return s.Parallelism
	}
	return 8
}

// scanPageSlack parses the page at offset and, if it parses as a valid
// index node, interprets every unused slot as a candidate leaf entry.
func (s *Scanner) scanPageSlack(offset uint64) ([]btree.DescriptorRecord, []btree.OffsetRecord) {
	buf := make([]byte, s.Layout.PageSize)
	if _, err := s.Reader.ReadAt(buf, int64(offset)); err != nil {
		return nil, nil
	}

	node, err := btree.ParsePage(buf, s.Layout, s.Log)
	if err != nil || !node.IsLeaf() {
		return nil, nil
	}

	// A slack entry is only interpretable when the page's entry size
	// matches the leaf layout for its node type.
	wantSize := s.Layout.DescriptorLeafEntrySize
	if node.Type == btree.TypeOffset {
		wantSize = s.Layout.OffsetLeafEntrySize
	}
	if uint32(node.EntrySize) != wantSize {
		return nil, nil
	}

	var descs []btree.DescriptorRecord
	var offs []btree.OffsetRecord

	for i := int(node.EntryCount); i < int(node.MaxEntries); i++ {
		raw := node.Entry(i)

		if node.Type == btree.TypeDescriptor {
			e := btree.ParseDescriptorLeafEntry(raw, s.Layout)
			if !s.plausibleDescriptor(e) {
				continue
			}
			descs = append(descs, btree.DescriptorRecord{
				Identifier:         e.Identifier,
				DataIdentifier:     e.DataIdentifier,
				LocalDescriptorsID: e.LocalDescriptorsID,
				ParentIdentifier:   e.ParentIdentifier,
			})
			continue
		}

		e := btree.ParseOffsetLeafEntry(raw, s.Layout)
		fingerprint, ok := s.plausibleOffset(e)
		if !ok {
			continue
		}
		offs = append(offs, btree.OffsetRecord{
			Identifier:     e.Identifier,
			FileOffset:     e.FileOffset,
			DataSize:       e.DataSize,
			ReferenceCount: e.ReferenceCount,
			Fingerprint:    fingerprint,
		})
	}
	return descs, offs
}

// plausibleDescriptor cross-checks a candidate descriptor leaf entry's
// data-id against the live offsets index or the accumulating recovered
// offsets tree. An orphan (parent == 0) is always kept so it surfaces
// through RecoveredItems() even after a clean recover().
func (s *Scanner) plausibleDescriptor(e btree.DescriptorLeafEntry) bool {
	if e.Identifier == 0 || e.DataIdentifier == 0 {
		return false
	}
	if e.ParentIdentifier == 0 {
		return true
	}
	if _, ok, _ := s.Offsets.Lookup(e.DataIdentifier); ok {
		return true
	}
	return s.Offsets.Recovered().Has(e.DataIdentifier)
}

// plausibleOffset validates a candidate offset leaf entry's size and file
// offset bounds, then confirms it by reading and CRC-checking the block
// it points at, returning the block's stored CRC as the candidate's
// payload fingerprint.
func (s *Scanner) plausibleOffset(e btree.OffsetLeafEntry) (uint32, bool) {
	if e.DataSize == 0 || uint32(e.DataSize) > s.Layout.MaxDataSize {
		return 0, false
	}
	if e.FileOffset == 0 || e.FileOffset >= s.ContainerSize {
		return 0, false
	}
	decoded, err := block.ReadBlock(s.Reader, int64(e.FileOffset), uint64(e.DataSize), s.Layout, s.Encryption, e.Identifier, nil)
	if err != nil {
		return 0, false
	}
	return decoded.Footer.Checksum, true
}

// phaseB walks the container block-stride by block-stride treating each
// position as a candidate footer start: a data-block footer's own first
// field is its data size, so the implied data region is recoverable
// without guessing.
func (s *Scanner) phaseB() error {
	stride := uint64(s.Layout.BlockStride)
	footerSize := uint64(s.Layout.BlockFooterSize)
	added := 0

	for pos := uint64(0); pos+footerSize <= s.ContainerSize; pos += stride {
		if s.abort() {
			return utils.WrapCode("recovery phase B", errAborted, utils.CodeAborted)
		}

		rec, ok := s.tryFragmentAt(pos)
		if !ok {
			continue
		}
		if s.Offsets.Recovered().Add(rec) {
			added++
			if added >= utils.MaxRecoveryFragments {
				break
			}
		}
	}
	return nil
}

// tryFragmentAt treats pos as a candidate footer start. The footer's
// data-size field tells us where the implied data region begins; a CRC
// match over that region, plus a back-pointer that is non-zero and fits
// the 32-bit low half, accepts the fragment.
func (s *Scanner) tryFragmentAt(pos uint64) (btree.OffsetRecord, bool) {
	footerSize := uint64(s.Layout.BlockFooterSize)
	footer := make([]byte, footerSize)
	if _, err := s.Reader.ReadAt(footer, int64(pos)); err != nil {
		return btree.OffsetRecord{}, false
	}

	declaredSize := uint64(footer[0]) | uint64(footer[1])<<8
	if declaredSize == 0 || uint32(declaredSize) > s.Layout.MaxDataSize || declaredSize > pos {
		return btree.OffsetRecord{}, false
	}

	var backPointer uint64
	if s.Layout.Variant == format.Variant32Bit {
		backPointer = uint64(le32(footer[8:12]))
	} else {
		backPointer = le64(footer[8:16])
	}
	if backPointer == 0 || backPointer > 0xFFFFFFFF {
		return btree.OffsetRecord{}, false
	}

	fileOffset := pos - declaredSize
	data := make([]byte, declaredSize)
	if _, err := s.Reader.ReadAt(data, int64(fileOffset)); err != nil {
		return btree.OffsetRecord{}, false
	}

	storedChecksum := le32(footer[4:8])
	if !checksum.Verify(data, storedChecksum) {
		return btree.OffsetRecord{}, false
	}

	// Acceptance is not gated here: a live entry under the same
	// identifier may well point at a torn or overwritten block, and the
	// recovered tree's own fingerprint dedup decides whether this
	// candidate is a new generation or a copy of a known one.
	return btree.OffsetRecord{
		Identifier:  backPointer,
		FileOffset:  fileOffset,
		DataSize:    uint16(declaredSize),
		Fingerprint: storedChecksum,
	}, true
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) / align * align
}

type sentinelError string

func (s sentinelError) Error() string { return string(s) }

const errAborted sentinelError = "recovery scan aborted"
