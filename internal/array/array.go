// Package array implements the data-array reader: reconstruction of a
// single logical byte-stream stitched from many data blocks. A data
// array's own block begins with a two-byte marker
// (0x01 0x01 for a leaf array, 0x01 0x02 for a two-level array of arrays)
// followed by a total-size, an entry count, and that many child data
// identifiers.
package array

import (
	"encoding/binary"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/libyal/go-pff/internal/block"
	"github.com/libyal/go-pff/internal/btree"
	"github.com/libyal/go-pff/internal/format"
	"github.com/libyal/go-pff/internal/lru"
	"github.com/libyal/go-pff/internal/utils"
)

// defaultChildCacheSize is the per-array recently-decoded-child cache size
// used when the caller does not supply one.
const defaultChildCacheSize = 8

// Extent is one logical sub-range of the stitched stream, backed by one
// child data identifier.
type Extent struct {
	ChildID      uint64
	StreamOffset uint64
	Length       uint64
}

// Stream is a lazily-stitched logical byte-stream reconstructed from a
// data array's entries. Random access binary-searches the extent vector
// built once at Open, then fetches and decodes just the child block that
// extent needs; each child is decrypted exactly once, on first fetch,
// and cached.
type Stream struct {
	reader     utils.ReaderAt
	offsets    *btree.OffsetsIndex
	layout     format.Layout
	encryption format.EncryptionMode
	log        *logrus.Logger

	totalSize uint64
	extents   []Extent
	children  *lru.Cache
}

// Open reads the block at data identifier id, recognizes it as a data
// array (caller must have already confirmed block.IsDataArrayMarker), and
// builds its extent vector. Two-level arrays are expanded transparently;
// recursion is clamped at level 2.
func Open(reader utils.ReaderAt, offsets *btree.OffsetsIndex, layout format.Layout, encryption format.EncryptionMode, id uint64, cacheSize int, log *logrus.Logger) (*Stream, error) {
	if cacheSize <= 0 {
		cacheSize = defaultChildCacheSize
	}
	s := &Stream{
		reader:     reader,
		offsets:    offsets,
		layout:     layout,
		encryption: encryption,
		log:        log,
		children:   lru.New(cacheSize),
	}

	entries, _, err := s.readArrayHeader(id)
	if err != nil {
		return nil, err
	}

	var streamOffset uint64
	for _, childID := range entries {
		childOffRec, ok, err := offsets.Lookup(childID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		childData, err := s.fetchDecoded(childID, childOffRec)
		if err != nil {
			return nil, err
		}

		if block.IsDataArrayMarker(childData.Data, childID) {
			// Level-2 array of arrays: expand this child's own entries
			// into the parent extent list, flattened one level deep. The
			// child is already decoded; parse its header from those
			// bytes rather than reading the block again.
			childEntries, _, err := parseArrayHeader(childData.Data, s.layout)
			if err != nil {
				return nil, err
			}
			for _, grandchildID := range childEntries {
				grandOffRec, ok, err := offsets.Lookup(grandchildID)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
				s.extents = append(s.extents, Extent{
					ChildID:      grandchildID,
					StreamOffset: streamOffset,
					Length:       uint64(grandOffRec.DataSize),
				})
				streamOffset += uint64(grandOffRec.DataSize)
			}
			continue
		}

		s.extents = append(s.extents, Extent{
			ChildID:      childID,
			StreamOffset: streamOffset,
			Length:       uint64(len(childData.Data)),
		})
		streamOffset += uint64(len(childData.Data))
	}

	s.totalSize = streamOffset
	return s, nil
}

// readArrayHeader resolves id through the offsets index, fetches its
// block through the child cache (so the bytes are decrypted at most
// once), and parses the array header into a flat list of child data
// identifiers.
func (s *Stream) readArrayHeader(id uint64) (entries []uint64, level uint8, err error) {
	offRec, ok, err := s.offsets.Lookup(id)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, utils.WrapCode("reading data array header", errNotFound, utils.CodeBadBlock)
	}

	decoded, err := s.fetchDecoded(id, offRec)
	if err != nil {
		return nil, 0, err
	}

	return parseArrayHeader(decoded.Data, s.layout)
}

// parseArrayHeader parses an already-decoded data array payload: marker,
// total-size, entry count, then the child data identifiers.
func parseArrayHeader(data []byte, layout format.Layout) (entries []uint64, level uint8, err error) {
	if len(data) < 10 || data[0] != 0x01 || (data[1] != 0x01 && data[1] != 0x02) {
		return nil, 0, utils.WrapCode("parsing data array header", errBadHeader, utils.CodeBadBlock)
	}

	level = data[1]
	if level > 2 {
		level = 2
	}
	// total-size at [2:6), entry-count at [6:10), little-endian.
	entryCount := binary.LittleEndian.Uint32(data[6:10])

	idSize := 4
	if layout.Variant != format.Variant32Bit {
		idSize = 8
	}

	offset := 10
	for i := uint32(0); i < entryCount; i++ {
		if offset+idSize > len(data) {
			break
		}
		var childID uint64
		if idSize == 4 {
			childID = uint64(binary.LittleEndian.Uint32(data[offset : offset+4]))
		} else {
			childID = binary.LittleEndian.Uint64(data[offset : offset+8])
		}
		entries = append(entries, childID)
		offset += idSize
	}

	return entries, level, nil
}

func (s *Stream) fetchDecoded(id uint64, offRec btree.OffsetRecord) (*block.Decoded, error) {
	if cached, ok := s.children.Get(id); ok {
		return cached.(*block.Decoded), nil
	}
	decoded, err := block.ReadBlock(s.reader, int64(offRec.FileOffset), uint64(offRec.DataSize), s.layout, s.encryption, id, s.log)
	if err != nil {
		return nil, err
	}
	s.children.Add(id, decoded)
	return decoded, nil
}

// Len returns the stitched stream's total logical size.
func (s *Stream) Len() uint64 { return s.totalSize }

// ReadAt implements random access into the stitched stream: binary-search
// the extent vector for the extent containing offset, fetch just that
// child, and repeat across extent boundaries until p is filled or the
// stream is exhausted.
func (s *Stream) ReadAt(p []byte, offset uint64) (int, error) {
	total := 0
	for total < len(p) && offset+uint64(total) < s.totalSize {
		at := offset + uint64(total)
		idx := sort.Search(len(s.extents), func(i int) bool {
			e := s.extents[i]
			return e.StreamOffset+e.Length > at
		})
		if idx >= len(s.extents) {
			break
		}
		extent := s.extents[idx]

		offRec, ok, err := s.offsets.Lookup(extent.ChildID)
		if err != nil {
			return total, err
		}
		if !ok {
			break
		}

		decoded, err := s.fetchDecoded(extent.ChildID, offRec)
		if err != nil {
			return total, err
		}

		withinExtent := at - extent.StreamOffset
		n := copy(p[total:], decoded.Data[withinExtent:])
		total += n
		if n == 0 {
			break
		}
	}
	return total, nil
}

type sentinelError string

func (s sentinelError) Error() string { return string(s) }

const (
	errNotFound  sentinelError = "data array header identifier not found"
	errBadHeader sentinelError = "data array header malformed"
)
