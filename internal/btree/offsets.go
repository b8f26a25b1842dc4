package btree

import (
	"github.com/sirupsen/logrus"

	"github.com/libyal/go-pff/internal/format"
	"github.com/libyal/go-pff/internal/utils"
)

// OffsetRecord is one resolved data extent: identifier, file offset,
// size, and reference count. Fingerprint is the CRC of the block payload
// the extent was validated against; it is set only on recovered records,
// where it identifies the payload generation independently of where in
// the file it was found.
type OffsetRecord struct {
	Identifier     uint64
	FileOffset     uint64
	DataSize       uint16
	ReferenceCount uint16
	Fingerprint    uint32
	Recovered      bool
}

// OffsetsIndex wraps the generic B-tree descent with offset-typed parsing
// and a recovered-values fallback.
type OffsetsIndex struct {
	index     *Index
	recovered *RecoveredOffsets
}

// NewOffsetsIndex builds an offsets index over root.
func NewOffsetsIndex(r utils.ReaderAt, layout format.Layout, root format.RootPointer, cacheSize int, log *logrus.Logger, abort AbortFunc) *OffsetsIndex {
	return &OffsetsIndex{
		index:     NewIndex(r, layout, root, TypeOffset, cacheSize, log, abort),
		recovered: NewRecoveredOffsets(),
	}
}

// Recovered exposes the recovered-values tree so the recovery scanner can
// populate it.
func (oi *OffsetsIndex) Recovered() *RecoveredOffsets { return oi.recovered }

// Lookup resolves a data identifier, clearing its "internal" flag bit
// before search, falling back to the recovered tree on a live miss or a
// BadBlock/Io failure.
func (oi *OffsetsIndex) Lookup(id uint64) (OffsetRecord, bool, error) {
	key := ClearInternalFlag(id)

	raw, ok, err := oi.index.LookupRaw(key)
	if err != nil {
		if errHasCode(err, utils.CodeBadBlock) || errHasCode(err, utils.CodeIO) {
			if rec, rok := oi.recovered.Newest(key); rok {
				return rec, true, nil
			}
		}
		return OffsetRecord{}, false, err
	}
	if ok {
		e := ParseOffsetLeafEntry(raw, oi.index.Layout)
		return OffsetRecord{
			Identifier:     e.Identifier,
			FileOffset:     e.FileOffset,
			DataSize:       e.DataSize,
			ReferenceCount: e.ReferenceCount,
		}, true, nil
	}
	if rec, rok := oi.recovered.Newest(key); rok {
		return rec, true, nil
	}
	return OffsetRecord{}, false, nil
}

// RecoveredOffsets stores every offset record the recovery scanner has
// salvaged, keyed by identifier with the "internal" flag bit masked off,
// oldest-to-newest.
type RecoveredOffsets struct {
	byID map[uint64][]OffsetRecord
}

// NewRecoveredOffsets returns an empty recovered-values tree.
func NewRecoveredOffsets() *RecoveredOffsets {
	return &RecoveredOffsets{byID: make(map[uint64][]OffsetRecord)}
}

// Add appends rec if no existing generation under the same identifier
// carries the same payload fingerprint. Two candidates with identical
// payloads at different file offsets are the same generation; only the
// first is kept. It reports whether rec was added.
func (ro *RecoveredOffsets) Add(rec OffsetRecord) bool {
	rec.Recovered = true
	key := ClearInternalFlag(rec.Identifier)
	for _, existing := range ro.byID[key] {
		if existing.DataSize == rec.DataSize && existing.Fingerprint == rec.Fingerprint {
			return false
		}
	}
	ro.byID[key] = append(ro.byID[key], rec)
	return true
}

// Newest returns the most recently appended generation for id, if any.
func (ro *RecoveredOffsets) Newest(id uint64) (OffsetRecord, bool) {
	gens := ro.byID[ClearInternalFlag(id)]
	if len(gens) == 0 {
		return OffsetRecord{}, false
	}
	return gens[len(gens)-1], true
}

// Has reports whether any generation is recorded for id, used by phase A
// to cross-check a salvaged descriptor's data identifier.
func (ro *RecoveredOffsets) Has(id uint64) bool {
	return len(ro.byID[ClearInternalFlag(id)]) > 0
}

// All returns every recovered offset record across every identifier.
func (ro *RecoveredOffsets) All() []OffsetRecord {
	var out []OffsetRecord
	for _, gens := range ro.byID {
		out = append(out, gens...)
	}
	return out
}
