package btree

import (
	"github.com/sirupsen/logrus"

	"github.com/libyal/go-pff/internal/format"
	"github.com/libyal/go-pff/internal/utils"
)

// DescriptorRecord is one resolved descriptor: identifier plus the two
// offsets-index keys and the parent link.
type DescriptorRecord struct {
	Identifier         uint32
	DataIdentifier     uint64
	LocalDescriptorsID uint64
	ParentIdentifier   uint32
	Recovered          bool
}

// DescriptorsIndex wraps the generic B-tree descent with descriptor-typed
// parsing and a recovered-values fallback: when the live tree fails with
// BadBlock or Io, or simply misses, the newest recovered generation under
// the same identifier answers instead.
type DescriptorsIndex struct {
	index     *Index
	recovered *RecoveredDescriptors
}

// NewDescriptorsIndex builds a descriptors index over root.
func NewDescriptorsIndex(r utils.ReaderAt, layout format.Layout, root format.RootPointer, cacheSize int, log *logrus.Logger, abort AbortFunc) *DescriptorsIndex {
	return &DescriptorsIndex{
		index:     NewIndex(r, layout, root, TypeDescriptor, cacheSize, log, abort),
		recovered: NewRecoveredDescriptors(),
	}
}

// Recovered exposes the recovered-values tree so the recovery scanner can
// populate it.
func (di *DescriptorsIndex) Recovered() *RecoveredDescriptors { return di.recovered }

// Lookup resolves id against the live tree, falling back to the recovered
// tree's newest entry on a live miss. found is false only when neither
// tree has id.
func (di *DescriptorsIndex) Lookup(id uint32) (DescriptorRecord, bool, error) {
	raw, ok, err := di.index.LookupRaw(uint64(id))
	if err != nil {
		if errHasCode(err, utils.CodeBadBlock) || errHasCode(err, utils.CodeIO) {
			if rec, rok := di.recovered.Newest(id); rok {
				return rec, true, nil
			}
		}
		return DescriptorRecord{}, false, err
	}
	if ok {
		e := ParseDescriptorLeafEntry(raw, di.index.Layout)
		return DescriptorRecord{
			Identifier:         e.Identifier,
			DataIdentifier:     e.DataIdentifier,
			LocalDescriptorsID: e.LocalDescriptorsID,
			ParentIdentifier:   e.ParentIdentifier,
		}, true, nil
	}
	if rec, rok := di.recovered.Newest(id); rok {
		return rec, true, nil
	}
	return DescriptorRecord{}, false, nil
}

// RecoveredDescriptors stores every descriptor the recovery scanner has
// salvaged, keyed by identifier, oldest-to-newest; one identifier can
// carry multiple historical generations.
type RecoveredDescriptors struct {
	byID map[uint32][]DescriptorRecord
}

// NewRecoveredDescriptors returns an empty recovered-values tree.
func NewRecoveredDescriptors() *RecoveredDescriptors {
	return &RecoveredDescriptors{byID: make(map[uint32][]DescriptorRecord)}
}

// Add appends rec if it is not a duplicate of an existing generation
// under the same identifier (same key and same payload). It reports
// whether rec was added.
func (rd *RecoveredDescriptors) Add(rec DescriptorRecord) bool {
	rec.Recovered = true
	for _, existing := range rd.byID[rec.Identifier] {
		if existing == rec {
			return false
		}
	}
	rd.byID[rec.Identifier] = append(rd.byID[rec.Identifier], rec)
	return true
}

// Newest returns the most recently appended generation for id, if any.
func (rd *RecoveredDescriptors) Newest(id uint32) (DescriptorRecord, bool) {
	gens := rd.byID[id]
	if len(gens) == 0 {
		return DescriptorRecord{}, false
	}
	return gens[len(gens)-1], true
}

// All returns every recovered descriptor across every identifier, in
// insertion order within each identifier's generation list.
func (rd *RecoveredDescriptors) All() []DescriptorRecord {
	var out []DescriptorRecord
	for _, gens := range rd.byID {
		out = append(out, gens...)
	}
	return out
}

func errHasCode(err error, code utils.ErrorCode) bool {
	pe, ok := err.(*utils.PFFError)
	return ok && pe.Code == code
}
