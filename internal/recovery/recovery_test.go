package recovery

import (
	"encoding/binary"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libyal/go-pff/internal/btree"
	"github.com/libyal/go-pff/internal/checksum"
	"github.com/libyal/go-pff/internal/format"
	"github.com/libyal/go-pff/internal/testsupport"
	"github.com/libyal/go-pff/internal/utils"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

type offsetEntry struct {
	id     uint64
	offset uint64
	size   uint16
}

type descEntry struct {
	id     uint32
	dataID uint64
	ldID   uint64
	parent uint32
}

// buildOffsetsLeafPage32 assembles a 32-bit offsets leaf page. slack
// entries are written into the slots between entry_count and
// maximum_entries, the region the phase A scan interprets.
func buildOffsetsLeafPage32(t *testing.T, layout format.Layout, live, slack []offsetEntry, backPointer uint32) []byte {
	t.Helper()

	page := make([]byte, layout.PageSize)
	writeOffset := func(i int, e offsetEntry) {
		raw := page[i*12 : i*12+12]
		binary.LittleEndian.PutUint32(raw[0:4], uint32(e.id))
		binary.LittleEndian.PutUint32(raw[4:8], uint32(e.offset))
		binary.LittleEndian.PutUint16(raw[8:10], e.size)
	}
	for i, e := range live {
		writeOffset(i, e)
	}
	for i, e := range slack {
		writeOffset(len(live)+i, e)
	}

	footer := page[layout.PageSize-layout.IndexNodeFooterSize:]
	footer[0] = byte(len(live))
	footer[1] = byte(len(live) + len(slack))
	footer[2] = 12
	footer[3] = 0
	footer[4] = byte(btree.TypeOffset)
	footer[5] = byte(btree.TypeOffset)
	binary.LittleEndian.PutUint32(footer[8:12], backPointer)
	binary.LittleEndian.PutUint32(footer[12:16], checksum.Weak(page[:layout.PageSize-layout.IndexNodeFooterSize]))
	return page
}

func buildDescriptorsLeafPage32(t *testing.T, layout format.Layout, live, slack []descEntry, backPointer uint32) []byte {
	t.Helper()

	page := make([]byte, layout.PageSize)
	writeDesc := func(i int, e descEntry) {
		raw := page[i*16 : i*16+16]
		binary.LittleEndian.PutUint32(raw[0:4], e.id)
		binary.LittleEndian.PutUint32(raw[4:8], uint32(e.dataID))
		binary.LittleEndian.PutUint32(raw[8:12], uint32(e.ldID))
		binary.LittleEndian.PutUint32(raw[12:16], e.parent)
	}
	for i, e := range live {
		writeDesc(i, e)
	}
	for i, e := range slack {
		writeDesc(len(live)+i, e)
	}

	footer := page[layout.PageSize-layout.IndexNodeFooterSize:]
	footer[0] = byte(len(live))
	footer[1] = byte(len(live) + len(slack))
	footer[2] = 16
	footer[3] = 0
	footer[4] = byte(btree.TypeDescriptor)
	footer[5] = byte(btree.TypeDescriptor)
	binary.LittleEndian.PutUint32(footer[8:12], backPointer)
	binary.LittleEndian.PutUint32(footer[12:16], checksum.Weak(page[:layout.PageSize-layout.IndexNodeFooterSize]))
	return page
}

// buildBlock32 frames data as an on-disk 32-bit data block with a valid CRC
// and the given footer back-pointer.
func buildBlock32(t *testing.T, layout format.Layout, data []byte, backPointer uint64) []byte {
	t.Helper()

	total := uint64(len(data)) + uint64(layout.BlockFooterSize)
	rounded, err := utils.RoundUpBlockStride(total, uint64(layout.BlockStride))
	require.NoError(t, err)

	buf := make([]byte, rounded)
	copy(buf, data)

	footer := buf[len(data):total]
	binary.LittleEndian.PutUint16(footer[0:2], uint16(len(data)))
	binary.LittleEndian.PutUint16(footer[2:4], 0xba5e)
	binary.LittleEndian.PutUint32(footer[4:8], checksum.Weak(data))
	binary.LittleEndian.PutUint32(footer[8:12], uint32(backPointer))
	return buf
}

// fragmentPayload returns a block-stride-sized payload whose leading bytes
// are zero, so other stride positions inside it never look like a
// plausible footer during the phase B walk.
func fragmentPayload(stride int, fill byte) []byte {
	data := make([]byte, stride)
	for i := 16; i < stride; i++ {
		data[i] = fill
	}
	return data
}

// scannerFixture builds a small container with one live offset record, one
// slack offset record, one slack orphan descriptor, and one orphan data
// block reachable only by the fragment scan.
func scannerFixture(t *testing.T) (*Scanner, []byte) {
	t.Helper()

	layout, err := format.LayoutFor(format.Variant32Bit)
	require.NoError(t, err)

	image := make([]byte, 0x1000)

	liveBlock := []byte("live block payload")
	slackBlock := []byte("slack block payload")

	offsetsPage := buildOffsetsLeafPage32(t, layout,
		[]offsetEntry{{id: 0x40, offset: 0x400, size: uint16(len(liveBlock))}},
		[]offsetEntry{{id: 0x50, offset: 0x600, size: uint16(len(slackBlock))}},
		88)
	descriptorsPage := buildDescriptorsLeafPage32(t, layout,
		[]descEntry{{id: 0x21, dataID: 0x40, parent: 0x21}},
		[]descEntry{{id: 0x99, dataID: 0x50, parent: 0}},
		77)

	orphan := fragmentPayload(int(layout.BlockStride), 0xAB)

	copy(image[0x000:], offsetsPage)
	copy(image[0x200:], descriptorsPage)
	copy(image[0x400:], buildBlock32(t, layout, liveBlock, 0x40))
	copy(image[0x600:], buildBlock32(t, layout, slackBlock, 0x50))
	copy(image[0x800:], buildBlock32(t, layout, orphan, 0x60))

	r := testsupport.NewMockReaderAt(image)
	s := &Scanner{
		Reader:        r,
		Layout:        layout,
		Encryption:    format.EncryptionNone,
		ContainerSize: uint64(len(image)),
		Descriptors:   btree.NewDescriptorsIndex(r, layout, format.RootPointer{Offset: 0x200, BackPointer: 77}, 8, testLogger(), nil),
		Offsets:       btree.NewOffsetsIndex(r, layout, format.RootPointer{Offset: 0, BackPointer: 88}, 8, testLogger(), nil),
		Log:           testLogger(),
	}
	return s, image
}

func TestRun_PhaseA_SalvagesSlackOffsetEntry(t *testing.T) {
	s, _ := scannerFixture(t)

	require.NoError(t, s.Run(Flags{IgnoreAllocationData: true}))

	rec, ok := s.Offsets.Recovered().Newest(0x50)
	require.True(t, ok, "slack offset entry must be salvaged")
	assert.Equal(t, uint64(0x600), rec.FileOffset)
	assert.Equal(t, uint16(len("slack block payload")), rec.DataSize)
	assert.True(t, rec.Recovered)
}

func TestRun_PhaseA_KeepsOrphanDescriptor(t *testing.T) {
	s, _ := scannerFixture(t)

	require.NoError(t, s.Run(Flags{IgnoreAllocationData: true}))

	rec, ok := s.Descriptors.Recovered().Newest(0x99)
	require.True(t, ok, "orphan descriptor (parent == 0) must be kept")
	assert.Equal(t, uint64(0x50), rec.DataIdentifier)
	assert.Zero(t, rec.ParentIdentifier)
	assert.True(t, rec.Recovered)
}

func TestRun_PhaseA_RejectsImplausibleSlack(t *testing.T) {
	layout, err := format.LayoutFor(format.Variant32Bit)
	require.NoError(t, err)

	image := make([]byte, 0x800)
	// Slack offset entry pointing past the container, and one whose block
	// does not verify.
	page := buildOffsetsLeafPage32(t, layout,
		nil,
		[]offsetEntry{
			{id: 0x50, offset: 0x4000, size: 16}, // beyond container
			{id: 0x58, offset: 0x400, size: 16},  // no valid block there
		},
		88)
	copy(image[0:], page)

	r := testsupport.NewMockReaderAt(image)
	s := &Scanner{
		Reader:        r,
		Layout:        layout,
		Encryption:    format.EncryptionNone,
		ContainerSize: uint64(len(image)),
		Descriptors:   btree.NewDescriptorsIndex(r, layout, format.RootPointer{Offset: 0x200, BackPointer: 0}, 8, testLogger(), nil),
		Offsets:       btree.NewOffsetsIndex(r, layout, format.RootPointer{Offset: 0, BackPointer: 88}, 8, testLogger(), nil),
		Log:           testLogger(),
	}

	require.NoError(t, s.Run(Flags{IgnoreAllocationData: true}))
	assert.False(t, s.Offsets.Recovered().Has(0x50))
	assert.False(t, s.Offsets.Recovered().Has(0x58))
}

func TestRun_PhaseB_SynthesizesFragment(t *testing.T) {
	s, _ := scannerFixture(t)

	require.NoError(t, s.Run(Flags{IgnoreAllocationData: true, ScanForFragments: true}))

	rec, ok := s.Offsets.Recovered().Newest(0x60)
	require.True(t, ok, "orphan block must be found by the fragment scan")
	assert.Equal(t, uint64(0x800), rec.FileOffset)
	assert.Equal(t, uint16(s.Layout.BlockStride), rec.DataSize)
}

func TestRun_PhaseB_RejectsDuplicates(t *testing.T) {
	layout, err := format.LayoutFor(format.Variant32Bit)
	require.NoError(t, err)

	image := make([]byte, 0x1000)
	copy(image[0x000:], buildOffsetsLeafPage32(t, layout, nil, nil, 88))

	// The same orphan block at two different offsets; only the first (in
	// ascending offset order) may be kept.
	orphan := fragmentPayload(int(layout.BlockStride), 0xCD)
	copy(image[0x400:], buildBlock32(t, layout, orphan, 0x60))
	copy(image[0x800:], buildBlock32(t, layout, orphan, 0x60))

	r := testsupport.NewMockReaderAt(image)
	s := &Scanner{
		Reader:        r,
		Layout:        layout,
		Encryption:    format.EncryptionNone,
		ContainerSize: uint64(len(image)),
		Descriptors:   btree.NewDescriptorsIndex(r, layout, format.RootPointer{Offset: 0x200, BackPointer: 0}, 8, testLogger(), nil),
		Offsets:       btree.NewOffsetsIndex(r, layout, format.RootPointer{Offset: 0, BackPointer: 88}, 8, testLogger(), nil),
		Log:           testLogger(),
	}

	require.NoError(t, s.Run(Flags{IgnoreAllocationData: true, ScanForFragments: true}))

	all := s.Offsets.Recovered().All()
	var got []btree.OffsetRecord
	for _, rec := range all {
		if rec.Identifier == 0x60 {
			got = append(got, rec)
		}
	}
	require.Len(t, got, 1, "duplicate fragments must be rejected")
	assert.Equal(t, uint64(0x400), got[0].FileOffset)
}

func TestRun_IsDeterministic(t *testing.T) {
	s1, _ := scannerFixture(t)
	s2, _ := scannerFixture(t)

	flags := Flags{IgnoreAllocationData: true, ScanForFragments: true}
	require.NoError(t, s1.Run(flags))
	require.NoError(t, s2.Run(flags))

	sortRecs := func(recs []btree.OffsetRecord) {
		sort.Slice(recs, func(i, j int) bool { return recs[i].Identifier < recs[j].Identifier })
	}

	got1 := s1.Offsets.Recovered().All()
	got2 := s2.Offsets.Recovered().All()
	sortRecs(got1)
	sortRecs(got2)

	if diff := cmp.Diff(got1, got2); diff != "" {
		t.Fatalf("recovered sets differ between identical runs (-run1 +run2):\n%s", diff)
	}
}

func TestRun_IsIdempotentOnRecoveredSet(t *testing.T) {
	s, _ := scannerFixture(t)

	flags := Flags{IgnoreAllocationData: true, ScanForFragments: true}
	require.NoError(t, s.Run(flags))
	first := len(s.Offsets.Recovered().All())
	require.NoError(t, s.Run(flags))

	assert.Equal(t, first, len(s.Offsets.Recovered().All()), "re-running recovery must not duplicate entries")
}

func TestRun_AbortUnwinds(t *testing.T) {
	s, _ := scannerFixture(t)
	s.Abort = func() bool { return true }

	err := s.Run(Flags{IgnoreAllocationData: true})
	require.Error(t, err)

	pe, ok := err.(*utils.PFFError)
	require.True(t, ok)
	assert.Equal(t, utils.CodeAborted, pe.Code)
}

func TestRun_PhaseB_KeepsDistinctGenerationsOfSameIdentifier(t *testing.T) {
	layout, err := format.LayoutFor(format.Variant32Bit)
	require.NoError(t, err)

	image := make([]byte, 0x1000)
	copy(image[0x000:], buildOffsetsLeafPage32(t, layout, nil, nil, 88))

	// Two historical generations of the same identifier: same back-pointer,
	// different payloads, different offsets. Both must survive recovery.
	older := fragmentPayload(int(layout.BlockStride), 0x11)
	newer := fragmentPayload(int(layout.BlockStride), 0x22)
	copy(image[0x400:], buildBlock32(t, layout, older, 0x60))
	copy(image[0x800:], buildBlock32(t, layout, newer, 0x60))

	r := testsupport.NewMockReaderAt(image)
	s := &Scanner{
		Reader:        r,
		Layout:        layout,
		Encryption:    format.EncryptionNone,
		ContainerSize: uint64(len(image)),
		Descriptors:   btree.NewDescriptorsIndex(r, layout, format.RootPointer{Offset: 0x200, BackPointer: 0}, 8, testLogger(), nil),
		Offsets:       btree.NewOffsetsIndex(r, layout, format.RootPointer{Offset: 0, BackPointer: 88}, 8, testLogger(), nil),
		Log:           testLogger(),
	}

	require.NoError(t, s.Run(Flags{IgnoreAllocationData: true, ScanForFragments: true}))

	var gens []btree.OffsetRecord
	for _, rec := range s.Offsets.Recovered().All() {
		if rec.Identifier == 0x60 {
			gens = append(gens, rec)
		}
	}
	require.Len(t, gens, 2, "distinct payload generations must both be kept")

	newest, ok := s.Offsets.Recovered().Newest(0x60)
	require.True(t, ok)
	assert.Equal(t, uint64(0x800), newest.FileOffset, "the later scan position is the newest generation")
	assert.NotEqual(t, gens[0].Fingerprint, gens[1].Fingerprint)
}
