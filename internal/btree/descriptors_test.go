package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libyal/go-pff/internal/format"
)

func TestDescriptorsIndex_Lookup_LiveHit(t *testing.T) {
	layout, err := format.LayoutFor(format.Variant32Bit)
	require.NoError(t, err)
	r := twoLevelTree(t)

	di := NewDescriptorsIndex(r, layout, format.RootPointer{Offset: 0}, 8, nil, nil)

	rec, found, err := di.Lookup(0x20)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(0x2000), rec.DataIdentifier)
	assert.False(t, rec.Recovered)
}

func TestDescriptorsIndex_Lookup_NotFound(t *testing.T) {
	layout, err := format.LayoutFor(format.Variant32Bit)
	require.NoError(t, err)
	r := twoLevelTree(t)
	di := NewDescriptorsIndex(r, layout, format.RootPointer{Offset: 0}, 8, nil, nil)

	_, found, err := di.Lookup(0x999)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDescriptorsIndex_Lookup_FallsBackToRecoveredOnMiss(t *testing.T) {
	layout, err := format.LayoutFor(format.Variant32Bit)
	require.NoError(t, err)
	r := twoLevelTree(t)
	di := NewDescriptorsIndex(r, layout, format.RootPointer{Offset: 0}, 8, nil, nil)

	salvaged := DescriptorRecord{Identifier: 0x999, DataIdentifier: 0xdead}
	added := di.Recovered().Add(salvaged)
	require.True(t, added)

	rec, found, err := di.Lookup(0x999)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(0xdead), rec.DataIdentifier)
	assert.True(t, rec.Recovered)
}

func TestRecoveredDescriptors_AddRejectsExactDuplicate(t *testing.T) {
	rd := NewRecoveredDescriptors()
	rec := DescriptorRecord{Identifier: 1, DataIdentifier: 2}

	assert.True(t, rd.Add(rec))
	assert.False(t, rd.Add(rec), "an identical generation must be rejected as a duplicate")
	assert.Len(t, rd.All(), 1)
}

func TestRecoveredDescriptors_AddKeepsDistinctGenerations(t *testing.T) {
	rd := NewRecoveredDescriptors()
	gen1 := DescriptorRecord{Identifier: 1, DataIdentifier: 2}
	gen2 := DescriptorRecord{Identifier: 1, DataIdentifier: 3}

	assert.True(t, rd.Add(gen1))
	assert.True(t, rd.Add(gen2))

	newest, ok := rd.Newest(1)
	require.True(t, ok)
	assert.Equal(t, uint64(3), newest.DataIdentifier, "Newest must return the most recently added generation")
	assert.Len(t, rd.All(), 2)
}

func TestRecoveredDescriptors_NewestMissingIdentifier(t *testing.T) {
	rd := NewRecoveredDescriptors()
	_, ok := rd.Newest(404)
	assert.False(t, ok)
}
