package block

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libyal/go-pff/internal/checksum"
	"github.com/libyal/go-pff/internal/cryptmode"
	"github.com/libyal/go-pff/internal/format"
	"github.com/libyal/go-pff/internal/testsupport"
	"github.com/libyal/go-pff/internal/utils"
)

// buildBlock assembles a raw 32-bit-variant data block (data + footer),
// rounded up to the block stride the way the on-disk format requires.
func buildBlock(t *testing.T, data []byte, backPointer uint64, layout format.Layout) []byte {
	t.Helper()

	total := uint64(len(data)) + uint64(layout.BlockFooterSize)
	rounded, err := utils.RoundUpBlockStride(total, uint64(layout.BlockStride))
	require.NoError(t, err)

	buf := make([]byte, rounded)
	copy(buf, data)

	footer := buf[len(data):total]
	binary.LittleEndian.PutUint16(footer[0:2], uint16(len(data)))
	binary.LittleEndian.PutUint16(footer[2:4], blockSignature)
	binary.LittleEndian.PutUint32(footer[4:8], checksum.Weak(data))
	switch layout.Variant {
	case format.Variant32Bit:
		binary.LittleEndian.PutUint32(footer[8:12], uint32(backPointer))
	default:
		binary.LittleEndian.PutUint64(footer[8:16], backPointer)
	}
	return buf
}

func TestReadBlock_Uncompressed32Bit(t *testing.T) {
	layout, err := format.LayoutFor(format.Variant32Bit)
	require.NoError(t, err)

	data := []byte("some payload bytes")
	raw := buildBlock(t, data, 0x100, layout)
	r := testsupport.NewMockReaderAt(raw)

	decoded, err := ReadBlock(r, 0, uint64(len(data)), layout, format.EncryptionNone, 0x100, nil)
	require.NoError(t, err)
	assert.Equal(t, data, decoded.Data)
	assert.Equal(t, uint16(len(data)), decoded.Footer.DataSize)
}

func TestReadBlock_BackPointerMismatch(t *testing.T) {
	layout, err := format.LayoutFor(format.Variant32Bit)
	require.NoError(t, err)

	data := []byte("payload")
	raw := buildBlock(t, data, 0x100, layout)
	r := testsupport.NewMockReaderAt(raw)

	_, err = ReadBlock(r, 0, uint64(len(data)), layout, format.EncryptionNone, 0x200, nil)
	require.Error(t, err)
	pe, ok := err.(*utils.PFFError)
	require.True(t, ok)
	assert.Equal(t, utils.CodeBadBlock, pe.Code)
}

func TestReadBlock_ChecksumMismatchIsTolerated(t *testing.T) {
	layout, err := format.LayoutFor(format.Variant32Bit)
	require.NoError(t, err)

	data := []byte("payload")
	raw := buildBlock(t, data, 0x100, layout)
	// corrupt the stored checksum without touching the back-pointer
	binary.LittleEndian.PutUint32(raw[len(data)+4:len(data)+8], 0xdeadbeef)
	r := testsupport.NewMockReaderAt(raw)

	decoded, err := ReadBlock(r, 0, uint64(len(data)), layout, format.EncryptionNone, 0x100, nil)
	require.NoError(t, err, "checksum mismatch must not abort the read")
	assert.Equal(t, data, decoded.Data)
}

func TestReadBlock_AppliesDeclaredEncryptionMode(t *testing.T) {
	layout, err := format.LayoutFor(format.Variant32Bit)
	require.NoError(t, err)

	ciphertext := []byte("arbitrary on-disk bytes")
	raw := buildBlock(t, ciphertext, 0x42, layout)
	r := testsupport.NewMockReaderAt(raw)

	decoded, err := ReadBlock(r, 0, uint64(len(ciphertext)), layout, format.EncryptionCompressible, 0x42, nil)
	require.NoError(t, err)

	want := cryptmode.Decrypt(format.EncryptionCompressible, 0x42, append([]byte(nil), ciphertext...))
	assert.Equal(t, want, decoded.Data)
}

func TestReadBlock_ShortReadErrors(t *testing.T) {
	layout, err := format.LayoutFor(format.Variant32Bit)
	require.NoError(t, err)

	data := []byte("payload")
	raw := buildBlock(t, data, 0x100, layout)
	total := len(data) + int(layout.BlockFooterSize)
	r := testsupport.NewMockReaderAt(raw[:total-1])

	_, err = ReadBlock(r, 0, uint64(len(data)), layout, format.EncryptionNone, 0x100, nil)
	assert.Error(t, err)
}

func TestIsDataArrayMarker(t *testing.T) {
	assert.True(t, IsDataArrayMarker([]byte{0x01, 0x01, 0, 0}, 0x0002))
	assert.True(t, IsDataArrayMarker([]byte{0x01, 0x02, 0, 0}, 0x0006))
	assert.False(t, IsDataArrayMarker([]byte{0x01, 0x01, 0, 0}, 0x0001), "internal flag bit must be set")
	assert.False(t, IsDataArrayMarker([]byte{0x02, 0x01}, 0x0002))
	assert.False(t, IsDataArrayMarker([]byte{0x01}, 0x0002), "too short")
}

func TestDecompress_ZlibRoundTrip(t *testing.T) {
	plain := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	_, err := zw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	out, err := decompress(compressed.Bytes(), uint32(len(plain)))
	require.NoError(t, err)
	assert.Equal(t, plain, out)
}
