package utils

import "encoding/binary"

// ReaderAt is a simplified interface for io.ReaderAt, kept local so utils
// does not need to import io just for this.
type ReaderAt interface {
	ReadAt(p []byte, off int64) (n int, err error)
}

// ReadUint32 reads a little-endian 32-bit value at the given offset.
// All multi-byte integers in a PFF container are little-endian regardless
// of file variant.
func ReadUint32(r ReaderAt, offset int64) (uint32, error) {
	buf := GetBuffer(4)
	defer ReleaseBuffer(buf)

	if _, err := r.ReadAt(buf, offset); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// ReadUint64 reads a little-endian 64-bit value at the given offset.
func ReadUint64(r ReaderAt, offset int64) (uint64, error) {
	buf := GetBuffer(8)
	defer ReleaseBuffer(buf)

	if _, err := r.ReadAt(buf, offset); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}
