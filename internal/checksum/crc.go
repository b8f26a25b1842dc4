// Package checksum computes the weak page/block integrity check used
// throughout a PFF container. It is deliberately tolerant: a mismatch is
// something callers log and otherwise ignore, never something that aborts a
// read, since the format is routinely encountered after an unclean shutdown.
package checksum

import "hash/crc32"

// Weak computes the container's page/block CRC-32 over data, using the
// standard IEEE polynomial.
func Weak(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Verify reports whether data's computed CRC equals want. Endianness of the
// stored value is the caller's concern (it is read via the variant's
// little-endian footer layout before being passed here); Verify only ever
// compares two already-native uint32 values.
func Verify(data []byte, want uint32) bool {
	return Weak(data) == want
}
