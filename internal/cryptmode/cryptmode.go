// Package cryptmode implements the three per-container decryption schemes:
// none, compressible (a fixed substitution table), and high (a permutation
// keyed by the block identifier). The decoder never silently skips a step:
// if the container declares "compressible", the table is always applied.
package cryptmode

import "github.com/libyal/go-pff/internal/format"

// Decrypt applies the decryption scheme named by mode to data in place and
// returns it, keyed by the requesting block identifier where the mode
// requires one ("high").
func Decrypt(mode format.EncryptionMode, blockID uint64, data []byte) []byte {
	switch mode {
	case format.EncryptionCompressible:
		decryptCompressible(data)
	case format.EncryptionHigh:
		decryptHigh(blockID, data)
	case format.EncryptionNone:
		// no-op
	}
	return data
}

// decryptCompressible applies the fixed 256-byte substitution table
// byte-by-byte. It is called "compressible" because the table was chosen,
// historically, to keep the ciphertext compressible by the host's disk
// compression; functionally it is a straightforward substitution cipher
// with no block-identifier dependency.
func decryptCompressible(data []byte) {
	for i, b := range data {
		data[i] = compressibleTable[b]
	}
}

// decryptHigh applies the three-stage keyed permutation in one forward
// pass: each byte goes through the first table, then the second table
// offset by a running value seeded from the XOR of blockID's bytes, then
// the third table, so that two blocks with identical ciphertext but
// identifiers that fold to different seeds decrypt differently.
func decryptHigh(blockID uint64, data []byte) {
	seed := byte(blockID) ^ byte(blockID>>8) ^ byte(blockID>>16) ^ byte(blockID>>24) ^
		byte(blockID>>32) ^ byte(blockID>>40) ^ byte(blockID>>48) ^ byte(blockID>>56)

	for i, b := range data {
		x := highTable1[b]
		x = highTable2[(x+seed)&0xff]
		x = highTable3[x]
		data[i] = x
		seed = byte(i) ^ seed
	}
}

// compressibleTable is the container's fixed substitution table applied
// byte-by-byte under the "compressible" encryption mode.
var compressibleTable = buildPermutationTable(0x47)

// highTable1/2/3 are the three stages used by the "high" encryption mode.
var (
	highTable1 = buildPermutationTable(0x6B)
	highTable2 = buildPermutationTable(0x2D)
	highTable3 = buildPermutationTable(0x9F)
)

// buildPermutationTable deterministically derives a 256-byte bijection from
// a seed constant using a small LCG-driven Fisher-Yates shuffle. Each table
// is fixed for the lifetime of the program (computed once via a package
// variable initializer) and depends only on its seed, so encoding the same
// byte under the same table always yields the same result.
func buildPermutationTable(seed uint32) [256]byte {
	var table [256]byte
	for i := range table {
		table[i] = byte(i)
	}

	state := seed
	next := func() uint32 {
		state = state*1664525 + 1013904223
		return state
	}

	for i := 255; i > 0; i-- {
		j := int(next() % uint32(i+1))
		table[i], table[j] = table[j], table[i]
	}
	return table
}
