package utils

import (
	"fmt"
	"math"
)

// CheckMultiplyOverflow checks if multiplying two uint64 values would overflow.
// Returns an error if overflow would occur.
func CheckMultiplyOverflow(a, b uint64) error {
	if a == 0 || b == 0 {
		return nil // No overflow when either is zero
	}

	if a > math.MaxUint64/b {
		return fmt.Errorf("multiplication overflow: %d * %d exceeds uint64 max", a, b)
	}

	return nil
}

// SafeMultiply multiplies two uint64 values and returns the result if no overflow occurs.
// Returns 0 and an error if overflow would occur.
func SafeMultiply(a, b uint64) (uint64, error) {
	if err := CheckMultiplyOverflow(a, b); err != nil {
		return 0, err
	}
	return a * b, nil
}

// ValidateBufferSize validates that a buffer size is within reasonable limits.
// maxSize parameter allows different limits for different use cases.
func ValidateBufferSize(size, maxSize uint64, description string) error {
	if size == 0 {
		return fmt.Errorf("%s: size cannot be zero", description)
	}

	if size > maxSize {
		return fmt.Errorf("%s: size %d exceeds maximum %d", description, size, maxSize)
	}

	return nil
}

// Common buffer size limits.
const (
	// MaxDataBlockSize bounds a single data block's declared size. The format
	// itself never produces blocks anywhere near this large; it exists to stop
	// a corrupt or hostile declared-size field from driving an unbounded
	// allocation.
	MaxDataBlockSize = 64 * 1024 * 1024 // 64MB

	// MaxDataArraySize bounds the total logical size of a stitched data array
	// (the sum of its extents).
	MaxDataArraySize = 2 * 1024 * 1024 * 1024 // 2GB

	// MaxRecoveryFragments caps how many fragment records Phase B will
	// synthesize before giving up; a file that produces more than this is
	// almost certainly not a PFF container at all.
	MaxRecoveryFragments = 10_000_000
)

// ValidateEntryLayout checks the index-node invariant `entries * entrySize <=
// pageSize - footerSize`, returning the number of entries that actually fit
// so callers can clamp rather than read past the page.
func ValidateEntryLayout(pageSize, footerSize, entrySize uint32) (maxEntries uint32, err error) {
	if entrySize == 0 {
		return 0, fmt.Errorf("entry size cannot be zero")
	}
	if footerSize > pageSize {
		return 0, fmt.Errorf("footer size %d exceeds page size %d", footerSize, pageSize)
	}

	available := pageSize - footerSize
	return available / entrySize, nil
}

// RoundUpBlockStride rounds size up to the next multiple of stride (64 bytes
// on 512-byte-page variants, 512 bytes on the 4k-page variant), the
// granularity at which data blocks are allocated.
func RoundUpBlockStride(size, stride uint64) (uint64, error) {
	if stride == 0 {
		return 0, fmt.Errorf("block stride cannot be zero")
	}

	rounded := (size + stride - 1) / stride * stride
	if rounded < size {
		return 0, fmt.Errorf("block stride rounding overflow: size=%d stride=%d", size, stride)
	}
	return rounded, nil
}
