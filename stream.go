package pff

import "github.com/libyal/go-pff/internal/array"

// Stream is a logical byte-stream resolved from a data identifier: either
// a single decoded block's bytes, or, transparently, a data array's
// stitched multi-block stream. Reading the whole stream and concatenating
// yields the same bytes regardless of how the reads were chunked.
type Stream struct {
	raw   []byte
	array *array.Stream
}

// Length returns the stream's total logical size.
func (s *Stream) Length() uint64 {
	if s.array != nil {
		return s.array.Len()
	}
	return uint64(len(s.raw))
}

// ReadAt reads len(p) bytes starting at the stream's logical offset,
// returning fewer bytes, without an error, once the stream is exhausted.
// For a data array, a failure to look up or read a child block is
// returned as an error.
func (s *Stream) ReadAt(p []byte, offset uint64) (int, error) {
	if s.array != nil {
		return s.array.ReadAt(p, offset)
	}
	if offset >= uint64(len(s.raw)) {
		return 0, nil
	}
	return copy(p, s.raw[offset:]), nil
}
