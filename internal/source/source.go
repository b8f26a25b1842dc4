// Package source provides the byte-stream sources a store engine can be
// opened over: a plain file, a memory-mapped file, or an in-memory buffer.
// All three satisfy the same ReaderAt-shaped Source interface so the rest
// of the engine never cares which one it was handed.
package source

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/libyal/go-pff/internal/utils"
)

// Source is a random-access, seek+read view over a container. It is the
// engine's only contact with the outside world; closing it releases every
// resource the source itself acquired.
type Source interface {
	utils.ReaderAt
	Size() (uint64, error)
	Close() error
}

// memorySource serves reads out of an in-memory buffer, for containers that
// are already fully loaded (tests, small attachments extracted elsewhere).
type memorySource struct {
	data []byte
}

// OpenMemory wraps data as a Source. Close is a no-op; the caller keeps
// ownership of data.
func OpenMemory(data []byte) Source {
	return &memorySource{data: data}
}

func (m *memorySource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.data)) {
		return 0, utils.WrapCode("memory source read", os.ErrClosed, utils.CodeIO)
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, utils.WrapCode("memory source short read", os.ErrClosed, utils.CodeIO)
	}
	return n, nil
}

func (m *memorySource) Size() (uint64, error) { return uint64(len(m.data)), nil }
func (m *memorySource) Close() error          { return nil }

// fileSource reads directly through the os.File handle with pread-style
// ReadAt calls; no caching beyond what the engine's own LRUs provide.
type fileSource struct {
	f *os.File
}

// OpenFile opens path for random-access reading.
func OpenFile(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, utils.WrapCode("opening container file", err, utils.CodeIO)
	}
	return &fileSource{f: f}, nil
}

func (s *fileSource) ReadAt(p []byte, off int64) (int, error) {
	n, err := s.f.ReadAt(p, off)
	if err != nil {
		return n, utils.WrapCode("file source read", err, utils.CodeIO)
	}
	return n, nil
}

func (s *fileSource) Size() (uint64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, utils.WrapCode("stat container file", err, utils.CodeIO)
	}
	//nolint:gosec // G115: file sizes fit in uint64 for any real container
	return uint64(info.Size()), nil
}

func (s *fileSource) Close() error {
	return s.f.Close()
}

// mmapSource maps the whole file once at open and serves reads as plain
// slice copies, avoiding a syscall per page/block read on large containers.
type mmapSource struct {
	f    *os.File
	data []byte
}

// OpenMmap memory-maps path read-only for the lifetime of the Source.
func OpenMmap(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, utils.WrapCode("opening container file", err, utils.CodeIO)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, utils.WrapCode("stat container file", err, utils.CodeIO)
	}
	if info.Size() == 0 {
		f.Close()
		return nil, utils.WrapCode("mmap container file", os.ErrInvalid, utils.CodeInvalidArgument)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, utils.WrapCode("mmap container file", err, utils.CodeIO)
	}

	return &mmapSource{f: f, data: data}, nil
}

func (s *mmapSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(s.data)) {
		return 0, utils.WrapCode("mmap source read", os.ErrInvalid, utils.CodeIO)
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, utils.WrapCode("mmap source short read", os.ErrInvalid, utils.CodeIO)
	}
	return n, nil
}

func (s *mmapSource) Size() (uint64, error) {
	//nolint:gosec // G115: file sizes fit in uint64 for any real container
	return uint64(len(s.data)), nil
}

func (s *mmapSource) Close() error {
	err := unix.Munmap(s.data)
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}
