package mix

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Source is the random-access backing store of a root archive. The archive
// that opened a Source is its only releaser.
type Source interface {
	io.ReaderAt
	Size() int64
	Close() error
}

// bytesSource serves an in-memory buffer.
type bytesSource struct {
	data []byte
}

// NewBytesSource wraps data without copying it.
func NewBytesSource(data []byte) Source {
	return &bytesSource{data: data}
}

func (s *bytesSource) ReadAt(p []byte, off int64) (int, error) {
	return readAtSlice(s.data, p, off)
}

func (s *bytesSource) Size() int64 { return int64(len(s.data)) }

func (s *bytesSource) Close() error { return nil }

// readerAtSource adapts a caller-owned io.ReaderAt; closing it is a no-op.
type readerAtSource struct {
	io.ReaderAt
	size int64
}

// NewReaderAtSource wraps ra, whose lifetime stays with the caller.
func NewReaderAtSource(ra io.ReaderAt, size int64) Source {
	return &readerAtSource{ReaderAt: ra, size: size}
}

func (s *readerAtSource) Size() int64 { return s.size }

func (s *readerAtSource) Close() error { return nil }

func readAtSlice(data, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= int64(len(data)) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// ReadUint16At reads a little-endian u16 at off.
func ReadUint16At(r io.ReaderAt, off int64) (uint16, error) {
	var b [2]byte
	if _, err := r.ReadAt(b[:], off); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

// ReadFullAt reads exactly n bytes at off.
func ReadFullAt(r io.ReaderAt, off, n int64) ([]byte, error) {
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	read, err := r.ReadAt(buf, off)
	if int64(read) == n {
		return buf, nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return nil, err
}
