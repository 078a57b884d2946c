//go:build unix

package mix

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// mmapSource serves a read-only private mapping of a file.
type mmapSource struct {
	mu   sync.Mutex
	data []byte
}

// OpenFile maps the file at path into memory.
func OpenFile(path string) (Source, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MIX file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat MIX file: %w", err)
	}
	if stat.Size() == 0 {
		return NewBytesSource(nil), nil
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(stat.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("failed to map MIX file: %w", err)
	}
	return &mmapSource{data: data}, nil
}

func (s *mmapSource) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return 0, os.ErrClosed
	}
	return readAtSlice(s.data, p, off)
}

func (s *mmapSource) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.data))
}

func (s *mmapSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	if err != nil {
		return fmt.Errorf("failed to unmap MIX file: %w", err)
	}
	return nil
}
