//go:build !unix

package mix

import (
	"fmt"
	"os"
)

// OpenFile reads the file at path into memory.
func OpenFile(path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MIX file: %w", err)
	}
	return NewBytesSource(data), nil
}
