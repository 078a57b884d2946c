package mix

import (
	"errors"
	"fmt"
)

// Sentinel errors for MIX operations. Use errors.Is in callers.
var (
	// ErrInvalidHeader means the header is shorter than its declared entry table.
	ErrInvalidHeader = errors.New("invalid MIX header")
	// ErrHeaderBoundsExceeded means an entry extends past the end of the data region.
	ErrHeaderBoundsExceeded = errors.New("entry exceeds archive bounds")
	// ErrTruncatedEncryptedHeader means an encrypted header ends before its key source or entry table.
	ErrTruncatedEncryptedHeader = errors.New("truncated encrypted header")
	// ErrUnsupportedHeaderVariant means a new-format header was found while new-format handling is disabled.
	ErrUnsupportedHeaderVariant = errors.New("unsupported header variant")
	// ErrEntryNotFound means no entry carries the requested id.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrParentDisposed means the archive owning the shared backing store was closed.
	ErrParentDisposed = errors.New("parent archive disposed")
	// ErrArchiveClosed means the archive itself was closed.
	ErrArchiveClosed = errors.New("archive closed")
)

// BoundsError reports the entry whose payload runs past the data region.
type BoundsError struct {
	ID    uint32
	End   uint64
	Limit uint64
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("%s: id %08X ends at %d, data region is %d bytes",
		ErrHeaderBoundsExceeded, e.ID, e.End, e.Limit)
}

func (e *BoundsError) Unwrap() error { return ErrHeaderBoundsExceeded }
