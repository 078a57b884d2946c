package mix

import (
	mixtypes "github.com/ossyrian/mixparse/internal/types"
)

// Header is the parsed header of a MIX archive.
type Header struct {
	IsNewFormat   bool   // zero marker + flags present
	HasChecksum   bool   // SHA-1 digest appended after the data region
	HasEncryption bool   // entry table is Blowfish encrypted
	Flags         uint16 // raw new-format flags, 0 for legacy archives
	FileCount     uint16 // declared number of records
	DataSize      uint32 // declared size of the data region
	DataStart     int64  // where the data region starts, relative to the archive start
	Size          int64  // total archive size, header included
}

// DataLength returns the number of bytes entries may address. The trailing
// checksum is excluded when the archive declares one and it fits.
func (h *Header) DataLength() uint64 {
	n := h.Size - h.DataStart
	if n < 0 {
		return 0
	}
	if h.HasChecksum && n >= int64(h.DataSize)+ChecksumSize {
		n -= ChecksumSize
	}
	return uint64(n)
}

// Entry is the metadata of one file in an archive index.
// Only Name, Description, ContentType and AnalysisInfo change after parsing;
// they are filled in by content identification.
type Entry struct {
	ID             uint32
	Offset         uint64 // relative to the start of the data region
	Length         uint64
	DuplicateIndex uint32 // 0 for the first record carrying ID

	Name         string
	Description  string
	ContentType  mixtypes.ContentType
	AnalysisInfo string
}

// End returns the offset one past the last payload byte.
func (e *Entry) End() uint64 {
	return e.Offset + e.Length
}

// Index maps ids to their entries in on-disk header order.
type Index struct {
	ids     []uint32
	entries []*Entry
	byID    map[uint32][]*Entry
}

// NewIndex returns an empty index sized for count records.
func NewIndex(count int) *Index {
	return &Index{
		ids:     make([]uint32, 0, count),
		entries: make([]*Entry, 0, count),
		byID:    make(map[uint32][]*Entry, count),
	}
}

// Add appends a record, assigning its duplicate index from the records
// already carrying id.
func (x *Index) Add(id uint32, offset, length uint64) *Entry {
	list := x.byID[id]
	e := &Entry{
		ID:             id,
		Offset:         offset,
		Length:         length,
		DuplicateIndex: uint32(len(list)),
	}
	if len(list) == 0 {
		x.ids = append(x.ids, id)
	}
	x.byID[id] = append(list, e)
	x.entries = append(x.entries, e)
	return e
}

// Lookup returns every entry carrying id, duplicate 0 first.
func (x *Index) Lookup(id uint32) []*Entry {
	return x.byID[id]
}

// Canonical returns duplicate 0 of id.
func (x *Index) Canonical(id uint32) (*Entry, bool) {
	list := x.byID[id]
	if len(list) == 0 {
		return nil, false
	}
	return list[0], true
}

// Find returns the duplicate of id stored at offset, falling back to the
// canonical entry when no duplicate matches.
func (x *Index) Find(id uint32, offset uint64) (*Entry, bool) {
	list := x.byID[id]
	if len(list) == 0 {
		return nil, false
	}
	for _, e := range list {
		if e.Offset == offset {
			return e, true
		}
	}
	return list[0], true
}

// IDs returns the distinct ids in first-occurrence order.
func (x *Index) IDs() []uint32 {
	out := make([]uint32, len(x.ids))
	copy(out, x.ids)
	return out
}

// Entries returns all records in header order.
func (x *Index) Entries() []*Entry {
	out := make([]*Entry, len(x.entries))
	copy(out, x.entries)
	return out
}

// Len returns the number of records, duplicates included.
func (x *Index) Len() int {
	return len(x.entries)
}
