package identify

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ossyrian/mixparse/internal/archive"
	"github.com/ossyrian/mixparse/internal/hashing"
	"github.com/ossyrian/mixparse/internal/mix"
	"github.com/ossyrian/mixparse/internal/names"
	mixtypes "github.com/ossyrian/mixparse/internal/types"
)

const (
	// XCCDatabaseName is the entry name of an XCC local mix database.
	XCCDatabaseName = "local mix database.dat"
	// RAMIXDatabaseID is the fixed entry id of a RAMIX names database.
	RAMIXDatabaseID uint32 = 0x7FFFFFFF
)

// XCCSignature opens every XCC database.
var XCCSignature = []byte("XCC by Olaf van der Spek\x1a\x04\x17\x27\x10\x19\x80\x00")

// RAMIXSignature opens every RAMIX database.
var RAMIXSignature = []byte("RAMIXDB\x00")

const (
	xccSizeOffset  = 32
	xccGameOffset  = 44
	xccCountOffset = 48
	xccHeaderSize  = 52

	ramixHeaderSize = 12
)

// NamesDatabase holds the names recovered from the databases embedded in
// one archive.
type NamesDatabase struct {
	Kind    mixtypes.DatabaseKind
	Method  hashing.Method // nil when no method reproduces the stored ids
	Table   *names.Table
	Entries []*mix.Entry // the database entries themselves
	XCCGame uint32       // game field of an XCC database
}

// Contains reports whether the database names id.
func (d *NamesDatabase) Contains(id uint32) bool {
	return d != nil && d.Table.Contains(id)
}

// ParseXCC decodes an XCC local mix database. It returns false when data
// does not carry the XCC signature or its size field disagrees with the
// payload. A truncated name list yields the names read so far.
func ParseXCC(data []byte) (list []string, game uint32, ok bool) {
	if len(data) < xccHeaderSize || !bytes.HasPrefix(data, XCCSignature) {
		return nil, 0, false
	}

	size := binary.LittleEndian.Uint32(data[xccSizeOffset:])
	if size < xccHeaderSize || uint64(size) > uint64(len(data)) {
		return nil, 0, false
	}
	data = data[:size]

	game = binary.LittleEndian.Uint32(data[xccGameOffset:])
	count := binary.LittleEndian.Uint32(data[xccCountOffset:])

	rest := data[xccHeaderSize:]
	for range count {
		end := bytes.IndexByte(rest, 0)
		if end < 0 {
			break
		}
		list = append(list, string(rest[:end]))
		rest = rest[end+1:]
	}
	return list, game, true
}

// RAMIXRecord is one record of a RAMIX database.
type RAMIXRecord struct {
	ID          uint32
	Name        string
	Description string
}

// ParseRAMIX decodes a RAMIX database. A truncated record list yields the
// records read so far.
func ParseRAMIX(data []byte) ([]RAMIXRecord, bool) {
	if len(data) < ramixHeaderSize || !bytes.HasPrefix(data, RAMIXSignature) {
		return nil, false
	}

	count := binary.LittleEndian.Uint32(data[8:])
	// every record takes at least an id and two terminators
	if uint64(count)*6 > uint64(len(data)-ramixHeaderSize) {
		return nil, false
	}

	rest := data[ramixHeaderSize:]
	records := make([]RAMIXRecord, 0, count)
	for range count {
		if len(rest) < 4 {
			break
		}
		r := RAMIXRecord{ID: binary.LittleEndian.Uint32(rest)}
		rest = rest[4:]

		name, tail, ok := bytes.Cut(rest, []byte{0})
		if !ok {
			break
		}
		desc, tail, ok := bytes.Cut(tail, []byte{0})
		if !ok {
			break
		}
		r.Name, r.Description = string(name), string(desc)
		rest = tail
		records = append(records, r)
	}
	return records, true
}

// findDatabases looks for XCC and RAMIX databases in a and merges their
// names. The XCC database wins conflicts and decides the hash method when
// both are present.
func (id *Identifier) findDatabases(a *archive.Archive) *NamesDatabase {
	var db *NamesDatabase

	for _, m := range id.registry.Methods() {
		e, ok := canonical(a, m.Hash(XCCDatabaseName))
		if !ok {
			continue
		}
		data, err := a.ReadEntryData(e)
		if err != nil {
			id.logger.Debug("failed to read names database", "archive", a.Name(), "error", err)
			continue
		}
		list, game, ok := ParseXCC(data)
		if !ok {
			continue
		}

		db = &NamesDatabase{
			Kind:    mixtypes.DatabaseXCC,
			Method:  m,
			Table:   names.NewTable("XCC database", m.Name()),
			Entries: []*mix.Entry{e},
			XCCGame: game,
		}
		db.Table.Add(e.ID, names.NameInfo{Name: XCCDatabaseName, Description: "XCC names database"})
		for _, name := range list {
			db.Table.Add(m.Hash(name), names.NameInfo{Name: name})
		}
		e.Name = XCCDatabaseName
		e.ContentType = mixtypes.ContentNamesDatabase
		e.Description = "XCC names database"
		e.AnalysisInfo = fmt.Sprintf("%d names, %s hash", len(list), m.Name())

		id.logger.Debug("found names database",
			"archive", a.Name(),
			"kind", db.Kind,
			"method", m.Name(),
			"names", len(list),
		)
		break
	}

	e, ok := canonical(a, RAMIXDatabaseID)
	if !ok {
		return db
	}
	data, err := a.ReadEntryData(e)
	if err != nil {
		id.logger.Debug("failed to read names database", "archive", a.Name(), "error", err)
		return db
	}
	records, ok := ParseRAMIX(data)
	if !ok {
		return db
	}

	method := id.reproducingMethod(records)
	if db == nil {
		methodName := ""
		if method != nil {
			methodName = method.Name()
		}
		db = &NamesDatabase{
			Kind:   mixtypes.DatabaseRAMIX,
			Method: method,
			Table:  names.NewTable("RAMIX database", methodName),
		}
	}
	db.Entries = append(db.Entries, e)
	db.Table.Add(e.ID, names.NameInfo{Description: "RAMIX names database"})
	for _, r := range records {
		db.Table.Add(r.ID, names.NameInfo{Name: r.Name, Description: r.Description})
	}

	e.ContentType = mixtypes.ContentNamesDatabase
	e.Description = "RAMIX names database"
	e.AnalysisInfo = fmt.Sprintf("%d records", len(records))

	id.logger.Debug("found names database",
		"archive", a.Name(),
		"kind", mixtypes.DatabaseRAMIX,
		"records", len(records),
	)
	return db
}

// reproducingMethod returns the registered method whose hash of the record
// names matches the most stored ids, or nil when none matches any.
func (id *Identifier) reproducingMethod(records []RAMIXRecord) hashing.Method {
	var (
		best      hashing.Method
		bestCount int
	)
	for _, m := range id.registry.Methods() {
		n := 0
		for _, r := range records {
			if r.Name != "" && m.Hash(r.Name) == r.ID {
				n++
			}
		}
		if n > bestCount {
			best, bestCount = m, n
		}
	}
	return best
}

func canonical(a *archive.Archive, id uint32) (*mix.Entry, bool) {
	list := a.Lookup(id)
	if len(list) == 0 {
		return nil, false
	}
	return list[0], true
}
