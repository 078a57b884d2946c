package names

import (
	"fmt"
	"iter"
	"strconv"
	"strings"

	"github.com/ossyrian/mixparse/internal/hashing"
)

// Candidate is one generated name, or a literal id taken verbatim from the
// file list.
type Candidate struct {
	Name        string
	Description string
	ID          uint32
	Literal     bool // ID is set and Name is empty
}

// Generator expands a game definition into candidate names.
type Generator struct {
	def *GameDefinition
}

// NewGenerator returns a generator for def.
func NewGenerator(def *GameDefinition) *Generator {
	return &Generator{def: def}
}

// Candidates yields every name the definition produces. The file list is
// walked once against the standard theaters and, when mod theaters exist,
// a second time against them for theater-dependent patterns only.
func (g *Generator) Candidates() iter.Seq[Candidate] {
	return func(yield func(Candidate) bool) {
		if !g.pass(g.def.Theaters, false, yield) {
			return
		}
		if len(g.def.ModTheaters) > 0 {
			g.pass(g.def.ModTheaters, true, yield)
		}
	}
}

func (g *Generator) pass(theaters [][]string, theaterOnly bool, yield func(Candidate) bool) bool {
	for _, line := range g.def.FileList {
		if id, ok := literalID(line.Name); ok {
			if theaterOnly {
				continue
			}
			if !yield(Candidate{ID: id, Literal: true, Description: g.def.Description(line.Name)}) {
				return false
			}
			continue
		}

		base, _, err := ParsePattern(line.Name)
		if err != nil {
			continue
		}

		for name := range base.Expand("", nil) {
			desc := g.def.Description(name)

			if line.Type == "" {
				if theaterOnly {
					continue
				}
				if !yield(Candidate{Name: name, Description: desc}) {
					return false
				}
				continue
			}

			for _, p := range g.def.TypeDefinitions[line.Type] {
				if !p.TheaterDependent() {
					if theaterOnly {
						continue
					}
					if !emit(p, name, desc, nil, yield) {
						return false
					}
					continue
				}
				for _, row := range theaters {
					if !emit(p, name, desc, row, yield) {
						return false
					}
				}
			}
		}
	}
	return true
}

func emit(p PatternEntry, base, desc string, row []string, yield func(Candidate) bool) bool {
	if desc == "" {
		desc = base
	}
	d := p.Describe(desc, row)
	for name := range p.Expand(base, row) {
		if !yield(Candidate{Name: name, Description: d}) {
			return false
		}
	}
	return true
}

// literalID recognizes "*XXXXXXXX*" file list lines.
func literalID(s string) (uint32, bool) {
	if len(s) != 10 || s[0] != '*' || s[9] != '*' {
		return 0, false
	}
	id, err := strconv.ParseUint(s[1:9], 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(id), true
}

// NameInfo is the name and description known for an id.
type NameInfo struct {
	Name        string
	Description string
}

// Table maps ids to names. The first name registered for an id wins.
type Table struct {
	game   string
	method string
	byID   map[uint32]NameInfo
	order  []uint32
}

// NewTable returns an empty table.
func NewTable(game, method string) *Table {
	return &Table{game: game, method: method, byID: make(map[uint32]NameInfo)}
}

// BuildTable hashes every candidate of def with m. A Table is safe for
// concurrent reads once built.
func BuildTable(def *GameDefinition, m hashing.Method) *Table {
	t := NewTable(def.Name, m.Name())
	for c := range NewGenerator(def).Candidates() {
		id := c.ID
		if !c.Literal {
			id = m.Hash(c.Name)
		}
		t.Add(id, NameInfo{Name: c.Name, Description: c.Description})
	}
	return t
}

// Add registers info under id unless the id is already present, and
// reports whether it was added.
func (t *Table) Add(id uint32, info NameInfo) bool {
	if _, ok := t.byID[id]; ok {
		return false
	}
	t.byID[id] = info
	t.order = append(t.order, id)
	return true
}

// Lookup returns the name registered for id.
func (t *Table) Lookup(id uint32) (NameInfo, bool) {
	info, ok := t.byID[id]
	return info, ok
}

// Contains reports whether id has a name.
func (t *Table) Contains(id uint32) bool {
	_, ok := t.byID[id]
	return ok
}

// Len returns the number of distinct ids.
func (t *Table) Len() int { return len(t.byID) }

// IDs returns the ids in registration order.
func (t *Table) IDs() []uint32 { return append([]uint32(nil), t.order...) }

// Game returns the name of the game the table was built for.
func (t *Table) Game() string { return t.game }

// Method returns the name of the hash method the table was built with.
func (t *Table) Method() string { return t.method }

func (t *Table) String() string {
	return fmt.Sprintf("%s/%s (%d names)", t.game, strings.ToLower(t.method), t.Len())
}
