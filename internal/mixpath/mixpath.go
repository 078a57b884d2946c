// Package mixpath reads and writes paths that address entries inside
// nested MIX archives, such as "main.mix;conquer.mix?rules.ini".
//
// The part before '?' is the archive chain: a file on disk followed by
// the entries holding each nested archive. The part after '?' lists
// entries of the innermost archive. Elements are separated by ';'. An
// element of the form *XXXXXXXX* is a hexadecimal entry id, anything else
// is a name hashed with the archive's hash method.
package mixpath

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/ossyrian/mixparse/internal/archive"
	"github.com/ossyrian/mixparse/internal/hashing"
	"github.com/ossyrian/mixparse/internal/mix"
)

// ErrInvalidPath means a path string could not be parsed.
var ErrInvalidPath = errors.New("invalid mix path")

const (
	separator = ";"
	query     = "?"
)

// Token names one entry, either by name or by literal id.
type Token struct {
	Name string
	ID   uint32
	IsID bool
}

// FormatID renders id in the *XXXXXXXX* form.
func FormatID(id uint32) string {
	return fmt.Sprintf("*%08X*", id)
}

// IDToken returns a token for a literal id.
func IDToken(id uint32) Token {
	return Token{ID: id, IsID: true}
}

// NameToken returns a token for a name.
func NameToken(name string) Token {
	return Token{Name: name}
}

// ParseToken reads one path element.
func ParseToken(s string) (Token, error) {
	if s == "" {
		return Token{}, fmt.Errorf("%w: empty element", ErrInvalidPath)
	}
	if strings.ContainsAny(s, separator+query) {
		return Token{}, fmt.Errorf("%w: element %q contains a separator", ErrInvalidPath, s)
	}
	if len(s) >= 2 && s[0] == '*' && s[len(s)-1] == '*' {
		hex := s[1 : len(s)-1]
		if len(hex) != 8 {
			return Token{}, fmt.Errorf("%w: id %q must have 8 hex digits", ErrInvalidPath, s)
		}
		id, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return Token{}, fmt.Errorf("%w: bad id %q: %w", ErrInvalidPath, s, err)
		}
		return IDToken(uint32(id)), nil
	}
	return NameToken(s), nil
}

// Resolve returns the entry id the token refers to under m.
func (t Token) Resolve(m hashing.Method) uint32 {
	if t.IsID {
		return t.ID
	}
	return m.Hash(t.Name)
}

func (t Token) String() string {
	if t.IsID {
		return FormatID(t.ID)
	}
	return t.Name
}

// Path is a parsed mix path.
type Path struct {
	File    string  // archive on disk
	Nested  []Token // entries holding each nested archive, outermost first
	Entries []Token // entries of the innermost archive
}

// Parse reads a path string.
func Parse(s string) (Path, error) {
	chain, entries, hasQuery := strings.Cut(s, query)

	elems := strings.Split(chain, separator)
	if elems[0] == "" {
		return Path{}, fmt.Errorf("%w: missing archive file in %q", ErrInvalidPath, s)
	}
	p := Path{File: elems[0]}

	for _, e := range elems[1:] {
		tok, err := ParseToken(e)
		if err != nil {
			return Path{}, err
		}
		p.Nested = append(p.Nested, tok)
	}

	if hasQuery {
		for _, e := range strings.Split(entries, separator) {
			tok, err := ParseToken(e)
			if err != nil {
				return Path{}, err
			}
			p.Entries = append(p.Entries, tok)
		}
	}

	return p, nil
}

func (p Path) String() string {
	var b strings.Builder
	b.WriteString(p.File)
	for _, t := range p.Nested {
		b.WriteString(separator)
		b.WriteString(t.String())
	}
	if len(p.Entries) > 0 {
		b.WriteString(query)
		b.WriteString(strings.Join(lo.Map(p.Entries, func(t Token, _ int) string { return t.String() }), separator))
	}
	return b.String()
}

// Join returns a copy of p that descends into the archive held by t.
func (p Path) Join(t Token) Path {
	return Path{
		File:   p.File,
		Nested: append(append([]Token(nil), p.Nested...), t),
	}
}

// WithEntries returns a copy of p addressing entries of its innermost archive.
func (p Path) WithEntries(entries ...Token) Path {
	return Path{
		File:    p.File,
		Nested:  append([]Token(nil), p.Nested...),
		Entries: entries,
	}
}

// Chain is an opened archive chain. Closing it closes the root archive,
// which invalidates every nested archive.
type Chain struct {
	Root *archive.Archive
	Leaf *archive.Archive
}

func (c *Chain) Close() error {
	return c.Root.Close()
}

// Open opens the file of p and descends through its nested archives.
func Open(p Path, opts ...archive.Option) (*Chain, error) {
	root, err := archive.OpenFile(p.File, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", p.File, err)
	}

	leaf := root
	for _, t := range p.Nested {
		child, err := leaf.OpenArchive(archive.ByID(t.Resolve(leaf.HashMethod())))
		if err != nil {
			_ = root.Close()
			return nil, fmt.Errorf("failed to open nested archive %s: %w", t, err)
		}
		leaf = child
	}

	return &Chain{Root: root, Leaf: leaf}, nil
}

// OpenAny opens p with each of methods in turn until every name in the path
// resolves, and returns the first chain that does. Name tokens only match
// under the hash method of the game that wrote the archive, which is not
// known before the archive is opened. Errors other than a missing entry are
// returned at once.
func OpenAny(p Path, methods []hashing.Method, opts ...archive.Option) (*Chain, error) {
	if len(methods) == 0 {
		return Open(p, opts...)
	}

	var firstErr error
	for _, m := range methods {
		chain, err := Open(p, append(slices.Clone(opts), archive.WithHashMethod(m))...)
		if err == nil {
			err = chain.checkEntries(p)
		}
		if err == nil {
			return chain, nil
		}
		if !errors.Is(err, mix.ErrEntryNotFound) {
			return nil, err
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// checkEntries closes c and fails when an entry token of p is missing from
// the leaf archive.
func (c *Chain) checkEntries(p Path) error {
	for i, ref := range p.Resolve(c.Leaf) {
		if len(c.Leaf.Lookup(ref.ID)) == 0 {
			_ = c.Close()
			return fmt.Errorf("%w: %s", mix.ErrEntryNotFound, p.Entries[i])
		}
	}
	return nil
}

// Resolve turns the entry tokens of p into references into a.
func (p Path) Resolve(a *archive.Archive) []archive.EntryRef {
	return lo.Map(p.Entries, func(t Token, _ int) archive.EntryRef {
		return archive.ByID(t.Resolve(a.HashMethod()))
	})
}
