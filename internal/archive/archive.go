// Package archive is the read surface of MIX archives: opening root and
// nested archives and reading their entries.
//
// An Archive is not safe for concurrent use. Independently opened archives
// may be used from different goroutines, even over the same file.
package archive

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/ossyrian/mixparse/internal/hashing"
	"github.com/ossyrian/mixparse/internal/mix"
	"github.com/ossyrian/mixparse/internal/parser"
)

// Options controls how archives are opened. Nested archives inherit the
// options of the archive they are opened from.
type Options struct {
	Parser parser.Options
	Hash   hashing.Method
	Logger *slog.Logger
	Name   string
}

// Option mutates Options.
type Option func(*Options)

// WithHashMethod sets the method used to resolve entry names to ids.
func WithHashMethod(m hashing.Method) Option {
	return func(o *Options) { o.Hash = m }
}

// WithLogger sets the archive logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
		o.Parser.Logger = l
	}
}

// WithNewFormat enables or disables new-format headers.
func WithNewFormat(allow bool) Option {
	return func(o *Options) { o.Parser.AllowNewFormat = allow }
}

// WithCipher sets the cipher for encrypted headers.
func WithCipher(c *mix.HeaderCipher) Option {
	return func(o *Options) { o.Parser.Cipher = c }
}

// WithName labels the archive in logs and listings.
func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}

func newOptions(opts ...Option) Options {
	o := Options{Parser: parser.NewOptions()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Hash == nil {
		o.Hash = hashing.Classic{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Parser.Logger == nil {
		o.Parser.Logger = o.Logger
	}
	return o
}

// EntryRef addresses an entry by id and, optionally, by the data-region
// offset of one of its duplicates.
type EntryRef struct {
	ID        uint32
	Offset    uint64
	HasOffset bool
}

// ByID refers to the canonical entry of id.
func ByID(id uint32) EntryRef {
	return EntryRef{ID: id}
}

// At refers to the duplicate of id stored at offset.
func At(id uint32, offset uint64) EntryRef {
	return EntryRef{ID: id, Offset: offset, HasOffset: true}
}

// KnownIDs reports whether a name is available for an id.
type KnownIDs interface {
	Contains(id uint32) bool
}

// Archive is an open MIX archive.
type Archive struct {
	src    io.ReaderAt // archive bytes, header included
	data   *io.SectionReader
	owner  mix.Source // set for root archives only
	reg    *registry
	tok    token
	nested bool
	depth  int

	header *mix.Header
	index  *mix.Index
	opts   Options
	logger *slog.Logger
}

// Open parses a root archive from src. The archive takes ownership of src
// and closes it on Close, or immediately when parsing fails.
func Open(src mix.Source, opts ...Option) (*Archive, error) {
	o := newOptions(opts...)

	h, x, err := parser.ParseWithOptions(src, src.Size(), o.Parser)
	if err != nil {
		_ = src.Close()
		return nil, err
	}

	reg := newRegistry()
	a := &Archive{
		src:    src,
		owner:  src,
		reg:    reg,
		tok:    token{reg: reg, generation: reg.generation},
		header: h,
		index:  x,
		opts:   o,
		logger: o.Logger.With("archive", o.Name),
	}
	a.data = io.NewSectionReader(src, h.DataStart, int64(h.DataLength()))

	a.logger.Debug("opened archive",
		"entries", x.Len(),
		"new_format", h.IsNewFormat,
		"encrypted", h.HasEncryption,
	)
	return a, nil
}

// OpenFile memory-maps the file at path and opens it as a root archive.
func OpenFile(path string, opts ...Option) (*Archive, error) {
	src, err := mix.OpenFile(path)
	if err != nil {
		return nil, err
	}
	return Open(src, append([]Option{WithName(path)}, opts...)...)
}

// OpenBytes opens a root archive over data without copying it.
func OpenBytes(data []byte, opts ...Option) (*Archive, error) {
	return Open(mix.NewBytesSource(data), opts...)
}

// OpenNested opens the archive stored in an entry of parent.
func OpenNested(parent *Archive, ref EntryRef) (*Archive, error) {
	return parent.OpenArchive(ref)
}

// OpenArchive opens the archive stored in the referenced entry. The nested
// archive reads through this archive's backing store and becomes unusable
// once the root archive is closed.
func (a *Archive) OpenArchive(ref EntryRef) (*Archive, error) {
	e, err := a.resolve(ref)
	if err != nil {
		return nil, err
	}
	return a.openNested(e, a.opts.Parser)
}

func (a *Archive) openNested(e *mix.Entry, po parser.Options) (*Archive, error) {
	window := io.NewSectionReader(a.data, int64(e.Offset), int64(e.Length))

	h, x, err := parser.ParseWithOptions(window, window.Size(), po)
	if err != nil {
		return nil, fmt.Errorf("failed to open nested archive %08X: %w", e.ID, err)
	}

	o := a.opts
	o.Name = fmt.Sprintf("%s/%08X", a.opts.Name, e.ID)
	if e.Name != "" {
		o.Name = a.opts.Name + "/" + e.Name
	}

	child := &Archive{
		src:    window,
		reg:    a.reg,
		tok:    a.reg.issue(),
		nested: true,
		depth:  a.depth + 1,
		header: h,
		index:  x,
		opts:   o,
		logger: o.Logger.With("archive", o.Name),
	}
	child.data = io.NewSectionReader(window, h.DataStart, int64(h.DataLength()))
	return child, nil
}

// ProbeEntry reports whether the referenced entry holds a well-formed
// archive. Failures of any kind yield false.
func (a *Archive) ProbeEntry(ref EntryRef) bool {
	e, err := a.resolve(ref)
	if err != nil {
		return false
	}
	return a.probe(e)
}

func (a *Archive) probe(e *mix.Entry) bool {
	if e.Length < mix.SubHeaderSize {
		return false
	}
	window := io.NewSectionReader(a.data, int64(e.Offset), int64(e.Length))
	return parser.ProbeWithOptions(window, window.Size(), a.opts.Parser)
}

// check fails when the archive or its root has been closed.
func (a *Archive) check() error {
	if a.tok.alive() {
		return nil
	}
	if a.nested {
		return mix.ErrParentDisposed
	}
	return mix.ErrArchiveClosed
}

// resolve finds the entry ref points at: the duplicate at ref.Offset when
// given and present, the canonical entry otherwise.
func (a *Archive) resolve(ref EntryRef) (*mix.Entry, error) {
	if err := a.check(); err != nil {
		return nil, err
	}

	var (
		e  *mix.Entry
		ok bool
	)
	if ref.HasOffset {
		e, ok = a.index.Find(ref.ID, ref.Offset)
	} else {
		e, ok = a.index.Canonical(ref.ID)
	}
	if !ok {
		return nil, fmt.Errorf("%w: id %08X", mix.ErrEntryNotFound, ref.ID)
	}
	return e, nil
}

// ReadEntry returns a copy of the referenced entry's payload. Zero-length
// entries yield an empty slice.
func (a *Archive) ReadEntry(ref EntryRef) ([]byte, error) {
	e, err := a.resolve(ref)
	if err != nil {
		return nil, err
	}
	return a.read(e)
}

// ReadNamed hashes name with the archive's hash method and reads the
// canonical entry carrying the resulting id.
func (a *Archive) ReadNamed(name string) ([]byte, error) {
	data, err := a.ReadEntry(ByID(a.opts.Hash.Hash(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", name, err)
	}
	return data, nil
}

// ReadEntryData reads the payload of an entry obtained from this archive.
func (a *Archive) ReadEntryData(e *mix.Entry) ([]byte, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	return a.read(e)
}

func (a *Archive) read(e *mix.Entry) ([]byte, error) {
	if e.Length == 0 {
		return []byte{}, nil
	}
	data, err := mix.ReadFullAt(a.data, int64(e.Offset), int64(e.Length))
	if err != nil {
		if cerr := a.check(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("failed to read entry %08X: %w", e.ID, err)
	}
	return data, nil
}

// OpenEntry returns a view of the referenced entry's payload that reads
// through the archive's backing store. Reads fail once the root archive is
// closed.
func (a *Archive) OpenEntry(ref EntryRef) (*io.SectionReader, error) {
	e, err := a.resolve(ref)
	if err != nil {
		return nil, err
	}
	return io.NewSectionReader(liveReader{a: a}, int64(e.Offset), int64(e.Length)), nil
}

// liveReader reads the data region of a while its root is open.
type liveReader struct {
	a *Archive
}

func (r liveReader) ReadAt(p []byte, off int64) (int, error) {
	if err := r.a.check(); err != nil {
		return 0, err
	}
	return r.a.data.ReadAt(p, off)
}

// Identify counts the entries whose id is in known. With deep set, every
// entry holding an archive is opened and its own entries are counted too.
// Nesting is followed one level only.
func (a *Archive) Identify(known KnownIDs, deep bool) (identified, total int) {
	if a.check() != nil {
		return 0, 0
	}

	for _, e := range a.index.Entries() {
		total++
		if known.Contains(e.ID) {
			identified++
		}
		if !deep || !a.probe(e) {
			continue
		}

		child, err := a.openNested(e, a.opts.Parser)
		if err != nil {
			a.logger.Debug("skipping nested archive", "id", fmt.Sprintf("%08X", e.ID), "error", err)
			continue
		}
		ci, ct := child.Identify(known, false)
		identified += ci
		total += ct
	}
	return identified, total
}

// IDs returns the distinct entry ids in header order.
func (a *Archive) IDs() []uint32 { return a.index.IDs() }

// ListIDs is an alias of IDs.
func (a *Archive) ListIDs() []uint32 { return a.IDs() }

// Entries returns every record in header order. The returned entries are
// shared with the archive so identification results stick.
func (a *Archive) Entries() []*mix.Entry { return a.index.Entries() }

// Lookup returns the entries carrying id.
func (a *Archive) Lookup(id uint32) []*mix.Entry { return a.index.Lookup(id) }

// Header returns the parsed header.
func (a *Archive) Header() *mix.Header { return a.header }

func (a *Archive) IsNewFormat() bool   { return a.header.IsNewFormat }
func (a *Archive) HasEncryption() bool { return a.header.HasEncryption }
func (a *Archive) HasChecksum() bool   { return a.header.HasChecksum }

// HashMethod returns the method used to resolve names to ids.
func (a *Archive) HashMethod() hashing.Method { return a.opts.Hash }

// Name returns the archive label.
func (a *Archive) Name() string { return a.opts.Name }

// IsNested reports whether the archive lives inside another archive's entry.
func (a *Archive) IsNested() bool { return a.nested }

// Depth returns the nesting level; root archives are at depth 0.
func (a *Archive) Depth() int { return a.depth }

// IsDisposed reports whether the archive, or the root it was opened from,
// has been closed.
func (a *Archive) IsDisposed() bool { return !a.tok.alive() }

// Close releases the backing store of a root archive and invalidates every
// archive nested beneath it. Closing a nested archive does nothing. Close
// may be called any number of times.
func (a *Archive) Close() error {
	if a.nested {
		return nil
	}

	released, nested := a.reg.release()
	if !released {
		return nil
	}

	a.logger.Debug("closing archive", "nested_opened", nested)
	if err := a.owner.Close(); err != nil {
		return fmt.Errorf("failed to close archive source: %w", err)
	}
	return nil
}
