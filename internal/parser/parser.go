package parser

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ossyrian/mixparse/internal/mix"
)

// Options controls header parsing.
type Options struct {
	// AllowNewFormat enables the zero-marker header variants. When false,
	// such headers fail with mix.ErrUnsupportedHeaderVariant.
	AllowNewFormat bool
	// Cipher decrypts encrypted headers. Defaults to mix.NewHeaderCipher().
	Cipher *mix.HeaderCipher
	// Logger receives parse progress. Defaults to slog.Default().
	Logger *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithNewFormat enables or disables new-format headers.
func WithNewFormat(allow bool) Option {
	return func(o *Options) { o.AllowNewFormat = allow }
}

// WithCipher sets the cipher used for encrypted headers.
func WithCipher(c *mix.HeaderCipher) Option {
	return func(o *Options) { o.Cipher = c }
}

// WithLogger sets the parse logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// NewOptions applies opts over the defaults.
func NewOptions(opts ...Option) Options {
	o := Options{AllowNewFormat: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Cipher == nil {
		o.Cipher = mix.NewHeaderCipher()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// MixReader reads the header and index of a MIX archive.
type MixReader struct {
	src    io.ReaderAt
	size   int64
	opts   Options
	logger *slog.Logger
	header *mix.Header

	// table is the flat header: 6-byte prologue followed by the records.
	// For encrypted archives it holds the decrypted bytes.
	table []byte
}

// NewMixReader returns a reader for the size bytes of src.
func NewMixReader(src io.ReaderAt, size int64, opts Options) *MixReader {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Cipher == nil {
		opts.Cipher = mix.NewHeaderCipher()
	}
	return &MixReader{
		src:    src,
		size:   size,
		opts:   opts,
		logger: opts.Logger,
	}
}

// DetectFormat reports whether the archive uses a new-format header and
// returns its flags. Legacy archives start with a non-zero file count.
func (r *MixReader) DetectFormat() (isNewFormat bool, flags uint16, err error) {
	first, err := mix.ReadUint16At(r.src, 0)
	if err != nil {
		return false, 0, fmt.Errorf("%w: failed to read file count: %w", mix.ErrInvalidHeader, err)
	}
	if first != 0 {
		return false, 0, nil
	}

	flags, err = mix.ReadUint16At(r.src, 2)
	if err != nil {
		return false, 0, fmt.Errorf("%w: failed to read flags: %w", mix.ErrInvalidHeader, err)
	}
	return true, flags, nil
}

// ReadHeader parses the header variant and loads the flat entry table.
func (r *MixReader) ReadHeader() (*mix.Header, error) {
	isNew, flags, err := r.DetectFormat()
	if err != nil {
		return nil, err
	}

	h := &mix.Header{
		IsNewFormat:   isNew,
		Flags:         flags,
		HasChecksum:   flags&mix.FlagChecksum != 0,
		HasEncryption: flags&mix.FlagEncrypted != 0,
		Size:          r.size,
	}

	if isNew && !r.opts.AllowNewFormat {
		return nil, fmt.Errorf("%w: new-format header with flags 0x%04X", mix.ErrUnsupportedHeaderVariant, flags)
	}

	switch {
	case !isNew:
		err = r.readPlainTable(h, 0)
	case h.HasEncryption:
		err = r.readEncryptedTable(h)
	default:
		err = r.readPlainTable(h, mix.MarkerSize)
	}
	if err != nil {
		return nil, err
	}

	h.FileCount = binary.LittleEndian.Uint16(r.table[0:2])
	h.DataSize = binary.LittleEndian.Uint32(r.table[2:6])

	r.logger.Debug("read header",
		"new_format", h.IsNewFormat,
		"checksum", h.HasChecksum,
		"encrypted", h.HasEncryption,
		"file_count", h.FileCount,
		"data_size", h.DataSize,
		"data_start", h.DataStart,
	)

	r.header = h
	return h, nil
}

// readPlainTable reads the prologue and records stored in the clear at off.
// The count is re-read as part of the prologue.
func (r *MixReader) readPlainTable(h *mix.Header, off int64) error {
	count, err := mix.ReadUint16At(r.src, off)
	if err != nil {
		return fmt.Errorf("%w: failed to read file count: %w", mix.ErrInvalidHeader, err)
	}

	size := mix.TableSize(count)
	if off+size > r.size {
		return fmt.Errorf("%w: %d records need %d header bytes, archive is %d bytes",
			mix.ErrInvalidHeader, count, off+size, r.size)
	}

	table, err := mix.ReadFullAt(r.src, off, size)
	if err != nil {
		return fmt.Errorf("%w: failed to read entry table: %w", mix.ErrInvalidHeader, err)
	}

	r.table = table
	h.DataStart = off + size
	return nil
}

func (r *MixReader) readEncryptedTable(h *mix.Header) error {
	table, consumed, err := r.opts.Cipher.DecryptHeader(r.src, mix.MarkerSize, r.size)
	if err != nil {
		return err
	}

	r.table = table
	h.DataStart = mix.MarkerSize + consumed
	return nil
}

// ReadIndex decodes the records of the table loaded by ReadHeader and
// validates every payload against the data region.
func (r *MixReader) ReadIndex() (*mix.Index, error) {
	if r.header == nil {
		return nil, errors.New("ReadIndex called before ReadHeader")
	}

	count := int(r.header.FileCount)
	limit := r.header.DataLength()
	x := mix.NewIndex(count)

	for i := 0; i < count; i++ {
		rec := r.table[mix.SubHeaderSize+i*mix.RecordSize:]
		id := binary.LittleEndian.Uint32(rec[0:4])
		offset := uint64(binary.LittleEndian.Uint32(rec[4:8]))
		length := uint64(binary.LittleEndian.Uint32(rec[8:12]) & mix.LengthMask)

		if end := offset + length; end > limit {
			return nil, &mix.BoundsError{ID: id, End: end, Limit: limit}
		}

		e := x.Add(id, offset, length)
		if e.DuplicateIndex > 0 {
			r.logger.Debug("duplicate entry id",
				"id", fmt.Sprintf("%08X", id),
				"duplicate", e.DuplicateIndex,
			)
		}
	}

	return x, nil
}

// Parse reads the header and index of the size bytes of src.
func Parse(src io.ReaderAt, size int64, opts ...Option) (*mix.Header, *mix.Index, error) {
	o := NewOptions(opts...)
	return ParseWithOptions(src, size, o)
}

// ParseWithOptions is Parse with pre-built options.
func ParseWithOptions(src io.ReaderAt, size int64, o Options) (*mix.Header, *mix.Index, error) {
	reader := NewMixReader(src, size, o)

	h, err := reader.ReadHeader()
	if err != nil {
		return nil, nil, err
	}

	x, err := reader.ReadIndex()
	if err != nil {
		return nil, nil, err
	}

	return h, x, nil
}

// Probe reports whether the size bytes of src hold a well-formed MIX
// header. It never returns an error and logs nothing.
func Probe(src io.ReaderAt, size int64, opts ...Option) bool {
	o := NewOptions(opts...)
	return ProbeWithOptions(src, size, o)
}

// ProbeWithOptions is Probe with pre-built options.
func ProbeWithOptions(src io.ReaderAt, size int64, o Options) bool {
	if size < mix.SubHeaderSize {
		return false
	}
	o.Logger = discardLogger
	_, _, err := ParseWithOptions(src, size, o)
	return err == nil
}

var discardLogger = slog.New(slog.DiscardHandler)
