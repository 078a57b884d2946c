// Package identify recovers entry names and classifies entry contents of
// MIX archives, including archives nested inside them.
package identify

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ossyrian/mixparse/internal/archive"
	"github.com/ossyrian/mixparse/internal/hashing"
	"github.com/ossyrian/mixparse/internal/mix"
	"github.com/ossyrian/mixparse/internal/names"
	mixtypes "github.com/ossyrian/mixparse/internal/types"
)

// ErrUnknownGame means a forced game is not among the loaded definitions.
var ErrUnknownGame = errors.New("unknown game")

const (
	defaultMaxDepth     = 8
	defaultMaxSniffSize = 32 << 20
)

// Options configures an Identifier.
type Options struct {
	Games         []*names.GameDefinition
	Registry      *hashing.Registry
	Codecs        []Codec
	MaxTemplateID byte
	MaxDepth      int
	MaxSniffSize  int64
	Game          string // skip detection and use this game
	Logger        *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

func WithGames(defs []*names.GameDefinition) Option {
	return func(o *Options) { o.Games = defs }
}

func WithRegistry(r *hashing.Registry) Option {
	return func(o *Options) { o.Registry = r }
}

// WithCodecs replaces the format recognizers tried before the text checks.
func WithCodecs(codecs ...Codec) Option {
	return func(o *Options) { o.Codecs = codecs }
}

func WithMaxTemplateID(id byte) Option {
	return func(o *Options) { o.MaxTemplateID = id }
}

// WithMaxDepth bounds recursion into nested archives.
func WithMaxDepth(depth int) Option {
	return func(o *Options) { o.MaxDepth = depth }
}

// WithGame forces the game used for naming instead of detecting it.
func WithGame(name string) Option {
	return func(o *Options) { o.Game = name }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Identifier names and classifies archive entries. Name tables are built
// on first use and shared by every archive the Identifier sees; an
// Identifier is safe for concurrent use on distinct archives.
type Identifier struct {
	opts     Options
	registry *hashing.Registry
	forced   *names.GameDefinition
	logger   *slog.Logger

	mu     sync.RWMutex
	tables map[string]*names.Table
	builds singleflight.Group
}

// New returns an Identifier. Without WithGames the built-in game
// definitions are used.
func New(opts ...Option) (*Identifier, error) {
	o := Options{
		MaxTemplateID: DefaultMaxTemplateID,
		MaxDepth:      defaultMaxDepth,
		MaxSniffSize:  defaultMaxSniffSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Registry == nil {
		o.Registry = hashing.DefaultRegistry()
	}
	if o.Codecs == nil {
		o.Codecs = DefaultCodecs()
	}
	if o.Games == nil {
		defs, err := names.BuiltinDefinitions(o.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to load built-in games: %w", err)
		}
		o.Games = defs
	}

	id := &Identifier{
		opts:     o,
		registry: o.Registry,
		logger:   o.Logger,
		tables:   make(map[string]*names.Table),
	}

	if o.Game != "" {
		def, ok := names.FindDefinition(o.Games, o.Game)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownGame, o.Game)
		}
		id.forced = def
	}

	return id, nil
}

// Games returns the loaded game definitions in declaration order.
func (id *Identifier) Games() []*names.GameDefinition {
	return id.opts.Games
}

// Prepare builds the name tables of every game up front.
func (id *Identifier) Prepare() error {
	_, err := id.tablesFor(id.opts.Games)
	return err
}

// Table returns the name table of def, building it on first use.
func (id *Identifier) Table(def *names.GameDefinition) (*names.Table, error) {
	m, err := id.registry.Get(def.HashAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("game %s: %w", def.Name, err)
	}
	key := def.Key + "/" + m.Name()

	id.mu.RLock()
	t, ok := id.tables[key]
	id.mu.RUnlock()
	if ok {
		return t, nil
	}

	v, _, _ := id.builds.Do(key, func() (any, error) {
		t := names.BuildTable(def, m)
		id.mu.Lock()
		id.tables[key] = t
		id.mu.Unlock()
		id.logger.Debug("built name table", "game", def.Name, "method", m.Name(), "names", t.Len())
		return t, nil
	})
	return v.(*names.Table), nil
}

// tablesFor builds the missing tables of defs concurrently.
func (id *Identifier) tablesFor(defs []*names.GameDefinition) ([]*names.Table, error) {
	out := make([]*names.Table, len(defs))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, def := range defs {
		g.Go(func() error {
			t, err := id.Table(def)
			if err != nil {
				return err
			}
			out[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// EntryKey addresses one record of an archive.
type EntryKey struct {
	ID             uint32
	DuplicateIndex uint32
}

// Result describes one identified archive.
type Result struct {
	Archive    string
	Game       string // empty when no game matched
	HashMethod string
	Database   mixtypes.DatabaseKind

	// Identified and Total are the deep identification counts of the
	// winning game.
	Identified int
	Total      int
	// Named counts the entries that received a name.
	Named int

	Entries  []*mix.Entry
	Children map[EntryKey]*Result
}

// Ratio returns Identified/Total, or 0 for an empty archive.
func (r *Result) Ratio() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Identified) / float64(r.Total)
}

// Child returns the result of the archive nested in e.
func (r *Result) Child(e *mix.Entry) (*Result, bool) {
	c, ok := r.Children[EntryKey{ID: e.ID, DuplicateIndex: e.DuplicateIndex}]
	return c, ok
}

// Identify names and classifies every entry of a, recursing into nested
// archives. Results are written to the archive's entries. Failures inside
// nested archives are logged and skipped.
func (id *Identifier) Identify(a *archive.Archive) (*Result, error) {
	if a.IsDisposed() {
		if a.IsNested() {
			return nil, mix.ErrParentDisposed
		}
		return nil, mix.ErrArchiveClosed
	}
	return id.identify(a, 0)
}

func (id *Identifier) identify(a *archive.Archive, depth int) (*Result, error) {
	res := &Result{
		Archive:  a.Name(),
		Entries:  a.Entries(),
		Children: make(map[EntryKey]*Result),
	}

	db := id.findDatabases(a)
	if db != nil {
		res.Database = db.Kind
		if db.Method != nil {
			res.HashMethod = db.Method.Name()
		}
	}

	det, err := id.detectGame(a, db)
	if err != nil {
		return nil, err
	}
	game, table := det.game, det.table
	if game != nil {
		res.Game = game.Name
		res.HashMethod = table.Method()
		res.Identified, res.Total = det.identified, det.total
	}

	isDatabase := func(e *mix.Entry) bool {
		return db != nil && lo.Contains(db.Entries, e)
	}

	for _, e := range res.Entries {
		if isDatabase(e) {
			if e.Name != "" {
				res.Named++
			}
			continue
		}

		if info, ok := id.lookupName(e.ID, db, table); ok {
			e.Name = info.Name
			e.Description = info.Description
			if info.Name != "" {
				res.Named++
			}
		}

		id.classify(a, e, game, depth, res)
	}

	id.logger.Debug("identified archive",
		"archive", a.Name(),
		"depth", depth,
		"game", res.Game,
		"database", res.Database,
		"identified", res.Identified,
		"total", res.Total,
		"named", res.Named,
	)
	return res, nil
}

func (id *Identifier) lookupName(entryID uint32, db *NamesDatabase, table *names.Table) (names.NameInfo, bool) {
	if db != nil {
		if info, ok := db.Table.Lookup(entryID); ok {
			return info, true
		}
	}
	if table != nil {
		return table.Lookup(entryID)
	}
	return names.NameInfo{}, false
}

// detectGame picks the game whose name table identifies the largest share
// of entries, nested archives included. Games that cannot read the header
// variant, or that hash names differently from an embedded database, are
// not considered. Ties go to the game declared first.
func (id *Identifier) detectGame(a *archive.Archive, db *NamesDatabase) (detection, error) {
	if id.forced != nil {
		t, err := id.Table(id.forced)
		if err != nil {
			return detection{}, err
		}
		identified, total := a.Identify(t, true)
		return detection{game: id.forced, table: t, identified: identified, total: total}, nil
	}

	candidates := lo.Filter(id.opts.Games, func(g *names.GameDefinition, _ int) bool {
		if a.IsNewFormat() && !g.SupportsNewFormat {
			return false
		}
		if db != nil && db.Method != nil && !strings.EqualFold(g.HashAlgorithm, db.Method.Name()) {
			return false
		}
		return true
	})
	if len(candidates) == 0 {
		return detection{}, nil
	}

	tables, err := id.tablesFor(candidates)
	if err != nil {
		return detection{}, err
	}

	var best detection
	bestRatio := 0.0
	for i, t := range tables {
		identified, total := a.Identify(t, true)
		if total == 0 {
			continue
		}
		ratio := float64(identified) / float64(total)
		id.logger.Debug("game candidate",
			"archive", a.Name(),
			"game", candidates[i].Name,
			"identified", identified,
			"total", total,
		)
		if ratio > bestRatio {
			bestRatio = ratio
			best = detection{game: candidates[i], table: t, identified: identified, total: total}
		}
	}
	return best, nil
}

type detection struct {
	game              *names.GameDefinition
	table             *names.Table
	identified, total int
}

func hexID(id uint32) string {
	return fmt.Sprintf("%08X", id)
}

// classify assigns a content type to e. Sniffers run in a fixed order:
// codec signatures, INI, string table, text, tile grid, and finally the
// nested archive probe.
func (id *Identifier) classify(a *archive.Archive, e *mix.Entry, game *names.GameDefinition, depth int, res *Result) {
	if e.Length == 0 {
		e.ContentType = mixtypes.ContentUnknown
		return
	}

	ref := archive.At(e.ID, e.Offset)
	if int64(e.Length) <= id.opts.MaxSniffSize {
		data, err := a.ReadEntryData(e)
		if err != nil {
			id.logger.Debug("failed to read entry", "archive", a.Name(), "id", hexID(e.ID), "error", err)
			return
		}
		// an archive header can also read as a string table
		if m, ok := id.sniff(data); ok && !(m.Type == mixtypes.ContentStringTable && a.ProbeEntry(ref)) {
			id.apply(e, m)
			return
		}
	}

	if !a.ProbeEntry(ref) {
		e.ContentType = mixtypes.ContentUnknown
		return
	}

	e.ContentType = mixtypes.ContentMix
	if e.Description == "" {
		e.Description = "MIX archive"
	}
	if depth+1 > id.opts.MaxDepth || (game != nil && !game.SupportsNesting) {
		return
	}

	child, err := a.OpenArchive(ref)
	if err != nil {
		id.logger.Debug("failed to open nested archive", "archive", a.Name(), "id", hexID(e.ID), "error", err)
		return
	}
	cr, err := id.identify(child, depth+1)
	if err != nil {
		id.logger.Debug("failed to identify nested archive", "archive", child.Name(), "error", err)
		return
	}

	res.Children[EntryKey{ID: e.ID, DuplicateIndex: e.DuplicateIndex}] = cr
	e.AnalysisInfo = fmt.Sprintf("%d entries, %d named", len(cr.Entries), cr.Named)
	if cr.Game != "" {
		e.AnalysisInfo += ", " + cr.Game
	}
}

func (id *Identifier) sniff(data []byte) (Match, bool) {
	for _, c := range id.opts.Codecs {
		if m, ok := c.Sniff(data); ok {
			return m, true
		}
	}

	text, encoding, isText := decodeText(data)
	if isText {
		if m, ok := sniffINI(text); ok {
			return m, true
		}
	}
	if m, ok := sniffStringTable(data); ok {
		return m, true
	}
	if isText {
		return sniffText(text, encoding), true
	}
	if m, ok := sniffTileGrid(data, id.opts.MaxTemplateID); ok {
		return m, true
	}
	return Match{}, false
}

func (id *Identifier) apply(e *mix.Entry, m Match) {
	e.ContentType = m.Type
	e.AnalysisInfo = m.Description
	if e.Description == "" {
		e.Description = m.Description
	}
}
