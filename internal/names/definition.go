// Package names generates candidate filenames for a game and hashes them
// into id-to-name tables.
package names

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/samber/lo"
)

//go:embed games/*.toml
var builtinGames embed.FS

// ErrInvalidDefinition means a game definition could not be loaded.
var ErrInvalidDefinition = errors.New("invalid game definition")

// FileLine is one line of a game's file list: either a plain filename or
// a base name expanded through the patterns of a file type.
type FileLine struct {
	Name string
	Type string // empty for plain filenames
}

// GameDefinition is the immutable description of one game's naming scheme.
type GameDefinition struct {
	Name              string
	Key               string // file stem of the definition, e.g. "red_alert"
	HashAlgorithm     string
	SupportsNewFormat bool
	SupportsNesting   bool

	Theaters    [][]string
	ModTheaters [][]string

	FileList        []FileLine
	Descriptions    map[string]string // lower-cased name -> description
	TypeDefinitions map[string][]PatternEntry
}

// Description returns the description registered for name, if any.
func (g *GameDefinition) Description(name string) string {
	return g.Descriptions[strings.ToLower(name)]
}

type rawPattern struct {
	Pattern     string `toml:"pattern"`
	Description string `toml:"description"`
}

type rawDefinition struct {
	Name         string                  `toml:"name"`
	Hash         string                  `toml:"hash"`
	NewFormat    bool                    `toml:"new_format"`
	Nesting      bool                    `toml:"nesting"`
	Theaters     [][]string              `toml:"theaters"`
	ModTheaters  [][]string              `toml:"mod_theaters"`
	Files        []string                `toml:"files"`
	Descriptions map[string]string       `toml:"descriptions"`
	Types        map[string][]rawPattern `toml:"types"`
}

// ParseDefinition decodes one TOML game definition. Recoverable problems,
// such as duplicate enumeration alternatives or file lines naming an
// unknown type, are returned as warnings.
func ParseDefinition(key string, data []byte) (*GameDefinition, []string, error) {
	var raw rawDefinition
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, nil, fmt.Errorf("%w %s: %w", ErrInvalidDefinition, key, err)
	}

	if raw.Name == "" {
		return nil, nil, fmt.Errorf("%w %s: missing name", ErrInvalidDefinition, key)
	}
	if raw.Hash == "" {
		return nil, nil, fmt.Errorf("%w %s: missing hash", ErrInvalidDefinition, key)
	}

	def := &GameDefinition{
		Name:              raw.Name,
		Key:               key,
		HashAlgorithm:     raw.Hash,
		SupportsNewFormat: raw.NewFormat,
		SupportsNesting:   raw.Nesting,
		Theaters:          raw.Theaters,
		ModTheaters:       raw.ModTheaters,
		Descriptions:      lo.MapKeys(raw.Descriptions, func(_ string, k string) string { return strings.ToLower(k) }),
		TypeDefinitions:   make(map[string][]PatternEntry, len(raw.Types)),
	}

	var warnings []string
	columns := lo.Max(lo.Map(slices.Concat(raw.Theaters, raw.ModTheaters), func(row []string, _ int) int {
		return len(row)
	}))

	for typ, patterns := range raw.Types {
		typ = strings.ToLower(typ)
		for _, rp := range patterns {
			p, warn, err := ParsePattern(rp.Pattern)
			if err != nil {
				return nil, nil, fmt.Errorf("%w %s: type %s: %w", ErrInvalidDefinition, key, typ, err)
			}
			if p.maxSlot > columns {
				return nil, nil, fmt.Errorf("%w %s: pattern %q uses slot {%d} but theater rows have %d columns",
					ErrInvalidDefinition, key, rp.Pattern, p.maxSlot, columns)
			}
			p.Description = rp.Description
			warnings = append(warnings, warn...)
			def.TypeDefinitions[typ] = append(def.TypeDefinitions[typ], p)
		}
	}

	for _, line := range raw.Files {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, typ, _ := strings.Cut(line, ",")
		fl := FileLine{Name: strings.TrimSpace(name), Type: strings.ToLower(strings.TrimSpace(typ))}
		if fl.Type != "" {
			if _, ok := def.TypeDefinitions[fl.Type]; !ok {
				warnings = append(warnings, fmt.Sprintf("%s: unknown type %q for %q", key, fl.Type, fl.Name))
				continue
			}
		}
		_, warn, err := ParsePattern(fl.Name)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: skipping %q: %v", key, fl.Name, err))
			continue
		}
		warnings = append(warnings, warn...)
		def.FileList = append(def.FileList, fl)
	}

	return def, warnings, nil
}

// LoadDefinitions reads every *.toml file at the root of fsys in file-name
// order, which is also the declaration order used to break detection ties.
func LoadDefinitions(fsys fs.FS, logger *slog.Logger) ([]*GameDefinition, error) {
	if logger == nil {
		logger = slog.Default()
	}

	matches, err := fs.Glob(fsys, "*.toml")
	if err != nil {
		return nil, fmt.Errorf("failed to list game definitions: %w", err)
	}

	defs := make([]*GameDefinition, 0, len(matches))
	for _, name := range matches {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read game definition %s: %w", name, err)
		}

		def, warnings, err := ParseDefinition(definitionKey(name), data)
		if err != nil {
			return nil, err
		}
		for _, w := range warnings {
			logger.Warn("game definition", "file", name, "warning", w)
		}

		logger.Debug("loaded game definition",
			"game", def.Name,
			"hash", def.HashAlgorithm,
			"files", len(def.FileList),
			"types", len(def.TypeDefinitions),
		)
		defs = append(defs, def)
	}

	return defs, nil
}

// LoadDefinitionsDir loads the definitions in dir.
func LoadDefinitionsDir(dir string, logger *slog.Logger) ([]*GameDefinition, error) {
	return LoadDefinitions(os.DirFS(dir), logger)
}

// BuiltinDefinitions returns the definitions compiled into the binary.
func BuiltinDefinitions(logger *slog.Logger) ([]*GameDefinition, error) {
	sub, err := fs.Sub(builtinGames, "games")
	if err != nil {
		return nil, err
	}
	return LoadDefinitions(sub, logger)
}

// FindDefinition returns the definition whose key or name matches name,
// case-insensitively.
func FindDefinition(defs []*GameDefinition, name string) (*GameDefinition, bool) {
	return lo.Find(defs, func(d *GameDefinition) bool {
		return strings.EqualFold(d.Key, name) || strings.EqualFold(d.Name, name)
	})
}

// definitionKey strips the extension and an optional "NN_" ordering prefix.
func definitionKey(file string) string {
	stem := strings.TrimSuffix(path.Base(file), path.Ext(file))
	if prefix, rest, ok := strings.Cut(stem, "_"); ok && isDigits(prefix) {
		return rest
	}
	return stem
}
