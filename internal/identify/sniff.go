package identify

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"gopkg.in/ini.v1"

	mixtypes "github.com/ossyrian/mixparse/internal/types"
)

// Match is the outcome of a successful sniff.
type Match struct {
	Type        mixtypes.ContentType
	Description string
}

// Codec recognizes one binary format from an entry's payload.
type Codec interface {
	Name() string
	Sniff(data []byte) (Match, bool)
}

// CodecFunc adapts a function to Codec.
type CodecFunc struct {
	Label string
	Fn    func(data []byte) (Match, bool)
}

func (c CodecFunc) Name() string                    { return c.Label }
func (c CodecFunc) Sniff(data []byte) (Match, bool) { return c.Fn(data) }

// DefaultCodecs returns the built-in format recognizers.
func DefaultCodecs() []Codec {
	return []Codec{
		CodecFunc{Label: "palette", Fn: sniffPalette},
		CodecFunc{Label: "shp-ts", Fn: sniffSHPTS},
		CodecFunc{Label: "cps", Fn: sniffCPS},
	}
}

const (
	paletteSize = 768

	shpHeaderSize      = 8
	shpFrameHeaderSize = 24

	cpsHeaderSize  = 10
	cpsImageSize   = 320 * 200
	cpsPaletteSize = 768

	// TileGridSize is the size of a raw 64x64 map of two-byte cells.
	TileGridSize = 64 * 64 * 2
	// DefaultMaxTemplateID is the highest terrain template id of the
	// classic games.
	DefaultMaxTemplateID = 215
	clearTemplate        = 0xFF
)

// sniffPalette matches 256 6-bit VGA colors.
func sniffPalette(data []byte) (Match, bool) {
	if len(data) != paletteSize {
		return Match{}, false
	}
	for _, b := range data {
		if b >= 64 {
			return Match{}, false
		}
	}
	return Match{Type: mixtypes.ContentPalette, Description: "6-bit palette"}, true
}

// sniffSHPTS matches the frame table of a Tiberian Sun sprite.
func sniffSHPTS(data []byte) (Match, bool) {
	if len(data) < shpHeaderSize {
		return Match{}, false
	}
	le := binary.LittleEndian
	if le.Uint16(data) != 0 {
		return Match{}, false
	}
	width, height, frames := le.Uint16(data[2:]), le.Uint16(data[4:]), le.Uint16(data[6:])
	if width == 0 || height == 0 || frames == 0 {
		return Match{}, false
	}

	tableEnd := shpHeaderSize + int(frames)*shpFrameHeaderSize
	if tableEnd > len(data) {
		return Match{}, false
	}
	for i := range int(frames) {
		f := data[shpHeaderSize+i*shpFrameHeaderSize:]
		x, y, w, h := le.Uint16(f), le.Uint16(f[2:]), le.Uint16(f[4:]), le.Uint16(f[6:])
		if uint32(x)+uint32(w) > uint32(width) || uint32(y)+uint32(h) > uint32(height) {
			return Match{}, false
		}
		off := le.Uint32(f[20:])
		if off != 0 && (off < uint32(tableEnd) || off >= uint32(len(data))) {
			return Match{}, false
		}
	}

	return Match{
		Type:        mixtypes.ContentSprite,
		Description: fmt.Sprintf("TS sprite %dx%d, %d frames", width, height, frames),
	}, true
}

// sniffCPS matches a 320x200 CPS image header.
func sniffCPS(data []byte) (Match, bool) {
	if len(data) < cpsHeaderSize {
		return Match{}, false
	}
	le := binary.LittleEndian
	size := le.Uint16(data)
	compression := le.Uint16(data[2:])
	image := le.Uint32(data[4:])
	palette := le.Uint16(data[8:])

	if int(size) != len(data)-2 || (compression != 0 && compression != 4) ||
		image != cpsImageSize || (palette != 0 && palette != cpsPaletteSize) {
		return Match{}, false
	}
	if cpsHeaderSize+int(palette) > len(data) {
		return Match{}, false
	}

	desc := "CPS image 320x200"
	if palette != 0 {
		desc += " with palette"
	}
	return Match{Type: mixtypes.ContentImage, Description: desc}, true
}

// decodeText returns data as UTF-8 when it reads as text: valid UTF-8 or
// Windows-1252, with no control bytes other than tab, CR and LF. A trailing
// DOS end-of-file marker is ignored.
func decodeText(data []byte) (text string, encoding string, ok bool) {
	data = bytes.TrimSuffix(data, []byte{0x1A})
	if len(data) == 0 {
		return "", "", false
	}
	if !printable(data) {
		return "", "", false
	}
	if utf8.Valid(data) {
		return string(data), "UTF-8", true
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", "", false
	}
	return string(decoded), "Windows-1252", true
}

// sniffINI matches text made of sections and key=value lines. Maps are INI
// files with a [Basic] section and a theater in [Map].
func sniffINI(text string) (Match, bool) {
	var lines, recognized, sections, keys int
	for line := range strings.Lines(text) {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == ';' || line[0] == '#' {
			continue
		}
		lines++
		switch {
		case line[0] == '[' && strings.HasSuffix(line, "]"):
			sections++
			recognized++
		case strings.Contains(line, "="):
			keys++
			recognized++
		}
	}
	if sections == 0 || keys == 0 || recognized*10 < lines*9 {
		return Match{}, false
	}

	f, err := ini.LoadSources(ini.LoadOptions{
		Insensitive:             true,
		SkipUnrecognizableLines: true,
		IgnoreInlineComment:     true,
		AllowBooleanKeys:        true,
	}, []byte(text))
	if err != nil {
		return Match{}, false
	}

	if basic, err := f.GetSection("basic"); err == nil {
		if m, err := f.GetSection("map"); err == nil && m.HasKey("theater") {
			name := basic.Key("name").String()
			theater := m.Key("theater").String()
			return Match{
				Type:        mixtypes.ContentMapIni,
				Description: strings.TrimSpace(fmt.Sprintf("Map %s (%s)", name, theater)),
			}, true
		}
	}

	n := 0
	for _, s := range f.SectionStrings() {
		if s != ini.DefaultSection && s != strings.ToLower(ini.DefaultSection) {
			n++
		}
	}
	if n == 0 {
		return Match{}, false
	}
	return Match{Type: mixtypes.ContentIni, Description: fmt.Sprintf("INI, %d sections", n)}, true
}

// sniffStringTable matches a table of little-endian 16-bit offsets to
// NUL-terminated strings. The first offset doubles as the table size, the
// strings follow back to back up to the end of data, and each string is
// printable text.
func sniffStringTable(data []byte) (Match, bool) {
	if len(data) < 3 {
		return Match{}, false
	}
	le := binary.LittleEndian
	first := int(le.Uint16(data))
	if first < 2 || first%2 != 0 || first >= len(data) {
		return Match{}, false
	}

	count := first / 2
	for i := range count {
		start := int(le.Uint16(data[i*2:]))
		end := len(data)
		if i+1 < count {
			end = int(le.Uint16(data[(i+1)*2:]))
		}
		if start < first || end <= start || end > len(data) || data[end-1] != 0 {
			return Match{}, false
		}
		if !printable(data[start : end-1]) {
			return Match{}, false
		}
	}

	return Match{
		Type:        mixtypes.ContentStringTable,
		Description: fmt.Sprintf("String table, %d strings", count),
	}, true
}

// printable reports whether b holds no control bytes other than tab, CR
// and LF.
func printable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 && c != '\t' && c != '\r' && c != '\n' || c == 0x7F {
			return false
		}
	}
	return true
}

// sniffText matches any text that was not recognized as something more
// specific.
func sniffText(text, encoding string) Match {
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return Match{
		Type:        mixtypes.ContentText,
		Description: fmt.Sprintf("Text, %d lines, %s", n, encoding),
	}
}

// sniffTileGrid matches a raw 64x64 map whose template bytes are all
// known templates or clear cells.
func sniffTileGrid(data []byte, maxTemplate byte) (Match, bool) {
	if len(data) != TileGridSize {
		return Match{}, false
	}
	for i := 0; i < len(data); i += 2 {
		if t := data[i]; t > maxTemplate && t != clearTemplate {
			return Match{}, false
		}
	}
	return Match{Type: mixtypes.ContentMapTiles, Description: "64x64 map tiles"}, true
}
