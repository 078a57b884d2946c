package mixtypes

// ContentType is the structural classification assigned to an archive entry
// by content identification.
type ContentType int

const (
	ContentUnknown ContentType = iota
	ContentMix
	ContentNamesDatabase
	ContentPalette
	ContentSprite
	ContentImage
	// ContentTileset and ContentFont have no built-in recognizer. They are
	// assigned by codecs passed to identify.WithCodecs.
	ContentTileset
	ContentFont
	ContentIni
	ContentMapIni
	ContentStringTable
	ContentText
	ContentMapTiles
)

func (t ContentType) String() string {
	switch t {
	case ContentUnknown:
		return "Unknown"
	case ContentMix:
		return "Mix"
	case ContentNamesDatabase:
		return "NamesDatabase"
	case ContentPalette:
		return "Palette"
	case ContentSprite:
		return "Sprite"
	case ContentImage:
		return "Image"
	case ContentTileset:
		return "Tileset"
	case ContentFont:
		return "Font"
	case ContentIni:
		return "Ini"
	case ContentMapIni:
		return "MapIni"
	case ContentStringTable:
		return "StringTable"
	case ContentText:
		return "Text"
	case ContentMapTiles:
		return "MapTiles"
	default:
		return "Unknown"
	}
}

// MarshalText lets content types render by name in JSON listings.
func (t ContentType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// DatabaseKind identifies which embedded names database supplied entry names.
type DatabaseKind int

const (
	DatabaseNone DatabaseKind = iota
	DatabaseXCC
	DatabaseRAMIX
)

func (k DatabaseKind) String() string {
	switch k {
	case DatabaseNone:
		return "None"
	case DatabaseXCC:
		return "XCC"
	case DatabaseRAMIX:
		return "RAMIX"
	default:
		return "Unknown"
	}
}

// MarshalText lets database kinds render by name in JSON listings.
func (k DatabaseKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
