package mixtypes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentType_String(t *testing.T) {
	tests := []struct {
		in   ContentType
		want string
	}{
		{ContentUnknown, "Unknown"},
		{ContentMix, "Mix"},
		{ContentNamesDatabase, "NamesDatabase"},
		{ContentTileset, "Tileset"},
		{ContentFont, "Font"},
		{ContentMapIni, "MapIni"},
		{ContentMapTiles, "MapTiles"},
		{ContentType(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.String())
		})
	}
}

func TestDatabaseKind_String(t *testing.T) {
	assert.Equal(t, "None", DatabaseNone.String())
	assert.Equal(t, "XCC", DatabaseXCC.String())
	assert.Equal(t, "RAMIX", DatabaseRAMIX.String())
	assert.Equal(t, "Unknown", DatabaseKind(7).String())
}

func TestMarshalText(t *testing.T) {
	out, err := json.Marshal(struct {
		Type ContentType  `json:"type"`
		DB   DatabaseKind `json:"db"`
	}{ContentIni, DatabaseXCC})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Ini","db":"XCC"}`, string(out))
}
