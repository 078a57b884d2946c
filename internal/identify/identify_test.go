package identify_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ossyrian/mixparse/internal/archive"
	"github.com/ossyrian/mixparse/internal/hashing"
	"github.com/ossyrian/mixparse/internal/identify"
	"github.com/ossyrian/mixparse/internal/mix"
	"github.com/ossyrian/mixparse/internal/testutil"
	mixtypes "github.com/ossyrian/mixparse/internal/types"
)

var (
	quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	quiet       = archive.WithLogger(quietLogger)
	classic     = hashing.Classic{}
	crc         = hashing.CRC32{}
)

func newIdentifier(t *testing.T, opts ...identify.Option) *identify.Identifier {
	t.Helper()
	id, err := identify.New(append([]identify.Option{identify.WithLogger(quietLogger)}, opts...)...)
	require.NoError(t, err)
	return id
}

func entryNamed(t *testing.T, res *identify.Result, name string) *mix.Entry {
	t.Helper()
	for _, e := range res.Entries {
		if e.Name == name {
			return e
		}
	}
	t.Fatalf("no entry named %q", name)
	return nil
}

func TestIdentify_DetectsGame(t *testing.T) {
	raw := testutil.Legacy(
		testutil.Named(classic, "1tnk.shp", []byte("light tank frames")),
		testutil.Named(classic, "2tnk.shp", []byte("medium tank frames")),
		testutil.Named(classic, "rules.ini", []byte("[General]\nName=Rules\n")),
		testutil.Named(classic, "tsla.shp", []byte("tesla frames")),
	)
	a, err := archive.OpenBytes(raw, quiet)
	require.NoError(t, err)
	defer a.Close()

	res, err := newIdentifier(t).Identify(a)
	require.NoError(t, err)

	assert.Equal(t, "Red Alert", res.Game)
	assert.Equal(t, hashing.NameClassic, res.HashMethod)
	assert.Equal(t, mixtypes.DatabaseNone, res.Database)
	assert.Equal(t, 4, res.Identified)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 4, res.Named)
	assert.InDelta(t, 1.0, res.Ratio(), 0.0001)

	tank := entryNamed(t, res, "1tnk.shp")
	assert.Equal(t, "Light Tank", tank.Description)
	assert.Equal(t, mixtypes.ContentText, tank.ContentType)

	rules := entryNamed(t, res, "rules.ini")
	assert.Equal(t, "Game rules", rules.Description)
	assert.Equal(t, mixtypes.ContentIni, rules.ContentType)
	assert.Equal(t, "INI, 1 sections", rules.AnalysisInfo)
}

func TestIdentify_FormatFilter(t *testing.T) {
	files := []testutil.File{
		testutil.Named(classic, "scg01ea.bin", []byte("tiles")),
		{ID: 0x12345678, Data: []byte("mystery")},
	}

	legacy, err := archive.OpenBytes(testutil.Legacy(files...), quiet)
	require.NoError(t, err)
	defer legacy.Close()

	res, err := newIdentifier(t).Identify(legacy)
	require.NoError(t, err)
	assert.Equal(t, "Tiberian Dawn", res.Game)
	assert.Equal(t, 1, res.Named)

	modern, err := archive.OpenBytes(testutil.NewFormat(0, files...), quiet)
	require.NoError(t, err)
	defer modern.Close()

	res, err = newIdentifier(t).Identify(modern)
	require.NoError(t, err)
	assert.Empty(t, res.Game, "Tiberian Dawn cannot read new-format headers")
	assert.Equal(t, 0, res.Named)
	for _, e := range res.Entries {
		assert.Empty(t, e.Name)
	}
}

func TestIdentify_XCCDatabase(t *testing.T) {
	raw := testutil.NewFormat(0,
		testutil.Named(crc, "local mix database.dat", testutil.XCCDatabase(2, "custom.dat", "rules.ini")),
		testutil.Named(crc, "custom.dat", []byte("custom payload")),
		testutil.Named(crc, "rules.ini", []byte("[General]\nName=Rules\n")),
	)
	a, err := archive.OpenBytes(raw, quiet, archive.WithHashMethod(crc))
	require.NoError(t, err)
	defer a.Close()

	res, err := newIdentifier(t).Identify(a)
	require.NoError(t, err)

	assert.Equal(t, mixtypes.DatabaseXCC, res.Database)
	assert.Equal(t, "Tiberian Sun", res.Game, "ties go to the game declared first")
	assert.Equal(t, hashing.NameCRC32, res.HashMethod)
	assert.Equal(t, 3, res.Named)

	db := entryNamed(t, res, "local mix database.dat")
	assert.Equal(t, mixtypes.ContentNamesDatabase, db.ContentType)
	assert.Equal(t, "2 names, CRC32 hash", db.AnalysisInfo)

	custom := entryNamed(t, res, "custom.dat")
	assert.Equal(t, mixtypes.ContentText, custom.ContentType)
}

func TestIdentify_RAMIXDatabase(t *testing.T) {
	mapID := classic.Hash("mymap.ini")
	raw := testutil.Legacy(
		testutil.File{ID: identify.RAMIXDatabaseID, Data: testutil.RAMIXDatabase(
			testutil.NameRecord{ID: mapID, Name: "mymap.ini", Description: "My map"},
		)},
		testutil.File{ID: mapID, Data: []byte("[Basic]\nName=Hills\n[Map]\nTheater=SNOW\n")},
	)
	a, err := archive.OpenBytes(raw, quiet)
	require.NoError(t, err)
	defer a.Close()

	res, err := newIdentifier(t).Identify(a)
	require.NoError(t, err)

	assert.Equal(t, mixtypes.DatabaseRAMIX, res.Database)
	assert.Equal(t, "Red Alert", res.Game)

	m := entryNamed(t, res, "mymap.ini")
	assert.Equal(t, "My map", m.Description)
	assert.Equal(t, mixtypes.ContentMapIni, m.ContentType)
	assert.Equal(t, "Map Hills (SNOW)", m.AnalysisInfo)

	db := a.Lookup(identify.RAMIXDatabaseID)[0]
	assert.Equal(t, mixtypes.ContentNamesDatabase, db.ContentType)
	assert.Equal(t, "1 records", db.AnalysisInfo)
}

func TestIdentify_Nested(t *testing.T) {
	inner := testutil.Legacy(
		testutil.Named(classic, "1tnk.shp", []byte("light tank frames")),
		testutil.Named(classic, "rules.ini", []byte("[General]\nName=Rules\n")),
	)
	raw := testutil.Legacy(testutil.Named(classic, "conquer.mix", inner))
	a, err := archive.OpenBytes(raw, quiet)
	require.NoError(t, err)
	defer a.Close()

	res, err := newIdentifier(t).Identify(a)
	require.NoError(t, err)

	assert.Equal(t, "Red Alert", res.Game)
	assert.Equal(t, 3, res.Identified)
	assert.Equal(t, 3, res.Total)

	conquer := entryNamed(t, res, "conquer.mix")
	assert.Equal(t, mixtypes.ContentMix, conquer.ContentType)
	assert.Equal(t, "Game data", conquer.Description)
	assert.Equal(t, "2 entries, 2 named, Red Alert", conquer.AnalysisInfo)

	child, ok := res.Child(conquer)
	require.True(t, ok)
	assert.Equal(t, "Red Alert", child.Game)
	assert.Equal(t, mixtypes.ContentIni, entryNamed(t, child, "rules.ini").ContentType)
}

func TestIdentify_NestedEndingInNUL(t *testing.T) {
	inner := testutil.Legacy(
		testutil.Named(classic, "1tnk.shp", []byte("light tank frames")),
		testutil.Named(classic, "rules.ini", []byte("[General]\nName=Rules\n\x00")),
	)
	raw := testutil.Legacy(testutil.Named(classic, "conquer.mix", inner))
	a, err := archive.OpenBytes(raw, quiet)
	require.NoError(t, err)
	defer a.Close()

	res, err := newIdentifier(t).Identify(a)
	require.NoError(t, err)

	conquer := entryNamed(t, res, "conquer.mix")
	assert.Equal(t, mixtypes.ContentMix, conquer.ContentType)
	assert.Equal(t, "2 entries, 2 named, Red Alert", conquer.AnalysisInfo)

	child, ok := res.Child(conquer)
	require.True(t, ok, "nested archive is identified")
	assert.Len(t, child.Entries, 2)
	assert.Equal(t, 3, res.Total)
}

func TestIdentify_MaxDepth(t *testing.T) {
	inner := testutil.Legacy(testutil.Named(classic, "rules.ini", []byte("[General]\nName=Rules\n")))
	raw := testutil.Legacy(testutil.Named(classic, "conquer.mix", inner))
	a, err := archive.OpenBytes(raw, quiet)
	require.NoError(t, err)
	defer a.Close()

	res, err := newIdentifier(t, identify.WithMaxDepth(0)).Identify(a)
	require.NoError(t, err)

	conquer := entryNamed(t, res, "conquer.mix")
	assert.Equal(t, mixtypes.ContentMix, conquer.ContentType)
	assert.Empty(t, res.Children)
}

func TestIdentify_ForcedGame(t *testing.T) {
	raw := testutil.Legacy(testutil.Named(classic, "rules.ini", []byte("[General]\nName=Rules\n")))
	a, err := archive.OpenBytes(raw, quiet)
	require.NoError(t, err)
	defer a.Close()

	res, err := newIdentifier(t, identify.WithGame("tiberian_dawn")).Identify(a)
	require.NoError(t, err)
	assert.Equal(t, "Tiberian Dawn", res.Game)
	assert.Equal(t, 0, res.Identified)
	assert.Equal(t, 0, res.Named)

	_, err = identify.New(identify.WithLogger(quietLogger), identify.WithGame("dune 2"))
	require.ErrorIs(t, err, identify.ErrUnknownGame)
}

func TestIdentify_Closed(t *testing.T) {
	a, err := archive.OpenBytes(testutil.Legacy(testutil.File{ID: 1, Data: []byte("x")}), quiet)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	_, err = newIdentifier(t).Identify(a)
	require.ErrorIs(t, err, mix.ErrArchiveClosed)
}

func TestIdentifier_Prepare(t *testing.T) {
	id := newIdentifier(t)
	require.NoError(t, id.Prepare())

	for _, def := range id.Games() {
		table, err := id.Table(def)
		require.NoError(t, err)
		assert.Positive(t, table.Len(), def.Name)

		again, err := id.Table(def)
		require.NoError(t, err)
		assert.Same(t, table, again)
	}
}
