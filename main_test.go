package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ossyrian/mixparse/internal/config"
	"github.com/ossyrian/mixparse/internal/hashing"
	"github.com/ossyrian/mixparse/internal/mix"
	"github.com/ossyrian/mixparse/internal/testutil"
	mixtypes "github.com/ossyrian/mixparse/internal/types"
)

var classic = hashing.Classic{}

// writeArchive writes a Red Alert style main.mix holding conquer.mix with
// two named entries and returns its path.
func writeArchive(t *testing.T) string {
	t.Helper()
	inner := testutil.Legacy(
		testutil.Named(classic, "1tnk.shp", []byte("light tank frames")),
		testutil.Named(classic, "rules.ini", []byte("[General]\nName=Rules\n")),
	)
	raw := testutil.Legacy(testutil.Named(classic, "conquer.mix", inner))

	p := filepath.Join(t.TempDir(), "main.mix")
	require.NoError(t, os.WriteFile(p, raw, 0o644))
	return p
}

func openTestSession(t *testing.T, cfg *config.Config, arg string) *session {
	t.Helper()
	s, err := newSession(cfg, arg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSafeRelPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "rules.ini", want: "rules.ini"},
		{in: "conquer.mix/rules.ini", want: filepath.Join("conquer.mix", "rules.ini")},
		{in: "../../etc/passwd", want: filepath.Join("etc", "passwd")},
		{in: `maps\..\..\a.map`, want: "a.map"},
		{in: "/abs/x", want: filepath.Join("abs", "x")},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, safeRelPath(tt.in))
		})
	}
}

func TestNewEntryMatcher(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		exclude []string
		path    string
		want    bool
	}{
		{name: "no rules", path: "rules.ini", want: true},
		{name: "included", include: []string{"*.shp"}, path: "1tnk.shp", want: true},
		{name: "not included", include: []string{"*.shp"}, path: "rules.ini", want: false},
		{name: "case", include: []string{"*.SHP"}, path: "1tnk.shp", want: true},
		{name: "excluded", exclude: []string{"*.ini"}, path: "rules.ini", want: false},
		{name: "exclude wins", include: []string{"*.ini"}, exclude: []string{"rules.ini"}, path: "rules.ini", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := newEntryMatcher(tt.include, tt.exclude)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Included(tt.path, false))
		})
	}
}

func TestMatchGlob(t *testing.T) {
	assert.True(t, matchGlob("", "anything"))
	assert.True(t, matchGlob("**/*.ini", "conquer.mix/RULES.INI"))
	assert.False(t, matchGlob("*.ini", "conquer.mix/rules.ini"))
	assert.False(t, matchGlob("[a-", "a"))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "rules.ini", displayName(&mix.Entry{ID: 1, Name: "rules.ini"}))
	assert.Equal(t, "*0000ABCD*", displayName(&mix.Entry{ID: 0xABCD}))
	assert.Equal(t, "*0000ABCD*~2", displayName(&mix.Entry{ID: 0xABCD, DuplicateIndex: 2}))
}

func TestCollectRows(t *testing.T) {
	p := writeArchive(t)

	s := openTestSession(t, &config.Config{}, p)
	rows, err := collectRows(s)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "conquer.mix", rows[0].Path)
	assert.Equal(t, mixtypes.ContentMix, rows[0].Type)

	deep := openTestSession(t, &config.Config{Deep: true}, p)
	rows, err = collectRows(deep)
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"conquer.mix", "conquer.mix/1tnk.shp", "conquer.mix/rules.ini"},
		lo.Map(rows, func(r row, _ int) string { return r.Path }),
	)

	glob := openTestSession(t, &config.Config{Deep: true, Glob: "**/*.ini"}, p)
	rows, err = collectRows(glob)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Game rules", rows[0].Description)
}

func TestCollectRows_NestedPath(t *testing.T) {
	p := writeArchive(t)

	s := openTestSession(t, &config.Config{}, p+";conquer.mix")
	assert.Equal(t, "Red Alert", s.result.Game)

	rows, err := collectRows(s)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestWriteRows_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeRows(&buf, config.OutputJSON, nil))
	assert.JSONEq(t, "[]", buf.String())

	buf.Reset()
	rows := []row{{Path: "rules.ini", ID: "0000ABCD", Length: 3, Type: mixtypes.ContentIni}}
	require.NoError(t, writeRows(&buf, config.OutputJSON, rows))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "Ini", got[0]["type"])
	assert.Equal(t, "rules.ini", got[0]["path"])
}

func TestWriteRows_Table(t *testing.T) {
	var buf bytes.Buffer
	rows := []row{{Path: "rules.ini", ID: "0000ABCD", Length: 3, Type: mixtypes.ContentIni, Description: "Game rules"}}
	require.NoError(t, writeRows(&buf, config.OutputTable, rows))
	assert.Contains(t, buf.String(), "PATH")
	assert.Contains(t, buf.String(), "Game rules")
}

func TestWriteEntries(t *testing.T) {
	p := writeArchive(t)
	dir := t.TempDir()

	s := openTestSession(t, &config.Config{Deep: true, ExtractDir: dir, Exclude: []string{"*.shp"}}, p)
	written, skipped, err := writeEntries(s)
	require.NoError(t, err)
	assert.Equal(t, 1, written)
	assert.Equal(t, 1, skipped)

	data, err := os.ReadFile(filepath.Join(dir, "conquer.mix", "rules.ini"))
	require.NoError(t, err)
	assert.Equal(t, "[General]\nName=Rules\n", string(data))
	assert.NoFileExists(t, filepath.Join(dir, "conquer.mix", "1tnk.shp"))
}

func TestWriteEntries_Selected(t *testing.T) {
	p := writeArchive(t)
	dir := t.TempDir()

	s := openTestSession(t, &config.Config{Deep: true, ExtractDir: dir}, p+";conquer.mix?rules.ini")
	written, _, err := writeEntries(s)
	require.NoError(t, err)
	assert.Equal(t, 1, written)
	assert.FileExists(t, filepath.Join(dir, "rules.ini"))
	assert.NoFileExists(t, filepath.Join(dir, "1tnk.shp"))
}

func TestWriteEntries_DryRun(t *testing.T) {
	p := writeArchive(t)
	dir := t.TempDir()

	s := openTestSession(t, &config.Config{ExtractDir: dir, DryRun: true}, p)
	written, _, err := writeEntries(s)
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestNewSummary(t *testing.T) {
	p := writeArchive(t)
	s := openTestSession(t, &config.Config{}, p)

	sm := newSummary(s)
	assert.False(t, sm.NewFormat)
	assert.Equal(t, uint16(1), sm.FileCount)
	assert.Equal(t, "Red Alert", sm.Game)
	assert.Equal(t, 1, sm.Nested)
	assert.Equal(t, map[string]int{"Mix": 1}, sm.Types)

	var buf bytes.Buffer
	require.NoError(t, writeSummary(&buf, config.OutputTable, sm))
	assert.Contains(t, buf.String(), "Red Alert")
	assert.Contains(t, buf.String(), "3/3")
}

func TestNewSession_CRC32Path(t *testing.T) {
	crc := hashing.CRC32{}
	inner := testutil.Legacy(testutil.Named(crc, "rules.ini", []byte("[General]\nName=Rules\n")))
	raw := testutil.Legacy(testutil.Named(crc, "cache.mix", inner))
	p := filepath.Join(t.TempDir(), "tibsun.mix")
	require.NoError(t, os.WriteFile(p, raw, 0o644))

	s := openTestSession(t, &config.Config{}, p+";cache.mix?rules.ini")
	assert.Equal(t, hashing.NameCRC32, s.chain.Leaf.HashMethod().Name())

	_, err := newSession(&config.Config{HashMethod: hashing.NameClassic}, p+";cache.mix")
	require.ErrorIs(t, err, mix.ErrEntryNotFound)
}

func TestNewSession_Errors(t *testing.T) {
	p := writeArchive(t)

	_, err := newSession(&config.Config{}, p+";missing.mix")
	require.ErrorIs(t, err, mix.ErrEntryNotFound)

	_, err = newSession(&config.Config{HashMethod: "md5"}, p)
	require.ErrorIs(t, err, hashing.ErrUnknownHashMethod)
}

func TestOutputFlag(t *testing.T) {
	for _, cmd := range []*cobra.Command{listCmd, infoCmd} {
		require.NotNil(t, cmd.InheritedFlags().Lookup("output"), cmd.Name())
	}

	flag := rootCmd.PersistentFlags().Lookup("output")
	t.Cleanup(func() {
		flag.Value.Set("table")
		flag.Changed = false
	})
	require.NoError(t, rootCmd.PersistentFlags().Set("output", "json"))
	assert.Equal(t, "json", viper.GetString("output"))

	var buf bytes.Buffer
	cfg := &config.Config{Output: viper.GetString("output")}
	require.NoError(t, writeSummary(&buf, cfg.OutputFormat(), summary{Game: "Red Alert"}))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "Red Alert", got["game"])
}
