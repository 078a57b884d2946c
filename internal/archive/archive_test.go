package archive_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ossyrian/mixparse/internal/archive"
	"github.com/ossyrian/mixparse/internal/hashing"
	"github.com/ossyrian/mixparse/internal/mix"
	"github.com/ossyrian/mixparse/internal/testutil"
)

var quiet = archive.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

type idSet map[uint32]bool

func (s idSet) Contains(id uint32) bool { return s[id] }

func TestArchive_ReadEntryDuplicates(t *testing.T) {
	raw := testutil.LegacyRecords([]testutil.Record{
		{ID: 0xAA, Offset: 0, Length: 10},
		{ID: 0xAA, Offset: 10, Length: 5},
	}, []byte("0123456789abcde"))

	a, err := archive.OpenBytes(raw, quiet)
	require.NoError(t, err)
	defer a.Close()

	list := a.Lookup(0xAA)
	require.Len(t, list, 2)
	assert.Equal(t, uint32(0), list[0].DuplicateIndex)
	assert.Equal(t, uint64(0), list[0].Offset)
	assert.Equal(t, uint32(1), list[1].DuplicateIndex)
	assert.Equal(t, uint64(10), list[1].Offset)

	got, err := a.ReadEntry(archive.ByID(0xAA))
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789"), got)

	got, err = a.ReadEntry(archive.At(0xAA, 10))
	require.NoError(t, err)
	assert.Equal(t, []byte("abcde"), got)

	got, err = a.ReadEntry(archive.At(0xAA, 3))
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789"), got, "unknown offset falls back to duplicate 0")

	assert.Equal(t, []uint32{0xAA}, a.ListIDs())
}

func TestArchive_ReadEntryZeroLength(t *testing.T) {
	raw := testutil.Legacy(
		testutil.File{ID: 1, Data: nil},
		testutil.File{ID: 2, Data: []byte("rest of the archive")},
	)

	a, err := archive.OpenBytes(raw, quiet)
	require.NoError(t, err)
	defer a.Close()

	got, err := a.ReadEntry(archive.ByID(1))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	view, err := a.OpenEntry(archive.ByID(1))
	require.NoError(t, err)
	assert.Equal(t, int64(0), view.Size())
}

func TestArchive_ReadNamed(t *testing.T) {
	crc := hashing.CRC32{}
	raw := testutil.NewFormat(0,
		testutil.Named(crc, "rules.ini", []byte("[General]\n")),
		testutil.Named(crc, "art.ini", []byte("[Movies]\n")),
	)

	a, err := archive.OpenBytes(raw, quiet, archive.WithHashMethod(crc))
	require.NoError(t, err)
	defer a.Close()

	got, err := a.ReadNamed("RULES.INI")
	require.NoError(t, err)
	assert.Equal(t, []byte("[General]\n"), got)

	_, err = a.ReadNamed("missing.ini")
	require.ErrorIs(t, err, mix.ErrEntryNotFound)
}

func TestArchive_Encrypted(t *testing.T) {
	kp := testutil.NewKeypair(t)
	raw := testutil.Encrypted(t, kp, mix.FlagChecksum,
		testutil.File{ID: 7, Data: []byte("secret")},
		testutil.File{ID: 8, Data: []byte("payload")},
	)

	a, err := archive.OpenBytes(raw, quiet, archive.WithCipher(kp.Cipher()))
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.IsNewFormat())
	assert.True(t, a.HasEncryption())
	assert.True(t, a.HasChecksum())

	got, err := a.ReadEntry(archive.ByID(8))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestArchive_Nested(t *testing.T) {
	inner := testutil.Legacy(
		testutil.File{ID: 0x10, Data: []byte("inner one")},
		testutil.File{ID: 0x20, Data: []byte("inner two")},
	)
	deepest := testutil.Legacy(testutil.File{ID: 0x99, Data: []byte("deep")})
	middle := testutil.Legacy(testutil.File{ID: 0x30, Data: deepest})
	outer := testutil.Legacy(
		testutil.File{ID: 0x01, Data: []byte("plain")},
		testutil.File{ID: 0x02, Data: inner},
		testutil.File{ID: 0x03, Data: middle},
	)

	root, err := archive.OpenBytes(outer, quiet)
	require.NoError(t, err)

	assert.False(t, root.ProbeEntry(archive.ByID(0x01)))
	assert.True(t, root.ProbeEntry(archive.ByID(0x02)))
	assert.False(t, root.ProbeEntry(archive.ByID(0x77)))

	child, err := archive.OpenNested(root, archive.ByID(0x02))
	require.NoError(t, err)
	assert.True(t, child.IsNested())
	assert.Equal(t, 1, child.Depth())

	got, err := child.ReadEntry(archive.ByID(0x20))
	require.NoError(t, err)
	assert.Equal(t, []byte("inner two"), got)

	mid, err := root.OpenArchive(archive.ByID(0x03))
	require.NoError(t, err)
	grandchild, err := mid.OpenArchive(archive.ByID(0x30))
	require.NoError(t, err)
	got, err = grandchild.ReadEntry(archive.ByID(0x99))
	require.NoError(t, err)
	assert.Equal(t, []byte("deep"), got)

	_, err = root.OpenArchive(archive.ByID(0x01))
	require.ErrorIs(t, err, mix.ErrInvalidHeader)

	require.NoError(t, child.Close(), "closing a nested archive is a no-op")
	assert.False(t, child.IsDisposed())
	_, err = child.ReadEntry(archive.ByID(0x10))
	require.NoError(t, err)

	require.NoError(t, root.Close())
	require.NoError(t, root.Close(), "close is idempotent")

	assert.True(t, root.IsDisposed())
	assert.True(t, child.IsDisposed())
	assert.True(t, grandchild.IsDisposed())

	_, err = child.ReadEntry(archive.ByID(0x10))
	require.ErrorIs(t, err, mix.ErrParentDisposed)
	_, err = grandchild.ReadEntry(archive.ByID(0x99))
	require.ErrorIs(t, err, mix.ErrParentDisposed)
	_, err = root.ReadEntry(archive.ByID(0x01))
	require.ErrorIs(t, err, mix.ErrArchiveClosed)
	_, err = root.OpenArchive(archive.ByID(0x02))
	require.ErrorIs(t, err, mix.ErrArchiveClosed)
	require.NoError(t, child.Close())
}

func TestArchive_OpenEntryAfterClose(t *testing.T) {
	inner := testutil.Legacy(testutil.File{ID: 0x10, Data: []byte("hello")})
	outer := testutil.Legacy(
		testutil.File{ID: 0x01, Data: []byte("plain")},
		testutil.File{ID: 0x02, Data: inner},
	)

	root, err := archive.OpenBytes(outer, quiet)
	require.NoError(t, err)
	child, err := root.OpenArchive(archive.ByID(0x02))
	require.NoError(t, err)

	nestedView, err := child.OpenEntry(archive.ByID(0x10))
	require.NoError(t, err)
	rootView, err := root.OpenEntry(archive.ByID(0x01))
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := nestedView.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	require.NoError(t, root.Close())

	n, err = nestedView.ReadAt(buf, 0)
	require.ErrorIs(t, err, mix.ErrParentDisposed)
	assert.Zero(t, n)

	_, err = io.ReadAll(rootView)
	require.ErrorIs(t, err, mix.ErrArchiveClosed)
}

func TestArchive_Identify(t *testing.T) {
	inner := testutil.Legacy(
		testutil.File{ID: 0x100, Data: []byte("a")},
		testutil.File{ID: 0x200, Data: []byte("b")},
	)
	raw := testutil.Legacy(
		testutil.File{ID: 1, Data: []byte("one")},
		testutil.File{ID: 2, Data: []byte("two")},
		testutil.File{ID: 3, Data: []byte("three")},
		testutil.File{ID: 4, Data: []byte("four")},
		testutil.File{ID: 5, Data: inner},
	)

	a, err := archive.OpenBytes(raw, quiet)
	require.NoError(t, err)
	defer a.Close()

	known := idSet{1: true, 3: true, 5: true, 0x200: true}

	identified, total := a.Identify(known, false)
	assert.Equal(t, 3, identified)
	assert.Equal(t, 5, total)

	identified, total = a.Identify(known, true)
	assert.Equal(t, 4, identified)
	assert.Equal(t, 7, total)
}

func TestArchive_IdentifyOneLevel(t *testing.T) {
	deepest := testutil.Legacy(testutil.File{ID: 0x99, Data: []byte("deep")})
	middle := testutil.Legacy(testutil.File{ID: 0x30, Data: deepest})
	raw := testutil.Legacy(testutil.File{ID: 0x03, Data: middle})

	a, err := archive.OpenBytes(raw, quiet)
	require.NoError(t, err)
	defer a.Close()

	identified, total := a.Identify(idSet{0x99: true}, true)
	assert.Equal(t, 0, identified)
	assert.Equal(t, 2, total)
}

func TestOpen_Errors(t *testing.T) {
	_, err := archive.OpenBytes(testutil.NewFormat(0, testutil.File{ID: 1}), quiet, archive.WithNewFormat(false))
	require.ErrorIs(t, err, mix.ErrUnsupportedHeaderVariant)

	raw := testutil.LegacyRecords([]testutil.Record{{ID: 0xFEED, Offset: 0, Length: 50}}, []byte("short"))
	_, err = archive.OpenBytes(raw, quiet)
	require.ErrorIs(t, err, mix.ErrHeaderBoundsExceeded)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.mix")
	raw := testutil.Legacy(
		testutil.Named(hashing.Classic{}, "conquer.eng", []byte("strings")),
	)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	a, err := archive.OpenFile(path, quiet)
	require.NoError(t, err)
	assert.Equal(t, path, a.Name())

	got, err := a.ReadNamed("conquer.eng")
	require.NoError(t, err)
	assert.Equal(t, []byte("strings"), got)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	_, err = a.ReadNamed("conquer.eng")
	require.ErrorIs(t, err, mix.ErrArchiveClosed)
}
