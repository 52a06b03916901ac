package filesystem

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOffsetTableReadsDeltaOnly(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(p, nil, 0o644))

	tab := NewOffsetTable()
	require.NoError(t, tab.Scan(dir))
	off, ok := tab.Get(p)
	require.True(t, ok)
	assert.Equal(t, int64(0), off)

	appendFile(t, p, "content")
	got, err := tab.ReadDelta(p)
	require.NoError(t, err)
	assert.Equal(t, "content", got)

	appendFile(t, p, "more")
	got, err = tab.ReadDelta(p)
	require.NoError(t, err)
	assert.Equal(t, "more", got)

	got, err = tab.ReadDelta(p)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOffsetTableResetsOnTruncate(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(p, []byte("a long first line\n"), 0o644))

	tab := NewOffsetTable()
	require.NoError(t, tab.Scan(dir))

	require.NoError(t, os.Truncate(p, 0))
	appendFile(t, p, "new")

	got, err := tab.ReadDelta(p)
	require.NoError(t, err)
	assert.Equal(t, "new", got)
	off, _ := tab.Get(p)
	assert.Equal(t, int64(3), off)
}

func TestOffsetTableDetectsRewriteNotShorter(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(p, []byte("content"), 0o644))

	tab := NewOffsetTable()
	require.NoError(t, tab.Scan(dir))

	require.NoError(t, os.WriteFile(p, []byte("brand new text"), 0o644))
	got, err := tab.ReadDelta(p)
	require.NoError(t, err)
	assert.Equal(t, "brand new text", got)

	require.NoError(t, os.WriteFile(p, []byte("same size text"), 0o644))
	got, err = tab.ReadDelta(p)
	require.NoError(t, err)
	assert.Equal(t, "same size text", got)
}

func TestOffsetTableObserveResetsAfterShrink(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(p, []byte("content"), 0o644))

	tab := NewOffsetTable()
	require.NoError(t, tab.Scan(dir))

	tab.Observe(p, 7)
	off, _ := tab.Get(p)
	assert.Equal(t, int64(7), off)

	// The file was emptied and then grew past the old offset with the same
	// leading bytes; only the shrink seen in between tells them apart.
	tab.Observe(p, 0)
	require.NoError(t, os.WriteFile(p, []byte("content, again"), 0o644))
	got, err := tab.ReadDelta(p)
	require.NoError(t, err)
	assert.Equal(t, "content, again", got)
}

func TestOffsetTableRemembersIdentity(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(a, nil, 0o644))
	require.NoError(t, os.WriteFile(b, nil, 0o644))

	tab := NewOffsetTable()
	require.NoError(t, tab.Scan(dir))
	require.NotNil(t, tab.Identity(dir))

	moved := filepath.Join(dir, "moved")
	require.NoError(t, os.Rename(a, moved))
	info, err := os.Lstat(moved)
	require.NoError(t, err)
	assert.True(t, os.SameFile(tab.Identity(a), info))
	other, err := os.Lstat(b)
	require.NoError(t, err)
	assert.False(t, os.SameFile(tab.Identity(a), other))

	tab.Forget(a)
	assert.Nil(t, tab.Identity(a))
}

func TestOffsetTableScanSkipsDirsAndForgetsSubtree(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), []byte("12"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b"), []byte("1234"), 0o644))

	tab := NewOffsetTable()
	require.NoError(t, tab.Scan(dir))
	assert.Equal(t, 2, tab.Len())
	off, _ := tab.Get(filepath.Join(sub, "b"))
	assert.Equal(t, int64(4), off)
	_, ok := tab.Get(sub)
	assert.False(t, ok)

	tab.Forget(sub)
	assert.Equal(t, 1, tab.Len())
	_, ok = tab.Get(filepath.Join(dir, "a"))
	assert.True(t, ok)
}

func TestOffsetTableLossyDecode(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "bin")
	require.NoError(t, os.WriteFile(p, []byte{'o', 'k', 0xff}, 0o644))

	tab := NewOffsetTable()
	got, err := tab.ReadDelta(p)
	require.NoError(t, err)
	assert.Equal(t, "ok�", got)
}

func TestOffsetTableMissingFile(t *testing.T) {
	t.Parallel()
	tab := NewOffsetTable()
	_, err := tab.ReadDelta(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func appendFile(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(s)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}
