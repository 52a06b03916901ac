package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logram/internal/source"
	logx "logram/pkg/logx"
)

const testDelay = 50 * time.Millisecond

func startSource(t *testing.T, entries ...string) <-chan source.Result {
	t.Helper()
	s, err := New(Config{Delay: testDelay, Entries: entries}, logx.Nop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return s.Run(ctx)
}

func next(t *testing.T, out <-chan source.Result) source.Record {
	t.Helper()
	select {
	case r, ok := <-out:
		require.True(t, ok, "stream closed")
		require.NoError(t, r.Err)
		assert.Equal(t, Name, r.Source)
		return r.Record
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for record")
	}
	return source.Record{}
}

func TestFilesystemLifecycle(t *testing.T) {
	dir := t.TempDir()
	out := startSource(t, dir)

	p := filepath.Join(dir, "file")
	renamed := filepath.Join(dir, "file_renamed")

	f, err := os.Create(p)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, source.Record{Title: p + " was created"}, next(t, out))

	appendFile(t, p, "content")
	assert.Equal(t, source.Record{Title: p, Body: "content"}, next(t, out))

	appendFile(t, p, "more")
	assert.Equal(t, source.Record{Title: p, Body: "more"}, next(t, out))

	require.NoError(t, os.WriteFile(p, []byte("new"), 0o644))
	assert.Equal(t, source.Record{Title: p, Body: "new"}, next(t, out))

	require.NoError(t, os.Rename(p, renamed))
	assert.Equal(t, source.Record{Title: p + " was renamed to " + renamed}, next(t, out))

	appendFile(t, renamed, "after")
	assert.Equal(t, source.Record{Title: renamed, Body: "after"}, next(t, out))

	require.NoError(t, os.Remove(renamed))
	assert.Equal(t, source.Record{Title: renamed + " was removed"}, next(t, out))
}

func TestFilesystemExistingContentIsBaseline(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(p, []byte("history\n"), 0o644))

	out := startSource(t, dir)
	appendFile(t, p, "fresh\n")
	assert.Equal(t, source.Record{Title: p, Body: "fresh\n"}, next(t, out))
}

func TestFilesystemWatchesNewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	out := startSource(t, dir)

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	assert.Equal(t, source.Record{Title: sub + " was created"}, next(t, out))

	p := filepath.Join(sub, "nested.log")
	require.NoError(t, os.WriteFile(p, nil, 0o644))
	assert.Equal(t, source.Record{Title: p + " was created"}, next(t, out))

	appendFile(t, p, "deep")
	assert.Equal(t, source.Record{Title: p, Body: "deep"}, next(t, out))
}

func TestFilesystemRenameOutOfTreeIsRemoval(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	p := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	out := startSource(t, dir)
	require.NoError(t, os.Rename(p, filepath.Join(outside, "file")))
	assert.Equal(t, source.Record{Title: p + " was removed"}, next(t, out))
}

func TestFilesystemRewriteLongerThanBefore(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(p, []byte("content"), 0o644))

	out := startSource(t, dir)
	require.NoError(t, os.WriteFile(p, []byte("brand new text"), 0o644))
	assert.Equal(t, source.Record{Title: p, Body: "brand new text"}, next(t, out))
}

func TestFilesystemRenameOutWithUnrelatedCreate(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	p := filepath.Join(dir, "a.log")
	other := filepath.Join(dir, "unrelated.txt")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	out := startSource(t, dir)
	require.NoError(t, os.Rename(p, filepath.Join(outside, "a.log")))
	require.NoError(t, os.WriteFile(other, nil, 0o644))

	got := []source.Record{next(t, out), next(t, out)}
	assert.ElementsMatch(t, []source.Record{
		{Title: p + " was removed"},
		{Title: other + " was created"},
	}, got)
}

func TestFilesystemWatchesSingleFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "single.log")
	require.NoError(t, os.WriteFile(p, []byte("old"), 0o644))

	out := startSource(t, p)
	appendFile(t, p, "+1")
	assert.Equal(t, source.Record{Title: p, Body: "+1"}, next(t, out))
}

func TestFilesystemMissingEntryFailsInit(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Entries: []string{filepath.Join(t.TempDir(), "missing")}}, logx.Nop())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFilesystemNoEntriesFailsInit(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, logx.Nop())
	require.Error(t, err)
}

func TestFilesystemClosesOnCancel(t *testing.T) {
	s, err := New(Config{Delay: testDelay, Entries: []string{t.TempDir()}}, logx.Nop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	out := s.Run(ctx)
	cancel()
	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after cancel")
	}
}
