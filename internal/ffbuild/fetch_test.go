package ffbuild

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheGetFetchesOnceThenHits(t *testing.T) {
	srv := newSourceServer(t)
	srv.set("/zlib-1.3.6.tar.gz", []byte("v1"))
	cache := testCache(filepath.Join(t.TempDir(), "cache"))
	ctx := context.Background()

	p, fetched, err := cache.Get(ctx, srv.URL+"/zlib-1.3.6.tar.gz", "zlib-1.3.6.tar.gz", false)
	require.NoError(t, err)
	assert.True(t, fetched)
	assert.Equal(t, 1, srv.count("/zlib-1.3.6.tar.gz"))

	p2, fetched, err := cache.Get(ctx, srv.URL+"/zlib-1.3.6.tar.gz", "zlib-1.3.6.tar.gz", false)
	require.NoError(t, err)
	assert.False(t, fetched)
	assert.Equal(t, p, p2)
	assert.Equal(t, 1, srv.count("/zlib-1.3.6.tar.gz"), "warm cache must not touch the network")

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
}

func TestCacheHoldsOnlyArchivesAtTopLevel(t *testing.T) {
	srv := newSourceServer(t)
	srv.set("/x265_3.6.tar.gz", []byte("x265"))
	srv.set("/opus-1.5.2.tar.gz", []byte("opus"))
	dir := t.TempDir()
	cache := testCache(dir)

	for _, name := range []string{"x265_3.6.tar.gz", "opus-1.5.2.tar.gz"} {
		_, _, err := cache.Get(context.Background(), srv.URL+"/"+name, name, false)
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, e.Name())
		}
	}
	assert.ElementsMatch(t, []string{"x265_3.6.tar.gz", "opus-1.5.2.tar.gz"}, files)
	assert.FileExists(t, filepath.Join(dir, lockDirName, "x265_3.6.tar.gz.lock"))
}

func TestCacheGetForceReplacesEntry(t *testing.T) {
	srv := newSourceServer(t)
	srv.set("/a.tar.gz", []byte("old bytes"))
	cache := testCache(t.TempDir())
	ctx := context.Background()

	p, _, err := cache.Get(ctx, srv.URL+"/a.tar.gz", "a.tar.gz", false)
	require.NoError(t, err)

	srv.set("/a.tar.gz", []byte("new"))
	_, fetched, err := cache.Get(ctx, srv.URL+"/a.tar.gz", "a.tar.gz", true)
	require.NoError(t, err)
	assert.True(t, fetched)
	assert.Equal(t, 2, srv.count("/a.tar.gz"))

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestCacheGetFailureLeavesNoEntry(t *testing.T) {
	srv := newSourceServer(t)
	dir := t.TempDir()
	cache := testCache(dir)

	_, _, err := cache.Get(context.Background(), srv.URL+"/missing.tar.gz", "missing.tar.gz", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.NoFileExists(t, filepath.Join(dir, "missing.tar.gz"))

	parts, err := filepath.Glob(filepath.Join(dir, ".*.part-*"))
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestCacheGetForcedFailureKeepsOldEntry(t *testing.T) {
	srv := newSourceServer(t)
	srv.set("/b.tar.gz", []byte("good"))
	cache := testCache(t.TempDir())
	ctx := context.Background()

	p, _, err := cache.Get(ctx, srv.URL+"/b.tar.gz", "b.tar.gz", false)
	require.NoError(t, err)

	_, _, err = cache.Get(ctx, srv.URL+"/gone.tar.gz", "b.tar.gz", true)
	require.Error(t, err)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "good", string(data))
}

type fakeMirror struct {
	objects map[string][]byte
	uploads []string
	push    bool
}

func (m *fakeMirror) Fetch(_ context.Context, filename string, w io.Writer) error {
	data, ok := m.objects[filename]
	if !ok {
		return errors.New("NoSuchKey")
	}
	_, err := w.Write(data)
	return err
}

func (m *fakeMirror) Upload(_ context.Context, filename, path string) error {
	m.uploads = append(m.uploads, filename)
	return nil
}

func (m *fakeMirror) PushEnabled() bool { return m.push }

func TestCacheGetPrefersMirror(t *testing.T) {
	srv := newSourceServer(t)
	srv.set("/c.tar.gz", []byte("upstream"))
	cache := testCache(t.TempDir())
	cache.Mirror = &fakeMirror{objects: map[string][]byte{"c.tar.gz": []byte("mirrored")}}

	p, fetched, err := cache.Get(context.Background(), srv.URL+"/c.tar.gz", "c.tar.gz", false)
	require.NoError(t, err)
	assert.True(t, fetched)
	assert.Zero(t, srv.count("/c.tar.gz"))
	data, _ := os.ReadFile(p)
	assert.Equal(t, "mirrored", string(data))
}

func TestCacheGetPushesUpstreamDownloads(t *testing.T) {
	srv := newSourceServer(t)
	srv.set("/d.tar.gz", []byte("upstream"))
	m := &fakeMirror{objects: map[string][]byte{"d.tar.gz": []byte("stale")}, push: true}
	cache := testCache(t.TempDir())
	cache.Mirror = m

	p, _, err := cache.Get(context.Background(), srv.URL+"/d.tar.gz", "d.tar.gz", true)
	require.NoError(t, err)
	data, _ := os.ReadFile(p)
	assert.Equal(t, "upstream", string(data), "force refresh skips the mirror")
	assert.Equal(t, []string{"d.tar.gz"}, m.uploads)
}

func TestCacheStageCopiesEntry(t *testing.T) {
	dir := t.TempDir()
	cache := testCache(filepath.Join(dir, "cache"))
	entry := writeFile(t, cache.Path("e.tar.gz"), []byte("archive bytes"))

	staged, err := cache.Stage(entry, filepath.Join(dir, "work"))
	require.NoError(t, err)
	assert.NotEqual(t, entry, staged)

	a, _ := os.ReadFile(entry)
	b, _ := os.ReadFile(staged)
	assert.True(t, bytes.Equal(a, b))

	// Mutating the staged copy never reaches the cache entry.
	require.NoError(t, os.WriteFile(staged, []byte("scribbled"), 0o644))
	a, _ = os.ReadFile(entry)
	assert.Equal(t, "archive bytes", string(a))

	staged, err = cache.Stage(entry, filepath.Join(dir, "work"))
	require.NoError(t, err)
	b, _ = os.ReadFile(staged)
	assert.Equal(t, "archive bytes", string(b))
}
