package archive_test

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timini/securedrop/pkg/archive"
	"github.com/timini/securedrop/pkg/pathguard"
)

func newBuilder(t *testing.T, opts ...archive.Option) (*archive.Builder, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "tmp")
	root, err := pathguard.NewRoot("temp_dir", dir)
	require.NoError(t, err)
	return archive.NewBuilder(root, opts...), dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestBuild_PreservesOrderAndContent(t *testing.T) {
	b, tempDir := newBuilder(t)
	src := t.TempDir()

	entries := []archive.Entry{
		{Name: "quintuple_cant/2_2024-01-02/2-quintuple_cant-msg.gpg", Path: writeFile(t, src, "2-quintuple_cant-msg.gpg", "second")},
		{Name: "quintuple_cant/1_2024-01-02/1-quintuple_cant-msg.gpg", Path: writeFile(t, src, "1-quintuple_cant-msg.gpg", "first")},
		{Name: "3-quintuple_cant-doc.gz.gpg", Path: writeFile(t, src, "3-quintuple_cant-doc.gz.gpg", strings.Repeat("x", 4096))},
	}

	h, err := b.Build(context.Background(), entries)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Remove() })

	assert.Equal(t, tempDir, filepath.Dir(h.Path))
	assert.True(t, strings.HasPrefix(filepath.Base(h.Path), "bulk-"))
	assert.True(t, strings.HasSuffix(h.Path, ".zip"))

	zr, err := zip.OpenReader(h.Path)
	require.NoError(t, err)
	defer func() { _ = zr.Close() }()

	require.Len(t, zr.File, len(entries))
	for i, f := range zr.File {
		assert.Equal(t, entries[i].Name, f.Name)

		rc, err := f.Open()
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()

		want, err := os.ReadFile(entries[i].Path)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Sources are untouched.
	for _, e := range entries {
		_, err := os.Stat(e.Path)
		assert.NoError(t, err)
	}
}

func TestBuild_WritesCanonicalManifest(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b, _ := newBuilder(t, archive.WithClock(func() time.Time { return fixed }))
	src := t.TempDir()

	h, err := b.Build(context.Background(), []archive.Entry{
		{Name: "1-a-msg.gpg", Path: writeFile(t, src, "1-a-msg.gpg", "hello")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Remove() })

	raw, err := os.ReadFile(h.ManifestPath)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), "\n"), "canonical JSON has no whitespace")

	var m archive.Manifest
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "2024-05-01T12:00:00Z", m.CreatedAt)
	assert.Equal(t, filepath.Base(h.Path), m.Archive)
	require.Len(t, m.Entries, 1)
	assert.Equal(t, int64(5), m.Entries[0].Size)
	// sha256("hello")
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", m.Entries[0].SHA256)

	info, err := os.Stat(h.Path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), h.Size())
	assert.Len(t, h.SHA256(), 64)
}

func TestBuild_MissingSourceLeavesNothing(t *testing.T) {
	b, tempDir := newBuilder(t)
	src := t.TempDir()

	_, err := b.Build(context.Background(), []archive.Entry{
		{Name: "1-a-msg.gpg", Path: writeFile(t, src, "1-a-msg.gpg", "ok")},
		{Name: "2-a-msg.gpg", Path: filepath.Join(src, "missing.gpg")},
	})
	require.Error(t, err)

	left, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestBuild_RejectsBadEntryNames(t *testing.T) {
	b, _ := newBuilder(t)
	src := writeFile(t, t.TempDir(), "1-a-msg.gpg", "x")

	for _, name := range []string{"", "/etc/passwd", "../escape", "a/../../b", "a\\b", "a//b"} {
		_, err := b.Build(context.Background(), []archive.Entry{{Name: name, Path: src}})
		assert.True(t, errors.Is(err, archive.ErrEntryName), "name %q", name)
	}
}

func TestBuild_NoEntries(t *testing.T) {
	b, _ := newBuilder(t)
	_, err := b.Build(context.Background(), nil)
	assert.ErrorIs(t, err, archive.ErrNoEntries)
}

func TestBuild_Cancelled(t *testing.T) {
	b, tempDir := newBuilder(t)
	src := writeFile(t, t.TempDir(), "1-a-msg.gpg", "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Build(ctx, []archive.Entry{{Name: "1-a-msg.gpg", Path: src}})
	require.ErrorIs(t, err, context.Canceled)

	left, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestHandle_Remove(t *testing.T) {
	b, tempDir := newBuilder(t)
	src := writeFile(t, t.TempDir(), "1-a-msg.gpg", "x")

	h, err := b.Build(context.Background(), []archive.Entry{{Name: "1-a-msg.gpg", Path: src}})
	require.NoError(t, err)

	f, err := h.Open()
	require.NoError(t, err)
	_ = f.Close()

	require.NoError(t, h.Remove())
	require.NoError(t, h.Remove())

	left, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestSweep(t *testing.T) {
	now := time.Now()
	b, tempDir := newBuilder(t, archive.WithClock(func() time.Time { return now }))
	src := writeFile(t, t.TempDir(), "1-a-msg.gpg", "x")

	old, err := b.Build(context.Background(), []archive.Entry{{Name: "1-a-msg.gpg", Path: src}})
	require.NoError(t, err)
	fresh, err := b.Build(context.Background(), []archive.Entry{{Name: "1-a-msg.gpg", Path: src}})
	require.NoError(t, err)

	past := now.Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old.Path, past, past))
	require.NoError(t, os.Chtimes(old.ManifestPath, past, past))

	unrelated := writeFile(t, tempDir, "keep-me.txt", "x")
	require.NoError(t, os.Chtimes(unrelated, past, past))

	removed, err := b.Sweep(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(old.Path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(old.ManifestPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh.Path)
	assert.NoError(t, err)
	_, err = os.Stat(unrelated)
	assert.NoError(t, err)
}

func TestSweep_MissingTempDir(t *testing.T) {
	b, _ := newBuilder(t)
	removed, err := b.Sweep(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
