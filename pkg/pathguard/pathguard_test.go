package pathguard_test

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timini/securedrop/pkg/pathguard"
)

func newRoot(t *testing.T) pathguard.Root {
	t.Helper()
	root, err := pathguard.NewRoot("storage_path", filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(root.Path(), 0o700))
	return root
}

func TestNewRoot_RejectsRelative(t *testing.T) {
	_, err := pathguard.NewRoot("storage_path", "..")
	require.Error(t, err)
	assert.Regexp(t, regexp.MustCompile(`^storage_path.*is not absolute`), err.Error())
	assert.True(t, errors.Is(err, pathguard.ErrPath))

	_, err = pathguard.NewRoot("temp_dir", "relative/dir")
	require.Error(t, err)
	assert.Regexp(t, `^temp_dir.*is not absolute`, err.Error())
}

func TestNewRoot_RejectsUnclean(t *testing.T) {
	_, err := pathguard.NewRoot("storage_path", "/var/lib/store/../other")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not normalized")

	_, err = pathguard.NewRoot("storage_path", "/var/lib/store/")
	require.Error(t, err)
}

func TestResolve_ExactJoin(t *testing.T) {
	root := newRoot(t)

	p, err := root.Resolve("example")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root.Path(), "example"), p)

	p, err = root.Resolve("example", "1-quintuple_cant-msg.gpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root.Path(), "example", "1-quintuple_cant-msg.gpg"), p)
}

func TestResolve_RejectsTraversal(t *testing.T) {
	root := newRoot(t)

	for _, elems := range [][]string{
		{".."},
		{"..", "etc", "passwd"},
		{"example", "..", "..", "escape"},
		{"."},
		{""},
		{"example", ""},
		{"example/"},
	} {
		_, err := root.Resolve(elems...)
		require.Error(t, err, "elements %q", elems)
		assert.True(t, errors.Is(err, pathguard.ErrPath))
	}
}

func TestContains(t *testing.T) {
	root := newRoot(t)

	assert.NoError(t, root.Contains(filepath.Join(root.Path(), "example")))
	assert.NoError(t, root.Contains(filepath.Join(root.Path(), "example", "missing", "deeper")))

	err := root.Contains(root.Path() + "_backup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid directory")

	err = root.Contains(root.Path())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid directory")

	err = root.Contains(root.Path() + "/../etc/passwd")
	require.Error(t, err)
	assert.Equal(t, "The path is not absolute and/or normalized", err.Error())

	err = root.Contains("..")
	require.Error(t, err)
	assert.Equal(t, "The path is not absolute and/or normalized", err.Error())
}

func TestContains_SymlinkEscape(t *testing.T) {
	root := newRoot(t)
	outside := t.TempDir()

	source := filepath.Join(root.Path(), "example")
	require.NoError(t, os.MkdirAll(source, 0o700))
	link := filepath.Join(source, "1-link-msg.gpg")
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret"), link))

	err := root.Contains(link)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid directory")

	dirLink := filepath.Join(root.Path(), "linked")
	require.NoError(t, os.Symlink(outside, dirLink))
	_, err = root.Resolve("linked", "1-a-msg.gpg")
	require.Error(t, err)
}

func TestWithin(t *testing.T) {
	assert.True(t, pathguard.Within("/store", "/store/a"))
	assert.True(t, pathguard.Within("/store", "/store/a/b"))
	assert.True(t, pathguard.Within("/store", "/store/..hidden"))
	assert.False(t, pathguard.Within("/store", "/store"))
	assert.False(t, pathguard.Within("/store", "/store_backup"))
	assert.False(t, pathguard.Within("/store", "/"))
	assert.False(t, pathguard.Within("/store", "/other/a"))
	assert.True(t, pathguard.Within("/", "/etc"))
}

func TestCanonicalize_MissingTail(t *testing.T) {
	dir := t.TempDir()
	resolvedDir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	got, err := pathguard.Canonicalize(filepath.Join(dir, "a", "b"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(resolvedDir, "a", "b"), got)
}

func TestPathError_Unwrap(t *testing.T) {
	cause := errors.New("Invalid filename NOTVALID.gpg")
	err := pathguard.Wrap("/store/x/NOTVALID.gpg", cause)

	assert.Equal(t, "Invalid filename NOTVALID.gpg", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, pathguard.ErrPath)
}
