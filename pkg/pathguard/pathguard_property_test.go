//go:build property
// +build property

package pathguard_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/timini/securedrop/pkg/pathguard"
)

var segments = []string{"..", ".", "", "a", "b", "_backup", "a/..", "../x", "a/b", "x/../..", "link"}

// Property: whatever Resolve accepts is a strict descendant of the root,
// even through a symlink pointing outside.
func TestResolveStaysInside(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "store")
	if err := os.MkdirAll(filepath.Join(dir, "a", "b"), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(base, filepath.Join(dir, "link")); err != nil {
		t.Fatal(err)
	}
	root, err := pathguard.NewRoot("storage_path", dir)
	if err != nil {
		t.Fatal(err)
	}
	canonicalRoot, err := pathguard.Canonicalize(dir)
	if err != nil {
		t.Fatal(err)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("accepted paths stay under the root", prop.ForAll(
		func(picks []int) bool {
			elems := make([]string, len(picks))
			for i, p := range picks {
				elems[i] = segments[p]
			}
			p, err := root.Resolve(elems...)
			if err != nil {
				return true
			}
			canonical, err := pathguard.Canonicalize(p)
			if err != nil {
				return false
			}
			return pathguard.Within(canonicalRoot, canonical)
		},
		gen.SliceOfN(3, gen.IntRange(0, len(segments)-1)),
	))

	properties.TestingRun(t)
}
