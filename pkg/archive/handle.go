package archive

import (
	"errors"
	"io/fs"
	"os"
)

// Handle refers to a finished archive in the temporary root. The caller owns
// it and must Remove it once served, or leave it to Sweep.
type Handle struct {
	Path         string
	ManifestPath string
	Manifest     Manifest
	// Location is set when the archive was also published elsewhere.
	Location string
}

// Open opens the archive for reading.
func (h *Handle) Open() (*os.File, error) {
	return os.Open(h.Path)
}

// Size returns the archive size in bytes.
func (h *Handle) Size() int64 { return h.Manifest.Size }

// SHA256 returns the hex digest of the archive bytes.
func (h *Handle) SHA256() string { return h.Manifest.SHA256 }

// Remove deletes the archive and its manifest. Missing files are ignored.
func (h *Handle) Remove() error {
	var errs []error
	for _, p := range []string{h.Path, h.ManifestPath} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
