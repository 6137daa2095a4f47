// Package archive streams verified artifact files into a single zip
// container staged under the temporary root.
package archive

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"github.com/klauspost/compress/flate"

	"github.com/timini/securedrop/pkg/pathguard"
)

const (
	filePrefix     = "bulk-"
	fileSuffix     = ".zip"
	tmpSuffix      = ".tmp"
	manifestSuffix = ".manifest.json"

	manifestVersion = "1.0"
)

var (
	// ErrNoEntries is returned when Build is called with nothing to archive.
	ErrNoEntries = errors.New("archive: no entries")
	// ErrEntryName is returned for entry names that would extract outside
	// the archive root.
	ErrEntryName = errors.New("archive: invalid entry name")
)

// Entry is one file to include. Path must already be verified by the caller;
// Name is the name inside the container.
type Entry struct {
	Name string
	Path string
}

// ManifestEntry describes one archived file.
type ManifestEntry struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Manifest is written next to each archive as canonical JSON.
type Manifest struct {
	Version   string          `json:"version"`
	CreatedAt string          `json:"created_at"`
	Archive   string          `json:"archive"`
	Size      int64           `json:"size"`
	SHA256    string          `json:"sha256"`
	Entries   []ManifestEntry `json:"entries"`
}

// Builder writes bulk archives into a temporary root.
type Builder struct {
	temp   pathguard.Root
	logger *slog.Logger
	now    func() time.Time
	level  int
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the builder's logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l.With("component", "archive") }
}

// WithClock overrides the time source used for manifests and sweeps.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithCompressionLevel sets the deflate level (flate.NoCompression through
// flate.BestCompression).
func WithCompressionLevel(level int) Option {
	return func(b *Builder) { b.level = level }
}

// NewBuilder returns a Builder staging archives under temp.
func NewBuilder(temp pathguard.Root, opts ...Option) *Builder {
	b := &Builder{
		temp:   temp,
		logger: slog.Default().With("component", "archive"),
		now:    time.Now,
		level:  flate.DefaultCompression,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build writes entries, in order, into a new zip container. On any error the
// partial container is removed and no handle is returned. Source files are
// only read.
func (b *Builder) Build(ctx context.Context, entries []Entry) (*Handle, error) {
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	for _, e := range entries {
		if err := validEntryName(e.Name); err != nil {
			return nil, err
		}
	}

	//nolint:gosec // G301: staging directory is private to the service user
	if err := os.MkdirAll(b.temp.Path(), 0o700); err != nil {
		return nil, fmt.Errorf("archive: ensure temp dir: %w", err)
	}

	name := filePrefix + uuid.New().String() + fileSuffix
	finalPath, err := b.temp.Resolve(name)
	if err != nil {
		return nil, err
	}
	tmpPath, err := b.temp.Resolve(name + tmpSuffix)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("archive: create %s: %w", name, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = f.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	hash := sha256.New()
	counter := &countingWriter{}
	zw := zip.NewWriter(io.MultiWriter(f, hash, counter))
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, b.level)
	})

	manifest := Manifest{
		Version:   manifestVersion,
		CreatedAt: b.now().UTC().Format(time.RFC3339),
		Archive:   name,
		Entries:   make([]ManifestEntry, 0, len(entries)),
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("archive: build cancelled: %w", err)
		}
		me, err := addFile(zw, e)
		if err != nil {
			return nil, err
		}
		manifest.Entries = append(manifest.Entries, me)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("archive: finish container: %w", err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("archive: sync container: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("archive: close container: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		committed = true
		return nil, fmt.Errorf("archive: commit container: %w", err)
	}
	committed = true

	manifest.Size = counter.n
	manifest.SHA256 = hex.EncodeToString(hash.Sum(nil))

	manifestPath, err := writeManifest(finalPath, manifest)
	if err != nil {
		_ = os.Remove(finalPath)
		return nil, err
	}

	b.logger.InfoContext(ctx, "bulk archive built",
		"archive", name,
		"entries", len(manifest.Entries),
		"bytes", manifest.Size,
	)

	return &Handle{
		Path:         finalPath,
		ManifestPath: manifestPath,
		Manifest:     manifest,
	}, nil
}

func addFile(zw *zip.Writer, e Entry) (ManifestEntry, error) {
	src, err := os.Open(e.Path) //nolint:gosec // path verified by caller
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("archive: open %s: %w", e.Name, err)
	}
	defer func() { _ = src.Close() }()

	info, err := src.Stat()
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("archive: stat %s: %w", e.Name, err)
	}
	if !info.Mode().IsRegular() {
		return ManifestEntry{}, fmt.Errorf("archive: %s is not a regular file", e.Name)
	}

	hdr := &zip.FileHeader{
		Name:     e.Name,
		Method:   zip.Deflate,
		Modified: info.ModTime().UTC(),
	}
	hdr.SetMode(0o600)

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("archive: write header %s: %w", e.Name, err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, h), src)
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("archive: write data %s: %w", e.Name, err)
	}

	return ManifestEntry{
		Name:   e.Name,
		Size:   n,
		SHA256: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func writeManifest(archivePath string, m Manifest) (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("archive: marshal manifest: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("archive: canonicalize manifest: %w", err)
	}
	p := archivePath + manifestSuffix
	if err := os.WriteFile(p, canonical, 0o600); err != nil {
		return "", fmt.Errorf("archive: write manifest: %w", err)
	}
	return p, nil
}

// validEntryName rejects names that are empty, absolute, or climb out of the
// extraction directory.
func validEntryName(name string) error {
	switch {
	case name == "",
		strings.ContainsRune(name, '\\'),
		path.IsAbs(name),
		path.Clean(name) != name,
		name == "..",
		strings.HasPrefix(name, "../"):
		return fmt.Errorf("%w: %q", ErrEntryName, name)
	}
	return nil
}

type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
