// Package artifacts manages encrypted submission artifacts on the local
// filesystem. Every path handed out or accepted by Storage is checked
// against the configured storage root before any filesystem call is made.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/timini/securedrop/pkg/archive"
	"github.com/timini/securedrop/pkg/filename"
	"github.com/timini/securedrop/pkg/observability"
	"github.com/timini/securedrop/pkg/pathguard"
)

var (
	// ErrNotFound is returned when no artifact matches a lookup.
	ErrNotFound = errors.New("artifacts: file not found")
	// ErrDuplicate is returned when a filename exists in more than one
	// source directory.
	ErrDuplicate = errors.New("artifacts: found duplicate files")
	// ErrNotArtifact is returned when an operation needs a regular artifact
	// and gets a sentinel, a directory or a missing file.
	ErrNotArtifact = errors.New("artifacts: not an artifact")
	// ErrNoPublisher is returned by PublishArchive on a store built
	// without WithPublisher.
	ErrNoPublisher = errors.New("artifacts: no archive publisher configured")
)

// Config holds the two directories the store works in. Both must be
// absolute and normalized; TempDir may live under StoragePath.
type Config struct {
	StoragePath string
	TempDir     string
}

// Submission is what an export needs to know about one stored artifact.
type Submission struct {
	FilesystemID      string
	Filename          string
	SourceDesignation string
	SourceLastUpdated time.Time
}

// Storage is safe for concurrent use. Its roots are fixed at construction.
type Storage struct {
	store     pathguard.Root
	temp      pathguard.Root
	builder   *archive.Builder
	publisher Publisher
	telemetry *observability.Provider
	logger    *slog.Logger

	base        *slog.Logger
	archiveOpts []archive.Option
}

// Option configures a Storage.
type Option func(*Storage)

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Storage) { s.base = l }
}

// WithTelemetry records spans and RED metrics through p.
func WithTelemetry(p *observability.Provider) Option {
	return func(s *Storage) { s.telemetry = p }
}

// WithPublisher sets where PublishArchive copies bulk archives.
func WithPublisher(p Publisher) Option {
	return func(s *Storage) { s.publisher = p }
}

// WithArchiveOptions passes options through to the archive builder.
func WithArchiveOptions(opts ...archive.Option) Option {
	return func(s *Storage) { s.archiveOpts = append(s.archiveOpts, opts...) }
}

// NewStorage validates cfg and returns a ready store.
func NewStorage(cfg Config, opts ...Option) (*Storage, error) {
	store, err := pathguard.NewRoot("storage_path", cfg.StoragePath)
	if err != nil {
		return nil, err
	}
	temp, err := pathguard.NewRoot("temp_dir", cfg.TempDir)
	if err != nil {
		return nil, err
	}

	s := &Storage{
		store:     store,
		temp:      temp,
		telemetry: observability.Disabled(),
		base:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.base.With("component", "artifacts")
	s.builder = archive.NewBuilder(temp, append([]archive.Option{archive.WithLogger(s.base)}, s.archiveOpts...)...)
	return s, nil
}

// StoragePath returns the storage root.
func (s *Storage) StoragePath() string { return s.store.Path() }

// TempDir returns the temporary root.
func (s *Storage) TempDir() string { return s.temp.Path() }

// Path returns root/filesystemID, or root/filesystemID/filename when a
// filename is given. The result is returned exactly as joined; inputs that
// would need cleaning or that resolve outside the root are rejected.
func (s *Storage) Path(filesystemID string, fname ...string) (string, error) {
	if len(fname) > 1 {
		return "", fmt.Errorf("artifacts: at most one filename, got %d", len(fname))
	}
	p, err := s.store.Resolve(append([]string{filesystemID}, fname...)...)
	if err != nil {
		s.logger.Warn("rejected path", "error", err)
		return "", err
	}
	return p, nil
}

// Verify checks that p is absolute, normalized and inside the storage root.
// When p names an existing file its base name must also be a valid artifact
// name or the _FLAG sentinel. A nil result means p is verified.
func (s *Storage) Verify(p string) error {
	if err := s.store.Contains(p); err != nil {
		s.logger.Warn("rejected path", "error", err)
		return err
	}
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return nil
	}
	if _, err := filename.Classify(filepath.Base(p)); err != nil {
		s.logger.Warn("rejected filename", "error", err)
		return pathguard.Wrap(p, err)
	}
	return nil
}

// PathWithoutFilesystemID finds an artifact by filename alone by looking in
// every source directory.
func (s *Storage) PathWithoutFilesystemID(fname string) (string, error) {
	if _, err := filename.Classify(fname); err != nil {
		return "", err
	}
	dirs, err := os.ReadDir(s.store.Path())
	if err != nil {
		return "", fmt.Errorf("artifacts: read storage root: %w", err)
	}

	var found []string
	for _, de := range dirs {
		if !de.IsDir() {
			continue
		}
		p, err := s.Path(de.Name(), fname)
		if err != nil {
			continue
		}
		if pathguard.IsRegularFile(p) {
			found = append(found, p)
		}
	}

	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, fname)
	case 1:
		if err := s.Verify(found[0]); err != nil {
			return "", err
		}
		return found[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrDuplicate, fname)
	}
}

// Open opens a verified artifact for reading.
func (s *Storage) Open(p string) (*os.File, error) {
	if err := s.Verify(p); err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("artifacts: open: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotArtifact, filepath.Base(p))
	}
	return os.Open(p) //nolint:gosec // verified above
}

// RenameSubmission replaces the alias segment of a stored artifact's name.
// It never fails: when the rename cannot be done the outcome carries the
// original filename and Renamed reports false.
func (s *Storage) RenameSubmission(ctx context.Context, filesystemID, oldFilename, alias string) RenameOutcome {
	ctx, finish := s.telemetry.TrackOperation(ctx, "artifacts.rename_submission")

	outcome, err := s.renameSubmission(filesystemID, oldFilename, alias)
	kind := ""
	if n, cerr := filename.Classify(oldFilename); cerr == nil {
		kind = string(n.Kind)
	}
	trace.SpanFromContext(ctx).SetAttributes(observability.RenameOutcome(outcome.Renamed(), kind)...)

	if err != nil {
		s.logger.DebugContext(ctx, "submission not renamed", "error", err)
	}
	finish(err)
	return outcome
}

func (s *Storage) renameSubmission(filesystemID, oldFilename, alias string) (RenameOutcome, error) {
	unchanged := Unchanged(oldFilename)

	newFilename, err := filename.Rename(oldFilename, alias)
	if err != nil {
		return unchanged, err
	}
	if newFilename == oldFilename {
		return unchanged, nil
	}

	from, err := s.Path(filesystemID, oldFilename)
	if err != nil {
		return unchanged, err
	}
	to, err := s.Path(filesystemID, newFilename)
	if err != nil {
		return unchanged, err
	}
	if !pathguard.IsRegularFile(from) {
		return unchanged, fmt.Errorf("%w: %s", ErrNotArtifact, oldFilename)
	}
	if _, err := os.Lstat(to); err == nil {
		return unchanged, fmt.Errorf("artifacts: rename target %s: %w", newFilename, fs.ErrExist)
	}
	if err := os.Rename(from, to); err != nil {
		return unchanged, fmt.Errorf("artifacts: rename: %w", err)
	}
	return Renamed(newFilename), nil
}

// FlagForDeletion drops the _FLAG sentinel into a source directory. It is
// idempotent.
func (s *Storage) FlagForDeletion(filesystemID string) error {
	dir, err := s.Path(filesystemID)
	if err != nil {
		return err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("artifacts: flag source: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("artifacts: flag source: %s is not a directory", filepath.Base(dir))
	}

	p, err := s.Path(filesystemID, filename.FlagSentinel)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // resolved inside storage root
	if err != nil {
		return fmt.Errorf("artifacts: flag source: %w", err)
	}
	return f.Close()
}

// IsFlagged reports whether a source directory carries the _FLAG sentinel.
func (s *Storage) IsFlagged(filesystemID string) (bool, error) {
	p, err := s.Path(filesystemID, filename.FlagSentinel)
	if err != nil {
		return false, err
	}
	return pathguard.IsRegularFile(p), nil
}

// Delete removes one artifact, or a whole source directory, after verifying
// it. Deleting something that is already gone is not an error.
func (s *Storage) Delete(ctx context.Context, p string) (err error) {
	ctx, finish := s.telemetry.TrackOperation(ctx, "artifacts.delete")
	defer func() { finish(err) }()

	if err := s.Verify(p); err != nil {
		return err
	}
	info, err := os.Lstat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("artifacts: delete: %w", err)
	}
	if info.IsDir() {
		err = os.RemoveAll(p)
	} else {
		err = os.Remove(p)
	}
	if err != nil {
		return fmt.Errorf("artifacts: delete: %w", err)
	}
	s.logger.InfoContext(ctx, "deleted", "directory", info.IsDir())
	return nil
}

// GetBulkArchive packs the given submissions, in order, into one zip
// container under the temporary root. Every submission is resolved and
// verified before anything is written; the first failure aborts the call.
// The caller owns the returned handle.
func (s *Storage) GetBulkArchive(ctx context.Context, subs []Submission) (h *archive.Handle, err error) {
	ctx, finish := s.telemetry.TrackOperation(ctx, "artifacts.get_bulk_archive")
	defer func() { finish(err) }()

	entries := make([]archive.Entry, 0, len(subs))
	for _, sub := range subs {
		entry, err := s.exportEntry(sub)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	h, err = s.builder.Build(ctx, entries)
	if err != nil {
		return nil, err
	}
	trace.SpanFromContext(ctx).SetAttributes(observability.ArchiveBuilt(len(entries), h.Size())...)

	s.logger.InfoContext(ctx, "bulk archive ready", "entries", len(entries), "bytes", h.Size())
	return h, nil
}

// HasPublisher reports whether PublishArchive has somewhere to send archives.
func (s *Storage) HasPublisher() bool {
	return s.publisher != nil
}

// PublishArchive copies a built archive and its manifest to the configured
// publisher and records the remote location on h. It is the only store
// operation that touches the network. The local archive is left in place
// either way; discarding it is up to the caller.
func (s *Storage) PublishArchive(ctx context.Context, h *archive.Handle) (err error) {
	ctx, finish := s.telemetry.TrackOperation(ctx, "artifacts.publish_archive")
	defer func() { finish(err) }()

	if s.publisher == nil {
		return ErrNoPublisher
	}
	if err := s.temp.Contains(h.Path); err != nil {
		return err
	}
	trace.SpanFromContext(ctx).SetAttributes(observability.AttrPublisher.String(s.publisher.Name()))

	loc, err := s.publisher.Publish(ctx, h)
	if err != nil {
		return fmt.Errorf("artifacts: publish archive: %w", err)
	}
	h.Location = loc
	s.logger.InfoContext(ctx, "bulk archive published", "publisher", s.publisher.Name())
	return nil
}

// Close releases the publisher's client, if it holds one.
func (s *Storage) Close() error {
	if c, ok := s.publisher.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// SweepArchives removes bulk archives older than maxAge from the
// temporary root.
func (s *Storage) SweepArchives(ctx context.Context, maxAge time.Duration) (n int, err error) {
	ctx, finish := s.telemetry.TrackOperation(ctx, "artifacts.sweep_archives")
	defer func() { finish(err) }()
	return s.builder.Sweep(ctx, maxAge)
}

func (s *Storage) exportEntry(sub Submission) (archive.Entry, error) {
	p, err := s.Path(sub.FilesystemID, sub.Filename)
	if err != nil {
		return archive.Entry{}, err
	}
	if err := s.Verify(p); err != nil {
		return archive.Entry{}, err
	}
	name, err := filename.Classify(sub.Filename)
	if err != nil {
		return archive.Entry{}, pathguard.Wrap(p, err)
	}
	if name.Class != filename.ClassArtifact || !pathguard.IsRegularFile(p) {
		return archive.Entry{}, pathguard.Wrap(p, fmt.Errorf("%w: %s", ErrNotArtifact, sub.Filename))
	}
	return archive.Entry{Name: entryName(sub, name), Path: p}, nil
}

// entryName lays submissions out by source, then by submission index and
// the source's last activity date. Without a designation the bare filename
// is used.
func entryName(sub Submission, n filename.Name) string {
	if sub.SourceDesignation == "" {
		return sub.Filename
	}
	slug := filename.Slugify(sub.SourceDesignation)
	if slug == "" {
		return sub.Filename
	}
	day := n.Index + "_" + sub.SourceLastUpdated.UTC().Format(time.DateOnly)
	return path.Join(slug, day, sub.Filename)
}
