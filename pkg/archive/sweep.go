package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
)

// Sweep removes staged archives, their manifests and abandoned temporary
// files older than maxAge. It returns the number of archives removed.
func (b *Builder) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(b.temp.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("archive: read temp dir: %w", err)
	}

	cutoff := b.now().Add(-maxAge)
	removed := 0
	for _, de := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		name := de.Name()
		if !de.Type().IsRegular() || !isStaged(name) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		p, err := b.temp.Resolve(name)
		if err != nil {
			b.logger.WarnContext(ctx, "sweep skipped file outside temp root", "error", err)
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("archive: remove %s: %w", name, err)
		}
		if strings.HasSuffix(name, fileSuffix) {
			removed++
		}
	}

	if removed > 0 {
		b.logger.InfoContext(ctx, "swept expired archives", "count", removed, "max_age", maxAge)
	}
	return removed, nil
}

func isStaged(name string) bool {
	if !strings.HasPrefix(name, filePrefix) {
		return false
	}
	return strings.HasSuffix(name, fileSuffix) ||
		strings.HasSuffix(name, fileSuffix+tmpSuffix) ||
		strings.HasSuffix(name, fileSuffix+manifestSuffix)
}
