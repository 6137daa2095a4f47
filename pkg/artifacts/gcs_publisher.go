//go:build gcp

package artifacts

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"

	"github.com/timini/securedrop/pkg/archive"
)

// GCSPublisher uploads bulk archives and their manifests to a Cloud Storage
// bucket.
type GCSPublisher struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSPublisherConfig holds configuration for GCSPublisher.
type GCSPublisherConfig struct {
	Bucket string
	Prefix string
}

// NewGCSPublisher creates a publisher using application default credentials.
func NewGCSPublisher(ctx context.Context, cfg GCSPublisherConfig) (*GCSPublisher, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSPublisher{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Name implements Publisher.
func (p *GCSPublisher) Name() string { return string(PublishGCS) }

// Publish uploads the archive, then its manifest, and returns the archive's
// gs:// location.
func (p *GCSPublisher) Publish(ctx context.Context, h *archive.Handle) (string, error) {
	key := p.prefix + filepath.Base(h.Path)

	f, err := h.Open()
	if err != nil {
		return "", fmt.Errorf("gcs publish: %w", err)
	}
	defer func() { _ = f.Close() }()

	w := p.client.Bucket(p.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/zip"
	w.Metadata = map[string]string{"sha256": h.SHA256()}
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close failed: %w", err)
	}

	if h.ManifestPath != "" {
		manifest, err := os.ReadFile(h.ManifestPath)
		if err != nil {
			return "", fmt.Errorf("gcs publish manifest: %w", err)
		}
		mw := p.client.Bucket(p.bucket).Object(key + ".manifest.json").NewWriter(ctx)
		mw.ContentType = "application/json"
		if _, err := mw.Write(manifest); err != nil {
			_ = mw.Close()
			return "", fmt.Errorf("gcs write manifest failed: %w", err)
		}
		if err := mw.Close(); err != nil {
			return "", fmt.Errorf("gcs close manifest failed: %w", err)
		}
	}

	return fmt.Sprintf("gs://%s/%s", p.bucket, key), nil
}

// Close closes the GCS client.
func (p *GCSPublisher) Close() error {
	return p.client.Close()
}
