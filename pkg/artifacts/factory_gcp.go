//go:build gcp

package artifacts

import (
	"context"
	"fmt"

	"github.com/timini/securedrop/pkg/config"
)

func newGCSPublisherFromConfig(ctx context.Context, cfg config.GCSPublish) (Publisher, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("ARCHIVE_GCS_BUCKET is required for GCS publishing")
	}
	p, err := NewGCSPublisher(ctx, GCSPublisherConfig{
		Bucket: cfg.Bucket,
		Prefix: cfg.Prefix,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
