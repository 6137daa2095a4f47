package artifacts

import (
	"context"
	"fmt"

	"github.com/timini/securedrop/pkg/archive"
	"github.com/timini/securedrop/pkg/config"
)

// Publisher copies a finished bulk archive somewhere outside the host and
// returns its location.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, h *archive.Handle) (string, error)
}

// PublishType selects the archive publishing backend.
type PublishType string

const (
	PublishNone PublishType = "none"
	PublishS3   PublishType = "s3"
	PublishGCS  PublishType = "gcs"
)

// NewPublisherFromConfig builds the publisher named by cfg.Type. It returns
// a nil Publisher for "none" or an empty type.
//
// S3 needs a bucket; region defaults to us-east-1 and a custom endpoint
// (MinIO, LocalStack) switches to path-style addressing. GCS needs a bucket
// and a binary built with -tags gcp.
func NewPublisherFromConfig(ctx context.Context, cfg config.Publish) (Publisher, error) {
	switch PublishType(cfg.Type) {
	case "", PublishNone:
		return nil, nil
	case PublishS3:
		return newS3PublisherFromConfig(ctx, cfg.S3)
	case PublishGCS:
		return newGCSPublisherFromConfig(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unsupported archive publish type: %s", cfg.Type)
	}
}

func newS3PublisherFromConfig(ctx context.Context, cfg config.S3Publish) (Publisher, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("ARCHIVE_S3_BUCKET is required for S3 publishing")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	p, err := NewS3Publisher(ctx, S3PublisherConfig{
		Bucket:   cfg.Bucket,
		Region:   region,
		Endpoint: cfg.Endpoint,
		Prefix:   cfg.Prefix,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
