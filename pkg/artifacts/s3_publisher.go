package artifacts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/timini/securedrop/pkg/archive"
)

// s3API is the part of *s3.Client the publisher uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher uploads bulk archives and their manifests to an S3 bucket.
type S3Publisher struct {
	client s3API
	bucket string
	prefix string // Optional key prefix (e.g., "exports/")
}

// S3PublisherConfig holds configuration for S3Publisher.
type S3PublisherConfig struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (for MinIO, LocalStack, etc.)
	Prefix   string
}

// NewS3Publisher creates a publisher using the default AWS credential chain.
func NewS3Publisher(ctx context.Context, cfg S3PublisherConfig) (*S3Publisher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	}

	return &S3Publisher{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Name implements Publisher.
func (p *S3Publisher) Name() string { return string(PublishS3) }

// Publish uploads the archive, then its manifest, and returns the archive's
// s3:// location.
func (p *S3Publisher) Publish(ctx context.Context, h *archive.Handle) (string, error) {
	key := p.prefix + filepath.Base(h.Path)

	f, err := h.Open()
	if err != nil {
		return "", fmt.Errorf("s3 publish: %w", err)
	}
	defer func() { _ = f.Close() }()

	in := &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(h.Size()),
		ContentType:   aws.String("application/zip"),
		Metadata:      map[string]string{"sha256": h.SHA256()},
	}
	if sum, err := hex.DecodeString(h.SHA256()); err == nil && len(sum) > 0 {
		in.ChecksumSHA256 = aws.String(base64.StdEncoding.EncodeToString(sum))
	}
	if _, err := p.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("s3 put failed: %w", err)
	}

	if h.ManifestPath != "" {
		manifest, err := os.ReadFile(h.ManifestPath)
		if err != nil {
			return "", fmt.Errorf("s3 publish manifest: %w", err)
		}
		_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.bucket),
			Key:         aws.String(key + ".manifest.json"),
			Body:        bytes.NewReader(manifest),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			return "", fmt.Errorf("s3 put manifest failed: %w", err)
		}
	}

	return fmt.Sprintf("s3://%s/%s", p.bucket, key), nil
}
