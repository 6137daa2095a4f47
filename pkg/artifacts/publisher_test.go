package artifacts

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timini/securedrop/pkg/archive"
	"github.com/timini/securedrop/pkg/config"
	"github.com/timini/securedrop/pkg/pathguard"
)

type putCall struct {
	bucket, key, contentType string
	body                     []byte
	checksum                 string
}

type fakeS3 struct {
	calls []putCall
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.calls = append(f.calls, putCall{
		bucket:      aws.ToString(in.Bucket),
		key:         aws.ToString(in.Key),
		contentType: aws.ToString(in.ContentType),
		body:        body,
		checksum:    aws.ToString(in.ChecksumSHA256),
	})
	return &s3.PutObjectOutput{}, nil
}

func buildHandle(t *testing.T) *archive.Handle {
	t.Helper()
	temp, err := pathguard.NewRoot("temp_dir", filepath.Join(t.TempDir(), "tmp"))
	require.NoError(t, err)
	src := filepath.Join(t.TempDir(), "1-a-msg.gpg")
	require.NoError(t, os.WriteFile(src, []byte("ciphertext"), 0o600))

	h, err := archive.NewBuilder(temp).Build(context.Background(), []archive.Entry{{Name: "1-a-msg.gpg", Path: src}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Remove() })
	return h
}

func TestS3Publisher_Publish(t *testing.T) {
	h := buildHandle(t)
	client := &fakeS3{}
	p := &S3Publisher{client: client, bucket: "exports", prefix: "bulk/"}

	loc, err := p.Publish(context.Background(), h)
	require.NoError(t, err)

	key := "bulk/" + filepath.Base(h.Path)
	assert.Equal(t, "s3://exports/"+key, loc)

	require.Len(t, client.calls, 2)
	archiveCall, manifestCall := client.calls[0], client.calls[1]

	assert.Equal(t, "exports", archiveCall.bucket)
	assert.Equal(t, key, archiveCall.key)
	assert.Equal(t, "application/zip", archiveCall.contentType)
	want, err := os.ReadFile(h.Path)
	require.NoError(t, err)
	assert.Equal(t, want, archiveCall.body)

	sum, err := hex.DecodeString(h.SHA256())
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(sum), archiveCall.checksum)

	assert.Equal(t, key+".manifest.json", manifestCall.key)
	assert.Equal(t, "application/json", manifestCall.contentType)
}

func TestS3Publisher_PutFailure(t *testing.T) {
	h := buildHandle(t)
	p := &S3Publisher{client: &fakeS3{err: errors.New("access denied")}, bucket: "exports"}

	_, err := p.Publish(context.Background(), h)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestNewPublisherFromConfig_None(t *testing.T) {
	for _, typ := range []string{"", "none"} {
		p, err := NewPublisherFromConfig(context.Background(), config.Publish{Type: typ})
		require.NoError(t, err)
		assert.Nil(t, p)
	}
}

func TestNewPublisherFromConfig_S3MissingBucket(t *testing.T) {
	_, err := NewPublisherFromConfig(context.Background(), config.Publish{Type: "s3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ARCHIVE_S3_BUCKET is required")
}

func TestNewPublisherFromConfig_S3(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	p, err := NewPublisherFromConfig(context.Background(), config.Publish{
		Type: "s3",
		S3:   config.S3Publish{Bucket: "exports", Endpoint: "http://localhost:9000"},
	})
	require.NoError(t, err)
	require.IsType(t, &S3Publisher{}, p)
	assert.Equal(t, "s3", p.Name())
}

func TestNewPublisherFromConfig_GCSMissingBucket(t *testing.T) {
	_, err := NewPublisherFromConfig(context.Background(), config.Publish{Type: "gcs"})
	require.Error(t, err)
	// Builds without -tags gcp report that instead.
	if strings.Contains(err.Error(), "GCS publishing is not enabled") {
		return
	}
	assert.Contains(t, err.Error(), "ARCHIVE_GCS_BUCKET is required")
}

func TestNewPublisherFromConfig_Unsupported(t *testing.T) {
	_, err := NewPublisherFromConfig(context.Background(), config.Publish{Type: "azure"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported archive publish type")
}
