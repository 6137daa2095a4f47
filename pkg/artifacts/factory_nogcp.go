//go:build !gcp

package artifacts

import (
	"context"
	"fmt"

	"github.com/timini/securedrop/pkg/config"
)

func newGCSPublisherFromConfig(_ context.Context, _ config.GCSPublish) (Publisher, error) {
	return nil, fmt.Errorf("GCS publishing is not enabled in this build (use -tags gcp)")
}
