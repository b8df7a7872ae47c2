//go:build gcp

package evidence

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("SAMSARA_EVIDENCE_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("SAMSARA_EVIDENCE_GCS_BUCKET is required for the gcs backend")
	}
	return NewGCSStore(ctx, GCSConfig{
		Bucket: bucket,
		Prefix: os.Getenv("SAMSARA_EVIDENCE_GCS_PREFIX"),
	})
}
