package evidence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// StoreType selects an evidence storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// NewStoreFromEnv builds an evidence store from environment variables.
//
//   - SAMSARA_EVIDENCE_BACKEND: "fs" (default), "s3", or "gcs"
//   - SAMSARA_DATA_DIR: base directory for the fs backend (default "data")
//
// For S3:
//   - SAMSARA_EVIDENCE_S3_BUCKET (required)
//   - SAMSARA_EVIDENCE_S3_REGION or AWS_REGION
//   - SAMSARA_EVIDENCE_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - SAMSARA_EVIDENCE_S3_PREFIX (optional)
//
// For GCS (requires a build with -tags gcp):
//   - SAMSARA_EVIDENCE_GCS_BUCKET (required)
//   - SAMSARA_EVIDENCE_GCS_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	backend := StoreType(os.Getenv("SAMSARA_EVIDENCE_BACKEND"))
	if backend == "" {
		backend = StoreTypeFS
	}

	switch backend {
	case StoreTypeFS:
		dataDir := os.Getenv("SAMSARA_DATA_DIR")
		if dataDir == "" {
			dataDir = "data"
		}
		return NewFileStore(filepath.Join(dataDir, "evidence"))
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported evidence backend: %s", backend)
	}
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("SAMSARA_EVIDENCE_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("SAMSARA_EVIDENCE_S3_BUCKET is required for the s3 backend")
	}

	region := os.Getenv("SAMSARA_EVIDENCE_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Store(ctx, S3Config{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("SAMSARA_EVIDENCE_S3_ENDPOINT"),
		Prefix:   os.Getenv("SAMSARA_EVIDENCE_S3_PREFIX"),
	})
}
