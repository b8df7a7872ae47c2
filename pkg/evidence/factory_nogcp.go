//go:build !gcp

package evidence

import (
	"context"
	"fmt"
)

func newGCSStoreFromEnv(_ context.Context) (Store, error) {
	return nil, fmt.Errorf("gcs evidence backend is not enabled in this build (use -tags gcp)")
}
