package blobstore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/classedge/sensei/pkg/config"
	"github.com/classedge/sensei/pkg/ports"
)

// New selects the backend from configuration. Kind "fs" stores under the
// node data directory; kind "s3" uses the configured bucket.
func New(ctx context.Context, cfg config.BlobConfig, dataDir string) (ports.BlobStore, error) {
	switch cfg.Kind {
	case "", "fs":
		return NewFS(filepath.Join(dataDir, "blobs"))
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("blob kind s3 requires a bucket")
		}
		return NewS3(ctx, cfg.Bucket, cfg.Region, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown blob store kind %q", cfg.Kind)
	}
}
