// Package blob stores document binaries outside the profile store and hands
// back a downloadable URL for each stored object.
package blob

import (
	"context"

	"go.uber.org/zap"
)

// Store persists document blobs. Put returns a download URL for the object;
// the storage path passed in is the stable locator kept on the profile.
type Store interface {
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, path string) error
}

type Config struct {
	// S3Bucket selects the S3 backend when non-empty.
	S3Bucket string
	// URLTTL bounds presigned download URLs (S3 backend).
	URLTTLSeconds int
	// BaseDir and BaseURL configure the local fallback backend.
	BaseDir string
	BaseURL string
}

// Open picks the backend once at startup: S3 when a bucket is configured and
// AWS credentials resolve, the local directory otherwise.
func Open(ctx context.Context, cfg Config, log *zap.Logger) (Store, error) {
	if cfg.S3Bucket != "" {
		store, err := newS3Store(ctx, cfg)
		if err == nil {
			log.Info("blob store: s3", zap.String("bucket", cfg.S3Bucket))
			return store, nil
		}
		log.Warn("s3 unavailable, falling back to local blob store", zap.Error(err))
	}
	log.Info("blob store: local directory", zap.String("dir", cfg.BaseDir))
	return newLocalStore(cfg.BaseDir, cfg.BaseURL)
}
