package archive

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// GCSStore implements Store on top of Google Cloud Storage.
type GCSStore struct {
	Client     *storage.Client
	BucketName string
	Logger     *zap.Logger
}

// NewGCSStore initializes a GCS client and verifies the bucket is
// reachable, failing fast on startup if configuration is wrong.
// Authentication is handled via Application Default Credentials.
func NewGCSStore(ctx context.Context, bucketName string, logger *zap.Logger) (*GCSStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	bkt := client.Bucket(bucketName)
	if _, err := bkt.Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close GCS client after bucket check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("get GCS bucket %q attributes: %w", bucketName, err)
	}
	return &GCSStore{Client: client, BucketName: bucketName, Logger: logger}, nil
}

// Save uploads the given data to an object in the GCS bucket.
func (g *GCSStore) Save(ctx context.Context, objectName string, data []byte) error {
	wc := g.Client.Bucket(g.BucketName).Object(objectName).NewWriter(ctx)
	if _, err := wc.Write(data); err != nil {
		// Close anyway to release resources; the write failure is primary.
		if closeErr := wc.Close(); closeErr != nil && g.Logger != nil {
			g.Logger.Warn("close GCS writer after write failure", zap.Error(closeErr))
		}
		return fmt.Errorf("write GCS object %s: %w", objectName, err)
	}
	// Close finalizes the upload and flushes buffered data.
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close GCS writer for object %s: %w", objectName, err)
	}
	return nil
}

// Close releases the underlying client.
func (g *GCSStore) Close() error {
	if err := g.Client.Close(); err != nil {
		return fmt.Errorf("close GCS client: %w", err)
	}
	return nil
}
