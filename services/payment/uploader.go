package payment

import (
	"context"
	"fmt"
	"io"

	"unievents-checkin/pkg/config"

	"github.com/minio/minio-go/v7"
)

// Uploader stores a receipt image and returns the URL persisted on the
// verification row.
type Uploader interface {
	Upload(ctx context.Context, objectName, contentType string, r io.Reader, size int64) (string, error)
}

type minioUploader struct {
	client *minio.Client
	bucket string
}

func NewMinioUploader(client *minio.Client, cfg *config.Config) Uploader {
	return &minioUploader{client: client, bucket: cfg.Minio.BucketName}
}

func (u *minioUploader) Upload(ctx context.Context, objectName, contentType string, r io.Reader, size int64) (string, error) {
	if _, err := u.client.PutObject(ctx, u.bucket, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", fmt.Errorf("upload receipt %q: %w", objectName, err)
	}

	return fmt.Sprintf("%s/%s/%s", u.client.EndpointURL(), u.bucket, objectName), nil
}
