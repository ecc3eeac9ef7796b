package storage

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cordum/mediadrop/core/infra/config"
	"github.com/cordum/mediadrop/core/infra/logging"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Backend offloads artifacts to an S3-compatible bucket (Cloudflare R2 by default).
type S3Backend struct {
	client *minio.Client
	bucket string
}

// NewS3Backend builds the remote tier. Missing credentials are a startup error.
func NewS3Backend(cfg config.RemoteConfig) (*S3Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, fmt.Errorf("remote storage disabled")
	}
	endpoint, secure := splitEndpoint(cfg.ResolvedEndpoint())
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &S3Backend{client: client, bucket: cfg.Bucket}, nil
}

func (b *S3Backend) Enabled() bool {
	return b != nil && b.client != nil
}

func (b *S3Backend) Upload(ctx context.Context, localPath, key string) bool {
	if !b.Enabled() {
		return false
	}
	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	logging.Info("s3", "uploading artifact", "path", localPath, "key", key)
	if _, err := b.client.FPutObject(ctx, b.bucket, key, localPath, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		logging.Error("s3", "upload failed", "key", key, "error", err)
		return false
	}
	return true
}

// Delete removes an object; S3 treats a missing key as success.
func (b *S3Backend) Delete(ctx context.Context, key string) bool {
	if !b.Enabled() {
		return false
	}
	if err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		logging.Error("s3", "delete failed", "key", key, "error", err)
		return false
	}
	return true
}

func (b *S3Backend) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, bool) {
	if !b.Enabled() {
		return "", false
	}
	params := url.Values{}
	params.Set("response-content-disposition", attachmentDisposition(path.Base(key)))
	u, err := b.client.PresignedGetObject(ctx, b.bucket, key, ttl, params)
	if err != nil {
		logging.Error("s3", "presign failed", "key", key, "error", err)
		return "", false
	}
	return u.String(), true
}

func attachmentDisposition(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}

func splitEndpoint(raw string) (string, bool) {
	switch {
	case strings.HasPrefix(raw, "http://"):
		return strings.TrimPrefix(raw, "http://"), false
	case strings.HasPrefix(raw, "https://"):
		return strings.TrimPrefix(raw, "https://"), true
	default:
		return raw, true
	}
}
