package blob

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"

	"github.com/estado-transparente/pipeline/internal/config"
)

// Minio writes objects to an S3-compatible bucket.
type Minio struct {
	client *minio.Client
	bucket string
}

// NewMinio connects to the configured endpoint and verifies the bucket
// exists. Buckets are provisioned by operators, not created here.
func NewMinio(ctx context.Context, cfg config.MinioConfig) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, eris.Wrap(err, "blob: connect to minio")
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, eris.Wrap(err, "blob: check bucket")
	}
	if !exists {
		return nil, eris.Errorf("blob: bucket %q does not exist", cfg.Bucket)
	}
	return &Minio{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads data under key. S3 object writes are atomic by contract.
func (s *Minio) Put(ctx context.Context, key string, data []byte, contentType string) (string, string, error) {
	if key == "" {
		return "", "", eris.New("blob: object key is required")
	}
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return "", "", eris.Wrap(err, "blob: put object")
	}
	return KindMinio, key, nil
}

// Get downloads the object registered under (kind, path).
func (s *Minio) Get(ctx context.Context, kind, path string) ([]byte, error) {
	if err := checkKind(kind, KindMinio); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, eris.Wrap(err, "blob: get object")
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, eris.Wrap(err, "blob: read object")
	}
	return data, nil
}

// Presign returns a time-limited GET URL for the object.
func (s *Minio) Presign(ctx context.Context, kind, path string, ttl time.Duration) (string, error) {
	if err := checkKind(kind, KindMinio); err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, path, ttl, nil)
	if err != nil {
		return "", eris.Wrap(err, "blob: presign object")
	}
	return u.String(), nil
}
