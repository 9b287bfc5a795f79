package upload

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config holds the connection settings of an S3 compatible endpoint.
type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Secure          bool   `yaml:"secure"`
}

// S3Transport downloads s3://bucket/key URLs from an S3 compatible store.
type S3Transport struct {
	client *minio.Client
	dir    string
}

// NewS3Transport connects to the endpoint in cfg. Downloads land in dir.
func NewS3Transport(cfg S3Config, dir string) (*S3Transport, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       cfg.Secure,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &S3Transport{client: client, dir: dir}, nil
}

func (t *S3Transport) Fetch(ctx context.Context, rawURL string) (string, error) {
	bucket, key, err := ParseS3URL(rawURL)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(t.dir, "s3-"+uuid.NewString()+path.Ext(key))
	if err := t.client.FGetObject(ctx, bucket, key, dest, minio.GetObjectOptions{}); err != nil {
		return "", fmt.Errorf("failed to download object %q from bucket %q: %w", key, bucket, err)
	}
	return dest, nil
}

// ParseS3URL splits s3://bucket/key into its parts.
func ParseS3URL(rawURL string) (bucket string, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: s3 url needs bucket and key", ErrInvalidURL)
	}
	return bucket, key, nil
}
