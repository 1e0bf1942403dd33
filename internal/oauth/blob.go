package oauth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/joshp123/gohome-resideo/internal/config"
)

var ErrBlobNotFound = errors.New("oauth blob not found")

// BlobStore mirrors refresh state to object storage.
type BlobStore interface {
	Load(ctx context.Context, provider string) ([]byte, error)
	Save(ctx context.Context, provider string, data []byte) error
}

// NopStore is used when no object storage is configured.
type NopStore struct{}

func (NopStore) Load(context.Context, string) ([]byte, error) { return nil, ErrBlobNotFound }

func (NopStore) Save(context.Context, string, []byte) error { return nil }

// NewBlobStore returns an S3 store when configured, otherwise a NopStore.
func NewBlobStore(cfg config.OAuthConfig) (BlobStore, error) {
	if !cfg.BlobEnabled() {
		return NopStore{}, nil
	}
	return NewS3Store(cfg)
}

type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewS3Store(cfg config.OAuthConfig) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.BlobEndpoint)
	bucket := strings.TrimSpace(cfg.BlobBucket)
	if endpoint == "" || bucket == "" || cfg.BlobAccessKeyFile == "" || cfg.BlobSecretKeyFile == "" {
		return nil, fmt.Errorf("missing blob configuration")
	}

	accessKey, err := readSecretFile(cfg.BlobAccessKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read blob access key: %w", err)
	}
	secretKey, err := readSecretFile(cfg.BlobSecretKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read blob secret key: %w", err)
	}

	host, secure, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.BlobRegion),
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	prefix := strings.TrimSpace(cfg.BlobPrefix)
	if prefix == "" {
		prefix = "gohome/oauth"
	}
	return &S3Store{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *S3Store) Load(ctx context.Context, provider string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(provider), minio.GetObjectOptions{})
	if err != nil {
		return nil, wrapBlobError(err)
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		return nil, wrapBlobError(err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

func (s *S3Store) Save(ctx context.Context, provider string, data []byte) error {
	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(ctx, s.bucket, s.key(provider), reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return wrapBlobError(err)
}

func (s *S3Store) key(provider string) string {
	return path.Join(s.prefix, provider+".json")
}

func wrapBlobError(err error) error {
	if err == nil {
		return nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrBlobNotFound
	}
	return err
}

func parseEndpoint(raw string) (string, bool, error) {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return raw, true, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid endpoint: %q", raw)
	}
	return u.Host, u.Scheme == "https", nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
