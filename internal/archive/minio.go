package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/cybershakti/deepfake-go/internal/conf"
)

const objectPrefix = "snapshots/"

// MinioRemote mirrors archived snapshots to an S3-compatible bucket
type MinioRemote struct {
	client *minio.Client
	bucket string
}

// NewMinioRemote builds a client from settings. It does not contact the server; call
// EnsureBucket before first use.
func NewMinioRemote(cfg *conf.MinioSettings) (*MinioRemote, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if strings.Contains(cfg.Endpoint, "://") {
		return nil, fmt.Errorf("minio endpoint must not include scheme: %q", cfg.Endpoint)
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, err
	}
	return &MinioRemote{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist
func (m *MinioRemote) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{})
}

// Put uploads data under key. Each upload is tagged with a unique archive id.
func (m *MinioRemote) Put(ctx context.Context, key string, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, objectPrefix+key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType:  "application/json",
			UserMetadata: map[string]string{"archive-id": uuid.NewString()},
		})
	return err
}

// Get downloads key, returning ErrObjectNotFound when it does not exist
func (m *MinioRemote) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, objectPrefix+key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioError(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapMinioError(err)
	}
	return data, nil
}

func mapMinioError(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %w", ErrObjectNotFound, err)
	}
	return err
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

var _ Remote = (*MinioRemote)(nil)
