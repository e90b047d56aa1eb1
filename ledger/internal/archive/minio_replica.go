package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// minioAPI is the subset of *minio.Client the replica needs.
type minioAPI interface {
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinioConfig configures a MinioReplica.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
	Retention Retention
}

// Validate checks the connection settings.
func (c MinioConfig) Validate() error {
	switch {
	case c.Endpoint == "":
		return fmt.Errorf("minio endpoint is required")
	case c.AccessKey == "" || c.SecretKey == "":
		return fmt.Errorf("minio credentials are required")
	case c.Bucket == "":
		return fmt.Errorf("minio bucket is required")
	}
	return nil
}

// MinioReplica mirrors archive files to a MinIO bucket. MinIO has no conditional
// put, so the key is checked with StatObject first; the window between the stat
// and the put is closed by bucket object locking when retention is enabled.
type MinioReplica struct {
	bucket    string
	prefix    string
	api       minioAPI
	retention Retention
	now       func() time.Time
}

// NewMinioReplica connects to MinIO with static credentials.
func NewMinioReplica(cfg MinioConfig) (*MinioReplica, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return newMinioReplica(cfg.Bucket, cfg.Prefix, client, cfg.Retention), nil
}

func newMinioReplica(bucket, prefix string, api minioAPI, retention Retention) *MinioReplica {
	return &MinioReplica{bucket: bucket, prefix: prefix, api: api, retention: retention, now: time.Now}
}

// Name implements Replica.
func (m *MinioReplica) Name() string { return "minio" }

// Put implements Replica.
func (m *MinioReplica) Put(ctx context.Context, obj Object) error {
	key := path.Join(m.prefix, obj.Key)
	_, err := m.api.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return fmt.Errorf("%w: minio://%s/%s", ErrObjectExists, m.bucket, key)
	}
	if minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("minio stat: %w", err)
	}

	opts := minio.PutObjectOptions{
		ContentType:    obj.ContentType,
		SendContentMd5: true,
	}
	if until := m.retention.Until(m.now()); !until.IsZero() {
		opts.Mode = minio.Compliance
		opts.RetainUntilDate = until
	}
	if _, err := m.api.PutObject(ctx, m.bucket, key, bytes.NewReader(obj.Body), int64(len(obj.Body)), opts); err != nil {
		return fmt.Errorf("minio put: %w", err)
	}
	return nil
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
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
