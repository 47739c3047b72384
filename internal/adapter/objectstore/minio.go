// Package objectstore uploads exported data files to S3-compatible storage.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/querypanda/internal/domain"
	"github.com/fairyhunter13/querypanda/internal/observability"
)

// Options configures the S3/MinIO connection.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Region    string
	UseSSL    bool
}

// BucketAPI is the subset of *minio.Client the uploader needs.
type BucketAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, key, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Uploader copies local files to <bucket>/<prefix>/<filename>.
type Uploader struct {
	api    BucketAPI
	bucket string
	prefix string
	region string

	mu      sync.Mutex
	ensured bool
}

var _ domain.Uploader = (*Uploader)(nil)

// New builds a minio client for opts without connecting. The endpoint may be a
// bare host:port or a URL, in which case an https scheme turns on TLS.
func New(opts Options) (*Uploader, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("op=objectstore.New: %w: endpoint and bucket are required", domain.ErrInvalidArgument)
	}
	endpoint := opts.Endpoint
	useSSL := opts.UseSSL
	if u, err := url.Parse(opts.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			useSSL = true
		}
	}
	tr, err := minio.DefaultTransport(useSSL)
	if err != nil {
		return nil, fmt.Errorf("op=objectstore.New: %w", err)
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure:    useSSL,
		Region:    opts.Region,
		Transport: otelhttp.NewTransport(tr, otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("S3 %s %s", r.Method, r.URL.Host)
		})),
	})
	if err != nil {
		return nil, fmt.Errorf("op=objectstore.New: %w", err)
	}
	return NewWithAPI(client, opts), nil
}

// NewWithAPI builds an uploader over an existing client.
func NewWithAPI(api BucketAPI, opts Options) *Uploader {
	return &Uploader{
		api:    api,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
		region: opts.Region,
	}
}

// Key returns the object key a local file is uploaded under.
func (u *Uploader) Key(localPath string) string {
	name := filepath.Base(localPath)
	if u.prefix == "" {
		return name
	}
	return path.Join(u.prefix, name)
}

// Upload stores localPath and returns its s3:// URL. The bucket is created on
// first use when missing.
func (u *Uploader) Upload(ctx domain.Context, localPath string) (string, error) {
	if err := u.ensureBucket(ctx); err != nil {
		return "", err
	}
	contentType := "application/octet-stream"
	if m, err := mimetype.DetectFile(localPath); err == nil {
		contentType = m.String()
	}
	key := u.Key(localPath)
	info, err := u.api.FPutObject(ctx, u.bucket, key, localPath, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("op=objectstore.Upload: %w", classify(err))
	}
	observability.LoggerFromContext(ctx).Info("uploaded file",
		slog.String("file", localPath),
		slog.String("bucket", u.bucket),
		slog.String("key", key),
		slog.Int64("size", info.Size))
	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}

func (u *Uploader) ensureBucket(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.ensured {
		return nil
	}
	exists, err := u.api.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("op=objectstore.ensureBucket: %w", classify(err))
	}
	if !exists {
		if err := u.api.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{Region: u.region}); err != nil {
			code := minio.ToErrorResponse(err).Code
			if code != "BucketAlreadyOwnedByYou" && code != "BucketAlreadyExists" {
				return fmt.Errorf("op=objectstore.ensureBucket: %w", classify(err))
			}
		}
	}
	u.ensured = true
	return nil
}

// classify maps storage errors onto the domain taxonomy.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchBucket", "NoSuchKey":
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return fmt.Errorf("%w: %w", domain.ErrInvalidArgument, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
}
