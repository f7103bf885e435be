package lake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/fxlake/tickpipe/config"
	"github.com/fxlake/tickpipe/market"
)

// BlobStore is the data-lake surface the batcher, importer, and
// materializer depend on. Tests swap in an in-memory implementation.
type BlobStore interface {
	// Put writes a blob. Keys are write-once by construction; Put never
	// checks for an existing object.
	Put(ctx context.Context, key string, body []byte) error

	// Get reads a whole blob.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns every key under the prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

var _ BlobStore = (*ObjectStore)(nil)

// ObjectStore is the S3-compatible production BlobStore. Every request
// carries a short finite timeout so a hung write fails the flush attempt
// instead of wedging the batcher.
type ObjectStore struct {
	client  *minio.Client
	bucket  string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewObjectStore connects to the configured S3-compatible endpoint.
func NewObjectStore(logger zerolog.Logger, cfg config.ObjectStore) (*ObjectStore, error) {
	timeout, err := time.ParseDuration(cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("object store request_timeout: %w", err)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: object store client: %v", market.ErrTransport, err)
	}

	return &ObjectStore{
		client:  client,
		bucket:  cfg.Bucket,
		timeout: timeout,
		logger:  logger.With().Str("module", "lake").Logger(),
	}, nil
}

func (s *ObjectStore) Put(ctx context.Context, key string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.PutObject(
		ctx,
		s.bucket,
		key,
		bytes.NewReader(body),
		int64(len(body)),
		minio.PutObjectOptions{ContentType: tickContentType},
	)
	if err != nil {
		return fmt.Errorf("%w: putting %s: %v", market.ErrTransport, key, err)
	}
	return nil
}

func (s *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: getting %s: %v", market.ErrTransport, key, err)
	}
	defer obj.Close()

	body, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", market.ErrTransport, key, err)
	}
	return body, nil
}

// List walks the bucket under prefix. Listing a large bucket is a paged
// server-side scan, so the per-request timeout deliberately does not
// apply here; the caller's context bounds it.
func (s *ObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("%w: listing %s: %v", market.ErrTransport, prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}
