package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/links-ads/satctl/internal/auth"
	"github.com/links-ads/satctl/internal/event"
	"github.com/links-ads/satctl/internal/fs"
	"go.uber.org/zap"
	"gocloud.dev/blob"
	"gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// openBucketFunc opens one container with the given credential. Tests
// substitute an in-memory implementation.
type openBucketFunc func(ctx context.Context, cfg aws.Config, container string) (*blob.Bucket, error)

func defaultOpenBucket(ctx context.Context, cfg aws.Config, container string) (*blob.Bucket, error) {
	return s3blob.OpenBucketV2(ctx, s3.NewFromConfig(cfg), container, nil)
}

// S3Downloader streams objects from S3-compatible storage through a
// session-providing authenticator. Buckets are opened per container and
// cached until the credential is refreshed.
type S3Downloader struct {
	authenticator auth.Authenticator
	session       auth.SessionProvider
	opts          Options
	sink          event.Sink
	logger        *zap.Logger
	openBucket    openBucketFunc

	mu      sync.Mutex
	buckets map[string]*blob.Bucket

	initialized bool
}

// NewS3Downloader creates an object-storage downloader. The authenticator
// must provide a storage session; header-only authenticators are rejected.
func NewS3Downloader(authenticator auth.Authenticator, opts Options, sink event.Sink, logger *zap.Logger) (*S3Downloader, error) {
	session, ok := authenticator.(auth.SessionProvider)
	if !ok {
		return nil, fmt.Errorf("s3 downloader requires a session-providing authenticator, got %T", authenticator)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Downloader{
		authenticator: authenticator,
		session:       session,
		opts:          opts.withDefaults(),
		sink:          event.OrDiscard(sink),
		logger:        logger,
		openBucket:    defaultOpenBucket,
		buckets:       make(map[string]*blob.Bucket),
	}, nil
}

// Init verifies the storage credential. Buckets are opened lazily per
// container on first use.
func (d *S3Downloader) Init(ctx context.Context) error {
	if err := d.authenticator.EnsureAuthenticated(ctx, false); err != nil {
		return fmt.Errorf("failed to authenticate for object storage: %w", err)
	}
	d.resetBuckets()
	d.initialized = true
	return nil
}

// Download fetches the object at uri into dest. A malformed address fails
// immediately without consuming any retry attempt.
func (d *S3Downloader) Download(ctx context.Context, uri, dest, itemID string) error {
	if !d.initialized {
		return errors.New("downloader not initialized")
	}

	taskID := "download_" + itemID
	d.logger.Debug("downloading object", zap.String("uri", uri), zap.String("destination", dest))
	d.sink.Emit(event.NewTaskCreated(taskID, "s3_download"))

	container, key, err := parseS3URI(uri)
	if err != nil {
		d.logger.Error("invalid object address", zap.String("uri", uri), zap.Error(err))
		d.sink.Emit(event.NewTaskCompleted(taskID, false, "failed: "+err.Error()))
		return err
	}

	err = retryLoop(ctx, d.authenticator, d.opts, d.logger, func(ctx context.Context) error {
		return d.attempt(ctx, container, key, dest, taskID)
	}, d.resetBuckets)
	if err != nil {
		d.sink.Emit(event.NewTaskCompleted(taskID, false, "failed: "+err.Error()))
		return fmt.Errorf("failed to download %s: %w", uri, err)
	}

	d.logger.Debug("download complete", zap.String("uri", uri))
	d.sink.Emit(event.NewTaskCompleted(taskID, true, ""))
	return nil
}

// attempt streams one object to dest. Storage errors are classified onto
// the sentinel errors for the retry loop.
func (d *S3Downloader) attempt(ctx context.Context, container, key, dest, taskID string) error {
	b, err := d.bucket(ctx, container)
	if err != nil {
		return err
	}

	size := int64(-1)
	if attrs, err := b.Attributes(ctx, key); err != nil {
		d.logger.Debug("could not read object attributes", zap.String("key", key), zap.Error(err))
	} else {
		size = attrs.Size
		d.sink.Emit(event.NewTaskDuration(taskID, attrs.Size))
	}

	reader, err := b.NewReader(ctx, key, nil)
	if err != nil {
		return mapBlobError(err)
	}
	defer reader.Close()

	if err := fs.EnsureParent(dest); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	written, err := copyChunks(reader, f, d.opts.ChunkSize, taskID, d.sink)
	if err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close destination file: %w", err)
	}
	if size >= 0 && written != size {
		return fmt.Errorf("truncated object: received %d of %d bytes", written, size)
	}
	return nil
}

// bucket returns the cached bucket for container, opening it with the
// current storage session on first use.
func (d *S3Downloader) bucket(ctx context.Context, container string) (*blob.Bucket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.buckets[container]; ok {
		return b, nil
	}

	cfg, err := d.session.AuthSession()
	if err != nil {
		return nil, err
	}
	// The session carries endpoint and region when the authenticator owns
	// them; options only fill the gaps.
	if cfg.Region == "" {
		cfg.Region = d.opts.Region
	}
	if cfg.BaseEndpoint == nil && d.opts.EndpointURL != "" {
		cfg.BaseEndpoint = aws.String(d.opts.EndpointURL)
	}

	b, err := d.openBucket(ctx, cfg, container)
	if err != nil {
		return nil, fmt.Errorf("failed to open container %s: %w", container, err)
	}
	d.buckets[container] = b
	return b, nil
}

// resetBuckets closes cached buckets so the next use reopens them with the
// current credential.
func (d *S3Downloader) resetBuckets() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for container, b := range d.buckets {
		if err := b.Close(); err != nil {
			d.logger.Debug("failed to close container", zap.String("container", container), zap.Error(err))
		}
	}
	d.buckets = make(map[string]*blob.Bucket)
}

// Close releases all cached buckets.
func (d *S3Downloader) Close() error {
	d.resetBuckets()
	d.initialized = false
	return nil
}

// mapBlobError classifies storage errors onto the sentinel errors.
func mapBlobError(err error) error {
	switch gcerrors.Code(err) {
	case gcerrors.NotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case gcerrors.PermissionDenied:
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	default:
		return err
	}
}

// parseS3URI splits an s3://container/key address.
func parseS3URI(uri string) (container, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("%w: %s is not an s3:// address", ErrInvalidURI, uri)
	}
	container, key, ok = strings.Cut(rest, "/")
	if !ok || container == "" || key == "" {
		return "", "", fmt.Errorf("%w: %s must name a container and a key", ErrInvalidURI, uri)
	}
	return container, key, nil
}
