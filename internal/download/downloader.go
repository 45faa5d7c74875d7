// Package download implements retrying, streaming downloaders for product
// assets. Both downloaders share one attempt loop: authenticate, issue the
// request, force a single credential refresh when the provider rejects the
// credential, and stream the body in fixed-size chunks with progress events.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/links-ads/satctl/internal/auth"
	"github.com/links-ads/satctl/internal/config"
	"github.com/links-ads/satctl/internal/event"
	"github.com/links-ads/satctl/internal/registry"
	"go.uber.org/zap"
)

// Sentinel errors classifying provider responses. The attempt loop switches
// on these to pick between retrying, refreshing the credential, and giving
// up immediately.
var (
	// ErrInvalidURI marks an address that cannot identify an object.
	// The download fails before the first attempt.
	ErrInvalidURI = errors.New("invalid URI")

	// ErrNotFound marks a missing object. Permanent, never retried.
	ErrNotFound = errors.New("object not found")

	// ErrUnauthorized and ErrForbidden mark credential rejections that a
	// forced refresh may resolve.
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// ErrServerError marks a retryable provider-side failure.
	ErrServerError = errors.New("server error")
)

// Downloader streams remote objects to local files.
type Downloader interface {
	// Init establishes reusable transport resources. It is called once
	// before any Download; calling it again rebuilds the transport. Init
	// must not run concurrently with Download.
	Init(ctx context.Context) error

	// Download streams the object at uri into dest, creating parent
	// directories as needed. Transient failures are retried up to the
	// configured budget; the last error is returned once it is exhausted.
	Download(ctx context.Context, uri, dest, itemID string) error

	// Close releases transport resources. Safe to call without Init.
	Close() error
}

// Options tunes the transfer behavior shared by all downloaders.
type Options struct {
	MaxRetries      int
	ChunkSize       int
	Timeout         time.Duration
	PoolConnections int
	PoolMaxSize     int
	RequestInterval time.Duration
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration
	EndpointURL     string
	Region          string
}

// DefaultOptions returns the transfer defaults applied to unset fields.
func DefaultOptions() Options {
	return Options{
		MaxRetries:      3,
		ChunkSize:       8192,
		Timeout:         30 * time.Second,
		PoolConnections: 10,
		PoolMaxSize:     2,
		RetryBackoff:    time.Second,
		RetryMaxBackoff: 30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxRetries <= 0 {
		o.MaxRetries = def.MaxRetries
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = def.ChunkSize
	}
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.PoolConnections <= 0 {
		o.PoolConnections = def.PoolConnections
	}
	if o.PoolMaxSize <= 0 {
		o.PoolMaxSize = def.PoolMaxSize
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = def.RetryBackoff
	}
	if o.RetryMaxBackoff <= 0 {
		o.RetryMaxBackoff = def.RetryMaxBackoff
	}
	return o
}

// OptionsFromConfig maps the download and s3 sections of the configuration
// onto transfer options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxRetries:      cfg.Download.MaxRetries,
		ChunkSize:       cfg.Download.ChunkSize,
		Timeout:         cfg.Download.GetTimeout(),
		PoolConnections: cfg.Download.PoolConnections,
		PoolMaxSize:     cfg.Download.PoolMaxSize,
		RequestInterval: cfg.Download.GetRequestInterval(),
		RetryBackoff:    cfg.Download.GetRetryBackoff(),
		RetryMaxBackoff: cfg.Download.GetRetryMaxBackoff(),
		EndpointURL:     cfg.S3.EndpointURL,
		Region:          cfg.S3.Region,
	}
}

// Factory builds a downloader bound to an authenticator.
type Factory func(authenticator auth.Authenticator, opts Options, sink event.Sink, logger *zap.Logger) (Downloader, error)

// NewRegistry returns a registry with the built-in downloaders registered.
func NewRegistry() *registry.Registry[Factory] {
	reg := registry.New[Factory]("downloader")
	reg.Register("http", func(a auth.Authenticator, opts Options, sink event.Sink, logger *zap.Logger) (Downloader, error) {
		return NewHTTPDownloader(a, opts, sink, logger), nil
	})
	reg.Register("s3", func(a auth.Authenticator, opts Options, sink event.Sink, logger *zap.Logger) (Downloader, error) {
		d, err := NewS3Downloader(a, opts, sink, logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	})
	return reg
}

// checkStatusCode maps an HTTP response status onto the sentinel errors.
func checkStatusCode(statusCode int) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, statusCode)
	case statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrForbidden, statusCode)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: status %d", ErrNotFound, statusCode)
	case statusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrServerError, statusCode)
	default:
		return fmt.Errorf("unexpected status %d", statusCode)
	}
}

func isAuthFailure(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}

// retryLoop runs fn up to opts.MaxRetries times with the shared
// authentication flow: a plain EnsureAuthenticated before each attempt, and
// on a credential rejection a single forced refresh followed by one more
// request within the same iteration. Attempts after the first wait for a
// jittered exponential backoff. A missing object stops the loop immediately.
// onRefresh, when set, runs after a successful forced refresh so
// implementations can rebuild credential-bound state before the retry.
func retryLoop(ctx context.Context, authenticator auth.Authenticator, opts Options, logger *zap.Logger, fn func(context.Context) error, onRefresh func()) error {
	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 1 {
			if err := backoff(ctx, opts, attempt-1); err != nil {
				break
			}
		}
		if err := authenticator.EnsureAuthenticated(ctx, false); err != nil {
			logger.Error("authentication failed", zap.Int("attempt", attempt), zap.Error(err))
			lastErr = err
			continue
		}

		err := fn(ctx)
		if err != nil && isAuthFailure(err) {
			logger.Warn("credential rejected, forcing a refresh", zap.Int("attempt", attempt))
			if refreshErr := authenticator.EnsureAuthenticated(ctx, true); refreshErr != nil {
				logger.Error("failed to refresh credential", zap.Error(refreshErr))
				lastErr = err
				continue
			}
			if onRefresh != nil {
				onRefresh()
			}
			err = fn(ctx)
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrNotFound) {
			logger.Error("object not found, not retrying", zap.Error(err))
			break
		}
		if ctx.Err() != nil {
			break
		}
		logger.Debug("attempt failed", zap.Int("attempt", attempt), zap.Int("max_retries", opts.MaxRetries), zap.Error(err))
	}
	return lastErr
}

// backoff waits for an exponentially increasing duration with 0.5x-1.5x
// jitter before retry number retries. A zero base interval disables the
// wait.
func backoff(ctx context.Context, opts Options, retries int) error {
	if opts.RetryBackoff <= 0 {
		return nil
	}
	wait := opts.RetryBackoff * time.Duration(1<<uint(retries-1))
	if opts.RetryMaxBackoff > 0 && wait > opts.RetryMaxBackoff {
		wait = opts.RetryMaxBackoff
	}
	wait = time.Duration(float64(wait) * (0.5 + rand.Float64()))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// copyChunks streams r into w in chunkSize pieces, emitting one
// task_progress per chunk. io.ReadFull guarantees every advance except the
// final one equals chunkSize exactly. A short final read cannot be told
// apart from a truncated stream here, so the byte count is returned and
// callers that know the announced size must reject a shortfall.
func copyChunks(r io.Reader, w io.Writer, chunkSize int, taskID string, sink event.Sink) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("failed to write chunk: %w", werr)
			}
			written += int64(n)
			sink.Emit(event.NewTaskProgress(taskID, int64(n)))
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return written, nil
		}
		if err != nil {
			return written, fmt.Errorf("failed to read chunk: %w", err)
		}
	}
}
