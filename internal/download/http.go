package download

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/links-ads/satctl/internal/auth"
	"github.com/links-ads/satctl/internal/event"
	"github.com/links-ads/satctl/internal/fs"
	"github.com/links-ads/satctl/internal/ratelimit"
	"go.uber.org/zap"
)

// HTTPDownloader streams objects over HTTP with bearer-token authentication
// and a pooled transport shared by all workers.
type HTTPDownloader struct {
	authenticator auth.Authenticator
	opts          Options
	sink          event.Sink
	logger        *zap.Logger
	limiter       *ratelimit.Limiter

	client *http.Client
}

// NewHTTPDownloader creates an HTTP downloader. Init must be called before
// the first Download.
func NewHTTPDownloader(authenticator auth.Authenticator, opts Options, sink event.Sink, logger *zap.Logger) *HTTPDownloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &HTTPDownloader{
		authenticator: authenticator,
		opts:          opts.withDefaults(),
		sink:          event.OrDiscard(sink),
		logger:        logger,
	}
	if d.opts.RequestInterval > 0 {
		d.limiter = ratelimit.New(d.opts.RequestInterval)
	}
	return d
}

// Init builds the pooled transport. Calling Init again replaces it.
func (d *HTTPDownloader) Init(ctx context.Context) error {
	// Timeouts bound connection setup and time to first header. The body
	// read is governed by the request context so large transfers are not
	// cut off mid-stream.
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: d.opts.Timeout,
		}).DialContext,
		TLSHandshakeTimeout:   d.opts.Timeout,
		ResponseHeaderTimeout: d.opts.Timeout,
		MaxIdleConns:          d.opts.PoolConnections,
		MaxIdleConnsPerHost:   d.opts.PoolMaxSize,
		IdleConnTimeout:       90 * time.Second,
	}
	d.client = &http.Client{Transport: transport}
	return nil
}

// Download fetches uri into dest, retrying transient failures and
// refreshing the token once per attempt on a 401/403 response.
func (d *HTTPDownloader) Download(ctx context.Context, uri, dest, itemID string) error {
	if d.client == nil {
		return errors.New("downloader not initialized")
	}

	taskID := "download_" + itemID
	d.logger.Debug("downloading resource", zap.String("uri", uri), zap.String("destination", dest))
	d.sink.Emit(event.NewTaskCreated(taskID, "download"))

	err := retryLoop(ctx, d.authenticator, d.opts, d.logger, func(ctx context.Context) error {
		return d.attempt(ctx, uri, dest, taskID)
	}, nil)
	if err != nil {
		d.sink.Emit(event.NewTaskCompleted(taskID, false, "failed: "+err.Error()))
		return fmt.Errorf("failed to download %s: %w", uri, err)
	}

	d.logger.Debug("download complete", zap.String("uri", uri))
	d.sink.Emit(event.NewTaskCompleted(taskID, true, ""))
	return nil
}

// attempt issues one GET and streams the body to dest. Credential
// rejections surface as ErrUnauthorized/ErrForbidden for the retry loop.
func (d *HTTPDownloader) attempt(ctx context.Context, uri, dest, taskID string) error {
	resp, err := d.get(ctx, uri)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatusCode(resp.StatusCode); err != nil {
		return err
	}

	total := resp.ContentLength
	if total >= 0 {
		d.sink.Emit(event.NewTaskDuration(taskID, total))
	}

	if err := fs.EnsureParent(dest); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	written, err := copyChunks(resp.Body, f, d.opts.ChunkSize, taskID, d.sink)
	if err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close destination file: %w", err)
	}
	if total >= 0 && written != total {
		return fmt.Errorf("truncated body: received %d of %d bytes", written, total)
	}
	return nil
}

func (d *HTTPDownloader) get(ctx context.Context, uri string) (*http.Response, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range d.authenticator.AuthHeaders() {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// Close releases pooled connections. A later Init rebuilds the transport.
func (d *HTTPDownloader) Close() error {
	if d.client != nil {
		d.client.CloseIdleConnections()
		d.client = nil
	}
	return nil
}
