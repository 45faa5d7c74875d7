package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/links-ads/satctl/internal/event"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"
)

// fakeSessionAuth is a fakeAuthenticator that also provides a storage
// session.
type fakeSessionAuth struct {
	fakeAuthenticator
}

func (a *fakeSessionAuth) AuthSession() (aws.Config, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.authenticated {
		return aws.Config{}, errors.New("not authenticated")
	}
	return aws.Config{Region: "default"}, nil
}

func newMemBucket(t *testing.T, objects map[string][]byte) *blob.Bucket {
	t.Helper()
	b := memblob.OpenBucket(nil)
	for key, data := range objects {
		if err := b.WriteAll(context.Background(), key, data, nil); err != nil {
			t.Fatalf("seeding bucket: %v", err)
		}
	}
	return b
}

func newS3Downloader(t *testing.T, auth *fakeSessionAuth, opts Options, rec *eventRecorder, buckets map[string]*blob.Bucket, openCalls *int32) *S3Downloader {
	t.Helper()
	d, err := NewS3Downloader(auth, opts, rec, nil)
	if err != nil {
		t.Fatalf("NewS3Downloader() error = %v", err)
	}
	d.openBucket = func(ctx context.Context, cfg aws.Config, container string) (*blob.Bucket, error) {
		atomic.AddInt32(openCalls, 1)
		b, ok := buckets[container]
		if !ok {
			return nil, fmt.Errorf("no such container %s", container)
		}
		return b, nil
	}
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestS3Downloader_DownloadsObject(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, 24576)
	buckets := map[string]*blob.Bucket{
		"eodata": newMemBucket(t, map[string][]byte{"Sentinel-3/OLCI/file.zip": payload}),
	}

	var openCalls int32
	rec := &eventRecorder{}
	d := newS3Downloader(t, &fakeSessionAuth{}, Options{ChunkSize: 8192}, rec, buckets, &openCalls)

	dest := filepath.Join(t.TempDir(), "file.zip")
	if err := d.Download(context.Background(), "s3://eodata/Sentinel-3/OLCI/file.zip", dest, "item-1"); err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("destination not written: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("destination holds %d bytes, want %d", len(data), len(payload))
	}

	wantNames := []string{"task_created", "task_duration", "task_progress", "task_progress", "task_progress", "task_completed"}
	events := rec.all()
	if len(events) != len(wantNames) {
		t.Fatalf("recorded %d events, want %d", len(events), len(wantNames))
	}
	for i, want := range wantNames {
		if got := events[i].EventName(); got != want {
			t.Errorf("event[%d] = %s, want %s", i, got, want)
		}
	}
	created := events[0].(event.TaskCreated)
	if created.TaskID != "download_item-1" || created.Description != "s3_download" {
		t.Errorf("created = %+v", created)
	}
	if duration := events[1].(event.TaskDuration); duration.Total != 24576 {
		t.Errorf("duration total = %d, want 24576", duration.Total)
	}
	if n := atomic.LoadInt32(&openCalls); n != 1 {
		t.Errorf("container opened %d times, want 1", n)
	}
}

func TestS3Downloader_MalformedAddress(t *testing.T) {
	var openCalls int32
	auth := &fakeSessionAuth{}
	rec := &eventRecorder{}
	d := newS3Downloader(t, auth, Options{MaxRetries: 5}, rec, nil, &openCalls)
	_, ensureBefore, _ := auth.counts()

	err := d.Download(context.Background(), "http://bucket-without-key", filepath.Join(t.TempDir(), "out"), "item-1")
	if !errors.Is(err, ErrInvalidURI) {
		t.Fatalf("Download() = %v, want ErrInvalidURI", err)
	}

	// No attempt may run for a malformed address
	if _, ensureAfter, _ := auth.counts(); ensureAfter != ensureBefore {
		t.Errorf("EnsureAuthenticated called %d times during the download, want 0", ensureAfter-ensureBefore)
	}
	if n := atomic.LoadInt32(&openCalls); n != 0 {
		t.Errorf("container opened %d times, want 0", n)
	}

	events := rec.all()
	if len(events) != 2 {
		t.Fatalf("recorded %d events, want created and completed only", len(events))
	}
	done := events[1].(event.TaskCompleted)
	if done.Success || !strings.HasPrefix(done.Description, "failed: invalid URI: ") {
		t.Errorf("terminal event = %+v", done)
	}
}

func TestDefaultOpenBucket(t *testing.T) {
	cfg := aws.Config{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider("key", "secret", ""),
	}
	b, err := defaultOpenBucket(context.Background(), cfg, "eodata")
	if err != nil {
		t.Fatalf("defaultOpenBucket() error = %v", err)
	}
	b.Close()
}

func TestS3Downloader_NoRetryOnMissingKey(t *testing.T) {
	buckets := map[string]*blob.Bucket{"eodata": newMemBucket(t, nil)}

	var openCalls int32
	auth := &fakeSessionAuth{}
	rec := &eventRecorder{}
	d := newS3Downloader(t, auth, Options{MaxRetries: 5}, rec, buckets, &openCalls)

	err := d.Download(context.Background(), "s3://eodata/missing.zip", filepath.Join(t.TempDir(), "out"), "item-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Download() = %v, want ErrNotFound", err)
	}

	// Init accounts for one EnsureAuthenticated; the single attempt for one more
	if _, ensure, _ := auth.counts(); ensure != 2 {
		t.Errorf("EnsureAuthenticated called %d times, want 2 (one attempt only)", ensure)
	}
	completed := rec.byName("task_completed")
	if len(completed) != 1 || completed[0].(event.TaskCompleted).Success {
		t.Errorf("want exactly one failed terminal event, got %v", completed)
	}
}

func TestS3Downloader_RetryBoundOnTransportFailure(t *testing.T) {
	var openCalls int32
	rec := &eventRecorder{}
	d := newS3Downloader(t, &fakeSessionAuth{}, Options{MaxRetries: 3, RetryBackoff: time.Millisecond}, rec, nil, &openCalls)

	err := d.Download(context.Background(), "s3://gone/key.zip", filepath.Join(t.TempDir(), "out"), "item-1")
	if err == nil {
		t.Fatal("Download() should fail when the container cannot be opened")
	}
	if n := atomic.LoadInt32(&openCalls); n != 3 {
		t.Errorf("container open attempted %d times, want exactly max_retries", n)
	}

	completed := rec.byName("task_completed")
	if len(completed) != 1 {
		t.Fatalf("recorded %d task_completed events, want exactly 1", len(completed))
	}
	done := completed[0].(event.TaskCompleted)
	if done.Success || !strings.HasPrefix(done.Description, "failed: ") {
		t.Errorf("terminal event = %+v", done)
	}
}

func TestS3Downloader_CachesBucketPerContainer(t *testing.T) {
	buckets := map[string]*blob.Bucket{
		"eodata": newMemBucket(t, map[string][]byte{"a.zip": []byte("aa"), "b.zip": []byte("bb")}),
		"aux":    newMemBucket(t, map[string][]byte{"c.zip": []byte("cc")}),
	}

	var openCalls int32
	d := newS3Downloader(t, &fakeSessionAuth{}, Options{}, &eventRecorder{}, buckets, &openCalls)

	dir := t.TempDir()
	for i, uri := range []string{"s3://eodata/a.zip", "s3://eodata/b.zip"} {
		if err := d.Download(context.Background(), uri, filepath.Join(dir, fmt.Sprintf("f%d", i)), "item"); err != nil {
			t.Fatalf("Download(%s) error = %v", uri, err)
		}
	}
	if n := atomic.LoadInt32(&openCalls); n != 1 {
		t.Errorf("container opened %d times for one container, want 1", n)
	}

	if err := d.Download(context.Background(), "s3://aux/c.zip", filepath.Join(dir, "f2"), "item"); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if n := atomic.LoadInt32(&openCalls); n != 2 {
		t.Errorf("container opened %d times across two containers, want 2", n)
	}
}

func TestS3Downloader_RequiresSessionProvider(t *testing.T) {
	if _, err := NewS3Downloader(&fakeAuthenticator{}, Options{}, nil, nil); err == nil {
		t.Fatal("NewS3Downloader() should reject a header-only authenticator")
	}
}

func TestS3Downloader_InitFailsClosed(t *testing.T) {
	auth := &fakeSessionAuth{fakeAuthenticator: fakeAuthenticator{failAuth: true}}
	d, err := NewS3Downloader(auth, Options{}, nil, nil)
	if err != nil {
		t.Fatalf("NewS3Downloader() error = %v", err)
	}
	if err := d.Init(context.Background()); err == nil {
		t.Fatal("Init() should fail when authentication fails")
	}
}

func TestS3Downloader_NotInitialized(t *testing.T) {
	rec := &eventRecorder{}
	d, err := NewS3Downloader(&fakeSessionAuth{}, Options{}, rec, nil)
	if err != nil {
		t.Fatalf("NewS3Downloader() error = %v", err)
	}

	if err := d.Download(context.Background(), "s3://eodata/a.zip", filepath.Join(t.TempDir(), "out"), "item-1"); err == nil {
		t.Fatal("Download() should fail before Init")
	}
	if len(rec.all()) != 0 {
		t.Errorf("recorded %d events for an uninitialized downloader", len(rec.all()))
	}
}

func TestMapBlobError(t *testing.T) {
	b := newMemBucket(t, nil)
	defer b.Close()

	_, err := b.NewReader(context.Background(), "missing", nil)
	if err == nil {
		t.Fatal("reading a missing key should fail")
	}
	if mapped := mapBlobError(err); !errors.Is(mapped, ErrNotFound) {
		t.Errorf("mapBlobError() = %v, want ErrNotFound", mapped)
	}

	plain := errors.New("connection reset")
	if mapped := mapBlobError(plain); mapped != plain {
		t.Errorf("mapBlobError() rewrote an unclassified error: %v", mapped)
	}
}
