package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/links-ads/satctl/internal/event"
	"github.com/links-ads/satctl/internal/granule"
)

type fakeSource struct {
	mu       sync.Mutex
	calls    []string
	failLike string
	started  chan string
	release  chan struct{}

	active    int32
	maxActive int32
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) DownloadItem(ctx context.Context, item *granule.Granule, destDir string) error {
	cur := atomic.AddInt32(&s.active, 1)
	for {
		max := atomic.LoadInt32(&s.maxActive)
		if cur <= max || atomic.CompareAndSwapInt32(&s.maxActive, max, cur) {
			break
		}
	}
	defer atomic.AddInt32(&s.active, -1)

	if s.started != nil {
		s.started <- item.ID
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	s.calls = append(s.calls, item.ID)
	s.mu.Unlock()

	if s.failLike != "" && strings.Contains(item.ID, s.failLike) {
		return errors.New("simulated failure")
	}
	return nil
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fakeDownloader struct {
	mu         sync.Mutex
	initCalls  int
	closeCalls int
	initErr    error
}

func (d *fakeDownloader) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initCalls++
	return d.initErr
}

func (d *fakeDownloader) Download(ctx context.Context, uri, dest, itemID string) error { return nil }

func (d *fakeDownloader) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeCalls++
	return nil
}

func (d *fakeDownloader) counts() (inits, closes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initCalls, d.closeCalls
}

type recordingSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *recordingSink) Emit(e event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) all() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Event, len(s.events))
	copy(out, s.events)
	return out
}

func makeItems(n int, failEvery int) []*granule.Granule {
	items := make([]*granule.Granule, n)
	for i := range items {
		id := fmt.Sprintf("granule-%02d", i)
		if failEvery > 0 && i%failEvery == 0 {
			id = fmt.Sprintf("granule-%02d-fail", i)
		}
		items[i] = &granule.Granule{
			ID:     id,
			Source: "fake",
			Assets: map[string]granule.Asset{"product": {Href: "s3://eodata/" + id}},
		}
	}
	return items
}

func TestOrchestrator_PartitionInvariant(t *testing.T) {
	items := makeItems(10, 3)
	src := &fakeSource{failLike: "-fail"}
	o := New(src, &fakeDownloader{}, nil, nil)

	succeeded, failed := o.Run(context.Background(), items, t.TempDir(), 4)

	if len(succeeded)+len(failed) != len(items) {
		t.Fatalf("partition covers %d items, want %d", len(succeeded)+len(failed), len(items))
	}

	seen := make(map[*granule.Granule]int)
	for _, g := range succeeded {
		seen[g]++
		if strings.Contains(g.ID, "-fail") {
			t.Errorf("failing item %s reported as success", g.ID)
		}
	}
	for _, g := range failed {
		seen[g]++
		if !strings.Contains(g.ID, "-fail") {
			t.Errorf("passing item %s reported as failure", g.ID)
		}
	}
	for _, item := range items {
		if seen[item] != 1 {
			t.Errorf("item %s appears %d times across the partition, want exactly 1", item.ID, seen[item])
		}
	}
}

func TestOrchestrator_BatchEvents(t *testing.T) {
	items := makeItems(4, 2)
	sink := &recordingSink{}
	o := New(&fakeSource{failLike: "-fail"}, &fakeDownloader{}, sink, nil)

	succeeded, failed := o.Run(context.Background(), items, t.TempDir(), 2)

	events := sink.all()
	var started []event.BatchStarted
	var completed []event.BatchCompleted
	for _, e := range events {
		switch e := e.(type) {
		case event.BatchStarted:
			started = append(started, e)
		case event.BatchCompleted:
			completed = append(completed, e)
		}
	}

	if len(started) != 1 {
		t.Fatalf("recorded %d batch_started events, want exactly 1", len(started))
	}
	if started[0].TotalItems != len(items) || started[0].Description != "fake" {
		t.Errorf("batch_started = %+v", started[0])
	}
	if len(completed) != 1 {
		t.Fatalf("recorded %d batch_completed events, want exactly 1", len(completed))
	}
	if completed[0].SuccessCount != len(succeeded) || completed[0].FailureCount != len(failed) {
		t.Errorf("batch_completed = %+v, want counts (%d, %d)", completed[0], len(succeeded), len(failed))
	}
	if completed[0].TaskID != started[0].TaskID {
		t.Errorf("batch ids differ: %s vs %s", started[0].TaskID, completed[0].TaskID)
	}

	if events[0].EventName() != "batch_started" {
		t.Error("batch_started must be the first event")
	}
	if events[len(events)-1].EventName() != "batch_completed" {
		t.Error("batch_completed must be the last event")
	}
}

func TestOrchestrator_InitFailureFailsAll(t *testing.T) {
	items := makeItems(5, 0)
	src := &fakeSource{}
	dl := &fakeDownloader{initErr: errors.New("auth down")}
	sink := &recordingSink{}
	o := New(src, dl, sink, nil)

	succeeded, failed := o.Run(context.Background(), items, t.TempDir(), 2)

	if len(succeeded) != 0 || len(failed) != len(items) {
		t.Errorf("partition = (%d, %d), want (0, %d)", len(succeeded), len(failed), len(items))
	}
	if n := src.callCount(); n != 0 {
		t.Errorf("source called %d times after init failure, want 0", n)
	}

	var completed int
	for _, e := range sink.all() {
		if e.EventName() == "batch_completed" {
			completed++
		}
	}
	if completed != 1 {
		t.Errorf("recorded %d batch_completed events, want exactly 1", completed)
	}
}

func TestOrchestrator_InitAndCloseOnce(t *testing.T) {
	dl := &fakeDownloader{}
	o := New(&fakeSource{}, dl, nil, nil)

	o.Run(context.Background(), makeItems(6, 0), t.TempDir(), 3)

	inits, closes := dl.counts()
	if inits != 1 {
		t.Errorf("Init called %d times, want 1", inits)
	}
	if closes != 1 {
		t.Errorf("Close called %d times, want 1", closes)
	}
}

func TestOrchestrator_CancelReportsRemainingAsFailures(t *testing.T) {
	items := makeItems(5, 0)
	src := &fakeSource{
		started: make(chan string, len(items)),
		release: make(chan struct{}),
	}
	defer close(src.release)
	sink := &recordingSink{}
	o := New(src, &fakeDownloader{}, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	destDir := t.TempDir()
	type partition struct{ succeeded, failed []*granule.Granule }
	done := make(chan partition, 1)
	go func() {
		s, f := o.Run(ctx, items, destDir, 1)
		done <- partition{s, f}
	}()

	// Wait for the first item to be in flight, then interrupt the batch
	select {
	case <-src.started:
	case <-time.After(5 * time.Second):
		t.Fatal("no download started")
	}
	cancel()

	var got partition
	select {
	case got = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if len(got.succeeded) != 0 {
		t.Errorf("%d items succeeded after cancellation, want 0", len(got.succeeded))
	}
	if len(got.failed) != len(items) {
		t.Errorf("%d items failed, want all %d", len(got.failed), len(items))
	}

	var completed int
	for _, e := range sink.all() {
		if e.EventName() == "batch_completed" {
			completed++
		}
	}
	if completed != 1 {
		t.Errorf("recorded %d batch_completed events on the interrupted path, want exactly 1", completed)
	}
}

func TestOrchestrator_ZeroWorkersRunsSequentially(t *testing.T) {
	src := &fakeSource{}
	o := New(src, &fakeDownloader{}, nil, nil)

	succeeded, failed := o.Run(context.Background(), makeItems(5, 0), t.TempDir(), 0)
	if len(succeeded) != 5 || len(failed) != 0 {
		t.Fatalf("partition = (%d, %d), want (5, 0)", len(succeeded), len(failed))
	}
	if max := atomic.LoadInt32(&src.maxActive); max != 1 {
		t.Errorf("max concurrent downloads = %d, want 1", max)
	}
}

func TestOrchestrator_RunOne(t *testing.T) {
	o := New(&fakeSource{}, &fakeDownloader{}, nil, nil)

	item := makeItems(1, 0)[0]
	succeeded, failed := o.RunOne(context.Background(), item, t.TempDir())
	if len(succeeded) != 1 || len(failed) != 0 {
		t.Fatalf("partition = (%d, %d), want (1, 0)", len(succeeded), len(failed))
	}
	if succeeded[0] != item {
		t.Error("returned item is not the input item")
	}
}

func TestOrchestrator_DestDirFailureFailsAll(t *testing.T) {
	items := makeItems(3, 0)
	dl := &fakeDownloader{}
	o := New(&fakeSource{}, dl, nil, nil)

	// A file where the destination directory should be
	blocked := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	succeeded, failed := o.Run(context.Background(), items, blocked, 2)
	if len(succeeded) != 0 || len(failed) != len(items) {
		t.Errorf("partition = (%d, %d), want (0, %d)", len(succeeded), len(failed), len(items))
	}
	if inits, _ := dl.counts(); inits != 0 {
		t.Errorf("Init called %d times when the destination is unusable, want 0", inits)
	}
}
