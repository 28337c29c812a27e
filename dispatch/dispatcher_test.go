package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/c360studio/repoforge/manifest"
)

// fakeForwarder fails a set number of times, then succeeds, recording when
// each attempt happened.
type fakeForwarder struct {
	mu       sync.Mutex
	failures int
	terminal bool
	attempts []time.Time
	done     chan struct{}
	total    int
}

func newFakeForwarder(failures, expected int, terminal bool) *fakeForwarder {
	return &fakeForwarder{
		failures: failures,
		terminal: terminal,
		done:     make(chan struct{}),
		total:    expected,
	}
}

func (f *fakeForwarder) Name() string { return "fake" }

func (f *fakeForwarder) Forward(ctx context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, time.Now())
	if len(f.attempts) == f.total {
		defer close(f.done)
	}

	if len(f.attempts) <= f.failures {
		if f.terminal {
			return &Error{Kind: FailureUnauthorized, Err: context.DeadlineExceeded}
		}
		return &Error{Kind: FailureUnreachable, Err: context.DeadlineExceeded}
	}
	return nil
}

func (f *fakeForwarder) times() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.attempts...)
}

func testRecord() Record {
	return NewRecord(&manifest.Manifest{
		ManifestVersion: manifest.Version,
		SystemName:      "demo-x",
		Org:             "acme",
	})
}

func TestDispatch_RetriesWithBackoff(t *testing.T) {
	fw := newFakeForwarder(2, 3, false)
	d := New(fw, slog.Default())
	defer d.Close()

	status := d.Dispatch(context.Background(), testRecord())
	if status != StatusFailed {
		t.Fatalf("first attempt fails, expected failed, got %s", status)
	}

	select {
	case <-fw.done:
	case <-time.After(10 * time.Second):
		t.Fatal("retries never completed")
	}

	times := fw.times()
	if len(times) != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", len(times))
	}
	if gap := times[1].Sub(times[0]); gap < 500*time.Millisecond {
		t.Errorf("backoff before attempt 2 was %s, want >= 500ms", gap)
	}
	if gap := times[2].Sub(times[1]); gap < 1*time.Second {
		t.Errorf("backoff before attempt 3 was %s, want >= 1s", gap)
	}
}

func TestDispatch_UnauthorizedIsTerminal(t *testing.T) {
	fw := newFakeForwarder(3, 1, true)
	d := New(fw, slog.Default())

	status := d.Dispatch(context.Background(), testRecord())
	if status != StatusFailed {
		t.Fatalf("expected failed, got %s", status)
	}

	d.Close()
	if got := len(fw.times()); got != 1 {
		t.Errorf("unauthorized must not retry: %d attempts", got)
	}
}

func TestDispatch_FirstAttemptSucceeds(t *testing.T) {
	fw := newFakeForwarder(0, 1, false)
	d := New(fw, slog.Default())
	defer d.Close()

	if status := d.Dispatch(context.Background(), testRecord()); status != StatusOK {
		t.Fatalf("expected ok, got %s", status)
	}
}

func TestDispatch_AfterCloseDropsRetry(t *testing.T) {
	fw := newFakeForwarder(10, 1, false)
	d := New(fw, slog.Default())

	d.Close()
	d.Close() // idempotent

	// The synchronous first attempt still runs, but the retryable failure
	// must be dropped instead of sent on the closed queue.
	if status := d.Dispatch(context.Background(), testRecord()); status != StatusFailed {
		t.Fatalf("expected failed, got %s", status)
	}
	if got := len(fw.times()); got != 1 {
		t.Errorf("closed dispatcher must not retry: %d attempts", got)
	}
}

func TestDispatch_ConcurrentWithClose(t *testing.T) {
	fw := newFakeForwarder(1000, 1, false)
	d := New(fw, slog.Default(), WithRetryConfig(RetryConfig{
		MaxAttempts:       2,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        time.Millisecond,
		AttemptTimeout:    time.Second,
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				d.Dispatch(context.Background(), testRecord())
			}
		}()
	}
	d.Close()
	wg.Wait()
}

func TestDispatch_SkippedWithoutForwarder(t *testing.T) {
	d := New(nil, slog.Default())
	if d.Configured() {
		t.Error("nil forwarder must report unconfigured")
	}
	if status := d.Dispatch(context.Background(), testRecord()); status != StatusSkipped {
		t.Fatalf("expected skipped, got %s", status)
	}
}

func TestDispatch_LogFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "dispatch.log")
	fw := newFakeForwarder(1, 2, false)
	d := New(fw, slog.Default(), WithLogFile(logPath))

	d.Dispatch(context.Background(), testRecord())
	select {
	case <-fw.done:
	case <-time.After(10 * time.Second):
		t.Fatal("retry never ran")
	}
	d.Close()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("dispatch log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), data)
	}

	var first, second logEntry
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatal(err)
	}
	if first.Attempt != 1 || first.Outcome != string(FailureUnreachable) {
		t.Errorf("unexpected first line: %+v", first)
	}
	if second.Attempt != 2 || second.Outcome != "delivered" {
		t.Errorf("unexpected second line: %+v", second)
	}
}

func TestWebhookForwarder_Statuses(t *testing.T) {
	tests := []struct {
		status int
		kind   FailureKind
	}{
		{http.StatusNoContent, ""},
		{http.StatusUnauthorized, FailureUnauthorized},
		{http.StatusForbidden, FailureUnauthorized},
		{http.StatusBadGateway, FailureUnreachable},
		{http.StatusTeapot, FailureMalformedResponse},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/repos/acme/templates/dispatches" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if r.Header.Get("Authorization") != "Bearer sekrit" {
				t.Errorf("missing bearer token")
			}
			w.WriteHeader(tt.status)
		}))

		fw := NewWebhookForwarder("acme/templates", "sekrit")
		fw.BaseURL = srv.URL

		err := fw.Forward(context.Background(), testRecord())
		if tt.kind == "" {
			if err != nil {
				t.Errorf("status %d: unexpected error %v", tt.status, err)
			}
		} else if KindOf(err) != tt.kind {
			t.Errorf("status %d: kind %q, want %q", tt.status, KindOf(err), tt.kind)
		}
		srv.Close()
	}
}

func TestDirForwarder(t *testing.T) {
	dir := t.TempDir()
	fw := &DirForwarder{Dir: dir}

	if err := fw.Forward(context.Background(), testRecord()); err != nil {
		t.Fatalf("forward: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one queued file, got %d", len(entries))
	}

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.EventType != EventType {
		t.Errorf("event type %q", rec.EventType)
	}
	if rec.Payload.ManifestPath != "manifests/demo-x.json" {
		t.Errorf("manifest path %q", rec.Payload.ManifestPath)
	}
}
