package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Status is the outcome the API reports for a dispatch.
type Status string

const (
	// StatusOK means the first attempt delivered the record.
	StatusOK Status = "ok"

	// StatusSkipped means no forwarder is configured; the manifest is still
	// accepted and the caller may dispatch later.
	StatusSkipped Status = "skipped"

	// StatusFailed means the first attempt failed. Background retries may
	// still deliver unless the failure was terminal.
	StatusFailed Status = "failed"
)

// RetryConfig bounds the retry schedule for one record.
type RetryConfig struct {
	// MaxAttempts is the total attempt budget, first attempt included.
	MaxAttempts int

	// BackoffBase is the wait before the second attempt.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to the backoff on each retry.
	BackoffMultiplier float64

	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration

	// AttemptTimeout bounds one delivery attempt.
	AttemptTimeout time.Duration
}

// DefaultRetryConfig returns the dispatch retry schedule: three attempts,
// 500ms base, doubling, capped at 5s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        5 * time.Second,
		AttemptTimeout:    5 * time.Second,
	}
}

// DefaultQueueSize bounds the background retry queue.
const DefaultQueueSize = 256

// Dispatcher delivers dispatch records. The caller sees only the first
// attempt's outcome; later attempts run detached and append to the dispatch
// log.
type Dispatcher struct {
	forwarder Forwarder
	retry     RetryConfig
	logger    *slog.Logger
	logPath   string

	queue chan retryTask
	wg    sync.WaitGroup

	// mu guards closed; Dispatch must never send on queue after Close
	// has closed it.
	mu     sync.Mutex
	closed bool

	logMu sync.Mutex
}

type retryTask struct {
	rec     Record
	attempt int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRetryConfig overrides the retry schedule.
func WithRetryConfig(rc RetryConfig) Option {
	return func(d *Dispatcher) { d.retry = rc }
}

// WithLogFile appends per-attempt outcomes to a dispatch log file.
func WithLogFile(path string) Option {
	return func(d *Dispatcher) { d.logPath = path }
}

// WithQueueSize bounds the background retry queue.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) { d.queue = make(chan retryTask, n) }
}

// New builds a dispatcher over a forwarder. A nil forwarder yields an
// unconfigured dispatcher that reports every dispatch as skipped.
func New(fw Forwarder, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		forwarder: fw,
		retry:     DefaultRetryConfig(),
		logger:    logger,
		queue:     make(chan retryTask, DefaultQueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	if fw != nil {
		d.wg.Add(1)
		go d.retryLoop()
	}
	return d
}

// Configured reports whether a forwarder is wired.
func (d *Dispatcher) Configured() bool { return d.forwarder != nil }

// Dispatch runs the first delivery attempt synchronously and returns its
// outcome. Retryable failures are handed to the background retry queue.
func (d *Dispatcher) Dispatch(ctx context.Context, rec Record) Status {
	if d.forwarder == nil {
		return StatusSkipped
	}

	err := d.attempt(ctx, rec, 1)
	if err == nil {
		return StatusOK
	}

	var de *Error
	if errors.As(err, &de) && de.Terminal() {
		d.logger.Warn("Dispatch failed terminally",
			"transport", d.forwarder.Name(),
			"kind", de.Kind,
			"error", err)
		return StatusFailed
	}

	if !d.enqueue(retryTask{rec: rec, attempt: 2}) {
		// Bounded queue: overflow (or a closed dispatcher) logs and drops.
		d.logger.Warn("Dispatch retry dropped",
			"system", rec.Payload.Manifest.SystemName)
	}
	return StatusFailed
}

// enqueue hands a record to the background worker. It reports false when
// the dispatcher is closed or the bounded queue is full.
func (d *Dispatcher) enqueue(task retryTask) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- task:
		return true
	default:
		return false
	}
}

// Close drains the retry queue and stops the background worker. It is safe
// to call concurrently with Dispatch, and more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) retryLoop() {
	defer d.wg.Done()
	for task := range d.queue {
		d.runRetries(task)
	}
}

// runRetries performs attempts task.attempt..MaxAttempts with exponential
// backoff, stopping early on success or a terminal failure.
func (d *Dispatcher) runRetries(task retryTask) {
	backoff := d.retry.BackoffBase
	for a := 2; a < task.attempt; a++ {
		backoff = d.nextBackoff(backoff)
	}

	for attempt := task.attempt; attempt <= d.retry.MaxAttempts; attempt++ {
		time.Sleep(backoff)
		backoff = d.nextBackoff(backoff)

		err := d.attempt(context.Background(), task.rec, attempt)
		if err == nil {
			return
		}
		var de *Error
		if errors.As(err, &de) && de.Terminal() {
			return
		}
	}
	d.logger.Warn("Dispatch abandoned after final attempt",
		"system", task.rec.Payload.Manifest.SystemName,
		"attempts", d.retry.MaxAttempts)
}

func (d *Dispatcher) nextBackoff(cur time.Duration) time.Duration {
	next := time.Duration(float64(cur) * d.retry.BackoffMultiplier)
	if next > d.retry.MaxBackoff {
		next = d.retry.MaxBackoff
	}
	return next
}

// attempt runs one bounded delivery attempt and records its outcome.
func (d *Dispatcher) attempt(ctx context.Context, rec Record, attempt int) error {
	ctx, cancel := context.WithTimeout(ctx, d.retry.AttemptTimeout)
	defer cancel()

	err := d.forwarder.Forward(ctx, rec)
	d.appendLog(rec, attempt, err)

	if err != nil {
		d.logger.Debug("Dispatch attempt failed",
			"transport", d.forwarder.Name(),
			"attempt", attempt,
			"error", err)
	}
	return err
}

// logEntry is one line of the dispatch log.
type logEntry struct {
	Time      string `json:"time"`
	System    string `json:"system"`
	Transport string `json:"transport"`
	Attempt   int    `json:"attempt"`
	Outcome   string `json:"outcome"`
	Error     string `json:"error,omitempty"`
}

func (d *Dispatcher) appendLog(rec Record, attempt int, attemptErr error) {
	if d.logPath == "" {
		return
	}

	entry := logEntry{
		Time:      time.Now().UTC().Format(time.RFC3339),
		System:    rec.Payload.Manifest.SystemName,
		Transport: d.forwarder.Name(),
		Attempt:   attempt,
		Outcome:   "delivered",
	}
	if attemptErr != nil {
		entry.Outcome = string(KindOf(attemptErr))
		if entry.Outcome == "" {
			entry.Outcome = "error"
		}
		entry.Error = attemptErr.Error()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return
	}

	d.logMu.Lock()
	defer d.logMu.Unlock()
	f, err := os.OpenFile(d.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		d.logger.Warn("Cannot append dispatch log", "path", d.logPath, "error", err)
		return
	}
	defer f.Close()
	f.Write(append(line, '\n'))
}
