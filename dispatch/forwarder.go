package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// FailureKind classifies a forwarding failure.
type FailureKind string

const (
	// FailureUnauthorized means the downstream rejected our credentials.
	// Terminal: retrying cannot succeed.
	FailureUnauthorized FailureKind = "unauthorized"

	// FailureUnreachable covers network errors and downstream 5xx.
	FailureUnreachable FailureKind = "unreachable"

	// FailureMalformedResponse means the downstream answered with something
	// outside its contract.
	FailureMalformedResponse FailureKind = "malformed_downstream_response"
)

// Error is a classified forwarding failure.
type Error struct {
	Kind FailureKind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("dispatch %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Terminal reports whether retrying the dispatch is pointless.
func (e *Error) Terminal() bool { return e.Kind == FailureUnauthorized }

// KindOf extracts the failure kind from an error chain.
func KindOf(err error) FailureKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// Forwarder hands a dispatch record to one external job system.
type Forwarder interface {
	// Forward delivers the record or returns a classified *Error.
	Forward(ctx context.Context, rec Record) error

	// Name identifies the transport in logs.
	Name() string
}

// WebhookForwarder posts repository_dispatch events to the GitHub API.
type WebhookForwarder struct {
	// Repo is the "owner/name" target repository.
	Repo   string
	Token  string
	Client *http.Client

	// BaseURL overrides the GitHub API endpoint, for tests.
	BaseURL string
}

// NewWebhookForwarder targets a repository's dispatch endpoint.
func NewWebhookForwarder(repo, token string) *WebhookForwarder {
	return &WebhookForwarder{
		Repo:    repo,
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
		BaseURL: "https://api.github.com",
	}
}

func (w *WebhookForwarder) Name() string { return "webhook" }

func (w *WebhookForwarder) Forward(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return &Error{Kind: FailureMalformedResponse, Err: err}
	}

	url := fmt.Sprintf("%s/repos/%s/dispatches", w.BaseURL, w.Repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &Error{Kind: FailureUnreachable, Err: err}
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+w.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return &Error{Kind: FailureUnreachable, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &Error{Kind: FailureUnauthorized, Err: fmt.Errorf("downstream returned %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return &Error{Kind: FailureUnreachable, Err: fmt.Errorf("downstream returned %d", resp.StatusCode)}
	default:
		return &Error{Kind: FailureMalformedResponse, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
}

// StreamPublisher is the slice of the NATS client the stream forwarder needs.
type StreamPublisher interface {
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// StreamSubject is where dispatch records land on the broker.
const StreamSubject = "repoforge.dispatch"

// StreamForwarder publishes dispatch records to a JetStream stream.
type StreamForwarder struct {
	Publisher StreamPublisher
}

func (s *StreamForwarder) Name() string { return "stream" }

func (s *StreamForwarder) Forward(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return &Error{Kind: FailureMalformedResponse, Err: err}
	}
	if err := s.Publisher.PublishToStream(ctx, StreamSubject, data); err != nil {
		return &Error{Kind: FailureUnreachable, Err: err}
	}
	return nil
}

// DirForwarder drops dispatch records as JSON files into a queue directory,
// for workers that poll the filesystem.
type DirForwarder struct {
	Dir string
}

func (d *DirForwarder) Name() string { return "dir" }

func (d *DirForwarder) Forward(ctx context.Context, rec Record) error {
	if err := os.MkdirAll(d.Dir, 0755); err != nil {
		return &Error{Kind: FailureUnreachable, Err: err}
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return &Error{Kind: FailureMalformedResponse, Err: err}
	}

	name := fmt.Sprintf("%s-%s.json", time.Now().UTC().Format("20060102T150405"), uuid.NewString())
	tmp := filepath.Join(d.Dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return &Error{Kind: FailureUnreachable, Err: err}
	}
	if err := os.Rename(tmp, filepath.Join(d.Dir, name)); err != nil {
		os.Remove(tmp)
		return &Error{Kind: FailureUnreachable, Err: err}
	}
	return nil
}
