// Package storage provides compose job storage backed by NATS KV. Jobs are
// retained for a bounded window via the bucket TTL; the store is best-effort
// bookkeeping, not the source of truth for composed output.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/repoforge/manifest"
)

// BucketJobs is the KV bucket holding compose jobs.
const BucketJobs = "REPOFORGE_JOBS"

// DefaultRetention bounds how long terminal jobs stay queryable.
const DefaultRetention = 24 * time.Hour

// JobStatus represents the lifecycle of a compose job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// ComposeJob records one composition request and its outcome.
type ComposeJob struct {
	ID          string             `json:"id"`
	Manifest    *manifest.Manifest `json:"manifest"`
	DryRun      bool               `json:"dry_run"`
	OutputRoot  string             `json:"output_root,omitempty"`
	Status      JobStatus          `json:"status"`
	Error       string             `json:"error,omitempty"`
	InitiatedAt time.Time          `json:"initiated_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// JobStore provides compose job operations backed by NATS KV.
type JobStore struct {
	kv jetstream.KeyValue
}

// NewJobStore creates a JobStore, creating the bucket with the retention TTL
// if it doesn't exist.
func NewJobStore(ctx context.Context, js jetstream.JetStream) (*JobStore, error) {
	kv, err := js.KeyValue(ctx, BucketJobs)
	if err != nil {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      BucketJobs,
			Description: "Repoforge compose job records",
			History:     5,
			TTL:         DefaultRetention,
		})
		if err != nil {
			return nil, fmt.Errorf("create jobs bucket: %w", err)
		}
	}
	return &JobStore{kv: kv}, nil
}

// CreateJob records a new queued job and returns it with identity assigned.
func (s *JobStore) CreateJob(ctx context.Context, m *manifest.Manifest, dryRun bool, outputRoot string) (*ComposeJob, error) {
	now := time.Now().UTC()
	job := &ComposeJob{
		ID:          uuid.NewString(),
		Manifest:    m,
		DryRun:      dryRun,
		OutputRoot:  outputRoot,
		Status:      JobStatusQueued,
		InitiatedAt: now,
		UpdatedAt:   now,
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	if _, err := s.kv.Create(ctx, job.ID, data); err != nil {
		return nil, fmt.Errorf("store job: %w", err)
	}
	return job, nil
}

// GetJob retrieves a job by ID.
func (s *JobStore) GetJob(ctx context.Context, id string) (*ComposeJob, error) {
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}

	var job ComposeJob
	if err := json.Unmarshal(entry.Value(), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

// SetStatus transitions a job, recording the error message on failure.
func (s *JobStore) SetStatus(ctx context.Context, id string, status JobStatus, jobErr error) error {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}

	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	job.Error = ""
	if jobErr != nil {
		job.Error = jobErr.Error()
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if _, err := s.kv.Put(ctx, id, data); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// ListJobs returns all jobs still inside the retention window.
func (s *JobStore) ListJobs(ctx context.Context) ([]*ComposeJob, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list job keys: %w", err)
	}

	jobs := make([]*ComposeJob, 0, len(keys))
	for _, key := range keys {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var job ComposeJob
		if err := json.Unmarshal(entry.Value(), &job); err != nil {
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key not found")
}
