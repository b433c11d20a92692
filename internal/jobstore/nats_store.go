// Package jobstore provides the durable job status stores. The NATS
// JetStream KV implementation is the default backend; a Redis backend is
// available for deployments that already run Redis.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/readr-labs/page-pipeline/internal/core"
)

// DefaultTTL is how long a job record outlives its last write before
// polling returns not-found. Terminal records get no special extension.
const DefaultTTL = time.Hour

// NatsJobStore implements core.JobStore on a NATS JetStream key-value
// bucket. The bucket TTL evicts records a fixed duration after their last
// write, which matches the store contract: every write refreshes expiry.
type NatsJobStore struct {
	bucket string
	kv     nats.KeyValue
}

// NewNatsJobStore creates the status bucket (or binds to it when it already
// exists) and returns a store backed by it.
func NewNatsJobStore(
	jetstreamContext nats.JetStreamContext,
	bucketName string,
	ttl time.Duration,
) (*NatsJobStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	kv, err := jetstreamContext.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Job status records for the %s bucket.", bucketName),
		TTL:         ttl,
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			kv, err = jetstreamContext.KeyValue(bucketName)
			if err != nil {
				return nil, fmt.Errorf("failed to bind to existing status bucket '%s': %w", bucketName, err)
			}
		} else {
			return nil, fmt.Errorf("failed to create status bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsJobStore{
		bucket: bucketName,
		kv:     kv,
	}, nil
}

// Create inserts a fresh job record.
func (s *NatsJobStore) Create(_ context.Context, job core.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job '%s': %w", job.ID, err)
	}

	_, err = s.kv.Create(job.ID, data)
	if err != nil {
		if errors.Is(err, nats.ErrKeyExists) {
			return fmt.Errorf("job '%s': %w", job.ID, core.ErrJobExists)
		}

		return fmt.Errorf("failed to create job record '%s': %w", job.ID, err)
	}

	return nil
}

// UpdateProgress overwrites the record for jobID with the given field set.
// Only the worker owning the job ever writes a given id, so a plain
// read-modify-write is race-free per job.
func (s *NatsJobStore) UpdateProgress(ctx context.Context, jobID string, update core.ProgressUpdate) error {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if job.State.IsTerminal() {
		return fmt.Errorf("job '%s': %w", jobID, core.ErrJobTerminal)
	}

	applyUpdate(job, update)

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job '%s': %w", jobID, err)
	}

	_, err = s.kv.Put(jobID, data)
	if err != nil {
		return fmt.Errorf("failed to write job record '%s': %w", jobID, err)
	}

	return nil
}

// Get returns the current record for jobID.
func (s *NatsJobStore) Get(_ context.Context, jobID string) (*core.Job, error) {
	entry, err := s.kv.Get(jobID)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, fmt.Errorf("job '%s': %w", jobID, core.ErrJobNotFound)
		}

		return nil, fmt.Errorf("failed to read job record '%s': %w", jobID, err)
	}

	var job core.Job

	err = json.Unmarshal(entry.Value(), &job)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal job record '%s': %w", jobID, err)
	}

	return &job, nil
}

func applyUpdate(job *core.Job, update core.ProgressUpdate) {
	job.State = update.State
	job.Progress = update.Progress
	job.Message = update.Message
	job.Failure = update.Failure

	if update.Attempts > job.Attempts {
		job.Attempts = update.Attempts
	}

	if update.Result != nil {
		job.Result = update.Result
	}

	job.UpdatedAt = time.Now().UTC()
}
