package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/readr-labs/page-pipeline/internal/core"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "job:"

// RedisJobStore implements core.JobStore on Redis, one JSON value per job id
// with a per-key TTL refreshed on every write.
type RedisJobStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisJobStore returns a store backed by the given Redis client.
func NewRedisJobStore(client *redis.Client, ttl time.Duration) *RedisJobStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &RedisJobStore{
		client: client,
		ttl:    ttl,
	}
}

// Create inserts a fresh job record.
func (s *RedisJobStore) Create(ctx context.Context, job core.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job '%s': %w", job.ID, err)
	}

	// SETNX with TTL rejects duplicate ids in one round trip.
	created, err := s.client.SetNX(ctx, redisKeyPrefix+job.ID, data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to create job record '%s': %w", job.ID, err)
	}

	if !created {
		return fmt.Errorf("job '%s': %w", job.ID, core.ErrJobExists)
	}

	return nil
}

// UpdateProgress overwrites the record for jobID with the given field set.
func (s *RedisJobStore) UpdateProgress(ctx context.Context, jobID string, update core.ProgressUpdate) error {
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

	err = s.client.Set(ctx, redisKeyPrefix+jobID, data, s.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to write job record '%s': %w", jobID, err)
	}

	return nil
}

// Get returns the current record for jobID.
func (s *RedisJobStore) Get(ctx context.Context, jobID string) (*core.Job, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+jobID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("job '%s': %w", jobID, core.ErrJobNotFound)
		}

		return nil, fmt.Errorf("failed to read job record '%s': %w", jobID, err)
	}

	var job core.Job

	err = json.Unmarshal(data, &job)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal job record '%s': %w", jobID, err)
	}

	return &job, nil
}
