package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a thin wrapper over the redis client for the short-TTL caches the
// API serves from. Callers must treat redis.Nil as a miss, not an error.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func New(addr, password string, db int, ttl time.Duration) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Store{client: client, ttl: ttl}
}

func NewWithClient(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func jobStatusKey(jobID string) string {
	return "jobstatus:" + jobID
}

// GetJobStatus returns the cached status payload for a job. Returns redis.Nil
// on a cache miss.
func (s *Store) GetJobStatus(ctx context.Context, jobID string, out any) error {
	raw, err := s.client.Get(ctx, jobStatusKey(jobID)).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// SetJobStatus caches a job status payload under the store's TTL. The TTL is
// short on purpose: a stale entry only delays status visibility, never
// correctness, since workers always read the database.
func (s *Store) SetJobStatus(ctx context.Context, jobID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, jobStatusKey(jobID), raw, s.ttl).Err()
}

// InvalidateJobStatus drops the cached entry after a worker mutates the job.
func (s *Store) InvalidateJobStatus(ctx context.Context, jobID string) error {
	return s.client.Del(ctx, jobStatusKey(jobID)).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
