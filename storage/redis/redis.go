// Package redis provides a fast ChatMessage/Job cache tier in front of
// a durable storage.Store, grounded on the teacher's Redis key-scheme
// approach (one string key per record, JSON-encoded). Every other
// sub-store accessor passes straight through to the wrapped backend;
// only the two hot paths the job queue and message pipeline poll
// repeatedly are cached here.
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/orlandos-nl/cyphertextkit/storage"
)

const defaultTTL = 5 * time.Minute

// Store wraps an inner storage.Store with a Redis read-through cache
// for ChatMessageStore and JobStore lookups. Writes go to the inner
// store first and then refresh the cache, so a cache miss or a crashed
// Redis instance never loses data — Redis here is a cache, not a
// system of record.
type Store struct {
	inner storage.Store
	rdb   *goredis.Client
	ttl   time.Duration
}

// New wraps inner with a Redis cache tier using rdb.
func New(inner storage.Store, rdb *goredis.Client) *Store {
	return &Store{inner: inner, rdb: rdb, ttl: defaultTTL}
}

func (s *Store) Init(ctx context.Context) error {
	if err := s.inner.Init(ctx); err != nil {
		return err
	}
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	rerr := s.rdb.Close()
	if ierr := s.inner.Close(); ierr != nil {
		return ierr
	}
	return rerr
}

func (s *Store) DeviceConfigStore() storage.DeviceConfigStore { return s.inner.DeviceConfigStore() }
func (s *Store) ContactStore() storage.ContactStore           { return s.inner.ContactStore() }
func (s *Store) ConversationStore() storage.ConversationStore { return s.inner.ConversationStore() }
func (s *Store) DeviceIdentityStore() storage.DeviceIdentityStore {
	return s.inner.DeviceIdentityStore()
}
func (s *Store) ChatMessageStore() storage.ChatMessageStore {
	return &chatMessageCache{inner: s.inner.ChatMessageStore(), rdb: s.rdb, ttl: s.ttl}
}
func (s *Store) JobStore() storage.JobStore {
	return &jobCache{inner: s.inner.JobStore(), rdb: s.rdb, ttl: s.ttl}
}

func remoteIDKey(remoteID string) string { return "cyphertext:msg:remote:" + remoteID }
func jobsKey() string                    { return "cyphertext:jobs:all" }

type chatMessageCache struct {
	inner storage.ChatMessageStore
	rdb   *goredis.Client
	ttl   time.Duration
}

func (c *chatMessageCache) PutChatMessage(ctx context.Context, rec storage.ChatMessageRecord) error {
	if err := c.inner.PutChatMessage(ctx, rec); err != nil {
		return err
	}
	if rec.RemoteID != "" {
		if b, err := json.Marshal(rec); err == nil {
			c.rdb.Set(ctx, remoteIDKey(rec.RemoteID), b, c.ttl)
		}
	}
	return nil
}

func (c *chatMessageCache) GetChatMessage(ctx context.Context, id uuid.UUID) (storage.ChatMessageRecord, bool, error) {
	return c.inner.GetChatMessage(ctx, id)
}

func (c *chatMessageCache) GetChatMessageByRemoteID(ctx context.Context, remoteID string) (storage.ChatMessageRecord, bool, error) {
	if b, err := c.rdb.Get(ctx, remoteIDKey(remoteID)).Bytes(); err == nil {
		var rec storage.ChatMessageRecord
		if json.Unmarshal(b, &rec) == nil {
			return rec, true, nil
		}
	}
	rec, ok, err := c.inner.GetChatMessageByRemoteID(ctx, remoteID)
	if err != nil || !ok {
		return rec, ok, err
	}
	if b, err := json.Marshal(rec); err == nil {
		c.rdb.Set(ctx, remoteIDKey(remoteID), b, c.ttl)
	}
	return rec, true, nil
}

func (c *chatMessageCache) ListChatMessagesByConversation(ctx context.Context, conversationID uuid.UUID) ([]storage.ChatMessageRecord, error) {
	return c.inner.ListChatMessagesByConversation(ctx, conversationID)
}

// jobCache caches the full outstanding-job list, since the queue loads
// it in its entirety on startup. The cache is
// invalidated on every write rather than partially updated, since the
// job set is small and churns constantly while the queue runs.
type jobCache struct {
	inner storage.JobStore
	rdb   *goredis.Client
	ttl   time.Duration
}

func (c *jobCache) PutJob(ctx context.Context, rec storage.JobRecord) error {
	if err := c.inner.PutJob(ctx, rec); err != nil {
		return err
	}
	c.rdb.Del(ctx, jobsKey())
	return nil
}

func (c *jobCache) DeleteJob(ctx context.Context, id uuid.UUID) error {
	if err := c.inner.DeleteJob(ctx, id); err != nil {
		return err
	}
	c.rdb.Del(ctx, jobsKey())
	return nil
}

func (c *jobCache) ListJobs(ctx context.Context) ([]storage.JobRecord, error) {
	if b, err := c.rdb.Get(ctx, jobsKey()).Bytes(); err == nil {
		var jobs []storage.JobRecord
		if json.Unmarshal(b, &jobs) == nil {
			return jobs, nil
		}
	}
	jobs, err := c.inner.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(jobs); err == nil {
		c.rdb.Set(ctx, jobsKey(), b, c.ttl)
	}
	return jobs, nil
}
