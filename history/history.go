// Package history keeps the bounded per-channel replay window served to
// newly-connecting stream clients.
package history

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"entity-stream/domain"
	"entity-stream/internal/consts"
)

// Store is the replay buffer. Push never fails from the caller's point of
// view and Recent never returns an error; degraded operation stays internal
// to the store.
type Store interface {
	Push(ctx context.Context, msg domain.CanonicalMessage)
	Recent(ctx context.Context, tenantID string) []domain.CanonicalMessage
}

// New probes the Redis client and returns a Redis-backed store with
// in-memory degradation, or a pure in-memory store when rc is nil or
// unreachable at startup. Callers only ever see the Store interface.
func New(ctx context.Context, rc *redis.Client, logger *log.Logger) Store {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if rc == nil {
		logger.Warn("no redis configured, replay history is in-memory only")
		return newMemoryStore()
	}
	if err := rc.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Warn("redis unreachable, replay history is in-memory only")
		return newMemoryStore()
	}
	return &redisStore{rc: rc, fallback: newMemoryStore(), log: logger}
}

type redisStore struct {
	rc        *redis.Client
	fallback  *memoryStore
	log       *log.Logger
	fallbacks atomic.Int64
}

func historyKey(tenantID string) string {
	return consts.HistoryKeyPrefix + tenantID
}

// Push appends msg to its channel's list, trims it to the retention window
// and refreshes the key TTL. The three steps are not atomic as one unit; a
// crash in between is repaired by the next push. Any failure diverts the
// write to the in-memory fallback and is never surfaced to the caller.
func (s *redisStore) Push(ctx context.Context, msg domain.CanonicalMessage) {
	key := historyKey(msg.TenantID)
	data, err := json.Marshal(msg)
	if err == nil {
		_, err = s.rc.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LPush(ctx, key, data)
			pipe.LTrim(ctx, key, 0, consts.HistorySize-1)
			pipe.Expire(ctx, key, consts.HistoryTTL)
			return nil
		})
	}
	if err != nil {
		s.fallbacks.Add(1)
		s.log.WithError(err).WithField("channel", msg.TenantID).Warn("history write failed, using in-memory fallback")
		s.fallback.Push(ctx, msg)
	}
}

// Recent returns the retained window for the channel, oldest first. Corrupt
// entries are skipped individually; a read error falls back to the in-memory
// buffer. Unknown channels yield an empty slice.
func (s *redisStore) Recent(ctx context.Context, tenantID string) []domain.CanonicalMessage {
	entries, err := s.rc.LRange(ctx, historyKey(tenantID), 0, -1).Result()
	if err != nil {
		s.log.WithError(err).WithField("channel", tenantID).Warn("history read failed, serving in-memory fallback")
		return s.fallback.Recent(ctx, tenantID)
	}
	// LPUSH keeps the newest entry at the head; clients replay oldest first.
	msgs := make([]domain.CanonicalMessage, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		var msg domain.CanonicalMessage
		if err := json.Unmarshal([]byte(entries[i]), &msg); err != nil {
			s.log.WithField("channel", tenantID).Debug("skipping corrupt history entry")
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// Fallbacks reports how many pushes were diverted to the in-memory buffer,
// making a sustained redis outage visible to operators.
func (s *redisStore) Fallbacks() int64 {
	return s.fallbacks.Load()
}

// memoryStore holds per-channel buffers in process memory. It backs the
// degraded mode and is not synchronised with redis; entries written here
// during an outage are lost on restart.
type memoryStore struct {
	mu      sync.Mutex
	buffers map[string][]domain.CanonicalMessage
}

func newMemoryStore() *memoryStore {
	return &memoryStore{buffers: make(map[string][]domain.CanonicalMessage)}
}

func (s *memoryStore) Push(_ context.Context, msg domain.CanonicalMessage) {
	s.mu.Lock()
	buf := append(s.buffers[msg.TenantID], msg)
	if len(buf) > consts.HistorySize {
		buf = buf[len(buf)-consts.HistorySize:]
	}
	s.buffers[msg.TenantID] = buf
	s.mu.Unlock()
}

func (s *memoryStore) Recent(_ context.Context, tenantID string) []domain.CanonicalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CanonicalMessage(nil), s.buffers[tenantID]...)
}
