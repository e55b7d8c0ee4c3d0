package history

import (
	"context"
	"strconv"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"entity-stream/domain"
	"entity-stream/internal/consts"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client, func()) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	return m, rc, func() {
		rc.Close()
		m.Close()
	}
}

func msg(id string) domain.CanonicalMessage {
	return domain.CanonicalMessage{EntityType: domain.EntityProduct, Action: domain.ActionUpdated, TenantID: "7", EntityID: id}
}

func TestBoundedRetention(t *testing.T) {
	_, rc, cleanup := setupRedis(t)
	defer cleanup()
	logger, _ := test.NewNullLogger()
	store := New(context.Background(), rc, logger)

	ctx := context.Background()
	for i := 1; i <= 25; i++ {
		store.Push(ctx, msg(strconv.Itoa(i)))
	}
	got := store.Recent(ctx, "7")
	if len(got) != consts.HistorySize {
		t.Fatalf("expected %d messages, got %d", consts.HistorySize, len(got))
	}
	for i, m := range got {
		want := strconv.Itoa(6 + i)
		if m.EntityID != want {
			t.Fatalf("expected id %s at position %d, got %s", want, i, m.EntityID)
		}
	}
}

func TestUnknownChannelReturnsEmpty(t *testing.T) {
	_, rc, cleanup := setupRedis(t)
	defer cleanup()
	logger, _ := test.NewNullLogger()
	store := New(context.Background(), rc, logger)

	if got := store.Recent(context.Background(), "never-pushed"); len(got) != 0 {
		t.Fatalf("expected empty history, got %d messages", len(got))
	}
}

func TestTTLRefreshedOnPush(t *testing.T) {
	_, rc, cleanup := setupRedis(t)
	defer cleanup()
	logger, _ := test.NewNullLogger()
	store := New(context.Background(), rc, logger)

	ctx := context.Background()
	store.Push(ctx, msg("1"))
	if ttl := rc.TTL(ctx, consts.HistoryKeyPrefix+"7").Val(); ttl != consts.HistoryTTL {
		t.Fatalf("expected ttl %v, got %v", consts.HistoryTTL, ttl)
	}
}

func TestChannelIsolation(t *testing.T) {
	_, rc, cleanup := setupRedis(t)
	defer cleanup()
	logger, _ := test.NewNullLogger()
	store := New(context.Background(), rc, logger)

	ctx := context.Background()
	store.Push(ctx, msg("1"))
	other := msg("2")
	other.TenantID = "8"
	store.Push(ctx, other)

	if got := store.Recent(ctx, "7"); len(got) != 1 || got[0].EntityID != "1" {
		t.Fatalf("unexpected history for channel 7: %+v", got)
	}
	if got := store.Recent(ctx, "8"); len(got) != 1 || got[0].EntityID != "2" {
		t.Fatalf("unexpected history for channel 8: %+v", got)
	}
}

func TestFallbackServesPushesDuringOutage(t *testing.T) {
	m, rc, cleanup := setupRedis(t)
	defer cleanup()
	logger, hook := test.NewNullLogger()
	store := New(context.Background(), rc, logger)

	m.Close()
	ctx := context.Background()
	store.Push(ctx, msg("42"))

	got := store.Recent(ctx, "7")
	if len(got) != 1 || got[0].EntityID != "42" {
		t.Fatalf("expected fallback to serve pushed message, got %+v", got)
	}
	rs, ok := store.(*redisStore)
	if !ok {
		t.Fatalf("expected redis-backed store, got %T", store)
	}
	if rs.Fallbacks() != 1 {
		t.Fatalf("expected 1 recorded fallback, got %d", rs.Fallbacks())
	}
	if len(hook.Entries) == 0 {
		t.Fatal("expected fallback warnings to be logged")
	}
}

func TestCorruptEntriesAreSkipped(t *testing.T) {
	_, rc, cleanup := setupRedis(t)
	defer cleanup()
	logger, _ := test.NewNullLogger()
	store := New(context.Background(), rc, logger)

	ctx := context.Background()
	store.Push(ctx, msg("1"))
	if err := rc.LPush(ctx, consts.HistoryKeyPrefix+"7", "{not json").Err(); err != nil {
		t.Fatalf("inject corrupt entry: %v", err)
	}
	got := store.Recent(ctx, "7")
	if len(got) != 1 || got[0].EntityID != "1" {
		t.Fatalf("expected corrupt entry to be skipped, got %+v", got)
	}
}

func TestMemoryStoreWhenRedisUnavailable(t *testing.T) {
	m, rc, cleanup := setupRedis(t)
	m.Close()
	defer cleanup()
	logger, _ := test.NewNullLogger()
	store := New(context.Background(), rc, logger)

	if _, ok := store.(*memoryStore); !ok {
		t.Fatalf("expected in-memory store, got %T", store)
	}
	ctx := context.Background()
	for i := 1; i <= 25; i++ {
		store.Push(ctx, msg(strconv.Itoa(i)))
	}
	got := store.Recent(ctx, "7")
	if len(got) != consts.HistorySize {
		t.Fatalf("expected %d messages, got %d", consts.HistorySize, len(got))
	}
	if got[0].EntityID != "6" || got[len(got)-1].EntityID != "25" {
		t.Fatalf("unexpected window bounds: %s..%s", got[0].EntityID, got[len(got)-1].EntityID)
	}
}
