package store_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/finsight-ai/finsight/internal/agent/core"
	"github.com/finsight-ai/finsight/internal/store"
)

func TestThreadAndCacheAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		testcontainers.WithImage("pgvector/pgvector:pg16"),
		tcPostgres.WithDatabase("finsight"),
		tcPostgres.WithUsername("finsight"),
		tcPostgres.WithPassword("finsight"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	pgHost, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	pgPort, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://finsight:finsight@%s:%s/finsight?sslmode=disable", pgHost, pgPort.Port())

	if err := applyTestSchema(ctx, dsn); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	defer st.DB.Close()

	threadID := "it-thread-1"
	turn1 := []core.ChatMessage{
		{Role: "system", Content: "You are a financial research assistant."},
		{Role: "user", Content: "What is AAPL trading at?"},
		{Role: "assistant", Content: "AAPL is trading at 210.50 USD."},
	}
	if err := st.AppendThreadMessages(ctx, threadID, turn1); err != nil {
		t.Fatalf("append turn 1: %v", err)
	}
	if _, err := st.SaveThreadCheckpoint(ctx, threadID); err != nil {
		t.Fatalf("checkpoint 1: %v", err)
	}

	turn2 := []core.ChatMessage{
		{Role: "user", Content: "And MSFT?"},
		{Role: "assistant", Content: "MSFT is trading at 512.30 USD."},
	}
	if err := st.AppendThreadMessages(ctx, threadID, turn2); err != nil {
		t.Fatalf("append turn 2: %v", err)
	}
	if _, err := st.SaveThreadCheckpoint(ctx, threadID); err != nil {
		t.Fatalf("checkpoint 2: %v", err)
	}

	msgs, err := st.ListThreadMessages(ctx, threadID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}

	if _, err := st.RewindThread(ctx, threadID, 1); err != nil {
		t.Fatalf("rewind: %v", err)
	}
	msgs, err = st.ListThreadMessages(ctx, threadID)
	if err != nil {
		t.Fatalf("list after rewind: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages after rewind, got %d", len(msgs))
	}
	if n, err := st.CountThreadCheckpoints(ctx, threadID); err != nil || n != 1 {
		t.Fatalf("expected 1 checkpoint after rewind, got %d (err=%v)", n, err)
	}

	// Cosine ordering through a real pgvector index.
	expires := time.Now().Add(5 * time.Minute)
	if err := st.InsertCacheEntry(ctx, store.CacheEntry{
		QueryHash: "hash-a",
		QueryText: "price of AAPL",
		Response:  "AAPL answer",
		Embedding: []float32{1, 0, 0},
		Model:     "gpt-4o",
		ExpiresAt: expires,
	}); err != nil {
		t.Fatalf("insert entry a: %v", err)
	}
	if err := st.InsertCacheEntry(ctx, store.CacheEntry{
		QueryHash: "hash-b",
		QueryText: "price of TSLA",
		Response:  "TSLA answer",
		Embedding: []float32{0, 1, 0},
		Model:     "gpt-4o",
		ExpiresAt: expires,
	}); err != nil {
		t.Fatalf("insert entry b: %v", err)
	}

	matches, err := st.SearchCacheByEmbedding(ctx, []float32{0.9, 0.1, 0}, 1)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(matches) != 1 || matches[0].QueryHash != "hash-a" {
		t.Fatalf("expected nearest match hash-a, got %+v", matches)
	}
	if matches[0].Distance < 0 || matches[0].Distance > 0.5 {
		t.Fatalf("unexpected cosine distance %f", matches[0].Distance)
	}

	evicted, err := st.EnforceCacheMaxEntries(ctx, 1)
	if err != nil {
		t.Fatalf("enforce cap: %v", err)
	}
	if evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	stats, err := st.CacheStats(ctx)
	if err != nil {
		t.Fatalf("cache stats: %v", err)
	}
	if stats.Entries != 1 {
		t.Fatalf("expected 1 entry after cap, got %d", stats.Entries)
	}
}

func TestJanitorLockAgainstRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	defer func() { _ = rdb.Close() }()

	// Two replicas race for the sweep lock; only one wins.
	const lockKey = "finsight:cache:janitor:lock"
	first, err := rdb.SetNX(ctx, lockKey, "replica-1", 2*time.Minute).Result()
	if err != nil {
		t.Fatalf("first setnx: %v", err)
	}
	second, err := rdb.SetNX(ctx, lockKey, "replica-2", 2*time.Minute).Result()
	if err != nil {
		t.Fatalf("second setnx: %v", err)
	}
	if !first || second {
		t.Fatalf("lock not exclusive: first=%v second=%v", first, second)
	}
}

func applyTestSchema(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	schemaSQL := `
CREATE EXTENSION IF NOT EXISTS pgcrypto;
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS users (
  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  email TEXT UNIQUE NOT NULL,
  password_hash TEXT NOT NULL,
  created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS thread_messages (
  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  thread_id TEXT NOT NULL,
  seq BIGINT NOT NULL,
  payload JSONB NOT NULL,
  created_at TIMESTAMPTZ DEFAULT NOW(),
  UNIQUE (thread_id, seq)
);

CREATE TABLE IF NOT EXISTS thread_checkpoints (
  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  thread_id TEXT NOT NULL,
  message_count BIGINT NOT NULL,
  created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS pending_actions (
  thread_id TEXT PRIMARY KEY,
  tool_name TEXT NOT NULL,
  tool_args JSONB NOT NULL DEFAULT '{}'::jsonb,
  tool_call_id TEXT NOT NULL,
  created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS semantic_cache (
  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  query_hash VARCHAR(64) UNIQUE NOT NULL,
  query_text TEXT NOT NULL,
  response TEXT NOT NULL,
  embedding VECTOR(3),
  model TEXT NOT NULL DEFAULT '',
  hit_count BIGINT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ DEFAULT NOW(),
  last_hit_at TIMESTAMPTZ DEFAULT NOW(),
  expires_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
