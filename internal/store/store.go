package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/finsight-ai/finsight/internal/agent/core"
)

// Store wraps the Postgres connection used for threads, users and the
// semantic cache.
type Store struct {
	DB *sql.DB
}

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2) RETURNING id`, email, hash).Scan(&id)
	return id, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Thread operations. Messages are stored as ordered JSON payloads so the
// full chat wire shape (tool calls included) round-trips.

func (s *Store) AppendThreadMessages(ctx context.Context, threadID string, msgs []core.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM thread_messages WHERE thread_id=$1`, threadID).Scan(&seq); err != nil {
		return err
	}
	for _, m := range msgs {
		payload, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		seq++
		if _, err := tx.ExecContext(ctx, `INSERT INTO thread_messages (thread_id, seq, payload) VALUES ($1,$2,$3)`, threadID, seq, payload); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListThreadMessages(ctx context.Context, threadID string) ([]core.ChatMessage, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT payload FROM thread_messages WHERE thread_id=$1 ORDER BY seq ASC`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.ChatMessage
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var m core.ChatMessage
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveThreadCheckpoint records the current message count so the thread can
// later be rewound to this point.
func (s *Store) SaveThreadCheckpoint(ctx context.Context, threadID string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO thread_checkpoints (thread_id, message_count)
VALUES ($1, (SELECT COALESCE(MAX(seq), 0) FROM thread_messages WHERE thread_id=$1))
RETURNING id
`, threadID).Scan(&id)
	return id, err
}

func (s *Store) CountThreadCheckpoints(ctx context.Context, threadID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM thread_checkpoints WHERE thread_id=$1`, threadID).Scan(&n)
	return n, err
}

// RewindThread restores the thread to the checkpoint stepsBack positions
// before the newest one, dropping newer checkpoints, newer messages and any
// pending action. Returns the restored checkpoint id.
func (s *Store) RewindThread(ctx context.Context, threadID string, stepsBack int) (string, error) {
	if stepsBack <= 0 {
		return "", fmt.Errorf("steps_back must be positive")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
SELECT id, message_count FROM thread_checkpoints
WHERE thread_id=$1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, threadID, stepsBack+1)
	if err != nil {
		return "", err
	}
	type checkpoint struct {
		id           string
		messageCount int64
	}
	var cps []checkpoint
	for rows.Next() {
		var cp checkpoint
		if err := rows.Scan(&cp.id, &cp.messageCount); err != nil {
			rows.Close()
			return "", err
		}
		cps = append(cps, cp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(cps) <= stepsBack {
		return "", fmt.Errorf("cannot rewind %d steps: thread has only %d checkpoints", stepsBack, len(cps))
	}

	target := cps[stepsBack]
	dropped := make([]string, 0, stepsBack)
	for _, cp := range cps[:stepsBack] {
		dropped = append(dropped, cp.id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM thread_checkpoints WHERE id = ANY($1)`, pq.Array(dropped)); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM thread_messages WHERE thread_id=$1 AND seq > $2`, threadID, target.messageCount); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_actions WHERE thread_id=$1`, threadID); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return target.id, nil
}

// Pending action operations. One pending action per thread.

func (s *Store) SavePendingAction(ctx context.Context, pa core.PendingAction) error {
	args, err := json.Marshal(pa.ToolArgs)
	if err != nil {
		return fmt.Errorf("encode tool args: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO pending_actions (thread_id, tool_name, tool_args, tool_call_id, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (thread_id) DO UPDATE SET
  tool_name = EXCLUDED.tool_name,
  tool_args = EXCLUDED.tool_args,
  tool_call_id = EXCLUDED.tool_call_id,
  created_at = EXCLUDED.created_at
`, pa.ThreadID, pa.ToolName, args, pa.ToolCallID, pa.CreatedAt)
	return err
}

func (s *Store) GetPendingAction(ctx context.Context, threadID string) (core.PendingAction, bool, error) {
	var (
		pa        core.PendingAction
		argsBytes []byte
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT thread_id, tool_name, tool_args, tool_call_id, created_at
FROM pending_actions WHERE thread_id=$1
`, threadID).Scan(&pa.ThreadID, &pa.ToolName, &argsBytes, &pa.ToolCallID, &pa.CreatedAt)
	if err == sql.ErrNoRows {
		return core.PendingAction{}, false, nil
	}
	if err != nil {
		return core.PendingAction{}, false, err
	}
	if len(argsBytes) > 0 {
		if err := json.Unmarshal(argsBytes, &pa.ToolArgs); err != nil {
			return core.PendingAction{}, false, fmt.Errorf("decode tool args: %w", err)
		}
	}
	return pa, true, nil
}

func (s *Store) DeletePendingAction(ctx context.Context, threadID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM pending_actions WHERE thread_id=$1`, threadID)
	return err
}

// Semantic cache operations.

// CacheEntry is one cached query/response pair with its embedding.
type CacheEntry struct {
	ID        string
	QueryHash string
	QueryText string
	Response  string
	Embedding []float32
	Model     string
	HitCount  int64
	CreatedAt time.Time
	LastHitAt time.Time
	ExpiresAt time.Time
}

// CacheMatch is a cache entry found by vector search, with its cosine
// distance to the probe.
type CacheMatch struct {
	CacheEntry
	Distance float64
}

func (s *Store) GetCacheEntryByHash(ctx context.Context, hash string) (CacheEntry, bool, error) {
	var e CacheEntry
	err := s.DB.QueryRowContext(ctx, `
SELECT id, query_hash, query_text, response, model, hit_count, created_at, last_hit_at, expires_at
FROM semantic_cache
WHERE query_hash=$1 AND expires_at > now()
`, hash).Scan(&e.ID, &e.QueryHash, &e.QueryText, &e.Response, &e.Model, &e.HitCount, &e.CreatedAt, &e.LastHitAt, &e.ExpiresAt)
	if err == sql.ErrNoRows {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, err
	}
	return e, true, nil
}

func (s *Store) SearchCacheByEmbedding(ctx context.Context, vector []float32, topK int) ([]CacheMatch, error) {
	if topK <= 0 {
		topK = 1
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, query_hash, query_text, response, model, hit_count, created_at, last_hit_at, expires_at,
       embedding <=> $1::vector AS distance
FROM semantic_cache
WHERE expires_at > now()
ORDER BY embedding <=> $1::vector
LIMIT $2
`, vecLiteral, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CacheMatch
	for rows.Next() {
		var m CacheMatch
		if err := rows.Scan(&m.ID, &m.QueryHash, &m.QueryText, &m.Response, &m.Model, &m.HitCount, &m.CreatedAt, &m.LastHitAt, &m.ExpiresAt, &m.Distance); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) InsertCacheEntry(ctx context.Context, e CacheEntry) error {
	vecLiteral, err := encodeVectorLiteral(e.Embedding)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO semantic_cache (query_hash, query_text, response, embedding, model, expires_at)
VALUES ($1,$2,$3,$4::vector,$5,$6)
ON CONFLICT (query_hash) DO UPDATE SET
  response = EXCLUDED.response,
  embedding = EXCLUDED.embedding,
  model = EXCLUDED.model,
  expires_at = EXCLUDED.expires_at,
  last_hit_at = now()
`, e.QueryHash, e.QueryText, e.Response, vecLiteral, e.Model, e.ExpiresAt)
	return err
}

func (s *Store) BumpCacheHit(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE semantic_cache SET hit_count = hit_count + 1, last_hit_at = now() WHERE id=$1`, id)
	return err
}

func (s *Store) DeleteExpiredCacheEntries(ctx context.Context) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM semantic_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// EnforceCacheMaxEntries evicts the least recently hit entries beyond the cap.
func (s *Store) EnforceCacheMaxEntries(ctx context.Context, maxEntries int) (int64, error) {
	if maxEntries <= 0 {
		return 0, nil
	}
	res, err := s.DB.ExecContext(ctx, `
DELETE FROM semantic_cache
WHERE id NOT IN (SELECT id FROM semantic_cache ORDER BY last_hit_at DESC LIMIT $1)
`, maxEntries)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) FlushCache(ctx context.Context) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM semantic_cache`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CacheStatsRow aggregates cache usage counters.
type CacheStatsRow struct {
	Entries   int64
	TotalHits int64
	Expired   int64
}

func (s *Store) CacheStats(ctx context.Context) (CacheStatsRow, error) {
	var st CacheStatsRow
	err := s.DB.QueryRowContext(ctx, `
SELECT
  COUNT(*) FILTER (WHERE expires_at > now()),
  COALESCE(SUM(hit_count), 0),
  COUNT(*) FILTER (WHERE expires_at <= now())
FROM semantic_cache
`).Scan(&st.Entries, &st.TotalHits, &st.Expired)
	return st, err
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}

func decodeVectorLiteral(lit string) ([]float32, error) {
	lit = strings.TrimSpace(lit)
	if lit == "" {
		return nil, fmt.Errorf("empty vector literal")
	}
	lit = strings.TrimPrefix(lit, "[")
	lit = strings.TrimSuffix(lit, "]")
	parts := strings.Split(lit, ",")
	vec := make([]float32, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		f, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector value %q: %w", value, err)
		}
		vec = append(vec, float32(f))
	}
	return vec, nil
}
