package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/finsight-ai/finsight/config"
	"github.com/finsight-ai/finsight/internal/store"
)

var (
	lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finsight_cache_lookups_total",
		Help: "Semantic cache lookups by outcome (exact, similar, miss).",
	}, []string{"outcome"})
	evictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finsight_cache_evictions_total",
		Help: "Entries evicted by the janitor (expired plus over-cap).",
	})
	lookupSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "finsight_cache_lookup_seconds",
		Help:    "Semantic cache lookup latency.",
		Buckets: prometheus.DefBuckets,
	})
)

// Embedder turns texts into vectors. Satisfied by the LLM provider.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Hit is a successful cache lookup. On a miss, Embedding still carries the
// query vector computed during the similarity search so Put can reuse it.
type Hit struct {
	Response   string
	Similarity float64
	Exact      bool
	Embedding  []float32
}

// Service is a two-stage semantic response cache: exact match on the query
// hash first, then cosine similarity over pgvector.
type Service struct {
	Store    *store.Store
	Embedder Embedder
	Logger   *log.Logger
	Config   config.CacheConfig

	mu         sync.Mutex
	lookups    int64
	hits       int64
	latencySum time.Duration
}

func NewService(st *store.Store, emb Embedder, cfg config.CacheConfig, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[CACHE] ", log.LstdFlags)
	}
	return &Service{Store: st, Embedder: emb, Logger: logger, Config: cfg}
}

// QueryHash is the exact-match key: sha256 of the trimmed query.
func QueryHash(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

// Lookup checks the cache for a prior answer to an equivalent query.
func (s *Service) Lookup(ctx context.Context, query string) (Hit, bool, error) {
	if !s.Config.Enabled {
		return Hit{}, false, nil
	}
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		lookupSeconds.Observe(elapsed.Seconds())
		s.mu.Lock()
		s.lookups++
		s.latencySum += elapsed
		s.mu.Unlock()
	}()

	hash := QueryHash(query)
	if entry, ok, err := s.Store.GetCacheEntryByHash(ctx, hash); err != nil {
		return Hit{}, false, fmt.Errorf("hash lookup: %w", err)
	} else if ok {
		if err := s.Store.BumpCacheHit(ctx, entry.ID); err != nil {
			s.Logger.Printf("bump hit for %s: %v", entry.ID, err)
		}
		lookupsTotal.WithLabelValues("exact").Inc()
		s.recordHit()
		return Hit{Response: entry.Response, Similarity: 1.0, Exact: true}, true, nil
	}

	vecs, err := s.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return Hit{}, false, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return Hit{}, false, fmt.Errorf("embedder returned no vectors")
	}
	matches, err := s.Store.SearchCacheByEmbedding(ctx, vecs[0], 1)
	if err != nil {
		return Hit{}, false, fmt.Errorf("vector search: %w", err)
	}
	if len(matches) > 0 {
		similarity := 1.0 - matches[0].Distance
		if similarity >= s.Config.SimilarityThreshold {
			if err := s.Store.BumpCacheHit(ctx, matches[0].ID); err != nil {
				s.Logger.Printf("bump hit for %s: %v", matches[0].ID, err)
			}
			lookupsTotal.WithLabelValues("similar").Inc()
			s.recordHit()
			return Hit{Response: matches[0].Response, Similarity: similarity, Embedding: vecs[0]}, true, nil
		}
	}
	lookupsTotal.WithLabelValues("miss").Inc()
	return Hit{Embedding: vecs[0]}, false, nil
}

func (s *Service) recordHit() {
	s.mu.Lock()
	s.hits++
	s.mu.Unlock()
}

// Put stores a fresh answer under the query's hash and embedding. A non-nil
// embedding, usually the one Lookup already computed for this query, skips
// the extra embedding call.
func (s *Service) Put(ctx context.Context, query, response, model string, embedding []float32) error {
	if !s.Config.Enabled {
		return nil
	}
	if len(embedding) == 0 {
		vecs, err := s.Embedder.Embed(ctx, []string{query})
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		if len(vecs) == 0 {
			return fmt.Errorf("embedder returned no vectors")
		}
		embedding = vecs[0]
	}
	entry := store.CacheEntry{
		QueryHash: QueryHash(query),
		QueryText: query,
		Response:  response,
		Embedding: embedding,
		Model:     model,
		ExpiresAt: time.Now().Add(s.Config.TTL),
	}
	if err := s.Store.InsertCacheEntry(ctx, entry); err != nil {
		return fmt.Errorf("insert cache entry: %w", err)
	}
	evicted, err := s.Store.EnforceCacheMaxEntries(ctx, s.Config.MaxEntries)
	if err != nil {
		s.Logger.Printf("enforce max entries: %v", err)
		return nil
	}
	if evicted > 0 {
		evictionsTotal.Add(float64(evicted))
	}
	return nil
}

// Stats summarizes cache effectiveness for the stats endpoint.
type Stats struct {
	Enabled             bool    `json:"enabled"`
	Entries             int64   `json:"entries"`
	TotalHits           int64   `json:"total_hits"`
	Expired             int64   `json:"expired"`
	Lookups             int64   `json:"lookups"`
	SessionHits         int64   `json:"session_hits"`
	HitRate             float64 `json:"hit_rate"`
	EstimatedSavedUSD   float64 `json:"estimated_saved_usd"`
	AvgLookupMS         float64 `json:"avg_lookup_ms"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	TTLSeconds          float64 `json:"ttl_seconds"`
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	row, err := s.Store.CacheStats(ctx)
	if err != nil {
		return Stats{}, err
	}
	s.mu.Lock()
	lookups, hits, latencySum := s.lookups, s.hits, s.latencySum
	s.mu.Unlock()

	st := Stats{
		Enabled:             s.Config.Enabled,
		Entries:             row.Entries,
		TotalHits:           row.TotalHits,
		Expired:             row.Expired,
		Lookups:             lookups,
		SessionHits:         hits,
		EstimatedSavedUSD:   float64(row.TotalHits) * s.Config.CostPerCall,
		SimilarityThreshold: s.Config.SimilarityThreshold,
		TTLSeconds:          s.Config.TTL.Seconds(),
	}
	if lookups > 0 {
		st.HitRate = float64(hits) / float64(lookups)
		st.AvgLookupMS = float64(latencySum.Milliseconds()) / float64(lookups)
	}
	return st, nil
}

// Flush drops every cache entry and returns how many were removed.
func (s *Service) Flush(ctx context.Context) (int64, error) {
	return s.Store.FlushCache(ctx)
}
