package cache

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
)

const janitorLockKey = "finsight:cache:janitor:lock"

// Janitor periodically removes expired cache entries and enforces the entry
// cap. When several replicas run, a Redis lock keeps the sweep to one.
type Janitor struct {
	Cache  *Service
	Rdb    *redis.Client
	Logger *log.Logger
	Stop   chan struct{}

	lastSweep *time.Time
}

func NewJanitor(svc *Service, rdb *redis.Client, logger *log.Logger) *Janitor {
	if logger == nil {
		logger = log.New(log.Writer(), "[JANITOR] ", log.LstdFlags)
	}
	return &Janitor{Cache: svc, Rdb: rdb, Logger: logger, Stop: make(chan struct{})}
}

func (j *Janitor) Start() {
	ticker := time.NewTicker(1 * time.Minute)
	go func() {
		for {
			select {
			case <-j.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				j.tick()
			}
		}
	}()
}

func (j *Janitor) tick() {
	if !isDue(j.Cache.Config.JanitorCron, j.lastSweep) {
		return
	}
	ctx := context.Background()
	if j.Rdb != nil {
		ok, err := j.Rdb.SetNX(ctx, janitorLockKey, "1", 2*time.Minute).Result()
		if err != nil {
			j.Logger.Printf("janitor lock: %v", err)
			return
		}
		if !ok {
			return
		}
		defer j.Rdb.Del(ctx, janitorLockKey)
	}
	j.sweep(ctx)
	now := time.Now()
	j.lastSweep = &now
}

func (j *Janitor) sweep(ctx context.Context) {
	expired, err := j.Cache.Store.DeleteExpiredCacheEntries(ctx)
	if err != nil {
		j.Logger.Printf("delete expired: %v", err)
		return
	}
	over, err := j.Cache.Store.EnforceCacheMaxEntries(ctx, j.Cache.Config.MaxEntries)
	if err != nil {
		j.Logger.Printf("enforce max entries: %v", err)
		return
	}
	if expired+over > 0 {
		evictionsTotal.Add(float64(expired + over))
		j.Logger.Printf("swept cache: %d expired, %d over cap", expired, over)
	}
}

// isDue reports whether the sweep cadence has elapsed since the last sweep.
// Supports "@hourly", "@daily", and 5-field cron expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
