package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/classedge/sensei/pkg/models"
	"github.com/classedge/sensei/pkg/ports"
)

// Stats is the observable cache state.
type Stats struct {
	Backend  string  `json:"backend"` // "local" or "redis"
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	HitRate  float64 `json:"hit_rate"`
	KeyCount int     `json:"key_count"`
}

// Service is the two-tier response cache. Thread-safe. The hit/miss
// counters are maintained in-process regardless of tier.
type Service struct {
	local      *localTier
	remote     *redis.Client // nil when no remote backend is configured
	defaultTTL time.Duration

	hits   atomic.Int64
	misses atomic.Int64

	// outage latches the one-warning-per-outage log for remote failures.
	outage atomic.Bool
}

// New creates the cache service. redisAddr may be empty (local tier only).
func New(maxEntries int, defaultTTL time.Duration, redisAddr, redisPassword string, redisDB int, clock ports.Clock) (*Service, error) {
	local, err := newLocalTier(maxEntries, clock)
	if err != nil {
		return nil, err
	}

	s := &Service{local: local, defaultTTL: defaultTTL}
	if redisAddr != "" {
		s.remote = redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: redisPassword,
			DB:       redisDB,
		})
		slog.Info("Response cache using remote backend", "addr", redisAddr)
	}
	return s, nil
}

// DefaultTTL returns the configured default entry lifetime.
func (s *Service) DefaultTTL() time.Duration { return s.defaultTTL }

// Get returns the cached answer for key, or nil when absent or expired.
func (s *Service) Get(ctx context.Context, key string) *models.Answer {
	if answer := s.getTiered(ctx, key); answer != nil {
		s.hits.Add(1)
		return answer
	}
	s.misses.Add(1)
	return nil
}

func (s *Service) getTiered(ctx context.Context, key string) *models.Answer {
	if s.remote != nil {
		data, err := s.remote.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			s.remoteRecovered()
			var answer models.Answer
			if jsonErr := json.Unmarshal(data, &answer); jsonErr == nil {
				return &answer
			}
			slog.Warn("Dropping undecodable cache entry", "key", key)
			return nil
		case err == redis.Nil:
			s.remoteRecovered()
			return nil
		default:
			s.remoteFailed(err)
			// fall through to local tier for the outage
		}
	}
	answer, ok := s.local.get(key)
	if !ok {
		return nil
	}
	return answer
}

// Put stores answer under key. A zero ttl uses the default (24h).
func (s *Service) Put(ctx context.Context, key string, answer *models.Answer, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if s.remote != nil {
		data, err := json.Marshal(answer)
		if err == nil {
			if err := s.remote.Set(ctx, key, data, ttl).Err(); err == nil {
				s.remoteRecovered()
				return
			} else {
				s.remoteFailed(err)
			}
		}
	}
	s.local.put(key, answer, ttl)
}

// Invalidate removes all entries matching pattern (a literal prefix or the
// wildcard "response:*"). Returns the number of deleted entries.
func (s *Service) Invalidate(ctx context.Context, pattern string) int {
	deleted := s.local.invalidate(pattern)

	if s.remote != nil {
		match := pattern
		if match != Wildcard {
			match += "*"
		}
		keys, err := s.remote.Keys(ctx, match).Result()
		if err != nil {
			s.remoteFailed(err)
			return deleted
		}
		s.remoteRecovered()
		if len(keys) > 0 {
			if n, err := s.remote.Del(ctx, keys...).Result(); err == nil {
				deleted += int(n)
			} else {
				s.remoteFailed(err)
			}
		}
	}
	return deleted
}

// Stats returns hit/miss counters and the active backend's key count.
func (s *Service) Stats(ctx context.Context) Stats {
	hits := s.hits.Load()
	misses := s.misses.Load()

	stats := Stats{
		Backend:  "local",
		Hits:     hits,
		Misses:   misses,
		KeyCount: s.local.len(),
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}

	if s.remote != nil && !s.outage.Load() {
		if keys, err := s.remote.Keys(ctx, Wildcard).Result(); err == nil {
			stats.Backend = "redis"
			stats.KeyCount = len(keys)
		} else {
			s.remoteFailed(err)
		}
	}
	return stats
}

// Close releases the remote connection, if any.
func (s *Service) Close() error {
	if s.remote != nil {
		return s.remote.Close()
	}
	return nil
}

// remoteFailed logs a single warning per outage and switches reads and
// writes to the local tier until the backend answers again.
func (s *Service) remoteFailed(err error) {
	if s.outage.CompareAndSwap(false, true) {
		slog.Warn("Remote cache backend unavailable, falling back to in-process tier", "error", err)
	}
}

func (s *Service) remoteRecovered() {
	if s.outage.CompareAndSwap(true, false) {
		slog.Info("Remote cache backend recovered")
	}
}
