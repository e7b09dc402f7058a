package outcome

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"popupflow/pkg/platform/sentinel"
)

var takeDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "popupflow_outcome_take_duration_ms",
	Help:    "Latency of outcome slot reads in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

const (
	keyPrefix = "popupflow:outcome:"
	// DefaultTTL bounds a slot to a single flow attempt.
	DefaultTTL = 10 * time.Minute
)

// RedisStore keeps outcome slots in Redis so a tab without an opener can
// hand its result to the initiator through the server.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

type RedisOption func(*RedisStore)

func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func NewRedis(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisStore) Put(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, keyPrefix+key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("put outcome slot: %v: %w", err, sentinel.ErrUnavailable)
	}
	return nil
}

// Take reads and deletes the slot atomically with GETDEL.
func (s *RedisStore) Take(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	defer func() {
		takeDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	value, err := s.client.GetDel(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("take outcome slot: %v: %w", err, sentinel.ErrUnavailable)
	}
	return value, true, nil
}
