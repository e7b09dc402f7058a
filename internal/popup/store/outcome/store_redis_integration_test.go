//go:build integration

package outcome_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"popupflow/internal/popup/store/outcome"
	"popupflow/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *outcome.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = outcome.NewRedis(s.redis.Client, outcome.WithTTL(time.Minute))
}

func (s *RedisStoreSuite) TearDownSuite() {
	s.NoError(s.redis.Terminate(context.Background()))
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestTakeConsumes() {
	ctx := context.Background()
	s.Require().NoError(s.store.Put(ctx, "tab-1", `{"type":"POPUP_SUCCESS"}`))

	value, ok, err := s.store.Take(ctx, "tab-1")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(`{"type":"POPUP_SUCCESS"}`, value)

	_, ok, err = s.store.Take(ctx, "tab-1")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisStoreSuite) TestSlotExpires() {
	ctx := context.Background()
	store := outcome.NewRedis(s.redis.Client, outcome.WithTTL(time.Second))
	s.Require().NoError(store.Put(ctx, "tab-2", "payload"))

	ttl, err := s.redis.Client.TTL(ctx, "popupflow:outcome:tab-2").Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
	s.LessOrEqual(ttl, time.Second)
}

func (s *RedisStoreSuite) TestConcurrentTakeDeliversOnce() {
	ctx := context.Background()
	s.Require().NoError(s.store.Put(ctx, "tab-3", "payload"))

	var hits atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := s.store.Take(ctx, "tab-3"); err == nil && ok {
				hits.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), hits.Load())
}
