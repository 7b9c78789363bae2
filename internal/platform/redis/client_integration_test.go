//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	platformredis "hearth/internal/platform/redis"
	"hearth/pkg/testutil/containers"
)

type LockSuite struct {
	suite.Suite
	redis  *containers.RedisContainer
	client *platformredis.Client
}

func TestLockSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(LockSuite))
}

func (s *LockSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())

	client, err := platformredis.New(s.redis.Addr)
	s.Require().NoError(err)
	s.client = client
}

func (s *LockSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *LockSuite) TestLockExcludesSecondHolder() {
	ctx := context.Background()

	ok, err := s.client.AcquireLock(ctx, "householding:test", "holder-a", time.Minute)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.client.AcquireLock(ctx, "householding:test", "holder-b", time.Minute)
	s.Require().NoError(err)
	s.False(ok, "second holder must be excluded while the lock is held")
}

func (s *LockSuite) TestReleaseFreesLock() {
	ctx := context.Background()

	ok, err := s.client.AcquireLock(ctx, "householding:test", "holder-a", time.Minute)
	s.Require().NoError(err)
	s.True(ok)

	s.Require().NoError(s.client.ReleaseLock(ctx, "householding:test", "holder-a"))

	ok, err = s.client.AcquireLock(ctx, "householding:test", "holder-b", time.Minute)
	s.Require().NoError(err)
	s.True(ok, "the lock should be free after release")
}

func (s *LockSuite) TestReleaseIgnoresForeignToken() {
	ctx := context.Background()

	ok, err := s.client.AcquireLock(ctx, "householding:test", "holder-a", time.Minute)
	s.Require().NoError(err)
	s.True(ok)

	// A stale holder releasing with the wrong token must not free the lock.
	s.Require().NoError(s.client.ReleaseLock(ctx, "householding:test", "holder-b"))

	ok, err = s.client.AcquireLock(ctx, "householding:test", "holder-c", time.Minute)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *LockSuite) TestLockExpires() {
	ctx := context.Background()

	ok, err := s.client.AcquireLock(ctx, "householding:test", "holder-a", 100*time.Millisecond)
	s.Require().NoError(err)
	s.True(ok)

	time.Sleep(200 * time.Millisecond)

	ok, err = s.client.AcquireLock(ctx, "householding:test", "holder-b", time.Minute)
	s.Require().NoError(err)
	s.True(ok, "the lock should expire after its TTL")
}
