package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/insightdesk/internal/clock"
	"github.com/smallbiznis/insightdesk/internal/userdirectory/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubDirectory struct {
	calls atomic.Int32
	mu    sync.Mutex
	users []domain.UserIdentity
	err   error
	gate  chan struct{}
}

func (s *stubDirectory) ListAll(ctx context.Context) ([]domain.UserIdentity, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]domain.UserIdentity(nil), s.users...), nil
}

func (s *stubDirectory) set(users []domain.UserIdentity, err error) {
	s.mu.Lock()
	s.users = users
	s.err = err
	s.mu.Unlock()
}

func TestDirectoryCacheServesFreshEntriesWithoutReload(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC))
	src := &stubDirectory{users: []domain.UserIdentity{{ID: "u1", DisplayName: "Ana"}}}
	c := NewDirectoryCache(src, time.Minute, clk, zap.NewNop())

	for i := 0; i < 3; i++ {
		users, err := c.ListAll(context.Background())
		require.NoError(t, err)
		assert.Len(t, users, 1)
	}
	assert.Equal(t, int32(1), src.calls.Load())

	clk.Advance(2 * time.Minute)
	_, err := c.ListAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestDirectoryCacheServesStaleOnError(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC))
	src := &stubDirectory{users: []domain.UserIdentity{{ID: "u1", DisplayName: "Ana"}}}
	c := NewDirectoryCache(src, time.Minute, clk, zap.NewNop())

	_, err := c.ListAll(context.Background())
	require.NoError(t, err)

	src.set(nil, errors.New("connection refused"))
	clk.Advance(2 * time.Minute)

	users, err := c.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Ana", users[0].DisplayName)
}

func TestDirectoryCacheFailsWithoutPriorValue(t *testing.T) {
	src := &stubDirectory{err: errors.New("connection refused")}
	c := NewDirectoryCache(src, time.Minute, nil, nil)

	_, err := c.ListAll(context.Background())
	assert.ErrorIs(t, err, domain.ErrDirectoryUnavailable)
}

func TestDirectoryCacheCoalescesConcurrentReloads(t *testing.T) {
	src := &stubDirectory{
		users: []domain.UserIdentity{{ID: "u1"}},
		gate:  make(chan struct{}),
	}
	c := NewDirectoryCache(src, time.Minute, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			users, err := c.ListAll(context.Background())
			assert.NoError(t, err)
			assert.Len(t, users, 1)
		}()
	}

	require.Eventually(t, func() bool { return src.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.LessOrEqual(t, src.calls.Load(), int32(2))
}

func TestDirectoryCacheInvalidate(t *testing.T) {
	src := &stubDirectory{users: []domain.UserIdentity{{ID: "u1"}}}
	c := NewDirectoryCache(src, time.Hour, nil, nil)

	_, _ = c.ListAll(context.Background())
	c.Invalidate()
	_, _ = c.ListAll(context.Background())
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestTTLCacheExpiry(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC))
	c := NewTTLCacheWithClock[string, int](clk.Now)

	c.Set("k", 1, time.Second)
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	clk.Advance(2 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)

	v, fresh, ok := c.GetStale("k")
	assert.True(t, ok)
	assert.False(t, fresh)
	assert.Equal(t, 1, v)

	c.Delete("k")
	_, _, ok = c.GetStale("k")
	assert.False(t, ok)
}
