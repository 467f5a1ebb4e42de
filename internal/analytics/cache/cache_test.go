package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBackend struct {
	mu     sync.Mutex
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
}

func newMemBackend() *memBackend {
	return &memBackend{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (m *memBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *memBackend) CountByPattern(_ context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n, nil
}

func TestKey(t *testing.T) {
	k := Key("purchases-by-date", "2024-03-01..2024-03-07")
	assert.True(t, strings.HasPrefix(k, "chart:purchases-by-date:"))
	assert.Len(t, strings.TrimPrefix(k, "chart:purchases-by-date:"), 32)
	assert.Equal(t, k, Key("purchases-by-date", "2024-03-01..2024-03-07"))
	assert.NotEqual(t, k, Key("revenue-by-date", "2024-03-01..2024-03-07"))
}

func TestGetOrCompute(t *testing.T) {
	backend := newMemBackend()
	c := New(backend, time.Minute)
	ctx := context.Background()
	calls := 0
	compute := func(context.Context) ([]byte, error) {
		calls++
		return []byte(`[1]`), nil
	}

	data, hit, err := c.GetOrCompute(ctx, "chart:x", compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, `[1]`, string(data))
	assert.Equal(t, time.Minute, backend.ttls["chart:x"])

	data, hit, err = c.GetOrCompute(ctx, "chart:x", compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, `[1]`, string(data))
	assert.Equal(t, 1, calls)

	stats := c.Stats(ctx)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
	assert.Equal(t, int64(1), stats.Keys)
}

func TestGetOrComputeErrorIsNotCached(t *testing.T) {
	backend := newMemBackend()
	c := New(backend, time.Minute)

	_, _, err := c.GetOrCompute(context.Background(), "chart:y", func(context.Context) ([]byte, error) {
		return nil, errors.New("es down")
	})
	require.Error(t, err)
	assert.Empty(t, backend.data)
}

func TestGetOrComputeCollapsesConcurrentMisses(t *testing.T) {
	c := New(newMemBackend(), time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrCompute(context.Background(), "chart:z", func(context.Context) ([]byte, error) {
				calls.Add(1)
				<-release
				return []byte(`{}`), nil
			})
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, calls.Load(), int32(5))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestGetOrComputeSurvivesLeaderCancellation(t *testing.T) {
	c := New(newMemBackend(), time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})
	var computeErr atomic.Value
	compute := func(ctx context.Context) ([]byte, error) {
		close(started)
		<-release
		computeErr.Store(fmt.Sprint(ctx.Err()))
		return []byte(`[7]`), nil
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderDone := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(leaderCtx, "chart:w", compute)
		leaderDone <- err
	}()
	<-started

	followerDone := make(chan []byte, 1)
	go func() {
		data, _, err := c.GetOrCompute(context.Background(), "chart:w", func(context.Context) ([]byte, error) {
			return []byte(`[8]`), nil
		})
		assert.NoError(t, err)
		followerDone <- data
	}()

	cancel()
	assert.ErrorIs(t, <-leaderDone, context.Canceled)
	time.Sleep(20 * time.Millisecond)
	close(release)

	assert.Equal(t, `[7]`, string(<-followerDone))
	assert.Equal(t, "<nil>", computeErr.Load())
}

// lateBackend misses on the first lookup and then sees the value another
// flight stored in the meantime.
type lateBackend struct {
	*memBackend
	gets atomic.Int32
}

func (l *lateBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if l.gets.Add(1) == 1 {
		return nil, redis.Nil
	}
	return l.memBackend.Get(ctx, key)
}

func TestGetOrComputeRechecksInsideFlight(t *testing.T) {
	backend := &lateBackend{memBackend: newMemBackend()}
	require.NoError(t, backend.Set(context.Background(), "chart:v", []byte(`[2]`), time.Minute))
	c := New(backend, time.Minute)

	var computed atomic.Bool
	data, hit, err := c.GetOrCompute(context.Background(), "chart:v", func(context.Context) ([]byte, error) {
		computed.Store(true)
		return []byte(`[9]`), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.False(t, computed.Load())
	assert.Equal(t, `[2]`, string(data))
}

func TestBackendErrorIsAMiss(t *testing.T) {
	backend := newMemBackend()
	backend.getErr = errors.New("connection refused")
	c := New(backend, time.Minute)

	_, ok := c.Get(context.Background(), "chart:a")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats(context.Background()).Misses)
}

func TestInvalidate(t *testing.T) {
	backend := newMemBackend()
	c := New(backend, time.Minute)
	ctx := context.Background()
	c.Set(ctx, "chart:a", []byte("1"))
	c.Set(ctx, "chart:b", []byte("2"))
	backend.data["other"] = []byte("3")

	n, err := c.Invalidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Contains(t, backend.data, "other")
}
