package worker

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agentsdk/errors"
	"github.com/c360/agentsdk/metric"
)

type testWork struct {
	id    int
	delay time.Duration
	fail  bool
}

func process(ctx context.Context, w testWork) error {
	if w.delay > 0 {
		select {
		case <-time.After(w.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if w.fail {
		return stderrors.New("work failed")
	}
	return nil
}

func newStartedPool(t *testing.T, workers, queue int, opts ...Option[testWork]) *Pool[testWork] {
	t.Helper()
	p, err := NewPool(workers, queue, process, opts...)
	require.NoError(t, err)
	require.NoError(t, p.Start(t.Context()))
	t.Cleanup(func() { _ = p.Stop(time.Second) })
	return p
}

func TestNewPool_Defaults(t *testing.T) {
	p, err := NewPool(0, 0, process)
	require.NoError(t, err)
	assert.Equal(t, 10, p.workers)
	assert.Equal(t, 1000, p.queueSize)

	_, err = NewPool[testWork](1, 1, nil)
	assert.ErrorIs(t, err, ErrNilProcessor)
}

func TestPool_Lifecycle(t *testing.T) {
	p, err := NewPool(2, 10, process)
	require.NoError(t, err)

	assert.ErrorIs(t, p.Submit(testWork{id: 1}), ErrPoolNotStarted)

	require.NoError(t, p.Start(t.Context()))
	assert.ErrorIs(t, p.Start(t.Context()), ErrPoolAlreadyStarted)

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(testWork{id: i}))
	}
	require.NoError(t, p.Stop(time.Second))
	assert.Equal(t, int64(5), p.Stats().Processed, "stop drains accepted work")

	assert.ErrorIs(t, p.Submit(testWork{id: 9}), ErrPoolStopped)
	assert.ErrorIs(t, p.SubmitWait(t.Context(), testWork{id: 9}), ErrPoolStopped)
	assert.NoError(t, p.Stop(time.Second), "second stop is a no-op")
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	p, err := NewPool(1, 1, func(_ context.Context, _ testWork) error {
		<-release
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, p.Start(t.Context()))

	require.NoError(t, p.Submit(testWork{id: 1}))
	require.Eventually(t, func() bool { return p.Stats().Busy == 1 }, time.Second, time.Millisecond)
	require.NoError(t, p.Submit(testWork{id: 2}))
	assert.ErrorIs(t, p.Submit(testWork{id: 3}), ErrQueueFull)
	assert.Equal(t, int64(1), p.Stats().Dropped)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.SubmitWait(ctx, testWork{id: 4}), context.DeadlineExceeded)

	close(release)
	require.NoError(t, p.Stop(time.Second))
	assert.Equal(t, int64(2), p.Stats().Processed)
}

func TestPool_SubmitWaitBlocksForRoom(t *testing.T) {
	p := newStartedPool(t, 1, 1)

	for i := 0; i < 10; i++ {
		require.NoError(t, p.SubmitWait(t.Context(), testWork{id: i, delay: time.Millisecond}))
	}
	require.Eventually(t, func() bool { return p.Stats().Processed == 10 }, 2*time.Second, time.Millisecond)
	assert.Zero(t, p.Stats().Dropped)
}

func TestPool_ProcessingErrors(t *testing.T) {
	var mu sync.Mutex
	var failedIDs []int
	p := newStartedPool(t, 2, 10, WithErrorHandler(func(w testWork, err error) {
		mu.Lock()
		defer mu.Unlock()
		failedIDs = append(failedIDs, w.id)
	}))

	for i := 0; i < 6; i++ {
		require.NoError(t, p.Submit(testWork{id: i, fail: i%2 == 0}))
	}
	require.Eventually(t, func() bool { return p.Stats().Processed == 6 }, time.Second, time.Millisecond)

	assert.Equal(t, int64(3), p.Stats().Failed)
	mu.Lock()
	assert.ElementsMatch(t, []int{0, 2, 4}, failedIDs)
	mu.Unlock()
}

func TestPool_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	p, err := NewPool(2, 10, process)
	require.NoError(t, err)
	require.NoError(t, p.Start(ctx))

	require.NoError(t, p.Submit(testWork{id: 1, delay: time.Hour}))
	require.Eventually(t, func() bool { return p.Stats().Busy == 1 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, p.Stop(time.Second))
	assert.Equal(t, int64(1), p.Stats().Failed, "cancelled work reports its context error")
}

func TestPool_ConcurrentSubmissions(t *testing.T) {
	var count atomic.Int64
	p, err := NewPool(4, 1000, func(_ context.Context, _ testWork) error {
		count.Add(1)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, p.Start(t.Context()))

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, p.SubmitWait(t.Context(), testWork{id: g*100 + i}))
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, p.Stop(2*time.Second))

	assert.Equal(t, int64(500), count.Load())
	stats := p.Stats()
	assert.Equal(t, stats.Submitted, stats.Processed)
}

func TestPool_Metrics(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	p := newStartedPool(t, 2, 10, WithMetricsRegistry[testWork](reg, "jobs"))

	require.NoError(t, p.Submit(testWork{id: 1}))
	require.NoError(t, p.Submit(testWork{id: 2, fail: true}))
	require.Eventually(t, func() bool { return p.Stats().Processed == 2 }, time.Second, time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(p.metrics.submitted))
	assert.Equal(t, float64(2), testutil.ToFloat64(p.metrics.processed))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.metrics.failed))

	n, err := testutil.GatherAndCount(reg.PrometheusRegistry(), "agentsdk_jobs_processing_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per status label")

	_, err = NewPool(1, 1, process, WithMetricsRegistry[testWork](reg, "jobs"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
