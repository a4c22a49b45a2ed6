package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockFactoryMapOrderedPreservesInputOrder(t *testing.T) {
	t.Parallel()

	pool, err := MockFactory{}.Acquire(0, "bundle")
	require.NoError(t, err)
	defer pool.Close()

	items := []interface{}{1, 2, 3, 4}
	results, err := pool.MapOrdered(context.Background(), items, func(ctx context.Context, bundle interface{}, item interface{}) (interface{}, error) {
		require.Equal(t, "bundle", bundle)
		return item.(int) * 2, nil
	})
	require.NoError(t, err)
	require.Equal(t, []interface{}{2, 4, 6, 8}, results)
}

func TestMockFactoryPropagatesTaskError(t *testing.T) {
	t.Parallel()

	pool, err := MockFactory{}.Acquire(0, nil)
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = pool.MapOrdered(context.Background(), []interface{}{1}, func(ctx context.Context, bundle interface{}, item interface{}) (interface{}, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
}

func TestDefaultFactoryMapOrderedPreservesInputOrder(t *testing.T) {
	t.Parallel()

	pool, err := DefaultFactory().Acquire(4, nil)
	require.NoError(t, err)
	defer pool.Close()

	items := make([]interface{}, 50)
	for i := range items {
		items[i] = i
	}

	results, err := pool.MapOrdered(context.Background(), items, func(ctx context.Context, bundle interface{}, item interface{}) (interface{}, error) {
		return item.(int) * item.(int), nil
	})
	require.NoError(t, err)
	for i, v := range results {
		require.Equal(t, i*i, v)
	}
}

func TestDefaultFactoryRespectsConcurrencyBound(t *testing.T) {
	t.Parallel()

	pool, err := DefaultFactory().Acquire(2, nil)
	require.NoError(t, err)
	defer pool.Close()

	var inFlight int32
	var maxObserved int32
	items := make([]interface{}, 10)

	_, err = pool.MapUnordered(context.Background(), items, func(ctx context.Context, bundle interface{}, item interface{}) (interface{}, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			cur := atomic.LoadInt32(&maxObserved)
			if n <= cur || atomic.CompareAndSwapInt32(&maxObserved, cur, n) {
				break
			}
		}
		atomic.AddInt32(&inFlight, -1)
		return nil, nil
	})
	require.NoError(t, err)
	require.LessOrEqual(t, int(atomic.LoadInt32(&maxObserved)), 2)
}

func TestDefaultFactoryCancelsRemainingWorkOnFirstError(t *testing.T) {
	t.Parallel()

	pool, err := DefaultFactory().Acquire(1, nil)
	require.NoError(t, err)
	defer pool.Close()

	boom := errors.New("boom")
	items := []interface{}{1, 2, 3}
	_, err = pool.MapOrdered(context.Background(), items, func(ctx context.Context, bundle interface{}, item interface{}) (interface{}, error) {
		if item.(int) == 1 {
			return nil, boom
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.ErrorIs(t, err, boom)
}

func TestPoolCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	pool, err := DefaultFactory().Acquire(1, nil)
	require.NoError(t, err)
	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close())
}

func TestClosedPoolRejectsNewWork(t *testing.T) {
	t.Parallel()

	pool, err := DefaultFactory().Acquire(1, nil)
	require.NoError(t, err)
	require.NoError(t, pool.Close())

	_, err = pool.MapOrdered(context.Background(), []interface{}{1}, func(ctx context.Context, bundle interface{}, item interface{}) (interface{}, error) {
		return nil, nil
	})
	require.Error(t, err)
}

func TestDefaultFactoryZeroSizeUsesGOMAXPROCS(t *testing.T) {
	t.Parallel()

	pool, err := DefaultFactory().Acquire(0, nil)
	require.NoError(t, err)
	defer pool.Close()

	results, err := pool.MapOrdered(context.Background(), []interface{}{1, 2, 3}, func(ctx context.Context, bundle interface{}, item interface{}) (interface{}, error) {
		return item, nil
	})
	require.NoError(t, err)
	require.Equal(t, []interface{}{1, 2, 3}, results)
}
