package lifecycle_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memstore/pkg/lifecycle"
	"github.com/oceanbase/memstore/pkg/model"
)

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	l := lifecycle.NewLocalLocker()

	ok, err := l.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Unlock(ctx))
	ok, err = l.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	first := lifecycle.NewRedisLocker(lifecycle.RedisConfig{Addr: mr.Addr(), TTL: time.Minute})
	second := lifecycle.NewRedisLocker(lifecycle.RedisConfig{Addr: mr.Addr(), TTL: time.Minute})
	t.Cleanup(func() {
		_ = first.Close()
		_ = second.Close()
	})

	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists(lifecycle.DefaultLeaseKey))

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, first.Unlock(ctx))
	assert.False(t, mr.Exists(lifecycle.DefaultLeaseKey))

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Unlock(ctx))
}

func TestRedisLockerExpiredLeaseIsNotStolen(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	stale := lifecycle.NewRedisLocker(lifecycle.RedisConfig{Addr: mr.Addr(), TTL: time.Second})
	fresh := lifecycle.NewRedisLocker(lifecycle.RedisConfig{Addr: mr.Addr(), TTL: time.Minute})
	t.Cleanup(func() {
		_ = stale.Close()
		_ = fresh.Close()
	})

	ok, err := stale.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = fresh.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// The stale holder's release must leave the new lease in place.
	require.NoError(t, stale.Unlock(ctx))
	assert.True(t, mr.Exists(lifecycle.DefaultLeaseKey))

	require.Error(t, stale.Unlock(ctx))
}

func TestRedisLockerRenew(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	holder := lifecycle.NewRedisLocker(lifecycle.RedisConfig{Addr: mr.Addr(), TTL: 3 * time.Second})
	other := lifecycle.NewRedisLocker(lifecycle.RedisConfig{Addr: mr.Addr(), TTL: time.Minute})
	t.Cleanup(func() {
		_ = holder.Close()
		_ = other.Close()
	})
	assert.Equal(t, time.Second, holder.RenewInterval())

	assert.ErrorIs(t, holder.Renew(ctx), lifecycle.ErrLeaseLost)

	ok, err := holder.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	for i := 0; i < 5; i++ {
		mr.FastForward(2 * time.Second)
		require.NoError(t, holder.Renew(ctx))
		assert.Equal(t, 3*time.Second, mr.TTL(lifecycle.DefaultLeaseKey))
	}

	mr.FastForward(4 * time.Second)
	ok, err = other.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, holder.Renew(ctx), lifecycle.ErrLeaseLost)
	assert.Equal(t, time.Minute, mr.TTL(lifecycle.DefaultLeaseKey))
}

// blockingStore stalls the first listing of a sweep by calling during,
// so tests can act on the lease while the sweep holds it.
type blockingStore struct {
	lifecycle.Store
	during func(ctx context.Context) error
	calls  int
}

func (s *blockingStore) ListForLifecycle(ctx context.Context, _ []model.Stage, _, _ int) ([]*model.Memory, error) {
	s.calls++
	if s.calls == 1 && s.during != nil {
		if err := s.during(ctx); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (s *blockingStore) Repair(context.Context) (int, error) { return 0, nil }

func TestSweepRenewsRedisLease(t *testing.T) {
	mr := miniredis.RunT(t)
	locker := lifecycle.NewRedisLocker(lifecycle.RedisConfig{Addr: mr.Addr(), TTL: 600 * time.Millisecond})
	rival := lifecycle.NewRedisLocker(lifecycle.RedisConfig{Addr: mr.Addr(), TTL: time.Minute})
	t.Cleanup(func() {
		_ = locker.Close()
		_ = rival.Close()
	})

	var stolen []bool
	store := &blockingStore{during: func(ctx context.Context) error {
		// Four TTLs' worth of Redis time pass while the sweep is stuck.
		for i := 0; i < 6; i++ {
			time.Sleep(300 * time.Millisecond)
			mr.FastForward(400 * time.Millisecond)
			ok, err := rival.TryLock(ctx)
			if err != nil {
				return err
			}
			stolen = append(stolen, ok)
		}
		return nil
	}}

	m := lifecycle.NewManager(store, lifecycle.DefaultPolicy(),
		lifecycle.WithLocker(locker),
		lifecycle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	_, err := m.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false, false, false, false}, stolen)
	assert.False(t, mr.Exists(lifecycle.DefaultLeaseKey), "lease released after the sweep")
}

func TestSweepAbortsWhenLeaseLost(t *testing.T) {
	mr := miniredis.RunT(t)
	locker := lifecycle.NewRedisLocker(lifecycle.RedisConfig{Addr: mr.Addr(), TTL: 300 * time.Millisecond})
	t.Cleanup(func() { _ = locker.Close() })

	store := &blockingStore{during: func(ctx context.Context) error {
		mr.Del(lifecycle.DefaultLeaseKey)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	}}

	m := lifecycle.NewManager(store, lifecycle.DefaultPolicy(),
		lifecycle.WithLocker(locker),
		lifecycle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	_, err := m.Sweep(context.Background())
	assert.ErrorIs(t, err, lifecycle.ErrLeaseLost)
}
