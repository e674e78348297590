package redisclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSlotLocker(client, 5*time.Second), mr
}

func TestWithSlotLockRunsAndReleases(t *testing.T) {
	locker, mr := newTestLocker(t)
	slotID := uuid.New()

	ran := false
	err := locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
		ran = true
		require.True(t, mr.Exists(fmt.Sprintf("lock:slot:%s", slotID)))
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
	require.False(t, mr.Exists(fmt.Sprintf("lock:slot:%s", slotID)), "lock must be released on return")
}

func TestWithSlotLockMutualExclusion(t *testing.T) {
	locker, _ := newTestLocker(t)
	slotID := uuid.New()

	err := locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
		return locker.WithSlotLock(ctx, slotID, func(context.Context) error {
			t.Fatal("second holder must not enter the critical section")
			return nil
		})
	})
	require.ErrorIs(t, err, ErrLockNotAcquired)
}

func TestWithSlotLockDifferentSlotsIndependent(t *testing.T) {
	locker, _ := newTestLocker(t)

	err := locker.WithSlotLock(context.Background(), uuid.New(), func(ctx context.Context) error {
		return locker.WithSlotLock(ctx, uuid.New(), func(context.Context) error {
			return nil
		})
	})
	require.NoError(t, err)
}

func TestWithSlotLockPropagatesError(t *testing.T) {
	locker, mr := newTestLocker(t)
	slotID := uuid.New()

	wantErr := fmt.Errorf("booking failed")
	err := locker.WithSlotLock(context.Background(), slotID, func(context.Context) error {
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
	require.False(t, mr.Exists(fmt.Sprintf("lock:slot:%s", slotID)), "lock must be released on failure")
}

func TestExpiredLockNotReleasedByOldHolder(t *testing.T) {
	locker, mr := newTestLocker(t)
	slotID := uuid.New()
	key := fmt.Sprintf("lock:slot:%s", slotID)

	err := locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
		// Simulate expiry and takeover by another holder.
		mr.FastForward(10 * time.Second)
		mr.Set(key, "other-holder-token")
		return nil
	})
	require.NoError(t, err)

	val, getErr := mr.Get(key)
	require.NoError(t, getErr)
	require.Equal(t, "other-holder-token", val, "release must not delete a lock it no longer owns")
}
