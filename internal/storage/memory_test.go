package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/site-crawler/internal/domain"
)

func TestMemoryStoreLease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	lease, err := s.Acquire(ctx, "https://site.test", time.Minute)
	require.NoError(t, err)

	_, err = s.Acquire(ctx, "https://site.test", time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	other, err := s.Acquire(ctx, "https://other.test", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	again, err := s.Acquire(ctx, "https://site.test", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	taken, err := s.Acquire(ctx, "https://site.test", time.Minute)
	require.NoError(t, err, "expired lease can be taken over")

	require.NoError(t, again.Release(ctx))
	_, err = s.Acquire(ctx, "https://site.test", time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld, "stale holder must not release the new lease")
	require.NoError(t, taken.Release(ctx))
}

func TestMemoryStoreLeaseExtend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	lease, err := s.Acquire(ctx, "https://site.test", time.Minute)
	require.NoError(t, err)

	now = now.Add(50 * time.Second)
	require.NoError(t, lease.Extend(ctx, time.Minute))

	now = now.Add(50 * time.Second)
	_, err = s.Acquire(ctx, "https://site.test", time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld, "extended lease is still live")

	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, lease.Extend(ctx, time.Minute), ErrLeaseLost, "expired lease cannot be revived")

	_, err = s.Acquire(ctx, "https://site.test", time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, lease.Extend(ctx, time.Minute), ErrLeaseLost, "taken-over lease cannot be extended")
}

func TestMemoryStoreRunStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetRunStatus(ctx, "https://site.test")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetRunStatus(ctx, domain.RunStatus{RunID: "r1", Target: "https://site.test", State: domain.RunCompleted}))
	got, err := s.GetRunStatus(ctx, "https://site.test")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.RunID)
	assert.Equal(t, domain.RunCompleted, got.State)
}
