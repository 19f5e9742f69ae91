package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reframe/internal/store"
)

func TestGate_ConsumesUntilCeiling(t *testing.T) {
	ctx := context.Background()
	g := New(store.NewMemory(), 3, nil)

	for want := 2; want >= 0; want-- {
		d, err := g.CheckAndConsume(ctx, "u1")
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.Equal(t, want, d.Remaining)
	}

	d, err := g.CheckAndConsume(ctx, "u1")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)
	require.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestGate_CeilingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	g := New(store.NewMemory(), 1, nil)

	_, err := g.CheckAndConsume(ctx, "u1")
	require.NoError(t, err)

	// Repeated denied calls keep the counter pinned at the limit.
	for i := 0; i < 3; i++ {
		d, err := g.CheckAndConsume(ctx, "u1")
		require.NoError(t, err)
		require.False(t, d.Allowed)
		require.Equal(t, 0, d.Remaining)
	}
}

func TestGate_UsersAreIndependent(t *testing.T) {
	ctx := context.Background()
	g := New(store.NewMemory(), 1, nil)

	d, err := g.CheckAndConsume(ctx, "u1")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = g.CheckAndConsume(ctx, "u2")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

type brokenStore struct {
	*store.Memory
}

func (b *brokenStore) IncrementUsage(context.Context, string, string, int) (int, bool, error) {
	return 0, false, errors.New("store unreachable")
}

func TestGate_FailsClosedByDefault(t *testing.T) {
	g := New(&brokenStore{store.NewMemory()}, 5, nil)
	_, err := g.CheckAndConsume(context.Background(), "u1")
	require.Error(t, err)
}

func TestGate_LenientFailsOpen(t *testing.T) {
	g := New(&brokenStore{store.NewMemory()}, 5, nil)
	d := g.CheckAndConsumeLenient(context.Background(), "u1")
	require.True(t, d.Allowed)
}
