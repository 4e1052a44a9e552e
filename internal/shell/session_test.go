package shell

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionExecuteSentinelRoundTrip(t *testing.T) {
	pool := NewSessionPool(2, time.Minute)
	s, err := pool.Open(context.Background())
	require.NoError(t, err)
	defer pool.Close(s.ID)

	out, err := s.ExecuteSentinel(context.Background(), "echo persisted", 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, "persisted", out)
}

func TestSessionStatePersistsAcrossCommands(t *testing.T) {
	pool := NewSessionPool(2, time.Minute)
	s, err := pool.Open(context.Background())
	require.NoError(t, err)
	defer pool.Close(s.ID)

	_, err = s.ExecuteSentinel(context.Background(), "export FOO=bar123", 2*time.Second)
	require.NoError(t, err)

	out, err := s.ExecuteSentinel(context.Background(), "echo $FOO", 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, "bar123", out)
}

func TestSessionPoolEvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	pool := NewSessionPool(1, time.Minute)
	first, err := pool.Open(context.Background())
	require.NoError(t, err)

	second, err := pool.Open(context.Background())
	require.NoError(t, err)

	_, ok := pool.Get(first.ID)
	require.False(t, ok, "oldest session should have been evicted at capacity")

	_, ok = pool.Get(second.ID)
	require.True(t, ok)
}

func TestSessionPoolReapIdle(t *testing.T) {
	pool := NewSessionPool(2, 50*time.Millisecond)
	s, err := pool.Open(context.Background())
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	removed := pool.ReapIdle()
	require.Equal(t, 1, removed)

	_, ok := pool.Get(s.ID)
	require.False(t, ok)
}
