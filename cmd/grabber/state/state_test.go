package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type selection struct {
	Links []string
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s := NewMemoryStore[selection](time.Minute, 10, func() time.Time { return now })

	require.NoError(t, s.Set(ctx, "alice", selection{Links: []string{"a"}}))
	got, ok, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, got.Links)

	now = now.Add(61 * time.Second)
	_, ok, err = s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, s.Len())
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s := NewMemoryStore[int](0, 3, func() time.Time { return now })

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Set(ctx, id, i))
		now = now.Add(time.Second)
	}

	// rewriting an existing key never evicts and refreshes its age
	require.NoError(t, s.Set(ctx, "a", 10))
	now = now.Add(time.Second)
	assert.Equal(t, 3, s.Len())

	require.NoError(t, s.Set(ctx, "d", 3))
	assert.Equal(t, 3, s.Len())

	_, ok, _ := s.Get(ctx, "b")
	assert.False(t, ok, "b was the least recently written")
	v, ok, _ := s.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore[string](time.Hour, 0, nil)

	require.NoError(t, s.Set(ctx, "alice", "x"))
	require.NoError(t, s.Delete(ctx, "alice"))
	require.NoError(t, s.Delete(ctx, "nobody"))

	_, ok, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

var (
	_ Store[selection] = (*MemoryStore[selection])(nil)
	_ Store[selection] = (*RedisStore[selection])(nil)
)
