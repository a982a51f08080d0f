package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/mediagrab/common/logger"
)

func TestAdd_RejectsBadSpec(t *testing.T) {
	s := New(logger.Discard())
	assert.Error(t, s.Add("broken", "every now and then", func(context.Context) {}))
	assert.NoError(t, s.Add("sweep", "0 * * * *", func(context.Context) {}))
	assert.NoError(t, s.Add("janitor", Every(30*time.Minute), func(context.Context) {}))
}

func TestScheduler_RunsAndStops(t *testing.T) {
	s := New(logger.Discard())
	var runs atomic.Int32
	require.NoError(t, s.Add("tick", Every(time.Second), func(ctx context.Context) {
		runs.Add(1)
	}))

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestEvery(t *testing.T) {
	assert.Equal(t, "@every 1h0m0s", Every(time.Hour))
}
