package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterBurstThenBlocks(t *testing.T) {
	l := NewLimiter(1, 2) // one per minute, burst two

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx), "third request must wait past the deadline")
}

func TestUnlimitedNeverBlocks(t *testing.T) {
	l := Unlimited()
	for i := 0; i < 1000; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}

	var nilLimiter *Limiter
	assert.NoError(t, nilLimiter.Wait(context.Background()))
}
