package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestAllowExhaustsBucket(t *testing.T) {
	rl := New(Config{
		MaxRequestsPerMinute: 3,
		WindowDuration:       time.Minute,
		Logger:               zap.NewNop(),
	})
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow("caller", 1), "request %d should pass", i)
	}
	assert.False(t, rl.allow("caller", 1))
}

func TestVisionCostDrainsFaster(t *testing.T) {
	rl := New(Config{
		MaxRequestsPerMinute: 20,
		WindowDuration:       time.Minute,
		VisionCost:           10,
		Logger:               zap.NewNop(),
	})
	defer rl.Stop()

	assert.True(t, rl.allow("caller", 10))
	assert.True(t, rl.allow("caller", 10))
	assert.False(t, rl.allow("caller", 10), "third vision request exceeds the window")
	assert.False(t, rl.allow("caller", 1), "bucket is fully drained")
}

func TestKeysAreIndependent(t *testing.T) {
	rl := New(Config{
		MaxRequestsPerMinute: 1,
		WindowDuration:       time.Minute,
		Logger:               zap.NewNop(),
	})
	defer rl.Stop()

	assert.True(t, rl.allow("a", 1))
	assert.False(t, rl.allow("a", 1))
	assert.True(t, rl.allow("b", 1))
}
