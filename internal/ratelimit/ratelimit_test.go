package ratelimit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/arkeep-io/llmgateway/internal/ratelimit"
)

func TestAllow_UnderLimit(t *testing.T) {
	l := ratelimit.New(3, time.Minute)
	now := time.Now()

	assert.True(t, l.Allow("client-a", now))
	assert.True(t, l.Allow("client-a", now))
	assert.True(t, l.Allow("client-a", now))
}

func TestAllow_RejectsAtLimit(t *testing.T) {
	l := ratelimit.New(2, time.Minute)
	now := time.Now()

	assert.True(t, l.Allow("client-a", now))
	assert.True(t, l.Allow("client-a", now))
	assert.False(t, l.Allow("client-a", now))
}

func TestAllow_WindowRollover(t *testing.T) {
	l := ratelimit.New(1, time.Minute)
	now := time.Now()

	assert.True(t, l.Allow("client-a", now))
	assert.False(t, l.Allow("client-a", now))

	later := now.Add(time.Minute + time.Second)
	assert.True(t, l.Allow("client-a", later), "a new window should open once windowSize has elapsed")
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l := ratelimit.New(1, time.Minute)
	now := time.Now()

	assert.True(t, l.Allow("client-a", now))
	assert.True(t, l.Allow("client-b", now))
	assert.False(t, l.Allow("client-a", now))
}

func TestSweep_DiscardsStaleWindows(t *testing.T) {
	l := ratelimit.New(1, time.Minute)
	now := time.Now()

	l.Allow("client-a", now)
	l.Sweep(now.Add(2 * time.Minute))

	// A swept window is indistinguishable from a never-seen key: the next
	// call opens a fresh window and is allowed again immediately.
	assert.True(t, l.Allow("client-a", now.Add(2*time.Minute)))
}
