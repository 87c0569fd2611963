package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"liveclass/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHeartbeatMonitor_Defaults(t *testing.T) {
	m := NewHeartbeatMonitor(0, 0, zaptest.NewLogger(t).Sugar())
	assert.Equal(t, DefaultHeartbeatInterval, m.Interval())
	assert.Equal(t, 2*DefaultHeartbeatInterval, m.timeout)
}

func TestHeartbeatMonitor_UntrackedHeartbeatRejected(t *testing.T) {
	m := NewHeartbeatMonitor(time.Second, 0, zaptest.NewLogger(t).Sugar())
	assert.ErrorIs(t, m.Heartbeat("s", "p"), domain.ErrParticipantNotFound)
}

func TestHeartbeatMonitor_SweepExpiresStale(t *testing.T) {
	clock := newFakeClock()
	m := NewHeartbeatMonitor(10*time.Second, 20*time.Second, zaptest.NewLogger(t).Sugar())
	m.now = clock.Now

	var expired []domain.ParticipantID
	m.OnTimeout(func(_ domain.StreamID, id domain.ParticipantID) {
		expired = append(expired, id)
	})

	m.Track("s", "quiet")
	m.Track("s", "chatty")

	clock.Advance(15 * time.Second)
	require.NoError(t, m.Heartbeat("s", "chatty"))
	assert.Zero(t, m.Sweep())

	clock.Advance(10 * time.Second)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, []domain.ParticipantID{"quiet"}, expired)

	_, ok := m.LastSeen("s", "quiet")
	assert.False(t, ok)
	seen, ok := m.LastSeen("s", "chatty")
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(-10*time.Second), seen)

	// Expiry fires once.
	assert.Zero(t, m.Sweep())
	assert.Len(t, expired, 1)
}

func TestHeartbeatMonitor_Untrack(t *testing.T) {
	clock := newFakeClock()
	m := NewHeartbeatMonitor(time.Second, 2*time.Second, zaptest.NewLogger(t).Sugar())
	m.now = clock.Now

	m.Track("s", "p")
	m.Untrack("s", "p")
	clock.Advance(time.Minute)
	assert.Zero(t, m.Sweep())
}

func TestHeartbeatMonitor_RunStopsOnCancel(t *testing.T) {
	m := NewHeartbeatMonitor(20*time.Millisecond, 40*time.Millisecond, zaptest.NewLogger(t).Sugar())

	var mu sync.Mutex
	fired := 0
	m.OnTimeout(func(domain.StreamID, domain.ParticipantID) {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	m.Track("s", "p")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
