package services

import (
	"context"
	"sync"
	"time"

	"liveclass/internal/core/domain"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const DefaultHeartbeatInterval = 10 * time.Second

// TimeoutHandler is invoked once for each participant that missed its
// heartbeat deadline, outside any monitor lock.
type TimeoutHandler func(streamID domain.StreamID, participantID domain.ParticipantID)

type heartbeatKey struct {
	streamID      domain.StreamID
	participantID domain.ParticipantID
}

// HeartbeatMonitor tracks last-seen times and sweeps expired participants.
type HeartbeatMonitor struct {
	interval time.Duration
	timeout  time.Duration
	onExpire TimeoutHandler
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	lastSeen map[heartbeatKey]time.Time

	isStopped atomic.Bool
	now       func() time.Time
}

// NewHeartbeatMonitor expects clients to beat every interval. A participant
// is considered gone after timeout; zero means twice the interval.
func NewHeartbeatMonitor(interval, timeout time.Duration, logger *zap.SugaredLogger) *HeartbeatMonitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if timeout <= 0 {
		timeout = 2 * interval
	}
	return &HeartbeatMonitor{
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		lastSeen: make(map[heartbeatKey]time.Time),
		now:      time.Now,
	}
}

// OnTimeout sets the cleanup path run for expired participants.
func (m *HeartbeatMonitor) OnTimeout(fn TimeoutHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = fn
}

func (m *HeartbeatMonitor) Track(streamID domain.StreamID, participantID domain.ParticipantID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSeen[heartbeatKey{streamID, participantID}] = m.now()
}

// Heartbeat refreshes lastSeenAt. Untracked participants are rejected.
func (m *HeartbeatMonitor) Heartbeat(streamID domain.StreamID, participantID domain.ParticipantID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := heartbeatKey{streamID, participantID}
	if _, ok := m.lastSeen[key]; !ok {
		return domain.ErrParticipantNotFound
	}
	m.lastSeen[key] = m.now()
	return nil
}

func (m *HeartbeatMonitor) Untrack(streamID domain.StreamID, participantID domain.ParticipantID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lastSeen, heartbeatKey{streamID, participantID})
}

func (m *HeartbeatMonitor) LastSeen(streamID domain.StreamID, participantID domain.ParticipantID) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.lastSeen[heartbeatKey{streamID, participantID}]
	return t, ok
}

// Sweep removes every entry older than the timeout and runs the timeout
// handler for each. It returns the number of expired participants.
func (m *HeartbeatMonitor) Sweep() int {
	m.mu.Lock()
	cutoff := m.now().Add(-m.timeout)
	var expired []heartbeatKey
	for key, seen := range m.lastSeen {
		if seen.Before(cutoff) {
			expired = append(expired, key)
			delete(m.lastSeen, key)
		}
	}
	handler := m.onExpire
	m.mu.Unlock()

	for _, key := range expired {
		m.logger.Infow("heartbeat timeout",
			"stream_id", key.streamID,
			"participant_id", key.participantID,
		)
		if handler != nil {
			handler(key.streamID, key.participantID)
		}
	}
	return len(expired)
}

// Run sweeps every half interval until ctx is done or Stop is called.
func (m *HeartbeatMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if m.isStopped.Load() {
				return nil
			}
			m.Sweep()
		}
	}
}

func (m *HeartbeatMonitor) Stop() {
	m.isStopped.Store(true)
}

func (m *HeartbeatMonitor) Interval() time.Duration {
	return m.interval
}
