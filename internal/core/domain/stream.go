package domain

import (
	"time"
)

type StreamID string

type StreamState string

const (
	StreamScheduled StreamState = "scheduled"
	StreamLive      StreamState = "live"
	StreamEnded     StreamState = "ended"
)

// CanTransitionTo reports whether the lifecycle allows moving to next.
// Transitions are monotonic: scheduled -> live -> ended.
func (s StreamState) CanTransitionTo(next StreamState) bool {
	switch s {
	case StreamScheduled:
		return next == StreamLive
	case StreamLive:
		return next == StreamEnded
	default:
		return false
	}
}

type Stream struct {
	ID                StreamID          `json:"id"`
	Title             string            `json:"title"`
	HostID            UserID            `json:"hostId"`
	State             StreamState       `json:"state"`
	Capacity          int               `json:"capacity"`
	BandwidthSettings BandwidthSettings `json:"bandwidthSettings"`
	Statistics        StreamStatistics  `json:"statistics"`
	CreatedAt         time.Time         `json:"createdAt"`
	StartedAt         *time.Time        `json:"startedAt,omitempty"`
	EndedAt           *time.Time        `json:"endedAt,omitempty"`
}

type StreamStatistics struct {
	PeakViewers       int `json:"peakViewers"`
	TotalViews        int `json:"totalViews"`
	TotalInteractions int `json:"totalInteractions"`
	// Time-weighted mean of concurrent participants over the live period.
	AverageViewers float64 `json:"averageViewers"`
	ViewerSeconds  float64 `json:"viewerSeconds"`
}

// Clone returns a deep copy safe to hand out of a serialized stream domain.
func (s *Stream) Clone() *Stream {
	if s == nil {
		return nil
	}
	out := *s
	out.BandwidthSettings.QualityLevels = append([]Quality(nil), s.BandwidthSettings.QualityLevels...)
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	return &out
}
