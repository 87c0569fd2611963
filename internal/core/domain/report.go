package domain

import "time"

// SessionReport is the post-session feedback summary for a stream.
type SessionReport struct {
	StreamID              StreamID             `json:"streamId"`
	State                 StreamState          `json:"state"`
	Statistics            StreamStatistics     `json:"statistics"`
	DurationSeconds       float64              `json:"durationSeconds"`
	CurrentViewers        int                  `json:"currentViewers"`
	TotalWatchTimeSeconds float64              `json:"totalWatchTimeSeconds"`
	Participants          []ParticipantSummary `json:"participants"`
	Recordings            []*Recording         `json:"recordings"`
	GeneratedAt           time.Time            `json:"generatedAt"`
}
