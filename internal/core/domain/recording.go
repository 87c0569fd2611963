package domain

import "time"

type RecordingID string

type Recording struct {
	ID         RecordingID `json:"id"`
	StreamID   StreamID    `json:"streamId"`
	StartedAt  time.Time   `json:"startedAt"`
	EndedAt    *time.Time  `json:"endedAt,omitempty"`
	DurationMs int64       `json:"durationMs"`
	SizeBytes  int64       `json:"sizeBytes"`
	Segments   int         `json:"segments"`
	StorageRef string      `json:"storageRef,omitempty"`
}

func (r *Recording) Active() bool {
	return r.EndedAt == nil
}
