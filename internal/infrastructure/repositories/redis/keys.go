package redis

import "liveclass/internal/core/domain"

const (
	keyPrefix        = "liveclass:"
	schemaVersionKey = keyPrefix + "schema:version"
	liveStreamsKey   = keyPrefix + "stream:live"
)

func streamKey(id domain.StreamID) string {
	return keyPrefix + "stream:" + string(id)
}

func recordingKey(id domain.RecordingID) string {
	return keyPrefix + "recording:" + string(id)
}

func streamRecordingsKey(id domain.StreamID) string {
	return keyPrefix + "stream:" + string(id) + ":recordings"
}
