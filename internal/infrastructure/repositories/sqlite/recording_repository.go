package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"
)

type RecordingRepository struct {
	db *DB
}

func NewRecordingRepository(db *DB) ports.RecordingRepository {
	return &RecordingRepository{db: db}
}

const recordingColumns = `id, stream_id, started_at, ended_at, duration_ms, size_bytes, segments, storage_ref`

// Save upserts the recording row.
func (r *RecordingRepository) Save(ctx context.Context, rec *domain.Recording) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recordings (`+recordingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ended_at = excluded.ended_at,
			duration_ms = excluded.duration_ms,
			size_bytes = excluded.size_bytes,
			segments = excluded.segments,
			storage_ref = excluded.storage_ref
	`,
		string(rec.ID),
		string(rec.StreamID),
		toUnix(rec.StartedAt),
		nullTime(rec.EndedAt),
		rec.DurationMs,
		rec.SizeBytes,
		rec.Segments,
		rec.StorageRef,
	)
	if err != nil {
		return fmt.Errorf("failed to save recording: %w", err)
	}
	return nil
}

func (r *RecordingRepository) GetByID(ctx context.Context, id domain.RecordingID) (*domain.Recording, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, string(id))
	rec, err := scanRecording(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrRecordingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query recording: %w", err)
	}
	return rec, nil
}

func (r *RecordingRepository) ListByStream(ctx context.Context, streamID domain.StreamID) ([]*domain.Recording, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordingColumns+`
		FROM recordings
		WHERE stream_id = ?
		ORDER BY started_at
	`, string(streamID))
	if err != nil {
		return nil, fmt.Errorf("failed to query recordings: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Recording, 0)
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recording: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecording(row rowScanner) (*domain.Recording, error) {
	var (
		rec          domain.Recording
		id, streamID string
		startedAt    int64
		endedAt      sql.NullInt64
	)
	if err := row.Scan(&id, &streamID, &startedAt, &endedAt, &rec.DurationMs, &rec.SizeBytes, &rec.Segments, &rec.StorageRef); err != nil {
		return nil, err
	}
	rec.ID = domain.RecordingID(id)
	rec.StreamID = domain.StreamID(streamID)
	rec.StartedAt = fromUnix(startedAt)
	rec.EndedAt = timePtr(endedAt)
	return &rec, nil
}
