package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"
)

type StreamRepository struct {
	db *DB
}

func NewStreamRepository(db *DB) ports.StreamRepository {
	return &StreamRepository{db: db}
}

const streamColumns = `id, title, host_id, state, capacity, bandwidth_settings, statistics, created_at, started_at, ended_at`

func (r *StreamRepository) Create(ctx context.Context, stream *domain.Stream) error {
	settings, stats, err := encodeStreamDocs(stream)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO streams (`+streamColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(stream.ID),
		stream.Title,
		string(stream.HostID),
		string(stream.State),
		stream.Capacity,
		settings,
		stats,
		toUnix(stream.CreatedAt),
		nullTime(stream.StartedAt),
		nullTime(stream.EndedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.ErrStreamExists
		}
		return fmt.Errorf("failed to insert stream: %w", err)
	}
	return nil
}

func (r *StreamRepository) GetByID(ctx context.Context, id domain.StreamID) (*domain.Stream, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+streamColumns+` FROM streams WHERE id = ?`, string(id))
	stream, err := scanStream(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrStreamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query stream: %w", err)
	}
	return stream, nil
}

func (r *StreamRepository) Update(ctx context.Context, stream *domain.Stream) error {
	settings, stats, err := encodeStreamDocs(stream)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE streams
		SET title = ?, host_id = ?, state = ?, capacity = ?, bandwidth_settings = ?, statistics = ?, started_at = ?, ended_at = ?
		WHERE id = ?
	`,
		stream.Title,
		string(stream.HostID),
		string(stream.State),
		stream.Capacity,
		settings,
		stats,
		nullTime(stream.StartedAt),
		nullTime(stream.EndedAt),
		string(stream.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return domain.ErrStreamNotFound
	}
	return nil
}

func (r *StreamRepository) Delete(ctx context.Context, id domain.StreamID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM streams WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete stream: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return domain.ErrStreamNotFound
	}
	return nil
}

func (r *StreamRepository) ListLive(ctx context.Context) ([]*domain.Stream, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+streamColumns+`
		FROM streams
		WHERE state = ?
		ORDER BY created_at
	`, string(domain.StreamLive))
	if err != nil {
		return nil, fmt.Errorf("failed to query live streams: %w", err)
	}
	defer rows.Close()

	streams := make([]*domain.Stream, 0)
	for rows.Next() {
		stream, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stream: %w", err)
		}
		streams = append(streams, stream)
	}
	return streams, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStream(row rowScanner) (*domain.Stream, error) {
	var (
		stream             domain.Stream
		id, hostID, state  string
		settings, stats    string
		createdAt          int64
		startedAt, endedAt sql.NullInt64
	)
	if err := row.Scan(&id, &stream.Title, &hostID, &state, &stream.Capacity, &settings, &stats, &createdAt, &startedAt, &endedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(settings), &stream.BandwidthSettings); err != nil {
		return nil, fmt.Errorf("failed to decode bandwidth settings: %w", err)
	}
	if err := json.Unmarshal([]byte(stats), &stream.Statistics); err != nil {
		return nil, fmt.Errorf("failed to decode statistics: %w", err)
	}
	stream.ID = domain.StreamID(id)
	stream.HostID = domain.UserID(hostID)
	stream.State = domain.StreamState(state)
	stream.CreatedAt = fromUnix(createdAt)
	stream.StartedAt = timePtr(startedAt)
	stream.EndedAt = timePtr(endedAt)
	return &stream, nil
}

func encodeStreamDocs(stream *domain.Stream) (string, string, error) {
	settings, err := json.Marshal(stream.BandwidthSettings)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode bandwidth settings: %w", err)
	}
	stats, err := json.Marshal(stream.Statistics)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode statistics: %w", err)
	}
	return string(settings), string(stats), nil
}
