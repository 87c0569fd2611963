package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisRecordingRepository stores recordings as JSON documents indexed per
// stream by a sorted set scored on start time.
type RedisRecordingRepository struct {
	client *redis.Client
}

func NewRedisRecordingRepository(client *redis.Client) ports.RecordingRepository {
	return &RedisRecordingRepository{client: client}
}

func (r *RedisRecordingRepository) Save(ctx context.Context, rec *domain.Recording) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal recording: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordingKey(rec.ID), data, 0)
		pipe.ZAdd(ctx, streamRecordingsKey(rec.StreamID), redis.Z{
			Score:  float64(rec.StartedAt.UnixNano()),
			Member: string(rec.ID),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save recording in Redis: %w", err)
	}
	return nil
}

func (r *RedisRecordingRepository) GetByID(ctx context.Context, id domain.RecordingID) (*domain.Recording, error) {
	data, err := r.client.Get(ctx, recordingKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrRecordingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording from Redis: %w", err)
	}

	var rec domain.Recording
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recording: %w", err)
	}
	return &rec, nil
}

func (r *RedisRecordingRepository) ListByStream(ctx context.Context, streamID domain.StreamID) ([]*domain.Recording, error) {
	ids, err := r.client.ZRange(ctx, streamRecordingsKey(streamID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings from Redis: %w", err)
	}

	out := make([]*domain.Recording, 0, len(ids))
	for _, id := range ids {
		rec, err := r.GetByID(ctx, domain.RecordingID(id))
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
