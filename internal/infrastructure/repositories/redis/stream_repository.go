package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisStreamRepository struct {
	client *redis.Client
}

func NewRedisStreamRepository(client *redis.Client) ports.StreamRepository {
	return &RedisStreamRepository{client: client}
}

func (r *RedisStreamRepository) Create(ctx context.Context, stream *domain.Stream) error {
	data, err := json.Marshal(stream)
	if err != nil {
		return fmt.Errorf("failed to marshal stream: %w", err)
	}

	created, err := r.client.SetNX(ctx, streamKey(stream.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set stream in Redis: %w", err)
	}
	if !created {
		return domain.ErrStreamExists
	}

	return r.syncLiveSet(ctx, r.client, stream)
}

func (r *RedisStreamRepository) GetByID(ctx context.Context, id domain.StreamID) (*domain.Stream, error) {
	data, err := r.client.Get(ctx, streamKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrStreamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stream from Redis: %w", err)
	}

	var stream domain.Stream
	if err := json.Unmarshal(data, &stream); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stream: %w", err)
	}

	return &stream, nil
}

func (r *RedisStreamRepository) Update(ctx context.Context, stream *domain.Stream) error {
	data, err := json.Marshal(stream)
	if err != nil {
		return fmt.Errorf("failed to marshal stream: %w", err)
	}

	// XX: only overwrite an existing stream.
	updated, err := r.client.SetXX(ctx, streamKey(stream.ID), data, redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to update stream in Redis: %w", err)
	}
	if !updated {
		return domain.ErrStreamNotFound
	}

	return r.syncLiveSet(ctx, r.client, stream)
}

func (r *RedisStreamRepository) syncLiveSet(ctx context.Context, cmd redis.Cmdable, stream *domain.Stream) error {
	var err error
	if stream.State == domain.StreamLive {
		err = cmd.SAdd(ctx, liveStreamsKey, string(stream.ID)).Err()
	} else {
		err = cmd.SRem(ctx, liveStreamsKey, string(stream.ID)).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to update live stream set: %w", err)
	}
	return nil
}

func (r *RedisStreamRepository) Delete(ctx context.Context, id domain.StreamID) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, liveStreamsKey, string(id))
		pipe.Del(ctx, streamKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete stream from Redis: %w", err)
	}

	return nil
}

func (r *RedisStreamRepository) ListLive(ctx context.Context) ([]*domain.Stream, error) {
	streamIDs, err := r.client.SMembers(ctx, liveStreamsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get live streams from Redis: %w", err)
	}

	streams := make([]*domain.Stream, 0, len(streamIDs))
	for _, id := range streamIDs {
		stream, err := r.GetByID(ctx, domain.StreamID(id))
		if err != nil {
			// Skip streams that no longer exist
			continue
		}
		if stream.State == domain.StreamLive {
			streams = append(streams, stream)
		}
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i].CreatedAt.Before(streams[j].CreatedAt) })

	return streams, nil
}
