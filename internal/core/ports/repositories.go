package ports

import (
	"context"
	"io"

	"liveclass/internal/core/domain"
)

type StreamRepository interface {
	Create(ctx context.Context, stream *domain.Stream) error
	GetByID(ctx context.Context, id domain.StreamID) (*domain.Stream, error)
	Update(ctx context.Context, stream *domain.Stream) error
	Delete(ctx context.Context, id domain.StreamID) error
	ListLive(ctx context.Context) ([]*domain.Stream, error)
}

type RecordingRepository interface {
	Save(ctx context.Context, recording *domain.Recording) error
	GetByID(ctx context.Context, id domain.RecordingID) (*domain.Recording, error)
	ListByStream(ctx context.Context, streamID domain.StreamID) ([]*domain.Recording, error)
}

// BlobStorage persists finalized recording artifacts.
type BlobStorage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Delete(ctx context.Context, name string) error
}
