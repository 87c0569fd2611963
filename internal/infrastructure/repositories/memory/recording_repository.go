package memory

import (
	"context"
	"sort"
	"sync"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"
)

type MemoryRecordingRepository struct {
	recordings map[domain.RecordingID]*domain.Recording
	mu         sync.RWMutex
}

func NewMemoryRecordingRepository() ports.RecordingRepository {
	return &MemoryRecordingRepository{
		recordings: make(map[domain.RecordingID]*domain.Recording),
	}
}

// Save inserts or replaces the recording.
func (r *MemoryRecordingRepository) Save(ctx context.Context, rec *domain.Recording) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recordings[rec.ID] = cloneRecording(rec)
	return nil
}

func (r *MemoryRecordingRepository) GetByID(ctx context.Context, id domain.RecordingID) (*domain.Recording, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.recordings[id]
	if !exists {
		return nil, domain.ErrRecordingNotFound
	}
	return cloneRecording(rec), nil
}

func (r *MemoryRecordingRepository) ListByStream(ctx context.Context, streamID domain.StreamID) ([]*domain.Recording, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Recording, 0)
	for _, rec := range r.recordings {
		if rec.StreamID == streamID {
			out = append(out, cloneRecording(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func cloneRecording(rec *domain.Recording) *domain.Recording {
	out := *rec
	if rec.EndedAt != nil {
		t := *rec.EndedAt
		out.EndedAt = &t
	}
	return &out
}
