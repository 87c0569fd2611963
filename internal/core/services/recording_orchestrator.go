package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"
	"liveclass/pkg/circuitbreaker"
	"liveclass/pkg/retry"

	"github.com/dustin/go-humanize"
	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RecordingConfig struct {
	FileExtension string
	Workers       int
	Retry         retry.Config
	Breaker       circuitbreaker.Config
}

func DefaultRecordingConfig() RecordingConfig {
	return RecordingConfig{
		FileExtension: "webm",
		Workers:       4,
		Retry:         retry.DefaultConfig(),
		Breaker:       circuitbreaker.DefaultConfig(),
	}
}

// RecordingOrchestrator runs the recording units of all streams. At most one
// unfinalized recording exists per stream. Blob writes run on a bounded
// worker pool, away from the signaling path.
type RecordingOrchestrator struct {
	repo    ports.RecordingRepository
	blobs   ports.BlobStorage
	pool    *workerpool.WorkerPool
	breaker *circuitbreaker.CircuitBreaker
	cfg     RecordingConfig
	metrics ports.CoordinatorMetrics
	logger  *zap.SugaredLogger

	mu       sync.Mutex
	active   map[domain.RecordingID]*activeRecording
	byStream map[domain.StreamID]domain.RecordingID

	now func() time.Time
}

type activeRecording struct {
	mu       sync.Mutex
	rec      domain.Recording
	segments [][]byte
	size     int64
	done     bool
}

func NewRecordingOrchestrator(
	repo ports.RecordingRepository,
	blobs ports.BlobStorage,
	cfg RecordingConfig,
	metrics ports.CoordinatorMetrics,
	logger *zap.SugaredLogger,
) *RecordingOrchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.FileExtension == "" {
		cfg.FileExtension = "bin"
	}
	breaker := circuitbreaker.New(cfg.Breaker)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("recording storage breaker changed state", "from", from.String(), "to", to.String())
	})
	return &RecordingOrchestrator{
		repo:     repo,
		blobs:    blobs,
		pool:     workerpool.New(cfg.Workers),
		breaker:  breaker,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		active:   make(map[domain.RecordingID]*activeRecording),
		byStream: make(map[domain.StreamID]domain.RecordingID),
		now:      time.Now,
	}
}

// Start opens a recording for the stream. The recording is held locked until
// its metadata is saved, so a concurrent Stop or AppendSegment waits for it.
func (o *RecordingOrchestrator) Start(ctx context.Context, streamID domain.StreamID) (*domain.Recording, error) {
	a := &activeRecording{
		rec: domain.Recording{
			ID:        domain.RecordingID(uuid.NewString()),
			StreamID:  streamID,
			StartedAt: o.now(),
		},
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	o.mu.Lock()
	if _, exists := o.byStream[streamID]; exists {
		o.mu.Unlock()
		return nil, domain.ErrRecordingAlreadyActive
	}
	o.active[a.rec.ID] = a
	o.byStream[streamID] = a.rec.ID
	o.mu.Unlock()

	rec := a.rec
	if err := o.repo.Save(ctx, &rec); err != nil {
		a.done = true
		o.release(a)
		return nil, fmt.Errorf("failed to save recording: %w", err)
	}

	o.metrics.RecordingStarted(streamID)
	o.logger.Infow("recording started", "stream_id", streamID, "recording_id", rec.ID)
	return &rec, nil
}

// ActiveFor returns the id of the stream's unfinalized recording.
func (o *RecordingOrchestrator) ActiveFor(streamID domain.StreamID) (domain.RecordingID, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id, ok := o.byStream[streamID]
	return id, ok
}

// AppendSegment buffers opaque media bytes for an active recording.
func (o *RecordingOrchestrator) AppendSegment(recordingID domain.RecordingID, segment []byte) error {
	a, ok := o.lookup(recordingID)
	if !ok {
		return domain.ErrRecordingNotActive
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done {
		return domain.ErrRecordingNotActive
	}
	if len(segment) == 0 {
		return nil
	}
	buf := make([]byte, len(segment))
	copy(buf, segment)
	a.segments = append(a.segments, buf)
	a.size += int64(len(buf))
	a.rec.Segments++
	return nil
}

// Stop finalizes the recording and persists the artifact. If the blob store
// or metadata write fails the recording stays active and Stop may be retried.
func (o *RecordingOrchestrator) Stop(ctx context.Context, recordingID domain.RecordingID) (*domain.Recording, error) {
	a, ok := o.lookup(recordingID)
	if !ok {
		return nil, domain.ErrRecordingNotActive
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done {
		return nil, domain.ErrRecordingNotActive
	}

	endedAt := o.now()
	rec := a.rec
	rec.EndedAt = &endedAt
	rec.DurationMs = endedAt.Sub(rec.StartedAt).Milliseconds()
	rec.SizeBytes = a.size
	rec.StorageRef = o.objectName(rec)

	if err := o.persist(ctx, rec.StorageRef, a.segments); err != nil {
		o.metrics.RecordingFailed(rec.StreamID)
		o.logger.Errorw("failed to persist recording",
			"stream_id", rec.StreamID,
			"recording_id", rec.ID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to persist recording %s: %w", rec.ID, err)
	}
	if err := o.repo.Save(ctx, &rec); err != nil {
		o.metrics.RecordingFailed(rec.StreamID)
		return nil, fmt.Errorf("failed to save recording metadata: %w", err)
	}

	a.done = true
	a.rec = rec
	a.segments = nil
	o.release(a)

	o.metrics.RecordingFinalized(rec.StreamID, rec.SizeBytes, time.Duration(rec.DurationMs)*time.Millisecond)
	o.logger.Infow("recording finalized",
		"stream_id", rec.StreamID,
		"recording_id", rec.ID,
		"size", humanize.Bytes(uint64(rec.SizeBytes)),
		"duration_ms", rec.DurationMs,
		"storage_ref", rec.StorageRef,
	)
	return &rec, nil
}

// FinalizeStream stops the stream's active recording, if any.
func (o *RecordingOrchestrator) FinalizeStream(ctx context.Context, streamID domain.StreamID) (*domain.Recording, error) {
	id, ok := o.ActiveFor(streamID)
	if !ok {
		return nil, nil
	}
	return o.Stop(ctx, id)
}

func (o *RecordingOrchestrator) List(ctx context.Context, streamID domain.StreamID) ([]*domain.Recording, error) {
	return o.repo.ListByStream(ctx, streamID)
}

// Close waits for queued blob writes to complete.
func (o *RecordingOrchestrator) Close() {
	o.pool.StopWait()
}

func (o *RecordingOrchestrator) persist(ctx context.Context, name string, segments [][]byte) error {
	var err error
	o.pool.SubmitWait(func() {
		err = o.breaker.Execute(ctx, func() error {
			return retry.Retry(ctx, o.cfg.Retry, func() error {
				readers := make([]io.Reader, 0, len(segments))
				for _, seg := range segments {
					readers = append(readers, bytes.NewReader(seg))
				}
				return o.blobs.Save(ctx, name, io.MultiReader(readers...))
			})
		})
	})
	return err
}

func (o *RecordingOrchestrator) objectName(rec domain.Recording) string {
	return fmt.Sprintf("%s/%s.%s", rec.StreamID, rec.ID, o.cfg.FileExtension)
}

func (o *RecordingOrchestrator) lookup(id domain.RecordingID) (*activeRecording, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, ok := o.active[id]
	return a, ok
}

func (o *RecordingOrchestrator) release(a *activeRecording) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, a.rec.ID)
	if o.byStream[a.rec.StreamID] == a.rec.ID {
		delete(o.byStream, a.rec.StreamID)
	}
}
