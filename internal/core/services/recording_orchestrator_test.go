package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"
	"liveclass/internal/infrastructure/repositories/memory"
	"liveclass/pkg/circuitbreaker"
	"liveclass/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// flakyBlobs fails the first failures saves, then stores in memory.
type flakyBlobs struct {
	mu       sync.Mutex
	failures int
	calls    int
	objects  map[string][]byte
}

func newFlakyBlobs(failures int) *flakyBlobs {
	return &flakyBlobs{failures: failures, objects: make(map[string][]byte)}
}

func (b *flakyBlobs) Save(_ context.Context, name string, r io.Reader) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.calls <= b.failures {
		return errors.New("disk unavailable")
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	b.objects[name] = buf.Bytes()
	return nil
}

func (b *flakyBlobs) Delete(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, name)
	return nil
}

func (b *flakyBlobs) object(name string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[name]
	return data, ok
}

func newTestOrchestrator(t *testing.T, blobs *flakyBlobs, attempts int) (*RecordingOrchestrator, *fakeClock) {
	t.Helper()
	return newTestOrchestratorWithRepo(t, memory.NewMemoryRecordingRepository(), blobs, attempts)
}

func newTestOrchestratorWithRepo(t *testing.T, repo ports.RecordingRepository, blobs *flakyBlobs, attempts int) (*RecordingOrchestrator, *fakeClock) {
	t.Helper()
	cfg := DefaultRecordingConfig()
	cfg.Workers = 2
	cfg.Retry = retry.Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	cfg.Breaker = circuitbreaker.Config{FailureThreshold: 100, SuccessThreshold: 1, OpenTimeout: time.Second, MaxTrials: 1}

	o := NewRecordingOrchestrator(repo, blobs, cfg, NoopMetrics{}, zaptest.NewLogger(t).Sugar())
	clock := newFakeClock()
	o.now = clock.Now
	t.Cleanup(o.Close)
	return o, clock
}

func TestRecordingOrchestrator_Lifecycle(t *testing.T) {
	blobs := newFlakyBlobs(0)
	o, clock := newTestOrchestrator(t, blobs, 1)
	ctx := context.Background()

	rec, err := o.Start(ctx, "stream-1")
	require.NoError(t, err)
	assert.True(t, rec.Active())

	id, ok := o.ActiveFor("stream-1")
	require.True(t, ok)
	assert.Equal(t, rec.ID, id)

	require.NoError(t, o.AppendSegment(rec.ID, []byte("hello ")))
	require.NoError(t, o.AppendSegment(rec.ID, []byte("world")))
	require.NoError(t, o.AppendSegment(rec.ID, nil))

	clock.Advance(90 * time.Second)
	final, err := o.Stop(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, final.EndedAt)
	assert.Equal(t, int64(90_000), final.DurationMs)
	assert.Equal(t, int64(11), final.SizeBytes)
	assert.Equal(t, 2, final.Segments)
	assert.Equal(t, "stream-1/"+string(rec.ID)+".webm", final.StorageRef)

	data, ok := blobs.object(final.StorageRef)
	require.True(t, ok)
	assert.Equal(t, "hello world", string(data))

	_, ok = o.ActiveFor("stream-1")
	assert.False(t, ok)
	assert.ErrorIs(t, o.AppendSegment(rec.ID, []byte("late")), domain.ErrRecordingNotActive)
	_, err = o.Stop(ctx, rec.ID)
	assert.ErrorIs(t, err, domain.ErrRecordingNotActive)

	list, err := o.List(ctx, "stream-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Active())
}

func TestRecordingOrchestrator_OneActivePerStream(t *testing.T) {
	o, _ := newTestOrchestrator(t, newFlakyBlobs(0), 1)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Start(ctx, "stream-1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	started := 0
	for err := range results {
		if err == nil {
			started++
		} else {
			assert.ErrorIs(t, err, domain.ErrRecordingAlreadyActive)
		}
	}
	assert.Equal(t, 1, started)

	_, err := o.Start(ctx, "stream-2")
	assert.NoError(t, err, "other streams are independent")
}

func TestRecordingOrchestrator_RetriesTransientFailures(t *testing.T) {
	blobs := newFlakyBlobs(2)
	o, _ := newTestOrchestrator(t, blobs, 3)
	ctx := context.Background()

	rec, err := o.Start(ctx, "stream-1")
	require.NoError(t, err)
	require.NoError(t, o.AppendSegment(rec.ID, []byte("data")))

	final, err := o.Stop(ctx, rec.ID)
	require.NoError(t, err)
	data, ok := blobs.object(final.StorageRef)
	require.True(t, ok)
	assert.Equal(t, "data", string(data), "each attempt rereads every segment")
}

func TestRecordingOrchestrator_FailedStopCanBeRetried(t *testing.T) {
	blobs := newFlakyBlobs(1)
	o, _ := newTestOrchestrator(t, blobs, 1)
	ctx := context.Background()

	rec, err := o.Start(ctx, "stream-1")
	require.NoError(t, err)
	require.NoError(t, o.AppendSegment(rec.ID, []byte("data")))

	_, err = o.Stop(ctx, rec.ID)
	require.Error(t, err)

	id, ok := o.ActiveFor("stream-1")
	require.True(t, ok, "a failed finalize keeps the recording active")
	assert.Equal(t, rec.ID, id)

	final, err := o.FinalizeStream(ctx, "stream-1")
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Equal(t, int64(4), final.SizeBytes)

	final, err = o.FinalizeStream(ctx, "stream-1")
	assert.NoError(t, err)
	assert.Nil(t, final)
}

func TestRecordingOrchestrator_StopWaitsForStartMetadata(t *testing.T) {
	repo := newGatedRecordings()
	o, _ := newTestOrchestratorWithRepo(t, repo, newFlakyBlobs(0), 1)
	ctx := context.Background()

	started := make(chan *domain.Recording, 1)
	go func() {
		rec, err := o.Start(ctx, "stream-1")
		assert.NoError(t, err)
		started <- rec
	}()
	<-repo.entered

	id, ok := o.ActiveFor("stream-1")
	require.True(t, ok)
	stopped := make(chan error, 1)
	go func() {
		_, err := o.Stop(ctx, id)
		stopped <- err
	}()

	select {
	case <-stopped:
		t.Fatal("stop finished before the start metadata was saved")
	case <-time.After(50 * time.Millisecond):
	}

	close(repo.gate)
	require.NotNil(t, <-started)
	require.NoError(t, <-stopped)

	stored, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, stored.Active(), "the finalized record is the one that stays")
}
