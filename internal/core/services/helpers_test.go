package services

import (
	"context"
	"sync"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"
	"liveclass/internal/infrastructure/repositories/memory"
)

// recordingTransport captures what the relay would put on the wire.
type recordingTransport struct {
	mu      sync.Mutex
	sent    map[domain.ParticipantID][]*domain.SignalingMessage
	closed  map[domain.ParticipantID]int
	refused map[domain.ParticipantID]bool
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{
		sent:    make(map[domain.ParticipantID][]*domain.SignalingMessage),
		closed:  make(map[domain.ParticipantID]int),
		refused: make(map[domain.ParticipantID]bool),
	}
}

func (t *recordingTransport) Send(id domain.ParticipantID, msg *domain.SignalingMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.refused[id] {
		return false
	}
	t.sent[id] = append(t.sent[id], msg)
	return true
}

func (t *recordingTransport) Close(id domain.ParticipantID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed[id]++
}

func (t *recordingTransport) messages(id domain.ParticipantID) []*domain.SignalingMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*domain.SignalingMessage(nil), t.sent[id]...)
}

func (t *recordingTransport) types(id domain.ParticipantID) []domain.MessageType {
	var out []domain.MessageType
	for _, m := range t.messages(id) {
		out = append(out, m.Type)
	}
	return out
}

func (t *recordingTransport) closedCount(id domain.ParticipantID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed[id]
}

// countingEvents records published lifecycle events.
type countingEvents struct {
	mu     sync.Mutex
	events []*domain.StreamEvent
}

func (e *countingEvents) Publish(_ context.Context, event *domain.StreamEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *countingEvents) ofType(t domain.EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// gatedRecordings blocks the first Save until gate is closed.
type gatedRecordings struct {
	ports.RecordingRepository
	once    sync.Once
	entered chan struct{}
	gate    chan struct{}
}

func newGatedRecordings() *gatedRecordings {
	return &gatedRecordings{
		RecordingRepository: memory.NewMemoryRecordingRepository(),
		entered:             make(chan struct{}),
		gate:                make(chan struct{}),
	}
}

func (g *gatedRecordings) Save(ctx context.Context, rec *domain.Recording) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.gate
	}
	return g.RecordingRepository.Save(ctx, rec)
}
