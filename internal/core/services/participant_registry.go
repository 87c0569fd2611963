package services

import (
	"sort"
	"sync"
	"time"

	"liveclass/internal/core/domain"
)

// ParticipantRegistry is the per-stream table of participant records. It is
// the single source of truth for role, connection state and the orthogonal
// muted/handRaised/audioRequested flags.
type ParticipantRegistry struct {
	streamID domain.StreamID
	hostID   domain.UserID

	mu           sync.RWMutex
	participants map[domain.ParticipantID]*participantEntry
	byUser       map[domain.UserID]domain.ParticipantID

	now func() time.Time
}

type participantEntry struct {
	domain.Participant
	presentSince time.Time
}

// accrue folds the time since presentSince into the watch-time total.
func (e *participantEntry) accrue(now time.Time) {
	if d := now.Sub(e.presentSince); d > 0 {
		e.AccumulatedWatchTimeSeconds += d.Seconds()
	}
	e.presentSince = now
}

func (e *participantEntry) view(now time.Time) domain.Participant {
	p := e.Participant
	if d := now.Sub(e.presentSince); d > 0 {
		p.AccumulatedWatchTimeSeconds += d.Seconds()
	}
	return p
}

func NewParticipantRegistry(streamID domain.StreamID, hostID domain.UserID) *ParticipantRegistry {
	return &ParticipantRegistry{
		streamID:     streamID,
		hostID:       hostID,
		participants: make(map[domain.ParticipantID]*participantEntry),
		byUser:       make(map[domain.UserID]domain.ParticipantID),
		now:          time.Now,
	}
}

func (r *ParticipantRegistry) StreamID() domain.StreamID {
	return r.streamID
}

func (r *ParticipantRegistry) IsHost(userID domain.UserID) bool {
	return userID == r.hostID
}

// Join creates the participant record for userID under id, or replaces the
// existing one in place keeping its id. The second return value is true for
// a re-join.
func (r *ParticipantRegistry) Join(userID domain.UserID, id domain.ParticipantID) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.byUser[userID]; ok {
		e := r.participants[existing]
		e.accrue(now)
		e.ConnectionState = domain.ConnectionConnecting
		e.HandRaised = false
		e.AudioRequested = false
		e.LeftAt = nil
		return e.Participant, true
	}

	role := domain.RoleParticipant
	if r.IsHost(userID) {
		role = domain.RoleHost
	}
	e := &participantEntry{
		Participant: domain.Participant{
			ID:              id,
			StreamID:        r.streamID,
			UserID:          userID,
			Role:            role,
			ConnectionState: domain.ConnectionConnecting,
			VideoEnabled:    true,
			JoinedAt:        now,
		},
		presentSince: now,
	}
	r.participants[e.ID] = e
	r.byUser[userID] = e.ID
	return e.Participant, false
}

func (r *ParticipantRegistry) Get(id domain.ParticipantID) (domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.participants[id]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return e.view(r.now()), nil
}

func (r *ParticipantRegistry) GetByUser(userID domain.UserID) (domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUser[userID]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return r.participants[id].view(r.now()), nil
}

// List returns every current participant ordered by join time.
func (r *ParticipantRegistry) List() []domain.Participant {
	r.mu.RLock()
	now := r.now()
	out := make([]domain.Participant, 0, len(r.participants))
	for _, e := range r.participants {
		out = append(out, e.view(now))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (r *ParticipantRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

func (r *ParticipantRegistry) Contains(id domain.ParticipantID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.participants[id]
	return ok
}

// Deliverable reports whether id is present and has a live connection.
func (r *ParticipantRegistry) Deliverable(id domain.ParticipantID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.participants[id]
	return ok && e.ConnectionState.Deliverable()
}

// DeliverableIDs lists connected participants other than except.
func (r *ParticipantRegistry) DeliverableIDs(except domain.ParticipantID) []domain.ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]domain.ParticipantID, 0, len(r.participants))
	for id, e := range r.participants {
		if id == except || !e.ConnectionState.Deliverable() {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (r *ParticipantRegistry) SetConnectionState(id domain.ParticipantID, state domain.ConnectionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.participants[id]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	e.ConnectionState = state
	return nil
}

// Promote grants co-host. It never produces a second host.
func (r *ParticipantRegistry) Promote(caller domain.UserID, target domain.ParticipantID) (bool, error) {
	if !r.IsHost(caller) {
		return false, domain.ErrNotAuthorized
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.participants[target]
	if !ok {
		return false, domain.ErrParticipantNotFound
	}
	if e.Role != domain.RoleParticipant {
		return false, nil
	}
	e.Role = domain.RoleCoHost
	return true, nil
}

func (r *ParticipantRegistry) SetMuted(caller domain.UserID, target domain.ParticipantID, muted bool) (bool, error) {
	if !r.IsHost(caller) {
		return false, domain.ErrNotAuthorized
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.participants[target]
	if !ok {
		return false, domain.ErrParticipantNotFound
	}
	if e.Muted == muted {
		return false, nil
	}
	e.Muted = muted
	return true, nil
}

// AllowAudio unmutes target and clears its pending audio request.
func (r *ParticipantRegistry) AllowAudio(caller domain.UserID, target domain.ParticipantID) (bool, error) {
	if !r.IsHost(caller) {
		return false, domain.ErrNotAuthorized
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.participants[target]
	if !ok {
		return false, domain.ErrParticipantNotFound
	}
	changed := e.Muted || e.AudioRequested
	e.Muted = false
	e.AudioRequested = false
	return changed, nil
}

func (r *ParticipantRegistry) SetHandRaised(caller domain.UserID, target domain.ParticipantID, raised bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.participants[target]
	if !ok {
		return false, domain.ErrParticipantNotFound
	}
	if e.UserID != caller {
		return false, domain.ErrNotAuthorized
	}
	if e.HandRaised == raised {
		return false, nil
	}
	e.HandRaised = raised
	return true, nil
}

func (r *ParticipantRegistry) RequestAudio(caller domain.UserID) (domain.Participant, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byUser[caller]
	if !ok {
		return domain.Participant{}, false, domain.ErrParticipantNotFound
	}
	e := r.participants[id]
	if e.AudioRequested {
		return e.Participant, false, nil
	}
	e.AudioRequested = true
	return e.Participant, true, nil
}

// ApplyTrackState records a participant's own mute/video toggle.
func (r *ParticipantRegistry) ApplyTrackState(id domain.ParticipantID, state domain.TrackState) (domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.participants[id]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if state.Muted != nil {
		e.Muted = *state.Muted
	}
	if state.VideoEnabled != nil {
		e.VideoEnabled = *state.VideoEnabled
	}
	return e.Participant, nil
}

// AuthorizeRemoval checks that caller may remove target. The host cannot be
// removed.
func (r *ParticipantRegistry) AuthorizeRemoval(caller domain.UserID, target domain.ParticipantID) error {
	if !r.IsHost(caller) {
		return domain.ErrNotAuthorized
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.participants[target]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	if e.Role == domain.RoleHost {
		return domain.ErrNotAuthorized
	}
	return nil
}

// Remove drops the record and returns its final state. Removing an absent
// participant reports false.
func (r *ParticipantRegistry) Remove(id domain.ParticipantID) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.participants[id]
	if !ok {
		return domain.Participant{}, false
	}
	now := r.now()
	e.accrue(now)
	e.ConnectionState = domain.ConnectionDisconnected
	e.LeftAt = &now

	delete(r.participants, id)
	if r.byUser[e.UserID] == id {
		delete(r.byUser, e.UserID)
	}
	return e.Participant, true
}

// Drain removes every participant, returning their final records.
func (r *ParticipantRegistry) Drain() []domain.Participant {
	r.mu.Lock()
	ids := make([]domain.ParticipantID, 0, len(r.participants))
	for id := range r.participants {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	out := make([]domain.Participant, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.Remove(id); ok {
			out = append(out, p)
		}
	}
	return out
}
