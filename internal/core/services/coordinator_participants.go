package services

import (
	"context"
	"encoding/json"
	"fmt"

	"liveclass/internal/core/domain"
	"liveclass/pkg/tracing"
)

// inactiveError explains why streamID has no live session.
func (c *Coordinator) inactiveError(ctx context.Context, streamID domain.StreamID) error {
	stream, err := c.streams.GetByID(ctx, streamID)
	if err != nil {
		return err
	}
	if stream.State == domain.StreamEnded {
		return fmt.Errorf("%w: stream has ended", domain.ErrStreamNotLive)
	}
	if stream.State == domain.StreamLive {
		// Live in the store but owned by no session here; resume it.
		s := c.lock(streamID)
		err := c.ensureLive(ctx, s, streamID)
		c.unlock(streamID, s)
		return err
	}
	return fmt.Errorf("%w: stream has not started", domain.ErrStreamNotLive)
}

// Heartbeat refreshes the caller's liveness and returns the viewer count.
func (c *Coordinator) Heartbeat(ctx context.Context, streamID domain.StreamID, userID domain.UserID) (int, error) {
	s, ok := c.liveSession(streamID)
	if !ok {
		if err := c.inactiveError(ctx, streamID); err != nil {
			return 0, err
		}
		if s, ok = c.liveSession(streamID); !ok {
			return 0, domain.ErrStreamNotLive
		}
	}
	p, err := s.registry.GetByUser(userID)
	if err != nil {
		return 0, err
	}
	if err := c.heartbeats.Heartbeat(streamID, p.ID); err != nil {
		return 0, err
	}
	return s.registry.Count(), nil
}

// TouchParticipant refreshes liveness for a participant seen on its
// signaling connection.
func (c *Coordinator) TouchParticipant(ctx context.Context, streamID domain.StreamID, participantID domain.ParticipantID) error {
	s, ok := c.liveSession(streamID)
	if !ok {
		return domain.ErrStreamNotLive
	}
	if !s.registry.Contains(participantID) {
		return domain.ErrParticipantNotFound
	}
	return c.heartbeats.Heartbeat(streamID, participantID)
}

func (c *Coordinator) Participants(ctx context.Context, streamID domain.StreamID) ([]domain.Participant, error) {
	if s, ok := c.liveSession(streamID); ok {
		return s.registry.List(), nil
	}
	if _, err := c.streams.GetByID(ctx, streamID); err != nil {
		return nil, err
	}
	return []domain.Participant{}, nil
}

// withLive runs fn under the stream lock once the stream is known live.
func (c *Coordinator) withLive(ctx context.Context, streamID domain.StreamID, fn func(s *streamSession) error) error {
	s := c.lock(streamID)
	defer c.unlock(streamID, s)

	if err := c.ensureLive(ctx, s, streamID); err != nil {
		return err
	}
	return fn(s)
}

func (c *Coordinator) Promote(ctx context.Context, streamID domain.StreamID, callerID domain.UserID, target domain.ParticipantID) error {
	return c.withLive(ctx, streamID, func(s *streamSession) error {
		changed, err := s.registry.Promote(callerID, target)
		if err != nil || !changed {
			return err
		}
		s.relay.Broadcast(domain.MessageRoleChanged, map[string]interface{}{
			"participantId": target,
			"role":          domain.RoleCoHost,
		}, "")
		c.logger.Infow("participant promoted to co-host", "stream_id", streamID, "participant_id", target)
		return nil
	})
}

func (c *Coordinator) SetMuted(ctx context.Context, streamID domain.StreamID, callerID domain.UserID, target domain.ParticipantID, muted bool) error {
	return c.withLive(ctx, streamID, func(s *streamSession) error {
		changed, err := s.registry.SetMuted(callerID, target, muted)
		if err != nil || !changed {
			return err
		}
		s.relay.Broadcast(domain.MessageMuteChanged, map[string]interface{}{
			"participantId": target,
			"muted":         muted,
		}, "")
		c.logger.Infow("participant mute changed", "stream_id", streamID, "participant_id", target, "muted", muted)
		return nil
	})
}

func (c *Coordinator) AllowAudio(ctx context.Context, streamID domain.StreamID, callerID domain.UserID, target domain.ParticipantID) error {
	return c.withLive(ctx, streamID, func(s *streamSession) error {
		changed, err := s.registry.AllowAudio(callerID, target)
		if err != nil || !changed {
			return err
		}
		s.relay.Broadcast(domain.MessageMuteChanged, map[string]interface{}{
			"participantId": target,
			"muted":         false,
		}, "")
		return nil
	})
}

// RemoveParticipant ejects target. The target is told why before its route
// is closed.
func (c *Coordinator) RemoveParticipant(ctx context.Context, streamID domain.StreamID, callerID domain.UserID, target domain.ParticipantID) error {
	return c.withLive(ctx, streamID, func(s *streamSession) error {
		if err := s.registry.AuthorizeRemoval(callerID, target); err != nil {
			return err
		}
		s.relay.Notify(target, domain.MessageLeave, map[string]string{"reason": "removed"})
		c.depart(s, target, "removed")
		return nil
	})
}

func (c *Coordinator) RaiseHand(ctx context.Context, streamID domain.StreamID, callerID domain.UserID, target domain.ParticipantID) error {
	return c.setHand(ctx, streamID, callerID, target, true)
}

func (c *Coordinator) LowerHand(ctx context.Context, streamID domain.StreamID, callerID domain.UserID, target domain.ParticipantID) error {
	return c.setHand(ctx, streamID, callerID, target, false)
}

func (c *Coordinator) setHand(ctx context.Context, streamID domain.StreamID, callerID domain.UserID, target domain.ParticipantID, raised bool) error {
	return c.withLive(ctx, streamID, func(s *streamSession) error {
		changed, err := s.registry.SetHandRaised(callerID, target, raised)
		if err != nil || !changed {
			return err
		}
		msgType := domain.MessageHandLowered
		if raised {
			msgType = domain.MessageHandRaised
			c.countInteraction(s)
		}
		s.relay.Broadcast(msgType, map[string]interface{}{"participantId": target}, "")
		return nil
	})
}

func (c *Coordinator) RequestAudio(ctx context.Context, streamID domain.StreamID, callerID domain.UserID) error {
	return c.withLive(ctx, streamID, func(s *streamSession) error {
		p, changed, err := s.registry.RequestAudio(callerID)
		if err != nil || !changed {
			return err
		}
		c.countInteraction(s)
		s.relay.Broadcast(domain.MessageAudioRequested, map[string]interface{}{"participantId": p.ID}, p.ID)
		return nil
	})
}

// AttachConnection marks the granted participant connected once its
// signaling channel is open.
func (c *Coordinator) AttachConnection(ctx context.Context, grant domain.SessionGrant) error {
	return c.withLive(ctx, grant.StreamID, func(s *streamSession) error {
		if err := s.registry.SetConnectionState(grant.ParticipantID, domain.ConnectionConnected); err != nil {
			return err
		}
		return c.heartbeats.Heartbeat(grant.StreamID, grant.ParticipantID)
	})
}

// DetachConnection records a closed or failed channel. The participant stays
// registered until it leaves, re-attaches or times out.
func (c *Coordinator) DetachConnection(ctx context.Context, grant domain.SessionGrant, failed bool) {
	state := domain.ConnectionDisconnected
	if failed {
		state = domain.ConnectionFailed
	}

	s := c.lock(grant.StreamID)
	defer c.unlock(grant.StreamID, s)
	if !s.live.Load() {
		return
	}
	if err := s.registry.SetConnectionState(grant.ParticipantID, state); err == nil {
		c.logger.Infow("signaling connection closed",
			"stream_id", grant.StreamID,
			"participant_id", grant.ParticipantID,
			"state", state,
		)
	}
}

// HandleSignal dispatches one inbound frame from a participant's channel.
// The sender is always the granted participant, never the frame's claim.
func (c *Coordinator) HandleSignal(ctx context.Context, grant domain.SessionGrant, msg *domain.SignalingMessage) error {
	ctx, span := tracing.TraceSignal(ctx, string(msg.Type), string(grant.ParticipantID), string(grant.StreamID))
	defer span.End()

	msg.SenderID = grant.ParticipantID
	if msg.StreamID == "" {
		msg.StreamID = grant.StreamID
	}
	if msg.StreamID != grant.StreamID {
		return fmt.Errorf("%w: message for stream %q on a %q session", domain.ErrInvalidRoute, msg.StreamID, grant.StreamID)
	}

	if msg.Type.Relayed() {
		s, ok := c.liveSession(grant.StreamID)
		if !ok {
			return domain.ErrStreamNotLive
		}
		return s.relay.Route(msg)
	}

	switch msg.Type {
	case domain.MessageTrackState:
		var state domain.TrackState
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &state); err != nil {
				return fmt.Errorf("%w: malformed track state: %v", domain.ErrInvalidRoute, err)
			}
		}
		return c.withLive(ctx, grant.StreamID, func(s *streamSession) error {
			if _, err := s.registry.ApplyTrackState(grant.ParticipantID, state); err != nil {
				return err
			}
			c.countInteraction(s)
			return s.relay.Route(msg)
		})

	case domain.MessageHeartbeat:
		return c.TouchParticipant(ctx, grant.StreamID, grant.ParticipantID)

	case domain.MessageJoin:
		return c.AttachConnection(ctx, grant)

	case domain.MessageLeave:
		return c.LeaveStream(ctx, grant.StreamID, grant.UserID)

	case domain.MessageHandRaised:
		return c.RaiseHand(ctx, grant.StreamID, grant.UserID, grant.ParticipantID)

	case domain.MessageHandLowered:
		return c.LowerHand(ctx, grant.StreamID, grant.UserID, grant.ParticipantID)

	case domain.MessageAudioRequested:
		return c.RequestAudio(ctx, grant.StreamID, grant.UserID)
	}

	err := fmt.Errorf("%w: %q is not accepted from clients", domain.ErrInvalidRoute, msg.Type)
	tracing.RecordError(ctx, err)
	return err
}
