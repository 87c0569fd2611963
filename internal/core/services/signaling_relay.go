package services

import (
	"encoding/json"
	"fmt"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"

	"go.uber.org/zap"
)

// SignalingRelay routes messages between participants of one stream. It
// reads connection state from the registry to decide deliverability and
// never mutates it. Delivery is best-effort and never blocks.
type SignalingRelay struct {
	registry  *ParticipantRegistry
	transport ports.SignalTransport
	metrics   ports.CoordinatorMetrics
	logger    *zap.SugaredLogger
}

func NewSignalingRelay(
	registry *ParticipantRegistry,
	transport ports.SignalTransport,
	metrics ports.CoordinatorMetrics,
	logger *zap.SugaredLogger,
) *SignalingRelay {
	return &SignalingRelay{
		registry:  registry,
		transport: transport,
		metrics:   metrics,
		logger:    logger,
	}
}

// Route forwards msg to its target, or to every other connected participant
// when no target is set. Sender and target must both belong to this stream.
func (r *SignalingRelay) Route(msg *domain.SignalingMessage) error {
	streamID := r.registry.StreamID()
	if msg.StreamID != streamID {
		return fmt.Errorf("%w: message for stream %q on stream %q", domain.ErrInvalidRoute, msg.StreamID, streamID)
	}
	if msg.SenderID != "" && !r.registry.Contains(msg.SenderID) {
		return fmt.Errorf("%w: sender %q is not in stream %q", domain.ErrInvalidRoute, msg.SenderID, streamID)
	}

	if msg.TargetID != "" {
		if msg.TargetID == msg.SenderID {
			return fmt.Errorf("%w: sender %q targets itself", domain.ErrInvalidRoute, msg.SenderID)
		}
		if !r.registry.Contains(msg.TargetID) {
			return fmt.Errorf("%w: target %q is not in stream %q", domain.ErrInvalidRoute, msg.TargetID, streamID)
		}
		if !r.registry.Deliverable(msg.TargetID) {
			r.logger.Debugw("signaling target not connected, dropping",
				"stream_id", streamID,
				"type", msg.Type,
				"target_id", msg.TargetID,
			)
			r.metrics.SignalRouted(msg.Type, false)
			return nil
		}
		r.send(msg.TargetID, msg)
		return nil
	}

	for _, id := range r.registry.DeliverableIDs(msg.SenderID) {
		r.send(id, msg)
	}
	return nil
}

// Notify sends a server-originated message to a single participant.
func (r *SignalingRelay) Notify(target domain.ParticipantID, msgType domain.MessageType, payload interface{}) {
	msg, err := r.serverMessage(msgType, target, payload)
	if err != nil {
		r.logger.Warnw("failed to encode signaling payload", "type", msgType, "error", err)
		return
	}
	if !r.registry.Deliverable(target) {
		r.metrics.SignalRouted(msgType, false)
		return
	}
	r.send(target, msg)
}

// Broadcast sends a server-originated message to every connected
// participant except the one given.
func (r *SignalingRelay) Broadcast(msgType domain.MessageType, payload interface{}, except domain.ParticipantID) {
	msg, err := r.serverMessage(msgType, "", payload)
	if err != nil {
		r.logger.Warnw("failed to encode signaling payload", "type", msgType, "error", err)
		return
	}
	for _, id := range r.registry.DeliverableIDs(except) {
		r.send(id, msg)
	}
}

// CloseRoute tears down the participant's signaling connection.
func (r *SignalingRelay) CloseRoute(id domain.ParticipantID) {
	r.transport.Close(id)
}

func (r *SignalingRelay) send(target domain.ParticipantID, msg *domain.SignalingMessage) {
	delivered := r.transport.Send(target, msg)
	if !delivered {
		r.logger.Debugw("signaling message dropped",
			"stream_id", msg.StreamID,
			"type", msg.Type,
			"target_id", target,
		)
	}
	r.metrics.SignalRouted(msg.Type, delivered)
}

func (r *SignalingRelay) serverMessage(msgType domain.MessageType, target domain.ParticipantID, payload interface{}) (*domain.SignalingMessage, error) {
	msg := &domain.SignalingMessage{
		Type:     msgType,
		StreamID: r.registry.StreamID(),
		TargetID: target,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = data
	}
	return msg, nil
}
