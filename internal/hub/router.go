package hub

import (
	"encoding/json"

	"fleettrace/hub/internal/access"
	"fleettrace/hub/internal/events"
	"fleettrace/hub/internal/logging"
	"fleettrace/hub/internal/registry"
	"fleettrace/hub/internal/roles"
)

// BroadcastToTopic pushes a topic_update to exactly the sessions
// subscribed at lookup time. Only the lookup holds the registry lock;
// the writes are independent per-session channel sends.
func (h *Hub) BroadcastToTopic(topic string, payload json.RawMessage) {
	if topic == "" {
		h.log.Warn("broadcast with empty topic dropped")
		return
	}
	//1.- Marshal once; every subscriber receives the same frame.
	frame, err := h.encode(events.TypeTopicUpdate, events.NewTopicUpdate(topic, payload, h.now()))
	if err != nil {
		return
	}
	for _, sessionID := range h.reg.SubscribersOf(topic) {
		h.pushFrame(h.client(sessionID), events.TypeTopicUpdate, frame)
	}
}

// BroadcastToRoles pushes the envelope to every active session whose role
// is in the set.
func (h *Hub) BroadcastToRoles(targets []roles.Role, t events.Type, payload any) {
	frame, err := h.encode(t, payload)
	if err != nil {
		return
	}
	want := make(map[roles.Role]struct{}, len(targets))
	for _, role := range targets {
		want[role] = struct{}{}
	}
	for _, view := range h.reg.List() {
		if _, ok := want[view.Role]; !ok {
			continue
		}
		h.pushFrame(h.client(view.ID), t, frame)
	}
}

// BroadcastAlert delivers the alert to every session the permission gate
// allows to see it. With a topic filter the candidate set is the union of
// those topics' subscribers; without one it is every active session.
func (h *Hub) BroadcastAlert(alert events.Alert, topicFilter []string) {
	var candidates []registry.View
	if len(topicFilter) > 0 {
		seen := make(map[string]struct{})
		for _, topic := range topicFilter {
			for _, sessionID := range h.reg.SubscribersOf(topic) {
				if _, dup := seen[sessionID]; dup {
					continue
				}
				seen[sessionID] = struct{}{}
				if view, ok := h.reg.Get(sessionID); ok {
					candidates = append(candidates, view)
				}
			}
		}
	} else {
		candidates = h.reg.List()
	}
	frame, err := h.encode(events.TypeAlertReceived, alert)
	if err != nil {
		return
	}
	for _, view := range candidates {
		if !access.CanViewAlert(view.Role, view.UserID, view.TopicSet(), alert) {
			continue
		}
		h.pushFrame(h.client(view.ID), events.TypeAlertReceived, frame)
	}
}

// HandleInbound dispatches one frame received from a session's transport.
// Any frame counts as activity for liveness purposes. Malformed frames are
// logged and dropped without a reply.
func (h *Hub) HandleInbound(sessionID string, frame []byte) {
	h.reg.Touch(sessionID)

	var envelope events.Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		h.log.Warn("malformed inbound frame dropped",
			logging.String("session_id", sessionID),
			logging.Error(err))
		return
	}

	switch envelope.Type {
	case events.TypeSubscribeTopic:
		var req events.SubscribeRequest
		if err := json.Unmarshal(envelope.Data, &req); err != nil || req.Topic == "" {
			h.log.Warn("subscribe request missing topic",
				logging.String("session_id", sessionID))
			return
		}
		h.subscribe(sessionID, req.Topic)
	case events.TypeUnsubscribeTopic:
		var req events.SubscribeRequest
		if err := json.Unmarshal(envelope.Data, &req); err != nil || req.Topic == "" {
			h.log.Warn("unsubscribe request missing topic",
				logging.String("session_id", sessionID))
			return
		}
		h.reg.Unsubscribe(sessionID, req.Topic)
		h.push(h.client(sessionID), events.TypeUnsubscribed, events.NewTopicAck(req.Topic, h.now()))
	case events.TypeSubscribeMany:
		var req events.SubscribeManyRequest
		if err := json.Unmarshal(envelope.Data, &req); err != nil || len(req.Topics) == 0 {
			h.log.Warn("subscribe_many request without topics",
				logging.String("session_id", sessionID))
			return
		}
		for _, topic := range req.Topics {
			if topic == "" {
				continue
			}
			h.subscribe(sessionID, topic)
		}
	case events.TypeHeartbeat:
		h.push(h.client(sessionID), events.TypeHeartbeatAck, events.HeartbeatAck{
			Timestamp: h.now().UTC(),
			SessionID: sessionID,
		})
	case events.TypeDisconnect:
		h.Disconnect(sessionID)
	default:
		h.log.Warn("unknown inbound frame type dropped",
			logging.String("session_id", sessionID),
			logging.String("frame_type", string(envelope.Type)))
	}
}

// subscribe applies one topic subscription and acknowledges the outcome.
// A duplicate subscribe re-sends the confirmation so the client reliably
// learns the result; a gate denial is explicit and security-relevant,
// while an unknown session is a benign no-op.
func (h *Hub) subscribe(sessionID, topic string) {
	if h.reg.Subscribe(sessionID, topic) {
		h.push(h.client(sessionID), events.TypeSubscribed, events.NewTopicAck(topic, h.now()))
		return
	}
	if _, ok := h.reg.Get(sessionID); !ok {
		h.log.Debug("subscribe from unknown session ignored",
			logging.String("session_id", sessionID),
			logging.String("topic", topic))
		return
	}
	h.log.Warn("subscription denied",
		logging.String("session_id", sessionID),
		logging.String("topic", topic))
	h.push(h.client(sessionID), events.TypeSubscribeDenied, events.SubscribeDenied{
		Topic:  topic,
		Reason: access.DeniedReason,
	})
}
