package events

import (
	"encoding/json"
	"time"

	"fleettrace/hub/internal/roles"
)

// Type identifies the wire frames exchanged with connected sessions.
type Type string

// Outbound frame types pushed to a session's channel.
const (
	TypeConnectionStatus   Type = "connection_status"
	TypeSubscribed         Type = "subscribed_to_topic"
	TypeUnsubscribed       Type = "unsubscribed_from_topic"
	TypeSubscribeDenied    Type = "subscribe_denied"
	TypeTopicUpdate        Type = "topic_update"
	TypeAlertReceived      Type = "alert_received"
	TypeDriverNotification Type = "driver_notification"
	TypeHeartbeatAck       Type = "heartbeat_ack"
	TypeOnlineUsersUpdated Type = "online_users_updated"
)

// Inbound frame types received from a session.
const (
	TypeSubscribeTopic   Type = "subscribe_topic"
	TypeUnsubscribeTopic Type = "unsubscribe_topic"
	TypeSubscribeMany    Type = "subscribe_many"
	TypeHeartbeat        Type = "heartbeat"
	TypeDisconnect       Type = "disconnect"
)

// Envelope is the framing shared by every inbound and outbound message.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode marshals the payload into a ready-to-send envelope.
func Encode(t Type, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: t, Data: data})
}

// SubscribeRequest carries the topic for subscribe/unsubscribe frames.
type SubscribeRequest struct {
	Topic string `json:"topic"`
}

// SubscribeManyRequest batches several topic subscriptions in one frame.
type SubscribeManyRequest struct {
	Topics []string `json:"topics"`
}

// Alert is produced by the alerting collaborator and consumed, not stored.
type Alert struct {
	ID             string    `json:"id"`
	Severity       string    `json:"severity"`
	Category       string    `json:"category"`
	Message        string    `json:"message"`
	Recommendation string    `json:"recommendation,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Topic          string    `json:"topic"`
	DriverID       string    `json:"driver_id,omitempty"`
}

// Notification is addressed to a user id rather than a topic.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	Action    string    `json:"action,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Sound     bool      `json:"sound"`
	Vibration bool      `json:"vibration"`
}

// ConnectionStatus confirms registration to the freshly connected session.
type ConnectionStatus struct {
	Status    string    `json:"status"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// TopicAck confirms a subscription change for a single topic.
type TopicAck struct {
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
}

// SubscribeDenied tells the client an explicit authorization outcome.
type SubscribeDenied struct {
	Topic  string `json:"topic"`
	Reason string `json:"reason"`
}

// TopicUpdate carries a fresh telemetry reading for a topic.
type TopicUpdate struct {
	Topic      string          `json:"topic"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// HeartbeatAck is the single-recipient reply to an inbound heartbeat.
type HeartbeatAck struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
}

// OnlineUsers summarises connected sessions for oversight roles.
type OnlineUsers struct {
	TotalConnected int                `json:"total_connected"`
	ByRole         map[roles.Role]int `json:"by_role"`
}

// NewTopicUpdate stamps the payload with the server receive time.
func NewTopicUpdate(topic string, payload json.RawMessage, now time.Time) TopicUpdate {
	return TopicUpdate{Topic: topic, Payload: payload, ReceivedAt: now.UTC()}
}

// NewTopicAck stamps a subscription acknowledgment.
func NewTopicAck(topic string, now time.Time) TopicAck {
	return TopicAck{Topic: topic, Timestamp: now.UTC()}
}
