// Package hub is the broadcast router: it fans logical events out to the
// sessions selected by topic, by role, or by direct address, and keeps the
// per-session outbound channels that decouple producers from slow
// transports.
package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"fleettrace/hub/internal/events"
	"fleettrace/hub/internal/logging"
	"fleettrace/hub/internal/notify"
	"fleettrace/hub/internal/registry"
	"fleettrace/hub/internal/roles"
	"fleettrace/hub/internal/stats"
)

// Journal records delivered envelopes for offline inspection. A nil
// journal disables recording.
type Journal interface {
	RecordDelivery(eventType, sessionID string, frame []byte)
}

// Options configures the hub.
type Options struct {
	Registry *registry.Registry
	Stats    *stats.Collector
	Logger   *logging.Logger
	Journal  Journal
	Fallback notify.Notifier
	// SendBuffer sizes each session's private outbound channel.
	SendBuffer int
	TimeSource func() time.Time
}

// Hub routes events to connected sessions.
type Hub struct {
	reg      *registry.Registry
	stats    *stats.Collector
	log      *logging.Logger
	journal  Journal
	fallback notify.Notifier
	buffer   int
	now      func() time.Time

	mu      sync.RWMutex
	clients map[string]*Client

	broadcasts atomic.Int64
	dropped    atomic.Int64
}

// New constructs a hub over the provided registry.
func New(opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &Hub{
		reg:      opts.Registry,
		stats:    opts.Stats,
		log:      logger,
		journal:  opts.Journal,
		fallback: opts.Fallback,
		buffer:   opts.SendBuffer,
		now:      now,
		clients:  make(map[string]*Client),
	}
}

// Connect registers a session for the already-authenticated identity and
// returns its client handle. The new session receives a connection_status
// frame and oversight roles receive updated membership counts.
func (h *Hub) Connect(userID string, role roles.Role, permissions []string, closer func()) (*Client, registry.View) {
	view := h.reg.Register(userID, role, permissions)
	client := newClient(view.ID, h.buffer, closer)

	h.mu.Lock()
	h.clients[view.ID] = client
	h.mu.Unlock()

	h.log.Info("session connected",
		logging.String("session_id", view.ID),
		logging.String("user_id", userID),
		logging.String("role", role.String()))

	h.push(client, events.TypeConnectionStatus, events.ConnectionStatus{
		Status:    "connected",
		SessionID: view.ID,
		Timestamp: h.now().UTC(),
	})
	h.notifyOversight()
	return client, view
}

// Disconnect tears a session down on explicit client request or transport
// loss. Unknown ids are benign no-ops.
func (h *Hub) Disconnect(sessionID string) {
	h.remove(sessionID, "disconnect")
}

// EvictIdle force-closes a session only while it is still idle past the
// cutoff, used by the liveness sweep. A touch that landed after the
// sweep's idle snapshot wins and the eviction is a no-op. The reaped
// client receives nothing; its channel is simply closed.
func (h *Hub) EvictIdle(sessionID string, cutoff time.Time) bool {
	if !h.reg.RemoveIfIdle(sessionID, cutoff) {
		return false
	}
	h.mu.Lock()
	client := h.clients[sessionID]
	delete(h.clients, sessionID)
	h.mu.Unlock()

	client.close()
	h.log.Info("session removed",
		logging.String("session_id", sessionID),
		logging.String("reason", "reaped"))
	h.notifyOversight()
	return true
}

// remove runs the identical cascade for both destruction paths.
func (h *Hub) remove(sessionID, reason string) bool {
	h.mu.Lock()
	client := h.clients[sessionID]
	delete(h.clients, sessionID)
	h.mu.Unlock()

	client.close()
	removed := h.reg.Remove(sessionID)
	if removed {
		h.log.Info("session removed",
			logging.String("session_id", sessionID),
			logging.String("reason", reason))
		h.notifyOversight()
	}
	return removed
}

// Touch refreshes the session's liveness from inbound transport activity.
func (h *Hub) Touch(sessionID string) {
	h.reg.Touch(sessionID)
}

// Broadcasts reports the cumulative count of delivered envelopes.
func (h *Hub) Broadcasts() int64 { return h.broadcasts.Load() }

// DroppedPushes reports deliveries skipped due to saturated or closed
// channels; those sessions are left for the liveness sweep.
func (h *Hub) DroppedPushes() int64 { return h.dropped.Load() }

// ClientCount reports the number of attached transports.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// client resolves the transport handle for a session id.
func (h *Hub) client(sessionID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[sessionID]
}

// push encodes and enqueues one envelope for a single recipient. Fan-out
// callers encode once via encode and hand the frame to pushFrame per
// recipient instead.
func (h *Hub) push(c *Client, t events.Type, payload any) bool {
	frame, err := h.encode(t, payload)
	if err != nil {
		return false
	}
	return h.pushFrame(c, t, frame)
}

// encode marshals the payload into an envelope frame, logging failures.
func (h *Hub) encode(t events.Type, payload any) ([]byte, error) {
	frame, err := events.Encode(t, payload)
	if err != nil {
		h.log.Error("encode outbound frame failed",
			logging.String("event_type", string(t)),
			logging.Error(err))
	}
	return frame, err
}

// pushFrame enqueues an already-encoded frame for one session. Failures
// are logged per recipient and never abort the caller's loop.
func (h *Hub) pushFrame(c *Client, t events.Type, frame []byte) bool {
	if c == nil {
		return false
	}
	if !c.deliver(frame) {
		h.dropped.Add(1)
		h.log.Warn("outbound push dropped",
			logging.String("event_type", string(t)),
			logging.String("session_id", c.sessionID))
		return false
	}
	h.broadcasts.Add(1)
	if h.journal != nil {
		h.journal.RecordDelivery(string(t), c.sessionID, frame)
	}
	return true
}

// notifyOversight sends refreshed membership counts to admin and
// fleet_manager sessions after every successful register or remove.
func (h *Hub) notifyOversight() {
	if h.stats == nil {
		return
	}
	summary := events.OnlineUsers{
		TotalConnected: h.stats.TotalActive(),
		ByRole:         h.stats.CountsByRole(),
	}
	frame, err := h.encode(events.TypeOnlineUsersUpdated, summary)
	if err != nil {
		return
	}
	for _, view := range h.reg.List() {
		if !view.Role.Oversight() {
			continue
		}
		h.pushFrame(h.client(view.ID), events.TypeOnlineUsersUpdated, frame)
	}
}

// SendDirect pushes a notification to every active session owned by the
// user. The fallback notifier fires exactly when the user has zero active
// sessions, never because an individual push failed.
func (h *Hub) SendDirect(ctx context.Context, userID string, n events.Notification) {
	frame, err := h.encode(events.TypeDriverNotification, n)
	if err != nil {
		return
	}
	active := 0
	for _, view := range h.reg.List() {
		if view.UserID != userID {
			continue
		}
		active++
		h.pushFrame(h.client(view.ID), events.TypeDriverNotification, frame)
	}
	if active > 0 {
		return
	}
	if h.fallback == nil {
		h.log.Info("no live session and no fallback notifier",
			logging.String("user_id", userID))
		return
	}
	if err := h.fallback.Deliver(ctx, userID, n); err != nil {
		h.log.Error("fallback notification failed",
			logging.String("user_id", userID),
			logging.Error(err))
	}
}
