// Package ws attaches WebSocket transports to the hub. Each connection
// runs a read pump feeding inbound frames to the hub and a write pump
// draining the session's private outbound channel.
package ws

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"fleettrace/hub/internal/auth"
	"fleettrace/hub/internal/hub"
	"fleettrace/hub/internal/logging"
)

const writeTimeout = 10 * time.Second

// Options configures the WebSocket handler.
type Options struct {
	Hub      *hub.Hub
	Verifier *auth.Verifier
	Logger   *logging.Logger
	// AllowedOrigins lists acceptable Origin headers. Empty allows any
	// origin, for development setups behind a trusted proxy.
	AllowedOrigins  []string
	MaxPayloadBytes int64
	PingInterval    time.Duration
}

// Handler upgrades HTTP requests into hub sessions.
type Handler struct {
	hub          *hub.Hub
	verifier     *auth.Verifier
	log          *logging.Logger
	upgrader     websocket.Upgrader
	maxPayload   int64
	pingInterval time.Duration
}

// NewHandler validates the options and builds the handler.
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	pingInterval := opts.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	allowed := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, origin := range opts.AllowedOrigins {
		if trimmed := strings.ToLower(strings.TrimSpace(origin)); trimmed != "" {
			allowed[trimmed] = struct{}{}
		}
	}
	handler := &Handler{
		hub:          opts.Hub,
		verifier:     opts.Verifier,
		log:          logger,
		maxPayload:   opts.MaxPayloadBytes,
		pingInterval: pingInterval,
	}
	handler.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return checkOrigin(r, allowed)
		},
	}
	return handler
}

// checkOrigin accepts requests without an Origin header, same-host
// browsers, and origins on the configured allow list.
func checkOrigin(r *http.Request, allowed map[string]struct{}) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(allowed) == 0 {
		return true
	}
	if _, ok := allowed[strings.ToLower(origin)]; ok {
		return true
	}
	if parsed, err := url.Parse(origin); err == nil && strings.EqualFold(parsed.Host, r.Host) {
		return true
	}
	return false
}

// ServeHTTP authenticates the request, upgrades it, and binds the session.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.FromRequest(r)
	if err != nil {
		h.log.Warn("websocket auth rejected",
			logging.String("remote_addr", r.RemoteAddr),
			logging.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed",
			logging.String("remote_addr", r.RemoteAddr),
			logging.Error(err))
		return
	}
	if h.maxPayload > 0 {
		conn.SetReadLimit(h.maxPayload)
	}

	client, view := h.hub.Connect(identity.UserID, identity.Role, identity.Permissions, func() {
		_ = conn.Close()
	})

	go h.writePump(conn, client)
	h.readPump(conn, view.ID)
}

// readPump feeds inbound frames to the hub until the transport errors.
// Pongs refresh both the read deadline and the session's liveness.
func (h *Handler) readPump(conn *websocket.Conn, sessionID string) {
	defer h.hub.Disconnect(sessionID)

	pongWait := h.pingInterval + h.pingInterval/2
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		h.hub.Touch(sessionID)
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn("websocket read failed",
					logging.String("session_id", sessionID),
					logging.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		h.hub.HandleInbound(sessionID, frame)
	}
}

// writePump drains the session's outbound channel and keeps the
// connection alive with pings. It exits when the hub closes the session.
func (h *Handler) writePump(conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case frame := <-client.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.log.Warn("websocket write failed",
					logging.String("session_id", client.SessionID()),
					logging.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
