// Package httpapi exposes the producer-facing ingest endpoints and the
// operational health and metrics surface.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"fleettrace/hub/internal/events"
	"fleettrace/hub/internal/logging"
	"fleettrace/hub/internal/roles"
	"fleettrace/hub/internal/stats"
)

// Broadcaster is the slice of the hub the ingest endpoints use.
type Broadcaster interface {
	BroadcastToTopic(topic string, payload json.RawMessage)
	BroadcastAlert(alert events.Alert, topicFilter []string)
	SendDirect(ctx context.Context, userID string, n events.Notification)
	Broadcasts() int64
	DroppedPushes() int64
}

// RateLimiter gates how frequently the notify endpoint may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Hub         Broadcaster
	Stats       *stats.Collector
	IngestToken string
	RateLimiter RateLimiter
	// Reaped reports the liveness sweep's cumulative eviction count.
	Reaped     func() int64
	TimeSource func() time.Time
}

// HandlerSet bundles the hub's HTTP handlers.
type HandlerSet struct {
	logger      *logging.Logger
	hub         Broadcaster
	stats       *stats.Collector
	ingestToken string
	rateLimiter RateLimiter
	reaped      func() int64
	now         func() time.Time
	started     time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		hub:         opts.Hub,
		stats:       opts.Stats,
		ingestToken: strings.TrimSpace(opts.IngestToken),
		rateLimiter: opts.RateLimiter,
		reaped:      opts.Reaped,
		now:         now,
		started:     now(),
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/ingest/telemetry", h.TelemetryIngestHandler())
	mux.HandleFunc("/ingest/alert", h.AlertIngestHandler())
	mux.HandleFunc("/notify", h.NotifyHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports hub readiness with session counts.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string              `json:"status"`
		UptimeSeconds float64             `json:"uptime_seconds"`
		Sessions      int                 `json:"sessions"`
		Process       stats.ProcessGauges `json:"process"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := response{
			Status:        "ok",
			UptimeSeconds: h.now().Sub(h.started).Seconds(),
		}
		if h.stats != nil {
			resp.Sessions = h.stats.TotalActive()
			resp.Process = h.stats.Process()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(w, "# HELP hub_uptime_seconds Hub uptime in seconds.\n")
		fmt.Fprintf(w, "# TYPE hub_uptime_seconds gauge\n")
		fmt.Fprintf(w, "hub_uptime_seconds %.0f\n", h.now().Sub(h.started).Seconds())

		if h.stats != nil {
			fmt.Fprintf(w, "# HELP hub_sessions Current connected sessions.\n")
			fmt.Fprintf(w, "# TYPE hub_sessions gauge\n")
			fmt.Fprintf(w, "hub_sessions %d\n", h.stats.TotalActive())

			byRole := h.stats.CountsByRole()
			names := make([]string, 0, len(byRole))
			for role := range byRole {
				names = append(names, string(role))
			}
			sort.Strings(names)
			fmt.Fprintf(w, "# HELP hub_sessions_by_role Current connected sessions per role.\n")
			fmt.Fprintf(w, "# TYPE hub_sessions_by_role gauge\n")
			for _, name := range names {
				fmt.Fprintf(w, "hub_sessions_by_role{role=%q} %d\n", name, byRole[roles.Role(name)])
			}

			fmt.Fprintf(w, "# HELP hub_subscriptions Current topic subscriptions across all sessions.\n")
			fmt.Fprintf(w, "# TYPE hub_subscriptions gauge\n")
			fmt.Fprintf(w, "hub_subscriptions %d\n", h.stats.TotalSubscriptions())

			gauges := h.stats.Process()
			fmt.Fprintf(w, "# HELP hub_process_cpu_percent Hub process CPU utilisation percent.\n")
			fmt.Fprintf(w, "# TYPE hub_process_cpu_percent gauge\n")
			fmt.Fprintf(w, "hub_process_cpu_percent %.2f\n", gauges.CPUPercent)
			fmt.Fprintf(w, "# HELP hub_process_rss_bytes Hub process resident memory in bytes.\n")
			fmt.Fprintf(w, "# TYPE hub_process_rss_bytes gauge\n")
			fmt.Fprintf(w, "hub_process_rss_bytes %d\n", gauges.RSSBytes)
		}
		if h.hub != nil {
			fmt.Fprintf(w, "# HELP hub_broadcasts_total Total envelopes delivered to session channels.\n")
			fmt.Fprintf(w, "# TYPE hub_broadcasts_total counter\n")
			fmt.Fprintf(w, "hub_broadcasts_total %d\n", h.hub.Broadcasts())
			fmt.Fprintf(w, "# HELP hub_dropped_pushes_total Total deliveries skipped due to saturated channels.\n")
			fmt.Fprintf(w, "# TYPE hub_dropped_pushes_total counter\n")
			fmt.Fprintf(w, "hub_dropped_pushes_total %d\n", h.hub.DroppedPushes())
		}
		if h.reaped != nil {
			fmt.Fprintf(w, "# HELP hub_reaped_sessions_total Idle sessions evicted by the liveness sweep.\n")
			fmt.Fprintf(w, "# TYPE hub_reaped_sessions_total counter\n")
			fmt.Fprintf(w, "hub_reaped_sessions_total %d\n", h.reaped())
		}
	}
}

// TelemetryIngestHandler accepts one telemetry reading from a producer and
// fans it out to the topic's subscribers.
func (h *HandlerSet) TelemetryIngestHandler() http.HandlerFunc {
	type request struct {
		Topic   string          `json:"topic"`
		Payload json.RawMessage `json:"payload"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "ingest_telemetry"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if !h.gate(w, r, reqLogger) {
			return
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Topic) == "" {
			reqLogger.Warn("telemetry ingest rejected: bad request", logging.Error(err))
			http.Error(w, "topic and payload are required", http.StatusBadRequest)
			return
		}
		h.hub.BroadcastToTopic(strings.TrimSpace(req.Topic), req.Payload)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

// AlertIngestHandler accepts one alert from the alerting collaborator and
// fans it out to every session allowed to see it.
func (h *HandlerSet) AlertIngestHandler() http.HandlerFunc {
	type request struct {
		Alert  events.Alert `json:"alert"`
		Topics []string     `json:"topics,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "ingest_alert"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if !h.gate(w, r, reqLogger) {
			return
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Alert.ID == "" || req.Alert.Topic == "" {
			reqLogger.Warn("alert ingest rejected: bad request", logging.Error(err))
			http.Error(w, "alert id and topic are required", http.StatusBadRequest)
			return
		}
		if req.Alert.Timestamp.IsZero() {
			req.Alert.Timestamp = h.now().UTC()
		}
		h.hub.BroadcastAlert(req.Alert, req.Topics)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

// NotifyHandler accepts one user-addressed notification. Delivery prefers
// live sessions and falls back to the out-of-band notifier.
func (h *HandlerSet) NotifyHandler() http.HandlerFunc {
	type request struct {
		UserID       string              `json:"user_id"`
		Notification events.Notification `json:"notification"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "notify"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if !h.gate(w, r, reqLogger) {
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("notify denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
			reqLogger.Warn("notify rejected: bad request", logging.Error(err))
			http.Error(w, "user_id and notification are required", http.StatusBadRequest)
			return
		}
		if req.Notification.Timestamp.IsZero() {
			req.Notification.Timestamp = h.now().UTC()
		}
		h.hub.SendDirect(r.Context(), strings.TrimSpace(req.UserID), req.Notification)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

// gate enforces method, configuration and token checks shared by every
// producer-facing endpoint.
func (h *HandlerSet) gate(w http.ResponseWriter, r *http.Request, reqLogger *logging.Logger) bool {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if h.ingestToken == "" {
		reqLogger.Warn("request denied: ingest auth disabled")
		http.Error(w, "ingest authentication not configured", http.StatusForbidden)
		return false
	}
	if !h.authorise(r) {
		reqLogger.Warn("request denied: unauthorized")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	if h.hub == nil {
		reqLogger.Error("request denied: hub unavailable")
		http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Ingest-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.ingestToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
