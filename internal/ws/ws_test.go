package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"fleettrace/hub/internal/auth"
	"fleettrace/hub/internal/events"
	"fleettrace/hub/internal/hub"
	"fleettrace/hub/internal/logging"
	"fleettrace/hub/internal/registry"
	"fleettrace/hub/internal/stats"
)

const testSecret = "ws-test-secret"

func newTestServer(t *testing.T) (*httptest.Server, *hub.Hub, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	broadcaster := hub.New(hub.Options{
		Registry:   reg,
		Stats:      stats.NewCollector(reg),
		Logger:     logging.NewTestLogger(),
		SendBuffer: 16,
	})
	handler := NewHandler(Options{
		Hub:             broadcaster,
		Verifier:        auth.NewVerifier(testSecret),
		Logger:          logging.NewTestLogger(),
		MaxPayloadBytes: 1 << 20,
		PingInterval:    time.Second,
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, broadcaster, reg
}

func signToken(t *testing.T, userID, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func dial(t *testing.T, server *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?auth_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) events.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var envelope events.Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return envelope
}

func TestRejectsMissingAndForgedTokens(t *testing.T) {
	server, _, _ := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	//1.- No token at all.
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %+v", resp)
	}

	//2.- Token signed with the wrong secret.
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "veh1", "role": "driver"})
	signed, _ := forged.SignedString([]byte("other-secret"))
	_, resp, err = websocket.DefaultDialer.Dial(wsURL+"?auth_token="+signed, nil)
	if err == nil {
		t.Fatal("dial with forged token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %+v", resp)
	}
}

func TestSessionLifecycleOverWebSocket(t *testing.T) {
	server, _, reg := newTestServer(t)
	conn := dial(t, server, signToken(t, "veh1", "driver"))

	//1.- Registration is confirmed on connect.
	status := readEnvelope(t, conn)
	if status.Type != events.TypeConnectionStatus {
		t.Fatalf("first frame = %s, want connection_status", status.Type)
	}
	var connected events.ConnectionStatus
	if err := json.Unmarshal(status.Data, &connected); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if connected.SessionID == "" {
		t.Fatal("connection_status missing session id")
	}

	//2.- A driver can subscribe to its own vehicle topic.
	subscribe, _ := json.Marshal(events.Envelope{
		Type: events.TypeSubscribeTopic,
		Data: json.RawMessage(`{"topic":"veh1"}`),
	})
	if err := conn.WriteMessage(websocket.TextMessage, subscribe); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	ack := readEnvelope(t, conn)
	if ack.Type != events.TypeSubscribed {
		t.Fatalf("frame = %s, want subscribed_to_topic", ack.Type)
	}

	//3.- Heartbeats are acknowledged to the sender only.
	heartbeat, _ := json.Marshal(events.Envelope{Type: events.TypeHeartbeat})
	if err := conn.WriteMessage(websocket.TextMessage, heartbeat); err != nil {
		t.Fatalf("write heartbeat: %v", err)
	}
	if got := readEnvelope(t, conn); got.Type != events.TypeHeartbeatAck {
		t.Fatalf("frame = %s, want heartbeat_ack", got.Type)
	}

	//4.- An explicit disconnect tears the session down server-side.
	disconnect, _ := json.Marshal(events.Envelope{Type: events.TypeDisconnect})
	if err := conn.WriteMessage(websocket.TextMessage, disconnect); err != nil {
		t.Fatalf("write disconnect: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for reg.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session not removed, %d still registered", reg.Len())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBroadcastReachesSubscriberOverWebSocket(t *testing.T) {
	server, broadcaster, _ := newTestServer(t)
	conn := dial(t, server, signToken(t, "disp1", "dispatcher"))
	readEnvelope(t, conn) // connection_status

	subscribe, _ := json.Marshal(events.Envelope{
		Type: events.TypeSubscribeTopic,
		Data: json.RawMessage(`{"topic":"veh4"}`),
	})
	if err := conn.WriteMessage(websocket.TextMessage, subscribe); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	if got := readEnvelope(t, conn); got.Type != events.TypeSubscribed {
		t.Fatalf("frame = %s, want subscribed_to_topic", got.Type)
	}

	broadcaster.BroadcastToTopic("veh4", json.RawMessage(`{"speed":57}`))

	update := readEnvelope(t, conn)
	if update.Type != events.TypeTopicUpdate {
		t.Fatalf("frame = %s, want topic_update", update.Type)
	}
	var decoded events.TopicUpdate
	if err := json.Unmarshal(update.Data, &decoded); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if decoded.Topic != "veh4" {
		t.Fatalf("topic = %s, want veh4", decoded.Topic)
	}
}

func TestCheckOrigin(t *testing.T) {
	allowed := map[string]struct{}{"https://ops.example.com": {}}
	mkReq := func(origin, host string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Host = host
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	if !checkOrigin(mkReq("", "hub.local"), allowed) {
		t.Fatal("missing origin must be accepted")
	}
	if !checkOrigin(mkReq("https://ops.example.com", "hub.local"), allowed) {
		t.Fatal("allow-listed origin rejected")
	}
	if !checkOrigin(mkReq("https://hub.local", "hub.local"), allowed) {
		t.Fatal("same-host origin rejected")
	}
	if checkOrigin(mkReq("https://evil.example.com", "hub.local"), allowed) {
		t.Fatal("unknown origin accepted")
	}
	if !checkOrigin(mkReq("https://anywhere.example.com", "hub.local"), map[string]struct{}{}) {
		t.Fatal("empty allow list must accept any origin")
	}
}
