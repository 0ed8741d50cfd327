package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-hub/internal/automation"
	"github.com/nerrad567/gray-logic-hub/internal/events"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/metrics"
	_ "github.com/nerrad567/gray-logic-hub/migrations" // registers the embedded schema
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// testFixture bundles a Server with the collaborators tests poke at.
type testFixture struct {
	srv      *Server
	registry *automation.Registry
	engine   *automation.Engine
	bus      *events.Bus
	db       *database.DB
}

// testServer creates a Server backed by in-memory SQLite. A non-empty
// secret turns on bearer-token auth.
func testServer(t *testing.T, secret string) *testFixture {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}

	registry := automation.NewRegistry(automation.NewSQLiteRepository(db.DB))
	if err := registry.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	bus := events.NewBus()
	m := metrics.New()

	engine := automation.NewEngine(automation.Config{RunTimeout: 5 * time.Second}, automation.Deps{
		Registry: registry,
		Observer: m,
		Events:   bus,
		Logger:   log,
	})
	t.Cleanup(engine.Stop)

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: secret}},
		Logger:   log,
		Registry: registry,
		Engine:   engine,
		Bus:      bus,
		Metrics:  m,
		DB:       db,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return &testFixture{srv: srv, registry: registry, engine: engine, bus: bus, db: db}
}

// do sends a request through the router and returns the recorder.
func (f *testFixture) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.Discard()
	registry := automation.NewRegistry(nil)
	engine := automation.NewEngine(automation.Config{}, automation.Deps{Registry: registry})
	defer engine.Stop()

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Registry: registry, Engine: engine}},
		{"no registry", Deps{Logger: log, Engine: engine}},
		{"no engine", Deps{Logger: log, Registry: registry}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() succeeded with missing dependency")
			}
		})
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	f := testServer(t, "")

	w := f.do(t, http.MethodGet, "/api/v1/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Status     string            `json:"status"`
		Version    string            `json:"version"`
		Components map[string]string `json:"components"`
	}
	decodeBody(t, w, &resp)

	if resp.Status != "ok" {
		t.Errorf("status = %v, want ok", resp.Status)
	}
	if resp.Version != "test" {
		t.Errorf("version = %v, want test", resp.Version)
	}
	if resp.Components["database"] != "ok" {
		t.Errorf("database = %q, want ok", resp.Components["database"])
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	f := testServer(t, "")
	f.db.Close() //nolint:errcheck // closing to force a failure

	w := f.do(t, http.MethodGet, "/api/v1/health", "", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHealth_ContentType(t *testing.T) {
	f := testServer(t, "")

	w := f.do(t, http.MethodGet, "/api/v1/health", "", "")
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	f := testServer(t, testSecret)

	// Scrapes need no token.
	w := f.do(t, http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "graylogic_websocket_clients") {
		t.Errorf("metrics output missing websocket gauge:\n%s", w.Body.String())
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	f := testServer(t, "")

	w := f.do(t, http.MethodGet, "/api/v1/health", "", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	f := testServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	f.srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	f := testServer(t, "")

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/programs", nil)
	req.Header.Set("Origin", "http://panel.local")
	w := httptest.NewRecorder()
	f.srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://panel.local" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	f := testServer(t, "")
	f.srv.cfg.CORS.AllowedOrigins = []string{"http://panel.local"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	f.srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want empty", got)
	}
}

func TestBodySizeLimit(t *testing.T) {
	f := testServer(t, "")

	body := `{"name":"big","run_text":"` + strings.Repeat("a", maxRequestBodySize) + `"}`
	w := f.do(t, http.MethodPost, "/api/v1/programs", body, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestRecovery(t *testing.T) {
	f := testServer(t, "")

	h := f.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestRecovery_AfterHeadersSent(t *testing.T) {
	f := testServer(t, "")

	h := f.srv.loggingMiddleware(f.srv.recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late")
	})))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want the handler's 202", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("error body appended after headers: %s", w.Body.String())
	}
}

func TestRequestID_TooLongReplaced(t *testing.T) {
	f := testServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", maxRequestIDLen+1))
	w := httptest.NewRecorder()
	f.srv.buildRouter().ServeHTTP(w, req)

	got := w.Header().Get("X-Request-ID")
	if got == "" || len(got) > maxRequestIDLen {
		t.Errorf("X-Request-ID = %q, want a generated ID", got)
	}
}

func TestErrorBody_CarriesRequestID(t *testing.T) {
	f := testServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/programs/missing", nil)
	req.Header.Set("X-Request-ID", "trace-42")
	w := httptest.NewRecorder()
	f.srv.buildRouter().ServeHTTP(w, req)

	var body Error
	decodeBody(t, w, &body)
	if body.RequestID != "trace-42" {
		t.Errorf("request_id = %q, want trace-42", body.RequestID)
	}
	if body.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", body.Code, ErrCodeNotFound)
	}
}

// TestStatusWriter_Hijack runs a connection takeover through the logging
// middleware on a real listener, as the WebSocket upgrade does.
func TestStatusWriter_Hijack(t *testing.T) {
	f := testServer(t, "")

	h := f.srv.loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			http.Error(w, "not a hijacker", http.StatusInternalServerError)
			return
		}
		conn, rw, err := hj.Hijack()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer conn.Close()
		_, _ = rw.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 8\r\nConnection: close\r\n\r\nhijacked")
		_ = rw.Flush()
	}))
	ts := httptest.NewServer(h)
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "hijacked" {
		t.Errorf("response = %d %q, want 200 \"hijacked\"", resp.StatusCode, body)
	}
}

func TestStatusWriter_FlushAndUnwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, status: http.StatusOK}

	if _, err := sw.Write([]byte("partial")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	sw.Flush()
	if !rec.Flushed {
		t.Error("Flush not forwarded")
	}
	if sw.written != int64(len("partial")) {
		t.Errorf("written = %d", sw.written)
	}
	if sw.Unwrap() != rec {
		t.Error("Unwrap did not return the wrapped writer")
	}

	// The recorder cannot be hijacked; the error must come through.
	if _, _, err := sw.Hijack(); err == nil {
		t.Error("Hijack on a recorder should fail")
	}
	if sw.hijacked {
		t.Error("failed hijack marked the writer hijacked")
	}
}

func TestNotFound(t *testing.T) {
	f := testServer(t, "")

	w := f.do(t, http.MethodGet, "/api/v1/nonexistent", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Auth Tests ────────────────────────────────────────────────────

func TestAuth_Disabled(t *testing.T) {
	f := testServer(t, "")

	w := f.do(t, http.MethodGet, "/api/v1/programs", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", w.Code)
	}
}

func TestAuth_Bearer(t *testing.T) {
	f := testServer(t, testSecret)

	valid, err := IssueToken(testSecret, "operator", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	expired, err := IssueToken(testSecret, "operator", -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	wrongKey, err := IssueToken("another-secret", "operator", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"valid", valid, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "not-a-jwt", http.StatusUnauthorized},
		{"expired", expired, http.StatusUnauthorized},
		{"wrong key", wrongKey, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/api/v1/programs", "", tt.token)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAuth_RejectsNoneAlgorithm(t *testing.T) {
	f := testServer(t, testSecret)

	// {"alg":"none"} header with a subject and far-future expiry, unsigned.
	token := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0." +
		"eyJzdWIiOiJvcGVyYXRvciIsImV4cCI6NDEwMjQ0NDgwMH0."
	w := f.do(t, http.MethodGet, "/api/v1/programs", "", token)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuth_HealthIsPublic(t *testing.T) {
	f := testServer(t, testSecret)

	w := f.do(t, http.MethodGet, "/api/v1/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestIssueToken_NoSecret(t *testing.T) {
	if _, err := IssueToken("", "operator", time.Minute); err == nil {
		t.Error("IssueToken with empty secret succeeded")
	}
}

func TestWSTicket_SingleUse(t *testing.T) {
	f := testServer(t, "")

	w := f.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	decodeBody(t, w, &resp)

	ticket, ok := resp["ticket"].(string)
	if !ok || ticket == "" {
		t.Fatal("expected ticket to be a non-empty string")
	}

	if !f.srv.tickets.consume(ticket) {
		t.Error("ticket should be valid on first use")
	}
	if f.srv.tickets.consume(ticket) {
		t.Error("ticket should not be valid on second use")
	}
}

func TestWSTicket_Expiry(t *testing.T) {
	ts := newTicketStore()
	ticket := generateTicket()
	ts.tickets[ticket] = time.Now().Add(-1 * time.Second)

	if ts.consume(ticket) {
		t.Error("expired ticket should not be valid")
	}
}

func TestWSTicket_CleanExpired(t *testing.T) {
	ts := newTicketStore()
	live := ts.issue()
	ts.tickets["stale"] = time.Now().Add(-time.Second)

	ts.cleanExpired()

	if _, ok := ts.tickets["stale"]; ok {
		t.Error("expired ticket survived cleanup")
	}
	if _, ok := ts.tickets[live]; !ok {
		t.Error("live ticket removed by cleanup")
	}
}

// ─── WebSocket Hub Tests ───────────────────────────────────────────

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func newTestClient(hub *Hub, channels ...string) *WSClient {
	subs := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		subs[ch] = struct{}{}
	}
	return &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: subs,
	}
}

func TestNewHub_Defaults(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())
	if hub.cfg.PingInterval <= 0 || hub.cfg.PongTimeout <= 0 || hub.cfg.MaxMessageSize <= 0 {
		t.Errorf("zero config not defaulted: %+v", hub.cfg)
	}
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := newTestHub(t)
	client := newTestClient(hub, "program.changed")
	hub.Register(client)

	hub.Broadcast("program.changed", map[string]any{"program_id": "p-1"})

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.EventType != "program.changed" {
			t.Errorf("event_type = %q, want %q", wsMsg.EventType, "program.changed")
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := newTestHub(t)
	client := newTestClient(hub, "device.changed")
	hub.Register(client)

	hub.Broadcast("program.changed", map[string]any{"program_id": "p-1"})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
		// no message received
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := newTestHub(t)

	var reported atomic.Int64
	reported.Store(-1)
	hub.SetOnClientCount(func(n int) { reported.Store(int64(n)) })

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := newTestClient(hub)
	hub.Register(client)
	if hub.ClientCount() != 1 || reported.Load() != 1 {
		t.Errorf("after register count = %d, reported %d, want 1", hub.ClientCount(), reported.Load())
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 || reported.Load() != 0 {
		t.Errorf("after unregister count = %d, reported %d, want 0", hub.ClientCount(), reported.Load())
	}

	// A second unregister is a no-op.
	hub.Unregister(client)
}

func TestServer_RelaysBusEvents(t *testing.T) {
	f := testServer(t, "")
	f.srv.relayEvents()
	defer f.srv.unsubscribe()

	all := newTestClient(f.srv.hub, events.ChannelAll)
	device := newTestClient(f.srv.hub, "device.changed")
	program := newTestClient(f.srv.hub, "program.changed")
	for _, c := range []*WSClient{all, device, program} {
		f.srv.hub.Register(c)
	}

	f.bus.Publish(events.New(events.DomainDevice, "light-1", "on", true))

	for name, c := range map[string]*WSClient{"events": all, "device.changed": device} {
		select {
		case msg := <-c.send:
			var wsMsg struct {
				EventType string       `json:"event_type"`
				Payload   events.Event `json:"payload"`
			}
			if err := json.Unmarshal(msg, &wsMsg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if wsMsg.EventType != name || wsMsg.Payload.Source != "light-1" {
				t.Errorf("%s client got %+v", name, wsMsg)
			}
		case <-time.After(time.Second):
			t.Errorf("%s client received nothing", name)
		}
	}

	select {
	case <-program.send:
		t.Error("program.changed client received a device event")
	case <-time.After(100 * time.Millisecond):
	}
}

// ─── Server Lifecycle ──────────────────────────────────────────────

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port //nolint:forcetypeassert // tcp listener
}

func TestServer_StartAndClose(t *testing.T) {
	f := testServer(t, "")
	port := freePort(t)
	f.srv.cfg.Port = port

	if err := f.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck before Start should fail")
	}

	if err := f.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/api/v1/health"
	var resp *http.Response
	var err error
	for range 50 {
		resp, err = http.Get(url) //nolint:noctx // test
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := f.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck after Start: %v", err)
	}
	if f.bus.Len() != 1 {
		t.Errorf("bus subscribers = %d, want 1 while running", f.bus.Len())
	}

	if err := f.srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if f.bus.Len() != 0 {
		t.Errorf("bus subscribers = %d, want 0 after Close", f.bus.Len())
	}

	if _, err := http.Get(url); err == nil { //nolint:noctx // test
		t.Error("server still responding after Close()")
	}
}

// ─── WebSocket Connection Tests ────────────────────────────────────

// wsServer serves the router on a real listener so clients can dial it.
func wsServer(t *testing.T, secret string) (*testFixture, string) {
	t.Helper()
	f := testServer(t, secret)
	ts := httptest.NewServer(f.srv.buildRouter())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { f.srv.hub.closeAll() })
	return f, strings.TrimPrefix(ts.URL, "http://")
}

func dialWS(t *testing.T, addr, query string) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/v1/ws"+query, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	return ws
}

func readWS(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestWebSocket_TicketFlow(t *testing.T) {
	f, addr := wsServer(t, testSecret)

	token, err := IssueToken(testSecret, "operator", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	req, _ := http.NewRequest(http.MethodPost, "http://"+addr+"/api/v1/auth/ws-ticket", nil) //nolint:noctx // test
	req.Header.Set("Authorization", "Bearer "+token)
	ticketResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ws-ticket request failed: %v", err)
	}
	defer ticketResp.Body.Close()

	var ticketResult struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(ticketResp.Body).Decode(&ticketResult); err != nil {
		t.Fatalf("decode ticket response: %v", err)
	}

	ws := dialWS(t, addr, "?ticket="+ticketResult.Ticket)
	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "ping-1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if resp := readWS(t, ws); resp.Type != WSTypePong || resp.ID != "ping-1" {
		t.Errorf("response = %+v, want pong ping-1", resp)
	}
	if f.srv.hub.ClientCount() != 1 {
		t.Errorf("hub client count = %d, want 1", f.srv.hub.ClientCount())
	}

	// The ticket is spent.
	_, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/v1/ws?ticket="+ticketResult.Ticket, nil)
	if err == nil {
		t.Fatal("reused ticket accepted")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestWebSocket_TicketRequiredWithAuth(t *testing.T) {
	_, addr := wsServer(t, testSecret)

	for _, query := range []string{"", "?ticket=invalid-ticket"} {
		_, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/v1/ws"+query, nil)
		if err == nil {
			t.Fatalf("dial %q succeeded without a valid ticket", query)
		}
		if resp != nil && resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("dial %q status = %d, want 401", query, resp.StatusCode)
		}
	}
}

func TestWebSocket_SubscribeUnsubscribe(t *testing.T) {
	_, addr := wsServer(t, "")
	ws := dialWS(t, addr, "")

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{"program.changed", "device.changed"}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	if resp := readWS(t, ws); resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Errorf("subscribe response = %+v", resp)
	}

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "unsub-1",
		Payload: WSSubscribePayload{Channels: []string{"device.changed"}},
	}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	if resp := readWS(t, ws); resp.Type != WSTypeResponse || resp.ID != "unsub-1" {
		t.Errorf("unsubscribe response = %+v", resp)
	}
}

func TestWebSocket_InvalidMessages(t *testing.T) {
	_, addr := wsServer(t, "")
	ws := dialWS(t, addr, "")

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write invalid message: %v", err)
	}
	if resp := readWS(t, ws); resp.Type != WSTypeError {
		t.Errorf("response type = %s, want error", resp.Type)
	}

	if err := ws.WriteJSON(WSMessage{Type: "unknown_type", ID: "test-1"}); err != nil {
		t.Fatalf("write unknown type: %v", err)
	}
	if resp := readWS(t, ws); resp.Type != WSTypeError || resp.ID != "test-1" {
		t.Errorf("response = %+v, want error test-1", resp)
	}
}

func TestWebSocket_ProgramEvents(t *testing.T) {
	f, addr := wsServer(t, "")
	f.srv.relayEvents()
	defer f.srv.unsubscribe()

	ws := dialWS(t, addr, "")
	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{"program.changed"}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	readWS(t, ws)

	p := &automation.Program{Name: "ws", Enabled: true, RunText: "return nil"}
	if err := f.registry.CreateProgram(context.Background(), p); err != nil {
		t.Fatalf("CreateProgram: %v", err)
	}
	if _, err := f.engine.Compile(context.Background(), p.ID); err != nil {
		t.Fatalf("Compile: %v", err)
	}

	msg := readWS(t, ws)
	if msg.Type != WSTypeEvent || msg.EventType != "program.changed" {
		t.Fatalf("message = %+v, want program.changed event", msg)
	}
	payload, _ := msg.Payload.(map[string]any) //nolint:errcheck // checked below
	if payload["source"] != p.ID || payload["property"] != "compiled" {
		t.Errorf("payload = %v, want compiled event for %s", payload, p.ID)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := testServer(t, "")

	w := f.do(t, http.MethodPut, "/api/v1/health", "", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
	var resp Error
	decodeBody(t, w, &resp)
	if resp.Code != ErrCodeMethodNotAllow {
		t.Errorf("code = %q, want %q", resp.Code, ErrCodeMethodNotAllow)
	}
}
