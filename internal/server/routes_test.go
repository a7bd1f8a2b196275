package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabletop-server/internal/storage"
	"tabletop-server/internal/storage/memory"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StoreDriver = "memory"
	cfg.RateLimit = 1000
	return cfg
}

func setupTestServer() (*Server, string, func()) {
	return setupTestServerWith(testConfig(), memory.New())
}

func setupTestServerWith(cfg Config, store storage.Store) (*Server, string, func()) {
	s, _ := NewServer(cfg, store, discardLogger())
	server := httptest.NewServer(s.RegisterRoutes())
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/websocket"

	cleanup := func() {
		s.Shutdown(context.Background())
		server.Close()
	}
	return s, url, cleanup
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// inbound is a received server event with its payload left raw.
type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (m inbound) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(m.Payload, v), "decode %s payload", m.Type)
}

// testConn is a websocket client whose frames are read by a background
// goroutine, so waiting for an event never cancels a Read.
type testConn struct {
	t     *testing.T
	conn  *websocket.Conn
	inbox chan inbound
}

const eventTimeout = 3 * time.Second

func dial(t *testing.T, url string) *testConn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	conn.SetReadLimit(32 << 20)

	tc := &testConn{t: t, conn: conn, inbox: make(chan inbound, 512)}
	go func() {
		defer close(tc.inbox)
		for {
			_, data, err := conn.Read(context.Background())
			if err != nil {
				return
			}
			var msg inbound
			if json.Unmarshal(data, &msg) == nil {
				tc.inbox <- msg
			}
		}
	}()
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return tc
}

func (tc *testConn) send(msgType string, payload any) {
	tc.t.Helper()
	msg := map[string]any{"type": msgType}
	if payload != nil {
		msg["payload"] = payload
	}
	tc.sendRaw(mustMarshal(msg))
}

func (tc *testConn) sendRaw(data []byte) {
	tc.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	require.NoError(tc.t, tc.conn.Write(ctx, websocket.MessageText, data))
}

// expect skips events until one of msgType arrives.
func (tc *testConn) expect(msgType string) inbound {
	tc.t.Helper()
	deadline := time.After(eventTimeout)
	for {
		select {
		case msg, ok := <-tc.inbox:
			if !ok {
				tc.t.Fatalf("connection closed while waiting for %s", msgType)
			}
			if msg.Type == msgType {
				return msg
			}
		case <-deadline:
			tc.t.Fatalf("timed out waiting for %s", msgType)
		}
	}
}

func (tc *testConn) expectInto(msgType string, v any) {
	tc.t.Helper()
	tc.expect(msgType).decode(tc.t, v)
}

// drain round-trips a ping and returns every event that arrived before the
// pong. Frames to one connection are delivered in order, so anything
// enqueued for it before the ping was handled shows up here.
func (tc *testConn) drain() []inbound {
	tc.t.Helper()
	tc.send("ping", nil)
	var got []inbound
	deadline := time.After(eventTimeout)
	for {
		select {
		case msg, ok := <-tc.inbox:
			if !ok {
				tc.t.Fatal("connection closed while draining")
			}
			if msg.Type == "pong" {
				return got
			}
			got = append(got, msg)
		case <-deadline:
			tc.t.Fatal("timed out draining")
		}
	}
}

func countType(msgs []inbound, msgType string) int {
	n := 0
	for _, m := range msgs {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

func TestRootHandler(t *testing.T) {
	s, _ := NewServer(testConfig(), memory.New(), discardLogger())
	defer s.Shutdown(context.Background())
	server := httptest.NewServer(s.RegisterRoutes())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"tabletop-server"}`, string(body))
}

func TestHealthHandler(t *testing.T) {
	s, _ := NewServer(testConfig(), memory.New(), discardLogger())
	defer s.Shutdown(context.Background())
	s.sessions.GetOrCreate("abc123")
	server := httptest.NewServer(s.RegisterRoutes())
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "up", body["status"])
	assert.Equal(t, float64(1), body["sessions"])
}

// Test: CORS preflight short-circuits
// Why: Browsers send OPTIONS before cross-origin POSTs to /api/sessions
func TestCORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = "https://table.example"
	s, _ := NewServer(cfg, memory.New(), discardLogger())
	defer s.Shutdown(context.Background())

	req := httptest.NewRequest(http.MethodOptions, "/api/sessions", nil)
	req.Header.Set("Origin", "https://table.example")
	rec := httptest.NewRecorder()
	s.RegisterRoutes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://table.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/sessions", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	s.RegisterRoutes().ServeHTTP(rec, req)
	assert.Equal(t, "null", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSessionsAPI(t *testing.T) {
	store := memory.New()
	s, _ := NewServer(testConfig(), store, discardLogger())
	defer s.Shutdown(context.Background())
	handler := s.RegisterRoutes()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created["session_id"]
	assert.NoError(t, ValidateSessionID(id))
	_, live := s.sessions.Get(id)
	assert.True(t, live)

	_, err := s.persistence.SaveSession(context.Background(), id)
	require.NoError(t, err)
	_, err = store.Save(context.Background(), "archived", []byte(`{"format":1,"id":"archived"}`))
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions?limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var listed struct {
		Sessions []struct {
			ID      string `json:"id"`
			Version int64  `json:"version"`
			Live    bool   `json:"live"`
		} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Sessions, 2)
	byID := map[string]bool{}
	for _, row := range listed.Sessions {
		byID[row.ID] = row.Live
		assert.Equal(t, int64(1), row.Version)
	}
	assert.True(t, byID[id])
	assert.False(t, byID["archived"])

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebSocketPingPong(t *testing.T) {
	_, url, cleanup := setupTestServer()
	defer cleanup()

	conn := dial(t, url)
	conn.send("ping", nil)
	assert.Equal(t, "pong", conn.expect("pong").Type)
}

// TestWebSocketRateLimiting tests that rate limiting works correctly
func TestWebSocketRateLimiting(t *testing.T) {
	assert := assert.New(t)

	s, url, cleanup := setupTestServer()
	defer cleanup()

	s.rateLimiter = NewRateLimiter(2, time.Minute)

	conn := dial(t, url)
	for i := 0; i < 2; i++ {
		conn.send("ping", nil)
		conn.expect("pong")
	}

	conn.send("ping", nil)
	var errMsg ErrorMessage
	conn.expectInto("error", &errMsg)
	assert.Equal(CodeRateLimited, errMsg.Code)
	assert.Contains(errMsg.Message, "RATE_LIMITED")
}

func TestWebSocketInvalidFrames(t *testing.T) {
	_, url, cleanup := setupTestServer()
	defer cleanup()

	conn := dial(t, url)

	conn.sendRaw([]byte(`not json`))
	var errMsg ErrorMessage
	conn.expectInto("error", &errMsg)
	assert.Equal(t, CodeInvalidJSON, errMsg.Code)

	conn.send("create_game", map[string]any{})
	conn.expectInto("error", &errMsg)
	assert.Equal(t, CodeInvalidMessageType, errMsg.Code)

	conn.send("add_map", map[string]any{"session_id": "abc123"})
	conn.expectInto("error", &errMsg)
	assert.Equal(t, CodeInvalidPayload, errMsg.Code)
	assert.Contains(t, errMsg.Message, "map is required")

	conn.send("join_session", nil)
	conn.expectInto("error", &errMsg)
	assert.Equal(t, CodeInvalidPayload, errMsg.Code)
	assert.Contains(t, errMsg.Message, "session_id is required")

	conn.send("join_session", map[string]any{"session_id": "bad id!"})
	conn.expectInto("error", &errMsg)
	assert.Equal(t, CodeInvalidPayload, errMsg.Code)

	// The connection survives every rejection.
	conn.send("ping", nil)
	conn.expect("pong")
}
