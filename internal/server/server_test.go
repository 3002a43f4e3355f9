package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/spritegate/internal/history"
	"github.com/sprite-ai/spritegate/internal/identity"
	"github.com/sprite-ai/spritegate/internal/session"
)

func newTestServer(t *testing.T, exec session.Executor) (*Server, *session.Registry, *httptest.Server) {
	t.Helper()
	if exec == nil {
		exec = session.ExecutorFunc(func(ctx context.Context, job session.Job, events session.StreamEvents) (string, error) {
			return "echo: " + job.Content, nil
		})
	}
	reg := session.NewRegistry(
		session.Config{IdleGrace: time.Minute},
		exec,
		func(key string) string { return "sprite-" + key },
	)
	t.Cleanup(reg.Shutdown)

	hist, err := history.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })

	srv := New(DefaultConfig(), Deps{
		Registry: reg,
		Resolver: identity.New("", "sprite"),
		History:  hist,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, reg, ts
}

func dialWS(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvent reads the next JSON frame as a loose map.
func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

// readUntil skips frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ev := readEvent(t, conn)
		if ev["type"] == eventType {
			return ev
		}
	}
	t.Fatalf("no %s event before deadline", eventType)
	return nil
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func TestHealth(t *testing.T) {
	_, _, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestChatRequiresHandshake(t *testing.T) {
	_, reg, ts := newTestServer(t, nil)
	conn := dialWS(t, ts, "/ws/chat")

	// Traffic before connect gets an error and does not attach a session.
	sendJSON(t, conn, map[string]any{"type": "message", "content": "hello"})
	ev := readEvent(t, conn)
	assert.Equal(t, "error", ev["type"])
	assert.Contains(t, ev["error"], "connect")
	assert.Equal(t, 0, reg.Len())

	// The same connection can still complete the handshake.
	sendJSON(t, conn, map[string]any{"type": "connect", "user_id": "alice"})
	ev = readEvent(t, conn)
	assert.Equal(t, "connected", ev["type"])
	assert.Equal(t, "alice", ev["user_id"])
	assert.Equal(t, "sprite-alice", ev["sprite_name"])

	// Connect is followed by a queue status replay.
	ev = readEvent(t, conn)
	assert.Equal(t, "status", ev["type"])
	assert.Equal(t, float64(0), ev["queue_size"])
	assert.Equal(t, false, ev["is_processing"])
}

func TestChatMessageRoundTrip(t *testing.T) {
	_, _, ts := newTestServer(t, nil)
	conn := dialWS(t, ts, "/ws/chat")

	sendJSON(t, conn, map[string]any{"type": "connect", "user_id": "alice"})
	readUntil(t, conn, "status")

	sendJSON(t, conn, map[string]any{"type": "message", "content": "hi", "message_id": "m1"})

	queued := readUntil(t, conn, "queued")
	assert.Equal(t, "m1", queued["message_id"])

	started := readUntil(t, conn, "processing_started")
	assert.Equal(t, "m1", started["message_id"])

	resp := readUntil(t, conn, "response")
	assert.Equal(t, "m1", resp["message_id"])
	assert.Equal(t, "echo: hi", resp["content"])
}

func TestChatMintsMessageID(t *testing.T) {
	_, _, ts := newTestServer(t, nil)
	conn := dialWS(t, ts, "/ws/chat")

	sendJSON(t, conn, map[string]any{"type": "connect", "user_id": "alice"})
	readUntil(t, conn, "status")

	sendJSON(t, conn, map[string]any{"type": "message", "content": "hi"})
	queued := readUntil(t, conn, "queued")
	id, _ := queued["message_id"].(string)
	assert.True(t, strings.HasPrefix(id, "msg_"), "minted id %q", id)
}

func TestChatRejectsDuplicateAndEmpty(t *testing.T) {
	_, _, ts := newTestServer(t, nil)
	conn := dialWS(t, ts, "/ws/chat")

	sendJSON(t, conn, map[string]any{"type": "connect", "user_id": "alice"})
	readUntil(t, conn, "status")

	sendJSON(t, conn, map[string]any{"type": "message", "content": "  "})
	ev := readEvent(t, conn)
	assert.Equal(t, "error", ev["type"])
	assert.Equal(t, "Empty message", ev["error"])

	sendJSON(t, conn, map[string]any{"type": "message", "content": "hi", "message_id": "m1"})
	readUntil(t, conn, "response")

	sendJSON(t, conn, map[string]any{"type": "message", "content": "again", "message_id": "m1"})
	ev = readUntil(t, conn, "error")
	assert.Equal(t, "Duplicate message id", ev["error"])
}

func TestChatPingAndUnknownType(t *testing.T) {
	_, _, ts := newTestServer(t, nil)
	conn := dialWS(t, ts, "/ws/chat")

	// Like every other frame, ping is rejected before the handshake.
	sendJSON(t, conn, map[string]any{"type": "ping"})
	ev := readEvent(t, conn)
	assert.Equal(t, "error", ev["type"])
	assert.Contains(t, ev["error"], "connect")

	sendJSON(t, conn, map[string]any{"type": "connect", "user_id": "alice"})
	readUntil(t, conn, "status")

	sendJSON(t, conn, map[string]any{"type": "ping"})
	ev = readEvent(t, conn)
	assert.Equal(t, "pong", ev["type"])

	sendJSON(t, conn, map[string]any{"type": "bogus"})
	ev = readEvent(t, conn)
	assert.Equal(t, "error", ev["type"])
	assert.Contains(t, ev["error"], "Unknown message type")
}

func TestChatHistoryAndNewConversation(t *testing.T) {
	_, _, ts := newTestServer(t, nil)
	conn := dialWS(t, ts, "/ws/chat")

	sendJSON(t, conn, map[string]any{"type": "connect", "user_id": "alice"})
	readUntil(t, conn, "status")

	sendJSON(t, conn, map[string]any{"type": "message", "content": "remember me", "message_id": "m1"})
	readUntil(t, conn, "response")

	// The recorder runs on the event bus; the response event precedes the
	// write, so poll.
	var messages []any
	require.Eventually(t, func() bool {
		sendJSON(t, conn, map[string]any{"type": "history"})
		ev := readUntil(t, conn, "history")
		messages, _ = ev["messages"].([]any)
		return len(messages) == 2
	}, 5*time.Second, 100*time.Millisecond)

	first := messages[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "remember me", first["content"])

	sendJSON(t, conn, map[string]any{"type": "new_conversation"})
	ev := readUntil(t, conn, "conversation_cleared")
	assert.Equal(t, "conversation_cleared", ev["type"])

	sendJSON(t, conn, map[string]any{"type": "history"})
	ev = readUntil(t, conn, "history")
	messages, _ = ev["messages"].([]any)
	assert.Empty(t, messages)
}

func TestChatCancelUnknownMessage(t *testing.T) {
	_, _, ts := newTestServer(t, nil)
	conn := dialWS(t, ts, "/ws/chat")

	sendJSON(t, conn, map[string]any{"type": "connect", "user_id": "alice"})
	readUntil(t, conn, "status")

	sendJSON(t, conn, map[string]any{"type": "cancel", "message_id": "ghost"})
	ev := readUntil(t, conn, "error")
	assert.Equal(t, "No such message to cancel", ev["error"])
}

func TestSessionStatusREST(t *testing.T) {
	_, _, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/session/alice/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	conn := dialWS(t, ts, "/ws/chat")
	sendJSON(t, conn, map[string]any{"type": "connect", "user_id": "alice"})
	readUntil(t, conn, "status")

	resp, err = http.Get(ts.URL + "/session/alice/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "alice", body["user_id"])
	assert.Equal(t, "sprite-alice", body["sprite_name"])
}

func TestFilesFlatREST(t *testing.T) {
	_, reg, ts := newTestServer(t, nil)

	conn := dialWS(t, ts, "/ws/chat")
	sendJSON(t, conn, map[string]any{"type": "connect", "user_id": "alice"})
	readUntil(t, conn, "status")

	dir := t.TempDir()
	require.NoError(t, os.Mkdir(dir+"/src", 0755))
	require.NoError(t, os.WriteFile(dir+"/src/main.go", []byte("package main"), 0644))
	require.NoError(t, os.WriteFile(dir+"/readme.md", []byte("hi"), 0644))
	reg.Get("alice").MarkWorkspaceReady(dir)

	resp, err := http.Get(ts.URL + "/files/alice/flat")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Entries []map[string]any `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Entries, 2)
	// Directories sort first and report whether they can be expanded.
	assert.Equal(t, "src", body.Entries[0]["name"])
	assert.Equal(t, "directory", body.Entries[0]["type"])
	assert.Equal(t, true, body.Entries[0]["hasChildren"])
	assert.Equal(t, "readme.md", body.Entries[1]["name"])
}

func TestAuthRefresh(t *testing.T) {
	reg := session.NewRegistry(
		session.Config{IdleGrace: time.Minute},
		session.ExecutorFunc(func(ctx context.Context, job session.Job, events session.StreamEvents) (string, error) {
			return "", nil
		}),
		nil,
	)
	t.Cleanup(reg.Shutdown)
	resolver := identity.New("test-secret", "sprite")
	srv := New(DefaultConfig(), Deps{Registry: reg, Resolver: resolver})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	pair, err := resolver.MintPair("alice", "alice@example.com")
	require.NoError(t, err)

	refresh := func(token string) *http.Response {
		payload, err := json.Marshal(map[string]string{"refresh_token": token})
		require.NoError(t, err)
		resp, err := http.Post(ts.URL+"/auth/refresh", "application/json", bytes.NewReader(payload))
		require.NoError(t, err)
		return resp
	}

	resp := refresh(pair.RefreshToken)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var fresh identity.TokenPair
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fresh))
	assert.NotEmpty(t, fresh.AccessToken)
	assert.NotEmpty(t, fresh.RefreshToken)
	assert.Equal(t, "alice", resolver.Resolve("", fresh.AccessToken))

	// An access token is not accepted in place of a refresh token.
	resp = refresh(pair.AccessToken)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = refresh("garbage")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthRefreshDisabledWithoutSecret(t *testing.T) {
	_, _, ts := newTestServer(t, nil)

	payload, _ := json.Marshal(map[string]string{"refresh_token": "anything"})
	resp, err := http.Post(ts.URL+"/auth/refresh", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFilesChannelUninitializedIsRetryable(t *testing.T) {
	_, reg, ts := newTestServer(t, nil)
	conn := dialWS(t, ts, "/ws/files")

	sendJSON(t, conn, map[string]any{"type": "connect", "user_id": "alice"})
	ev := readEvent(t, conn)
	assert.Equal(t, "connected", ev["type"])

	// No provisioner in this setup, so the initial snapshot reports the
	// workspace as initializing.
	ev = readEvent(t, conn)
	assert.Equal(t, "error", ev["type"])
	assert.Contains(t, ev["error"], "initializing")

	// Mark the workspace ready out-of-band; the same connection recovers.
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/hello.txt", []byte("hi"), 0644))
	reg.Get("alice").MarkWorkspaceReady(dir)

	sendJSON(t, conn, map[string]any{"type": "get_tree"})
	ev = readUntil(t, conn, "tree")
	data := ev["data"].(map[string]any)
	assert.Equal(t, ".", data["path"])
	children := data["children"].([]any)
	require.Len(t, children, 1)
	assert.Equal(t, "hello.txt", children[0].(map[string]any)["name"])
}

func TestFilesSubscribeStreamsChanges(t *testing.T) {
	_, reg, ts := newTestServer(t, nil)
	conn := dialWS(t, ts, "/ws/files")

	sendJSON(t, conn, map[string]any{"type": "connect", "user_id": "alice"})
	readEvent(t, conn) // connected
	readEvent(t, conn) // uninitialized error

	dir := t.TempDir()
	reg.Get("alice").MarkWorkspaceReady(dir)

	sendJSON(t, conn, map[string]any{"type": "subscribe"})
	ev := readUntil(t, conn, "subscribed")
	assert.Equal(t, "subscribed", ev["type"])

	require.NoError(t, os.WriteFile(dir+"/new.txt", []byte("x"), 0644))

	ev = readUntil(t, conn, "file_event")
	assert.Equal(t, "created", ev["event_type"])
	assert.Equal(t, "new.txt", ev["path"])

	// A change is followed by a fresh snapshot.
	ev = readUntil(t, conn, "tree")
	assert.NotNil(t, ev["data"])
}

func TestTerminalChannel(t *testing.T) {
	if _, err := os.Stat("/bin/bash"); err != nil {
		t.Skip("bash not available")
	}
	_, _, ts := newTestServer(t, nil)
	conn := dialWS(t, ts, "/ws/terminal")

	// Raw bytes before the handshake are rejected.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ls\n")))
	ev := readEvent(t, conn)
	assert.Equal(t, "error", ev["type"])

	sendJSON(t, conn, map[string]any{"type": "connect", "user_id": "alice"})
	ev = readEvent(t, conn)
	assert.Equal(t, "connected", ev["type"])
	assert.Equal(t, "sprite-alice", ev["sprite_name"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("echo gate-check\n")))

	// Output frames are raw text, not JSON events.
	found := false
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && !found {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if strings.Contains(string(data), "gate-check") {
			found = true
		}
	}
	assert.True(t, found, "terminal output never arrived")

	// Resize is a structured control frame on the same connection.
	sendJSON(t, conn, map[string]any{"type": "resize", "cols": 100, "rows": 30})
}
