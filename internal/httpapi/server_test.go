package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/andresmarpz/sandcastle-sub001/internal/agent"
	"github.com/andresmarpz/sandcastle-sub001/internal/event"
	"github.com/andresmarpz/sandcastle-sub001/internal/hub"
	"github.com/andresmarpz/sandcastle-sub001/internal/store"
)

type scriptedClient struct {
	script func(msgs chan<- agent.Message, interrupted <-chan struct{})
}

type scriptedHandle struct {
	msgs        chan agent.Message
	interrupted chan struct{}
}

func (h *scriptedHandle) Messages() <-chan agent.Message { return h.msgs }

func (h *scriptedHandle) Interrupt(context.Context) error {
	select {
	case <-h.interrupted:
	default:
		close(h.interrupted)
	}
	return nil
}

func (h *scriptedHandle) SetModel(context.Context, string) error {
	return agent.ErrNotSupported
}

func (h *scriptedHandle) SetPermissionMode(context.Context, string) error {
	return agent.ErrNotSupported
}

func (h *scriptedHandle) Err() error { return nil }

func (c *scriptedClient) Query(context.Context, agent.QueryRequest) (agent.Handle, error) {
	h := &scriptedHandle{
		msgs:        make(chan agent.Message, 16),
		interrupted: make(chan struct{}),
	}
	go c.script(h.msgs, h.interrupted)
	return h, nil
}

func completeImmediately(msgs chan<- agent.Message, _ <-chan struct{}) {
	msgs <- agent.Message{
		Type: agent.MessageTypeAssistant,
		Assistant: &agent.AssistantMessage{
			MessageID: "msg_1",
			Content:   []agent.ContentBlock{{Type: "text", Text: "done"}},
		},
	}
	msgs <- agent.Message{
		Type:   agent.MessageTypeResult,
		Result: &agent.ResultMessage{Subtype: agent.ResultSubtypeSuccess},
	}
	close(msgs)
}

func blockUntilInterrupted(msgs chan<- agent.Message, interrupted <-chan struct{}) {
	<-interrupted
	close(msgs)
}

func newTestServer(t *testing.T, script func(chan<- agent.Message, <-chan struct{}), cfg hub.Config) (*httptest.Server, *hub.Hub) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	st := store.NewMemoryStore()
	h := hub.New(logger, st, &scriptedClient{script: script}, nil, cfg)
	srv := NewServer(logger, ":0", h)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts, h
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, completeImmediately, hub.Config{})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestSendMessageAccepted(t *testing.T) {
	ts, _ := newTestServer(t, completeImmediately, hub.Config{})

	resp := postJSON(t, ts.URL+"/v1/sessions/sess-1/messages", map[string]string{"content": "hi"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	var result hub.SendResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Status != "started" || result.TurnID == "" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestSendMessageEmptyContent(t *testing.T) {
	ts, _ := newTestServer(t, completeImmediately, hub.Config{})

	resp := postJSON(t, ts.URL+"/v1/sessions/sess-1/messages", map[string]string{"content": ""})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestSendMessageInvalidJSON(t *testing.T) {
	ts, _ := newTestServer(t, completeImmediately, hub.Config{})

	resp, err := http.Post(ts.URL+"/v1/sessions/sess-1/messages", "application/json", strings.NewReader("{nope"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestSendMessageQueueFull(t *testing.T) {
	ts, _ := newTestServer(t, blockUntilInterrupted, hub.Config{QueueCap: 1})

	for i, want := range []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests} {
		resp := postJSON(t, ts.URL+"/v1/sessions/sess-1/messages", map[string]string{"content": fmt.Sprintf("m%d", i)})
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, resp.StatusCode)
		}
	}
}

func TestGetStateNotFound(t *testing.T) {
	ts, _ := newTestServer(t, completeImmediately, hub.Config{})

	resp, err := http.Get(ts.URL + "/v1/sessions/missing/state")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestGetStateActiveSession(t *testing.T) {
	ts, _ := newTestServer(t, blockUntilInterrupted, hub.Config{})

	resp := postJSON(t, ts.URL+"/v1/sessions/sess-1/messages", map[string]string{"content": "hi"})
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/v1/sessions/sess-1/state")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	var snap event.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Status != "streaming" || snap.ActiveTurnID == "" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestInterruptRoute(t *testing.T) {
	ts, _ := newTestServer(t, blockUntilInterrupted, hub.Config{})

	resp := postJSON(t, ts.URL+"/v1/sessions/sess-1/messages", map[string]string{"content": "hi"})
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/v1/sessions/sess-1/interrupt", map[string]any{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	var body map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body["interrupted"] {
		t.Fatalf("expected interrupted=true")
	}
}

func TestDequeueNotFound(t *testing.T) {
	ts, _ := newTestServer(t, completeImmediately, hub.Config{})

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/sessions/sess-1/queue/nope", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestApprovalNotFound(t *testing.T) {
	ts, _ := newTestServer(t, completeImmediately, hub.Config{})

	resp := postJSON(t, ts.URL+"/v1/sessions/sess-1/approvals/nope", map[string]any{"approved": true})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestDeleteSessionRoute(t *testing.T) {
	ts, _ := newTestServer(t, completeImmediately, hub.Config{})

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/sessions/sess-1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestEventsWebSocketStream(t *testing.T) {
	ts, _ := newTestServer(t, completeImmediately, hub.Config{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/sess-1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var initial event.Event
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&initial); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if initial.Type != event.TypeInitialState {
		t.Fatalf("expected initial-state first, got %s", initial.Type)
	}

	resp := postJSON(t, ts.URL+"/v1/sessions/sess-1/messages", map[string]string{"content": "hi"})
	resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	sawDelta, sawStopped := false, false
	for !sawStopped {
		_ = conn.SetReadDeadline(deadline)
		var evt event.Event
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("read event: %v", err)
		}
		switch evt.Type {
		case event.TypeTextDelta:
			sawDelta = true
		case event.TypeSessionStopped:
			sawStopped = true
		}
	}
	if !sawDelta {
		t.Fatalf("expected a text delta before session-stopped")
	}
}
