package websocket_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"droid-pilot/internal/action"
	"droid-pilot/internal/agent"
	"droid-pilot/internal/token"
	"droid-pilot/internal/websocket"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// started by an init in the genai dependency chain
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

type harness struct {
	hub    *websocket.Hub
	client *gws.Conn
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	hub := websocket.NewHub(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	srv := httptest.NewServer(hub)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		cancel()
		wg.Wait()
		client.Close()
		srv.Close()
	})

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	return &harness{hub: hub, client: client}
}

func (h *harness) read(t *testing.T) map[string]interface{} {
	t.Helper()
	require.NoError(t, h.client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := h.client.ReadMessage()
	require.NoError(t, err)
	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_Broadcast(t *testing.T) {
	h := newHarness(t)

	h.hub.Broadcast("log", "hello")

	msg := h.read(t)
	assert.Equal(t, "log", msg["type"])
	assert.Equal(t, "hello", msg["data"])
}

func TestHub_TaskAndTokenUpdates(t *testing.T) {
	h := newHarness(t)

	h.hub.SendTaskUpdate("task-1", "in-progress", "open settings")
	msg := h.read(t)
	assert.Equal(t, "taskUpdate", msg["type"])
	data := msg["data"].(map[string]interface{})
	assert.Equal(t, "task-1", data["taskId"])
	assert.Equal(t, "in-progress", data["status"])

	h.hub.SendTokenUpdate(token.Usage{Prompt: 100, Completion: 20, Total: 120})
	msg = h.read(t)
	assert.Equal(t, "tokenUpdate", msg["type"])
	assert.EqualValues(t, 120, msg["total"])
}

func TestHub_OnEvent(t *testing.T) {
	h := newHarness(t)

	h.hub.OnEvent(agent.Event{
		Kind:  agent.EventStep,
		State: agent.RunState{RunID: "r1", Running: true, Status: agent.StatusActing, StepIndex: 2},
		Step: &agent.StepRecord{
			Index:  2,
			Intent: action.Intent{Kind: action.KindBack, Description: "go back", Confidence: 0.9},
		},
	})

	step := h.read(t)
	assert.Equal(t, "step", step["type"])
	assert.EqualValues(t, 2, step["data"].(map[string]interface{})["index"])

	state := h.read(t)
	assert.Equal(t, "stateUpdate", state["type"])
	data := state["data"].(map[string]interface{})
	assert.Equal(t, "r1", data["runId"])
	assert.Equal(t, "acting", data["status"])
}

func TestHub_ClientDisconnect(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.client.Close())
	assert.Eventually(t, func() bool { return h.hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_SendAfterShutdown(t *testing.T) {
	hub := websocket.NewHub(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	for i := 0; i < 1000; i++ {
		hub.Broadcast("log", i)
	}
	assert.Equal(t, 0, hub.Clients())
}
