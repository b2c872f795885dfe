package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/mcwatch/internal/a2s"
	"github.com/1ureka/mcwatch/internal/hub"
	"github.com/1ureka/mcwatch/internal/protocol"
	"github.com/1ureka/mcwatch/internal/status"
)

var errRefused = errors.New("connection refused")

// fakeMinecraft is down until setUp is called.
type fakeMinecraft struct {
	mu sync.Mutex
	up bool
}

func (f *fakeMinecraft) setUp() {
	f.mu.Lock()
	f.up = true
	f.mu.Unlock()
}

func (f *fakeMinecraft) isUp() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.up
}

func (f *fakeMinecraft) Ping(payload int64) (protocol.PingResponse, error) {
	if !f.isUp() {
		return protocol.PingResponse{}, errRefused
	}
	return protocol.PingResponse{Payload: payload}, nil
}

func (f *fakeMinecraft) Status() (*protocol.StatusResponse, error) {
	if !f.isUp() {
		return nil, errRefused
	}
	return &protocol.StatusResponse{
		Description: protocol.Description{Text: "hello"},
		Players:     protocol.Players{Online: 2, Max: 10},
		Version:     protocol.Version{Name: "1.19.2", Protocol: 760},
	}, nil
}

type fakeInfo struct{}

func (fakeInfo) Info() (*a2s.Info, error) {
	return &a2s.Info{Name: "Keen", Players: 1, MaxPlayers: 8}, nil
}

// spyHub reports every Unregister.
type spyHub struct {
	*hub.Hub
	unregistered chan status.SubscriberID
}

func (s *spyHub) Unregister(ctx context.Context, id status.SubscriberID) error {
	err := s.Hub.Unregister(ctx, id)
	s.unregistered <- id
	return err
}

type fixture struct {
	mc  *fakeMinecraft
	hub *spyHub
	srv *httptest.Server
}

func newFixture(t *testing.T, se InfoSource) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mc := &fakeMinecraft{}
	job := status.NewJob(status.Config{
		Topic:          "minecraft",
		PingInterval:   10 * time.Millisecond,
		StatusInterval: 10 * time.Millisecond,
	}, mc)
	go job.Run(ctx)

	h := &spyHub{
		Hub:          hub.New(map[string]hub.Publisher{"minecraft": job}),
		unregistered: make(chan status.SubscriberID, 4),
	}
	go h.Run(ctx)

	srv := httptest.NewServer(New(Config{QueueSize: 16, WriteTimeout: time.Second}, h, mc, se).Handler())
	t.Cleanup(srv.Close)
	return &fixture{mc: mc, hub: h, srv: srv}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) status.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev status.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestWebSocketSubscribe(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(command{Command: "dance", Channel: "minecraft"}))
	require.NoError(t, conn.WriteJSON(command{Command: cmdSubscribe, Channel: "minecraft"}))

	ev := readEvent(t, conn)
	assert.Equal(t, status.EventInitial, ev.Type)
	assert.Equal(t, "minecraft", ev.Topic)
	require.NotNil(t, ev.Status)
	assert.False(t, ev.Status.Online)

	f.mc.setUp()
	ev = readEvent(t, conn)
	assert.Equal(t, status.EventStatusChanged, ev.Type)
	require.NotNil(t, ev.Online)
	assert.True(t, *ev.Online)
}

func TestWebSocketUnknownChannelKeepsConnection(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(command{Command: cmdSubscribe, Channel: "terraria"}))
	require.NoError(t, conn.WriteJSON(command{Command: cmdSubscribe, Channel: "minecraft"}))
	assert.Equal(t, status.EventInitial, readEvent(t, conn).Type)
}

func TestWebSocketDisconnectUnregisters(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t)
	require.NoError(t, conn.WriteJSON(command{Command: cmdSubscribe, Channel: "minecraft"}))
	readEvent(t, conn)

	conn.Close()
	select {
	case id := <-f.hub.unregistered:
		assert.Equal(t, status.SubscriberID(1), id)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber was not unregistered")
	}
}

// droppingPublisher refuses every subscriber the way a job does when a
// queue overflows: it closes the queue.
type droppingPublisher struct{}

func (droppingPublisher) Subscribe(_ status.SubscriberID, q *status.Queue) error {
	q.Close()
	return nil
}

func (droppingPublisher) Unsubscribe(status.SubscriberID) error { return nil }

func TestWebSocketDroppedQueueClosesConnection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := &spyHub{
		Hub:          hub.New(map[string]hub.Publisher{"minecraft": droppingPublisher{}}),
		unregistered: make(chan status.SubscriberID, 1),
	}
	go h.Run(ctx)
	srv := httptest.NewServer(New(Config{QueueSize: 1, WriteTimeout: time.Second}, h, &fakeMinecraft{}, nil).Handler())
	defer srv.Close()

	f := &fixture{hub: h, srv: srv}
	conn := f.dial(t)
	require.NoError(t, conn.WriteJSON(command{Command: cmdSubscribe, Channel: "minecraft"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)

	select {
	case <-h.unregistered:
	case <-time.After(2 * time.Second):
		t.Fatal("dropped subscriber was not unregistered")
	}
}

func TestWebSocketReadLimit(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t)

	big := `{"command":"subscribe","channel":"` + strings.Repeat("x", 2*maxCommandSize) + `"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(big)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseMessageTooBig), "got %v", err)
}

func getEnvelope(t *testing.T, url string) (int, map[string]json.RawMessage) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestMinecraftStatusRoute(t *testing.T) {
	f := newFixture(t, nil)

	code, env := getEnvelope(t, f.srv.URL+"/minecraft/status")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.JSONEq(t, `"connection refused"`, string(env["status"]))
	assert.JSONEq(t, `null`, string(env["response"]))

	f.mc.setUp()
	code, env = getEnvelope(t, f.srv.URL+"/minecraft/status")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `"ok"`, string(env["status"]))

	var resp protocol.StatusResponse
	require.NoError(t, json.Unmarshal(env["response"], &resp))
	assert.Equal(t, 2, resp.Players.Online)
	assert.Equal(t, "hello", resp.Description.Text)
}

func TestMinecraftPingRoute(t *testing.T) {
	f := newFixture(t, nil)
	f.mc.setUp()

	code, env := getEnvelope(t, f.srv.URL+"/minecraft/ping/1234")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"payload":1234}`, string(env["response"]))

	code, _ = getEnvelope(t, f.srv.URL+"/minecraft/ping/abc")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSpaceEngineersRoute(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Get(f.srv.URL + "/space-engineers/info")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	f = newFixture(t, fakeInfo{})
	code, env := getEnvelope(t, f.srv.URL+"/space-engineers/info")
	assert.Equal(t, http.StatusOK, code)

	var info a2s.Info
	require.NoError(t, json.Unmarshal(env["response"], &info))
	assert.Equal(t, "Keen", info.Name)
	assert.Equal(t, uint8(8), info.MaxPlayers)
}
