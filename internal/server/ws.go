package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/mcwatch/internal/status"
	"github.com/1ureka/mcwatch/internal/util"
)

// maxCommandSize bounds a client frame; commands are tiny JSON objects.
const maxCommandSize = 4096

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client commands.
const (
	cmdSubscribe   = "subscribe"
	cmdUnsubscribe = "unsubscribe"
)

// command is the JSON frame a client sends, e.g.
//
//	{"command":"subscribe","channel":"minecraft"}
type command struct {
	Command string `json:"command"`
	Channel string `json:"channel"`
}

// connection is one WebSocket subscriber: a read loop handling commands and
// a relay goroutine writing queued events. Only the relay writes to conn.
type connection struct {
	conn         *websocket.Conn
	queue        *status.Queue
	hub          Hub
	writeTimeout time.Duration
	log          util.Logger
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(maxCommandSize)

	connID := uuid.New().String()
	c := &connection{
		conn:         conn,
		queue:        status.NewQueue(s.cfg.QueueSize),
		hub:          s.hub,
		writeTimeout: s.cfg.WriteTimeout,
		log:          s.log.With("conn", connID[:8], "remote", r.RemoteAddr),
	}
	c.serve(r.Context())
}

func (c *connection) serve(ctx context.Context) {
	defer c.conn.Close()

	id, err := c.hub.Register(ctx, c.queue)
	if err != nil {
		c.log.Warn("register failed: %v", err)
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "service unavailable"))
		return
	}
	c.log.Info("subscriber %d connected", id)

	reading := make(chan struct{})
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		c.relay(ctx, reading)
	}()

	c.readLoop(ctx, id)

	close(reading)
	c.queue.Close()
	<-relayDone

	unregisterCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.hub.Unregister(unregisterCtx, id); err != nil {
		c.log.Debug("unregister %d: %v", id, err)
	}
	c.log.Info("subscriber %d disconnected", id)
}

// readLoop handles client commands until the connection fails. Unknown or
// malformed frames are ignored.
func (c *connection) readLoop(ctx context.Context, id status.SubscriberID) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("read: %v", err)
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.log.Debug("ignoring malformed frame: %v", err)
			continue
		}

		switch cmd.Command {
		case cmdSubscribe:
			err = c.hub.Subscribe(ctx, id, cmd.Channel)
		case cmdUnsubscribe:
			err = c.hub.Unsubscribe(ctx, id, cmd.Channel)
		default:
			c.log.Debug("ignoring unknown command %q", cmd.Command)
			continue
		}
		if err != nil {
			c.log.Warn("%s %q: %v", cmd.Command, cmd.Channel, err)
		}
	}
}

// relay writes queued events until the queue is closed, a write fails or
// ctx ends. Unless readLoop has already returned (reading closed), it then
// closes conn so readLoop returns as well. A queue closed while the client
// is still reading means a publisher dropped it; the client is told to
// reconnect.
func (c *connection) relay(ctx context.Context, reading <-chan struct{}) {
	for {
		select {
		case ev := <-c.queue.C():
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.log.Debug("write: %v", err)
				c.conn.Close()
				return
			}

		case <-c.queue.Done():
			select {
			case <-reading:
				return
			default:
			}
			c.log.Warn("queue overflowed, closing connection")
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "event queue overflowed"))
			c.conn.Close()
			return

		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			c.conn.Close()
			return
		}
	}
}
