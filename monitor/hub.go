// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package monitor

import (
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Clients only send small control messages.
	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

// Message types of the live feed. The first four mirror harness events.
const (
	MsgTypeRunStarted   = "RUN_STARTED"
	MsgTypeStepStarted  = "STEP_STARTED"
	MsgTypeStepFinished = "STEP_FINISHED"
	MsgTypeRunFinished  = "RUN_FINISHED"
	MsgTypeSubscribe    = "SUBSCRIBE"
	MsgTypeAck          = "ACK"
	MsgTypePing         = "PING"
	MsgTypePong         = "PONG"
	MsgTypeError        = "ERROR"
)

// Message is a live feed message.
type Message struct {
	Type      string    `json:"type"`
	RunID     string    `json:"runId,omitempty"`
	Scenario  string    `json:"scenario,omitempty"`
	Time      time.Time `json:"time,omitzero"`
	Index     int       `json:"index,omitempty"`
	Step      string    `json:"step,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Critical  bool      `json:"critical,omitempty"`
	Forced    bool      `json:"forced,omitempty"`
	ElapsedMS int64     `json:"elapsedMs,omitempty"`
	Snapshot  string    `json:"snapshot,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type reply struct {
	client *wsClient
	msg    Message
}

// hub fans feed messages out to connected clients. All client bookkeeping
// happens on the run goroutine.
type hub struct {
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan Message
	replies    chan reply
	done       chan struct{}
	stopOnce   sync.Once
}

func newHub() *hub {
	return &hub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan Message, 256),
		replies:    make(chan reply, 64),
		done:       make(chan struct{}),
	}
}

func (h *hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			metricClients.Inc()
		case c := <-h.unregister:
			h.drop(c)
		case msg := <-h.broadcast:
			for c := range h.clients {
				if !c.wants(msg) {
					continue
				}
				select {
				case c.send <- msg:
				default:
					log.Printf("Dropping slow feed client %s", c.subject)
					h.drop(c)
				}
			}
		case r := <-h.replies:
			if !h.clients[r.client] {
				continue
			}
			select {
			case r.client.send <- r.msg:
			default:
			}
		case <-h.done:
			for c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

func (h *hub) drop(c *wsClient) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		metricClients.Dec()
	}
}

// publish queues msg for every client without blocking the caller.
func (h *hub) publish(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		log.Printf("Warning: feed channel full, dropping %s for run %s", msg.Type, msg.RunID)
	}
}

func (h *hub) stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// wsClient is a middleman between the websocket connection and the hub.
type wsClient struct {
	hub     *hub
	conn    *websocket.Conn
	send    chan Message
	subject string

	mu       sync.Mutex
	scenario string // empty means every scenario
}

func (c *wsClient) wants(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scenario == "" || c.scenario == msg.Scenario
}

func (c *wsClient) respond(msg Message) {
	select {
	case c.hub.replies <- reply{client: c, msg: msg}:
	case <-c.hub.done:
	}
}

// readPump handles control messages from the client.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error: %v", err)
			}
			return
		}
		switch msg.Type {
		case MsgTypeSubscribe:
			c.mu.Lock()
			c.scenario = msg.Scenario
			c.mu.Unlock()
			c.respond(Message{Type: MsgTypeAck, Scenario: msg.Scenario})
		case MsgTypePing:
			c.respond(Message{Type: MsgTypePong})
		default:
			log.Printf("Unknown feed message type: %s", msg.Type)
			c.respond(Message{Type: MsgTypeError, Error: "Unknown message type"})
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
