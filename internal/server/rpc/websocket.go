package rpc

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/contalabs/bankd/internal/core/vault"
)

const (
	sendBuffer     = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512 * 1024
)

// Hub fans operation events out to WebSocket clients. A fresh connection
// receives nothing until it subscribes:
//
//	{"command":"subscribe","accounts":[1,2]}
//
// subscribes to those accounts; an empty or missing accounts list
// subscribes to every account. Events are the engine's operation events,
// JSON-encoded. Publish runs on account actor goroutines and never
// blocks: a client whose send buffer is full skips the event.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*wsConn]struct{}
	closed bool

	nextID  atomic.Uint64
	dropped atomic.Uint64
}

var _ vault.EventSink = (*Hub)(nil)

// NewHub builds an empty hub. Origin checking is left open, matching the
// HTTP API's permissive CORS policy.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*wsConn]struct{}),
	}
}

type wsConn struct {
	id   uint64
	sock *websocket.Conn
	send chan []byte
	quit chan struct{}
	once sync.Once

	mu       sync.Mutex
	all      bool
	accounts map[int64]struct{}
}

func (c *wsConn) wants(accountID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.all {
		return true
	}
	_, ok := c.accounts[accountID]
	return ok
}

func (c *wsConn) subscribe(accounts []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(accounts) == 0 {
		c.all = true
		return
	}
	for _, id := range accounts {
		c.accounts[id] = struct{}{}
	}
}

// unsubscribe removes the named accounts from the filter; with none named
// it clears the whole subscription, all-accounts mode included.
func (c *wsConn) unsubscribe(accounts []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(accounts) == 0 {
		c.all = false
		c.accounts = make(map[int64]struct{})
		return
	}
	for _, id := range accounts {
		delete(c.accounts, id)
	}
}

// ServeWS upgrades the request and starts the connection's pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &wsConn{
		id:       h.nextID.Add(1),
		sock:     sock,
		send:     make(chan []byte, sendBuffer),
		quit:     make(chan struct{}),
		accounts: make(map[int64]struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sock.Close()
		return
	}
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	h.log.Debug("websocket client connected",
		zap.Uint64("conn", c.id),
		zap.String("client", clientIP(r)),
	)
	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) readPump(c *wsConn) {
	defer h.drop(c)

	c.sock.SetReadLimit(maxMessageSize)
	c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("websocket read failed", zap.Uint64("conn", c.id), zap.Error(err))
			}
			return
		}
		h.handleCommand(c, raw)
	}
}

func (h *Hub) writePump(c *wsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.drop(c)
	}()

	for {
		select {
		case msg := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.quit:
			return
		}
	}
}

// drop tears a connection down exactly once, whichever pump exits first.
func (h *Hub) drop(c *wsConn) {
	c.once.Do(func() {
		close(c.quit)
		c.sock.Close()

		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()

		h.log.Debug("websocket client disconnected", zap.Uint64("conn", c.id))
	})
}

type wsCommand struct {
	Command  string  `json:"command"`
	ID       any     `json:"id,omitempty"`
	Accounts []int64 `json:"accounts,omitempty"`
}

// wsReply is the envelope with the client's correlation id echoed back.
type wsReply struct {
	envelope
	ID any `json:"id,omitempty"`
}

func (h *Hub) handleCommand(c *wsConn, raw []byte) {
	var cmd wsCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		h.reply(c, nil, envelope{Status: "error", ErrCode: "jsonInvalid", ErrMsg: "invalid JSON: " + err.Error()})
		return
	}

	switch cmd.Command {
	case "subscribe":
		c.subscribe(cmd.Accounts)
		h.reply(c, cmd.ID, envelope{Status: "success", Result: subscriptionView(cmd.Accounts)})
	case "unsubscribe":
		c.unsubscribe(cmd.Accounts)
		h.reply(c, cmd.ID, envelope{Status: "success", Result: subscriptionView(cmd.Accounts)})
	case "":
		h.reply(c, cmd.ID, envelope{Status: "error", ErrCode: "missingCommand", ErrMsg: "missing command field"})
	default:
		h.reply(c, cmd.ID, envelope{Status: "error", ErrCode: "unknownCommand", ErrMsg: "unknown command " + cmd.Command})
	}
}

func subscriptionView(accounts []int64) map[string]any {
	if len(accounts) == 0 {
		return map[string]any{"accounts": "all"}
	}
	return map[string]any{"accounts": accounts}
}

// reply sends a command response through the writer. A full send buffer
// means the client stopped reading; the connection is dropped instead of
// blocking.
func (h *Hub) reply(c *wsConn, id any, env envelope) {
	data, err := json.Marshal(wsReply{envelope: env, ID: id})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.quit:
	default:
		h.drop(c)
	}
}

// Publish implements the engine's event sink. The emitting actor must
// never block here, so slow clients lose events rather than slow the
// ledger down.
func (h *Hub) Publish(ev vault.Event) {
	h.mu.Lock()
	if h.closed || len(h.conns) == 0 {
		h.mu.Unlock()
		return
	}
	conns := make([]*wsConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("operation event marshal failed", zap.Error(err))
		return
	}
	for _, c := range conns {
		if !c.wants(ev.AccountID) {
			continue
		}
		select {
		case c.send <- data:
		case <-c.quit:
		default:
			h.dropped.Add(1)
			h.log.Debug("websocket event dropped, slow client",
				zap.Uint64("conn", c.id),
				zap.Int64("account", ev.AccountID),
			)
		}
	}
}

// Dropped reports how many events were skipped on full client buffers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every client and rejects future upgrades.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	conns := make([]*wsConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.sock.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		h.drop(c)
	}
}
