package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/tickerbook/pkg/app/broker"
	"github.com/uhyunpark/tickerbook/pkg/app/core"
	"github.com/uhyunpark/tickerbook/pkg/events"
	"github.com/uhyunpark/tickerbook/pkg/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by main server)
		return true
	},
}

// Hub tracks live connections and attaches them to the event distributor.
// Fan-out itself happens in the distributor; the hub only owns the
// connect/disconnect lifecycle.
type Hub struct {
	app     *broker.App
	metrics *metrics.Metrics
	logger  *zap.Logger

	clients map[*Client]struct{}

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// closed when Run returns
	done chan struct{}
}

func NewHub(app *broker.App, m *metrics.Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		app:        app,
		metrics:    m,
		logger:     logger,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. On exit every client is disconnected.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	dist := h.app.Events()

	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
			dist.Attach(client)
			h.metrics.ObserverConnected()
			h.logger.Info("ws_client_connected", zap.String("client", client.id), zap.Int("total", len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				dist.Detach(client)
				client.close()
				h.metrics.ObserverDisconnected()
				h.logger.Info("ws_client_disconnected", zap.String("client", client.id), zap.Int("total", len(h.clients)))
			}

		case <-ctx.Done():
			for client := range h.clients {
				dist.Detach(client)
				client.close()
				h.metrics.ObserverDisconnected()
			}
			return
		}
	}
}

// Client represents a WebSocket connection. It is an events.Observer.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   string

	send   chan []byte
	mu     sync.Mutex
	closed bool

	// set by client:join; zero until then
	userID atomic.Int64
	email  atomic.Value
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		id:   uuid.NewString(),
		send: make(chan []byte, sendBuffer),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) UserID() (int64, bool) {
	id := c.userID.Load()
	return id, id != 0
}

func (c *Client) joinedEmail() string {
	if v, ok := c.email.Load().(string); ok {
		return v
	}
	return ""
}

// Send queues env without blocking. A full buffer drops the event.
func (c *Client) Send(env events.Envelope) bool {
	msg, err := json.Marshal(env)
	if err != nil {
		c.hub.logger.Warn("ws_marshal_failed", zap.String("event", env.Event), zap.Error(err))
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) leave() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

// readPump pumps messages from the WebSocket connection to the app
func (c *Client) readPump() {
	defer func() {
		c.leave()
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ctx := context.Background()
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("ws_read_failed", zap.String("client", c.id), zap.Error(err))
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.replyError(core.Invalid("message", "malformed json"))
			continue
		}
		c.dispatch(ctx, msg)
	}
}

func (c *Client) dispatch(ctx context.Context, msg WSMessage) {
	app := c.hub.app
	dist := app.Events()

	switch msg.Event {
	case opJoin:
		var req JoinRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.replyError(core.Invalid("email", "required"))
			return
		}
		user, greeting, err := app.Join(ctx, req.Email)
		if err != nil {
			c.replyError(err)
			return
		}
		c.email.Store(user.Email)
		c.userID.Store(user.ID)
		dist.Greet(c, greeting)
		c.hub.logger.Info("ws_client_joined", zap.String("client", c.id), zap.Int64("user_id", user.ID))

	case opSubscribe, opUnsubscribe:
		if _, ok := c.UserID(); !ok {
			c.replyError(core.Invalid("client", "join first"))
			return
		}
		var req SymbolRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.replyError(core.Invalid("symbol", "required"))
			return
		}
		var (
			subs []core.Symbol
			err  error
		)
		if msg.Event == opSubscribe {
			subs, err = app.Subscribe(ctx, c.joinedEmail(), core.Symbol(req.Symbol))
		} else {
			subs, err = app.Unsubscribe(ctx, c.joinedEmail(), core.Symbol(req.Symbol))
		}
		if err != nil {
			c.replyError(err)
			return
		}
		dist.SendSubscriptions(c, subs)

	case opPlaceOrder:
		var req OrderRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.replyError(core.Invalid("order", "malformed"))
			return
		}
		if req.Email == "" {
			req.Email = c.joinedEmail()
		}
		placed, err := app.PlaceOrder(ctx, req.toBroker())
		if err != nil {
			c.replyError(err)
			return
		}
		dist.Reply(c, events.OrderPlaced, placed)

	default:
		c.replyError(core.Invalid("event", "unknown event "+msg.Event))
	}
}

func (c *Client) replyError(err error) {
	reply := events.ErrorReply{Error: "internal error"}
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		reply = events.ErrorReply{Error: "validation failed", Message: ve.Error()}
	} else {
		c.hub.logger.Warn("ws_request_failed", zap.String("client", c.id), zap.Error(err))
		reply.Message = err.Error()
	}
	c.hub.app.Events().Reply(c, events.Error, reply)
}

// writePump pumps queued events to the WebSocket connection, one JSON
// document per frame.
func (c *Client) writePump() {
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
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// handleWebSocket handles WebSocket upgrade and client lifecycle
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws_upgrade_failed", zap.Error(err))
		return
	}

	client := newClient(s.hub, conn)
	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}

	// Start read and write pumps in separate goroutines
	go client.writePump()
	go client.readPump()
}
