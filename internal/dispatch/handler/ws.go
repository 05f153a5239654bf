package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/dispatchradio/internal/dispatch/domain"
	"github.com/example/dispatchradio/internal/dispatch/fanout"
	"github.com/example/dispatchradio/internal/dispatch/service"
)

// WSConfig tunes the WebSocket transport.
type WSConfig struct {
	SendBuffer      int
	MaxMessageBytes int64
	PingInterval    time.Duration
	WriteTimeout    time.Duration
}

// WS upgrades HTTP requests and runs one read loop and one write loop per
// connection.
type WS struct {
	engine   *service.Engine
	router   *EventRouter
	upgrader websocket.Upgrader
	cfg      WSConfig
	logger   *zap.Logger
}

// NewWS constructs the WebSocket transport.
func NewWS(engine *service.Engine, logger *zap.Logger, cfg WSConfig) *WS {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 1 << 20
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WS{
		engine: engine,
		router: NewEventRouter(engine, logger.Named("router")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		cfg:    cfg,
		logger: logger,
	}
}

// ServeHTTP handles one client connection until it closes.
func (ws *WS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newWSClient(uuid.NewString(), conn, ws.cfg, ws.logger)
	go client.writeLoop()

	// The request context is cancelled once the handler returns; engine calls
	// made during teardown use a detached one.
	ctx := context.WithoutCancel(r.Context())
	ws.engine.Connect(ctx, client)

	ws.readLoop(ctx, client)

	ws.engine.Disconnect(ctx, client.id)
	client.close()
	<-client.done
	_ = conn.Close()
}

func (ws *WS) readLoop(ctx context.Context, c *wsClient) {
	pongWait := 2 * ws.cfg.PingInterval
	c.conn.SetReadLimit(ws.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				ws.logger.Info("websocket closed unexpectedly", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ws.handleFrame(ctx, c.id, kind, payload)
	}
}

// handleFrame never lets one bad frame end the connection.
func (ws *WS) handleFrame(ctx context.Context, connID string, kind int, payload []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			ws.logger.Error("event handler panicked", zap.String("conn_id", connID), zap.Any("panic", rec))
		}
	}()

	switch kind {
	case websocket.BinaryMessage:
		ws.router.HandleBinary(connID, payload)
	case websocket.TextMessage:
		if err := ws.router.HandleText(ctx, connID, payload); err != nil {
			level := zap.DebugLevel
			if errors.Is(err, domain.ErrMalformedEvent) {
				level = zap.WarnLevel
			}
			ws.logger.Check(level, "event ignored").Write(zap.String("conn_id", connID), zap.Error(err))
		}
	}
}

// outbound is the wire shape of a structured message.
type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// wsClient is the fanout.Sink for one WebSocket. Messages are queued on send
// and written by writeLoop, the only goroutine that writes to conn.
type wsClient struct {
	id     string
	conn   *websocket.Conn
	cfg    WSConfig
	logger *zap.Logger

	mu     sync.Mutex
	send   chan fanout.Message
	closed bool
	done   chan struct{}
}

func newWSClient(id string, conn *websocket.Conn, cfg WSConfig, logger *zap.Logger) *wsClient {
	return &wsClient{
		id:     id,
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		send:   make(chan fanout.Message, cfg.SendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *wsClient) ID() string { return c.id }

// Deliver queues msg without blocking. A full queue drops audio frames; any
// other message that does not fit closes the connection, and the client
// reconnects to a fresh snapshot.
func (c *wsClient) Deliver(msg fanout.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
	}
	if msg.IsAudio() {
		return false
	}
	c.logger.Warn("send queue full, closing connection",
		zap.String("conn_id", c.id),
		zap.String("event", msg.Event),
	)
	slowConsumerCloses.Inc()
	c.closed = true
	close(c.send)
	// unblocks the read loop, which runs the normal disconnect
	_ = c.conn.Close()
	return false
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *wsClient) writeLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(c.cfg.WriteTimeout))
				return
			}
			if err := c.write(msg); err != nil {
				c.logger.Debug("websocket write failed", zap.String("conn_id", c.id), zap.Error(err))
				// unblock the read loop; it tears the connection down
				_ = c.conn.Close()
				c.drain()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				_ = c.conn.Close()
				c.drain()
				return
			}
		}
	}
}

func (c *wsClient) write(msg fanout.Message) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if msg.IsAudio() {
		return c.conn.WriteMessage(websocket.BinaryMessage, msg.Audio)
	}
	return c.conn.WriteJSON(outbound{Event: msg.Event, Data: msg.Payload})
}

// drain discards queued messages until close() closes the channel.
func (c *wsClient) drain() {
	for range c.send {
	}
}
