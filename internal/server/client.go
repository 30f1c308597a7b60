package server

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/relaychat/internal/chat"
)

const (
	sendBufferSize = 256
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
)

// Client represents one authenticated WebSocket connection. It owns the
// connection's session, its outbound queue and its inbound rate limiter.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	engine         *chat.Engine
	session        *chat.Session
	addr           string
	maxMessageSize int64
	rateLimiter    *rate.Limiter
	rateLimit      RateLimitConfig
	log            *zap.Logger

	// rooms is guarded by hub.mutex.
	rooms map[string]struct{}
}

// NewClient creates a Client for an upgraded connection bound to session.
// The client's send channel is buffered to absorb bursts of deliveries.
func NewClient(conn *websocket.Conn, hub *Hub, engine *chat.Engine, session *chat.Session, addr string) *Client {
	cfg := currentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		hub:            hub,
		engine:         engine,
		session:        session,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
		log: hub.log.With(
			zap.String("session_id", session.ID()),
			zap.String("user_id", session.UserID()),
			zap.String("remote_addr", addr),
		),
		rooms: make(map[string]struct{}),
	}
}

// GetSendChan returns the client's send channel for reading outgoing frames.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Session returns the session bound at handshake.
func (c *Client) Session() *chat.Session {
	return c.session
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("error setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("error setting read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// handleReadError logs the read failure and reports whether the read loop
// should stop. Every read error is terminal for a gorilla connection.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("message exceeded maximum size", zap.Int64("max_bytes", c.maxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("client connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn("unexpected websocket close", zap.Error(err))
	default:
		c.log.Warn("websocket read error", zap.Error(err))
	}
	return true
}

// checkRateLimit reports whether the next inbound frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		c.log.Warn("rate limit exceeded; discarding message",
			zap.Int("burst", c.rateLimit.Burst),
			zap.Duration("refill_interval", c.rateLimit.RefillInterval),
		)
		return false
	}
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		if err := c.engine.Disconnect(context.Background(), c.session); err != nil {
			c.log.Warn("failed to record disconnect", zap.Error(err))
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("error closing connection in readPump", zap.Error(err))
		}
	}()

	c.setupReadConnection()

	if err := c.engine.Connect(context.Background(), c.session); err != nil {
		c.log.Error("failed to record connect", zap.Error(err))
	}

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if c.handleReadError(err) {
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.handleFrame(context.Background(), rawMessage)
	}
}

// reply queues a frame for this connection only. It goes through the hub so
// that it is ordered with the broadcasts this connection receives.
func (c *Client) reply(frame outboundFrame) {
	c.hub.send(chat.ToSession(c.session.ID()), frame)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	case <-c.hub.ctx.Done():
		return false
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error closing connection in writePump", zap.Error(err))
	}
}

// handleMessage processes outgoing frames and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("error setting write deadline", zap.Error(err))
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error writing close message", zap.Error(err))
	}
	return false
}

// writeTextMessage writes one frame per WebSocket message. Frames are never
// coalesced since each one is a standalone JSON document.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error writing message", zap.Error(err))
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("error setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Warn("error writing ping message", zap.Error(err))
		return false
	}
	return true
}
