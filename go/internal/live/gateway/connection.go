package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/dartslive/go/internal/live/events"
)

// MessageHandler processes one inbound envelope from a connection.
type MessageHandler interface {
	HandleMessage(ctx context.Context, c *Connection, env events.Envelope) error
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID         string
	RemoteAddr string
	Conn       *websocket.Conn
	Send       chan []byte

	manager *ConnectionManager
	handler MessageHandler
	// rooms is guarded by manager.mu
	rooms map[string]bool

	// ctx is cancelled once the connection is unregistered
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce   sync.Once
	ConnectedAt time.Time
}

// Context is cancelled when the connection goes away.
func (c *Connection) Context() context.Context {
	return c.ctx
}

func (c *Connection) closeTransport() {
	c.closeOnce.Do(func() {
		if c.Conn != nil {
			c.Conn.Close()
		}
	})
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	cfg := c.manager.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.closeTransport()
		c.manager.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection. Room
// membership is always released when it returns.
func (c *Connection) readPump() {
	cfg := c.manager.config
	defer func() {
		c.manager.unregister(c)
		c.closeTransport()
	}()

	c.Conn.SetReadLimit(cfg.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}
}

// handleClientMessage decodes and dispatches one frame. Errors and panics
// are contained to the frame.
func (c *Connection) handleClientMessage(message []byte) {
	env, err := events.ParseEnvelope(message)
	if err != nil {
		c.reject("", err)
		return
	}

	if err := c.dispatch(env); err != nil {
		c.reject(env.Event, err)
	}
}

func (c *Connection) dispatch(env events.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("connection_id", c.ID).
				Str("event", string(env.Event)).
				Interface("panic", r).
				Msg("recovered from panic in event handler")
			err = fmt.Errorf("internal error handling %s", env.Event)
		}
	}()
	return c.handler.HandleMessage(c.ctx, c, env)
}

func (c *Connection) reject(event events.Name, err error) {
	logger := log.Warn()
	if !errors.Is(err, events.ErrMalformedEvent) && !errors.Is(err, events.ErrUnknownEvent) {
		logger = log.Info()
	}
	logger.
		Err(err).
		Str("connection_id", c.ID).
		Str("event", string(event)).
		Msg("event dropped")

	if sendErr := c.manager.SendTo(c, events.Error, events.ErrorPayload{Event: event, Message: err.Error()}); sendErr != nil {
		log.Debug().Err(sendErr).Str("connection_id", c.ID).Msg("failed to report rejected event")
	}
}
