package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

var ErrClosed = errors.New("transport: connection closed")

// callback executed when a message is received.
type MessageHandler func(ctx context.Context, connId uuid.UUID, msg []byte)

type OnCloseHandler func(connId uuid.UUID, err error)

type ConnectionConfig struct {
	// ReadTimeout bounds a single read. Zero disables it; liveness is then
	// left to the pinger.
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	PingInterval time.Duration `mapstructure:"pingInterval"`
	PingTimeout  time.Duration `mapstructure:"pingTimeout"`
	SendQueue    int           `mapstructure:"sendQueue"`
	// ReadLimit caps an inbound frame in bytes. Zero keeps the websocket
	// default of 32KiB.
	ReadLimit int64 `mapstructure:"readLimit"`
}

// Stats counts the frames that went through a connection.
type Stats struct {
	Received uint64
	Sent     uint64
}

// Connection represents a single, thread-safe WebSocket connection.
type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	received atomic.Uint64
	sent     atomic.Uint64

	mu        sync.RWMutex
	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	wg        *sync.WaitGroup
	ctx       context.Context
	closeOnce sync.Once
	cancel    context.CancelFunc

	logger *slog.Logger
}

// NewConnection wraps an established websocket. wg may be nil; when set it
// is released once the connection is closed.
func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, onMessage MessageHandler, onClose OnCloseHandler, logger *slog.Logger) *Connection {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)
	connLogger := logger.With(slog.String("connID", id.String()))

	queue := config.SendQueue
	if queue <= 0 {
		queue = 256
	}
	if wg != nil {
		wg.Add(1)
	}

	return &Connection{
		id:        id,
		conn:      conn,
		logger:    connLogger,
		config:    config,
		onMessage: onMessage,
		send:      make(chan []byte, queue),
		done:      make(chan struct{}),
		ctx:       connCtx,
		cancel:    cancel,
		onClose:   onClose,
		wg:        wg,
	}
}

func (c *Connection) Run() {
	if c.config.ReadLimit > 0 {
		c.conn.SetReadLimit(c.config.ReadLimit)
	}
	go c.readPump()
	go c.writePump()
	if c.config.PingInterval > 0 {
		go c.pingLoop()
	}

	c.logger.Debug("connection established")
}

// readPump pumps messages from the WebSocket connection to the message handler.
func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		readCtx, cancelRead := c.readContext()
		typ, message, err := c.conn.Read(readCtx)
		cancelRead()
		if err != nil {
			readErr = err
			return
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			continue
		}
		c.received.Add(1)
		c.mu.RLock()
		handler := c.onMessage
		c.mu.RUnlock()
		if handler != nil {
			handler(c.ctx, c.id, message)
		}
	}
}

func (c *Connection) readContext() (context.Context, context.CancelFunc) {
	if c.config.ReadTimeout > 0 {
		return context.WithTimeout(c.ctx, c.config.ReadTimeout)
	}
	return context.WithCancel(c.ctx)
}

// writePump pumps messages from the send channel to the WebSocket connection.
func (c *Connection) writePump() {
	var writeErr error
	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.conn.Write(c.ctx, websocket.MessageText, message); err != nil {
				writeErr = err
				return
			}
			c.sent.Add(1)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) pingLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()
	timeout := c.config.PingTimeout
	if timeout <= 0 {
		timeout = c.config.PingInterval
	}

	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, timeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if c.ctx.Err() == nil {
					c.logger.Warn("Ping failed, closing connection", slog.Any("error", err))
				}
				c.Close(err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues a message for the writer. It is safe for concurrent use.
func (c *Connection) Send(message []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case c.send <- message:
		return nil
	case <-c.ctx.Done():
		c.logger.Warn("Attempted to send on a closed connection")
		return ErrClosed
	}
}

// Close shuts down the connection and its resources. Only the first call
// has an effect; err is reported to the close handler.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		stats := c.Stats()
		c.logger.Debug("Transport connection closing",
			slog.Any("reason", err),
			slog.String("status", websocket.CloseStatus(err).String()),
			slog.Uint64("received", stats.Received),
			slog.Uint64("sent", stats.Sent),
		)

		c.cancel()
		if c.conn != nil {
			_ = c.conn.Close(websocket.StatusNormalClosure, "")
		}
		c.mu.RLock()
		onClose := c.onClose
		c.mu.RUnlock()
		if onClose != nil {
			onClose(c.id, err)
		}
		if c.wg != nil {
			c.wg.Done()
		}
		close(c.done)
	})
}

// Stats returns the frame counters so far.
func (c *Connection) Stats() Stats {
	return Stats{Received: c.received.Load(), Sent: c.sent.Load()}
}

// returns a channel that is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ID returns the unique identifier of the connection.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.mu.Lock()
	c.onMessage = handler
	c.mu.Unlock()
}

func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.mu.Lock()
	c.onClose = handler
	c.mu.Unlock()
}
