package gateway

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/time/rate"

	"github.com/openquill/voxsignal/internal/errors"
	"github.com/openquill/voxsignal/internal/log"
)

const (
	ErrBufferFull = errors.Code("gateway: send buffer full")
)

const (
	pingInterval = 10 * time.Second
	pingTimeout  = 3 * time.Second
	writeTimeout = 3 * time.Second
	bufMessages  = 32
)

// Conn is one authenticated WebSocket connection. Writes go through a
// single pump goroutine so wsjson never sees concurrent writers.
type Conn struct {
	id          string
	userID      string
	displayName string

	ws       *websocket.Conn
	chBuf    chan func() error
	registry *Registry
	limiter  *rate.Limiter

	connCtx   context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	logger    *log.Logger
}

func newConn(
	id, userID, displayName string,
	ws *websocket.Conn,
	registry *Registry,
	limiter *rate.Limiter,
	logger *log.Logger,
) *Conn {
	return &Conn{
		id:          id,
		userID:      userID,
		displayName: displayName,
		ws:          ws,
		chBuf:       make(chan func() error, bufMessages),
		registry:    registry,
		limiter:     limiter,
		logger:      logger,
	}
}

func (c *Conn) ID() string          { return c.id }
func (c *Conn) UserID() string      { return c.userID }
func (c *Conn) DisplayName() string { return c.displayName }

// Send queues an event envelope. A slow reader fills the buffer and
// gets disconnected rather than stalling the publisher.
func (c *Conn) Send(event string, data any) {
	select {
	case <-c.connCtx.Done():
		return
	default:
	}

	env := Envelope{Event: event, Data: data}
	action := func() error {
		ctx, cancel := context.WithTimeout(c.connCtx, writeTimeout)
		defer cancel()
		return wsjson.Write(ctx, c.ws, env)
	}

	select {
	case c.chBuf <- action:
		eventsSent.Add(context.Background(), 1)
	default:
		c.close(errors.New(ErrBufferFull, "dropping slow consumer"))
	}
}

func (c *Conn) Subscribe(group string) {
	c.registry.Subscribe(group, c)
}

func (c *Conn) Unsubscribe(group string) {
	c.registry.Unsubscribe(group, c.id)
}

func (c *Conn) Groups() []string {
	return c.registry.Groups(c.id)
}

func (c *Conn) open(ctx context.Context) {
	c.connCtx, c.cancel = context.WithCancel(ctx)

	go func() {
		err := c.writePump(c.connCtx)
		c.close(err)
	}()
}

func (c *Conn) read(ctx context.Context, v any) error {
	if err := wsjson.Read(ctx, c.ws, v); err != nil {
		c.close(err)
		return err
	}
	return nil
}

func (c *Conn) wait() {
	<-c.connCtx.Done()
}

func (c *Conn) close(err error) {
	c.closeOnce.Do(func() {
		closed := false
		code := websocket.StatusNormalClosure

		switch {
		case err == nil:
		case websocket.CloseStatus(err) != -1:
			closed = true
		case errors.Is(err, net.ErrClosed), errors.Is(err, context.Canceled):
			closed = true
		case errors.Is(err, ErrBufferFull):
			c.logger.Warn("closing slow consumer",
				log.String("conn_id", c.id),
				log.String("user_id", c.userID))
			code = websocket.StatusPolicyViolation
		default:
			c.logger.Warn("connection closed",
				log.String("conn_id", c.id),
				log.Error(err))
			code = websocket.StatusInternalError
		}

		if closed {
			_ = c.ws.CloseNow()
		} else {
			_ = c.ws.Close(code, "bye")
		}
		c.cancel()
	})
}

func (c *Conn) writePump(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.ping(ctx); err != nil {
				return err
			}
		case action, ok := <-c.chBuf:
			if !ok {
				return net.ErrClosed
			}
			if err := action(); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	return c.ws.Ping(ctx)
}
