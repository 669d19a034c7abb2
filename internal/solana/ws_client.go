package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WSConfig configures WebSocket client behavior.
type WSConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription confirmation.
	SubscribeTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
	}
}

// WSClient implements LogSubscriber with one gorilla/websocket connection per
// subscribed address. Connections are re-established with exponential backoff.
type WSClient struct {
	endpoint string
	config   WSConfig
	log      *logrus.Entry

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewWSClient creates a WebSocket client. No connection is made until SubscribeLogs.
func NewWSClient(endpoint string, config *WSConfig, log *logrus.Entry) *WSClient {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &WSClient{
		endpoint: endpoint,
		config:   cfg,
		log:      log.WithField("component", "ws"),
		conns:    make(map[*websocket.Conn]struct{}),
		done:     make(chan struct{}),
	}
}

// Compile-time interface check.
var _ LogSubscriber = (*WSClient)(nil)

// SubscribeLogs connects, subscribes and returns once the first subscription
// is confirmed. Later disconnects are retried in the background.
func (c *WSClient) SubscribeLogs(ctx context.Context, address string) (<-chan LogNotification, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("client closed")
	}
	c.mu.Unlock()

	conn, err := c.dialAndSubscribe(ctx, address)
	if err != nil {
		return nil, err
	}

	ch := make(chan LogNotification, 1024)
	c.wg.Add(1)
	go c.run(ctx, address, conn, ch)
	return ch, nil
}

// Close closes all connections and waits for background loops to exit.
func (c *WSClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	for conn := range c.conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.config.WriteTimeout))
		conn.Close()
	}
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *WSClient) run(ctx context.Context, address string, conn *websocket.Conn, out chan<- LogNotification) {
	defer c.wg.Done()
	defer close(out)

	delay := c.config.ReconnectDelay
	for {
		err := c.readLoop(ctx, conn, out)
		c.forget(conn)
		conn.Close()

		if c.stopped(ctx) {
			return
		}
		c.log.WithError(err).WithField("address", address).Warn("log subscription dropped, reconnecting")

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-time.After(delay):
			}

			conn, err = c.dialAndSubscribe(ctx, address)
			if err == nil {
				delay = c.config.ReconnectDelay
				break
			}
			if c.stopped(ctx) {
				return
			}
			c.log.WithError(err).WithField("address", address).Warn("reconnect failed")
			delay *= 2
			if delay > c.config.MaxReconnectDelay {
				delay = c.config.MaxReconnectDelay
			}
		}
	}
}

func (c *WSClient) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *WSClient) dialAndSubscribe(ctx context.Context, address string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "logsSubscribe",
		Params: []interface{}{
			map[string]interface{}{"mentions": []string{address}},
			map[string]string{"commitment": "confirmed"},
		},
	}
	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write subscribe: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.config.SubscribeTimeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("await subscription: %w", err)
		}
		var resp wsResponse
		if err := json.Unmarshal(data, &resp); err != nil || resp.ID != req.ID {
			continue
		}
		if resp.Error != nil {
			conn.Close()
			return nil, resp.Error
		}
		break
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return nil, errors.New("client closed")
	}
	c.conns[conn] = struct{}{}
	c.mu.Unlock()

	return conn, nil
}

func (c *WSClient) forget(conn *websocket.Conn) {
	c.mu.Lock()
	delete(c.conns, conn)
	c.mu.Unlock()
}

// readLoop forwards notifications until the connection fails.
func (c *WSClient) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- LogNotification) error {
	pingDone := make(chan struct{})
	defer close(pingDone)

	go func() {
		ticker := time.NewTicker(c.config.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout))
			}
		}
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})

	for {
		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var notif wsNotification
		if err := json.Unmarshal(data, &notif); err != nil || notif.Method != "logsNotification" || notif.Params == nil {
			continue
		}

		value := notif.Params.Result.Value
		n := LogNotification{
			Signature: value.Signature,
			Logs:      value.Logs,
			Err:       value.Err,
		}
		if notif.Params.Result.Context != nil {
			n.Slot = notif.Params.Result.Context.Slot
		}

		select {
		case out <- n:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsResponse struct {
	ID     uint64    `json:"id"`
	Result int64     `json:"result"`
	Error  *RPCError `json:"error"`
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext  `json:"context"`
	Value   wsLogsValue `json:"value"`
}

type wsContext struct {
	Slot int64 `json:"slot"`
}

type wsLogsValue struct {
	Signature string      `json:"signature"`
	Logs      []string    `json:"logs"`
	Err       interface{} `json:"err"`
}
