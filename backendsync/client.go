package backendsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatkit/core"
	"chatkit/protocol"
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	defaultSendBufferSize    = 256
	defaultAckTimeout        = 10 * time.Second
	writeTimeout             = 10 * time.Second
)

var ErrNotConnected = errors.New("backendsync: not connected")

// ClientConfig configures the backend sync client.
type ClientConfig struct {
	ConnectURL        string
	ClientID          string
	Version           string
	HeartbeatInterval time.Duration
	AckTimeout        time.Duration
	Logger            *core.Logger
}

// Client is the WebSocket client that mirrors session state to the backend
// and receives message-list updates pushed from it. Outbound writes that
// carry a ref block until the backend acknowledges them or the ack timeout
// elapses.
type Client struct {
	config ClientConfig
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	logger *core.Logger

	// Callbacks set by the session controller before Connect.
	OnMessagesUpdate func(sessionID string, messages []protocol.WireMessage)
	OnLoading        func(loading bool)
	OnHasMore        func(hasMore bool)

	sendCh chan []byte
	done   chan struct{}
	once   sync.Once

	pendingMu sync.Mutex
	pending   map[string]chan protocol.AckPayload
}

// NewClient creates a backend sync client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = core.GetLogger()
	}
	return &Client{
		config:  cfg,
		logger:  cfg.Logger.With(map[string]interface{}{"component": "backendsync"}),
		sendCh:  make(chan []byte, defaultSendBufferSize),
		done:    make(chan struct{}),
		pending: make(map[string]chan protocol.AckPayload),
	}
}

// Connect dials the backend WebSocket endpoint, registers the client, and
// starts the read/write/heartbeat loops. The provided context controls the
// client's lifetime.
func (c *Client) Connect(ctx context.Context, sessionID string) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.logger.With(map[string]interface{}{"url": c.config.ConnectURL}).Info("connecting to backend")

	conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.config.ConnectURL, nil)
	if err != nil {
		c.cancel()
		return fmt.Errorf("backendsync: dial %q: %w", c.config.ConnectURL, err)
	}
	c.conn = conn

	reg := protocol.RegisterPayload{
		ClientID:  c.config.ClientID,
		SessionID: sessionID,
		Version:   c.config.Version,
		Timestamp: time.Now().UTC(),
	}
	if err := c.send(protocol.MsgRegister, reg); err != nil {
		conn.Close()
		c.cancel()
		return fmt.Errorf("backendsync: send register: %w", err)
	}

	go c.readLoop()
	go c.writeLoop()
	go c.heartbeatLoop()

	return nil
}

// PersistSelection writes the confirmed context selection for a session and
// waits for the backend's acknowledgement.
func (c *Client) PersistSelection(ctx context.Context, sessionID string, documentIDs, noteIDs []string) error {
	ref := uuid.New().String()
	payload := protocol.PersistSelectionPayload{
		Ref:         ref,
		SessionID:   sessionID,
		DocumentIDs: documentIDs,
		NoteIDs:     noteIDs,
	}
	return c.request(ctx, protocol.MsgPersistSelection, ref, payload)
}

// MarkDisplayed mirrors the local has-been-displayed flag and waits for the
// backend's acknowledgement.
func (c *Client) MarkDisplayed(ctx context.Context, messageID string) error {
	ref := uuid.New().String()
	payload := protocol.MarkDisplayedPayload{
		Ref:       ref,
		MessageID: messageID,
	}
	return c.request(ctx, protocol.MsgMarkDisplayed, ref, payload)
}

// Wait blocks until the connection drops or the context is cancelled.
func (c *Client) Wait() error {
	<-c.done
	return nil
}

// Close shuts down the client.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) request(ctx context.Context, msgType protocol.MessageType, ref string, payload interface{}) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	ackCh := make(chan protocol.AckPayload, 1)
	c.pendingMu.Lock()
	c.pending[ref] = ackCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, ref)
		c.pendingMu.Unlock()
	}()

	if err := c.enqueue(msgType, payload); err != nil {
		return err
	}

	timer := time.NewTimer(c.config.AckTimeout)
	defer timer.Stop()

	select {
	case ack := <-ackCh:
		if !ack.OK {
			return fmt.Errorf("backendsync: %s rejected: %s", msgType, ack.Error)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("backendsync: %s timed out waiting for ack", msgType)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrNotConnected
	}
}

func (c *Client) send(msgType protocol.MessageType, payload interface{}) error {
	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) enqueue(msgType protocol.MessageType, payload interface{}) error {
	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		return err
	}
	select {
	case c.sendCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrNotConnected
	}
}

func (c *Client) readLoop() {
	defer func() {
		c.once.Do(func() {
			c.cancel()
			c.conn.Close()
		})
		close(c.done)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.With(map[string]interface{}{"error": err}).Warn("backend connection lost")
			}
			return
		}

		msgType, payload, err := protocol.Unmarshal(data)
		if err != nil {
			c.logger.With(map[string]interface{}{"error": err}).Warn("invalid message from backend")
			continue
		}

		switch msgType {
		case protocol.MsgMessagesUpdate:
			p, err := protocol.UnmarshalPayload[protocol.MessagesUpdatePayload](payload)
			if err != nil {
				c.logger.With(map[string]interface{}{"error": err}).Warn("invalid messages_update payload")
				continue
			}
			if c.OnMessagesUpdate != nil {
				c.OnMessagesUpdate(p.SessionID, p.Messages)
			}

		case protocol.MsgLoading:
			p, err := protocol.UnmarshalPayload[protocol.LoadingPayload](payload)
			if err != nil {
				continue
			}
			if c.OnLoading != nil {
				c.OnLoading(p.Loading)
			}

		case protocol.MsgHasMore:
			p, err := protocol.UnmarshalPayload[protocol.HasMorePayload](payload)
			if err != nil {
				continue
			}
			if c.OnHasMore != nil {
				c.OnHasMore(p.HasMore)
			}

		case protocol.MsgAck:
			p, err := protocol.UnmarshalPayload[protocol.AckPayload](payload)
			if err != nil {
				continue
			}
			c.pendingMu.Lock()
			ackCh, ok := c.pending[p.Ref]
			c.pendingMu.Unlock()
			if ok {
				ackCh <- p
			}

		default:
			c.logger.With(map[string]interface{}{"type": string(msgType)}).Warn("unknown message type from backend")
		}
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case data := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.With(map[string]interface{}{"error": err}).Warn("write to backend failed")
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			payload := protocol.HeartbeatPayload{
				ClientID:  c.config.ClientID,
				Timestamp: time.Now().UTC(),
			}
			if err := c.enqueue(protocol.MsgHeartbeat, payload); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}
