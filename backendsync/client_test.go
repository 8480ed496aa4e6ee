package backendsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatkit/protocol"
)

// fakeBackend is a WebSocket server that acks ref-carrying requests and can
// push messages to the connected client.
type fakeBackend struct {
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conn      *websocket.Conn
	registers []protocol.RegisterPayload
	persists  []protocol.PersistSelectionPayload
	displayed []protocol.MarkDisplayedPayload
	rejectAll bool
	connected chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{connected: make(chan struct{})}
}

func (b *fakeBackend) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	close(b.connected)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msgType, payload, err := protocol.Unmarshal(data)
		if err != nil {
			continue
		}

		switch msgType {
		case protocol.MsgRegister:
			p, _ := protocol.UnmarshalPayload[protocol.RegisterPayload](payload)
			b.mu.Lock()
			b.registers = append(b.registers, p)
			b.mu.Unlock()

		case protocol.MsgPersistSelection:
			p, _ := protocol.UnmarshalPayload[protocol.PersistSelectionPayload](payload)
			b.mu.Lock()
			b.persists = append(b.persists, p)
			b.mu.Unlock()
			b.ack(conn, p.Ref)

		case protocol.MsgMarkDisplayed:
			p, _ := protocol.UnmarshalPayload[protocol.MarkDisplayedPayload](payload)
			b.mu.Lock()
			b.displayed = append(b.displayed, p)
			b.mu.Unlock()
			b.ack(conn, p.Ref)
		}
	}
}

func (b *fakeBackend) ack(conn *websocket.Conn, ref string) {
	b.mu.Lock()
	ok := !b.rejectAll
	b.mu.Unlock()
	ackPayload := protocol.AckPayload{Ref: ref, OK: ok}
	if !ok {
		ackPayload.Error = "rejected by test"
	}
	data, _ := protocol.Marshal(protocol.MsgAck, ackPayload)
	conn.WriteMessage(websocket.TextMessage, data)
}

func (b *fakeBackend) push(t *testing.T, msgType protocol.MessageType, payload interface{}) {
	t.Helper()
	data, err := protocol.Marshal(msgType, payload)
	require.NoError(t, err)
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NoError(t, b.conn.WriteMessage(websocket.TextMessage, data))
}

func startClient(t *testing.T, backend *fakeBackend) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(backend.handler))
	t.Cleanup(srv.Close)

	client := NewClient(ClientConfig{
		ConnectURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		ClientID:   "test-client",
		AckTimeout: time.Second,
	})
	require.NoError(t, client.Connect(context.Background(), "session-1"))
	t.Cleanup(client.Close)

	select {
	case <-backend.connected:
	case <-time.After(time.Second):
		t.Fatal("client never connected")
	}
	return client
}

func TestClientRegistersOnConnect(t *testing.T) {
	backend := newFakeBackend()
	startClient(t, backend)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		backend.mu.Lock()
		n := len(backend.registers)
		backend.mu.Unlock()
		if n == 1 {
			backend.mu.Lock()
			defer backend.mu.Unlock()
			assert.Equal(t, "test-client", backend.registers[0].ClientID)
			assert.Equal(t, "session-1", backend.registers[0].SessionID)
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("register never arrived")
}

func TestPersistSelectionWaitsForAck(t *testing.T) {
	backend := newFakeBackend()
	client := startClient(t, backend)

	err := client.PersistSelection(context.Background(), "session-1", []string{"d1"}, []string{"n1"})
	require.NoError(t, err)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.persists, 1)
	assert.Equal(t, "session-1", backend.persists[0].SessionID)
	assert.Equal(t, []string{"d1"}, backend.persists[0].DocumentIDs)
	assert.NotEmpty(t, backend.persists[0].Ref)
}

func TestRejectedAckSurfacesError(t *testing.T) {
	backend := newFakeBackend()
	backend.rejectAll = true
	client := startClient(t, backend)

	err := client.MarkDisplayed(context.Background(), "m1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected by test")
}

func TestInboundUpdatesReachCallbacks(t *testing.T) {
	backend := newFakeBackend()

	var mu sync.Mutex
	var gotSession string
	var gotMessages []protocol.WireMessage
	var gotLoading, gotHasMore bool

	srv := httptest.NewServer(http.HandlerFunc(backend.handler))
	t.Cleanup(srv.Close)

	client := NewClient(ClientConfig{
		ConnectURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		ClientID:   "test-client",
	})
	client.OnMessagesUpdate = func(sessionID string, messages []protocol.WireMessage) {
		mu.Lock()
		gotSession, gotMessages = sessionID, messages
		mu.Unlock()
	}
	client.OnLoading = func(loading bool) {
		mu.Lock()
		gotLoading = loading
		mu.Unlock()
	}
	client.OnHasMore = func(hasMore bool) {
		mu.Lock()
		gotHasMore = hasMore
		mu.Unlock()
	}
	require.NoError(t, client.Connect(context.Background(), "session-1"))
	t.Cleanup(client.Close)
	<-backend.connected

	backend.push(t, protocol.MsgMessagesUpdate, protocol.MessagesUpdatePayload{
		SessionID: "session-1",
		Messages:  []protocol.WireMessage{{ID: "m1", Role: "assistant", Content: "hi"}},
	})
	backend.push(t, protocol.MsgLoading, protocol.LoadingPayload{Loading: true})
	backend.push(t, protocol.MsgHasMore, protocol.HasMorePayload{HasMore: true})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := gotSession == "session-1" && len(gotMessages) == 1 && gotLoading && gotHasMore
		mu.Unlock()
		if done {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("inbound updates never reached the callbacks")
}

func TestAckTimeout(t *testing.T) {
	// A server that swallows requests without acking.
	var upgrader websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	client := NewClient(ClientConfig{
		ConnectURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		ClientID:   "test-client",
		AckTimeout: 30 * time.Millisecond,
	})
	require.NoError(t, client.Connect(context.Background(), "session-1"))
	t.Cleanup(client.Close)

	err := client.MarkDisplayed(context.Background(), "m1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}
