package ws

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSendDeliversJSONToClient(t *testing.T) {
	connCh := make(chan *Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := Upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		c := NewConn(raw, zap.NewNop())
		connCh <- c
		go c.WriteLoop()
		c.ReadLoop(func([]byte) {}, func() {})
	}))
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):]
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	serverConn := <-connCh

	require.NoError(t, serverConn.Send(map[string]string{"type": "hello"}))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received map[string]string
	require.NoError(t, client.ReadJSON(&received))
	assert.Equal(t, "hello", received["type"])
}

func TestReadLoopInvokesOnMessageForEachFrame(t *testing.T) {
	received := make(chan []byte, 4)
	connCh := make(chan *Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := Upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		c := NewConn(raw, zap.NewNop())
		connCh <- c
		go c.WriteLoop()
		c.ReadLoop(func(m []byte) { received <- m }, func() {})
	}))
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):]
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer client.Close()
	<-connCh

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	select {
	case msg := <-received:
		assert.JSONEq(t, `{"type":"ping"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestReadLoopRunsOnCloseExactlyOnceWhenClientDisconnects(t *testing.T) {
	closed := make(chan struct{}, 2)
	connCh := make(chan *Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := Upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		c := NewConn(raw, zap.NewNop())
		connCh <- c
		go c.WriteLoop()
		c.ReadLoop(func([]byte) {}, func() { closed <- struct{}{} })
	}))
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):]
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	<-connCh

	client.Close()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("onClose was never invoked after the client disconnected")
	}

	select {
	case <-closed:
		t.Fatal("onClose was invoked more than once")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSendOnFullQueueDropsRatherThanBlocks(t *testing.T) {
	raw, _, err := newRawPair(t)
	require.NoError(t, err)
	c := NewConn(raw, zap.NewNop())
	defer c.Close()

	for i := 0; i < sendBuffer; i++ {
		require.NoError(t, c.Send(map[string]int{"i": i}))
	}

	done := make(chan struct{})
	go func() {
		_ = c.Send(map[string]string{"overflow": "true"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Send blocked instead of dropping on a full queue")
	}
}

func newRawPair(t *testing.T) (*websocket.Conn, *websocket.Conn, error) {
	t.Helper()
	connCh := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := Upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		connCh <- raw
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + server.URL[len("http"):]
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	serverRaw := <-connCh
	return serverRaw, client, nil
}
