package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"orderbook_go/internal/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/feed"
}

func newFeedServer(t *testing.T, handle func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebSocket_MessagesThenNormalClose(t *testing.T) {
	payload := []byte(`{"kind":"DELETE_ORDER","payload":{"id":"A","status":"Open"}}`)
	srv := newFeedServer(t, func(conn *websocket.Conn, r *http.Request) {
		conn.WriteMessage(websocket.TextMessage, payload)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		conn.ReadMessage()
	})

	ws, err := DialWebSocket(context.Background(), WebSocketConfig{URL: wsURL(srv)})
	require.NoError(t, err)
	defer ws.Close()

	events := drain(t, ws.Events())
	require.Len(t, events, 3)
	assert.Equal(t, EventOpened, events[0].Type)
	assert.Equal(t, EventMessage, events[1].Type)
	assert.Equal(t, payload, events[1].Data)
	assert.Equal(t, EventClosed, events[2].Type)
	assert.Equal(t, websocket.CloseNormalClosure, events[2].Code)
	assert.Equal(t, "bye", events[2].Reason)
}

func TestWebSocket_AbruptDisconnectErrors(t *testing.T) {
	srv := newFeedServer(t, func(conn *websocket.Conn, r *http.Request) {
		conn.UnderlyingConn().Close()
	})

	ws, err := DialWebSocket(context.Background(), WebSocketConfig{URL: wsURL(srv)})
	require.NoError(t, err)
	defer ws.Close()

	events := drain(t, ws.Events())
	require.Len(t, events, 3)
	assert.Equal(t, EventOpened, events[0].Type)
	assert.Equal(t, EventErrored, events[1].Type)
	assert.True(t, domain.IsRetriable(events[1].Err))
	assert.Equal(t, EventClosed, events[2].Type)
	assert.Equal(t, CloseAbnormal, events[2].Code)
}

func TestWebSocket_ClientCloseAndSend(t *testing.T) {
	received := make(chan []byte, 1)
	srv := newFeedServer(t, func(conn *websocket.Conn, r *http.Request) {
		_, msg, err := conn.ReadMessage()
		if err == nil {
			received <- msg
		}
		conn.ReadMessage()
	})

	ws, err := DialWebSocket(context.Background(), WebSocketConfig{URL: wsURL(srv)})
	require.NoError(t, err)

	require.NoError(t, ws.Send([]byte("hello")))
	select {
	case msg := <-received:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive message")
	}

	require.NoError(t, ws.Close())
	require.NoError(t, ws.Close())

	events := drain(t, ws.Events())
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventClosed, last.Type)
	assert.Equal(t, CloseNormal, last.Code)

	assert.ErrorIs(t, ws.Send([]byte("late")), domain.ErrTransportClosed)
}

func TestWebSocket_SignedHandshake(t *testing.T) {
	signer := NewSigner("key", "secret", "pass")
	verified := make(chan bool, 1)
	srv := newFeedServer(t, func(conn *websocket.Conn, r *http.Request) {
		verified <- signer.Verify(r.Header, http.MethodGet, r.URL.RequestURI()) && r.Header.Get("User-Agent") == "orderbook-test"
	})

	ws, err := DialWebSocket(context.Background(), WebSocketConfig{URL: wsURL(srv), Signer: signer, UserAgent: "orderbook-test"})
	require.NoError(t, err)
	defer ws.Close()

	select {
	case ok := <-verified:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("handshake not observed")
	}
}

func TestWebSocket_DialFailureIsRetriable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := DialWebSocket(context.Background(), WebSocketConfig{URL: wsURL(srv), HandshakeTimeout: time.Second})
	require.Error(t, err)
	assert.True(t, domain.IsRetriable(err))
}
