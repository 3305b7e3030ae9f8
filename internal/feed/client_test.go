package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pushServer 每个连接发送固定的消息序列后保持连接
func pushServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClient_ReceivesEvents(t *testing.T) {
	srv := pushServer(t,
		`{"type":"odds","broker":"pin","odds":[1.8,2.0]}`,
		`garbage`,
		`{"type":"heartbeat"}`,
		`{"type":"ds-connected","connected":true}`,
	)
	c := NewClient(Config{URL: wsURL(srv)}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	go func() { _ = c.Run(ctx) }()

	var got []*Event
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-c.EventCh():
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("只收到 %d 个事件", len(got))
		}
	}
	assert.Equal(t, KindOdds, got[0].Kind)
	assert.Equal(t, "pin", got[0].Record.Source)
	assert.Equal(t, KindDsConnected, got[1].Kind)

	m := c.Metrics()
	assert.True(t, m.Connected)
	assert.Equal(t, int64(4), m.Messages)
	assert.Equal(t, int64(1), m.ParseErrors)
}

func TestClient_ReconnectsAfterServerClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	conns := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		select {
		case conns <- struct{}{}:
		default:
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"broker-closed","id":"x"}`))
		_ = conn.Close()
	}))
	defer srv.Close()

	c := NewClient(Config{URL: wsURL(srv), ReconnectBaseMs: 10, ReconnectMaxMs: 20}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	go func() { _ = c.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-conns:
		case <-time.After(2 * time.Second):
			t.Fatalf("第 %d 次连接未发生", i+1)
		}
	}
	assert.Eventually(t, func() bool { return c.Metrics().Reconnects >= 1 }, time.Second, 10*time.Millisecond)
}

func TestClient_ConnectFails(t *testing.T) {
	c := NewClient(Config{URL: "ws://127.0.0.1:1"}, nil)
	assert.Error(t, c.Connect(context.Background()))
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}
