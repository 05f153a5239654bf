package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/dispatchradio/internal/dispatch/arbiter"
	"github.com/example/dispatchradio/internal/dispatch/domain"
	"github.com/example/dispatchradio/internal/dispatch/fanout"
	"github.com/example/dispatchradio/internal/dispatch/service"
)

type memSink struct {
	mu  sync.Mutex
	id  string
	got []fanout.Message
}

func (s *memSink) ID() string { return s.id }

func (s *memSink) Deliver(msg fanout.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, msg)
	return true
}

// wsPair returns both ends of a live WebSocket connection.
func wsPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- c
	}))
	t.Cleanup(srv.Close)

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = peer.Close() })

	select {
	case server := <-conns:
		t.Cleanup(func() { _ = server.Close() })
		return server, peer
	case <-time.After(3 * time.Second):
		t.Fatal("server side of the connection not accepted")
		return nil, nil
	}
}

func isClosed(c *wsClient) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestStalledListenerIsClosedWhenStateUpdateDoesNotFit(t *testing.T) {
	server, peer := wsPair(t)
	engine := service.New(fanout.NewHub(), nil, nil, nil, zap.NewNop())
	ctx := context.Background()

	talker := &memSink{id: "A"}
	engine.Connect(ctx, talker)

	// writeLoop is never started, so nothing leaves the queue
	listener := newWSClient("B", server, WSConfig{
		SendBuffer:   8,
		PingInterval: time.Second,
		WriteTimeout: time.Second,
	}, zap.NewNop())
	engine.Connect(ctx, listener)

	require.Equal(t, arbiter.Granted, engine.RequestChannel(ctx, service.ChannelRequest{ConnectionID: "A", Role: domain.RoleDriver}))
	for i := 0; i < 10; i++ {
		require.True(t, engine.RelayAudio("A", []byte{byte(i)}))
	}
	require.False(t, isClosed(listener), "overflowing audio only drops frames")

	require.True(t, engine.ReleaseChannel(ctx, "A"))
	require.True(t, isClosed(listener), "a lost channelHolderChanged must close the connection")
	require.False(t, listener.Deliver(fanout.Event(domain.EventChatMessage, nil)))

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := peer.ReadMessage()
	require.Error(t, err)

	listener.close()
}

func TestDeliverDropsAudioWhenQueueIsFull(t *testing.T) {
	server, _ := wsPair(t)
	c := newWSClient("B", server, WSConfig{SendBuffer: 1, PingInterval: time.Second, WriteTimeout: time.Second}, zap.NewNop())

	require.True(t, c.Deliver(fanout.Audio([]byte{1})))
	require.False(t, c.Deliver(fanout.Audio([]byte{2})))
	require.False(t, isClosed(c))

	require.False(t, c.Deliver(fanout.Event(domain.EventRosterUpdate, nil)))
	require.True(t, isClosed(c))
}
