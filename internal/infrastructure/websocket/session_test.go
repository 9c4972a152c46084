package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"auction-live/internal/domain"
	"auction-live/internal/protocol"
	"auction-live/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func fastOptions(url string) Options {
	return Options{
		URL:               url,
		Token:             "alice-token",
		ReconnectAttempts: 3,
		MinDelay:          time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		HandshakeTimeout:  time.Second,
	}
}

func TestConnectSendsBearerTokenAndDeliversFrames(t *testing.T) {
	authHeader := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		frame, _ := protocol.Encode(protocol.KindStatusChanged,
			&protocol.StatusChanged{AuctionID: "a1", Status: "live"})
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

		// Hold the connection until the client hangs up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	received := make(chan *protocol.Message, 1)
	session := NewSession(fastOptions(wsURL(srv)), Hooks{
		OnMessage: func(msg *protocol.Message) { received <- msg },
	}, logger.NewNop())

	require.NoError(t, session.Connect(context.Background()))
	defer session.Disconnect()
	assert.Equal(t, domain.SessionOpen, session.Status())
	assert.Equal(t, "Bearer alice-token", <-authHeader)

	select {
	case msg := <-received:
		require.Equal(t, protocol.KindStatusChanged, msg.Kind)
		assert.Equal(t, "a1", msg.Payload.(*protocol.StatusChanged).AuctionID)
	case <-time.After(time.Second):
		t.Fatal("frame was not delivered")
	}
}

func TestSessionReconnectsAfterServerDrop(t *testing.T) {
	var conns int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		if atomic.AddInt32(&conns, 1) == 1 {
			// First connection dies immediately to force a reconnect.
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	opens := make(chan struct{}, 4)
	drops := make(chan struct{}, 4)
	session := NewSession(fastOptions(wsURL(srv)), Hooks{
		OnOpen: func() { opens <- struct{}{} },
		OnDrop: func() { drops <- struct{}{} },
	}, logger.NewNop())

	require.NoError(t, session.Connect(context.Background()))
	defer session.Disconnect()
	<-opens

	select {
	case <-drops:
	case <-time.After(time.Second):
		t.Fatal("drop was not observed")
	}
	select {
	case <-opens:
	case <-time.After(time.Second):
		t.Fatal("session did not reopen")
	}
	assert.Equal(t, domain.SessionOpen, session.Status())
}

func TestSendAfterDisconnectFailsFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	var closedTerminal atomic.Bool
	closed := make(chan struct{})
	session := NewSession(fastOptions(wsURL(srv)), Hooks{
		OnClosed: func(terminal bool, err error) {
			closedTerminal.Store(terminal)
			close(closed)
		},
	}, logger.NewNop())

	require.NoError(t, session.Connect(context.Background()))
	require.NoError(t, session.Send(protocol.KindJoinSite, &protocol.JoinSite{SiteID: "s1"}))

	session.Disconnect()
	<-closed
	assert.False(t, closedTerminal.Load(), "an explicit disconnect is not terminal")
	assert.Equal(t, domain.SessionClosed, session.Status())
	assert.ErrorIs(t,
		session.Send(protocol.KindJoinSite, &protocol.JoinSite{SiteID: "s1"}),
		domain.ErrNotConnected)
}

func TestConnectExhaustsRetryBudget(t *testing.T) {
	var closedCalls int32
	terminal := make(chan bool, 1)
	session := NewSession(fastOptions("ws://127.0.0.1:1/ws"), Hooks{
		OnClosed: func(isTerminal bool, err error) {
			atomic.AddInt32(&closedCalls, 1)
			terminal <- isTerminal
		},
	}, logger.NewNop())

	err := session.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSessionTerminal)
	assert.Equal(t, domain.SessionClosed, session.Status())
	assert.True(t, <-terminal)
	assert.Equal(t, int32(1), atomic.LoadInt32(&closedCalls))

	// Disconnect after a terminal failure must not fire OnClosed again.
	session.Disconnect()
	assert.Equal(t, int32(1), atomic.LoadInt32(&closedCalls))
}

func TestConnectHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := fastOptions("ws://127.0.0.1:1/ws")
	opts.MinDelay = time.Minute // would stall without the context check
	session := NewSession(opts, Hooks{}, logger.NewNop())

	err := session.Connect(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
