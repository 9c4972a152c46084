package services

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

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// stubGateway serves one canned auction detail without a REST server.
type stubGateway struct {
	auction domain.Auction
}

func (g *stubGateway) FetchAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	a := g.auction
	return &a, nil
}

func (g *stubGateway) UpdateStatus(ctx context.Context, auctionID string, status domain.AuctionStatus) error {
	return nil
}

// The first connection confirms the join, then dies on receiving a bid.
// The in-flight intent must be rejected at drop time with
// ErrConnectionLost: the reconnected session is a new server-side session,
// so a reply for the old correlation id can never arrive.
func TestDropCancelsInFlightBid(t *testing.T) {
	var conns int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		first := atomic.AddInt32(&conns, 1) == 1

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, decErr := protocol.DecodeClientMessage(raw)
			if decErr != nil {
				continue
			}
			switch msg.Kind {
			case protocol.KindJoinAuction:
				ack, _ := protocol.Encode(protocol.KindJoinedAuction,
					&protocol.JoinedAuction{AuctionID: msg.Payload.(*protocol.JoinAuction).AuctionID})
				conn.WriteMessage(websocket.TextMessage, ack)
			case protocol.KindBidPlace:
				if first {
					return // die mid-request; the reply never comes
				}
			}
		}
	}))
	defer srv.Close()

	gateway := &stubGateway{auction: domain.Auction{
		ID:      "demo",
		Status:  domain.AuctionLive,
		Lots:    []domain.Lot{{ID: "lot-1", StartingBid: 100, BidIncrement: 5}},
		EndTime: time.Now().Add(time.Hour),
	}}
	client := NewClient(ClientOptions{
		SocketURL:         "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Token:             "alice",
		BidderID:          "alice",
		ReconnectAttempts: 3,
		ReconnectMinDelay: time.Millisecond,
		ReconnectMaxDelay: 5 * time.Millisecond,
		ConfirmTimeout:    5 * time.Second,
	}, gateway, logger.NewNop())
	t.Cleanup(client.Close)

	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.JoinAuction(context.Background(), "demo"))
	require.Eventually(t, func() bool { return client.AuctionRoomConfirmed("demo") },
		2*time.Second, 5*time.Millisecond)

	start := time.Now()
	_, err := client.Bids().PlaceBid(context.Background(), "demo", "lot-1", 100)
	assert.ErrorIs(t, err, domain.ErrConnectionLost)
	assert.Less(t, time.Since(start), 3*time.Second,
		"rejected at drop time, not by the confirmation timeout")

	// The session reconnects and the desk is usable again.
	require.Eventually(t, func() bool { return client.AuctionRoomConfirmed("demo") },
		2*time.Second, 5*time.Millisecond)
}
