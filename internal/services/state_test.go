package services

import (
	"testing"
	"time"

	"auction-live/internal/domain"
	"auction-live/internal/protocol"
	"auction-live/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSeededState(t *testing.T, opts StateSyncOptions) (*StateSync, *Dispatcher) {
	t.Helper()
	dispatcher := NewDispatcher(logger.NewNop())
	state := NewStateSync(dispatcher, DefaultIncrements(), opts, logger.NewNop())
	t.Cleanup(state.Close)

	state.Seed(&domain.Auction{
		ID:     "a1",
		SiteID: "s1",
		Status: domain.AuctionLive,
		Lots: []domain.Lot{
			{ID: "lot-1", StartingBid: 100, BidIncrement: 5},
			{ID: "lot-2", StartingBid: 250},
		},
		EndTime: time.Now().Add(time.Hour),
	})
	return state, dispatcher
}

func fireBid(d *Dispatcher, lotID string, amount float64, bidderID string) {
	d.Dispatch(&protocol.Message{
		Kind: protocol.KindBidPlaced,
		Payload: &protocol.BidPlaced{
			AuctionID: "a1",
			LotID:     lotID,
			Amount:    amount,
			BidderID:  bidderID,
			Timestamp: time.Now(),
		},
	})
}

func TestHighBidIsMonotonic(t *testing.T) {
	state, dispatcher := newSeededState(t, StateSyncOptions{})

	fireBid(dispatcher, "lot-1", 100, "alice")
	fireBid(dispatcher, "lot-1", 105, "bob")
	// Lower and equal amounts are out-of-order deliveries; both ignored.
	fireBid(dispatcher, "lot-1", 103, "carol")
	fireBid(dispatcher, "lot-1", 105, "carol")

	snap, ok := state.Snapshot("a1")
	require.True(t, ok)
	require.NotNil(t, snap.HighBid)
	assert.Equal(t, 105.0, snap.HighBid.Amount)
	assert.Equal(t, "bob", snap.HighBid.BidderID)
	assert.Len(t, snap.BidHistory, 2)
	assert.Equal(t, 105.0, snap.BidHistory[0].Amount, "history is most-recent-first")
}

func TestHistoryIsCapped(t *testing.T) {
	state, dispatcher := newSeededState(t, StateSyncOptions{})

	for i := 0; i < historyCap+10; i++ {
		fireBid(dispatcher, "lot-1", 100+float64(i*5), "alice")
	}

	snap, _ := state.Snapshot("a1")
	assert.Len(t, snap.BidHistory, historyCap)
}

func TestOutbidRaisesAndAutoClears(t *testing.T) {
	var notified int
	state, dispatcher := newSeededState(t, StateSyncOptions{
		LocalBidderID: "alice",
		OutbidDisplay: 30 * time.Millisecond,
		OnOutbid:      func(auctionID, lotID string) { notified++ },
	})

	fireBid(dispatcher, "lot-1", 100, "alice")
	assert.False(t, state.OutbidActive("a1"))

	fireBid(dispatcher, "lot-1", 105, "bob")
	assert.True(t, state.OutbidActive("a1"))
	assert.Equal(t, 1, notified)

	assert.Eventually(t, func() bool { return !state.OutbidActive("a1") },
		time.Second, 5*time.Millisecond, "notification auto-clears")
}

func TestItemChangeAdvancesLotAndClearsHistory(t *testing.T) {
	state, dispatcher := newSeededState(t, StateSyncOptions{LocalBidderID: "alice"})

	fireBid(dispatcher, "lot-1", 100, "alice")
	fireBid(dispatcher, "lot-1", 105, "bob")
	require.True(t, state.OutbidActive("a1"))

	dispatcher.Dispatch(&protocol.Message{
		Kind: protocol.KindItemChanged,
		Payload: &protocol.ItemChanged{
			AuctionID: "a1",
			LotIndex:  1,
			Lot:       domain.Lot{ID: "lot-2", StartingBid: 250},
		},
	})

	snap, _ := state.Snapshot("a1")
	assert.Equal(t, 1, snap.CurrentLotIndex)
	assert.Nil(t, snap.HighBid)
	assert.Empty(t, snap.BidHistory)
	assert.False(t, state.OutbidActive("a1"))
}

func TestEndedIsTerminal(t *testing.T) {
	state, dispatcher := newSeededState(t, StateSyncOptions{})

	dispatcher.Dispatch(&protocol.Message{
		Kind:    protocol.KindAuctionEnded,
		Payload: &protocol.AuctionEnded{AuctionID: "a1"},
	})
	dispatcher.Dispatch(&protocol.Message{
		Kind:    protocol.KindStatusChanged,
		Payload: &protocol.StatusChanged{AuctionID: "a1", Status: "live"},
	})

	snap, _ := state.Snapshot("a1")
	assert.Equal(t, domain.AuctionEnded, snap.Status)
}

func TestStatusPauseAndResume(t *testing.T) {
	state, dispatcher := newSeededState(t, StateSyncOptions{})

	dispatcher.Dispatch(&protocol.Message{
		Kind:    protocol.KindStatusChanged,
		Payload: &protocol.StatusChanged{AuctionID: "a1", Status: "paused"},
	})
	snap, _ := state.Snapshot("a1")
	assert.Equal(t, domain.AuctionPaused, snap.Status)

	dispatcher.Dispatch(&protocol.Message{
		Kind:    protocol.KindStatusChanged,
		Payload: &protocol.StatusChanged{AuctionID: "a1", Status: "live"},
	})
	snap, _ = state.Snapshot("a1")
	assert.Equal(t, domain.AuctionLive, snap.Status)
}

func TestConnectedCountsAreAdvisory(t *testing.T) {
	state, dispatcher := newSeededState(t, StateSyncOptions{})

	dispatcher.Dispatch(&protocol.Message{
		Kind:    protocol.KindConnectedUsers,
		Payload: &protocol.ConnectedUsers{AuctionID: "a1", Bidders: 7, Observers: 2},
	})

	snap, _ := state.Snapshot("a1")
	assert.Equal(t, 7, snap.Bidders)
	assert.Equal(t, 2, snap.Observers)
}

func TestMinimumBid(t *testing.T) {
	state, dispatcher := newSeededState(t, StateSyncOptions{})

	// No bid yet: the lot's starting bid.
	minimum, err := state.MinimumBid("a1", "lot-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, minimum)

	// Lot-level increment override.
	fireBid(dispatcher, "lot-1", 100, "alice")
	minimum, err = state.MinimumBid("a1", "lot-1")
	require.NoError(t, err)
	assert.Equal(t, 105.0, minimum)

	// Tiered table when the lot has no explicit increment.
	fireBid(dispatcher, "lot-2", 250, "alice")
	minimum, err = state.MinimumBid("a1", "lot-2")
	require.NoError(t, err)
	assert.Equal(t, 260.0, minimum)

	_, err = state.MinimumBid("a1", "nope")
	assert.ErrorIs(t, err, domain.ErrUnknownLot)
	_, err = state.MinimumBid("nope", "lot-1")
	assert.ErrorIs(t, err, domain.ErrUnknownAuction)
}

func TestDiscardDropsViewAndIgnoresLateEvents(t *testing.T) {
	state, dispatcher := newSeededState(t, StateSyncOptions{})

	fireBid(dispatcher, "lot-1", 100, "alice")
	state.Discard("a1")

	_, ok := state.Snapshot("a1")
	assert.False(t, ok)

	// A late broadcast for the discarded auction must not resurrect it.
	fireBid(dispatcher, "lot-1", 105, "bob")
	_, ok = state.Snapshot("a1")
	assert.False(t, ok)
}

func TestRemainingNeverNegative(t *testing.T) {
	dispatcher := NewDispatcher(logger.NewNop())
	state := NewStateSync(dispatcher, DefaultIncrements(), StateSyncOptions{}, logger.NewNop())
	t.Cleanup(state.Close)

	state.Seed(&domain.Auction{
		ID:      "a1",
		Status:  domain.AuctionLive,
		Lots:    []domain.Lot{{ID: "lot-1", StartingBid: 10}},
		EndTime: time.Now().Add(-time.Minute),
	})

	assert.Equal(t, time.Duration(0), state.Remaining("a1"))
	snap, _ := state.Snapshot("a1")
	assert.Equal(t, domain.AuctionLive, snap.Status,
		"an expired countdown never flips the authoritative status")
}
