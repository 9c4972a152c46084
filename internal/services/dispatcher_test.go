package services

import (
	"testing"

	"auction-live/internal/protocol"
	"auction-live/pkg/logger"

	"github.com/stretchr/testify/assert"
)

func statusMsg(auctionID, status string) *protocol.Message {
	return &protocol.Message{
		Kind:    protocol.KindStatusChanged,
		Payload: &protocol.StatusChanged{AuctionID: auctionID, Status: status},
	}
}

func TestDispatcherDeliversInRegistrationOrder(t *testing.T) {
	d := NewDispatcher(logger.NewNop())

	var order []int
	d.On(protocol.KindStatusChanged, func(*protocol.Message) { order = append(order, 1) })
	d.On(protocol.KindStatusChanged, func(*protocol.Message) { order = append(order, 2) })
	d.On(protocol.KindStatusChanged, func(*protocol.Message) { order = append(order, 3) })

	d.Dispatch(statusMsg("a1", "live"))
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestDispatcherPanicDoesNotBlockLaterHandlers(t *testing.T) {
	d := NewDispatcher(logger.NewNop())

	var reached bool
	d.On(protocol.KindStatusChanged, func(*protocol.Message) { panic("boom") })
	d.On(protocol.KindStatusChanged, func(*protocol.Message) { reached = true })

	d.Dispatch(statusMsg("a1", "live"))
	assert.True(t, reached)
}

func TestDispatcherUnsubscribeIsIdempotent(t *testing.T) {
	d := NewDispatcher(logger.NewNop())

	var calls int
	unsub := d.On(protocol.KindStatusChanged, func(*protocol.Message) { calls++ })
	other := d.On(protocol.KindStatusChanged, func(*protocol.Message) { calls += 10 })

	unsub()
	unsub() // second call is a no-op, must not disturb the other handler
	d.Dispatch(statusMsg("a1", "live"))
	assert.Equal(t, 10, calls)

	other()
	d.Dispatch(statusMsg("a1", "live"))
	assert.Equal(t, 10, calls)
}

func TestDispatcherIgnoresUnrelatedKinds(t *testing.T) {
	d := NewDispatcher(logger.NewNop())

	var calls int
	d.On(protocol.KindBidPlaced, func(*protocol.Message) { calls++ })

	d.Dispatch(statusMsg("a1", "live"))
	assert.Zero(t, calls)
}
