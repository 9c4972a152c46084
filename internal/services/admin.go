package services

import (
	"fmt"

	"auction-live/internal/domain"
	"auction-live/internal/protocol"
	"auction-live/pkg/logger"
)

// Podium is the auctioneer's command channel. Commands are fire-and-forget
// at the transport level: success is observed through the status-changed
// and item-changed events the synchronizer already consumes, so a caller
// confirms effect the same way every other client does.
type Podium struct {
	transport Transport
	rooms     *RoomManager
	log       logger.Logger
}

func NewPodium(transport Transport, rooms *RoomManager, log logger.Logger) *Podium {
	return &Podium{transport: transport, rooms: rooms, log: log}
}

func (p *Podium) Start(auctionID string) error {
	return p.control(protocol.KindAuctionStart, auctionID)
}

func (p *Podium) Pause(auctionID string) error {
	return p.control(protocol.KindAuctionPause, auctionID)
}

// End is irreversible; any confirmation step belongs to the caller.
func (p *Podium) End(auctionID string) error {
	return p.control(protocol.KindAuctionEnd, auctionID)
}

func (p *Podium) AdvanceItem(auctionID, lotID string) error {
	if err := p.gate(auctionID); err != nil {
		return err
	}
	p.log.Info("Advancing item", "auction_id", auctionID, "lot_id", lotID)
	return p.transport.Send(protocol.KindNextItem, &protocol.NextItem{
		AuctionID: auctionID,
		LotID:     lotID,
	})
}

func (p *Podium) Broadcast(auctionID, message string) error {
	if err := p.gate(auctionID); err != nil {
		return err
	}
	return p.transport.Send(protocol.KindAdminBroadcast, &protocol.AdminBroadcast{
		AuctionID: auctionID,
		Message:   message,
	})
}

func (p *Podium) control(kind protocol.Kind, auctionID string) error {
	if err := p.gate(auctionID); err != nil {
		return err
	}
	p.log.Info("Issuing auction command", "command", kind, "auction_id", auctionID)
	return p.transport.Send(kind, &protocol.AuctionControl{AuctionID: auctionID})
}

// gate fails fast rather than letting a command be silently dropped while
// the session is down or the room unconfirmed.
func (p *Podium) gate(auctionID string) error {
	if p.transport.Status() != domain.SessionOpen {
		return domain.ErrNotConnected
	}
	if !p.rooms.Confirmed(domain.ScopeAuction, auctionID) {
		return fmt.Errorf("%w: auction room not confirmed", domain.ErrNotConnected)
	}
	return nil
}
