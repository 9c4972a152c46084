package simulator

import (
	"fmt"
	"sync"
	"time"

	"auction-live/internal/domain"
	"auction-live/internal/protocol"
	"auction-live/pkg/logger"

	"github.com/gorilla/websocket"
)

// Credentials is what the simulator derives from a bearer token.
type Credentials struct {
	BidderID string
	Admin    bool
}

type client struct {
	conn    *websocket.Conn
	creds   Credentials
	writeMu sync.Mutex
}

func (c *client) send(kind protocol.Kind, payload interface{}) error {
	data, err := protocol.Encode(kind, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

type lotLedger struct {
	high *domain.BidRecord
}

type liveAuction struct {
	detail        domain.Auction
	ledgers       map[string]*lotLedger
	bidderNumbers map[string]int
}

func (a *liveAuction) bidderNumber(bidderID string) int {
	if n, ok := a.bidderNumbers[bidderID]; ok {
		return n
	}
	n := len(a.bidderNumbers) + 1
	a.bidderNumbers[bidderID] = n
	return n
}

// hub holds the rooms and auction runtime state. Room keys are
// "site:{id}" / "auction:{id}".
type hub struct {
	log        logger.Logger
	increments *increments

	mu       sync.Mutex
	auctions map[string]*liveAuction
	rooms    map[string]map[*client]bool
}

func newHub(log logger.Logger) *hub {
	return &hub{
		log:        log,
		increments: defaultIncrements(),
		auctions:   make(map[string]*liveAuction),
		rooms:      make(map[string]map[*client]bool),
	}
}

func roomKey(scope domain.RoomScope, id string) string {
	return string(scope) + ":" + id
}

func (h *hub) addAuction(detail domain.Auction) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.auctions[detail.ID] = &liveAuction{
		detail:        detail,
		ledgers:       make(map[string]*lotLedger),
		bidderNumbers: make(map[string]int),
	}
}

func (h *hub) auctionDetail(auctionID string) (domain.Auction, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.auctions[auctionID]
	if !ok {
		return domain.Auction{}, false
	}
	detail := a.detail
	detail.StatusName = detail.Status.String()
	return detail, true
}

func (h *hub) join(c *client, scope domain.RoomScope, id string) {
	key := roomKey(scope, id)
	h.mu.Lock()
	if h.rooms[key] == nil {
		h.rooms[key] = make(map[*client]bool)
	}
	h.rooms[key][c] = true
	h.mu.Unlock()

	switch scope {
	case domain.ScopeSite:
		c.send(protocol.KindJoinedSite, &protocol.JoinedSite{SiteID: id})
	case domain.ScopeAuction:
		c.send(protocol.KindJoinedAuction, &protocol.JoinedAuction{AuctionID: id})
	}
}

func (h *hub) leave(c *client, scope domain.RoomScope, id string) {
	key := roomKey(scope, id)
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[key]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, key)
		}
	}
}

func (h *hub) dropClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, key)
		}
	}
}

func (h *hub) members(scope domain.RoomScope, id string) []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*client
	for c := range h.rooms[roomKey(scope, id)] {
		out = append(out, c)
	}
	return out
}

func (h *hub) broadcast(auctionID string, kind protocol.Kind, payload interface{}) {
	for _, member := range h.members(domain.ScopeAuction, auctionID) {
		if err := member.send(kind, payload); err != nil {
			h.log.Warn("Broadcast send failed", "auction_id", auctionID, "error", err)
		}
	}
}

// placeBid validates a bid against the auction runtime and, when
// accepted, confirms it to the bidder, broadcasts it to the room, and
// notifies the previous high bidder.
func (h *hub) placeBid(c *client, auctionID, lotID, correlationID string, amount float64, quick bool) {
	h.mu.Lock()
	a, ok := h.auctions[auctionID]
	if !ok {
		h.mu.Unlock()
		h.rejectBid(c, auctionID, lotID, correlationID, "unknown_auction", "auction not found")
		return
	}
	if a.detail.Status != domain.AuctionLive {
		h.mu.Unlock()
		h.rejectBid(c, auctionID, lotID, correlationID, "auction_not_live",
			fmt.Sprintf("auction is %s", a.detail.Status))
		return
	}

	lot, ok := findLot(a.detail.Lots, lotID)
	if !ok {
		h.mu.Unlock()
		h.rejectBid(c, auctionID, lotID, correlationID, "unknown_lot", "lot not found")
		return
	}
	if current, _ := currentLot(a.detail); current.ID != lotID {
		h.mu.Unlock()
		h.rejectBid(c, auctionID, lotID, correlationID, "lot_not_active", "lot is not open for bidding")
		return
	}

	ledger := a.ledgers[lotID]
	if ledger == nil {
		ledger = &lotLedger{}
		a.ledgers[lotID] = ledger
	}

	minimum := h.increments.minimumBid(lot, ledger.high)
	if quick {
		amount = minimum
	}
	if amount < minimum {
		h.mu.Unlock()
		h.rejectBid(c, auctionID, lotID, correlationID, "bid_too_low",
			fmt.Sprintf("minimum bid is %.2f", minimum))
		return
	}

	previous := ledger.high
	record := domain.BidRecord{
		AuctionID:    auctionID,
		LotID:        lotID,
		Amount:       amount,
		BidderID:     c.creds.BidderID,
		BidderNumber: a.bidderNumber(c.creds.BidderID),
		Timestamp:    time.Now(),
	}
	ledger.high = &record
	h.mu.Unlock()

	if correlationID != "" {
		c.send(protocol.KindBidConfirmed, &protocol.BidConfirmed{
			CorrelationID: correlationID,
			AuctionID:     record.AuctionID,
			LotID:         record.LotID,
			Amount:        record.Amount,
			BidderID:      record.BidderID,
			BidderNumber:  record.BidderNumber,
			Timestamp:     record.Timestamp,
		})
	}

	h.broadcast(auctionID, protocol.KindBidPlaced, &protocol.BidPlaced{
		AuctionID:    record.AuctionID,
		LotID:        record.LotID,
		Amount:       record.Amount,
		BidderID:     record.BidderID,
		BidderNumber: record.BidderNumber,
		Timestamp:    record.Timestamp,
	})

	if previous != nil && previous.BidderID != record.BidderID {
		for _, member := range h.members(domain.ScopeAuction, auctionID) {
			if member.creds.BidderID == previous.BidderID {
				member.send(protocol.KindBidOutbid, &protocol.BidOutbid{
					AuctionID:        auctionID,
					LotID:            lotID,
					PreviousBidderID: previous.BidderID,
					Amount:           record.Amount,
				})
			}
		}
	}
}

func (h *hub) rejectBid(c *client, auctionID, lotID, correlationID, code, message string) {
	if correlationID == "" {
		return
	}
	c.send(protocol.KindBidError, &protocol.BidError{
		CorrelationID: correlationID,
		AuctionID:     auctionID,
		LotID:         lotID,
		Code:          code,
		Message:       message,
	})
}

// setStatus applies a status change and broadcasts it. Returns false for
// an unknown auction or a transition out of ended.
func (h *hub) setStatus(auctionID string, status domain.AuctionStatus) bool {
	h.mu.Lock()
	a, ok := h.auctions[auctionID]
	if !ok || a.detail.Status == domain.AuctionEnded {
		h.mu.Unlock()
		return false
	}
	a.detail.Status = status
	h.mu.Unlock()

	h.broadcast(auctionID, protocol.KindStatusChanged, &protocol.StatusChanged{
		AuctionID: auctionID,
		Status:    status.String(),
	})
	switch status {
	case domain.AuctionLive:
		h.broadcast(auctionID, protocol.KindAuctionStarted, &protocol.AuctionStarted{AuctionID: auctionID})
	case domain.AuctionEnded:
		h.broadcast(auctionID, protocol.KindAuctionEnded, &protocol.AuctionEnded{AuctionID: auctionID})
	}
	return true
}

func (h *hub) advanceItem(auctionID, lotID string) bool {
	h.mu.Lock()
	a, ok := h.auctions[auctionID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	index := -1
	var lot domain.Lot
	for i, candidate := range a.detail.Lots {
		if candidate.ID == lotID {
			index, lot = i, candidate
			break
		}
	}
	if index < 0 {
		h.mu.Unlock()
		return false
	}
	a.detail.CurrentLotIndex = index
	h.mu.Unlock()

	h.broadcast(auctionID, protocol.KindItemChanged, &protocol.ItemChanged{
		AuctionID: auctionID,
		LotIndex:  index,
		Lot:       lot,
	})
	return true
}

// sweep moves scheduled auctions past their start time to live and ends
// live ones past their end time. Driven by the cron sweeper.
func (h *hub) sweep(now time.Time) {
	h.mu.Lock()
	var toStart, toEnd []string
	for id, a := range h.auctions {
		switch a.detail.Status {
		case domain.AuctionScheduled:
			if !a.detail.StartTime.IsZero() && !now.Before(a.detail.StartTime) {
				toStart = append(toStart, id)
			}
		case domain.AuctionLive:
			if !a.detail.EndTime.IsZero() && !now.Before(a.detail.EndTime) {
				toEnd = append(toEnd, id)
			}
		}
	}
	h.mu.Unlock()

	for _, id := range toStart {
		h.log.Info("Sweeper starting auction", "auction_id", id)
		h.setStatus(id, domain.AuctionLive)
	}
	for _, id := range toEnd {
		h.log.Info("Sweeper ending auction", "auction_id", id)
		h.setStatus(id, domain.AuctionEnded)
	}
}

// publishCounts pushes advisory connected-user telemetry per auction.
func (h *hub) publishCounts() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.auctions))
	for id := range h.auctions {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		var bidders, observers int
		for _, member := range h.members(domain.ScopeAuction, id) {
			if member.creds.Admin {
				observers++
			} else {
				bidders++
			}
		}
		if bidders+observers == 0 {
			continue
		}
		h.broadcast(id, protocol.KindConnectedUsers, &protocol.ConnectedUsers{
			AuctionID: id,
			Bidders:   bidders,
			Observers: observers,
		})
	}
}

func findLot(lots []domain.Lot, lotID string) (domain.Lot, bool) {
	for _, lot := range lots {
		if lot.ID == lotID {
			return lot, true
		}
	}
	return domain.Lot{}, false
}

func currentLot(detail domain.Auction) (domain.Lot, bool) {
	if detail.CurrentLotIndex < 0 || detail.CurrentLotIndex >= len(detail.Lots) {
		return domain.Lot{}, false
	}
	return detail.Lots[detail.CurrentLotIndex], true
}

// increments mirrors the tiered rules the server side enforces.
type increments struct {
	rules map[string]float64
}

func defaultIncrements() *increments {
	return &increments{
		rules: map[string]float64{
			"0-100":   5.0,
			"100-500": 10.0,
			"500+":    25.0,
		},
	}
}

func (t *increments) increment(amount float64) float64 {
	if amount < 100 {
		return t.rules["0-100"]
	} else if amount < 500 {
		return t.rules["100-500"]
	} else {
		return t.rules["500+"]
	}
}

func (t *increments) minimumBid(lot domain.Lot, high *domain.BidRecord) float64 {
	if high == nil {
		return lot.StartingBid
	}
	if lot.BidIncrement > 0 {
		return high.Amount + lot.BidIncrement
	}
	return high.Amount + t.increment(high.Amount)
}
