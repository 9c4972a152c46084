package services

import (
	"sync"
	"time"

	"auction-live/internal/domain"
	"auction-live/internal/protocol"
	"auction-live/pkg/logger"
)

// historyCap bounds the retained bid history per lot, most-recent-first.
const historyCap = 20

type lotBids struct {
	high    *domain.BidRecord
	history []domain.BidRecord
}

type auctionState struct {
	auctionID  string
	status     domain.AuctionStatus
	lots       []domain.Lot
	currentLot int
	endTime    time.Time
	bidders    int
	observers  int

	lotBids map[string]*lotBids

	countdownExpired bool
	outbid           bool
	outbidTimer      *time.Timer
	stopCountdown    chan struct{}
}

type StateSyncOptions struct {
	// LocalBidderID identifies this client for outbid detection.
	LocalBidderID string
	// OutbidDisplay is how long the outbid notification stays raised.
	OutbidDisplay time.Duration
	// OnAdminMessage receives auctioneer broadcast messages.
	OnAdminMessage func(auctionID, message string)
	// OnOutbid fires when the local client's leading bid is superseded.
	OnOutbid func(auctionID, lotID string)
}

// StateSync maintains the authoritative local view of each joined
// auction, reconciled from the initial REST snapshot and the live event
// stream. Events apply in delivery order; embedded timestamps are display
// metadata and never drive sequencing.
type StateSync struct {
	opts       StateSyncOptions
	increments *IncrementTable
	log        logger.Logger

	mu       sync.Mutex
	auctions map[string]*auctionState

	unsubs []func()
}

func NewStateSync(dispatcher *Dispatcher, increments *IncrementTable, opts StateSyncOptions, log logger.Logger) *StateSync {
	if opts.OutbidDisplay == 0 {
		opts.OutbidDisplay = 5 * time.Second
	}
	ss := &StateSync{
		opts:       opts,
		increments: increments,
		log:        log,
		auctions:   make(map[string]*auctionState),
	}
	ss.unsubs = append(ss.unsubs,
		dispatcher.On(protocol.KindBidPlaced, func(msg *protocol.Message) {
			ss.applyBid(msg.Payload.(*protocol.BidPlaced).Record())
		}),
		dispatcher.On(protocol.KindStatusChanged, func(msg *protocol.Message) {
			p := msg.Payload.(*protocol.StatusChanged)
			status, ok := domain.ParseAuctionStatus(p.Status)
			if !ok {
				ss.log.Warn("Unknown auction status", "auction_id", p.AuctionID, "status", p.Status)
				return
			}
			ss.applyStatus(p.AuctionID, status)
		}),
		dispatcher.On(protocol.KindAuctionStarted, func(msg *protocol.Message) {
			ss.applyStatus(msg.Payload.(*protocol.AuctionStarted).AuctionID, domain.AuctionLive)
		}),
		dispatcher.On(protocol.KindAuctionEnded, func(msg *protocol.Message) {
			ss.applyStatus(msg.Payload.(*protocol.AuctionEnded).AuctionID, domain.AuctionEnded)
		}),
		dispatcher.On(protocol.KindItemChanged, func(msg *protocol.Message) {
			p := msg.Payload.(*protocol.ItemChanged)
			ss.applyItemChange(p.AuctionID, p.LotIndex, p.Lot)
		}),
		dispatcher.On(protocol.KindConnectedUsers, func(msg *protocol.Message) {
			p := msg.Payload.(*protocol.ConnectedUsers)
			ss.applyCounts(p.AuctionID, p.Bidders, p.Observers)
		}),
		dispatcher.On(protocol.KindBidOutbid, func(msg *protocol.Message) {
			p := msg.Payload.(*protocol.BidOutbid)
			if p.PreviousBidderID == ss.opts.LocalBidderID {
				ss.raiseOutbid(p.AuctionID, p.LotID)
			}
		}),
		dispatcher.On(protocol.KindAdminMessage, func(msg *protocol.Message) {
			p := msg.Payload.(*protocol.AdminMessage)
			if ss.opts.OnAdminMessage != nil {
				ss.opts.OnAdminMessage(p.AuctionID, p.Message)
			}
		}),
	)
	return ss
}

// Seed installs the REST detail as the initial view for an auction.
// Subsequent mutations come only from dispatcher events.
func (ss *StateSync) Seed(auction *domain.Auction) {
	status := auction.Status
	if name := auction.StatusName; name != "" {
		if parsed, ok := domain.ParseAuctionStatus(name); ok {
			status = parsed
		}
	}

	lots := make([]domain.Lot, len(auction.Lots))
	copy(lots, auction.Lots)

	st := &auctionState{
		auctionID:     auction.ID,
		status:        status,
		lots:          lots,
		currentLot:    auction.CurrentLotIndex,
		endTime:       auction.EndTime,
		lotBids:       make(map[string]*lotBids),
		stopCountdown: make(chan struct{}),
	}

	ss.mu.Lock()
	if prev, exists := ss.auctions[auction.ID]; exists {
		prev.teardownLocked()
	}
	ss.auctions[auction.ID] = st
	ss.mu.Unlock()

	go ss.countdown(auction.ID, st.stopCountdown)
}

// Discard drops the auction view. Called when its room is left.
func (ss *StateSync) Discard(auctionID string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if st, exists := ss.auctions[auctionID]; exists {
		st.teardownLocked()
		delete(ss.auctions, auctionID)
	}
}

// Close releases subscriptions and every auction view.
func (ss *StateSync) Close() {
	for _, unsub := range ss.unsubs {
		unsub()
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for id, st := range ss.auctions {
		st.teardownLocked()
		delete(ss.auctions, id)
	}
}

// Snapshot returns a copy of the auction view scoped to the current lot.
func (ss *StateSync) Snapshot(auctionID string) (*domain.AuctionSnapshot, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	st, exists := ss.auctions[auctionID]
	if !exists {
		return nil, false
	}

	snap := &domain.AuctionSnapshot{
		AuctionID:        st.auctionID,
		Status:           st.status,
		Lots:             append([]domain.Lot(nil), st.lots...),
		CurrentLotIndex:  st.currentLot,
		Bidders:          st.bidders,
		Observers:        st.observers,
		EndTime:          st.endTime,
		CountdownExpired: st.countdownExpired,
	}
	if lot, ok := snap.CurrentLot(); ok {
		if bids, tracked := st.lotBids[lot.ID]; tracked {
			if bids.high != nil {
				high := *bids.high
				snap.HighBid = &high
			}
			snap.BidHistory = append([]domain.BidRecord(nil), bids.history...)
		}
	}
	return snap, true
}

// MinimumBid is the lowest acceptable amount for the lot right now.
func (ss *StateSync) MinimumBid(auctionID, lotID string) (float64, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	st, exists := ss.auctions[auctionID]
	if !exists {
		return 0, domain.ErrUnknownAuction
	}
	lot, ok := st.findLot(lotID)
	if !ok {
		return 0, domain.ErrUnknownLot
	}

	var high *domain.BidRecord
	if bids, tracked := st.lotBids[lotID]; tracked {
		high = bids.high
	}
	return ss.increments.MinimumBid(lot, high), nil
}

// OutbidActive reports whether the transient outbid notification is up.
func (ss *StateSync) OutbidActive(auctionID string) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	st, exists := ss.auctions[auctionID]
	return exists && st.outbid
}

// Remaining computes the displayed countdown from the end time. Zero once
// expired; the authoritative status still waits for the server.
func (ss *StateSync) Remaining(auctionID string) time.Duration {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	st, exists := ss.auctions[auctionID]
	if !exists || st.endTime.IsZero() {
		return 0
	}
	remaining := time.Until(st.endTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (ss *StateSync) applyBid(record domain.BidRecord) {
	ss.mu.Lock()

	st, exists := ss.auctions[record.AuctionID]
	if !exists {
		ss.mu.Unlock()
		return
	}
	if _, ok := st.findLot(record.LotID); !ok {
		ss.mu.Unlock()
		ss.log.Warn("Bid for unknown lot ignored",
			"auction_id", record.AuctionID, "lot_id", record.LotID)
		return
	}

	bids := st.lotBids[record.LotID]
	if bids == nil {
		bids = &lotBids{}
		st.lotBids[record.LotID] = bids
	}

	// Amounts are monotonically non-decreasing per lot. A lower or equal
	// amount is an out-of-order delivery; it self-heals on the next
	// correct message.
	if bids.high != nil && record.Amount <= bids.high.Amount {
		ss.mu.Unlock()
		ss.log.Warn("Non-monotonic bid ignored",
			"auction_id", record.AuctionID, "lot_id", record.LotID,
			"amount", record.Amount, "high", bids.high.Amount)
		return
	}

	wasLocalHigh := bids.high != nil &&
		ss.opts.LocalBidderID != "" &&
		bids.high.BidderID == ss.opts.LocalBidderID &&
		record.BidderID != ss.opts.LocalBidderID

	bids.high = &record
	bids.history = append([]domain.BidRecord{record}, bids.history...)
	if len(bids.history) > historyCap {
		bids.history = bids.history[:historyCap]
	}
	ss.mu.Unlock()

	if wasLocalHigh {
		ss.raiseOutbid(record.AuctionID, record.LotID)
	}
}

func (ss *StateSync) applyStatus(auctionID string, status domain.AuctionStatus) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	st, exists := ss.auctions[auctionID]
	if !exists {
		return
	}
	if st.status == domain.AuctionEnded {
		// Terminal; nothing transitions out of ended.
		return
	}
	st.status = status
	if status != domain.AuctionLive {
		st.countdownExpired = false
	}
}

func (ss *StateSync) applyItemChange(auctionID string, lotIndex int, lot domain.Lot) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	st, exists := ss.auctions[auctionID]
	if !exists {
		return
	}
	if lotIndex < 0 {
		ss.log.Warn("Item change with bad index ignored",
			"auction_id", auctionID, "lot_index", lotIndex)
		return
	}

	if lotIndex < len(st.lots) {
		st.lots[lotIndex] = lot
	} else {
		st.lots = append(st.lots, lot)
		lotIndex = len(st.lots) - 1
	}

	// Previous lot's bid view is no longer displayed; drop it.
	if prev, ok := st.findLotByIndex(st.currentLot); ok && prev.ID != lot.ID {
		delete(st.lotBids, prev.ID)
	}
	st.currentLot = lotIndex
	st.clearOutbidLocked()
}

func (ss *StateSync) applyCounts(auctionID string, bidders, observers int) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if st, exists := ss.auctions[auctionID]; exists {
		st.bidders = bidders
		st.observers = observers
	}
}

func (ss *StateSync) raiseOutbid(auctionID, lotID string) {
	ss.mu.Lock()
	st, exists := ss.auctions[auctionID]
	if !exists {
		ss.mu.Unlock()
		return
	}
	st.outbid = true
	if st.outbidTimer != nil {
		st.outbidTimer.Stop()
	}
	st.outbidTimer = time.AfterFunc(ss.opts.OutbidDisplay, func() {
		ss.mu.Lock()
		if cur, ok := ss.auctions[auctionID]; ok {
			cur.outbid = false
		}
		ss.mu.Unlock()
	})
	ss.mu.Unlock()

	if ss.opts.OnOutbid != nil {
		ss.opts.OnOutbid(auctionID, lotID)
	}
}

// countdown flips the displayed countdown to expired on a 1-second tick
// while the auction is live. It never touches the authoritative status.
func (ss *StateSync) countdown(auctionID string, stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ss.mu.Lock()
			st, exists := ss.auctions[auctionID]
			if !exists {
				ss.mu.Unlock()
				return
			}
			if st.status == domain.AuctionLive && !st.endTime.IsZero() &&
				!time.Now().Before(st.endTime) {
				st.countdownExpired = true
			}
			ss.mu.Unlock()
		}
	}
}

func (st *auctionState) findLot(lotID string) (domain.Lot, bool) {
	for _, lot := range st.lots {
		if lot.ID == lotID {
			return lot, true
		}
	}
	return domain.Lot{}, false
}

func (st *auctionState) findLotByIndex(index int) (domain.Lot, bool) {
	if index < 0 || index >= len(st.lots) {
		return domain.Lot{}, false
	}
	return st.lots[index], true
}

func (st *auctionState) clearOutbidLocked() {
	st.outbid = false
	if st.outbidTimer != nil {
		st.outbidTimer.Stop()
		st.outbidTimer = nil
	}
}

func (st *auctionState) teardownLocked() {
	st.clearOutbidLocked()
	select {
	case <-st.stopCountdown:
	default:
		close(st.stopCountdown)
	}
}
