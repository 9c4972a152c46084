package services

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"auction-live/internal/domain"
	"auction-live/internal/protocol"
	"auction-live/pkg/logger"

	"github.com/google/uuid"
)

type lotKey struct {
	AuctionID string
	LotID     string
}

type bidOutcome struct {
	record *domain.BidRecord
	err    error
}

type pendingBid struct {
	correlationID string
	key           lotKey
	result        chan bidOutcome
}

type BidDeskOptions struct {
	// ConfirmTimeout bounds the wait for a confirmation or error.
	ConfirmTimeout time.Duration
}

// BidDesk turns a bid intent into a confirmed or rejected outcome using a
// request/acknowledge/timeout pattern. At most one intent is in flight
// per (auction, lot); it never mutates auction state itself — the
// synchronizer observes the same confirmation broadcast.
type BidDesk struct {
	transport Transport
	rooms     *RoomManager
	state     *StateSync
	opts      BidDeskOptions
	log       logger.Logger

	mu      sync.Mutex
	pending map[lotKey]*pendingBid
	byCorr  map[string]*pendingBid

	unsubs []func()
}

func NewBidDesk(transport Transport, rooms *RoomManager, state *StateSync,
	dispatcher *Dispatcher, opts BidDeskOptions, log logger.Logger) *BidDesk {
	if opts.ConfirmTimeout == 0 {
		opts.ConfirmTimeout = 10 * time.Second
	}
	bd := &BidDesk{
		transport: transport,
		rooms:     rooms,
		state:     state,
		opts:      opts,
		log:       log,
		pending:   make(map[lotKey]*pendingBid),
		byCorr:    make(map[string]*pendingBid),
	}
	bd.unsubs = append(bd.unsubs,
		dispatcher.On(protocol.KindBidConfirmed, func(msg *protocol.Message) {
			p := msg.Payload.(*protocol.BidConfirmed)
			record := p.Record()
			bd.resolve(p.CorrelationID, bidOutcome{record: &record})
		}),
		dispatcher.On(protocol.KindBidError, func(msg *protocol.Message) {
			p := msg.Payload.(*protocol.BidError)
			bd.resolve(p.CorrelationID, bidOutcome{err: serverError(p)})
		}),
	)
	return bd
}

// Close releases the desk's dispatcher subscriptions.
func (bd *BidDesk) Close() {
	for _, unsub := range bd.unsubs {
		unsub()
	}
}

// PlaceBid submits a bid and blocks until confirmation, server rejection
// or timeout, whichever comes first. The loser of that race is discarded.
func (bd *BidDesk) PlaceBid(ctx context.Context, auctionID, lotID string, amount float64) (*domain.BidRecord, error) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, domain.ErrInvalidAmount
	}
	if err := bd.requireAuctionRoom(auctionID); err != nil {
		return nil, err
	}

	// Local precondition: no outbound frame leaves for an amount the
	// server would reject anyway.
	minimum, err := bd.state.MinimumBid(auctionID, lotID)
	if err != nil {
		return nil, err
	}
	if amount < minimum {
		return nil, fmt.Errorf("%w: minimum is %.2f", domain.ErrBidTooLow, minimum)
	}

	intent, err := bd.register(auctionID, lotID)
	if err != nil {
		return nil, err
	}

	sendErr := bd.transport.Send(protocol.KindBidPlace, &protocol.BidPlace{
		AuctionID:     auctionID,
		LotID:         lotID,
		Amount:        amount,
		CorrelationID: intent.correlationID,
		Timestamp:     time.Now(),
	})
	if sendErr != nil {
		bd.remove(intent)
		return nil, sendErr
	}

	timer := time.NewTimer(bd.opts.ConfirmTimeout)
	defer timer.Stop()

	select {
	case outcome := <-intent.result:
		return outcome.record, outcome.err
	case <-timer.C:
		bd.remove(intent)
		return nil, domain.ErrBidTimeout
	case <-ctx.Done():
		bd.remove(intent)
		return nil, ctx.Err()
	}
}

// QuickBid asks the server to place the next valid increment. It is
// fire-and-forget: the resulting bid arrives as a broadcast like any
// other, so only connection-level failures surface here.
func (bd *BidDesk) QuickBid(ctx context.Context, auctionID, lotID string) error {
	if err := bd.requireAuctionRoom(auctionID); err != nil {
		return err
	}
	return bd.transport.Send(protocol.KindBidQuick, &protocol.BidQuick{
		AuctionID: auctionID,
		LotID:     lotID,
		Timestamp: time.Now(),
	})
}

// CancelForAuction rejects every pending intent scoped to the auction.
// Replies that arrive later no longer match a correlation id and are
// ignored.
func (bd *BidDesk) CancelForAuction(auctionID string, cause error) {
	bd.cancelMatching(func(key lotKey) bool { return key.AuctionID == auctionID }, cause)
}

// CancelAll rejects every pending intent. Called on disconnect.
func (bd *BidDesk) CancelAll(cause error) {
	bd.cancelMatching(func(lotKey) bool { return true }, cause)
}

func (bd *BidDesk) requireAuctionRoom(auctionID string) error {
	if bd.transport.Status() != domain.SessionOpen {
		return domain.ErrNotConnected
	}
	if !bd.rooms.Confirmed(domain.ScopeAuction, auctionID) {
		return fmt.Errorf("%w: auction room not confirmed", domain.ErrNotConnected)
	}
	return nil
}

func (bd *BidDesk) register(auctionID, lotID string) (*pendingBid, error) {
	key := lotKey{AuctionID: auctionID, LotID: lotID}

	bd.mu.Lock()
	defer bd.mu.Unlock()
	if _, exists := bd.pending[key]; exists {
		return nil, domain.ErrBidAlreadyPending
	}

	intent := &pendingBid{
		correlationID: uuid.NewString(),
		key:           key,
		result:        make(chan bidOutcome, 1),
	}
	bd.pending[key] = intent
	bd.byCorr[intent.correlationID] = intent
	return intent, nil
}

func (bd *BidDesk) remove(intent *pendingBid) {
	bd.mu.Lock()
	defer bd.mu.Unlock()
	if bd.byCorr[intent.correlationID] == intent {
		delete(bd.byCorr, intent.correlationID)
		delete(bd.pending, intent.key)
	}
}

func (bd *BidDesk) resolve(correlationID string, outcome bidOutcome) {
	bd.mu.Lock()
	intent, exists := bd.byCorr[correlationID]
	if exists {
		delete(bd.byCorr, correlationID)
		delete(bd.pending, intent.key)
	}
	bd.mu.Unlock()

	if !exists {
		// Timed out, cancelled, or for a since-left room.
		bd.log.Debug("Ignoring reply for unknown correlation id", "correlation_id", correlationID)
		return
	}
	intent.result <- outcome
}

func (bd *BidDesk) cancelMatching(match func(lotKey) bool, cause error) {
	bd.mu.Lock()
	var cancelled []*pendingBid
	for key, intent := range bd.pending {
		if match(key) {
			delete(bd.pending, key)
			delete(bd.byCorr, intent.correlationID)
			cancelled = append(cancelled, intent)
		}
	}
	bd.mu.Unlock()

	for _, intent := range cancelled {
		intent.result <- bidOutcome{err: cause}
	}
}

func serverError(p *protocol.BidError) error {
	if p.Code == protocol.BidErrorRateLimited {
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, p.Message)
	}
	return &domain.ServerRejectionError{Code: p.Code, Message: p.Message}
}
