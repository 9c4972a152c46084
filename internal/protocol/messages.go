// Package protocol defines the wire messages exchanged with the auction
// server. Every frame is a JSON envelope {"type": ..., "data": ...} and the
// set of kinds is closed: frames with an unrecognized type or shape are
// rejected at decode time, never accessed optimistically.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"auction-live/internal/domain"
)

type Kind string

// Client -> Server
const (
	KindJoinSite       Kind = "join-site"
	KindJoinAuction    Kind = "join-auction"
	KindLeaveSite      Kind = "leave-site"
	KindLeaveAuction   Kind = "leave-auction"
	KindBidPlace       Kind = "bid-place"
	KindBidQuick       Kind = "bid-quick"
	KindAuctionStart   Kind = "auction-start"
	KindAuctionPause   Kind = "auction-pause"
	KindAuctionEnd     Kind = "auction-end"
	KindNextItem       Kind = "auction-next-item"
	KindAdminBroadcast Kind = "admin-broadcast"
)

// Server -> Client
const (
	KindJoinedSite     Kind = "joined-site"
	KindJoinedAuction  Kind = "joined-auction"
	KindBidPlaced      Kind = "bid-placed"
	KindBidConfirmed   Kind = "bid-confirmed"
	KindBidError       Kind = "bid-error"
	KindBidOutbid      Kind = "bid-outbid"
	KindStatusChanged  Kind = "auction-status-changed"
	KindItemChanged    Kind = "auction-item-changed"
	KindAuctionStarted Kind = "auction-started"
	KindAuctionEnded   Kind = "auction-ended"
	KindConnectedUsers Kind = "admin-connected-users"
	KindAdminMessage   Kind = "admin-message"
)

type Envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type JoinSite struct {
	SiteID string `json:"site_id"`
}

type JoinAuction struct {
	AuctionID string `json:"auction_id"`
}

type LeaveSite struct {
	SiteID string `json:"site_id"`
}

type LeaveAuction struct {
	AuctionID string `json:"auction_id"`
}

type BidPlace struct {
	AuctionID     string    `json:"auction_id"`
	LotID         string    `json:"lot_id"`
	Amount        float64   `json:"amount"`
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
}

type BidQuick struct {
	AuctionID string    `json:"auction_id"`
	LotID     string    `json:"lot_id"`
	Timestamp time.Time `json:"timestamp"`
}

// AuctionControl carries the start, pause and end commands.
type AuctionControl struct {
	AuctionID string `json:"auction_id"`
}

type NextItem struct {
	AuctionID string `json:"auction_id"`
	LotID     string `json:"lot_id"`
}

type AdminBroadcast struct {
	AuctionID string `json:"auction_id"`
	Message   string `json:"message"`
}

type JoinedSite struct {
	SiteID string `json:"site_id"`
}

type JoinedAuction struct {
	AuctionID string `json:"auction_id"`
}

type BidPlaced struct {
	AuctionID    string    `json:"auction_id"`
	LotID        string    `json:"lot_id"`
	Amount       float64   `json:"amount"`
	BidderID     string    `json:"bidder_id"`
	BidderNumber int       `json:"bidder_number"`
	Timestamp    time.Time `json:"timestamp"`
}

// Record converts the broadcast payload to a domain bid record.
func (p *BidPlaced) Record() domain.BidRecord {
	return domain.BidRecord{
		AuctionID:    p.AuctionID,
		LotID:        p.LotID,
		Amount:       p.Amount,
		BidderID:     p.BidderID,
		BidderNumber: p.BidderNumber,
		Timestamp:    p.Timestamp,
	}
}

type BidConfirmed struct {
	CorrelationID string    `json:"correlation_id"`
	AuctionID     string    `json:"auction_id"`
	LotID         string    `json:"lot_id"`
	Amount        float64   `json:"amount"`
	BidderID      string    `json:"bidder_id"`
	BidderNumber  int       `json:"bidder_number"`
	Timestamp     time.Time `json:"timestamp"`
}

func (p *BidConfirmed) Record() domain.BidRecord {
	return domain.BidRecord{
		AuctionID:    p.AuctionID,
		LotID:        p.LotID,
		Amount:       p.Amount,
		BidderID:     p.BidderID,
		BidderNumber: p.BidderNumber,
		Timestamp:    p.Timestamp,
	}
}

type BidError struct {
	CorrelationID string `json:"correlation_id"`
	AuctionID     string `json:"auction_id"`
	LotID         string `json:"lot_id"`
	Code          string `json:"code"`
	Message       string `json:"message"`
}

const (
	BidErrorRateLimited = "rate_limited"
)

type BidOutbid struct {
	AuctionID        string  `json:"auction_id"`
	LotID            string  `json:"lot_id"`
	PreviousBidderID string  `json:"previous_bidder_id"`
	Amount           float64 `json:"amount"`
}

type StatusChanged struct {
	AuctionID string `json:"auction_id"`
	Status    string `json:"status"`
}

type ItemChanged struct {
	AuctionID string     `json:"auction_id"`
	LotIndex  int        `json:"lot_index"`
	Lot       domain.Lot `json:"lot"`
}

type AuctionStarted struct {
	AuctionID string `json:"auction_id"`
}

type AuctionEnded struct {
	AuctionID string `json:"auction_id"`
}

type ConnectedUsers struct {
	AuctionID string `json:"auction_id"`
	Bidders   int    `json:"bidders"`
	Observers int    `json:"observers"`
}

type AdminMessage struct {
	AuctionID string `json:"auction_id"`
	Message   string `json:"message"`
}

// Message is a decoded frame: Payload holds a pointer to the kind's
// payload struct.
type Message struct {
	Kind    Kind
	Payload interface{}
}

var serverPayloads = map[Kind]func() interface{}{
	KindJoinedSite:     func() interface{} { return &JoinedSite{} },
	KindJoinedAuction:  func() interface{} { return &JoinedAuction{} },
	KindBidPlaced:      func() interface{} { return &BidPlaced{} },
	KindBidConfirmed:   func() interface{} { return &BidConfirmed{} },
	KindBidError:       func() interface{} { return &BidError{} },
	KindBidOutbid:      func() interface{} { return &BidOutbid{} },
	KindStatusChanged:  func() interface{} { return &StatusChanged{} },
	KindItemChanged:    func() interface{} { return &ItemChanged{} },
	KindAuctionStarted: func() interface{} { return &AuctionStarted{} },
	KindAuctionEnded:   func() interface{} { return &AuctionEnded{} },
	KindConnectedUsers: func() interface{} { return &ConnectedUsers{} },
	KindAdminMessage:   func() interface{} { return &AdminMessage{} },
}

var clientPayloads = map[Kind]func() interface{}{
	KindJoinSite:       func() interface{} { return &JoinSite{} },
	KindJoinAuction:    func() interface{} { return &JoinAuction{} },
	KindLeaveSite:      func() interface{} { return &LeaveSite{} },
	KindLeaveAuction:   func() interface{} { return &LeaveAuction{} },
	KindBidPlace:       func() interface{} { return &BidPlace{} },
	KindBidQuick:       func() interface{} { return &BidQuick{} },
	KindAuctionStart:   func() interface{} { return &AuctionControl{} },
	KindAuctionPause:   func() interface{} { return &AuctionControl{} },
	KindAuctionEnd:     func() interface{} { return &AuctionControl{} },
	KindNextItem:       func() interface{} { return &NextItem{} },
	KindAdminBroadcast: func() interface{} { return &AdminBroadcast{} },
}

// Encode wraps a payload in the envelope for the given kind.
func Encode(kind Kind, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: kind, Data: data})
}

// DecodeServerMessage decodes a frame received by a client.
func DecodeServerMessage(raw []byte) (*Message, error) {
	return decode(raw, serverPayloads)
}

// DecodeClientMessage decodes a frame received by the server.
func DecodeClientMessage(raw []byte) (*Message, error) {
	return decode(raw, clientPayloads)
}

func decode(raw []byte, payloads map[Kind]func() interface{}) (*Message, error) {
	var env Envelope
	envDec := json.NewDecoder(bytes.NewReader(raw))
	envDec.DisallowUnknownFields()
	if err := envDec.Decode(&env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	newPayload, ok := payloads[env.Type]
	if !ok {
		return nil, fmt.Errorf("unknown message kind %q", env.Type)
	}

	payload := newPayload()
	if len(env.Data) > 0 {
		dec := json.NewDecoder(bytes.NewReader(env.Data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(payload); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", env.Type, err)
		}
	}

	return &Message{Kind: env.Type, Payload: payload}, nil
}
