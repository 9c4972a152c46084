package domain

import (
	"time"
)

type SessionStatus int

const (
	SessionConnecting SessionStatus = iota
	SessionOpen
	SessionDegraded
	SessionClosed
)

func (s SessionStatus) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionOpen:
		return "open"
	case SessionDegraded:
		return "degraded"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type AuctionStatus int

const (
	AuctionDraft AuctionStatus = iota
	AuctionScheduled
	AuctionLive
	AuctionPaused
	AuctionEnded
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionDraft:
		return "draft"
	case AuctionScheduled:
		return "scheduled"
	case AuctionLive:
		return "live"
	case AuctionPaused:
		return "paused"
	case AuctionEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// ParseAuctionStatus maps a wire status string to its enum value.
func ParseAuctionStatus(s string) (AuctionStatus, bool) {
	switch s {
	case "draft":
		return AuctionDraft, true
	case "scheduled":
		return AuctionScheduled, true
	case "live":
		return AuctionLive, true
	case "paused":
		return AuctionPaused, true
	case "ended":
		return AuctionEnded, true
	default:
		return AuctionDraft, false
	}
}

type RoomScope string

const (
	ScopeSite    RoomScope = "site"
	ScopeAuction RoomScope = "auction"
)

type Lot struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	StartingBid float64 `json:"starting_bid"`
	// BidIncrement of 0 means the tiered increment table applies.
	BidIncrement float64 `json:"bid_increment"`
}

// Auction is the REST detail view used to seed a snapshot.
type Auction struct {
	ID              string        `json:"id"`
	SiteID          string        `json:"site_id"`
	Title           string        `json:"title"`
	Status          AuctionStatus `json:"-"`
	StatusName      string        `json:"status"`
	Lots            []Lot         `json:"lots"`
	CurrentLotIndex int           `json:"current_lot_index"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         time.Time     `json:"end_time"`
}

// BidRecord is a confirmed bid as broadcast to every room member.
// Immutable once received.
type BidRecord struct {
	AuctionID    string    `json:"auction_id"`
	LotID        string    `json:"lot_id"`
	Amount       float64   `json:"amount"`
	BidderID     string    `json:"bidder_id"`
	BidderNumber int       `json:"bidder_number"`
	Timestamp    time.Time `json:"timestamp"`
}

// AuctionSnapshot is the reconciled read-only view of one auction,
// scoped to the currently active lot.
type AuctionSnapshot struct {
	AuctionID       string
	Status          AuctionStatus
	Lots            []Lot
	CurrentLotIndex int
	// HighBid is nil until the first valid bid on the current lot.
	HighBid *BidRecord
	// BidHistory is most-recent-first and capped.
	BidHistory []BidRecord
	Bidders    int
	Observers  int
	EndTime    time.Time
	// CountdownExpired means the local countdown hit zero while live.
	// The authoritative status still waits for the server.
	CountdownExpired bool
}

// CurrentLot returns the active lot, or false when the index is out of range.
func (s *AuctionSnapshot) CurrentLot() (Lot, bool) {
	if s.CurrentLotIndex < 0 || s.CurrentLotIndex >= len(s.Lots) {
		return Lot{}, false
	}
	return s.Lots[s.CurrentLotIndex], true
}
