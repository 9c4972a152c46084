package domain

import (
	"context"
)

// SnapshotGateway is the REST boundary: it seeds the initial auction
// snapshot and changes status outside of a live session. Bid persistence
// is owned by the auction server, never by this layer.
type SnapshotGateway interface {
	FetchAuction(ctx context.Context, auctionID string) (*Auction, error)
	UpdateStatus(ctx context.Context, auctionID string, status AuctionStatus) error
}
