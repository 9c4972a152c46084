// Package rest consumes the auction server's REST boundary: the full
// auction detail that seeds a snapshot before the live room is joined,
// and status updates made outside of a live session.
package rest

import (
	"context"
	"fmt"

	"auction-live/internal/domain"
	"auction-live/pkg/logger"

	"resty.dev/v3"
)

type Gateway struct {
	client *resty.Client
	log    logger.Logger
}

func NewGateway(baseURL, token string, log logger.Logger) *Gateway {
	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(token)
	return &Gateway{client: client, log: log}
}

func (g *Gateway) FetchAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	var auction domain.Auction
	resp, err := g.client.R().
		SetContext(ctx).
		SetResult(&auction).
		Get("/auctions/" + auctionID)
	if err != nil {
		return nil, fmt.Errorf("fetch auction %s: %w", auctionID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch auction %s: %s", auctionID, resp.Status())
	}

	if status, ok := domain.ParseAuctionStatus(auction.StatusName); ok {
		auction.Status = status
	}
	return &auction, nil
}

func (g *Gateway) UpdateStatus(ctx context.Context, auctionID string, status domain.AuctionStatus) error {
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"status": status.String()}).
		Put("/auctions/" + auctionID + "/status")
	if err != nil {
		return fmt.Errorf("update auction %s status: %w", auctionID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("update auction %s status: %s", auctionID, resp.Status())
	}
	g.log.Info("Auction status updated", "auction_id", auctionID, "status", status.String())
	return nil
}

func (g *Gateway) Close() error {
	return g.client.Close()
}
