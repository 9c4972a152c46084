package services

import (
	"context"
	"fmt"
	"time"

	"auction-live/internal/config"
	"auction-live/internal/domain"
	"auction-live/internal/infrastructure/websocket"
	"auction-live/internal/protocol"
	"auction-live/pkg/logger"
)

type ClientOptions struct {
	SocketURL string
	Token     string
	BidderID  string

	ReconnectAttempts int
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration
	ConfirmTimeout    time.Duration
	OutbidDisplay     time.Duration

	// OnTerminal fires exactly once when the reconnect budget is spent.
	OnTerminal func(err error)
	// OnAdminMessage receives auctioneer broadcasts.
	OnAdminMessage func(auctionID, message string)
	// OnOutbid fires when this client's leading bid is superseded.
	OnOutbid func(auctionID, lotID string)
}

func OptionsFromConfig(cfg *config.Config) ClientOptions {
	return ClientOptions{
		SocketURL:         cfg.Server.SocketURL,
		Token:             cfg.Session.Token,
		BidderID:          cfg.Session.BidderID,
		ReconnectAttempts: cfg.Session.ReconnectAttempts,
		ReconnectMinDelay: cfg.Session.ReconnectMinDelay,
		ReconnectMaxDelay: cfg.Session.ReconnectMaxDelay,
		ConfirmTimeout:    cfg.Bidding.ConfirmTimeout,
		OutbidDisplay:     cfg.Bidding.OutbidDisplay,
	}
}

// Client is the coordination layer's handle for one authenticated user
// session: created on sign-in, torn down on sign-out, injected into
// consumers rather than looked up via globals.
type Client struct {
	log     logger.Logger
	gateway domain.SnapshotGateway

	session    *websocket.Session
	dispatcher *Dispatcher
	rooms      *RoomManager
	state      *StateSync
	bids       *BidDesk
	podium     *Podium
}

func NewClient(opts ClientOptions, gateway domain.SnapshotGateway, log logger.Logger) *Client {
	c := &Client{log: log, gateway: gateway}

	c.dispatcher = NewDispatcher(log.Named("dispatch"))

	c.session = websocket.NewSession(websocket.Options{
		URL:               opts.SocketURL,
		Token:             opts.Token,
		ReconnectAttempts: opts.ReconnectAttempts,
		MinDelay:          opts.ReconnectMinDelay,
		MaxDelay:          opts.ReconnectMaxDelay,
	}, websocket.Hooks{
		OnMessage: func(msg *protocol.Message) { c.dispatcher.Dispatch(msg) },
		OnOpen:    func() { c.rooms.FlushOnOpen() },
		OnDrop: func() {
			c.rooms.InvalidateOnDrop()
			// The server forgets session state across a physical
			// reconnect, so a reply for an old correlation id can
			// never arrive.
			c.bids.CancelAll(domain.ErrConnectionLost)
		},
		OnClosed: func(terminal bool, err error) {
			c.rooms.Clear()
			c.bids.CancelAll(domain.ErrConnectionLost)
			if terminal {
				c.log.Error("Session closed for good", "error", err)
				if opts.OnTerminal != nil {
					opts.OnTerminal(err)
				}
			}
		},
	}, log.Named("session"))

	c.rooms = NewRoomManager(c.session, c.dispatcher, log.Named("rooms"))
	c.state = NewStateSync(c.dispatcher, DefaultIncrements(), StateSyncOptions{
		LocalBidderID:  opts.BidderID,
		OutbidDisplay:  opts.OutbidDisplay,
		OnAdminMessage: opts.OnAdminMessage,
		OnOutbid:       opts.OnOutbid,
	}, log.Named("state"))
	c.bids = NewBidDesk(c.session, c.rooms, c.state, c.dispatcher,
		BidDeskOptions{ConfirmTimeout: opts.ConfirmTimeout}, log.Named("bids"))
	c.podium = NewPodium(c.session, c.rooms, log.Named("podium"))

	return c
}

func (c *Client) Connect(ctx context.Context) error {
	return c.session.Connect(ctx)
}

// Close tears the session down and releases every subscription.
func (c *Client) Close() {
	c.session.Disconnect()
	c.bids.Close()
	c.state.Close()
	c.rooms.Close()
}

func (c *Client) Status() domain.SessionStatus { return c.session.Status() }

func (c *Client) LastError() error { return c.session.LastError() }

func (c *Client) JoinSite(siteID string) { c.rooms.Join(domain.ScopeSite, siteID) }

func (c *Client) LeaveSite(siteID string) { c.rooms.Leave(domain.ScopeSite, siteID) }

// JoinAuction seeds the snapshot from the REST detail, then joins the
// live room. Bid calls stay gated until the join is confirmed.
func (c *Client) JoinAuction(ctx context.Context, auctionID string) error {
	auction, err := c.gateway.FetchAuction(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("seed auction snapshot: %w", err)
	}
	c.state.Seed(auction)
	c.rooms.Join(domain.ScopeAuction, auctionID)
	return nil
}

// LeaveAuction cancels any in-flight bid for the auction, discards its
// snapshot and leaves the room. A late reply no longer matches anything.
func (c *Client) LeaveAuction(auctionID string) {
	c.bids.CancelForAuction(auctionID, domain.ErrRoomLeft)
	c.state.Discard(auctionID)
	c.rooms.Leave(domain.ScopeAuction, auctionID)
}

// AuctionRoomConfirmed reports whether the live room is active yet.
func (c *Client) AuctionRoomConfirmed(auctionID string) bool {
	return c.rooms.Confirmed(domain.ScopeAuction, auctionID)
}

func (c *Client) Bids() *BidDesk { return c.bids }

func (c *Client) State() *StateSync { return c.state }

func (c *Client) Podium() *Podium { return c.podium }

// On exposes the dispatcher to the presentation layer. The returned
// unsubscribe must be called on every exit path of the consuming scope.
func (c *Client) On(kind protocol.Kind, handler Handler) func() {
	return c.dispatcher.On(kind, handler)
}
