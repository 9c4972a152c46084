// Package simulator is an in-process auction server speaking the same
// protocol as the production one. It backs the end-to-end tests and the
// auction-simulator command used during development.
package simulator

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"auction-live/internal/domain"
	"auction-live/internal/protocol"
	"auction-live/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/robfig/cron/v3"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // development server
	},
}

// AuthFunc resolves a bearer token to simulator credentials.
type AuthFunc func(token string) (Credentials, error)

type Options struct {
	// Auth defaults to: "admin" is the auctioneer, any other non-empty
	// token is a bidder identified by the token itself.
	Auth AuthFunc
	// TelemetryInterval paces connected-user broadcasts.
	TelemetryInterval time.Duration
}

type Server struct {
	opts Options
	log  logger.Logger
	hub  *hub

	echo *echo.Echo
	cron *cron.Cron
	stop chan struct{}
}

func New(opts Options, log logger.Logger) *Server {
	if opts.Auth == nil {
		opts.Auth = defaultAuth
	}
	if opts.TelemetryInterval == 0 {
		opts.TelemetryInterval = 5 * time.Second
	}

	s := &Server{
		opts: opts,
		log:  log,
		hub:  newHub(log.Named("hub")),
		cron: cron.New(cron.WithSeconds()),
		stop: make(chan struct{}),
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	api := e.Group("/api/v1")
	api.GET("/auctions/:id", s.getAuction)
	api.PUT("/auctions/:id/status", s.putStatus)
	e.GET("/ws", s.handleSocket)

	s.echo = e
	return s
}

func defaultAuth(token string) (Credentials, error) {
	if token == "" {
		return Credentials{}, errors.New("missing token")
	}
	if token == "admin" {
		return Credentials{BidderID: "auctioneer", Admin: true}, nil
	}
	return Credentials{BidderID: token}, nil
}

// Handler exposes the server for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// AddAuction registers an auction with the runtime.
func (s *Server) AddAuction(detail domain.Auction) {
	s.hub.addAuction(detail)
}

// Sweep runs one schedule pass; the cron job calls this every second.
func (s *Server) Sweep() {
	s.hub.sweep(time.Now())
}

// PublishCounts pushes one round of connected-user telemetry.
func (s *Server) PublishCounts() {
	s.hub.publishCounts()
}

// StartJobs launches the schedule sweeper and telemetry loop.
func (s *Server) StartJobs() error {
	if _, err := s.cron.AddFunc("@every 1s", s.Sweep); err != nil {
		return err
	}
	s.cron.Start()

	go func() {
		ticker := time.NewTicker(s.opts.TelemetryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.PublishCounts()
			}
		}
	}()
	return nil
}

// Start runs the HTTP server; it blocks like echo.Start does.
func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stop)
	s.cron.Stop()
	return s.echo.Shutdown(ctx)
}

func (s *Server) getAuction(c echo.Context) error {
	detail, ok := s.hub.auctionDetail(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "auction not found"})
	}
	return c.JSON(http.StatusOK, detail)
}

func (s *Server) putStatus(c echo.Context) error {
	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	status, ok := domain.ParseAuctionStatus(req.Status)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown status"})
	}
	if !s.hub.setStatus(c.Param("id"), status) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "auction not found or ended"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": status.String()})
}

func (s *Server) handleSocket(c echo.Context) error {
	token := bearerToken(c.Request())
	creds, err := s.opts.Auth(token)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Error("Failed to upgrade connection", "error", err)
		return nil
	}

	member := &client{conn: conn, creds: creds}
	s.log.Info("Client connected", "bidder_id", creds.BidderID, "admin", creds.Admin)
	go s.readLoop(member)
	return nil
}

func (s *Server) readLoop(member *client) {
	defer func() {
		s.hub.dropClient(member)
		member.conn.Close()
		s.log.Info("Client disconnected", "bidder_id", member.creds.BidderID)
	}()

	for {
		_, raw, err := member.conn.ReadMessage()
		if err != nil {
			return
		}

		msg, decErr := protocol.DecodeClientMessage(raw)
		if decErr != nil {
			s.log.Warn("Dropping unrecognized frame", "error", decErr)
			continue
		}
		s.handleMessage(member, msg)
	}
}

func (s *Server) handleMessage(member *client, msg *protocol.Message) {
	switch msg.Kind {
	case protocol.KindJoinSite:
		p := msg.Payload.(*protocol.JoinSite)
		s.hub.join(member, domain.ScopeSite, p.SiteID)
	case protocol.KindJoinAuction:
		p := msg.Payload.(*protocol.JoinAuction)
		s.hub.join(member, domain.ScopeAuction, p.AuctionID)
	case protocol.KindLeaveSite:
		p := msg.Payload.(*protocol.LeaveSite)
		s.hub.leave(member, domain.ScopeSite, p.SiteID)
	case protocol.KindLeaveAuction:
		p := msg.Payload.(*protocol.LeaveAuction)
		s.hub.leave(member, domain.ScopeAuction, p.AuctionID)
	case protocol.KindBidPlace:
		p := msg.Payload.(*protocol.BidPlace)
		s.hub.placeBid(member, p.AuctionID, p.LotID, p.CorrelationID, p.Amount, false)
	case protocol.KindBidQuick:
		p := msg.Payload.(*protocol.BidQuick)
		s.hub.placeBid(member, p.AuctionID, p.LotID, "", 0, true)
	case protocol.KindAuctionStart:
		s.adminStatus(member, msg.Payload.(*protocol.AuctionControl).AuctionID, domain.AuctionLive)
	case protocol.KindAuctionPause:
		s.adminStatus(member, msg.Payload.(*protocol.AuctionControl).AuctionID, domain.AuctionPaused)
	case protocol.KindAuctionEnd:
		s.adminStatus(member, msg.Payload.(*protocol.AuctionControl).AuctionID, domain.AuctionEnded)
	case protocol.KindNextItem:
		p := msg.Payload.(*protocol.NextItem)
		if !member.creds.Admin {
			s.log.Warn("Non-admin item advance dropped", "bidder_id", member.creds.BidderID)
			return
		}
		s.hub.advanceItem(p.AuctionID, p.LotID)
	case protocol.KindAdminBroadcast:
		p := msg.Payload.(*protocol.AdminBroadcast)
		if !member.creds.Admin {
			s.log.Warn("Non-admin broadcast dropped", "bidder_id", member.creds.BidderID)
			return
		}
		s.hub.broadcast(p.AuctionID, protocol.KindAdminMessage, &protocol.AdminMessage{
			AuctionID: p.AuctionID,
			Message:   p.Message,
		})
	}
}

// Auctioneer commands carry no ack: a rejected one is dropped, and the
// caller only ever learns from the resulting state event.
func (s *Server) adminStatus(member *client, auctionID string, status domain.AuctionStatus) {
	if !member.creds.Admin {
		s.log.Warn("Non-admin auction command dropped",
			"bidder_id", member.creds.BidderID, "auction_id", auctionID)
		return
	}
	s.hub.setStatus(auctionID, status)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
