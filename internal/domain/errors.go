package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionLost means the session dropped while work was in flight.
	ErrConnectionLost = errors.New("connection lost")
	// ErrNotConnected means the session is not open or the target room
	// is not confirmed yet.
	ErrNotConnected = errors.New("not connected")
	// ErrRoomLeft means the auction room was left while a bid was pending.
	ErrRoomLeft = errors.New("auction room left")
	// ErrBidTooLow means the amount is below the minimum valid bid.
	ErrBidTooLow = errors.New("bid below minimum increment")
	// ErrInvalidAmount means the amount is not a finite positive number.
	ErrInvalidAmount = errors.New("invalid bid amount")
	// ErrBidAlreadyPending means a bid for the same lot is still unresolved.
	ErrBidAlreadyPending = errors.New("bid already pending for lot")
	// ErrBidTimeout means no confirmation or error arrived in time.
	ErrBidTimeout = errors.New("bid confirmation timed out")
	// ErrRateLimited means the server throttled the bid.
	ErrRateLimited = errors.New("rate limited")
	// ErrSessionTerminal means the reconnect budget is exhausted; the
	// consumer must tear down and re-enter.
	ErrSessionTerminal = errors.New("unable to connect; reload")
	// ErrUnknownAuction means no snapshot exists for the auction.
	ErrUnknownAuction = errors.New("unknown auction")
	// ErrUnknownLot means the lot is not part of the auction.
	ErrUnknownLot = errors.New("unknown lot")
)

// ServerRejectionError carries the server's message for a rejected bid.
// It is never retried automatically.
type ServerRejectionError struct {
	Code    string
	Message string
}

func (e *ServerRejectionError) Error() string {
	return fmt.Sprintf("bid rejected by server: %s", e.Message)
}
