package services

import (
	"sync"

	"auction-live/internal/domain"
	"auction-live/internal/protocol"
	"auction-live/pkg/logger"
)

// Transport is what the coordination services need from the session.
type Transport interface {
	Send(kind protocol.Kind, payload interface{}) error
	Status() domain.SessionStatus
}

type RoomKey struct {
	Scope domain.RoomScope
	ID    string
}

type roomState int

const (
	roomQueued roomState = iota
	roomJoining
	roomConfirmed
)

// RoomManager tracks which broadcast rooms the session has joined. The
// server forgets membership across a physical reconnect, so every room is
// re-joined whenever the session reopens.
type RoomManager struct {
	transport Transport
	log       logger.Logger

	mu    sync.Mutex
	rooms map[RoomKey]roomState

	unsubs []func()
}

func NewRoomManager(transport Transport, dispatcher *Dispatcher, log logger.Logger) *RoomManager {
	rm := &RoomManager{
		transport: transport,
		log:       log,
		rooms:     make(map[RoomKey]roomState),
	}
	rm.unsubs = append(rm.unsubs,
		dispatcher.On(protocol.KindJoinedSite, func(msg *protocol.Message) {
			ack := msg.Payload.(*protocol.JoinedSite)
			rm.confirm(RoomKey{Scope: domain.ScopeSite, ID: ack.SiteID})
		}),
		dispatcher.On(protocol.KindJoinedAuction, func(msg *protocol.Message) {
			ack := msg.Payload.(*protocol.JoinedAuction)
			rm.confirm(RoomKey{Scope: domain.ScopeAuction, ID: ack.AuctionID})
		}),
	)
	return rm
}

// Join requests room membership. Idempotent: joining a room that is
// already joined or queued is a no-op. While the session is not open the
// request is queued and flushed once it opens.
func (rm *RoomManager) Join(scope domain.RoomScope, id string) {
	key := RoomKey{Scope: scope, ID: id}

	rm.mu.Lock()
	if _, exists := rm.rooms[key]; exists {
		rm.mu.Unlock()
		return
	}
	open := rm.transport.Status() == domain.SessionOpen
	if open {
		rm.rooms[key] = roomJoining
	} else {
		rm.rooms[key] = roomQueued
	}
	rm.mu.Unlock()

	if open {
		rm.sendJoin(key)
	}
}

// Leave drops room membership. Leaving an unjoined room is a no-op; a
// still-queued join is simply discarded (last-writer-wins).
func (rm *RoomManager) Leave(scope domain.RoomScope, id string) {
	key := RoomKey{Scope: scope, ID: id}

	rm.mu.Lock()
	state, exists := rm.rooms[key]
	if exists {
		delete(rm.rooms, key)
	}
	rm.mu.Unlock()

	if !exists || state == roomQueued {
		return
	}
	if err := rm.sendLeave(key); err != nil {
		rm.log.Debug("Leave not sent", "scope", key.Scope, "id", key.ID, "error", err)
	}
}

// Confirmed reports whether the server has acknowledged the room. Until
// then consumers must withhold commands scoped to it.
func (rm *RoomManager) Confirmed(scope domain.RoomScope, id string) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.rooms[RoomKey{Scope: scope, ID: id}] == roomConfirmed
}

// FlushOnOpen re-issues a join for every tracked room. Called when the
// session opens; previously confirmed rooms count as unconfirmed again.
func (rm *RoomManager) FlushOnOpen() {
	rm.mu.Lock()
	keys := make([]RoomKey, 0, len(rm.rooms))
	for key := range rm.rooms {
		rm.rooms[key] = roomJoining
		keys = append(keys, key)
	}
	rm.mu.Unlock()

	for _, key := range keys {
		rm.sendJoin(key)
	}
}

// InvalidateOnDrop demotes every membership to queued while a reconnect
// is in progress.
func (rm *RoomManager) InvalidateOnDrop() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for key := range rm.rooms {
		rm.rooms[key] = roomQueued
	}
}

// Clear drops all memberships. Called when the session closes for good.
func (rm *RoomManager) Clear() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.rooms = make(map[RoomKey]roomState)
}

// Close releases the manager's dispatcher subscriptions.
func (rm *RoomManager) Close() {
	for _, unsub := range rm.unsubs {
		unsub()
	}
}

func (rm *RoomManager) confirm(key RoomKey) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	// A confirmation for a room we no longer track is stale; ignore it.
	if _, exists := rm.rooms[key]; exists {
		rm.rooms[key] = roomConfirmed
	}
}

func (rm *RoomManager) sendJoin(key RoomKey) {
	var err error
	switch key.Scope {
	case domain.ScopeSite:
		err = rm.transport.Send(protocol.KindJoinSite, &protocol.JoinSite{SiteID: key.ID})
	case domain.ScopeAuction:
		err = rm.transport.Send(protocol.KindJoinAuction, &protocol.JoinAuction{AuctionID: key.ID})
	}
	if err != nil {
		rm.log.Warn("Join not sent, left queued", "scope", key.Scope, "id", key.ID, "error", err)
		rm.mu.Lock()
		if _, exists := rm.rooms[key]; exists {
			rm.rooms[key] = roomQueued
		}
		rm.mu.Unlock()
	}
}

func (rm *RoomManager) sendLeave(key RoomKey) error {
	switch key.Scope {
	case domain.ScopeSite:
		return rm.transport.Send(protocol.KindLeaveSite, &protocol.LeaveSite{SiteID: key.ID})
	case domain.ScopeAuction:
		return rm.transport.Send(protocol.KindLeaveAuction, &protocol.LeaveAuction{AuctionID: key.ID})
	default:
		return nil
	}
}
