package services

import (
	"sync"

	"auction-live/internal/domain"
	"auction-live/internal/protocol"
)

type spyFrame struct {
	Kind    protocol.Kind
	Payload interface{}
}

// spyTransport records outbound frames instead of hitting a socket.
type spyTransport struct {
	mu      sync.Mutex
	status  domain.SessionStatus
	frames  []spyFrame
	sendErr error
}

func newOpenTransport() *spyTransport {
	return &spyTransport{status: domain.SessionOpen}
}

func (s *spyTransport) Send(kind protocol.Kind, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.frames = append(s.frames, spyFrame{Kind: kind, Payload: payload})
	return nil
}

func (s *spyTransport) Status() domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *spyTransport) setStatus(status domain.SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *spyTransport) sent() []spyFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]spyFrame(nil), s.frames...)
}

func (s *spyTransport) kinds() []protocol.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kinds []protocol.Kind
	for _, frame := range s.frames {
		kinds = append(kinds, frame.Kind)
	}
	return kinds
}

func (s *spyTransport) lastFrame() (spyFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return spyFrame{}, false
	}
	return s.frames[len(s.frames)-1], true
}
