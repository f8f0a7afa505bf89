package main

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const simHandle ConnHandle = 0x0040

// simTransport stands in for a radio and a peer. Events go to sink, which
// the daemon points at the run loop, so a grant requested during a
// callback arrives on a later loop turn.
type simTransport struct {
	log  *zap.Logger
	sink func(TransportEvent)

	mu        sync.Mutex
	powered   bool
	connected ConnHandle
	next      ConnHandle
	sent      []string
}

func newSimTransport(sink func(TransportEvent), log *zap.Logger) *simTransport {
	return &simTransport{log: log, sink: sink, next: simHandle}
}

func (s *simTransport) PowerOn(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.powered = true
	s.mu.Unlock()
	s.sink(TransportEvent{Kind: EventStackReady})
	return nil
}

func (s *simTransport) RequestSendGrant(h ConnHandle) error {
	s.mu.Lock()
	cur := s.connected
	s.mu.Unlock()
	if cur == 0 || cur != h {
		return ErrNotConnected
	}
	s.sink(TransportEvent{Kind: EventSendGrant, Handle: h})
	return nil
}

func (s *simTransport) SendReport(h ConnHandle, report []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected == 0 || s.connected != h {
		return ErrNotConnected
	}
	hex := fmt.Sprintf("% X", report)
	s.sent = append(s.sent, hex)
	s.log.Info("sim peer received report", zap.String("report", hex))
	return nil
}

// Connect simulates a peer opening the HID channels.
func (s *simTransport) Connect() (ConnHandle, error) {
	s.mu.Lock()
	if !s.powered {
		s.mu.Unlock()
		return 0, fmt.Errorf("connect: %w", ErrTransportClosed)
	}
	if s.connected != 0 {
		s.mu.Unlock()
		return 0, ErrAlreadyConnected
	}
	h := s.next
	s.next++
	if s.next == 0 {
		s.next = simHandle
	}
	s.connected = h
	s.mu.Unlock()

	s.sink(TransportEvent{Kind: EventConnectionOpened, Handle: h})
	return h, nil
}

// Fail simulates a connection attempt that did not complete.
func (s *simTransport) Fail(status uint8) error {
	if status == 0 {
		status = 0x04 // page timeout
	}
	s.mu.Lock()
	if s.connected != 0 {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.mu.Unlock()
	s.sink(TransportEvent{Kind: EventConnectionOpened, Status: status})
	return nil
}

func (s *simTransport) Disconnect() error {
	s.mu.Lock()
	h := s.connected
	s.connected = 0
	s.mu.Unlock()
	if h == 0 {
		return ErrNotConnected
	}
	s.sink(TransportEvent{Kind: EventConnectionClosed, Handle: h})
	return nil
}

// Sent returns the reports the peer has received, as hex.
func (s *simTransport) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}
