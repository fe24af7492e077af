// Package peertest provides an in-memory peer.Session for tests.
package peertest

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jmerrifield20/naivechain/internal/protocol"
)

// Session records every message sent to it.
type Session struct {
	id     string
	remote string

	mu      sync.Mutex
	sent    []protocol.Message
	closed  bool
	sendErr error
}

// NewSession creates a Session with a fresh id and the given remote address.
func NewSession(remote string) *Session {
	return &Session{id: uuid.NewString(), remote: remote}
}

func (s *Session) ID() string         { return s.id }
func (s *Session) RemoteAddr() string { return s.remote }

// Send records m, or returns the error set with FailSends.
func (s *Session) Send(m protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, m)
	return nil
}

// Close marks the session closed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// FailSends makes every later Send return err.
func (s *Session) FailSends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// Sent returns a copy of the messages sent so far.
func (s *Session) Sent() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Message, len(s.sent))
	copy(out, s.sent)
	return out
}

// Last returns the most recent message and whether there was one.
func (s *Session) Last() (protocol.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return protocol.Message{}, false
	}
	return s.sent[len(s.sent)-1], true
}

// Reset forgets the recorded messages.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
