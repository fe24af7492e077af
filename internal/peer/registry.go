// Package peer manages the live set of peer sessions and the websocket
// transport that creates them.
package peer

import (
	"errors"

	"github.com/jmerrifield20/naivechain/internal/metrics"
	"github.com/jmerrifield20/naivechain/internal/protocol"
	"go.uber.org/zap"
)

var (
	// ErrSessionClosed is returned by Send after the session has closed.
	ErrSessionClosed = errors.New("session closed")
	// ErrSendQueueFull is returned by Send when the outbound queue is full.
	// The message is dropped.
	ErrSendQueueFull = errors.New("send queue full")
)

// Session is one open link to a remote peer.
type Session interface {
	// ID uniquely identifies the session for its lifetime.
	ID() string
	// RemoteAddr is the host:port of the remote end.
	RemoteAddr() string
	// Send queues m for delivery. It never blocks.
	Send(m protocol.Message) error
	// Close tears down the link.
	Close() error
}

// Registry is the set of registered sessions. It is not safe for concurrent
// use; the node's event loop owns it.
type Registry struct {
	order    []string
	sessions map[string]Session
	logger   *zap.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		logger:   logger,
	}
}

// Register adds s and immediately asks it for its tip block. Registering a
// session that is already present does nothing.
func (r *Registry) Register(s Session) {
	if _, ok := r.sessions[s.ID()]; ok {
		return
	}
	r.sessions[s.ID()] = s
	r.order = append(r.order, s.ID())
	metrics.SetPeers(len(r.order))
	r.logger.Info("peer registered",
		zap.String("session", s.ID()),
		zap.String("remote", s.RemoteAddr()),
		zap.Int("peers", len(r.order)),
	)
	r.send(s, protocol.QueryLatest())
}

// Unregister removes s. Removing an absent session is a no-op.
func (r *Registry) Unregister(s Session) {
	if _, ok := r.sessions[s.ID()]; !ok {
		return
	}
	delete(r.sessions, s.ID())
	for i, id := range r.order {
		if id == s.ID() {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	metrics.SetPeers(len(r.order))
	r.logger.Info("peer unregistered",
		zap.String("session", s.ID()),
		zap.String("remote", s.RemoteAddr()),
		zap.Int("peers", len(r.order)),
	)
}

// Broadcast sends m to every registered session. Delivery is best-effort:
// failures are logged and nothing is retried.
func (r *Registry) Broadcast(m protocol.Message) {
	for _, id := range r.order {
		r.send(r.sessions[id], m)
	}
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	return len(r.order)
}

// Addresses returns the remote address of each session in registration order.
func (r *Registry) Addresses() []string {
	out := make([]string, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id].RemoteAddr())
	}
	return out
}

// CloseAll closes every registered session.
func (r *Registry) CloseAll() {
	for _, id := range r.order {
		_ = r.sessions[id].Close()
	}
}

func (r *Registry) send(s Session, m protocol.Message) {
	if err := s.Send(m); err != nil {
		r.logger.Debug("send failed",
			zap.String("session", s.ID()),
			zap.Stringer("type", m.Type),
			zap.Error(err),
		)
	}
}
