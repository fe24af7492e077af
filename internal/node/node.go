// Package node runs a chain node as a single event loop.
//
// Every state change (inbound frames, sessions opening or closing, operator
// requests) is posted to one inbox as a closure and executed by Run, one at a
// time and to completion. The Ledger and the peer Registry are only
// ever touched from inside that loop, so neither needs a lock and neither can
// be observed mid-update. Network goroutines and admin callers only post.
package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmerrifield20/naivechain/internal/gossip"
	"github.com/jmerrifield20/naivechain/internal/ledger"
	"github.com/jmerrifield20/naivechain/internal/metrics"
	"github.com/jmerrifield20/naivechain/internal/peer"
	"go.uber.org/zap"
)

// ErrStopped is returned by node operations once Run has returned.
var ErrStopped = errors.New("node stopped")

// ErrMineFailed is returned by Mine when the freshly built block is refused.
var ErrMineFailed = errors.New("mined block rejected")

const inboxSize = 256

// Dialer opens outbound peer sessions. *peer.Transport implements it.
type Dialer interface {
	Dial(ctx context.Context, address string) (peer.Session, error)
}

// Node owns a ledger, its peer registry and the gossip engine binding them.
type Node struct {
	ledger *ledger.Ledger
	peers  *peer.Registry
	engine *gossip.Engine
	dialer Dialer

	inbox   chan func()
	stopped chan struct{}
	// base bounds outbound dials; it is cancelled when Run returns.
	base   context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

// New creates a Node holding only the genesis block. Call SetDialer before
// Connect if outbound connections are needed.
func New(logger *zap.Logger, opts ...ledger.Option) *Node {
	opts = append([]ledger.Option{ledger.WithRejectHook(metrics.RecordRejection)}, opts...)
	l := ledger.New(logger.Named("ledger"), opts...)
	peers := peer.NewRegistry(logger.Named("peers"))
	base, cancel := context.WithCancel(context.Background())
	return &Node{
		ledger:  l,
		peers:   peers,
		engine:  gossip.NewEngine(l, peers, logger.Named("gossip")),
		inbox:   make(chan func(), inboxSize),
		stopped: make(chan struct{}),
		base:    base,
		cancel:  cancel,
		logger:  logger,
	}
}

// SetDialer sets the transport used by Connect.
func (n *Node) SetDialer(d Dialer) {
	n.dialer = d
}

// Run processes events until ctx is cancelled. All registered sessions are
// closed on the way out. Run must be called exactly once.
func (n *Node) Run(ctx context.Context) error {
	defer close(n.stopped)
	defer n.cancel()
	metrics.SetChainHeight(n.ledger.Latest().Index)
	n.logger.Info("node loop started", zap.Int("chain_length", n.ledger.Len()))

	for {
		select {
		case <-ctx.Done():
			n.peers.CloseAll()
			n.logger.Info("node loop stopped")
			return nil
		case ev := <-n.inbox:
			ev()
		}
	}
}

// post queues ev for the loop. It gives up once the loop has stopped.
func (n *Node) post(ev func()) bool {
	select {
	case n.inbox <- ev:
		return true
	case <-n.stopped:
		return false
	}
}

// do runs fn on the loop and waits for it to finish.
func (n *Node) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	queued := func() {
		fn()
		close(done)
	}
	select {
	case n.inbox <- queued:
	case <-n.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-n.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SessionOpened implements peer.Events. A session that opens after the loop
// has stopped is closed straight away.
func (n *Node) SessionOpened(s peer.Session) {
	if !n.post(func() { n.peers.Register(s) }) {
		_ = s.Close()
	}
}

// MessageReceived implements peer.Events.
func (n *Node) MessageReceived(s peer.Session, frame []byte) {
	n.post(func() { n.engine.HandleMessage(s, frame) })
}

// SessionClosed implements peer.Events.
func (n *Node) SessionClosed(s peer.Session, err error) {
	n.post(func() {
		if err != nil {
			n.logger.Info("connection to peer failed", zap.String("remote", s.RemoteAddr()), zap.Error(err))
		}
		n.peers.Unregister(s)
	})
}

// Connect dials each address in the background and returns without waiting.
// Successful connections are registered through SessionOpened; failures are
// logged and dropped. Nothing is retried.
func (n *Node) Connect(addresses []string) error {
	if n.dialer == nil {
		return fmt.Errorf("connect: no dialer configured")
	}
	select {
	case <-n.stopped:
		return ErrStopped
	default:
	}
	for _, addr := range addresses {
		go n.dial(n.base, addr)
	}
	return nil
}

func (n *Node) dial(ctx context.Context, addr string) {
	if _, err := n.dialer.Dial(ctx, addr); err != nil {
		metrics.RecordDialFailure()
		n.post(func() {
			n.logger.Warn("connection failed", zap.String("address", addr), zap.Error(err))
		})
	}
}

// Mine builds a block carrying data, appends it, and announces it to all peers.
func (n *Node) Mine(ctx context.Context, data string) (ledger.Block, error) {
	var (
		b  ledger.Block
		ok bool
	)
	if err := n.do(ctx, func() { b, ok = n.engine.Mine(data) }); err != nil {
		return ledger.Block{}, err
	}
	if !ok {
		return ledger.Block{}, ErrMineFailed
	}
	return b, nil
}

// Blocks returns a snapshot of the held chain.
func (n *Node) Blocks(ctx context.Context) ([]ledger.Block, error) {
	var out []ledger.Block
	err := n.do(ctx, func() { out = n.ledger.Blocks() })
	return out, err
}

// Block returns the block at index.
func (n *Node) Block(ctx context.Context, index int64) (ledger.Block, error) {
	var (
		b      ledger.Block
		getErr error
	)
	if err := n.do(ctx, func() { b, getErr = n.ledger.Get(index) }); err != nil {
		return ledger.Block{}, err
	}
	return b, getErr
}

// Summary describes the held chain.
type Summary struct {
	Length int          `json:"length"`
	Tip    ledger.Block `json:"tip"`
	Peers  int          `json:"peers"`
}

// Summary returns the chain length, the tip block and the peer count.
func (n *Node) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	err := n.do(ctx, func() {
		s = Summary{Length: n.ledger.Len(), Tip: n.ledger.Latest(), Peers: n.peers.Len()}
	})
	return s, err
}

// Verification is the result of re-validating the held chain.
type Verification struct {
	Valid  bool   `json:"valid"`
	Length int    `json:"length"`
	Error  string `json:"error,omitempty"`
}

// Verify re-validates the held chain.
func (n *Node) Verify(ctx context.Context) (Verification, error) {
	var v Verification
	err := n.do(ctx, func() {
		v.Length = n.ledger.Len()
		if verr := n.ledger.Verify(); verr != nil {
			v.Error = verr.Error()
			return
		}
		v.Valid = true
	})
	return v, err
}

// Peers returns the remote address of every registered session.
func (n *Node) Peers(ctx context.Context) ([]string, error) {
	var out []string
	err := n.do(ctx, func() { out = n.peers.Addresses() })
	return out, err
}
