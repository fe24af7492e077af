// Package gossip implements the peer protocol engine: it dispatches inbound
// messages to the ledger and decides whether chain data received from a peer
// should be appended, adopted, or answered with a request for more.
//
// An Engine is not safe for concurrent use. It is driven by the node's event
// loop, which runs one handler to completion before starting the next.
package gossip

import (
	"sort"

	"github.com/jmerrifield20/naivechain/internal/ledger"
	"github.com/jmerrifield20/naivechain/internal/metrics"
	"github.com/jmerrifield20/naivechain/internal/protocol"
	"go.uber.org/zap"
)

// Sender is the reply side of a peer session.
type Sender interface {
	ID() string
	Send(m protocol.Message) error
}

// Broadcaster sends a message to every connected peer.
type Broadcaster interface {
	Broadcast(m protocol.Message)
}

// Outcome is the decision taken for a batch of received blocks.
type Outcome int

const (
	// NoAction: the received tip is not ahead of the held tip.
	NoAction Outcome = iota
	// Appended: the received tip extended the held chain directly.
	Appended
	// QueriedAll: a lone tip could not be linked; full chains were requested.
	QueriedAll
	// Replaced: the received chain was adopted.
	Replaced
	// Rejected: the ledger refused the received block or chain.
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case NoAction:
		return "no_action"
	case Appended:
		return "appended"
	case QueriedAll:
		return "queried_all"
	case Replaced:
		return "replaced"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Engine binds a Ledger to the set of peers.
type Engine struct {
	ledger *ledger.Ledger
	peers  Broadcaster
	logger *zap.Logger
}

// NewEngine creates an Engine.
func NewEngine(l *ledger.Ledger, peers Broadcaster, logger *zap.Logger) *Engine {
	return &Engine{ledger: l, peers: peers, logger: logger}
}

// HandleMessage decodes frame and dispatches it by type. Frames that cannot
// be decoded are dropped without a reply; the session stays open.
func (e *Engine) HandleMessage(from Sender, frame []byte) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		metrics.RecordMalformed()
		e.logger.Warn("dropping malformed message", zap.String("session", from.ID()), zap.Error(err))
		return
	}
	metrics.RecordMessage("in", msg.Type.String())
	e.logger.Debug("message received", zap.String("session", from.ID()), zap.Stringer("type", msg.Type))

	switch msg.Type {
	case protocol.QueryLatestType:
		e.reply(from, e.latestMessage())
	case protocol.QueryAllType:
		e.reply(from, protocol.ResponseBlockchain(e.ledger.Blocks()))
	case protocol.ResponseBlockchainType:
		blocks, err := msg.Blocks()
		if err != nil {
			metrics.RecordMalformed()
			e.logger.Warn("dropping malformed chain response", zap.String("session", from.ID()), zap.Error(err))
			return
		}
		e.Reconcile(blocks)
	}
}

// Reconcile decides what to do with blocks offered by a peer, which may be a
// lone tip or a full chain.
//
// If the offered tip is not ahead of the held tip nothing happens. If it
// links directly onto the held tip it is appended. A lone tip that does not
// link triggers a QUERY_ALL broadcast. Anything else is treated as a
// candidate replacement chain. Every change to the held chain is announced to
// all peers.
func (e *Engine) Reconcile(received []ledger.Block) Outcome {
	outcome := e.reconcile(received)
	metrics.RecordReconcile(outcome.String())
	return outcome
}

func (e *Engine) reconcile(received []ledger.Block) Outcome {
	if len(received) == 0 {
		return NoAction
	}
	received = sortedByIndex(received)

	receivedTip := received[len(received)-1]
	heldTip := e.ledger.Latest()

	if receivedTip.Index <= heldTip.Index {
		e.logger.Debug("received chain is not longer than held chain",
			zap.Int64("received_tip", receivedTip.Index),
			zap.Int64("held_tip", heldTip.Index),
		)
		return NoAction
	}

	e.logger.Info("chain possibly behind",
		zap.Int64("held_tip", heldTip.Index),
		zap.Int64("received_tip", receivedTip.Index),
	)

	switch {
	case heldTip.Hash == receivedTip.PreviousHash:
		if !e.ledger.AppendBlock(receivedTip) {
			return Rejected
		}
		e.announce()
		return Appended

	case len(received) == 1:
		e.logger.Info("lone tip does not link to held chain, querying all peers")
		e.peers.Broadcast(protocol.QueryAll())
		return QueriedAll

	default:
		if !e.ledger.ReplaceChain(received) {
			return Rejected
		}
		e.announce()
		return Replaced
	}
}

// Mine creates a block carrying data on top of the held tip, appends it and
// announces it to all peers.
func (e *Engine) Mine(data string) (ledger.Block, bool) {
	b := e.ledger.GenerateNextBlock(data)
	if !e.ledger.AppendBlock(b) {
		return ledger.Block{}, false
	}
	metrics.RecordMined()
	e.logger.Info("block mined", zap.Int64("index", b.Index), zap.String("hash", b.Hash))
	e.announce()
	return b, true
}

func (e *Engine) announce() {
	metrics.SetChainHeight(e.ledger.Latest().Index)
	e.peers.Broadcast(e.latestMessage())
}

func (e *Engine) latestMessage() protocol.Message {
	return protocol.ResponseBlockchain([]ledger.Block{e.ledger.Latest()})
}

func (e *Engine) reply(to Sender, m protocol.Message) {
	if err := to.Send(m); err != nil {
		e.logger.Debug("reply failed", zap.String("session", to.ID()), zap.Error(err))
	}
}

// sortedByIndex returns received ordered by ascending index, copying only
// when the input is out of order.
func sortedByIndex(received []ledger.Block) []ledger.Block {
	if sort.SliceIsSorted(received, func(i, j int) bool { return received[i].Index < received[j].Index }) {
		return received
	}
	out := make([]ledger.Block, len(received))
	copy(out, received)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
