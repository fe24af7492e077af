// Package ledger holds a node's copy of the hash-linked block chain.
//
// The chain always begins with the hard-coded genesis block returned by
// Genesis. It grows one block at a time through AppendBlock, or is swapped
// wholesale for a strictly longer valid chain through ReplaceChain. Invalid
// input is never an error condition: it is logged and ignored, because peers
// routinely offer stale or divergent data.
//
// A Ledger is not safe for concurrent use. The node's event loop is its only
// caller.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrBlockNotFound is returned by Get when no block has the requested index.
var ErrBlockNotFound = errors.New("block not found")

// RejectFunc is an optional callback invoked whenever a candidate block or
// chain is rejected. rule is the value of Rule for the violation.
type RejectFunc func(rule string)

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used by GenerateNextBlock.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithRejectHook registers a callback for rejected candidates.
func WithRejectHook(fn RejectFunc) Option {
	return func(l *Ledger) { l.onReject = fn }
}

// Ledger owns the chain held by this node.
type Ledger struct {
	blocks   []Block
	now      func() time.Time
	onReject RejectFunc
	logger   *zap.Logger
}

// New creates a Ledger holding only the genesis block.
func New(logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		blocks: []Block{Genesis()},
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Latest returns the tip of the chain. The chain is never empty.
func (l *Ledger) Latest() Block {
	return l.blocks[len(l.blocks)-1]
}

// Len returns the number of blocks, genesis included.
func (l *Ledger) Len() int {
	return len(l.blocks)
}

// Blocks returns a copy of the held chain.
func (l *Ledger) Blocks() []Block {
	out := make([]Block, len(l.blocks))
	copy(out, l.blocks)
	return out
}

// Get returns the block at index.
func (l *Ledger) Get(index int64) (Block, error) {
	if index < 0 || index >= int64(len(l.blocks)) {
		return Block{}, fmt.Errorf("%w: index %d", ErrBlockNotFound, index)
	}
	return l.blocks[index], nil
}

// GenerateNextBlock builds a block carrying data on top of the current tip.
// It does not append the block.
func (l *Ledger) GenerateNextBlock(data string) Block {
	return NextBlock(l.Latest(), l.now().Unix(), data)
}

// IsValidNewBlock reports whether candidate may follow predecessor.
func (l *Ledger) IsValidNewBlock(candidate, predecessor Block) bool {
	if err := ValidateNewBlock(candidate, predecessor); err != nil {
		l.reject("block rejected", err, zap.Int64("index", candidate.Index))
		return false
	}
	return true
}

// IsValidChain reports whether chain starts at genesis and links correctly
// all the way to its tip.
func (l *Ledger) IsValidChain(chain []Block) bool {
	if err := ValidateChain(chain); err != nil {
		l.reject("chain rejected", err, zap.Int("length", len(chain)))
		return false
	}
	return true
}

// AppendBlock appends candidate if it is a valid successor of the tip and
// reports whether it did.
func (l *Ledger) AppendBlock(candidate Block) bool {
	if !l.IsValidNewBlock(candidate, l.Latest()) {
		return false
	}
	l.blocks = append(l.blocks, candidate)
	l.logger.Debug("block appended", zap.Int64("index", candidate.Index), zap.String("hash", candidate.Hash))
	return true
}

// ReplaceChain adopts chain if it is valid and strictly longer than the held
// chain. Equal-length chains never replace, so two nodes on sibling forks of
// the same height both keep their own.
func (l *Ledger) ReplaceChain(chain []Block) bool {
	if !l.IsValidChain(chain) {
		return false
	}
	if len(chain) <= len(l.blocks) {
		l.logger.Debug("chain not longer than held chain",
			zap.Int("received", len(chain)),
			zap.Int("held", len(l.blocks)),
		)
		return false
	}
	replacement := make([]Block, len(chain))
	copy(replacement, chain)
	l.blocks = replacement
	l.logger.Info("chain replaced",
		zap.Int("length", len(replacement)),
		zap.String("tip", l.Latest().Hash),
	)
	return true
}

// Verify walks the held chain and returns the first inconsistency found.
func (l *Ledger) Verify() error {
	return ValidateChain(l.blocks)
}

func (l *Ledger) reject(msg string, err error, fields ...zap.Field) {
	rule := Rule(err)
	fields = append(fields, zap.String("rule", rule), zap.Error(err))
	l.logger.Info(msg, fields...)
	if l.onReject != nil {
		l.onReject(rule)
	}
}
