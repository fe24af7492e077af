package ledger

import (
	"errors"
	"fmt"
)

// Validation failures. They are reported for diagnostics only; callers on the
// gossip path treat every one of them as a silent rejection.
var (
	ErrEmptyChain          = errors.New("chain is empty")
	ErrInvalidGenesis      = errors.New("first block is not the genesis block")
	ErrInvalidIndex        = errors.New("invalid index")
	ErrInvalidPreviousHash = errors.New("invalid previous hash")
	ErrInvalidHash         = errors.New("invalid hash")
)

// ValidateNewBlock checks that candidate may follow predecessor. The rules are
// applied in order and the first violation is returned: index continuity,
// previous-hash linkage, then the block's own hash.
func ValidateNewBlock(candidate, predecessor Block) error {
	if predecessor.Index+1 != candidate.Index {
		return fmt.Errorf("%w: want %d, got %d", ErrInvalidIndex, predecessor.Index+1, candidate.Index)
	}
	if predecessor.Hash != candidate.PreviousHash {
		return fmt.Errorf("%w: want %q, got %q", ErrInvalidPreviousHash, predecessor.Hash, candidate.PreviousHash)
	}
	if computed := candidate.ComputeHash(); computed != candidate.Hash {
		return fmt.Errorf("%w: computed %q, stored %q", ErrInvalidHash, computed, candidate.Hash)
	}
	return nil
}

// ValidateChain checks a whole candidate chain. The first block must equal the
// genesis block field for field; every later block must be a valid successor
// of the one before it.
func ValidateChain(chain []Block) error {
	if len(chain) == 0 {
		return ErrEmptyChain
	}
	if chain[0] != Genesis() {
		return ErrInvalidGenesis
	}
	for i := 1; i < len(chain); i++ {
		if err := ValidateNewBlock(chain[i], chain[i-1]); err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
	}
	return nil
}

// Rule names the validation rule that err violates, for log fields and
// metric labels. It returns "unknown" for errors outside this package.
func Rule(err error) string {
	switch {
	case errors.Is(err, ErrEmptyChain):
		return "empty_chain"
	case errors.Is(err, ErrInvalidGenesis):
		return "genesis"
	case errors.Is(err, ErrInvalidIndex):
		return "index"
	case errors.Is(err, ErrInvalidPreviousHash):
		return "previous_hash"
	case errors.Is(err, ErrInvalidHash):
		return "hash"
	default:
		return "unknown"
	}
}
