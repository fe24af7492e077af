package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// GenesisHash is the well-known hash of the genesis block. Every node ships
// the same genesis block, so every valid chain starts from this value.
const GenesisHash = "816534932c2b7154836da6afc367695e6337db8a921823784c14378abed4f7d7"

const (
	genesisPreviousHash = "0"
	genesisTimestamp    = 1465154705
	genesisData         = "my genesis block!!"
)

// Block is a single link in the chain.
type Block struct {
	Index        int64  `json:"index"`
	PreviousHash string `json:"previousHash"`
	Timestamp    int64  `json:"timestamp"` // seconds since epoch
	Data         string `json:"data"`
	Hash         string `json:"hash"`
}

// Genesis returns the hard-coded first block shared by all nodes.
func Genesis() Block {
	return Block{
		Index:        0,
		PreviousHash: genesisPreviousHash,
		Timestamp:    genesisTimestamp,
		Data:         genesisData,
		Hash:         GenesisHash,
	}
}

// CalculateHash returns the hex-encoded SHA-256 of the concatenated block
// fields. Integers are rendered in base 10 with no separators.
func CalculateHash(index int64, previousHash string, timestamp int64, data string) string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatInt(index, 10)))
	h.Write([]byte(previousHash))
	h.Write([]byte(strconv.FormatInt(timestamp, 10)))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeHash recomputes the hash of b from its fields, ignoring b.Hash.
func (b Block) ComputeHash() string {
	return CalculateHash(b.Index, b.PreviousHash, b.Timestamp, b.Data)
}

// NextBlock builds the successor of prev carrying data, stamped at timestamp.
func NextBlock(prev Block, timestamp int64, data string) Block {
	b := Block{
		Index:        prev.Index + 1,
		PreviousHash: prev.Hash,
		Timestamp:    timestamp,
		Data:         data,
	}
	b.Hash = b.ComputeHash()
	return b
}

func (b Block) String() string {
	return fmt.Sprintf("block{index=%d prev=%s ts=%d hash=%s}",
		b.Index, shortHash(b.PreviousHash), b.Timestamp, shortHash(b.Hash))
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
