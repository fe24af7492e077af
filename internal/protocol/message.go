// Package protocol defines the peer-to-peer gossip messages and their wire
// encoding.
//
// Each message is one self-contained JSON object:
//
//	{"type": 0}                                 QUERY_LATEST
//	{"type": 1}                                 QUERY_ALL
//	{"type": 2, "data": "[{...block...}, ...]"} RESPONSE_BLOCKCHAIN
//
// The data field of a RESPONSE_BLOCKCHAIN is itself JSON text holding an
// ordered array of blocks. Framing is left to the transport.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmerrifield20/naivechain/internal/ledger"
)

var (
	// ErrMalformed is returned for frames or payloads that cannot be parsed.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType is returned for a type tag outside the known set.
	ErrUnknownType = errors.New("unknown message type")
)

// MessageType is the discriminator of a gossip message.
type MessageType int

const (
	QueryLatestType        MessageType = 0
	QueryAllType           MessageType = 1
	ResponseBlockchainType MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case QueryLatestType:
		return "QUERY_LATEST"
	case QueryAllType:
		return "QUERY_ALL"
	case ResponseBlockchainType:
		return "RESPONSE_BLOCKCHAIN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(t))
	}
}

// Valid reports whether t is one of the three known tags.
func (t MessageType) Valid() bool {
	return t >= QueryLatestType && t <= ResponseBlockchainType
}

// Message is a single gossip message.
type Message struct {
	Type MessageType `json:"type"`
	Data string      `json:"data,omitempty"`
}

// QueryLatest asks a peer for its tip block.
func QueryLatest() Message {
	return Message{Type: QueryLatestType}
}

// QueryAll asks a peer for its whole chain.
func QueryAll() Message {
	return Message{Type: QueryAllType}
}

// ResponseBlockchain carries blocks, either a lone tip or a full chain.
func ResponseBlockchain(blocks []ledger.Block) Message {
	if blocks == nil {
		blocks = []ledger.Block{}
	}
	// Marshalling a slice of plain structs cannot fail.
	data, _ := json.Marshal(blocks)
	return Message{Type: ResponseBlockchainType, Data: string(data)}
}

// Blocks decodes the block sequence carried by a RESPONSE_BLOCKCHAIN message.
// An empty sequence is reported as malformed since it has no tip.
func (m Message) Blocks() ([]ledger.Block, error) {
	if m.Type != ResponseBlockchainType {
		return nil, fmt.Errorf("%w: %s carries no blocks", ErrMalformed, m.Type)
	}
	var blocks []ledger.Block
	if err := json.Unmarshal([]byte(m.Data), &blocks); err != nil {
		return nil, fmt.Errorf("%w: decode blocks: %v", ErrMalformed, err)
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: empty block sequence", ErrMalformed)
	}
	return blocks, nil
}

// Encode renders m as a wire frame.
func Encode(m Message) ([]byte, error) {
	if !m.Type.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, int(m.Type))
	}
	return json.Marshal(m)
}

// Decode parses a wire frame. The payload of a RESPONSE_BLOCKCHAIN is not
// inspected here; use Message.Blocks.
func Decode(frame []byte) (Message, error) {
	var raw struct {
		Type *MessageType `json:"type"`
		Data string       `json:"data"`
	}
	if err := json.Unmarshal(frame, &raw); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.Type == nil {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if !raw.Type.Valid() {
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownType, int(*raw.Type))
	}
	return Message{Type: *raw.Type, Data: raw.Data}, nil
}
