package evm

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Selector is the leading 4 bytes of contract call data, identifying the
// function that was invoked.
type Selector [4]byte

func (s Selector) String() string {
	return hexutil.Encode(s[:])
}

func SelectorFromBytes(b []byte) (Selector, bool) {
	var s Selector
	if len(b) < 4 {
		return s, false
	}
	copy(s[:], b[:4])
	return s, true
}

// EventLog is a single log entry emitted during transaction execution.
// Topic zero, when present, identifies the event; the remaining topics
// carry the indexed parameters.
type EventLog struct {
	Address  common.Address `json:"address"`
	Topics   []common.Hash  `json:"topics"`
	Data     hexutil.Bytes  `json:"data"`
	LogIndex uint64         `json:"logIndex"`
}

func (el *EventLog) Topic0() (common.Hash, bool) {
	if len(el.Topics) == 0 {
		return common.Hash{}, false
	}
	return el.Topics[0], true
}

// CallInput is the raw input data of the contract call that produced a
// transaction.
type CallInput hexutil.Bytes

// Selector returns the 4-byte function selector. The second return value
// is false when the input carries fewer than 4 bytes (plain transfers,
// empty input).
func (ci CallInput) Selector() (Selector, bool) {
	return SelectorFromBytes(ci)
}

// Arguments returns the input bytes following the selector.
func (ci CallInput) Arguments() []byte {
	if len(ci) < 4 {
		return nil
	}
	return ci[4:]
}

func (ci CallInput) MarshalJSON() ([]byte, error) {
	return json.Marshal(hexutil.Bytes(ci))
}

func (ci *CallInput) UnmarshalJSON(input []byte) error {
	return (*hexutil.Bytes)(ci).UnmarshalJSON(input)
}

// TransactionReceipt is the fully formed execution result handed to the
// decoder by an upstream collaborator. Decoding never mutates it.
type TransactionReceipt struct {
	TxHash      common.Hash    `json:"transactionHash"`
	BlockNumber uint64         `json:"blockNumber"`
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	Input       CallInput      `json:"input"`
	Status      uint64         `json:"status"`
	Logs        []EventLog     `json:"logs"`
}
