package types

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ledgersift/txdecoder/pkg/evm"
	"github.com/shopspring/decimal"
)

// Counterparty identifies the protocol an event is attributed to. The set
// of valid identifiers is closed at registration time: a module may only
// reference counterparties it declared through Counterparties().
type Counterparty string

type CounterpartyDetails struct {
	Identifier Counterparty `json:"identifier"`
	Label      string       `json:"label"`
	Image      string       `json:"image,omitempty"`
}

type EventType string

const (
	EventType_Trade         EventType = "trade"
	EventType_Transfer      EventType = "transfer"
	EventType_Spend         EventType = "spend"
	EventType_Receive       EventType = "receive"
	EventType_Deposit       EventType = "deposit"
	EventType_Withdrawal    EventType = "withdrawal"
	EventType_Staking       EventType = "staking"
	EventType_Deploy        EventType = "deploy"
	EventType_Informational EventType = "informational"
)

type EventSubType string

const (
	EventSubType_None         EventSubType = "none"
	EventSubType_Fee          EventSubType = "fee"
	EventSubType_Spend        EventSubType = "spend"
	EventSubType_Receive      EventSubType = "receive"
	EventSubType_Approve      EventSubType = "approve"
	EventSubType_DepositAsset EventSubType = "deposit asset"
	EventSubType_RemoveAsset  EventSubType = "remove asset"
	EventSubType_Reward       EventSubType = "reward"
	EventSubType_Governance   EventSubType = "governance"
)

// EventPair is a (type, subtype) combination a module declares it may emit.
type EventPair struct {
	Type    EventType    `json:"type"`
	SubType EventSubType `json:"subType"`
}

func (p EventPair) String() string {
	return string(p.Type) + "/" + string(p.SubType)
}

type Product string

const (
	Product_Pool    Product = "pool"
	Product_Staking Product = "staking"
	Product_Gauge   Product = "gauge"
	Product_Lending Product = "lending"
)

// DecodedEvent is one structured history event produced from a transaction
// receipt.
type DecodedEvent struct {
	TxHash        common.Hash     `json:"txHash"`
	SequenceIndex uint64          `json:"sequenceIndex"`
	Address       common.Address  `json:"address"`
	EventType     EventType       `json:"eventType"`
	EventSubType  EventSubType    `json:"eventSubType"`
	Counterparty  Counterparty    `json:"counterparty,omitempty"`
	Asset         string          `json:"asset,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Notes         string          `json:"notes,omitempty"`
	Location      string          `json:"location,omitempty"`
	ExtraData     map[string]any  `json:"extraData,omitempty"`
}

// Clone returns a copy that post-decoding rules may transform freely.
// ExtraData values are shared.
func (e *DecodedEvent) Clone() *DecodedEvent {
	clone := *e
	if e.ExtraData != nil {
		clone.ExtraData = make(map[string]any, len(e.ExtraData))
		for k, v := range e.ExtraData {
			clone.ExtraData[k] = v
		}
	}
	return &clone
}

// DecodeContext is handed to every per-log decode function. DecodedEvents
// holds the events produced so far for this receipt, in log order.
type DecodeContext struct {
	Log           *evm.EventLog
	Receipt       *evm.TransactionReceipt
	DecodedEvents []*DecodedEvent
}

// EnrichmentContext is handed to enricher rules after per-log decoding.
// Enrichers mutate events in place and must be idempotent.
type EnrichmentContext struct {
	Events  []*DecodedEvent
	Receipt *evm.TransactionReceipt
}

// EventDecodeFunc translates one log into at most one event. Returning a
// nil event means the rule did not produce anything for this log; an error
// is contained by the dispatcher and never aborts the transaction.
type EventDecodeFunc func(dctx *DecodeContext) (*DecodedEvent, error)

type EnricherFunc func(ectx *EnrichmentContext) error

// PostDecodeFunc receives one counterparty's events, in log order, and
// returns their replacement. Events may be dropped, merged, transformed or
// reordered.
type PostDecodeFunc func(events []*DecodedEvent) ([]*DecodedEvent, error)

// PrioritizedRule orders post-decoding rules: lower priority runs earlier.
type PrioritizedRule struct {
	Priority int
	Rule     PostDecodeFunc
}

// DecoderModule is the mandatory surface of a decoding plugin. Everything
// else a module can do is expressed through the optional capability
// interfaces below, discovered with type assertions at registration time.
type DecoderModule interface {
	Name() string
	Counterparties() []CounterpartyDetails
}

// AddressDecoder maps contract addresses to the decode function for logs
// they emit.
type AddressDecoder interface {
	AddressesToDecoders() map[common.Address]EventDecodeFunc
}

// InputDataDecoder keys decode functions by the transaction's 4-byte call
// selector and the log's topic zero. A hit here takes precedence over the
// address match for that log.
type InputDataDecoder interface {
	DecodingByInputData() map[evm.Selector]map[common.Hash]EventDecodeFunc
}

// GenericDecoder provides fallback rules tried, in order, on logs no keyed
// rule claimed.
type GenericDecoder interface {
	DecodingRules() []EventDecodeFunc
}

type Enricher interface {
	EnricherRules() []EnricherFunc
}

type PostDecoder interface {
	PostDecodingRules() map[Counterparty][]PrioritizedRule
}

// CounterpartyTagger attributes events emitted at the given addresses to a
// counterparty for the post-decoding partition.
type CounterpartyTagger interface {
	AddressesToCounterparties() map[common.Address]Counterparty
}

// EventDeclarer closes the contract on what a module may emit. When
// implemented, an emitted (type, subtype) pair outside the declared set is
// a programming error: logged loudly, never fatal.
type EventDeclarer interface {
	PossibleEvents() map[Counterparty][]EventPair
}

type ProductDeclarer interface {
	PossibleProducts() map[Counterparty][]Product
}

// ReloadableDecoder lets a module refresh its internal state from a remote
// or local source. ReloadData returns only the address mappings that are
// new since the last call; nil means nothing changed. Address sets grow
// monotonically, a reload never removes addresses.
type ReloadableDecoder interface {
	ReloadData(ctx context.Context) (map[common.Address]EventDecodeFunc, error)
}
