package base

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ledgersift/txdecoder/internal/config"
	"github.com/ledgersift/txdecoder/pkg/decoder/types"
	"github.com/ledgersift/txdecoder/pkg/userMessages"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Token struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Name     string         `json:"name"`
	Decimals uint8          `json:"decimals"`
}

// AssetResolver supplies token metadata. Resolution is a collaborator at
// the decoding boundary: how tokens are discovered and stored is not this
// package's concern.
type AssetResolver interface {
	ResolveToken(address common.Address) (*Token, error)
}

type StaticResolver struct {
	tokens map[common.Address]*Token
}

func NewStaticResolver(tokens []*Token) *StaticResolver {
	indexed := make(map[common.Address]*Token, len(tokens))
	for _, t := range tokens {
		indexed[t.Address] = t
	}
	return &StaticResolver{tokens: indexed}
}

// NewStaticResolverFromFile loads a JSON array of tokens.
func NewStaticResolverFromFile(path string) (*StaticResolver, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read tokens file %s", path)
	}
	var tokens []*Token
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, errors.Wrapf(err, "failed to parse tokens file %s", path)
	}
	return NewStaticResolver(tokens), nil
}

func (r *StaticResolver) ResolveToken(address common.Address) (*Token, error) {
	token, ok := r.tokens[address]
	if !ok {
		return nil, errors.Errorf("unknown token %s", address.Hex())
	}
	return token, nil
}

// Tools carries the shared state decoder modules need: the chain context,
// the user's tracked accounts, asset resolution and the user message sink.
type Tools struct {
	chain      config.Chain
	resolver   AssetResolver
	aggregator *userMessages.MessagesAggregator
	logger     *zap.Logger

	mu              sync.RWMutex
	trackedAccounts map[common.Address]struct{}
}

func NewTools(
	chain config.Chain,
	resolver AssetResolver,
	aggregator *userMessages.MessagesAggregator,
	trackedAccounts []common.Address,
	l *zap.Logger,
) *Tools {
	tracked := make(map[common.Address]struct{}, len(trackedAccounts))
	for _, addr := range trackedAccounts {
		tracked[addr] = struct{}{}
	}
	return &Tools{
		chain:           chain,
		resolver:        resolver,
		aggregator:      aggregator,
		logger:          l,
		trackedAccounts: tracked,
	}
}

func (t *Tools) Chain() config.Chain {
	return t.chain
}

func (t *Tools) Resolver() AssetResolver {
	return t.resolver
}

func (t *Tools) Aggregator() *userMessages.MessagesAggregator {
	return t.aggregator
}

func (t *Tools) IsTracked(address common.Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.trackedAccounts[address]
	return ok
}

// TrackAccount adds an account at runtime. Accounts are never removed
// while decoding is live.
func (t *Tools) TrackAccount(address common.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trackedAccounts[address] = struct{}{}
}

// TokenAmount converts an integral on-chain value to a decimal amount
// using the token's decimals.
func TokenAmount(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

// MakeEvent builds an event positioned at the context's log, leaving the
// protocol-specific fields to the caller.
func (t *Tools) MakeEvent(
	dctx *types.DecodeContext,
	eventType types.EventType,
	eventSubType types.EventSubType,
	counterparty types.Counterparty,
	asset string,
	amount decimal.Decimal,
	notes string,
) *types.DecodedEvent {
	return &types.DecodedEvent{
		TxHash:        dctx.Receipt.TxHash,
		SequenceIndex: dctx.Log.LogIndex,
		Address:       dctx.Log.Address,
		EventType:     eventType,
		EventSubType:  eventSubType,
		Counterparty:  counterparty,
		Asset:         asset,
		Amount:        amount,
		Notes:         notes,
		Location:      t.chain.String(),
	}
}

// NotifyUser surfaces an asset identification problem hit while decoding.
// The message wording is load-bearing: downstream tooling matches on it.
func (t *Tools) NotifyUser(event *types.DecodedEvent, counterparty types.Counterparty) {
	t.aggregator.AddError(fmt.Sprintf(
		"Could not identify asset %s decoding ethereum event in %s. "+
			"Make sure that it has all the required properties (name, symbol and decimals) "+
			"and try to decode the event again %s.",
		event.Asset, counterparty, event.TxHash,
	))
	t.logger.Sugar().Warnw("Could not identify asset while decoding",
		zap.String("asset", event.Asset),
		zap.String("counterparty", string(counterparty)),
		zap.String("txHash", event.TxHash.String()),
	)
}
