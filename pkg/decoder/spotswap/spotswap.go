package spotswap

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ledgersift/txdecoder/pkg/addressCache"
	"github.com/ledgersift/txdecoder/pkg/clients/graph"
	"github.com/ledgersift/txdecoder/pkg/decoder/base"
	"github.com/ledgersift/txdecoder/pkg/decoder/types"
	"github.com/ledgersift/txdecoder/pkg/evm"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"
)

const (
	ModuleName                          = "spotswap"
	CounterpartyName types.Counterparty = "spotswap"
)

var (
	// swapExactTokensForTokens(uint256,uint256,address[],address,uint256)
	RouterSwapSelector = evm.Selector{0x38, 0xed, 0x17, 0x39}

	SwapTopic = crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)"))
	MintTopic = crypto.Keccak256Hash([]byte("Mint(address,uint256,uint256)"))
	BurnTopic = crypto.Keccak256Hash([]byte("Burn(address,uint256,uint256,address)"))
	SyncTopic = crypto.Keccak256Hash([]byte("Sync(uint112,uint112)"))
)

// poolsQuery pages through pools by creation time; $since advances to the
// newest timestamp of the previous page.
const poolsQuery = `
	pools(first: $limit, where: {createdAtTimestamp_gt: $since}, orderBy: createdAtTimestamp, orderDirection: asc) {
		id
		createdAtTimestamp
	}}`

// SpotSwap decodes the SpotSwap AMM: swaps through its pools and router,
// and pool share movements. The pool set starts from the address cache and
// grows through subgraph reloads.
type SpotSwap struct {
	tools  *base.Tools
	graph  *graph.Client
	cache  *addressCache.Store
	logger *zap.Logger

	mu            sync.RWMutex
	pools         map[common.Address]struct{}
	lastCreatedAt int64
}

// NewSpotSwap builds the module. The graph client and the cache may each
// be nil: without a client reloads are inert, without a cache discovered
// pools do not survive restarts.
func NewSpotSwap(tools *base.Tools, graphClient *graph.Client, cache *addressCache.Store, l *zap.Logger) (*SpotSwap, error) {
	m := &SpotSwap{
		tools:  tools,
		graph:  graphClient,
		cache:  cache,
		logger: l,
		pools:  make(map[common.Address]struct{}),
	}
	if cache != nil {
		cached, err := cache.Get(tools.Chain(), ModuleName)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load cached spotswap pools")
		}
		for _, addr := range cached {
			m.pools[addr] = struct{}{}
		}
	}
	return m, nil
}

func (m *SpotSwap) Name() string {
	return ModuleName
}

func (m *SpotSwap) Counterparties() []types.CounterpartyDetails {
	return []types.CounterpartyDetails{
		{Identifier: CounterpartyName, Label: "SpotSwap", Image: "spotswap.svg"},
	}
}

func (m *SpotSwap) AddressesToDecoders() map[common.Address]types.EventDecodeFunc {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rules := make(map[common.Address]types.EventDecodeFunc, len(m.pools))
	for addr := range m.pools {
		rules[addr] = m.decodePoolLog
	}
	return rules
}

func (m *SpotSwap) DecodingByInputData() map[evm.Selector]map[common.Hash]types.EventDecodeFunc {
	return map[evm.Selector]map[common.Hash]types.EventDecodeFunc{
		RouterSwapSelector: {SwapTopic: m.decodeRouterSwap},
	}
}

func (m *SpotSwap) EnricherRules() []types.EnricherFunc {
	return []types.EnricherFunc{m.enrichPoolTokenMovements}
}

func (m *SpotSwap) PostDecodingRules() map[types.Counterparty][]types.PrioritizedRule {
	return map[types.Counterparty][]types.PrioritizedRule{
		CounterpartyName: {{Priority: 1, Rule: m.mergeSwapLegs}},
	}
}

func (m *SpotSwap) PossibleEvents() map[types.Counterparty][]types.EventPair {
	return map[types.Counterparty][]types.EventPair{
		CounterpartyName: {
			{Type: types.EventType_Trade, SubType: types.EventSubType_Spend},
			{Type: types.EventType_Trade, SubType: types.EventSubType_Receive},
			{Type: types.EventType_Spend, SubType: types.EventSubType_None},
			{Type: types.EventType_Receive, SubType: types.EventSubType_None},
			{Type: types.EventType_Transfer, SubType: types.EventSubType_None},
			{Type: types.EventType_Informational, SubType: types.EventSubType_None},
		},
	}
}

func (m *SpotSwap) PossibleProducts() map[types.Counterparty][]types.Product {
	return map[types.Counterparty][]types.Product{
		CounterpartyName: {types.Product_Pool},
	}
}

func (m *SpotSwap) isKnownPool(addr common.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.pools[addr]
	return ok
}

// decodePoolLog handles every log a known pool emits. Swaps tag their
// transfer legs for the merge rule; the pool contract doubles as its LP
// token, so Transfer and Approval logs are token movements; Mint, Burn and
// Sync say nothing the transfer legs do not.
func (m *SpotSwap) decodePoolLog(dctx *types.DecodeContext) (*types.DecodedEvent, error) {
	topic0, ok := dctx.Log.Topic0()
	if !ok {
		return nil, nil
	}
	switch topic0 {
	case SwapTopic:
		m.tagSwapLegs(dctx)
	case base.TransferTopic:
		return m.tools.DecodeTokenTransfer(dctx, CounterpartyName)
	case base.ApprovalTopic:
		return m.tools.DecodeTokenApproval(dctx, CounterpartyName)
	case MintTopic, BurnTopic, SyncTopic:
		// Liquidity bookkeeping, already covered by the transfer legs.
	}
	return nil, nil
}

// decodeRouterSwap handles Swap logs reached through the router selector,
// which also covers pools not indexed yet.
func (m *SpotSwap) decodeRouterSwap(dctx *types.DecodeContext) (*types.DecodedEvent, error) {
	if m.tagSwapLegs(dctx) {
		return nil, nil
	}
	if m.isKnownPool(dctx.Log.Address) {
		return nil, nil
	}
	return m.tools.MakeEvent(dctx, types.EventType_Informational, types.EventSubType_None,
		CounterpartyName, "", decimal.Zero,
		fmt.Sprintf("Swap in a SpotSwap pool not indexed yet: %s", dctx.Log.Address.Hex()),
	), nil
}

// tagSwapLegs claims the nearest unclaimed transfer legs for this swap. A
// pool transfers the input tokens in and the output tokens out before
// emitting Swap, so both legs precede the Swap log.
func (m *SpotSwap) tagSwapLegs(dctx *types.DecodeContext) bool {
	var spend, receive *types.DecodedEvent
	for i := len(dctx.DecodedEvents) - 1; i >= 0 && (spend == nil || receive == nil); i-- {
		evt := dctx.DecodedEvents[i]
		if evt.Counterparty != "" || evt.EventSubType != types.EventSubType_None {
			continue
		}
		switch evt.EventType {
		case types.EventType_Receive:
			if receive == nil {
				receive = evt
			}
		case types.EventType_Spend:
			if spend == nil {
				spend = evt
			}
		}
	}
	if spend == nil || receive == nil {
		return false
	}

	pool := strings.ToLower(dctx.Log.Address.Hex())
	for _, evt := range []*types.DecodedEvent{spend, receive} {
		evt.Counterparty = CounterpartyName
		if evt.ExtraData == nil {
			evt.ExtraData = make(map[string]any)
		}
		evt.ExtraData["pool"] = pool
	}
	return true
}

// enrichPoolTokenMovements attributes events emitted by a known pool that
// no rule claimed, which are LP token movements, to spotswap.
func (m *SpotSwap) enrichPoolTokenMovements(ectx *types.EnrichmentContext) error {
	for _, evt := range ectx.Events {
		if evt.Counterparty != "" || !m.isKnownPool(evt.Address) {
			continue
		}
		evt.Counterparty = CounterpartyName
		if evt.ExtraData == nil {
			evt.ExtraData = make(map[string]any)
		}
		evt.ExtraData["product"] = string(types.Product_Pool)
	}
	return nil
}

// mergeSwapLegs pairs each tagged spend with the following receive of the
// same pool and rewrites the pair as the two legs of a trade, spend first.
func (m *SpotSwap) mergeSwapLegs(events []*types.DecodedEvent) ([]*types.DecodedEvent, error) {
	out := make([]*types.DecodedEvent, 0, len(events))
	used := make(map[int]struct{}, len(events))
	for i, evt := range events {
		if _, taken := used[i]; taken {
			continue
		}
		if !isSwapLeg(evt, types.EventType_Spend) {
			out = append(out, evt)
			continue
		}

		receiveAt := -1
		for j := i + 1; j < len(events); j++ {
			if _, taken := used[j]; taken {
				continue
			}
			if isSwapLeg(events[j], types.EventType_Receive) && events[j].ExtraData["pool"] == evt.ExtraData["pool"] {
				receiveAt = j
				break
			}
		}
		if receiveAt == -1 {
			out = append(out, evt)
			continue
		}
		receive := events[receiveAt]
		used[receiveAt] = struct{}{}

		evt.EventType = types.EventType_Trade
		evt.EventSubType = types.EventSubType_Spend
		evt.Notes = fmt.Sprintf("Swap %s %s in spotswap", evt.Amount, m.assetSymbol(evt.Asset))
		receive.EventType = types.EventType_Trade
		receive.EventSubType = types.EventSubType_Receive
		receive.Notes = fmt.Sprintf("Receive %s %s as the result of a swap in spotswap",
			receive.Amount, m.assetSymbol(receive.Asset))
		out = append(out, evt, receive)
	}
	return out, nil
}

func isSwapLeg(evt *types.DecodedEvent, eventType types.EventType) bool {
	if evt.EventType != eventType || evt.EventSubType != types.EventSubType_None {
		return false
	}
	_, tagged := evt.ExtraData["pool"]
	return tagged
}

func (m *SpotSwap) assetSymbol(asset string) string {
	resolver := m.tools.Resolver()
	if resolver == nil || !common.IsHexAddress(asset) {
		return asset
	}
	token, err := resolver.ResolveToken(common.HexToAddress(asset))
	if err != nil {
		return asset
	}
	return token.Symbol
}

// ReloadData fetches pools created since the last reload and returns decode
// mappings for the new ones only. Discovered pools are persisted through
// the address cache before being handed to the dispatcher.
func (m *SpotSwap) ReloadData(ctx context.Context) (map[common.Address]types.EventDecodeFunc, error) {
	if m.graph == nil {
		return nil, nil
	}

	discovered, err := m.fetchNewPools(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	fresh := make([]common.Address, 0, len(discovered))
	for _, addr := range discovered {
		if _, known := m.pools[addr]; known {
			continue
		}
		m.pools[addr] = struct{}{}
		fresh = append(fresh, addr)
	}
	m.mu.Unlock()

	if len(fresh) == 0 {
		return nil, nil
	}

	if m.cache != nil {
		if err := m.cache.Put(m.tools.Chain(), ModuleName, fresh); err != nil {
			m.logger.Sugar().Warnw("Failed to persist discovered spotswap pools",
				zap.Int("pools", len(fresh)),
				zap.Error(err),
			)
		}
	}
	m.logger.Sugar().Infow("Discovered new spotswap pools", zap.Int("pools", len(fresh)))

	mappings := make(map[common.Address]types.EventDecodeFunc, len(fresh))
	for _, addr := range fresh {
		mappings[addr] = m.decodePoolLog
	}
	return mappings, nil
}

func (m *SpotSwap) fetchNewPools(ctx context.Context) ([]common.Address, error) {
	m.mu.RLock()
	since := m.lastCreatedAt
	m.mu.RUnlock()

	paramTypes := orderedmap.New[string, string]()
	paramTypes.Set("$limit", "Int!")
	paramTypes.Set("$since", "Int!")

	discovered := make([]common.Address, 0)
	for {
		result, err := m.graph.Query(ctx, poolsQuery, paramTypes, map[string]any{
			"limit": graph.GraphQueryLimit,
			"since": since,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to query spotswap pools")
		}
		batch, err := parsePoolsResult(result)
		if err != nil {
			return nil, err
		}
		for _, pool := range batch {
			discovered = append(discovered, pool.address)
			if pool.createdAt > since {
				since = pool.createdAt
			}
		}
		if len(batch) < graph.GraphQueryLimit {
			break
		}
	}

	m.mu.Lock()
	if since > m.lastCreatedAt {
		m.lastCreatedAt = since
	}
	m.mu.Unlock()
	return discovered, nil
}

type subgraphPool struct {
	address   common.Address
	createdAt int64
}

func parsePoolsResult(result map[string]any) ([]subgraphPool, error) {
	raw, ok := result["pools"].([]any)
	if !ok {
		return nil, errors.New("graph response is missing the pools collection")
	}
	pools := make([]subgraphPool, 0, len(raw))
	for _, entry := range raw {
		fields, ok := entry.(map[string]any)
		if !ok {
			return nil, errors.New("graph response contains a malformed pool entry")
		}
		id, ok := fields["id"].(string)
		if !ok || !common.IsHexAddress(id) {
			return nil, errors.Errorf("graph response contains a malformed pool id: %v", fields["id"])
		}
		createdAt, err := parseTimestamp(fields["createdAtTimestamp"])
		if err != nil {
			return nil, err
		}
		pools = append(pools, subgraphPool{
			address:   common.HexToAddress(id),
			createdAt: createdAt,
		})
	}
	return pools, nil
}

func parseTimestamp(v any) (int64, error) {
	switch t := v.(type) {
	case string:
		parsed, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "failed to parse pool timestamp %q", t)
		}
		return parsed, nil
	case float64:
		return int64(t), nil
	default:
		return 0, errors.Errorf("unexpected pool timestamp type %T", v)
	}
}
