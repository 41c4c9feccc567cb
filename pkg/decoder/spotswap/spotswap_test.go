package spotswap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jarcoal/httpmock"
	"github.com/ledgersift/txdecoder/internal/config"
	"github.com/ledgersift/txdecoder/internal/metrics"
	"github.com/ledgersift/txdecoder/internal/tests"
	"github.com/ledgersift/txdecoder/pkg/addressCache"
	"github.com/ledgersift/txdecoder/pkg/clients/graph"
	"github.com/ledgersift/txdecoder/pkg/decoder"
	"github.com/ledgersift/txdecoder/pkg/decoder/base"
	"github.com/ledgersift/txdecoder/pkg/decoder/types"
	"github.com/ledgersift/txdecoder/pkg/evm"
	"github.com/ledgersift/txdecoder/pkg/userMessages"
	"github.com/stretchr/testify/assert"
)

const testEndpoint = "http://graph.test/subgraphs/name/spotswap/pools"

var (
	usdcAddress = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")

	// 2.5 DAI and 100 USDC in their on-chain units.
	daiWei    = new(big.Int).Mul(big.NewInt(25), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil))
	usdcUnits = big.NewInt(100_000_000)
)

type harness struct {
	module     *SpotSwap
	tools      *base.Tools
	aggregator *userMessages.MessagesAggregator
	cache      *addressCache.Store
	td         *decoder.TransactionDecoder
}

func setup(t *testing.T, graphClient *graph.Client, seedPools ...common.Address) *harness {
	l := tests.GetLogger()
	aggregator := userMessages.NewMessagesAggregator(l)
	resolver := base.NewStaticResolver([]*base.Token{
		{Address: tests.TokenAddress, Symbol: "DAI", Name: "Dai Stablecoin", Decimals: 18},
		{Address: usdcAddress, Symbol: "USDC", Name: "USD Coin", Decimals: 6},
		{Address: tests.PoolAddress, Symbol: "SLP", Name: "SpotSwap LP", Decimals: 18},
	})
	tools := base.NewTools(config.Chain_Ethereum, resolver, aggregator,
		[]common.Address{tests.TrackedAccount}, l)

	cache, err := addressCache.Open(filepath.Join(t.TempDir(), "pools"))
	assert.Nil(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	if len(seedPools) > 0 {
		assert.Nil(t, cache.Put(config.Chain_Ethereum, ModuleName, seedPools))
	}

	module, err := NewSpotSwap(tools, graphClient, cache, l)
	assert.Nil(t, err)

	sink, _ := metrics.NewMetricsSink(&metrics.MetricsSinkConfig{}, nil)
	td := decoder.NewTransactionDecoder(config.Chain_Ethereum, tools, aggregator, sink, l)
	assert.Nil(t, td.RegisterModule(module))

	return &harness{module: module, tools: tools, aggregator: aggregator, cache: cache, td: td}
}

func newGraphClient(t *testing.T) *graph.Client {
	client, err := graph.NewClient(testEndpoint, tests.GetLogger(),
		graph.WithHTTPClient(&http.Client{Transport: httpmock.DefaultTransport}))
	assert.Nil(t, err)
	return client
}

func transferLog(token, from, to common.Address, amount *big.Int) evm.EventLog {
	return evm.EventLog{
		Address: token,
		Topics: []common.Hash{
			base.TransferTopic,
			tests.AddressTopic(from),
			tests.AddressTopic(to),
		},
		Data: tests.AmountData(amount),
	}
}

func poolSwapLog(pool common.Address) evm.EventLog {
	return evm.EventLog{
		Address: pool,
		Topics: []common.Hash{
			SwapTopic,
			tests.AddressTopic(tests.RouterAddress),
			tests.AddressTopic(tests.TrackedAccount),
		},
		Data: make([]byte, 128),
	}
}

type capturedQuery struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// registerPoolsResponder answers the construction probe and then serves the
// given bodies one per query, recording each query as it arrives.
func registerPoolsResponder(captured *[]capturedQuery, bodies ...string) {
	call := 0
	httpmock.RegisterResponder("POST", testEndpoint, func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		if strings.Contains(string(body), "__typename") {
			return httpmock.NewStringResponse(200, `{"data":{"__typename":"Query"}}`), nil
		}
		var q capturedQuery
		_ = json.Unmarshal(body, &q)
		*captured = append(*captured, q)
		if call >= len(bodies) {
			return httpmock.NewStringResponse(200, `{"data":{"pools":[]}}`), nil
		}
		resp := bodies[call]
		call++
		return httpmock.NewStringResponse(200, resp), nil
	})
}

func syntheticPoolsBody(start, count int) string {
	entries := make([]string, 0, count)
	for i := 0; i < count; i++ {
		addr := common.BigToAddress(big.NewInt(int64(0x100000 + start + i)))
		entries = append(entries, fmt.Sprintf(`{"id":"%s","createdAtTimestamp":"%d"}`,
			strings.ToLower(addr.Hex()), start+i+1))
	}
	return `{"data":{"pools":[` + strings.Join(entries, ",") + `]}}`
}

func Test_SpotSwap_Capabilities(t *testing.T) {
	h := setup(t, nil)

	t.Run("Should declare its counterparty and products", func(t *testing.T) {
		cps := h.module.Counterparties()
		assert.Len(t, cps, 1)
		assert.Equal(t, CounterpartyName, cps[0].Identifier)
		assert.Equal(t, []types.Product{types.Product_Pool}, h.module.PossibleProducts()[CounterpartyName])
		assert.NotEmpty(t, h.module.PossibleEvents()[CounterpartyName])
	})
	t.Run("Should key its router rule on the swap selector and topic", func(t *testing.T) {
		byInput := h.module.DecodingByInputData()
		assert.Contains(t, byInput, RouterSwapSelector)
		assert.Contains(t, byInput[RouterSwapSelector], SwapTopic)
	})
	t.Run("Should load cached pools at construction", func(t *testing.T) {
		seeded := setup(t, nil, tests.PoolAddress)
		assert.Contains(t, seeded.module.AddressesToDecoders(), tests.PoolAddress)
	})
}

func Test_SpotSwap_SwapDecoding(t *testing.T) {
	t.Run("Should merge a router swap into trade legs", func(t *testing.T) {
		h := setup(t, nil)

		receipt := tests.NewReceipt(tests.RouterAddress, RouterSwapSelector[:],
			transferLog(tests.TokenAddress, tests.TrackedAccount, tests.PoolAddress, daiWei),
			transferLog(usdcAddress, tests.PoolAddress, tests.TrackedAccount, usdcUnits),
			poolSwapLog(tests.PoolAddress),
		)
		events, err := h.td.Decode(receipt)
		assert.NoError(t, err)
		assert.Len(t, events, 2)

		assert.Equal(t, types.EventType_Trade, events[0].EventType)
		assert.Equal(t, types.EventSubType_Spend, events[0].EventSubType)
		assert.Equal(t, CounterpartyName, events[0].Counterparty)
		assert.Equal(t, "Swap 2.5 DAI in spotswap", events[0].Notes)

		assert.Equal(t, types.EventType_Trade, events[1].EventType)
		assert.Equal(t, types.EventSubType_Receive, events[1].EventSubType)
		assert.Equal(t, "Receive 100 USDC as the result of a swap in spotswap", events[1].Notes)

		assert.Equal(t, strings.ToLower(tests.PoolAddress.Hex()), events[0].ExtraData["pool"])
		assert.Empty(t, h.aggregator.Errors())
	})
	t.Run("Should decode a direct pool swap through the address rule", func(t *testing.T) {
		h := setup(t, nil, tests.PoolAddress)

		receipt := tests.NewReceipt(tests.PoolAddress, nil,
			transferLog(tests.TokenAddress, tests.TrackedAccount, tests.PoolAddress, daiWei),
			transferLog(usdcAddress, tests.PoolAddress, tests.TrackedAccount, usdcUnits),
			poolSwapLog(tests.PoolAddress),
		)
		events, err := h.td.Decode(receipt)
		assert.NoError(t, err)
		assert.Len(t, events, 2)
		assert.Equal(t, types.EventType_Trade, events[0].EventType)
		assert.Equal(t, types.EventType_Trade, events[1].EventType)
		assert.Empty(t, h.aggregator.Errors())
	})
	t.Run("Should note a router swap in a pool not indexed yet", func(t *testing.T) {
		h := setup(t, nil)

		receipt := tests.NewReceipt(tests.RouterAddress, RouterSwapSelector[:],
			poolSwapLog(tests.PoolAddress),
		)
		events, err := h.td.Decode(receipt)
		assert.NoError(t, err)
		assert.Len(t, events, 1)
		assert.Equal(t, types.EventType_Informational, events[0].EventType)
		assert.Equal(t, CounterpartyName, events[0].Counterparty)
		assert.Contains(t, events[0].Notes, "not indexed yet")
	})
	t.Run("Should attribute LP token movements through the enricher", func(t *testing.T) {
		h := setup(t, nil, tests.PoolAddress)

		receipt := tests.NewReceipt(tests.PoolAddress, nil,
			transferLog(tests.PoolAddress, common.Address{}, tests.TrackedAccount, daiWei),
		)
		events, err := h.td.Decode(receipt)
		assert.NoError(t, err)
		assert.Len(t, events, 1)
		assert.Equal(t, types.EventType_Receive, events[0].EventType)
		assert.Equal(t, CounterpartyName, events[0].Counterparty)
		assert.Equal(t, string(types.Product_Pool), events[0].ExtraData["product"])
		assert.Contains(t, events[0].Notes, "Mint 2.5 SLP")
		assert.Empty(t, h.aggregator.Errors())
	})
}

func Test_SpotSwap_Reload(t *testing.T) {
	t.Run("Should be inert without a graph client", func(t *testing.T) {
		h := setup(t, nil)

		mappings, err := h.module.ReloadData(context.Background())
		assert.NoError(t, err)
		assert.Nil(t, mappings)
	})
	t.Run("Should discover pools and persist them", func(t *testing.T) {
		httpmock.Activate()
		defer httpmock.DeactivateAndReset()

		captured := make([]capturedQuery, 0)
		registerPoolsResponder(&captured, fmt.Sprintf(
			`{"data":{"pools":[{"id":"%s","createdAtTimestamp":"100"}]}}`,
			strings.ToLower(tests.PoolAddress.Hex()),
		))
		h := setup(t, newGraphClient(t))

		mappings, err := h.module.ReloadData(context.Background())
		assert.NoError(t, err)
		assert.Len(t, mappings, 1)
		assert.Contains(t, mappings, tests.PoolAddress)

		assert.Len(t, captured, 1)
		assert.True(t, strings.HasPrefix(captured[0].Query,
			"query ($limit: Int!, $since: Int!){pools(first: $limit,"), captured[0].Query)
		assert.Equal(t, float64(graph.GraphQueryLimit), captured[0].Variables["limit"])
		assert.Equal(t, float64(0), captured[0].Variables["since"])

		persisted, err := h.cache.Get(config.Chain_Ethereum, ModuleName)
		assert.NoError(t, err)
		assert.Equal(t, []common.Address{tests.PoolAddress}, persisted)
	})
	t.Run("Should return nothing when a reload brings no new pools", func(t *testing.T) {
		httpmock.Activate()
		defer httpmock.DeactivateAndReset()

		body := fmt.Sprintf(`{"data":{"pools":[{"id":"%s","createdAtTimestamp":"100"}]}}`,
			strings.ToLower(tests.PoolAddress.Hex()))
		captured := make([]capturedQuery, 0)
		registerPoolsResponder(&captured, body, body)
		h := setup(t, newGraphClient(t))

		mappings, err := h.module.ReloadData(context.Background())
		assert.NoError(t, err)
		assert.Len(t, mappings, 1)

		mappings, err = h.module.ReloadData(context.Background())
		assert.NoError(t, err)
		assert.Empty(t, mappings)
		// The second query only asks for pools newer than the first batch.
		assert.Len(t, captured, 2)
		assert.Equal(t, float64(100), captured[1].Variables["since"])
	})
	t.Run("Should page through a full result window", func(t *testing.T) {
		httpmock.Activate()
		defer httpmock.DeactivateAndReset()

		captured := make([]capturedQuery, 0)
		registerPoolsResponder(&captured,
			syntheticPoolsBody(0, graph.GraphQueryLimit),
			syntheticPoolsBody(graph.GraphQueryLimit, 5),
		)
		h := setup(t, newGraphClient(t))

		mappings, err := h.module.ReloadData(context.Background())
		assert.NoError(t, err)
		assert.Len(t, mappings, graph.GraphQueryLimit+5)

		assert.Len(t, captured, 2)
		assert.Equal(t, float64(0), captured[0].Variables["since"])
		assert.Equal(t, float64(graph.GraphQueryLimit), captured[1].Variables["since"])
	})
	t.Run("Should surface query failures to the caller", func(t *testing.T) {
		httpmock.Activate()
		defer httpmock.DeactivateAndReset()

		httpmock.RegisterResponder("POST", testEndpoint, func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			if strings.Contains(string(body), "__typename") {
				return httpmock.NewStringResponse(200, `{"data":{"__typename":"Query"}}`), nil
			}
			return httpmock.NewStringResponse(404, "no such subgraph"), nil
		})
		h := setup(t, newGraphClient(t))

		_, err := h.module.ReloadData(context.Background())
		assert.ErrorContains(t, err, "failed to query spotswap pools")
	})
	t.Run("Should make reloaded pools decodable through the dispatcher", func(t *testing.T) {
		httpmock.Activate()
		defer httpmock.DeactivateAndReset()

		captured := make([]capturedQuery, 0)
		registerPoolsResponder(&captured, fmt.Sprintf(
			`{"data":{"pools":[{"id":"%s","createdAtTimestamp":"100"}]}}`,
			strings.ToLower(tests.PoolAddress.Hex()),
		))
		h := setup(t, newGraphClient(t))

		added, err := h.td.ReloadModules(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 1, added)

		receipt := tests.NewReceipt(tests.PoolAddress, nil,
			transferLog(tests.TokenAddress, tests.TrackedAccount, tests.PoolAddress, daiWei),
			transferLog(usdcAddress, tests.PoolAddress, tests.TrackedAccount, usdcUnits),
			poolSwapLog(tests.PoolAddress),
		)
		events, err := h.td.Decode(receipt)
		assert.NoError(t, err)
		assert.Len(t, events, 2)
		assert.Equal(t, types.EventType_Trade, events[0].EventType)
	})
}
