package decoder

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ledgersift/txdecoder/internal/config"
	"github.com/ledgersift/txdecoder/internal/metrics"
	"github.com/ledgersift/txdecoder/internal/metrics/metricsTypes"
	"github.com/ledgersift/txdecoder/pkg/decoder/base"
	"github.com/ledgersift/txdecoder/pkg/decoder/types"
	"github.com/ledgersift/txdecoder/pkg/evm"
	"github.com/ledgersift/txdecoder/pkg/userMessages"
	"github.com/ledgersift/txdecoder/pkg/utils"
	"github.com/shopspring/decimal"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"
)

// TransactionDecoder dispatches transaction receipts to the decode rules
// of the registered modules. Registration and reloads rebuild an immutable
// rule index under a mutex; Decode only ever reads the published index, so
// decoding is safe to call concurrently with reloads.
type TransactionDecoder struct {
	chain       config.Chain
	baseTools   *base.Tools
	aggregator  *userMessages.MessagesAggregator
	metricsSink *metrics.MetricsSink
	logger      *zap.Logger
	emitUnknown bool

	mu            sync.Mutex
	modules       *orderedmap.OrderedMap[string, types.DecoderModule]
	reloadedRules map[common.Address]moduleRule
	index         atomic.Pointer[ruleIndex]
}

type DecoderOption func(*TransactionDecoder)

// WithUnknownEvents makes logs no rule matched decode into informational
// placeholder events instead of being skipped.
func WithUnknownEvents() DecoderOption {
	return func(td *TransactionDecoder) {
		td.emitUnknown = true
	}
}

func NewTransactionDecoder(
	chain config.Chain,
	baseTools *base.Tools,
	aggregator *userMessages.MessagesAggregator,
	metricsSink *metrics.MetricsSink,
	l *zap.Logger,
	opts ...DecoderOption,
) *TransactionDecoder {
	td := &TransactionDecoder{
		chain:         chain,
		baseTools:     baseTools,
		aggregator:    aggregator,
		metricsSink:   metricsSink,
		logger:        l,
		modules:       orderedmap.New[string, types.DecoderModule](),
		reloadedRules: make(map[common.Address]moduleRule),
	}
	for _, opt := range opts {
		opt(td)
	}
	td.index.Store(buildRuleIndex(0, td.modules, td.builtinRules(), l))
	return td
}

// RegisterModule adds a module and republishes the rule index. Module
// names are unique, at least one counterparty must be declared, and every
// counterparty the module's rule collections reference must be one of its
// declared ones.
func (td *TransactionDecoder) RegisterModule(module types.DecoderModule) error {
	td.mu.Lock()
	defer td.mu.Unlock()

	name := module.Name()
	if name == "" {
		return fmt.Errorf("decoder module has no name")
	}
	if _, exists := td.modules.Get(name); exists {
		return fmt.Errorf("decoder module %s is already registered", name)
	}
	if err := validateModule(module); err != nil {
		return err
	}

	td.modules.Set(name, module)
	td.publishIndex()

	td.logger.Sugar().Infow("Registered decoder module",
		zap.String("module", name),
		zap.Int("modules", td.modules.Len()),
	)
	td.gauge(metricsTypes.Metric_Gauge_RegisteredModules, float64(td.modules.Len()))
	return nil
}

func validateModule(module types.DecoderModule) error {
	details := module.Counterparties()
	if len(details) == 0 {
		return fmt.Errorf("decoder module %s declares no counterparties", module.Name())
	}
	declared := make(map[types.Counterparty]struct{}, len(details))
	for _, d := range details {
		if d.Identifier == "" {
			return fmt.Errorf("decoder module %s declares an empty counterparty identifier", module.Name())
		}
		declared[d.Identifier] = struct{}{}
	}

	check := func(cp types.Counterparty, where string) error {
		if _, ok := declared[cp]; !ok {
			return fmt.Errorf("decoder module %s references undeclared counterparty %s in its %s",
				module.Name(), cp, where)
		}
		return nil
	}
	if pd, ok := module.(types.PostDecoder); ok {
		for cp := range pd.PostDecodingRules() {
			if err := check(cp, "post decoding rules"); err != nil {
				return err
			}
		}
	}
	if ed, ok := module.(types.EventDeclarer); ok {
		for cp := range ed.PossibleEvents() {
			if err := check(cp, "possible events"); err != nil {
				return err
			}
		}
	}
	if prd, ok := module.(types.ProductDeclarer); ok {
		for cp := range prd.PossibleProducts() {
			if err := check(cp, "possible products"); err != nil {
				return err
			}
		}
	}
	if ct, ok := module.(types.CounterpartyTagger); ok {
		for _, cp := range ct.AddressesToCounterparties() {
			if err := check(cp, "address tags"); err != nil {
				return err
			}
		}
	}
	return nil
}

// publishIndex rebuilds the index from the registered modules and swaps it
// in. Addresses learned through reloads and addresses present in the old
// index are carried over, so the set of decodable addresses only grows.
// Callers hold td.mu.
func (td *TransactionDecoder) publishIndex() {
	var generation uint64
	current := td.index.Load()
	if current != nil {
		generation = current.generation + 1
	}
	next := buildRuleIndex(generation, td.modules, td.builtinRules(), td.logger)

	for addr, rule := range td.reloadedRules {
		if _, ok := next.addressRules[addr]; !ok {
			next.addressRules[addr] = rule
		}
	}
	if current != nil {
		for addr, rule := range current.addressRules {
			if _, ok := next.addressRules[addr]; !ok {
				next.addressRules[addr] = rule
				td.logger.Sugar().Warnw("Module no longer lists a known address, keeping the previous rule",
					zap.String("address", addr.Hex()),
					zap.String("module", rule.moduleName),
				)
			}
		}
	}

	td.index.Store(next)
	td.gauge(metricsTypes.Metric_Gauge_KnownAddresses, float64(next.knownAddresses()))
}

// Generation returns the version of the currently published rule index.
// It increases by one on every registration or effective reload.
func (td *TransactionDecoder) Generation() uint64 {
	return td.index.Load().generation
}

// KnownAddresses returns the number of addresses with a dedicated decode
// rule in the published index.
func (td *TransactionDecoder) KnownAddresses() int {
	return td.index.Load().knownAddresses()
}

// Modules returns the registered module names in registration order.
func (td *TransactionDecoder) Modules() []string {
	td.mu.Lock()
	defer td.mu.Unlock()

	names := make([]string, 0, td.modules.Len())
	for pair := td.modules.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Counterparties returns the counterparty details of every registered
// module, in registration order.
func (td *TransactionDecoder) Counterparties() []types.CounterpartyDetails {
	td.mu.Lock()
	defer td.mu.Unlock()

	details := make([]types.CounterpartyDetails, 0)
	for pair := td.modules.Oldest(); pair != nil; pair = pair.Next() {
		details = append(details, pair.Value.Counterparties()...)
	}
	return details
}

// Products returns the products declared by the registered modules, keyed
// by counterparty.
func (td *TransactionDecoder) Products() map[types.Counterparty][]types.Product {
	td.mu.Lock()
	defer td.mu.Unlock()

	products := make(map[types.Counterparty][]types.Product)
	for pair := td.modules.Oldest(); pair != nil; pair = pair.Next() {
		prd, ok := pair.Value.(types.ProductDeclarer)
		if !ok {
			continue
		}
		for cp, ps := range prd.PossibleProducts() {
			products[cp] = append(products[cp], ps...)
		}
	}
	return products
}

// Decode translates one transaction receipt into structured events. Per
// log, the most specific rule wins: a selector and topic match, then a
// match on the emitting address, then the generic rules in order. A keyed
// match consumes the log even when its rule returns no event. Enrichment,
// post-decoding and the possible-events check run on the assembled set.
// Rule failures are reported and skipped, they never fail the decode.
func (td *TransactionDecoder) Decode(receipt *evm.TransactionReceipt) ([]*types.DecodedEvent, error) {
	if receipt == nil {
		return nil, fmt.Errorf("cannot decode a nil receipt")
	}
	start := time.Now()
	idx := td.index.Load()

	var topicRules map[common.Hash]moduleRule
	if selector, ok := receipt.Input.Selector(); ok {
		topicRules = idx.inputRules[selector]
	}

	events := make([]*types.DecodedEvent, 0)
	for i := range receipt.Logs {
		log := &receipt.Logs[i]
		dctx := &types.DecodeContext{Log: log, Receipt: receipt, DecodedEvents: events}

		var evt *types.DecodedEvent
		var matchedModule string
		matched := false

		if topic0, ok := log.Topic0(); ok && topicRules != nil {
			if rule, ok := topicRules[topic0]; ok {
				evt = td.runDecodeRule(rule, dctx)
				matchedModule = rule.moduleName
				matched = true
			}
		}
		if !matched {
			if rule, ok := idx.addressRules[log.Address]; ok {
				evt = td.runDecodeRule(rule, dctx)
				matchedModule = rule.moduleName
				matched = true
			}
		}
		if !matched {
			for _, rule := range idx.genericRules {
				if evt = td.runDecodeRule(rule, dctx); evt != nil {
					matchedModule = rule.moduleName
					matched = true
					break
				}
			}
		}

		if !matched {
			td.logger.Sugar().Debugw("No decode rule matched log",
				zap.String("txHash", receipt.TxHash.String()),
				zap.Uint64("logIndex", log.LogIndex),
				zap.String("address", log.Address.Hex()),
				zap.String("data", utils.ConvertBytesToString(log.Data)),
			)
			td.incr(metricsTypes.Metric_Incr_LogUnmatched, nil)
			if td.emitUnknown {
				evt = td.unknownEvent(dctx)
			}
		}

		if evt != nil {
			events = append(events, evt)
			if matched {
				td.incr(metricsTypes.Metric_Incr_LogDecoded, []metricsTypes.MetricsLabel{
					{Name: "module", Value: matchedModule},
				})
			}
		}
	}

	td.runEnrichers(idx, events, receipt)
	events = td.runPostDecoding(idx, events, receipt)
	td.checkPossibleEvents(idx, events, receipt)

	td.incr(metricsTypes.Metric_Incr_TransactionDecoded, nil)
	td.timing(metricsTypes.Metric_Timing_DecodeDuration, time.Since(start))
	return events, nil
}

// runDecodeRule invokes one decode rule with panic containment. Failures
// are logged, surfaced to the user and counted, then swallowed.
func (td *TransactionDecoder) runDecodeRule(rule moduleRule, dctx *types.DecodeContext) *types.DecodedEvent {
	evt, err := func() (evt *types.DecodedEvent, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("decode rule panicked: %v", r)
			}
		}()
		return rule.fn(dctx)
	}()
	if err != nil {
		td.logger.Sugar().Warnw("Decode rule failed",
			zap.String("module", rule.moduleName),
			zap.String("txHash", dctx.Receipt.TxHash.String()),
			zap.Uint64("logIndex", dctx.Log.LogIndex),
			zap.Error(err),
		)
		td.aggregator.AddWarning(fmt.Sprintf("failed to decode log %d of transaction %s: %v",
			dctx.Log.LogIndex, dctx.Receipt.TxHash, err))
		td.incr(metricsTypes.Metric_Incr_DecodeError, []metricsTypes.MetricsLabel{
			{Name: "module", Value: rule.moduleName},
		})
		return nil
	}
	return evt
}

func (td *TransactionDecoder) runEnrichers(idx *ruleIndex, events []*types.DecodedEvent, receipt *evm.TransactionReceipt) {
	if len(idx.enrichers) == 0 || len(events) == 0 {
		return
	}
	ectx := &types.EnrichmentContext{Events: events, Receipt: receipt}
	for _, enricher := range idx.enrichers {
		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("enricher panicked: %v", r)
				}
			}()
			return enricher.fn(ectx)
		}()
		if err != nil {
			td.logger.Sugar().Warnw("Enricher rule failed",
				zap.String("module", enricher.moduleName),
				zap.String("txHash", receipt.TxHash.String()),
				zap.Error(err),
			)
			td.aggregator.AddWarning(fmt.Sprintf("failed to enrich events of transaction %s: %v",
				receipt.TxHash, err))
			td.incr(metricsTypes.Metric_Incr_DecodeError, []metricsTypes.MetricsLabel{
				{Name: "module", Value: enricher.moduleName},
			})
		}
	}
}

// runPostDecoding hands each counterparty's events to that counterparty's
// post-decoding rules, lowest priority first, and splices the returned
// replacement back into the original event positions. Counterparties are
// processed in lexicographic order.
func (td *TransactionDecoder) runPostDecoding(idx *ruleIndex, events []*types.DecodedEvent, receipt *evm.TransactionReceipt) []*types.DecodedEvent {
	if len(idx.postCounterparties) == 0 || len(events) == 0 {
		return events
	}
	for _, cp := range idx.postCounterparties {
		positions := make([]int, 0)
		subset := make([]*types.DecodedEvent, 0)
		for i, evt := range events {
			if idx.eventCounterparty(evt) == cp {
				positions = append(positions, i)
				subset = append(subset, evt)
			}
		}
		if len(positions) == 0 {
			continue
		}

		for _, rule := range idx.postRules[cp] {
			next, err := func() (out []*types.DecodedEvent, err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("post decoding rule panicked: %v", r)
					}
				}()
				return rule.Rule(subset)
			}()
			if err != nil {
				td.logger.Sugar().Warnw("Post decoding rule failed",
					zap.String("counterparty", string(cp)),
					zap.Int("priority", rule.Priority),
					zap.String("txHash", receipt.TxHash.String()),
					zap.Error(err),
				)
				td.aggregator.AddWarning(fmt.Sprintf("failed to post-process %s events of transaction %s: %v",
					cp, receipt.TxHash, err))
				continue
			}
			subset = next
		}
		events = spliceEvents(events, positions, subset)
	}
	return events
}

// spliceEvents replaces the events at the given ascending positions with
// the replacement set. Replacement events fill the original positions in
// order; any excess is inserted after the last position, any shortfall
// drops the trailing positions.
func spliceEvents(events []*types.DecodedEvent, positions []int, replacement []*types.DecodedEvent) []*types.DecodedEvent {
	out := make([]*types.DecodedEvent, 0, len(events)-len(positions)+len(replacement))
	next := 0
	for i, evt := range events {
		if next < len(positions) && i == positions[next] {
			if next < len(replacement) {
				out = append(out, replacement[next])
			}
			if next == len(positions)-1 && len(replacement) > len(positions) {
				out = append(out, replacement[len(positions):]...)
			}
			next++
			continue
		}
		out = append(out, evt)
	}
	return out
}

// checkPossibleEvents verifies each final event against the possible
// event pairs declared for its counterparty. Violations are reported and
// counted; the event still flows through.
func (td *TransactionDecoder) checkPossibleEvents(idx *ruleIndex, events []*types.DecodedEvent, receipt *evm.TransactionReceipt) {
	for _, evt := range events {
		if evt.Counterparty == "" {
			continue
		}
		pairs, declared := idx.possiblePairs[evt.Counterparty]
		if !declared {
			continue
		}
		pair := types.EventPair{Type: evt.EventType, SubType: evt.EventSubType}
		if _, ok := pairs[pair]; ok {
			continue
		}
		td.logger.Sugar().Errorw("Decoded event outside its module's declared possible events",
			zap.String("counterparty", string(evt.Counterparty)),
			zap.String("pair", pair.String()),
			zap.String("txHash", receipt.TxHash.String()),
		)
		td.aggregator.AddError(fmt.Sprintf("decode mismatch: event %s is not declared as possible for counterparty %s in transaction %s",
			pair, evt.Counterparty, receipt.TxHash))
		td.incr(metricsTypes.Metric_Incr_DecodeMismatch, nil)
	}
}

func (td *TransactionDecoder) unknownEvent(dctx *types.DecodeContext) *types.DecodedEvent {
	return td.baseTools.MakeEvent(dctx,
		types.EventType_Informational, types.EventSubType_None,
		"", "", decimal.Zero,
		fmt.Sprintf("Unknown interaction with contract %s", dctx.Log.Address.Hex()),
	)
}

func (td *TransactionDecoder) incr(metricName string, labels []metricsTypes.MetricsLabel) {
	if td.metricsSink == nil {
		return
	}
	_ = td.metricsSink.Incr(metricName, labels, 1)
}

func (td *TransactionDecoder) gauge(metricName string, value float64) {
	if td.metricsSink == nil {
		return
	}
	_ = td.metricsSink.Gauge(metricName, value, nil)
}

func (td *TransactionDecoder) timing(metricName string, d time.Duration) {
	if td.metricsSink == nil {
		return
	}
	_ = td.metricsSink.Timing(metricName, d, nil)
}
