package decoder

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ledgersift/txdecoder/pkg/decoder/types"
	"github.com/ledgersift/txdecoder/pkg/evm"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"
)

// moduleRule ties a decode function to the module that registered it, for
// logging and error attribution.
type moduleRule struct {
	moduleName string
	fn         types.EventDecodeFunc
}

type moduleEnricher struct {
	moduleName string
	fn         types.EnricherFunc
}

// ruleIndex is an immutable snapshot of every registered rule. Decode
// loads one snapshot for its whole run; rebuilds publish a fresh index
// atomically, so in-flight decodes never observe a partial state.
type ruleIndex struct {
	generation uint64

	addressRules map[common.Address]moduleRule
	inputRules   map[evm.Selector]map[common.Hash]moduleRule
	genericRules []moduleRule
	enrichers    []moduleEnricher

	postRules          map[types.Counterparty][]types.PrioritizedRule
	postCounterparties []types.Counterparty

	addressTags map[common.Address]types.Counterparty

	// possiblePairs holds, per counterparty, the union of the event pairs
	// declared by every module claiming that counterparty. Counterparties
	// absent here made no declaration and are not checked.
	possiblePairs map[types.Counterparty]map[types.EventPair]struct{}
}

func newRuleIndex(generation uint64) *ruleIndex {
	return &ruleIndex{
		generation:    generation,
		addressRules:  make(map[common.Address]moduleRule),
		inputRules:    make(map[evm.Selector]map[common.Hash]moduleRule),
		genericRules:  make([]moduleRule, 0),
		enrichers:     make([]moduleEnricher, 0),
		postRules:     make(map[types.Counterparty][]types.PrioritizedRule),
		addressTags:   make(map[common.Address]types.Counterparty),
		possiblePairs: make(map[types.Counterparty]map[types.EventPair]struct{}),
	}
}

// buildRuleIndex flattens the registered modules into lookup structures.
// Keyed collisions across modules keep the first registration; generic
// rules and enrichers run in module registration order, with the builtin
// rules last.
func buildRuleIndex(
	generation uint64,
	modules *orderedmap.OrderedMap[string, types.DecoderModule],
	builtinRules []moduleRule,
	l *zap.Logger,
) *ruleIndex {
	idx := newRuleIndex(generation)

	for pair := modules.Oldest(); pair != nil; pair = pair.Next() {
		name, module := pair.Key, pair.Value

		if ad, ok := module.(types.AddressDecoder); ok {
			for addr, fn := range ad.AddressesToDecoders() {
				if existing, taken := idx.addressRules[addr]; taken {
					l.Sugar().Warnw("Address decode rule already registered, keeping the first",
						zap.String("address", addr.Hex()),
						zap.String("module", name),
						zap.String("existingModule", existing.moduleName),
					)
					continue
				}
				idx.addressRules[addr] = moduleRule{moduleName: name, fn: fn}
			}
		}

		if idd, ok := module.(types.InputDataDecoder); ok {
			for selector, byTopic := range idd.DecodingByInputData() {
				topicRules, ok := idx.inputRules[selector]
				if !ok {
					topicRules = make(map[common.Hash]moduleRule)
					idx.inputRules[selector] = topicRules
				}
				for topic, fn := range byTopic {
					if existing, taken := topicRules[topic]; taken {
						l.Sugar().Warnw("Input data decode rule already registered, keeping the first",
							zap.String("selector", selector.String()),
							zap.String("topic", topic.Hex()),
							zap.String("module", name),
							zap.String("existingModule", existing.moduleName),
						)
						continue
					}
					topicRules[topic] = moduleRule{moduleName: name, fn: fn}
				}
			}
		}

		if gd, ok := module.(types.GenericDecoder); ok {
			for _, fn := range gd.DecodingRules() {
				idx.genericRules = append(idx.genericRules, moduleRule{moduleName: name, fn: fn})
			}
		}

		if en, ok := module.(types.Enricher); ok {
			for _, fn := range en.EnricherRules() {
				idx.enrichers = append(idx.enrichers, moduleEnricher{moduleName: name, fn: fn})
			}
		}

		if pd, ok := module.(types.PostDecoder); ok {
			for cp, rules := range pd.PostDecodingRules() {
				merged := append(idx.postRules[cp], rules...)
				sort.SliceStable(merged, func(i, j int) bool {
					return merged[i].Priority < merged[j].Priority
				})
				idx.postRules[cp] = merged
			}
		}

		if ct, ok := module.(types.CounterpartyTagger); ok {
			for addr, cp := range ct.AddressesToCounterparties() {
				if existing, taken := idx.addressTags[addr]; taken && existing != cp {
					l.Sugar().Warnw("Address already tagged with a counterparty, keeping the first",
						zap.String("address", addr.Hex()),
						zap.String("existing", string(existing)),
						zap.String("module", name),
					)
					continue
				}
				idx.addressTags[addr] = cp
			}
		}

		if ed, ok := module.(types.EventDeclarer); ok {
			for cp, pairs := range ed.PossibleEvents() {
				set, ok := idx.possiblePairs[cp]
				if !ok {
					set = make(map[types.EventPair]struct{}, len(pairs))
					idx.possiblePairs[cp] = set
				}
				for _, p := range pairs {
					set[p] = struct{}{}
				}
			}
		}
	}

	idx.genericRules = append(idx.genericRules, builtinRules...)

	idx.postCounterparties = make([]types.Counterparty, 0, len(idx.postRules))
	for cp := range idx.postRules {
		idx.postCounterparties = append(idx.postCounterparties, cp)
	}
	sort.Slice(idx.postCounterparties, func(i, j int) bool {
		return idx.postCounterparties[i] < idx.postCounterparties[j]
	})

	return idx
}

func (idx *ruleIndex) knownAddresses() int {
	return len(idx.addressRules)
}

// eventCounterparty resolves the counterparty an event belongs to for the
// post-decoding partition: the event's own field wins, then the emitting
// address's tag.
func (idx *ruleIndex) eventCounterparty(evt *types.DecodedEvent) types.Counterparty {
	if evt.Counterparty != "" {
		return evt.Counterparty
	}
	return idx.addressTags[evt.Address]
}
