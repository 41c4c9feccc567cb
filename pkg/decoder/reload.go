package decoder

import (
	"context"
	"fmt"

	"github.com/ledgersift/txdecoder/pkg/decoder/types"
	"go.uber.org/zap"
)

// ReloadModules asks every reloadable module to refresh its data and
// folds the returned address mappings into the rule index. The published
// address set only ever grows; a republish happens only when at least one
// genuinely new address arrived. Returns the number of newly decodable
// addresses. Per-module failures are reported and skipped.
func (td *TransactionDecoder) ReloadModules(ctx context.Context) (int, error) {
	td.mu.Lock()
	defer td.mu.Unlock()

	current := td.index.Load()
	added := 0
	for pair := td.modules.Oldest(); pair != nil; pair = pair.Next() {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		reloadable, ok := pair.Value.(types.ReloadableDecoder)
		if !ok {
			continue
		}

		newMappings, err := reloadable.ReloadData(ctx)
		if err != nil {
			td.logger.Sugar().Errorw("Failed to reload decoder module",
				zap.String("module", pair.Key),
				zap.Error(err),
			)
			td.aggregator.AddWarning(fmt.Sprintf("failed to reload decoder module %s: %v", pair.Key, err))
			continue
		}
		if len(newMappings) == 0 {
			continue
		}

		fresh := 0
		for addr, fn := range newMappings {
			if _, known := current.addressRules[addr]; known {
				continue
			}
			if _, known := td.reloadedRules[addr]; known {
				continue
			}
			td.reloadedRules[addr] = moduleRule{moduleName: pair.Key, fn: fn}
			fresh++
		}
		if fresh > 0 {
			td.logger.Sugar().Infow("Decoder module reloaded new addresses",
				zap.String("module", pair.Key),
				zap.Int("newAddresses", fresh),
			)
		}
		added += fresh
	}

	if added > 0 {
		td.publishIndex()
	}
	return added, nil
}
