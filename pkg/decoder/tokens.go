package decoder

import (
	"github.com/ledgersift/txdecoder/pkg/decoder/types"
)

const coreModuleName = "core"

// builtinRules are the dispatcher's own generic rules, appended after every
// module's so protocol modules always get the first shot at their logs.
func (td *TransactionDecoder) builtinRules() []moduleRule {
	return []moduleRule{
		{moduleName: coreModuleName, fn: func(dctx *types.DecodeContext) (*types.DecodedEvent, error) {
			return td.baseTools.DecodeTokenTransfer(dctx, coreModuleName)
		}},
		{moduleName: coreModuleName, fn: func(dctx *types.DecodeContext) (*types.DecodedEvent, error) {
			return td.baseTools.DecodeTokenApproval(dctx, coreModuleName)
		}},
	}
}
