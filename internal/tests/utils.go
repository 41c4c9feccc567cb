package tests

import (
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ledgersift/txdecoder/internal/config"
	"github.com/ledgersift/txdecoder/internal/logger"
	"github.com/ledgersift/txdecoder/pkg/evm"
	"go.uber.org/zap"
)

// Addresses shared across decoder tests. The token address is mainnet DAI,
// everything else is arbitrary.
var (
	TrackedAccount = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	OtherAccount   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	TokenAddress   = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	NftAddress     = common.HexToAddress("0xb47e3cd837dDF8e4c57F05d70Ab865de6e193BBB")
	PoolAddress    = common.HexToAddress("0x0000000000000000000000000000000000001001")
	RouterAddress  = common.HexToAddress("0x0000000000000000000000000000000000001002")

	TxHash = common.HexToHash("0x1f3e9c40cb2f8ec3b792ab2134e88442fa49535ab05dbb909a16f6a8ebf93bd1")
)

func GetLogger() *zap.Logger {
	debug := os.Getenv(config.Debug) == "true"
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: debug})
	return l
}

// AddressTopic left-pads an address to the 32 bytes of an indexed topic.
func AddressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

// AmountData encodes an unsigned integer as a 32-byte data word.
func AmountData(amount *big.Int) hexutil.Bytes {
	return common.BigToHash(amount).Bytes()
}

// NewReceipt assembles a receipt around the given logs, numbering them in
// order.
func NewReceipt(to common.Address, input []byte, logs ...evm.EventLog) *evm.TransactionReceipt {
	for i := range logs {
		logs[i].LogIndex = uint64(i)
	}
	return &evm.TransactionReceipt{
		TxHash:      TxHash,
		BlockNumber: 19_000_000,
		From:        TrackedAccount,
		To:          to,
		Input:       evm.CallInput(input),
		Status:      1,
		Logs:        logs,
	}
}
