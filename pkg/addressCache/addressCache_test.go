package addressCache

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ledgersift/txdecoder/internal/config"
	"github.com/stretchr/testify/assert"
)

func setup(t *testing.T) *Store {
	store, err := Open(t.TempDir())
	assert.Nil(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func Test_AddressCache(t *testing.T) {
	poolA := common.HexToAddress("0x1111111111111111111111111111111111111111")
	poolB := common.HexToAddress("0x2222222222222222222222222222222222222222")
	poolC := common.HexToAddress("0x3333333333333333333333333333333333333333")

	t.Run("Should return nothing for an unknown entry", func(t *testing.T) {
		store := setup(t)

		addresses, err := store.Get(config.Chain_Ethereum, "spotswap")

		assert.Nil(t, err)
		assert.Empty(t, addresses)
	})
	t.Run("Should merge new addresses into the stored set", func(t *testing.T) {
		store := setup(t)

		err := store.Put(config.Chain_Ethereum, "spotswap", []common.Address{poolA, poolB})
		assert.Nil(t, err)
		err = store.Put(config.Chain_Ethereum, "spotswap", []common.Address{poolB, poolC})
		assert.Nil(t, err)

		addresses, err := store.Get(config.Chain_Ethereum, "spotswap")
		assert.Nil(t, err)
		assert.Equal(t, []common.Address{poolA, poolB, poolC}, addresses)
	})
	t.Run("Should keep chains isolated", func(t *testing.T) {
		store := setup(t)

		err := store.Put(config.Chain_Ethereum, "spotswap", []common.Address{poolA})
		assert.Nil(t, err)
		err = store.Put(config.Chain_Gnosis, "spotswap", []common.Address{poolB})
		assert.Nil(t, err)

		mainnet, err := store.Get(config.Chain_Ethereum, "spotswap")
		assert.Nil(t, err)
		assert.Equal(t, []common.Address{poolA}, mainnet)

		gnosis, err := store.Get(config.Chain_Gnosis, "spotswap")
		assert.Nil(t, err)
		assert.Equal(t, []common.Address{poolB}, gnosis)
	})
}
