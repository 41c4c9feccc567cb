package base

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

var daiAddress = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")

func Test_TokenAmount(t *testing.T) {
	wei := new(big.Int).Mul(big.NewInt(25), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil))
	assert.Equal(t, "2.5", TokenAmount(wei, 18).String())
	assert.Equal(t, "100", TokenAmount(big.NewInt(100_000_000), 6).String())
	assert.Equal(t, "1234", TokenAmount(big.NewInt(1234), 0).String())
	assert.Equal(t, "0", TokenAmount(nil, 18).String())
}

func Test_StaticResolver(t *testing.T) {
	resolver := NewStaticResolver([]*Token{
		{Address: daiAddress, Symbol: "DAI", Name: "Dai Stablecoin", Decimals: 18},
	})

	t.Run("Should resolve a known token", func(t *testing.T) {
		token, err := resolver.ResolveToken(daiAddress)

		assert.Nil(t, err)
		assert.Equal(t, "DAI", token.Symbol)
		assert.Equal(t, uint8(18), token.Decimals)
	})
	t.Run("Should fail on an unknown token", func(t *testing.T) {
		_, err := resolver.ResolveToken(common.HexToAddress("0x01"))

		assert.ErrorContains(t, err, "unknown token")
	})
}

func Test_NewStaticResolverFromFile(t *testing.T) {
	t.Run("Should load a token list", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tokens.json")
		contents := `[
			{"address": "0x6B175474E89094C44Da98b954EedeAC495271d0F", "symbol": "DAI", "name": "Dai Stablecoin", "decimals": 18}
		]`
		assert.Nil(t, os.WriteFile(path, []byte(contents), 0o644))

		resolver, err := NewStaticResolverFromFile(path)
		assert.Nil(t, err)

		token, err := resolver.ResolveToken(daiAddress)
		assert.Nil(t, err)
		assert.Equal(t, "Dai Stablecoin", token.Name)
	})
	t.Run("Should fail on a missing file", func(t *testing.T) {
		_, err := NewStaticResolverFromFile(filepath.Join(t.TempDir(), "absent.json"))

		assert.ErrorContains(t, err, "failed to read tokens file")
	})
	t.Run("Should fail on malformed contents", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tokens.json")
		assert.Nil(t, os.WriteFile(path, []byte("{not json"), 0o644))

		_, err := NewStaticResolverFromFile(path)

		assert.ErrorContains(t, err, "failed to parse tokens file")
	})
}
