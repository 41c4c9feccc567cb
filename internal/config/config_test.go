package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_KebabToSnakeCase(t *testing.T) {
	assert.Equal(t, "datadog_statsd_sample_rate", KebabToSnakeCase("datadog.statsd.sample-rate"))
	assert.Equal(t, "debug", KebabToSnakeCase("debug"))
}

func Test_ParseChain(t *testing.T) {
	assert.Equal(t, Chain_Optimism, ParseChain("optimism"))
	assert.Equal(t, Chain_Gnosis, ParseChain("gnosis"))
	assert.Equal(t, Chain_Ethereum, ParseChain("mainnet"))
	assert.Equal(t, Chain_Ethereum, ParseChain(""))
}

func Test_ParseAddressList(t *testing.T) {
	addresses := ParseAddressList(" 0xabc, 0xdef ,,0x123")
	assert.Equal(t, []string{"0xabc", "0xdef", "0x123"}, addresses)
	assert.Empty(t, ParseAddressList(""))
}

func Test_GetGraphUrl(t *testing.T) {
	cfg := &Config{Chain: Chain_Ethereum}
	assert.Contains(t, cfg.GetGraphUrl(), "ethereum")

	cfg.GraphConfig.Url = "http://localhost:8000/subgraphs/test"
	assert.Equal(t, "http://localhost:8000/subgraphs/test", cfg.GetGraphUrl())
}
