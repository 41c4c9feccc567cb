package config

import (
	"strings"

	"github.com/spf13/viper"
)

const ENV_PREFIX = "TXDECODER"

type Chain string

const (
	Chain_Ethereum Chain = "ethereum"
	Chain_Optimism Chain = "optimism"
	Chain_Gnosis   Chain = "gnosis"
)

func ParseChain(c string) Chain {
	switch c {
	case "optimism":
		return Chain_Optimism
	case "gnosis":
		return Chain_Gnosis
	default:
		return Chain_Ethereum
	}
}

func (c Chain) String() string {
	return string(c)
}

// NativeAsset returns the identifier used for the chain's gas asset.
func (c Chain) NativeAsset() string {
	switch c {
	case Chain_Gnosis:
		return "XDAI"
	default:
		return "ETH"
	}
}

// Flag names. Each binds to a viper key through KebabToSnakeCase and to an
// environment variable with the TXDECODER_ prefix.
const (
	Debug                   = "debug"
	ChainFlag               = "chain"
	TrackedAddresses        = "tracked-addresses"
	TokensFile              = "tokens-file"
	EmitUnknownEvents       = "emit-unknown-events"
	GraphUrl                = "graph.url"
	GraphAddressCachePath   = "graph.address-cache-path"
	DecodeInput             = "input"
	DecodeReloadInterval    = "reload-interval"
	DataDogStatsdEnabled    = "datadog.statsd.enabled"
	DataDogStatsdUrl        = "datadog.statsd.url"
	DataDogStatsdSampleRate = "datadog.statsd.sample-rate"
	PrometheusEnabled       = "prometheus.enabled"
	PrometheusPort          = "prometheus.port"
)

type Config struct {
	Debug             bool
	Chain             Chain
	TrackedAddresses  []string
	TokensFile        string
	EmitUnknownEvents bool
	GraphConfig       GraphConfig
	DataDogConfig     DataDogConfig
	PrometheusConfig  PrometheusConfig
}

type GraphConfig struct {
	Url              string
	AddressCachePath string
}

type DataDogConfig struct {
	StatsdConfig StatsdConfig
}

type StatsdConfig struct {
	Enabled    bool
	Url        string
	SampleRate float64
}

type PrometheusConfig struct {
	Enabled bool
	Port    int
}

func KebabToSnakeCase(s string) string {
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ReplaceAll(s, ".", "_")
}

// ParseAddressList splits a comma separated address list, tolerating
// whitespace and empty entries.
func ParseAddressList(raw string) []string {
	parts := strings.Split(raw, ",")
	addresses := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		addresses = append(addresses, p)
	}
	return addresses
}

// NewConfig materializes a Config from viper. Flags are bound to viper keys
// by the commands, with environment variables as fallback.
func NewConfig() *Config {
	return &Config{
		Debug:             viper.GetBool(KebabToSnakeCase(Debug)),
		Chain:             ParseChain(viper.GetString(KebabToSnakeCase(ChainFlag))),
		TrackedAddresses:  ParseAddressList(viper.GetString(KebabToSnakeCase(TrackedAddresses))),
		TokensFile:        viper.GetString(KebabToSnakeCase(TokensFile)),
		EmitUnknownEvents: viper.GetBool(KebabToSnakeCase(EmitUnknownEvents)),
		GraphConfig: GraphConfig{
			Url:              viper.GetString(KebabToSnakeCase(GraphUrl)),
			AddressCachePath: viper.GetString(KebabToSnakeCase(GraphAddressCachePath)),
		},
		DataDogConfig: DataDogConfig{
			StatsdConfig: StatsdConfig{
				Enabled:    viper.GetBool(KebabToSnakeCase(DataDogStatsdEnabled)),
				Url:        viper.GetString(KebabToSnakeCase(DataDogStatsdUrl)),
				SampleRate: viper.GetFloat64(KebabToSnakeCase(DataDogStatsdSampleRate)),
			},
		},
		PrometheusConfig: PrometheusConfig{
			Enabled: viper.GetBool(KebabToSnakeCase(PrometheusEnabled)),
			Port:    viper.GetInt(KebabToSnakeCase(PrometheusPort)),
		},
	}
}

var defaultGraphEndpoints = map[Chain]string{
	Chain_Ethereum: "https://api.thegraph.com/subgraphs/name/spotswap/pools-ethereum",
	Chain_Optimism: "https://api.thegraph.com/subgraphs/name/spotswap/pools-optimism",
	Chain_Gnosis:   "https://api.thegraph.com/subgraphs/name/spotswap/pools-gnosis",
}

// GetGraphUrl returns the configured subgraph endpoint, falling back to the
// chain's default.
func (c *Config) GetGraphUrl() string {
	if c.GraphConfig.Url != "" {
		return c.GraphConfig.Url
	}
	return defaultGraphEndpoints[c.Chain]
}
