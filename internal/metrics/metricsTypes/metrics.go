package metricsTypes

import "time"

type IMetricsClient interface {
	Incr(name string, labels []MetricsLabel, value float64) error
	Gauge(name string, value float64, labels []MetricsLabel) error
	Timing(name string, value time.Duration, labels []MetricsLabel) error
}

type MetricsLabel struct {
	Name  string
	Value string
}

type MetricsType string

var (
	MetricsType_Incr   MetricsType = "incr"
	MetricsType_Gauge  MetricsType = "gauge"
	MetricsType_Timing MetricsType = "timing"
)

type MetricsTypeConfig struct {
	Name   string
	Labels []string
}

var (
	Metric_Incr_TransactionDecoded = "transactionDecoded"
	Metric_Incr_LogDecoded         = "logDecoded"
	Metric_Incr_LogUnmatched       = "logUnmatched"
	Metric_Incr_DecodeError        = "decodeError"
	Metric_Incr_DecodeMismatch     = "decodeMismatch"
	Metric_Incr_GraphQueryRetry    = "graph.query.retry"
	Metric_Incr_GraphQueryFailure  = "graph.query.failure"

	Metric_Gauge_RegisteredModules = "registeredModules"
	Metric_Gauge_KnownAddresses    = "knownAddresses"

	Metric_Timing_DecodeDuration     = "decode.duration"
	Metric_Timing_GraphQueryDuration = "graph.query.duration"
)

var MetricTypes = map[MetricsType][]MetricsTypeConfig{
	MetricsType_Incr: {
		MetricsTypeConfig{
			Name:   Metric_Incr_TransactionDecoded,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_LogDecoded,
			Labels: []string{"module"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_LogUnmatched,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_DecodeError,
			Labels: []string{"module"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_DecodeMismatch,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_GraphQueryRetry,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_GraphQueryFailure,
			Labels: []string{},
		},
	},
	MetricsType_Gauge: {
		MetricsTypeConfig{
			Name:   Metric_Gauge_RegisteredModules,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Gauge_KnownAddresses,
			Labels: []string{},
		},
	},
	MetricsType_Timing: {
		MetricsTypeConfig{
			Name:   Metric_Timing_DecodeDuration,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Timing_GraphQueryDuration,
			Labels: []string{},
		},
	},
}
