package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ledgersift/txdecoder/internal/metrics"
	"github.com/ledgersift/txdecoder/internal/metrics/metricsTypes"
	"github.com/pkg/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"
)

const (
	// GraphQueryLimit is the page size callers use for paginated queries.
	GraphQueryLimit = 1000

	defaultRetryBudget   = 5
	defaultBackoffFactor = 200 * time.Millisecond

	probeQuery = "{ __typename }"
)

// RetryStatusCodes are the HTTP status codes that signal a transient
// upstream failure worth retrying. The set is a contract shared with
// operators' alerting; do not extend it casually.
var RetryStatusCodes = []int{500, 502, 503, 504}

var multipleWhitespace = regexp.MustCompile(`\s+`)

// FormatQueryIndentation collapses a multi-line, indented query literal to
// single-line, single-spaced text. Queries are normalized this way both
// before transmission and before being used as log keys.
func FormatQueryIndentation(querystr string) string {
	return strings.TrimSpace(multipleWhitespace.ReplaceAllString(querystr, " "))
}

// ConnectionError means the endpoint's transport could not be established
// at construction time.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to graph endpoint %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// RemoteError is a query failure. Exhausted reports whether the retry
// budget ran out; its message always carries the "no retries left" marker
// in that case.
type RemoteError struct {
	Endpoint  string
	Err       error
	Exhausted bool
}

func (e *RemoteError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("graph query to %s failed: %v: no retries left", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("graph query to %s failed: %v", e.Endpoint, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

func (e *RemoteError) RetriesExhausted() bool {
	return e.Exhausted
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("graph endpoint returned status code %d: %s", e.StatusCode, e.Body)
}

func isRetryable(err error) bool {
	var statusErr *httpStatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	for _, code := range RetryStatusCodes {
		if statusErr.StatusCode == code {
			return true
		}
	}
	return false
}

// Client queries a GraphQL style HTTP endpoint with a bounded retry budget
// and exponential backoff on transient upstream failures.
type Client struct {
	endpoint      string
	httpClient    *http.Client
	logger        *zap.Logger
	metricsSink   *metrics.MetricsSink
	retryBudget   int
	backoffFactor time.Duration

	// sleep is swappable so tests can observe backoff intervals.
	sleep func(ctx context.Context, d time.Duration) error
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithMetricsSink(ms *metrics.MetricsSink) ClientOption {
	return func(c *Client) {
		c.metricsSink = ms
	}
}

func WithRetryBudget(budget int) ClientOption {
	return func(c *Client) {
		c.retryBudget = budget
	}
}

func WithBackoffFactor(factor time.Duration) ClientOption {
	return func(c *Client) {
		c.backoffFactor = factor
	}
}

// NewClient validates the endpoint and establishes the transport with a
// lightweight probe query. Any HTTP response, whatever its status, proves
// the transport exists; only transport-level failures (dial, DNS) return a
// ConnectionError.
func NewClient(endpoint string, l *zap.Logger, opts ...ClientOption) (*Client, error) {
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, &ConnectionError{Endpoint: endpoint, Err: err}
	}

	c := &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:        l,
		retryBudget:   defaultRetryBudget,
		backoffFactor: defaultBackoffFactor,
		sleep:         sleepWithContext,
	}
	for _, opt := range opts {
		opt(c)
	}

	if _, err := c.post(context.Background(), probeQuery, nil); err != nil {
		var statusErr *httpStatusError
		if !errors.As(err, &statusErr) {
			return nil, &ConnectionError{Endpoint: endpoint, Err: err}
		}
	}

	c.logger.Sugar().Debugw("Connected to graph endpoint", zap.String("endpoint", endpoint))
	return c, nil
}

// Query normalizes the query text, prepends the parameter declaration
// prefix and runs the request with retries. Failures carrying one of
// RetryStatusCodes back off as backoffFactor * 2^attempt (first retry waits
// backoffFactor) until the budget is spent; anything else surfaces
// immediately.
func (c *Client) Query(
	ctx context.Context,
	querystr string,
	paramTypes *orderedmap.OrderedMap[string, string],
	paramValues map[string]any,
) (map[string]any, error) {
	querystr = FormatQueryIndentation(querystr)
	if paramTypes != nil && paramTypes.Len() > 0 {
		querystr = queryPrefix(paramTypes) + querystr
	}

	start := time.Now()
	retriesLeft := c.retryBudget
	attempt := 0
	for {
		raw, err := c.post(ctx, querystr, paramValues)
		if err == nil {
			var result map[string]any
			result, err = parseResponse(raw)
			if err == nil {
				c.emitTiming(metricsTypes.Metric_Timing_GraphQueryDuration, time.Since(start))
				return result, nil
			}
		}

		if !isRetryable(err) {
			c.emitIncr(metricsTypes.Metric_Incr_GraphQueryFailure)
			return nil, &RemoteError{Endpoint: c.endpoint, Err: err}
		}

		retriesLeft--
		if retriesLeft <= 0 {
			c.emitIncr(metricsTypes.Metric_Incr_GraphQueryFailure)
			return nil, &RemoteError{Endpoint: c.endpoint, Err: err, Exhausted: true}
		}

		backoff := time.Duration(1<<attempt) * c.backoffFactor
		c.logger.Sugar().Debugw("Retrying graph query",
			zap.String("endpoint", c.endpoint),
			zap.String("query", querystr),
			zap.Int("retriesLeft", retriesLeft),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		c.emitIncr(metricsTypes.Metric_Incr_GraphQueryRetry)
		if serr := c.sleep(ctx, backoff); serr != nil {
			return nil, &RemoteError{Endpoint: c.endpoint, Err: serr}
		}
		attempt++
	}
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   map[string]any `json:"data"`
	Errors []gqlError     `json:"errors"`
}

// post performs one HTTP round trip. It returns the raw body on a 200 and
// an httpStatusError on any other status; everything else is a transport
// failure.
func (c *Client) post(ctx context.Context, querystr string, variables map[string]any) ([]byte, error) {
	payload, err := json.Marshal(&gqlRequest{Query: querystr, Variables: variables})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode graph query")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build graph request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send graph query")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read graph response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Body: truncateBody(raw)}
	}
	return raw, nil
}

func parseResponse(raw []byte) (map[string]any, error) {
	var parsed gqlResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrap(err, "failed to decode graph response")
	}
	if len(parsed.Errors) > 0 {
		messages := make([]string, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			messages = append(messages, e.Message)
		}
		return nil, fmt.Errorf("graph query returned errors: %s", strings.Join(messages, "; "))
	}
	if parsed.Data == nil {
		return nil, errors.New("graph response contains no data")
	}
	return parsed.Data, nil
}

func queryPrefix(paramTypes *orderedmap.OrderedMap[string, string]) string {
	declarations := make([]string, 0, paramTypes.Len())
	for pair := paramTypes.Oldest(); pair != nil; pair = pair.Next() {
		declarations = append(declarations, fmt.Sprintf("%s: %s", pair.Key, pair.Value))
	}
	return fmt.Sprintf("query (%s){", strings.Join(declarations, ", "))
}

// CommonQueryParams builds the parameter declarations and values shared by
// time-windowed per-address queries. The address value is lowercased, as
// subgraph ids are.
func CommonQueryParams(fromTs, toTs int64, address common.Address) (*orderedmap.OrderedMap[string, string], map[string]any) {
	return CommonQueryParamsWithAddressType(fromTs, toTs, address, "Bytes!")
}

// CommonQueryParamsWithAddressType is CommonQueryParams for schemas that
// declare the address as something other than Bytes!, typically String!.
func CommonQueryParamsWithAddressType(fromTs, toTs int64, address common.Address, addressType string) (*orderedmap.OrderedMap[string, string], map[string]any) {
	paramTypes := orderedmap.New[string, string]()
	paramTypes.Set("$start_ts", "Int!")
	paramTypes.Set("$end_ts", "Int!")
	paramTypes.Set("$address", addressType)

	paramValues := map[string]any{
		"start_ts": fromTs,
		"end_ts":   toTs,
		"address":  strings.ToLower(address.Hex()),
	}
	return paramTypes, paramValues
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncateBody(raw []byte) string {
	const maxLen = 200
	if len(raw) > maxLen {
		return string(raw[:maxLen]) + "..."
	}
	return string(raw)
}

func (c *Client) emitIncr(name string) {
	if c.metricsSink == nil {
		return
	}
	_ = c.metricsSink.Incr(name, nil, 1)
}

func (c *Client) emitTiming(name string, d time.Duration) {
	if c.metricsSink == nil {
		return
	}
	_ = c.metricsSink.Timing(name, d, nil)
}
