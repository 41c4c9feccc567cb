package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/ledgersift/txdecoder/internal/config"
	"github.com/ledgersift/txdecoder/internal/logger"
	"github.com/ledgersift/txdecoder/internal/metrics"
	"github.com/ledgersift/txdecoder/internal/metrics/prometheus"
	"github.com/ledgersift/txdecoder/internal/shutdown"
	"github.com/ledgersift/txdecoder/pkg/addressCache"
	"github.com/ledgersift/txdecoder/pkg/clients/graph"
	"github.com/ledgersift/txdecoder/pkg/decoder"
	"github.com/ledgersift/txdecoder/pkg/decoder/base"
	"github.com/ledgersift/txdecoder/pkg/decoder/spotswap"
	"github.com/ledgersift/txdecoder/pkg/decoder/types"
	"github.com/ledgersift/txdecoder/pkg/evm"
	"github.com/ledgersift/txdecoder/pkg/userMessages"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Decode transaction receipts into history events",
	Long: `Reads transaction receipts, one JSON object per line, from a file or from
stdin, and writes the decoded events to stdout as JSON lines.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		initDecodeCmd(cmd)
		cfg := config.NewConfig()
		ctx := context.Background()

		l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
		if err != nil {
			return err
		}

		runId, err := uuid.NewRandom()
		if err != nil {
			return errors.Wrap(err, "failed to generate run ID")
		}
		l = l.With(zap.String("runId", runId.String()))

		td, aggregator, cleanup, err := buildDecoder(cfg, l)
		if err != nil {
			return err
		}
		defer cleanup()

		if _, err := td.ReloadModules(ctx); err != nil {
			l.Sugar().Warnw("Initial module reload failed", zap.Error(err))
		}
		l.Sugar().Infow("Decoder ready",
			zap.String("chain", cfg.Chain.String()),
			zap.Strings("modules", td.Modules()),
			zap.Int("knownAddresses", td.KnownAddresses()),
		)

		inputPath := viper.GetString(config.KebabToSnakeCase(config.DecodeInput))
		if inputPath != "" {
			err = decodeFile(ctx, td, inputPath, l)
		} else {
			err = decodeStream(ctx, td, l)
		}
		reportUserMessages(aggregator, l)
		return err
	},
}

// buildDecoder wires the full decoding stack from config: metrics, user
// messages, asset resolution, the subgraph client, the address cache and
// the protocol modules. The returned cleanup releases what was opened.
func buildDecoder(cfg *config.Config, l *zap.Logger) (*decoder.TransactionDecoder, *userMessages.MessagesAggregator, func(), error) {
	cleanups := make([]func(), 0)
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	sinkClients, err := metrics.InitMetricsSinksFromConfig(cfg, l)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "failed to initialize metrics clients")
	}
	sink, err := metrics.NewMetricsSink(&metrics.MetricsSinkConfig{}, sinkClients)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "failed to initialize metrics sink")
	}

	if cfg.PrometheusConfig.Enabled {
		promShutdown := make(chan bool)
		promServer := prometheus.NewPrometheusServer(&prometheus.PrometheusServerConfig{
			Port: cfg.PrometheusConfig.Port,
		}, l)
		if err := promServer.Start(promShutdown); err != nil {
			return nil, nil, nil, errors.Wrap(err, "failed to start prometheus server")
		}
		cleanups = append(cleanups, func() { close(promShutdown) })
	}

	aggregator := userMessages.NewMessagesAggregator(l)

	var resolver base.AssetResolver
	if cfg.TokensFile != "" {
		r, err := base.NewStaticResolverFromFile(cfg.TokensFile)
		if err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		resolver = r
	}

	tracked := make([]common.Address, 0, len(cfg.TrackedAddresses))
	for _, raw := range cfg.TrackedAddresses {
		if !common.IsHexAddress(raw) {
			cleanup()
			return nil, nil, nil, errors.Errorf("invalid tracked address %q", raw)
		}
		tracked = append(tracked, common.HexToAddress(raw))
	}

	tools := base.NewTools(cfg.Chain, resolver, aggregator, tracked, l)

	var graphClient *graph.Client
	if url := cfg.GetGraphUrl(); url != "" {
		graphClient, err = graph.NewClient(url, l, graph.WithMetricsSink(sink))
		if err != nil {
			l.Sugar().Warnw("Subgraph endpoint unreachable, pool discovery disabled",
				zap.String("endpoint", url),
				zap.Error(err),
			)
			graphClient = nil
		}
	}

	var cache *addressCache.Store
	if cfg.GraphConfig.AddressCachePath != "" {
		cache, err = addressCache.Open(cfg.GraphConfig.AddressCachePath)
		if err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		cleanups = append(cleanups, func() { _ = cache.Close() })
	}

	opts := []decoder.DecoderOption{}
	if cfg.EmitUnknownEvents {
		opts = append(opts, decoder.WithUnknownEvents())
	}
	td := decoder.NewTransactionDecoder(cfg.Chain, tools, aggregator, sink, l, opts...)

	spotSwap, err := spotswap.NewSpotSwap(tools, graphClient, cache, l)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	if err := td.RegisterModule(spotSwap); err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	return td, aggregator, cleanup, nil
}

func decodeFile(ctx context.Context, td *decoder.TransactionDecoder, path string, l *zap.Logger) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open receipts file %s", path)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return errors.Wrapf(err, "failed to stat receipts file %s", path)
	}

	bar := progressbar.DefaultBytes(info.Size(), fmt.Sprintf("decoding %s", path))
	defer func() {
		// print a newline after the progress bar is done to make the output look nice
		fmt.Println()
	}()

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush() //nolint:errcheck

	decoded, failed, err := decodeAll(ctx, io.TeeReader(file, bar), td, out, l)
	if err != nil {
		return err
	}
	l.Sugar().Infow("Finished decoding receipts",
		zap.Int("decoded", decoded),
		zap.Int("failed", failed),
	)
	return nil
}

func decodeStream(ctx context.Context, td *decoder.TransactionDecoder, l *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reloadInterval := viper.GetDuration(config.KebabToSnakeCase(config.DecodeReloadInterval))
	if reloadInterval > 0 {
		go reloadLoop(ctx, td, reloadInterval, l)
	}

	out := bufio.NewWriter(os.Stdout)

	streamDone := make(chan bool)
	go func() {
		decoded, failed, err := decodeAll(ctx, os.Stdin, td, out, l)
		if err != nil {
			l.Sugar().Errorw("Receipt stream ended with an error", zap.Error(err))
		}
		if err := out.Flush(); err != nil {
			l.Sugar().Errorw("Failed to flush decoded events", zap.Error(err))
		}
		l.Sugar().Infow("Receipt stream drained",
			zap.Int("decoded", decoded),
			zap.Int("failed", failed),
		)
		close(streamDone)
	}()

	gracefulShutdown := shutdown.CreateGracefulShutdownChannel()
	done := make(chan bool)
	go shutdown.ListenForShutdown(gracefulShutdown, done, func() {
		l.Sugar().Info("Shutting down...")
		cancel()
	}, l)

	select {
	case <-streamDone:
	case <-done:
	}
	return nil
}

// reloadLoop refreshes module data on a fixed interval until the context is
// canceled. Reload failures are logged and the loop keeps going.
func reloadLoop(ctx context.Context, td *decoder.TransactionDecoder, interval time.Duration, l *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			added, err := td.ReloadModules(ctx)
			if err != nil {
				l.Sugar().Warnw("Module reload failed", zap.Error(err))
				continue
			}
			if added > 0 {
				l.Sugar().Infow("Module reload added addresses", zap.Int("added", added))
			}
		}
	}
}

func decodeAll(ctx context.Context, r io.Reader, td *decoder.TransactionDecoder, out io.Writer, l *zap.Logger) (int, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)

	decoded := 0
	failed := 0
	line := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			return decoded, failed, nil
		}
		line++

		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var receipt evm.TransactionReceipt
		if err := json.Unmarshal(raw, &receipt); err != nil {
			l.Sugar().Errorw("Skipping malformed receipt",
				zap.Int("line", line),
				zap.Error(err),
			)
			failed++
			continue
		}

		events, err := td.Decode(&receipt)
		if err != nil {
			l.Sugar().Errorw("Failed to decode receipt",
				zap.String("txHash", receipt.TxHash.String()),
				zap.Error(err),
			)
			failed++
			continue
		}
		if err := writeEvents(out, events); err != nil {
			return decoded, failed, err
		}
		decoded++
	}
	if err := scanner.Err(); err != nil {
		return decoded, failed, errors.Wrap(err, "failed to read receipts")
	}
	return decoded, failed, nil
}

func writeEvents(out io.Writer, events []*types.DecodedEvent) error {
	for _, evt := range events {
		raw, err := json.Marshal(evt)
		if err != nil {
			return errors.Wrap(err, "failed to encode decoded event")
		}
		if _, err := fmt.Fprintln(out, string(raw)); err != nil {
			return err
		}
	}
	return nil
}

func reportUserMessages(aggregator *userMessages.MessagesAggregator, l *zap.Logger) {
	for _, w := range aggregator.Warnings() {
		l.Sugar().Warnw("Decoder warning", zap.String("message", w))
	}
	for _, e := range aggregator.Errors() {
		l.Sugar().Errorw("Decoder issue", zap.String("message", e))
	}
}

func initDecodeCmd(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(config.KebabToSnakeCase(f.Name), f); err != nil {
			fmt.Printf("Failed to bind flag '%s' - %+v\n", f.Name, err)
		}
		if err := viper.BindEnv(f.Name); err != nil {
			fmt.Printf("Failed to bind env '%s' - %+v\n", f.Name, err)
		}
	})
}
