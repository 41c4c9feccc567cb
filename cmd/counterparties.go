package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/ledgersift/txdecoder/internal/config"
	"github.com/ledgersift/txdecoder/internal/logger"
	"github.com/ledgersift/txdecoder/pkg/decoder"
	"github.com/ledgersift/txdecoder/pkg/decoder/base"
	"github.com/ledgersift/txdecoder/pkg/decoder/spotswap"
	"github.com/ledgersift/txdecoder/pkg/decoder/types"
	"github.com/ledgersift/txdecoder/pkg/userMessages"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var counterpartiesCmd = &cobra.Command{
	Use:   "counterparties",
	Short: "List the registered decoder modules and what they can emit",
	RunE: func(cmd *cobra.Command, args []string) error {
		initCounterpartiesCmd(cmd)
		cfg := config.NewConfig()

		l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
		if err != nil {
			return err
		}

		// Listing needs no asset resolution, discovery or metrics, so the
		// modules are registered against an offline stack.
		aggregator := userMessages.NewMessagesAggregator(l)
		tools := base.NewTools(cfg.Chain, nil, aggregator, nil, l)
		td := decoder.NewTransactionDecoder(cfg.Chain, tools, aggregator, nil, l)

		spotSwap, err := spotswap.NewSpotSwap(tools, nil, nil, l)
		if err != nil {
			return err
		}
		if err := td.RegisterModule(spotSwap); err != nil {
			return err
		}

		summary := struct {
			Modules        []string                               `json:"modules"`
			Counterparties []types.CounterpartyDetails            `json:"counterparties"`
			Products       map[types.Counterparty][]types.Product `json:"products"`
		}{
			Modules:        td.Modules(),
			Counterparties: td.Counterparties(),
			Products:       td.Products(),
		}

		raw, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
		return nil
	},
}

func initCounterpartiesCmd(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(config.KebabToSnakeCase(f.Name), f); err != nil {
			fmt.Printf("Failed to bind flag '%s' - %+v\n", f.Name, err)
		}
		if err := viper.BindEnv(f.Name); err != nil {
			fmt.Printf("Failed to bind env '%s' - %+v\n", f.Name, err)
		}
	})
}
