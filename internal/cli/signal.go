package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"threetick/internal/signal"
	"threetick/pkg/exchanges/binance/futures_usdt"
	"threetick/pkg/exchanges/common"
)

func newSignalCmd(rc *rootConfig) *cobra.Command {
	var symbol string

	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Print the current three-tick signal without trading",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rc.load()
			if err != nil {
				return err
			}
			if symbol == "" {
				symbol = cfg.Instrument
			}
			md := futures_usdt.NewClient(futures_usdt.Config{Testnet: cfg.BinanceTestnet})

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			return printSignal(ctx, cmd.OutOrStdout(), md, symbol, cfg.Timeframe)
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "Instrument to evaluate (defaults to the configured one)")
	return cmd
}

func printSignal(ctx context.Context, w io.Writer, md common.MarketData, symbol, timeframe string) error {
	candles, err := md.FetchCandles(ctx, symbol, timeframe, signal.Lookback)
	if err != nil {
		return fmt.Errorf("fetch candles: %w", err)
	}
	sig, err := signal.Evaluate(candles)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s %s\n", symbol, timeframe)
	for _, c := range candles[len(candles)-signal.Lookback : len(candles)-1] {
		fmt.Fprintf(w, "  %s  open %s  close %s\n", c.OpenTime.UTC().Format("2006-01-02 15:04"), c.Open, c.Close)
	}
	fmt.Fprintf(w, "signal: %s\n", sig)
	return nil
}
