package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/fxlake/tickpipe/history"
	"github.com/fxlake/tickpipe/lake"
	"github.com/fxlake/tickpipe/market"
	"github.com/fxlake/tickpipe/util"
)

func getImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [symbol] [from] [to] [chunk-hours] [delay-seconds]",
		Args:  cobra.RangeArgs(3, 5),
		Short: "Import historical ticks into the data lake",
		Long: `Downloads historical ticks for a symbol over an inclusive UTC
date range and lands each successful chunk as one blob. Optional
trailing arguments override the configured chunk size and the pacing
delay between chunks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := getCmdLogger(cmd)
			if err != nil {
				return err
			}
			cfg, err := getCmdConfig(cmd)
			if err != nil {
				return err
			}

			symbol, err := market.Canonicalize(args[0])
			if err != nil {
				return err
			}
			from, err := util.ParseUTCDate(args[1])
			if err != nil {
				return err
			}
			toDay, err := util.ParseUTCDate(args[2])
			if err != nil {
				return err
			}
			to := toDay.AddDate(0, 0, 1)

			histCfg := cfg.History
			if len(args) > 3 {
				chunkHours, err := strconv.Atoi(args[3])
				if err != nil {
					return fmt.Errorf("invalid chunk-hours %q: %w", args[3], err)
				}
				histCfg.ChunkHours = chunkHours
			}
			if len(args) > 4 {
				delaySec, err := strconv.Atoi(args[4])
				if err != nil {
					return fmt.Errorf("invalid delay-seconds %q: %w", args[4], err)
				}
				histCfg.PacingDelay = (time.Duration(delaySec) * time.Second).String()
			}

			store, err := lake.NewObjectStore(logger, cfg.ObjectStore)
			if err != nil {
				return err
			}
			importer, err := history.NewImporter(logger, store, history.NewClient(logger, histCfg), histCfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			trapSignal(cancel, logger)

			summary, err := importer.Run(ctx, symbol, from, to)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
}
