package cmd

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fxlake/tickpipe/candles"
	"github.com/fxlake/tickpipe/history"
	"github.com/fxlake/tickpipe/lake"
	"github.com/fxlake/tickpipe/market"
	"github.com/fxlake/tickpipe/util"
)

func getBackfillCmd() *cobra.Command {
	backfillCmd := &cobra.Command{
		Use:   "backfill [symbol] [from] [to]",
		Args:  cobra.ExactArgs(3),
		Short: "Find and fill candle coverage gaps",
		Long: `Computes which UTC days in the inclusive range have no candles
for the symbol, imports ticks for the missing trading days, and
materializes them. Saturdays are never imported; the market is closed
all day. With --dry-run the coverage report is printed and nothing is
imported.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := getCmdLogger(cmd)
			if err != nil {
				return err
			}
			cfg, err := getCmdConfig(cmd)
			if err != nil {
				return err
			}
			dryRun, err := cmd.Flags().GetBool(flagDryRun)
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
			to, err := util.ParseUTCDate(args[2])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			trapSignal(cancel, logger)

			db, err := candles.NewStore(ctx, logger, cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			covered, err := db.CoveredDays(ctx, symbol, from, to.AddDate(0, 0, 1))
			if err != nil {
				return err
			}
			coverage := candles.ComputeCoverage(symbol, from, to, covered)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(coverage); err != nil {
				return err
			}

			if dryRun || coverage.Covered() {
				return nil
			}

			store, err := lake.NewObjectStore(logger, cfg.ObjectStore)
			if err != nil {
				return err
			}
			importer, err := history.NewImporter(logger, store, history.NewClient(logger, cfg.History), cfg.History)
			if err != nil {
				return err
			}
			materializer := candles.NewMaterializer(logger, store, db, false)

			for _, gap := range coverage.Missing {
				for day := gap.Start; !day.After(gap.End); day = day.AddDate(0, 0, 1) {
					if day.Weekday() == time.Saturday {
						continue
					}
					summary, err := importer.Run(ctx, symbol, day, day.AddDate(0, 0, 1))
					if err != nil {
						return err
					}
					if summary.BlobsWritten == 0 {
						logger.Info().
							Str("symbol", symbol.String()).
							Str("day", util.FormatUTCDate(day)).
							Msg("no ticks imported for missing day")
						continue
					}
					if _, err := materializer.Run(ctx, symbol, day, day); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}

	backfillCmd.Flags().Bool(flagDryRun, false, "report coverage gaps without importing")
	return backfillCmd
}
