package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fxlake/tickpipe/candles"
	"github.com/fxlake/tickpipe/lake"
	"github.com/fxlake/tickpipe/market"
	"github.com/fxlake/tickpipe/util"
)

const flagDryRun = "dry-run"

func getMaterializeCmd() *cobra.Command {
	materializeCmd := &cobra.Command{
		Use:   "materialize [symbol] [date or from:to]",
		Args:  cobra.ExactArgs(2),
		Short: "Materialize tick blobs into 5-minute candles",
		Long: `Reads a symbol's tick blobs for a UTC date or inclusive date
range, builds 5-minute candles, upserts them into TimescaleDB, and
refreshes the larger-timeframe continuous aggregates. With --dry-run
candles are built and counted but the database is never touched.`,
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
			from, to, err := parseDayRange(args[1])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			trapSignal(cancel, logger)

			store, err := lake.NewObjectStore(logger, cfg.ObjectStore)
			if err != nil {
				return err
			}

			var db candles.CandleStore
			if !dryRun {
				pgStore, err := candles.NewStore(ctx, logger, cfg.Database)
				if err != nil {
					return err
				}
				defer pgStore.Close()
				db = pgStore
			}

			result, err := candles.NewMaterializer(logger, store, db, dryRun).Run(ctx, symbol, from, to)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	materializeCmd.Flags().Bool(flagDryRun, false, "build candles without writing to the database")
	return materializeCmd
}

// parseDayRange parses "YYYY-MM-DD" or "YYYY-MM-DD:YYYY-MM-DD" into an
// inclusive UTC day range.
func parseDayRange(s string) (time.Time, time.Time, error) {
	parts := strings.SplitN(s, ":", 2)

	from, err := util.ParseUTCDate(parts[0])
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if len(parts) == 1 {
		return from, from, nil
	}

	to, err := util.ParseUTCDate(parts[1])
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("range end %s precedes start %s", parts[1], parts[0])
	}
	return from, to, nil
}
