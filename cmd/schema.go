package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fxlake/tickpipe/candles"
)

func getSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the candle database schema",
		Long: `Prints the TimescaleDB schema for the candle table and its
continuous aggregates. Apply it with psql; continuous aggregate
creation cannot run inside a transaction block.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(candles.Schema)
			return nil
		},
	}
}
