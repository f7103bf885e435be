package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/fxlake/tickpipe/lake"
)

const (
	flagSample = "sample"
	flagOutput = "output"
)

func getAnalyzeCmd() *cobra.Command {
	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Summarize the tick blob namespace of the data lake",
		Long: `Walks every tick blob key and reports per-symbol blob and day
counts. With --sample a bounded number of blobs per symbol is
downloaded to estimate tick counts. With --output the report is written
to a file as JSON instead of text on stdout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := getCmdLogger(cmd)
			if err != nil {
				return err
			}
			cfg, err := getCmdConfig(cmd)
			if err != nil {
				return err
			}
			sample, err := cmd.Flags().GetBool(flagSample)
			if err != nil {
				return err
			}
			output, err := cmd.Flags().GetString(flagOutput)
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
			report, err := lake.Analyze(ctx, logger, store, sample)
			if err != nil {
				return err
			}

			if output == "" {
				_, err := report.WriteTo(os.Stdout)
				return err
			}

			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()
			return report.EncodeJSON(f)
		},
	}

	analyzeCmd.Flags().Bool(flagSample, false, "download a sample of blobs to estimate tick counts")
	analyzeCmd.Flags().String(flagOutput, "", "write the report as JSON to this file")
	return analyzeCmd
}
