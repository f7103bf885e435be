package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fxlake/tickpipe/broker"
	"github.com/fxlake/tickpipe/lake"
	"github.com/fxlake/tickpipe/market"
	"github.com/fxlake/tickpipe/telemetry"
)

func getServiceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "service",
		Short: "Run the live tick collection pipeline",
		Long: `Connects to every configured broker venue, subscribes the
configured symbols, batches incoming ticks, and lands them as blobs in
the data lake. Runs until interrupted; pending batches are flushed on
shutdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := getCmdLogger(cmd)
			if err != nil {
				return err
			}
			cfg, err := getCmdConfig(cmd)
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

			maxBatchAge, err := time.ParseDuration(cfg.Batcher.MaxBatchAge)
			if err != nil {
				return err
			}
			sweepInterval, err := time.ParseDuration(cfg.Batcher.SweepInterval)
			if err != nil {
				return err
			}
			batcher := lake.NewBatcher(logger, store, cfg.Batcher.MaxBatchSize, maxBatchAge, sweepInterval)
			batcher.Start(ctx)

			router := broker.NewRouter(logger)
			router.Start(ctx)
			for _, venue := range cfg.Venues {
				if err := router.AddVenue(venue); err != nil {
					return err
				}
			}

			symbols := make([]market.Symbol, 0, len(cfg.Symbols))
			for _, raw := range cfg.Symbols {
				symbol, err := market.Canonicalize(raw)
				if err != nil {
					return err
				}
				symbols = append(symbols, symbol)
			}
			if err := router.Subscribe("", "", symbols...); err != nil {
				return err
			}

			opsRouter := telemetry.NewRouter(logger, cfg.Server, pipelineStats{
				"broker":  router,
				"batcher": batcher,
			})

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return opsRouter.Listen(gctx.Done())
			})
			g.Go(func() error {
				for {
					select {
					case <-gctx.Done():
						return nil
					case event := <-router.Ticks():
						batcher.Add(event.Symbol, event.Tick())
					}
				}
			})

			err = g.Wait()
			batcher.Stop()
			return err
		},
	}
}

// pipelineStats merges per-component counters for the /stats endpoint.
type pipelineStats map[string]telemetry.StatsSource

func (p pipelineStats) Stats() map[string]any {
	out := make(map[string]any, len(p))
	for name, source := range p {
		out[name] = source.Stats()
	}
	return out
}
