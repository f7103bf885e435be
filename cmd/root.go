package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fxlake/tickpipe/config"
)

const (
	flagLogLevel   = "log-level"
	flagLogFormat  = "log-format"
	flagConfigPath = "config"

	logLevelJSON = "json"
	logLevelText = "text"
)

var rootCmd = &cobra.Command{
	Use:   "tickpipe",
	Short: "tickpipe collects forex ticks and materializes them into candles",
	Long: `tickpipe streams live forex ticks from broker venues into an
S3-compatible data lake, imports historical ticks, and materializes
5-minute candles with larger-timeframe continuous aggregates into
TimescaleDB.`,
}

func init() {
	rootCmd.PersistentFlags().String(flagLogLevel, zerolog.InfoLevel.String(), "logging level")
	rootCmd.PersistentFlags().String(flagLogFormat, logLevelText, "logging format; must be either json or text")
	rootCmd.PersistentFlags().String(flagConfigPath, "tickpipe.toml", "path to the configuration file")

	rootCmd.AddCommand(
		getServiceCmd(),
		getImportCmd(),
		getMaterializeCmd(),
		getBackfillCmd(),
		getAnalyzeCmd(),
		getSchemaCmd(),
		getVersionCmd(),
	)
}

// Execute runs the root command and returns any execution error.
func Execute() error {
	return rootCmd.Execute()
}

// getCmdLogger builds the process logger from the persistent logging
// flags.
func getCmdLogger(cmd *cobra.Command) (zerolog.Logger, error) {
	logLvlStr, err := cmd.Flags().GetString(flagLogLevel)
	if err != nil {
		return zerolog.Logger{}, err
	}
	logLvl, err := zerolog.ParseLevel(logLvlStr)
	if err != nil {
		return zerolog.Logger{}, err
	}

	logFormatStr, err := cmd.Flags().GetString(flagLogFormat)
	if err != nil {
		return zerolog.Logger{}, err
	}

	var logWriter io.Writer
	switch strings.ToLower(logFormatStr) {
	case logLevelJSON:
		logWriter = os.Stderr

	case logLevelText:
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr}

	default:
		return zerolog.Logger{}, fmt.Errorf("invalid logging format: %s", logFormatStr)
	}

	return zerolog.New(logWriter).Level(logLvl).With().Timestamp().Logger(), nil
}

// getCmdConfig loads the configuration named by the --config flag.
func getCmdConfig(cmd *cobra.Command) (config.Config, error) {
	configPath, err := cmd.Flags().GetString(flagConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	return config.ParseConfig(configPath)
}

// trapSignal listens for and traps any OS signal to gracefully shutdown
// and exit.
func trapSignal(cancel context.CancelFunc, logger zerolog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("caught signal; shutting down...")
		cancel()
	}()
}
