package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// this is set by goreleaser
var version string

func main() {
	if version == "" {
		version = "DEV"
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Exiting")
		os.Exit(1)
	}
}

type rootFlags struct {
	configFilename string
	db             string
	logFilename    string
	verbosityTrace bool

	// loaded before any subcommand runs
	config Config
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "precache",
		Short:         "Offline cache-first agent for a web origin",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config, err := flags.loadConfig(cmd)
			if err != nil {
				return err
			}
			flags.config = config
			return setupLogging(flags.verbosityTrace, config.LogFile)
		},
	}
	cmd.PersistentFlags().StringVar(&flags.configFilename, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&flags.db, "db", "", "Cache DB file name (use 'memory' for in-memory db)")
	cmd.PersistentFlags().StringVar(&flags.logFilename, "log-file", "", "Log file to use (in addition to stdout)")
	cmd.PersistentFlags().BoolVar(&flags.verbosityTrace, "vv", false, "Verbosity: trace logging")

	cmd.AddCommand(
		newServeCmd(flags),
		newInstallCmd(flags),
		newKeysCmd(flags),
	)
	return cmd
}

// loadConfig gets the config and applies the flags that were set.
func (f *rootFlags) loadConfig(cmd *cobra.Command) (Config, error) {
	config, err := getConfig(f.configFilename)
	if err != nil {
		return config, err
	}
	if cmd.Flags().Changed("db") {
		config.DB = f.db
	}
	if cmd.Flags().Changed("log-file") {
		config.LogFile = f.logFilename
	}
	return config, nil
}

// setupLogging sets the global logger to output to stdout,
// and also to the logfile if specified.
func setupLogging(trace bool, logFilename string) error {
	logLevel := zerolog.DebugLevel
	if trace {
		logLevel = zerolog.TraceLevel
	}

	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilename != "" {
		logFileOutput, err := os.OpenFile(logFilename, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return err
		}
		logOutputs = append(logOutputs, logFileOutput)
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = zerolog.New(multiWriter).Level(logLevel).
		With().Timestamp().Str("version", version).Logger()
	return nil
}
