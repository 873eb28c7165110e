package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/packet-parser/internal/common"
	"github.com/joseph-ayodele/packet-parser/internal/logger"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
}

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "packetctl",
		Short:         "Operate the contract packet parser from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("PACKET_CONFIG"), "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		newParseCmd(opts),
		newBatchCmd(opts),
		newRenderCmd(opts),
		newClassifyCmd(opts),
		newDBHealthCmd(opts),
		newLoanTypeCmd(),
	)
	return root
}

func (o *rootOptions) load() (*common.Config, *slog.Logger, error) {
	cfg, err := common.LoadConfig(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	// logs go to stderr so stdout stays machine readable
	log := logger.New(logger.Config{Level: o.logLevel, Format: cfg.Log.Format}, os.Stderr)
	slog.SetDefault(log)
	return cfg, log, nil
}
