package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ddsetl: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configDir string
	logLevel  string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "ddsetl",
		Short: "Range-scoped cleansing pipeline for the s_sql_dds store",
		Long: `ddsetl loads raw extracts into the landing table, cleanses them into the
structured table for a date range, refreshes the customer summary mart and
mirrors the result into a SQLite file.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configDir, "config-dir", "c", ".", "Directory holding config.yaml and .env")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")
	cmd.AddCommand(
		newInitCmd(opts),
		newWaitCmd(opts),
		newIngestCmd(opts),
		newTransformCmd(opts),
		newCopyCmd(opts),
		newPipelineCmd(opts),
		newServeCmd(opts),
	)
	return cmd
}
