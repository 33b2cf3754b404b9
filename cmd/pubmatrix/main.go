package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	cfgPath    string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "pubmatrix",
	Short: "Publish orchestration and scheduling engine",
	Long: `pubmatrix publishes content items through per-account automation lanes.

Run "pubmatrix serve" as the long-lived daemon. The other commands act on the
same database once and exit.

Examples:
  pubmatrix serve --config /etc/pubmatrix/config.yaml
  pubmatrix publish 12 13 14
  pubmatrix schedule --at 21:30 12
  pubmatrix resolve --as requeue 12`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config file (yaml or json)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	rootCmd.AddCommand(
		serveCmd,
		publishCmd,
		scheduleCmd,
		cancelCmd,
		checkAccountsCmd,
		strandedCmd,
		resolveCmd,
	)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
