// Command docrag indexes documents and answers questions about them with a
// language model grounded in the retrieved passages.
//
// # Basic Usage
//
//	docrag ingest handbook.pdf notes/*.txt
//	docrag ask "How many vacation days do I get?" --source handbook.pdf
//	docrag chat
//
// Configuration is read from --config, ./config.yaml or
// ~/.config/docrag/config.yaml. A .env file in the working directory is
// loaded first so API keys can live there.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

type rootOptions struct {
	configPath string
	verbose    bool
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "docrag",
		Short:         "Ask questions about your documents",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to YAML config file (defaults to ./config.yaml or ~/.config/docrag/config.yaml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		buildIngestCmd(opts),
		buildAskCmd(opts),
		buildCountCmd(opts),
		buildSourcesCmd(opts),
		buildForgetCmd(opts),
		buildResetCmd(opts),
		buildHistoryCmd(opts),
		buildChatCmd(opts),
	)
	return root
}
