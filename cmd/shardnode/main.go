// shardnode is the cluster node service daemon and its operator CLI.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"shardnode/common"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "shardnode",
		Short:         "Peer-to-peer coordination for sharded model inference",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		setupLogging()
	}
	root.AddCommand(
		newServeCmd(),
		newTopologyCmd(),
		newHealthCmd(),
		newAssignCmd(),
	)
	return root
}

func setupLogging() {
	level := slog.LevelInfo
	switch common.LoadEnv("SHARDNODE_LOG_LEVEL", "info") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}
