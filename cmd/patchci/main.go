// Command patchci is the CI broker: it subscribes to a node's reference
// update announcements, detects patch-ref creates/updates, and drives a
// Concourse pipeline per affected project.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeffvincent/patchci/internal/broker"
	"github.com/jeffvincent/patchci/internal/config"
	"github.com/jeffvincent/patchci/internal/node"
)

var flags config.Flags

var rootCmd = &cobra.Command{
	Use:   "patchci",
	Short: "patchci — a CI broker bridging a node's patch events to a Concourse pipeline",
	Long: `patchci subscribes to a node's reference-update announcements, detects
patch-ref creates and updates, and drives a per-project Concourse pipeline
through configure, unpause, trigger, and downstream fan-out.`,
	RunE: run,
}

func init() {
	flagSet := rootCmd.Flags()
	flagSet.StringVar(&flags.ConcourseURI, "concourse-uri", "", "Base URL of the Concourse CI engine (env PATCHCI_CONCOURSE_URI)")
	flagSet.StringVar(&flags.CIUser, "ci-user", "", "Concourse local user (env PATCHCI_CI_USER)")
	flagSet.StringVar(&flags.CIPass, "ci-pass", "", "Concourse local user password (env PATCHCI_CI_PASS)")
	flagSet.IntVar(&flags.Capacity, "capacity", 0, "Worker pool capacity (default 5, env PATCHCI_CAPACITY)")
	flagSet.Int64Var(&flags.PollInterval, "poll-interval", 0, "Seconds between downstream-job polls (default 2, env PATCHCI_POLL_INTERVAL)")
	flagSet.Int64Var(&flags.PollDeadline, "poll-deadline", 0, "Seconds to wait for downstream jobs before giving up (default 60, env PATCHCI_POLL_DEADLINE)")
	rootCmd.PersistentFlags().String("node-socket", "", "Path to the node's control socket")
}

func run(cmd *cobra.Command, args []string) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("patchci: build logger: %w", err)
	}
	defer log.Sync()

	log.Info("CI broker init")

	brokerCfg, err := config.Load(flags)
	if err != nil {
		return err
	}

	socketPath, err := cmd.Flags().GetString("node-socket")
	if err != nil {
		return err
	}
	if socketPath == "" {
		return fmt.Errorf("patchci: --node-socket is required")
	}
	brokerCfg.Node = node.NewSocketNode(socketPath)
	brokerCfg.Storage = node.NewSocketStorage(socketPath)

	rt, err := broker.NewRuntime(brokerCfg, log)
	if err != nil {
		return fmt.Errorf("patchci: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rt.Run(ctx); err != nil {
		return fmt.Errorf("patchci: %w", err)
	}

	log.Info("shutdown complete")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Fatal:", err)
		os.Exit(1)
	}
}
