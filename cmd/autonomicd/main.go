// Command autonomicd runs the autonomic self-healing control loop: a
// diagnostic loop that probes component health and applies policy-matched
// repairs, and a predictive loop that pre-empts failures from health trends.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sentinelops/autonomic/internal/cli"
	"github.com/sentinelops/autonomic/internal/config"
)

var version = "dev"

var (
	configPath   string
	outputFormat string
	verbose      bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "autonomicd",
		Short: "Autonomic self-healing control loop",
		Long: `autonomicd watches component health, matches detected issues against
repair policies, executes remediations, and learns from their outcomes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	root.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json, yaml")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(newRunCmd(), newDiagnoseCmd(), newStatusCmd(), newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the control loops until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			defer func() { _ = rt.Log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt.Log.Info("starting control loops",
				zap.String("version", version), zap.String("mode", rt.Config.Mode))
			return cli.RunDaemon(ctx, rt)
		},
	}
}

func newDiagnoseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Run one diagnostic cycle and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			return cli.Diagnose(cmd.Context(), rt, outputFormat, verbose, cmd.OutOrStdout())
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print an engine status summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			return cli.ShowStatus(rt, outputFormat, cmd.OutOrStdout())
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "autonomicd %s\n", version)
		},
	}
}

func buildRuntime(ctx context.Context) (*cli.Runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := cli.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return cli.Build(ctx, cfg, log)
}
