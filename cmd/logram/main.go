package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"logram/internal/app"
	logx "logram/pkg/logx"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgPath      string
	echoToken    string
	echoProxy    string
	historyLimit int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "logram",
	Short:        "Forward logs and events to a Telegram chat",
	Long:         "Logram watches counters, files, the systemd journal and Docker containers and posts what it sees to Telegram.",
	SilenceUsage: true,
	RunE:         runDaemon,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to config file (yaml or json)")

	echoCmd.Flags().StringVarP(&echoToken, "token", "t", "", "bot token")
	echoCmd.Flags().StringVarP(&echoProxy, "proxy", "p", "", "proxy URL for the Bot API")
	_ = echoCmd.MarkFlagRequired("token")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of entries to show")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(echoCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func runDaemon(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a, err := app.New(cfgPath, version)
	if err != nil {
		return fmt.Errorf("fatal: %w", err)
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("fatal start: %w", err)
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		reason = app.StopReasonFromSignal(sig)
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	_ = a.Stop(sctx, reason)
	if reason == app.StopFatalError {
		return fmt.Errorf("fatal: %w", a.Err())
	}
	return nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline (same as the bare command)",
	RunE:  runDaemon,
}

var echoCmd = &cobra.Command{
	Use:     "echo-id",
	Aliases: []string{"echo_id"},
	Short:   "Reply to every message with the chat id it was sent in",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return app.RunEchoID(ctx, echoToken, echoProxy, cmd.OutOrStdout(), logx.NewConsole("INFO"))
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent Telegram deliveries from storage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return app.ListDeliveries(cmd.Context(), cfgPath, historyLimit, cmd.OutOrStdout())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "logram %s\n", version)
	},
}
