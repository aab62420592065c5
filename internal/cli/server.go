package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/contalabs/bankd/internal/bank"
	"github.com/contalabs/bankd/internal/config"
)

var (
	// Server flags
	listenAddr string
	dataDir    string
)

// serverCmd starts the engine and serves until interrupted.
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the bankd server",
	Long: `Start the bankd server: the storage pool, the rates refresher, the
account actor runtime and the HTTP API (with an optional WebSocket
operations feed). Runs until SIGINT or SIGTERM.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	// Running bankd without a subcommand starts the server.
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServer(cmd, args)
	}

	serverCmd.Flags().StringVar(&listenAddr, "listen", "", "override server.listen_address")
	serverCmd.Flags().StringVar(&dataDir, "data", "", "override storage.base_folder")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.ListenAddress = listenAddr
	}
	if dataDir != "" {
		cfg.Storage.BaseFolder = dataDir
	}

	log, err := buildLogger()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := bank.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		_ = svc.Stop(context.Background())
		return err
	}
	if !quiet {
		fmt.Printf("bankd listening on %s\n", svc.Addr())
		if path := cfg.ConfigPath(); path != "" {
			fmt.Printf("configuration loaded from %s\n", path)
		}
	}

	<-ctx.Done()
	log.Info("shutdown signal received")

	// The signal context is already done; shut down on a fresh one.
	return svc.Stop(context.Background())
}

func buildLogger() (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	switch {
	case quiet:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	case verbose:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}
