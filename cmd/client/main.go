package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"enigma/internal/config"
	"enigma/internal/service/app"
	"enigma/internal/utils/log"

	"github.com/spf13/cobra"
)

func main() {
	var configPath, passphrase string

	root := &cobra.Command{
		Use:          "enigma <username>",
		Short:        "End-to-end encrypted terminal chat",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.Client.DataDir, 0o700); err != nil {
				return err
			}
			// the terminal belongs to the chat UI
			if err := log.Init(cfg.Log.Level, filepath.Join(cfg.Client.DataDir, "client.log")); err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if passphrase == "" {
				passphrase = os.Getenv("ENIGMA_PASSPHRASE")
			}
			return run(ctx, cfg, args[0], passphrase)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to YAML config")
	root.Flags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the local account (or ENIGMA_PASSPHRASE)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, username, passphrase string) error {
	store, closer, err := app.OpenStateStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer closer.Close()

	a, err := app.NewApp(store, cfg.Client.ServerURL, passphrase)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		a.Stop()
	}()
	return a.Run(ctx, username)
}
