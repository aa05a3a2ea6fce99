package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"

	"github.com/table-talk25/TableTalk-app-sub000/internal/server"
	"github.com/table-talk25/TableTalk-app-sub000/internal/store"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the realtime relay with its REST API",
	RunE:  runRelay,
}

func runRelay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	app, err := server.NewApp(logger, ctx, cfg, st, clock.New())
	if err != nil {
		return err
	}
	if err := app.Run(); err != nil {
		return err
	}
	logger.Info("Application shut down successfully.", slog.String("storage", cfg.Storage.Driver))
	return nil
}
