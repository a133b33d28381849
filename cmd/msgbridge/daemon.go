package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leonletto/msgbridge/internal/chatdb"
	"github.com/leonletto/msgbridge/internal/config"
	"github.com/leonletto/msgbridge/internal/daemon"
	"github.com/leonletto/msgbridge/internal/imessage"
	"github.com/leonletto/msgbridge/internal/tool"
)

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the msgbridge daemon",
	}

	cmd.AddCommand(daemonRunCmd())
	return cmd
}

func daemonRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		Long: `Runs the msgbridge daemon in the foreground.

The daemon serves tool calls over a unix socket and pushes new-message
events to WebSocket subscribers on a loopback port recorded in the port
file. Stop it with Ctrl-C or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runDaemon(cfg)
		},
	}
}

func runDaemon(cfg config.Config) error {
	logger := log.New(os.Stderr, "daemon: ", log.LstdFlags)

	store, err := chatdb.Open(cfg.ChatDBPath)
	if err != nil {
		return fmt.Errorf("open messages store: %w\n  Run 'msgbridge doctor' to diagnose", err)
	}
	defer func() { _ = store.Close() }()

	sender := imessage.NewSender(cfg.Runner())

	bindings := tool.Bindings{
		Store:    store,
		Sender:   sender,
		MaxLimit: cfg.MaxLimit,
	}
	if book := openContacts(logger); book != nil {
		defer func() { _ = book.Close() }()
		bindings.Contacts = book
	}

	registry := tool.NewRegistry()
	tool.RegisterAll(registry, bindings)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Printf("shutting down")
		cancel()
	}()

	server := daemon.NewServer(cfg.SocketPath, registry, Version, logger)
	if err := server.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = server.Stop() }()
	logger.Printf("listening on %s", cfg.SocketPath)

	hub := daemon.NewEventHub(cfg.PortFile, logger)
	if err := hub.Start(ctx); err != nil {
		return fmt.Errorf("start event stream: %w", err)
	}
	defer func() { _ = hub.Stop(context.Background()) }()
	logger.Printf("event stream on 127.0.0.1:%d", hub.Port())

	watcher := daemon.NewWatcher(store, cfg.ChatDBPath, hub.BroadcastNewMessages, logger)
	watchErr := make(chan error, 1)
	go func() { watchErr <- watcher.Run(ctx) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-watchErr:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("store watcher: %w", err)
		}
		return nil
	}
}
