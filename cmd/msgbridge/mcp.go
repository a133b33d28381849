package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leonletto/msgbridge/internal/chatdb"
	"github.com/leonletto/msgbridge/internal/imessage"
	bridgemcp "github.com/leonletto/msgbridge/internal/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "MCP server integration",
	}

	cmd.AddCommand(mcpServeCmd())
	return cmd
}

func mcpServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start MCP stdio server for Messages access",
		Long: `Starts an MCP server on stdin/stdout exposing the Messages tools
(recent_messages, search_messages, send_message, and friends).

The server reads the store and sends messages directly; the daemon is
only needed for wait_for_message, which subscribes to its event stream.

Configure in Claude Code's .claude/settings.json:
  {
    "mcpServers": {
      "imessage": {
        "type": "stdio",
        "command": "msgbridge",
        "args": ["mcp", "serve"]
      }
    }
  }`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCPServe()
		},
	}
}

func runMCPServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := chatdb.Open(cfg.ChatDBPath)
	if err != nil {
		return fmt.Errorf("open messages store: %w\n  Run 'msgbridge doctor' to diagnose", err)
	}
	defer func() { _ = store.Close() }()

	sender := imessage.NewSender(cfg.Runner())

	opts := []bridgemcp.Option{bridgemcp.WithVersion(Version)}
	if book := openContactsQuiet(); book != nil {
		defer func() { _ = book.Close() }()
		opts = append(opts, bridgemcp.WithContacts(book))
	}
	server := bridgemcp.NewServer(store, sender, opts...)

	// Set up context with signal handling for clean shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// Hook up the event stream for wait_for_message (best-effort: the rest
	// of the tools work without a running daemon).
	if wsURL, urlErr := bridgemcp.EventStreamURL(cfg.PortFile); urlErr == nil {
		if initErr := server.InitWaiter(ctx, wsURL); initErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: event stream not available (wait_for_message will fail): %v\n", initErr)
		}
	} else {
		fmt.Fprintf(os.Stderr, "Warning: daemon event stream not found (wait_for_message will fail): %v\n", urlErr)
	}

	// Run MCP server (blocks on stdio until client disconnects)
	return server.Run(ctx)
}
