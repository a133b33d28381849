package main

import (
	"encoding/json"
	"fmt"
	"os"
	goruntime "runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/leonletto/msgbridge/internal/cli"
	"github.com/leonletto/msgbridge/internal/config"
)

var (
	// Build info (set via ldflags).
	Version = "dev"
	Build   = "unknown"
)

var (
	// Global flags.
	flagConfig  string
	flagChatDB  string
	flagSocket  string
	flagTimeout time.Duration
	flagJSON    bool
	flagQuiet   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "msgbridge",
		Short: "Bridge to the macOS Messages app",
		Long: `Msgbridge reads the local Messages store and sends texts through the
Messages app, exposing both as tools for scripts, agents, and MCP clients.

Reading requires Full Disk Access for the hosting terminal; sending
requires Automation permission for osascript. Run 'msgbridge doctor'
to check both.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default ~/.msgbridge/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagChatDB, "chat-db", "", "Messages store path (or MSGBRIDGE_CHAT_DB env var)")
	rootCmd.PersistentFlags().StringVar(&flagSocket, "socket", "", "Daemon socket path (or MSGBRIDGE_SOCKET env var)")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "script-timeout", 0, "Per-script osascript timeout")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "JSON output for scripting")
	rootCmd.PersistentFlags().BoolVar(&flagQuiet, "quiet", false, "Suppress non-essential output")

	// Set version for --version flag
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("msgbridge v{{.Version}} (build: " + Build + ", " + goruntime.Version() + ")\n")

	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(recentCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(chatsCmd())
	rootCmd.AddCommand(contactsCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration with the global flags
// layered on top.
func loadConfig() (config.Config, error) {
	return config.Load(flagConfig, config.Overrides{
		ChatDBPath:    flagChatDB,
		SocketPath:    flagSocket,
		ScriptTimeout: flagTimeout,
	})
}

// getClient connects to the daemon socket and completes the handshake.
func getClient() (*cli.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	client, err := cli.Connect(cfg.SocketPath, "msgbridge-cli", Version)
	if err != nil {
		return nil, fmt.Errorf("msgbridge daemon is not running. Start it with: msgbridge daemon run\n  (socket: %s)", cfg.SocketPath)
	}
	return client, nil
}

func printJSON(v any) {
	output, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(output))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show msgbridge version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagJSON {
				printJSON(map[string]string{
					"version":    Version,
					"build":      Build,
					"go_version": goruntime.Version(),
				})
			} else {
				fmt.Printf("msgbridge v%s (build: %s, %s)\n", Version, Build, goruntime.Version())
			}
			return nil
		},
	}
}
