package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leonletto/msgbridge/internal/types"
)

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send TARGET MESSAGE",
		Short: "Send a message",
		Long: `Send a message through the Messages app.

TARGET is a phone number, an email address, or (with --chat) a chat
identifier from 'msgbridge chats'. Phone numbers are normalized to
E.164; bare 10-digit numbers get a +1 prefix.

The daemon must be running, and osascript needs Automation permission
for the Messages app (macOS prompts on first send).

Examples:
  msgbridge send "+1 555 123 4567" "on my way"
  msgbridge send friend@example.com "hello"
  msgbridge send --chat chat123456789 "hello everyone"
  msgbridge send --service sms 5551234567 "fallback to green"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			chat, _ := cmd.Flags().GetBool("chat")
			service, _ := cmd.Flags().GetString("service")

			toolArgs := map[string]any{
				"target": args[0],
				"text":   args[1],
			}
			if chat {
				toolArgs["chat"] = true
			}
			if service != "" {
				toolArgs["service"] = service
			}

			client, err := getClient()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			var result types.SendResult
			if err := client.CallTool("send_message", toolArgs, &result); err != nil {
				return err
			}

			if flagJSON {
				printJSON(result)
			} else if !flagQuiet {
				fmt.Printf("✓ Message handed to %s (attempt %s)\n", result.Service, result.AttemptID)
			}
			return nil
		},
	}

	cmd.Flags().Bool("chat", false, "Treat TARGET as a group chat identifier")
	cmd.Flags().String("service", "", "Delivery service: imessage (default) or sms")

	return cmd
}
