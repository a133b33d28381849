package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leonletto/msgbridge/internal/types"
)

func recentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recent [CONVERSATION]",
		Short: "List recent messages",
		Long: `List recent messages, newest first.

Without arguments, lists messages across all conversations. With a chat
identifier (from 'msgbridge chats'), lists that conversation only.
--search filters by message text instead.

The daemon must be running.

Examples:
  msgbridge recent
  msgbridge recent --limit 10 --since 2026-08-01T00:00:00Z
  msgbridge recent chat123456789
  msgbridge recent --search "dinner"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			since, _ := cmd.Flags().GetString("since")
			search, _ := cmd.Flags().GetString("search")

			if search != "" && len(args) > 0 {
				return fmt.Errorf("--search cannot be combined with a conversation argument")
			}

			toolName := "recent_messages"
			toolArgs := map[string]any{"limit": limit}
			switch {
			case search != "":
				toolName = "search_messages"
				toolArgs["query"] = search
			case len(args) == 1:
				toolName = "conversation_messages"
				toolArgs["conversation"] = args[0]
			default:
				if since != "" {
					toolArgs["since"] = since
				}
			}

			client, err := getClient()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			var messages []types.Message
			if err := client.CallTool(toolName, toolArgs, &messages); err != nil {
				return err
			}

			if flagJSON {
				printJSON(messages)
				return nil
			}
			if len(messages) == 0 {
				if !flagQuiet {
					fmt.Println("No messages")
				}
				return nil
			}
			for _, m := range messages {
				fmt.Print(formatMessage(m))
			}
			return nil
		},
	}

	cmd.Flags().Int("limit", 50, "Maximum messages to return")
	cmd.Flags().String("since", "", "Only messages after this RFC 3339 timestamp")
	cmd.Flags().String("search", "", "Search message text instead of listing")

	return cmd
}

func formatMessage(m types.Message) string {
	sender := m.Sender
	if m.SenderName != "" {
		sender = m.SenderName
	}
	if m.FromMe {
		sender = "me"
	}
	text := m.Text
	if text == "" && m.HasAttachment {
		text = "[attachment]"
	}
	line := fmt.Sprintf("[%s] %s: %s\n", m.SentAt.Local().Format("2006-01-02 15:04"), sender, text)
	if m.Conversation != "" {
		line = fmt.Sprintf("[%s] %s (%s): %s\n", m.SentAt.Local().Format("2006-01-02 15:04"), sender, m.Conversation, text)
	}
	return line
}
