package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leonletto/msgbridge/internal/types"
)

func chatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List conversations",
		Long: `List conversations in the Messages store, most recently active first.

The printed identifiers are what 'msgbridge recent' and
'msgbridge send --chat' accept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			var chats []types.Conversation
			if err := client.CallTool("list_chats", nil, &chats); err != nil {
				return err
			}

			if flagJSON {
				printJSON(chats)
				return nil
			}
			if len(chats) == 0 {
				if !flagQuiet {
					fmt.Println("No conversations")
				}
				return nil
			}
			for _, c := range chats {
				name := c.DisplayName
				if name == "" {
					name = strings.Join(c.Participants, ", ")
				}
				when := ""
				if !c.LastActivity.IsZero() {
					when = c.LastActivity.Local().Format("2006-01-02 15:04")
				}
				fmt.Printf("%-28s  %-20s  %s\n", c.ID, when, name)
			}
			return nil
		},
	}
}
