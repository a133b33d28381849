package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/leonletto/msgbridge/internal/contacts"
)

// openContacts opens the AddressBook best-effort. Contact features
// degrade gracefully, so a missing or unreadable book is a warning, not
// a startup failure.
func openContacts(logger *log.Logger) *contacts.Book {
	paths, err := contacts.Discover(contacts.DefaultSourcesDir())
	if err != nil {
		logger.Printf("addressbook unavailable, contact lookup disabled: %v", err)
		return nil
	}
	book, err := contacts.Open(paths)
	if err != nil {
		logger.Printf("addressbook unavailable, contact lookup disabled: %v", err)
		return nil
	}
	return book
}

// openContactsQuiet is openContacts for the MCP server, where stdout
// belongs to the protocol and warnings go to stderr.
func openContactsQuiet() *contacts.Book {
	paths, err := contacts.Discover(contacts.DefaultSourcesDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: addressbook unavailable, contact lookup disabled: %v\n", err)
		return nil
	}
	book, err := contacts.Open(paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: addressbook unavailable, contact lookup disabled: %v\n", err)
		return nil
	}
	return book
}

func contactsCmd() *cobra.Command {
	var flagLimit int

	cmd := &cobra.Command{
		Use:   "contacts NAME",
		Short: "Find contacts by name",
		Long: `Find AddressBook contacts matching a name, best match first.

Matching tolerates partial names, misspellings, and initials. The
printed numbers are what 'msgbridge send' accepts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			callArgs := map[string]any{"name": args[0]}
			if flagLimit > 0 {
				callArgs["limit"] = flagLimit
			}
			var matches []contacts.Match
			if err := client.CallTool("find_contact", callArgs, &matches); err != nil {
				return err
			}

			if flagJSON {
				printJSON(matches)
				return nil
			}
			if len(matches) == 0 {
				if !flagQuiet {
					fmt.Printf("No contacts matching %q\n", args[0])
				}
				return nil
			}
			for _, m := range matches {
				fmt.Printf("%-24s  %-16s  %.3f %s\n", m.Name, m.Handle, m.Score, m.Confidence)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&flagLimit, "limit", 0, "Maximum matches to return")
	return cmd
}
