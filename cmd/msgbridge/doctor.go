package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/leonletto/msgbridge/internal/chatdb"
	"github.com/leonletto/msgbridge/internal/contacts"
	"github.com/leonletto/msgbridge/internal/types"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check store access and scripting permissions",
		Long: `Checks everything msgbridge needs to work on this machine:

  - the Messages store exists and is readable (requires Full Disk
    Access for the hosting terminal)
  - the osascript interpreter answers (a send additionally requires
    Automation permission for the Messages app, granted on first use)

Exit code is 0 when all checks pass, 1 otherwise.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor()
		},
	}
}

type doctorReport struct {
	Store       chatdb.AccessReport   `json:"store"`
	StoreHint   string                `json:"store_hint,omitempty"`
	AddressBook contacts.AccessReport `json:"addressbook"`
	BookHint    string                `json:"addressbook_hint,omitempty"`
	Scripting   bool                  `json:"scripting"`
	ScriptErr   string                `json:"scripting_error,omitempty"`
	Healthy     bool                  `json:"healthy"`
}

func runDoctor() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	report := doctorReport{Healthy: true}

	report.Store, err = chatdb.CheckAccess(ctx, cfg.ChatDBPath)
	if err != nil {
		report.Healthy = false
		var bridgeErr *types.Error
		if errors.As(err, &bridgeErr) {
			report.StoreHint = bridgeErr.Message
		} else {
			report.StoreHint = err.Error()
		}
	}
	if len(report.Store.Missing) > 0 {
		report.Healthy = false
		report.StoreHint = fmt.Sprintf("store is missing tables %v; is %s really a Messages database?", report.Store.Missing, cfg.ChatDBPath)
	}

	// Contact lookup degrades gracefully, so an unreadable AddressBook is
	// reported but does not fail the checkup.
	report.AddressBook, err = contacts.CheckAccess(ctx, contacts.DefaultSourcesDir())
	if err != nil {
		var bridgeErr *types.Error
		if errors.As(err, &bridgeErr) {
			report.BookHint = bridgeErr.Message
		} else {
			report.BookHint = err.Error()
		}
	}

	res, err := cfg.Runner().Run(ctx, `return "ok"`)
	switch {
	case err != nil:
		report.Healthy = false
		report.ScriptErr = err.Error()
	case !res.OK:
		report.Healthy = false
		report.ScriptErr = res.Stderr
	default:
		report.Scripting = true
	}

	if flagJSON {
		printJSON(report)
	} else {
		printDoctor(report, cfg.ChatDBPath)
	}

	if !report.Healthy {
		os.Exit(1)
	}
	return nil
}

func printDoctor(report doctorReport, chatDBPath string) {
	check := func(ok bool) string {
		mark, color := "✓", "32"
		if !ok {
			mark, color = "✗", "31"
		}
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return "\x1b[" + color + "m" + mark + "\x1b[0m"
		}
		return mark
	}

	storeOK := report.Store.Readable && len(report.Store.Missing) == 0
	fmt.Printf("%s Messages store: %s\n", check(storeOK), chatDBPath)
	if storeOK {
		fmt.Printf("  %d messages on disk\n", report.Store.Messages)
	} else {
		fmt.Printf("  %s\n", report.StoreHint)
		if report.Store.Exists && !report.Store.Readable {
			fmt.Println("  Grant Full Disk Access to your terminal in System Settings → Privacy & Security")
		}
	}

	bookOK := len(report.AddressBook.Readable) > 0
	fmt.Printf("%s AddressBook (optional): %s\n", check(bookOK), report.AddressBook.Dir)
	if bookOK {
		fmt.Printf("  %d contacts across %d databases\n", report.AddressBook.Contacts, len(report.AddressBook.Readable))
	} else {
		fmt.Printf("  %s\n", report.BookHint)
		fmt.Println("  Contact name lookup is disabled; sending by handle still works")
	}

	fmt.Printf("%s osascript\n", check(report.Scripting))
	if !report.Scripting {
		fmt.Printf("  %s\n", report.ScriptErr)
	}

	if report.Healthy && !flagQuiet {
		fmt.Println("\nAll checks passed")
	}
}
