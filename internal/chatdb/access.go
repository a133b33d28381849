package chatdb

import (
	"context"
	"os"
	"slices"

	"github.com/leonletto/msgbridge/internal/types"
)

// AccessReport describes whether the store can actually be read. It backs
// the doctor command and the check_access tool.
type AccessReport struct {
	Path     string   `json:"path"`
	Exists   bool     `json:"exists"`
	Readable bool     `json:"readable"`
	Tables   []string `json:"tables,omitempty"`
	Messages int64    `json:"messages"`
	Missing  []string `json:"missing_tables,omitempty"`
}

// requiredTables are the store tables every query here depends on.
var requiredTables = []string{"message", "handle", "chat"}

// CheckAccess probes the store: file presence, raw readability (the common
// failure is the Full Disk Access privacy restriction), and the table list.
func CheckAccess(ctx context.Context, path string) (AccessReport, error) {
	report := AccessReport{Path: path}

	if _, err := os.Stat(path); err != nil {
		return report, storeMissing(path, err)
	}
	report.Exists = true

	// Reading one byte distinguishes a privacy restriction from a driver
	// problem before sqlite gets involved.
	f, err := os.Open(path)
	if err != nil {
		return report, storeMissing(path, err)
	}
	buf := make([]byte, 1)
	_, readErr := f.Read(buf)
	_ = f.Close()
	if readErr != nil {
		return report, storeMissing(path, readErr)
	}
	report.Readable = true

	r, err := Open(path)
	if err != nil {
		return report, err
	}
	defer func() { _ = r.Close() }()

	err = r.withRetry(ctx, "probe tables", func() error {
		rows, err := r.db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		report.Tables = report.Tables[:0]
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			report.Tables = append(report.Tables, name)
		}
		return rows.Err()
	})
	if err != nil {
		return report, err
	}

	for _, want := range requiredTables {
		if !slices.Contains(report.Tables, want) {
			report.Missing = append(report.Missing, want)
		}
	}

	err = r.withRetry(ctx, "count messages", func() error {
		return r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM message").Scan(&report.Messages)
	})
	if err != nil && len(report.Missing) == 0 {
		return report, err
	}

	return report, nil
}

// storeMissing is the shared unavailable-store error for the access probe.
func storeMissing(path string, err error) error {
	return types.NewError(types.KindStoreUnavailable,
		"messages store unreadable at %s; %s", path, fullDiskAccessHint).WithDetail(err.Error())
}
