// Package contacts reads the macOS AddressBook source databases without
// writing to them and resolves human names to message handles. The OS
// splits contacts across one database per account source; everything here
// merges them.
package contacts

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/leonletto/msgbridge/internal/imessage"
	"github.com/leonletto/msgbridge/internal/types"
)

const fullDiskAccessHint = "grant Full Disk Access to this process in System Settings > Privacy & Security, then restart it"

// sourceDBName is the per-source database file name.
const sourceDBName = "AddressBook-v22.abcddb"

// DefaultSourcesDir returns the AddressBook sources directory under the
// user's home directory.
func DefaultSourcesDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "Library/Application Support/AddressBook/Sources"
	}
	return filepath.Join(home, "Library", "Application Support", "AddressBook", "Sources")
}

// Discover lists the per-source AddressBook databases under dir, sorted
// for stable ordering.
func Discover(dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, types.NewError(types.KindStoreUnavailable,
			"addressbook sources not found at %s; %s", dir, fullDiskAccessHint).WithDetail(err.Error())
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*", sourceDBName))
	if err != nil {
		return nil, types.NewError(types.KindQueryError, "scan addressbook sources: %v", err)
	}
	if len(paths) == 0 {
		return nil, types.NewError(types.KindStoreUnavailable,
			"no addressbook databases under %s; %s", dir, fullDiskAccessHint)
	}
	sort.Strings(paths)
	return paths, nil
}

// Entry is one name/number pair from the AddressBook.
type Entry struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Normalized string `json:"normalized_phone"`
}

// Book reads contact entries from one or more AddressBook source
// databases, each opened read-only.
type Book struct {
	paths []string
	dbs   []*sql.DB
}

// Open opens every database in paths. Paths usually come from Discover.
func Open(paths []string) (*Book, error) {
	if len(paths) == 0 {
		return nil, types.NewError(types.KindStoreUnavailable, "no addressbook databases to open")
	}
	b := &Book{paths: paths}
	for _, path := range paths {
		db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
		if err != nil {
			_ = b.Close()
			return nil, types.NewError(types.KindStoreUnavailable, "open addressbook %s: %v", path, err)
		}
		for _, pragma := range []string{"PRAGMA query_only = ON", "PRAGMA busy_timeout = 5000"} {
			if _, err := db.Exec(pragma); err != nil {
				_ = db.Close()
				_ = b.Close()
				return nil, types.NewError(types.KindStoreUnavailable,
					"configure addressbook %s: %v", path, err)
			}
		}
		b.dbs = append(b.dbs, db)
	}
	return b, nil
}

// Close releases the underlying connections.
func (b *Book) Close() error {
	var first error
	for _, db := range b.dbs {
		if err := db.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

const entryQuery = `SELECT
	ZABCDRECORD.ZFIRSTNAME,
	ZABCDRECORD.ZLASTNAME,
	ZABCDPHONENUMBER.ZFULLNUMBER
FROM
	ZABCDRECORD
	LEFT JOIN ZABCDPHONENUMBER ON ZABCDRECORD.Z_PK = ZABCDPHONENUMBER.ZOWNER
WHERE
	ZABCDPHONENUMBER.ZFULLNUMBER IS NOT NULL
ORDER BY
	ZABCDRECORD.ZLASTNAME,
	ZABCDRECORD.ZFIRSTNAME,
	ZABCDPHONENUMBER.ZORDERINGINDEX ASC`

// Entries merges name/number pairs from every source. A source that
// cannot be read is skipped; it only becomes an error when no source is
// readable at all.
func (b *Book) Entries(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	var lastErr error
	readable := 0
	for _, db := range b.dbs {
		rows, err := db.QueryContext(ctx, entryQuery)
		if err != nil {
			lastErr = err
			continue
		}
		readable++
		for rows.Next() {
			var first, last, phone sql.NullString
			if err := rows.Scan(&first, &last, &phone); err != nil {
				_ = rows.Close()
				return nil, types.NewError(types.KindQueryError, "scan addressbook row: %v", err)
			}
			if e, ok := newEntry(first.String, last.String, phone.String); ok {
				entries = append(entries, e)
			}
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, types.NewError(types.KindQueryError, "read addressbook rows: %v", err)
		}
		_ = rows.Close()
	}
	if readable == 0 {
		err := types.NewError(types.KindStoreUnavailable,
			"no addressbook source was readable; %s", fullDiskAccessHint)
		if lastErr != nil {
			err = err.WithDetail(lastErr.Error())
		}
		return nil, err
	}
	return entries, nil
}

// newEntry normalizes one raw record. ok is false for rows with no name
// or an unusable number.
func newEntry(first, last, phone string) (Entry, bool) {
	// Some exports append image metadata after the number.
	if i := strings.Index(phone, "X-IMAGETYPE"); i >= 0 {
		phone = phone[:i]
	}
	phone = strings.TrimSpace(phone)

	var parts []string
	for _, p := range []string{first, last} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	name := strings.Join(parts, " ")
	if name == "" || phone == "" {
		return Entry{}, false
	}

	normalized, ok := imessage.NormalizePhone(phone)
	if !ok {
		return Entry{}, false
	}
	return Entry{Name: name, Phone: phone, Normalized: normalized}, true
}

// Index maps normalized handles to contact names.
type Index map[string]string

// NewIndex builds a lookup table from entries. The first name seen for a
// number wins, matching AddressBook ordering.
func NewIndex(entries []Entry) Index {
	ix := make(Index, len(entries))
	for _, e := range entries {
		if _, dup := ix[e.Normalized]; !dup {
			ix[e.Normalized] = e.Name
		}
	}
	return ix
}

// Lookup resolves a raw handle to a contact name. It tolerates the store
// and the AddressBook disagreeing about the US country code.
func (ix Index) Lookup(handle string) (string, bool) {
	normalized, ok := imessage.NormalizePhone(handle)
	if !ok {
		// Emails and short codes are not in the phone index.
		return "", false
	}
	if name, ok := ix[normalized]; ok {
		return name, true
	}
	digits := strings.TrimPrefix(normalized, "+")
	if len(digits) == 11 && strings.HasPrefix(digits, "1") {
		if name, ok := ix["+"+digits[1:]]; ok {
			return name, true
		}
	}
	if len(digits) == 10 {
		if name, ok := ix["+1"+digits]; ok {
			return name, true
		}
	}
	return "", false
}

// AccessReport describes AddressBook reachability for diagnostics.
type AccessReport struct {
	Dir       string   `json:"dir"`
	Exists    bool     `json:"exists"`
	Databases []string `json:"databases,omitempty"`
	Readable  []string `json:"readable,omitempty"`
	Contacts  int64    `json:"contacts"`
}

// CheckAccess probes the AddressBook sources: directory presence, the
// per-source database list, and which of them answer a query (the common
// failure is the Full Disk Access privacy restriction).
func CheckAccess(ctx context.Context, dir string) (AccessReport, error) {
	report := AccessReport{Dir: dir}

	paths, err := Discover(dir)
	if err != nil {
		if _, statErr := os.Stat(dir); statErr == nil {
			report.Exists = true
		}
		return report, err
	}
	report.Exists = true
	report.Databases = paths

	for _, path := range paths {
		db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
		if err != nil {
			continue
		}
		var n int64
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ZABCDRECORD").Scan(&n); err == nil {
			report.Readable = append(report.Readable, path)
			report.Contacts += n
		}
		_ = db.Close()
	}
	if len(report.Readable) == 0 {
		return report, types.NewError(types.KindStoreUnavailable,
			"no addressbook database is readable; %s", fullDiskAccessHint)
	}
	return report, nil
}
