package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// WritePortFile records the event-stream port for clients to discover. The
// write goes through a temp file and rename so readers never observe a
// partial file.
func WritePortFile(path string, port int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create port file directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(fmt.Sprintf("%d\n", port)), 0o600); err != nil {
		return fmt.Errorf("write port file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize port file: %w", err)
	}
	return nil
}

// ReadPortFile returns the recorded port. The raw read error is preserved
// so callers can distinguish a daemon that is not running.
func ReadPortFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("invalid port file %s: %q", path, strings.TrimSpace(string(raw)))
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port out of range in %s: %d", path, port)
	}
	return port, nil
}

// RemovePortFile deletes the port file; a missing file is fine.
func RemovePortFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove port file: %w", err)
	}
	return nil
}
