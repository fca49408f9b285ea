//go:build windows

package vault

import (
	"fmt"
	"os"
)

// acquireFileLock on Windows relies on the process-level mutex registry for
// exclusion and only touches the lock file so callers can observe it.
func acquireFileLock(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to open lock file: %w", err)
	}
	return func() { f.Close() }, nil
}
