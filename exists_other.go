//go:build !linux

package kldd

import "os"

// pathExists reports whether path can be stat'd.
// Outside Linux the check falls back to stat(2).
func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
