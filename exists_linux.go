//go:build linux

package kldd

import "golang.org/x/sys/unix"

// pathExists mirrors access(path, F_OK).
func pathExists(path string) bool {
	return unix.Access(path, unix.F_OK) == nil
}
