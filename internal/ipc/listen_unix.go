// listen_unix.go creates the subscriber socket on Unix-like systems. The
// socket lives in XDG_RUNTIME_DIR when set, falling back to /tmp.

//go:build !windows

package ipc

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// listen binds the unix socket for the given base name, replacing a stale
// socket left by a previous run.
func listen(name string) (net.Listener, error) {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, name+".sock")

	// A previous crash leaves the socket file behind; binding fails until
	// it is removed. Removing a live socket is safe here because the PID
	// lock guarantees a single daemon instance.
	if _, err := os.Stat(path); err == nil {
		os.Remove(path)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("binding ipc socket %s: %w", path, err)
	}
	os.Chmod(path, 0o600)
	return ln, nil
}
