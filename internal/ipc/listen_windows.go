// listen_windows.go creates the subscriber socket on Windows as a named
// pipe (\\.\pipe\<name>) using the go-winio library.

//go:build windows

package ipc

import (
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
)

// listen binds the named pipe for the given base name.
func listen(name string) (net.Listener, error) {
	path := `\\.\pipe\` + name
	ln, err := winio.ListenPipe(path, nil)
	if err != nil {
		return nil, fmt.Errorf("binding ipc pipe %s: %w", path, err)
	}
	return ln, nil
}
