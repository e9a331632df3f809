// Package localapi provides access to the game client's local API: lockfile
// discovery, the authenticated HTTPS client for the local and regional
// endpoints, the presence poll, direct match probes, and the low-latency
// push-notification socket.
//
// Everything here is a collaborator of the session loop. Calls are bounded
// by per-call timeouts and return errors the loop treats as transient; the
// package never retries across ticks on its own.
package localapi

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// ///////////////////////////////////////////////
// Lockfile
// ///////////////////////////////////////////////

// Lockfile holds the parsed contents of the client's lockfile, which the
// client writes on startup and removes on exit. Its presence is the cheap
// "descriptor" gate the session loop checks before any network call.
type Lockfile struct {
	// Name is the client identifier (first field).
	Name string
	// PID is the client process id.
	PID int
	// Port is the local API port.
	Port int
	// Password is the basic-auth password for the local API.
	Password string
	// Protocol is "https" for every supported client version.
	Protocol string
}

// DefaultLockfilePath returns the platform-default lockfile location.
func DefaultLockfilePath() string {
	if runtime.GOOS == "windows" {
		base := os.Getenv("LOCALAPPDATA")
		if base == "" {
			home, _ := os.UserHomeDir()
			base = filepath.Join(home, "AppData", "Local")
		}
		return filepath.Join(base, "Riot Games", "Riot Client", "Config", "lockfile")
	}
	// Non-Windows installs run the client under a wine prefix.
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "riot-client", "Config", "lockfile")
}

// ReadLockfile parses the lockfile at path. The format is five colon-
// separated fields: name:pid:port:password:protocol.
func ReadLockfile(path string) (Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Lockfile{}, fmt.Errorf("reading lockfile: %w", err)
	}
	parts := strings.Split(strings.TrimSpace(string(data)), ":")
	if len(parts) != 5 {
		return Lockfile{}, fmt.Errorf("malformed lockfile: %d fields", len(parts))
	}
	pid, err := strconv.Atoi(parts[1])
	if err != nil {
		return Lockfile{}, fmt.Errorf("malformed lockfile pid: %w", err)
	}
	port, err := strconv.Atoi(parts[2])
	if err != nil {
		return Lockfile{}, fmt.Errorf("malformed lockfile port: %w", err)
	}
	return Lockfile{
		Name:     parts[0],
		PID:      pid,
		Port:     port,
		Password: parts[3],
		Protocol: parts[4],
	}, nil
}

// ///////////////////////////////////////////////
// Lockfile Watcher
// ///////////////////////////////////////////////

// LockfileWatcher tracks lockfile presence without stat-ing on every tick.
// It watches the lockfile's directory via fsnotify, falling back to a plain
// stat per query when fsnotify is unavailable.
type LockfileWatcher struct {
	// path is the absolute lockfile path being tracked.
	path string
	// present caches the last observed presence state.
	present atomic.Bool
	// polling is true when fsnotify is unavailable and Present must stat.
	polling atomic.Bool
	// fsw is the underlying fsnotify watcher; nil when polling.
	fsw *fsnotify.Watcher
	// done signals the watch goroutine to exit.
	done chan struct{}
}

// NewLockfileWatcher creates a watcher for the lockfile at path. The parent
// directory does not need to exist yet; in that case the watcher starts in
// polling mode.
func NewLockfileWatcher(path string) *LockfileWatcher {
	w := &LockfileWatcher{path: path, done: make(chan struct{})}
	_, err := os.Stat(path)
	w.present.Store(err == nil)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Info("fsnotify unavailable, lockfile checks fall back to stat", "error", err)
		w.polling.Store(true)
		return w
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		slog.Info("cannot watch lockfile directory, falling back to stat", "error", err)
		fsw.Close()
		w.polling.Store(true)
		return w
	}
	w.fsw = fsw
	go w.watch()
	return w
}

// Present reports whether the lockfile currently exists. In polling mode
// this stats the file; otherwise it returns the cached fsnotify-maintained
// state, re-verified with a stat only on the positive side to avoid acting
// on a stale create event.
func (w *LockfileWatcher) Present() bool {
	if w.polling.Load() {
		_, err := os.Stat(w.path)
		return err == nil
	}
	if !w.present.Load() {
		return false
	}
	_, err := os.Stat(w.path)
	if err != nil {
		w.present.Store(false)
	}
	return err == nil
}

// Close stops the watch goroutine and releases the fsnotify watcher.
func (w *LockfileWatcher) Close() {
	select {
	case <-w.done:
		return
	default:
	}
	close(w.done)
	if w.fsw != nil {
		w.fsw.Close()
	}
}

// watch maintains the cached presence state from directory events.
func (w *LockfileWatcher) watch() {
	base := filepath.Base(w.path)
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			switch {
			case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
				w.present.Store(true)
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				w.present.Store(false)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Info("lockfile watch error, falling back to stat", "error", err)
			w.fsw.Close()
			w.fsw = nil
			w.polling.Store(true)
			return
		}
	}
}
