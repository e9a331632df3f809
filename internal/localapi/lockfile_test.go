package localapi

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ///////////////////////////////////////////////
// ReadLockfile
// ///////////////////////////////////////////////

func TestReadLockfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lockfile")
	if err := os.WriteFile(path, []byte("Riot Client:4242:53135:sekrit:https\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	lf, err := ReadLockfile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Lockfile{Name: "Riot Client", PID: 4242, Port: 53135, Password: "sekrit", Protocol: "https"}
	if lf != want {
		t.Errorf("got %+v, want %+v", lf, want)
	}
}

func TestReadLockfile_Malformed(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"too few fields", "name:1:2:pw"},
		{"too many fields", "name:1:2:pw:https:extra"},
		{"bad pid", "name:nope:2:pw:https"},
		{"bad port", "name:1:nope:pw:https"},
		{"empty", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "lockfile")
			if err := os.WriteFile(path, []byte(tc.content), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := ReadLockfile(path); err == nil {
				t.Errorf("ReadLockfile(%q) succeeded, want error", tc.content)
			}
		})
	}
}

func TestReadLockfile_Missing(t *testing.T) {
	if _, err := ReadLockfile(filepath.Join(t.TempDir(), "lockfile")); err == nil {
		t.Error("expected error for a missing lockfile")
	}
}

func TestDefaultLockfilePath(t *testing.T) {
	path := DefaultLockfilePath()
	if path == "" {
		t.Fatal("empty default path")
	}
	if !strings.HasSuffix(path, filepath.Join("Config", "lockfile")) {
		t.Errorf("unexpected default path %q", path)
	}
}

// ///////////////////////////////////////////////
// LockfileWatcher
// ///////////////////////////////////////////////

// waitPresence polls the watcher until it reports want, failing after a
// couple of seconds. Directory events arrive asynchronously.
func waitPresence(t *testing.T, w *LockfileWatcher, want bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for w.Present() != want {
		if time.Now().After(deadline) {
			t.Fatalf("watcher never reported present=%t", want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLockfileWatcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lockfile")

	w := NewLockfileWatcher(path)
	defer w.Close()

	if w.Present() {
		t.Fatal("present before the lockfile exists")
	}

	if err := os.WriteFile(path, []byte("n:1:2:pw:https"), 0o600); err != nil {
		t.Fatal(err)
	}
	waitPresence(t, w, true)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitPresence(t, w, false)
}

func TestLockfileWatcher_ExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lockfile")
	if err := os.WriteFile(path, []byte("n:1:2:pw:https"), 0o600); err != nil {
		t.Fatal(err)
	}

	w := NewLockfileWatcher(path)
	defer w.Close()

	if !w.Present() {
		t.Error("pre-existing lockfile not seen at construction")
	}
}

func TestLockfileWatcher_MissingDirectoryPolls(t *testing.T) {
	// The client install may not exist yet; the watcher must still answer,
	// via stat, and notice the file once the directory appears.
	dir := filepath.Join(t.TempDir(), "not-yet", "Config")
	path := filepath.Join(dir, "lockfile")

	w := NewLockfileWatcher(path)
	defer w.Close()

	if w.Present() {
		t.Fatal("present with no parent directory")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("n:1:2:pw:https"), 0o600); err != nil {
		t.Fatal(err)
	}
	waitPresence(t, w, true)
}

func TestLockfileWatcher_CloseIdempotent(t *testing.T) {
	w := NewLockfileWatcher(filepath.Join(t.TempDir(), "lockfile"))
	w.Close()
	w.Close()
}
