package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tools.zach/dev/matchscope/internal/config"
	"tools.zach/dev/matchscope/internal/paths"
	"tools.zach/dev/matchscope/internal/session"
)

// ///////////////////////////////////////////////
// resolveVersion Tests
// ///////////////////////////////////////////////

func TestResolveVersionWithLdflags(t *testing.T) {
	// When version is set to something other than "dev", it should be returned as-is.
	original := version
	defer func() { version = original }()

	version = "1.2.3"
	got := resolveVersion()
	if got != "1.2.3" {
		t.Errorf("resolveVersion() = %q, want %q", got, "1.2.3")
	}
}

func TestResolveVersionDev(t *testing.T) {
	// When version is "dev", resolveVersion falls through to debug.ReadBuildInfo.
	// In test binaries, ReadBuildInfo may or may not return VCS info.
	original := version
	defer func() { version = original }()

	version = "dev"
	got := resolveVersion()
	if got == "" {
		t.Error("resolveVersion() returned empty string")
	}
	if !strings.HasPrefix(got, "dev") {
		t.Errorf("resolveVersion() = %q, expected to start with 'dev'", got)
	}
}

// ///////////////////////////////////////////////
// pidToken Tests
// ///////////////////////////////////////////////

func TestPidToken_Unique(t *testing.T) {
	a := pidToken()
	b := pidToken()
	if a == b {
		t.Errorf("pidToken() returned the same value twice: %q", a)
	}
}

func TestPidToken_Length(t *testing.T) {
	tok := pidToken()
	if len(tok) != 16 {
		t.Errorf("pidToken() length = %d, want 16", len(tok))
	}
}

// ///////////////////////////////////////////////
// writePID / removePID Tests
// ///////////////////////////////////////////////

func TestWritePID_CreatesFile(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	token := pidToken()

	f, err := writePID(dp, token)
	if err != nil {
		t.Fatalf("writePID() error: %v", err)
	}
	defer func() {
		_ = unlockFile(f)
		f.Close()
	}()

	if _, err := os.Stat(dp.PID()); os.IsNotExist(err) {
		t.Fatal("PID file was not created")
	}
}

func TestWritePID_FileContainsPID(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	token := pidToken()

	f, err := writePID(dp, token)
	if err != nil {
		t.Fatalf("writePID() error: %v", err)
	}
	defer func() {
		_ = unlockFile(f)
		f.Close()
	}()

	// Read through the open handle — on Windows the lock prevents os.ReadFile.
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatalf("Seek() error: %v", err)
	}
	data := make([]byte, 256)
	n, err := f.Read(data)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}

	expected := fmt.Sprintf("%d:%s", os.Getpid(), token)
	if string(data[:n]) != expected {
		t.Errorf("PID file content = %q, want %q", string(data[:n]), expected)
	}
}

func TestRemovePID_MatchingToken(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	token := pidToken()

	f, err := writePID(dp, token)
	if err != nil {
		t.Fatalf("writePID() error: %v", err)
	}

	removePID(dp, token, f)

	if _, err := os.Stat(dp.PID()); !os.IsNotExist(err) {
		t.Error("PID file should have been removed with matching token")
	}
}

func TestRemovePID_MismatchedToken(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	token := pidToken()

	f, err := writePID(dp, token)
	if err != nil {
		t.Fatalf("writePID() error: %v", err)
	}

	removePID(dp, "wrong-token", f)

	if _, err := os.Stat(dp.PID()); os.IsNotExist(err) {
		t.Error("PID file should NOT have been removed with mismatched token")
	}

	os.Remove(dp.PID())
}

func TestRemovePID_NilFile(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}

	// Should not panic with a nil file handle.
	removePID(dp, "any-token", nil)
}

// ///////////////////////////////////////////////
// checkStalePID Tests
// ///////////////////////////////////////////////

func TestCheckStalePID_NoFile(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}

	alive, pid := checkStalePID(dp)
	if alive {
		t.Error("checkStalePID() returned alive=true with no PID file")
	}
	if pid != 0 {
		t.Errorf("checkStalePID() pid = %d, want 0", pid)
	}
}

func TestCheckStalePID_StalePID(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}

	// A PID file nobody holds a lock on reads as a dead instance.
	if err := os.WriteFile(dp.PID(), []byte("99999:staletoken"), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	alive, pid := checkStalePID(dp)
	if alive {
		t.Error("checkStalePID() returned alive=true for stale PID")
	}
	if pid != 0 {
		t.Errorf("checkStalePID() pid = %d, want 0 for stale", pid)
	}
	if _, err := os.Stat(dp.PID()); !os.IsNotExist(err) {
		t.Error("stale PID file was not cleaned up")
	}
}

func TestCheckStalePID_LiveLock(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	token := pidToken()

	f, err := writePID(dp, token)
	if err != nil {
		t.Fatalf("writePID() error: %v", err)
	}
	defer removePID(dp, token, f)

	alive, pid := checkStalePID(dp)
	if !alive {
		t.Skip("advisory lock not exclusive within one process on this platform")
	}
	if pid != os.Getpid() {
		t.Errorf("checkStalePID() pid = %d, want %d", pid, os.Getpid())
	}
}

// ///////////////////////////////////////////////
// Environment Overrides
// ///////////////////////////////////////////////

func TestApplyEnv(t *testing.T) {
	t.Setenv("MATCHSCOPE_REGION", "eu")
	t.Setenv("MATCHSCOPE_SHARD", "eu")
	t.Setenv("MATCHSCOPE_LOG_LEVEL", "debug")
	t.Setenv("MATCHSCOPE_IPC_NAME", "matchscope-alt")
	t.Setenv("MATCHSCOPE_METRICS_ADDR", "127.0.0.1:9900")

	cfg := config.Default()
	if err := applyEnv(cfg); err != nil {
		t.Fatalf("applyEnv() error: %v", err)
	}

	if cfg.Client.Region != "eu" || cfg.Client.Shard != "eu" {
		t.Errorf("region/shard = %q/%q, want eu/eu", cfg.Client.Region, cfg.Client.Shard)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}
	if cfg.IPC.Name != "matchscope-alt" {
		t.Errorf("ipc name = %q", cfg.IPC.Name)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Listen != "127.0.0.1:9900" {
		t.Errorf("metrics = %t %q, want enabled at the override address", cfg.Metrics.Enabled, cfg.Metrics.Listen)
	}
}

func TestApplyEnv_EmptyKeepsConfig(t *testing.T) {
	t.Setenv("MATCHSCOPE_REGION", "")
	t.Setenv("MATCHSCOPE_LOG_LEVEL", "")

	cfg := config.Default()
	region, level := cfg.Client.Region, cfg.Log.Level
	if err := applyEnv(cfg); err != nil {
		t.Fatalf("applyEnv() error: %v", err)
	}
	if cfg.Client.Region != region || cfg.Log.Level != level {
		t.Error("empty overrides changed the config")
	}
}

// ///////////////////////////////////////////////
// Data Directory
// ///////////////////////////////////////////////

func TestDefaultDataDir(t *testing.T) {
	dir := defaultDataDir()
	if dir == "" {
		t.Fatal("empty data dir")
	}
	if filepath.Base(dir) != paths.DataDirRel {
		t.Errorf("data dir %q does not end in %q", dir, paths.DataDirRel)
	}
}

// ///////////////////////////////////////////////
// Log Sink
// ///////////////////////////////////////////////

func TestLogSink_Publish(t *testing.T) {
	s := logSink{log: slog.Default()}
	if err := s.Publish(session.Snapshot{State: "MENUS"}); err != nil {
		t.Errorf("Publish() error: %v", err)
	}
}
