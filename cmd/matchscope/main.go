// Package main implements the Matchscope daemon, which observes the local
// game client's API and publishes enriched session snapshots over IPC.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"

	rootpkg "tools.zach/dev/matchscope"
	"tools.zach/dev/matchscope/internal/catalog"
	"tools.zach/dev/matchscope/internal/config"
	"tools.zach/dev/matchscope/internal/ipc"
	"tools.zach/dev/matchscope/internal/localapi"
	"tools.zach/dev/matchscope/internal/logger"
	"tools.zach/dev/matchscope/internal/metrics"
	"tools.zach/dev/matchscope/internal/paths"
	"tools.zach/dev/matchscope/internal/player"
	"tools.zach/dev/matchscope/internal/session"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via ldflags (-X main.version=...). When it
// is not set, resolveVersion reads the VCS info the Go toolchain embeds so
// dev builds still get a useful version string.
var version = "dev"

// resolveVersion returns the build version string, constructing a
// "dev+<hash>" tag from embedded VCS info when ldflags did not set one.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// ///////////////////////////////////////////////
// PID Management
// ///////////////////////////////////////////////

// pidToken generates a random 16-character hex token used to prove
// ownership of the PID file, so [removePID] only deletes the file if this
// instance wrote it.
func pidToken() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// writePID creates or opens the PID file, acquires an advisory file lock,
// and writes "PID:TOKEN" content. The returned file handle must be kept
// open for the lifetime of the daemon to hold the lock.
func writePID(dataPaths DataPaths, token string) (*os.File, error) {
	f, err := os.OpenFile(dataPaths.PID(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open PID file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock PID file: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("truncate PID file: %w", err)
	}
	content := fmt.Sprintf("%d:%s", os.Getpid(), token)
	if _, err := f.WriteString(content); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("write PID file: %w", err)
	}
	return f, nil
}

// removePID releases the advisory lock, closes the file handle, and removes
// the PID file only if the stored token matches, preventing accidental
// removal of a file owned by a different daemon instance.
func removePID(dataPaths DataPaths, token string, f *os.File) {
	if f != nil {
		_ = unlockFile(f)
		f.Close()
	}
	data, err := os.ReadFile(dataPaths.PID())
	if err != nil {
		return
	}
	parts := strings.SplitN(string(data), ":", 2)
	if len(parts) == 2 && parts[1] == token {
		os.Remove(dataPaths.PID())
	}
}

// checkStalePID checks whether another daemon instance is running by trying
// to acquire the advisory lock on the PID file. A failed lock means another
// instance holds it; a successful lock means any previous instance is dead
// and the stale file is cleaned up.
func checkStalePID(dataPaths DataPaths) (alive bool, pid int) {
	f, err := os.OpenFile(dataPaths.PID(), os.O_RDWR, 0o600)
	if err != nil {
		return false, 0
	}

	if lockErr := lockFile(f); lockErr != nil {
		data, _ := os.ReadFile(dataPaths.PID())
		f.Close()
		parts := strings.SplitN(string(data), ":", 2)
		if len(parts) >= 1 {
			if p, convErr := strconv.Atoi(parts[0]); convErr == nil {
				return true, p
			}
		}
		return true, 0
	}

	_ = unlockFile(f)
	f.Close()
	os.Remove(dataPaths.PID())
	return false, 0
}

// ///////////////////////////////////////////////
// Environment Overrides
// ///////////////////////////////////////////////

// envOverrides are settings that may be supplied via MATCHSCOPE_* variables
// without touching the config file; non-empty values win over it.
type envOverrides struct {
	LockfilePath string `envconfig:"LOCKFILE_PATH"`
	Region       string `envconfig:"REGION"`
	Shard        string `envconfig:"SHARD"`
	LogLevel     string `envconfig:"LOG_LEVEL"`
	IPCName      string `envconfig:"IPC_NAME"`
	MetricsAddr  string `envconfig:"METRICS_ADDR"`
}

// applyEnv folds environment overrides into the loaded config.
func applyEnv(cfg *config.Config) error {
	var env envOverrides
	if err := envconfig.Process("matchscope", &env); err != nil {
		return err
	}
	if env.LockfilePath != "" {
		cfg.Client.LockfilePath = env.LockfilePath
	}
	if env.Region != "" {
		cfg.Client.Region = env.Region
	}
	if env.Shard != "" {
		cfg.Client.Shard = env.Shard
	}
	if env.LogLevel != "" {
		cfg.Log.Level = env.LogLevel
	}
	if env.IPCName != "" {
		cfg.IPC.Name = env.IPCName
	}
	if env.MetricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = env.MetricsAddr
	}
	return nil
}

// ///////////////////////////////////////////////
// Client Gate
// ///////////////////////////////////////////////

// clientGate reports client liveness from the lockfile, with the process
// table as a secondary signal so a client that removed its lockfile but is
// still alive reads as present (and therefore DISCONNECTED, not gone).
type clientGate struct {
	watcher     *localapi.LockfileWatcher
	processName string
}

func (g *clientGate) Present() bool {
	if g.watcher.Present() {
		return true
	}
	return processRunning(g.processName)
}

// ///////////////////////////////////////////////
// Sinks
// ///////////////////////////////////////////////

// logSink is the fallback snapshot sink when IPC is disabled: snapshots are
// only logged, which keeps the loop and its metrics observable.
type logSink struct {
	log *slog.Logger
}

func (s logSink) Publish(snap session.Snapshot) error {
	s.log.Info("snapshot",
		"state", snap.State,
		"players", len(snap.Players),
		"match", snap.Context.MatchID,
		"suppressed", snap.Suppressed,
	)
	return nil
}

// ///////////////////////////////////////////////
// Default Data Directory
// ///////////////////////////////////////////////

// defaultDataDir returns the platform default directory for Matchscope
// data, typically ~/.matchscope. Falls back to ./.matchscope if the home
// directory cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", paths.DataDirRel)
	}
	return filepath.Join(home, paths.DataDirRel)
}

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

func main() {
	dataDir := flag.String("data-dir", defaultDataDir(), "Data directory for config, cache, and logs")
	flag.Parse()

	dataPaths := DataPaths{Root: *dataDir}

	if err := os.MkdirAll(dataPaths.Root, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: create data dir: %v\n", err)
		os.Exit(1)
	}

	if alive, pid := checkStalePID(dataPaths); alive {
		fmt.Fprintf(os.Stderr, "daemon already running (pid %d)\n", pid)
		os.Exit(1)
	}

	if _, err := os.Stat(dataPaths.Config()); os.IsNotExist(err) {
		if writeErr := os.WriteFile(dataPaths.Config(), rootpkg.DefaultConfigTOML, 0o644); writeErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to write default config: %v\n", writeErr)
		}
	}

	cfg, err := config.Load(dataPaths.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: load config: %v\n", err)
		os.Exit(1)
	}
	if err := applyEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: environment overrides: %v\n", err)
		os.Exit(1)
	}

	logLevel := logger.ParseLevel(cfg.Log.Level)
	log, logCloser, err := logger.NewLogger(dataPaths.Log(), logLevel, cfg.Log.MaxSizeMB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: init logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	ver := resolveVersion()
	slog.Info("matchscope starting", "version", ver, "data_dir", dataPaths.Root)

	token := pidToken()
	pidFile, err := writePID(dataPaths, token)
	if err != nil {
		logger.Fail(log, "failed to write PID file", "error", err)
		os.Exit(1)
	}
	defer removePID(dataPaths, token, pidFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-signalChannel()
		slog.Info("received shutdown signal")
		cancel()
	}()

	cat := catalog.Load("", dataPaths.CatalogCache())

	metricSet := metrics.New()
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen, log); err != nil {
				slog.Warn("metrics listener failed", "error", err)
			}
		}()
	}

	var sink session.Sink = logSink{log: log}
	if cfg.IPC.Enabled {
		server, ipcErr := ipc.NewServer(ctx, cfg.IPC.Name, log, metricSet)
		if ipcErr != nil {
			slog.Warn("ipc listener unavailable, snapshots will only be logged", "error", ipcErr)
		} else {
			sink = server
		}
	}

	lockfilePath := cfg.Client.LockfilePath
	if lockfilePath == "" {
		lockfilePath = localapi.DefaultLockfilePath()
	}
	watcher := localapi.NewLockfileWatcher(lockfilePath)
	defer watcher.Close()

	machine := &session.Machine{
		Gate:      &clientGate{watcher: watcher, processName: cfg.Client.ProcessName},
		Connect:   connectFunc(ctx, cfg, cat, lockfilePath),
		Config:    cfg,
		Catalog:   cat,
		Publisher: &session.Publisher{Sink: sink, Log: log, Metrics: metricSet},
		Log:       log,
		Metrics:   metricSet,
	}
	machine.Run(ctx)
}

// ///////////////////////////////////////////////
// Connection Assembly
// ///////////////////////////////////////////////

// connectFunc returns the connector the session loop calls when the client
// appears: it reads the lockfile, builds the authenticated client and its
// services, and starts the push listener.
func connectFunc(runCtx context.Context, cfg *config.Config, cat *catalog.Catalog, lockfilePath string) session.ConnectFunc {
	return func(ctx context.Context) (*session.Conn, error) {
		lf, err := localapi.ReadLockfile(lockfilePath)
		if err != nil {
			return nil, err
		}

		client := localapi.NewClient(lf, cfg.Client.Region, cfg.Client.Shard)
		service := localapi.NewService(client)
		if verr := service.ResolveVersion(ctx); verr != nil {
			slog.Debug("client version not resolved yet", "error", verr)
		}

		push := localapi.NewPushListener(lf)
		go push.Run(runCtx, slog.Default())

		builder := &player.Builder{
			Catalog:   cat,
			Ranks:     localapi.NewStanding(client, cat),
			Allies:    player.NewAllyCache(),
			HideNames: cfg.Privacy.HideNames,
		}

		return &session.Conn{
			Backend: service,
			Hinter:  push,
			Builder: builder,
			Close:   push.Close,
		}, nil
	}
}
