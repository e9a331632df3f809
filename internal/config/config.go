// Package config provides configuration loading and defaults for the
// Matchscope daemon.
//
// Configuration is loaded from a TOML file in the user's data directory.
// The package handles game-client discovery settings, display preferences,
// privacy controls, polling cadences, and the IPC/metrics endpoints, with
// sensible defaults applied to anything the file omits.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"tools.zach/dev/matchscope/internal/paths"
)

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level application configuration.
type Config struct {
	// Version is the config schema version.
	Version int `toml:"version"`
	// Client holds game-client discovery settings.
	Client ClientConfig `toml:"client"`
	// Display holds snapshot display preferences.
	Display DisplayConfig `toml:"display"`
	// Privacy holds name-hiding and queue-suppression settings.
	Privacy PrivacyConfig `toml:"privacy"`
	// Behavior holds polling cadences and failure-handling knobs.
	Behavior BehaviorConfig `toml:"behavior"`
	// IPC holds the local snapshot socket settings.
	IPC IPCConfig `toml:"ipc"`
	// Metrics holds the Prometheus endpoint settings.
	Metrics MetricsConfig `toml:"metrics"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
}

// ClientConfig holds game-client discovery settings.
type ClientConfig struct {
	// LockfilePath overrides the platform-default lockfile location.
	LockfilePath string `toml:"lockfile_path"`
	// ProcessName is the client process image checked when the lockfile is absent.
	ProcessName string `toml:"process_name"`
	// Region is the regional game-server region (e.g. "eu", "na").
	Region string `toml:"region"`
	// Shard is the player-data shard, usually equal to Region.
	Shard string `toml:"shard"`
}

// DisplayConfig holds snapshot display preferences.
type DisplayConfig struct {
	// Weapon is the display name of the weapon whose skin is resolved per
	// player. Matched case-insensitively against the catalog.
	Weapon string `toml:"weapon"`
	// ShowMenus enables publishing while the client sits in the menus.
	ShowMenus bool `toml:"show_menus"`
	// ShowPregame enables publishing during agent select.
	ShowPregame bool `toml:"show_pregame"`
	// ShowIngame enables publishing during a live match.
	ShowIngame bool `toml:"show_ingame"`
}

// PrivacyConfig holds name-hiding and queue-suppression settings.
type PrivacyConfig struct {
	// HideNames respects the game's incognito flags when resolving names.
	// When false, raw names are shown even for incognito players.
	HideNames bool `toml:"hide_names"`
	// IgnoredQueues lists queue-id glob patterns for which publishing is
	// suppressed. Ticks still run so state stays current.
	IgnoredQueues []string `toml:"ignored_queues"`
}

// BehaviorConfig holds polling cadences and failure-handling knobs.
// All cadences are in milliseconds.
type BehaviorConfig struct {
	// MenusPollMS is the tick cadence while in the menus.
	MenusPollMS int `toml:"menus_poll_ms"`
	// PregamePollMS is the tick cadence during agent select. Kept fast so
	// brief selection changes are not missed.
	PregamePollMS int `toml:"pregame_poll_ms"`
	// IngamePollMS is the tick cadence during a live match.
	IngamePollMS int `toml:"ingame_poll_ms"`
	// NotRunningPollMS is the probe cadence while the client is not running.
	NotRunningPollMS int `toml:"not_running_poll_ms"`
	// NotRunningPollMaxMS is the ceiling the not-running cadence backs off
	// to after sustained failures.
	NotRunningPollMaxMS int `toml:"not_running_poll_max_ms"`
	// DisconnectedPollMS is the reconnect-probe cadence after a transport drop.
	DisconnectedPollMS int `toml:"disconnected_poll_ms"`
	// FailureThreshold is the number of consecutive presence-poll failures
	// tolerated before the client is re-verified.
	FailureThreshold int `toml:"failure_threshold"`
	// PatienceMaxRetries bounds the patience window while a present client
	// is still starting up.
	PatienceMaxRetries int `toml:"patience_max_retries"`
	// StartupAttempts is the initial-state detection attempt budget.
	StartupAttempts int `toml:"startup_attempts"`
	// StartupIntervalMS is the delay between initial-state detection attempts.
	StartupIntervalMS int `toml:"startup_interval_ms"`
}

// IPCConfig holds the local snapshot socket settings.
type IPCConfig struct {
	// Enabled controls whether the IPC listener is started.
	Enabled bool `toml:"enabled"`
	// Name is the socket/pipe base name the UI connects to.
	Name string `toml:"name"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	// Enabled controls whether the metrics HTTP listener is started.
	Enabled bool `toml:"enabled"`
	// Listen is the metrics listen address.
	Listen string `toml:"listen"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fail).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
}

// ///////////////////////////////////////////////
// Defaults
// ///////////////////////////////////////////////

// Default returns a Config populated with built-in defaults. Loading merges
// the user's file on top of this, so a sparse file still yields a complete
// configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Client: ClientConfig{
			ProcessName: "VALORANT.exe",
			Region:      "na",
			Shard:       "na",
		},
		Display: DisplayConfig{
			Weapon:      "Vandal",
			ShowMenus:   true,
			ShowPregame: true,
			ShowIngame:  true,
		},
		Privacy: PrivacyConfig{
			HideNames: true,
		},
		Behavior: BehaviorConfig{
			MenusPollMS:         500,
			PregamePollMS:       250,
			IngamePollMS:        500,
			NotRunningPollMS:    2000,
			NotRunningPollMaxMS: 5000,
			DisconnectedPollMS:  5000,
			FailureThreshold:    3,
			PatienceMaxRetries:  15,
			StartupAttempts:     15,
			StartupIntervalMS:   1000,
		},
		IPC: IPCConfig{
			Enabled: true,
			Name:    "matchscope-ipc",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9815",
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 5,
		},
	}
}

// ///////////////////////////////////////////////
// Loading
// ///////////////////////////////////////////////

// Load reads the config file from the data directory, merging it over the
// built-in defaults and normalizing out-of-range values. A missing file is
// not an error; the defaults are returned as-is.
func Load(dataDir string) (*Config, error) {
	cfg := Default()

	path := paths.DataDir{Root: dataDir}.Config()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.normalize()
	return cfg, nil
}

// normalize clamps user-supplied values into safe ranges. The poll floors
// keep a mistyped cadence from hammering the local API.
func (c *Config) normalize() {
	clampMin(&c.Behavior.MenusPollMS, 100)
	clampMin(&c.Behavior.PregamePollMS, 100)
	clampMin(&c.Behavior.IngamePollMS, 100)
	clampMin(&c.Behavior.NotRunningPollMS, 1000)
	clampMin(&c.Behavior.NotRunningPollMaxMS, c.Behavior.NotRunningPollMS)
	clampMin(&c.Behavior.DisconnectedPollMS, 1000)
	clampMin(&c.Behavior.FailureThreshold, 1)
	clampMin(&c.Behavior.PatienceMaxRetries, 1)
	clampMin(&c.Behavior.StartupAttempts, 1)
	clampMin(&c.Behavior.StartupIntervalMS, 100)
	clampMin(&c.Log.MaxSizeMB, 1)

	if strings.TrimSpace(c.Display.Weapon) == "" {
		c.Display.Weapon = "Vandal"
	}
}

// clampMin raises *v to floor when it is below it.
func clampMin(v *int, floor int) {
	if *v < floor {
		*v = floor
	}
}

// ///////////////////////////////////////////////
// Derived Accessors
// ///////////////////////////////////////////////

// PollInterval converts a millisecond cadence field to a time.Duration.
func PollInterval(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// QueueIgnored reports whether the given queue id matches any configured
// ignore pattern. Patterns use doublestar glob semantics; invalid patterns
// are logged and skipped.
func (c *Config) QueueIgnored(queueID string) bool {
	for _, pattern := range c.Privacy.IgnoredQueues {
		matched, err := doublestar.Match(pattern, queueID)
		if err != nil {
			slog.Warn("invalid queue ignore pattern", "pattern", pattern, "error", err)
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// PhaseVisible reports whether snapshots for the named phase may be
// published. Unknown phase names are visible so new states fail open.
func (c *Config) PhaseVisible(phase string) bool {
	switch phase {
	case "MENUS":
		return c.Display.ShowMenus
	case "PREGAME":
		return c.Display.ShowPregame
	case "INGAME":
		return c.Display.ShowIngame
	default:
		return true
	}
}
