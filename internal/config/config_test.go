// Tests for the config package covering [Load] behavior (defaults, merge,
// missing file, malformed input, clamping), queue suppression globs, and
// phase visibility.
package config

import (
	"os"
	"testing"

	"tools.zach/dev/matchscope/internal/paths"
)

// writeConfig drops content as the config file in a fresh data dir and
// returns the dir.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := paths.DataDir{Root: dir}.Config()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

// ///////////////////////////////////////////////
// Load
// ///////////////////////////////////////////////

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	def := Default()
	if cfg.Display.Weapon != def.Display.Weapon {
		t.Errorf("Weapon = %q, want default %q", cfg.Display.Weapon, def.Display.Weapon)
	}
	if cfg.Behavior.PregamePollMS != def.Behavior.PregamePollMS {
		t.Errorf("PregamePollMS = %d, want default %d", cfg.Behavior.PregamePollMS, def.Behavior.PregamePollMS)
	}
	if !cfg.Privacy.HideNames {
		t.Error("HideNames default should be true")
	}
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	dir := writeConfig(t, `
version = 1

[display]
weapon = "Phantom"

[behavior]
ingame_poll_ms = 750
`)
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Display.Weapon != "Phantom" {
		t.Errorf("Weapon = %q, want %q", cfg.Display.Weapon, "Phantom")
	}
	if cfg.Behavior.IngamePollMS != 750 {
		t.Errorf("IngamePollMS = %d, want 750", cfg.Behavior.IngamePollMS)
	}
	// Untouched sections keep their defaults.
	if cfg.Behavior.MenusPollMS != Default().Behavior.MenusPollMS {
		t.Errorf("MenusPollMS = %d, want default", cfg.Behavior.MenusPollMS)
	}
}

func TestLoad_Malformed(t *testing.T) {
	dir := writeConfig(t, "version = [broken")
	if _, err := Load(dir); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_ClampsPollFloors(t *testing.T) {
	dir := writeConfig(t, `
version = 1

[behavior]
menus_poll_ms = 1
pregame_poll_ms = 0
not_running_poll_ms = 5
not_running_poll_max_ms = 1
failure_threshold = 0
`)
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Behavior.MenusPollMS < 100 {
		t.Errorf("MenusPollMS = %d, want >= 100", cfg.Behavior.MenusPollMS)
	}
	if cfg.Behavior.PregamePollMS < 100 {
		t.Errorf("PregamePollMS = %d, want >= 100", cfg.Behavior.PregamePollMS)
	}
	if cfg.Behavior.NotRunningPollMS < 1000 {
		t.Errorf("NotRunningPollMS = %d, want >= 1000", cfg.Behavior.NotRunningPollMS)
	}
	if cfg.Behavior.NotRunningPollMaxMS < cfg.Behavior.NotRunningPollMS {
		t.Errorf("NotRunningPollMaxMS = %d below floor %d",
			cfg.Behavior.NotRunningPollMaxMS, cfg.Behavior.NotRunningPollMS)
	}
	if cfg.Behavior.FailureThreshold < 1 {
		t.Errorf("FailureThreshold = %d, want >= 1", cfg.Behavior.FailureThreshold)
	}
}

func TestLoad_BlankWeaponFallsBack(t *testing.T) {
	dir := writeConfig(t, `
version = 1

[display]
weapon = "   "
`)
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Display.Weapon != "Vandal" {
		t.Errorf("Weapon = %q, want fallback %q", cfg.Display.Weapon, "Vandal")
	}
}

// ///////////////////////////////////////////////
// Queue Suppression
// ///////////////////////////////////////////////

func TestQueueIgnored(t *testing.T) {
	cfg := Default()
	cfg.Privacy.IgnoredQueues = []string{"deathmatch", "swift*", "custom"}

	tests := []struct {
		queue string
		want  bool
	}{
		{"deathmatch", true},
		{"swiftplay", true},
		{"custom", true},
		{"competitive", false},
		{"unrated", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := cfg.QueueIgnored(tt.queue); got != tt.want {
			t.Errorf("QueueIgnored(%q) = %t, want %t", tt.queue, got, tt.want)
		}
	}
}

func TestQueueIgnored_InvalidPatternSkipped(t *testing.T) {
	cfg := Default()
	cfg.Privacy.IgnoredQueues = []string{"[", "competitive"}
	if !cfg.QueueIgnored("competitive") {
		t.Error("valid pattern after an invalid one should still match")
	}
	if cfg.QueueIgnored("deathmatch") {
		t.Error("invalid pattern should not match anything")
	}
}

// ///////////////////////////////////////////////
// Phase Visibility
// ///////////////////////////////////////////////

func TestPhaseVisible(t *testing.T) {
	cfg := Default()
	cfg.Display.ShowMenus = false

	if cfg.PhaseVisible("MENUS") {
		t.Error("MENUS should be hidden")
	}
	if !cfg.PhaseVisible("PREGAME") || !cfg.PhaseVisible("INGAME") {
		t.Error("PREGAME/INGAME should remain visible")
	}
	// Unknown phases fail open.
	if !cfg.PhaseVisible("NOT_RUNNING") {
		t.Error("unknown phase should be visible")
	}
}
