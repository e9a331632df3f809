// Unix process detection via /proc.
//
// Used as a secondary liveness signal: when the lockfile is missing but the
// client process is still alive, the daemon reports DISCONNECTED rather
// than NOT_RUNNING. Non-Linux systems without /proc simply report false,
// which degrades to lockfile-only detection.

//go:build !windows

package main

import (
	"os"
	"path/filepath"
	"strings"
)

// ///////////////////////////////////////////////
// Process Detection
// ///////////////////////////////////////////////

// processRunning reports whether a process whose command name matches name
// (case-insensitive, .exe suffix ignored) exists in /proc.
func processRunning(name string) bool {
	if name == "" {
		return false
	}
	want := strings.ToLower(strings.TrimSuffix(name, ".exe"))

	entries, err := os.ReadDir("/proc")
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() || !isNumeric(e.Name()) {
			continue
		}
		comm, err := os.ReadFile(filepath.Join("/proc", e.Name(), "comm"))
		if err != nil {
			continue
		}
		got := strings.ToLower(strings.TrimSpace(string(comm)))
		if got == want || strings.TrimSuffix(got, ".exe") == want {
			return true
		}
	}
	return false
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
