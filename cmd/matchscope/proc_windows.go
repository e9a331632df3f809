// Windows process detection via the Toolhelp32 snapshot API.
//
// Used as a secondary liveness signal: when the lockfile is missing but the
// client process is still alive, the daemon reports DISCONNECTED rather
// than NOT_RUNNING.

//go:build windows

package main

import (
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

// ///////////////////////////////////////////////
// Process Detection
// ///////////////////////////////////////////////

// processRunning reports whether a process whose image name matches name
// (case-insensitive) is present in the system process snapshot.
func processRunning(name string) bool {
	if name == "" {
		return false
	}
	want := strings.ToLower(name)

	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return false
	}
	defer windows.CloseHandle(snapshot)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	if err := windows.Process32First(snapshot, &entry); err != nil {
		return false
	}
	for {
		if strings.ToLower(windows.UTF16ToString(entry.ExeFile[:])) == want {
			return true
		}
		if err := windows.Process32Next(snapshot, &entry); err != nil {
			return false
		}
	}
}
