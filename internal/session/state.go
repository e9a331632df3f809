// Package session drives the observation loop: a single-goroutine state
// machine that tracks which phase the game client is in, assembles enriched
// player snapshots for the phase, and hands them to the publisher.
//
// All state transitions happen at tick boundaries. Collaborator calls made
// during a tick are bounded; a slow call delays the tick, it never
// interleaves with another one.
package session

import (
	"time"

	"tools.zach/dev/matchscope/internal/player"
)

// ///////////////////////////////////////////////
// States
// ///////////////////////////////////////////////

// State is the daemon's view of the game client.
type State int

const (
	// StateNotRunning means no client process or lockfile was found.
	StateNotRunning State = iota
	// StateDisconnected means the client appears to run but its local API
	// stopped answering.
	StateDisconnected
	// StateMenus means the player sits in the menus or a lobby.
	StateMenus
	// StatePregame means the player is in agent select.
	StatePregame
	// StateIngame means the player is in a live match.
	StateIngame
)

// String returns the wire name of the state, the same token the presence
// blob uses where one exists.
func (s State) String() string {
	switch s {
	case StateNotRunning:
		return "NOT_RUNNING"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateMenus:
		return "MENUS"
	case StatePregame:
		return "PREGAME"
	case StateIngame:
		return "INGAME"
	default:
		return "UNKNOWN"
	}
}

// Observing reports whether the state has a responsive client behind it.
func (s State) Observing() bool {
	return s == StateMenus || s == StatePregame || s == StateIngame
}

// ///////////////////////////////////////////////
// Snapshots
// ///////////////////////////////////////////////

// MatchContext describes the match a snapshot belongs to. Zero-valued in
// the menus and the dark states.
type MatchContext struct {
	// MatchID identifies the match.
	MatchID string `json:"matchId"`
	// MapName is the display name of the map.
	MapName string `json:"mapName"`
	// MapImageURL is the map's listview splash.
	MapImageURL string `json:"mapImageUrl"`
	// Mode is the game mode id.
	Mode string `json:"mode"`
	// QueueID is the matchmaking queue id; empty for custom games.
	QueueID string `json:"queueId"`
}

// Snapshot is one published observation: the session state plus the
// enriched roster visible in that state.
type Snapshot struct {
	// ID uniquely identifies this publication.
	ID string `json:"id"`
	// At is the publication time in UTC.
	At time.Time `json:"at"`
	// State is the session state the snapshot was taken in.
	State string `json:"state"`
	// Context describes the current match, when there is one.
	Context MatchContext `json:"context"`
	// IsLobby is true for menus snapshots, where the roster is the party
	// rather than a match team.
	IsLobby bool `json:"isLobby"`
	// Suppressed is true when privacy settings withheld the roster; State
	// and Context are still meaningful.
	Suppressed bool `json:"suppressed"`
	// Players is the enriched roster in payload order.
	Players []player.Record `json:"players"`
}
