// Package presence decodes the per-player presence blobs published by the
// platform into typed records the session loop can reason about.
//
// The raw blob is base64-encoded JSON with a loosely-specified schema that
// changes between client versions; decoding therefore never fails hard.
// Malformed or missing fields come back as their zero values and the phase
// comes back as [PhaseUnknown].
package presence

import (
	"encoding/base64"
	"encoding/json"
)

// ///////////////////////////////////////////////
// Phase
// ///////////////////////////////////////////////

// Phase is the session phase a presence blob reports.
type Phase string

const (
	// PhaseUnknown means the blob carried no recognizable phase.
	PhaseUnknown Phase = ""
	// PhaseMenus means the player sits in the menus or a lobby.
	PhaseMenus Phase = "MENUS"
	// PhasePregame means the player is in agent select.
	PhasePregame Phase = "PREGAME"
	// PhaseIngame means the player is in a live match.
	PhaseIngame Phase = "INGAME"
)

// parsePhase maps a raw sessionLoopState string onto a Phase. Unrecognized
// values decode to PhaseUnknown rather than an error.
func parsePhase(raw string) Phase {
	switch raw {
	case "MENUS", "PREGAME", "INGAME":
		return Phase(raw)
	default:
		return PhaseUnknown
	}
}

// ///////////////////////////////////////////////
// Private Presence
// ///////////////////////////////////////////////

// Private is the decoded private section of one player's presence.
type Private struct {
	// Phase is the session phase the blob reports.
	Phase Phase
	// PartyState describes the party's current activity (e.g. "DEFAULT",
	// "MATCHMAKING", "CUSTOM_GAME_SETUP").
	PartyState string
	// QueueID identifies the queue the party is in (e.g. "competitive").
	QueueID string
	// ProvisioningFlow is set while the client transitions into a match.
	ProvisioningFlow string
	// Incognito reports whether the player hides their name.
	Incognito bool
	// PartyID identifies the player's party.
	PartyID string
	// AccountLevel is the account level the blob advertises; zero when the
	// player hides it or the field is absent.
	AccountLevel int
	// PartySize is the number of players in the party.
	PartySize int
}

// Entry pairs a player id with their decoded private presence.
type Entry struct {
	// Subject is the player id the presence belongs to.
	Subject string
	// Private is the decoded private section.
	Private Private
}

// privateWire is the raw JSON shape inside the base64 blob. Only the fields
// the daemon consumes are declared; everything else is ignored.
type privateWire struct {
	SessionLoopState string `json:"sessionLoopState"`
	PartyState       string `json:"partyState"`
	QueueID          string `json:"queueId"`
	ProvisioningFlow string `json:"provisioningFlow"`
	IsIncognito      bool   `json:"isIncognito"`
	PartyID          string `json:"partyId"`
	AccountLevel     int    `json:"accountLevel"`
	PartySize        int    `json:"partySize"`
}

// Decode decodes a raw base64 presence blob. It never returns an error: any
// decoding failure yields a Private with zero fields and PhaseUnknown, which
// callers treat as "no signal".
func Decode(raw string) Private {
	if raw == "" {
		return Private{}
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return Private{}
	}
	var w privateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Private{}
	}
	return Private{
		Phase:            parsePhase(w.SessionLoopState),
		PartyState:       w.PartyState,
		QueueID:          w.QueueID,
		ProvisioningFlow: w.ProvisioningFlow,
		Incognito:        w.IsIncognito,
		PartyID:          w.PartyID,
		AccountLevel:     w.AccountLevel,
		PartySize:        w.PartySize,
	}
}
