// Package player assembles the per-player display records that make up a
// published snapshot: identity, rank, stats, loadout, and party membership.
//
// The [Builder] fans out to the rank/stats collaborators concurrently and
// degrades per fetch — one player's failed lookup never aborts the batch.
// Records computed during agent select are parked in the [AllyCache] and
// spliced back in during the live match so stable data is fetched once per
// match.
package player

import (
	"context"

	"tools.zach/dev/matchscope/internal/loadout"
	"tools.zach/dev/matchscope/internal/presence"
)

// ///////////////////////////////////////////////
// Record Types
// ///////////////////////////////////////////////

// RankInfo holds one player's competitive standing.
type RankInfo struct {
	// Tier is the current competitive tier number; 0 is unranked.
	Tier int `json:"tier"`
	// TierName is the display name for Tier.
	TierName string `json:"tierName"`
	// RR is the ranked rating within the current tier.
	RR int `json:"rr"`
	// PeakTier is the highest tier ever reached.
	PeakTier int `json:"peakTier"`
	// PeakTierName is the display name for PeakTier.
	PeakTierName string `json:"peakTierName"`
	// PeakSeason labels the episode/act PeakTier was reached in.
	PeakSeason string `json:"peakSeason"`
	// PreviousTier is the final tier of the previous season; 0 is unranked.
	PreviousTier int `json:"previousTier"`
	// PreviousTierName is the display name for PreviousTier.
	PreviousTierName string `json:"previousTierName"`
	// LeaderboardPos is the player's leaderboard position; 0 when absent.
	LeaderboardPos int `json:"leaderboardPos"`
}

// StatSummary holds one player's aggregate stats. Every field is a pointer
// so "not known" stays distinguishable from "known to be zero"; rendering
// substitutes sentinels at display time only.
type StatSummary struct {
	// KD is kills per death.
	KD *float64 `json:"kd,omitempty"`
	// HeadshotPct is the headshot percentage.
	HeadshotPct *float64 `json:"headshotPct,omitempty"`
	// WinRate is the win percentage.
	WinRate *float64 `json:"winRate,omitempty"`
	// GamesPlayed is the number of games in the sample.
	GamesPlayed *int `json:"gamesPlayed,omitempty"`
}

// Record is one row of a published snapshot.
type Record struct {
	// Subject is the player id.
	Subject string `json:"subject"`
	// Name is the display name after the hiding policy is applied.
	Name string `json:"name"`
	// Incognito reports whether the raw name was hidden.
	Incognito bool `json:"incognito"`

	// AgentID is the selected agent's id; empty before selection.
	AgentID string `json:"agentId"`
	// AgentName is the selected agent's display name.
	AgentName string `json:"agentName"`
	// AgentImageURL is the selected agent's icon.
	AgentImageURL string `json:"agentImageUrl"`

	// Level is the account level; 0 when unknown or hidden.
	Level int `json:"level"`
	// BorderIcon is the level border image for Level.
	BorderIcon string `json:"borderIcon"`

	// Rank holds the player's competitive standing.
	Rank RankInfo `json:"rank"`
	// Stats holds the player's aggregate stats.
	Stats StatSummary `json:"stats"`

	// Loadout holds the resolved skin for the configured weapon.
	Loadout loadout.Resolved `json:"loadout"`

	// PartyID identifies the player's party; empty when unknown.
	PartyID string `json:"partyId"`
	// IsPartyMember reports whether the player shares the requester's party.
	IsPartyMember bool `json:"isPartyMember"`
	// TeamID is the player's team in the current match.
	TeamID string `json:"teamId"`
	// SelectionState is the agent-select state ("selected", "locked", "").
	SelectionState string `json:"selectionState"`

	// StatsFetched reports whether the stats fetch was attempted and
	// succeeded. False covers both "not yet attempted" and "attempted and
	// failed"; pair with HasCompetitiveStats to tell populated from empty.
	StatsFetched bool `json:"statsFetched"`
	// HasCompetitiveStats reports whether a successful stats fetch actually
	// carried competitive data.
	HasCompetitiveStats bool `json:"hasCompetitiveStats"`
}

// ///////////////////////////////////////////////
// Collaborator Contracts
// ///////////////////////////////////////////////

// RankSource supplies per-player rank and stat lookups. Implementations talk
// to the platform endpoints; every method honors ctx deadlines.
type RankSource interface {
	// CurrentRank returns the player's current-season standing, including
	// peak and leaderboard data when available.
	CurrentRank(ctx context.Context, subject string) (RankInfo, error)
	// PreviousRank returns the final tier of the previous season.
	PreviousRank(ctx context.Context, subject string) (tier int, tierName string, err error)
	// CompetitiveStats returns aggregate competitive stats. A successful
	// call with nil fields means the player has no competitive history.
	CompetitiveStats(ctx context.Context, subject string) (StatSummary, error)
	// AccountLevel returns the player's account level.
	AccountLevel(ctx context.Context, subject string) (int, error)
}

// NameResolver maps player ids to raw display names in one batch call.
type NameResolver interface {
	ResolveNames(ctx context.Context, subjects []string) (map[string]string, error)
}

// ///////////////////////////////////////////////
// Name Policy
// ///////////////////////////////////////////////

// DisplayName applies the name-hiding policy. The raw name is shown when
// hiding is disabled, the player is not incognito, or the player shares the
// requester's party; otherwise the agent name (or a fixed placeholder)
// stands in.
func DisplayName(raw, agentName string, incognito, partyMember, hideEnabled bool) string {
	if !hideEnabled || !incognito || partyMember {
		return raw
	}
	if agentName != "" {
		return agentName
	}
	return "Hidden"
}

// phaseAllowsLevelLookup reports whether the account level may be fetched
// for the given phase. The pre-match and in-match feeds omit the level for
// hidden players, so the lookup only runs in the menus where party context
// makes it reliable.
func phaseAllowsLevelLookup(phase presence.Phase) bool {
	return phase == presence.PhaseMenus
}
