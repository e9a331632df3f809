package player

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tools.zach/dev/matchscope/internal/catalog"
	"tools.zach/dev/matchscope/internal/loadout"
	"tools.zach/dev/matchscope/internal/presence"
)

// defaultFetchTimeout bounds each rank/stats call when the builder is not
// given an explicit timeout.
const defaultFetchTimeout = 5 * time.Second

// ///////////////////////////////////////////////
// Builder
// ///////////////////////////////////////////////

// Builder assembles one [Record] per raw roster entry. It is owned by the
// session loop and must not be shared across loops; the ally cache it writes
// assumes a single writer.
type Builder struct {
	// Catalog supplies agent, tier, and border reference data.
	Catalog *catalog.Catalog
	// Ranks supplies rank and stats lookups.
	Ranks RankSource
	// Allies is the cross-phase reuse store.
	Allies *AllyCache
	// HideNames enables the incognito name policy.
	HideNames bool
	// FetchTimeout bounds each individual rank/stats call; zero selects the
	// default.
	FetchTimeout time.Duration
}

// Input is one raw roster entry plus the phase context needed to build it.
type Input struct {
	// Subject is the player id.
	Subject string
	// RawName is the batch-resolved display name; may be empty.
	RawName string
	// AgentID is the selected agent id; empty before selection.
	AgentID string
	// Incognito reports the raw record's name-hiding flag.
	Incognito bool
	// TeamID is the player's team in the current match.
	TeamID string
	// SelectionState is the agent-select state ("selected", "locked", "").
	SelectionState string
	// PartyID is the player's party id when known.
	PartyID string
	// PartyMembers holds the requester's party subjects; members bypass
	// name hiding.
	PartyMembers map[string]bool
	// AccountLevel is the level carried by the raw record; 0 means absent.
	AccountLevel int
	// MatchID identifies the current match; empty in the menus.
	MatchID string
	// Skin is the resolved loadout for the configured weapon.
	Skin loadout.Resolved
	// Phase selects the phase-specific assembly behavior.
	Phase presence.Phase
}

// Build assembles the full display record for one player. Fetch failures
// degrade to conservative defaults and are reflected in the record's
// StatsFetched flag; Build itself never fails.
func (b *Builder) Build(ctx context.Context, in Input) Record {
	rec := Record{
		Subject:        in.Subject,
		Incognito:      in.Incognito,
		AgentID:        in.AgentID,
		Level:          in.AccountLevel,
		PartyID:        in.PartyID,
		IsPartyMember:  in.PartyMembers[in.Subject],
		TeamID:         in.TeamID,
		SelectionState: in.SelectionState,
		Loadout:        in.Skin,
	}

	if agent, ok := b.Catalog.AgentByID(in.AgentID); ok {
		rec.AgentName = agent.DisplayName
		rec.AgentImageURL = agent.DisplayIcon
	}

	rec.Name = DisplayName(in.RawName, rec.AgentName, in.Incognito, rec.IsPartyMember, b.HideNames)

	// In a live match a player processed during agent select for the same
	// match reuses the cached rank/stats wholesale; only the match-local
	// fields set above are fresh.
	if in.Phase == presence.PhaseIngame && b.Allies.MatchID() == in.MatchID && in.MatchID != "" {
		if cached, ok := b.Allies.Get(in.Subject); ok {
			return spliceCached(rec, cached)
		}
	}

	if rec.Level == 0 && phaseAllowsLevelLookup(in.Phase) {
		b.lookupLevel(ctx, &rec)
	}
	if border, ok := b.Catalog.BorderForLevel(rec.Level); ok {
		rec.BorderIcon = border.Icon
	}

	b.fetchStanding(ctx, &rec)

	if in.Phase == presence.PhasePregame {
		b.Allies.Bind(in.MatchID)
		b.Allies.Put(rec)
	}
	return rec
}

// spliceCached copies the stable fields of a cached record onto a freshly
// initialized one, keeping the fresh match-local fields.
func spliceCached(fresh, cached Record) Record {
	fresh.Name = cached.Name
	fresh.Level = cached.Level
	fresh.BorderIcon = cached.BorderIcon
	fresh.Rank = cached.Rank
	fresh.Stats = cached.Stats
	fresh.StatsFetched = cached.StatsFetched
	fresh.HasCompetitiveStats = cached.HasCompetitiveStats
	return fresh
}

// lookupLevel fetches the account level when the raw record omitted it.
func (b *Builder) lookupLevel(ctx context.Context, rec *Record) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout())
	defer cancel()
	level, err := b.Ranks.AccountLevel(ctx, rec.Subject)
	if err != nil {
		slog.Debug("account level lookup failed", "subject", rec.Subject, "error", err)
		return
	}
	rec.Level = level
}

// fetchStanding fans out to the three standing fetches concurrently and
// joins them, degrading independently on failure. A rank failure falls back
// to the last cached value for the subject when one exists, so a mid-match
// hiccup never resets a previously known rank to zero.
func (b *Builder) fetchStanding(ctx context.Context, rec *Record) {
	var (
		wg sync.WaitGroup

		rank    RankInfo
		rankErr error

		prevTier int
		prevName string
		prevErr  error

		stats    StatSummary
		statsErr error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		cctx, cancel := context.WithTimeout(ctx, b.timeout())
		defer cancel()
		rank, rankErr = b.Ranks.CurrentRank(cctx, rec.Subject)
	}()
	go func() {
		defer wg.Done()
		cctx, cancel := context.WithTimeout(ctx, b.timeout())
		defer cancel()
		prevTier, prevName, prevErr = b.Ranks.PreviousRank(cctx, rec.Subject)
	}()
	go func() {
		defer wg.Done()
		cctx, cancel := context.WithTimeout(ctx, b.timeout())
		defer cancel()
		stats, statsErr = b.Ranks.CompetitiveStats(cctx, rec.Subject)
	}()
	wg.Wait()

	cached, haveCached := b.Allies.Get(rec.Subject)

	if rankErr != nil {
		slog.Debug("rank fetch failed", "subject", rec.Subject, "error", rankErr)
		if haveCached {
			rec.Rank = cached.Rank
		} else {
			rec.Rank = unrankedInfo(b.Catalog)
		}
	} else {
		rec.Rank = rank
		if rec.Rank.TierName == "" {
			rec.Rank.TierName = b.Catalog.TierName(rec.Rank.Tier)
		}
	}

	if prevErr != nil {
		slog.Debug("previous rank fetch failed", "subject", rec.Subject, "error", prevErr)
		if haveCached {
			rec.Rank.PreviousTier = cached.Rank.PreviousTier
			rec.Rank.PreviousTierName = cached.Rank.PreviousTierName
		}
	} else {
		rec.Rank.PreviousTier = prevTier
		rec.Rank.PreviousTierName = prevName
		if rec.Rank.PreviousTierName == "" {
			rec.Rank.PreviousTierName = b.Catalog.TierName(prevTier)
		}
	}

	if statsErr != nil {
		slog.Debug("stats fetch failed", "subject", rec.Subject, "error", statsErr)
		if haveCached && cached.StatsFetched {
			rec.Stats = cached.Stats
			rec.StatsFetched = cached.StatsFetched
			rec.HasCompetitiveStats = cached.HasCompetitiveStats
		}
		return
	}
	rec.Stats = stats
	rec.StatsFetched = true
	rec.HasCompetitiveStats = stats.GamesPlayed != nil && *stats.GamesPlayed > 0
}

// unrankedInfo builds the conservative default standing.
func unrankedInfo(cat *catalog.Catalog) RankInfo {
	name := cat.TierName(0)
	return RankInfo{TierName: name, PeakTierName: name, PreviousTierName: name}
}

// timeout returns the effective per-fetch timeout.
func (b *Builder) timeout() time.Duration {
	if b.FetchTimeout > 0 {
		return b.FetchTimeout
	}
	return defaultFetchTimeout
}
