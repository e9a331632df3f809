package session

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tools.zach/dev/matchscope/internal/metrics"
)

// ///////////////////////////////////////////////
// Publishing
// ///////////////////////////////////////////////

// Sink receives published snapshots. Implementations must not block for
// long; the session loop publishes inline at the end of a tick.
type Sink interface {
	Publish(Snapshot) error
}

// Publisher applies the per-state de-duplication rules and forwards
// surviving snapshots to the sink. State changes always publish. Within a
// state, what counts as "changed" differs: the menus compare rank and stat
// labels, agent select compares the pick board, and a live match publishes
// every tick because the UI animates from it.
type Publisher struct {
	// Sink receives surviving snapshots.
	Sink Sink
	// Log is the publish-path logger.
	Log *slog.Logger
	// Metrics counts published and suppressed snapshots; may be nil.
	Metrics *metrics.Set

	lastState string
	lastPrint uint64
}

// Offer submits a candidate snapshot. It returns true when the snapshot was
// forwarded to the sink and false when the de-duplication rules dropped it.
func (p *Publisher) Offer(s Snapshot) bool {
	print := p.fingerprint(s)
	if s.State == p.lastState && print != 0 && print == p.lastPrint {
		p.Metrics.SnapshotDropped()
		return false
	}

	s.ID = uuid.NewString()
	s.At = time.Now().UTC()
	p.lastState = s.State
	p.lastPrint = print

	if err := p.Sink.Publish(s); err != nil {
		p.Log.Warn("snapshot publish failed", "state", s.State, "error", err)
		return false
	}
	p.Metrics.SnapshotPublished(s.State)
	p.Log.Debug("snapshot published", "state", s.State, "players", len(s.Players), "lobby", s.IsLobby)
	return true
}

// Reset forgets the last publication, forcing the next Offer through. The
// loop calls it when a new client connection is established.
func (p *Publisher) Reset() {
	p.lastState = ""
	p.lastPrint = 0
}

// fingerprint hashes the fields whose changes warrant a re-publish in the
// snapshot's state. A zero return means "never deduplicate".
func (p *Publisher) fingerprint(s Snapshot) uint64 {
	h := fnv.New64a()
	write := func(format string, args ...any) {
		fmt.Fprintf(h, format, args...)
	}

	if s.Suppressed {
		// A suppressed phase carries no roster worth animating; publish the
		// marker once per state, even for a live match.
		write("%s|suppressed", s.State)
		return nonZero(h.Sum64())
	}

	switch s.State {
	case "INGAME":
		// Live matches re-publish every tick.
		return 0
	case "PREGAME":
		write("%s|%s|%s|%d;", s.Context.MatchID, s.Context.MapName, s.Context.Mode, len(s.Players))
		for _, rec := range s.Players {
			write("%s|%s|%s;", rec.Subject, rec.AgentID, rec.SelectionState)
		}
	case "MENUS":
		write("%d;", len(s.Players))
		for _, rec := range s.Players {
			winRate := float64(-1)
			if rec.Stats.WinRate != nil {
				winRate = *rec.Stats.WinRate
			}
			write("%s|%d|%s|%.1f|%t;", rec.Subject, rec.Rank.Tier, rec.Rank.TierName, winRate, rec.StatsFetched)
		}
	default:
		// Dark states carry no roster; only the state transition matters.
		write("%s", s.State)
	}

	return nonZero(h.Sum64())
}

func nonZero(sum uint64) uint64 {
	if sum == 0 {
		return 1
	}
	return sum
}
