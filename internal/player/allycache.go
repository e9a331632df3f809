package player

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"tools.zach/dev/matchscope/internal/loadout"
)

// ///////////////////////////////////////////////
// Ally Cache
// ///////////////////////////////////////////////

// allyTTL is a safety net against entries outliving an abandoned match; the
// session loop clears the cache explicitly on every match or phase change,
// so the TTL only matters if that bookkeeping is ever missed.
const allyTTL = 30 * time.Minute

// AllyCache parks player records computed during agent select so the live
// match can splice in rank and stats without refetching. Entries are stored
// stripped of match-local fields (loadout, team, selection state), which
// must be re-derived every tick.
//
// The cache is bound to a single match id; binding a different id flushes
// all entries. Safe for concurrent use; the loop builds roster records in
// parallel and each build touches the cache.
type AllyCache struct {
	entries *cache.Cache

	mu      sync.Mutex
	matchID string
}

// NewAllyCache creates an empty, unbound cache.
func NewAllyCache() *AllyCache {
	return &AllyCache{
		entries: cache.New(allyTTL, 10*time.Minute),
	}
}

// Bind associates the cache with a match id. A changed id flushes every
// entry; rebinding the same id is a no-op.
func (a *AllyCache) Bind(matchID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.matchID == matchID {
		return
	}
	a.entries.Flush()
	a.matchID = matchID
}

// Clear flushes every entry and unbinds the match id.
func (a *AllyCache) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries.Flush()
	a.matchID = ""
}

// MatchID returns the match the cache is currently bound to.
func (a *AllyCache) MatchID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.matchID
}

// Put stores a stripped copy of r keyed by its subject.
func (a *AllyCache) Put(r Record) {
	a.entries.Set(r.Subject, strip(r), cache.DefaultExpiration)
}

// Get returns the cached record for subject, if present.
func (a *AllyCache) Get(subject string) (Record, bool) {
	v, ok := a.entries.Get(subject)
	if !ok {
		return Record{}, false
	}
	return v.(Record), true
}

// Len returns the number of live entries.
func (a *AllyCache) Len() int {
	return a.entries.ItemCount()
}

// strip zeroes the match-local fields that cannot be carried across phases.
func strip(r Record) Record {
	r.Loadout = loadout.Resolved{}
	r.TeamID = ""
	r.SelectionState = ""
	return r
}
