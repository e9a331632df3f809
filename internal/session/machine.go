package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"tools.zach/dev/matchscope/internal/catalog"
	"tools.zach/dev/matchscope/internal/config"
	"tools.zach/dev/matchscope/internal/loadout"
	"tools.zach/dev/matchscope/internal/localapi"
	"tools.zach/dev/matchscope/internal/logger"
	"tools.zach/dev/matchscope/internal/metrics"
	"tools.zach/dev/matchscope/internal/player"
	"tools.zach/dev/matchscope/internal/presence"
)

// ///////////////////////////////////////////////
// Collaborators
// ///////////////////////////////////////////////

// Gate reports whether the game client appears to be running at all. It
// must be cheap; the loop consults it every tick.
type Gate interface {
	Present() bool
}

// Backend is the typed API surface one client connection exposes to the
// loop. Every call is bounded by its context; errors are transient and the
// loop decides what they mean.
type Backend interface {
	SelfPresence(ctx context.Context) (presence.Entry, bool, error)
	PregameMatchID(ctx context.Context) (string, error)
	CoregameMatchID(ctx context.Context) (string, error)
	PregameMatch(ctx context.Context, matchID string) (localapi.MatchInfo, error)
	CoregameMatch(ctx context.Context, matchID string) (localapi.MatchInfo, error)
	PartyMembers(ctx context.Context) (map[string]bool, string, error)
	ResolveNames(ctx context.Context, subjects []string) (map[string]string, error)
}

// Hinter delivers phase hints from the push socket. A taken hint is
// consumed; the zero phase means no event arrived since the last take.
type Hinter interface {
	TakeHint() (presence.Phase, time.Duration)
}

// Conn bundles everything one live client connection provides. Close tears
// the connection's resources down; it must be safe to call once.
type Conn struct {
	Backend Backend
	// Hinter may be nil when the push socket could not be opened; the loop
	// then runs on polling alone.
	Hinter  Hinter
	Builder *player.Builder
	Close   func()
}

// ConnectFunc establishes a connection to a freshly appeared client. It is
// called once per client run, after the gate reports presence.
type ConnectFunc func(ctx context.Context) (*Conn, error)

// ///////////////////////////////////////////////
// Machine
// ///////////////////////////////////////////////

// tickTimeout bounds all collaborator work within one tick.
const tickTimeout = 30 * time.Second

// Machine is the session state machine. One goroutine runs it; all fields
// below the exported block are owned by that goroutine.
type Machine struct {
	Gate      Gate
	Connect   ConnectFunc
	Config    *config.Config
	Catalog   *catalog.Catalog
	Publisher *Publisher
	Log       *slog.Logger
	Metrics   *metrics.Set

	state State
	conn  *Conn
	// fails counts consecutive detection failures in an observing state.
	fails int
	// patience counts reconnect probes while disconnected; exhausting it
	// tears the connection down so the next tick redials from the lockfile.
	patience int
	// startupLeft is the remaining initial-detection budget after a connect.
	startupLeft int
	// notRunningWait is the current backed-off not-running probe interval.
	notRunningWait time.Duration
}

// Run drives the loop until ctx ends. It blocks.
func (m *Machine) Run(ctx context.Context) {
	m.state = StateNotRunning
	m.notRunningWait = config.PollInterval(m.Config.Behavior.NotRunningPollMS)
	m.Log.Info("session loop started")

	for {
		m.safeTick(ctx)
		select {
		case <-ctx.Done():
			m.teardown()
			m.Log.Info("session loop stopped")
			return
		case <-time.After(m.interval()):
		}
	}
}

// interval returns the next tick delay for the current state.
func (m *Machine) interval() time.Duration {
	b := m.Config.Behavior
	switch {
	case m.state == StateNotRunning:
		return m.notRunningWait
	case m.startupLeft > 0:
		return config.PollInterval(b.StartupIntervalMS)
	case m.state == StateDisconnected:
		return config.PollInterval(b.DisconnectedPollMS)
	case m.state == StatePregame:
		return config.PollInterval(b.PregamePollMS)
	case m.state == StateIngame:
		return config.PollInterval(b.IngamePollMS)
	default:
		return config.PollInterval(b.MenusPollMS)
	}
}

// safeTick runs one tick, converting a panic into a logged error so a
// malformed payload cannot kill the daemon.
func (m *Machine) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.Log.Error("tick panicked", "state", m.state.String(), "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, tickTimeout)
	defer cancel()
	m.tick(ctx)
}

// tick is one full observation cycle. All state transitions happen here.
func (m *Machine) tick(ctx context.Context) {
	m.Metrics.Tick(m.state.String())
	logger.Trace(m.Log, "tick", "state", m.state.String(), "connected", m.conn != nil)

	if !m.Gate.Present() {
		m.teardown()
		if m.setState(StateNotRunning) {
			m.Publisher.Offer(Snapshot{State: m.state.String()})
		} else {
			m.backOffNotRunning()
		}
		return
	}
	m.notRunningWait = config.PollInterval(m.Config.Behavior.NotRunningPollMS)

	if m.conn == nil {
		conn, err := m.Connect(ctx)
		if err != nil {
			m.Log.Debug("client present but connection failed", "error", err)
			if m.setState(StateDisconnected) {
				m.Publisher.Offer(Snapshot{State: m.state.String()})
			}
			return
		}
		m.conn = conn
		m.startupLeft = m.Config.Behavior.StartupAttempts
		m.fails = 0
		m.patience = 0
		m.Publisher.Reset()
		m.Log.Info("client connection established")
	}

	phase, entry, matchID, err := m.detectPhase(ctx)
	if err != nil {
		m.onDetectFailure(err)
		return
	}
	m.fails = 0
	m.patience = 0
	m.startupLeft = 0

	switch phase {
	case presence.PhasePregame:
		m.tickPregame(ctx, entry, matchID)
	case presence.PhaseIngame:
		m.tickIngame(ctx, entry, matchID)
	default:
		m.tickMenus(ctx, entry)
	}
}

// onDetectFailure advances the failure and patience counters. Repeated
// failures demote to disconnected; exhausted patience drops the connection
// so the next tick redials, since the client may have restarted on a new
// port behind an unchanged lockfile directory.
func (m *Machine) onDetectFailure(err error) {
	m.Metrics.FetchFailure("presence")
	m.Log.Debug("phase detection failed", "state", m.state.String(), "error", err)

	if m.startupLeft > 0 {
		m.startupLeft--
		if m.startupLeft == 0 {
			if m.setState(StateDisconnected) {
				m.Publisher.Offer(Snapshot{State: m.state.String()})
			}
		}
		return
	}

	m.fails++
	if m.fails < m.Config.Behavior.FailureThreshold {
		return
	}
	if m.setState(StateDisconnected) {
		m.Publisher.Offer(Snapshot{State: m.state.String()})
	}
	m.patience++
	if m.patience >= m.Config.Behavior.PatienceMaxRetries {
		m.Log.Info("reconnect patience exhausted, redialing client")
		m.teardown()
		m.patience = 0
		m.fails = 0
	}
}

// setState transitions to next, returning true when the state changed.
func (m *Machine) setState(next State) bool {
	if m.state == next {
		return false
	}
	m.Log.Info("session state changed", "from", m.state.String(), "to", next.String())
	m.Metrics.Transition(next.String())
	m.state = next
	return true
}

// teardown closes the current connection, if any.
func (m *Machine) teardown() {
	if m.conn == nil {
		return
	}
	if m.conn.Close != nil {
		m.conn.Close()
	}
	m.conn = nil
}

// backOffNotRunning grows the not-running probe interval up to its ceiling.
func (m *Machine) backOffNotRunning() {
	max := config.PollInterval(m.Config.Behavior.NotRunningPollMaxMS)
	next := m.notRunningWait * 3 / 2
	if next > max {
		next = max
	}
	m.notRunningWait = next
}

// ///////////////////////////////////////////////
// Phase Detection
// ///////////////////////////////////////////////

// detectPhase resolves the client's current phase. The presence poll is the
// authoritative signal; a push hint only matters when presence is silent,
// and the direct match probes settle what is left. The returned match id is
// empty in the menus and may be empty briefly during a phase transition.
func (m *Machine) detectPhase(ctx context.Context) (presence.Phase, presence.Entry, string, error) {
	var hint presence.Phase
	if m.conn.Hinter != nil {
		hint, _ = m.conn.Hinter.TakeHint()
	}

	entry, ok, err := m.conn.Backend.SelfPresence(ctx)
	if err != nil {
		return presence.PhaseUnknown, presence.Entry{}, "", err
	}

	phase := presence.PhaseUnknown
	if ok {
		phase = entry.Private.Phase
	}
	if phase == presence.PhaseUnknown {
		phase = hint
	}

	switch phase {
	case presence.PhaseIngame:
		id, err := m.conn.Backend.CoregameMatchID(ctx)
		if err != nil {
			return presence.PhaseUnknown, presence.Entry{}, "", err
		}
		return presence.PhaseIngame, entry, id, nil

	case presence.PhasePregame:
		id, err := m.conn.Backend.PregameMatchID(ctx)
		if err != nil {
			return presence.PhaseUnknown, presence.Entry{}, "", err
		}
		if id == "" {
			// Agent select may already have rolled into the match.
			cid, err := m.conn.Backend.CoregameMatchID(ctx)
			if err != nil {
				return presence.PhaseUnknown, presence.Entry{}, "", err
			}
			if cid != "" {
				return presence.PhaseIngame, entry, cid, nil
			}
		}
		return presence.PhasePregame, entry, id, nil

	case presence.PhaseMenus:
		return presence.PhaseMenus, entry, "", nil

	default:
		// No presence. The API is alive, so probe the match endpoints
		// directly before concluding the player is in the menus.
		cid, err := m.conn.Backend.CoregameMatchID(ctx)
		if err != nil {
			return presence.PhaseUnknown, presence.Entry{}, "", err
		}
		if cid != "" {
			return presence.PhaseIngame, entry, cid, nil
		}
		pid, err := m.conn.Backend.PregameMatchID(ctx)
		if err != nil {
			return presence.PhaseUnknown, presence.Entry{}, "", err
		}
		if pid != "" {
			return presence.PhasePregame, entry, pid, nil
		}
		return presence.PhaseMenus, entry, "", nil
	}
}

// ///////////////////////////////////////////////
// Per-Phase Ticks
// ///////////////////////////////////////////////

// tickMenus publishes the lobby view: the local party, enriched. The ally
// cache does not survive a return to the menus.
func (m *Machine) tickMenus(ctx context.Context, entry presence.Entry) {
	m.conn.Builder.Allies.Clear()
	m.setState(StateMenus)

	snap := Snapshot{State: m.state.String(), IsLobby: true}
	if !m.Config.PhaseVisible(m.state.String()) || m.Config.QueueIgnored(entry.Private.QueueID) {
		snap.Suppressed = true
		m.Publisher.Offer(snap)
		return
	}

	members, partyID, err := m.conn.Backend.PartyMembers(ctx)
	if err != nil {
		m.Metrics.FetchFailure("roster")
		m.Log.Debug("party fetch failed", "error", err)
		members = map[string]bool{}
		if entry.Subject != "" {
			members[entry.Subject] = true
		}
	}
	if len(members) == 0 && entry.Subject != "" {
		members[entry.Subject] = true
	}

	subjects := orderedSubjects(members, entry.Subject)
	names := m.resolveNames(ctx, subjects)

	inputs := make([]player.Input, len(subjects))
	for i, subject := range subjects {
		in := player.Input{
			Subject:      subject,
			RawName:      names[subject],
			PartyID:      partyID,
			PartyMembers: members,
			Phase:        presence.PhaseMenus,
		}
		if subject == entry.Subject {
			in.Incognito = entry.Private.Incognito
			in.AccountLevel = entry.Private.AccountLevel
		}
		inputs[i] = in
	}
	snap.Players = m.buildAll(ctx, inputs)
	m.Publisher.Offer(snap)
}

// tickPregame publishes the agent-select board for the visible (ally) team.
func (m *Machine) tickPregame(ctx context.Context, entry presence.Entry, matchID string) {
	if matchID == "" {
		// Presence leads the match endpoints briefly at phase entry; hold
		// the previous state one tick rather than publish an empty board.
		return
	}

	info, err := m.conn.Backend.PregameMatch(ctx, matchID)
	if err != nil {
		m.Metrics.FetchFailure("roster")
		m.Log.Debug("pregame roster fetch failed", "match", matchID, "error", err)
		return
	}

	m.setState(StatePregame)
	m.publishMatch(ctx, entry, info, presence.PhasePregame)
}

// tickIngame publishes the full live-match roster every tick.
func (m *Machine) tickIngame(ctx context.Context, entry presence.Entry, matchID string) {
	if matchID == "" {
		return
	}

	info, err := m.conn.Backend.CoregameMatch(ctx, matchID)
	if err != nil {
		m.Metrics.FetchFailure("roster")
		m.Log.Debug("live roster fetch failed", "match", matchID, "error", err)
		return
	}

	m.setState(StateIngame)
	m.publishMatch(ctx, entry, info, presence.PhaseIngame)
}

// publishMatch assembles and offers a match snapshot for either match phase.
func (m *Machine) publishMatch(ctx context.Context, entry presence.Entry, info localapi.MatchInfo, phase presence.Phase) {
	snap := Snapshot{
		State:   m.state.String(),
		Context: m.matchContext(info, entry),
	}
	if !m.Config.PhaseVisible(m.state.String()) || m.Config.QueueIgnored(snap.Context.QueueID) {
		snap.Suppressed = true
		m.Publisher.Offer(snap)
		return
	}

	slots := make([]loadout.PlayerSlot, len(info.Players))
	subjects := make([]string, len(info.Players))
	for i, p := range info.Players {
		slots[i] = loadout.PlayerSlot{Subject: p.Subject, TeamID: p.TeamID}
		subjects[i] = p.Subject
	}
	skins := loadout.Resolve(loadout.Input{
		MatchID:  info.MatchID,
		Weapon:   m.Config.Display.Weapon,
		Players:  slots,
		Loadouts: info.Loadouts,
		Catalog:  m.Catalog,
	})

	names := m.resolveNames(ctx, subjects)
	members, partyID, err := m.conn.Backend.PartyMembers(ctx)
	if err != nil {
		m.Metrics.FetchFailure("roster")
		members = map[string]bool{}
		partyID = ""
	}

	inputs := make([]player.Input, len(info.Players))
	for i, p := range info.Players {
		in := player.Input{
			Subject:        p.Subject,
			RawName:        names[p.Subject],
			AgentID:        p.AgentID,
			Incognito:      p.Incognito,
			TeamID:         p.TeamID,
			SelectionState: p.SelectionState,
			PartyMembers:   members,
			AccountLevel:   p.AccountLevel,
			MatchID:        info.MatchID,
			Skin:           skins[p.Subject],
			Phase:          phase,
		}
		if members[p.Subject] {
			in.PartyID = partyID
		}
		inputs[i] = in
	}
	snap.Players = m.buildAll(ctx, inputs)
	m.Publisher.Offer(snap)
}

// buildAll fans the record builds out one goroutine per roster entry and
// joins them, preserving payload order.
func (m *Machine) buildAll(ctx context.Context, inputs []player.Input) []player.Record {
	recs := make([]player.Record, len(inputs))
	var wg sync.WaitGroup
	for i, in := range inputs {
		wg.Add(1)
		go func(i int, in player.Input) {
			defer wg.Done()
			recs[i] = m.conn.Builder.Build(ctx, in)
		}(i, in)
	}
	wg.Wait()
	return recs
}

// matchContext derives the display context from a match payload, falling
// back to the presence queue when the payload omits one.
func (m *Machine) matchContext(info localapi.MatchInfo, entry presence.Entry) MatchContext {
	mc := MatchContext{
		MatchID: info.MatchID,
		Mode:    info.Mode,
		QueueID: info.QueueID,
	}
	if mc.QueueID == "" {
		mc.QueueID = entry.Private.QueueID
	}
	if mp, ok := m.Catalog.MapByURL(info.MapURL); ok {
		mc.MapName = mp.DisplayName
		mc.MapImageURL = mp.Splash
	}
	return mc
}

// resolveNames batch-resolves subjects, degrading to an empty map so the
// name policy falls back to agent names or "Hidden".
func (m *Machine) resolveNames(ctx context.Context, subjects []string) map[string]string {
	names, err := m.conn.Backend.ResolveNames(ctx, subjects)
	if err != nil {
		m.Metrics.FetchFailure("names")
		m.Log.Debug("name resolution failed", "count", len(subjects), "error", err)
		return map[string]string{}
	}
	return names
}

// orderedSubjects returns the party subjects with self first and the rest
// sorted, so lobby rosters keep a stable order across ticks.
func orderedSubjects(members map[string]bool, self string) []string {
	rest := make([]string, 0, len(members))
	for subject := range members {
		if subject != self {
			rest = append(rest, subject)
		}
	}
	sort.Strings(rest)
	if members[self] {
		return append([]string{self}, rest...)
	}
	return rest
}
