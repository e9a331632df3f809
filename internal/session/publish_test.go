package session

import (
	"errors"
	"log/slog"
	"testing"

	"tools.zach/dev/matchscope/internal/player"
)

// captureSink records every snapshot forwarded to it.
type captureSink struct {
	got []Snapshot
	err error
}

func (c *captureSink) Publish(s Snapshot) error {
	if c.err != nil {
		return c.err
	}
	c.got = append(c.got, s)
	return nil
}

func newTestPublisher(sink Sink) *Publisher {
	return &Publisher{Sink: sink, Log: slog.Default()}
}

func menusSnapshot(tier int, tierName string) Snapshot {
	return Snapshot{
		State: StateMenus.String(),
		Players: []player.Record{
			{Subject: "p1", Rank: player.RankInfo{Tier: tier, TierName: tierName}},
		},
	}
}

func TestOffer_DeduplicatesIdenticalMenus(t *testing.T) {
	sink := &captureSink{}
	p := newTestPublisher(sink)

	if !p.Offer(menusSnapshot(20, "Diamond 3")) {
		t.Fatal("first offer dropped")
	}
	if p.Offer(menusSnapshot(20, "Diamond 3")) {
		t.Error("identical menus snapshot was not deduplicated")
	}
	if len(sink.got) != 1 {
		t.Fatalf("sink saw %d snapshots, want 1", len(sink.got))
	}
}

func TestOffer_RankChangeRepublishes(t *testing.T) {
	sink := &captureSink{}
	p := newTestPublisher(sink)

	p.Offer(menusSnapshot(20, "Diamond 3"))
	if !p.Offer(menusSnapshot(21, "Ascendant 1")) {
		t.Error("rank change was suppressed")
	}
	if len(sink.got) != 2 {
		t.Fatalf("sink saw %d snapshots, want 2", len(sink.got))
	}
}

func TestOffer_IngameAlwaysPublishes(t *testing.T) {
	sink := &captureSink{}
	p := newTestPublisher(sink)

	s := Snapshot{
		State:   StateIngame.String(),
		Context: MatchContext{MatchID: "m1", MapName: "Ascent"},
		Players: []player.Record{{Subject: "p1", TeamID: "Blue"}},
	}
	for i := 0; i < 3; i++ {
		if !p.Offer(s) {
			t.Fatalf("offer %d dropped a live-match snapshot", i)
		}
	}
	if len(sink.got) != 3 {
		t.Fatalf("sink saw %d snapshots, want 3", len(sink.got))
	}
}

func TestOffer_SuppressedIngamePublishesOnce(t *testing.T) {
	sink := &captureSink{}
	p := newTestPublisher(sink)

	s := Snapshot{State: StateIngame.String(), Suppressed: true}
	if !p.Offer(s) {
		t.Fatal("first suppressed snapshot dropped")
	}
	for i := 0; i < 4; i++ {
		if p.Offer(s) {
			t.Fatalf("offer %d re-published a suppressed live match", i)
		}
	}
	if len(sink.got) != 1 {
		t.Fatalf("sink saw %d snapshots, want 1", len(sink.got))
	}
}

func pregameSnapshot(agent, selection string) Snapshot {
	return Snapshot{
		State:   StatePregame.String(),
		Context: MatchContext{MatchID: "m1", MapName: "Ascent", Mode: "Competitive"},
		Players: []player.Record{
			{Subject: "p1", AgentID: agent, SelectionState: selection},
		},
	}
}

func TestOffer_PregameDeduplicatesIdenticalPicks(t *testing.T) {
	sink := &captureSink{}
	p := newTestPublisher(sink)

	if !p.Offer(pregameSnapshot("agent-jett", "selected")) {
		t.Fatal("first offer dropped")
	}
	if p.Offer(pregameSnapshot("agent-jett", "selected")) {
		t.Error("identical pick board was not deduplicated")
	}
	if !p.Offer(pregameSnapshot("agent-jett", "locked")) {
		t.Error("selection state change was suppressed")
	}
	if !p.Offer(pregameSnapshot("agent-sova", "locked")) {
		t.Error("agent change was suppressed")
	}
	if len(sink.got) != 3 {
		t.Fatalf("sink saw %d snapshots, want 3", len(sink.got))
	}
}

func TestOffer_StateChangeAlwaysPublishes(t *testing.T) {
	sink := &captureSink{}
	p := newTestPublisher(sink)

	p.Offer(Snapshot{State: StateDisconnected.String()})
	if p.Offer(Snapshot{State: StateDisconnected.String()}) {
		t.Error("repeated dark state was not deduplicated")
	}
	if !p.Offer(Snapshot{State: StateMenus.String()}) {
		t.Error("state change was suppressed")
	}
	if !p.Offer(Snapshot{State: StateDisconnected.String()}) {
		t.Error("return to the previous state was suppressed")
	}
}

func TestOffer_StampsIDAndTime(t *testing.T) {
	sink := &captureSink{}
	p := newTestPublisher(sink)

	p.Offer(menusSnapshot(20, "Diamond 3"))
	got := sink.got[0]
	if got.ID == "" {
		t.Error("published snapshot has no id")
	}
	if got.At.IsZero() {
		t.Error("published snapshot has no timestamp")
	}
	if got.At.Location() != got.At.UTC().Location() {
		t.Error("timestamp is not UTC")
	}
}

func TestOffer_SinkErrorReturnsFalse(t *testing.T) {
	p := newTestPublisher(&captureSink{err: errors.New("pipe closed")})
	if p.Offer(menusSnapshot(20, "Diamond 3")) {
		t.Error("offer reported success despite a sink error")
	}
}

func TestReset_ForcesRepublish(t *testing.T) {
	sink := &captureSink{}
	p := newTestPublisher(sink)

	p.Offer(menusSnapshot(20, "Diamond 3"))
	p.Reset()
	if !p.Offer(menusSnapshot(20, "Diamond 3")) {
		t.Error("offer after reset was deduplicated")
	}
}

func TestFingerprint_SuppressionFlagMatters(t *testing.T) {
	sink := &captureSink{}
	p := newTestPublisher(sink)

	s := menusSnapshot(20, "Diamond 3")
	p.Offer(s)
	s.Suppressed = true
	s.Players = nil
	if !p.Offer(s) {
		t.Error("suppression change did not republish")
	}
}
