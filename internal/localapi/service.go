package localapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"tools.zach/dev/matchscope/internal/loadout"
	"tools.zach/dev/matchscope/internal/presence"
)

// ///////////////////////////////////////////////
// Match Snapshots
// ///////////////////////////////////////////////

// MatchPlayer is one roster entry from a pregame or live match payload.
type MatchPlayer struct {
	Subject        string
	TeamID         string
	AgentID        string
	SelectionState string
	AccountLevel   int
	Incognito      bool
}

// MatchInfo is a normalized view of a pregame or live match: the roster in
// payload order plus the loadout list aligned to it by the fixed reindexing
// rule in the loadout package.
type MatchInfo struct {
	MatchID  string
	MapURL   string
	Mode     string
	QueueID  string
	Players  []MatchPlayer
	Loadouts []loadout.Inventory
}

// ///////////////////////////////////////////////
// Service
// ///////////////////////////////////////////////

// Service exposes the typed operations the session loop needs, built on the
// shared Client. One Service spans one client run; a new lockfile means a
// new Service.
type Service struct {
	client *Client
	selfID string
}

// NewService wires a service over client. SelfID is resolved lazily on
// first use because the chat session is not ready the instant the lockfile
// appears.
func NewService(client *Client) *Service {
	return &Service{client: client}
}

// SelfID returns the local player's subject id, fetching and caching it on
// first call.
func (s *Service) SelfID(ctx context.Context) (string, error) {
	if s.selfID != "" {
		return s.selfID, nil
	}
	var out struct {
		PUUID string `json:"puuid"`
	}
	if err := s.client.Fetch(ctx, DomainLocal, http.MethodGet, "/chat/v1/session", nil, &out); err != nil {
		return "", err
	}
	if out.PUUID == "" {
		return "", fmt.Errorf("chat session has no subject yet")
	}
	s.selfID = out.PUUID
	return s.selfID, nil
}

// ResolveVersion reads the running client version and attaches it to
// regional requests. Failure is tolerable; regional calls may still work.
func (s *Service) ResolveVersion(ctx context.Context) error {
	var out struct {
		Data struct {
			Version string `json:"version"`
		} `json:"data"`
	}
	if err := s.client.Fetch(ctx, DomainLocal, http.MethodGet, "/product-session/v1/external-sessions", nil, &out); err != nil {
		return err
	}
	if out.Data.Version != "" {
		s.client.SetVersion(out.Data.Version)
	}
	return nil
}

// ///////////////////////////////////////////////
// Presence
// ///////////////////////////////////////////////

// SelfPresence polls the presence endpoint and returns the local player's
// decoded entry. ok is false when the endpoint answered but the local
// player has no game presence yet, which happens briefly after login.
func (s *Service) SelfPresence(ctx context.Context) (presence.Entry, bool, error) {
	self, err := s.SelfID(ctx)
	if err != nil {
		return presence.Entry{}, false, err
	}
	var out struct {
		Presences []struct {
			PUUID   string `json:"puuid"`
			Product string `json:"product"`
			Private string `json:"private"`
		} `json:"presences"`
	}
	if err := s.client.Fetch(ctx, DomainLocal, http.MethodGet, "/chat/v4/presences", nil, &out); err != nil {
		return presence.Entry{}, false, err
	}
	for _, p := range out.Presences {
		if p.PUUID != self || p.Product != "valorant" {
			continue
		}
		return presence.Entry{Subject: p.PUUID, Private: presence.Decode(p.Private)}, true, nil
	}
	return presence.Entry{}, false, nil
}

// ///////////////////////////////////////////////
// Match Probes
// ///////////////////////////////////////////////

// PregameMatchID probes whether the local player is in agent select.
// A 404 means no, returned as ("", nil).
func (s *Service) PregameMatchID(ctx context.Context) (string, error) {
	return s.probeMatchID(ctx, "/pregame/v1/players/")
}

// CoregameMatchID probes whether the local player is in a live match.
// A 404 means no, returned as ("", nil).
func (s *Service) CoregameMatchID(ctx context.Context) (string, error) {
	return s.probeMatchID(ctx, "/core-game/v1/players/")
}

func (s *Service) probeMatchID(ctx context.Context, prefix string) (string, error) {
	self, err := s.SelfID(ctx)
	if err != nil {
		return "", err
	}
	var out struct {
		MatchID string `json:"MatchID"`
	}
	err = s.client.Fetch(ctx, DomainGLZ, http.MethodGet, prefix+self, nil, &out)
	if IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	// The client reports "0" for no active match on some patches.
	if out.MatchID == "0" {
		return "", nil
	}
	return out.MatchID, nil
}

// ///////////////////////////////////////////////
// Rosters
// ///////////////////////////////////////////////

// wireItems is the socket tree shared by both loadout payload shapes.
type wireItems map[string]struct {
	ID      string `json:"ID"`
	Sockets map[string]struct {
		Item struct {
			ID string `json:"ID"`
		} `json:"Item"`
	} `json:"Sockets"`
}

func (w wireItems) inventory() loadout.Inventory {
	inv := loadout.Inventory{Items: make(map[string]loadout.Item, len(w))}
	for weaponID, item := range w {
		sockets := make(map[string]string, len(item.Sockets))
		for socketID, s := range item.Sockets {
			sockets[strings.ToLower(socketID)] = s.Item.ID
		}
		inv.Items[strings.ToLower(weaponID)] = loadout.Item{ID: item.ID, Sockets: sockets}
	}
	return inv
}

// PregameMatch fetches the agent-select roster and loadouts for matchID.
// Only the ally team is visible in this phase.
func (s *Service) PregameMatch(ctx context.Context, matchID string) (MatchInfo, error) {
	var match struct {
		MapID    string `json:"MapID"`
		Mode     string `json:"Mode"`
		QueueID  string `json:"QueueID"`
		AllyTeam struct {
			TeamID  string `json:"TeamID"`
			Players []wirePregamePlayer `json:"Players"`
		} `json:"AllyTeam"`
	}
	if err := s.client.Fetch(ctx, DomainGLZ, http.MethodGet, "/pregame/v1/matches/"+matchID, nil, &match); err != nil {
		return MatchInfo{}, err
	}

	var loadouts struct {
		Loadouts []struct {
			Items wireItems `json:"Items"`
		} `json:"Loadouts"`
	}
	if err := s.client.Fetch(ctx, DomainGLZ, http.MethodGet, "/pregame/v1/matches/"+matchID+"/loadouts", nil, &loadouts); err != nil {
		return MatchInfo{}, err
	}

	info := MatchInfo{
		MatchID: matchID,
		MapURL:  match.MapID,
		Mode:    match.Mode,
		QueueID: match.QueueID,
	}
	for _, p := range match.AllyTeam.Players {
		info.Players = append(info.Players, MatchPlayer{
			Subject:        p.Subject,
			TeamID:         match.AllyTeam.TeamID,
			AgentID:        p.CharacterID,
			SelectionState: p.CharacterSelectionState,
			AccountLevel:   p.PlayerIdentity.AccountLevel,
			Incognito:      p.PlayerIdentity.Incognito,
		})
	}
	for _, l := range loadouts.Loadouts {
		info.Loadouts = append(info.Loadouts, l.Items.inventory())
	}
	return info, nil
}

type wirePregamePlayer struct {
	Subject                 string `json:"Subject"`
	CharacterID             string `json:"CharacterID"`
	CharacterSelectionState string `json:"CharacterSelectionState"`
	PlayerIdentity          struct {
		AccountLevel int  `json:"AccountLevel"`
		Incognito    bool `json:"Incognito"`
	} `json:"PlayerIdentity"`
}

type wireCorePlayer struct {
	Subject        string `json:"Subject"`
	TeamID         string `json:"TeamID"`
	CharacterID    string `json:"CharacterID"`
	PlayerIdentity struct {
		AccountLevel int  `json:"AccountLevel"`
		Incognito    bool `json:"Incognito"`
	} `json:"PlayerIdentity"`
}

// CoregameMatch fetches the full live-match roster and loadouts for
// matchID. Both teams are visible in this phase.
func (s *Service) CoregameMatch(ctx context.Context, matchID string) (MatchInfo, error) {
	var match struct {
		MapID           string `json:"MapID"`
		ModeID          string `json:"ModeID"`
		MatchmakingData struct {
			QueueID string `json:"QueueID"`
		} `json:"MatchmakingData"`
		Players []wireCorePlayer `json:"Players"`
	}
	if err := s.client.Fetch(ctx, DomainGLZ, http.MethodGet, "/core-game/v1/matches/"+matchID, nil, &match); err != nil {
		return MatchInfo{}, err
	}

	var loadouts struct {
		Loadouts []struct {
			Loadout struct {
				Items wireItems `json:"Items"`
			} `json:"Loadout"`
		} `json:"Loadouts"`
	}
	if err := s.client.Fetch(ctx, DomainGLZ, http.MethodGet, "/core-game/v1/matches/"+matchID+"/loadouts", nil, &loadouts); err != nil {
		return MatchInfo{}, err
	}

	info := MatchInfo{
		MatchID: matchID,
		MapURL:  match.MapID,
		Mode:    match.ModeID,
		QueueID: match.MatchmakingData.QueueID,
	}
	for _, p := range match.Players {
		info.Players = append(info.Players, MatchPlayer{
			Subject:      p.Subject,
			TeamID:       p.TeamID,
			AgentID:      p.CharacterID,
			AccountLevel: p.PlayerIdentity.AccountLevel,
			Incognito:    p.PlayerIdentity.Incognito,
		})
	}
	for _, l := range loadouts.Loadouts {
		info.Loadouts = append(info.Loadouts, l.Loadout.Items.inventory())
	}
	return info, nil
}

// ///////////////////////////////////////////////
// Party
// ///////////////////////////////////////////////

// PartyMembers returns the subject ids in the local player's current party,
// keyed for O(1) membership checks. An empty map means solo or no party.
func (s *Service) PartyMembers(ctx context.Context) (map[string]bool, string, error) {
	self, err := s.SelfID(ctx)
	if err != nil {
		return nil, "", err
	}
	var player struct {
		CurrentPartyID string `json:"CurrentPartyID"`
	}
	err = s.client.Fetch(ctx, DomainGLZ, http.MethodGet, "/parties/v1/players/"+self, nil, &player)
	if IsNotFound(err) {
		return map[string]bool{}, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	if player.CurrentPartyID == "" {
		return map[string]bool{}, "", nil
	}

	var party struct {
		Members []struct {
			Subject string `json:"Subject"`
		} `json:"Members"`
	}
	if err := s.client.Fetch(ctx, DomainGLZ, http.MethodGet, "/parties/v1/parties/"+player.CurrentPartyID, nil, &party); err != nil {
		return nil, "", err
	}
	members := make(map[string]bool, len(party.Members))
	for _, m := range party.Members {
		members[m.Subject] = true
	}
	return members, player.CurrentPartyID, nil
}

// ///////////////////////////////////////////////
// Names
// ///////////////////////////////////////////////

// ResolveNames batch-resolves subjects to "Name#Tag" strings. Subjects the
// server does not know are absent from the result. Implements the record
// builder's name resolver.
func (s *Service) ResolveNames(ctx context.Context, subjects []string) (map[string]string, error) {
	if len(subjects) == 0 {
		return map[string]string{}, nil
	}
	var out []struct {
		Subject  string `json:"Subject"`
		GameName string `json:"GameName"`
		TagLine  string `json:"TagLine"`
	}
	if err := s.client.Fetch(ctx, DomainPD, http.MethodPut, "/name-service/v2/players", subjects, &out); err != nil {
		return nil, err
	}
	names := make(map[string]string, len(out))
	for _, n := range out {
		if n.GameName == "" {
			continue
		}
		names[n.Subject] = n.GameName + "#" + n.TagLine
	}
	return names, nil
}
