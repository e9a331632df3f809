package localapi

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"tools.zach/dev/matchscope/internal/catalog"
	"tools.zach/dev/matchscope/internal/player"
)

// ///////////////////////////////////////////////
// Rank Standing
// ///////////////////////////////////////////////

// Standing resolves competitive rank and stat summaries from the player-data
// server. It implements the record builder's rank source; every method is a
// single bounded fetch with no cross-tick retry.
type Standing struct {
	client  *Client
	catalog *catalog.Catalog

	// currentSeason, once learned, orders seasonal rank entries without a
	// content-service call per player. The builder fans rank, previous-rank,
	// and stat fetches out concurrently, so access goes through seasonFrom.
	mu            sync.Mutex
	currentSeason string
}

// seasonFrom returns the current season id, learning it from p's latest
// competitive update when it is not yet known.
func (s *Standing) seasonFrom(p mmrPayload) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentSeason == "" && p.LatestCompetitiveUpdate.SeasonID != "" {
		s.currentSeason = p.LatestCompetitiveUpdate.SeasonID
	}
	return s.currentSeason
}

// NewStanding wires a standing source over client, using cat for tier names.
func NewStanding(client *Client, cat *catalog.Catalog) *Standing {
	return &Standing{client: client, catalog: cat}
}

// seasonInfo is one season's competitive summary from the mmr payload.
type seasonInfo struct {
	SeasonID        string         `json:"SeasonID"`
	CompetitiveTier int            `json:"CompetitiveTier"`
	RankedRating    int            `json:"RankedRating"`
	Wins            int            `json:"NumberOfWinsWithPlacements"`
	Games           int            `json:"NumberOfGames"`
	LeaderboardRank int            `json:"LeaderboardRank"`
	WinsByTier      map[string]int `json:"WinsByTier"`
}

// mmrPayload is the subset of the player mmr document the daemon reads.
type mmrPayload struct {
	QueueSkills struct {
		Competitive struct {
			SeasonalInfoBySeasonID map[string]seasonInfo `json:"SeasonalInfoBySeasonID"`
		} `json:"competitive"`
	} `json:"QueueSkills"`
	LatestCompetitiveUpdate struct {
		SeasonID          string `json:"SeasonID"`
		TierAfterUpdate   int    `json:"TierAfterUpdate"`
		RatingAfterUpdate int    `json:"RankedRatingAfterUpdate"`
	} `json:"LatestCompetitiveUpdate"`
}

func (s *Standing) fetchMMR(ctx context.Context, subject string) (mmrPayload, error) {
	var out mmrPayload
	err := s.client.Fetch(ctx, DomainPD, http.MethodGet, "/mmr/v1/players/"+subject, nil, &out)
	return out, err
}

// orderedSeasons returns the seasonal entries newest-first. The payload keys
// are unordered season ids, so ordering falls back to the latest-update
// season marker and then to games-played as a heuristic for recency.
func orderedSeasons(p mmrPayload, currentSeason string) []seasonInfo {
	seasons := make([]seasonInfo, 0, len(p.QueueSkills.Competitive.SeasonalInfoBySeasonID))
	for _, info := range p.QueueSkills.Competitive.SeasonalInfoBySeasonID {
		seasons = append(seasons, info)
	}
	sort.SliceStable(seasons, func(i, j int) bool {
		if seasons[i].SeasonID == currentSeason {
			return true
		}
		if seasons[j].SeasonID == currentSeason {
			return false
		}
		return seasons[i].Games > seasons[j].Games
	})
	return seasons
}

// CurrentRank returns the subject's current competitive standing, including
// the peak tier across all recorded seasons.
func (s *Standing) CurrentRank(ctx context.Context, subject string) (player.RankInfo, error) {
	p, err := s.fetchMMR(ctx, subject)
	if err != nil {
		return player.RankInfo{}, err
	}
	current := s.seasonFrom(p)

	info := player.RankInfo{}
	seasons := orderedSeasons(p, current)
	if len(seasons) > 0 && seasons[0].SeasonID == current && current != "" {
		cur := seasons[0]
		info.Tier = cur.CompetitiveTier
		info.RR = cur.RankedRating
		info.LeaderboardPos = cur.LeaderboardRank
	} else if p.LatestCompetitiveUpdate.TierAfterUpdate > 0 {
		info.Tier = p.LatestCompetitiveUpdate.TierAfterUpdate
		info.RR = p.LatestCompetitiveUpdate.RatingAfterUpdate
	}
	info.TierName = s.catalog.TierName(info.Tier)

	for _, season := range seasons {
		peak := season.CompetitiveTier
		// Old seasons record the act's best tier in WinsByTier rather than
		// the closing CompetitiveTier.
		for tier := range season.WinsByTier {
			if n, err := strconv.Atoi(tier); err == nil && n > peak {
				peak = n
			}
		}
		if peak > info.PeakTier {
			info.PeakTier = peak
		}
	}
	info.PeakTierName = s.catalog.TierName(info.PeakTier)
	return info, nil
}

// PreviousRank returns the most recent prior season's closing tier, or
// (0, "Unranked") when the subject has no earlier season on record.
func (s *Standing) PreviousRank(ctx context.Context, subject string) (int, string, error) {
	p, err := s.fetchMMR(ctx, subject)
	if err != nil {
		return 0, "", err
	}
	current := s.seasonFrom(p)
	seasons := orderedSeasons(p, current)
	if current == "" && len(seasons) > 0 {
		// Without a season marker the newest entry is presumed current, not
		// a prior season.
		seasons = seasons[1:]
	}
	for _, season := range seasons {
		if season.SeasonID == current {
			continue
		}
		return season.CompetitiveTier, s.catalog.TierName(season.CompetitiveTier), nil
	}
	return 0, s.catalog.TierName(0), nil
}

// CompetitiveStats summarizes the subject's recent competitive performance:
// win rate and games from the seasonal record, kill/death ratio and
// headshot percentage from the most recent finished match. Fields stay nil
// when their inputs are absent; the caller distinguishes "fetched, none"
// from "unknown" that way.
func (s *Standing) CompetitiveStats(ctx context.Context, subject string) (player.StatSummary, error) {
	p, err := s.fetchMMR(ctx, subject)
	if err != nil {
		return player.StatSummary{}, err
	}

	summary := player.StatSummary{}
	seasons := orderedSeasons(p, s.seasonFrom(p))
	if len(seasons) > 0 {
		cur := seasons[0]
		games := cur.Games
		summary.GamesPlayed = &games
		if cur.Games > 0 {
			rate := float64(cur.Wins) / float64(cur.Games) * 100
			summary.WinRate = &rate
		}
	}

	kd, hs, ok, err := s.recentMatchStats(ctx, subject)
	if err == nil && ok {
		summary.KD = &kd
		summary.HeadshotPct = &hs
	}
	return summary, nil
}

// recentMatchStats derives KD and headshot percentage from the subject's
// most recent finished competitive match. ok is false when there is no
// recorded match or the subject is absent from its detail payload.
func (s *Standing) recentMatchStats(ctx context.Context, subject string) (kd, hs float64, ok bool, err error) {
	var history struct {
		History []struct {
			MatchID string `json:"MatchID"`
		} `json:"History"`
	}
	path := "/match-history/v1/history/" + subject + "?startIndex=0&endIndex=1&queue=competitive"
	if err := s.client.Fetch(ctx, DomainPD, http.MethodGet, path, nil, &history); err != nil {
		return 0, 0, false, err
	}
	if len(history.History) == 0 {
		return 0, 0, false, nil
	}

	var details struct {
		Players []struct {
			Subject string `json:"subject"`
			Stats   struct {
				Kills  int `json:"kills"`
				Deaths int `json:"deaths"`
			} `json:"stats"`
		} `json:"players"`
		RoundResults []struct {
			PlayerStats []struct {
				Subject string `json:"subject"`
				Damage  []struct {
					Headshots int `json:"headshots"`
					Bodyshots int `json:"bodyshots"`
					Legshots  int `json:"legshots"`
				} `json:"damage"`
			} `json:"playerStats"`
		} `json:"roundResults"`
	}
	if err := s.client.Fetch(ctx, DomainPD, http.MethodGet, "/match-details/v1/matches/"+history.History[0].MatchID, nil, &details); err != nil {
		return 0, 0, false, err
	}

	found := false
	var kills, deaths int
	for _, p := range details.Players {
		if p.Subject == subject {
			kills, deaths = p.Stats.Kills, p.Stats.Deaths
			found = true
			break
		}
	}
	if !found {
		return 0, 0, false, nil
	}

	var head, total int
	for _, round := range details.RoundResults {
		for _, ps := range round.PlayerStats {
			if ps.Subject != subject {
				continue
			}
			for _, d := range ps.Damage {
				head += d.Headshots
				total += d.Headshots + d.Bodyshots + d.Legshots
			}
		}
	}

	kd = float64(kills)
	if deaths > 0 {
		kd = float64(kills) / float64(deaths)
	}
	if total > 0 {
		hs = float64(head) / float64(total) * 100
	}
	return kd, hs, true, nil
}

// AccountLevel is part of the rank source but the level lives on the local
// identity endpoints, not the mmr document; it is only consulted for the
// local player's own lobby.
func (s *Standing) AccountLevel(ctx context.Context, subject string) (int, error) {
	var out struct {
		Progress struct {
			Level int `json:"Level"`
		} `json:"Progress"`
	}
	if err := s.client.Fetch(ctx, DomainPD, http.MethodGet, "/account-xp/v1/players/"+subject, nil, &out); err != nil {
		return 0, err
	}
	return out.Progress.Level, nil
}
