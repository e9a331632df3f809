// Package catalog holds the static reference data the daemon needs to turn
// raw match payloads into display records: weapons, skins, maps, rank tiers,
// level borders, and agents.
//
// The catalog is fetched once at startup from the public game-data API with a
// local disk-cache fallback, and is immutable afterwards — concurrent readers
// need no locking. Every section degrades independently: a failed fetch
// yields an empty section, never an error, and lookups on an empty section
// simply miss.
package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"tools.zach/dev/matchscope/internal/atomicfile"
)

// DefaultBaseURL is the public game-data API serving the static catalog.
const DefaultBaseURL = "https://valorant-api.com/v1"

// maxResponseBytes bounds a single catalog section payload (16 MiB; the skin
// catalog with chromas and levels is by far the largest section).
const maxResponseBytes = 16 << 20

// httpClient is a lazily-initialized retryablehttp client shared across all
// catalog fetches. Initialized once via httpClientOnce.
var (
	httpClient     *retryablehttp.Client
	httpClientOnce sync.Once
)

// getHTTPClient returns the shared retryable HTTP client, initializing it on
// first call.
func getHTTPClient() *retryablehttp.Client {
	httpClientOnce.Do(func() {
		httpClient = retryablehttp.NewClient()
		httpClient.RetryMax = 2
		httpClient.HTTPClient.Timeout = 15 * time.Second
		httpClient.Logger = nil // suppress retryablehttp's default logging
	})
	return httpClient
}

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Weapon is one weapon from the static catalog.
type Weapon struct {
	UUID        string `json:"uuid"`
	DisplayName string `json:"displayName"`
}

// Chroma is a colorway variant of a skin.
type Chroma struct {
	UUID        string `json:"uuid"`
	DisplayName string `json:"displayName"`
	FullRender  string `json:"fullRender"`
	DisplayIcon string `json:"displayIcon"`
}

// SkinLevel is an upgrade level of a skin.
type SkinLevel struct {
	UUID        string `json:"uuid"`
	DisplayName string `json:"displayName"`
	DisplayIcon string `json:"displayIcon"`
}

// Skin is one weapon skin with its chromas and levels.
type Skin struct {
	UUID        string      `json:"uuid"`
	DisplayName string      `json:"displayName"`
	DisplayIcon string      `json:"displayIcon"`
	Chromas     []Chroma    `json:"chromas"`
	Levels      []SkinLevel `json:"levels"`
}

// Map is one playable map. MapURL is the client's internal map asset path,
// which is what match payloads carry instead of the uuid.
type Map struct {
	UUID        string `json:"uuid"`
	DisplayName string `json:"displayName"`
	MapURL      string `json:"mapUrl"`
	Splash      string `json:"splash"`
}

// Tier is one competitive rank tier.
type Tier struct {
	Tier     int    `json:"tier"`
	TierName string `json:"tierName"`
	Icon     string `json:"smallIcon"`
}

// tierEnvelope is the competitivetiers response shape: one entry per episode,
// each carrying the full tier table for that episode.
type tierEnvelope struct {
	UUID  string `json:"uuid"`
	Tiers []Tier `json:"tiers"`
}

// Border is one account level border.
type Border struct {
	UUID          string `json:"uuid"`
	StartingLevel int    `json:"startingLevel"`
	Icon          string `json:"smallPlayerCardAppearance"`
}

// Agent is one playable agent.
type Agent struct {
	UUID        string `json:"uuid"`
	DisplayName string `json:"displayName"`
	DisplayIcon string `json:"displayIcon"`
}

// Catalog is the full static data set, keyed for lookup. All maps use
// lower-cased uuids (the local API is inconsistent about uuid casing).
// Immutable after [Load] returns.
type Catalog struct {
	Weapons map[string]Weapon
	Skins   map[string]Skin
	Maps    map[string]Map // keyed by MapURL, not uuid
	Tiers   map[int]Tier
	Borders []Border // sorted by StartingLevel descending
	Agents  map[string]Agent
}

// ///////////////////////////////////////////////
// Lookups
// ///////////////////////////////////////////////

// WeaponByName returns the weapon whose display name matches name
// case-insensitively.
func (c *Catalog) WeaponByName(name string) (Weapon, bool) {
	for _, w := range c.Weapons {
		if strings.EqualFold(w.DisplayName, name) {
			return w, true
		}
	}
	return Weapon{}, false
}

// SkinByID returns the skin for the given uuid, matched case-insensitively.
func (c *Catalog) SkinByID(uuid string) (Skin, bool) {
	s, ok := c.Skins[strings.ToLower(uuid)]
	return s, ok
}

// AgentByID returns the agent for the given uuid, matched case-insensitively.
func (c *Catalog) AgentByID(uuid string) (Agent, bool) {
	a, ok := c.Agents[strings.ToLower(uuid)]
	return a, ok
}

// MapByURL returns the map whose internal asset path equals mapURL.
func (c *Catalog) MapByURL(mapURL string) (Map, bool) {
	m, ok := c.Maps[mapURL]
	return m, ok
}

// TierByNumber returns the competitive tier for the given tier number.
func (c *Catalog) TierByNumber(n int) (Tier, bool) {
	t, ok := c.Tiers[n]
	return t, ok
}

// TierName returns the display name for a tier number, or "Unranked" when
// the tier is unknown or zero.
func (c *Catalog) TierName(n int) string {
	if t, ok := c.Tiers[n]; ok && n > 0 {
		return t.TierName
	}
	return "Unranked"
}

// BorderForLevel returns the first border (scanning thresholds descending)
// whose starting level is at or below level. If no border qualifies the
// lowest-threshold border is returned as a fallback; an empty border list
// returns ok=false.
func (c *Catalog) BorderForLevel(level int) (Border, bool) {
	if len(c.Borders) == 0 {
		return Border{}, false
	}
	for _, b := range c.Borders {
		if b.StartingLevel <= level {
			return b, true
		}
	}
	return c.Borders[len(c.Borders)-1], true
}

// ///////////////////////////////////////////////
// Loading
// ///////////////////////////////////////////////

// Load fetches every catalog section and assembles the lookup tables.
// Sections fail independently: a section that cannot be fetched remotely
// falls back to the disk cache at cachePath, and failing that is left empty
// with a warning. Load never returns an error.
//
// baseURL is the game-data API root; pass "" for [DefaultBaseURL].
func Load(baseURL, cachePath string) *Catalog {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	raw := fetchAll(baseURL)

	if raw.complete() {
		cacheWrite(cachePath, raw)
	} else if cached, err := cacheRead(cachePath); err == nil {
		slog.Warn("catalog fetch incomplete, filling from disk cache")
		raw.fillFrom(cached)
	}

	return raw.build()
}

// rawCatalog holds the per-section payloads exactly as fetched, so the disk
// cache round-trips without re-deriving lookup keys.
type rawCatalog struct {
	Weapons []Weapon       `json:"weapons"`
	Skins   []Skin         `json:"skins"`
	Maps    []Map          `json:"maps"`
	Tiers   []tierEnvelope `json:"tiers"`
	Borders []Border       `json:"borders"`
	Agents  []Agent        `json:"agents"`
}

// fetchAll fetches every section from the remote API. Failed sections are
// left nil.
func fetchAll(baseURL string) *rawCatalog {
	raw := &rawCatalog{}
	fetchSection(baseURL+"/weapons", &raw.Weapons)
	fetchSection(baseURL+"/weapons/skins", &raw.Skins)
	fetchSection(baseURL+"/maps", &raw.Maps)
	fetchSection(baseURL+"/competitivetiers", &raw.Tiers)
	fetchSection(baseURL+"/levelborders", &raw.Borders)
	fetchSection(baseURL+"/agents?isPlayableCharacter=true", &raw.Agents)
	return raw
}

// complete reports whether every section was fetched.
func (r *rawCatalog) complete() bool {
	return r.Weapons != nil && r.Skins != nil && r.Maps != nil &&
		r.Tiers != nil && r.Borders != nil && r.Agents != nil
}

// fillFrom copies cached sections over any section that failed to fetch.
func (r *rawCatalog) fillFrom(cached *rawCatalog) {
	if r.Weapons == nil {
		r.Weapons = cached.Weapons
	}
	if r.Skins == nil {
		r.Skins = cached.Skins
	}
	if r.Maps == nil {
		r.Maps = cached.Maps
	}
	if r.Tiers == nil {
		r.Tiers = cached.Tiers
	}
	if r.Borders == nil {
		r.Borders = cached.Borders
	}
	if r.Agents == nil {
		r.Agents = cached.Agents
	}
}

// build assembles the immutable lookup tables from the raw sections.
func (r *rawCatalog) build() *Catalog {
	c := &Catalog{
		Weapons: make(map[string]Weapon, len(r.Weapons)),
		Skins:   make(map[string]Skin, len(r.Skins)),
		Maps:    make(map[string]Map, len(r.Maps)),
		Tiers:   make(map[int]Tier),
		Agents:  make(map[string]Agent, len(r.Agents)),
	}
	for _, w := range r.Weapons {
		c.Weapons[strings.ToLower(w.UUID)] = w
	}
	for _, s := range r.Skins {
		c.Skins[strings.ToLower(s.UUID)] = s
	}
	for _, m := range r.Maps {
		c.Maps[m.MapURL] = m
	}
	// The tier table is published per episode; the last entry is the current
	// episode's table.
	if len(r.Tiers) > 0 {
		for _, t := range r.Tiers[len(r.Tiers)-1].Tiers {
			c.Tiers[t.Tier] = t
		}
	}
	c.Borders = append(c.Borders, r.Borders...)
	sort.Slice(c.Borders, func(i, j int) bool {
		return c.Borders[i].StartingLevel > c.Borders[j].StartingLevel
	})
	for _, a := range r.Agents {
		c.Agents[strings.ToLower(a.UUID)] = a
	}
	return c
}

// ///////////////////////////////////////////////
// Fetch / Cache Helpers
// ///////////////////////////////////////////////

// envelope is the game-data API response wrapper.
type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// fetchSection downloads one catalog section into out. Failures leave out
// untouched and are logged at warn.
func fetchSection(url string, out any) {
	body, err := getJSON(url)
	if err != nil {
		slog.Warn("catalog section fetch failed", "url", url, "error", err)
		return
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		slog.Warn("catalog section parse failed", "url", url, "error", err)
		return
	}
	if env.Status != http.StatusOK {
		slog.Warn("catalog section rejected", "url", url, "status", env.Status)
		return
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		slog.Warn("catalog section decode failed", "url", url, "error", err)
	}
}

// getJSON downloads url with the shared retryable client, bounding the body.
func getJSON(url string) ([]byte, error) {
	resp, err := getHTTPClient().Get(url)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if int64(len(body)) > maxResponseBytes {
		return nil, fmt.Errorf("response from %s exceeds %d bytes", url, maxResponseBytes)
	}
	return body, nil
}

// cacheWrite persists the raw sections so a later offline start can still
// build a catalog.
func cacheWrite(path string, raw *rawCatalog) {
	if path == "" {
		return
	}
	b, err := json.Marshal(raw)
	if err != nil {
		slog.Debug("failed to marshal catalog cache", "error", err)
		return
	}
	if err := atomicfile.Write(path, b, 0o644); err != nil {
		slog.Debug("failed to write catalog cache", "error", err)
	}
}

// cacheRead loads previously cached raw sections.
func cacheRead(path string) (*rawCatalog, error) {
	if path == "" {
		return nil, fmt.Errorf("no catalog cache path configured")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog cache %s: %w", path, err)
	}
	var raw rawCatalog
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parsing catalog cache: %w", err)
	}
	return &raw, nil
}
