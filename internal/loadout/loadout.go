// Package loadout resolves each player's equipped skin for a chosen weapon
// from a match's raw inventory payload.
//
// An inventory is a map of weapon ids to items; each item carries a set of
// sockets whose ids are fixed, well-known uuids identifying the equipped
// skin, chroma, and upgrade level. Resolution is pure and total: missing
// catalogs, inventories, or weapon matches leave that player's skin fields
// empty rather than failing the batch.
package loadout

import (
	"regexp"
	"strings"

	"tools.zach/dev/matchscope/internal/catalog"
)

// ///////////////////////////////////////////////
// Socket Constants
// ///////////////////////////////////////////////

// Fixed socket ids on a weapon inventory item. These are stable across
// client versions.
const (
	// SocketSkin holds the equipped skin id.
	SocketSkin = "bcef87d6-209b-46c6-8b19-fbe40bd95abc"
	// SocketLevel holds the equipped skin level id.
	SocketLevel = "e7c63390-eda7-46e0-bb7a-a6abdacd2433"
	// SocketChroma holds the equipped chroma id.
	SocketChroma = "3ad1b2b2-acdb-4524-852f-954a76ddae0a"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Item is one weapon entry inside an inventory.
type Item struct {
	// ID is the weapon id the item equips onto.
	ID string
	// Sockets maps lower-cased socket ids to the equipped item id.
	Sockets map[string]string
}

// Inventory is one player slot's full weapon inventory.
type Inventory struct {
	// Items maps lower-cased weapon ids to the equipped item.
	Items map[string]Item
}

// PlayerSlot identifies one roster entry for slot resolution.
type PlayerSlot struct {
	// Subject is the player id.
	Subject string
	// TeamID is the player's team (e.g. "Blue", "Red").
	TeamID string
}

// Input carries everything one resolution pass needs.
type Input struct {
	// MatchID identifies the match the loadouts belong to.
	MatchID string
	// Weapon is the target weapon display name, matched case-insensitively.
	Weapon string
	// Players is the roster in payload order.
	Players []PlayerSlot
	// Loadouts is the inventory list in payload order. May be shorter than
	// the roster when the endpoint only serves one team.
	Loadouts []Inventory
	// Catalog supplies weapon and skin reference data. A nil or empty
	// catalog resolves every player to empty skin fields.
	Catalog *catalog.Catalog
}

// Resolved is one player's skin resolution result. Zero-valued fields mean
// "nothing equipped or nothing resolvable" and are not errors.
type Resolved struct {
	// SkinID is the equipped base skin id.
	SkinID string
	// SkinName is the final display name, with the variant composed onto the
	// weapon name.
	SkinName string
	// Variant is the raw variant name derived from the chroma; empty when no
	// chroma variant resolved.
	Variant string
	// LevelName is the equipped skin level's display name.
	LevelName string
	// ImageURL is the preferred render for the equipped skin.
	ImageURL string
}

// ///////////////////////////////////////////////
// Resolution
// ///////////////////////////////////////////////

// Resolve maps every roster subject to their resolved skin for the target
// weapon. The result always contains one entry per player; players whose
// slot, inventory, or weapon cannot be located get a zero Resolved.
func Resolve(in Input) map[string]Resolved {
	out := make(map[string]Resolved, len(in.Players))

	var weapon catalog.Weapon
	var haveWeapon bool
	if in.Catalog != nil {
		weapon, haveWeapon = in.Catalog.WeaponByName(in.Weapon)
	}

	firstTeam := ""
	if len(in.Players) > 0 {
		firstTeam = in.Players[0].TeamID
	}

	for i, p := range in.Players {
		out[p.Subject] = Resolved{}
		if !haveWeapon {
			continue
		}

		slot := slotIndex(i, len(in.Players), len(in.Loadouts), p.TeamID != firstTeam)
		if slot < 0 || slot >= len(in.Loadouts) {
			continue
		}

		item, ok := in.Loadouts[slot].Items[strings.ToLower(weapon.UUID)]
		if !ok {
			continue
		}
		out[p.Subject] = resolveItem(item, weapon, in.Catalog)
	}
	return out
}

// slotIndex maps a roster index onto a loadout slot. The second team's slots
// are reindexed by the roster/loadout size delta, mirroring the client's
// observed inventory ordering; when the sizes match this is the identity for
// both teams. Out-of-range results resolve to no skin upstream.
func slotIndex(rosterIndex, rosterSize, loadoutCount int, secondTeam bool) int {
	if !secondTeam {
		return rosterIndex
	}
	return rosterIndex + rosterSize - loadoutCount
}

// resolveItem resolves one located inventory item against the catalog.
func resolveItem(item Item, weapon catalog.Weapon, cat *catalog.Catalog) Resolved {
	skinID := item.Sockets[SocketSkin]
	if skinID == "" {
		return Resolved{}
	}
	skin, ok := cat.SkinByID(skinID)
	if !ok {
		// No base skin in the catalog means nothing is equipped.
		return Resolved{}
	}

	r := Resolved{SkinID: skinID}

	chroma, haveChroma := findChroma(skin, item.Sockets[SocketChroma])
	if haveChroma {
		r.Variant = variantName(chroma.DisplayName, skin.DisplayName)
	}
	r.SkinName = finalName(r.Variant, weapon.DisplayName)
	r.LevelName = levelName(skin, item.Sockets[SocketLevel])
	r.ImageURL = imageURL(skin, chroma, r.Variant != "")
	return r
}

// findChroma locates the equipped chroma on a skin by id, case-insensitively.
func findChroma(skin catalog.Skin, chromaID string) (catalog.Chroma, bool) {
	if chromaID == "" {
		return catalog.Chroma{}, false
	}
	for _, ch := range skin.Chromas {
		if strings.EqualFold(ch.UUID, chromaID) {
			return ch, true
		}
	}
	return catalog.Chroma{}, false
}

// levelName returns the display name of the equipped skin level, or "".
func levelName(skin catalog.Skin, levelID string) string {
	if levelID == "" {
		return ""
	}
	for _, lv := range skin.Levels {
		if strings.EqualFold(lv.UUID, levelID) {
			return lv.DisplayName
		}
	}
	return ""
}

// imageURL picks the preferred render: the chroma's full render, then the
// chroma's icon, then the base skin's icon. The chroma branch is only
// consulted when a variant actually resolved.
func imageURL(skin catalog.Skin, chroma catalog.Chroma, haveVariant bool) string {
	if haveVariant {
		if chroma.FullRender != "" {
			return chroma.FullRender
		}
		if chroma.DisplayIcon != "" {
			return chroma.DisplayIcon
		}
	}
	return skin.DisplayIcon
}

// ///////////////////////////////////////////////
// Variant Naming
// ///////////////////////////////////////////////

// variantRe matches "(Variant N <text>)" chroma name suffixes.
var variantRe = regexp.MustCompile(`\(Variant \d+ (.+)\)`)

// variantName derives a variant name from a chroma display name. Heuristics
// are tried in order until one matches:
//
//  1. a "(Variant N <text>)" pattern — take <text>;
//  2. a " - " separator — take the text after the last occurrence;
//  3. a "-" separator — take the text after the last occurrence;
//  4. the chroma name contains the base skin name — take the last
//     whitespace-delimited token;
//  5. otherwise the full chroma name.
func variantName(chromaName, skinName string) string {
	if m := variantRe.FindStringSubmatch(chromaName); len(m) == 2 {
		return m[1]
	}
	if i := strings.LastIndex(chromaName, " - "); i >= 0 {
		return chromaName[i+3:]
	}
	if i := strings.LastIndex(chromaName, "-"); i >= 0 {
		return chromaName[i+1:]
	}
	if skinName != "" && strings.Contains(chromaName, skinName) {
		fields := strings.Fields(chromaName)
		if len(fields) > 0 {
			return fields[len(fields)-1]
		}
	}
	return chromaName
}

// finalName composes the displayed skin name. With no variant the weapon's
// own display name is used; a variant that already names the weapon is used
// as-is; otherwise the variant is prefixed onto the weapon name.
func finalName(variant, weapon string) string {
	if variant == "" {
		return weapon
	}
	if strings.Contains(strings.ToLower(variant), strings.ToLower(weapon)) {
		return variant
	}
	return variant + " " + weapon
}
