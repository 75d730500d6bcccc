// Package catalog loads the immutable set of provisioning tiers and
// implements the pricing engine: tier+duration -> required payment, and
// tier+amount -> granted duration. The catalog is loaded once at startup
// from a JSON file and never mutated afterward; hot reload is out of scope.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
)

// Tier is a named resource bundle with a per-second rate, loaded verbatim
// from the pod specs file.
type Tier struct {
	ID               string `json:"id"`
	DisplayName      string `json:"display_name"`
	Description      string `json:"description"`
	CPUMillicores    int64  `json:"cpu_millicores"`
	MemoryMB         int64  `json:"memory_mb"`
	RateMsatsPerSec  uint64 `json:"rate_msats_per_sec"`
}

// ErrNotFound is returned by Tier when no tier matches the given id.
var ErrNotFound = fmt.Errorf("tier not found")

// Catalog is the immutable, loaded set of tiers, keyed by ID and preserving
// load order so "first catalog tier" (the default on spawn) is well
// defined.
type Catalog struct {
	order []string
	byID  map[string]Tier
}

// Load reads a JSON array of tier records from path and validates each
// entry: id must be unique and non-empty, rate_msats_per_sec must be > 0.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pod specs file: %w", err)
	}

	var tiers []Tier
	if err := json.Unmarshal(raw, &tiers); err != nil {
		return nil, fmt.Errorf("parse pod specs file: %w", err)
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("pod specs file %s declares no tiers", path)
	}

	c := &Catalog{byID: make(map[string]Tier, len(tiers))}
	for _, t := range tiers {
		if t.ID == "" {
			return nil, fmt.Errorf("tier with empty id")
		}
		if t.RateMsatsPerSec == 0 {
			return nil, fmt.Errorf("tier %q: rate_msats_per_sec must be > 0", t.ID)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate tier id %q", t.ID)
		}
		c.byID[t.ID] = t
		c.order = append(c.order, t.ID)
	}

	return c, nil
}

// Tiers returns every tier, in load order.
func (c *Catalog) Tiers() []Tier {
	out := make([]Tier, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Tier looks up a tier by id.
func (c *Catalog) Tier(id string) (Tier, error) {
	t, ok := c.byID[id]
	if !ok {
		return Tier{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, nil
}

// DefaultTier returns the first tier in load order, used when a spawn
// request omits tier_id.
func (c *Catalog) DefaultTier() Tier {
	return c.byID[c.order[0]]
}

// RequiredMsats is the exact cost of durationSecs on tier. All rates and
// durations are integers, so this is always exact — there is no rounding
// case to resolve.
func RequiredMsats(tier Tier, durationSecs int64) uint64 {
	if durationSecs <= 0 {
		return 0
	}
	return tier.RateMsatsPerSec * uint64(durationSecs)
}

// MaxDuration is the largest whole number of seconds amountMsats buys on
// tier, clipped to configuredMax. Flooring here is load-bearing: granting
// a fractional second's worth of extra time would let a client receive
// more compute than they paid for.
func MaxDuration(tier Tier, amountMsats uint64, configuredMax int64) int64 {
	secs := int64(amountMsats / tier.RateMsatsPerSec)
	if secs > configuredMax {
		return configuredMax
	}
	return secs
}

// OfferDocument is the published snapshot describing this service's
// catalog and payment terms.
type OfferDocument struct {
	ServicePubkey    string   `json:"service_pubkey"`
	MinDurationSecs  int64    `json:"min_duration_secs"`
	WhitelistedMints []string `json:"whitelisted_mints"`
	Tiers            []Tier   `json:"tiers"`
}

// AsOfferDocument builds the document this catalog publishes over the
// relay transport and serves from GET /offers.
func (c *Catalog) AsOfferDocument(servicePubkey string, whitelistedMints []string, minDurationSecs int64) OfferDocument {
	return OfferDocument{
		ServicePubkey:    servicePubkey,
		MinDurationSecs:  minDurationSecs,
		WhitelistedMints: whitelistedMints,
		Tiers:            c.Tiers(),
	}
}
