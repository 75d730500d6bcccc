package catalog

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeSpecsFile(t *testing.T, tiers []Tier) string {
	t.Helper()
	raw, err := json.Marshal(tiers)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "pod_specs.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write specs file: %v", err)
	}
	return path
}

func basicTiers() []Tier {
	return []Tier{
		{ID: "basic", DisplayName: "Basic", CPUMillicores: 500, MemoryMB: 512, RateMsatsPerSec: 100},
		{ID: "pro", DisplayName: "Pro", CPUMillicores: 2000, MemoryMB: 4096, RateMsatsPerSec: 400},
	}
}

func TestLoadAndLookup(t *testing.T) {
	path := writeSpecsFile(t, basicTiers())

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if got := c.DefaultTier().ID; got != "basic" {
		t.Errorf("DefaultTier().ID = %q, want %q", got, "basic")
	}

	tier, err := c.Tier("pro")
	if err != nil {
		t.Fatalf("Tier() error: %v", err)
	}
	if tier.RateMsatsPerSec != 400 {
		t.Errorf("RateMsatsPerSec = %d, want 400", tier.RateMsatsPerSec)
	}

	if _, err := c.Tier("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	if len(c.Tiers()) != 2 {
		t.Errorf("Tiers() len = %d, want 2", len(c.Tiers()))
	}
}

func TestLoadRejectsDuplicateID(t *testing.T) {
	path := writeSpecsFile(t, []Tier{
		{ID: "basic", RateMsatsPerSec: 1},
		{ID: "basic", RateMsatsPerSec: 2},
	})
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate tier id")
	}
}

func TestLoadRejectsZeroRate(t *testing.T) {
	path := writeSpecsFile(t, []Tier{{ID: "basic", RateMsatsPerSec: 0}})
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for zero rate")
	}
}

func TestLoadRejectsEmptyCatalog(t *testing.T) {
	path := writeSpecsFile(t, nil)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for empty catalog")
	}
}

func TestRequiredMsatsExact(t *testing.T) {
	tier := Tier{RateMsatsPerSec: 100}
	if got := RequiredMsats(tier, 600); got != 60000 {
		t.Errorf("RequiredMsats() = %d, want 60000", got)
	}
}

func TestMaxDurationFloorsAndClips(t *testing.T) {
	tier := Tier{RateMsatsPerSec: 100}

	if got := MaxDuration(tier, 650, 86400); got != 6 {
		t.Errorf("MaxDuration() = %d, want 6 (floored)", got)
	}

	if got := MaxDuration(tier, 1_000_000, 100); got != 100 {
		t.Errorf("MaxDuration() = %d, want 100 (clipped)", got)
	}
}

func TestPricingRoundTripLaw(t *testing.T) {
	tier := Tier{RateMsatsPerSec: 7}
	amounts := []uint64{0, 1, 6, 7, 49, 1000, 123456}

	for _, amount := range amounts {
		d := MaxDuration(tier, amount, 1_000_000)
		cost := RequiredMsats(tier, d)
		if cost > amount {
			t.Errorf("amount=%d: required_msats(max_duration)=%d exceeds amount", amount, cost)
		}
	}
}

func TestExactMinimumAdmission(t *testing.T) {
	tier := Tier{RateMsatsPerSec: 100}
	const configuredMin int64 = 60

	amount := uint64(configuredMin) * tier.RateMsatsPerSec
	d := MaxDuration(tier, amount, 86400)
	if d != configuredMin {
		t.Errorf("MaxDuration() = %d, want exactly configuredMin %d", d, configuredMin)
	}
}

func TestAsOfferDocument(t *testing.T) {
	path := writeSpecsFile(t, basicTiers())
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	doc := c.AsOfferDocument("pubkey123", []string{"https://mint.example"}, 60)
	if doc.ServicePubkey != "pubkey123" || doc.MinDurationSecs != 60 || len(doc.Tiers) != 2 {
		t.Errorf("unexpected offer document: %+v", doc)
	}
}
