package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
)

func buildToken(t *testing.T, mint string, proofs []proof) string {
	t.Helper()
	raw, err := json.Marshal(tokenV3{
		Token: []tokenEntry{{Mint: mint, Proofs: proofs}},
		Unit:  "msat",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return "cashuA" + base64.URLEncoding.EncodeToString(raw)
}

func TestVerifyHappyPath(t *testing.T) {
	tok := buildToken(t, "https://mint.example", []proof{
		{ID: "00ad268c4d1f5826", Amount: 1000, Secret: "s1", C: "c1"},
		{ID: "00ad268c4d1f5826", Amount: 2000, Secret: "s2", C: "c2"},
	})

	d, err := Verify(tok, []string{"https://mint.example"})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if d.MintURL != "https://mint.example" {
		t.Errorf("MintURL = %q", d.MintURL)
	}
	if d.FaceValueMsat != 3000 {
		t.Errorf("FaceValueMsat = %d, want 3000", d.FaceValueMsat)
	}
	if len(d.ProofIDs) != 2 || d.ProofIDs[0] == d.ProofIDs[1] {
		t.Errorf("expected two distinct proof IDs, got %v", d.ProofIDs)
	}
}

func TestVerifyUnknownMint(t *testing.T) {
	tok := buildToken(t, "https://evil.example", []proof{
		{ID: "id", Amount: 1, Secret: "s", C: "c"},
	})

	_, err := Verify(tok, []string{"https://mint.example"})
	if !errors.Is(err, ErrUnknownMint) {
		t.Fatalf("err = %v, want ErrUnknownMint", err)
	}
}

func TestVerifyEmptyWhitelistFailsClosed(t *testing.T) {
	tok := buildToken(t, "https://mint.example", []proof{
		{ID: "id", Amount: 1, Secret: "s", C: "c"},
	})

	_, err := Verify(tok, nil)
	if !errors.Is(err, ErrUnknownMint) {
		t.Fatalf("err = %v, want ErrUnknownMint", err)
	}
}

func TestVerifyRejectsBadPrefix(t *testing.T) {
	_, err := Verify("notacashutoken", []string{"https://mint.example"})
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestVerifyRejectsGarbageBase64(t *testing.T) {
	_, err := Verify("cashuA!!!not-base64!!!", []string{"https://mint.example"})
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestVerifyRejectsMultiMintToken(t *testing.T) {
	raw, _ := json.Marshal(tokenV3{
		Token: []tokenEntry{
			{Mint: "https://a.example", Proofs: []proof{{ID: "i", Amount: 1, Secret: "s", C: "c"}}},
			{Mint: "https://b.example", Proofs: []proof{{ID: "i", Amount: 1, Secret: "s", C: "c"}}},
		},
	})
	tok := "cashuA" + base64.URLEncoding.EncodeToString(raw)

	_, err := Verify(tok, []string{"https://a.example", "https://b.example"})
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestVerifyRejectsEmptyProofs(t *testing.T) {
	tok := buildToken(t, "https://mint.example", nil)

	_, err := Verify(tok, []string{"https://mint.example"})
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestVerifyRejectsIncompleteProof(t *testing.T) {
	tok := buildToken(t, "https://mint.example", []proof{
		{ID: "id", Amount: 0, Secret: "s", C: "c"},
	})

	_, err := Verify(tok, []string{"https://mint.example"})
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestProofIDStableAndDistinct(t *testing.T) {
	a := proofID(proof{ID: "k1", Secret: "s1"})
	b := proofID(proof{ID: "k1", Secret: "s1"})
	c := proofID(proof{ID: "k1", Secret: "s2"})

	if a != b {
		t.Errorf("proofID not stable: %q != %q", a, b)
	}
	if a == c {
		t.Errorf("proofID collided across distinct secrets")
	}
	if len(a) != 32 {
		t.Errorf("proofID length = %d, want 32", len(a))
	}
}
