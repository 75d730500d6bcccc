// Package token decodes Cashu ecash bearer tokens and enforces the mint
// whitelist. Decoding is purely functional: no network calls, no mint
// dialogue. Whether the proofs are actually spendable is the Redemption
// Ledger's concern (pkg/ledger), not the verifier's — the mint is an
// external, potentially-flaky collaborator that already signed the proofs,
// and round-tripping to it on every admission would trade availability for
// a guarantee the ledger already gives at no network cost.
package token

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// ErrMalformed means the token string is not valid Cashu wire format.
var ErrMalformed = fmt.Errorf("malformed token")

// ErrUnknownMint means the token decoded cleanly but its mint is not on
// the configured whitelist.
var ErrUnknownMint = fmt.Errorf("unknown mint")

// Decoded is the result of successfully verifying a bearer token.
type Decoded struct {
	MintURL      string
	FaceValueMsat uint64
	ProofIDs     []string
}

// proof mirrors the NUT-00 proof shape within a Cashu v3 token. Amount is
// denominated in the mint's base unit; Paygress treats that unit as msats
// throughout, per the data model in spec §3.
type proof struct {
	ID     string `json:"id"`
	Amount uint64 `json:"amount"`
	Secret string `json:"secret"`
	C      string `json:"C"`
}

// tokenEntry is one {mint, proofs} group inside a v3 token. A single Cashu
// token can in principle bundle proofs from more than one mint; Paygress
// rejects that case as malformed since face value and mint whitelisting
// both assume a single mint per request.
type tokenEntry struct {
	Mint   string  `json:"mint"`
	Proofs []proof `json:"proofs"`
}

// tokenV3 is the JSON payload embedded in a "cashuA" token string.
type tokenV3 struct {
	Token []tokenEntry `json:"token"`
	Unit  string       `json:"unit"`
	Memo  string       `json:"memo,omitempty"`
}

// Verify decodes tokenStr and checks its mint against whitelist. whitelist
// entries are matched by exact string equality against the decoded mint
// URL; an empty whitelist rejects every token (fail closed).
func Verify(tokenStr string, whitelist []string) (*Decoded, error) {
	entry, err := decode(tokenStr)
	if err != nil {
		return nil, err
	}

	if !mintAllowed(entry.Mint, whitelist) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMint, entry.Mint)
	}

	var total uint64
	ids := make([]string, 0, len(entry.Proofs))
	for _, p := range entry.Proofs {
		if p.Amount == 0 || p.Secret == "" || p.C == "" {
			return nil, fmt.Errorf("%w: incomplete proof", ErrMalformed)
		}
		total += p.Amount
		ids = append(ids, proofID(p))
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: token carries no proofs", ErrMalformed)
	}

	return &Decoded{
		MintURL:       entry.Mint,
		FaceValueMsat: total,
		ProofIDs:      ids,
	}, nil
}

// decode parses the "cashuA<base64url(json)>" wire format and returns the
// single mint entry it carries.
func decode(tokenStr string) (*tokenEntry, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	const prefix = "cashuA"
	if !strings.HasPrefix(tokenStr, prefix) {
		return nil, fmt.Errorf("%w: unrecognized token prefix", ErrMalformed)
	}

	raw, err := decodeBase64(tokenStr[len(prefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var t tokenV3
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if len(t.Token) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one mint entry, got %d", ErrMalformed, len(t.Token))
	}
	if t.Token[0].Mint == "" {
		return nil, fmt.Errorf("%w: missing mint URL", ErrMalformed)
	}

	return &t.Token[0], nil
}

// decodeBase64 accepts both standard and URL-safe base64, with or without
// padding, since wallets in the wild emit either.
func decodeBase64(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.URLEncoding, base64.RawURLEncoding,
		base64.StdEncoding, base64.RawStdEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("not valid base64")
}

// proofID derives a stable identifier for a proof from its keyset id and
// secret. Two proofs with the same id and secret are the same spend (the
// mint never reissues a secret); two different secrets under the same
// keyset id are different spends. Truncated to 32 hex chars — collision
// probability is irrelevant at this scale and a shorter key keeps the
// ledger compact.
func proofID(p proof) string {
	h := sha256.Sum256([]byte(p.ID + ":" + p.Secret))
	return hex.EncodeToString(h[:])[:32]
}

func mintAllowed(mint string, whitelist []string) bool {
	for _, w := range whitelist {
		if w == mint {
			return true
		}
	}
	return false
}
