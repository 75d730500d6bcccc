package relay

import (
	"encoding/json"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

type innerMessage struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

func TestWrapUnwrapIdempotence(t *testing.T) {
	clientSK := nostr.GeneratePrivateKey()
	clientPK, err := nostr.GetPublicKey(clientSK)
	if err != nil {
		t.Fatalf("GetPublicKey() error: %v", err)
	}
	serviceSK := nostr.GeneratePrivateKey()
	servicePK, err := nostr.GetPublicKey(serviceSK)
	if err != nil {
		t.Fatalf("GetPublicKey() error: %v", err)
	}

	msg := innerMessage{Kind: "status", Value: "pod-123"}

	wrapped, err := GiftWrap(clientSK, servicePK, msg)
	if err != nil {
		t.Fatalf("GiftWrap() error: %v", err)
	}

	senderPubkey, raw, err := Unwrap(wrapped, serviceSK)
	if err != nil {
		t.Fatalf("Unwrap() error: %v", err)
	}
	if senderPubkey != clientPK {
		t.Errorf("senderPubkey = %q, want %q", senderPubkey, clientPK)
	}

	var got innerMessage
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal inner payload: %v", err)
	}
	if got != msg {
		t.Errorf("inner payload = %+v, want %+v", got, msg)
	}
}

func TestUnwrapRejectsWrongRecipient(t *testing.T) {
	clientSK := nostr.GeneratePrivateKey()
	servicePK, err := publicKeyFor(nostr.GeneratePrivateKey())
	if err != nil {
		t.Fatalf("derive service pubkey: %v", err)
	}
	bystanderSK := nostr.GeneratePrivateKey()

	wrapped, err := GiftWrap(clientSK, servicePK, innerMessage{Kind: "status"})
	if err != nil {
		t.Fatalf("GiftWrap() error: %v", err)
	}

	if _, _, err := Unwrap(wrapped, bystanderSK); err == nil {
		t.Error("expected Unwrap() with the wrong key to fail")
	}
}

func publicKeyFor(sk string) (string, error) {
	return nostr.GetPublicKey(sk)
}
