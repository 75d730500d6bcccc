// Package identity manages the service's long-lived keypair and the
// fresh, ephemeral keypair minted for every provisioned pod. Keys are
// Nostr-style secp256k1 keypairs, generated and parsed with
// github.com/nbd-wtf/go-nostr — the same library the relay transport uses
// to sign and encrypt events, so a keypair minted here needs no
// conversion before it can act as an event signer.
package identity

import (
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// Keypair is a secp256k1 private/public key pair, both hex-encoded.
type Keypair struct {
	PrivateKey string
	PublicKey  string
}

// New generates a fresh keypair.
func New() (Keypair, error) {
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return Keypair{}, fmt.Errorf("derive public key: %w", err)
	}
	return Keypair{PrivateKey: sk, PublicKey: pk}, nil
}

// Parse decodes a private key given either as raw hex or as an nsec1...
// bech32 string, per the SERVICE_PRIVATE_KEY configuration contract.
func Parse(raw string) (Keypair, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Keypair{}, fmt.Errorf("empty private key")
	}

	sk := raw
	if strings.HasPrefix(raw, "nsec1") {
		prefix, value, err := nip19.Decode(raw)
		if err != nil {
			return Keypair{}, fmt.Errorf("decode nsec: %w", err)
		}
		if prefix != "nsec" {
			return Keypair{}, fmt.Errorf("expected nsec prefix, got %q", prefix)
		}
		decoded, ok := value.(string)
		if !ok {
			return Keypair{}, fmt.Errorf("unexpected nsec payload type")
		}
		sk = decoded
	}

	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return Keypair{}, fmt.Errorf("derive public key: %w", err)
	}
	return Keypair{PrivateKey: sk, PublicKey: pk}, nil
}

// Store holds the service's own identity and mints fresh pod identities
// on demand.
type Store struct {
	service Keypair
}

// NewStore parses servicePrivateKey once at startup.
func NewStore(servicePrivateKey string) (*Store, error) {
	kp, err := Parse(servicePrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parse service private key: %w", err)
	}
	return &Store{service: kp}, nil
}

// ServiceIdentity returns the long-lived keypair this process signs
// top-up and status replies with.
func (s *Store) ServiceIdentity() Keypair {
	return s.service
}

// FreshPodIdentity mints a new keypair for a pod just admitted. It
// becomes the address clients use to reach this pod, and the identity
// its spawn reply is signed from.
func (s *Store) FreshPodIdentity() (Keypair, error) {
	return New()
}
