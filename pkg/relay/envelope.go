// Envelope implements the double-wrap (seal + wrap) construction that
// carries encrypted requests and replies over the relay bus. A single
// NIP-44 encryption layer would still let every relay that sees the event
// learn the sender's public key; the second, outer layer re-encrypts from
// a throwaway ephemeral identity so only the addressed service, after
// decrypting that outer layer, ever learns who actually sent the message.
package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip44"
)

const (
	kindSeal = 13
	kindWrap = 1059
)

// Seal encrypts payload under a key shared between senderPrivkey and
// recipientPubkey, and signs the result as an unpublished kind-13 event
// from the sender. The seal event is never published on its own; it only
// ever exists as the plaintext of a wrap.
func Seal(senderPrivkey, recipientPubkey string, payload any) (*nostr.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal inner payload: %w", err)
	}

	conversationKey, err := nip44.GenerateConversationKey(recipientPubkey, senderPrivkey)
	if err != nil {
		return nil, fmt.Errorf("derive seal conversation key: %w", err)
	}
	ciphertext, err := nip44.Encrypt(string(raw), conversationKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt seal: %w", err)
	}

	seal := &nostr.Event{
		Kind:      kindSeal,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Content:   ciphertext,
		Tags:      nostr.Tags{},
	}
	if err := seal.Sign(senderPrivkey); err != nil {
		return nil, fmt.Errorf("sign seal: %w", err)
	}
	return seal, nil
}

// Wrap encrypts a sealed event under a key shared between a fresh
// ephemeral identity and recipientPubkey, and signs the result as a
// kind-1059 event addressed to the recipient. The returned event is what
// actually gets published.
func Wrap(seal *nostr.Event, recipientPubkey string) (*nostr.Event, error) {
	raw, err := json.Marshal(seal)
	if err != nil {
		return nil, fmt.Errorf("marshal seal: %w", err)
	}

	ephemeralPrivkey := nostr.GeneratePrivateKey()
	conversationKey, err := nip44.GenerateConversationKey(recipientPubkey, ephemeralPrivkey)
	if err != nil {
		return nil, fmt.Errorf("derive wrap conversation key: %w", err)
	}
	ciphertext, err := nip44.Encrypt(string(raw), conversationKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt wrap: %w", err)
	}

	wrap := &nostr.Event{
		Kind:      kindWrap,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Content:   ciphertext,
		Tags:      nostr.Tags{{"p", recipientPubkey}},
	}
	if err := wrap.Sign(ephemeralPrivkey); err != nil {
		return nil, fmt.Errorf("sign wrap: %w", err)
	}
	return wrap, nil
}

// GiftWrap runs Seal then Wrap in one call — the common case for every
// outbound request or reply.
func GiftWrap(senderPrivkey, recipientPubkey string, payload any) (*nostr.Event, error) {
	seal, err := Seal(senderPrivkey, recipientPubkey, payload)
	if err != nil {
		return nil, err
	}
	return Wrap(seal, recipientPubkey)
}

// Unwrap reverses both layers of a gift-wrapped event using the
// recipient's private key, and returns the inner sender's pubkey
// alongside the raw decoded inner JSON payload. This is the wrap/unwrap
// idempotence law: unwrapping what was wrapped for you recovers exactly
// the original sender and message.
func Unwrap(wrap *nostr.Event, recipientPrivkey string) (senderPubkey string, innerPayload []byte, err error) {
	if wrap.Kind != kindWrap {
		return "", nil, fmt.Errorf("not a wrap event: kind %d", wrap.Kind)
	}

	outerKey, err := nip44.GenerateConversationKey(wrap.PubKey, recipientPrivkey)
	if err != nil {
		return "", nil, fmt.Errorf("derive wrap conversation key: %w", err)
	}
	sealJSON, err := nip44.Decrypt(wrap.Content, outerKey)
	if err != nil {
		return "", nil, fmt.Errorf("decrypt wrap: %w", err)
	}

	var seal nostr.Event
	if err := json.Unmarshal([]byte(sealJSON), &seal); err != nil {
		return "", nil, fmt.Errorf("unmarshal seal: %w", err)
	}
	if seal.Kind != kindSeal {
		return "", nil, fmt.Errorf("not a seal event: kind %d", seal.Kind)
	}
	if ok, err := seal.CheckSignature(); err != nil || !ok {
		return "", nil, fmt.Errorf("seal signature invalid")
	}

	innerKey, err := nip44.GenerateConversationKey(seal.PubKey, recipientPrivkey)
	if err != nil {
		return "", nil, fmt.Errorf("derive seal conversation key: %w", err)
	}
	plaintext, err := nip44.Decrypt(seal.Content, innerKey)
	if err != nil {
		return "", nil, fmt.Errorf("decrypt seal: %w", err)
	}

	return seal.PubKey, []byte(plaintext), nil
}
