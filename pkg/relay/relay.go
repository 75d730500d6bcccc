// Package relay carries end-to-end encrypted admission requests over a
// relay-based pub/sub bus: it publishes the offer document on an interval,
// subscribes to the service's inbox, deduplicates, decrypts, dispatches to
// the Admission Pipeline, and gift-wraps replies back to the sender.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/nbd-wtf/go-nostr"

	"github.com/DhananjayPurohit/paygress/pkg/admission"
	"github.com/DhananjayPurohit/paygress/pkg/catalog"
	"github.com/DhananjayPurohit/paygress/internal/telemetry"
	"github.com/DhananjayPurohit/paygress/pkg/identity"
)

const (
	kindOffer            = 30078
	offerDTag            = "paygress-offer"
	offerInterval        = 60 * time.Second
	seenEventCacheSize   = 4096
)

// inner payload kinds exchanged over the request/response wrap, per the
// relay encrypted-RPC surface.
const (
	opSpawn  = "spawn"
	opTopup  = "topup"
	opStatus = "status"
)

type spawnParams struct {
	Kind                  string `json:"kind"`
	CashuToken            string `json:"cashu_token"`
	PodSpecID             string `json:"pod_spec_id,omitempty"`
	PodImage              string `json:"pod_image"`
	SSHUsername           string `json:"ssh_username"`
	SSHPassword           string `json:"ssh_password"`
	DurationSecs          int64  `json:"duration_secs,omitempty"`
}

type topupParams struct {
	Kind        string `json:"kind"`
	PodIdentity string `json:"pod_identity"`
	CashuToken  string `json:"cashu_token"`
}

type statusParams struct {
	Kind        string `json:"kind"`
	PodIdentity string `json:"pod_identity"`
}

type errorResponse struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
}

// Transport is the relay-based front-end.
type Transport struct {
	relayURLs []string
	pipeline  *admission.Pipeline
	catalog   *catalog.Catalog
	identity  *identity.Store
	whitelist []string
	minDur    int64
	logger    *slog.Logger

	seen  *lru.Cache
	conns []*nostr.Relay
}

// New constructs a relay transport. relayURLs must be non-empty.
func New(relayURLs []string, pipeline *admission.Pipeline, cat *catalog.Catalog, ids *identity.Store, whitelistedMints []string, minDurationSecs int64, logger *slog.Logger) (*Transport, error) {
	if len(relayURLs) == 0 {
		return nil, fmt.Errorf("relay transport requires at least one relay URL")
	}
	cache, err := lru.New(seenEventCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create event dedup cache: %w", err)
	}
	return &Transport{
		relayURLs: relayURLs,
		pipeline:  pipeline,
		catalog:   cat,
		identity:  ids,
		whitelist: whitelistedMints,
		minDur:    minDurationSecs,
		logger:    logger,
		seen:      cache,
	}, nil
}

// Run connects to every configured relay and runs the offer-broadcast
// loop and the inbox-listen loop until ctx is cancelled.
func (t *Transport) Run(ctx context.Context) error {
	conns := make([]*nostr.Relay, 0, len(t.relayURLs))
	for _, url := range t.relayURLs {
		conn, err := nostr.RelayConnect(ctx, url)
		if err != nil {
			t.logger.Warn("relay connect failed", "url", url, "error", err)
			continue
		}
		conns = append(conns, conn)
	}
	if len(conns) == 0 {
		return fmt.Errorf("could not connect to any configured relay")
	}
	t.conns = conns
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	errCh := make(chan error, 2)
	go func() { errCh <- t.runOfferLoop(ctx, conns) }()
	go func() { errCh <- t.runInboxLoop(ctx, conns) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// runOfferLoop publishes the offer document on startup and every
// offerInterval thereafter, modeled on the teacher's ticker-plus-select
// scheduled-task shape.
func (t *Transport) runOfferLoop(ctx context.Context, conns []*nostr.Relay) error {
	ticker := time.NewTicker(offerInterval)
	defer ticker.Stop()

	t.publishOffer(ctx, conns)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.publishOffer(ctx, conns)
		}
	}
}

func (t *Transport) publishOffer(ctx context.Context, conns []*nostr.Relay) {
	service := t.identity.ServiceIdentity()
	doc := t.catalog.AsOfferDocument(service.PublicKey, t.whitelist, t.minDur)

	content, err := json.Marshal(doc)
	if err != nil {
		t.logger.Error("marshal offer document", "error", err)
		return
	}

	event := nostr.Event{
		Kind:      kindOffer,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Content:   string(content),
		Tags: nostr.Tags{
			{"d", offerDTag},
			{"t", "paygress"},
			{"t", "offer"},
		},
	}
	if err := event.Sign(service.PrivateKey); err != nil {
		t.logger.Error("sign offer event", "error", err)
		return
	}

	for _, conn := range conns {
		if err := conn.Publish(ctx, event); err != nil {
			t.logger.Warn("publish offer failed", "relay", conn.URL, "error", err)
			continue
		}
		telemetry.RelayEventsTotal.WithLabelValues("out", "offer").Inc()
	}
}

// runInboxLoop subscribes to events addressed to the service pubkey on
// every connected relay and dispatches each one.
func (t *Transport) runInboxLoop(ctx context.Context, conns []*nostr.Relay) error {
	service := t.identity.ServiceIdentity()
	filters := []nostr.Filter{{
		Kinds: []int{kindWrap},
		Tags:  nostr.TagMap{"p": []string{service.PublicKey}},
		Since: timestampPtr(time.Now()),
	}}

	for _, conn := range conns {
		sub, err := conn.Subscribe(ctx, filters)
		if err != nil {
			t.logger.Warn("subscribe failed", "relay", conn.URL, "error", err)
			continue
		}
		go t.consume(ctx, conn, sub)
	}

	<-ctx.Done()
	return nil
}

func (t *Transport) consume(ctx context.Context, conn *nostr.Relay, sub *nostr.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			t.handleEvent(ctx, event)
		}
	}
}

// handleEvent deduplicates, decrypts, dispatches, and replies. A
// malformed or undecryptable event is logged and dropped, never retried.
func (t *Transport) handleEvent(ctx context.Context, event *nostr.Event) {
	if _, seen := t.seen.Get(event.ID); seen {
		return
	}
	t.seen.Add(event.ID, struct{}{})
	telemetry.RelayEventsTotal.WithLabelValues("in", "wrap").Inc()

	service := t.identity.ServiceIdentity()
	senderPubkey, raw, err := Unwrap(event, service.PrivateKey)
	if err != nil {
		t.logger.Warn("drop undecryptable relay event", "event_id", event.ID, "error", err)
		return
	}

	var kindProbe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &kindProbe); err != nil {
		t.logger.Warn("drop malformed relay payload", "event_id", event.ID, "error", err)
		return
	}

	switch kindProbe.Kind {
	case opSpawn:
		t.dispatchSpawn(ctx, senderPubkey, raw)
	case opTopup:
		t.dispatchTopup(ctx, senderPubkey, raw)
	case opStatus:
		t.dispatchStatus(ctx, senderPubkey, raw)
	default:
		t.logger.Warn("drop relay payload with unknown kind", "event_id", event.ID, "kind", kindProbe.Kind)
	}
}

func (t *Transport) dispatchSpawn(ctx context.Context, senderPubkey string, raw []byte) {
	var params spawnParams
	if err := json.Unmarshal(raw, &params); err != nil {
		t.logger.Warn("malformed spawn payload", "error", err)
		return
	}

	details, err := t.pipeline.Spawn(ctx, admission.SpawnRequest{
		TokenStr:              params.CashuToken,
		TierID:                params.PodSpecID,
		Image:                 params.PodImage,
		SSHUser:               params.SSHUsername,
		SSHPassword:           params.SSHPassword,
		RequestedDurationSecs: params.DurationSecs,
	})
	if err != nil {
		// Spawn replies that fail have no freshly minted pod identity to
		// reply from; fall back to the service identity for the error.
		t.replyError(ctx, senderPubkey, t.identity.ServiceIdentity().PrivateKey, err)
		return
	}

	// Per the sender-identity rule, a successful spawn reply is sent from
	// the pod's own freshly minted identity, not the service's: the
	// reply doubles as the announcement of a new endpoint for that pod.
	podPrivkey, err := t.pipeline.PodPrivateKey(details.PodIdentity)
	if err != nil {
		t.logger.Error("spawned pod missing from registry", "pod_identity", details.PodIdentity, "error", err)
		return
	}
	t.reply(ctx, senderPubkey, podPrivkey, details)
}

func (t *Transport) dispatchTopup(ctx context.Context, senderPubkey string, raw []byte) {
	var params topupParams
	if err := json.Unmarshal(raw, &params); err != nil {
		t.logger.Warn("malformed topup payload", "error", err)
		return
	}

	result, err := t.pipeline.TopUp(ctx, admission.TopUpRequest{
		PodIdentity: params.PodIdentity,
		TokenStr:    params.CashuToken,
	})
	service := t.identity.ServiceIdentity()
	if err != nil {
		t.replyError(ctx, senderPubkey, service.PrivateKey, err)
		return
	}
	t.reply(ctx, senderPubkey, service.PrivateKey, result)
}

func (t *Transport) dispatchStatus(ctx context.Context, senderPubkey string, raw []byte) {
	var params statusParams
	if err := json.Unmarshal(raw, &params); err != nil {
		t.logger.Warn("malformed status payload", "error", err)
		return
	}

	status, err := t.pipeline.Status(params.PodIdentity)
	service := t.identity.ServiceIdentity()
	if err != nil {
		t.replyError(ctx, senderPubkey, service.PrivateKey, err)
		return
	}
	t.reply(ctx, senderPubkey, service.PrivateKey, status)
}

// reply gift-wraps payload from fromPrivkey to recipientPubkey and
// publishes it to every connected relay, best-effort.
func (t *Transport) reply(ctx context.Context, recipientPubkey, fromPrivkey string, payload any) {
	wrapped, err := GiftWrap(fromPrivkey, recipientPubkey, payload)
	if err != nil {
		t.logger.Error("gift-wrap reply failed", "error", err)
		return
	}
	for _, conn := range t.conns {
		if err := conn.Publish(ctx, *wrapped); err != nil {
			t.logger.Warn("publish reply failed", "relay", conn.URL, "error", err)
			continue
		}
		telemetry.RelayEventsTotal.WithLabelValues("out", "wrap").Inc()
	}
}

func (t *Transport) replyError(ctx context.Context, recipientPubkey, fromPrivkey string, err error) {
	var admErr *admission.Error
	resp := errorResponse{ErrorType: string(admission.KindInternal), Message: err.Error()}
	if asAdmissionError(err, &admErr) {
		resp = errorResponse{ErrorType: string(admErr.Kind), Message: admErr.Message, Details: admErr.Details}
	}
	t.reply(ctx, recipientPubkey, fromPrivkey, resp)
}

func asAdmissionError(err error, target **admission.Error) bool {
	if e, ok := err.(*admission.Error); ok {
		*target = e
		return true
	}
	return false
}

func timestampPtr(t time.Time) *nostr.Timestamp {
	ts := nostr.Timestamp(t.Unix())
	return &ts
}
