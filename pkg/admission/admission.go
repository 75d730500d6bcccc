// Package admission implements the core algorithm: a linear state machine
// that turns a bearer token plus a provisioning request into a running,
// SSH-reachable pod, or fails leaving the system unchanged. Every
// successful response is backed by exactly one redemption and at most one
// allocated pod; every failure before redemption leaves no trace at all.
package admission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DhananjayPurohit/paygress/pkg/catalog"
	"github.com/DhananjayPurohit/paygress/pkg/container"
	"github.com/DhananjayPurohit/paygress/pkg/identity"
	"github.com/DhananjayPurohit/paygress/pkg/ledger"
	"github.com/DhananjayPurohit/paygress/pkg/pod"
	"github.com/DhananjayPurohit/paygress/pkg/portpool"
	"github.com/DhananjayPurohit/paygress/pkg/token"
)

// Kind enumerates the failure taxonomy every transport maps to its own
// status/error representation.
type Kind string

const (
	KindInvalidSpec         Kind = "InvalidSpec"
	KindInvalidToken        Kind = "InvalidToken"
	KindInsufficientPayment Kind = "InsufficientPayment"
	KindResourceUnavailable Kind = "ResourceUnavailable"
	KindPodCreationFailed   Kind = "PodCreationFailed"
	KindPodNotFound         Kind = "PodNotFound"
	KindPaymentFailed       Kind = "PaymentFailed"
	KindInternal            Kind = "Internal"
)

// Error is the single representation all three transports translate from.
// No internal identifiers or stack frames are carried in Message.
type Error struct {
	Kind    Kind
	Message string
	Details any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Config bounds the pipeline's admission decisions; loaded once at
// startup from internal/config.Config.
type Config struct {
	WhitelistedMints       []string
	MinDurationSecs        int64
	MaxDurationSecs        int64
	DefaultContainerImage  string
	HostPublicAddress      string
}

// Pipeline wires every component the admission algorithm orchestrates. All
// fields are held by reference and shared across every transport and the
// reaper, per the concurrency model's "tasks sharing the pipeline instance"
// requirement.
type Pipeline struct {
	cfg      Config
	catalog  *catalog.Catalog
	ledger   *ledger.Ledger
	ports    *portpool.Allocator
	identity *identity.Store
	driver   container.Driver
	registry *pod.Registry
	logger   *slog.Logger
}

// New constructs a Pipeline from its dependencies.
func New(cfg Config, cat *catalog.Catalog, led *ledger.Ledger, ports *portpool.Allocator, ids *identity.Store, driver container.Driver, registry *pod.Registry, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		catalog:  cat,
		ledger:   led,
		ports:    ports,
		identity: ids,
		driver:   driver,
		registry: registry,
		logger:   logger,
	}
}

// SpawnRequest is the input to Spawn.
type SpawnRequest struct {
	TokenStr              string
	TierID                string
	Image                 string
	SSHUser               string
	SSHPassword           string
	RequestedDurationSecs int64
}

// AccessDetails is returned to the client on a successful spawn.
type AccessDetails struct {
	PodIdentity   string    `json:"pod_identity"`
	Host          string    `json:"host"`
	HostPort      int       `json:"host_port"`
	SSHUsername   string    `json:"ssh_username"`
	SSHPassword   string    `json:"ssh_password"`
	ExpiresAt     time.Time `json:"expires_at"`
	TierID        string    `json:"tier_id"`
	TierName      string    `json:"tier_name"`
	CPUMillicores int64     `json:"cpu_millicores"`
	MemoryMB      int64     `json:"memory_mb"`
	Instructions  []string  `json:"instructions"`
}

// Spawn runs the full admission algorithm (spec §4.8.1): decode & whitelist,
// select tier, price, redeem, allocate a port, mint an identity, create a
// container, register the pod, and build the access details. Each step
// either commits or fails with compensation of exactly the prior steps
// that need undoing.
func (p *Pipeline) Spawn(ctx context.Context, req SpawnRequest) (*AccessDetails, error) {
	// 1. Decode & whitelist. No state changed on failure.
	decoded, err := token.Verify(req.TokenStr, p.cfg.WhitelistedMints)
	if err != nil {
		return nil, newError(KindInvalidToken, "%v", err)
	}

	// 2. Select tier. No state changed on failure.
	tier, err := p.selectTier(req.TierID)
	if err != nil {
		return nil, err
	}

	// 3. Price. No state changed on failure.
	granted := catalog.MaxDuration(tier, decoded.FaceValueMsat, p.cfg.MaxDurationSecs)
	if req.RequestedDurationSecs > 0 && req.RequestedDurationSecs < granted {
		granted = req.RequestedDurationSecs
	}
	if granted < p.cfg.MinDurationSecs {
		return nil, newError(KindInsufficientPayment,
			"payment buys %ds, minimum is %ds", granted, p.cfg.MinDurationSecs)
	}

	// 4. Redeem. This is the point of no return for the payment.
	if err := p.ledger.TryRedeem(decoded.ProofIDs); err != nil {
		return nil, newError(KindInvalidToken, "token already spent: %v", err)
	}

	// 5. Allocate port. No compensation needed on failure: the ledger
	// entry persists (refunds are out of scope; see the error-handling
	// design).
	hostPort, err := p.ports.Allocate()
	if err != nil {
		return nil, newError(KindResourceUnavailable, "no host ports available")
	}

	// 6. Mint pod identity.
	podIdentity, err := p.identity.FreshPodIdentity()
	if err != nil {
		p.ports.Release(hostPort)
		return nil, newError(KindInternal, "mint pod identity: %v", err)
	}

	image := req.Image
	if image == "" {
		image = p.cfg.DefaultContainerImage
	}

	// 7. Create container. Compensation: release port.
	passwordHash := hashPassword(req.SSHPassword)
	handle, err := p.driver.Create(ctx, container.CreateRequest{
		Image:               image,
		CPUMillicores:       tier.CPUMillicores,
		MemoryMB:            tier.MemoryMB,
		HostPort:            hostPort,
		ContainerPort:       22,
		SSHUser:             req.SSHUser,
		SSHPasswordHash:     passwordHash,
		InitialDeadlineSecs: granted,
	})
	if err != nil {
		p.ports.Release(hostPort)
		return nil, newError(KindPodCreationFailed, "%v", err)
	}

	// 8. Register. Compensation: delete container, release port.
	now := time.Now()
	record := &pod.Pod{
		PodID:              uuid.NewString(),
		PodIdentityPubkey:  podIdentity.PublicKey,
		PodIdentityPrivkey: podIdentity.PrivateKey,
		TierID:             tier.ID,
		HostPort:           hostPort,
		ContainerHandle:    handle,
		ExpiresAt:          now.Add(time.Duration(granted) * time.Second),
		CreatedAt:          now,
		Image:              image,
		SSHUser:            req.SSHUser,
		SSHPassword:        req.SSHPassword,
	}
	if err := p.registry.Insert(record); err != nil {
		_ = p.driver.Delete(ctx, handle)
		p.ports.Release(hostPort)
		return nil, newError(KindInternal, "register pod: %v", err)
	}

	// 9. Respond.
	return &AccessDetails{
		PodIdentity:   record.PodIdentityPubkey,
		Host:          p.cfg.HostPublicAddress,
		HostPort:      hostPort,
		SSHUsername:   req.SSHUser,
		SSHPassword:   req.SSHPassword,
		ExpiresAt:     record.ExpiresAt,
		TierID:        tier.ID,
		TierName:      tier.DisplayName,
		CPUMillicores: tier.CPUMillicores,
		MemoryMB:      tier.MemoryMB,
		Instructions: []string{
			fmt.Sprintf("ssh %s@%s -p %d", req.SSHUser, p.cfg.HostPublicAddress, hostPort),
		},
	}, nil
}

func (p *Pipeline) selectTier(tierID string) (catalog.Tier, error) {
	if tierID == "" {
		return p.catalog.DefaultTier(), nil
	}
	tier, err := p.catalog.Tier(tierID)
	if err != nil {
		return catalog.Tier{}, newError(KindInvalidSpec, "unknown tier %q", tierID)
	}
	return tier, nil
}

// TopUpRequest is the input to TopUp.
type TopUpRequest struct {
	PodIdentity string
	TokenStr    string
}

// TopUpResult is returned to the client on a successful top-up.
type TopUpResult struct {
	PodIdentity string    `json:"pod_identity"`
	ExpiresAt   time.Time `json:"expires_at"`
	AddedSecs   int64     `json:"added_secs"`
}

// TopUp runs the top-up algorithm (spec §4.8.2). Pod existence is checked
// before redemption: a top-up against an already-reaped pod does not
// consume the token, because the look-up costs nothing and leaks no
// resource, unlike spawn's port/container allocation which must follow
// redemption to close the denial-of-service hole described there.
func (p *Pipeline) TopUp(ctx context.Context, req TopUpRequest) (*TopUpResult, error) {
	decoded, err := token.Verify(req.TokenStr, p.cfg.WhitelistedMints)
	if err != nil {
		return nil, newError(KindInvalidToken, "%v", err)
	}

	record, err := p.registry.Get(req.PodIdentity)
	if err != nil {
		return nil, newError(KindPodNotFound, "no such pod: %s", req.PodIdentity)
	}

	tier, err := p.catalog.Tier(record.TierID)
	if err != nil {
		return nil, newError(KindInternal, "pod references unknown tier %q", record.TierID)
	}

	addedSecs := catalog.MaxDuration(tier, decoded.FaceValueMsat, p.cfg.MaxDurationSecs)
	if addedSecs <= 0 {
		return nil, newError(KindInsufficientPayment, "payment buys no additional time")
	}

	if err := p.ledger.TryRedeem(decoded.ProofIDs); err != nil {
		return nil, newError(KindPaymentFailed, "token already spent: %v", err)
	}

	newExpiresAt := record.ExpiresAt.Add(time.Duration(addedSecs) * time.Second)
	newTotalDeadline := int64(newExpiresAt.Sub(record.CreatedAt).Seconds())

	if err := p.driver.Extend(ctx, record.ContainerHandle, newTotalDeadline); err != nil {
		p.logger.Warn("extend container deadline failed; ledger entry persists",
			"pod_id", record.PodID, "error", err)
		return nil, newError(KindPaymentFailed, "extend container: %v", err)
	}

	// Re-fetch under the registry's lock so a concurrent reap that
	// removed the pod between our first Get and here is observed as
	// NotFound rather than silently re-inserting an expiry.
	if err := p.registry.UpdateExpiry(record.PodID, newExpiresAt); err != nil {
		return nil, newError(KindPodNotFound, "pod was reaped during top-up: %s", req.PodIdentity)
	}

	return &TopUpResult{
		PodIdentity: record.PodIdentityPubkey,
		ExpiresAt:   newExpiresAt,
		AddedSecs:   addedSecs,
	}, nil
}

// PodStatus is returned by Status.
type PodStatus struct {
	PodIdentity   string    `json:"pod_identity"`
	ExpiresAt     time.Time `json:"expires_at"`
	RemainingSecs int64     `json:"remaining_secs"`
	TierID        string    `json:"tier_id"`
}

// PodPrivateKey returns the private half of podIdentity's keypair, so a
// transport can sign a reply as that specific pod. Per the relay
// sender-identity rule, only spawn replies use it; top-up and status
// replies use the service identity instead.
func (p *Pipeline) PodPrivateKey(podIdentity string) (string, error) {
	record, err := p.registry.Get(podIdentity)
	if err != nil {
		return "", newError(KindPodNotFound, "no such pod: %s", podIdentity)
	}
	return record.PodIdentityPrivkey, nil
}

// Status is a read-only lookup by pod identity.
func (p *Pipeline) Status(podIdentity string) (*PodStatus, error) {
	record, err := p.registry.Get(podIdentity)
	if err != nil {
		return nil, newError(KindPodNotFound, "no such pod: %s", podIdentity)
	}

	remaining := int64(time.Until(record.ExpiresAt).Seconds())
	if remaining < 0 {
		remaining = 0
	}

	return &PodStatus{
		PodIdentity:   record.PodIdentityPubkey,
		ExpiresAt:     record.ExpiresAt,
		RemainingSecs: remaining,
		TierID:        record.TierID,
	}, nil
}

func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}
