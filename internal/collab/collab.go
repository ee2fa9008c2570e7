// Package collab declares the contracts external collaborator
// processes are expected to satisfy against the daemon. None of them
// are implemented here: an orchestrator, project scanner, webhook
// deliverer, tunnel supervisor, and local DNS advertiser are each a
// separate process driving the daemon's HTTP surface, not a library
// this binary links against.
package collab

import (
	"context"
	"time"
)

// HealthStatus is the result of one service health probe.
type HealthStatus struct {
	Identity  string
	Healthy   bool
	CheckedAt time.Time
	Detail    string
}

// Orchestrator claims ports for the services it starts, assigns their
// reachable endpoints once they come up, and probes them on an
// interval, publishing a "service.ready" notification once a probe
// first succeeds.
type Orchestrator interface {
	ClaimForService(ctx context.Context, identity string) (port int, existing bool, err error)
	SetEndpoint(ctx context.Context, identity, env, url string) error
	ProbeHealth(ctx context.Context, identity string) (HealthStatus, error)
}

// ProjectManifestEntry describes one service a project scanner has
// discovered, ahead of the orchestrator claiming a port for it.
type ProjectManifestEntry struct {
	Identity    string
	Purpose     string
	HealthPath  string
	StartScript string
}

// ProjectScanner inspects a workspace and produces the manifest an
// Orchestrator consumes to start services; persistence of the scan
// result is its own concern, outside the daemon.
type ProjectScanner interface {
	Scan(ctx context.Context, root string) ([]ProjectManifestEntry, error)
}

// WebhookDeliverer subscribes to a curated set of activity events and
// performs signed HTTP POSTs out-of-band. Retry and backoff are its
// own concern; the daemon only ever sees the subscription.
type WebhookDeliverer interface {
	Subscribe(ctx context.Context, eventTypes []string) (<-chan ActivityEvent, error)
	Deliver(ctx context.Context, event ActivityEvent) error
}

// ActivityEvent is the shape a WebhookDeliverer receives per
// subscribed activity log entry.
type ActivityEvent struct {
	Type      string
	Action    string
	Target    string
	AgentID   string
	CreatedAt time.Time
}

// TunnelSupervisor spawns tunnel provider subprocesses (e.g. ngrok,
// cloudflared) and records the resulting public URL by calling
// SetEndpoint; it treats the daemon purely as a state store and owns
// no daemon-side process lifecycle itself.
type TunnelSupervisor interface {
	StartTunnel(ctx context.Context, identity string, localPort int) (publicURL string, err error)
	StopTunnel(ctx context.Context, identity string) error
}

// DNSAdvertiser derives a ".local" hostname for a claimed service and
// records it via SetEndpoint.
type DNSAdvertiser interface {
	Advertise(ctx context.Context, identity string, port int) (hostname string, err error)
	Withdraw(ctx context.Context, identity string) error
}
