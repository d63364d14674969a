// Package listener consumes control-plane configuration change events and
// applies the matching cache invalidations inside the gateway.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

// Fetch failures back off exponentially between these bounds.
const (
	initialFetchBackoff = time.Second
	maxFetchBackoff     = 30 * time.Second
)

// Event types emitted by the control plane.
const (
	EventProviderChanged      = "oidc_provider_changed"
	EventGovernorLimitChanged = "governor_limit_changed"
	EventTenantChanged        = "tenant_changed"
	EventRouteChanged         = "route_changed"
	EventFullResync           = "full_resync"
)

// ConfigEvent is the wire shape of a configuration change event.
type ConfigEvent struct {
	Type           string `json:"type"`
	Issuer         string `json:"issuer,omitempty"`
	TenantID       string `json:"tenantId,omitempty"`
	APICallsPerDay int64  `json:"apiCallsPerDay,omitempty"`
}

// messageReader abstracts the Kafka reader so tests can substitute a mock.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// VerifierEvictor invalidates cached token decoders.
type VerifierEvictor interface {
	Evict(issuer string)
	EvictAll()
}

// LimitUpdater applies a single tenant's governor limit change.
type LimitUpdater interface {
	UpdateTenantLimit(tenantID string, apiCallsPerDay int64)
}

// Refresher reloads a cache from the control plane.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// ConfigEventListener reads configuration change events from Kafka and
// dispatches them to the gateway's caches. Messages are committed only
// after the invalidation has been applied, so a crash mid-event replays
// it rather than losing it.
type ConfigEventListener struct {
	reader   messageReader
	verifier VerifierEvictor
	limits   LimitUpdater
	tenants  Refresher
	routes   Refresher
	logger   *slog.Logger

	initialBackoff time.Duration
}

// ReaderConfig holds the Kafka consumer settings.
type ReaderConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewConfigEventListener creates a listener over a real Kafka reader.
func NewConfigEventListener(cfg ReaderConfig, verifier VerifierEvictor, limits LimitUpdater, tenants, routes Refresher, logger *slog.Logger) *ConfigEventListener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	})
	return newConfigEventListener(reader, verifier, limits, tenants, routes, logger)
}

func newConfigEventListener(reader messageReader, verifier VerifierEvictor, limits LimitUpdater, tenants, routes Refresher, logger *slog.Logger) *ConfigEventListener {
	return &ConfigEventListener{
		reader:   reader,
		verifier: verifier,
		limits:   limits,
		tenants:  tenants,
		routes:   routes,
		logger:   logger,

		initialBackoff: initialFetchBackoff,
	}
}

// Run consumes events until the context is cancelled. Malformed events are
// logged and committed so they do not wedge the partition.
func (l *ConfigEventListener) Run(ctx context.Context) error {
	defer l.reader.Close()

	backoff := l.initialBackoff
	for {
		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			// A dead listener would pin stale verifiers forever, so fetch
			// errors are retried with backoff rather than returned.
			l.logger.Error("fetching config event failed, retrying",
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > maxFetchBackoff {
				backoff = maxFetchBackoff
			}
			continue
		}
		backoff = l.initialBackoff

		l.handle(ctx, msg.Value)

		if err := l.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			l.logger.Warn("committing config event failed", slog.String("error", err.Error()))
		}
	}
}

func (l *ConfigEventListener) handle(ctx context.Context, payload []byte) {
	var event ConfigEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		l.logger.Warn("malformed config event skipped", slog.String("error", err.Error()))
		return
	}

	l.logger.Info("config event received",
		slog.String("type", event.Type),
		slog.String("issuer", event.Issuer),
		slog.String("tenant_id", event.TenantID),
	)

	switch event.Type {
	case EventProviderChanged:
		if event.Issuer == "" {
			l.verifier.EvictAll()
			return
		}
		l.verifier.Evict(event.Issuer)

	case EventGovernorLimitChanged:
		if event.TenantID == "" {
			l.logger.Warn("governor limit event without tenant id skipped")
			return
		}
		l.limits.UpdateTenantLimit(event.TenantID, event.APICallsPerDay)

	case EventTenantChanged:
		if err := l.tenants.Refresh(ctx); err != nil {
			l.logger.Warn("tenant refresh after config event failed", slog.String("error", err.Error()))
		}

	case EventRouteChanged:
		if err := l.routes.Refresh(ctx); err != nil {
			l.logger.Warn("route refresh after config event failed", slog.String("error", err.Error()))
		}

	case EventFullResync:
		l.verifier.EvictAll()
		if err := l.tenants.Refresh(ctx); err != nil {
			l.logger.Warn("tenant refresh after resync failed", slog.String("error", err.Error()))
		}
		if err := l.routes.Refresh(ctx); err != nil {
			l.logger.Warn("route refresh after resync failed", slog.String("error", err.Error()))
		}

	default:
		l.logger.Warn("unknown config event type skipped", slog.String("type", event.Type))
	}
}
