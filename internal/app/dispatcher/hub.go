package dispatcher

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/edgesignal/fleethub/internal/domain/dispatch"
	"github.com/edgesignal/fleethub/internal/domain/fleet"
	"github.com/edgesignal/fleethub/internal/infra/messaging/acktracking"
	"github.com/edgesignal/fleethub/internal/infra/messaging/sessions"
	"github.com/edgesignal/fleethub/pkg/common/logger"
	"github.com/edgesignal/fleethub/pkg/common/timeutil"
)

// HubMetrics aggregates the metrics interfaces of every dispatch-engine
// component. A single implementation backs all of them.
type HubMetrics interface {
	Metrics
	RouterMetrics
	sessions.RegistryMetrics
	acktracking.TableMetrics
}

// HubConfig carries the construction parameters of the dispatch engine.
type HubConfig struct {
	// SessionBuffer is the per-session outbound frame buffer. Zero selects
	// the registry default.
	SessionBuffer int
	Fleets        fleet.MembershipOracle
	Audit         AuditSink
	Clock         timeutil.Provider
	Logger        *logger.Logger
	Tracer        trace.Tracer
	Metrics       HubMetrics
}

// Hub owns the full dispatch engine: one session registry, pending-ack
// table, and dispatcher per stream kind, plus the shared acknowledgement
// router. It is the single construction and shutdown point.
type Hub struct {
	commands *Dispatcher
	content  *Dispatcher
	router   *Router

	commandSessions *sessions.Registry
	contentSessions *sessions.Registry
	commandAcks     *acktracking.Table
	contentAcks     *acktracking.Table

	logger *logger.Logger
}

// NewHub wires the dispatch engine together.
func NewHub(cfg HubConfig) *Hub {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.Default()
	}
	audit := cfg.Audit
	if audit == nil {
		audit = NoopAuditSink{}
	}

	commandAcks := acktracking.NewTable(cfg.Logger, cfg.Metrics)
	contentAcks := acktracking.NewTable(cfg.Logger, cfg.Metrics)

	commandSessions := sessions.NewRegistry(
		dispatch.StreamKindCommand, cfg.SessionBuffer, commandAcks, clock, cfg.Logger, cfg.Metrics)
	contentSessions := sessions.NewRegistry(
		dispatch.StreamKindContent, cfg.SessionBuffer, contentAcks, clock, cfg.Logger, cfg.Metrics)

	commands := NewDispatcher(
		dispatch.StreamKindCommand, commandSessions, commandAcks, cfg.Fleets,
		cfg.Logger, cfg.Tracer, cfg.Metrics, WithAuditSink(audit))
	content := NewDispatcher(
		dispatch.StreamKindContent, contentSessions, contentAcks, cfg.Fleets,
		cfg.Logger, cfg.Tracer, cfg.Metrics, WithAuditSink(audit))

	router := NewRouter(
		commandSessions, contentSessions, commandAcks, contentAcks,
		cfg.Logger, cfg.Tracer, cfg.Metrics)

	return &Hub{
		commands:        commands,
		content:         content,
		router:          router,
		commandSessions: commandSessions,
		contentSessions: contentSessions,
		commandAcks:     commandAcks,
		contentAcks:     contentAcks,
		logger:          cfg.Logger.With("component", "dispatch_hub"),
	}
}

// Commands returns the command-stream dispatcher.
func (h *Hub) Commands() *Dispatcher { return h.commands }

// Content returns the content-stream dispatcher.
func (h *Hub) Content() *Dispatcher { return h.content }

// Router returns the acknowledgement router.
func (h *Hub) Router() *Router { return h.router }

// Sessions returns the session registry for the given stream kind.
func (h *Hub) Sessions(kind dispatch.StreamKind) (*sessions.Registry, error) {
	switch kind {
	case dispatch.StreamKindCommand:
		return h.commandSessions, nil
	case dispatch.StreamKindContent:
		return h.contentSessions, nil
	default:
		return nil, fmt.Errorf("unknown stream kind: %q", kind)
	}
}

// Shutdown stops the engine: new dispatches are rejected, every pending
// waiter resolves ServiceShuttingDown, and every session sink is closed.
func (h *Hub) Shutdown(ctx context.Context) {
	h.logger.Info(ctx, "Dispatch engine shutting down")

	h.commands.Close()
	h.content.Close()

	h.commandAcks.Shutdown(ctx)
	h.contentAcks.Shutdown(ctx)

	h.commandSessions.CloseAll(ctx)
	h.contentSessions.CloseAll(ctx)
}
