// Package events carries decision events from the governance core to the
// observability pipeline.
//
// A DecisionEvent is strictly metadata: component, outcome, mode, reason
// code, and opaque correlation IDs. No payload content, no user-data paths,
// no raw identifiers ever travel through this package.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clinharbor/warden/pkg/gate"
)

// DecisionEvent is emitted at every gate transition of a governed operation.
type DecisionEvent struct {
	ID             string              `json:"id"`
	Component      string              `json:"component"`
	Allowed        bool                `json:"allowed"`
	Mode           gate.Mode           `json:"mode"`
	Reason         gate.Reason         `json:"reason_code"`
	OperationClass gate.OperationClass `json:"operation_class"`
	RunID          string              `json:"run_id,omitempty"`
	At             time.Time           `json:"at"`
}

// New stamps a decision event with a fresh ID and timestamp.
func New(component string, class gate.OperationClass, runID string, d gate.Decision) DecisionEvent {
	return DecisionEvent{
		ID:             uuid.New().String(),
		Component:      component,
		Allowed:        d.Allowed,
		Mode:           d.Mode,
		Reason:         d.Reason,
		OperationClass: class,
		RunID:          runID,
		At:             time.Now().UTC(),
	}
}

// Emitter delivers decision events to a sink. Implementations must not
// block the governed operation on sink latency beyond ctx.
type Emitter interface {
	Emit(ctx context.Context, ev DecisionEvent)
}

// SlogEmitter writes decision events as structured log records.
type SlogEmitter struct {
	log *slog.Logger
}

// NewSlogEmitter wraps a logger; nil falls back to slog.Default.
func NewSlogEmitter(log *slog.Logger) *SlogEmitter {
	if log == nil {
		log = slog.Default()
	}
	return &SlogEmitter{log: log.With("component", "events")}
}

// Emit implements Emitter.
func (e *SlogEmitter) Emit(ctx context.Context, ev DecisionEvent) {
	level := slog.LevelInfo
	if !ev.Allowed {
		level = slog.LevelWarn
	}
	e.log.LogAttrs(ctx, level, "decision",
		slog.String("id", ev.ID),
		slog.String("decision_component", ev.Component),
		slog.Bool("allowed", ev.Allowed),
		slog.String("mode", string(ev.Mode)),
		slog.String("reason_code", string(ev.Reason)),
		slog.String("operation_class", string(ev.OperationClass)),
		slog.String("run_id", ev.RunID),
	)
}

// MultiEmitter fans an event out to several sinks.
type MultiEmitter []Emitter

// Emit implements Emitter.
func (m MultiEmitter) Emit(ctx context.Context, ev DecisionEvent) {
	for _, e := range m {
		e.Emit(ctx, ev)
	}
}

// NopEmitter discards events. Useful in tests of unrelated behavior.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(context.Context, DecisionEvent) {}
