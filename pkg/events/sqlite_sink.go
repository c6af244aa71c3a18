package events

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // sqlite driver

	"github.com/clinharbor/warden/pkg/gate"
)

const sinkSchema = `
CREATE TABLE IF NOT EXISTS decision_events (
	id              TEXT PRIMARY KEY,
	component       TEXT NOT NULL,
	allowed         INTEGER NOT NULL,
	mode            TEXT NOT NULL,
	reason_code     TEXT NOT NULL,
	operation_class TEXT NOT NULL,
	run_id          TEXT,
	at              TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decision_events_run ON decision_events(run_id);
`

// SQLiteSink is a local reference implementation of a decision-event
// collector, retaining events in an embedded database for later review.
type SQLiteSink struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLiteSink opens (or creates) the sink database at path.
func NewSQLiteSink(path string, log *slog.Logger) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("events: open sink db: %w", err)
	}
	if _, err := db.Exec(sinkSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("events: init sink schema: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &SQLiteSink{db: db, log: log}, nil
}

// Close releases the database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close() //nolint:wrapcheck // close passthrough
}

// Emit implements Emitter. A sink failure is logged, never propagated:
// the governed operation's outcome must not depend on telemetry retention.
func (s *SQLiteSink) Emit(ctx context.Context, ev DecisionEvent) {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO decision_events
		 (id, component, allowed, mode, reason_code, operation_class, run_id, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Component, boolToInt(ev.Allowed), string(ev.Mode), string(ev.Reason),
		string(ev.OperationClass), ev.RunID, ev.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		s.log.WarnContext(ctx, "decision event sink write failed", "error", err, "event_id", ev.ID)
	}
}

// ByRun returns the stored events for one run, oldest first.
func (s *SQLiteSink) ByRun(ctx context.Context, runID string) ([]DecisionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, component, allowed, mode, reason_code, operation_class, run_id, at
		 FROM decision_events WHERE run_id = ? ORDER BY at`, runID)
	if err != nil {
		return nil, fmt.Errorf("events: query sink: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only

	var out []DecisionEvent
	for rows.Next() {
		var ev DecisionEvent
		var allowed int
		var mode, reason, class, at string
		if err := rows.Scan(&ev.ID, &ev.Component, &allowed, &mode, &reason, &class, &ev.RunID, &at); err != nil {
			return nil, fmt.Errorf("events: scan sink row: %w", err)
		}
		ev.Allowed = allowed != 0
		ev.Mode = gate.Mode(mode)
		ev.Reason = gate.Reason(reason)
		ev.OperationClass = gate.OperationClass(class)
		ts, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("events: parse sink timestamp: %w", err)
		}
		ev.At = ts
		out = append(out, ev)
	}
	return out, rows.Err() //nolint:wrapcheck // iteration error passthrough
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
