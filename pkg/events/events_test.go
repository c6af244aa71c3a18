package events

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/clinharbor/warden/pkg/gate"
)

func blockedDecision() gate.Decision {
	return gate.Decision{Allowed: false, Reason: gate.ReasonModeStandby, Mode: gate.ModeStandby}
}

func TestNew_StampsIDAndTime(t *testing.T) {
	ev := New("runtime", gate.ClassIngest, "run-1", blockedDecision())
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.At.IsZero())
	assert.Equal(t, gate.ReasonModeStandby, ev.Reason)
	assert.Equal(t, "run-1", ev.RunID)
}

func TestSlogEmitter_MetadataOnly(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	e := NewSlogEmitter(log)

	ev := New("runtime", gate.ClassExport, "run-2", blockedDecision())
	e.Emit(context.Background(), ev)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "MODE_STANDBY", record["reason_code"])
	assert.Equal(t, "run-2", record["run_id"])
	// Nothing resembling payload content may appear.
	assert.NotContains(t, record, "payload")
	assert.NotContains(t, record, "content")
}

func TestMetricsEmitter_CountsBlocked(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	emitter, err := NewMetricsEmitter(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	emitter.Emit(ctx, New("runtime", gate.ClassIngest, "r1", blockedDecision()))
	emitter.Emit(ctx, New("runtime", gate.ClassIngest, "r2",
		gate.Decision{Allowed: true, Reason: gate.ReasonAllowed, Mode: gate.ModeActive}))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(2), totals["warden.decisions"])
	assert.Equal(t, int64(1), totals["warden.decisions.blocked"])
}

func TestSQLiteSink_RoundTrip(t *testing.T) {
	sink, err := NewSQLiteSink(filepath.Join(t.TempDir(), "events.db"), nil)
	require.NoError(t, err)
	defer sink.Close() //nolint:errcheck // test cleanup

	ctx := context.Background()
	ev1 := New("runtime", gate.ClassIngest, "run-9", blockedDecision())
	ev2 := New("runtime", gate.ClassIngest, "run-9",
		gate.Decision{Allowed: true, Reason: gate.ReasonAllowed, Mode: gate.ModeSandbox})
	sink.Emit(ctx, ev1)
	sink.Emit(ctx, ev2)
	sink.Emit(ctx, New("runtime", gate.ClassExport, "other-run", blockedDecision()))

	got, err := sink.ByRun(ctx, "run-9")
	require.NoError(t, err)
	require.Len(t, got, 2)
	ids := []string{got[0].ID, got[1].ID}
	assert.ElementsMatch(t, []string{ev1.ID, ev2.ID}, ids)
	for _, ev := range got {
		assert.Equal(t, "run-9", ev.RunID)
	}
}

func TestMultiEmitter(t *testing.T) {
	sink, err := NewSQLiteSink(filepath.Join(t.TempDir(), "events.db"), nil)
	require.NoError(t, err)
	defer sink.Close() //nolint:errcheck // test cleanup

	var buf bytes.Buffer
	multi := MultiEmitter{NewSlogEmitter(slog.New(slog.NewJSONHandler(&buf, nil))), sink}

	ctx := context.Background()
	multi.Emit(ctx, New("runtime", gate.ClassTransform, "run-3", blockedDecision()))

	assert.NotEmpty(t, buf.Bytes())
	got, err := sink.ByRun(ctx, "run-3")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
