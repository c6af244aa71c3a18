package runtime

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/clinharbor/warden/pkg/canonical"
	"github.com/clinharbor/warden/pkg/events"
	"github.com/clinharbor/warden/pkg/gate"
	"github.com/clinharbor/warden/pkg/ledger"
	"github.com/clinharbor/warden/pkg/phi"
	"github.com/clinharbor/warden/pkg/quarantine"
)

// Policy names the PHI handling strategy for tabular runs. The strategies
// are never mixed implicitly: batch fail-closed is the default, and row
// quarantine must be requested by name.
type Policy string

const (
	// PolicyFailClosed rejects the entire batch on the first finding.
	PolicyFailClosed Policy = "FAIL_CLOSED"
	// PolicyRowQuarantine diverts offending rows to the quarantined
	// category (metadata only) and persists the clean remainder. Column
	// name violations still fail the whole batch — a denylisted column
	// cannot be quarantined row by row.
	PolicyRowQuarantine Policy = "ROW_QUARANTINE"
)

// TabularProduct is the candidate output of a tabular work function.
type TabularProduct struct {
	LogicalID string
	Dataset   *phi.Dataset
	Metadata  map[string]any
	Warnings  []string
}

// TabularWorkFn produces a dataset under governance.
type TabularWorkFn func(ctx context.Context) (*TabularProduct, error)

// RunTabular executes a governed tabular operation under the named policy.
func (o *Orchestrator) RunTabular(ctx context.Context, class gate.OperationClass, policy Policy, work TabularWorkFn) (*Outcome, error) {
	if policy != PolicyFailClosed && policy != PolicyRowQuarantine {
		return nil, fmt.Errorf("runtime: unknown tabular policy %q", policy)
	}

	decision := o.gate.Evaluate(o.mode, class, o.flags)
	if !decision.Allowed {
		o.emitter.Emit(ctx, events.New(component, class, "", decision))
		return nil, blockErr(decision)
	}

	runID := uuid.New().String()

	product, err := o.safeTabularWork(ctx, work)
	if err != nil {
		return nil, o.recordFailure(ctx, runID, class, err)
	}
	if product == nil || product.Dataset == nil {
		return nil, o.recordFailure(ctx, runID, class, fmt.Errorf("work function returned no dataset"))
	}

	if ctx.Err() != nil {
		o.emitter.Emit(ctx, events.New(component, class, runID,
			gate.Decision{Allowed: false, Reason: gate.ReasonCancelled, Mode: o.mode}))
		return nil, fmt.Errorf("runtime: run %s cancelled before persistence: %w", runID, ctx.Err())
	}

	sel := selectorFor(class)
	ds := product.Dataset
	scan := o.scanner.ScanTabular(ds, 0, sel)

	// Metadata travels into the artifact envelope, so it gets the same scan
	// as any other persisted payload. Row quarantine never applies to it.
	if len(product.Metadata) > 0 {
		meta, merr := canonical.Marshal(product.Metadata)
		if merr != nil {
			return nil, o.recordFailure(ctx, runID, class, merr)
		}
		if res := o.scanner.Scan(string(meta), sel); res.Detected {
			o.emitter.Emit(ctx, events.New(component, class, runID,
				gate.Decision{Allowed: false, Reason: gate.ReasonPHIDetected, Mode: o.mode}))
			return nil, &PHIDetectedError{Stage: "tabular persist", Result: res}
		}
	}

	rowsIn := int64(len(ds.Rows))
	warnings := append([]string{}, product.Warnings...)
	var quarantined []int
	var flagged map[int][]string

	if scan.Detected {
		if policy == PolicyFailClosed || hasColumnFinding(scan) {
			o.emitter.Emit(ctx, events.New(component, class, runID,
				gate.Decision{Allowed: false, Reason: gate.ReasonPHIDetected, Mode: o.mode}))
			return nil, &PHIDetectedError{Stage: "tabular persist", Result: scan}
		}

		flagged = o.scanner.ScanRows(ds, sel)
		clean, diverted := splitRows(ds, flagged)
		ds = clean
		quarantined = diverted
		warnings = append(warnings, fmt.Sprintf("quarantined %d of %d rows", len(diverted), rowsIn))
	}

	payloadValue := map[string]any{"columns": ds.Columns, "rows": ds.Rows}
	counts := ledger.Counts{
		RowsIn:       rowsIn,
		RowsOut:      int64(len(ds.Rows)),
		RowsAffected: int64(len(quarantined)),
	}

	op := operationFor(class)
	if len(quarantined) > 0 {
		op = ledger.OpRowQuarantine
	}

	outcome, err := o.persistTabular(runID, class, op, product, payloadValue, counts, warnings)
	if err != nil {
		return nil, err
	}
	// Written only once the artifact and ledger entry exist, so a failed
	// persist never strands an orphan quarantine manifest.
	if len(flagged) > 0 {
		if err := o.writeQuarantineManifest(runID, flagged); err != nil {
			return nil, err
		}
	}
	outcome.Scan = scan
	outcome.QuarantinedRows = quarantined

	o.emitter.Emit(ctx, events.New(component, class, runID, decision))
	return outcome, nil
}

// writeQuarantineManifest persists row indexes and finding categories of
// diverted rows — never the row contents.
func (o *Orchestrator) writeQuarantineManifest(runID string, flagged map[int][]string) error {
	rows := make([]map[string]any, 0, len(flagged))
	for _, idx := range sortedKeys(flagged) {
		rows = append(rows, map[string]any{
			"row":        idx,
			"categories": flagged[idx],
		})
	}
	name := "quarantined_" + runID + quarantine.Ext
	_, _, err := o.contract.WriteAtomic(quarantine.CategoryQuarantined, name, map[string]any{
		"run_id": runID,
		"rows":   rows,
	})
	return err
}

func (o *Orchestrator) persistTabular(runID string, class gate.OperationClass, op ledger.Operation, product *TabularProduct, payloadValue any, counts ledger.Counts, warnings []string) (*Outcome, error) {
	wp := &WorkProduct{
		LogicalID: product.LogicalID,
		Payload:   payloadValue,
		Metadata:  product.Metadata,
		Counts:    counts,
	}
	payload, err := canonical.Marshal(payloadValue)
	if err != nil {
		return nil, err
	}
	return o.persist(runID, class, op, wp, payload, warnings)
}

func (o *Orchestrator) safeTabularWork(ctx context.Context, work TabularWorkFn) (product *TabularProduct, err error) {
	defer func() {
		if r := recover(); r != nil {
			product = nil
			err = fmt.Errorf("work function panicked: %v", r)
		}
	}()
	return work(ctx)
}

func hasColumnFinding(scan phi.Result) bool {
	for _, f := range scan.Findings {
		if f.Category == "field_name" {
			return true
		}
	}
	return false
}

// splitRows partitions the dataset into clean rows and flagged row indexes.
func splitRows(ds *phi.Dataset, flagged map[int][]string) (*phi.Dataset, []int) {
	clean := &phi.Dataset{Columns: ds.Columns}
	diverted := make([]int, 0, len(flagged))
	for i, row := range ds.Rows {
		if _, bad := flagged[i]; bad {
			diverted = append(diverted, i)
			continue
		}
		clean.Rows = append(clean.Rows, row)
	}
	return clean, diverted
}

func sortedKeys(m map[int][]string) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
