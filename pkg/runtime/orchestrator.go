// Package runtime composes the governance core: every governed operation is
// gated by operating mode, PHI-scanned before anything is persisted or
// logged, confined to the quarantine contract, and receipted on the
// provenance ledger.
//
// The ordering is load-bearing. A gate rejection leaves zero artifacts. A
// PHI detection discards all candidate output. Only fully accepted work
// reaches the filesystem, and only through atomic writes.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clinharbor/warden/pkg/artifact"
	"github.com/clinharbor/warden/pkg/canonical"
	"github.com/clinharbor/warden/pkg/events"
	"github.com/clinharbor/warden/pkg/gate"
	"github.com/clinharbor/warden/pkg/ledger"
	"github.com/clinharbor/warden/pkg/phi"
	"github.com/clinharbor/warden/pkg/quarantine"
)

const component = "runtime"

// WorkProduct is the candidate output of a governed work function. Nothing
// in it is persisted until it passes the PHI scan.
type WorkProduct struct {
	LogicalID string
	// Payload is the record content destined for persistence. It is
	// serialized canonically, scanned, and written under the contract.
	Payload any
	// Metadata is stamped onto the artifact record. Its key names are
	// denylisted recursively.
	Metadata map[string]any
	Counts   ledger.Counts
	Warnings []string
}

// WorkFn performs the governed operation itself. It runs only after the
// gate allows the operation class; any network I/O belongs in here, never
// in the core.
type WorkFn func(ctx context.Context) (*WorkProduct, error)

// Outcome reports a completed governed run.
type Outcome struct {
	RunID        string
	ArtifactPath string
	ArtifactHash string
	ManifestPath string
	Entry        *ledger.Entry
	Scan         phi.Result
	// QuarantinedRows lists row indexes diverted by the row-quarantine
	// policy. Empty for scalar runs.
	QuarantinedRows []int
}

// Config wires an Orchestrator. Mode and flags are fixed for the lifetime
// of the orchestrator; changing mode means constructing a new one.
type Config struct {
	Mode     gate.Mode
	Flags    gate.Flags
	Gate     *gate.Gate
	Scanner  *phi.Scanner
	Contract *quarantine.Contract
	Ledger   *ledger.Ledger
	Emitter  events.Emitter
	Logger   *slog.Logger
}

// Orchestrator executes governed operations end to end.
type Orchestrator struct {
	mode      gate.Mode
	flags     gate.Flags
	gate      *gate.Gate
	scanner   *phi.Scanner
	contract  *quarantine.Contract
	ledger    *ledger.Ledger
	validator *artifact.Validator
	emitter   events.Emitter
	log       *slog.Logger
	clock     func() time.Time
}

// New validates the wiring fail-closed: a missing scanner, contract, or
// ledger is a construction error, not a runtime surprise.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Gate == nil {
		return nil, fmt.Errorf("runtime: gate not configured (fail-closed)")
	}
	if cfg.Scanner == nil {
		return nil, fmt.Errorf("runtime: scanner not configured (fail-closed)")
	}
	if cfg.Contract == nil {
		return nil, fmt.Errorf("runtime: quarantine contract not configured (fail-closed)")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("runtime: ledger not configured (fail-closed)")
	}
	validator, err := artifact.NewValidator(cfg.Scanner.DeniedField)
	if err != nil {
		return nil, err
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		mode:      cfg.Mode,
		flags:     cfg.Flags,
		gate:      cfg.Gate,
		scanner:   cfg.Scanner,
		contract:  cfg.Contract,
		ledger:    cfg.Ledger,
		validator: validator,
		emitter:   emitter,
		log:       log.With("component", component),
		clock:     time.Now,
	}, nil
}

// RunOption adjusts a single run.
type RunOption func(*runOptions)

type runOptions struct {
	overrideBy string
}

// WithPHIOverride authorizes persisting despite a PHI detection. The
// authorizer identity is recorded as a ledger warning; there is no ambient
// or automatic override path.
func WithPHIOverride(authorizedBy string) RunOption {
	return func(o *runOptions) { o.overrideBy = authorizedBy }
}

// Run executes one governed operation. On a gate block it returns before
// any directory, file, or ledger entry exists.
func (o *Orchestrator) Run(ctx context.Context, class gate.OperationClass, work WorkFn, opts ...RunOption) (*Outcome, error) {
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}

	decision := o.gate.Evaluate(o.mode, class, o.flags)
	if !decision.Allowed {
		o.emitter.Emit(ctx, events.New(component, class, "", decision))
		return nil, blockErr(decision)
	}

	runID := uuid.New().String()

	product, err := o.safeWork(ctx, work)
	if err != nil {
		return nil, o.recordFailure(ctx, runID, class, err)
	}
	if product == nil {
		return nil, o.recordFailure(ctx, runID, class, fmt.Errorf("work function returned no product"))
	}

	// Cancellation before persistence is equivalent to never having started.
	if ctx.Err() != nil {
		o.emitter.Emit(ctx, events.New(component, class, runID,
			gate.Decision{Allowed: false, Reason: gate.ReasonCancelled, Mode: o.mode}))
		return nil, fmt.Errorf("runtime: run %s cancelled before persistence: %w", runID, ctx.Err())
	}

	payload, err := canonical.Marshal(product.Payload)
	if err != nil {
		return nil, o.recordFailure(ctx, runID, class, err)
	}

	scan, phiErr := o.scanCandidate(product, payload, class)
	warnings := append([]string{}, product.Warnings...)
	if phiErr != nil {
		if ro.overrideBy == "" {
			o.emitter.Emit(ctx, events.New(component, class, runID,
				gate.Decision{Allowed: false, Reason: gate.ReasonPHIDetected, Mode: o.mode}))
			return nil, phiErr
		}
		warnings = append(warnings, "phi_override authorized_by="+ro.overrideBy)
	}

	outcome, err := o.persist(runID, class, operationFor(class), product, payload, warnings)
	if err != nil {
		return nil, err
	}
	outcome.Scan = scan

	o.emitter.Emit(ctx, events.New(component, class, runID, decision))
	o.log.InfoContext(ctx, "governed run complete",
		"run_id", runID, "operation_class", string(class), "artifact_hash", outcome.ArtifactHash)
	return outcome, nil
}

// scanCandidate scans the canonical payload and sweeps its key names. The
// tier follows the operation class: exports get the broader output guard.
func (o *Orchestrator) scanCandidate(product *WorkProduct, payload []byte, class gate.OperationClass) (phi.Result, error) {
	scan := o.scanner.Scan(string(payload), selectorFor(class))
	if scan.Detected {
		return scan, &PHIDetectedError{Stage: "persist", Result: scan}
	}
	if len(product.Metadata) > 0 {
		meta, err := canonical.Marshal(product.Metadata)
		if err != nil {
			return scan, err
		}
		if res := o.scanner.Scan(string(meta), selectorFor(class)); res.Detected {
			return res, &PHIDetectedError{Stage: "persist", Result: res}
		}
	}
	if key, found := artifact.FindDeniedKey(product.Payload, o.scanner.DeniedField); found {
		return scan, &PHIDetectedError{Stage: "persist", Result: phi.Result{
			Detected:       true,
			Findings:       []phi.Finding{{Category: "field_name", Tier: phi.TierHighConfidence, Location: phi.Location{Field: key}, Confidence: 1.0}},
			SeverityCounts: map[phi.Tier]int{phi.TierHighConfidence: 1},
			ScannedAt:      scan.ScannedAt,
			PatternVersion: scan.PatternVersion,
		}}
	}
	return scan, nil
}

// persist writes the artifact and manifest atomically and appends the
// provenance entry. Called only with accepted output.
func (o *Orchestrator) persist(runID string, class gate.OperationClass, op ledger.Operation, product *WorkProduct, payload []byte, warnings []string) (*Outcome, error) {
	record := artifact.New(runID, product.LogicalID, payload, product.Metadata, o.clock())
	if err := o.validator.Validate(record); err != nil {
		return nil, err
	}

	envelope := map[string]any{
		"record": record,
		"data":   product.Payload,
	}
	outputName := "output_" + runID + quarantine.Ext
	outputPath, outputHash, err := o.contract.WriteAtomic(quarantine.CategoryOutputs, outputName, envelope)
	if err != nil {
		return nil, err
	}

	manifest := map[string]any{
		"schema_version":  artifact.SchemaVersion,
		"run_id":          runID,
		"operation_class": string(class),
		"mode":            string(o.mode),
		"created_at":      o.clock().UTC(),
		"pattern_version": o.scanner.PatternVersion(),
		"output_refs": []ledger.Ref{
			{Path: relRef(quarantine.CategoryOutputs, outputName), Hash: outputHash},
		},
	}
	manifestName := "manifest_" + runID + quarantine.Ext
	manifestPath, manifestHash, err := o.contract.WriteAtomic(quarantine.CategoryManifests, manifestName, manifest)
	if err != nil {
		return nil, err
	}

	entry, err := o.ledger.Append(ledger.Draft{
		RunID:     runID,
		Operation: op,
		Counts:    product.Counts,
		Warnings:  warnings,
		OutputRefs: []ledger.Ref{
			{Path: relRef(quarantine.CategoryOutputs, outputName), Hash: outputHash},
			{Path: relRef(quarantine.CategoryManifests, manifestName), Hash: manifestHash},
		},
	})
	if err != nil {
		return nil, err
	}

	return &Outcome{
		RunID:        runID,
		ArtifactPath: outputPath,
		ArtifactHash: outputHash,
		ManifestPath: manifestPath,
		Entry:        entry,
	}, nil
}

// recordFailure receipts a failed work attempt on the ledger. The failure
// message is PHI-scanned first; a dirty message is withheld, never stored.
func (o *Orchestrator) recordFailure(ctx context.Context, runID string, class gate.OperationClass, workErr error) error {
	msg := workErr.Error()
	if scan := o.scanner.Scan(msg, phi.SelectorOutputGuard); scan.Detected {
		// Category names double as denylisted terms, so the receipt carries
		// only a count.
		msg = fmt.Sprintf("work failed; message withheld after matching %d protected patterns", len(scan.Findings))
	}

	if _, err := o.ledger.Append(ledger.Draft{
		RunID:     runID,
		Operation: ledger.OpRunFailure,
		Errors:    []string{msg},
	}); err != nil {
		// The failure receipt itself was rejected; log, do not mask the
		// original work error.
		o.log.ErrorContext(ctx, "failure receipt rejected", "run_id", runID, "error", err)
	}
	return &WorkError{RunID: runID, Err: workErr}
}

// safeWork invokes the work function, converting panics into errors so a
// misbehaving work_fn cannot skip governance.
func (o *Orchestrator) safeWork(ctx context.Context, work WorkFn) (product *WorkProduct, err error) {
	defer func() {
		if r := recover(); r != nil {
			product = nil
			err = fmt.Errorf("work function panicked: %v", r)
		}
	}()
	return work(ctx)
}

func selectorFor(class gate.OperationClass) phi.Selector {
	if class == gate.ClassExport {
		return phi.SelectorOutputGuard
	}
	return phi.SelectorGate
}

func operationFor(class gate.OperationClass) ledger.Operation {
	switch class {
	case gate.ClassIngest, gate.ClassConnectorCall, gate.ClassMockConnector:
		return ledger.OpIngest
	case gate.ClassExport:
		return ledger.OpExport
	default:
		return ledger.OpTransform
	}
}

func relRef(cat quarantine.Category, name string) string {
	return string(cat) + "/" + name
}
