// Package gate decides whether an operation class may proceed under the
// current operating mode.
//
// Evaluate is pure and total: every (mode, class, flags) triple yields a
// decision, absence of explicit permission is denial, and the gate itself
// performs no side effects. Acting on the decision — and receipting it — is
// the caller's job.
package gate

// Mode is the process-wide operating posture, fixed at process start.
type Mode string

const (
	// ModeStandby blocks every side-effecting operation.
	ModeStandby Mode = "STANDBY"
	// ModeSandbox allows offline/synthetic operations only, and only while
	// the environment attests that networking is disabled.
	ModeSandbox Mode = "SANDBOX"
	// ModeActive allows explicitly enabled operation classes against real
	// collaborators in non-production environments.
	ModeActive Mode = "ACTIVE"
	// ModeLive is ModeActive for production.
	ModeLive Mode = "LIVE"
)

// ParseMode maps a configuration string onto a known Mode. Anything
// unrecognized collapses to ModeStandby, the fail-closed posture.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeStandby, ModeSandbox, ModeActive, ModeLive:
		return Mode(s)
	default:
		return ModeStandby
	}
}

// OperationClass categorizes governed work.
type OperationClass string

const (
	ClassIngest        OperationClass = "INGEST"
	ClassTransform     OperationClass = "TRANSFORM"
	ClassExport        OperationClass = "EXPORT"
	ClassConnectorCall OperationClass = "CONNECTOR_CALL"
	ClassMockConnector OperationClass = "MOCK_CONNECTOR"
)

// Flags are environment attestations consumed, not owned, by the gate.
type Flags struct {
	// NetworkDisabled is set by the environment when outbound networking is
	// verifiably off. Sandbox mode requires it.
	NetworkDisabled bool
	// MockOnly restricts connector classes to their mock variants.
	MockOnly bool
}

// Reason is the enumerated code explaining a decision.
type Reason string

const (
	ReasonAllowed               Reason = "ALLOWED"
	ReasonModeStandby           Reason = "MODE_STANDBY"
	ReasonModeUnrecognized      Reason = "MODE_UNRECOGNIZED"
	ReasonSandboxNetworkEnabled Reason = "SANDBOX_NETWORK_ENABLED"
	ReasonClassNotOfflineSafe   Reason = "CLASS_NOT_OFFLINE_SAFE"
	ReasonClassNotEnabled       Reason = "CLASS_NOT_ENABLED"
	ReasonMockOnly              Reason = "MOCK_ONLY"

	// ReasonPHIDetected and ReasonCancelled are never produced by Evaluate;
	// the orchestrator uses them when receipting post-gate blocks.
	ReasonPHIDetected Reason = "PHI_DETECTED"
	ReasonCancelled   Reason = "CANCELLED"
)

// Decision is a pure value computed fresh per request. It is never persisted
// on its own, only inside a decision event.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason_code"`
	Mode    Mode   `json:"mode"`
}

// Gate holds the static permission tables. Construct once, inject where
// needed; there is no global instance.
type Gate struct {
	// offlineSafe marks classes with no real external side effects, safe
	// for sandbox execution.
	offlineSafe map[OperationClass]bool
	// enabled lists the classes explicitly switched on per real mode.
	// Unlisted classes default to blocked.
	enabled map[Mode]map[OperationClass]bool
	// networkBound marks classes that reach outside the process.
	networkBound map[OperationClass]bool
}

// New builds a gate from explicit permission tables.
func New(offlineSafe []OperationClass, enabled map[Mode][]OperationClass, networkBound []OperationClass) *Gate {
	g := &Gate{
		offlineSafe:  make(map[OperationClass]bool, len(offlineSafe)),
		enabled:      make(map[Mode]map[OperationClass]bool, len(enabled)),
		networkBound: make(map[OperationClass]bool, len(networkBound)),
	}
	for _, c := range offlineSafe {
		g.offlineSafe[c] = true
	}
	for mode, classes := range enabled {
		g.enabled[mode] = make(map[OperationClass]bool, len(classes))
		for _, c := range classes {
			g.enabled[mode][c] = true
		}
	}
	for _, c := range networkBound {
		g.networkBound[c] = true
	}
	return g
}

// Default returns the standard permission tables: transforms and mock
// connectors are offline-safe; Active and Live enable the full governed
// class set; connector calls are network-bound.
func Default() *Gate {
	all := []OperationClass{ClassIngest, ClassTransform, ClassExport, ClassConnectorCall, ClassMockConnector}
	return New(
		[]OperationClass{ClassTransform, ClassMockConnector, ClassIngest},
		map[Mode][]OperationClass{
			ModeActive: all,
			ModeLive:   all,
		},
		[]OperationClass{ClassConnectorCall},
	)
}

// Evaluate computes the decision for one request. No side effects.
func (g *Gate) Evaluate(mode Mode, class OperationClass, flags Flags) Decision {
	blocked := func(r Reason) Decision { return Decision{Allowed: false, Reason: r, Mode: mode} }

	if flags.MockOnly && g.networkBound[class] {
		return blocked(ReasonMockOnly)
	}

	switch mode {
	case ModeStandby:
		return blocked(ReasonModeStandby)
	case ModeSandbox:
		if !flags.NetworkDisabled {
			// Sandbox must remain offline-safe; a live network invalidates it.
			return blocked(ReasonSandboxNetworkEnabled)
		}
		if !g.offlineSafe[class] {
			return blocked(ReasonClassNotOfflineSafe)
		}
		return Decision{Allowed: true, Reason: ReasonAllowed, Mode: mode}
	case ModeActive, ModeLive:
		if !g.enabled[mode][class] {
			return blocked(ReasonClassNotEnabled)
		}
		return Decision{Allowed: true, Reason: ReasonAllowed, Mode: mode}
	default:
		return blocked(ReasonModeUnrecognized)
	}
}
