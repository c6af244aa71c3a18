package runtime

import (
	"fmt"
	"strings"

	"github.com/clinharbor/warden/pkg/gate"
	"github.com/clinharbor/warden/pkg/phi"
)

// ModeBlockedError means the operation class is not permitted under the
// current operating mode. Not retryable within this process.
type ModeBlockedError struct {
	Decision gate.Decision
}

func (e *ModeBlockedError) Error() string {
	return fmt.Sprintf("runtime: operation blocked under mode %s: %s", e.Decision.Mode, e.Decision.Reason)
}

// SandboxNetworkError means sandbox mode was requested while the environment
// could not attest that networking is disabled.
type SandboxNetworkError struct {
	Decision gate.Decision
}

func (e *SandboxNetworkError) Error() string {
	return "runtime: sandbox requires network to be disabled"
}

// blockErr maps a gate decision onto the error taxonomy.
func blockErr(d gate.Decision) error {
	if d.Reason == gate.ReasonSandboxNetworkEnabled {
		return &SandboxNetworkError{Decision: d}
	}
	return &ModeBlockedError{Decision: d}
}

// PHIDetectedError is the fail-closed block on a payload that matched
// protected-identifier patterns. It carries scan metadata only — categories,
// counts, locations — never matched content.
type PHIDetectedError struct {
	Stage  string
	Result phi.Result
}

func (e *PHIDetectedError) Error() string {
	return fmt.Sprintf("runtime: protected identifiers detected during %s (categories: %s)",
		e.Stage, strings.Join(e.Result.Categories(), ","))
}

// WorkError wraps a failure raised by the governed work function after it
// has been recorded on the ledger.
type WorkError struct {
	RunID string
	Err   error
}

func (e *WorkError) Error() string {
	return fmt.Sprintf("runtime: governed work failed for run %s: %v", e.RunID, e.Err)
}

func (e *WorkError) Unwrap() error { return e.Err }
