package main

import (
	"fmt"
	"io"

	"github.com/clinharbor/warden/pkg/config"
	"github.com/clinharbor/warden/pkg/gate"
)

// runModeCmd implements `warden mode`.
//
// Prints the effective operating posture from the environment and the gate
// decision for every operation class under it.
func runModeCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: warden mode")
		return 2
	}

	cfg := config.Load()
	mode := gate.ParseMode(cfg.Mode)
	flags := gate.Flags{NetworkDisabled: cfg.NetworkDisabled, MockOnly: cfg.MockOnly}
	g := gate.Default()

	_, _ = fmt.Fprintf(stdout, "mode:             %s\n", mode)
	_, _ = fmt.Fprintf(stdout, "network_disabled: %v\n", cfg.NetworkDisabled)
	_, _ = fmt.Fprintf(stdout, "mock_only:        %v\n", cfg.MockOnly)
	_, _ = fmt.Fprintln(stdout, "")

	classes := []gate.OperationClass{
		gate.ClassIngest,
		gate.ClassTransform,
		gate.ClassExport,
		gate.ClassConnectorCall,
		gate.ClassMockConnector,
	}
	for _, class := range classes {
		d := g.Evaluate(mode, class, flags)
		verdict := "BLOCKED"
		if d.Allowed {
			verdict = "allowed"
		}
		_, _ = fmt.Fprintf(stdout, "%-15s %s (%s)\n", string(class), verdict, d.Reason)
	}
	return 0
}
