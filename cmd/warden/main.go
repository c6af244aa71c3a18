package main

import (
	"fmt"
	"io"
	"os"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "scan":
		return runScanCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "mode":
		return runModeCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "warden - governance gate, PHI scanning and provenance ledger tooling")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  warden verify --ledger <dir> [--date YYYY-MM-DD] [--json]")
	fmt.Fprintln(w, "  warden scan   --file <path> [--patterns <yaml>] [--output-guard] [--json]")
	fmt.Fprintln(w, "  warden export --ledger <dir> --out <zip> [--date YYYY-MM-DD]")
	fmt.Fprintln(w, "  warden mode")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Exit codes: 0 = ok, 1 = check failed, 2 = runtime error")
	fmt.Fprintln(w, "")
}
