package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/clinharbor/warden/pkg/phi"
)

// runScanCmd implements `warden scan`.
//
// Scans a file for protected-identifier patterns and prints scan metadata.
// Matched content is never printed, only categories, locations and digests.
//
// Exit codes:
//
//	0 = clean
//	1 = findings
//	2 = runtime error
func runScanCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("scan", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		file        string
		patternPath string
		outputGuard bool
		jsonOutput  bool
	)

	cmd.StringVar(&file, "file", "", "Path to file to scan (REQUIRED)")
	cmd.StringVar(&patternPath, "patterns", "", "Path to pattern set YAML (default: built-in set)")
	cmd.BoolVar(&outputGuard, "output-guard", false, "Scan with the extended output-guard tier")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON to stdout")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if file == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --file is required")
		return 2
	}

	set := phi.DefaultPatternSet()
	if patternPath != "" {
		loaded, err := phi.LoadPatternSet(patternPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: cannot load pattern set: %v\n", err)
			return 2
		}
		set = loaded
	}

	scanner, err := phi.NewScanner(set)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: cannot build scanner: %v\n", err)
		return 2
	}

	data, err := os.ReadFile(file)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: cannot read file: %v\n", err)
		return 2
	}

	sel := phi.SelectorGate
	if outputGuard {
		sel = phi.SelectorOutputGuard
	}
	result := scanner.Scan(string(data), sel)

	if jsonOutput {
		out, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(out))
	} else if result.Detected {
		_, _ = fmt.Fprintf(stdout, "findings: %d (categories: %v)\n", len(result.Findings), result.Categories())
		for _, f := range result.Findings {
			_, _ = fmt.Fprintf(stdout, "  %-12s tier=%s offset=%d digest=%s\n",
				f.Category, f.Tier, f.Location.Offset, f.Digest)
		}
	} else {
		_, _ = fmt.Fprintf(stdout, "clean (%d units scanned, pattern set %s)\n",
			result.UnitsScanned, result.PatternVersion)
	}

	if result.Detected {
		return 1
	}
	return 0
}
