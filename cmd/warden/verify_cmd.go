package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/clinharbor/warden/pkg/ledger"
)

// runVerifyCmd implements `warden verify`.
//
// Replays a ledger partition and checks every entry hash and every
// previous_hash link back to the genesis sentinel.
//
// Exit codes:
//
//	0 = chain intact
//	1 = chain broken
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		ledgerDir  string
		date       string
		jsonOutput bool
	)

	cmd.StringVar(&ledgerDir, "ledger", "", "Path to ledger directory (REQUIRED)")
	cmd.StringVar(&date, "date", "", "Partition date YYYY-MM-DD (default: today UTC)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output report as JSON to stdout")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if ledgerDir == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --ledger is required")
		return 2
	}

	day := time.Now().UTC()
	if date != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: invalid --date: %v\n", err)
			return 2
		}
		day = parsed
	}

	partition := filepath.Join(ledgerDir, ledger.PartitionName(day))
	report, err := ledger.Verify(partition)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: verification failed: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if report.Valid {
		_, _ = fmt.Fprintf(stdout, "chain intact: %s (%d entries)\n", partition, report.Entries)
	} else {
		_, _ = fmt.Fprintf(stdout, "chain BROKEN: %s\n", partition)
		if report.FirstBreakIndex != nil {
			_, _ = fmt.Fprintf(stdout, "first break at entry %d: %s\n", *report.FirstBreakIndex, report.Detail)
		}
	}

	if !report.Valid {
		return 1
	}
	return 0
}
