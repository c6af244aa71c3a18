package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/clinharbor/warden/pkg/ledger"
)

// runExportCmd implements `warden export`.
//
// Packages a ledger partition into an evidence zip for handoff to auditors.
// A partition with a broken chain is still exported, flagged as invalid.
//
// Exit codes:
//
//	0 = pack written, chain intact
//	1 = pack written, chain broken (or nothing to export)
//	2 = runtime error
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		ledgerDir string
		outPath   string
		date      string
	)

	cmd.StringVar(&ledgerDir, "ledger", "", "Path to ledger directory (REQUIRED)")
	cmd.StringVar(&outPath, "out", "", "Path for the evidence pack zip (REQUIRED)")
	cmd.StringVar(&date, "date", "", "Partition date YYYY-MM-DD (default: today UTC)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if ledgerDir == "" || outPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --ledger and --out are required")
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
	zipData, pack, err := ledger.ExportPack(partition, time.Now().UTC())
	if err != nil {
		if errors.Is(err, ledger.ErrEmptyPartition) {
			_, _ = fmt.Fprintf(stderr, "nothing to export: %s\n", partition)
			return 1
		}
		_, _ = fmt.Fprintf(stderr, "Error: export failed: %v\n", err)
		return 2
	}

	if err := os.WriteFile(outPath, zipData, 0o644); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: cannot write pack: %v\n", err)
		return 2
	}

	_, _ = fmt.Fprintf(stdout, "evidence pack written: %s\n", outPath)
	_, _ = fmt.Fprintf(stdout, "entries: %d  chain_head: %s\n", pack.EntryCount, pack.ChainHead)
	_, _ = fmt.Fprintf(stdout, "checksum: %s\n", pack.Checksum)

	if !pack.ChainValid {
		_, _ = fmt.Fprintln(stdout, "WARNING: chain broken, pack exported for forensics")
		return 1
	}
	return 0
}
