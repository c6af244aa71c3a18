package ledger

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// ErrEmptyPartition is returned when an export targets a partition with no
// entries. Exports are evidence; an empty pack would attest to nothing.
var ErrEmptyPartition = errors.New("ledger: partition has no entries to export")

// EvidencePack is the exported audit bundle for one partition.
type EvidencePack struct {
	Partition   string    `json:"partition"`
	GeneratedAt time.Time `json:"generated_at"`
	EntryCount  int       `json:"entry_count"`
	ChainHead   string    `json:"chain_head"`
	ChainValid  bool      `json:"chain_valid"`
	Checksum    string    `json:"checksum"`
}

// ExportPack verifies a partition, zips its entries with a manifest, and
// returns the archive bytes plus the pack metadata. The chain is verified
// first so the manifest records its state at export time; a broken chain is
// exported faithfully, never repaired.
func ExportPack(partitionPath string, now time.Time) ([]byte, *EvidencePack, error) {
	entries, err := ReadPartition(partitionPath)
	if err != nil {
		return nil, nil, err
	}
	if len(entries) == 0 {
		return nil, nil, ErrEmptyPartition
	}

	report, err := Verify(partitionPath)
	if err != nil {
		return nil, nil, err
	}

	entriesJSON, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("ledger: marshal entries: %w", err)
	}

	head := entries[len(entries)-1].EntryHash
	manifest := map[string]any{
		"partition":    filepath.Base(partitionPath),
		"generated_at": now.UTC(),
		"entry_count":  len(entries),
		"chain_head":   head,
		"chain_valid":  report.Valid,
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("ledger: marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("entries.json")
	if err != nil {
		return nil, nil, fmt.Errorf("ledger: create archive member: %w", err)
	}
	_, _ = f.Write(entriesJSON)

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, nil, fmt.Errorf("ledger: create archive member: %w", err)
	}
	_, _ = f.Write(manifestJSON)

	if err := w.Close(); err != nil {
		return nil, nil, fmt.Errorf("ledger: finalize archive: %w", err)
	}

	zipBytes := buf.Bytes()
	sum := sha256.Sum256(zipBytes)
	pack := &EvidencePack{
		Partition:   filepath.Base(partitionPath),
		GeneratedAt: now.UTC(),
		EntryCount:  len(entries),
		ChainHead:   head,
		ChainValid:  report.Valid,
		Checksum:    hex.EncodeToString(sum[:]),
	}
	return zipBytes, pack, nil
}
