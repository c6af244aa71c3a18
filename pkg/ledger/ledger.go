// Package ledger records every governed decision and transformation step in
// an append-only, hash-chained audit log.
//
// One NDJSON file per UTC calendar day forms a partition; each line is an
// independently parseable entry whose entry_hash covers its own content and
// whose previous_hash links it to the partition's prior entry. The first
// entry of a partition links to the GENESIS sentinel. Entries are validated
// fail-closed before they are written — the ledger itself must never leak
// sensitive content.
package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/clinharbor/warden/pkg/canonical"
	"github.com/clinharbor/warden/pkg/phi"
)

// Genesis is the previous_hash sentinel for the first entry of a partition.
const Genesis = "GENESIS"

// Operation enumerates the recordable governed operations.
type Operation string

const (
	OpIngest        Operation = "INGEST"
	OpTransform     Operation = "TRANSFORM"
	OpExport        Operation = "EXPORT"
	OpRowQuarantine Operation = "ROW_QUARANTINE"
	OpRunFailure    Operation = "RUN_FAILURE"
)

func knownOperation(op Operation) bool {
	switch op {
	case OpIngest, OpTransform, OpExport, OpRowQuarantine, OpRunFailure:
		return true
	}
	return false
}

// Counts summarizes row movement for one operation.
type Counts struct {
	RowsIn       int64 `json:"rows_in"`
	RowsOut      int64 `json:"rows_out"`
	RowsAffected int64 `json:"rows_affected"`
}

// Ref points at a quarantined artifact by path and content hash.
type Ref struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// Entry is one committed ledger record. Once written it is never mutated.
// EntryHash is computed over the canonical serialization of the entry with
// EntryHash itself excluded (hence the omitempty tag).
type Entry struct {
	EntryHash    string    `json:"entry_hash,omitempty"`
	PreviousHash string    `json:"previous_hash"`
	RunID        string    `json:"run_id"`
	Timestamp    time.Time `json:"timestamp"`
	Operation    Operation `json:"operation"`
	Counts       Counts    `json:"counts"`
	Warnings     []string  `json:"warnings,omitempty"`
	Errors       []string  `json:"errors,omitempty"`
	InputRefs    []Ref     `json:"input_artifact_refs,omitempty"`
	OutputRefs   []Ref     `json:"output_artifact_refs,omitempty"`
}

// Draft is an entry before the ledger assigns linkage, timestamp and hash.
type Draft struct {
	RunID      string
	Operation  Operation
	Counts     Counts
	Warnings   []string
	Errors     []string
	InputRefs  []Ref
	OutputRefs []Ref
}

// ValidationError rejects a single draft without touching the partition.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledger: invalid entry: %s: %s", e.Field, e.Reason)
}

// Ledger appends hash-chained entries to per-day partition files.
type Ledger struct {
	dir     string
	scanner *phi.Scanner
	clock   func() time.Time

	mu    sync.Mutex
	tails map[string]string // partition path -> hash of last entry
}

// Option configures a Ledger at construction.
type Option func(*Ledger)

// WithClock overrides the timestamp source for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// New creates a ledger rooted at dir. The scanner is mandatory: no entry is
// written without its free-text fields passing a PHI scan.
func New(dir string, scanner *phi.Scanner, opts ...Option) (*Ledger, error) {
	if dir == "" {
		return nil, fmt.Errorf("ledger: empty directory")
	}
	if scanner == nil {
		return nil, fmt.Errorf("ledger: scanner not configured (fail-closed)")
	}
	l := &Ledger{
		dir:     dir,
		scanner: scanner,
		clock:   time.Now,
		tails:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// PartitionName returns the file name of the partition owning entries
// stamped at t.
func PartitionName(t time.Time) string {
	return "audit_" + t.UTC().Format("20060102") + ".json"
}

// PartitionPath returns the partition file owning entries stamped at t.
func (l *Ledger) PartitionPath(t time.Time) string {
	return filepath.Join(l.dir, PartitionName(t))
}

// Append validates the draft, links it to the partition tail, and commits it
// as one flushed line. Appends within a partition are strictly serialized so
// previous_hash linkage never reads a stale tail.
func (l *Ledger) Append(d Draft) (*Entry, error) {
	if err := l.validate(d); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock().UTC()
	partition := l.PartitionPath(now)

	prev, err := l.tailLocked(partition)
	if err != nil {
		return nil, err
	}

	entry := Entry{
		PreviousHash: prev,
		RunID:        d.RunID,
		Timestamp:    now,
		Operation:    d.Operation,
		Counts:       d.Counts,
		Warnings:     d.Warnings,
		Errors:       d.Errors,
		InputRefs:    d.InputRefs,
		OutputRefs:   d.OutputRefs,
	}
	hash, err := hashEntry(entry)
	if err != nil {
		return nil, err
	}
	entry.EntryHash = hash

	line, err := canonical.Marshal(entry)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(l.dir, 0o755); err != nil { //nolint:gosec // G301: ledger dir shared with export tooling
		return nil, fmt.Errorf("ledger: ensure dir: %w", err)
	}
	f, err := os.OpenFile(partition, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644) //nolint:gosec // G302,G304: path derived from clock
	if err != nil {
		return nil, fmt.Errorf("ledger: open partition: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("ledger: append: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("ledger: flush: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("ledger: close partition: %w", err)
	}

	l.tails[partition] = entry.EntryHash
	return &entry, nil
}

// validate enforces the fail-closed entry contract: required fields,
// enumerated operation, non-negative counters, and PHI-free free text.
func (l *Ledger) validate(d Draft) error {
	if d.RunID == "" {
		return &ValidationError{Field: "run_id", Reason: "required"}
	}
	if !knownOperation(d.Operation) {
		return &ValidationError{Field: "operation", Reason: fmt.Sprintf("unknown operation %q", d.Operation)}
	}
	if d.Counts.RowsIn < 0 || d.Counts.RowsOut < 0 || d.Counts.RowsAffected < 0 {
		return &ValidationError{Field: "counts", Reason: "counters must be non-negative"}
	}
	for _, ref := range append(append([]Ref{}, d.InputRefs...), d.OutputRefs...) {
		if !canonical.ValidHash(ref.Hash) {
			return &ValidationError{Field: "artifact_refs", Reason: "ref hash is not a valid content hash"}
		}
	}

	check := func(field string, values []string) error {
		for _, s := range values {
			if res := l.scanner.Scan(s, phi.SelectorOutputGuard); res.Detected {
				// Categories only — never the offending text.
				return &ValidationError{
					Field:  field,
					Reason: fmt.Sprintf("protected identifier pattern detected (%s)", strings.Join(res.Categories(), ",")),
				}
			}
			for _, token := range tokenize(s) {
				if l.scanner.DeniedField(token) {
					return &ValidationError{Field: field, Reason: fmt.Sprintf("identifying term %q in free text", token)}
				}
			}
		}
		return nil
	}
	if err := check("warnings", d.Warnings); err != nil {
		return err
	}
	if err := check("errors", d.Errors); err != nil {
		return err
	}
	return nil
}

// tailLocked returns the hash the next entry must link to. Caller holds mu.
func (l *Ledger) tailLocked(partition string) (string, error) {
	if tail, ok := l.tails[partition]; ok {
		return tail, nil
	}
	entries, err := ReadPartition(partition)
	if err != nil {
		return "", err
	}
	tail := Genesis
	if len(entries) > 0 {
		tail = entries[len(entries)-1].EntryHash
	}
	l.tails[partition] = tail
	return tail, nil
}

func hashEntry(e Entry) (string, error) {
	e.EntryHash = ""
	return canonical.Hash(e)
}

// tokenize splits free text into identifier-like tokens for the key-name
// denylist check. Underscores and hyphens stay inside tokens so terms such
// as "patient_name" survive splitting.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return false
		case r == '_' || r == '-':
			return false
		}
		return true
	})
}
