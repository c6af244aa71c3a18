package ledger

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinharbor/warden/pkg/canonical"
	"github.com/clinharbor/warden/pkg/phi"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	scanner, err := phi.NewScanner(phi.DefaultPatternSet(), phi.WithClock(fixedClock))
	require.NoError(t, err)
	l, err := New(t.TempDir(), scanner, WithClock(fixedClock))
	require.NoError(t, err)
	return l
}

func draft(runID string) Draft {
	return Draft{
		RunID:     runID,
		Operation: OpTransform,
		Counts:    Counts{RowsIn: 10, RowsOut: 10},
	}
}

func TestAppend_FirstEntryLinksGenesis(t *testing.T) {
	l := newTestLedger(t)
	e, err := l.Append(draft("r1"))
	require.NoError(t, err)
	assert.Equal(t, Genesis, e.PreviousHash)
	assert.True(t, canonical.ValidHash(e.EntryHash))
}

func TestAppend_ChainsToPredecessor(t *testing.T) {
	l := newTestLedger(t)
	e1, err := l.Append(draft("r1"))
	require.NoError(t, err)
	e2, err := l.Append(draft("r2"))
	require.NoError(t, err)
	assert.Equal(t, e1.EntryHash, e2.PreviousHash)
}

func TestAppend_TailSurvivesReopen(t *testing.T) {
	scanner, err := phi.NewScanner(phi.DefaultPatternSet())
	require.NoError(t, err)
	dir := t.TempDir()

	l1, err := New(dir, scanner, WithClock(fixedClock))
	require.NoError(t, err)
	e1, err := l1.Append(draft("r1"))
	require.NoError(t, err)

	// A fresh ledger over the same directory reads the tail from disk.
	l2, err := New(dir, scanner, WithClock(fixedClock))
	require.NoError(t, err)
	e2, err := l2.Append(draft("r2"))
	require.NoError(t, err)
	assert.Equal(t, e1.EntryHash, e2.PreviousHash)
}

func TestVerify_ValidChain(t *testing.T) {
	l := newTestLedger(t)
	for i := 0; i < 5; i++ {
		_, err := l.Append(draft("r1"))
		require.NoError(t, err)
	}

	report, err := Verify(l.PartitionPath(fixedClock()))
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 5, report.Entries)
	assert.Nil(t, report.FirstBreakIndex)
	assert.NoError(t, report.Err("p"))
}

func TestVerify_EmptyPartitionTriviallyValid(t *testing.T) {
	l := newTestLedger(t)
	report, err := Verify(l.PartitionPath(fixedClock()))
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 0, report.Entries)
}

func TestVerify_DetectsMutatedField(t *testing.T) {
	l := newTestLedger(t)
	for i := 0; i < 4; i++ {
		_, err := l.Append(draft("r1"))
		require.NoError(t, err)
	}
	partition := l.PartitionPath(fixedClock())

	// Tamper with entry index 2: flip a count in the stored line.
	data, err := os.ReadFile(partition)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	lines[2] = strings.Replace(lines[2], `"rows_in":10`, `"rows_in":9`, 1)
	require.NoError(t, os.WriteFile(partition, []byte(strings.Join(lines, "\n")+"\n"), 0o600))

	report, err := Verify(partition)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.NotNil(t, report.FirstBreakIndex)
	assert.Equal(t, 2, *report.FirstBreakIndex)

	var integrity *IntegrityError
	require.ErrorAs(t, report.Err(partition), &integrity)
	assert.Equal(t, 2, integrity.Index)
}

func TestVerify_DetectsBrokenLink(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Append(draft("r1"))
	require.NoError(t, err)
	_, err = l.Append(draft("r2"))
	require.NoError(t, err)
	partition := l.PartitionPath(fixedClock())

	// Remove the first line: the second entry's previous_hash now dangles.
	data, err := os.ReadFile(partition)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.NoError(t, os.WriteFile(partition, []byte(lines[1]+"\n"), 0o600))

	report, err := Verify(partition)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.NotNil(t, report.FirstBreakIndex)
	assert.Equal(t, 0, *report.FirstBreakIndex)
}

func TestAppend_RejectsUnknownOperation(t *testing.T) {
	l := newTestLedger(t)
	d := draft("r1")
	d.Operation = Operation("COMPACT")
	_, err := l.Append(d)
	var v *ValidationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "operation", v.Field)
}

func TestAppend_RejectsNegativeCounts(t *testing.T) {
	l := newTestLedger(t)
	d := draft("r1")
	d.Counts.RowsOut = -1
	_, err := l.Append(d)
	var v *ValidationError
	require.ErrorAs(t, err, &v)
}

func TestAppend_RejectsMissingRunID(t *testing.T) {
	l := newTestLedger(t)
	d := draft("")
	_, err := l.Append(d)
	var v *ValidationError
	require.ErrorAs(t, err, &v)
}

func TestAppend_RejectsPHIInWarnings(t *testing.T) {
	l := newTestLedger(t)
	d := draft("r1")
	d.Warnings = []string{"row 7 rejected, value 123-45-6789 out of range"}
	_, err := l.Append(d)
	var v *ValidationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "warnings", v.Field)
	// The rejection itself must not echo the offending value.
	assert.NotContains(t, err.Error(), "123-45-6789")

	// Nothing was written to the partition.
	report, verr := Verify(l.PartitionPath(fixedClock()))
	require.NoError(t, verr)
	assert.Equal(t, 0, report.Entries)
}

func TestAppend_RejectsDeniedTermInErrors(t *testing.T) {
	l := newTestLedger(t)
	d := draft("r1")
	d.Errors = []string{"column patient_name failed schema check"}
	_, err := l.Append(d)
	var v *ValidationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "errors", v.Field)
}

func TestAppend_RejectsInvalidRefHash(t *testing.T) {
	l := newTestLedger(t)
	d := draft("r1")
	d.OutputRefs = []Ref{{Path: "outputs/output_r1.json", Hash: "not-a-hash"}}
	_, err := l.Append(d)
	var v *ValidationError
	require.ErrorAs(t, err, &v)
}

func TestNew_RequiresScanner(t *testing.T) {
	_, err := New(t.TempDir(), nil)
	require.Error(t, err)
}

func TestExportPack(t *testing.T) {
	l := newTestLedger(t)
	e1, err := l.Append(draft("r1"))
	require.NoError(t, err)
	_, err = l.Append(draft("r2"))
	require.NoError(t, err)
	partition := l.PartitionPath(fixedClock())

	zipBytes, pack, err := ExportPack(partition, fixedClock())
	require.NoError(t, err)
	assert.NotEmpty(t, zipBytes)
	assert.Equal(t, 2, pack.EntryCount)
	assert.True(t, pack.ChainValid)
	assert.NotEqual(t, e1.EntryHash, pack.ChainHead)
	assert.Len(t, pack.Checksum, 64)
}

func TestExportPack_EmptyPartition(t *testing.T) {
	l := newTestLedger(t)
	_, _, err := ExportPack(l.PartitionPath(fixedClock()), fixedClock())
	require.ErrorIs(t, err, ErrEmptyPartition)
}
