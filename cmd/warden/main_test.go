package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinharbor/warden/pkg/ledger"
	"github.com/clinharbor/warden/pkg/phi"
)

func seedLedger(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	scanner, err := phi.NewScanner(phi.DefaultPatternSet())
	require.NoError(t, err)
	led, err := ledger.New(dir, scanner)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := led.Append(ledger.Draft{
			RunID:     "run-" + string(rune('a'+i)),
			Operation: ledger.OpTransform,
			Counts:    ledger.Counts{RowsIn: 5, RowsOut: 5},
		})
		require.NoError(t, err)
	}
	return dir
}

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"warden"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunNoArgsShowsUsage(t *testing.T) {
	code, _, errOut := run()
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Usage:")
}

func TestRunUnknownCommand(t *testing.T) {
	code, _, errOut := run("destroy")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Unknown command")
}

func TestVerifyIntactChain(t *testing.T) {
	dir := seedLedger(t)
	code, out, _ := run("verify", "--ledger", dir)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "chain intact")
	assert.Contains(t, out, "3 entries")
}

func TestVerifyMissingPartitionIsIntactAndEmpty(t *testing.T) {
	code, out, _ := run("verify", "--ledger", t.TempDir())
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "0 entries")
}

func TestVerifyBrokenChain(t *testing.T) {
	dir := seedLedger(t)
	partition := filepath.Join(dir, ledger.PartitionName(time.Now().UTC()))
	raw, err := os.ReadFile(partition)
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `"rows_in":5`, `"rows_in":6`, 1)
	require.NoError(t, os.WriteFile(partition, []byte(tampered), 0o644))

	code, out, _ := run("verify", "--ledger", dir)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "chain BROKEN")
	assert.Contains(t, out, "first break at entry 0")
}

func TestVerifyRejectsBadDate(t *testing.T) {
	code, _, errOut := run("verify", "--ledger", t.TempDir(), "--date", "yesterday")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "invalid --date")
}

func TestScanCleanFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("cohort totals look plausible"), 0o644))

	code, out, _ := run("scan", "--file", path)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "clean")
}

func TestScanFindingsNeverEchoContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("subject ssn 123-45-6789"), 0o644))

	code, out, _ := run("scan", "--file", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "ssn")
	assert.NotContains(t, out, "123-45-6789")
}

func TestScanOutputGuardWidensTier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("call 415-555-0187"), 0o644))

	code, _, _ := run("scan", "--file", path)
	assert.Equal(t, 0, code)

	code, out, _ := run("scan", "--file", path, "--output-guard")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "phone")
}

func TestExportPackRoundTrip(t *testing.T) {
	dir := seedLedger(t)
	out := filepath.Join(t.TempDir(), "pack.zip")

	code, stdout, _ := run("export", "--ledger", dir, "--out", out)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "evidence pack written")
	assert.FileExists(t, out)
}

func TestExportEmptyPartition(t *testing.T) {
	out := filepath.Join(t.TempDir(), "pack.zip")
	code, _, errOut := run("export", "--ledger", t.TempDir(), "--out", out)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "nothing to export")
}

func TestModeDefaultsToStandby(t *testing.T) {
	t.Setenv("WARDEN_MODE", "")
	code, out, _ := run("mode")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "STANDBY")
	assert.Contains(t, out, "BLOCKED")
	assert.NotContains(t, out, "allowed")
}

func TestModeSandboxAllowsOfflineClasses(t *testing.T) {
	t.Setenv("WARDEN_MODE", "SANDBOX")
	t.Setenv("WARDEN_NETWORK_DISABLED", "true")
	code, out, _ := run("mode")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "TRANSFORM       allowed")
	assert.Contains(t, out, "CONNECTOR_CALL  BLOCKED")
}
