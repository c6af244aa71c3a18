package phi

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
}

func newTestScanner(t *testing.T, opts ...Option) *Scanner {
	t.Helper()
	opts = append([]Option{WithClock(fixedClock)}, opts...)
	s, err := NewScanner(DefaultPatternSet(), opts...)
	require.NoError(t, err)
	return s
}

func TestScan_EmptyInput(t *testing.T) {
	s := newTestScanner(t)
	res := s.Scan("", SelectorGate)
	assert.False(t, res.Detected)
	assert.Empty(t, res.Findings)
	assert.Equal(t, 0, res.UnitsScanned)
}

func TestScan_CleanInput(t *testing.T) {
	s := newTestScanner(t)
	res := s.Scan("aggregate cohort statistics, n=412, p<0.05", SelectorOutputGuard)
	assert.False(t, res.Detected)
	assert.Empty(t, res.Findings)
}

func TestScan_OneFindingPerCategory(t *testing.T) {
	s := newTestScanner(t)
	seeded := "ssn 123-45-6789 mrn: 12345678 contact alice@example.org " +
		"call (555) 867-5309 born 03/14/1985 from 10.0.0.17"

	res := s.Scan(seeded, SelectorOutputGuard)
	require.True(t, res.Detected)

	byCategory := make(map[string]int)
	for _, f := range res.Findings {
		byCategory[f.Category]++
	}
	for _, cat := range []string{"ssn", "mrn", "email", "phone", "dob", "ip_address"} {
		assert.Equal(t, 1, byCategory[cat], "category %s", cat)
	}
}

func TestScan_NeverStoresMatchedSubstring(t *testing.T) {
	s := newTestScanner(t)
	res := s.Scan("patient ssn is 123-45-6789", SelectorGate)
	require.True(t, res.Detected)
	for _, f := range res.Findings {
		assert.NotContains(t, f.Digest, "123-45-6789")
		assert.Len(t, f.Digest, 12)
		assert.Equal(t, "ssn", f.Category)
	}
}

func TestScan_GateExcludesExtendedTier(t *testing.T) {
	s := newTestScanner(t)
	// Phone is extended-tier only: blocking gate scans must not flag it.
	res := s.Scan("call (555) 867-5309", SelectorGate)
	assert.False(t, res.Detected)

	res = s.Scan("call (555) 867-5309", SelectorOutputGuard)
	assert.True(t, res.Detected)
}

func TestScan_Deterministic(t *testing.T) {
	s := newTestScanner(t)
	input := "ids 123-45-6789 and 987-65-4321, mail bob@example.com"
	r1 := s.Scan(input, SelectorOutputGuard)
	r2 := s.Scan(input, SelectorOutputGuard)
	assert.Equal(t, r1, r2)
}

func TestScanTabular_ColumnDenylist(t *testing.T) {
	s := newTestScanner(t)
	ds := &Dataset{
		Columns: []string{"cohort", "Patient_Name", "mrn", "outcome"},
		Rows:    [][]string{{"A", "x", "y", "remission"}},
	}
	res := s.ScanTabular(ds, 0, SelectorGate)
	require.True(t, res.Detected)

	var denied []string
	for _, f := range res.Findings {
		if f.Category == "field_name" {
			denied = append(denied, f.Location.Field)
			assert.Equal(t, -1, f.Location.Row)
		}
	}
	assert.ElementsMatch(t, []string{"Patient_Name", "mrn"}, denied)
}

func TestScanTabular_ValueScanSampled(t *testing.T) {
	s := newTestScanner(t)
	ds := &Dataset{
		Columns: []string{"note"},
		Rows: [][]string{
			{"clean row"},
			{"ssn 123-45-6789"},
		},
	}

	// Sampling only the first row misses the SSN in the second.
	res := s.ScanTabular(ds, 1, SelectorGate)
	assert.False(t, res.Detected)

	res = s.ScanTabular(ds, 0, SelectorGate)
	require.True(t, res.Detected)
	assert.Equal(t, "note", res.Findings[0].Location.Field)
	assert.Equal(t, 1, res.Findings[0].Location.Row)
}

func TestScanRows_FlagsOffendingRowsOnly(t *testing.T) {
	s := newTestScanner(t)
	ds := &Dataset{
		Columns: []string{"note"},
		Rows: [][]string{
			{"clean"},
			{"ssn 123-45-6789"},
			{"clean"},
			{"reach me at eve@example.net"},
		},
	}
	flagged := s.ScanRows(ds, SelectorGate)
	assert.Equal(t, map[int][]string{1: {"ssn"}, 3: {"email"}}, flagged)
}

func TestDisabledScanner(t *testing.T) {
	s := newTestScanner(t, Disabled())
	res := s.Scan("ssn 123-45-6789", SelectorGate)
	assert.False(t, res.Detected)
}

func TestNewScanner_BadPatternFailsAtConstruction(t *testing.T) {
	set := &PatternSet{
		Version:  "1.0.0",
		Patterns: []Pattern{{Category: "broken", Tier: TierHighConfidence, Expression: `[unclosed`}},
	}
	_, err := NewScanner(set)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestLoadPatternSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")
	content := `version: "2.1.0"
patterns:
  - category: ssn
    tier: HIGH_CONFIDENCE
    expression: '\b\d{3}-\d{2}-\d{4}\b'
    confidence: 0.98
field_denylist:
  - ssn
  - patient_name
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	set, err := LoadPatternSet(path)
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", set.Version)
	assert.Len(t, set.Patterns, 1)

	s, err := NewScanner(set, WithClock(fixedClock))
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", s.PatternVersion())
	assert.True(t, s.Scan("123-45-6789", SelectorGate).Detected)
}

func TestLoadPatternSet_RejectsBadVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: not-a-version\n"), 0o600))
	_, err := LoadPatternSet(path)
	require.Error(t, err)
}

func TestDeniedField_Normalization(t *testing.T) {
	set := DefaultPatternSet()
	assert.True(t, set.DeniedField("Patient_Name"))
	assert.True(t, set.DeniedField("patientName"))
	assert.True(t, set.DeniedField("SSN"))
	assert.True(t, set.DeniedField("date-of-birth"))
	assert.False(t, set.DeniedField("payload_hash"))
	assert.False(t, set.DeniedField("content_type_header")) // exact match only
	assert.False(t, set.DeniedField(""))
}
