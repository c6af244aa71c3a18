package phi

import (
	"time"

	"github.com/clinharbor/warden/pkg/canonical"
)

// Location is a bounded reference to where a finding occurred. For text
// scans Offset is a byte offset; for tabular scans Field names the column
// and Row is the zero-based sample row index (-1 for header findings).
type Location struct {
	Field  string `json:"field,omitempty"`
	Offset int    `json:"offset"`
	Row    int    `json:"row,omitempty"`
}

// Finding records a single pattern match. It never contains the matched
// substring; Digest is a short one-way digest retained for correlation.
type Finding struct {
	Category   string   `json:"pattern_category"`
	Tier       Tier     `json:"tier"`
	Location   Location `json:"location"`
	Confidence float64  `json:"confidence"`
	Digest     string   `json:"digest,omitempty"`
}

// Result is the outcome of one scan invocation. Immutable once returned.
type Result struct {
	Detected       bool         `json:"detected"`
	Findings       []Finding    `json:"findings,omitempty"`
	UnitsScanned   int          `json:"total_units_scanned"`
	SeverityCounts map[Tier]int `json:"severity_counts"`
	ScannedAt      time.Time    `json:"scanned_at"`
	PatternVersion string       `json:"pattern_version"`
}

// Categories returns the distinct pattern categories present in the result,
// in first-seen order. Safe to embed in logs and ledger entries.
func (r Result) Categories() []string {
	seen := make(map[string]bool, len(r.Findings))
	var out []string
	for _, f := range r.Findings {
		if !seen[f.Category] {
			seen[f.Category] = true
			out = append(out, f.Category)
		}
	}
	return out
}

// Dataset is a minimal tabular payload: column names plus string rows.
type Dataset struct {
	Columns []string
	Rows    [][]string
}

// Scanner runs compiled pattern sets over payloads. Construct once at
// startup; compilation errors are configuration errors, not per-scan errors.
type Scanner struct {
	set      *PatternSet
	patterns []compiledPattern
	disabled bool
	clock    func() time.Time
}

// Option configures a Scanner at construction.
type Option func(*Scanner)

// WithClock overrides the timestamp source for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Scanner) { s.clock = clock }
}

// Disabled builds a scanner that reports nothing. It exists so tests of
// downstream components can opt out explicitly at construction; there is
// no ambient toggle to flip at runtime.
func Disabled() Option {
	return func(s *Scanner) { s.disabled = true }
}

// NewScanner compiles the pattern set. A malformed expression fails here,
// at startup, never inside a scan.
func NewScanner(set *PatternSet, opts ...Option) (*Scanner, error) {
	if set == nil {
		set = DefaultPatternSet()
	}
	if err := set.validate(); err != nil {
		return nil, err
	}
	compiled, err := compilePatterns(set)
	if err != nil {
		return nil, err
	}
	s := &Scanner{set: set, patterns: compiled, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// PatternVersion returns the version of the loaded pattern set.
func (s *Scanner) PatternVersion() string { return s.set.Version }

// DeniedField reports whether a field name is on the identifying-term
// denylist of the loaded pattern set.
func (s *Scanner) DeniedField(key string) bool { return s.set.DeniedField(key) }

// Scan inspects a single text payload. Empty input yields a clean result.
func (s *Scanner) Scan(text string, sel Selector) Result {
	res := s.newResult()
	if s.disabled || text == "" {
		res.UnitsScanned = len(text)
		return res
	}
	res.UnitsScanned = len(text)
	for _, p := range s.patterns {
		if !sel.includes(p.Tier) {
			continue
		}
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			s.record(&res, p, Location{Offset: loc[0]}, text[loc[0]:loc[1]])
		}
	}
	return res
}

// ScanTabular inspects a dataset. Column names are checked against the
// field denylist regardless of tier selection; cell values are scanned for
// up to sampleRows rows (all rows when sampleRows <= 0).
func (s *Scanner) ScanTabular(ds *Dataset, sampleRows int, sel Selector) Result {
	res := s.newResult()
	if s.disabled || ds == nil {
		return res
	}

	for _, col := range ds.Columns {
		if s.set.DeniedField(col) {
			s.record(&res, compiledPattern{Pattern: Pattern{
				Category:   "field_name",
				Tier:       TierHighConfidence,
				Confidence: 1.0,
			}}, Location{Field: col, Row: -1}, col)
		}
	}

	limit := len(ds.Rows)
	if sampleRows > 0 && sampleRows < limit {
		limit = sampleRows
	}
	for rowIdx := 0; rowIdx < limit; rowIdx++ {
		row := ds.Rows[rowIdx]
		for colIdx, cell := range row {
			if cell == "" {
				continue
			}
			res.UnitsScanned++
			field := ""
			if colIdx < len(ds.Columns) {
				field = ds.Columns[colIdx]
			}
			for _, p := range s.patterns {
				if !sel.includes(p.Tier) {
					continue
				}
				for _, loc := range p.re.FindAllStringIndex(cell, -1) {
					s.record(&res, p, Location{Field: field, Offset: loc[0], Row: rowIdx}, cell[loc[0]:loc[1]])
				}
			}
		}
	}
	return res
}

// ScanRows scans each row of the dataset independently and returns the set
// of row indexes with at least one finding, keyed to their categories.
// Used by the row-quarantine persistence policy.
func (s *Scanner) ScanRows(ds *Dataset, sel Selector) map[int][]string {
	flagged := make(map[int][]string)
	if s.disabled || ds == nil {
		return flagged
	}
	for rowIdx, row := range ds.Rows {
		seen := make(map[string]bool)
		for _, cell := range row {
			if cell == "" {
				continue
			}
			for _, p := range s.patterns {
				if !sel.includes(p.Tier) || seen[p.Category] {
					continue
				}
				if p.re.MatchString(cell) {
					seen[p.Category] = true
					flagged[rowIdx] = append(flagged[rowIdx], p.Category)
				}
			}
		}
	}
	return flagged
}

func (s *Scanner) newResult() Result {
	return Result{
		SeverityCounts: make(map[Tier]int),
		ScannedAt:      s.clock().UTC(),
		PatternVersion: s.set.Version,
	}
}

func (s *Scanner) record(res *Result, p compiledPattern, loc Location, matched string) {
	res.Detected = true
	res.SeverityCounts[p.Tier]++
	res.Findings = append(res.Findings, Finding{
		Category:   p.Category,
		Tier:       p.Tier,
		Location:   loc,
		Confidence: p.Confidence,
		Digest:     canonical.Digest(matched),
	})
}
