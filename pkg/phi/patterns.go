// Package phi detects protected health information in text and tabular
// payloads before anything is persisted or logged.
//
// Detection is pattern-driven and versioned: a PatternSet is loaded once at
// startup, compiled once, and every scan against the same set is fully
// deterministic. Scan results carry pattern categories, tiers, and bounded
// locations only — never the matched substring itself.
package phi

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Tier classifies the precision of a detection pattern.
type Tier string

const (
	// TierHighConfidence patterns have a low false-positive rate and gate
	// ingestion and persistence. A match here is blocking.
	TierHighConfidence Tier = "HIGH_CONFIDENCE"
	// TierExtended patterns trade precision for recall. They are combined
	// with TierHighConfidence for outbound scanning, where a reviewer
	// triages flags rather than the pipeline auto-blocking.
	TierExtended Tier = "EXTENDED"
)

// Selector chooses which tiers participate in a scan.
type Selector string

const (
	// SelectorGate runs only high-confidence patterns. Used for
	// ingestion/persistence where a match blocks the operation.
	SelectorGate Selector = "GATE"
	// SelectorOutputGuard runs high-confidence plus extended patterns.
	// Used for export paths where findings are reviewed, not auto-blocked.
	SelectorOutputGuard Selector = "OUTPUT_GUARD"
)

func (s Selector) includes(t Tier) bool {
	if s == SelectorOutputGuard {
		return true
	}
	return t == TierHighConfidence
}

// Pattern is one identifier-recognition rule.
type Pattern struct {
	Category   string  `yaml:"category"`
	Tier       Tier    `yaml:"tier"`
	Expression string  `yaml:"expression"`
	Confidence float64 `yaml:"confidence"`
}

// PatternSet is a versioned collection of detection patterns plus the
// denylist of identifying field names used for tabular and metadata checks.
type PatternSet struct {
	Version       string    `yaml:"version"`
	Patterns      []Pattern `yaml:"patterns"`
	FieldDenylist []string  `yaml:"field_denylist"`
}

// LoadPatternSet reads a pattern set from a YAML file. The version must be
// valid semver; malformed expressions surface later, at Scanner construction.
func LoadPatternSet(path string) (*PatternSet, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("phi: load pattern set: %w", err)
	}
	var set PatternSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("phi: parse pattern set %s: %w", path, err)
	}
	if err := set.validate(); err != nil {
		return nil, err
	}
	return &set, nil
}

func (s *PatternSet) validate() error {
	if s.Version == "" {
		return fmt.Errorf("phi: pattern set has no version")
	}
	if _, err := semver.NewVersion(s.Version); err != nil {
		return fmt.Errorf("phi: pattern set version %q is not semver: %w", s.Version, err)
	}
	for _, p := range s.Patterns {
		if p.Category == "" {
			return fmt.Errorf("phi: pattern with empty category")
		}
		if p.Tier != TierHighConfidence && p.Tier != TierExtended {
			return fmt.Errorf("phi: pattern %q has unknown tier %q", p.Category, p.Tier)
		}
	}
	return nil
}

// DefaultPatternSet returns the built-in pattern data. Deployments normally
// override it with a reviewed, versioned YAML file.
func DefaultPatternSet() *PatternSet {
	return &PatternSet{
		Version: "1.0.0",
		Patterns: []Pattern{
			{Category: "ssn", Tier: TierHighConfidence, Expression: `\b\d{3}-\d{2}-\d{4}\b`, Confidence: 0.98},
			{Category: "mrn", Tier: TierHighConfidence, Expression: `\b(?i:mrn)[:#\s]*\d{6,10}\b`, Confidence: 0.95},
			{Category: "email", Tier: TierHighConfidence, Expression: `\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`, Confidence: 0.95},
			{Category: "phone", Tier: TierExtended, Expression: `\b\(?\d{3}\)?[-.\s]\d{3}[-.\s]?\d{4}\b`, Confidence: 0.70},
			{Category: "dob", Tier: TierExtended, Expression: `\b(0?[1-9]|1[0-2])/(0?[1-9]|[12]\d|3[01])/(19|20)\d{2}\b`, Confidence: 0.60},
			{Category: "ip_address", Tier: TierExtended, Expression: `\b(?:\d{1,3}\.){3}\d{1,3}\b`, Confidence: 0.55},
		},
		FieldDenylist: []string{
			"patient_name", "patient_id", "ssn", "social_security", "mrn",
			"dob", "date_of_birth", "email", "phone", "address",
			"raw", "content", "snippet",
		},
	}
}

// normalizeKey collapses a field name to lowercase alphanumerics so that
// "Patient_Name", "patientName" and "patient-name" all compare equal.
func normalizeKey(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(key) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DeniedField reports whether a field name matches the identifying-term
// denylist. The comparison is against the normalized form of both sides.
func (s *PatternSet) DeniedField(key string) bool {
	norm := normalizeKey(key)
	if norm == "" {
		return false
	}
	for _, term := range s.FieldDenylist {
		if norm == normalizeKey(term) {
			return true
		}
	}
	return false
}

type compiledPattern struct {
	Pattern
	re *regexp.Regexp
}

func compilePatterns(set *PatternSet) ([]compiledPattern, error) {
	compiled := make([]compiledPattern, 0, len(set.Patterns))
	for _, p := range set.Patterns {
		re, err := regexp.Compile(p.Expression)
		if err != nil {
			return nil, fmt.Errorf("phi: pattern %q failed to compile: %w", p.Category, err)
		}
		compiled = append(compiled, compiledPattern{Pattern: p, re: re})
	}
	return compiled, nil
}
