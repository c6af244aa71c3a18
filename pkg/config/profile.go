package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DeploymentProfile is a reviewed, environment-specific overlay on the base
// configuration. Profiles can tighten the posture but never loosen it past
// what the environment variables allow: a profile cannot re-enable the
// network attestation, only withdraw it.
type DeploymentProfile struct {
	Name            string `yaml:"name" json:"name"`
	Code            string `yaml:"code" json:"code"`
	Mode            string `yaml:"mode,omitempty" json:"mode,omitempty"`
	NetworkDisabled *bool  `yaml:"network_disabled,omitempty" json:"network_disabled,omitempty"`
	MockOnly        *bool  `yaml:"mock_only,omitempty" json:"mock_only,omitempty"`
	QuarantineRoot  string `yaml:"quarantine_root,omitempty" json:"quarantine_root,omitempty"`
	Subsystem       string `yaml:"subsystem,omitempty" json:"subsystem,omitempty"`
	LedgerDir       string `yaml:"ledger_dir,omitempty" json:"ledger_dir,omitempty"`
	PatternSetPath  string `yaml:"pattern_set,omitempty" json:"pattern_set,omitempty"`
}

// LoadProfile loads a deployment profile YAML by code. It searches the
// profiles directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*DeploymentProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile DeploymentProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}

	return &profile, nil
}

// Apply overlays a profile onto a base configuration and returns the result.
// The base is not modified. Mode downgrades always apply; an upgrade from
// STANDBY must come from the environment, not a profile file. The network
// attestation can only be withdrawn by a profile, never granted.
func (p *DeploymentProfile) Apply(base *Config) *Config {
	out := *base

	switch {
	case p.Mode == "":
	case rank(p.Mode) < 0:
		out.Mode = "STANDBY"
	case rank(p.Mode) <= rank(out.Mode):
		out.Mode = p.Mode
	}
	if p.NetworkDisabled != nil && !*p.NetworkDisabled {
		out.NetworkDisabled = false
	}
	if p.MockOnly != nil && *p.MockOnly {
		out.MockOnly = true
	}
	if p.QuarantineRoot != "" {
		out.QuarantineRoot = p.QuarantineRoot
	}
	if p.Subsystem != "" {
		out.Subsystem = p.Subsystem
	}
	if p.LedgerDir != "" {
		out.LedgerDir = p.LedgerDir
	}
	if p.PatternSetPath != "" {
		out.PatternSetPath = p.PatternSetPath
	}
	return &out
}

// rank orders modes by permissiveness. Unknown modes rank lowest so a typo
// in a profile file collapses to standby.
func rank(mode string) int {
	switch mode {
	case "LIVE":
		return 3
	case "ACTIVE":
		return 2
	case "SANDBOX":
		return 1
	case "STANDBY":
		return 0
	default:
		return -1
	}
}
