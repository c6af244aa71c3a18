// Package artifact defines the persisted record envelope for quarantined
// run artifacts and its fail-closed validation.
package artifact

import (
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/clinharbor/warden/pkg/canonical"
)

// SchemaVersion is stamped on every record written by this build.
const SchemaVersion = "1.0.0"

const recordSchemaURL = "https://warden.schemas.local/artifact-record.schema.json"

const recordSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["schema_version", "run_id", "logical_id", "payload_hash", "created_at"],
  "properties": {
    "schema_version": {"type": "string", "minLength": 1},
    "run_id": {"type": "string", "minLength": 1},
    "logical_id": {"type": "string", "minLength": 1},
    "payload_hash": {"type": "string", "pattern": "^sha256:[0-9a-f]{64}$"},
    "created_at": {"type": "string"},
    "metadata": {"type": "object"}
  },
  "additionalProperties": false
}`

// Record is a single persisted unit under a run directory. Metadata is
// domain-specific but its key names are denylisted against identifying
// terms, recursively, at any nesting depth.
type Record struct {
	SchemaVersion string         `json:"schema_version"`
	RunID         string         `json:"run_id"`
	LogicalID     string         `json:"logical_id"`
	PayloadHash   string         `json:"payload_hash"`
	CreatedAt     time.Time      `json:"created_at"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// New builds a record for a payload, computing its canonical content hash.
func New(runID, logicalID string, payload []byte, metadata map[string]any, at time.Time) Record {
	return Record{
		SchemaVersion: SchemaVersion,
		RunID:         runID,
		LogicalID:     logicalID,
		PayloadHash:   canonical.HashBytes(payload),
		CreatedAt:     at.UTC(),
		Metadata:      metadata,
	}
}

// DenyFunc reports whether a metadata key is an identifying term.
type DenyFunc func(key string) bool

// Validator checks records against the embedded JSON Schema and the
// identifying-term key denylist.
type Validator struct {
	schema *jsonschema.Schema
	denied DenyFunc
}

// NewValidator compiles the embedded schema. denied is typically the PHI
// scanner's field-denylist check; it must not be nil.
func NewValidator(denied DenyFunc) (*Validator, error) {
	if denied == nil {
		return nil, fmt.Errorf("artifact: validator requires a field denylist (fail-closed)")
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(recordSchemaURL, strings.NewReader(recordSchema)); err != nil {
		return nil, fmt.Errorf("artifact: schema load failed: %w", err)
	}
	compiled, err := c.Compile(recordSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("artifact: schema compile failed: %w", err)
	}
	return &Validator{schema: compiled, denied: denied}, nil
}

// Validate rejects records that are structurally malformed, carry a
// non-semver schema version, or contain a denylisted key at any depth.
func (v *Validator) Validate(r Record) error {
	if _, err := semver.NewVersion(r.SchemaVersion); err != nil {
		return fmt.Errorf("artifact: schema_version %q is not semver: %w", r.SchemaVersion, err)
	}
	if !canonical.ValidHash(r.PayloadHash) {
		return fmt.Errorf("artifact: payload_hash is not a valid content hash")
	}

	doc := map[string]any{
		"schema_version": r.SchemaVersion,
		"run_id":         r.RunID,
		"logical_id":     r.LogicalID,
		"payload_hash":   r.PayloadHash,
		"created_at":     r.CreatedAt.Format(time.RFC3339Nano),
	}
	if r.Metadata != nil {
		doc["metadata"] = r.Metadata
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("artifact: record schema validation failed: %w", err)
	}

	if key, found := FindDeniedKey(r.Metadata, v.denied); found {
		return fmt.Errorf("artifact: metadata key %q matches the identifying-term denylist", key)
	}
	return nil
}

// FindDeniedKey walks maps and slices to arbitrary depth looking for a key
// that matches the denylist. Key names only; values are the PHI scanner's
// concern.
func FindDeniedKey(v any, denied DenyFunc) (string, bool) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if denied(k) {
				return k, true
			}
			if key, found := FindDeniedKey(child, denied); found {
				return key, true
			}
		}
	case []any:
		for _, child := range t {
			if key, found := FindDeniedKey(child, denied); found {
				return key, true
			}
		}
	}
	return "", false
}
