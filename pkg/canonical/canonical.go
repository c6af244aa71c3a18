// Package canonical provides RFC 8785 (JSON Canonicalization Scheme) compliant
// serialization and content hashing for warden records.
//
// Every hash in warden is computed over the canonical form, so two records
// with the same fields always produce the same digest regardless of map
// iteration order or struct field layout.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
)

// HashPrefix identifies the digest algorithm in stored hashes.
const HashPrefix = "sha256:"

// Marshal returns the RFC 8785 canonical JSON representation of v.
//
// v is first marshaled with encoding/json (so struct tags are respected),
// then transformed to canonical form: lexicographically sorted keys, no
// HTML escaping, minimal number formatting.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: pre-marshal failed: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform failed: %w", err)
	}
	return out, nil
}

// Hash returns the prefixed SHA-256 digest of the canonical form of v.
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes the prefixed SHA-256 digest of raw bytes.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return HashPrefix + hex.EncodeToString(h[:])
}

// Digest returns a short one-way digest of s, suitable for correlating a
// sensitive value across records without storing the value itself.
func Digest(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:12]
}

// ValidHash reports whether s is a well-formed prefixed SHA-256 digest.
func ValidHash(s string) bool {
	if !strings.HasPrefix(s, HashPrefix) {
		return false
	}
	raw := strings.TrimPrefix(s, HashPrefix)
	if len(raw) != 64 {
		return false
	}
	_, err := hex.DecodeString(raw)
	return err == nil
}
