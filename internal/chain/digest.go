// Package chain implements the tamper-evident audit hash chain: digest
// computation, the chain writer and the chain verifier.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/trustledger/go-core/pkg/types"
)

// CanonicalSerialize produces the deterministic byte form of a payload used
// for digesting. encoding/json writes map keys in sorted order, which makes
// the output reproducible for the same payload content. Raw JSON input is
// round-tripped through an interface{} so that key order and whitespace in
// the source document cannot change the digest.
func CanonicalSerialize(payload interface{}) ([]byte, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return canonicalizeRaw(p)
	case []byte:
		return canonicalizeRaw(p)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload: %w", err)
	}
	return data, nil
}

func canonicalizeRaw(raw []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("payload is not valid JSON: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload: %w", err)
	}
	return data, nil
}

// Digest computes the SHA-256 content digest of a payload as 64 lowercase
// hex characters. Collision resistance of the digest is the sole
// tamper-evidence mechanism, so the hash function is not configurable.
func Digest(payload interface{}) (string, error) {
	data, err := CanonicalSerialize(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// NormalizeDigest lowercases a digest and validates its format. Verifiers
// compare digests byte-for-byte after normalization.
func NormalizeDigest(digest string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(digest))
	if len(d) != types.DigestLength {
		return "", fmt.Errorf("digest must be %d hex chars, got %d", types.DigestLength, len(d))
	}
	if _, err := hex.DecodeString(d); err != nil {
		return "", fmt.Errorf("digest is not valid hex: %w", err)
	}
	return d, nil
}
