package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// HashAlgorithm represents the hashing algorithm to use
type HashAlgorithm string

const (
	SHA256 HashAlgorithm = "sha256"
	// Extensible: add more algorithms here
)

// Hasher provides extensible hashing functionality
type Hasher struct {
	algorithm HashAlgorithm
}

// NewHasher creates a new hasher with the specified algorithm
func NewHasher(algorithm HashAlgorithm) *Hasher {
	return &Hasher{algorithm: algorithm}
}

// DefaultHasher returns a hasher with the default algorithm
func DefaultHasher() *Hasher {
	return NewHasher(SHA256)
}

// Hash computes a hash of the input data
func (h *Hasher) Hash(data []byte) string {
	switch h.algorithm {
	case SHA256:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	default:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
}

// HashString computes a hash of a string
func (h *Hasher) HashString(s string) string {
	return h.Hash([]byte(s))
}

// HashJSON computes a deterministic hash of a JSON-serializable object
func (h *Hasher) HashJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return h.Hash(data), nil
}

// HashFields computes a hash from multiple fields.
// Fields are sorted and joined for order-independent hashing.
func (h *Hasher) HashFields(fields ...string) string {
	sorted := make([]string, len(fields))
	copy(sorted, fields)
	sort.Strings(sorted)

	return h.HashString(strings.Join(sorted, "|"))
}

// BundleIdentifier generates a deterministic identity hash for a widget
// bundle so validation results can be tied to the exact bytes submitted.
// A mutated bundle hashes differently and is always re-validated.
type BundleIdentifier struct {
	hasher *Hasher
}

// NewBundleIdentifier creates a new bundle identifier
func NewBundleIdentifier(hasher *Hasher) *BundleIdentifier {
	if hasher == nil {
		hasher = DefaultHasher()
	}
	return &BundleIdentifier{hasher: hasher}
}

// GenerateHash computes the identity hash of a bundle from its manifest
// bytes and entry bytes.
func (bi *BundleIdentifier) GenerateHash(manifest, entry []byte) string {
	return bi.hasher.HashFields(
		fmt.Sprintf("manifest:%s", bi.hasher.Hash(manifest)),
		fmt.Sprintf("entry:%s", bi.hasher.Hash(entry)),
	)
}

// GenerateShortHash generates a short (8-character) hash for display
func (bi *BundleIdentifier) GenerateShortHash(fullHash string) string {
	if len(fullHash) < 8 {
		return fullHash
	}
	return fullHash[:8]
}
