package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Algorithm names the hash function used to build combined digests and cache keys.
type Algorithm string

const (
	// SHA256 is the default algorithm.
	SHA256 Algorithm = "sha256"
	// XXHash64 trades collision resistance for speed; keys are 8 bytes.
	XXHash64 Algorithm = "xxhash64"
)

// ParseAlgorithm validates an algorithm name. The empty string selects SHA256.
func ParseAlgorithm(raw string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(raw))); a {
	case "":
		return SHA256, nil
	case SHA256, XXHash64:
		return a, nil
	default:
		return "", fmt.Errorf("unknown digest algorithm %q (expected sha256|xxhash64)", raw)
	}
}

func (a Algorithm) newHash() hash.Hash {
	switch a {
	case SHA256, "":
		return sha256.New()
	case XXHash64:
		return xxhash.New()
	default:
		panic(fmt.Sprintf("fingerprint: unknown digest algorithm %q", string(a)))
	}
}

// NewHasher returns an empty Hasher for the algorithm.
// It panics for algorithms not accepted by ParseAlgorithm.
func (a Algorithm) NewHasher() *Hasher {
	return &Hasher{h: a.newHash()}
}

// Combine sorts a copy of values by the canonical order and folds each one into a
// single digest. The result does not depend on the order of values.
func (a Algorithm) Combine(values []Value) Digest {
	h := a.NewHasher()
	h.PutSorted(values)
	return h.Sum()
}

// Of returns the digest of raw content.
func (a Algorithm) Of(content []byte) Digest {
	h := a.NewHasher()
	h.PutBytes(content)
	return h.Sum()
}

// CombinedDigest is Combine with the default algorithm.
func CombinedDigest(values []Value) Digest {
	return SHA256.Combine(values)
}

// Hasher accumulates length-prefixed fields into a running digest.
//
// Every field carries an 8-byte big-endian length prefix, so adjacent fields can
// never be confused for one another ("ab"+"c" and "a"+"bc" hash differently).
type Hasher struct {
	h hash.Hash
}

// PutBytes appends one length-prefixed field.
func (h *Hasher) PutBytes(data []byte) {
	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(len(data)))
	h.h.Write(prefix[:])
	h.h.Write(data)
}

// PutString appends one length-prefixed string field.
func (h *Hasher) PutString(s string) {
	h.PutBytes([]byte(s))
}

// PutInt appends an integer as an 8-byte field.
func (h *Hasher) PutInt(n int) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	h.PutBytes(b[:])
}

// PutValue appends the normalized path, kind and digest of v.
func (h *Hasher) PutValue(v Value) {
	h.PutString(v.NormalizedPath)
	h.PutBytes([]byte{byte(v.Kind)})
	h.PutString(string(v.Digest))
}

// PutSorted appends a count followed by every value in canonical order.
// The caller's slice is not modified.
func (h *Hasher) PutSorted(values []Value) {
	sorted := slices.Clone(values)
	slices.SortFunc(sorted, Compare)
	h.PutInt(len(sorted))
	for _, v := range sorted {
		h.PutValue(v)
	}
}

// Sum returns the digest of everything written so far.
func (h *Hasher) Sum() Digest {
	return Digest(h.h.Sum(nil))
}
