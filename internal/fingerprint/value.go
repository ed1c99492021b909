package fingerprint

import (
	"cmp"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// FileKind is the type of a file-system entry.
type FileKind uint8

const (
	KindRegular FileKind = iota
	KindDirectory
	KindMissing
)

var (
	ErrUnknownKind   = errors.New("unknown file kind")
	ErrInvalidDigest = errors.New("invalid digest")
)

func (k FileKind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindDirectory:
		return "directory"
	case KindMissing:
		return "missing"
	default:
		return fmt.Sprintf("FileKind(%d)", uint8(k))
	}
}

// ParseKind parses the lower-case name produced by FileKind.String.
func ParseKind(raw string) (FileKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "regular", "file":
		return KindRegular, nil
	case "directory", "dir":
		return KindDirectory, nil
	case "missing":
		return KindMissing, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
}

// MarshalText encodes the kind by name.
func (k FileKind) MarshalText() ([]byte, error) {
	if k > KindMissing {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText accepts any name understood by ParseKind.
func (k *FileKind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Digest is an opaque content hash. Its length is fixed by whoever produced it.
//
// The bytes are held in a string so a Digest is immutable and comparable.
type Digest string

// DigestOf copies b into a Digest.
func DigestOf(b []byte) Digest { return Digest(b) }

// ParseDigest decodes a hex-encoded digest.
func ParseDigest(s string) (Digest, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	if len(b) == 0 {
		return "", fmt.Errorf("%w: empty", ErrInvalidDigest)
	}
	return Digest(b), nil
}

// Bytes returns a copy of the raw digest bytes.
func (d Digest) Bytes() []byte { return []byte(d) }

// String returns the hex encoding of the digest.
func (d Digest) String() string { return hex.EncodeToString([]byte(d)) }

// MarshalText encodes the digest as hex.
func (d Digest) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText decodes a hex digest. Empty text decodes to the empty digest that
// directories and missing entries may carry.
func (d *Digest) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = ""
		return nil
	}
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value is the normalized identity and content of one file-system entry.
//
// Two values are equal iff all three fields are equal, which makes Value usable
// directly as a map key.
type Value struct {
	NormalizedPath string
	Kind           FileKind
	Digest         Digest
}

// NewValue builds a Value.
func NewValue(normalizedPath string, kind FileKind, digest Digest) Value {
	return Value{NormalizedPath: normalizedPath, Kind: kind, Digest: digest}
}

func (v Value) String() string {
	return fmt.Sprintf("%s (%s, %s)", v.NormalizedPath, v.Kind, v.Digest)
}

// Compare orders values by normalized path, then digest bytes.
//
// Kind is the final tie-breaker so that Compare returns 0 only for equal values.
func Compare(a, b Value) int {
	if c := strings.Compare(a.NormalizedPath, b.NormalizedPath); c != 0 {
		return c
	}
	if c := strings.Compare(string(a.Digest), string(b.Digest)); c != 0 {
		return c
	}
	return cmp.Compare(a.Kind, b.Kind)
}

// Located pairs a location identifier (for example an absolute path) with its Value.
// The location is used for human-readable reporting only.
type Located struct {
	Location string
	Value    Value
}
