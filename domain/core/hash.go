package core

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"sort"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Equals checks if two hashes are equal
func (h Hash) Equals(other Hash) bool {
	return h == other
}

// Short returns the first 12 hex characters, for log lines and file names
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// Fingerprinter accumulates ordered fields into a single digest. Fields are
// separated so that ("ab","c") and ("a","bc") hash differently.
type Fingerprinter struct {
	h hash.Hash
}

// NewFingerprinter starts an empty digest
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{h: sha256.New()}
}

// Add writes one field
func (f *Fingerprinter) Add(field string) *Fingerprinter {
	f.h.Write([]byte(field))
	f.h.Write([]byte{0x1f})
	return f
}

// AddSorted writes a set of fields in sorted order
func (f *Fingerprinter) AddSorted(fields []string) *Fingerprinter {
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)
	return f.Add(strings.Join(sorted, "\x1e"))
}

// Sum returns the digest
func (f *Fingerprinter) Sum() Hash {
	return Hash(hex.EncodeToString(f.h.Sum(nil)))
}
