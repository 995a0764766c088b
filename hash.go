// Package dreamdesk holds the content-address key type shared by the cache
// tiers. Page keys hash the trimmed URL; search keys hash the normalized
// query together with its options.
package dreamdesk

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// HashSize is the digest length in bytes.
const HashSize = 32

// partSep terminates every part fed to HashParts.
const partSep = 0x1f

// Hash is a BLAKE3-256 digest used as a cache key. Its hex form is the file
// name of the on-disk document.
type Hash [HashSize]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ShortString is the first 16 hex characters, for logs.
func (h Hash) ShortString() string {
	return hex.EncodeToString(h[:8])
}

// ParseHash decodes the hex form produced by String.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != HashSize*2 {
		return h, fmt.Errorf("hash must be %d hex characters, got %d", HashSize*2, len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return Hash{}, fmt.Errorf("decoding hash: %w", err)
	}
	return h, nil
}

// HashString hashes s as a single part.
func HashString(s string) Hash {
	return Hash(blake3.Sum256([]byte(s)))
}

// HashParts hashes the parts in order, each followed by a unit separator,
// so ("ab", "c") and ("a", "bc") never collide.
func HashParts(parts ...string) Hash {
	d := blake3.New()
	for _, p := range parts {
		_, _ = d.Write([]byte(p))
		_, _ = d.Write([]byte{partSep})
	}
	var out Hash
	d.Sum(out[:0])
	return out
}
