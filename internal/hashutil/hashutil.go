// Package hashutil provides the non-cryptographic stable hash used for alert
// fingerprints and evaluation cache keys.
package hashutil

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// partSeparator joins parts in HashParts. It cannot appear in normal text.
const partSeparator = "\x1f"

// StableHash returns the 64-bit xxhash of s as 16 lowercase hex digits.
// The result is identical across processes and platforms.
func StableHash(s string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))
}

// Sum64 returns the raw 64-bit hash of s.
func Sum64(s string) uint64 {
	return xxhash.Sum64String(s)
}

// HashParts hashes parts joined with a separator so that ("ab", "c") and
// ("a", "bc") produce different hashes.
func HashParts(parts ...string) string {
	d := xxhash.New()
	for i, p := range parts {
		if i > 0 {
			_, _ = d.WriteString(partSeparator)
		}
		_, _ = d.WriteString(p)
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

// Join concatenates parts with the same separator HashParts uses, for callers
// that want a readable key instead of a digest.
func Join(parts ...string) string {
	return strings.Join(parts, partSeparator)
}
