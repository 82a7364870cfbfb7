package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Hash returns the hex-encoded SHA-256 digest of s. The compensator only ever
// sees hashed project ids, usernames, and tokens.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))

	return hex.EncodeToString(sum[:])
}

// HashSet folds a set of hashes into a single order-independent digest: the
// hashes are sorted, concatenated, and hashed again. The server and the
// compensator compute it independently over the participant identities and
// must arrive at the same value.
func HashSet(hashes []string) string {
	sorted := make([]string, len(hashes))
	copy(sorted, hashes)
	sort.Strings(sorted)

	return Hash(strings.Join(sorted, ""))
}
