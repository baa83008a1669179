package phi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// BlindIndexer derives deterministic, non-reversible lookup values for
// encrypted fields. Equality search on an encrypted attribute (e.g. email)
// would otherwise require decrypting and scanning every candidate record;
// storing the keyed hash of the normalized value alongside the ciphertext
// gives O(1) lookup without revealing the plaintext.
//
// The index key must be distinct from the encryption key so a leak of one
// does not compromise the other.
type BlindIndexer struct {
	key []byte
}

// NewBlindIndexer creates an indexer from a dedicated HMAC key.
func NewBlindIndexer(key []byte) *BlindIndexer {
	return &BlindIndexer{key: key}
}

// Index returns the hex-encoded HMAC-SHA256 of the normalized value.
// The empty string indexes to the empty string so absent fields never
// collide with real values.
func (b *BlindIndexer) Index(value string) string {
	if value == "" {
		return ""
	}
	mac := hmac.New(sha256.New, b.key)
	mac.Write([]byte(normalize(value)))
	return hex.EncodeToString(mac.Sum(nil))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
