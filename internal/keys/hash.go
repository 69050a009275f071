package keys

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	domainPath = "tidemark/path/v1"

	// DomainKey is the domain used when hashing a single key value.
	DomainKey = "tidemark/key/v1"
)

// hashHex computes SHA-256 with domain separation and returns hex.
// Format: SHA256(domain + 0x00 + data). The null separator prevents
// domain/data boundary ambiguity.
func hashHex(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// KeyHash returns the domain-separated digest of a key's canonical encoding.
func KeyHash(k Key) string {
	return hashHex(DomainKey, Encode(k))
}

func hexEncode(b []byte) string {
	return hex.EncodeToString(b)
}
