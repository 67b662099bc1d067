package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
)

const pqDomain = "faceguard/pq/v1"

// Ed25519Seed derives the Ed25519 seed for a server secret.
func Ed25519Seed(secret []byte) []byte {
	sum := sha256.Sum256(secret)
	out := make([]byte, ed25519.SeedSize)
	copy(out, sum[:])
	return out
}

// PQSeed derives the Dilithium3 seed for a server secret. It is domain
// separated so the two keys never share seed material.
func PQSeed(secret []byte) [32]byte {
	h := sha256.New()
	_, _ = h.Write([]byte(pqDomain))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(secret)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
