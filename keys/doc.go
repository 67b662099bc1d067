// Package keys owns the process-wide signing material.
//
// A SigningContext is derived once from the server secret at startup and is
// read-only afterwards; it is safe to share across concurrent requests.
//
// Key derivation:
//   - Ed25519 seed = SHA-256(secret)
//   - optional Dilithium3 seed = SHA-256("faceguard/pq/v1" ‖ 0x00 ‖ secret)
package keys
