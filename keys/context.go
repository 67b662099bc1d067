package keys

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	"xdao.co/faceguard/faults"
)

// SigningContext holds the Ed25519 key pair (and optionally a Dilithium3
// co-signing pair) derived from the server secret.
type SigningContext struct {
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	pubHex string

	pqPriv   *mode3.PrivateKey
	pqPubHex string
}

type options struct {
	postQuantum bool
}

type Option func(*options)

// WithPostQuantum enables the Dilithium3 co-signature.
func WithPostQuantum() Option { return func(o *options) { o.postQuantum = true } }

// NewSigningContext derives the signing keys. An empty secret is fatal: the
// service must not issue receipts under a fabricated key.
func NewSigningContext(secret []byte, opts ...Option) (*SigningContext, error) {
	if len(secret) == 0 {
		return nil, faults.New(faults.KindSigningUnavailable, "FG-SIGN-001", "server secret is not configured")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	priv := ed25519.NewKeyFromSeed(Ed25519Seed(secret))
	pub := priv.Public().(ed25519.PublicKey)
	sc := &SigningContext{priv: priv, pub: pub, pubHex: hex.EncodeToString(pub)}

	if o.postQuantum {
		seed := PQSeed(secret)
		pqPub, pqPriv := mode3.NewKeyFromSeed(&seed)
		raw, err := pqPub.MarshalBinary()
		if err != nil {
			return nil, faults.Wrap(faults.KindSigningUnavailable, "FG-SIGN-002", "encode dilithium3 public key", err)
		}
		sc.pqPriv = pqPriv
		sc.pqPubHex = hex.EncodeToString(raw)
	}
	return sc, nil
}

// PublicKey returns a copy of the Ed25519 public key.
func (s *SigningContext) PublicKey() ed25519.PublicKey {
	return append(ed25519.PublicKey(nil), s.pub...)
}

// PublicKeyHex is the lowercase hex public key published to verifiers.
func (s *SigningContext) PublicKeyHex() string { return s.pubHex }

// Sign returns the lowercase hex Ed25519 signature over msg.
func (s *SigningContext) Sign(msg []byte) string {
	return hex.EncodeToString(ed25519.Sign(s.priv, msg))
}

// PostQuantum reports whether a Dilithium3 co-signing key is loaded.
func (s *SigningContext) PostQuantum() bool { return s.pqPriv != nil }

// PQPublicKeyHex is the hex Dilithium3 public key, or "" when disabled.
func (s *SigningContext) PQPublicKeyHex() string { return s.pqPubHex }

// SignPQ returns the hex Dilithium3 signature over msg.
func (s *SigningContext) SignPQ(msg []byte) (string, error) {
	if s.pqPriv == nil {
		return "", faults.New(faults.KindSigningUnavailable, "FG-SIGN-003", "post-quantum signing is not enabled")
	}
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(s.pqPriv, msg, sig)
	return hex.EncodeToString(sig), nil
}

// ParsePublicKeyHex decodes a hex Ed25519 public key.
func ParsePublicKeyHex(s string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return ed25519.PublicKey(b), nil
}

// VerifyHex checks a hex Ed25519 signature. Malformed input verifies false.
func VerifyHex(pub ed25519.PublicKey, msg []byte, sigHex string) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// VerifyPQHex checks a hex Dilithium3 signature against a hex public key.
func VerifyPQHex(pubHex string, msg []byte, sigHex string) bool {
	raw, err := hex.DecodeString(pubHex)
	if err != nil {
		return false
	}
	var pk mode3.PublicKey
	if err := pk.UnmarshalBinary(raw); err != nil {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != mode3.SignatureSize {
		return false
	}
	return mode3.Verify(&pk, msg, sig)
}
