// Package receipt builds, canonicalizes, signs and verifies protection receipts.
package receipt

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"xdao.co/faceguard/faults"
	"xdao.co/faceguard/keys"
)

// Version is written into newly issued receipts. Version 1 receipts were
// produced with the sine-hash PRNG; version 2 with the ChaCha20 stream.
const Version = "2"

// ProtectionLevel records what the pipeline actually applied.
type ProtectionLevel string

const (
	// Standard is the normal shield plus watermark.
	Standard ProtectionLevel = "standard"
	// Maximum is the normal shield with hardened face regions plus watermark.
	Maximum ProtectionLevel = "maximum"
	// Degraded means the shield was applied but the watermark was omitted.
	Degraded ProtectionLevel = "degraded"
)

// Receipt is the signed provenance record returned with protected bytes.
//
// Signature covers Canonical(r): every other field, keys sorted. The PQ
// fields are optional and omitted from the encoding when empty.
type Receipt struct {
	Version         string          `json:"version"`
	Owner           string          `json:"owner"`
	OrigSHA256      string          `json:"orig_sha256"`
	Seed            string          `json:"seed"`
	Timestamp       string          `json:"timestamp"`
	PublicKey       string          `json:"public_key"`
	ProtectionLevel ProtectionLevel `json:"protection_level"`
	ProtectionScore int             `json:"protection_score"`
	FinalSHA256     string          `json:"final_sha256"`
	PQPublicKey     string          `json:"pq_public_key,omitempty"`
	PQSignature     string          `json:"pq_signature,omitempty"`
	Signature       string          `json:"signature"`
}

// FormatTimestamp renders t the way receipts store it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Canonical returns the bytes covered by the Ed25519 signature: compact JSON
// of the receipt without "signature", keys sorted lexicographically, no HTML
// escaping, no trailing newline.
func Canonical(r Receipt) ([]byte, error) {
	raw, err := encode(r)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, faults.Wrap(faults.KindInternal, "FG-RCPT-001", "canonicalize receipt", err)
	}
	delete(fields, "signature")
	// encoding/json writes map keys in sorted order.
	return encode(fields)
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, faults.Wrap(faults.KindInternal, "FG-RCPT-001", "encode receipt", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Sign fills PublicKey (and the PQ fields when enabled) and signs r in place.
func Sign(r *Receipt, sc *keys.SigningContext) error {
	if sc == nil {
		return faults.New(faults.KindSigningUnavailable, "FG-SIGN-001", "no signing context")
	}
	r.PublicKey = sc.PublicKeyHex()
	r.Signature = ""
	r.PQSignature = ""
	r.PQPublicKey = ""

	if sc.PostQuantum() {
		r.PQPublicKey = sc.PQPublicKeyHex()
		msg, err := Canonical(*r)
		if err != nil {
			return err
		}
		sig, err := sc.SignPQ(msg)
		if err != nil {
			return err
		}
		r.PQSignature = sig
	}

	msg, err := Canonical(*r)
	if err != nil {
		return err
	}
	r.Signature = sc.Sign(msg)
	return nil
}

// VerifySignature checks r against the trusted public key. The receipt's own
// public_key must match it; a receipt naming another key is rejected.
func VerifySignature(r Receipt, trusted ed25519.PublicKey) error {
	if r.PublicKey != hex.EncodeToString(trusted) {
		return faults.New(faults.KindInvalidSignature, "FG-SIG-001", "receipt public key does not match the trusted key")
	}
	msg, err := Canonical(r)
	if err != nil {
		return err
	}
	if !keys.VerifyHex(trusted, msg, r.Signature) {
		return faults.New(faults.KindInvalidSignature, "FG-SIG-002", "receipt signature did not verify")
	}
	if r.PQSignature != "" || r.PQPublicKey != "" {
		scope := r
		scope.PQSignature = ""
		pqMsg, err := Canonical(scope)
		if err != nil {
			return err
		}
		if !keys.VerifyPQHex(r.PQPublicKey, pqMsg, r.PQSignature) {
			return faults.New(faults.KindInvalidSignature, "FG-SIG-003", "receipt post-quantum signature did not verify")
		}
	}
	return nil
}

// Validate checks field shapes without verifying the signature.
func (r Receipt) Validate() error {
	switch {
	case r.Version == "":
		return invalid("FG-RCPT-010", "missing version")
	case r.Seed == "":
		return invalid("FG-RCPT-011", "missing seed")
	case !isHex(r.OrigSHA256, 64):
		return invalid("FG-RCPT-012", "orig_sha256 must be 64 hex characters")
	case !isHex(r.FinalSHA256, 64):
		return invalid("FG-RCPT-013", "final_sha256 must be 64 hex characters")
	case !isHex(r.PublicKey, 2*ed25519.PublicKeySize):
		return invalid("FG-RCPT-014", "public_key must be 64 hex characters")
	case !isHex(r.Signature, 2*ed25519.SignatureSize):
		return invalid("FG-RCPT-015", "signature must be 128 hex characters")
	case r.ProtectionScore < 0 || r.ProtectionScore > 100:
		return invalid("FG-RCPT-016", fmt.Sprintf("protection_score %d out of range", r.ProtectionScore))
	}
	switch r.ProtectionLevel {
	case Standard, Maximum, Degraded:
	default:
		return invalid("FG-RCPT-017", fmt.Sprintf("unknown protection_level %q", r.ProtectionLevel))
	}
	if _, err := time.Parse(time.RFC3339Nano, r.Timestamp); err != nil {
		return faults.Wrap(faults.KindValidation, "FG-RCPT-018", "invalid timestamp", err)
	}
	return nil
}

// Watermarked reports whether the receipt promises an embedded watermark.
func (r Receipt) Watermarked() bool { return r.ProtectionLevel != Degraded }

// Marshal returns the indented JSON file form.
func Marshal(r Receipt) ([]byte, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Parse decodes a receipt, rejecting unknown fields.
func Parse(data []byte) (Receipt, error) {
	var r Receipt
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&r); err != nil {
		return Receipt{}, faults.Wrap(faults.KindValidation, "FG-RCPT-002", "parse receipt", err)
	}
	return r, nil
}

func invalid(rule, msg string) error { return faults.New(faults.KindValidation, rule, msg) }

func isHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
