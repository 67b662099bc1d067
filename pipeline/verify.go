package pipeline

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"xdao.co/faceguard/faults"
	"xdao.co/faceguard/prng"
	"xdao.co/faceguard/raster"
	"xdao.co/faceguard/receipt"
	"xdao.co/faceguard/watermark"
)

// Verdict is the outcome of verifying an image against its receipt.
type Verdict string

const (
	Valid            Verdict = "valid"
	Tampered         Verdict = "tampered"
	InvalidSignature Verdict = "invalid-signature"
	WatermarkAbsent  Verdict = "watermark-absent"
)

// Report explains a verdict. Payload is set when a watermark was recovered.
type Report struct {
	Verdict Verdict
	Reason  string
	RuleID  string
	Payload *watermark.Payload
}

// Verifier checks protected images. The zero value decodes PNG and uses the
// default watermark tag.
type Verifier struct {
	Decoder      raster.Decoder
	SignatureTag string
}

// Verify checks the encoded image bytes against r and the trusted key, in
// order: file hash, receipt signature, then the embedded watermark. Degraded
// receipts carry no watermark and stop after the signature check.
func (v Verifier) Verify(data []byte, r receipt.Receipt, trusted ed25519.PublicKey) Report {
	if got := sha256Hex(data); got != r.FinalSHA256 {
		return Report{Verdict: Tampered, RuleID: "FG-VER-001",
			Reason: fmt.Sprintf("file hash %s does not match final_sha256", got)}
	}
	if err := receipt.VerifySignature(r, trusted); err != nil {
		return Report{Verdict: InvalidSignature, RuleID: faults.RuleID(err), Reason: err.Error()}
	}
	if !r.Watermarked() {
		return Report{Verdict: Valid, Reason: "degraded receipt carries no watermark"}
	}

	alg, err := prng.ForVersion(r.Version)
	if err != nil {
		return Report{Verdict: WatermarkAbsent, RuleID: "FG-VER-002", Reason: err.Error()}
	}
	dec := v.Decoder
	if dec == nil {
		dec = raster.PNG{}
	}
	b, err := dec.Decode(data)
	if err != nil {
		return Report{Verdict: WatermarkAbsent, RuleID: faults.RuleID(err), Reason: err.Error()}
	}

	p, err := (watermark.Codec{PRNG: alg, SignatureTag: v.SignatureTag}).Extract(b, r.Seed)
	switch {
	case errors.Is(err, watermark.ErrWatermarkAbsent):
		return Report{Verdict: WatermarkAbsent, RuleID: faults.RuleID(err), Reason: err.Error()}
	case err != nil:
		return Report{Verdict: Tampered, RuleID: faults.RuleID(err), Reason: err.Error()}
	}
	if p.Seed != r.Seed || p.OwnerID != r.Owner {
		return Report{Verdict: Tampered, RuleID: "FG-VER-003", Payload: &p,
			Reason: "watermark payload does not match the receipt"}
	}
	return Report{Verdict: Valid, Payload: &p}
}
