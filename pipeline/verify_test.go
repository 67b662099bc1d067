package pipeline

import (
	"context"
	"testing"

	"xdao.co/faceguard/keys"
	"xdao.co/faceguard/raster"
	"xdao.co/faceguard/receipt"
)

func protected(t *testing.T) (*Protector, *Result) {
	t.Helper()
	p := newProtector(t)
	res, err := p.Protect(context.Background(), Request{Pixels: gradient(t, 32, 32), Owner: "alice"})
	if err != nil {
		t.Fatalf("Protect: %v", err)
	}
	return p, res
}

func TestVerify_Valid(t *testing.T) {
	p, res := protected(t)
	rep := Verifier{}.Verify(res.Encoded, res.Receipt, trusted(t, p))
	if rep.Verdict != Valid {
		t.Fatalf("verdict = %s (%s)", rep.Verdict, rep.Reason)
	}
	if rep.Payload == nil || rep.Payload.OwnerID != "alice" || rep.Payload.Seed != res.Receipt.Seed {
		t.Fatalf("unexpected payload: %+v", rep.Payload)
	}
}

func TestVerify_ModifiedBytesTampered(t *testing.T) {
	p, res := protected(t)
	data := append([]byte(nil), res.Encoded...)
	data[len(data)/2] ^= 0x01
	if rep := (Verifier{}).Verify(data, res.Receipt, trusted(t, p)); rep.Verdict != Tampered {
		t.Fatalf("verdict = %s, want tampered", rep.Verdict)
	}
}

func TestVerify_ReceiptFieldEditInvalidSignature(t *testing.T) {
	p, res := protected(t)
	r := res.Receipt
	r.Owner = "mallory"
	if rep := (Verifier{}).Verify(res.Encoded, r, trusted(t, p)); rep.Verdict != InvalidSignature {
		t.Fatalf("verdict = %s, want invalid-signature", rep.Verdict)
	}
}

func TestVerify_UntrustedKey(t *testing.T) {
	_, res := protected(t)
	other, err := keys.NewSigningContext([]byte("someone else"))
	if err != nil {
		t.Fatalf("NewSigningContext: %v", err)
	}
	rep := Verifier{}.Verify(res.Encoded, res.Receipt, other.PublicKey())
	if rep.Verdict != InvalidSignature || rep.RuleID != "FG-SIG-001" {
		t.Fatalf("verdict = %s rule=%s", rep.Verdict, rep.RuleID)
	}
}

// A correctly signed receipt over an image whose watermark was stripped.
func TestVerify_StrippedWatermarkAbsent(t *testing.T) {
	p, res := protected(t)
	b, err := raster.PNG{}.Decode(res.Encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for i := range b.Pix {
		b.Pix[i] &^= 1
	}
	data, err := raster.PNG{}.Encode(b)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	r := res.Receipt
	r.FinalSHA256 = sum(data)
	if err := receipt.Sign(&r, p.signer); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if rep := (Verifier{}).Verify(data, r, trusted(t, p)); rep.Verdict != WatermarkAbsent {
		t.Fatalf("verdict = %s (%s), want watermark-absent", rep.Verdict, rep.Reason)
	}
}

// A signed receipt naming another owner than the embedded payload.
func TestVerify_PayloadMismatchTampered(t *testing.T) {
	p, res := protected(t)
	r := res.Receipt
	r.Owner = "bob"
	if err := receipt.Sign(&r, p.signer); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	rep := Verifier{}.Verify(res.Encoded, r, trusted(t, p))
	if rep.Verdict != Tampered || rep.RuleID != "FG-VER-003" {
		t.Fatalf("verdict = %s rule=%s", rep.Verdict, rep.RuleID)
	}
}

func TestVerify_UnknownVersion(t *testing.T) {
	p, res := protected(t)
	r := res.Receipt
	r.Version = "9"
	if err := receipt.Sign(&r, p.signer); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if rep := (Verifier{}).Verify(res.Encoded, r, trusted(t, p)); rep.Verdict != WatermarkAbsent {
		t.Fatalf("verdict = %s, want watermark-absent", rep.Verdict)
	}
}
