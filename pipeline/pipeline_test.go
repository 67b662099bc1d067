package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"xdao.co/faceguard/faults"
	"xdao.co/faceguard/keys"
	"xdao.co/faceguard/prng"
	"xdao.co/faceguard/raster"
	"xdao.co/faceguard/receipt"
	"xdao.co/faceguard/seed"
	"xdao.co/faceguard/shield"
	"xdao.co/faceguard/watermark"
)

var testSecret = []byte("pipeline-test-secret")

type deterministicReader struct{ b byte }

func (r *deterministicReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.b
		r.b++
	}
	return len(p), nil
}

func fixedClock() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func newProtector(t *testing.T, opts ...Option) *Protector {
	t.Helper()
	sc, err := keys.NewSigningContext(testSecret)
	if err != nil {
		t.Fatalf("NewSigningContext: %v", err)
	}
	d, err := seed.NewDeriver(testSecret, seed.WithRandom(&deterministicReader{}), seed.WithClock(fixedClock))
	if err != nil {
		t.Fatalf("NewDeriver: %v", err)
	}
	p, err := New(sc, d, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func gradient(t *testing.T, w, h int) *raster.Buffer {
	t.Helper()
	b, err := raster.New(w, h, 3)
	if err != nil {
		t.Fatalf("raster.New: %v", err)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := b.Offset(x, y)
			b.Pix[o] = byte(x * 255 / w)
			b.Pix[o+1] = byte(y * 255 / h)
			b.Pix[o+2] = byte((x + y) * 4)
		}
	}
	return b
}

func trusted(t *testing.T, p *Protector) []byte {
	t.Helper()
	pub, err := keys.ParsePublicKeyHex(p.PublicKeyHex())
	if err != nil {
		t.Fatalf("ParsePublicKeyHex: %v", err)
	}
	return pub
}

func sum(b []byte) string {
	s := sha256.Sum256(b)
	return hex.EncodeToString(s[:])
}

func TestProtect_FinalHashMatchesBytes(t *testing.T) {
	p := newProtector(t)
	res, err := p.Protect(context.Background(), Request{Pixels: gradient(t, 32, 32), Owner: "alice"})
	if err != nil {
		t.Fatalf("Protect: %v", err)
	}
	if got := sum(res.Encoded); got != res.Receipt.FinalSHA256 {
		t.Fatalf("final_sha256 %s != sha256(bytes) %s", res.Receipt.FinalSHA256, got)
	}
	if err := res.Receipt.Validate(); err != nil {
		t.Fatalf("receipt invalid: %v", err)
	}
	if res.Receipt.ProtectionLevel != receipt.Standard || res.Receipt.Version != receipt.Version {
		t.Fatalf("unexpected receipt: %+v", res.Receipt)
	}
	if res.Receipt.ProtectionScore < shield.MinProtectedScore {
		t.Fatalf("score %d below floor", res.Receipt.ProtectionScore)
	}
	if res.RunID == "" {
		t.Fatalf("missing run id")
	}
}

// The embedded fragment must be the first 16 hex chars of the pass-1 hash,
// and re-embedding it must reproduce the final bytes exactly.
func TestProtect_TwoPassFixedPoint(t *testing.T) {
	p := newProtector(t)
	input := gradient(t, 32, 32)
	orig := input.Clone()
	res, err := p.Protect(context.Background(), Request{Pixels: input, Owner: "alice"})
	if err != nil {
		t.Fatalf("Protect: %v", err)
	}
	r := res.Receipt

	shielded := orig.Clone()
	if err := (shield.Engine{}).Shield(shielded, r.Seed, shield.Normal, nil); err != nil {
		t.Fatalf("Shield: %v", err)
	}
	codec := watermark.Codec{}
	pl := watermark.Payload{
		SignatureTag: watermark.DefaultSignatureTag,
		WarningTag:   watermark.DefaultWarningTag,
		Seed:         r.Seed,
		HashFragment: watermark.PlaceholderFragment,
		OwnerID:      "alice",
	}
	pass1 := shielded.Clone()
	if err := codec.Embed(pass1, r.Seed, pl); err != nil {
		t.Fatalf("Embed pass1: %v", err)
	}
	b1, err := raster.PNG{}.Encode(pass1)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	pl.HashFragment = sum(b1)[:watermark.HashFragmentLen]

	decoded, err := raster.PNG{}.Decode(res.Encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, err := codec.Extract(decoded, r.Seed)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != pl {
		t.Fatalf("extracted %+v, want %+v", got, pl)
	}

	pass2 := shielded.Clone()
	if err := codec.Embed(pass2, r.Seed, pl); err != nil {
		t.Fatalf("Embed pass2: %v", err)
	}
	b2, err := raster.PNG{}.Encode(pass2)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(b2, res.Encoded) {
		t.Fatalf("pass-2 reconstruction differs from output")
	}
	if !raster.Equal(input, pass2) {
		t.Fatalf("caller buffer does not hold the final pixels")
	}
}

func TestProtect_Deterministic(t *testing.T) {
	a, err := newProtector(t).Protect(context.Background(), Request{Pixels: gradient(t, 24, 24), Owner: "o"})
	if err != nil {
		t.Fatalf("Protect: %v", err)
	}
	b, err := newProtector(t).Protect(context.Background(), Request{Pixels: gradient(t, 24, 24), Owner: "o"})
	if err != nil {
		t.Fatalf("Protect: %v", err)
	}
	if !bytes.Equal(a.Encoded, b.Encoded) || a.Receipt != b.Receipt {
		t.Fatalf("same inputs produced different outputs")
	}
}

func TestProtect_OrigHashUsesEncodedInput(t *testing.T) {
	p := newProtector(t)
	src := gradient(t, 24, 24)
	raw := src.Clone().Pix
	res, err := p.Protect(context.Background(), Request{Pixels: src, Owner: "o"})
	if err != nil {
		t.Fatalf("Protect: %v", err)
	}
	if res.Receipt.OrigSHA256 != sum(raw) {
		t.Fatalf("orig_sha256 should hash raw samples when Original is unset")
	}

	file := []byte("original file bytes")
	res, err = p.Protect(context.Background(), Request{Pixels: gradient(t, 24, 24), Owner: "o", Original: file})
	if err != nil {
		t.Fatalf("Protect: %v", err)
	}
	if res.Receipt.OrigSHA256 != sum(file) {
		t.Fatalf("orig_sha256 should hash Original")
	}
}

func TestProtect_Degraded(t *testing.T) {
	p := newProtector(t)
	_, err := p.Protect(context.Background(), Request{Pixels: gradient(t, 8, 8), Owner: "alice"})
	if !faults.IsKind(err, faults.KindCapacity) {
		t.Fatalf("expected capacity error, got %v", err)
	}

	res, err := p.Protect(context.Background(), Request{Pixels: gradient(t, 8, 8), Owner: "alice", AllowDegraded: true})
	if err != nil {
		t.Fatalf("Protect degraded: %v", err)
	}
	if res.Receipt.ProtectionLevel != receipt.Degraded {
		t.Fatalf("level = %q, want degraded", res.Receipt.ProtectionLevel)
	}
	if sum(res.Encoded) != res.Receipt.FinalSHA256 {
		t.Fatalf("degraded hash mismatch")
	}
	rep := Verifier{}.Verify(res.Encoded, res.Receipt, trusted(t, p))
	if rep.Verdict != Valid {
		t.Fatalf("degraded verdict = %s (%s)", rep.Verdict, rep.Reason)
	}
}

func TestProtect_HighUsesDetector(t *testing.T) {
	calls := 0
	det := FaceDetectorFunc(func(ctx context.Context, b *raster.Buffer) ([]shield.Box, error) {
		calls++
		return []shield.Box{{X: 4, Y: 4, W: 12, H: 12}}, nil
	})
	p := newProtector(t, WithFaceDetector(det))

	if _, err := p.Protect(context.Background(), Request{Pixels: gradient(t, 32, 32), Owner: "o"}); err != nil {
		t.Fatalf("Protect normal: %v", err)
	}
	if calls != 0 {
		t.Fatalf("detector called at normal aggression")
	}
	res, err := p.Protect(context.Background(), Request{Pixels: gradient(t, 32, 32), Owner: "o", Aggression: shield.High})
	if err != nil {
		t.Fatalf("Protect high: %v", err)
	}
	if calls != 1 || len(res.Faces) != 1 {
		t.Fatalf("calls=%d faces=%v", calls, res.Faces)
	}
	if res.Receipt.ProtectionLevel != receipt.Maximum {
		t.Fatalf("level = %q, want maximum", res.Receipt.ProtectionLevel)
	}

	if _, err := p.Protect(context.Background(), Request{Pixels: gradient(t, 32, 32), Owner: "o", Aggression: shield.High,
		Faces: []shield.Box{{X: 0, Y: 0, W: 8, H: 8}}}); err != nil {
		t.Fatalf("Protect explicit faces: %v", err)
	}
	if calls != 1 {
		t.Fatalf("detector called despite explicit faces")
	}
}

type shapeChanger struct{}

func (shapeChanger) Shield(ctx context.Context, b *raster.Buffer, seed string) (*raster.Buffer, error) {
	return raster.New(b.Width+1, b.Height, b.Channels)
}

func TestProtect_GenerativeShapeChecked(t *testing.T) {
	p := newProtector(t, WithGenerativeShield(shapeChanger{}))
	_, err := p.Protect(context.Background(), Request{Pixels: gradient(t, 32, 32), Owner: "o"})
	if faults.RuleID(err) != "FG-PIPE-002" {
		t.Fatalf("expected FG-PIPE-002, got %v", err)
	}
}

func TestProtect_InvalidInputs(t *testing.T) {
	p := newProtector(t)
	if _, err := p.Protect(context.Background(), Request{Pixels: &raster.Buffer{Width: 2, Height: 2, Channels: 3}}); !faults.IsKind(err, faults.KindValidation) {
		t.Fatalf("expected validation error for short buffer, got %v", err)
	}
	if _, err := p.Protect(context.Background(), Request{Pixels: gradient(t, 8, 8), Aggression: "extreme"}); faults.RuleID(err) != "FG-VAL-021" {
		t.Fatalf("expected FG-VAL-021, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Protect(ctx, Request{Pixels: gradient(t, 32, 32), Owner: "o"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNew_RequiresSigner(t *testing.T) {
	d, err := seed.NewDeriver(testSecret)
	if err != nil {
		t.Fatalf("NewDeriver: %v", err)
	}
	if _, err := New(nil, d); !faults.IsKind(err, faults.KindSigningUnavailable) {
		t.Fatalf("expected SigningUnavailable, got %v", err)
	}
	sc, err := keys.NewSigningContext(testSecret)
	if err != nil {
		t.Fatalf("NewSigningContext: %v", err)
	}
	if _, err := New(sc, nil); !faults.IsKind(err, faults.KindSigningUnavailable) {
		t.Fatalf("expected SigningUnavailable, got %v", err)
	}
	if _, err := New(sc, d, WithPRNG("mt19937")); err == nil {
		t.Fatalf("expected error for unknown prng")
	}
}

// flakyEncoder flips the low bit of the first sample on selected calls,
// modelling an encoder that is not lossless.
type flakyEncoder struct {
	raster.PNG
	mu      sync.Mutex
	calls   int
	corrupt func(call int) bool
}

func (f *flakyEncoder) Encode(b *raster.Buffer) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	bad := f.corrupt(f.calls)
	f.mu.Unlock()
	if bad {
		b = b.Clone()
		b.Pix[0] ^= 1
	}
	return f.PNG.Encode(b)
}

func TestProtect_SelfCheckResignsOnce(t *testing.T) {
	enc := &flakyEncoder{corrupt: func(call int) bool { return call == 2 }}
	p := newProtector(t, WithEncoder(enc, raster.PNG{}))
	res, err := p.Protect(context.Background(), Request{Pixels: gradient(t, 32, 32), Owner: "o"})
	if err != nil {
		t.Fatalf("Protect: %v", err)
	}
	if enc.calls != 3 {
		t.Fatalf("encoder calls = %d, want 3", enc.calls)
	}
	if rep := (Verifier{}).Verify(res.Encoded, res.Receipt, trusted(t, p)); rep.Verdict != Valid {
		t.Fatalf("verdict = %s (%s)", rep.Verdict, rep.Reason)
	}
}

func TestProtect_SelfCheckFailsAfterResign(t *testing.T) {
	enc := &flakyEncoder{corrupt: func(int) bool { return true }}
	p := newProtector(t, WithEncoder(enc, raster.PNG{}))
	_, err := p.Protect(context.Background(), Request{Pixels: gradient(t, 32, 32), Owner: "o"})
	if !faults.IsKind(err, faults.KindHashMismatch) || faults.RuleID(err) != "FG-HASH-002" {
		t.Fatalf("expected FG-HASH-002, got %v", err)
	}
	if enc.calls != 3 {
		t.Fatalf("encoder calls = %d, want 3", enc.calls)
	}
}

func TestProtect_LegacyPRNG(t *testing.T) {
	p := newProtector(t, WithPRNG(prng.SineHash))
	res, err := p.Protect(context.Background(), Request{Pixels: gradient(t, 32, 32), Owner: "o"})
	if err != nil {
		t.Fatalf("Protect: %v", err)
	}
	if res.Receipt.Version != "1" {
		t.Fatalf("version = %q, want 1", res.Receipt.Version)
	}
	if rep := (Verifier{}).Verify(res.Encoded, res.Receipt, trusted(t, p)); rep.Verdict != Valid {
		t.Fatalf("verdict = %s (%s)", rep.Verdict, rep.Reason)
	}
}

func TestProtect_LogsWithoutSeed(t *testing.T) {
	var buf bytes.Buffer
	p := newProtector(t, WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))
	res, err := p.Protect(context.Background(), Request{Pixels: gradient(t, 32, 32), Owner: "o"})
	if err != nil {
		t.Fatalf("Protect: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, res.RunID) {
		t.Fatalf("log missing run id: %s", out)
	}
	if strings.Contains(out, res.Receipt.Seed) {
		t.Fatalf("log leaked the seed: %s", out)
	}
}

func TestProtect_Concurrent(t *testing.T) {
	sc, err := keys.NewSigningContext(testSecret)
	if err != nil {
		t.Fatalf("NewSigningContext: %v", err)
	}
	d, err := seed.NewDeriver(testSecret)
	if err != nil {
		t.Fatalf("NewDeriver: %v", err)
	}
	p, err := New(sc, d)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pub := sc.PublicKey()

	const n = 8
	inputs := make([]*raster.Buffer, n)
	for i := range inputs {
		inputs[i] = gradient(t, 24+i, 24)
	}
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := p.Protect(context.Background(), Request{Pixels: inputs[i], Owner: "owner"})
			if err != nil {
				errs <- err
				return
			}
			if rep := (Verifier{}).Verify(res.Encoded, res.Receipt, pub); rep.Verdict != Valid {
				errs <- errors.New(string(rep.Verdict) + ": " + rep.Reason)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent protect: %v", err)
	}
}
