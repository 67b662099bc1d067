// Package pipeline runs the protection pipeline end to end: seed derivation,
// shielding, the two-pass watermark/hash protocol, signing and self-check.
// It also hosts the symmetric verifier.
package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"xdao.co/faceguard/faults"
	"xdao.co/faceguard/keys"
	"xdao.co/faceguard/prng"
	"xdao.co/faceguard/raster"
	"xdao.co/faceguard/receipt"
	"xdao.co/faceguard/seed"
	"xdao.co/faceguard/shield"
	"xdao.co/faceguard/watermark"
)

// Request is one protection job. Pixels is mutated in place and ends holding
// the final (shielded and watermarked) samples.
type Request struct {
	Pixels *raster.Buffer
	// Original is the encoded input. When set, orig_sha256 hashes it;
	// otherwise the raw input samples are hashed.
	Original   []byte
	Owner      string
	Aggression shield.Level
	// Faces are regions to harden at High aggression. When empty and a
	// FaceDetector is configured, the detector is asked.
	Faces []shield.Box
	// AllowDegraded lets the job finish without a watermark when the image is
	// too small to carry one. The receipt then records protection_level=degraded.
	AllowDegraded bool
}

// Result is the protected output.
type Result struct {
	Pixels  *raster.Buffer
	Encoded []byte
	Format  string
	Receipt receipt.Receipt
	Faces   []shield.Box
	RunID   string
}

// Protector is safe for concurrent use; it holds no per-request state.
type Protector struct {
	signer     *keys.SigningContext
	seeds      *seed.Deriver
	encoder    raster.Encoder
	decoder    raster.Decoder
	detector   FaceDetector
	generative GenerativeShield
	logger     *slog.Logger
	prng       prng.Algorithm
	sigTag     string
	warnTag    string
}

type Option func(*Protector)

// WithEncoder sets the output encoder. It must be lossless; decoder must read
// what it writes.
func WithEncoder(enc raster.Encoder, dec raster.Decoder) Option {
	return func(p *Protector) { p.encoder, p.decoder = enc, dec }
}

func WithFaceDetector(d FaceDetector) Option { return func(p *Protector) { p.detector = d } }

func WithGenerativeShield(g GenerativeShield) Option { return func(p *Protector) { p.generative = g } }

func WithLogger(l *slog.Logger) Option { return func(p *Protector) { p.logger = l } }

// WithPRNG selects the generator; the receipt version follows it.
func WithPRNG(alg prng.Algorithm) Option { return func(p *Protector) { p.prng = alg } }

// WithTags overrides the watermark signature and warning tags.
func WithTags(signature, warning string) Option {
	return func(p *Protector) { p.sigTag, p.warnTag = signature, warning }
}

// New builds a Protector. Both the signing context and the seed deriver are
// required; without them no receipt may be produced.
func New(signer *keys.SigningContext, seeds *seed.Deriver, opts ...Option) (*Protector, error) {
	if signer == nil {
		return nil, faults.New(faults.KindSigningUnavailable, "FG-SIGN-001", "no signing context")
	}
	if seeds == nil {
		return nil, faults.New(faults.KindSigningUnavailable, "FG-SEED-001", "no seed deriver")
	}
	p := &Protector{
		signer:  signer,
		seeds:   seeds,
		encoder: raster.PNG{},
		decoder: raster.PNG{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		prng:    prng.Default,
		sigTag:  watermark.DefaultSignatureTag,
		warnTag: watermark.DefaultWarningTag,
	}
	for _, opt := range opts {
		opt(p)
	}
	if _, err := versionFor(p.prng); err != nil {
		return nil, err
	}
	return p, nil
}

// PublicKeyHex is the key verifiers should trust.
func (p *Protector) PublicKeyHex() string { return p.signer.PublicKeyHex() }

// Protect runs the full pipeline for req.
func (p *Protector) Protect(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Pixels.Validate(); err != nil {
		return nil, err
	}
	level, err := shield.ParseLevel(string(req.Aggression))
	if err != nil {
		return nil, err
	}
	version, err := versionFor(p.prng)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := p.logger.With("run_id", runID)

	s, err := p.seeds.Derive(req.Owner)
	if err != nil {
		return nil, err
	}

	orig := req.Pixels.Clone()
	origHash := sha256Hex(orig.Pix)
	if len(req.Original) > 0 {
		origHash = sha256Hex(req.Original)
	}

	work := orig.Clone()
	if p.generative != nil {
		g, err := p.generative.Shield(ctx, work.Clone(), s.Value)
		if err != nil {
			return nil, faults.Wrap(faults.KindInternal, "FG-PIPE-001", "generative shield failed", err)
		}
		if g == nil || !raster.SameShape(g, work) {
			return nil, faults.New(faults.KindInternal, "FG-PIPE-002", "generative shield changed the buffer shape")
		}
		work.Paste(g, 0, 0)
	}

	faces := req.Faces
	if level == shield.High && len(faces) == 0 && p.detector != nil {
		faces, err = p.detector.Detect(ctx, work.Clone())
		if err != nil {
			return nil, faults.Wrap(faults.KindInternal, "FG-PIPE-003", "face detection failed", err)
		}
	}

	engine := shield.Engine{PRNG: p.prng}
	if err := engine.Shield(work, s.Value, level, faces); err != nil {
		return nil, err
	}
	score, err := shield.Score(orig, work)
	if err != nil {
		return nil, err
	}

	rcpt := receipt.Receipt{
		Version:         version,
		Owner:           req.Owner,
		OrigSHA256:      origHash,
		Seed:            s.Value,
		Timestamp:       receipt.FormatTimestamp(s.Timestamp),
		ProtectionLevel: receipt.Standard,
		ProtectionScore: score,
	}
	if level == shield.High {
		rcpt.ProtectionLevel = receipt.Maximum
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload := watermark.Payload{
		SignatureTag: p.sigTag,
		WarningTag:   p.warnTag,
		Seed:         s.Value,
		HashFragment: watermark.PlaceholderFragment,
		OwnerID:      req.Owner,
	}
	sealed, err := p.seal(work, payload, &rcpt, req.AllowDegraded)
	if err != nil {
		return nil, err
	}
	if rcpt.ProtectionLevel == receipt.Degraded {
		log.Warn("watermark omitted", "reason", "capacity", "width", work.Width, "height", work.Height)
	}

	if err := p.selfCheck(sealed, rcpt); err != nil {
		log.Warn("self-check failed, re-signing", "err", err)
		if err := p.reseal(sealed, &rcpt); err != nil {
			return nil, err
		}
		if err := p.selfCheck(sealed, rcpt); err != nil {
			return nil, faults.Wrap(faults.KindHashMismatch, "FG-HASH-002", "final hash failed self-verification after re-sign", err)
		}
	}

	copy(req.Pixels.Pix, sealed.pixels.Pix)
	log.Info("protected",
		"owner", req.Owner,
		"level", rcpt.ProtectionLevel,
		"score", rcpt.ProtectionScore,
		"faces", len(faces),
		"final_sha256", rcpt.FinalSHA256)

	return &Result{
		Pixels:  req.Pixels,
		Encoded: sealed.encoded,
		Format:  p.encoder.Format(),
		Receipt: rcpt,
		Faces:   faces,
		RunID:   runID,
	}, nil
}

// sealed is the state carried from the hash protocol into the self-check.
type sealed struct {
	pixels  *raster.Buffer
	encoded []byte
	payload watermark.Payload
}

// seal runs the two-pass fixed-point protocol. Pass 1 embeds a placeholder
// fragment and hashes the encoding (H1). Pass 2 re-embeds with H1's fragment
// into a fresh copy of the shielded pixels; its hash H2 becomes final_sha256.
// The payload length does not depend on the fragment, so pass 2 only changes
// bit values and H2 is stable.
func (p *Protector) seal(shielded *raster.Buffer, payload watermark.Payload, r *receipt.Receipt, allowDegraded bool) (*sealed, error) {
	codec := watermark.Codec{PRNG: p.prng, SignatureTag: p.sigTag}

	pass1 := shielded.Clone()
	if err := codec.Embed(pass1, payload.Seed, payload); err != nil {
		if !faults.IsKind(err, faults.KindCapacity) || !allowDegraded {
			return nil, err
		}
		r.ProtectionLevel = receipt.Degraded
		out := &sealed{pixels: shielded.Clone()}
		if err := p.finalize(out, r); err != nil {
			return nil, err
		}
		return out, nil
	}
	b1, err := p.encoder.Encode(pass1)
	if err != nil {
		return nil, err
	}
	h1 := sha256Hex(b1)

	payload.HashFragment = h1[:watermark.HashFragmentLen]
	pass2 := shielded.Clone()
	if err := codec.Embed(pass2, payload.Seed, payload); err != nil {
		return nil, err
	}
	out := &sealed{pixels: pass2, payload: payload}
	if err := p.finalize(out, r); err != nil {
		return nil, err
	}
	return out, nil
}

// finalize encodes s.pixels, records the hash and signs.
func (p *Protector) finalize(s *sealed, r *receipt.Receipt) error {
	b, err := p.encoder.Encode(s.pixels)
	if err != nil {
		return err
	}
	s.encoded = b
	r.FinalSHA256 = sha256Hex(b)
	return receipt.Sign(r, p.signer)
}

// reseal is the single corrective cycle: re-encode the pass-2 pixels,
// re-hash and re-sign.
func (p *Protector) reseal(s *sealed, r *receipt.Receipt) error {
	return p.finalize(s, r)
}

// selfCheck confirms the bytes about to be returned match the receipt and
// still carry the watermark exactly.
func (p *Protector) selfCheck(s *sealed, r receipt.Receipt) error {
	if got := sha256Hex(s.encoded); got != r.FinalSHA256 {
		return faults.New(faults.KindHashMismatch, "FG-HASH-001", fmt.Sprintf("encoded bytes hash to %s, receipt says %s", got, r.FinalSHA256))
	}
	decoded, err := p.decoder.Decode(s.encoded)
	if err != nil {
		return err
	}
	if decoded.Width != s.pixels.Width || decoded.Height != s.pixels.Height || !rgbEqual(decoded, s.pixels) {
		return faults.New(faults.KindHashMismatch, "FG-HASH-003", "encoder did not preserve pixel samples")
	}
	if !r.Watermarked() {
		return nil
	}
	got, err := (watermark.Codec{PRNG: p.prng, SignatureTag: p.sigTag}).Extract(decoded, r.Seed)
	if err != nil {
		return err
	}
	if got != s.payload {
		return faults.New(faults.KindHashMismatch, "FG-HASH-004", "extracted watermark differs from the embedded payload")
	}
	return nil
}

// rgbEqual compares RGB samples only; decoders may drop an opaque alpha channel.
func rgbEqual(a, b *raster.Buffer) bool {
	if a.Pixels() != b.Pixels() {
		return false
	}
	for i := 0; i < a.Pixels(); i++ {
		ao, bo := i*a.Channels, i*b.Channels
		if !bytes.Equal(a.Pix[ao:ao+3], b.Pix[bo:bo+3]) {
			return false
		}
	}
	return true
}

func versionFor(alg prng.Algorithm) (string, error) {
	switch alg {
	case prng.SineHash:
		return "1", nil
	case prng.ChaCha20:
		return receipt.Version, nil
	default:
		return "", fmt.Errorf("pipeline: unsupported prng %q", alg)
	}
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
