// Package watermark hides a short token stream in the least significant bits
// of RGB samples at positions chosen by the seeded PRNG.
//
// Extraction replays the same PRNG sequence with the same accept/reject
// decisions, so only a holder of the seed can locate the bits. LSB embedding
// does not survive lossy re-encoding; output must stay lossless.
package watermark

import (
	"encoding/binary"
	"fmt"

	"xdao.co/faceguard/faults"
	"xdao.co/faceguard/prng"
	"xdao.co/faceguard/raster"
)

// maxRejects bounds consecutive rejected draws before the placer probes
// forward to the next free slot.
const maxRejects = 4096

// ErrWatermarkAbsent is returned (wrapped) when no payload can be located.
var ErrWatermarkAbsent = faults.New(faults.KindAbsent, "FG-WM-100", "watermark absent")

// Codec embeds and extracts payloads. The zero value uses prng.Default and
// DefaultSignatureTag.
type Codec struct {
	PRNG prng.Algorithm
	// SignatureTag is the tag Extract expects in the first field.
	SignatureTag string
}

// Capacity is the number of embeddable bits: one per RGB sample.
func Capacity(b *raster.Buffer) int { return b.Pixels() * 3 }

// CapacityError reports a payload larger than the buffer can carry.
func CapacityError(need, capacity int) error {
	return faults.New(faults.KindCapacity, "FG-CAP-001",
		fmt.Sprintf("watermark needs %d bits but image capacity is %d", need, capacity))
}

// Embed writes p into b. On any error nothing is written.
func (c Codec) Embed(b *raster.Buffer, seed string, p Payload) error {
	bits, err := p.Bits()
	if err != nil {
		return err
	}
	return c.EmbedBits(b, seed, bits)
}

// EmbedBits writes bits (one 0/1 per element) into b in order. If
// len(bits) exceeds Capacity(b) it fails with a Capacity error and writes nothing.
func (c Codec) EmbedBits(b *raster.Buffer, seed string, bits []byte) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if capacity := Capacity(b); len(bits) > capacity {
		return CapacityError(len(bits), capacity)
	}
	pl, err := c.newPlacer(b, seed)
	if err != nil {
		return err
	}
	for _, bit := range bits {
		i := pl.next()
		b.Pix[i] = b.Pix[i]&^1 | bit&1
	}
	return nil
}

// ExtractBits reads n bits from b in embedding order.
func (c Codec) ExtractBits(b *raster.Buffer, seed string, n int) ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if capacity := Capacity(b); n > capacity || n < 0 {
		return nil, CapacityError(n, capacity)
	}
	pl, err := c.newPlacer(b, seed)
	if err != nil {
		return nil, err
	}
	return pl.read(n), nil
}

// Extract recovers the payload embedded with seed.
//
// It fails with ErrWatermarkAbsent when the length prefix or field layout is
// implausible or the signature tag does not match, and with a Tamper error
// when the layout is intact but the checksum byte disagrees.
func (c Codec) Extract(b *raster.Buffer, seed string) (Payload, error) {
	if err := b.Validate(); err != nil {
		return Payload{}, err
	}
	capacity := Capacity(b)
	if capacity < headerBits+16 {
		return Payload{}, ErrWatermarkAbsent
	}
	pl, err := c.newPlacer(b, seed)
	if err != nil {
		return Payload{}, err
	}
	n := int(binary.BigEndian.Uint16(fromBits(pl.read(headerBits))))
	if n == 0 || headerBits+8*(n+1) > capacity {
		return Payload{}, ErrWatermarkAbsent
	}
	body := fromBits(pl.read(8 * (n + 1)))
	text, sum := string(body[:n]), body[n]

	p, ok := ParseText(text)
	if !ok || p.SignatureTag != c.signatureTag() {
		return Payload{}, ErrWatermarkAbsent
	}
	if Checksum(text) != sum {
		return p, faults.New(faults.KindTamper, "FG-WM-201",
			fmt.Sprintf("watermark checksum mismatch (stored %#02x, computed %#02x)", sum, Checksum(text)))
	}
	return p, nil
}

func (c Codec) signatureTag() string {
	if c.SignatureTag == "" {
		return DefaultSignatureTag
	}
	return c.SignatureTag
}

// placer yields distinct sample indexes in PRNG order.
type placer struct {
	buf    *raster.Buffer
	src    prng.Source
	used   []bool
	pixels int
}

func (c Codec) newPlacer(b *raster.Buffer, seed string) (*placer, error) {
	src, err := prng.New(c.PRNG, seed)
	if err != nil {
		return nil, err
	}
	return &placer{buf: b, src: src, used: make([]bool, Capacity(b)), pixels: b.Pixels()}, nil
}

// next must only be called while free slots remain.
func (p *placer) next() int {
	rejects := 0
	for {
		pix := int(p.src.Float64() * float64(p.pixels))
		ch := int(p.src.Float64() * 3)
		if pix < 0 || pix >= p.pixels || ch < 0 || ch > 2 {
			rejects++
			continue
		}
		slot := pix*3 + ch
		if !p.used[slot] {
			return p.take(slot)
		}
		rejects++
		if rejects >= maxRejects {
			for i := 1; i < len(p.used); i++ {
				s := (slot + i) % len(p.used)
				if !p.used[s] {
					return p.take(s)
				}
			}
		}
	}
}

func (p *placer) take(slot int) int {
	p.used[slot] = true
	return (slot/3)*p.buf.Channels + slot%3
}

func (p *placer) read(n int) []byte {
	bits := make([]byte, n)
	for i := range bits {
		bits[i] = p.buf.Pix[p.next()] & 1
	}
	return bits
}
