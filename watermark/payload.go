package watermark

import (
	"encoding/binary"
	"fmt"
	"strings"

	"xdao.co/faceguard/faults"
)

const (
	DefaultSignatureTag = "FG-WARN"
	DefaultWarningTag   = "FACEGUARD_DO_NOT_EDIT"

	// HashFragmentLen is the number of hex characters of the content hash
	// carried in the payload. It is fixed so the payload length does not
	// depend on the hash value.
	HashFragmentLen = 16

	Delimiter = "::"

	headerBits = 16
	maxText    = 1<<headerBits - 1
)

// PlaceholderFragment stands in for the hash fragment before the final hash is known.
var PlaceholderFragment = strings.Repeat("0", HashFragmentLen)

// Payload is the token stream hidden in the image.
type Payload struct {
	SignatureTag string
	WarningTag   string
	Seed         string
	HashFragment string
	OwnerID      string
}

// Text renders the delimited payload text (without checksum).
func (p Payload) Text() string {
	return strings.Join([]string{p.SignatureTag, p.WarningTag, p.Seed, p.HashFragment, p.OwnerID}, Delimiter)
}

// Checksum is the sum of the text's byte values mod 256.
func Checksum(text string) byte {
	var sum byte
	for i := 0; i < len(text); i++ {
		sum += text[i]
	}
	return sum
}

func (p Payload) validate() error {
	if p.SignatureTag == "" {
		return faults.New(faults.KindValidation, "FG-WM-001", "payload signature tag is empty")
	}
	for _, f := range []string{p.SignatureTag, p.WarningTag, p.Seed, p.HashFragment} {
		if strings.Contains(f, Delimiter) {
			return faults.New(faults.KindValidation, "FG-WM-002", fmt.Sprintf("payload field %q contains the delimiter", f))
		}
	}
	if n := len(p.Text()); n > maxText {
		return faults.New(faults.KindValidation, "FG-WM-003", fmt.Sprintf("payload text is %d bytes (max %d)", n, maxText))
	}
	return nil
}

// Frame returns the embedded byte stream: a 16-bit big-endian text length,
// the text, and the checksum byte.
func (p Payload) Frame() ([]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	text := p.Text()
	out := make([]byte, 2, 2+len(text)+1)
	binary.BigEndian.PutUint16(out, uint16(len(text)))
	out = append(out, text...)
	out = append(out, Checksum(text))
	return out, nil
}

// Bits returns Frame as one 0/1 value per element, most significant bit first.
func (p Payload) Bits() ([]byte, error) {
	frame, err := p.Frame()
	if err != nil {
		return nil, err
	}
	return toBits(frame), nil
}

// BitLen is the number of bits Embed writes for p.
func (p Payload) BitLen() int {
	return headerBits + 8*(len(p.Text())+1)
}

// ParseText splits payload text into its five fields. The owner id is the
// remainder after the fourth delimiter and may itself contain the delimiter.
func ParseText(text string) (Payload, bool) {
	parts := strings.SplitN(text, Delimiter, 5)
	if len(parts) != 5 {
		return Payload{}, false
	}
	return Payload{
		SignatureTag: parts[0],
		WarningTag:   parts[1],
		Seed:         parts[2],
		HashFragment: parts[3],
		OwnerID:      parts[4],
	}, true
}

func toBits(data []byte) []byte {
	bits := make([]byte, 0, len(data)*8)
	for _, b := range data {
		for i := 7; i >= 0; i-- {
			bits = append(bits, (b>>uint(i))&1)
		}
	}
	return bits
}

func fromBits(bits []byte) []byte {
	out := make([]byte, len(bits)/8)
	for i := range out {
		var b byte
		for j := 0; j < 8; j++ {
			b = b<<1 | bits[i*8+j]&1
		}
		out[i] = b
	}
	return out
}
