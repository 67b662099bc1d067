// Package artifact packages a protected image with its signed receipt for
// storage and transfer.
//
// The envelope is CBOR with Core Deterministic Encoding (RFC 8949 §4.2), so
// the same artifact always has the same bytes and therefore the same CID.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"xdao.co/faceguard/faults"
	"xdao.co/faceguard/receipt"
)

// Artifact is one protected image and the receipt that vouches for it.
type Artifact struct {
	Format  string          `cbor:"format"`
	Image   []byte          `cbor:"image"`
	Receipt receipt.Receipt `cbor:"receipt"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("artifact: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType:    reflect.TypeOf(map[string]any(nil)),
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("artifact: CBOR decoder initialization failed: " + err.Error())
	}
}

// New builds an artifact from pipeline output.
func New(format string, image []byte, r receipt.Receipt) Artifact {
	return Artifact{Format: format, Image: append([]byte(nil), image...), Receipt: r}
}

// Validate checks the receipt shape and that the image bytes are the ones the
// receipt's final hash names. It does not verify the signature.
func (a Artifact) Validate() error {
	if a.Format == "" {
		return faults.New(faults.KindValidation, "FG-ART-001", "artifact format is empty")
	}
	if len(a.Image) == 0 {
		return faults.New(faults.KindValidation, "FG-ART-002", "artifact image is empty")
	}
	if err := a.Receipt.Validate(); err != nil {
		return err
	}
	sum := sha256.Sum256(a.Image)
	if got := hex.EncodeToString(sum[:]); got != a.Receipt.FinalSHA256 {
		return faults.New(faults.KindHashMismatch, "FG-ART-003",
			fmt.Sprintf("image hashes to %s, receipt final_sha256 is %s", got, a.Receipt.FinalSHA256))
	}
	return nil
}

// Marshal validates a and returns its deterministic encoding.
func Marshal(a Artifact) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return encMode.Marshal(a)
}

// Unmarshal decodes and validates an envelope.
func Unmarshal(data []byte) (Artifact, error) {
	var a Artifact
	if err := decMode.Unmarshal(data, &a); err != nil {
		return Artifact{}, faults.Wrap(faults.KindValidation, "FG-ART-004", "decode artifact", err)
	}
	if err := a.Validate(); err != nil {
		return Artifact{}, err
	}
	return a, nil
}
