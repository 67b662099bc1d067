// Package cidutil derives the content identifiers used to key stored artifacts.
package cidutil

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ContentID returns the CIDv1 (raw codec, sha2-256 multihash) of data.
func ContentID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// ContentIDString is ContentID rendered as a string, or "" if it cannot be computed.
func ContentIDString(data []byte) string {
	id, err := ContentID(data)
	if err != nil {
		return ""
	}
	return id.String()
}

// Parse decodes s and requires the raw codec with a sha2-256 digest; other
// CIDs can never name an artifact in a store.
func Parse(s string) (cid.Cid, error) {
	id, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, err
	}
	p := id.Prefix()
	if p.Version != 1 || p.Codec != cid.Raw || p.MhType != multihash.SHA2_256 {
		return cid.Undef, fmt.Errorf("cidutil: %s is not a CIDv1 raw sha2-256 id", s)
	}
	return id, nil
}
