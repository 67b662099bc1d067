// Package storage defines the content-addressed store protected artifacts are
// deposited into.
package storage

import "github.com/ipfs/go-cid"

// Store is a minimal content-addressed store.
//
// Contract:
// - Put MUST be idempotent.
// - Stored objects MUST be immutable.
// - CIDs MUST be derived from the bytes written (cidutil.ContentID).
// - Get MUST return ErrNotFound when the CID is absent.
type Store interface {
	Put(bytes []byte) (cid.Cid, error)
	Get(id cid.Cid) ([]byte, error)
	Has(id cid.Cid) bool
}

// Lister is implemented by stores that can enumerate their contents.
// Listed ids are sorted by their string form.
type Lister interface {
	List() ([]cid.Cid, error)
}
