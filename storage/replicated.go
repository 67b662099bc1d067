package storage

import (
	"fmt"
	"sort"

	"github.com/ipfs/go-cid"

	"xdao.co/faceguard/cidutil"
)

// Named pairs a store with the backend name it was opened from.
type Named struct {
	Name  string
	Store Store
}

// Replicated deposits into every member and reads from the first member that
// has the object. Member order is the caller's and is never reshuffled.
type Replicated struct {
	Members []Named
}

var _ Store = Replicated{}

// PutAll writes bytes to every member and returns the CID each one reported.
// Any member disagreeing with the CID computed from bytes is ErrCIDMismatch.
func (r Replicated) PutAll(bytes []byte) (cid.Cid, map[string]cid.Cid, error) {
	want, err := cidutil.ContentID(bytes)
	if err != nil {
		return cid.Undef, nil, err
	}
	if len(r.Members) == 0 {
		return cid.Undef, nil, fmt.Errorf("storage: replicated store has no members")
	}

	out := make(map[string]cid.Cid, len(r.Members))
	for _, m := range r.Members {
		if m.Store == nil {
			return cid.Undef, nil, fmt.Errorf("storage: nil store for member %q", m.Name)
		}
		got, err := m.Store.Put(bytes)
		if err != nil {
			return cid.Undef, out, fmt.Errorf("storage: member %q: %w", m.Name, err)
		}
		out[m.Name] = got
		if got != want {
			return cid.Undef, out, ErrCIDMismatch
		}
	}
	return want, out, nil
}

func (r Replicated) Put(bytes []byte) (cid.Cid, error) {
	id, _, err := r.PutAll(bytes)
	return id, err
}

func (r Replicated) Get(id cid.Cid) ([]byte, error) {
	for _, m := range r.Members {
		if m.Store == nil {
			continue
		}
		b, err := m.Store.Get(id)
		if err == nil {
			return b, nil
		}
		if IsNotFound(err) {
			continue
		}
		return nil, err
	}
	return nil, ErrNotFound
}

func (r Replicated) Has(id cid.Cid) bool {
	for _, m := range r.Members {
		if m.Store != nil && m.Store.Has(id) {
			return true
		}
	}
	return false
}

// List merges the listings of every member that implements Lister.
func (r Replicated) List() ([]cid.Cid, error) {
	seen := map[string]cid.Cid{}
	for _, m := range r.Members {
		l, ok := m.Store.(Lister)
		if !ok {
			continue
		}
		ids, err := l.List()
		if err != nil {
			return nil, fmt.Errorf("storage: member %q: %w", m.Name, err)
		}
		for _, id := range ids {
			seen[id.String()] = id
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]cid.Cid, 0, len(keys))
	for _, k := range keys {
		out = append(out, seen[k])
	}
	return out, nil
}
