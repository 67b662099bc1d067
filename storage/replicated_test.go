package storage_test

import (
	"bytes"
	"testing"

	"github.com/ipfs/go-cid"

	"xdao.co/faceguard/cidutil"
	"xdao.co/faceguard/storage"
	"xdao.co/faceguard/storage/localfs"
	"xdao.co/faceguard/storage/testkit"
)

func twoMembers(t *testing.T) (storage.Replicated, *localfs.Store, *localfs.Store) {
	t.Helper()
	a, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	b, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return storage.Replicated{Members: []storage.Named{{Name: "a", Store: a}, {Name: "b", Store: b}}}, a, b
}

func TestReplicated_Conformance(t *testing.T) {
	testkit.RunStoreConformance(t, func(t *testing.T) storage.Store {
		r, _, _ := twoMembers(t)
		return r
	})
}

func TestReplicated_WritesEveryMember(t *testing.T) {
	r, a, b := twoMembers(t)
	id, per, err := r.PutAll([]byte("artifact"))
	if err != nil {
		t.Fatalf("PutAll: %v", err)
	}
	if per["a"] != id || per["b"] != id {
		t.Fatalf("per-member ids = %v", per)
	}
	if !a.Has(id) || !b.Has(id) {
		t.Fatalf("object missing from a member")
	}
}

func TestReplicated_ReadFallsBack(t *testing.T) {
	r, _, b := twoMembers(t)
	want := []byte("only in b")
	id, err := b.Put(want)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := r.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("payload mismatch")
	}
}

type lyingStore struct{ storage.Store }

func (lyingStore) Put([]byte) (cid.Cid, error) { return cidutil.ContentID([]byte("something else")) }

func TestReplicated_CIDMismatch(t *testing.T) {
	r, a, _ := twoMembers(t)
	r.Members = append(r.Members, storage.Named{Name: "liar", Store: lyingStore{a}})
	if _, err := r.Put([]byte("x")); err != storage.ErrCIDMismatch {
		t.Fatalf("expected ErrCIDMismatch, got %v", err)
	}
}

func TestReplicated_ListMerges(t *testing.T) {
	r, a, b := twoMembers(t)
	if _, err := a.Put([]byte("1")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Put([]byte("2")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Put([]byte("3")); err != nil {
		t.Fatal(err)
	}
	ids, err := r.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("List returned %d ids, want 3", len(ids))
	}
}
