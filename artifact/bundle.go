package artifact

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/klauspost/compress/zstd"

	"xdao.co/faceguard/cidutil"
	"xdao.co/faceguard/storage"
)

// BundleVersion is the current index.json schema version.
const BundleVersion = 1

var epoch0 = time.Unix(0, 0).UTC()

// zstdMagic starts every zstd frame; ImportBundle uses it to detect compression.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
	if err != nil {
		panic("artifact: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("artifact: zstd decoder initialization failed: " + err.Error())
	}
}

// ExportOptions controls bundle export.
type ExportOptions struct {
	// IncludeIndex adds index.json describing every artifact.
	IncludeIndex bool
	// Compress wraps the tar stream in a single zstd frame.
	Compress bool
}

// ExportBundle writes a deterministic tar of the artifacts named by ids.
//
// Entry order is lexicographic by CID and headers are normalized, so the same
// set of ids always yields the same bytes. Each block is checked against its
// CID and decoded as a valid artifact before it is written.
func ExportBundle(w io.Writer, store storage.Store, ids []cid.Cid, opts ExportOptions) error {
	if store == nil {
		return fmt.Errorf("artifact: nil store")
	}

	uniq := make(map[string]cid.Cid, len(ids))
	for _, id := range ids {
		if !id.Defined() {
			return storage.ErrInvalidCID
		}
		uniq[id.String()] = id
	}
	names := make([]string, 0, len(uniq))
	for s := range uniq {
		names = append(names, s)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	entries := make([]indexEntry, 0, len(names))
	for _, s := range names {
		id := uniq[s]
		b, err := store.Get(id)
		if err != nil {
			return err
		}
		got, err := cidutil.ContentID(b)
		if err != nil {
			return err
		}
		if got != id {
			return storage.ErrCIDMismatch
		}
		a, err := Unmarshal(b)
		if err != nil {
			return fmt.Errorf("artifact: block %s: %w", s, err)
		}
		if err := writeFile(tw, "blocks/"+s, b); err != nil {
			return err
		}
		entries = append(entries, indexEntry{
			CID:             s,
			Size:            len(b),
			Format:          a.Format,
			Owner:           a.Receipt.Owner,
			FinalSHA256:     a.Receipt.FinalSHA256,
			ProtectionLevel: string(a.Receipt.ProtectionLevel),
		})
	}

	if opts.IncludeIndex {
		idx, err := json.Marshal(bundleIndex{
			Version:   BundleVersion,
			CIDCodec:  "raw",
			Multihash: "sha2-256",
			Artifacts: entries,
		})
		if err != nil {
			return err
		}
		if err := writeFile(tw, "index.json", append(idx, '\n')); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}

	out := buf.Bytes()
	if opts.Compress {
		out = zstdEncoder.EncodeAll(out, nil)
	}
	_, err := w.Write(out)
	return err
}

// ImportOptions controls bundle import.
type ImportOptions struct {
	// IgnoreUnknown skips unknown tar entries instead of failing.
	IgnoreUnknown bool
}

// ImportBundle reads a bundle (plain or zstd) and deposits every block into
// store. Each block must match its entry name's CID and decode as a valid
// artifact. It returns the imported ids in bundle order.
func ImportBundle(r io.Reader, store storage.Store, opts ImportOptions) ([]cid.Cid, error) {
	if store == nil {
		return nil, fmt.Errorf("artifact: nil store")
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(raw, zstdMagic) {
		raw, err = zstdDecoder.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("artifact: zstd decompress: %w", err)
		}
	}

	tr := tar.NewReader(bytes.NewReader(raw))
	seen := map[string]struct{}{}
	var imported []cid.Cid
	for {
		h, err := tr.Next()
		if err == io.EOF {
			return imported, nil
		}
		if err != nil {
			return imported, err
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return imported, fmt.Errorf("artifact: invalid bundle entry path: %q", h.Name)
		}
		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return imported, fmt.Errorf("artifact: unexpected tar entry type: %v (%s)", h.Typeflag, name)
		}
		if name == "index.json" {
			_, _ = io.Copy(io.Discard, tr)
			continue
		}
		if !strings.HasPrefix(name, "blocks/") {
			if opts.IgnoreUnknown {
				_, _ = io.Copy(io.Discard, tr)
				continue
			}
			return imported, fmt.Errorf("artifact: unknown bundle entry: %s", name)
		}

		id, err := cidutil.Parse(strings.TrimPrefix(name, "blocks/"))
		if err != nil {
			return imported, storage.ErrInvalidCID
		}
		payload, err := io.ReadAll(tr)
		if err != nil {
			return imported, err
		}
		got, err := cidutil.ContentID(payload)
		if err != nil {
			return imported, err
		}
		if got != id {
			return imported, storage.ErrCIDMismatch
		}
		if _, ok := seen[id.String()]; ok {
			return imported, fmt.Errorf("artifact: duplicate bundle entry: %s", id)
		}
		seen[id.String()] = struct{}{}
		if _, err := Unmarshal(payload); err != nil {
			return imported, fmt.Errorf("artifact: block %s: %w", id, err)
		}

		putID, err := store.Put(payload)
		if err != nil {
			return imported, err
		}
		if putID != id {
			return imported, storage.ErrCIDMismatch
		}
		imported = append(imported, id)
	}
}

type bundleIndex struct {
	Version   int          `json:"version"`
	CIDCodec  string       `json:"cidCodec"`
	Multihash string       `json:"multihash"`
	Artifacts []indexEntry `json:"artifacts"`
}

type indexEntry struct {
	CID             string `json:"cid"`
	Size            int    `json:"size"`
	Format          string `json:"format"`
	Owner           string `json:"owner"`
	FinalSHA256     string `json:"final_sha256"`
	ProtectionLevel string `json:"protection_level"`
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
		Format:   tar.FormatUSTAR,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(content)
	return err
}

func cleanTarPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return ""
	}
	parts := strings.Split(name, "/")
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return name
}
