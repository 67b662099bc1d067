package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/ipfs/go-cid"

	"xdao.co/faceguard/artifact"
	"xdao.co/faceguard/cidutil"
	"xdao.co/faceguard/receipt"
	"xdao.co/faceguard/storage"
)

func cmdFetch(args []string, out io.Writer, errOut io.Writer) int {
	fs, cfgPath := newFlagSet("fetch", errOut)
	idStr := fs.String("cid", "", "Artifact CID")
	outPath := fs.String("out", "", "Output PNG path")
	receiptPath := fs.String("receipt", "", "Receipt output path (default <out>.receipt.json)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *idStr == "" || *outPath == "" {
		fmt.Fprintln(errOut, "usage: faceguard fetch --cid <CID> --out <file.png>")
		return 2
	}
	id, err := cidutil.Parse(*idStr)
	if err != nil {
		fmt.Fprintf(errOut, "--cid: %v\n", err)
		return 2
	}
	store, closeFn, code := storeFromConfig(*cfgPath, errOut)
	if store == nil {
		return code
	}
	if closeFn != nil {
		defer closeFn()
	}

	data, err := store.Get(id)
	if err != nil {
		fmt.Fprintf(errOut, "fetch: %v\n", err)
		return 1
	}
	a, err := artifact.Unmarshal(data)
	if err != nil {
		fmt.Fprintf(errOut, "artifact: %v\n", err)
		return 1
	}
	rb, err := receipt.Marshal(a.Receipt)
	if err != nil {
		fmt.Fprintf(errOut, "encode receipt: %v\n", err)
		return 1
	}
	if *receiptPath == "" {
		*receiptPath = *outPath + ".receipt.json"
	}
	if err := os.WriteFile(*outPath, a.Image, 0o644); err != nil {
		fmt.Fprintf(errOut, "write image: %v\n", err)
		return 1
	}
	if err := os.WriteFile(*receiptPath, rb, 0o644); err != nil {
		fmt.Fprintf(errOut, "write receipt: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "owner: %s\n", a.Receipt.Owner)
	return 0
}

func cmdBundle(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: faceguard bundle <export|import> ...")
		return 2
	}
	switch args[0] {
	case "export":
		return cmdBundleExport(args[1:], out, errOut)
	case "import":
		return cmdBundleImport(args[1:], out, errOut)
	default:
		fmt.Fprintf(errOut, "unknown bundle subcommand: %s\n", args[0])
		return 2
	}
}

func cmdBundleExport(args []string, out io.Writer, errOut io.Writer) int {
	fs, cfgPath := newFlagSet("bundle export", errOut)
	outPath := fs.String("out", "", "Bundle output path")
	compress := fs.Bool("compress", false, "Compress the bundle with zstd")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *outPath == "" {
		fmt.Fprintln(errOut, "usage: faceguard bundle export --out <file> [--compress] [CID ...]")
		return 2
	}
	store, closeFn, code := storeFromConfig(*cfgPath, errOut)
	if store == nil {
		return code
	}
	if closeFn != nil {
		defer closeFn()
	}

	var ids []cid.Cid
	for _, a := range fs.Args() {
		id, err := cidutil.Parse(a)
		if err != nil {
			fmt.Fprintf(errOut, "invalid CID %q: %v\n", a, err)
			return 2
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		l, ok := store.(storage.Lister)
		if !ok {
			fmt.Fprintln(errOut, "this store cannot list its contents; pass CIDs explicitly")
			return 2
		}
		var err error
		if ids, err = l.List(); err != nil {
			fmt.Fprintf(errOut, "list store: %v\n", err)
			return 1
		}
	}

	var buf bytes.Buffer
	if err := artifact.ExportBundle(&buf, store, ids, artifact.ExportOptions{IncludeIndex: true, Compress: *compress}); err != nil {
		fmt.Fprintf(errOut, "export: %v\n", err)
		return 1
	}
	if err := os.WriteFile(*outPath, buf.Bytes(), 0o644); err != nil {
		fmt.Fprintf(errOut, "write bundle: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "exported %d artifacts\n", len(ids))
	return 0
}

func cmdBundleImport(args []string, out io.Writer, errOut io.Writer) int {
	fs, cfgPath := newFlagSet("bundle import", errOut)
	in := fs.String("in", "", "Bundle path")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *in == "" {
		fmt.Fprintln(errOut, "usage: faceguard bundle import --in <file>")
		return 2
	}
	store, closeFn, code := storeFromConfig(*cfgPath, errOut)
	if store == nil {
		return code
	}
	if closeFn != nil {
		defer closeFn()
	}

	f, err := os.Open(*in)
	if err != nil {
		fmt.Fprintf(errOut, "open bundle: %v\n", err)
		return 1
	}
	defer f.Close()
	ids, err := artifact.ImportBundle(f, store, artifact.ImportOptions{})
	if err != nil {
		fmt.Fprintf(errOut, "import: %v\n", err)
		return 1
	}
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return 0
}

// storeFromConfig returns a nil store and the exit code on failure.
func storeFromConfig(cfgPath string, errOut io.Writer) (storage.Store, func() error, int) {
	e, err := loadEnv(cfgPath, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "config: %v\n", err)
		return nil, nil, 2
	}
	if e.cfg.Store.Backend == "none" {
		fmt.Fprintln(errOut, "no store configured (store.backend is none)")
		return nil, nil, 2
	}
	store, closeFn, err := openStore(e)
	if err != nil {
		fmt.Fprintf(errOut, "open store: %v\n", err)
		return nil, nil, 1
	}
	return store, closeFn, 0
}
