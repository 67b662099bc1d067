package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"xdao.co/faceguard/artifact"
	"xdao.co/faceguard/pipeline"
	"xdao.co/faceguard/prng"
	"xdao.co/faceguard/raster"
	"xdao.co/faceguard/receipt"
	"xdao.co/faceguard/seed"
	"xdao.co/faceguard/shield"
	"xdao.co/faceguard/storage"
	"xdao.co/faceguard/storage/registry"
)

func cmdProtect(args []string, out io.Writer, errOut io.Writer) int {
	fs, cfgPath := newFlagSet("protect", errOut)
	in := fs.String("in", "", "Input image (png, jpeg or gif)")
	outPath := fs.String("out", "", "Output PNG path")
	receiptPath := fs.String("receipt", "", "Receipt output path (default <out>.receipt.json)")
	owner := fs.String("owner", "", "Owner id recorded in the receipt and watermark")
	aggression := fs.String("aggression", "", "normal or high (default from config)")
	faces := fs.StringArray("face", nil, "Face box x,y,w,h (repeatable)")
	allowDegraded := fs.Bool("allow-degraded", false, "Finish without a watermark when the image is too small")
	deposit := fs.Bool("deposit", false, "Deposit the artifact into the configured store")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *in == "" || *outPath == "" || *owner == "" {
		fmt.Fprintln(errOut, "usage: faceguard protect --in <image> --out <file.png> --owner <id>")
		return 2
	}

	e, err := loadEnv(*cfgPath, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "config: %v\n", err)
		return 2
	}
	level := shield.Level(e.cfg.Aggression)
	if *aggression != "" {
		level = shield.Level(*aggression)
	}
	boxes := make([]shield.Box, 0, len(*faces))
	for _, f := range *faces {
		b, err := shield.ParseBox(f)
		if err != nil {
			fmt.Fprintf(errOut, "--face: %v\n", err)
			return 2
		}
		boxes = append(boxes, b)
	}

	sc, secret, err := e.signer()
	if err != nil {
		fmt.Fprintf(errOut, "signing key: %v\n", err)
		return 1
	}
	deriver, err := seed.NewDeriver(secret)
	if err != nil {
		fmt.Fprintf(errOut, "seed: %v\n", err)
		return 1
	}
	p, err := pipeline.New(sc, deriver,
		pipeline.WithLogger(e.logger),
		pipeline.WithPRNG(prng.Algorithm(e.cfg.PRNG)),
		pipeline.WithTags(e.cfg.Watermark.SignatureTag, e.cfg.Watermark.WarningTag),
	)
	if err != nil {
		fmt.Fprintf(errOut, "pipeline: %v\n", err)
		return 1
	}

	src, err := os.ReadFile(*in)
	if err != nil {
		fmt.Fprintf(errOut, "read input: %v\n", err)
		return 1
	}
	pixels, err := raster.AnyDecoder{}.Decode(src)
	if err != nil {
		fmt.Fprintf(errOut, "decode input: %v\n", err)
		return 1
	}

	res, err := p.Protect(context.Background(), pipeline.Request{
		Pixels:        pixels,
		Original:      src,
		Owner:         *owner,
		Aggression:    level,
		Faces:         boxes,
		AllowDegraded: *allowDegraded || e.cfg.AllowDegraded,
	})
	if err != nil {
		fmt.Fprintf(errOut, "protect: %v\n", err)
		return 1
	}

	rb, err := receipt.Marshal(res.Receipt)
	if err != nil {
		fmt.Fprintf(errOut, "encode receipt: %v\n", err)
		return 1
	}
	if *receiptPath == "" {
		*receiptPath = *outPath + ".receipt.json"
	}
	if err := os.WriteFile(*outPath, res.Encoded, 0o644); err != nil {
		fmt.Fprintf(errOut, "write output: %v\n", err)
		return 1
	}
	if err := os.WriteFile(*receiptPath, rb, 0o644); err != nil {
		fmt.Fprintf(errOut, "write receipt: %v\n", err)
		return 1
	}

	if *deposit {
		if e.cfg.Store.Backend == "none" {
			fmt.Fprintln(errOut, "--deposit requires store.backend in config")
			return 2
		}
		store, closeFn, err := openStore(e)
		if err != nil {
			fmt.Fprintf(errOut, "open store: %v\n", err)
			return 1
		}
		if closeFn != nil {
			defer closeFn()
		}
		data, err := artifact.Marshal(artifact.New(res.Format, res.Encoded, res.Receipt))
		if err != nil {
			fmt.Fprintf(errOut, "encode artifact: %v\n", err)
			return 1
		}
		id, err := store.Put(data)
		if err != nil {
			fmt.Fprintf(errOut, "deposit: %v\n", err)
			return 1
		}
		fmt.Fprintf(out, "cid: %s\n", id)
	}

	fmt.Fprintf(out, "final_sha256: %s\n", res.Receipt.FinalSHA256)
	fmt.Fprintf(out, "protection: %s (score %d)\n", res.Receipt.ProtectionLevel, res.Receipt.ProtectionScore)
	return 0
}

// openStore opens the primary backend and, when replicas are configured,
// wraps it with them in a storage.Replicated.
func openStore(e *env) (storage.Store, func() error, error) {
	sc := e.cfg.Store
	primary, closeFn, err := registry.Open(sc.Backend, registry.UsageCLI, registry.Options{
		LocalFSDir:  sc.LocalFSDir,
		GRPCTarget:  sc.GRPCTarget,
		Timeout:     sc.Timeout,
		MaxMsgBytes: sc.MaxMsgBytes,
	})
	if err != nil || len(sc.Replicas) == 0 {
		return primary, closeFn, err
	}

	closers := []func() error{closeFn}
	closeAll := func() error {
		var first error
		for _, c := range closers {
			if c == nil {
				continue
			}
			if err := c(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
	members := []storage.Named{{Name: "primary", Store: primary}}
	for _, r := range sc.Replicas {
		s, c, err := registry.Open(r.Backend, registry.UsageCLI, registry.Options{
			LocalFSDir:  r.LocalFSDir,
			GRPCTarget:  r.GRPCTarget,
			Timeout:     sc.Timeout,
			MaxMsgBytes: sc.MaxMsgBytes,
		})
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("replica %s: %w", r.Name, err)
		}
		closers = append(closers, c)
		members = append(members, storage.Named{Name: r.Name, Store: s})
	}
	return storage.Replicated{Members: members}, closeAll, nil
}
