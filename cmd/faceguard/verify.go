package main

import (
	"crypto/ed25519"
	"fmt"
	"io"
	"os"

	"xdao.co/faceguard/keys"
	"xdao.co/faceguard/pipeline"
	"xdao.co/faceguard/prng"
	"xdao.co/faceguard/raster"
	"xdao.co/faceguard/receipt"
	"xdao.co/faceguard/watermark"
)

func cmdVerify(args []string, out io.Writer, errOut io.Writer) int {
	fs, cfgPath := newFlagSet("verify", errOut)
	in := fs.String("in", "", "Protected PNG")
	receiptPath := fs.String("receipt", "", "Receipt JSON (default <in>.receipt.json)")
	pubHex := fs.String("pubkey", "", "Trusted public key hex (default: derived from the configured secret)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *in == "" {
		fmt.Fprintln(errOut, "usage: faceguard verify --in <file.png> --receipt <file> [--pubkey <64hex>]")
		return 2
	}
	if *receiptPath == "" {
		*receiptPath = *in + ".receipt.json"
	}

	e, err := loadEnv(*cfgPath, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "config: %v\n", err)
		return 2
	}

	var trusted ed25519.PublicKey
	if *pubHex != "" {
		trusted, err = keys.ParsePublicKeyHex(*pubHex)
		if err != nil {
			fmt.Fprintf(errOut, "--pubkey: %v\n", err)
			return 2
		}
	} else {
		sc, _, err := e.signer()
		if err != nil {
			fmt.Fprintf(errOut, "no --pubkey and no signing key: %v\n", err)
			return 2
		}
		trusted = sc.PublicKey()
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		fmt.Fprintf(errOut, "read image: %v\n", err)
		return 1
	}
	rb, err := os.ReadFile(*receiptPath)
	if err != nil {
		fmt.Fprintf(errOut, "read receipt: %v\n", err)
		return 1
	}
	r, err := receipt.Parse(rb)
	if err != nil {
		fmt.Fprintf(errOut, "receipt: %v\n", err)
		return 1
	}

	rep := pipeline.Verifier{SignatureTag: e.cfg.Watermark.SignatureTag}.Verify(data, r, trusted)
	e.logger.Debug("verified", "verdict", rep.Verdict, "rule", rep.RuleID, "final_sha256", r.FinalSHA256)
	fmt.Fprintf(out, "verdict: %s\n", rep.Verdict)
	if rep.Reason != "" {
		fmt.Fprintf(out, "reason: %s\n", rep.Reason)
	}
	if rep.Verdict != pipeline.Valid {
		return 1
	}
	return 0
}

func cmdExtract(args []string, out io.Writer, errOut io.Writer) int {
	fs, cfgPath := newFlagSet("extract", errOut)
	in := fs.String("in", "", "Protected PNG")
	seedHex := fs.String("seed", "", "Seed from the receipt")
	version := fs.String("version", receipt.Version, "Receipt version the image was produced under")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *in == "" || *seedHex == "" {
		fmt.Fprintln(errOut, "usage: faceguard extract --in <file.png> --seed <hex> [--version 1|2]")
		return 2
	}
	e, err := loadEnv(*cfgPath, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "config: %v\n", err)
		return 2
	}
	alg, err := prng.ForVersion(*version)
	if err != nil {
		fmt.Fprintf(errOut, "--version: %v\n", err)
		return 2
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		fmt.Fprintf(errOut, "read image: %v\n", err)
		return 1
	}
	b, err := raster.PNG{}.Decode(data)
	if err != nil {
		fmt.Fprintf(errOut, "decode image: %v\n", err)
		return 1
	}
	p, err := watermark.Codec{PRNG: alg, SignatureTag: e.cfg.Watermark.SignatureTag}.Extract(b, *seedHex)
	if err != nil {
		fmt.Fprintf(errOut, "extract: %v\n", err)
		return 1
	}
	fmt.Fprintln(out, p.Text())
	return 0
}
