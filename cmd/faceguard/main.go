// Command faceguard protects images, verifies them against their receipts and
// moves protected artifacts in and out of a store.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"xdao.co/faceguard/config"
	"xdao.co/faceguard/keys"

	_ "xdao.co/faceguard/storage/grpcstore"
	_ "xdao.co/faceguard/storage/localfs"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "protect":
		return cmdProtect(args[1:], out, errOut)
	case "verify":
		return cmdVerify(args[1:], out, errOut)
	case "extract":
		return cmdExtract(args[1:], out, errOut)
	case "pubkey":
		return cmdPubkey(args[1:], out, errOut)
	case "fetch":
		return cmdFetch(args[1:], out, errOut)
	case "bundle":
		return cmdBundle(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "faceguard: image protection with signed receipts")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  faceguard protect --in <image> --out <file.png> --owner <id> [--receipt <file>] [--aggression normal|high] [--face x,y,w,h ...] [--allow-degraded] [--deposit]")
	fmt.Fprintln(w, "  faceguard verify --in <file.png> --receipt <file> [--pubkey <64hex>]")
	fmt.Fprintln(w, "  faceguard extract --in <file.png> --seed <hex> [--version 1|2]")
	fmt.Fprintln(w, "  faceguard pubkey")
	fmt.Fprintln(w, "  faceguard fetch --cid <CID> --out <file.png> [--receipt <file>]")
	fmt.Fprintln(w, "  faceguard bundle export --out <file> [--compress] [CID ...]")
	fmt.Fprintln(w, "  faceguard bundle import --in <file>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Every command accepts --config <file> (default: $FACEGUARD_CONFIG).")
	fmt.Fprintln(w, "The signing secret is read from $FACEGUARD_SECRET unless the config names another source.")
	fmt.Fprintln(w, "verify exits 0 only for a valid verdict.")
}

// env is the per-invocation state every command builds from --config.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newFlagSet(name string, errOut io.Writer) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(errOut)
	path := fs.String("config", "", "Path to config YAML (default $FACEGUARD_CONFIG)")
	return fs, path
}

func loadEnv(path string, errOut io.Writer) (*env, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := cfg.Log.NewLogger(errOut)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger}, nil
}

func (e *env) signer() (*keys.SigningContext, []byte, error) {
	secret, err := e.cfg.ResolveSecret()
	if err != nil {
		return nil, nil, err
	}
	var opts []keys.Option
	if e.cfg.PostQuantum {
		opts = append(opts, keys.WithPostQuantum())
	}
	sc, err := keys.NewSigningContext(secret, opts...)
	if err != nil {
		return nil, nil, err
	}
	return sc, secret, nil
}

func cmdPubkey(args []string, out io.Writer, errOut io.Writer) int {
	fs, cfgPath := newFlagSet("pubkey", errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	e, err := loadEnv(*cfgPath, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "config: %v\n", err)
		return 2
	}
	sc, _, err := e.signer()
	if err != nil {
		fmt.Fprintf(errOut, "signing key: %v\n", err)
		return 1
	}
	fmt.Fprintln(out, sc.PublicKeyHex())
	if sc.PostQuantum() {
		fmt.Fprintf(out, "pq:%s\n", sc.PQPublicKeyHex())
	}
	return 0
}
