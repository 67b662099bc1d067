// Command faceguard-stored serves a local artifact store over gRPC. Deposits
// are accepted only when they decode as valid protected artifacts.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"xdao.co/faceguard/config"
	"xdao.co/faceguard/storage/grpcstore"
	"xdao.co/faceguard/storage/registry"

	_ "xdao.co/faceguard/storage/localfs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	fs := pflag.NewFlagSet("faceguard-stored", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	cfgPath := fs.String("config", "", "Path to config YAML (default $FACEGUARD_CONFIG)")
	listen := fs.String("listen", "", "Listen address (default store.listen)")
	listBackends := fs.Bool("list-backends", false, "List supported backends and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *listBackends {
		for _, b := range registry.List(registry.UsageDaemon) {
			fmt.Fprintf(out, "%s\t%s\n", b.Name, b.Description)
		}
		return 0
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	logger, err := cfg.Log.NewLogger(errOut)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	if *listen == "" {
		*listen = cfg.Store.Listen
	}

	store, closeFn, err := registry.Open(cfg.Store.Backend, registry.UsageDaemon, registry.Options{
		LocalFSDir: cfg.Store.LocalFSDir,
	})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	if closeFn != nil {
		defer closeFn()
	}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	var opts []grpc.ServerOption
	if cfg.Store.MaxMsgBytes > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(cfg.Store.MaxMsgBytes), grpc.MaxSendMsgSize(cfg.Store.MaxMsgBytes))
	}
	s := grpc.NewServer(opts...)
	grpcstore.RegisterArtifactStoreServer(s, &grpcstore.Server{Store: store, Logger: logger})

	go func() {
		<-ctx.Done()
		s.GracefulStop()
	}()

	logger.Info("listening", "addr", lis.Addr().String(), "backend", cfg.Store.Backend)
	if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		logger.Error("serve failed", "err", err)
		return 1
	}
	return 0
}
