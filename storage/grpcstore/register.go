package grpcstore

import (
	"fmt"
	"strings"

	"xdao.co/faceguard/storage"
	"xdao.co/faceguard/storage/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "grpc",
		Description: "Remote artifact store (talks to faceguard-stored)",
		Usage:       registry.UsageCLI,
		Open: func(opts registry.Options) (storage.Store, func() error, error) {
			target := strings.TrimSpace(opts.GRPCTarget)
			if target == "" {
				return nil, nil, fmt.Errorf("grpcstore: store.grpc_target is required")
			}
			c, err := Dial(target, DialOptions{MaxMsgBytes: opts.MaxMsgBytes})
			if err != nil {
				return nil, nil, err
			}
			c.Timeout = opts.Timeout
			return c, c.Close, nil
		},
	})
}
