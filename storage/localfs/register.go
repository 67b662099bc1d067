package localfs

import (
	"fmt"

	"xdao.co/faceguard/storage"
	"xdao.co/faceguard/storage/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "localfs",
		Description: "Local filesystem store (immutable, CID-keyed)",
		Usage:       registry.UsageCLI | registry.UsageDaemon,
		Open: func(opts registry.Options) (storage.Store, func() error, error) {
			if opts.LocalFSDir == "" {
				return nil, nil, fmt.Errorf("localfs: store.localfs_dir is required")
			}
			s, err := New(opts.LocalFSDir)
			if err != nil {
				return nil, nil, err
			}
			return s, nil, nil
		},
	})
}
