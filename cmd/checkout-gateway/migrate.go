package main

import (
	"github.com/spf13/cobra"
)

func migrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending incident and outbox migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = l.Sync() }()

			repo, err := openRepository(cfg, l)
			if err != nil {
				return err
			}
			return repo.Close()
		},
	}
}
