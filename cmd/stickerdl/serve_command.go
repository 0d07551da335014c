package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			instance, err := ctx.app()
			if err != nil {
				return err
			}

			if address == "" {
				address = instance.Config().Server.Address
			}

			server, err := instance.GetServer(cmd.Context())
			if err != nil {
				return err
			}

			group, groupCtx := errgroup.WithContext(cmd.Context())
			group.Go(func() error { return server.ListenAndServe(groupCtx, address) })
			if instance.Config().Metrics.Address != address {
				group.Go(func() error { return instance.ServeMetrics(groupCtx) })
			}

			return group.Wait()
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "Listen address (overrides server.address)")
	return cmd
}
