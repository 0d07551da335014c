package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"stickerdl/config"
)

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var (
		out            string
		skipDuplicates bool
	)

	cmd := &cobra.Command{
		Use:   "fetch <url>...",
		Short: "Download every sticker of the product pages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instance, err := ctx.app(func(cfg *config.Config) {
				if cmd.Flags().Changed("out") {
					cfg.Output.Dir = out
				}

				if cmd.Flags().Changed("skip-duplicates") {
					cfg.Output.SkipDuplicates = skipDuplicates
				}
			})

			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, url := range args {
				dir, reports, err := instance.Fetch(cmd.Context(), url)
				if err != nil {
					return errors.Wrapf(err, "fetch %s", url)
				}

				fmt.Fprintf(w, "%s\n", dir)
				for _, report := range reports {
					fmt.Fprintf(w, "%s\n", report)
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Output directory (overrides output.dir)")
	cmd.Flags().BoolVar(&skipDuplicates, "skip-duplicates", false, "Skip stickers which have already been downloaded")
	return cmd
}
