package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"stickerdl/converter"
)

func newConvertCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <in.png> <out.gif>",
		Short: "Convert a local APNG file to GIF",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrap(err, "read input")
			}

			data, err := converter.Convert(raw)
			if err != nil {
				return errors.Wrap(err, args[0])
			}

			if err := os.WriteFile(args[1], data, 0o644); err != nil {
				return errors.Wrap(err, "write output")
			}

			frames, duration, plays, err := converter.Summary(data)
			if err != nil {
				return err
			}

			loop := "forever"
			if plays > 0 {
				loop = fmt.Sprintf("%d times", plays)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d frames, %s, loops %s\n", args[1], frames, duration, loop)
			return nil
		},
	}
}
