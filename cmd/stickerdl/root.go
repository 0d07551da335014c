package main

import (
	"sync"

	"github.com/spf13/cobra"

	"stickerdl/app"
	"stickerdl/config"
)

type commandContext struct {
	configFiles *[]string

	once     sync.Once
	instance *app.Instance
	err      error
}

// app creates the instance on first use. Overrides are applied to the
// loaded configuration before that.
func (c *commandContext) app(overrides ...func(*config.Config)) (*app.Instance, error) {
	c.once.Do(func() {
		cfg, err := config.Load(*c.configFiles...)
		if err != nil {
			c.err = err
			return
		}

		for _, override := range overrides {
			override(&cfg)
		}

		c.instance = app.Create(cfg, nil)
	})

	return c.instance, c.err
}

func (c *commandContext) close() {
	if c.instance != nil {
		_ = c.instance.Close()
	}
}

func newRootCommand() *cobra.Command {
	var configFiles []string
	ctx := &commandContext{configFiles: &configFiles}

	rootCmd := &cobra.Command{
		Use:           "stickerdl",
		Short:         "Download LINE Store stickers and convert animations to GIF",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil,
		"Configuration file path, may be repeated (later files override earlier ones)")

	rootCmd.AddCommand(newFetchCommand(ctx))
	rootCmd.AddCommand(newConvertCommand())
	rootCmd.AddCommand(newServeCommand(ctx))

	return rootCmd
}
