package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"voxelswarm.ai/internal/catalog"
	"voxelswarm.ai/internal/config"
)

func newCheckConfigCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Print the effective configuration and any problems with it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkConfig(cmd.OutOrStdout(), cfgPath)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "pool.yaml", "pool config file (.yaml, .toml or .json)")
	return cmd
}

func checkConfig(out io.Writer, cfgPath string) error {
	cfg, problems := config.Load(cfgPath)

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}

	warn := color.New(color.FgYellow)
	for _, p := range problems {
		warn.Fprintf(out, "warning: %v\n", p)
	}
	if cfg.Catalog != "" {
		c, err := catalog.Load(cfg.Catalog)
		if err != nil {
			warn.Fprintf(out, "warning: catalog %s: %v (built-in catalog will be used)\n", cfg.Catalog, err)
		} else {
			fmt.Fprintf(out, "# catalog %s digest %s\n", cfg.Catalog, c.Digest)
		}
	}
	if len(problems) == 0 {
		color.New(color.FgGreen).Fprintln(out, "# config ok")
	}
	return nil
}
