package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qiangli/mychat/llm/adapter"
)

func newProvidersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the supported providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, k := range adapter.Default().Keys() {
				fmt.Fprintln(a.stdout, k)
			}
			return nil
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective settings with credentials redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.settings()
			if err != nil {
				return err
			}
			if s.ConfigFile != "" {
				fmt.Fprintf(a.stdout, "# %s\n", s.ConfigFile)
			}
			return s.WriteYAML(a.stdout)
		},
	}
}
