package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newEngineCmd(cwd *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Inspect and control the shared trading engine",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Report whether the engine answers its health endpoint",
		RunE: func(c *cobra.Command, _ []string) error {
			a, err := newApp(*cwd)
			if err != nil {
				return err
			}
			if a.spawner().Healthy(c.Context()) {
				fmt.Fprintln(c.OutOrStdout(), "engine: healthy")
				return nil
			}
			fmt.Fprintln(c.OutOrStdout(), "engine: down")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Start the engine if it is not already running",
		RunE: func(c *cobra.Command, _ []string) error {
			a, err := newApp(*cwd)
			if err != nil {
				return err
			}
			if err := a.spawner().EnsureEngine(c.Context()); err != nil {
				return err
			}
			fmt.Fprintln(c.OutOrStdout(), "engine: healthy")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Shut the engine down if this is the last client",
		RunE: func(c *cobra.Command, _ []string) error {
			a, err := newApp(*cwd)
			if err != nil {
				return err
			}
			return a.coordinator().ShutdownIfLastCLI(c.Context())
		},
	})

	return cmd
}
