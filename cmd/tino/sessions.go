package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSessionsCmd(cwd *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect persisted workbench sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently active first",
		RunE: func(c *cobra.Command, _ []string) error {
			a, err := newApp(*cwd)
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			metas, err := store.ListSessions()
			if err != nil {
				return err
			}
			if len(metas) == 0 {
				fmt.Fprintln(c.OutOrStdout(), "no sessions")
				return nil
			}
			for _, m := range metas {
				title := m.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Fprintf(c.OutOrStdout(), "%s  %-8s  %s  %s\n", m.ID, m.Status, m.UpdatedAt, title)
			}
			return nil
		},
	})

	return cmd
}
