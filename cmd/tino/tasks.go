package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTasksCmd(cwd *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect archived background tasks",
	}

	var session string
	list := &cobra.Command{
		Use:   "list",
		Short: "List a session's background task history",
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

			recs, err := store.ListTaskRecords(session)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Fprintln(c.OutOrStdout(), "no tasks")
				return nil
			}
			for _, r := range recs {
				line := fmt.Sprintf("%s  %-9s  %s", r.TaskID, r.Status, r.Description)
				if r.Error != "" {
					line += "  error=" + r.Error
				}
				fmt.Fprintln(c.OutOrStdout(), line)
			}
			return nil
		},
	}
	list.Flags().StringVar(&session, "session", "", "session id")
	_ = list.MarkFlagRequired("session")

	cmd.AddCommand(list)
	return cmd
}
