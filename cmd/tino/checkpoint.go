package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tino/internal/checkpoint"
)

func newCheckpointCmd(cwd *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "checkpoint",
		Aliases: []string{"cp"},
		Short:   "List, compare, and restore turn checkpoints",
	}

	manager := func() (*checkpoint.Manager, error) {
		a, err := newApp(*cwd)
		if err != nil {
			return nil, err
		}
		return checkpoint.NewManager(a.cfg.Checkpoint.Dir, a.root, a.cfg.Checkpoint.MaxCount, a.log), nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List checkpoints, newest first",
		RunE: func(c *cobra.Command, _ []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			cps := m.List()
			if len(cps) == 0 {
				fmt.Fprintln(c.OutOrStdout(), "no checkpoints")
				return nil
			}
			for _, cp := range cps {
				fmt.Fprintf(c.OutOrStdout(), "%s  turn=%d  %s  tokens=%d\n",
					cp.ID, cp.TurnIndex, cp.Timestamp.Format("2006-01-02 15:04:05"), cp.TokenCount)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "diff <a> <b>",
		Short: "Show what separates two checkpoints",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			a, b := m.Get(args[0]), m.Get(args[1])
			if a == nil || b == nil {
				return fmt.Errorf("checkpoint not found")
			}
			d := checkpoint.ComputeDiff(a, b)
			fmt.Fprintf(c.OutOrStdout(), "files changed: %s\n", formatPaths(d.FilesChanged))
			fmt.Fprintf(c.OutOrStdout(), "turns removed: %d\n", d.TurnsRemoved)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore <id>",
		Short: "Restore the working tree and conversation to a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			cp := m.Get(args[0])
			if cp == nil {
				return fmt.Errorf("checkpoint %q not found", args[0])
			}
			conv := m.Restore(c.Context(), cp)
			if conv == nil {
				return fmt.Errorf("restore of %q failed", args[0])
			}
			fmt.Fprintf(c.OutOrStdout(), "restored %s (%d messages)\n", cp.ID, len(conv.History))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			m, err := manager()
			if err != nil {
				return err
			}
			if !m.Delete(args[0]) {
				return fmt.Errorf("could not delete %q", args[0])
			}
			fmt.Fprintf(c.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	})

	return cmd
}

func formatPaths(paths []string) string {
	if len(paths) == 0 {
		return "(none)"
	}
	return strings.Join(paths, ", ")
}
