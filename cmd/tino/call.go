package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tino/internal/chat"
	"tino/internal/config"
	"tino/internal/hooks"
	"tino/internal/orchestrator"
)

// newCallCmd 把一次工具调用完整跑过权限、钩子与执行管线，主要用于
// 策略脚本和 hook 配置的排查。
// newCallCmd runs one tool call through the full permission, hook, and
// execution pipeline; mainly for debugging strategy scripts and hook
// configuration.
func newCallCmd(cwd *string) *cobra.Command {
	var (
		argsJSON string
		resource string
		session  string
	)

	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Run a single tool call through the execution pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			a, err := newApp(*cwd)
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			perms, permErr := config.LoadPermissions(a.root)
			if permErr != nil {
				a.log.Warn().Err(permErr).Msg("permissions fell back to defaults")
			}

			coord := a.coordinator()
			coord.Startup(c.Context())
			defer func() {
				if err := coord.ShutdownIfLastCLI(context.Background()); err != nil {
					a.log.Error().Err(err).Msg("engine shutdown arbitration failed")
				}
			}()

			runner := a.hookRunner()
			o := orchestrator.New(orchestrator.Options{
				WorkspaceRoot: a.root,
				SessionID:     session,
				Config:        a.cfg,
				Permissions:   perms,
				Registry:      a.toolRegistry(),
				Hooks:         runner,
				Store:         store,
				OnApproval:    terminalApproval,
				Logger:        a.log,
			})
			runner.Run(c.Context(), hooks.EventSessionStart, hooks.Context{SessionID: o.SessionID()})

			ctx := o.BeginTurn(c.Context(), fmt.Sprintf("call %s", args[0]))
			res := o.HandleToolCall(ctx, chat.ToolCall{
				ID:   "cli-1",
				Type: "function",
				Function: chat.ToolCallFunction{
					Name:      args[0],
					Arguments: argsJSON,
				},
				Resource: resource,
			})
			o.FinishTurn(ctx, "")

			fmt.Fprintln(c.OutOrStdout(), res.Result)
			return nil
		},
	}

	cmd.Flags().StringVar(&argsJSON, "args", "{}", "tool arguments as JSON")
	cmd.Flags().StringVar(&resource, "resource", "", "resource the call touches (e.g. a symbol)")
	cmd.Flags().StringVar(&session, "session", "", "session id to record under")
	return cmd
}

// terminalApproval asks on stdin when a permission rule says ask.
func terminalApproval(_ context.Context, tool, resource string) bool {
	target := tool
	if resource != "" {
		target += " on " + resource
	}
	fmt.Fprintf(os.Stderr, "allow %s? [y/N] ", target)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
