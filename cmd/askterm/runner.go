package main

import (
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/askterm"
	"github.com/loykin/askterm/internal/launcher"
)

// createRunnerCommand is the entry point of the detached child. The parent
// runs "askterm [--config path] runner <session-id>" in a new terminal.
func createRunnerCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:    launcher.RunnerCommand + " <session-id>",
		Short:  "Serve one session in this terminal (started by askterm itself)",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(g, cmd, true)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			ctx, stop := interruptible(cmd.Context())
			defer stop()

			err = askterm.RunChild(ctx, e.cfg, args[0], askterm.Terminal{In: e.in, Out: e.out}, e.log)
			if err != nil {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "askterm:", err)
			}
			// the parent already has the result; keep the window readable
			if d := e.cfg.Spawn.Linger; d > 0 && runtime.GOOS != "darwin" {
				select {
				case <-time.After(d):
				case <-ctx.Done():
				}
			}
			return err
		},
	}
}
