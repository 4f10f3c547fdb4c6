package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
}

// buildRoot creates the root command and its subcommands.
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createAskCommand(globalFlags, &AskFlags{}),
		createSpawnCommand(globalFlags, &SpawnFlags{}),
		createServeCommand(globalFlags, &ServeFlags{}),
		createSessionsCommand(globalFlags, &PruneFlags{}),
		createConfigCommand(globalFlags),
		createRunnerCommand(globalFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "askterm",
		Short: "Run questionnaires and other workloads in a detached terminal",
		Long: `Askterm opens a new terminal window, runs a workload there (usually a
questionnaire for a human) and hands the result back to the caller. The
two processes share only a session directory with a heartbeat file.

Examples:
  askterm ask --file questions.yaml
  askterm spawn --workload echo --input '{"answer":42}'
  askterm serve --config askterm.toml
  askterm sessions prune --max-age 1h`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "override [log].level")

	return root
}
