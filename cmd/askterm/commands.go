package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/loykin/askterm"
	"github.com/loykin/askterm/internal/config"
	"github.com/loykin/askterm/internal/cron"
	"github.com/loykin/askterm/internal/logger"
)

// env is what a command needs once the config is loaded.
type env struct {
	cfg      config.Config
	cfgPath  string
	log      *slog.Logger
	closer   io.Closer
	in       io.Reader
	out      io.Writer
	launcher askterm.Launcher // nil uses the platform strategy
}

func loadEnv(g *GlobalFlags, cmd *cobra.Command, child bool) (*env, error) {
	cfg, err := config.Load(g.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	lc := cfg.Log.Logger()
	if child {
		lc = cfg.Log.RunnerLogger(cfg.Session.Root)
	}
	lg, closer, err := logger.New(lc)
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:     cfg,
		cfgPath: g.ConfigPath,
		log:     lg,
		closer:  closer,
		in:      cmd.InOrStdin(),
		out:     cmd.OutOrStdout(),
	}, nil
}

func (e *env) Close() error { return e.closer.Close() }

func (e *env) client() (*askterm.Client, error) {
	return askterm.New(e.cfg, askterm.Options{ConfigPath: e.cfgPath, Launcher: e.launcher, Logger: e.log})
}

// interruptible cancels ctx on SIGINT or SIGTERM.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// --- ask ---

func createAskCommand(g *GlobalFlags, flags *AskFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Show a questionnaire in a new terminal and print the answers",
		Long: `Ask opens a new terminal window with the questionnaire and waits until
the user answers, cancels or the TTL passes. Answers are printed as JSON.

Examples:
  askterm ask --file questions.json
  askterm ask --file questions.yaml --ttl 10m
  cat questions.json | askterm ask --file -`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(g, cmd, false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			ctx, stop := interruptible(cmd.Context())
			defer stop()
			return cmdAsk(ctx, e, *flags)
		},
	}
	cmd.Flags().StringVarP(&flags.File, "file", "f", "", "questionnaire file (.json, .yaml or - for stdin)")
	cmd.Flags().DurationVar(&flags.TTL, "ttl", 0, "how long to wait for answers (default [spawn].ttl)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func cmdAsk(ctx context.Context, e *env, f AskFlags) error {
	raw, err := readQuestionnaire(f.File, e.in)
	if err != nil {
		return err
	}
	q, err := askterm.ParseQuestionnaire(raw)
	if err != nil {
		return err
	}
	c, err := e.client()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	res, err := c.Ask(ctx, q, f.TTL)
	if err != nil {
		return err
	}
	return printJSON(e.out, res)
}

// readQuestionnaire returns the questionnaire as JSON. YAML input is
// converted; stdin is sniffed.
func readQuestionnaire(path string, stdin io.Reader) ([]byte, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(filepath.Clean(path))
	}
	if err != nil {
		return nil, fmt.Errorf("read questionnaire: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" || (ext != ".yaml" && ext != ".yml" && json.Valid(b)) {
		return b, nil
	}
	var q askterm.Questionnaire
	if err := yaml.Unmarshal(b, &q); err != nil {
		return nil, fmt.Errorf("parse questionnaire yaml: %w", err)
	}
	return json.Marshal(q)
}

// --- spawn ---

func createSpawnCommand(g *GlobalFlags, flags *SpawnFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spawn",
		Short: "Run any registered workload in a new terminal",
		Long: `Spawn runs a workload by name in a detached child and prints the result.

Examples:
  askterm spawn --workload echo --input '{"answer":42}'
  askterm spawn --workload questionnaire --input-file questions.json --ttl 2m`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(g, cmd, false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			ctx, stop := interruptible(cmd.Context())
			defer stop()
			return cmdSpawn(ctx, e, *flags)
		},
	}
	cmd.Flags().StringVarP(&flags.Workload, "workload", "w", "", "workload name")
	cmd.Flags().StringVar(&flags.Input, "input", "", "workload input as JSON")
	cmd.Flags().StringVar(&flags.InputFile, "input-file", "", "file holding the workload input as JSON")
	cmd.Flags().DurationVar(&flags.TTL, "ttl", 0, "how long to wait for the result (default [spawn].ttl)")
	_ = cmd.MarkFlagRequired("workload")
	return cmd
}

type spawnOutput struct {
	SessionID  string          `json:"session_id"`
	Outcome    string          `json:"outcome"`
	Status     string          `json:"status"`
	TimedOut   bool            `json:"timed_out"`
	Heartbeats int             `json:"heartbeats"`
	Duration   string          `json:"duration"`
	Output     json.RawMessage `json:"output,omitempty"`
}

func cmdSpawn(ctx context.Context, e *env, f SpawnFlags) error {
	if f.Input != "" && f.InputFile != "" {
		return errors.New("use either --input or --input-file")
	}
	input := []byte(f.Input)
	if f.InputFile != "" {
		b, err := os.ReadFile(filepath.Clean(f.InputFile))
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		input = b
	}
	if len(input) > 0 && !json.Valid(input) {
		return errors.New("input is not valid JSON")
	}

	c, err := e.client()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	res, err := c.Spawn(ctx, askterm.Request{Workload: f.Workload, Input: input, TTL: f.TTL})
	if perr := printJSON(e.out, spawnOutput{
		SessionID:  res.SessionID,
		Outcome:    string(res.Outcome),
		Status:     res.Status.String(),
		TimedOut:   res.TimedOut,
		Heartbeats: res.Heartbeats,
		Duration:   res.Duration.Round(time.Millisecond).String(),
		Output:     res.Output,
	}); perr != nil && err == nil {
		err = perr
	}
	return err
}

// --- sessions ---

func createSessionsCommand(g *GlobalFlags, flags *PruneFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage session directories",
	}
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove session directories left behind by crashed callers",
		Long: `Prune removes session directories older than --max-age. Sessions whose
child is still beating are never old, because every beat touches the
directory.

Examples:
  askterm sessions prune
  askterm sessions prune --max-age 30m`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(g, cmd, false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			return cmdPrune(e, *flags)
		},
	}
	prune.Flags().DurationVar(&flags.MaxAge, "max-age", 0, "minimum age of removed sessions (default [session].max_age)")
	cmd.AddCommand(prune)
	return cmd
}

func cmdPrune(e *env, f PruneFlags) error {
	maxAge := f.MaxAge
	if maxAge <= 0 {
		maxAge = e.cfg.Session.MaxAge
	}
	n, err := cron.Prune(e.cfg.Session.Store(), maxAge, e.log)
	_, _ = fmt.Fprintf(e.out, "removed %d session(s) from %s\n", n, e.cfg.Session.Root)
	return err
}

// --- config ---

func createConfigCommand(g *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(g, cmd, false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			return e.cfg.Write(e.out)
		},
	})
	return cmd
}
