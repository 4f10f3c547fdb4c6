// Package launcher starts the detached child process that serves one session.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

// RunnerCommand is the hidden subcommand the child is started with.
const RunnerCommand = "runner"

// ErrLaunch marks a failure to create the child process.
var ErrLaunch = errors.New("launch failed")

// Launched describes a started child.
type Launched struct {
	Strategy string
	PID      int
	Args     []string
}

// Launcher starts a detached child serving sessionID. It returns as soon as
// the operating system reports the process created.
type Launcher interface {
	Launch(ctx context.Context, sessionID string) (Launched, error)
}

// Func adapts a function to the Launcher interface.
type Func func(ctx context.Context, sessionID string) (Launched, error)

func (f Func) Launch(ctx context.Context, sessionID string) (Launched, error) { return f(ctx, sessionID) }

// StartFunc starts a prepared command. Tests replace it to capture argv.
type StartFunc func(cmd *exec.Cmd) error

// Config is shared by all strategies.
type Config struct {
	Executable string   // child binary (default os.Executable())
	Args       []string // flags placed before the runner subcommand
	Terminal   []string // optional terminal emulator prefix for the direct strategy
	Start      StartFunc
	Logger     *slog.Logger
}

func (c Config) executable() (string, error) {
	if c.Executable != "" {
		return c.Executable, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("%w: resolve executable: %v", ErrLaunch, err)
	}
	return exe, nil
}

// childArgs returns the argv (without the binary) the child runs with.
func (c Config) childArgs(sessionID string) []string {
	out := make([]string, 0, len(c.Args)+2)
	out = append(out, c.Args...)
	return append(out, RunnerCommand, sessionID)
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// startDetached puts cmd in its own session with no inherited stdio and
// starts it. The child is reaped in the background once it exits, so a
// long-lived caller does not collect zombies.
func (c Config) startDetached(strategy string, cmd *exec.Cmd) (Launched, error) {
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil
	if cmd.SysProcAttr == nil {
		detach(cmd)
	}
	start := c.Start
	if start == nil {
		start = defaultStart
	}
	if err := start(cmd); err != nil {
		return Launched{}, fmt.Errorf("%w: %s: %v", ErrLaunch, strategy, err)
	}
	l := Launched{Strategy: strategy, Args: cmd.Args}
	if cmd.Process != nil {
		l.PID = cmd.Process.Pid
		go func() { _ = cmd.Wait() }()
	}
	c.logger().Debug("child launched", "strategy", strategy, "pid", l.PID, "args", l.Args)
	return l, nil
}

func defaultStart(cmd *exec.Cmd) error { return cmd.Start() }

// ForPlatform returns the strategy for goos.
func ForPlatform(goos string, cfg Config) Launcher {
	switch goos {
	case "darwin":
		return &AppleScript{cfg: cfg}
	case "windows":
		return &Console{cfg: cfg}
	default:
		return &Direct{cfg: cfg}
	}
}
