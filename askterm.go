// Package askterm runs workloads such as interactive questionnaires in a
// detached terminal process and collects their results. The parent and the
// child share nothing but a session directory: an input file, an output file
// and a heartbeat file the child rewrites while it is alive.
//
// A program embedding askterm launches itself as the child, so its main must
// hand "runner <session-id>" invocations to RunChild:
//
//	if id, ok := askterm.ChildSession(os.Args[1:]); ok {
//		err := askterm.RunChild(ctx, cfg, id, askterm.StdTerminal(), nil)
//		...
//	}
package askterm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/askterm/internal/config"
	"github.com/loykin/askterm/internal/history"
	"github.com/loykin/askterm/internal/history/factory"
	"github.com/loykin/askterm/internal/launcher"
	"github.com/loykin/askterm/internal/metrics"
	"github.com/loykin/askterm/internal/question"
	"github.com/loykin/askterm/internal/runner"
	"github.com/loykin/askterm/internal/spawner"
	"github.com/loykin/askterm/internal/workload"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type Request = spawner.Request

type Result = spawner.Result

type Questionnaire = question.Questionnaire

type Question = question.Question

type Option = question.Option

type Response = question.Response

type Answer = question.Answer

type Terminal = workload.IO

type Workload = workload.Workload

type Launcher = launcher.Launcher

type LaunchFunc = launcher.Func

type Launched = launcher.Launched

type HistorySink = history.Sink

var (
	ErrSetup           = spawner.ErrSetup
	ErrLaunchFailed    = spawner.ErrLaunchFailed
	ErrNeverAlive      = spawner.ErrNeverAlive
	ErrTimeout         = spawner.ErrTimeout
	ErrProcessDied     = spawner.ErrProcessDied
	ErrOutputCorrupted = spawner.ErrOutputCorrupted
	ErrCancelled       = spawner.ErrCancelled

	ErrQuestionnaireTimedOut  = question.ErrTimedOut
	ErrQuestionnaireCancelled = question.ErrCancelled
	ErrQuestionnaireFailed    = question.ErrFailed
	ErrInvalidQuestionnaire   = question.ErrInvalid
)

func DefaultConfig() Config                                { return config.Default() }
func LoadConfig(path string) (Config, error)               { return config.Load(path) }
func ParseQuestionnaire(raw []byte) (Questionnaire, error) { return question.Parse(raw) }

// Options customize a Client. The zero value launches the running binary
// with the platform strategy and sends history to cfg.History.DSN.
type Options struct {
	ConfigPath string      // forwarded to the child as --config
	Launcher   Launcher    // replaces the platform strategy
	History    HistorySink // replaces the configured sink
	Logger     *slog.Logger
}

// Client spawns workloads. It is safe for concurrent use.
type Client struct {
	sp      *spawner.Spawner
	history io.Closer // non-nil only for sinks the client opened
	log     *slog.Logger
}

func New(cfg Config, opts Options) (*Client, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	l := opts.Launcher
	if l == nil {
		lc := launcher.Config{Terminal: cfg.Spawn.Terminal, Logger: log}
		if opts.ConfigPath != "" {
			abs, err := filepath.Abs(opts.ConfigPath)
			if err != nil {
				return nil, err
			}
			lc.Args = []string{"--config", abs}
		}
		l = launcher.ForPlatform(runtime.GOOS, lc)
	}

	c := &Client{log: log}
	sink := opts.History
	if sink == nil && cfg.History.DSN != "" {
		s, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return nil, err
		}
		sink = s
		if cl, ok := s.(io.Closer); ok {
			c.history = cl
		}
	}

	sp, err := spawner.New(spawner.Config{
		Store:    cfg.Session.Store(),
		Launcher: l,
		Heartbeat: spawner.HeartbeatConfig{
			Interval:        cfg.Heartbeat.Interval,
			GraceMultiplier: cfg.Heartbeat.GraceMultiplier,
			MissThreshold:   cfg.Heartbeat.MissThreshold,
		},
		DefaultTTL: cfg.Spawn.TTL,
		History:    sink,
		Logger:     log,
	})
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.sp = sp
	return c, nil
}

// Spawn runs req in a detached child and waits for its result.
func (c *Client) Spawn(ctx context.Context, req Request) (Result, error) {
	return c.sp.Spawn(ctx, req)
}

// Ask shows q on a new terminal and waits for the answers. A zero ttl uses
// the configured default.
func (c *Client) Ask(ctx context.Context, q Questionnaire, ttl time.Duration) (Response, error) {
	return question.Ask(ctx, c.sp, q, spawner.Request{TTL: ttl})
}

// Close releases the history sink opened by New.
func (c *Client) Close() error {
	if c.history == nil {
		return nil
	}
	return c.history.Close()
}

// Workloads returns the registry every askterm child serves.
func Workloads() *workload.Registry {
	r := workload.NewRegistry()
	r.MustRegister(workload.Echo())
	r.MustRegister(question.Workload(runtime.GOOS))
	return r
}

// ChildSession reports whether args, without the program name, are a child
// invocation and returns its session id. Leading --config flags are skipped.
func ChildSession(args []string) (string, bool) {
	for len(args) >= 2 && args[0] == "--config" {
		args = args[2:]
	}
	if len(args) == 2 && args[0] == launcher.RunnerCommand {
		return args[1], true
	}
	return "", false
}

// StdTerminal is the child's own console.
func StdTerminal() Terminal { return Terminal{In: os.Stdin, Out: os.Stdout} }

// RunChild serves one session in the current process. Cancelling ctx, for
// instance on an interrupt, makes the workload report cancellation.
func RunChild(ctx context.Context, cfg Config, sessionID string, term Terminal, log *slog.Logger) error {
	return runner.New(runner.Config{
		Store:    cfg.Session.Store(),
		Registry: Workloads(),
		Interval: cfg.Heartbeat.Interval,
		Term:     term,
		Logger:   log,
	}).Run(ctx, sessionID)
}

// IsUnknownWorkload reports a child error caused by a workload name this
// binary does not serve.
func IsUnknownWorkload(err error) bool { return errors.Is(err, runner.ErrUnknownWorkload) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
func MetricsHandler() http.Handler                  { return metrics.Handler() }
