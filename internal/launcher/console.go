package launcher

import (
	"context"
	"os/exec"
)

// Console starts the child in a new console window on Windows.
type Console struct {
	cfg Config
}

func NewConsole(cfg Config) *Console { return &Console{cfg: cfg} }

func (c *Console) Launch(ctx context.Context, sessionID string) (Launched, error) {
	if err := ctx.Err(); err != nil {
		return Launched{}, err
	}
	exe, err := c.cfg.executable()
	if err != nil {
		return Launched{}, err
	}
	// #nosec G204 -- argv is built from the configured binary and a parsed session id
	cmd := exec.Command(exe, c.cfg.childArgs(sessionID)...)
	newConsole(cmd)
	return c.cfg.startDetached("console", cmd)
}
