package launcher

import (
	"context"
	"os/exec"
)

// Direct runs the child binary itself, optionally wrapped by a terminal
// emulator command such as "x-terminal-emulator -e".
type Direct struct {
	cfg Config
}

func NewDirect(cfg Config) *Direct { return &Direct{cfg: cfg} }

func (d *Direct) Launch(ctx context.Context, sessionID string) (Launched, error) {
	if err := ctx.Err(); err != nil {
		return Launched{}, err
	}
	exe, err := d.cfg.executable()
	if err != nil {
		return Launched{}, err
	}
	argv := append([]string{}, d.cfg.Terminal...)
	argv = append(argv, exe)
	argv = append(argv, d.cfg.childArgs(sessionID)...)
	// #nosec G204 -- argv is built from the configured binary and a parsed session id
	cmd := exec.Command(argv[0], argv[1:]...)
	return d.cfg.startDetached("direct", cmd)
}
