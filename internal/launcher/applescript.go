package launcher

import (
	"context"
	"os/exec"
	"strings"
)

// AppleScript asks Terminal.app to open a window running the child. Starting
// the binary directly on macOS gives it no visible window.
type AppleScript struct {
	cfg Config
}

func NewAppleScript(cfg Config) *AppleScript { return &AppleScript{cfg: cfg} }

func (a *AppleScript) Launch(ctx context.Context, sessionID string) (Launched, error) {
	if err := ctx.Err(); err != nil {
		return Launched{}, err
	}
	exe, err := a.cfg.executable()
	if err != nil {
		return Launched{}, err
	}
	// #nosec G204 -- the script only embeds quoted, escaped arguments
	cmd := exec.Command("osascript", appleScriptArgs(exe, a.cfg.childArgs(sessionID))...)
	return a.cfg.startDetached("applescript", cmd)
}

func appleScriptArgs(exe string, args []string) []string {
	words := make([]string, 0, len(args)+1)
	words = append(words, shellQuote(exe))
	for _, a := range args {
		words = append(words, shellQuote(a))
	}
	script := "exec " + strings.Join(words, " ") + "; exit 0"
	return []string{
		"-e", `tell application "Terminal" to activate`,
		"-e", `tell application "Terminal" to do script "` + appleScriptEscape(script) + `"`,
	}
}

// shellQuote wraps s in single quotes for the shell Terminal.app runs.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// appleScriptEscape escapes s for use inside an AppleScript string literal.
func appleScriptEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
