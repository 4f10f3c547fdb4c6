package server

import (
	"fmt"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// workloadName matches registry names: lower case, short, no separators.
var workloadName = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)

// cleanBase turns a configured base path into "" or "/seg[/seg...]".
func cleanBase(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	return path.Clean("/" + bp)
}

// queryTTL reads the optional ?ttl= duration. Zero means "use the default".
func queryTTL(c *gin.Context) (time.Duration, error) {
	s := c.Query("ttl")
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid ttl %q: must be a positive duration", s)
	}
	return d, nil
}

func writeJSON(c *gin.Context, code int, v any) {
	c.JSON(code, v)
}

func badRequest(c *gin.Context, format string, args ...any) {
	writeJSON(c, http.StatusBadRequest, errorResp{Error: fmt.Sprintf(format, args...)})
}
