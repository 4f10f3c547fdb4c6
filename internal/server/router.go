package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/askterm/internal/question"
	"github.com/loykin/askterm/internal/spawner"
)

// Spawner is the part of *spawner.Spawner the router needs.
type Spawner interface {
	Spawn(ctx context.Context, req spawner.Request) (spawner.Result, error)
}

// Router provides embeddable HTTP handlers for spawning detached workloads.
// Endpoints:
//
//	POST {basePath}/ask      body: questionnaire JSON, query: ttl=5m (optional)
//	POST {basePath}/spawn    body: {"workload","input","ttl_ms"}
//	GET  {basePath}/healthz
//	GET  /metrics            when a metrics handler is set
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sp       Spawner
	basePath string
	metrics  http.Handler
	log      *slog.Logger
}

type Option func(*Router)

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option { return func(r *Router) { r.metrics = h } }

func WithLogger(l *slog.Logger) Option { return func(r *Router) { r.log = l } }

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/ask, /api/spawn, /api/healthz.
func NewRouter(sp Spawner, basePath string, opts ...Option) *Router {
	r := &Router{sp: sp, basePath: cleanBase(basePath), log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/ask", r.handleAsk)
	group.POST("/spawn", r.handleSpawn)
	group.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })
	if r.metrics != nil {
		g.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shut it down with http.Server's Shutdown or Close. There is no write
// timeout: a spawn holds its response until the child finishes or its TTL
// passes.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error("http server stopped", "addr", addr, "error", err)
		}
	}()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type askResp struct {
	question.Response
	Error string `json:"error,omitempty"`
}

type spawnReq struct {
	Workload string          `json:"workload"`
	Input    json.RawMessage `json:"input"`
	TTLMS    int64           `json:"ttl_ms"`
}

type spawnResp struct {
	SessionID  string          `json:"session_id"`
	Outcome    string          `json:"outcome"`
	Status     string          `json:"status"`
	IsSuccess  bool            `json:"is_success"`
	TimedOut   bool            `json:"timed_out"`
	Heartbeats int             `json:"heartbeats"`
	DurationMS int64           `json:"duration_ms"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
}

func (r *Router) handleAsk(c *gin.Context) {
	ttl, err := queryTTL(c)
	if err != nil {
		badRequest(c, "%v", err)
		return
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "read body: %v", err)
		return
	}
	q, err := question.Parse(raw)
	if err != nil {
		badRequest(c, "%v", err)
		return
	}

	res, err := question.Ask(c.Request.Context(), r.sp, q, spawner.Request{TTL: ttl})
	switch {
	case err == nil:
		writeJSON(c, http.StatusOK, askResp{Response: res})
	case errors.Is(err, question.ErrInvalid):
		badRequest(c, "%v", err)
	case errors.Is(err, question.ErrCancelled):
		res.Cancelled = true
		writeJSON(c, http.StatusOK, askResp{Response: res, Error: err.Error()})
	case errors.Is(err, question.ErrTimedOut):
		writeJSON(c, http.StatusGatewayTimeout, askResp{Response: question.Response{Responses: []question.Answer{}, TimedOut: true}, Error: err.Error()})
	default:
		r.log.Warn("questionnaire failed", "error", err)
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
	}
}

func (r *Router) handleSpawn(c *gin.Context) {
	var req spawnReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON: %v", err)
		return
	}
	if !workloadName.MatchString(req.Workload) {
		badRequest(c, "invalid workload %q: want %s", req.Workload, workloadName)
		return
	}
	if req.TTLMS < 0 {
		badRequest(c, "invalid ttl_ms: must not be negative")
		return
	}

	res, err := r.sp.Spawn(c.Request.Context(), spawner.Request{
		Workload: req.Workload,
		Input:    req.Input,
		TTL:      time.Duration(req.TTLMS) * time.Millisecond,
	})
	out := spawnResp{
		SessionID:  res.SessionID,
		Outcome:    string(res.Outcome),
		Status:     res.Status.String(),
		IsSuccess:  res.IsSuccess,
		TimedOut:   res.TimedOut,
		Heartbeats: res.Heartbeats,
		DurationMS: res.Duration.Milliseconds(),
		Output:     res.Output,
	}
	if err != nil {
		out.Error = err.Error()
	}
	writeJSON(c, spawnStatus(res, err), out)
}

func spawnStatus(res spawner.Result, err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, spawner.ErrSetup):
		return http.StatusInternalServerError
	case errors.Is(err, spawner.ErrCancelled):
		return 499
	case res.TimedOut:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
