package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jalho/rad/internal/locator"
	"github.com/jalho/rad/internal/metrics"
	"github.com/jalho/rad/internal/output"
	"github.com/jalho/rad/internal/process"
	"github.com/jalho/rad/internal/supervisor"
)

// Controller is the part of the supervisor the admin API drives.
type Controller interface {
	Status() supervisor.Status
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
}

// Router provides embeddable HTTP handlers for operating the supervisor.
// Endpoints:
//
//	GET  {basePath}/status     current state, uptime and latest resource sample
//	POST {basePath}/start      resume supervision after a stop
//	POST {basePath}/stop       kill the server and hold
//	POST {basePath}/restart    kill the server; a fresh cycle follows
//	GET  {basePath}/output     query: limit=N, recent server output
//	GET  {basePath}/metrics    Prometheus exposition
//	GET  {basePath}/healthz    liveness of the supervisor itself
type Router struct {
	ctl      Controller
	basePath string
	recent   *output.Recent
	sampler  *metrics.Sampler
	gatherer prometheus.Gatherer
	age      func(ctx context.Context, pid int) (time.Duration, error)
	timeout  time.Duration
	log      *slog.Logger
}

type Option func(*Router)

// WithRecent serves /output from r.
func WithRecent(r *output.Recent) Option { return func(rt *Router) { rt.recent = r } }

// WithSampler adds the latest resource sample to /status.
func WithSampler(s *metrics.Sampler) Option { return func(rt *Router) { rt.sampler = s } }

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option { return func(rt *Router) { rt.gatherer = g } }

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option { return func(rt *Router) { rt.log = l } }

// WithCommandTimeout bounds how long a command waits to be accepted.
func WithCommandTimeout(d time.Duration) Option { return func(rt *Router) { rt.timeout = d } }

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(ctl Controller, basePath string, opts ...Option) *Router {
	r := &Router{
		ctl:      ctl,
		basePath: sanitizeBase(basePath),
		age:      locator.Age,
		timeout:  5 * time.Second,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.requestLog())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.command(r.ctl.Start))
	group.POST("/stop", r.command(r.ctl.Stop))
	group.POST("/restart", r.command(r.ctl.Restart))
	group.GET("/output", r.handleOutput)
	group.GET("/healthz", r.handleHealthz)
	if r.gatherer != nil {
		group.GET("/metrics", gin.WrapH(metrics.HandlerFor(r.gatherer)))
	} else {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

func (r *Router) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.log.Debug("admin request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// Server is a standalone admin HTTP server.
type Server struct {
	srv *http.Server
	ln  net.Listener
	log *slog.Logger
}

// Listen binds addr. Only loopback addresses are accepted; the API has no
// authentication.
func Listen(addr string, h http.Handler, log *slog.Logger) (*Server, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	if !isLoopback(host) {
		return nil, errors.New("admin listen address must be loopback, got " + host)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		ln:  ln,
		log: log,
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}, nil
}

// Addr is the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve blocks until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- s.srv.Serve(s.ln) }()
	s.log.Info("admin API listening", "addr", s.Addr())
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.srv.Shutdown(shutdownCtx)
	<-errc
	return err
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type statusResp struct {
	supervisor.Status
	UptimeSeconds float64         `json:"uptime_seconds"`
	Resources     *metrics.Sample `json:"resources,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	st := r.ctl.Status()
	resp := statusResp{Status: st, UptimeSeconds: st.Uptime().Seconds()}
	if st.PID > 0 {
		// Prefer the OS process age.
		if age, err := r.age(c.Request.Context(), st.PID); err == nil {
			resp.UptimeSeconds = age.Seconds()
		}
	}
	if r.sampler != nil {
		if s, ok := r.sampler.Latest(); ok && int(s.PID) == st.PID {
			resp.Resources = &s
		}
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) command(fn func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), r.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			code := http.StatusInternalServerError
			switch {
			case errors.Is(err, supervisor.ErrNotRunning):
				code = http.StatusConflict
			case errors.Is(err, context.DeadlineExceeded):
				code = http.StatusGatewayTimeout
			}
			writeJSON(c, code, errorResp{Error: err.Error()})
			return
		}
		r.log.Info("admin command accepted", "path", c.FullPath())
		writeJSON(c, http.StatusOK, okResp{OK: true})
	}
}

func (r *Router) handleOutput(c *gin.Context) {
	if r.recent == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "output capture not enabled"})
		return
	}
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	lines := r.recent.Lines(limit)
	if lines == nil {
		lines = []process.OutputLine{}
	}
	writeJSON(c, http.StatusOK, lines)
}

func (r *Router) handleHealthz(c *gin.Context) {
	st := r.ctl.Status()
	if !st.Running {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "supervisor not running"})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
