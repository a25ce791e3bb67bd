// Package supervisor keeps one game server alive.
//
// A Supervisor runs supervision cycles forever: spawn the server, wait for
// its PID, let it warm up for the grace period, then probe it on a fixed
// cadence. A failed probe leads to exactly one termination request and a
// new cycle; so does the server exiting on its own.
//
// Concurrency model:
//   - One owner goroutine per cycle spawns the child, drains its output into
//     the output router and waits for exit. It reports back only through
//     channels that belong to its cycle, so a stale cycle can never be
//     mistaken for the current one.
//   - The Run goroutine owns the Record. Commands (start, stop, restart)
//     arrive over a channel and are applied there.
//   - Readers get immutable Status snapshots.
package supervisor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jalho/rad/internal/health"
	"github.com/jalho/rad/internal/history"
	"github.com/jalho/rad/internal/locator"
	"github.com/jalho/rad/internal/metrics"
	"github.com/jalho/rad/internal/output"
	"github.com/jalho/rad/internal/process"
)

// Hooks observe the supervisor synchronously from the Run goroutine.
// They must not block.
type Hooks struct {
	OnTransition func(Transition)
	OnKill       func(rec Record, pids []int, err error)
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithTerminator replaces the default kill-by-name terminator.
func WithTerminator(t Terminator) Option { return func(s *Supervisor) { s.term = t } }

// WithHistory sends lifecycle events to h.
func WithHistory(h history.Sink) Option { return func(s *Supervisor) { s.history = h } }

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Supervisor) { s.log = l } }

// WithRouter publishes output into a caller-owned router. Without it the
// supervisor owns a router and closes it when Run returns.
func WithRouter(r *output.Router) Option { return func(s *Supervisor) { s.router = r } }

// WithHooks installs observation hooks.
func WithHooks(h Hooks) Option { return func(s *Supervisor) { s.hooks = h } }

type commandAction int

const (
	actionStart commandAction = iota
	actionStop
	actionRestart
)

func (a commandAction) String() string {
	switch a {
	case actionStart:
		return "start"
	case actionStop:
		return "stop"
	case actionRestart:
		return "restart"
	default:
		return "unknown"
	}
}

type command struct {
	action commandAction
	reply  chan error
}

type spawnResult struct {
	pid       int
	startedAt time.Time
	kill      func() error
	err       error
	warn      error
}

type cycleExit struct {
	status  process.ExitStatus
	readErr error
	waitErr error
}

// cycle is one spawn of the server. Its channels are written only by its
// owner goroutine.
type cycle struct {
	n       uint64
	spawned chan spawnResult
	exited  chan cycleExit
	done    chan struct{}
	pid     int
	kill    func() error
}

func (c *cycle) finished() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Supervisor supervises a single server. Create it with New and call Run once.
type Supervisor struct {
	cfg       Config
	checker   health.Checker
	term      Terminator
	router    *output.Router
	ownRouter bool
	history   history.Sink
	log       *slog.Logger
	hooks     Hooks
	spawnFn   func(process.Spec) (*process.Handle, error)

	cmds    chan command
	status  atomic.Pointer[Status]
	started atomic.Bool
	done    chan struct{}

	// Owned by the Run goroutine.
	rec       Record
	held      bool
	running   bool
	restarts  uint64
	lastCheck *health.Result
	lastExit  *process.ExitStatus
	lastErr   string
	cur       *cycle
	lingering []*cycle
}

// New returns a supervisor for cfg probed by checker.
func New(cfg Config, checker health.Checker, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:     cfg.withDefaults(),
		checker: checker,
		cmds:    make(chan command, 16),
		done:    make(chan struct{}),
		spawnFn: process.Spawn,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.router == nil {
		s.router = output.NewRouter()
		s.ownRouter = true
	}
	if s.term == nil {
		s.term = NameTerminator{
			Locator: locator.Fallback{Primary: locator.Native{}, Secondary: locator.Pgrep{}},
			Name:    s.cfg.ProcessName,
		}
	}
	s.rec = Record{State: Terminated, Since: time.Now()}
	s.publish()
	return s
}

// Config returns the effective configuration.
func (s *Supervisor) Config() Config { return s.cfg }

// Status returns the latest snapshot.
func (s *Supervisor) Status() Status { return *s.status.Load() }

// Subscribe registers an output sink. It sees only lines published later.
func (s *Supervisor) Subscribe(sink output.Sink, buffer int) *output.Subscription {
	return s.router.Register(sink, buffer)
}

// Start resumes supervision after Stop. It is a no-op while a server runs.
func (s *Supervisor) Start(ctx context.Context) error { return s.send(ctx, actionStart) }

// Stop terminates the server and holds in Terminated until Start or Restart.
func (s *Supervisor) Stop(ctx context.Context) error { return s.send(ctx, actionStop) }

// Restart terminates the server and begins a new cycle immediately.
func (s *Supervisor) Restart(ctx context.Context) error { return s.send(ctx, actionRestart) }

func (s *Supervisor) send(ctx context.Context, a commandAction) error {
	cmd := command{action: a, reply: make(chan error, 1)}
	select {
	case s.cmds <- cmd:
	case <-s.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-s.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run supervises until ctx is cancelled, which returns nil after the
// server has been killed. A spawn failure ends Run with *SpawnFailure.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)
	if s.ownRouter {
		defer s.router.Close()
	}
	defer s.shutdown()
	s.running = true
	s.publish()

	s.log.Info("supervisor started",
		"executable", s.cfg.Spec.Executable,
		"process_name", s.cfg.ProcessName,
		"probe", s.checker.Describe(),
		"grace_period", s.cfg.GracePeriod,
		"poll_interval", s.cfg.PollInterval)

	var delay time.Duration
	for {
		if !s.idle(ctx, delay) {
			return nil
		}
		c, err := s.spawn(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !s.supervise(ctx, c) {
			return nil
		}
		delay = s.cfg.RestartDelay
	}
}

// idle waits out delay, and keeps waiting while held, applying commands.
// It returns false when ctx is done.
func (s *Supervisor) idle(ctx context.Context, delay time.Duration) bool {
	if !s.held && delay <= 0 {
		return true
	}
	var timerC <-chan time.Time
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		timerC = t.C
	}
	if s.held {
		s.log.Info("supervision on hold, waiting for start")
	}
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timerC:
			timerC = nil
			if !s.held {
				return true
			}
		case cmd := <-s.cmds:
			s.log.Info("command received", "action", cmd.action.String(), "state", s.rec.State.String())
			switch cmd.action {
			case actionStop:
				s.held = true
				s.publish()
				cmd.reply <- nil
			case actionStart, actionRestart:
				s.held = false
				s.publish()
				cmd.reply <- nil
				return true
			}
		}
	}
}

// spawn starts a new cycle and waits, bounded by PIDTimeout, for its PID.
func (s *Supervisor) spawn(ctx context.Context) (*cycle, error) {
	s.pruneLingering()
	s.rec.Cycle++
	c := &cycle{
		n:       s.rec.Cycle,
		spawned: make(chan spawnResult, 1),
		exited:  make(chan cycleExit, 1),
		done:    make(chan struct{}),
	}
	go s.own(c)

	timer := time.NewTimer(s.cfg.PIDTimeout)
	defer timer.Stop()

	var fail error
	select {
	case r := <-c.spawned:
		if r.err != nil {
			metrics.IncSpawn(false)
			s.lastErr = r.err.Error()
			s.publish()
			s.log.Error("server spawn failed", "cycle", c.n, "error", r.err)
			return nil, &SpawnFailure{Cycle: c.n, Err: r.err}
		}
		c.pid = r.pid
		c.kill = r.kill
		metrics.IncSpawn(true)
		if c.n > 1 {
			s.restarts++
			metrics.IncRestart()
		}
		s.cur = c
		s.lastErr = ""
		s.rec.PID = r.pid
		s.rec.StartedAt = r.startedAt
		s.log.Info("server spawned", "cycle", c.n, "pid", r.pid)
		if r.warn != nil {
			s.log.Warn("pid file not written", "cycle", c.n, "pid", r.pid, "error", r.warn)
		}
		s.emit(history.EventSpawn, Terminated, Starting, "")
		s.setState(Starting, "spawned")
		return c, nil
	case <-timer.C:
		fail = &SpawnFailure{Cycle: c.n, Err: ErrPIDTimeout}
		s.log.Error("server spawn failed", "cycle", c.n, "error", fail)
	case <-ctx.Done():
		fail = ctx.Err()
	}
	// The child may still appear; it must not outlive this cycle.
	go func() {
		if r := <-c.spawned; r.err == nil {
			_ = r.kill()
		}
	}()
	metrics.IncSpawn(false)
	return nil, fail
}

// own is the owner goroutine of one cycle.
func (s *Supervisor) own(c *cycle) {
	defer close(c.done)
	h, err := s.spawnFn(s.cfg.Spec)
	if err != nil {
		c.spawned <- spawnResult{err: err}
		return
	}
	c.spawned <- spawnResult{pid: h.PID(), startedAt: h.StartedAt(), kill: h.Kill, warn: h.PIDFileError()}

	// ReadLines kills the group itself when capture fails.
	readErr := h.ReadLines(s.router.Publish)
	st, waitErr := h.Wait()
	c.exited <- cycleExit{status: st, readErr: readErr, waitErr: waitErr}
}

// supervise polls the current cycle until it is Terminated. It returns
// false when ctx is done.
func (s *Supervisor) supervise(ctx context.Context, c *cycle) bool {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	graceEnd := s.rec.StartedAt.Add(s.cfg.GracePeriod)

	for {
		select {
		case <-ctx.Done():
			return false

		case ex := <-c.exited:
			s.onExit(c, ex)
			return true

		case cmd := <-s.cmds:
			s.log.Info("command received", "action", cmd.action.String(), "state", s.rec.State.String(), "pid", c.pid)
			switch cmd.action {
			case actionStart:
				cmd.reply <- nil
			case actionStop:
				s.held = true
				s.terminate(ctx, c, "stop")
				cmd.reply <- nil
				return true
			case actionRestart:
				s.terminate(ctx, c, "restart")
				cmd.reply <- nil
				return true
			}

		case <-ticker.C:
			if time.Now().Before(graceEnd) {
				continue
			}
			res := s.checker.Check(ctx)
			if ctx.Err() != nil {
				return false
			}
			s.lastCheck = &res
			metrics.ObserveHealthCheck(res.Healthy, res.Latency.Seconds())
			if res.Healthy {
				if s.rec.State != Healthy {
					s.setState(Healthy, "")
				} else {
					s.publish()
				}
				continue
			}
			s.log.Warn("health check failed", "cycle", c.n, "pid", c.pid, "probe", s.checker.Describe(), "reason", res.Reason)
			s.setState(Unhealthy, res.Reason)
			s.terminate(ctx, c, "unhealthy")
			return true
		}
	}
}

// terminate issues one termination request and moves to Terminated
// without waiting for the process to exit.
func (s *Supervisor) terminate(ctx context.Context, c *cycle, reason string) {
	rec := s.rec
	pids, err := s.term.Terminate(ctx, rec)
	metrics.IncKill(reason)
	if err != nil {
		s.lastErr = err.Error()
		s.log.Warn("termination request failed", "cycle", c.n, "pid", rec.PID, "reason", reason, "error", err)
	} else {
		s.log.Info("termination requested", "cycle", c.n, "pid", rec.PID, "reason", reason, "killed", pids)
	}
	if s.hooks.OnKill != nil {
		s.hooks.OnKill(rec, pids, err)
	}
	s.emit(history.EventKill, rec.State, Terminated, reason)

	s.cur = nil
	s.lingering = append(s.lingering, c)
	s.setState(Terminated, reason)
}

func (s *Supervisor) onExit(c *cycle, ex cycleExit) {
	s.cur = nil
	st := ex.status
	s.lastExit = &st
	if ex.readErr != nil {
		s.lastErr = ex.readErr.Error()
		s.log.Warn("server output capture failed", "cycle", c.n, "pid", c.pid, "error", ex.readErr)
	}
	if ex.waitErr != nil {
		s.log.Warn("server wait failed", "cycle", c.n, "pid", c.pid, "error", ex.waitErr)
	}
	s.log.Info("server exited", "cycle", c.n, "pid", c.pid, "status", st.String())
	s.emit(history.EventExit, s.rec.State, Terminated, st.String())
	s.setState(Terminated, "exited: "+st.String())
}

func (s *Supervisor) pruneLingering() {
	kept := s.lingering[:0]
	for _, c := range s.lingering {
		if !c.finished() {
			kept = append(kept, c)
		}
	}
	s.lingering = kept
}

// shutdown kills every child this supervisor still knows about and waits,
// bounded by ShutdownTimeout, for them to be reaped.
func (s *Supervisor) shutdown() {
	cycles := append([]*cycle(nil), s.lingering...)
	if s.cur != nil {
		cycles = append(cycles, s.cur)
	}
	for _, c := range cycles {
		if c.finished() || c.kill == nil {
			continue
		}
		if err := c.kill(); err != nil {
			s.log.Warn("kill on shutdown failed", "cycle", c.n, "pid", c.pid, "error", err)
		}
	}
	deadline := time.NewTimer(s.cfg.ShutdownTimeout)
	defer deadline.Stop()
wait:
	for _, c := range cycles {
		select {
		case <-c.done:
		case <-deadline.C:
			s.log.Warn("server did not exit before shutdown deadline", "cycle", c.n, "pid", c.pid)
			break wait
		}
	}
	s.cur = nil
	s.lingering = nil
	s.running = false
	if s.rec.State.Live() {
		s.setState(Terminated, "shutdown")
	}
	s.publish()
	s.log.Info("supervisor stopped", "cycles", s.rec.Cycle, "restarts", s.restarts)
}

func (s *Supervisor) setState(to State, reason string) {
	from := s.rec.State
	pid := s.rec.PID
	now := time.Now()
	s.rec.State = to
	s.rec.Since = now
	if to == Terminated {
		s.rec.PID = 0
		s.rec.StartedAt = time.Time{}
	}
	s.publish()

	metrics.RecordStateTransition(from.String(), to.String())
	metrics.SetCurrentState(to.String())
	s.log.Info("state transition", "cycle", s.rec.Cycle, "pid", pid, "from", from.String(), "to", to.String(), "reason", reason)
	if s.hooks.OnTransition != nil {
		s.hooks.OnTransition(Transition{Cycle: s.rec.Cycle, PID: pid, From: from, To: to, At: now, Reason: reason})
	}
	s.record(history.Event{Type: history.EventTransition, From: from.String(), To: to.String(), Reason: reason, PID: pid})
}

func (s *Supervisor) emit(t history.EventType, from, to State, reason string) {
	s.record(history.Event{Type: t, From: from.String(), To: to.String(), Reason: reason, PID: s.rec.PID})
}

func (s *Supervisor) record(e history.Event) {
	if s.history == nil {
		return
	}
	e.OccurredAt = time.Now().UTC()
	e.Server = s.cfg.ProcessName
	e.Cycle = s.rec.Cycle
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HistoryTimeout)
	defer cancel()
	if err := s.history.Send(ctx, e); err != nil {
		s.log.Warn("history send failed", "event", string(e.Type), "error", err)
	}
}

func (s *Supervisor) publish() {
	st := &Status{
		Server:    s.cfg.ProcessName,
		State:     s.rec.State,
		PID:       s.rec.PID,
		Since:     s.rec.Since,
		StartedAt: s.rec.StartedAt,
		Cycle:     s.rec.Cycle,
		Restarts:  s.restarts,
		Held:      s.held,
		Running:   s.running,
		LastExit:  s.lastExit,
		LastError: s.lastErr,
	}
	if s.lastCheck != nil {
		c := *s.lastCheck
		st.LastCheck = &c
	}
	s.status.Store(st)
}
