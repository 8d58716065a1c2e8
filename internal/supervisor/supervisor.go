package supervisor

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/turtacn/Fopwatch/internal/monitor"
	"github.com/turtacn/Fopwatch/pkg/consts"
	fperrors "github.com/turtacn/Fopwatch/pkg/errors"
	"github.com/turtacn/Fopwatch/pkg/fsm"
	"github.com/turtacn/Fopwatch/pkg/logger"
	"github.com/turtacn/Fopwatch/pkg/protocol"
	"github.com/turtacn/Fopwatch/pkg/pubsub"
	"golang.org/x/sync/errgroup"
)

// Options configure a Supervisor.
type Options struct {
	Launch        LaunchSpec
	ReadyTimeout  time.Duration
	ShutdownGrace time.Duration
	MaxFrameBytes int
	Logger        logger.Logger
}

// EventKind classifies supervisor events.
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventLogLine
	EventExited
)

// Event is published to subscribers for state changes, engine output and exits.
type Event struct {
	Kind   EventKind
	From   consts.WorkerState
	State  consts.WorkerState
	Stream string // "stdout" or "stderr" for EventLogLine
	Line   string
	Reason string // "shutdown", "start_timeout" or "crash" for EventExited
	Err    error
	PID    int
}

// Supervisor owns the engine process: it launches it, waits for the ready
// frame, forwards commands, correlates responses and tears it down.
// At most one engine process exists per Supervisor.
type Supervisor struct {
	opts    Options
	log     logger.Logger
	machine *fsm.StateMachine
	table   *CorrelationTable
	events  *pubsub.Hub[Event]

	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	ready      chan struct{}
	exited     chan struct{}
	readyTimer *time.Timer
	stopping   bool
	lastErr    error

	writeMu sync.Mutex
}

// New creates a stopped Supervisor.
func New(opts Options) *Supervisor {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = consts.DefaultReadyTimeout
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = consts.DefaultShutdownGrace
	}
	log := logger.Or(opts.Logger).With("component", "supervisor")

	s := &Supervisor{
		opts:    opts,
		log:     log,
		machine: fsm.New(fsm.State(consts.StateStopped)),
		table:   NewCorrelationTable(log),
		events:  pubsub.NewHub[Event](),
	}
	s.setupFSM()
	return s
}

func (s *Supervisor) setupFSM() {
	stopped := fsm.State(consts.StateStopped)
	starting := fsm.State(consts.StateStarting)
	ready := fsm.State(consts.StateReady)
	terminating := fsm.State(consts.StateTerminating)

	s.machine.AddTransition(stopped, starting, consts.EventStart, nil)
	s.machine.AddTransition(starting, ready, consts.EventReady, nil)
	s.machine.AddTransition(starting, terminating, consts.EventStop, nil)
	s.machine.AddTransition(ready, terminating, consts.EventStop, nil)
	for _, from := range []fsm.State{starting, ready, terminating} {
		s.machine.AddTransition(from, stopped, consts.EventExit, nil)
	}

	s.machine.Observe(func(from, to fsm.State, ev fsm.Event) {
		monitor.WorkerState.Set(consts.WorkerState(to).Ordinal())
		s.log.Debug("Supervisor: state change", "from", from, "to", to, "event", ev)
		s.events.Publish(Event{Kind: EventStateChanged, From: consts.WorkerState(from), State: consts.WorkerState(to)})
	})
}

// State returns the current worker state.
func (s *Supervisor) State() consts.WorkerState {
	return consts.WorkerState(s.machine.Current())
}

// Pending returns the number of requests awaiting a response.
func (s *Supervisor) Pending() int {
	return s.table.Len()
}

// PID returns the engine process id, or 0 when no process is running.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// LastError returns why the previous process ended abnormally, if it did.
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Subscribe returns a typed event stream and its unsubscribe function.
func (s *Supervisor) Subscribe(buffer int) (<-chan Event, func()) {
	return s.events.Subscribe(buffer)
}

// Done returns a channel closed when the current process exits. It is nil
// before the first Start.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited
}

// Start launches the engine process and leaves the worker Starting until the
// ready frame arrives. It fails unless the worker is Stopped.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.machine.Is(fsm.State(consts.StateStopped)) {
		return fperrors.New(fperrors.ErrCodeProcessStartFail, "Start", fmt.Sprintf("engine worker is already %s", s.State()), nil)
	}
	spec := s.opts.Launch
	if spec.Path == "" {
		return fperrors.New(fperrors.ErrCodeEngineNotFound, "Start", "no engine command configured", nil)
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fperrors.New(fperrors.ErrCodeProcessStartFail, "Start", "cannot open engine stdout", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fperrors.New(fperrors.ErrCodeProcessStartFail, "Start", "cannot open engine stderr", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fperrors.New(fperrors.ErrCodeProcessStartFail, "Start", "cannot open engine stdin", err)
	}

	s.machine.Fire(consts.EventStart)
	s.log.Info("Supervisor: Launching engine", "cmd", spec.String(), "dir", spec.Dir)
	if err := cmd.Start(); err != nil {
		s.machine.Fire(consts.EventExit)
		s.lastErr = fperrors.New(fperrors.ErrCodeProcessStartFail, "Start", "cannot launch engine: "+spec.Path, err)
		return s.lastErr
	}

	ready := make(chan struct{})
	exited := make(chan struct{})
	s.cmd = cmd
	s.stdin = stdin
	s.ready = ready
	s.exited = exited
	s.stopping = false
	s.lastErr = nil
	s.readyTimer = time.AfterFunc(s.opts.ReadyTimeout, func() { s.onReadyTimeout(cmd) })

	go s.run(cmd, stdout, stderr, exited)
	return nil
}

// WaitReady blocks until the engine reports ready, the process exits, or ctx ends.
func (s *Supervisor) WaitReady(ctx context.Context) error {
	s.mu.Lock()
	ready, exited := s.ready, s.exited
	s.mu.Unlock()

	if ready == nil {
		return fperrors.New(fperrors.ErrCodeNotReady, "WaitReady", "engine worker was never started", nil)
	}
	select {
	case <-exited:
		return s.exitError()
	default:
	}

	select {
	case <-ready:
		return nil
	case <-exited:
		return s.exitError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) exitError() error {
	if err := s.LastError(); err != nil {
		return err
	}
	return fperrors.New(fperrors.ErrCodeProcessTerminated, "WaitReady", "engine worker exited", nil)
}

// Submit sends c with a freshly allocated request id and waits for the
// matching response. Only liveness probes are accepted before Ready.
// The returned error covers delivery failures; engine-reported errors come
// back as a response with status "error".
func (s *Supervisor) Submit(ctx context.Context, c protocol.Command) (protocol.Response, error) {
	s.mu.Lock()
	state := s.State()
	if state != consts.StateReady && !(c.IsProbe() && state == consts.StateStarting) {
		s.mu.Unlock()
		return protocol.Response{}, fperrors.New(fperrors.ErrCodeNotReady, "Submit",
			fmt.Sprintf("engine worker is not ready (state %s)", state), nil)
	}
	p := s.table.Register()
	stdin := s.stdin
	s.mu.Unlock()

	c.RequestID = p.ID
	line, err := protocol.Encode(c)
	if err != nil {
		s.table.Discard(p.ID)
		return protocol.Response{}, fperrors.New(fperrors.ErrCodeInvalidRequest, "Submit", "cannot encode command", err)
	}
	if err := s.write(stdin, line); err != nil {
		s.table.Discard(p.ID)
		return protocol.Response{}, fperrors.New(fperrors.ErrCodeProcessTerminated, "Submit", "cannot write to engine", err)
	}
	s.log.Debug("Supervisor: Command sent", "action", c.Action, "request_id", p.ID)

	select {
	case done := <-p.Done():
		return done.Response, done.Err
	case <-ctx.Done():
		s.table.Discard(p.ID)
		return protocol.Response{}, fperrors.New(fperrors.ErrCodeRequestTimeout, "Submit",
			fmt.Sprintf("no response to request %d: %v", p.ID, ctx.Err()), ctx.Err())
	}
}

// Ping sends a liveness probe.
func (s *Supervisor) Ping(ctx context.Context) error {
	resp, err := s.Submit(ctx, protocol.Command{Action: protocol.ActionPing})
	if err != nil {
		return err
	}
	if resp.Status != protocol.StatusPong {
		return fperrors.New(fperrors.ErrCodeEngineFailure, "Ping", "unexpected probe reply: "+resp.Message, nil)
	}
	return nil
}

// Stop asks the engine to shut down and closes its input. If it has not
// exited when the grace period ends (or ctx ends), it is killed.
// Pending requests fail with ProcessTerminated once the exit is observed.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.machine.Is(fsm.State(consts.StateStopped)) {
		s.mu.Unlock()
		return nil
	}
	if !s.machine.Is(fsm.State(consts.StateTerminating)) {
		s.machine.Fire(consts.EventStop)
	}
	s.stopping = true
	exited := s.exited
	stdin := s.stdin
	var shutdownID int
	if stdin != nil {
		shutdownID = s.table.Register().ID
	}
	s.mu.Unlock()

	if stdin != nil {
		line, _ := protocol.Encode(protocol.Command{Action: protocol.ActionShutdown, RequestID: shutdownID})
		if err := s.write(stdin, line); err != nil {
			s.log.Debug("Supervisor: shutdown command not delivered", "err", err)
		}
		s.writeMu.Lock()
		stdin.Close()
		s.writeMu.Unlock()
	}

	grace := time.NewTimer(s.opts.ShutdownGrace)
	defer grace.Stop()

	select {
	case <-exited:
		return nil
	case <-grace.C:
		s.log.Warn("Supervisor: Grace period expired, killing engine", "grace", s.opts.ShutdownGrace)
	case <-ctx.Done():
		s.log.Warn("Supervisor: Stop cancelled, killing engine", "err", ctx.Err())
	}

	if err := s.Kill(); err != nil {
		s.log.Error("Supervisor: kill failed", "err", err)
	}
	<-exited
	return nil
}

// Kill immediately terminates the engine process.
func (s *Supervisor) Kill() error {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		s.log.Warn("Supervisor: Sending SIGKILL", "pid", cmd.Process.Pid)
		if err := cmd.Process.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
			return err
		}
	}
	return nil
}

func (s *Supervisor) write(w io.Writer, line []byte) error {
	if w == nil {
		return stderrors.New("engine input is closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := w.Write(line)
	return err
}

func (s *Supervisor) run(cmd *exec.Cmd, stdout, stderr io.Reader, exited chan struct{}) {
	var g errgroup.Group
	g.Go(func() error { return s.pumpResponses(cmd, stdout) })
	g.Go(func() error { return s.pumpDiagnostics(stderr) })
	streamErr := g.Wait()

	// Both pipes are drained, so Wait may close them now.
	waitErr := cmd.Wait()
	if waitErr == nil && streamErr != nil {
		waitErr = streamErr
	}
	s.handleExit(cmd, exited, waitErr)
}

func (s *Supervisor) pumpResponses(cmd *exec.Cmd, r io.Reader) error {
	dec := protocol.NewDecoder(s.opts.MaxFrameBytes)
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.dispatch(cmd, dec.Feed(buf[:n]))
		}
		if err != nil {
			s.dispatch(cmd, dec.Flush())
			if stderrors.Is(err, io.EOF) || stderrors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

func (s *Supervisor) pumpDiagnostics(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), consts.MaxNoiseLine)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		s.log.Info("Engine stderr", "line", line)
		s.events.Publish(Event{Kind: EventLogLine, Stream: "stderr", Line: line})
	}
	if err := scanner.Err(); err != nil && !stderrors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

func (s *Supervisor) dispatch(cmd *exec.Cmd, b protocol.Batch) {
	for _, line := range b.Noise {
		s.log.Debug("Engine output", "line", line)
		s.events.Publish(Event{Kind: EventLogLine, Stream: "stdout", Line: line})
	}
	if b.Err != nil {
		monitor.DecodeErrorsTotal.Add(float64(countErrors(b.Err)))
		s.log.Warn("Supervisor: Dropped response frame", "err", b.Err)
	}
	for _, resp := range b.Responses {
		switch {
		case resp.Status == protocol.StatusReady:
			s.markReady(cmd, resp.Message)
		case resp.Correlated():
			s.table.Resolve(resp.RequestID, resp)
		case resp.Status == protocol.StatusError:
			s.log.Warn("Engine reported an uncorrelated error", "message", resp.Message)
			s.events.Publish(Event{Kind: EventLogLine, Stream: "stdout", Line: resp.Message})
		default:
			s.log.Debug("Supervisor: Ignoring uncorrelated frame", "status", resp.Status)
		}
	}
}

func (s *Supervisor) markReady(cmd *exec.Cmd, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != cmd || !s.machine.Is(fsm.State(consts.StateStarting)) {
		s.log.Warn("Supervisor: Unexpected ready frame", "state", s.State())
		return
	}
	if s.readyTimer != nil {
		s.readyTimer.Stop()
	}
	s.machine.Fire(consts.EventReady)
	close(s.ready)
	s.log.Info("Supervisor: Engine ready", "pid", cmd.Process.Pid, "message", message)
}

func (s *Supervisor) onReadyTimeout(cmd *exec.Cmd) {
	s.mu.Lock()
	if s.cmd != cmd || !s.machine.Is(fsm.State(consts.StateStarting)) {
		s.mu.Unlock()
		return
	}
	s.lastErr = fperrors.New(fperrors.ErrCodeStartTimeout, "Start",
		fmt.Sprintf("engine did not report ready within %s", s.opts.ReadyTimeout), nil)
	s.machine.Fire(consts.EventStop)
	s.mu.Unlock()

	s.log.Error("Supervisor: Engine failed to start", "timeout", s.opts.ReadyTimeout)
	if err := cmd.Process.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		s.log.Error("Supervisor: kill failed", "err", err)
	}
}

func (s *Supervisor) handleExit(cmd *exec.Cmd, exited chan struct{}, waitErr error) {
	s.mu.Lock()
	if s.readyTimer != nil {
		s.readyTimer.Stop()
		s.readyTimer = nil
	}
	reason := "crash"
	switch {
	case fperrors.Is(s.lastErr, fperrors.ErrCodeStartTimeout):
		reason = "start_timeout"
	case s.stopping:
		reason = "shutdown"
	}

	msg := "engine worker exited"
	if waitErr != nil {
		msg = fmt.Sprintf("engine worker exited: %v", waitErr)
	}
	failure := fperrors.New(fperrors.ErrCodeProcessTerminated, "Worker", msg, waitErr)
	if reason == "crash" {
		s.lastErr = failure
	}

	pid := cmd.Process.Pid
	s.cmd = nil
	s.stdin = nil
	if s.machine.Can(consts.EventStop) {
		// Unrequested exit: pass through Terminating like a requested one.
		s.machine.Fire(consts.EventStop)
	}
	s.machine.Fire(consts.EventExit)
	failed := s.table.FailAll(failure)
	close(exited)
	s.mu.Unlock()

	monitor.WorkerExitsTotal.WithLabelValues(reason).Inc()
	if reason == "shutdown" {
		s.log.Info("Supervisor: Engine exited", "pid", pid, "failed_requests", failed)
	} else {
		s.log.Warn("Supervisor: Engine exited unexpectedly", "pid", pid, "reason", reason, "failed_requests", failed, "err", waitErr)
	}
	s.events.Publish(Event{Kind: EventExited, State: consts.StateStopped, Reason: reason, Err: waitErr, PID: pid})
}

func countErrors(err error) int {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}

// Personal.AI order the ending
