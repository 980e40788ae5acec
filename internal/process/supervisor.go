package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/hylord/internal/env"
	"github.com/loykin/hylord/internal/handshake"
	"github.com/loykin/hylord/internal/logline"
	"github.com/loykin/hylord/internal/metrics"
)

var (
	ErrNotRunning        = errors.New("server is not running")
	ErrRestartInProgress = errors.New("restart already in progress")
	ErrCommandQueueFull  = errors.New("command queue full")
)

const (
	commandQueueSize = 64
	maxLineBytes     = 1 << 20
	// drainTimeout bounds how long the exit handler waits for the console
	// reader after the process is gone; a surviving descendant may keep the
	// pipe open.
	drainTimeout = 2 * time.Second
	killGrace    = 3 * time.Second
)

// run is one spawned process. A new run is created for every Start, so stale
// goroutines of a previous run can never touch the current one.
type run struct {
	cmd         *exec.Cmd
	pid         int
	stdin       io.WriteCloser
	cmds        chan string
	done        chan struct{}
	intentional atomic.Bool
	startedAt   time.Time
}

// Supervisor owns the game server process. All methods are safe for
// concurrent use.
type Supervisor struct {
	spec      Spec
	extractor logline.Extractor
	tracker   *handshake.Tracker
	console   io.Writer

	mu        sync.Mutex
	state     LifecycleState
	cur       *run
	port      int
	starts    int
	stoppedAt time.Time
	exitErr   error

	restarting atomic.Bool

	obsMu     sync.RWMutex
	observers []observerEntry
	nextObs   uint64
}

type Option func(*Supervisor)

// WithExtractor replaces the console line classifier.
func WithExtractor(x logline.Extractor) Option {
	return func(s *Supervisor) { s.extractor = x }
}

// WithConsole mirrors every raw console line into w.
func WithConsole(w io.Writer) Option {
	return func(s *Supervisor) { s.console = w }
}

func WithHandshake(cfg handshake.Config) Option {
	return func(s *Supervisor) { s.tracker = handshake.New(s, cfg) }
}

func NewSupervisor(spec Spec, opts ...Option) *Supervisor {
	s := &Supervisor{spec: spec.withDefaults()}
	for _, o := range opts {
		o(s)
	}
	if s.extractor == nil {
		s.extractor = logline.NewExtractor()
	}
	if s.tracker == nil {
		s.tracker = handshake.New(s, handshake.Config{})
	}
	s.port = s.spec.Port
	return s
}

func (s *Supervisor) Spec() Spec { return s.spec }

// Start launches the server bound to port. It is a no-op while a process is
// running. The started notification is delivered before Start returns.
func (s *Supervisor) Start(port int) error {
	if port <= 0 {
		port = s.Port()
	}
	s.mu.Lock()
	if s.cur != nil {
		s.mu.Unlock()
		slog.Debug("Start ignored, server already running", "name", s.spec.Name)
		return nil
	}
	rn, out, err := s.spawn(port)
	if err != nil {
		s.mu.Unlock()
		slog.Error("Failed to start server", "name", s.spec.Name, "error", err)
		return err
	}
	s.cur = rn
	s.port = port
	s.state = StateStarting
	s.starts++
	s.exitErr = nil
	s.mu.Unlock()
	s.tracker.Reset()

	metrics.IncStart()
	metrics.SetState(StateStarting.String())
	slog.Info("Server started", "name", s.spec.Name, "pid", rn.pid, "port", port)
	s.emit(Notification{Kind: NotifyStarted, State: StateStarting, PID: rn.pid})
	s.emit(Notification{Kind: NotifyStateChanged, State: StateStarting, PID: rn.pid})

	readerDone := make(chan struct{})
	go rn.writeLoop()
	go s.read(rn, out, readerDone)
	go s.wait(rn, out, readerDone)
	return nil
}

func (s *Supervisor) spawn(port int) (*run, *os.File, error) {
	cmd := s.spec.BuildCommand(port)
	if len(s.spec.Env) > 0 {
		cmd.Env = env.New().Merge(s.spec.Env)
	}
	configureSysProcAttr(cmd)

	// stdout and stderr share one pipe so lines keep the order the server
	// wrote them in.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("create console pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw
	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, nil, fmt.Errorf("start %s: %w", s.spec.Executable, err)
	}
	_ = pw.Close()
	return &run{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		stdin:     stdin,
		cmds:      make(chan string, commandQueueSize),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}, pr, nil
}

func (r *run) writeLoop() {
	for {
		select {
		case <-r.done:
			return
		case line := <-r.cmds:
			if _, err := io.WriteString(r.stdin, line+"\n"); err != nil {
				slog.Warn("Failed to deliver command", "pid", r.pid, "command", line, "error", err)
			}
		}
	}
}

func (s *Supervisor) read(rn *run, out *os.File, done chan<- struct{}) {
	defer close(done)
	sc := bufio.NewScanner(out)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		raw := sc.Text()
		if s.console != nil {
			_, _ = io.WriteString(s.console, raw+"\n")
		}
		line := logline.Sanitize(raw)
		if line == "" {
			continue
		}
		ev := s.extractor.Extract(line)
		ev.At = time.Now()
		ev, outcome := s.tracker.Observe(ev)
		logEvent(s.spec.Name, ev)
		s.emit(Notification{Kind: NotifyLog, State: s.State(), PID: rn.pid, Event: &ev})
		if outcome.BecameOnline {
			s.promote(rn)
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		slog.Warn("Console reader stopped, discarding remaining output", "pid", rn.pid, "error", err)
		_, _ = io.Copy(io.Discard, out)
	}
}

func logEvent(name string, ev logline.Event) {
	if ev.Kind != logline.KindUnclassified {
		slog.Info("Server event", "name", name, "kind", ev.Kind.String(), "player", ev.Name, "identity", ev.Identity)
		return
	}
	switch ev.Severity {
	case logline.SeverityError:
		slog.Error("Server console", "name", name, "line", ev.Raw)
	case logline.SeverityWarning:
		slog.Warn("Server console", "name", name, "line", ev.Raw)
	default:
		slog.Debug("Server console", "name", name, "line", ev.Raw)
	}
}

// promote moves Starting to Online for the run that produced the boot marker.
func (s *Supervisor) promote(rn *run) {
	s.mu.Lock()
	if s.cur != rn || s.state != StateStarting {
		s.mu.Unlock()
		return
	}
	s.state = StateOnline
	s.mu.Unlock()
	metrics.SetState(StateOnline.String())
	slog.Info("Server is online", "name", s.spec.Name, "pid", rn.pid, "boot", time.Since(rn.startedAt).Round(time.Millisecond))
	s.emit(Notification{Kind: NotifyStateChanged, State: StateOnline, PID: rn.pid})
}

// wait reaps the process and classifies the exit by the intentional flag.
func (s *Supervisor) wait(rn *run, out *os.File, readerDone <-chan struct{}) {
	err := rn.cmd.Wait()
	select {
	case <-readerDone:
	case <-time.After(drainTimeout):
		_ = out.Close()
		<-readerDone
	}
	_ = out.Close()

	next, kind, exit := StateCrashed, NotifyCrashed, "crashed"
	if rn.intentional.Load() {
		next, kind, exit = StateOffline, NotifyStopped, "stopped"
	}
	s.mu.Lock()
	current := s.cur == rn
	if current {
		s.cur = nil
		s.state = next
		s.stoppedAt = time.Now()
		s.exitErr = err
		// under s.mu so a Start racing this exit cannot boot first and be wiped
		s.tracker.Reset()
	}
	s.mu.Unlock()
	if !current {
		slog.Debug("Ignoring exit of a superseded run", "name", s.spec.Name, "pid", rn.pid)
		close(rn.done)
		return
	}

	metrics.IncExit(exit)
	metrics.SetState(next.String())
	n := Notification{Kind: kind, State: next, PID: rn.pid}
	if err != nil {
		n.Err = err.Error()
	}
	if kind == NotifyCrashed {
		slog.Error("Server crashed", "name", s.spec.Name, "pid", rn.pid, "uptime", time.Since(rn.startedAt).Round(time.Second), "error", err)
	} else {
		slog.Info("Server stopped", "name", s.spec.Name, "pid", rn.pid, "error", err)
	}
	s.emit(n)
	s.emit(Notification{Kind: NotifyStateChanged, State: next, PID: rn.pid})
	close(rn.done)
}

// Stop asks the server to shut down with the in-band stop command and kills
// the whole process tree if it has not exited within StopTimeout. It blocks
// until the process is gone. Stopping a crashed server acknowledges the
// crash and moves it to Offline.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	rn := s.cur
	if rn == nil {
		ack := s.state == StateCrashed
		if ack {
			s.state = StateOffline
		}
		s.mu.Unlock()
		if ack {
			metrics.SetState(StateOffline.String())
			s.emit(Notification{Kind: NotifyStateChanged, State: StateOffline})
		}
		return nil
	}
	s.mu.Unlock()

	rn.intentional.Store(true)
	slog.Info("Stopping server", "name", s.spec.Name, "pid", rn.pid, "timeout", s.spec.StopTimeout)
	if err := s.enqueue(rn, s.spec.StopCommand); err != nil {
		slog.Warn("Failed to send stop command", "pid", rn.pid, "error", err)
	}
	select {
	case <-rn.done:
		return nil
	case <-time.After(s.spec.StopTimeout):
	}

	slog.Warn("Server did not stop in time, killing process tree", "name", s.spec.Name, "pid", rn.pid)
	if err := killTree(rn.pid); err != nil {
		slog.Warn("Kill process tree", "pid", rn.pid, "error", err)
	}
	metrics.IncExit("killed")
	select {
	case <-rn.done:
		return nil
	case <-time.After(killGrace):
		return fmt.Errorf("server pid %d still running after kill", rn.pid)
	}
}

// Restart stops the server, waits RestartSettle and starts it again on the
// last used port. Only one restart runs at a time; an overlapping call
// returns ErrRestartInProgress without touching the process.
func (s *Supervisor) Restart() error {
	if !s.restarting.CompareAndSwap(false, true) {
		slog.Info("Restart already in progress, ignoring", "name", s.spec.Name)
		return ErrRestartInProgress
	}
	defer s.restarting.Store(false)

	port := s.Port()
	if err := s.Stop(); err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	if s.spec.RestartSettle > 0 {
		time.Sleep(s.spec.RestartSettle)
	}
	if err := s.Start(port); err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	return nil
}

// Restarting reports whether a Restart is in flight.
func (s *Supervisor) Restarting() bool { return s.restarting.Load() }

// SendCommand queues text for the server's standard input. Delivery is best
// effort: failures are logged and never block the caller.
func (s *Supervisor) SendCommand(text string) {
	if err := s.TrySendCommand(text); err != nil {
		slog.Warn("Command not delivered", "name", s.spec.Name, "command", text, "error", err)
	}
}

// TrySendCommand is SendCommand reporting why a command was not queued.
func (s *Supervisor) TrySendCommand(text string) error {
	s.mu.Lock()
	rn := s.cur
	s.mu.Unlock()
	if rn == nil {
		return ErrNotRunning
	}
	return s.enqueue(rn, text)
}

func (s *Supervisor) enqueue(rn *run, text string) error {
	// one command per line; embedded newlines would inject extra commands
	text = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(text))
	if text == "" {
		return nil
	}
	select {
	case <-rn.done:
		return ErrNotRunning
	default:
	}
	select {
	case rn.cmds <- text:
		return nil
	default:
		return ErrCommandQueueFull
	}
}

func (s *Supervisor) State() LifecycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Online reports whether the server has finished booting.
func (s *Supervisor) Online() bool { return s.State() == StateOnline }

func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

// PID returns the server pid, or 0 when no process is running.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return 0
	}
	return s.cur.pid
}

func (s *Supervisor) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// AuthState reports the login handshake state of the current run.
func (s *Supervisor) AuthState() handshake.State { return s.tracker.State() }

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	st := Status{
		Name:      s.spec.Name,
		State:     s.state,
		Running:   s.cur != nil,
		Port:      s.port,
		StoppedAt: s.stoppedAt,
		Starts:    s.starts,
	}
	if s.cur != nil {
		st.PID = s.cur.pid
		st.StartedAt = s.cur.startedAt
	}
	if s.exitErr != nil {
		st.ExitErr = s.exitErr.Error()
	}
	s.mu.Unlock()
	st.Auth = s.tracker.State().String()
	st.Restarting = s.restarting.Load()
	return st
}
