// Package supervisor owns the llama-server subprocess: binary discovery,
// model validation, spawn, health polling, crash detection and shutdown.
//
// The server process and its port are a session-wide singleton; exactly one
// Supervisor instance owns them. Liveness-probe failures and process death
// are observed independently and feed the same state machine: a slow but
// alive server degrades, a dead process crashes, and the two are never
// conflated.
package supervisor

import (
	"bytes"
	"fmt"
	"net"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"promptd/internal/common/fsutil"
	"promptd/internal/config"
)

// State is the lifecycle state of the managed server.
//
// NotStarted → Starting → Healthy ⇄ Degraded → Stopped; Crashed is reachable
// from any running state and is left only by an explicit restart.
type State string

const (
	StateNotStarted State = "not_started"
	StateStarting   State = "starting"
	StateHealthy    State = "healthy"
	StateDegraded   State = "degraded"
	StateStopped    State = "stopped"
	StateCrashed    State = "crashed"
)

// degradeThreshold is the number of consecutive failed liveness probes,
// with the process still alive, that moves Healthy to Degraded.
const degradeThreshold = 2

// readinessProbeInterval paces the fast probe loop between spawn and the
// first successful probe.
const readinessProbeInterval = 500 * time.Millisecond

// Snapshot is a read-only projection of the supervisor state.
type Snapshot struct {
	State     State
	PID       int
	Port      int
	ModelPath string
	ModelName string
	LastError string
}

// Supervisor manages one llama-server subprocess.
type Supervisor struct {
	cfg   config.Server
	log   zerolog.Logger
	probe func() bool
	pub   EventPublisher

	mu         sync.Mutex
	state      State
	starting   bool
	cmd        *exec.Cmd
	pid        int
	modelPath  string
	lastErr    string
	stopping   bool
	probeFails int
	procDone   chan struct{}
	pollQuit   *quitCh
}

// New constructs a Supervisor. probe performs a single bounded liveness
// check (typically llamaclient.Client.Health); it is injected so tests can
// drive the state machine without a real server.
func New(cfg config.Server, probe func() bool, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		cfg:   cfg,
		log:   log.With().Str("component", "supervisor").Logger(),
		probe: probe,
		pub:   noopPublisher{},
		state: StateNotStarted,
	}
}

// SetPublisher installs an EventPublisher for state-change notifications.
func (s *Supervisor) SetPublisher(p EventPublisher) {
	if p == nil {
		s.pub = noopPublisher{}
		return
	}
	s.pub = p
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Healthy reports whether the server is ready for requests.
func (s *Supervisor) Healthy() bool { return s.State() == StateHealthy }

// Snapshot returns a read-only view of the supervisor.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := ""
	if s.modelPath != "" {
		base := filepath.Base(s.modelPath)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return Snapshot{
		State:     s.state,
		PID:       s.pid,
		Port:      s.cfg.Port,
		ModelPath: s.modelPath,
		ModelName: name,
		LastError: s.lastErr,
	}
}

// ModelPath returns the model currently being served (or configured).
func (s *Supervisor) ModelPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.modelPath != "" {
		return s.modelPath
	}
	return s.cfg.ModelPath
}

// Start validates the model file, checks the port, spawns llama-server and
// moves the state machine to Starting. The first successful liveness probe
// moves it to Healthy. modelOverride replaces the configured model path for
// this run; empty uses the configuration.
//
// Structural failures (BinaryNotFound, InvalidModelFile, PortInUse) are
// returned before any process is spawned. Start is a no-op when the server
// is already running.
func (s *Supervisor) Start(modelOverride string) error {
	s.mu.Lock()
	switch s.state {
	case StateStarting, StateHealthy, StateDegraded:
		s.mu.Unlock()
		return nil
	}
	// Claim the singleton before releasing the lock: validation and spawn
	// run unlocked, and a concurrent Start must not spawn a second process.
	if s.starting {
		s.mu.Unlock()
		return nil
	}
	s.starting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	bin, err := FindBinary(s.cfg.BinaryPath)
	if err != nil {
		return err
	}

	model := modelOverride
	if model == "" {
		model = s.cfg.ModelPath
	}
	if model != "" {
		if expanded, eerr := fsutil.ExpandHome(model); eerr == nil {
			model = expanded
		}
	}
	if err := ValidateModelFile(model); err != nil {
		return err
	}

	if ln, lerr := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.cfg.Port)); lerr != nil {
		return ErrPortInUse(s.cfg.Port, lerr)
	} else {
		_ = ln.Close()
	}

	args := []string{
		"--model", model,
		"--port", fmt.Sprint(s.cfg.Port),
		"--ctx-size", fmt.Sprint(s.cfg.ContextSize),
	}
	if s.cfg.GPULayers > 0 {
		args = append(args, "--n-gpu-layers", fmt.Sprint(s.cfg.GPULayers))
	}

	cmd := exec.Command(bin, args...)
	// Keep a stderr tail in memory so a crash message can say why.
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start llama-server: %w", err)
	}

	procDone := make(chan struct{})
	pollQuit := newQuitCh()

	s.mu.Lock()
	from := s.state
	s.state = StateStarting
	s.cmd = cmd
	s.pid = cmd.Process.Pid
	s.modelPath = model
	s.lastErr = ""
	s.stopping = false
	s.probeFails = 0
	s.procDone = procDone
	s.pollQuit = pollQuit
	s.mu.Unlock()

	s.log.Info().Int("pid", cmd.Process.Pid).Int("port", s.cfg.Port).Str("model", model).Msg("llama-server spawned")
	s.emit(from, StateStarting)

	go s.watchProcess(cmd, &stderr, procDone, pollQuit)
	go s.pollLoop(pollQuit)
	return nil
}

// Stop requests graceful termination, waits a bounded interval, and
// force-kills a process that will not exit. No-op when nothing is running.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	cmd := s.cmd
	state := s.state
	if cmd == nil || state == StateStopped || state == StateNotStarted {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	done := s.procDone
	quit := s.pollQuit
	s.mu.Unlock()

	if quit != nil {
		quit.close()
	}

	if state != StateCrashed && cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(time.Duration(s.cfg.StopTimeoutSeconds) * time.Second):
			_ = cmd.Process.Kill()
			<-done
		}
	}

	s.mu.Lock()
	from := s.state
	s.state = StateStopped
	s.cmd = nil
	s.pid = 0
	s.stopping = false
	s.probeFails = 0
	s.mu.Unlock()
	if from != StateStopped {
		s.emit(from, StateStopped)
	}
	return nil
}

// Restart stops the current process (if any) and starts a fresh one. This
// is the only way out of Crashed.
func (s *Supervisor) Restart(modelOverride string) error {
	if err := s.Stop(); err != nil {
		return err
	}
	return s.Start(modelOverride)
}

// watchProcess is the process-liveness observer. It is deliberately not
// HTTP-based: cmd.Wait reports process death immediately, so a dead server
// moves to Crashed regardless of what the last liveness probe said.
func (s *Supervisor) watchProcess(cmd *exec.Cmd, stderr *bytes.Buffer, done chan struct{}, quit *quitCh) {
	werr := cmd.Wait()
	close(done)

	s.mu.Lock()
	if s.stopping || s.cmd != cmd {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = StateCrashed
	tail := stderr.String()
	if len(tail) > 4096 {
		tail = tail[len(tail)-4096:]
	}
	if werr != nil {
		s.lastErr = fmt.Sprintf("server process exited unexpectedly: %v; stderr tail: %s", werr, tail)
	} else {
		s.lastErr = "server process exited unexpectedly"
	}
	lastErr := s.lastErr
	pid := s.pid
	s.mu.Unlock()

	quit.close()
	s.log.Error().Int("pid", pid).Str("cause", lastErr).Msg("llama-server crashed")
	s.emit(from, StateCrashed)
	s.pub.Publish(Event{Name: "process_exit", Fields: map[string]any{"pid": pid, "error": lastErr}})
}

// pollLoop drives readiness and steady-state health probing off the
// interactive path. It never panics: probe failures only feed state
// transitions.
func (s *Supervisor) pollLoop(quit *quitCh) {
	startDeadline := time.Now().Add(time.Duration(s.cfg.StartTimeoutSeconds) * time.Second)

	// Readiness phase: probe quickly until the first success.
	for s.State() == StateStarting {
		if s.safeProbe() {
			s.transitionRunning(StateHealthy)
			break
		}
		if time.Now().After(startDeadline) {
			s.noteLastError("server not ready within the start timeout")
			s.transitionRunning(StateDegraded)
			break
		}
		select {
		case <-quit.ch:
			return
		case <-time.After(readinessProbeInterval):
		}
	}

	ticker := time.NewTicker(time.Duration(s.cfg.HealthIntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-quit.ch:
			return
		case <-ticker.C:
			s.pollOnce()
		}
	}
}

// pollOnce runs a single steady-state liveness probe and applies the
// Healthy ⇄ Degraded rules. Crash detection is watchProcess's job.
func (s *Supervisor) pollOnce() {
	ok := s.safeProbe()

	s.mu.Lock()
	st := s.state
	if st != StateHealthy && st != StateDegraded && st != StateStarting {
		s.mu.Unlock()
		return
	}
	if ok {
		s.probeFails = 0
		s.mu.Unlock()
		if st != StateHealthy {
			s.transitionRunning(StateHealthy)
		}
		return
	}
	s.probeFails++
	fails := s.probeFails
	s.mu.Unlock()

	if fails >= degradeThreshold && st == StateHealthy {
		s.noteLastError("liveness probes failing while the process is alive")
		s.transitionRunning(StateDegraded)
	}
}

// safeProbe isolates the poller from a panicking probe implementation.
func (s *Supervisor) safeProbe() (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("liveness probe panicked")
			ok = false
		}
	}()
	return s.probe()
}

// transitionRunning moves between the running states only; it never leaves
// Crashed, Stopped or NotStarted, which belong to Start/Stop/watchProcess.
func (s *Supervisor) transitionRunning(to State) {
	s.mu.Lock()
	from := s.state
	if from == to || (from != StateStarting && from != StateHealthy && from != StateDegraded) {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.mu.Unlock()
	s.emit(from, to)
}

func (s *Supervisor) noteLastError(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
}

func (s *Supervisor) emit(from, to State) {
	s.log.Info().Str("from", string(from)).Str("to", string(to)).Msg("server state change")
	s.pub.Publish(Event{Name: "state_change", Fields: map[string]any{"from": string(from), "to": string(to)}})
}

// quitCh is a quit signal that tolerates the Stop/watchProcess race: both
// may ask the poller to exit.
type quitCh struct {
	ch   chan struct{}
	once sync.Once
}

func newQuitCh() *quitCh { return &quitCh{ch: make(chan struct{})} }

func (q *quitCh) close() { q.once.Do(func() { close(q.ch) }) }
