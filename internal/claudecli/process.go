package claudecli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Defaults applied by Options.withDefaults.
const (
	DefaultBinary    = "claude"
	DefaultTimeout   = 300 * time.Second
	DefaultKillGrace = 5 * time.Second
)

const stderrTailSize = 4096

// State is the lifecycle stage of a Process.
//
//	Idle -> Spawning -> Running -> Closing -> Closed
//
// Errored absorbs spawn failures, timeouts, kills and failed exits.
type State int32

const (
	StateIdle State = iota
	StateSpawning
	StateRunning
	StateClosing
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpawning:
		return "spawning"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Recorder receives a copy of backend traffic for diagnostics.
type Recorder interface {
	Record(kind string, data any)
}

// Options configure how the backend is launched. They are read-only once
// passed to Start.
type Options struct {
	Binary    string
	Timeout   time.Duration
	KillGrace time.Duration
	Dir       string
	// Env is appended to the inherited environment.
	Env []string
	// PreferOAuth removes ANTHROPIC_API_KEY from the child environment so
	// the CLI uses its subscription login.
	PreferOAuth bool
	Logger      *slog.Logger
	Recorder    Recorder
}

func (o Options) withDefaults() Options {
	if o.Binary == "" {
		o.Binary = DefaultBinary
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.KillGrace <= 0 {
		o.KillGrace = DefaultKillGrace
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Handle describes the running child.
type Handle struct {
	PID       int
	StartedAt time.Time
	Deadline  time.Time
	Killed    bool
}

type killReason int32

const (
	killNone killReason = iota
	killTimeout
	killCanceled
	killExplicit
)

// Process is one backend invocation. Events must be drained until the
// channel closes; Wait then reports how the run ended.
type Process struct {
	opts   Options
	cmd    *exec.Cmd
	parser *LineParser
	stderr *stderrWriter
	// outputs are read to EOF before Wait is called.
	outputs []io.ReadCloser

	events chan Event
	stop   chan struct{}
	done   chan struct{}

	mu        sync.Mutex
	state     State
	handle    Handle
	exited    bool
	sawResult bool
	err       error

	timer    *time.Timer
	killOnce sync.Once
	reason   atomic.Int32
	signals  atomic.Int32
}

// Start spawns the backend for in and begins streaming its events. The
// returned Process is killed when ctx is canceled.
func Start(ctx context.Context, in Input, opts Options) (*Process, error) {
	opts = opts.withDefaults()
	p := &Process{
		opts:   opts,
		events: make(chan Event, 64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	p.setState(StateSpawning)

	path, err := exec.LookPath(opts.Binary)
	if err != nil {
		p.setState(StateErrored)
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(opts.Binary)
		}
		return nil, &SpawnError{Binary: opts.Binary, Err: err}
	}

	args := BuildArgs(in)
	p.record("args", redactPrompt(args, in))

	cmd := exec.Command(path, args...)
	cmd.Dir = opts.Dir
	cmd.Env = childEnv(opts)
	setProcessGroup(cmd)

	p.parser = NewLineParser(p.emit)
	p.stderr = newStderrWriter(opts.Logger, p.record)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.setState(StateErrored)
		return nil, &SpawnError{Binary: opts.Binary, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.setState(StateErrored)
		return nil, &SpawnError{Binary: opts.Binary, Err: err}
	}
	p.outputs = []io.ReadCloser{stdout, stderr}

	var stdin io.WriteCloser
	if in.Mode == ModeStream {
		pipe, err := cmd.StdinPipe()
		if err != nil {
			p.setState(StateErrored)
			return nil, &SpawnError{Binary: opts.Binary, Err: err}
		}
		stdin = pipe
	}

	if err := cmd.Start(); err != nil {
		p.setState(StateErrored)
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(opts.Binary)
		}
		return nil, &SpawnError{Binary: opts.Binary, Err: err}
	}
	p.cmd = cmd

	now := time.Now()
	p.mu.Lock()
	p.state = StateRunning
	p.handle = Handle{PID: cmd.Process.Pid, StartedAt: now, Deadline: now.Add(opts.Timeout)}
	p.timer = time.AfterFunc(opts.Timeout, func() { p.kill(killTimeout) })
	p.mu.Unlock()

	opts.Logger.Debug("claude CLI started",
		"pid", cmd.Process.Pid, "mode", in.Mode.String(), "model", in.Model, "session", in.SessionID)

	if stdin != nil {
		go p.writeInput(stdin, in.Lines)
	}
	go p.watch(ctx)
	go p.wait()

	return p, nil
}

// Events returns the ordered event stream. It closes after the process
// exits and any buffered output has been flushed.
func (p *Process) Events() <-chan Event {
	return p.events
}

// Done is closed once the process has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process has been reaped and returns its outcome.
func (p *Process) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Kill terminates the process. It reports whether this call sent the
// signal; later calls, and calls after exit, do nothing.
func (p *Process) Kill() bool {
	return p.kill(killExplicit)
}

// Handle returns a snapshot of the process handle.
func (p *Process) Handle() Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stderr returns the captured tail of the backend's standard error.
func (p *Process) Stderr() string {
	return p.stderr.Tail()
}

func (p *Process) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Process) kill(reason killReason) bool {
	sent := false
	p.killOnce.Do(func() {
		p.mu.Lock()
		if p.exited {
			p.mu.Unlock()
			return
		}
		p.timer.Stop()
		p.handle.Killed = true
		p.state = StateErrored
		pid := p.handle.PID
		p.mu.Unlock()

		p.reason.Store(int32(reason))
		close(p.stop)
		p.signals.Add(1)
		if err := terminate(p.cmd); err != nil {
			p.opts.Logger.Debug("terminate claude CLI", "pid", pid, "error", err)
		}
		time.AfterFunc(p.opts.KillGrace, func() {
			select {
			case <-p.done:
				return
			default:
			}
			_ = forceKill(p.cmd)
			// A helper outside the group may still hold the pipes open.
			time.AfterFunc(p.opts.KillGrace, p.closeOutputs)
		})
		sent = true
	})
	return sent
}

// watch ties the process to ctx.
func (p *Process) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		if p.kill(killCanceled) {
			p.opts.Logger.Debug("claude CLI canceled", "pid", p.Handle().PID, "cause", ctx.Err())
		}
	case <-p.done:
	}
}

func (p *Process) writeInput(w io.WriteCloser, lines [][]byte) {
	defer w.Close()
	for _, line := range lines {
		p.record("input", string(line))
		buf := make([]byte, 0, len(line)+1)
		buf = append(append(buf, line...), '\n')
		if _, err := w.Write(buf); err != nil {
			p.opts.Logger.Debug("write claude CLI stdin", "error", err)
			return
		}
	}
}

func (p *Process) emit(line []byte, ev Event) {
	p.record("line", string(line))
	if ev.Kind == EventRaw {
		p.opts.Logger.Debug("unrecognized claude CLI output", "line", truncate(ev.Line, 200))
	}
	if ev.Kind == EventResult {
		p.mu.Lock()
		p.sawResult = true
		p.mu.Unlock()
	}
	select {
	case p.events <- ev:
	case <-p.stop:
	}
}

func (p *Process) closeOutputs() {
	select {
	case <-p.done:
		return
	default:
	}
	for _, r := range p.outputs {
		_ = r.Close()
	}
}

func (p *Process) copyOutput(w io.Writer, r io.Reader) {
	if _, err := io.Copy(w, r); err != nil && !errors.Is(err, os.ErrClosed) {
		p.opts.Logger.Debug("read claude CLI output", "error", err)
	}
}

func (p *Process) wait() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.copyOutput(p.parser, p.outputs[0])
	}()
	go func() {
		defer wg.Done()
		p.copyOutput(p.stderr, p.outputs[1])
	}()
	// Wait closes the pipes, so every read must finish first.
	wg.Wait()
	waitErr := p.cmd.Wait()

	p.mu.Lock()
	p.exited = true
	p.timer.Stop()
	if p.state == StateRunning {
		p.state = StateClosing
	}
	p.mu.Unlock()

	p.parser.Flush()

	err := p.outcome(waitErr)
	exitCode := -1
	if p.cmd.ProcessState != nil {
		exitCode = p.cmd.ProcessState.ExitCode()
	}
	p.record("exit", map[string]any{"code": exitCode, "error": errString(err)})

	p.mu.Lock()
	p.err = err
	if err != nil {
		p.state = StateErrored
	} else if p.state == StateClosing {
		p.state = StateClosed
	}
	p.mu.Unlock()

	close(p.events)
	close(p.done)
}

func (p *Process) outcome(waitErr error) error {
	switch killReason(p.reason.Load()) {
	case killTimeout:
		return fmt.Errorf("%w after %s", ErrTimeout, p.opts.Timeout)
	case killCanceled, killExplicit:
		return ErrKilled
	}

	p.mu.Lock()
	sawResult := p.sawResult
	p.mu.Unlock()

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			if sawResult {
				p.opts.Logger.Warn("claude CLI exited non-zero after its result",
					"code", exitErr.ExitCode(), "stderr", truncate(p.stderr.Tail(), 200))
				return nil
			}
			return &ExitError{Code: exitErr.ExitCode(), Stderr: p.stderr.Tail()}
		}
		if !sawResult {
			return fmt.Errorf("wait for claude CLI: %w", waitErr)
		}
		p.opts.Logger.Warn("claude CLI wait failed after its result", "error", waitErr)
		return nil
	}
	if !sawResult {
		return ErrNoResult
	}
	return nil
}

func (p *Process) record(kind string, data any) {
	if p.opts.Recorder != nil {
		p.opts.Recorder.Record(kind, data)
	}
}

func childEnv(opts Options) []string {
	env := os.Environ()
	if opts.PreferOAuth {
		filtered := env[:0]
		for _, e := range env {
			if strings.HasPrefix(e, "ANTHROPIC_API_KEY=") {
				continue
			}
			filtered = append(filtered, e)
		}
		env = filtered
	}
	return append(env, opts.Env...)
}

// redactPrompt hides the prompt argument in recorded argument vectors.
func redactPrompt(args []string, in Input) []string {
	if in.Mode != ModeText || len(args) == 0 {
		return args
	}
	out := append([]string(nil), args...)
	out[len(out)-1] = fmt.Sprintf("<prompt: %d bytes>", len(in.Prompt))
	return out
}

// stderrWriter logs backend diagnostics and keeps the most recent bytes.
type stderrWriter struct {
	logger *slog.Logger
	record func(string, any)

	mu      sync.Mutex
	partial []byte
	tail    []byte
}

func newStderrWriter(logger *slog.Logger, record func(string, any)) *stderrWriter {
	return &stderrWriter{logger: logger, record: record}
}

func (w *stderrWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.tail = append(w.tail, b...)
	if over := len(w.tail) - stderrTailSize; over > 0 {
		w.tail = w.tail[over:]
	}

	w.partial = append(w.partial, b...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(w.partial[:i]))
		w.partial = w.partial[i+1:]
		if line == "" {
			continue
		}
		w.logger.Debug("claude CLI stderr", "line", line)
		w.record("stderr", line)
	}
	return len(b), nil
}

// Tail returns the last bytes written to stderr.
func (w *stderrWriter) Tail() string {
	if w == nil {
		return ""
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.TrimSpace(string(w.tail))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
