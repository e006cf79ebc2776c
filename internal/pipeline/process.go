package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jmylchreest/matchcast/internal/observability"
)

// Stage names one of the two chained processes.
type Stage string

const (
	StageRetrieval Stage = "retrieval"
	StageEncode    Stage = "encode"
)

// maxDiagnosticLines caps the per-process stderr buffer; older lines are dropped.
const maxDiagnosticLines = 500

// StageError wraps a process-level error with the stage it came from.
type StageError struct {
	Stage Stage
	Err   error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// process is one running child with its stderr drained into a line buffer.
type process struct {
	stage  Stage
	cmd    *exec.Cmd
	logger *slog.Logger

	stderr  *os.File // read end, owned by the drain goroutine
	done    chan struct{}
	drained chan struct{}
	waitErr error // valid once done is closed

	linesMu sync.Mutex
	lines   []string
}

func newProcess(stage Stage, binary string, args []string, logger *slog.Logger) *process {
	return &process{
		stage:   stage,
		cmd:     exec.Command(binary, args...), //nolint:gosec // binaries come from trusted config
		logger:  logger.With(slog.String("stage", string(stage))),
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}
}

// start launches the child. stderr is a dedicated pipe rather than
// cmd.StderrPipe so that Wait never closes it under the drain goroutine.
func (p *process) start() error {
	r, w, err := os.Pipe()
	if err != nil {
		return &StageError{Stage: p.stage, Err: fmt.Errorf("creating stderr pipe: %w", err)}
	}
	p.cmd.Stderr = w

	if err := p.cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return &StageError{Stage: p.stage, Err: err}
	}
	// The child holds its own copy of the write end.
	_ = w.Close()
	p.stderr = r

	go p.drain()
	go func() {
		p.waitErr = p.cmd.Wait()
		close(p.done)
	}()

	p.logger.Debug("process started",
		slog.Int("pid", p.cmd.Process.Pid),
		slog.String("binary", p.cmd.Path),
	)
	return nil
}

func (p *process) drain() {
	defer close(p.drained)

	scanner := bufio.NewScanner(p.stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		p.linesMu.Lock()
		if len(p.lines) >= maxDiagnosticLines {
			p.lines = p.lines[1:]
		}
		p.lines = append(p.lines, line)
		p.linesMu.Unlock()

		p.logger.Debug("process output", slog.String("line", line))
	}
}

// joinDrain waits up to timeout for the drain goroutine to reach EOF, then
// releases the read end. A drain that overruns is abandoned.
func (p *process) joinDrain(timeout time.Duration) bool {
	if p.stderr == nil {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	finished := true
	select {
	case <-p.drained:
	case <-timer.C:
		finished = false
		p.logger.Warn("stderr drain did not finish in time, abandoning",
			slog.Duration("timeout", timeout),
		)
	}
	_ = p.stderr.Close()
	return finished
}

// Lines returns a copy of the captured diagnostic lines.
func (p *process) Lines() []string {
	p.linesMu.Lock()
	defer p.linesMu.Unlock()

	lines := make([]string, len(p.lines))
	copy(lines, p.lines)
	return lines
}

func (p *process) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// exitCode is -1 while running or when the process was killed by a signal.
func (p *process) exitCode() int {
	if !p.exited() || p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// signal delivers sig, ignoring the error for an already-exited process.
func (p *process) signal(sig os.Signal) {
	if p.cmd.Process == nil {
		return
	}
	if err := p.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Log(context.Background(), observability.LevelTrace, "signal failed",
			slog.String("signal", sig.String()),
			slog.String("error", err.Error()),
		)
	}
}

// terminate stops procs: SIGTERM, wait up to grace, SIGKILL the survivors,
// then wait up to killGrace.
func terminate(procs []*process, grace, killGrace time.Duration, logger *slog.Logger) {
	var live []*process
	for _, p := range procs {
		if p.exited() {
			continue
		}
		logger.Info("stopping process",
			slog.String("stage", string(p.stage)),
			slog.Int("pid", p.pid()),
		)
		p.signal(syscall.SIGTERM)
		live = append(live, p)
	}
	if len(live) == 0 || waitAll(live, grace) {
		return
	}

	for _, p := range live {
		if p.exited() {
			continue
		}
		logger.Warn("process ignored graceful stop, killing",
			slog.String("stage", string(p.stage)),
			slog.Int("pid", p.pid()),
			slog.Duration("grace", grace),
		)
		p.signal(os.Kill)
	}
	if !waitAll(live, killGrace) {
		logger.Error("process still running after kill",
			slog.Duration("kill_grace", killGrace),
		)
	}
}

// waitAll reports whether every process exited within timeout.
func waitAll(procs []*process, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for _, p := range procs {
		select {
		case <-p.done:
		case <-timer.C:
			return false
		}
	}
	return true
}
